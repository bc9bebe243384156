// Package fst holds the weighted automaton the decoder searches over.
// Weights are non-negative costs in the tropical (min, +) semiring.
package fst

import (
	"fmt"
	"math"
)

// StateID identifies a graph state.
type StateID int32

// Label identifies an arc label; 0 is the epsilon label.
type Label int32

const (
	// Epsilon marks a non-emitting arc when used as an input label.
	Epsilon Label = 0
	// NoState is the start state of a graph before SetStart.
	NoState StateID = -1
)

// Infinity is the weight of a non-final state.
var Infinity = math.Inf(1)

// Arc is one weighted transition out of a state.
type Arc struct {
	In     Label
	Out    Label
	Weight float64
	Next   StateID
}

// Graph is the read-only search automaton contract. Implementations must
// return the same arc slice contents for a state for the lifetime of one
// decode, and are safe for concurrent readers.
type Graph interface {
	Start() StateID
	// FinalWeight returns the final cost of s, Infinity if s is not final.
	FinalWeight(s StateID) float64
	// Arcs returns the outgoing arcs of s. Callers must not mutate them.
	Arcs(s StateID) []Arc
	NumStates() int
}

// Vector is an in-memory Graph built incrementally.
type Vector struct {
	start  StateID
	finals []float64
	arcs   [][]Arc
}

// NewVector returns an empty graph with no states and no start state.
func NewVector() *Vector {
	return &Vector{start: NoState}
}

// AddState appends a new non-final state and returns its id.
func (g *Vector) AddState() StateID {
	g.finals = append(g.finals, Infinity)
	g.arcs = append(g.arcs, nil)
	return StateID(len(g.finals) - 1)
}

// ensure grows the graph so that state s exists.
func (g *Vector) ensure(s StateID) {
	for StateID(len(g.finals)) <= s {
		g.AddState()
	}
}

// SetStart marks s as the start state, adding states as needed.
func (g *Vector) SetStart(s StateID) {
	g.ensure(s)
	g.start = s
}

// SetFinal sets the final cost of s, adding states as needed.
func (g *Vector) SetFinal(s StateID, w float64) {
	g.ensure(s)
	g.finals[s] = w
}

// AddArc appends an arc leaving s, adding states as needed.
func (g *Vector) AddArc(s StateID, a Arc) {
	g.ensure(s)
	g.ensure(a.Next)
	g.arcs[s] = append(g.arcs[s], a)
}

func (g *Vector) Start() StateID { return g.start }

func (g *Vector) FinalWeight(s StateID) float64 {
	if s < 0 || int(s) >= len(g.finals) {
		return Infinity
	}
	return g.finals[s]
}

func (g *Vector) Arcs(s StateID) []Arc {
	if s < 0 || int(s) >= len(g.arcs) {
		return nil
	}
	return g.arcs[s]
}

func (g *Vector) NumStates() int { return len(g.finals) }

// NumArcs returns the total arc count, mostly for logging.
func (g *Vector) NumArcs() int {
	n := 0
	for _, as := range g.arcs {
		n += len(as)
	}
	return n
}

// Validate checks the structural preconditions the decoder relies on:
// a start state within range, arc destinations within range, non-negative
// arc weights, and an acyclic epsilon subgraph. A failure here is a
// configuration error and must be surfaced before any decoding begins.
func Validate(g Graph) error {
	n := g.NumStates()
	if n == 0 {
		return fmt.Errorf("fst: graph has no states")
	}
	start := g.Start()
	if start < 0 || int(start) >= n {
		return fmt.Errorf("fst: start state %d out of range [0,%d)", start, n)
	}
	for s := StateID(0); int(s) < n; s++ {
		for i, a := range g.Arcs(s) {
			if a.Next < 0 || int(a.Next) >= n {
				return fmt.Errorf("fst: arc %d of state %d points to state %d, out of range [0,%d)", i, s, a.Next, n)
			}
			if a.Weight < 0 || math.IsNaN(a.Weight) {
				return fmt.Errorf("fst: arc %d of state %d has invalid weight %g", i, s, a.Weight)
			}
			if a.In < 0 || a.Out < 0 {
				return fmt.Errorf("fst: arc %d of state %d has negative label", i, s)
			}
		}
	}
	if s := epsilonCycle(g); s != NoState {
		return fmt.Errorf("fst: epsilon cycle through state %d", s)
	}
	return nil
}

// epsilonCycle returns a state on a cycle of epsilon arcs, NoState if the
// epsilon subgraph is acyclic. Epsilon transitions are relaxed within a
// single frame and every traversal becomes a lattice arc, so an epsilon
// cycle in the graph turns into a real cycle in the output lattice and
// breaks its acyclicity contract; a zero-weight one additionally makes the
// relaxation admit the cycle forever.
func epsilonCycle(g Graph) StateID {
	const (
		unseen  uint8 = 0
		onPath  uint8 = 1
		cleared uint8 = 2
	)
	color := make([]uint8, g.NumStates())
	type frame struct {
		s   StateID
		arc int
	}
	var stack []frame
	for root := StateID(0); int(root) < g.NumStates(); root++ {
		if color[root] != unseen {
			continue
		}
		color[root] = onPath
		stack = append(stack[:0], frame{s: root})
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			arcs := g.Arcs(top.s)
			pushed := false
			for top.arc < len(arcs) {
				a := arcs[top.arc]
				top.arc++
				if a.In != Epsilon {
					continue
				}
				if color[a.Next] == onPath {
					return a.Next
				}
				if color[a.Next] == unseen {
					color[a.Next] = onPath
					stack = append(stack, frame{s: a.Next})
					pushed = true
					break
				}
			}
			if !pushed && top.arc >= len(arcs) {
				color[top.s] = cleared
				stack = stack[:len(stack)-1]
			}
		}
	}
	return NoState
}
