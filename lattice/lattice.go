// Package lattice holds the decoder's output graph: a compact DAG of
// competing hypotheses, with nodes keyed (graph state, frame) and arcs
// carrying an input/output label pair and a cost. It also provides
// determinization by output-label sequence and 1-best extraction.
package lattice

import "github.com/ieee0824/latgen-go/fst"

// NodeID indexes a lattice node.
type NodeID int32

// NoNode is the id of a missing node.
const NoNode NodeID = -1

// Node identifies where a hypothesis stood: which graph state at which frame.
type Node struct {
	State fst.StateID
	Frame int32
}

// Arc is one lattice edge. Parallel arcs between the same node pair are
// legal and preserved unless the lattice was determinized.
type Arc struct {
	In     fst.Label
	Out    fst.Label
	Weight float64
	Dst    NodeID
}

// Lattice is an append-only DAG. Arcs only ever go frame-forward, or
// within a frame along former epsilon transitions, so it is acyclic.
type Lattice struct {
	nodes  []Node
	arcs   [][]Arc
	start  NodeID
	finals map[NodeID]float64
}

// New returns an empty lattice.
func New() *Lattice {
	return &Lattice{start: NoNode, finals: make(map[NodeID]float64)}
}

// AddNode appends a node and returns its id.
func (l *Lattice) AddNode(state fst.StateID, frame int32) NodeID {
	l.nodes = append(l.nodes, Node{State: state, Frame: frame})
	l.arcs = append(l.arcs, nil)
	return NodeID(len(l.nodes) - 1)
}

// SetStart designates the single start node.
func (l *Lattice) SetStart(n NodeID) { l.start = n }

// SetFinal marks n final with cost w.
func (l *Lattice) SetFinal(n NodeID, w float64) { l.finals[n] = w }

// AddArc appends an outgoing arc to src.
func (l *Lattice) AddArc(src NodeID, a Arc) {
	l.arcs[src] = append(l.arcs[src], a)
}

// Start returns the start node, NoNode if unset.
func (l *Lattice) Start() NodeID { return l.start }

// NumNodes returns the node count.
func (l *Lattice) NumNodes() int { return len(l.nodes) }

// Node returns the node record for n.
func (l *Lattice) Node(n NodeID) Node { return l.nodes[n] }

// Arcs returns the outgoing arcs of n. Callers must not mutate them.
func (l *Lattice) Arcs(n NodeID) []Arc { return l.arcs[n] }

// Final returns n's final cost and whether n is final.
func (l *Lattice) Final(n NodeID) (float64, bool) {
	w, ok := l.finals[n]
	return w, ok
}

// NumFinals returns the number of final nodes.
func (l *Lattice) NumFinals() int { return len(l.finals) }

// NumArcs returns the total arc count.
func (l *Lattice) NumArcs() int {
	n := 0
	for _, as := range l.arcs {
		n += len(as)
	}
	return n
}

// topoOrder returns the nodes reachable from start in topological order.
// Frame ordering makes cross-frame arcs trivially acyclic; the DFS handles
// within-frame epsilon chains.
func (l *Lattice) topoOrder() []NodeID {
	if l.start == NoNode {
		return nil
	}
	state := make([]uint8, len(l.nodes)) // 0 unseen, 1 on stack, 2 done
	order := make([]NodeID, 0, len(l.nodes))

	type frame struct {
		n   NodeID
		arc int
	}
	stack := []frame{{n: l.start}}
	state[l.start] = 1
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.arc < len(l.arcs[top.n]) {
			dst := l.arcs[top.n][top.arc].Dst
			top.arc++
			if state[dst] == 0 {
				state[dst] = 1
				stack = append(stack, frame{n: dst})
			}
			continue
		}
		state[top.n] = 2
		order = append(order, top.n)
		stack = stack[:len(stack)-1]
	}
	// Reverse post-order = topological order.
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return order
}
