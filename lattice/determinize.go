package lattice

import (
	"errors"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/ieee0824/latgen-go/fst"
	"github.com/ieee0824/latgen-go/internal/mathutil"
)

// ErrTooManyArcs reports a determinization whose enumeration or output
// exceeded Opts.MaxArcs. Determinization can blow up combinatorially, so
// the cap makes that a reported, utterance-scoped failure.
var ErrTooManyArcs = errors.New("lattice: determinized size cap exceeded")

// Opts controls Determinize.
type Opts struct {
	// Beam discards raw paths whose total cost exceeds the best path's
	// by more than this. Use math.Inf(1) to keep everything.
	Beam float64
	// MaxArcs caps both the path enumeration work and the output arc
	// count; 0 means unlimited.
	MaxArcs int
}

// group accumulates the raw paths sharing one output-label sequence.
type group struct {
	outs []fst.Label
	mass float64 // cost-domain log-sum over member path costs
	best float64 // cheapest member path cost
	arcs []Arc   // the cheapest member's arcs, for alignment
}

// Determinize collapses l so each distinct output-label sequence appears
// on exactly one path. Input labels are transparent to the grouping; the
// surviving path keeps the cheapest member's alignment, and its total
// cost is the probability-mass union (cost-domain log-sum) of all member
// paths within Opts.Beam of the overall best path. The result is a prefix
// tree over output sequences, so parallel output sequences never merge.
func Determinize(l *Lattice, opts Opts) (*Lattice, error) {
	order := l.topoOrder()
	if len(order) == 0 {
		return nil, ErrNoPath
	}

	// Min remaining cost to a final node, for pruning the enumeration.
	beta := make([]float64, l.NumNodes())
	for i := range beta {
		beta[i] = math.Inf(1)
	}
	for i := len(order) - 1; i >= 0; i-- {
		n := order[i]
		b := math.Inf(1)
		if fw, ok := l.Final(n); ok {
			b = fw
		}
		for _, a := range l.Arcs(n) {
			if c := a.Weight + beta[a.Dst]; c < b {
				b = c
			}
		}
		beta[n] = b
	}
	best := beta[l.Start()]
	if math.IsInf(best, 1) {
		return nil, ErrNoPath
	}
	limit := best + opts.Beam

	groups := make(map[string]*group)
	var (
		pathArcs []Arc
		outs     []fst.Label
		steps    int
	)
	var visit func(n NodeID, cost float64) error
	visit = func(n NodeID, cost float64) error {
		if fw, ok := l.Final(n); ok {
			if total := cost + fw; total <= limit {
				key := encodeOutputs(outs)
				g := groups[key]
				if g == nil {
					g = &group{
						outs: append([]fst.Label(nil), outs...),
						mass: math.Inf(1),
						best: math.Inf(1),
					}
					groups[key] = g
				}
				g.mass = mathutil.CostAdd(g.mass, total)
				if total < g.best {
					g.best = total
					g.arcs = append(g.arcs[:0], pathArcs...)
				}
			}
		}
		for _, a := range l.Arcs(n) {
			steps++
			if opts.MaxArcs > 0 && steps > opts.MaxArcs {
				return ErrTooManyArcs
			}
			c := cost + a.Weight
			if c+beta[a.Dst] > limit {
				continue
			}
			pathArcs = append(pathArcs, a)
			if a.Out != fst.Epsilon {
				outs = append(outs, a.Out)
			}
			if err := visit(a.Dst, c); err != nil {
				return err
			}
			if a.Out != fst.Epsilon {
				outs = outs[:len(outs)-1]
			}
			pathArcs = pathArcs[:len(pathArcs)-1]
		}
		return nil
	}
	if err := visit(l.Start(), 0); err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return nil, ErrNoPath
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	det := New()
	startNode := l.Node(l.Start())
	root := &trieNode{
		end:      det.AddNode(startNode.State, startNode.Frame),
		children: make(map[fst.Label]*trieNode),
	}
	det.SetStart(root.end)

	for _, k := range keys {
		g := groups[k]
		cur := root
		consumed := 0
		for _, lab := range g.outs {
			segEnd := segmentEnd(g.arcs, consumed)
			if child, ok := cur.children[lab]; ok {
				cur = child
				consumed = segEnd
				continue
			}
			end, w := realizeSegment(det, l, cur.end, g.arcs[consumed:segEnd])
			child := &trieNode{
				end:      end,
				pathW:    cur.pathW + w,
				children: make(map[fst.Label]*trieNode),
			}
			cur.children[lab] = child
			cur = child
			consumed = segEnd
		}
		// Trailing epsilon-output arcs after the last output label.
		end, tailW := realizeSegment(det, l, cur.end, g.arcs[consumed:])
		// The leaf's final cost absorbs the difference between the mass
		// union and the realized arc weights, so the path total equals
		// the group's mass exactly even across shared prefixes.
		det.SetFinal(end, g.mass-(cur.pathW+tailW))
		if opts.MaxArcs > 0 && det.NumArcs() > opts.MaxArcs {
			return nil, ErrTooManyArcs
		}
	}
	return det, nil
}

type trieNode struct {
	end      NodeID
	pathW    float64
	children map[fst.Label]*trieNode
}

// segmentEnd returns the index one past the next output-carrying arc,
// i.e. the end of the current word segment.
func segmentEnd(arcs []Arc, from int) int {
	for i := from; i < len(arcs); i++ {
		if arcs[i].Out != fst.Epsilon {
			return i + 1
		}
	}
	return len(arcs)
}

// realizeSegment copies a slice of raw-path arcs into det starting at
// from, cloning the raw lattice nodes they pass through. Returns the last
// node and the summed arc weight.
func realizeSegment(det, raw *Lattice, from NodeID, arcs []Arc) (NodeID, float64) {
	cur := from
	w := 0.0
	for _, a := range arcs {
		dst := raw.Node(a.Dst)
		nd := det.AddNode(dst.State, dst.Frame)
		det.AddArc(cur, Arc{In: a.In, Out: a.Out, Weight: a.Weight, Dst: nd})
		cur = nd
		w += a.Weight
	}
	return cur, w
}

func encodeOutputs(outs []fst.Label) string {
	var sb strings.Builder
	for i, o := range outs {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(int(o)))
	}
	return sb.String()
}
