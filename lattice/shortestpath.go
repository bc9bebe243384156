package lattice

import (
	"errors"
	"math"

	"github.com/ieee0824/latgen-go/fst"
)

// ErrNoPath reports a lattice with no path from the start node to any
// final node.
var ErrNoPath = errors.New("lattice: no path to a final node")

// Path is a single hypothesis pulled out of a lattice.
type Path struct {
	Outputs   []fst.Label // output-label sequence, epsilons dropped
	Alignment []fst.Label // input-label sequence, epsilons dropped
	Cost      float64     // arc costs plus the final cost
}

// ShortestPath returns the minimum-cost path from the start node to a
// final node in one topological relaxation pass. Ties resolve to the
// earliest-relaxed arc, so results are deterministic for a fixed lattice.
func ShortestPath(l *Lattice) (*Path, error) {
	order := l.topoOrder()
	if len(order) == 0 {
		return nil, ErrNoPath
	}

	dist := make([]float64, l.NumNodes())
	for i := range dist {
		dist[i] = math.Inf(1)
	}
	type pred struct {
		node NodeID
		arc  int
	}
	preds := make([]pred, l.NumNodes())
	for i := range preds {
		preds[i] = pred{node: NoNode}
	}

	dist[l.Start()] = 0
	bestFinal := NoNode
	bestCost := math.Inf(1)
	for _, n := range order {
		if math.IsInf(dist[n], 1) {
			continue
		}
		for i, a := range l.Arcs(n) {
			if c := dist[n] + a.Weight; c < dist[a.Dst] {
				dist[a.Dst] = c
				preds[a.Dst] = pred{node: n, arc: i}
			}
		}
		if fw, ok := l.Final(n); ok {
			if c := dist[n] + fw; c < bestCost {
				bestCost = c
				bestFinal = n
			}
		}
	}
	if bestFinal == NoNode {
		return nil, ErrNoPath
	}

	p := &Path{Cost: bestCost}
	for n := bestFinal; preds[n].node != NoNode; n = preds[n].node {
		a := l.Arcs(preds[n].node)[preds[n].arc]
		if a.Out != fst.Epsilon {
			p.Outputs = append(p.Outputs, a.Out)
		}
		if a.In != fst.Epsilon {
			p.Alignment = append(p.Alignment, a.In)
		}
	}
	reverseLabels(p.Outputs)
	reverseLabels(p.Alignment)
	return p, nil
}

func reverseLabels(xs []fst.Label) {
	for i, j := 0, len(xs)-1; i < j; i, j = i+1, j-1 {
		xs[i], xs[j] = xs[j], xs[i]
	}
}
