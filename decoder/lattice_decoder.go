// Package decoder implements time-synchronous lattice-generating beam
// search over a weighted automaton. It expands a frontier of tokens
// frame by frame, recombining hypotheses per (state, frame) while keeping
// runner-up arrivals as extra forward links, then sweeps the retained
// history backward so only paths within LatticeBeam of the best full
// path survive into the output lattice.
package decoder

import (
	"container/heap"
	"fmt"
	"math"

	"github.com/ieee0824/latgen-go/fst"
	"github.com/ieee0824/latgen-go/internal/mathutil"
	"github.com/ieee0824/latgen-go/lattice"
	"github.com/ieee0824/latgen-go/score"
)

// costDelta is the slack used when comparing recomputed costs; differences
// below it are treated as ties.
const costDelta = 1e-9

// epsItem is one pending epsilon relaxation, keyed by candidate cost.
// Stale entries (token improved since push) are skipped on pop.
type epsItem struct {
	cost float64
	id   tokID
}

type epsHeap []epsItem

func (h epsHeap) Len() int            { return len(h) }
func (h epsHeap) Less(i, j int) bool  { return h[i].cost < h[j].cost }
func (h epsHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *epsHeap) Push(x any) { *h = append(*h, x.(epsItem)) }
func (h *epsHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

// LatticeDecoder decodes one utterance at a time. It is not safe for
// concurrent use; run one decoder per in-flight utterance. The graph is
// read-only and may be shared across decoders.
type LatticeDecoder struct {
	graph fst.Graph
	cfg   Config

	hist     history
	frontier map[fst.StateID]tokID // tokens of the frame being built
	active   []tokID               // pruned frontier of the last completed frame
	frame    int                   // frames decoded so far

	finalized     bool
	partial       bool
	bestFinalCost float64

	eps     epsHeap
	scratch []float64
}

// NewLatticeDecoder validates cfg and the graph's start state. Graph
// structure should be checked with fst.Validate before decoding begins.
func NewLatticeDecoder(g fst.Graph, cfg Config) (*LatticeDecoder, error) {
	if err := cfg.Check(); err != nil {
		return nil, err
	}
	if s := g.Start(); s < 0 || int(s) >= g.NumStates() {
		return nil, fmt.Errorf("decoder: graph start state %d out of range [0,%d)", s, g.NumStates())
	}
	return &LatticeDecoder{
		graph:    g,
		cfg:      cfg,
		frontier: make(map[fst.StateID]tokID),
	}, nil
}

// Decode runs the full frame loop over src and leaves the decoder ready
// for FinalizeDecoding. Utterance-scoped failures come back as the typed
// errors in errors.go.
func (d *LatticeDecoder) Decode(src score.Source) error {
	if src.NumFramesReady() == 0 {
		return ErrInputEmpty
	}
	d.InitDecoding()
	for d.frame < src.NumFramesReady() {
		if err := d.AdvanceFrame(src); err != nil {
			return err
		}
		if src.IsLastFrame(d.frame - 1) {
			break
		}
	}
	return nil
}

// InitDecoding resets all per-utterance state and seeds the frontier with
// the start state at frame 0, including its epsilon closure.
func (d *LatticeDecoder) InitDecoding() {
	d.hist.reset()
	clear(d.frontier)
	d.active = d.active[:0]
	d.frame = 0
	d.finalized = false
	d.partial = false
	d.bestFinalCost = math.Inf(1)

	root := d.hist.newToken(0, d.graph.Start(), 0)
	d.frontier[d.graph.Start()] = root
	d.processNonemitting(0, d.cfg.Beam)
	d.pruneFrontier(0)
}

// NumFramesDecoded returns how many input frames have been consumed.
func (d *LatticeDecoder) NumFramesDecoded() int { return d.frame }

// AdvanceFrame expands the current frontier by one input frame: an
// emitting pass with best-first admission, an epsilon closure over the
// new frontier, then adaptive pruning. The score source must have a score
// ready for the frame being consumed.
func (d *LatticeDecoder) AdvanceFrame(src score.Source) error {
	t := d.frame
	if er, ok := src.(score.ErrorReporter); ok {
		if err := er.Err(); err != nil {
			return &SourceError{Frame: t, Err: err}
		}
	}

	clear(d.frontier)
	newFrame := t + 1
	bestCost := math.Inf(1)
	cutoff := math.Inf(1)

	// Emitting pass. The cutoff tightens as better candidates arrive;
	// an admitted candidate may still be dropped by the final pruning.
	for _, id := range d.active {
		state := d.hist.tok(id).state
		baseCost := d.hist.tok(id).cost
		for _, a := range d.graph.Arcs(state) {
			if a.In == fst.Epsilon {
				continue
			}
			ac := src.Cost(t, a.In)
			c := baseCost + a.Weight + ac
			if c > cutoff || math.IsInf(c, 1) {
				continue
			}
			if c < bestCost {
				bestCost = c
				cutoff = c + d.cfg.Beam
			}
			nid, _ := d.findOrAddToken(newFrame, a.Next, c)
			d.hist.addLink(id, nid, a.In, a.Out, a.Weight, ac)
		}
	}
	if len(d.frontier) == 0 {
		return &BeamTooTightError{Frame: t}
	}

	d.processNonemitting(newFrame, cutoff)
	// pruneFrontier's cutoff is never below the frame's best cost, so a
	// non-empty frontier always keeps at least its best token.
	d.pruneFrontier(newFrame)
	d.frame = newFrame
	return nil
}

// findOrAddToken recombines a candidate into the frontier under
// construction. At most one token exists per state per frame; the stored
// cost only ever decreases. On an exact tie the incumbent wins.
func (d *LatticeDecoder) findOrAddToken(frame int, state fst.StateID, cost float64) (tokID, bool) {
	if id, ok := d.frontier[state]; ok {
		tok := d.hist.tok(id)
		if cost < tok.cost {
			tok.cost = cost
			return id, true
		}
		return id, false
	}
	id := d.hist.newToken(frame, state, cost)
	d.frontier[state] = id
	return id, true
}

// processNonemitting relaxes epsilon arcs within one frame, cheapest
// first. A token whose cost improves is re-queued; on (re)expansion its
// epsilon links are re-derived from scratch so the chain never holds
// duplicates from earlier visits.
func (d *LatticeDecoder) processNonemitting(frame int, cutoff float64) {
	d.eps = d.eps[:0]
	for _, id := range d.hist.frames[frame] {
		d.eps = append(d.eps, epsItem{cost: d.hist.tok(id).cost, id: id})
	}
	heap.Init(&d.eps)

	for len(d.eps) > 0 {
		it := heap.Pop(&d.eps).(epsItem)
		tok := d.hist.tok(it.id)
		if it.cost > tok.cost+costDelta {
			continue // stale entry, a cheaper relaxation already ran
		}
		if tok.cost > cutoff {
			break // heap is cost-ordered, nothing below remains admissible
		}
		d.hist.dropLinks(it.id)
		base := tok.cost
		state := tok.state
		for _, a := range d.graph.Arcs(state) {
			if a.In != fst.Epsilon {
				continue
			}
			c := base + a.Weight
			if c > cutoff {
				continue
			}
			nid, improved := d.findOrAddToken(frame, a.Next, c)
			d.hist.addLink(it.id, nid, fst.Epsilon, a.Out, a.Weight, 0)
			if improved && nid != it.id {
				heap.Push(&d.eps, epsItem{cost: c, id: nid})
			}
		}
	}
}

// pruneFrontier applies the three per-frame bounds (beam, max active via
// a partial order statistic, min active floor) and records the surviving
// tokens, in creation order, as the next frame's expansion list. Dropped
// tokens stay in the history; the backward pass decides their fate.
func (d *LatticeDecoder) pruneFrontier(frame int) {
	ids := d.hist.frames[frame]
	d.scratch = d.scratch[:0]
	best := math.Inf(1)
	for _, id := range ids {
		c := d.hist.tok(id).cost
		d.scratch = append(d.scratch, c)
		if c < best {
			best = c
		}
	}

	cutoff := best + d.cfg.Beam
	if len(ids) > d.cfg.MaxActive {
		if k := mathutil.NthSmallest(d.scratch, d.cfg.MaxActive-1); k < cutoff {
			cutoff = k
		}
	}
	if d.cfg.MinActive > 0 {
		if len(ids) <= d.cfg.MinActive {
			cutoff = math.Inf(1) // too few tokens to prune at all
		} else if m := mathutil.NthSmallest(d.scratch, d.cfg.MinActive-1); m > cutoff {
			cutoff = m
		}
	}

	d.active = d.active[:0]
	for _, id := range ids {
		if d.hist.tok(id).cost <= cutoff {
			d.active = append(d.active, id)
			if len(d.active) == d.cfg.MaxActive {
				break
			}
		}
	}
}

// NumActiveTokens returns the size of the pruned frontier.
func (d *LatticeDecoder) NumActiveTokens() int { return len(d.active) }

// ReachedFinal reports whether any last-frame token occupies a final
// state. Valid after the frame loop.
func (d *LatticeDecoder) ReachedFinal() bool {
	if d.hist.numFrames() == 0 {
		return false
	}
	for _, id := range d.hist.frames[d.hist.numFrames()-1] {
		if d.graph.FinalWeight(d.hist.tok(id).state) < fst.Infinity {
			return true
		}
	}
	return false
}

// FinalizeDecoding computes the best final cost and runs the backward
// sweep that discards history outside LatticeBeam of it. With no token on
// a final state it fails with ErrNoFinalState unless AllowPartial, in
// which case the best last-frame token stands in for a final one and the
// decode is flagged partial.
func (d *LatticeDecoder) FinalizeDecoding() error {
	if d.hist.numFrames() == 0 {
		return ErrInputEmpty
	}
	last := d.hist.numFrames() - 1
	bestFinal := math.Inf(1)
	bestAny := math.Inf(1)
	for _, id := range d.hist.frames[last] {
		tok := d.hist.tok(id)
		if c := tok.cost + d.graph.FinalWeight(tok.state); c < bestFinal {
			bestFinal = c
		}
		if tok.cost < bestAny {
			bestAny = tok.cost
		}
	}
	if math.IsInf(bestFinal, 1) {
		if !d.cfg.AllowPartial {
			return ErrNoFinalState
		}
		d.partial = true
		bestFinal = bestAny
	}
	d.bestFinalCost = bestFinal
	d.pruneHistory()
	d.finalized = true
	return nil
}

// Partial reports whether the finalized decode ended on a non-final
// state under AllowPartial.
func (d *LatticeDecoder) Partial() bool { return d.partial }

// BestFinalCost returns the cost of the best complete path (including
// the final weight), valid after FinalizeDecoding.
func (d *LatticeDecoder) BestFinalCost() float64 { return d.bestFinalCost }

// pruneHistory is the backward mark phase: token extra cost = slack of the
// best full path through it over the global best. Frames are processed
// newest first; epsilon links keep same-frame tokens interdependent, so
// each frame iterates to a fixpoint (extra costs only decrease). Links and
// tokens whose slack exceeds LatticeBeam are marked pruned/dead.
func (d *LatticeDecoder) pruneHistory() {
	lb := d.cfg.LatticeBeam
	last := d.hist.numFrames() - 1

	for f := last; f >= 0; f-- {
		ids := d.hist.frames[f]
		for changed := true; changed; {
			changed = false
			for _, id := range ids {
				tok := d.hist.tok(id)
				extra := math.Inf(1)
				if f == last {
					if d.partial {
						extra = tok.cost - d.bestFinalCost
					} else if fw := d.graph.FinalWeight(tok.state); fw < fst.Infinity {
						extra = tok.cost + fw - d.bestFinalCost
					}
				}
				for lid := tok.links; lid != noLink; lid = d.hist.link(lid).next {
					l := d.hist.link(lid)
					nt := d.hist.tok(l.to)
					le := nt.extraCost + (tok.cost + l.cost() - nt.cost)
					if le < extra {
						extra = le
					}
				}
				if extra < tok.extraCost-costDelta {
					tok.extraCost = extra
					changed = true
				}
			}
		}
	}

	for i := range d.hist.toks {
		tok := &d.hist.toks[i]
		if !(tok.extraCost <= lb) {
			tok.dead = true
			continue
		}
		for lid := tok.links; lid != noLink; lid = d.hist.link(lid).next {
			l := d.hist.link(lid)
			nt := d.hist.tok(l.to)
			le := nt.extraCost + (tok.cost + l.cost() - nt.cost)
			if !(le <= lb) {
				l.pruned = true
			}
		}
	}
}

// RawLattice converts the retained history into the output lattice:
// one node per surviving token keyed (state, frame), one arc per
// surviving forward link. Parallel arcs between a node pair are kept.
func (d *LatticeDecoder) RawLattice() (*lattice.Lattice, error) {
	if !d.finalized {
		return nil, ErrNotFinalized
	}
	lat := lattice.New()
	nodeOf := make([]lattice.NodeID, len(d.hist.toks))
	for i := range nodeOf {
		nodeOf[i] = lattice.NoNode
	}
	last := d.hist.numFrames() - 1
	for f := 0; f <= last; f++ {
		for _, id := range d.hist.frames[f] {
			tok := d.hist.tok(id)
			if tok.dead {
				continue
			}
			n := lat.AddNode(tok.state, int32(f))
			nodeOf[id] = n
			if f == last {
				if d.partial {
					lat.SetFinal(n, 0)
				} else if fw := d.graph.FinalWeight(tok.state); fw < fst.Infinity {
					lat.SetFinal(n, fw)
				}
			}
		}
	}
	lat.SetStart(nodeOf[0]) // token 0 is the root; the best path keeps it alive

	var chain []linkID
	for id := range d.hist.toks {
		tok := d.hist.tok(tokID(id))
		if tok.dead || nodeOf[id] == lattice.NoNode {
			continue
		}
		// Link chains are prepend-ordered; reverse to creation order so
		// the output is deterministic and ties resolve first-created.
		chain = chain[:0]
		for lid := tok.links; lid != noLink; lid = d.hist.link(lid).next {
			chain = append(chain, lid)
		}
		for i := len(chain) - 1; i >= 0; i-- {
			l := d.hist.link(chain[i])
			if l.pruned || nodeOf[l.to] == lattice.NoNode {
				continue
			}
			lat.AddArc(nodeOf[id], lattice.Arc{
				In:     l.in,
				Out:    l.out,
				Weight: l.cost(),
				Dst:    nodeOf[l.to],
			})
		}
	}
	if d.cfg.MaxLatticeArcs > 0 && lat.NumArcs() > d.cfg.MaxLatticeArcs {
		return nil, ErrLatticeOverflow
	}
	return lat, nil
}

// BestPath extracts the single minimum-cost path from the retained
// history. Valid after FinalizeDecoding.
func (d *LatticeDecoder) BestPath() (*lattice.Path, error) {
	lat, err := d.RawLattice()
	if err != nil {
		return nil, err
	}
	return lattice.ShortestPath(lat)
}
