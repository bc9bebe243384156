package decoder

import (
	"math"

	"github.com/ieee0824/latgen-go/fst"
)

// Tokens and forward links live in flat per-utterance arenas indexed by
// int32 handles, so the backward pass is an index-reachability scan and
// the whole history is dropped in O(1) when the utterance completes.
type (
	tokID  int32
	linkID int32
)

const (
	noToken tokID  = -1
	noLink  linkID = -1
)

// token is the retained best hypothesis for one graph state at one frame.
// Its cost only ever decreases (recombination keeps the minimum); links
// already pointing at it stay valid because they carry incremental costs.
type token struct {
	state     fst.StateID
	cost      float64 // graph + acoustic cost from the start of the utterance
	extraCost float64 // slack over the best full path through this token; set by the backward pass
	links     linkID  // head of the outgoing link chain
	dead      bool    // discarded by the backward pass
}

// forwardLink records one traversed arc between tokens. Emitting links
// cross to the next frame; epsilon links stay within a frame.
type forwardLink struct {
	from, to     tokID
	in, out      fst.Label
	graphCost    float64
	acousticCost float64
	next         linkID // next link out of the same token
	pruned       bool
}

func (l *forwardLink) cost() float64 { return l.graphCost + l.acousticCost }

// history is the append-only per-utterance arena of tokens and links.
type history struct {
	toks   []token
	links  []forwardLink
	frames [][]tokID // frame index -> tokens created at that frame
}

func (h *history) reset() {
	h.toks = h.toks[:0]
	h.links = h.links[:0]
	h.frames = h.frames[:0]
}

func (h *history) tok(id tokID) *token { return &h.toks[id] }

func (h *history) link(id linkID) *forwardLink { return &h.links[id] }

// newToken appends a token for state at frame, growing the frame index.
func (h *history) newToken(frame int, state fst.StateID, cost float64) tokID {
	id := tokID(len(h.toks))
	h.toks = append(h.toks, token{
		state:     state,
		cost:      cost,
		extraCost: math.Inf(1),
		links:     noLink,
	})
	for len(h.frames) <= frame {
		h.frames = append(h.frames, nil)
	}
	h.frames[frame] = append(h.frames[frame], id)
	return id
}

// addLink prepends a link to from's chain.
func (h *history) addLink(from, to tokID, in, out fst.Label, graphCost, acousticCost float64) {
	id := linkID(len(h.links))
	ft := h.tok(from)
	h.links = append(h.links, forwardLink{
		from:         from,
		to:           to,
		in:           in,
		out:          out,
		graphCost:    graphCost,
		acousticCost: acousticCost,
		next:         ft.links,
	})
	ft.links = id
}

// dropLinks detaches a token's outgoing links. The records stay in the
// arena but become unreachable; used when the epsilon pass re-derives a
// token's links after lowering its cost.
func (h *history) dropLinks(id tokID) {
	h.tok(id).links = noLink
}

// numFrames returns the number of frame buckets, including frame 0.
func (h *history) numFrames() int { return len(h.frames) }
