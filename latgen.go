// Package latgen decodes batches of utterances against a shared search
// graph, producing a pruned lattice (and optionally its determinized
// form and 1-best path) per utterance.
package latgen

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ieee0824/latgen-go/decoder"
	"github.com/ieee0824/latgen-go/fst"
	"github.com/ieee0824/latgen-go/lattice"
	"github.com/ieee0824/latgen-go/score"
)

// Runner decodes utterances against one shared, read-only graph. Each
// decode owns its own decoder and history, so utterances may run
// concurrently; the Runner itself is safe for concurrent use.
type Runner struct {
	graph fst.Graph
	cfg   decoder.Config
	log   zerolog.Logger

	workers       int
	acousticScale float64
	detFallback   bool
}

// Option configures a Runner.
type Option func(*Runner)

// WithConfig sets the decoder configuration.
func WithConfig(cfg decoder.Config) Option {
	return func(r *Runner) { r.cfg = cfg }
}

// WithLogger sets the structured logger; the default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(r *Runner) { r.log = log }
}

// WithWorkers sets how many utterances decode concurrently (default 1).
func WithWorkers(n int) Option {
	return func(r *Runner) { r.workers = n }
}

// WithAcousticScale scales every acoustic cost by s (default 1.0).
func WithAcousticScale(s float64) Option {
	return func(r *Runner) { r.acousticScale = s }
}

// WithDeterminizeFallback controls the LATTICE_OVERFLOW policy: when true
// (the default) a determinization that exceeds the arc cap falls back to
// the raw lattice instead of failing the utterance.
func WithDeterminizeFallback(enabled bool) Option {
	return func(r *Runner) { r.detFallback = enabled }
}

// NewRunner validates the graph and configuration up front; both are
// configuration errors and no decoding starts if either is malformed.
func NewRunner(g fst.Graph, opts ...Option) (*Runner, error) {
	r := &Runner{
		graph:         g,
		cfg:           decoder.DefaultConfig(),
		log:           zerolog.Nop(),
		workers:       1,
		acousticScale: 1.0,
		detFallback:   true,
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := fst.Validate(g); err != nil {
		return nil, err
	}
	if err := r.cfg.Check(); err != nil {
		return nil, err
	}
	if r.workers < 1 {
		return nil, fmt.Errorf("latgen: workers must be at least 1, got %d", r.workers)
	}
	if r.acousticScale <= 0 {
		return nil, fmt.Errorf("latgen: acoustic scale must be positive, got %g", r.acousticScale)
	}
	return r, nil
}

// UttResult is the outcome of one successful utterance decode.
type UttResult struct {
	ID           string
	Lat          *lattice.Lattice // determinized when cfg.Determinize held
	Best         *lattice.Path
	Frames       int
	Cost         float64 // best complete path cost
	Partial      bool    // ended on a non-final state under AllowPartial
	Determinized bool    // false when determinization was skipped or fell back
}

// LikePerFrame returns the per-frame log-likelihood of the best path
// (negated cost, matching the usual decoder summary).
func (u *UttResult) LikePerFrame() float64 {
	if u.Frames == 0 {
		return 0
	}
	return -u.Cost / float64(u.Frames)
}

// DecodeUtterance decodes one utterance. Failures are utterance-scoped
// and come back as the decoder/lattice package's typed errors.
func (r *Runner) DecodeUtterance(id string, src score.Source) (*UttResult, error) {
	if r.acousticScale != 1.0 {
		src = &score.Scaled{Src: src, Scale: r.acousticScale}
	}
	dec, err := decoder.NewLatticeDecoder(r.graph, r.cfg)
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(src); err != nil {
		return nil, err
	}
	if err := dec.FinalizeDecoding(); err != nil {
		return nil, err
	}
	lat, err := dec.RawLattice()
	if err != nil {
		return nil, err
	}

	res := &UttResult{
		ID:      id,
		Lat:     lat,
		Frames:  dec.NumFramesDecoded(),
		Cost:    dec.BestFinalCost(),
		Partial: dec.Partial(),
	}
	if res.Partial {
		r.log.Warn().Str("utt", id).Msg("no final state reached, emitting partial output")
	}
	if r.cfg.Determinize {
		det, err := lattice.Determinize(lat, lattice.Opts{
			Beam:    r.cfg.LatticeBeam,
			MaxArcs: r.cfg.MaxLatticeArcs,
		})
		switch {
		case err == nil:
			res.Lat = det
			res.Determinized = true
		case errors.Is(err, lattice.ErrTooManyArcs) && r.detFallback:
			r.log.Warn().Str("utt", id).Int("arcs", lat.NumArcs()).
				Msg("determinization exceeded arc cap, keeping raw lattice")
		default:
			return nil, fmt.Errorf("latgen: determinize %s: %w", id, err)
		}
	}
	best, err := lattice.ShortestPath(res.Lat)
	if err != nil {
		return nil, err
	}
	res.Best = best
	return res, nil
}

// Utterance pairs an id with its score source for batch decoding.
type Utterance struct {
	ID     string
	Source score.Source
}

// BatchStats summarizes a batch run, mirroring the usual decoding driver
// log line: done/failed counts, frames and total likelihood.
type BatchStats struct {
	Done      int
	Failed    int
	Frames    int64
	TotalLike float64
	Results   []*UttResult // successful decodes, i-th slot nil on failure
}

// LikePerFrame returns the overall log-likelihood per frame.
func (s *BatchStats) LikePerFrame() float64 {
	if s.Frames == 0 {
		return 0
	}
	return s.TotalLike / float64(s.Frames)
}

// DecodeBatch decodes utterances on up to WithWorkers goroutines. A
// failed utterance is logged and counted, never aborts the batch; only
// context cancellation stops the run early.
func (r *Runner) DecodeBatch(ctx context.Context, utts []Utterance) BatchStats {
	stats := BatchStats{Results: make([]*UttResult, len(utts))}
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, utt := range utts {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res, err := r.DecodeUtterance(utt.ID, utt.Source)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				stats.Failed++
				r.log.Warn().Str("utt", utt.ID).Err(err).Msg("utterance failed")
				return nil
			}
			stats.Done++
			stats.Frames += int64(res.Frames)
			if !math.IsInf(res.Cost, 0) {
				stats.TotalLike += -res.Cost
			}
			stats.Results[i] = res
			r.log.Info().
				Str("utt", utt.ID).
				Int("frames", res.Frames).
				Float64("likePerFrame", res.LikePerFrame()).
				Bool("partial", res.Partial).
				Int("latticeArcs", res.Lat.NumArcs()).
				Msg("decoded")
			return nil
		})
	}
	_ = g.Wait()
	r.log.Info().
		Int("done", stats.Done).
		Int("failed", stats.Failed).
		Int64("frames", stats.Frames).
		Float64("likePerFrame", stats.LikePerFrame()).
		Msg("batch finished")
	return stats
}
