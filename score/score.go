// Package score defines the per-frame acoustic cost oracle the decoder
// consumes, plus matrix-backed implementations for batch decoding and tests.
package score

import (
	"math"

	"github.com/ieee0824/latgen-go/fst"
)

// Source supplies a non-negative-ish cost for emitting label at frame.
// Cost is only valid for frame < NumFramesReady(); NumFramesReady is
// monotonically non-decreasing as input arrives. Sources that can fail
// asynchronously should also implement ErrorReporter; the decoder polls
// it once per frame and fails the utterance on a non-nil error.
type Source interface {
	Cost(frame int, label fst.Label) float64
	NumFramesReady() int
	IsLastFrame(frame int) bool
}

// ErrorReporter is the optional error side channel of a Source.
type ErrorReporter interface {
	Err() error
}

// Matrix is a Source backed by a frames × labels cost matrix.
// Label l reads column l-1; labels beyond the matrix width cost +Inf.
type Matrix struct {
	rows [][]float64
}

// NewMatrix wraps rows without copying. Rows may be ragged; missing
// columns are treated as +Inf.
func NewMatrix(rows [][]float64) *Matrix {
	return &Matrix{rows: rows}
}

func (m *Matrix) Cost(frame int, label fst.Label) float64 {
	if frame < 0 || frame >= len(m.rows) {
		return math.Inf(1)
	}
	col := int(label) - 1
	if col < 0 || col >= len(m.rows[frame]) {
		return math.Inf(1)
	}
	return m.rows[frame][col]
}

func (m *Matrix) NumFramesReady() int { return len(m.rows) }

func (m *Matrix) IsLastFrame(frame int) bool { return frame == len(m.rows)-1 }

// NumFrames is an alias of NumFramesReady for callers that own the matrix.
func (m *Matrix) NumFrames() int { return len(m.rows) }

// Scaled multiplies another Source's costs by a constant acoustic scale.
type Scaled struct {
	Src   Source
	Scale float64
}

func (s *Scaled) Cost(frame int, label fst.Label) float64 {
	return s.Src.Cost(frame, label) * s.Scale
}

func (s *Scaled) NumFramesReady() int { return s.Src.NumFramesReady() }

func (s *Scaled) IsLastFrame(frame int) bool { return s.Src.IsLastFrame(frame) }

// Err forwards the wrapped source's error channel, if it has one.
func (s *Scaled) Err() error {
	if er, ok := s.Src.(ErrorReporter); ok {
		return er.Err()
	}
	return nil
}
