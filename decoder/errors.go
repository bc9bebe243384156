package decoder

import (
	"errors"
	"fmt"
)

// All decode failures are utterance-scoped: a batch driver logs them and
// moves on to the next utterance.
var (
	// ErrInputEmpty reports zero frames of input; no tokens were created.
	ErrInputEmpty = errors.New("decoder: no input frames")
	// ErrNoFinalState reports a completed decode where no token reached a
	// final state and partial output was not allowed.
	ErrNoFinalState = errors.New("decoder: no token reached a final state")
	// ErrLatticeOverflow reports retained history exceeding the configured
	// arc cap.
	ErrLatticeOverflow = errors.New("decoder: lattice arc cap exceeded")
	// ErrNotFinalized guards lattice accessors called before FinalizeDecoding.
	ErrNotFinalized = errors.New("decoder: decode not finalized")
)

// BeamTooTightError reports a frontier that emptied mid-decode.
type BeamTooTightError struct {
	Frame int // the input frame being expanded when the frontier emptied
}

func (e *BeamTooTightError) Error() string {
	return fmt.Sprintf("decoder: frontier emptied at frame %d (beam too tight or no valid transitions)", e.Frame)
}

// SourceError wraps a failure reported by the score source. It is always
// fatal to the utterance being decoded.
type SourceError struct {
	Frame int
	Err   error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("decoder: score source failed at frame %d: %v", e.Frame, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }
