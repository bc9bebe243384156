package decoder

import "fmt"

// Config holds beam search and lattice generation parameters.
type Config struct {
	Beam           float64 // per-frame cost window relative to the frame's best token
	LatticeBeam    float64 // backward retention window relative to the best final cost
	MaxActive      int     // hard cap on frontier size after pruning
	MinActive      int     // pruning never shrinks the frontier below this
	Determinize    bool    // collapse the output lattice by output-label sequence
	AllowPartial   bool    // emit the best non-final path when no final state is reached
	MaxLatticeArcs int     // cap on lattice arcs (raw and determinized); 0 = unlimited
}

// DefaultConfig returns reasonable default parameters.
func DefaultConfig() Config {
	return Config{
		Beam:           16.0,
		LatticeBeam:    10.0,
		MaxActive:      7000,
		MinActive:      200,
		Determinize:    true,
		MaxLatticeArcs: 500000,
	}
}

// Check validates the configuration before any decoding begins.
func (c Config) Check() error {
	if !(c.Beam > 0) {
		return fmt.Errorf("decoder: beam must be positive, got %g", c.Beam)
	}
	if c.LatticeBeam < 0 {
		return fmt.Errorf("decoder: lattice beam must be non-negative, got %g", c.LatticeBeam)
	}
	if c.MaxActive < 1 {
		return fmt.Errorf("decoder: max active must be at least 1, got %d", c.MaxActive)
	}
	if c.MinActive < 0 || c.MinActive > c.MaxActive {
		return fmt.Errorf("decoder: min active %d must be within [0, max active %d]", c.MinActive, c.MaxActive)
	}
	if c.MaxLatticeArcs < 0 {
		return fmt.Errorf("decoder: max lattice arcs must be non-negative, got %d", c.MaxLatticeArcs)
	}
	return nil
}
