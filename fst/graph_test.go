package fst

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorBuild(t *testing.T) {
	g := NewVector()
	s0 := g.AddState()
	s1 := g.AddState()
	g.SetStart(s0)
	g.AddArc(s0, Arc{In: 1, Out: 2, Weight: 0.5, Next: s1})
	g.SetFinal(s1, 1.5)

	assert.Equal(t, s0, g.Start())
	assert.Equal(t, 2, g.NumStates())
	assert.Equal(t, 1, g.NumArcs())
	require.Len(t, g.Arcs(s0), 1)
	assert.Equal(t, Arc{In: 1, Out: 2, Weight: 0.5, Next: s1}, g.Arcs(s0)[0])
	assert.Equal(t, 1.5, g.FinalWeight(s1))
	assert.True(t, math.IsInf(g.FinalWeight(s0), 1))
	assert.True(t, math.IsInf(g.FinalWeight(StateID(99)), 1))
}

func TestVectorGrowsOnDemand(t *testing.T) {
	g := NewVector()
	g.SetStart(0)
	g.AddArc(0, Arc{In: 1, Out: 1, Weight: 0, Next: 5})
	assert.Equal(t, 6, g.NumStates())
}

func TestValidate(t *testing.T) {
	ok := NewVector()
	ok.SetStart(ok.AddState())
	ok.SetFinal(ok.Start(), 0)
	assert.NoError(t, Validate(ok))

	empty := NewVector()
	assert.Error(t, Validate(empty))

	noStart := NewVector()
	noStart.AddState()
	assert.Error(t, Validate(noStart))

	badWeight := NewVector()
	badWeight.SetStart(badWeight.AddState())
	badWeight.AddArc(badWeight.Start(), Arc{In: 1, Out: 1, Weight: -1, Next: badWeight.Start()})
	assert.Error(t, Validate(badWeight))
}

// epsilonPair builds start -emit-> a, then epsilon arcs a->b and b->a with
// the given weights, both final.
func epsilonPair(w1, w2 float64) *Vector {
	g := NewVector()
	start := g.AddState()
	a := g.AddState()
	b := g.AddState()
	g.SetStart(start)
	g.AddArc(start, Arc{In: 1, Out: 1, Weight: 0.5, Next: a})
	g.AddArc(a, Arc{In: Epsilon, Out: 0, Weight: w1, Next: b})
	g.AddArc(b, Arc{In: Epsilon, Out: 0, Weight: w2, Next: a})
	g.SetFinal(a, 0)
	g.SetFinal(b, 0)
	return g
}

func TestValidate_EpsilonCycles(t *testing.T) {
	assert.Error(t, Validate(epsilonPair(0, 0)), "zero-weight epsilon cycle")
	assert.Error(t, Validate(epsilonPair(0.5, 0.5)), "weighted epsilon cycle")

	selfLoop := NewVector()
	selfLoop.SetStart(selfLoop.AddState())
	selfLoop.SetFinal(selfLoop.Start(), 0)
	selfLoop.AddArc(selfLoop.Start(), Arc{In: Epsilon, Out: 0, Weight: 0, Next: selfLoop.Start()})
	assert.Error(t, Validate(selfLoop), "epsilon self loop")

	// An epsilon chain and an emitting cycle are both fine.
	chain := NewVector()
	s0 := chain.AddState()
	s1 := chain.AddState()
	s2 := chain.AddState()
	chain.SetStart(s0)
	chain.AddArc(s0, Arc{In: Epsilon, Out: 0, Weight: 0, Next: s1})
	chain.AddArc(s1, Arc{In: Epsilon, Out: 0, Weight: 0, Next: s2})
	chain.AddArc(s2, Arc{In: 1, Out: 1, Weight: 0, Next: s0})
	chain.SetFinal(s2, 0)
	assert.NoError(t, Validate(chain))
}
