package mathutil

import (
	"math/rand"
	"sort"
	"testing"
)

func TestNthSmallest(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 50; trial++ {
		n := 1 + rng.Intn(200)
		xs := make([]float64, n)
		for i := range xs {
			xs[i] = rng.NormFloat64()
		}
		sorted := append([]float64(nil), xs...)
		sort.Float64s(sorted)

		k := rng.Intn(n)
		scratch := append([]float64(nil), xs...)
		if got := NthSmallest(scratch, k); got != sorted[k] {
			t.Fatalf("trial %d: NthSmallest(xs, %d) = %f, want %f", trial, k, got, sorted[k])
		}
	}
}

func TestNthSmallestOrderedInputs(t *testing.T) {
	const n = 101
	asc := make([]float64, n)
	desc := make([]float64, n)
	for i := 0; i < n; i++ {
		asc[i] = float64(i)
		desc[i] = float64(n - 1 - i)
	}
	for _, k := range []int{0, 1, n / 2, n - 2, n - 1} {
		if got := NthSmallest(append([]float64(nil), asc...), k); got != float64(k) {
			t.Errorf("ascending: NthSmallest(xs, %d) = %f, want %d", k, got, k)
		}
		if got := NthSmallest(append([]float64(nil), desc...), k); got != float64(k) {
			t.Errorf("descending: NthSmallest(xs, %d) = %f, want %d", k, got, k)
		}
	}
}

func TestNthSmallestDuplicates(t *testing.T) {
	xs := []float64{2, 1, 2, 1, 2, 1}
	if got := NthSmallest(append([]float64(nil), xs...), 2); got != 1 {
		t.Errorf("NthSmallest(dups, 2) = %f, want 1", got)
	}
	if got := NthSmallest(append([]float64(nil), xs...), 3); got != 2 {
		t.Errorf("NthSmallest(dups, 3) = %f, want 2", got)
	}
}

func TestNthSmallestSingle(t *testing.T) {
	if got := NthSmallest([]float64{7.5}, 0); got != 7.5 {
		t.Errorf("NthSmallest([7.5], 0) = %f, want 7.5", got)
	}
}
