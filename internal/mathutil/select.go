package mathutil

// NthSmallest returns the value that would be at index n (0-based) if xs
// were sorted ascending. It partially reorders xs in place using Hoare
// quickselect, so callers pass a scratch copy. Panics if n is out of range.
func NthSmallest(xs []float64, n int) float64 {
	if n < 0 || n >= len(xs) {
		panic("mathutil: NthSmallest index out of range")
	}
	lo, hi := 0, len(xs)-1
	for lo < hi {
		// Median-of-three pivot keeps sorted and reverse-sorted inputs fast.
		mid := lo + (hi-lo)/2
		if xs[mid] < xs[lo] {
			xs[mid], xs[lo] = xs[lo], xs[mid]
		}
		if xs[hi] < xs[lo] {
			xs[hi], xs[lo] = xs[lo], xs[hi]
		}
		if xs[hi] < xs[mid] {
			xs[hi], xs[mid] = xs[mid], xs[hi]
		}
		pivot := xs[mid]

		i, j := lo, hi
		for i <= j {
			for xs[i] < pivot {
				i++
			}
			for xs[j] > pivot {
				j--
			}
			if i <= j {
				xs[i], xs[j] = xs[j], xs[i]
				i++
				j--
			}
		}
		switch {
		case n <= j:
			hi = j
		case n >= i:
			lo = i
		default:
			return xs[n]
		}
	}
	return xs[n]
}
