// Package stats provides the small set of descriptive statistics the
// analytic engines share.
package stats

import (
	"math"
	"slices"
	"sort"
)

// Quantile returns the q-quantile of sorted values using linear
// interpolation between closest ranks. sorted must be ascending and
// non-empty.
func Quantile(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	pos := q * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// Sorted returns an ascending copy of values.
func Sorted(values []float64) []float64 {
	s := slices.Clone(values)
	sort.Float64s(s)
	return s
}

// Mean returns the arithmetic mean, or 0 for no values.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Median returns the 0.5 quantile, or 0 for no values.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return Quantile(Sorted(values), 0.5)
}

// StdDev returns the population standard deviation.
func StdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := Mean(values)
	var ss float64
	for _, v := range values {
		d := v - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(values)))
}

// EqualFrequencyBins assigns each value to one of at most q buckets holding
// roughly equal counts. Bucket edges are the 0, 1/q, ..., 1 quantiles with
// duplicates removed, so heavily tied data yields fewer buckets rather than
// an error. Buckets are right-closed and the first includes its lower edge.
// It returns the 1-based bucket of every value and the number of buckets.
func EqualFrequencyBins(values []float64, q int) ([]int, int) {
	labels := make([]int, len(values))
	if len(values) == 0 {
		return labels, 0
	}

	sorted := Sorted(values)
	edges := make([]float64, 0, q+1)
	for i := 0; i <= q; i++ {
		e := Quantile(sorted, float64(i)/float64(q))
		if len(edges) == 0 || e != edges[len(edges)-1] {
			edges = append(edges, e)
		}
	}

	k := len(edges) - 1
	if k < 1 {
		for i := range labels {
			labels[i] = 1
		}
		return labels, 1
	}

	upper := edges[1:]
	for i, v := range values {
		b := sort.SearchFloat64s(upper, v)
		if b >= k {
			b = k - 1
		}
		labels[i] = b + 1
	}
	return labels, k
}
