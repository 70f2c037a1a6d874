package scan

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// MeanStddev calculates the mean and sample standard deviation of a slice.
// Returns (0, 0) for empty slices.
func MeanStddev(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	if len(xs) == 1 {
		return xs[0], 0
	}
	mean, stddev := stat.MeanStdDev(xs, nil)
	return mean, stddev
}

// DisplayRange returns the [loQ, hiQ] quantile bounds of vals for colour
// scaling. It is a pure function over the snapshot: no polling, no retry.
// Quantiles are clamped to [0,1]; an empty input returns (0, 0).
func DisplayRange(vals []float64, loQ, hiQ float64) (float64, float64) {
	if len(vals) == 0 {
		return 0, 0
	}
	if loQ < 0 {
		loQ = 0
	}
	if hiQ > 1 {
		hiQ = 1
	}
	sorted := make([]float64, len(vals))
	copy(sorted, vals)
	sort.Float64s(sorted)
	lo := stat.Quantile(loQ, stat.Empirical, sorted, nil)
	hi := stat.Quantile(hiQ, stat.Empirical, sorted, nil)
	if hi < lo {
		lo, hi = hi, lo
	}
	return lo, hi
}
