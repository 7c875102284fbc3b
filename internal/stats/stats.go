// Package stats contains the aggregation primitives shared by the analyzers.
package stats

import (
	"math"
	"sort"
)

// DefaultMaxVariation is the coefficient of variation that maps to a
// stability score of zero.
const DefaultMaxVariation = 1.0

// Present returns the values of the non-nil pointers. Absent values are
// dropped rather than counted as zero.
func Present(values ...*float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if v != nil {
			out = append(out, *v)
		}
	}
	return out
}

// Average returns the arithmetic mean of values, or 0 for an empty slice.
func Average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// StdDev returns the population standard deviation of values, or 0 when
// there are fewer than two values.
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := Average(values)
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(values)))
}

// Median returns the median of values, or 0 for an empty slice. values is
// not modified.
func Median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// MinMax returns the smallest and largest of values, or zeros for an empty
// slice.
func MinMax(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}

// StabilityScore maps the coefficient of variation of values to [0, 1],
// where 1 is perfectly stable. With fewer than two samples or a zero mean
// there is nothing to measure and the score is 1.
func StabilityScore(values []float64, maxVariation float64) float64 {
	if len(values) < 2 {
		return 1
	}
	mean := Average(values)
	if mean == 0 {
		return 1
	}
	if maxVariation <= 0 {
		maxVariation = DefaultMaxVariation
	}
	cv := StdDev(values) / math.Abs(mean)
	return Clamp(1-cv/maxVariation, 0, 1)
}

// Term is a weighted score.
type Term struct {
	Score  float64
	Weight float64
}

// WeightedComposite returns the weighted sum of the terms. Weights are not
// normalized.
func WeightedComposite(terms ...Term) float64 {
	var total float64
	for _, t := range terms {
		total += t.Score * t.Weight
	}
	return total
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Ratio returns num/den, or 0 when den is 0.
func Ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

// PercentChange returns the percent change from base to value, or 0 when
// base is 0.
func PercentChange(base, value float64) float64 {
	if base == 0 {
		return 0
	}
	return (value - base) / math.Abs(base) * 100
}
