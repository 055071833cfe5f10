// Package stats holds the few windowed-statistics helpers shared by the
// scoring, anomaly, and trust packages.
package stats

import "math"

// Clamp01 clamps v to [0,1]. NaN clamps to 0 so downstream scores stay in
// range no matter what the caller feeds in.
func Clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Mean returns the arithmetic mean of values, 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total / float64(len(values))
}

// PStdDev returns the population standard deviation, 0 for fewer than two
// points.
func PStdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := Mean(values)
	sum := 0.0
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)))
}

// Tail returns the trailing window of at most n values.
func Tail(values []float64, n int) []float64 {
	if n <= 0 || len(values) <= n {
		return values
	}
	return values[len(values)-n:]
}

// PushBounded appends v and drops the oldest entries beyond cap n.
func PushBounded(values []float64, v float64, n int) []float64 {
	values = append(values, v)
	if n > 0 && len(values) > n {
		values = values[len(values)-n:]
	}
	return values
}
