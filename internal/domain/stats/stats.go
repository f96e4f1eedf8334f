// Package stats holds the descriptive statistics behind the performance curve chart.
package stats

import (
	"math"
	"sort"
)

// Point is one sample of a density curve, shaped for the chart library.
type Point struct {
	Value  float64 `json:"value"`
	Weight float64 `json:"weight"`
}

// Mean returns NaN for an empty slice.
func Mean(samples []float64) float64 {
	sum := 0.0
	for _, s := range samples {
		sum += s
	}
	return sum / float64(len(samples))
}

// StandardDeviation is the population standard deviation (divides by N).
func StandardDeviation(samples []float64) float64 {
	mean := Mean(samples)
	variance := 0.0
	for _, s := range samples {
		d := s - mean
		variance += d * d
	}
	variance /= float64(len(samples))
	return math.Sqrt(variance)
}

// NormalDensity evaluates the normal pdf at each x. A NaN density (zero or NaN
// stddev) is reported as weight 0.
func NormalDensity(xs []float64, mean, stddev float64) []Point {
	out := make([]Point, 0, len(xs))
	coef := 1 / (stddev * math.Sqrt(2*math.Pi))
	for _, x := range xs {
		density := coef * math.Exp(-((x-mean)*(x-mean))/(2*stddev*stddev))
		if math.IsNaN(density) {
			density = 0
		}
		out = append(out, Point{Value: x, Weight: density})
	}
	return out
}

// Frequency is how many samples carry a given value.
type Frequency struct {
	Value float64 `json:"value"`
	Count int     `json:"count"`
}

// Curve pairs the actual rating distribution with the expected normal curve.
// Degenerate marks an expected curve flattened to zero because there were no
// samples or no spread between them.
type Curve struct {
	Mean       float64     `json:"mean"`
	StdDev     float64     `json:"stdDev"`
	Samples    int         `json:"samples"`
	Actual     []Frequency `json:"actual"`
	Expected   []Point     `json:"expected"`
	Degenerate bool        `json:"degenerate"`
}

// PerformanceCurve builds the curve over [min, max] in the given step. NaN
// summary values (no samples) are reported as 0 so the payload stays JSON-safe.
func PerformanceCurve(values []float64, min, max, step float64) Curve {
	mean := Mean(values)
	sd := StandardDeviation(values)

	xs := []float64{}
	if step > 0 {
		for x := min; x <= max+step/2; x += step {
			xs = append(xs, math.Round(x*100)/100)
		}
	}

	return Curve{
		Mean:       finite(mean),
		StdDev:     finite(sd),
		Samples:    len(values),
		Actual:     Frequencies(values),
		Expected:   NormalDensity(xs, mean, sd),
		Degenerate: math.IsNaN(sd) || sd == 0,
	}
}

// Frequencies counts samples per distinct value, sorted by value.
func Frequencies(values []float64) []Frequency {
	counts := map[float64]int{}
	for _, v := range values {
		counts[v]++
	}
	out := make([]Frequency, 0, len(counts))
	for v, n := range counts {
		out = append(out, Frequency{Value: v, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Value < out[j].Value })
	return out
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
