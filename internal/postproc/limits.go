package postproc

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Limits is the colour range of a rendered product.
type Limits struct {
	Min, Max float64
}

// finite returns the non-NaN, non-Inf values of m.
func finite(m mat.Matrix) []float64 {
	rows, cols := m.Dims()
	out := make([]float64, 0, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			if v := m.At(r, c); !math.IsNaN(v) && !math.IsInf(v, 0) {
				out = append(out, v)
			}
		}
	}
	return out
}

// SymmetricLimits returns [-l, l] where l is 1.1 times the largest magnitude,
// or 1.2 times the 99.9th percentile of magnitudes when that exceeds 10,
// and never below 0.05.
func SymmetricLimits(m mat.Matrix) Limits {
	vals := finite(m)
	if len(vals) == 0 {
		return Limits{Min: -0.1, Max: 0.1}
	}
	for i, v := range vals {
		vals[i] = math.Abs(v)
	}
	sort.Float64s(vals)

	limit := floats.Max(vals) * 1.1
	if floats.Max(vals) > 10 {
		limit = stat.Quantile(0.999, stat.LinInterp, vals, nil) * 1.2
	}
	limit = math.Max(limit, 0.05)
	return Limits{Min: -limit, Max: limit}
}

// PercentileLimits returns [0, p-th quantile] of the finite values.
func PercentileLimits(m mat.Matrix, p float64) Limits {
	vals := finite(m)
	if len(vals) == 0 {
		return Limits{Min: 0, Max: 1}
	}
	sort.Float64s(vals)
	hi := stat.Quantile(p, stat.LinInterp, vals, nil)
	if !(hi > 0) {
		hi = 1
	}
	return Limits{Min: 0, Max: hi}
}

var (
	coherenceLimits = Limits{Min: 0, Max: 1}
	phaseLimits     = Limits{Min: -math.Pi, Max: math.Pi}
)
