package postproc

import (
	"math"

	"github.com/robert-malhotra/asf-insar/internal/raster"
)

// Conversion constants for Sentinel-1 IW geocoded products.
const (
	// PhaseToMeters converts unwrapped phase to LOS displacement: -λ/4π with λ ≈ 5.55 cm.
	PhaseToMeters = -0.0044
	// RangePixel and AzimuthPixel are the IW pixel spacings used to scale dense offsets.
	RangePixel   = -2.32956
	AzimuthPixel = 13.9332
)

// Product names of the result set.
const (
	LOSDisplacement = "los_disp"
	Coherence       = "coherence"
	WrappedPhase    = "wrap_phase"
	VectorEast      = "vec_E"
	VectorNorth     = "vec_N"
	VectorUp        = "vec_U"
	OffsetRange     = "offset_range"
	OffsetAzimuth   = "offset_azimuth"
	SNR             = "snr"
)

// Wrap folds phase into [-π, π).
func Wrap(phase float64) float64 {
	w := math.Mod(phase+math.Pi, 2*math.Pi)
	if w < 0 {
		w += 2 * math.Pi
	}
	return w - math.Pi
}

// Flip converts the geometry azimuth band to the heading convention used
// for the decomposition: -az - 180.
func Flip(az float64) float64 {
	return -az - 180
}

// ENU returns the east, north and up components of the LOS unit vector for
// heading az and look angle, both in degrees. A zero or NaN look angle is
// degenerate and yields NaN.
func ENU(az, look float64) (e, n, u float64) {
	if look == 0 || math.IsNaN(look) || math.IsNaN(az) {
		nan := math.NaN()
		return nan, nan, nan
	}
	ra := az * math.Pi / 180
	rl := look * math.Pi / 180
	return -math.Sin(ra) * math.Sin(rl), -math.Cos(ra) * math.Sin(rl), math.Cos(rl)
}

// validHeading reports whether a flipped azimuth carries information.
func validHeading(az float64) bool {
	return !math.IsNaN(az) && az != 0 && math.Abs(az) != 180
}

// mask sets g to NaN in place wherever bad reports true.
func mask(g raster.Grid, bad func(r, c int) bool) raster.Grid {
	rows, cols := g.Dims()
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			if bad(r, c) {
				g.Data.Set(r, c, math.NaN())
			}
		}
	}
	return g
}
