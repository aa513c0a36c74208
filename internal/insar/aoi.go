// Package insar holds the domain model shared by every pipeline stage: the area
// of interest, the resolved image pair, manifests and the artifacts each stage
// hands to the next.
package insar

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
	"github.com/paulmach/orb/planar"

	"github.com/robert-malhotra/asf-insar/pkg/geojson"
)

// DefaultBuffer is the search buffer in degrees around the centre point.
const DefaultBuffer = 0.2

// AreaOfInterest is a square box of half-width Buffer degrees around a centre point.
type AreaOfInterest struct {
	Lon    float64 `json:"lon"`
	Lat    float64 `json:"lat"`
	Buffer float64 `json:"buffer"`
}

// Validate checks the centre is on the globe and the buffer is positive.
func (a AreaOfInterest) Validate() error {
	if !(a.Buffer > 0) {
		return fmt.Errorf("buffer must be positive, got %v", a.Buffer)
	}
	if a.Lon < -180 || a.Lon > 180 || math.IsNaN(a.Lon) {
		return fmt.Errorf("longitude must be between -180 and 180, got %v", a.Lon)
	}
	if a.Lat < -90 || a.Lat > 90 || math.IsNaN(a.Lat) {
		return fmt.Errorf("latitude must be between -90 and 90, got %v", a.Lat)
	}
	return nil
}

// Bound returns the bounding box used by search, DEM planning, region of
// interest and cropping alike.
func (a AreaOfInterest) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{a.Lon - a.Buffer, a.Lat - a.Buffer},
		Max: orb.Point{a.Lon + a.Buffer, a.Lat + a.Buffer},
	}
}

// WKT renders the bounding box as a WKT polygon for the archive's intersectsWith filter.
func (a AreaOfInterest) WKT() (string, error) {
	b := a.Bound()
	polygon, err := geojson.NewPolygonFromBBox([]float64{b.Left(), b.Bottom(), b.Right(), b.Top()})
	if err != nil {
		return "", fmt.Errorf("failed to create polygon from bbox: %w", err)
	}
	return geojson.ToWKT(polygon)
}

// Overlap returns the fraction of the area of interest covered by footprint, in [0, 1].
func (a AreaOfInterest) Overlap(footprint orb.Polygon) float64 {
	if len(footprint) == 0 || len(footprint[0]) < 3 {
		return 0
	}
	b := a.Bound()
	if !b.Intersects(footprint.Bound()) {
		return 0
	}
	clipped := clip.Polygon(b, footprint.Clone())
	if len(clipped) == 0 || len(clipped[0]) < 3 {
		return 0
	}
	total := (b.Right() - b.Left()) * (b.Top() - b.Bottom())
	if total <= 0 {
		return 0
	}
	return math.Min(1, math.Abs(planar.Area(clipped))/total)
}

// Intersects reports whether footprint covers any part of the area of interest.
func (a AreaOfInterest) Intersects(footprint orb.Polygon) bool {
	return a.Overlap(footprint) > 0
}

// RegionOfInterest returns [south, north, west, east] as the engine expects it.
func (a AreaOfInterest) RegionOfInterest() [4]float64 {
	b := a.Bound()
	return [4]float64{b.Bottom(), b.Top(), b.Left(), b.Right()}
}
