// Package geojson decodes the GeoJSON footprints returned by the ASF archive
// and converts them to orb geometries and WKT filters.
package geojson

import (
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
)

// Geometry represents a GeoJSON geometry object.
type Geometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// Polygon returns the coordinates as a Polygon [][][lon, lat].
func (g *Geometry) Polygon() ([][][]float64, error) {
	if g.Type != "Polygon" {
		return nil, fmt.Errorf("geometry is not a Polygon, got %s", g.Type)
	}
	var coords [][][]float64
	if err := json.Unmarshal(g.Coordinates, &coords); err != nil {
		return nil, fmt.Errorf("failed to unmarshal Polygon coordinates: %w", err)
	}
	return coords, nil
}

// parts decodes a Polygon or MultiPolygon into its polygons.
func (g *Geometry) parts() (orb.MultiPolygon, error) {
	if g == nil {
		return nil, fmt.Errorf("geometry is nil")
	}
	var coords [][][][]float64
	switch g.Type {
	case "Polygon":
		var poly [][][]float64
		if err := json.Unmarshal(g.Coordinates, &poly); err != nil {
			return nil, fmt.Errorf("failed to unmarshal Polygon coordinates: %w", err)
		}
		coords = [][][][]float64{poly}
	case "MultiPolygon":
		if err := json.Unmarshal(g.Coordinates, &coords); err != nil {
			return nil, fmt.Errorf("failed to unmarshal MultiPolygon coordinates: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported footprint geometry type: %s", g.Type)
	}

	mp := make(orb.MultiPolygon, 0, len(coords))
	points := 0
	for _, part := range coords {
		if len(part) == 0 {
			return nil, fmt.Errorf("polygon has no rings")
		}
		poly := make(orb.Polygon, 0, len(part))
		for _, ring := range part {
			r := make(orb.Ring, 0, len(ring))
			for _, pt := range ring {
				if len(pt) < 2 {
					return nil, fmt.Errorf("invalid point in polygon ring: expected at least 2 coordinates")
				}
				r = append(r, orb.Point{pt[0], pt[1]})
			}
			points += len(r)
			poly = append(poly, r)
		}
		mp = append(mp, poly)
	}
	if points == 0 {
		return nil, fmt.Errorf("geometry has no coordinates")
	}
	return mp, nil
}

// ToOrb converts a Polygon or MultiPolygon footprint to an orb polygon. For a
// MultiPolygon (a footprint split at the antimeridian) the part with the
// largest outer ring is returned.
func (g *Geometry) ToOrb() (orb.Polygon, error) {
	mp, err := g.parts()
	if err != nil {
		return nil, err
	}
	best := mp[0]
	for _, p := range mp[1:] {
		if len(p[0]) > len(best[0]) {
			best = p
		}
	}
	return best, nil
}

// ComputeBBox returns [west, south, east, north] over every part.
func ComputeBBox(g *Geometry) ([]float64, error) {
	mp, err := g.parts()
	if err != nil {
		return nil, err
	}
	b := mp.Bound()
	return []float64{b.Left(), b.Bottom(), b.Right(), b.Top()}, nil
}

// NewPolygonFromBBox creates a closed counter-clockwise polygon from
// [west, south, east, north].
func NewPolygonFromBBox(bbox []float64) (*Geometry, error) {
	if len(bbox) != 4 {
		return nil, fmt.Errorf("bbox must have 4 values [west, south, east, north], got %d", len(bbox))
	}
	west, south, east, north := bbox[0], bbox[1], bbox[2], bbox[3]
	if west > east || south > north {
		return nil, fmt.Errorf("bbox is inverted: %v", bbox)
	}

	coords := [][][]float64{{
		{west, south},
		{east, south},
		{east, north},
		{west, north},
		{west, south},
	}}
	raw, err := json.Marshal(coords)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal polygon coordinates: %w", err)
	}
	return &Geometry{Type: "Polygon", Coordinates: raw}, nil
}

// ToWKT converts a Polygon or MultiPolygon geometry to WKT.
func ToWKT(g *Geometry) (string, error) {
	mp, err := g.parts()
	if err != nil {
		return "", err
	}
	if g.Type == "Polygon" {
		return wkt.MarshalString(mp[0]), nil
	}
	return wkt.MarshalString(mp), nil
}
