package cmr

import (
	"fmt"
	"math"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"github.com/robert-malhotra/asf-insar/internal/insar"
)

// UMMSearchResponse represents a CMR UMM-G search response.
type UMMSearchResponse struct {
	Hits  int             `json:"hits"`
	Took  int             `json:"took"`
	Items []UMMResultItem `json:"items"`
}

// UMMResultItem wraps a UMM granule with metadata.
type UMMResultItem struct {
	Meta UMMMeta    `json:"meta"`
	UMM  UMMGranule `json:"umm"`
}

// UMMMeta contains metadata about a CMR result item.
type UMMMeta struct {
	ConceptID  string `json:"concept-id"`
	ProviderID string `json:"provider-id"`
}

// UMMGranule is the subset of a UMM-G record the pipeline reads.
type UMMGranule struct {
	GranuleUR            string                `json:"GranuleUR"`
	RelatedUrls          []RelatedURL          `json:"RelatedUrls,omitempty"`
	DataGranule          *DataGranule          `json:"DataGranule,omitempty"`
	TemporalExtent       *TemporalExtent       `json:"TemporalExtent,omitempty"`
	SpatialExtent        *SpatialExtent        `json:"SpatialExtent,omitempty"`
	Platforms            []Platform            `json:"Platforms,omitempty"`
	AdditionalAttributes []AdditionalAttribute `json:"AdditionalAttributes,omitempty"`
}

// RelatedURL represents a URL related to the granule.
type RelatedURL struct {
	URL  string `json:"URL"`
	Type string `json:"Type"` // e.g. "GET DATA"
}

// DataGranule contains data granule information.
type DataGranule struct {
	ArchiveAndDistributionInformation []ArchiveDistInfo `json:"ArchiveAndDistributionInformation,omitempty"`
}

// ArchiveDistInfo contains archive and distribution information.
type ArchiveDistInfo struct {
	Name     string    `json:"Name"`
	Size     *float64  `json:"Size,omitempty"`
	SizeUnit string    `json:"SizeUnit,omitempty"`
	Checksum *Checksum `json:"Checksum,omitempty"`
}

// Checksum contains checksum information.
type Checksum struct {
	Value     string `json:"Value"`
	Algorithm string `json:"Algorithm"`
}

// TemporalExtent contains temporal information.
type TemporalExtent struct {
	RangeDateTime  *RangeDateTime `json:"RangeDateTime,omitempty"`
	SingleDateTime string         `json:"SingleDateTime,omitempty"`
}

// RangeDateTime represents a time range.
type RangeDateTime struct {
	BeginningDateTime string `json:"BeginningDateTime"`
	EndingDateTime    string `json:"EndingDateTime"`
}

// SpatialExtent contains spatial information.
type SpatialExtent struct {
	HorizontalSpatialDomain *HorizontalSpatialDomain `json:"HorizontalSpatialDomain,omitempty"`
}

// HorizontalSpatialDomain contains horizontal spatial domain information.
type HorizontalSpatialDomain struct {
	Geometry *Geometry `json:"Geometry,omitempty"`
}

// Geometry contains geometry information.
type Geometry struct {
	GPolygons          []GPolygon          `json:"GPolygons,omitempty"`
	BoundingRectangles []BoundingRectangle `json:"BoundingRectangles,omitempty"`
}

// GPolygon represents a polygon geometry.
type GPolygon struct {
	Boundary Boundary `json:"Boundary"`
}

// Boundary contains boundary points.
type Boundary struct {
	Points []Point `json:"Points"`
}

// Point represents a geographic point.
type Point struct {
	Longitude float64 `json:"Longitude"`
	Latitude  float64 `json:"Latitude"`
}

// BoundingRectangle represents a bounding box.
type BoundingRectangle struct {
	WestBoundingCoordinate  float64 `json:"WestBoundingCoordinate"`
	NorthBoundingCoordinate float64 `json:"NorthBoundingCoordinate"`
	EastBoundingCoordinate  float64 `json:"EastBoundingCoordinate"`
	SouthBoundingCoordinate float64 `json:"SouthBoundingCoordinate"`
}

// Platform contains platform information.
type Platform struct {
	ShortName string `json:"ShortName"`
}

// AdditionalAttribute carries SAR properties such as PATH_NUMBER.
type AdditionalAttribute struct {
	Name   string   `json:"Name"`
	Values []string `json:"Values"`
}

// Attribute returns the first value of the named additional attribute.
func (g *UMMGranule) Attribute(name string) string {
	for _, attr := range g.AdditionalAttributes {
		if attr.Name == name && len(attr.Values) > 0 {
			return attr.Values[0]
		}
	}
	return ""
}

// StartTime returns the start time of the granule.
func (g *UMMGranule) StartTime() (time.Time, error) {
	if g.TemporalExtent == nil {
		return time.Time{}, fmt.Errorf("no temporal extent")
	}
	if r := g.TemporalExtent.RangeDateTime; r != nil && r.BeginningDateTime != "" {
		return parseTime(r.BeginningDateTime)
	}
	if g.TemporalExtent.SingleDateTime != "" {
		return parseTime(g.TemporalExtent.SingleDateTime)
	}
	return time.Time{}, fmt.Errorf("no start time")
}

// DataURL returns the primary data download URL.
func (g *UMMGranule) DataURL() string {
	for _, u := range g.RelatedUrls {
		if u.Type == "GET DATA" {
			return u.URL
		}
	}
	return ""
}

// Footprint returns the first polygon, or the first bounding rectangle, as a
// closed ring.
func (g *UMMGranule) Footprint() (orb.Polygon, error) {
	if g.SpatialExtent == nil || g.SpatialExtent.HorizontalSpatialDomain == nil ||
		g.SpatialExtent.HorizontalSpatialDomain.Geometry == nil {
		return nil, fmt.Errorf("no spatial extent")
	}
	geom := g.SpatialExtent.HorizontalSpatialDomain.Geometry

	if len(geom.GPolygons) > 0 {
		pts := geom.GPolygons[0].Boundary.Points
		if len(pts) < 3 {
			return nil, fmt.Errorf("polygon has %d points", len(pts))
		}
		ring := make(orb.Ring, 0, len(pts)+1)
		for _, pt := range pts {
			ring = append(ring, orb.Point{pt.Longitude, pt.Latitude})
		}
		if !ring.Closed() {
			ring = append(ring, ring[0])
		}
		return orb.Polygon{ring}, nil
	}

	if len(geom.BoundingRectangles) > 0 {
		r := geom.BoundingRectangles[0]
		b := orb.Bound{
			Min: orb.Point{r.WestBoundingCoordinate, r.SouthBoundingCoordinate},
			Max: orb.Point{r.EastBoundingCoordinate, r.NorthBoundingCoordinate},
		}
		return b.ToPolygon(), nil
	}
	return nil, fmt.Errorf("no polygon or bounding rectangle")
}

// Size returns the archive size in bytes, or 0 when unknown.
func (g *UMMGranule) Size() int64 {
	if v := g.Attribute("BYTES"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return int64(n)
		}
	}
	if g.DataGranule == nil {
		return 0
	}
	for _, info := range g.DataGranule.ArchiveAndDistributionInformation {
		if info.Size == nil {
			continue
		}
		scale := 1.0
		switch strings.ToUpper(info.SizeUnit) {
		case "KB":
			scale = 1 << 10
		case "MB":
			scale = 1 << 20
		case "GB":
			scale = 1 << 30
		}
		return int64(math.Round(*info.Size * scale))
	}
	return 0
}

// MD5 returns the archive checksum when CMR publishes one.
func (g *UMMGranule) MD5() string {
	if v := g.Attribute("MD5SUM"); v != "" {
		return v
	}
	if g.DataGranule == nil {
		return ""
	}
	for _, info := range g.DataGranule.ArchiveAndDistributionInformation {
		if info.Checksum != nil && strings.EqualFold(info.Checksum.Algorithm, "MD5") {
			return info.Checksum.Value
		}
	}
	return ""
}

// Acquisition converts the granule into an archive acquisition.
func (g *UMMGranule) Acquisition() (insar.Acquisition, error) {
	if g.GranuleUR == "" {
		return insar.Acquisition{}, fmt.Errorf("granule has no GranuleUR")
	}
	id := strings.TrimSuffix(g.GranuleUR, "-SLC")

	orbit, err := strconv.Atoi(g.Attribute("PATH_NUMBER"))
	if err != nil {
		return insar.Acquisition{}, fmt.Errorf("granule %s has no relative orbit", id)
	}
	start, err := g.StartTime()
	if err != nil {
		return insar.Acquisition{}, fmt.Errorf("granule %s: %w", id, err)
	}
	footprint, err := g.Footprint()
	if err != nil {
		return insar.Acquisition{}, fmt.Errorf("granule %s footprint: %w", id, err)
	}
	dataURL := g.DataURL()
	if dataURL == "" {
		return insar.Acquisition{}, fmt.Errorf("granule %s has no data URL", id)
	}

	platform := ""
	if len(g.Platforms) > 0 {
		if p, err := insar.NormalizePlatform(g.Platforms[0].ShortName); err == nil {
			platform = p
		}
	}
	if platform == "" && len(id) >= 3 {
		platform, _ = insar.NormalizePlatform(id[:3])
	}

	return insar.Acquisition{
		ID:              id,
		FileName:        path.Base(dataURL),
		URL:             dataURL,
		Platform:        platform,
		RelativeOrbit:   orbit,
		FlightDirection: g.Attribute("ASCENDING_DESCENDING"),
		StartTime:       start,
		Bytes:           g.Size(),
		MD5:             g.MD5(),
		Footprint:       footprint,
	}, nil
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.000Z", "2006-01-02T15:04:05Z"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse time: %s", s)
}
