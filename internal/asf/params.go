package asf

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// ProcessingLevelSLC selects single-look complex products.
	ProcessingLevelSLC = "SLC"
	// BeamModeIW selects interferometric wide swath acquisitions.
	BeamModeIW = "IW"
	// DefaultMaxResults bounds a single query.
	DefaultMaxResults = 200
)

// SearchParams represents parameters for ASF search queries
type SearchParams struct {
	Platform []string // e.g. "Sentinel-1", "Sentinel-1A"

	IntersectsWith string // WKT geometry string

	Start *time.Time // inclusive
	End   *time.Time // inclusive

	GranuleList []string

	BeamMode        []string
	FlightDirection string // "ASCENDING" or "DESCENDING"
	RelativeOrbit   []int
	ProcessingLevel []string

	MaxResults int
	Output     string // default "geojson"
}

// SLCParams returns the parameters of an IW SLC query over wkt between start and end.
func SLCParams(platform, wkt string, start, end time.Time, relativeOrbit *int) SearchParams {
	p := SearchParams{
		Platform:        []string{platform},
		IntersectsWith:  wkt,
		Start:           &start,
		End:             &end,
		BeamMode:        []string{BeamModeIW},
		ProcessingLevel: []string{ProcessingLevelSLC},
		MaxResults:      DefaultMaxResults,
	}
	if relativeOrbit != nil {
		p.RelativeOrbit = []int{*relativeOrbit}
	}
	return p
}

// ToURLValues converts SearchParams to url.Values for query string building
func (p *SearchParams) ToURLValues() url.Values {
	values := url.Values{}

	for _, pl := range p.Platform {
		values.Add("platform", pl)
	}
	if p.IntersectsWith != "" {
		values.Set("intersectsWith", p.IntersectsWith)
	}
	if p.Start != nil {
		values.Set("start", formatASFTime(*p.Start))
	}
	if p.End != nil {
		values.Set("end", formatASFTime(*p.End))
	}
	if len(p.GranuleList) > 0 {
		values.Set("granule_list", strings.Join(p.GranuleList, ","))
	}
	for _, bm := range p.BeamMode {
		values.Add("beamMode", bm)
	}
	if p.FlightDirection != "" {
		values.Set("flightDirection", p.FlightDirection)
	}
	for _, ro := range p.RelativeOrbit {
		values.Add("relativeOrbit", strconv.Itoa(ro))
	}
	if len(p.ProcessingLevel) > 0 {
		values.Set("processingLevel", strings.Join(p.ProcessingLevel, ","))
	}
	// ASF rejects maxResults together with granule_list
	if p.MaxResults > 0 && len(p.GranuleList) == 0 {
		values.Set("maxResults", strconv.Itoa(p.MaxResults))
	}
	if p.Output != "" {
		values.Set("output", p.Output)
	} else {
		values.Set("output", "geojson")
	}
	return values
}

// formatASFTime formats a time for ASF queries: YYYY-MM-DDTHH:MM:SSZ
func formatASFTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}
