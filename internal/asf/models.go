package asf

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robert-malhotra/asf-insar/internal/insar"
	"github.com/robert-malhotra/asf-insar/pkg/geojson"
)

// GeoJSONResponse represents ASF's GeoJSON FeatureCollection response
type GeoJSONResponse struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// Feature represents a single ASF search result feature
type Feature struct {
	Type       string            `json:"type"`
	Geometry   *geojson.Geometry `json:"geometry"`
	Properties Properties        `json:"properties"`
}

// Properties contains the granule metadata the pipeline reads.
type Properties struct {
	SceneName string `json:"sceneName"`
	FileID    string `json:"fileID"`
	Platform  string `json:"platform"`

	BeamModeType string `json:"beamModeType"`
	Polarization string `json:"polarization"`

	FlightDirection string `json:"flightDirection"`
	FrameNumber     *int   `json:"frameNumber"`
	AbsoluteOrbit   *int   `json:"absoluteOrbit"`
	RelativeOrbit   *int   `json:"relativeOrbit"`
	PathNumber      *int   `json:"pathNumber"`

	ProcessingLevel string `json:"processingLevel"`

	StartTime string `json:"startTime"`
	StopTime  string `json:"stopTime"`

	URL      string          `json:"url"`
	FileName string          `json:"fileName"`
	FileSize *int64          `json:"fileSize"`
	Bytes    json.RawMessage `json:"bytes"` // int64 or string depending on ASF response
	MD5Sum   string          `json:"md5sum"`
}

// Orbit returns the relative orbit, falling back to the path number.
func (p Properties) Orbit() (int, bool) {
	switch {
	case p.RelativeOrbit != nil:
		return *p.RelativeOrbit, true
	case p.PathNumber != nil:
		return *p.PathNumber, true
	default:
		return 0, false
	}
}

// Size returns the advertised byte size of the file, 0 when unknown.
func (p Properties) Size() int64 {
	if p.FileSize != nil {
		return *p.FileSize
	}
	raw := strings.Trim(strings.TrimSpace(string(p.Bytes)), `"`)
	if raw == "" || raw == "null" {
		return 0
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil || n < 0 {
		return 0
	}
	return int64(n)
}

// ASF time formats observed in API responses.
var asfTimeFormats = []string{
	"2006-01-02T15:04:05.000000",
	"2006-01-02T15:04:05.999999999",
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05",
}

// ParseTime parses an ASF timestamp as UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time string")
	}
	var lastErr error
	for _, format := range asfTimeFormats {
		t, err := time.Parse(format, s)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, fmt.Errorf("failed to parse ASF time %q: %w", s, lastErr)
}

// Acquisition converts the feature into the pipeline's acquisition model.
func (f Feature) Acquisition() (insar.Acquisition, error) {
	p := f.Properties
	if p.SceneName == "" {
		return insar.Acquisition{}, fmt.Errorf("feature has no scene name")
	}
	orbit, ok := p.Orbit()
	if !ok {
		return insar.Acquisition{}, fmt.Errorf("granule %s has no relative orbit", p.SceneName)
	}
	start, err := ParseTime(p.StartTime)
	if err != nil {
		return insar.Acquisition{}, fmt.Errorf("granule %s: %w", p.SceneName, err)
	}
	footprint, err := f.Geometry.ToOrb()
	if err != nil {
		return insar.Acquisition{}, fmt.Errorf("granule %s footprint: %w", p.SceneName, err)
	}
	name := p.FileName
	if name == "" && p.URL != "" {
		name = p.URL[strings.LastIndex(p.URL, "/")+1:]
	}
	return insar.Acquisition{
		ID:              p.SceneName,
		FileName:        name,
		URL:             p.URL,
		Platform:        p.Platform,
		RelativeOrbit:   orbit,
		FlightDirection: p.FlightDirection,
		StartTime:       start,
		Bytes:           p.Size(),
		MD5:             p.MD5Sum,
		Footprint:       footprint,
	}, nil
}
