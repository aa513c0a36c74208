package insar

import (
	"fmt"
	"strings"
	"time"

	"github.com/paulmach/orb"
)

// PlatformFamily is the only constellation the pipeline processes.
const PlatformFamily = "Sentinel-1"

// platformAliases maps command-line shorthands to archive platform names.
var platformAliases = map[string]string{
	"S1":  "Sentinel-1",
	"S1A": "Sentinel-1A",
	"S1B": "Sentinel-1B",
	"S1C": "Sentinel-1C",
}

// NormalizePlatform maps a shorthand such as "S1A" to the archive name
// "Sentinel-1A". Unknown platforms are rejected.
func NormalizePlatform(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return PlatformFamily, nil
	}
	if full, ok := platformAliases[strings.ToUpper(p)]; ok {
		return full, nil
	}
	for _, full := range platformAliases {
		if strings.EqualFold(full, p) {
			return full, nil
		}
	}
	return "", fmt.Errorf("unsupported platform %q", p)
}

// PlatformCode returns the mission code used in file names, e.g. "S1A".
// The family name has no code and yields "".
func PlatformCode(platform string) string {
	for code, full := range platformAliases {
		if len(code) == 3 && strings.EqualFold(full, platform) {
			return code
		}
	}
	return ""
}

// SameFamily reports whether two platform names belong to the Sentinel-1 family.
func SameFamily(a, b string) bool {
	return strings.HasPrefix(a, PlatformFamily) && strings.HasPrefix(b, PlatformFamily)
}

// Acquisition is one SLC granule from the archive.
type Acquisition struct {
	ID              string      `json:"id"`
	FileName        string      `json:"file_name"`
	URL             string      `json:"url"`
	Platform        string      `json:"platform"`
	RelativeOrbit   int         `json:"relative_orbit"`
	FlightDirection string      `json:"flight_direction,omitempty"`
	StartTime       time.Time   `json:"start_time"`
	Bytes           int64       `json:"bytes,omitempty"`
	MD5             string      `json:"md5,omitempty"`
	Footprint       orb.Polygon `json:"footprint"`
}

// Date returns the UTC calendar day of the acquisition.
func (a Acquisition) Date() time.Time {
	return Day(a.StartTime)
}

// Code returns the mission code of the acquisition, e.g. "S1A".
func (a Acquisition) Code() string {
	if code := PlatformCode(a.Platform); code != "" {
		return code
	}
	if len(a.ID) >= 3 && strings.HasPrefix(a.ID, "S1") {
		return a.ID[:3]
	}
	return ""
}

// Day truncates t to midnight UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ImagePair is the resolved reference/secondary pair. It is immutable once
// produced by the search resolver.
type ImagePair struct {
	Reference Acquisition `json:"reference"`
	Secondary Acquisition `json:"secondary"`
}

func (p ImagePair) ReferenceID() string      { return p.Reference.ID }
func (p ImagePair) SecondaryID() string      { return p.Secondary.ID }
func (p ImagePair) ReferenceDate() time.Time { return p.Reference.Date() }
func (p ImagePair) SecondaryDate() time.Time { return p.Secondary.Date() }
func (p ImagePair) RelativeOrbit() int       { return p.Reference.RelativeOrbit }

// Platform returns the reference platform; the secondary shares its family.
func (p ImagePair) Platform() string { return p.Reference.Platform }

// Images returns reference then secondary.
func (p ImagePair) Images() []Acquisition {
	return []Acquisition{p.Reference, p.Secondary}
}

// Validate enforces the pair invariants against the area of interest.
func (p ImagePair) Validate(aoi AreaOfInterest) error {
	if !p.ReferenceDate().Before(p.SecondaryDate()) {
		return fmt.Errorf("%w: %s is not before %s", ErrInvalidPair,
			p.ReferenceDate().Format(DateLayout), p.SecondaryDate().Format(DateLayout))
	}
	if p.Reference.RelativeOrbit != p.Secondary.RelativeOrbit {
		return fmt.Errorf("%w: reference orbit %d, secondary orbit %d",
			ErrAmbiguousOrbit, p.Reference.RelativeOrbit, p.Secondary.RelativeOrbit)
	}
	if !SameFamily(p.Reference.Platform, p.Secondary.Platform) {
		return fmt.Errorf("platforms %q and %q are not in the same family", p.Reference.Platform, p.Secondary.Platform)
	}
	for _, img := range p.Images() {
		if !aoi.Intersects(img.Footprint) {
			return fmt.Errorf("footprint of %s does not intersect the area of interest", img.ID)
		}
	}
	return nil
}

// String returns a short human-readable description.
func (p ImagePair) String() string {
	return fmt.Sprintf("%s/%s track %d (%s -> %s)",
		p.Reference.Code(), p.Secondary.Code(), p.RelativeOrbit(),
		p.ReferenceDate().Format("2006-01-02"), p.SecondaryDate().Format("2006-01-02"))
}
