package insar

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// DateLayout is the YYYYMMDD layout used for every date on the command surface.
const DateLayout = "20060102"

// EventWindow is the half-width of the event-mode search window.
const EventWindow = 12 * 24 * time.Hour

// Mode selects how the image pair is resolved.
type Mode int

const (
	ModeNone Mode = iota
	ModeEvent
	ModePair
)

func (m Mode) String() string {
	switch m {
	case ModeEvent:
		return "event"
	case ModePair:
		return "pair"
	default:
		return "none"
	}
}

// Request is the spatial/temporal request a run is built from.
type Request struct {
	Lon           float64 `json:"lon" validate:"gte=-180,lte=180"`
	Lat           float64 `json:"lat" validate:"gte=-90,lte=90"`
	Buffer        float64 `json:"buffer" validate:"gt=0,lte=5"`
	EventDate     string  `json:"event_date,omitempty" validate:"omitempty,datetime=20060102"`
	ReferenceDate string  `json:"reference_date,omitempty" validate:"required_with=SecondaryDate,omitempty,datetime=20060102"`
	SecondaryDate string  `json:"secondary_date,omitempty" validate:"required_with=ReferenceDate,omitempty,datetime=20060102"`
	Platform      string  `json:"platform" validate:"required,oneof=Sentinel-1 Sentinel-1A Sentinel-1B Sentinel-1C S1 S1A S1B S1C"`
	RelativeOrbit *int    `json:"relative_orbit,omitempty" validate:"omitempty,gte=1,lte=175"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func requestValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Mode reports which date mode the request carries. A full date pair takes
// precedence over an event date.
func (r Request) Mode() Mode {
	switch {
	case r.ReferenceDate != "" && r.SecondaryDate != "":
		return ModePair
	case r.EventDate != "":
		return ModeEvent
	default:
		return ModeNone
	}
}

// Validate checks field ranges and that a date mode is present. Every failure is
// a usage error raised before any network activity.
func (r Request) Validate() error {
	if err := requestValidator().Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (%v)", fe.Field(), fe.Tag(), fe.Value()))
			}
			return E(KindUsage, "validate request", errors.New(strings.Join(msgs, "; ")))
		}
		return E(KindUsage, "validate request", err)
	}
	if r.Mode() == ModeNone {
		return E(KindUsage, "validate request", ErrMissingDates)
	}
	return nil
}

// AreaOfInterest derives the area of interest from the request.
func (r Request) AreaOfInterest() AreaOfInterest {
	return AreaOfInterest{Lon: r.Lon, Lat: r.Lat, Buffer: r.Buffer}
}

// Event returns the parsed event date.
func (r Request) Event() (time.Time, error) {
	return ParseDate(r.EventDate)
}

// Dates returns the parsed reference and secondary dates.
func (r Request) Dates() (time.Time, time.Time, error) {
	ref, err := ParseDate(r.ReferenceDate)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	sec, err := ParseDate(r.SecondaryDate)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return ref, sec, nil
}

// Fingerprint identifies the request for change detection across invocations.
func (r Request) Fingerprint() string {
	platform, err := NormalizePlatform(r.Platform)
	if err != nil {
		platform = r.Platform
	}
	orbit := "-"
	if r.RelativeOrbit != nil {
		orbit = fmt.Sprint(*r.RelativeOrbit)
	}
	var dates string
	switch r.Mode() {
	case ModePair:
		dates = "pair:" + r.ReferenceDate + "/" + r.SecondaryDate
	case ModeEvent:
		dates = "event:" + r.EventDate
	}
	return fmt.Sprintf("%.6f,%.6f,%.6f|%s|%s|%s", r.Lon, r.Lat, r.Buffer, dates, platform, orbit)
}

// ParseDate parses a YYYYMMDD date as midnight UTC.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q must be formatted YYYYMMDD: %w", s, err)
	}
	return t.UTC(), nil
}
