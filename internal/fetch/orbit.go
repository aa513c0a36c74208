package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/robert-malhotra/asf-insar/internal/insar"
)

// orbitName matches e.g.
// S1A_OPER_AUX_POEORB_OPOD_20230121T080712_V20221231T225942_20230102T005942.EOF
var orbitName = regexp.MustCompile(`^(S1[ABCD])_OPER_AUX_(POEORB|RESORB)_OPOD_(\d{8}T\d{6})_V(\d{8}T\d{6})_(\d{8}T\d{6})\.EOF$`)

const orbitTimeLayout = "20060102T150405"

// OrbitFile is one published orbit file.
type OrbitFile struct {
	Name      string
	URL       string
	Mission   string
	Kind      insar.OrbitKind
	Generated time.Time
	Start     time.Time
	End       time.Time
}

// Covers reports whether t lies strictly inside the validity window.
func (o OrbitFile) Covers(t time.Time) bool {
	return o.Start.Before(t) && t.Before(o.End)
}

// ParseOrbitName decodes an orbit file name.
func ParseOrbitName(name string) (OrbitFile, error) {
	m := orbitName.FindStringSubmatch(name)
	if m == nil {
		return OrbitFile{}, fmt.Errorf("%q is not an orbit file name", name)
	}
	times := make([]time.Time, 3)
	for i, s := range m[3:6] {
		t, err := time.Parse(orbitTimeLayout, s)
		if err != nil {
			return OrbitFile{}, fmt.Errorf("orbit %s: %w", name, err)
		}
		times[i] = t
	}
	kind := insar.OrbitPrecision
	if m[2] == "RESORB" {
		kind = insar.OrbitRestituted
	}
	return OrbitFile{
		Name:      name,
		Mission:   m[1],
		Kind:      kind,
		Generated: times[0],
		Start:     times[1],
		End:       times[2],
	}, nil
}

// OrbitSource lists published orbit files of one tier that may cover an
// acquisition of mission at time t.
type OrbitSource interface {
	List(ctx context.Context, kind insar.OrbitKind, mission string, t time.Time) ([]OrbitFile, error)
}

// OrbitResolver picks the orbit file of each image: precision first, then
// restituted.
type OrbitResolver struct {
	source OrbitSource
	dir    string
	logger *slog.Logger
}

// NewOrbitResolver creates a resolver that places files in dir.
func NewOrbitResolver(source OrbitSource, dir string, logger *slog.Logger) *OrbitResolver {
	return &OrbitResolver{source: source, dir: dir, logger: logger}
}

// Select chooses the orbit file for acq. Among several covering files the
// middle one by validity start is taken. Neither tier covering the
// acquisition is a hard stop.
func (r *OrbitResolver) Select(ctx context.Context, acq insar.Acquisition) (insar.OrbitSelection, error) {
	const op = "select orbit"
	mission := acq.Code()
	if mission == "" {
		return insar.OrbitSelection{}, insar.Errorf(insar.KindFetch, op, "cannot tell mission of %s", acq.ID)
	}

	for _, kind := range []insar.OrbitKind{insar.OrbitPrecision, insar.OrbitRestituted} {
		files, err := r.source.List(ctx, kind, mission, acq.StartTime)
		if err != nil {
			return insar.OrbitSelection{}, err
		}
		var matches []OrbitFile
		for _, f := range files {
			if f.Mission == mission && f.Kind == kind && f.Covers(acq.StartTime) {
				matches = append(matches, f)
			}
		}
		if len(matches) == 0 {
			r.logger.Info("no orbit file in tier",
				slog.String("step", "orbit"),
				slog.String("image", acq.ID),
				slog.String("kind", string(kind)),
			)
			continue
		}
		sort.Slice(matches, func(i, j int) bool {
			if matches[i].Start.Equal(matches[j].Start) {
				return matches[i].Name < matches[j].Name
			}
			return matches[i].Start.Before(matches[j].Start)
		})
		chosen := matches[len(matches)/2]
		r.logger.Info("selected orbit file",
			slog.String("step", "orbit"),
			slog.String("image", acq.ID),
			slog.String("kind", string(kind)),
			slog.String("file", chosen.Name),
		)
		return insar.OrbitSelection{
			ImageID:   acq.ID,
			Kind:      kind,
			File:      chosen.Name,
			URL:       chosen.URL,
			LocalPath: filepath.Join(r.dir, chosen.Name),
		}, nil
	}

	return insar.OrbitSelection{ImageID: acq.ID, Kind: insar.OrbitMissing},
		insar.E(insar.KindFetch, op, fmt.Errorf("%w: %s at %s", insar.ErrMissingOrbit, acq.ID, acq.StartTime.Format(time.RFC3339)))
}
