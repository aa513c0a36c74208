package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/robert-malhotra/asf-insar/internal/insar"
)

const endOfDay = 24*time.Hour - time.Second

// Resolver turns a request into an image pair.
type Resolver struct {
	archive Archive
	logger  *slog.Logger
}

// NewResolver creates a resolver over archive.
func NewResolver(archive Archive, logger *slog.Logger) *Resolver {
	return &Resolver{archive: archive, logger: logger}
}

// Resolve validates req and selects the pair. Every invalid request is
// rejected before the archive is queried.
func (r *Resolver) Resolve(ctx context.Context, req insar.Request) (insar.ImagePair, error) {
	const op = "search"
	if err := req.Validate(); err != nil {
		return insar.ImagePair{}, err
	}
	platform, err := insar.NormalizePlatform(req.Platform)
	if err != nil {
		return insar.ImagePair{}, insar.E(insar.KindUsage, op, err)
	}
	aoi := req.AreaOfInterest()

	var pair insar.ImagePair
	switch req.Mode() {
	case insar.ModePair:
		ref, sec, err := req.Dates()
		if err != nil {
			return insar.ImagePair{}, insar.E(insar.KindUsage, op, err)
		}
		pair, err = r.resolvePair(ctx, platform, aoi, ref, sec, req.RelativeOrbit)
		if err != nil {
			return insar.ImagePair{}, err
		}
	case insar.ModeEvent:
		event, err := req.Event()
		if err != nil {
			return insar.ImagePair{}, insar.E(insar.KindUsage, op, err)
		}
		pair, err = r.resolveEvent(ctx, platform, aoi, event, req.RelativeOrbit)
		if err != nil {
			return insar.ImagePair{}, err
		}
	default:
		return insar.ImagePair{}, insar.E(insar.KindUsage, op, insar.ErrMissingDates)
	}

	if err := pair.Validate(aoi); err != nil {
		return insar.ImagePair{}, insar.E(insar.KindSearch, op, err)
	}
	r.logger.Info("resolved image pair",
		slog.String("step", "search"),
		slog.String("reference", pair.ReferenceID()),
		slog.String("secondary", pair.SecondaryID()),
		slog.Int("relative_orbit", pair.RelativeOrbit()),
	)
	return pair, nil
}

type groupKey struct {
	family string
	orbit  int
}

type candidate struct {
	acq     insar.Acquisition
	overlap float64
}

// byDate keeps, for each calendar day, the granule covering most of the AOI.
type byDate map[time.Time]candidate

func (g byDate) add(c candidate) {
	day := c.acq.Date()
	cur, ok := g[day]
	if !ok || c.overlap > cur.overlap || (c.overlap == cur.overlap && c.acq.ID < cur.acq.ID) {
		g[day] = c
	}
}

func (g byDate) days() []time.Time {
	days := make([]time.Time, 0, len(g))
	for d := range g {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days
}

func (r *Resolver) candidates(ctx context.Context, q Query) ([]candidate, error) {
	acqs, err := r.archive.Search(ctx, q)
	if err != nil {
		return nil, err
	}
	var out []candidate
	for _, acq := range acqs {
		if !insar.SameFamily(acq.Platform, insar.PlatformFamily) {
			continue
		}
		if q.Platform != insar.PlatformFamily && acq.Platform != q.Platform {
			continue
		}
		if q.RelativeOrbit != nil && acq.RelativeOrbit != *q.RelativeOrbit {
			continue
		}
		overlap := q.AOI.Overlap(acq.Footprint)
		if overlap <= 0 {
			continue
		}
		out = append(out, candidate{acq: acq, overlap: overlap})
	}
	r.logger.Debug("archive candidates",
		slog.String("step", "search"),
		slog.Time("start", q.Start),
		slog.Time("end", q.End),
		slog.Int("returned", len(acqs)),
		slog.Int("usable", len(out)),
	)
	return out, nil
}

func (r *Resolver) resolveEvent(ctx context.Context, platform string, aoi insar.AreaOfInterest, event time.Time, orbit *int) (insar.ImagePair, error) {
	event = insar.Day(event)
	q := Query{
		Platform:      platform,
		AOI:           aoi,
		Start:         event.Add(-insar.EventWindow),
		End:           event.Add(insar.EventWindow + endOfDay),
		RelativeOrbit: orbit,
	}
	cands, err := r.candidates(ctx, q)
	if err != nil {
		return insar.ImagePair{}, err
	}

	groups := map[groupKey]byDate{}
	for _, c := range cands {
		k := groupKey{family: insar.PlatformFamily, orbit: c.acq.RelativeOrbit}
		if groups[k] == nil {
			groups[k] = byDate{}
		}
		groups[k].add(c)
	}

	type scored struct {
		ref, sec candidate
		orbit    int
	}
	var best *scored
	better := func(a, b scored) bool {
		sa, sb := a.ref.overlap+a.sec.overlap, b.ref.overlap+b.sec.overlap
		if sa != sb {
			return sa > sb
		}
		ga, gb := a.sec.acq.Date().Sub(a.ref.acq.Date()), b.sec.acq.Date().Sub(b.ref.acq.Date())
		if ga != gb {
			return ga < gb
		}
		return a.orbit < b.orbit
	}

	for k, g := range groups {
		var ref, sec *candidate
		for _, day := range g.days() {
			c := g[day]
			switch {
			case day.Before(event):
				ref = &c
			case sec == nil:
				sec = &c
			}
		}
		if ref == nil || sec == nil {
			continue
		}
		s := scored{ref: *ref, sec: *sec, orbit: k.orbit}
		if best == nil || better(s, *best) {
			best = &s
		}
	}

	if best == nil {
		return insar.ImagePair{}, insar.E(insar.KindSearch, "search",
			fmt.Errorf("%w: no orbit has acquisitions on both sides of %s within %d days",
				insar.ErrNoMatch, event.Format(insar.DateLayout), int(insar.EventWindow.Hours()/24)))
	}
	return insar.ImagePair{Reference: best.ref.acq, Secondary: best.sec.acq}, nil
}

func (r *Resolver) resolvePair(ctx context.Context, platform string, aoi insar.AreaOfInterest, refDate, secDate time.Time, orbit *int) (insar.ImagePair, error) {
	const op = "search"
	refDate, secDate = insar.Day(refDate), insar.Day(secDate)
	if !refDate.Before(secDate) {
		return insar.ImagePair{}, insar.E(insar.KindSearch, op,
			fmt.Errorf("%w: %s >= %s", insar.ErrInvalidPair, refDate.Format(insar.DateLayout), secDate.Format(insar.DateLayout)))
	}

	perDate := make([][]candidate, 2)
	for i, day := range []time.Time{refDate, secDate} {
		cands, err := r.candidates(ctx, Query{
			Platform:      platform,
			AOI:           aoi,
			Start:         day,
			End:           day.Add(endOfDay),
			RelativeOrbit: orbit,
		})
		if err != nil {
			return insar.ImagePair{}, err
		}
		if len(cands) == 0 {
			return insar.ImagePair{}, insar.E(insar.KindSearch, op,
				fmt.Errorf("%w: no acquisition on %s", insar.ErrNoMatch, day.Format(insar.DateLayout)))
		}
		perDate[i] = cands
	}

	counts := map[int]int{}
	for _, cands := range perDate {
		for _, c := range cands {
			counts[c.acq.RelativeOrbit]++
		}
	}
	if orbit == nil && len(counts) > 1 {
		orbits := make([]int, 0, len(counts))
		for o := range counts {
			orbits = append(orbits, o)
		}
		sort.Ints(orbits)
		parts := make([]string, len(orbits))
		for i, o := range orbits {
			parts[i] = fmt.Sprintf("%d (%d scenes)", o, counts[o])
		}
		return insar.ImagePair{}, insar.E(insar.KindSearch, op,
			fmt.Errorf("%w: found orbits %s; pass a relative orbit", insar.ErrAmbiguousOrbit, strings.Join(parts, ", ")))
	}

	pick := func(cands []candidate) candidate {
		g := byDate{}
		for _, c := range cands {
			g.add(c)
		}
		return g[g.days()[0]]
	}
	return insar.ImagePair{Reference: pick(perDate[0]).acq, Secondary: pick(perDate[1]).acq}, nil
}
