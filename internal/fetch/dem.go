package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"github.com/robert-malhotra/asf-insar/internal/engine"
	"github.com/robert-malhotra/asf-insar/internal/insar"
	"github.com/robert-malhotra/asf-insar/internal/raster"
	"github.com/robert-malhotra/asf-insar/internal/verify"
)

// Tile is one 1x1 degree SRTMGL1 tile identified by its south-west corner.
type Tile struct {
	Lat, Lon int
	Required bool
}

// Name returns the published file name, e.g. N13E040.SRTMGL1.hgt.zip.
func (t Tile) Name() string {
	ns, ew := 'N', 'E'
	if t.Lat < 0 {
		ns = 'S'
	}
	if t.Lon < 0 {
		ew = 'W'
	}
	return fmt.Sprintf("%c%02d%c%03d.SRTMGL1.hgt.zip", ns, abs(t.Lat), ew, abs(t.Lon))
}

// Bound is the tile extent.
func (t Tile) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{float64(t.Lon), float64(t.Lat)},
		Max: orb.Point{float64(t.Lon + 1), float64(t.Lat + 1)},
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// TilePlan is the set of tiles of the DEM step and their integer extent.
type TilePlan struct {
	Tiles                    []Tile
	South, North, West, East int // tile rows [South, North), columns [West, East)
}

// PlanTiles covers the area of interest padded by margin degrees together
// with the scene footprints. Tiles overlapping the area of interest itself
// are required; the rest may be missing from the server (open water).
func PlanTiles(aoi insar.AreaOfInterest, margin float64, footprints ...orb.Polygon) TilePlan {
	core := aoi.Bound()
	ext := core.Pad(margin)
	for _, fp := range footprints {
		if len(fp) > 0 {
			ext = ext.Union(fp.Bound())
		}
	}

	plan := TilePlan{
		South: int(math.Floor(ext.Min[1])),
		North: int(math.Floor(ext.Max[1])) + 1,
		West:  int(math.Floor(ext.Min[0])),
		East:  int(math.Floor(ext.Max[0])) + 1,
	}
	for lat := plan.South; lat < plan.North; lat++ {
		for lon := plan.West; lon < plan.East; lon++ {
			t := Tile{Lat: lat, Lon: lon}
			b := t.Bound()
			t.Required = b.Min[0] < core.Max[0] && b.Max[0] > core.Min[0] &&
				b.Min[1] < core.Max[1] && b.Max[1] > core.Min[1]
			plan.Tiles = append(plan.Tiles, t)
		}
	}
	return plan
}

// Entries turns the plan into manifest entries under dir.
func (p TilePlan) Entries(baseURL, dir string) []insar.ManifestEntry {
	out := make([]insar.ManifestEntry, 0, len(p.Tiles))
	for _, t := range p.Tiles {
		name := t.Name()
		out = append(out, insar.ManifestEntry{
			Kind:         insar.ArtifactDemTile,
			RemoteURL:    strings.TrimRight(baseURL, "/") + "/" + name,
			LocalPath:    filepath.Join(dir, name),
			ExpectedName: name,
			Required:     t.Required,
			Status:       insar.StatusPending,
		})
	}
	return out
}

// CheckCoverage fails with ErrCoverageGap when a required tile did not
// verify. It must run only after every tile download has finished.
func CheckCoverage(entries []insar.ManifestEntry) error {
	var gaps []string
	for _, e := range entries {
		if e.Kind == insar.ArtifactDemTile && e.Required && e.Status != insar.StatusVerified {
			gaps = append(gaps, fmt.Sprintf("%s (%s)", filepath.Base(e.LocalPath), e.Status))
		}
	}
	if len(gaps) > 0 {
		return insar.E(insar.KindFetch, "dem", fmt.Errorf("%w: %s", insar.ErrCoverageGap, strings.Join(gaps, ", ")))
	}
	return nil
}

// StitcherConfig configures DEM stitching.
type StitcherConfig struct {
	Command string
	Timeout time.Duration
	LogPath string
}

// Stitcher merges downloaded tiles into one raster with dem.py.
type Stitcher struct {
	runner engine.Runner
	cfg    StitcherConfig
	logger *slog.Logger
}

// NewStitcher creates a stitcher running through runner.
func NewStitcher(runner engine.Runner, cfg StitcherConfig, logger *slog.Logger) *Stitcher {
	return &Stitcher{runner: runner, cfg: cfg, logger: logger}
}

// Stitch runs dem.py in dir over the plan extent and checks the result
// covers the area of interest with square pixels.
func (s *Stitcher) Stitch(ctx context.Context, dir string, plan TilePlan, aoi insar.AreaOfInterest) (insar.DemRaster, error) {
	const op = "dem"
	cmd := engine.StitchCommand(s.cfg.Command, dir, plan.South, plan.North, plan.West, plan.East, s.cfg.Timeout, s.cfg.LogPath)
	if _, err := s.runner.Run(ctx, cmd); err != nil {
		return insar.DemRaster{}, insar.E(insar.KindFetch, op, err)
	}

	path, err := stitchedRaster(dir, plan)
	if err != nil {
		return insar.DemRaster{}, insar.E(insar.KindFetch, op, err)
	}
	if err := verify.Dir(dir, filepath.Base(path), filepath.Base(path)+".xml"); err != nil {
		return insar.DemRaster{}, insar.E(insar.KindFetch, op, err)
	}
	h, err := raster.ReadHeader(path)
	if err != nil {
		return insar.DemRaster{}, insar.E(insar.KindFetch, op, err)
	}
	if !h.SquarePixels(1e-9) {
		return insar.DemRaster{}, insar.Errorf(insar.KindFetch, op, "%s has inconsistent spacing %g x %g", filepath.Base(path), h.DLon, h.DLat)
	}
	if !h.Covers(aoi.Bound()) {
		return insar.DemRaster{}, insar.E(insar.KindFetch, op, fmt.Errorf("%w: %s does not cover the area of interest", insar.ErrCoverageGap, filepath.Base(path)))
	}

	s.logger.Info("stitched DEM",
		slog.String("step", "dem"),
		slog.String("path", path),
		slog.Int("width", h.Width),
		slog.Int("length", h.Length),
	)
	return insar.DemRaster{
		Path:       path,
		HeaderPath: path + ".xml",
		Bound:      h.Bound(),
		DeltaLon:   h.DLon,
		DeltaLat:   h.DLat,
		Width:      h.Width,
		Length:     h.Length,
	}, nil
}

// StitchedName is the file dem.py writes for the extent, e.g.
// demLat_N13_N15_Lon_E040_E042.dem.wgs84.
func StitchedName(plan TilePlan) string {
	lat := func(v int) string {
		if v < 0 {
			return fmt.Sprintf("S%02d", -v)
		}
		return fmt.Sprintf("N%02d", v)
	}
	lon := func(v int) string {
		if v < 0 {
			return fmt.Sprintf("W%03d", -v)
		}
		return fmt.Sprintf("E%03d", v)
	}
	return fmt.Sprintf("demLat_%s_%s_Lon_%s_%s.dem.wgs84", lat(plan.South), lat(plan.North), lon(plan.West), lon(plan.East))
}

// stitchedRaster locates the dem.py output, falling back to the newest
// *.dem.wgs84 when the expected name is absent.
func stitchedRaster(dir string, plan TilePlan) (string, error) {
	want := filepath.Join(dir, StitchedName(plan))
	if _, err := os.Stat(want); err == nil {
		return want, nil
	}
	matches, err := filepath.Glob(filepath.Join(dir, "*.dem.wgs84"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no stitched DEM in %s", dir)
	}
	sort.Slice(matches, func(i, j int) bool {
		fi, _ := os.Stat(matches[i])
		fj, _ := os.Stat(matches[j])
		if fi == nil || fj == nil {
			return matches[i] < matches[j]
		}
		return fi.ModTime().After(fj.ModTime())
	})
	return matches[0], nil
}
