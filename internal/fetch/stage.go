package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/robert-malhotra/asf-insar/internal/insar"
)

// SLCEntries plans the two archive downloads of a pair into dir.
func SLCEntries(pair insar.ImagePair, dir string) []insar.ManifestEntry {
	out := make([]insar.ManifestEntry, 0, 2)
	for _, img := range pair.Images() {
		out = append(out, slcEntry(img, dir))
	}
	return out
}

func slcEntry(img insar.Acquisition, dir string) insar.ManifestEntry {
	name := img.FileName
	if name == "" {
		name = img.ID
	}
	if !strings.HasSuffix(name, ".zip") {
		name += ".zip"
	}
	return insar.ManifestEntry{
		Kind:         insar.ArtifactSLC,
		RemoteURL:    img.URL,
		LocalPath:    filepath.Join(dir, name),
		ExpectedName: name,
		ExpectedSize: img.Bytes,
		ExpectedMD5:  img.MD5,
		Required:     true,
		Status:       insar.StatusPending,
	}
}

// OrbitEntries plans the download of each selected orbit file.
func OrbitEntries(selections []insar.OrbitSelection) []insar.ManifestEntry {
	out := make([]insar.ManifestEntry, 0, len(selections))
	for _, s := range selections {
		out = append(out, insar.ManifestEntry{
			Kind:         insar.ArtifactOrbit,
			RemoteURL:    s.URL,
			LocalPath:    s.LocalPath,
			ExpectedName: s.File,
			Required:     true,
			Status:       insar.StatusPending,
		})
	}
	return out
}

// Plan assembles the full manifest of the fetch stage: two SLC entries, one
// orbit entry per image and the DEM tiles.
func Plan(pair insar.ImagePair, slcDir string, orbits []insar.OrbitSelection, tiles []insar.ManifestEntry) insar.DownloadManifest {
	var m insar.DownloadManifest
	m.Entries = append(m.Entries, SLCEntries(pair, slcDir)...)
	m.Entries = append(m.Entries, OrbitEntries(orbits)...)
	m.Entries = append(m.Entries, tiles...)
	return m
}

// Dirs are the staging directories of the fetch stage.
type Dirs struct {
	SLC    string
	Orbits string
	DEM    string
}

// StageConfig configures a Stage.
type StageConfig struct {
	Dirs       Dirs
	DEMBaseURL string
	DEMMargin  float64
}

// Locator looks up the current archive record of a scene by name.
type Locator interface {
	Locate(ctx context.Context, sceneID string) (insar.Acquisition, error)
}

// Stage runs the download, orbit and dem steps. It never touches run state;
// it returns what it produced and the orchestrator records it.
type Stage struct {
	downloader *Downloader
	source     OrbitSource
	stitcher   *Stitcher
	locator    Locator
	cfg        StageConfig
	logger     *slog.Logger
}

// NewStage wires the fetch collaborators.
func NewStage(d *Downloader, source OrbitSource, stitcher *Stitcher, cfg StageConfig, logger *slog.Logger) *Stage {
	return &Stage{downloader: d, source: source, stitcher: stitcher, cfg: cfg, logger: logger}
}

// WithLocator lets the download step look a scene up again when its stored
// URL is missing or no longer served.
func (s *Stage) WithLocator(l Locator) *Stage {
	s.locator = l
	return s
}

// Plan is the manifest of record for pair before anything is fetched: both
// SLC archives, the selected orbit files and the DEM tiles of the AOI.
func (s *Stage) Plan(pair insar.ImagePair, aoi insar.AreaOfInterest, orbits []insar.OrbitSelection) insar.DownloadManifest {
	tiles := PlanTiles(aoi, s.cfg.DEMMargin, pair.Reference.Footprint, pair.Secondary.Footprint)
	return Plan(pair, s.cfg.Dirs.SLC, orbits, tiles.Entries(s.cfg.DEMBaseURL, s.cfg.Dirs.DEM))
}

// SLCResult is the outcome of the download step.
type SLCResult struct {
	Pair    insar.ImagePair // with download locations refreshed from the archive
	Entries []insar.ManifestEntry
	Paths   []string // reference, secondary
}

// DownloadSLC fetches both archives. Either one failing fails the step. A
// scene without a URL, or whose URL answers 404, is looked up again by name
// once when a Locator is set.
func (s *Stage) DownloadSLC(ctx context.Context, pair insar.ImagePair) (SLCResult, error) {
	res := SLCResult{Pair: pair}
	for _, img := range []*insar.Acquisition{&res.Pair.Reference, &res.Pair.Secondary} {
		relocated := false
		if img.URL == "" {
			if err := s.relocate(ctx, img); err != nil {
				return res, stepError("download", err)
			}
			relocated = true
		}
		entry := slcEntry(*img, s.cfg.Dirs.SLC)
		err := s.downloader.Fetch(ctx, &entry)
		if errors.Is(err, insar.ErrNotFound) && s.locator != nil && !relocated {
			s.logger.Warn("archive no longer serves scene, looking it up again",
				slog.String("step", "download"),
				slog.String("scene", img.ID),
				slog.String("url", img.URL),
			)
			if lerr := s.relocate(ctx, img); lerr != nil {
				res.Entries = append(res.Entries, entry)
				return res, stepError("download", errors.Join(err, lerr))
			}
			entry = slcEntry(*img, s.cfg.Dirs.SLC)
			err = s.downloader.Fetch(ctx, &entry)
		}
		res.Entries = append(res.Entries, entry)
		if err != nil {
			return res, stepError("download", err)
		}
		res.Paths = append(res.Paths, entry.LocalPath)
	}
	s.downloader.LogStats("download")
	return res, nil
}

// relocate refreshes the download location, size and checksum of img.
func (s *Stage) relocate(ctx context.Context, img *insar.Acquisition) error {
	if s.locator == nil {
		return insar.Errorf(insar.KindFetch, "download", "scene %s has no download URL", img.ID)
	}
	found, err := s.locator.Locate(ctx, img.ID)
	if err != nil {
		return err
	}
	if found.URL == "" {
		return insar.Errorf(insar.KindFetch, "download", "archive lists scene %s without a download URL", img.ID)
	}
	s.logger.Info("refreshed scene location",
		slog.String("step", "download"),
		slog.String("scene", img.ID),
		slog.String("url", found.URL),
	)
	img.URL = found.URL
	if found.FileName != "" {
		img.FileName = found.FileName
	}
	img.Bytes = found.Bytes
	img.MD5 = found.MD5
	return nil
}

// OrbitResult is the outcome of the orbit step.
type OrbitResult struct {
	Selections []insar.OrbitSelection
	Entries    []insar.ManifestEntry
}

// FetchOrbits selects and downloads one orbit file per image. A missing
// orbit for either image is a hard stop.
func (s *Stage) FetchOrbits(ctx context.Context, pair insar.ImagePair) (OrbitResult, error) {
	resolver := NewOrbitResolver(s.source, s.cfg.Dirs.Orbits, s.logger)
	var res OrbitResult
	for _, img := range pair.Images() {
		sel, err := resolver.Select(ctx, img)
		res.Selections = append(res.Selections, sel)
		if err != nil {
			return res, err
		}
	}
	res.Entries = OrbitEntries(res.Selections)
	for i := range res.Entries {
		if err := s.downloader.Fetch(ctx, &res.Entries[i]); err != nil {
			return res, stepError("orbit", err)
		}
	}
	s.downloader.LogStats("orbit")
	return res, nil
}

// DEMResult is the outcome of the dem step.
type DEMResult struct {
	Raster  insar.DemRaster
	Entries []insar.ManifestEntry
}

// PrepareDEM downloads every planned tile, then checks coverage and stitches.
// Optional tiles may fail; required ones may not.
func (s *Stage) PrepareDEM(ctx context.Context, pair insar.ImagePair, aoi insar.AreaOfInterest) (DEMResult, error) {
	plan := PlanTiles(aoi, s.cfg.DEMMargin, pair.Reference.Footprint, pair.Secondary.Footprint)
	res := DEMResult{Entries: plan.Entries(s.cfg.DEMBaseURL, s.cfg.Dirs.DEM)}
	s.logger.Info("planned DEM tiles",
		slog.String("step", "dem"),
		slog.Int("tiles", len(res.Entries)),
		slog.String("extent", fmt.Sprintf("lat [%d, %d) lon [%d, %d)", plan.South, plan.North, plan.West, plan.East)),
	)

	for i := range res.Entries {
		e := &res.Entries[i]
		err := s.downloader.Fetch(ctx, e)
		switch {
		case err == nil:
		case ctx.Err() != nil, insar.IsKind(err, insar.KindAuth):
			return res, stepError("dem", err)
		case errors.Is(err, insar.ErrNotFound) && !e.Required:
			s.logger.Info("tile not published", slog.String("step", "dem"), slog.String("tile", e.ExpectedName))
		default:
			s.logger.Warn("tile download failed",
				slog.String("step", "dem"),
				slog.String("tile", e.ExpectedName),
				slog.Bool("required", e.Required),
				slog.String("error", err.Error()),
			)
		}
	}
	s.downloader.LogStats("dem")

	if err := CheckCoverage(res.Entries); err != nil {
		return res, err
	}
	dem, err := s.stitcher.Stitch(ctx, s.cfg.Dirs.DEM, plan, aoi)
	if err != nil {
		return res, err
	}
	res.Raster = dem
	return res, nil
}

// stepError escalates network and verification errors that exhausted their
// retries to fetch failures. Auth errors keep their kind.
func stepError(op string, err error) error {
	switch insar.KindOf(err) {
	case insar.KindAuth, insar.KindFetch:
		return err
	}
	return insar.E(insar.KindFetch, op, err)
}
