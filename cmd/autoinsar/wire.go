package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/robert-malhotra/asf-insar/internal/asf"
	"github.com/robert-malhotra/asf-insar/internal/cleanup"
	"github.com/robert-malhotra/asf-insar/internal/cmr"
	"github.com/robert-malhotra/asf-insar/internal/config"
	"github.com/robert-malhotra/asf-insar/internal/engine"
	"github.com/robert-malhotra/asf-insar/internal/fetch"
	"github.com/robert-malhotra/asf-insar/internal/isce"
	"github.com/robert-malhotra/asf-insar/internal/pipeline"
	"github.com/robert-malhotra/asf-insar/internal/postproc"
	"github.com/robert-malhotra/asf-insar/internal/search"
	"github.com/robert-malhotra/asf-insar/internal/workspace"
)

// buildStages wires every stage from the deployment configuration.
func buildStages(ctx context.Context, cfg *config.Config, layout workspace.Layout, logger *slog.Logger) (pipeline.Stages, error) {
	var archive interface {
		search.Archive
		fetch.Locator
	}
	switch cfg.Search.Archive {
	case "cmr":
		client := cmr.NewClient(cfg.CMR.BaseURL, cfg.CMR.Provider, cfg.CMR.Timeout).WithLogger(logger)
		archive = search.NewCMRArchive(client, logger)
		logger.Info("using CMR archive", "base_url", cfg.CMR.BaseURL, "provider", cfg.CMR.Provider)
	default:
		client := asf.NewClient(cfg.ASF.BaseURL, cfg.ASF.Timeout).WithLogger(logger)
		archive = search.NewASFArchive(client, logger)
		logger.Info("using ASF archive", "base_url", cfg.ASF.BaseURL)
	}
	resolver := search.NewResolver(archive, logger)

	if !cfg.Earthdata.HasCredentials() {
		logger.Warn("no Earthdata credentials configured; SLC downloads will fail",
			slog.String("hint", "set EARTHDATA_USERNAME and EARTHDATA_PASSWORD"),
		)
	}
	downloader := fetch.NewDownloader(fetch.DownloaderConfig{
		MaxAttempts: cfg.Download.MaxAttempts,
		Backoff:     cfg.Download.Backoff,
		Timeout:     cfg.Download.Timeout,
		Credentials: fetch.Credentials{
			Username: cfg.Earthdata.Username,
			Password: cfg.Earthdata.Password,
			AuthHost: cfg.Earthdata.AuthHost,
		},
	}, logger)

	var orbits fetch.OrbitSource
	switch cfg.Orbit.Source {
	case "s3":
		src, err := fetch.NewS3OrbitSource(ctx, cfg.Orbit.S3Bucket, cfg.Orbit.S3Region, logger)
		if err != nil {
			return pipeline.Stages{}, fmt.Errorf("failed to create S3 orbit source: %w", err)
		}
		orbits = src
		logger.Info("using S3 orbit source", "bucket", cfg.Orbit.S3Bucket, "region", cfg.Orbit.S3Region)
	default:
		orbits = fetch.NewIndexOrbitSource(cfg.Orbit.PrecisionURL, cfg.Orbit.RestitutedURL, cfg.ASF.Timeout, logger)
		logger.Info("using ASF orbit index", "precision_url", cfg.Orbit.PrecisionURL)
	}

	runner := engine.NewExec(cfg.Engine.TailLines, logger)
	stitcher := fetch.NewStitcher(runner, fetch.StitcherConfig{
		Command: cfg.DEM.StitchCommand,
		Timeout: cfg.DEM.StitchTimeout,
		LogPath: filepath.Join(layout.DEM(), "dem.log"),
	}, logger)
	stage := fetch.NewStage(downloader, orbits, stitcher, fetch.StageConfig{
		Dirs:       fetch.Dirs{SLC: layout.SLC(), Orbits: layout.Orbits(), DEM: layout.DEM()},
		DEMBaseURL: cfg.DEM.BaseURL,
		DEMMargin:  cfg.DEM.Margin,
	}, logger).WithLocator(archive)

	generator := isce.NewGenerator(layout.Process(), isce.Params{
		Swaths:         cfg.Engine.Swaths,
		RangeLooks:     cfg.Engine.RangeLooks,
		AzimuthLooks:   cfg.Engine.AzimuthLooks,
		FilterStrength: cfg.Engine.FilterStrength,
		Unwrapper:      cfg.Engine.Unwrapper,
		Polarization:   cfg.Engine.Polarization,
		UseGPU:         cfg.Engine.UseGPU,
	})
	tops := engine.NewTopsApp(runner, engine.TopsAppConfig{
		Command: cfg.Engine.Command,
		EndStep: cfg.Engine.EndStep,
		Timeout: cfg.Engine.Timeout,
		LogPath: layout.EngineLog(),
	}, logger)

	post := postproc.NewProcessor(layout, postproc.Config{
		CoherenceThreshold: cfg.Post.CoherenceThreshold,
		RenderPlots:        cfg.Post.RenderPlots,
	}, postproc.NewHeatMapRenderer(), logger)

	return pipeline.Stages{
		Resolver: resolver,
		Fetcher:  stage,
		Config:   generator,
		Engine:   tops,
		Post:     post,
		Cleaner:  cleanup.NewManager(layout, logger),
	}, nil
}
