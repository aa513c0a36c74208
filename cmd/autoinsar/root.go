package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/robert-malhotra/asf-insar/internal/cleanup"
	"github.com/robert-malhotra/asf-insar/internal/config"
	"github.com/robert-malhotra/asf-insar/internal/insar"
	"github.com/robert-malhotra/asf-insar/internal/pipeline"
	"github.com/robert-malhotra/asf-insar/internal/state"
	"github.com/robert-malhotra/asf-insar/internal/workspace"
)

const stepStatus = "status"

type options struct {
	lon, lat   float64
	eventDate  string
	refDate    string
	secDate    string
	platform   string
	relOrbit   int
	buffer     float64
	step       string
	workDir    string
	keepSLC    bool
	keepOrbits bool
	keepDEM    bool
	keepMerged bool
}

// requestFlags carry the run request; any of them being set makes the
// command line the source of the request.
var requestFlags = []string{"lon", "lat", "event-date", "ref-date", "sec-date", "platform", "rel-orbit", "dlonlat"}

// flagAliases accept the underscore spellings of older scripts.
var flagAliases = map[string]string{
	"event_date":     "event-date",
	"reference_date": "ref-date",
	"reference-date": "ref-date",
	"secondary_date": "sec-date",
	"secondary-date": "sec-date",
	"rel_orbit":      "rel-orbit",
	"work_dir":       "work-dir",
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "autoinsar",
		Short: "Sentinel-1 InSAR pipeline",
		Long: `autoinsar finds a Sentinel-1 image pair around a point, stages the images,
orbits and DEM, runs topsApp and extracts displacement products.

Steps run in order: search, download, orbit, dem, xml, isce, post.
"all" resumes from the first unfinished step; "cleanup" removes staging
files and "status" prints the state of the work directory.

Examples:
  autoinsar --lon 40.7 --lat 13.6 --event-date 20251117 --platform S1A
  autoinsar --lon 40.7 --lat 13.6 --ref-date 20251110 --sec-date 20251122 --rel-orbit 14
  autoinsar --step post --work-dir runs/afar
  autoinsar --step cleanup --keep-dem`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().NFlag() == 0 {
				return cmd.Help()
			}
			return execute(cmd, opts, out)
		},
	}
	cmd.SetOut(out)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return insar.E(insar.KindUsage, "flags", err)
	})

	opts.bind(cmd.Flags())
	return cmd
}

func (o *options) bind(f *pflag.FlagSet) {
	f.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		if alias, ok := flagAliases[name]; ok {
			name = alias
		}
		return pflag.NormalizedName(name)
	})
	f.Float64Var(&o.lon, "lon", 0, "event centre longitude")
	f.Float64Var(&o.lat, "lat", 0, "event centre latitude")
	f.StringVar(&o.eventDate, "event-date", "", "event date (YYYYMMDD); searches ±12 days")
	f.StringVar(&o.refDate, "ref-date", "", "reference date (YYYYMMDD)")
	f.StringVar(&o.secDate, "sec-date", "", "secondary date (YYYYMMDD)")
	f.StringVar(&o.platform, "platform", insar.PlatformFamily, "Sentinel-1, Sentinel-1A/B/C or S1, S1A/B/C")
	f.IntVar(&o.relOrbit, "rel-orbit", 0, "relative orbit filter")
	f.Float64Var(&o.buffer, "dlonlat", insar.DefaultBuffer, "search buffer in degrees")
	f.StringVar(&o.step, "step", pipeline.All, "search, download, orbit, dem, xml, isce, post, all, cleanup or status")
	f.StringVar(&o.workDir, "work-dir", "", "work directory (default $WORK_DIR or .)")
	f.BoolVar(&o.keepSLC, "keep-slc", false, "cleanup keeps the SLC archives")
	f.BoolVar(&o.keepOrbits, "keep-orbits", false, "cleanup keeps the orbit files")
	f.BoolVar(&o.keepDEM, "keep-dem", false, "cleanup keeps the DEM tiles and stitched DEM")
	f.BoolVar(&o.keepMerged, "keep-merged", true, "cleanup keeps process/merged")
}

// request builds the run request from the flags, or returns nil when no
// request flag was given.
func (o *options) request(flags *pflag.FlagSet) *insar.Request {
	set := false
	for _, name := range requestFlags {
		if flags.Changed(name) {
			set = true
			break
		}
	}
	if !set {
		return nil
	}
	req := &insar.Request{
		Lon:           o.lon,
		Lat:           o.lat,
		Buffer:        o.buffer,
		EventDate:     o.eventDate,
		ReferenceDate: o.refDate,
		SecondaryDate: o.secDate,
		Platform:      o.platform,
	}
	if flags.Changed("rel-orbit") {
		orbit := o.relOrbit
		req.RelativeOrbit = &orbit
	}
	return req
}

func (o *options) policy() cleanup.Policy {
	return cleanup.Policy{
		KeepSLC:      o.keepSLC,
		KeepOrbits:   o.keepOrbits,
		KeepDEM:      o.keepDEM,
		RemoveMerged: !o.keepMerged,
	}
}

func checkStep(step string) error {
	switch strings.ToLower(step) {
	case pipeline.All, stepStatus:
		return nil
	}
	if _, err := state.ParseStep(step); err != nil {
		return insar.E(insar.KindUsage, "flags", err)
	}
	return nil
}

func execute(cmd *cobra.Command, opts *options, out io.Writer) error {
	step := strings.ToLower(opts.step)
	if err := checkStep(step); err != nil {
		return err
	}
	req := opts.request(cmd.Flags())
	if req != nil && (step == pipeline.All || step == string(state.StepSearch)) {
		// Usage errors surface before configuration or network access.
		if err := req.Validate(); err != nil {
			return err
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := setupLogger(cfg.Logging.Level, cfg.Logging.Format)

	dir := cfg.WorkDir
	if opts.workDir != "" {
		dir = opts.workDir
	}
	layout, err := workspace.New(dir)
	if err != nil {
		return insar.E(insar.KindUsage, "work dir", err)
	}

	store, err := state.Open(layout, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("failed to release work directory lock", slog.String("error", err.Error()))
		}
	}()

	if step == stepStatus {
		p := pipeline.New(layout, store, pipeline.Stages{}, opts.policy(), logger)
		summary, err := p.Status()
		if err != nil {
			return err
		}
		fmt.Fprint(out, summary)
		return nil
	}

	ctx := cmd.Context()
	stages, err := buildStages(ctx, cfg, layout, logger)
	if err != nil {
		return err
	}
	logger.Info("starting autoinsar",
		slog.String("step", step),
		slog.String("work_dir", layout.Root),
	)
	return pipeline.New(layout, store, stages, opts.policy(), logger).Run(ctx, step, req)
}
