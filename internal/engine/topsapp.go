package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/robert-malhotra/asf-insar/internal/insar"
	"github.com/robert-malhotra/asf-insar/internal/verify"
)

// Merged products the post-processor cannot do without.
const (
	UnwrappedPhase = "filt_topophase.unw.geo"
	Coherence      = "phsig.cor.geo"
	LOSGeometry    = "los.rdr.geo"
	DenseOffsets   = "filt_dense_offsets.bil.geo"
	OffsetSNR      = "dense_offsets_snr.bil.geo"
)

// RequiredOutputs must exist, with their headers, after a successful run.
var RequiredOutputs = []string{UnwrappedPhase, Coherence, LOSGeometry}

// OptionalOutputs are recorded when present.
var OptionalOutputs = []string{DenseOffsets, OffsetSNR}

// TopsAppConfig configures the topsApp invocation.
type TopsAppConfig struct {
	Command string
	EndStep string
	Timeout time.Duration
	LogPath string
}

// TopsApp runs topsApp.py over a generated configuration.
type TopsApp struct {
	runner Runner
	cfg    TopsAppConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewTopsApp creates the processing engine adapter.
func NewTopsApp(runner Runner, cfg TopsAppConfig, logger *slog.Logger) *TopsApp {
	return &TopsApp{runner: runner, cfg: cfg, logger: logger, now: time.Now}
}

// Run executes the workflow in the configuration directory and verifies the
// merged outputs. Outputs not written during this invocation are rejected.
// There is no automatic retry.
func (t *TopsApp) Run(ctx context.Context, pc insar.ProcessingConfig) (insar.EngineOutputs, error) {
	const op = "isce"
	start := t.now()
	cmd := Command{
		Name: t.cfg.Command,
		Args: []string{
			filepath.Base(pc.WorkflowPath),
			"--steps",
			"--start=startup",
			"--end=" + t.cfg.EndStep,
		},
		Dir:     pc.Dir,
		LogPath: t.cfg.LogPath,
		Timeout: t.cfg.Timeout,
	}

	res, err := t.runner.Run(ctx, cmd)
	if err != nil {
		return insar.EngineOutputs{}, insar.E(insar.KindEngine, op, err)
	}

	merged := filepath.Join(pc.Dir, "merged")
	required := make([]string, 0, 2*len(RequiredOutputs))
	for _, name := range RequiredOutputs {
		required = append(required, name, name+".xml")
	}
	err = verify.Dir(merged, required...)
	if err == nil {
		err = verify.Fresh(merged, start, required...)
	}
	if err != nil {
		t.logger.Error("processing engine exited without usable output",
			slog.String("step", "isce"),
			slog.String("merged", merged),
			slog.String("error", err.Error()),
		)
		return insar.EngineOutputs{}, insar.E(insar.KindEngine, op, &Failure{
			Err:  fmt.Errorf("%w: %w", insar.ErrNoEngineOutput, err),
			Tail: res.Tail,
		})
	}

	files := map[string]string{}
	for _, name := range append(append([]string{}, RequiredOutputs...), OptionalOutputs...) {
		if verify.Dir(merged, name, name+".xml") == nil && verify.Fresh(merged, start, name, name+".xml") == nil {
			files[name] = filepath.Join(merged, name)
		}
	}
	t.logger.Info("processing engine finished",
		slog.String("step", "isce"),
		slog.Duration("duration", res.Duration),
		slog.Int("outputs", len(files)),
	)
	return insar.EngineOutputs{
		MergedDir: merged,
		Files:     files,
		LogPath:   t.cfg.LogPath,
		Duration:  res.Duration,
	}, nil
}

// StitchCommand builds the dem.py invocation covering integer tile bounds
// [south, north) x [west, east).
func StitchCommand(name, dir string, south, north, west, east int, timeout time.Duration, logPath string) Command {
	return Command{
		Name: name,
		Args: []string{
			"-a", "stitch",
			"-b", fmt.Sprint(south), fmt.Sprint(north), fmt.Sprint(west), fmt.Sprint(east),
			"-s", "1",
			"-r", "-c", "-l", "-f",
			"--filling_value", "0",
		},
		Dir:     dir,
		LogPath: logPath,
		Timeout: timeout,
	}
}
