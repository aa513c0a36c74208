// Package pipeline sequences the processing stages of a run, decides which
// steps to (re)run and records their outcome in the run state.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robert-malhotra/asf-insar/internal/catalog"
	"github.com/robert-malhotra/asf-insar/internal/cleanup"
	"github.com/robert-malhotra/asf-insar/internal/fetch"
	"github.com/robert-malhotra/asf-insar/internal/insar"
	"github.com/robert-malhotra/asf-insar/internal/isce"
	"github.com/robert-malhotra/asf-insar/internal/state"
	"github.com/robert-malhotra/asf-insar/internal/workspace"
)

// All selects every step from the first unfinished one through post.
const All = "all"

// Resolver finds the image pair of a request.
type Resolver interface {
	Resolve(ctx context.Context, req insar.Request) (insar.ImagePair, error)
}

// Fetcher stages the inputs of the processing engine.
type Fetcher interface {
	Plan(pair insar.ImagePair, aoi insar.AreaOfInterest, orbits []insar.OrbitSelection) insar.DownloadManifest
	DownloadSLC(ctx context.Context, pair insar.ImagePair) (fetch.SLCResult, error)
	FetchOrbits(ctx context.Context, pair insar.ImagePair) (fetch.OrbitResult, error)
	PrepareDEM(ctx context.Context, pair insar.ImagePair, aoi insar.AreaOfInterest) (fetch.DEMResult, error)
}

// Configurer renders the engine configuration.
type Configurer interface {
	Generate(in isce.Inputs) (insar.ProcessingConfig, error)
}

// Engine runs the processing engine over a configuration.
type Engine interface {
	Run(ctx context.Context, pc insar.ProcessingConfig) (insar.EngineOutputs, error)
}

// PostProcessor extracts the result products.
type PostProcessor interface {
	Process(ctx context.Context, eo insar.EngineOutputs, aoi insar.AreaOfInterest, orbit int) (insar.ResultSet, error)
}

// Cleaner removes staging files.
type Cleaner interface {
	Cleanup(rs *state.RunState, policy cleanup.Policy) cleanup.Report
}

// Stages are the collaborators a pipeline drives.
type Stages struct {
	Resolver Resolver
	Fetcher  Fetcher
	Config   Configurer
	Engine   Engine
	Post     PostProcessor
	Cleaner  Cleaner
}

// Pipeline runs steps against one locked work directory.
type Pipeline struct {
	layout workspace.Layout
	store  *state.Store
	stages Stages
	policy cleanup.Policy
	logger *slog.Logger
	now    func() time.Time
}

// New creates a pipeline. The store must hold the lock of layout's directory.
func New(layout workspace.Layout, store *state.Store, stages Stages, policy cleanup.Policy, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		layout: layout,
		store:  store,
		stages: stages,
		policy: policy,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Run executes target, either All or a single step name. req may be nil
// when a stored run is continued.
func (p *Pipeline) Run(ctx context.Context, target string, req *insar.Request) error {
	if target == "" {
		target = All
	}
	var step state.Step
	if target != All {
		s, err := state.ParseStep(target)
		if err != nil {
			return insar.E(insar.KindUsage, "run", err)
		}
		step = s
	}
	if req != nil && (target == All || step == state.StepSearch) {
		if err := req.Validate(); err != nil {
			return err
		}
	}

	rs, err := p.store.Load()
	if err != nil {
		return err
	}
	if err := p.layout.Ensure(); err != nil {
		return insar.E(insar.KindState, "run", err)
	}

	if target == All {
		return p.runAll(ctx, rs, req)
	}
	if step == state.StepSearch {
		rs, err = p.begin(rs, req)
		if err != nil {
			return err
		}
		return p.runStep(ctx, rs, step)
	}
	if err := precondition(rs, step); err != nil {
		return err
	}
	if req != nil && req.Fingerprint() != rs.Fingerprint {
		p.logger.Warn("ignoring request that differs from the stored run; run search or all to start over",
			slog.String("step", string(step)),
			slog.String("stored", rs.Fingerprint),
		)
	}
	return p.runStep(ctx, rs, step)
}

// begin returns the run state a search starts from: the stored run when the
// request is unchanged, a fresh one otherwise.
func (p *Pipeline) begin(rs *state.RunState, req *insar.Request) (*state.RunState, error) {
	switch {
	case req == nil && rs == nil:
		return nil, insar.E(insar.KindUsage, "run", insar.ErrMissingDates)
	case req == nil:
		if err := rs.Request.Validate(); err != nil {
			return nil, err
		}
		return rs, nil
	case rs == nil:
		rs = state.New(*req, p.now())
		p.logger.Info("starting new run", slog.String("run_id", rs.RunID), slog.String("request", rs.Fingerprint))
		return rs, nil
	case rs.Fingerprint != req.Fingerprint():
		p.logger.Info("request changed, starting over",
			slog.String("previous", rs.Fingerprint),
			slog.String("request", req.Fingerprint()),
		)
		return state.New(*req, p.now()), nil
	}
	return rs, nil
}

func (p *Pipeline) runAll(ctx context.Context, rs *state.RunState, req *insar.Request) error {
	rs, err := p.begin(rs, req)
	if err != nil {
		return err
	}
	chain := state.Steps[:len(state.Steps)-1]
	start := -1
	for i, step := range chain {
		if !rs.Done(step) {
			start = i
			break
		}
	}
	if start < 0 {
		p.logger.Info("run already complete", slog.String("state", string(rs.State())))
		return nil
	}
	if start > 0 {
		p.logger.Info("resuming run",
			slog.String("run_id", rs.RunID),
			slog.String("state", string(rs.State())),
			slog.String("from", string(chain[start])),
		)
	}
	for _, step := range chain[start:] {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.runStep(ctx, rs, step); err != nil {
			return err
		}
	}
	return nil
}

// precondition checks that the predecessor of step completed with fresh inputs.
func precondition(rs *state.RunState, step state.Step) error {
	prev, ok := step.Previous()
	if !ok {
		return nil
	}
	op := "step " + string(step)
	if rs == nil {
		return insar.Errorf(insar.KindPrecondition, op, "requires state %s, but the work directory has no run state", prev.Reaches())
	}
	st := rs.Status(prev)
	switch {
	case st.Completed && st.Stale:
		return insar.E(insar.KindPrecondition, op, fmt.Errorf("%w: %s must be re-run first", insar.ErrStaleInput, prev))
	case !st.Completed:
		return insar.Errorf(insar.KindPrecondition, op, "requires state %s, run is at %s", prev.Reaches(), rs.State())
	}
	return nil
}

// runStep executes one stage and records its outcome. The attempt is
// persisted before the stage runs; the stage's outputs are only recorded
// once it has returned successfully.
func (p *Pipeline) runStep(ctx context.Context, rs *state.RunState, step state.Step) error {
	log := p.logger.With(slog.String("step", string(step)), slog.String("run_id", rs.RunID))
	log.Info("step started")
	start := p.now()

	rs.Begin(step, start)
	if err := p.store.Save(rs); err != nil {
		return err
	}

	apply, err := p.execute(ctx, rs, step)
	if err != nil {
		rs.Fail(step, err, p.now())
		if saveErr := p.store.Save(rs); saveErr != nil {
			log.Error("failed to record step failure", slog.String("error", saveErr.Error()))
		}
		log.Error("step failed",
			slog.String("kind", insar.KindOf(err).String()),
			slog.String("error", err.Error()),
		)
		return err
	}

	apply(rs)
	rs.Complete(step, p.now())
	if err := p.store.Save(rs); err != nil {
		return err
	}
	log.Info("step completed",
		slog.String("state", string(rs.State())),
		slog.Duration("took", p.now().Sub(start)),
	)
	return nil
}

// execute runs the stage of step and returns the run-state update for its outputs.
func (p *Pipeline) execute(ctx context.Context, rs *state.RunState, step state.Step) (func(*state.RunState), error) {
	op := string(step)
	aoi := rs.Request.AreaOfInterest()
	var pair insar.ImagePair
	if step != state.StepSearch {
		if rs.Pair == nil {
			return nil, insar.Errorf(insar.KindPrecondition, op, "run state has no image pair")
		}
		pair = *rs.Pair
	}

	switch step {
	case state.StepSearch:
		found, err := p.stages.Resolver.Resolve(ctx, rs.Request)
		if err != nil {
			return nil, err
		}
		p.logger.Info("resolved pair", slog.String("pair", found.String()))
		return func(rs *state.RunState) { rs.Pair = &found }, nil

	case state.StepDownload:
		res, err := p.stages.Fetcher.DownloadSLC(ctx, pair)
		if err != nil {
			return nil, err
		}
		if res.Pair.ReferenceID() == pair.ReferenceID() && res.Pair.SecondaryID() == pair.SecondaryID() {
			pair = res.Pair
		}
		manifest := p.stages.Fetcher.Plan(pair, aoi, nil).Replace(insar.ArtifactSLC, res.Entries)
		return func(rs *state.RunState) {
			rs.Pair = &pair
			rs.Manifest = manifest
		}, nil

	case state.StepOrbit:
		res, err := p.stages.Fetcher.FetchOrbits(ctx, pair)
		if err != nil {
			return nil, err
		}
		return func(rs *state.RunState) {
			rs.Orbits = res.Selections
			rs.Manifest = rs.Manifest.Replace(insar.ArtifactOrbit, res.Entries)
		}, nil

	case state.StepDEM:
		res, err := p.stages.Fetcher.PrepareDEM(ctx, pair, aoi)
		if err != nil {
			return nil, err
		}
		return func(rs *state.RunState) {
			dem := res.Raster
			rs.DEM = &dem
			rs.Manifest = rs.Manifest.Replace(insar.ArtifactDemTile, res.Entries)
		}, nil

	case state.StepXML:
		if rs.DEM == nil {
			return nil, insar.Errorf(insar.KindPrecondition, op, "run state has no DEM")
		}
		var slcs []string
		for _, e := range rs.Manifest.Of(insar.ArtifactSLC) {
			slcs = append(slcs, e.LocalPath)
		}
		cfg, err := p.stages.Config.Generate(isce.Inputs{
			Pair:     pair,
			DEM:      *rs.DEM,
			SLCPaths: slcs,
			OrbitDir: p.layout.Orbits(),
			AOI:      aoi,
		})
		if err != nil {
			return nil, err
		}
		return func(rs *state.RunState) { rs.Config = &cfg }, nil

	case state.StepISCE:
		if rs.Config == nil {
			return nil, insar.Errorf(insar.KindPrecondition, op, "run state has no processing configuration")
		}
		out, err := p.stages.Engine.Run(ctx, *rs.Config)
		if err != nil {
			return nil, err
		}
		return func(rs *state.RunState) { rs.Outputs = &out }, nil

	case state.StepPost:
		if rs.Outputs == nil {
			return nil, insar.Errorf(insar.KindPrecondition, op, "run state has no engine outputs")
		}
		results, err := p.stages.Post.Process(ctx, *rs.Outputs, aoi, pair.RelativeOrbit())
		if err != nil {
			return nil, err
		}
		results.Provenance = insar.Provenance{
			RunID:         rs.RunID,
			ReferenceID:   pair.ReferenceID(),
			SecondaryID:   pair.SecondaryID(),
			RelativeOrbit: pair.RelativeOrbit(),
			CreatedAt:     p.now(),
		}
		if rs.Config != nil {
			results.Provenance.ConfigDigest = rs.Config.Digest
		}
		item, err := catalog.NewResultItem(results, pair, aoi)
		if err != nil {
			return nil, insar.E(insar.KindPostProcess, op, err)
		}
		if err := catalog.WriteItem(p.layout.ResultItem(), item); err != nil {
			return nil, insar.E(insar.KindPostProcess, op, err)
		}
		results.ItemPath = p.layout.ResultItem()
		return func(rs *state.RunState) { rs.Results = &results }, nil

	case state.StepCleanup:
		report := p.stages.Cleaner.Cleanup(rs, p.policy)
		if err := report.Err(); err != nil {
			p.logger.Warn("cleanup incomplete", slog.String("error", err.Error()))
		}
		return func(*state.RunState) {}, nil
	}
	return nil, insar.Errorf(insar.KindUsage, op, "unknown step")
}

// Status summarises the stored run.
func (p *Pipeline) Status() (string, error) {
	rs, err := p.store.Load()
	if err != nil {
		return "", err
	}
	if rs == nil {
		return fmt.Sprintf("no run in %s\n", p.layout.Root), nil
	}
	var b strings.Builder
	b.WriteString(rs.Summary())
	if rs.Results != nil {
		fmt.Fprintf(&b, "results: %d products in %s\n", len(rs.Results.Products), rs.Results.Dir)
		if len(rs.Results.Skipped) > 0 {
			fmt.Fprintf(&b, "skipped: %s\n", strings.Join(rs.Results.Skipped, ", "))
		}
	}
	return b.String(), nil
}

// IsUsage reports whether err should be reported as a usage error.
func IsUsage(err error) bool {
	return errors.Is(err, insar.ErrMissingDates) || insar.KindOf(err) == insar.KindUsage
}
