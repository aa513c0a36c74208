// Package state holds the persisted progress of one pipeline run and the
// locked store it lives in.
package state

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/robert-malhotra/asf-insar/internal/insar"
)

// Version of the run-state document.
const Version = 1

// Step is one unit of work the pipeline can run on its own.
type Step string

const (
	StepSearch   Step = "search"
	StepDownload Step = "download"
	StepOrbit    Step = "orbit"
	StepDEM      Step = "dem"
	StepXML      Step = "xml"
	StepISCE     Step = "isce"
	StepPost     Step = "post"
	StepCleanup  Step = "cleanup"
)

// Steps lists every step in execution order.
var Steps = []Step{StepSearch, StepDownload, StepOrbit, StepDEM, StepXML, StepISCE, StepPost, StepCleanup}

// ParseStep resolves a step name.
func ParseStep(s string) (Step, error) {
	for _, step := range Steps {
		if strings.EqualFold(s, string(step)) {
			return step, nil
		}
	}
	return "", fmt.Errorf("unknown step %q", s)
}

func (s Step) index() int {
	for i, step := range Steps {
		if step == s {
			return i
		}
	}
	return -1
}

// Previous returns the step that must have completed before s may run.
func (s Step) Previous() (Step, bool) {
	i := s.index()
	if i <= 0 {
		return "", false
	}
	return Steps[i-1], true
}

// Reaches is the run state entered when s completes.
func (s Step) Reaches() State {
	return stepStates[s]
}

// State is the coarse progress of a run.
type State string

const (
	StateInit          State = "Init"
	StateSearched      State = "Searched"
	StateDownloaded    State = "Downloaded"
	StateOrbitsFetched State = "OrbitsFetched"
	StateFetched       State = "Fetched"
	StateConfigured    State = "Configured"
	StateProcessed     State = "Processed"
	StatePostProcessed State = "PostProcessed"
	StateCleanedUp     State = "CleanedUp"
)

var stepStates = map[Step]State{
	StepSearch:   StateSearched,
	StepDownload: StateDownloaded,
	StepOrbit:    StateOrbitsFetched,
	StepDEM:      StateFetched,
	StepXML:      StateConfigured,
	StepISCE:     StateProcessed,
	StepPost:     StatePostProcessed,
	StepCleanup:  StateCleanedUp,
}

// StepStatus records the outcome of a step's most recent runs.
type StepStatus struct {
	Completed  bool          `json:"completed"`
	Stale      bool          `json:"stale,omitempty"`
	Attempts   int           `json:"attempts"`
	LastError  string        `json:"last_error,omitempty"`
	ErrorKind  string        `json:"error_kind,omitempty"`
	StartedAt  time.Time     `json:"started_at,omitempty"`
	FinishedAt time.Time     `json:"finished_at,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
}

// RunState is the persisted record of a run: the request, every stage's
// outputs and per-step status.
type RunState struct {
	Version     int                     `json:"version"`
	RunID       string                  `json:"run_id"`
	CreatedAt   time.Time               `json:"created_at"`
	UpdatedAt   time.Time               `json:"updated_at"`
	Request     insar.Request           `json:"request"`
	Fingerprint string                  `json:"fingerprint"`
	Pair        *insar.ImagePair        `json:"pair,omitempty"`
	Manifest    insar.DownloadManifest  `json:"manifest"`
	Orbits      []insar.OrbitSelection  `json:"orbits,omitempty"`
	DEM         *insar.DemRaster        `json:"dem,omitempty"`
	Config      *insar.ProcessingConfig `json:"config,omitempty"`
	Outputs     *insar.EngineOutputs    `json:"outputs,omitempty"`
	Results     *insar.ResultSet        `json:"results,omitempty"`
	Steps       map[Step]*StepStatus    `json:"steps"`
}

// New starts a run for req.
func New(req insar.Request, now time.Time) *RunState {
	return &RunState{
		Version:     Version,
		RunID:       uuid.NewString(),
		CreatedAt:   now,
		UpdatedAt:   now,
		Request:     req,
		Fingerprint: req.Fingerprint(),
		Steps:       make(map[Step]*StepStatus),
	}
}

// Status returns a copy of the status of step.
func (rs *RunState) Status(step Step) StepStatus {
	if s, ok := rs.Steps[step]; ok && s != nil {
		return *s
	}
	return StepStatus{}
}

func (rs *RunState) status(step Step) *StepStatus {
	if rs.Steps == nil {
		rs.Steps = make(map[Step]*StepStatus)
	}
	s, ok := rs.Steps[step]
	if !ok || s == nil {
		s = &StepStatus{}
		rs.Steps[step] = s
	}
	return s
}

// Done reports whether step completed and none of its inputs changed since.
func (rs *RunState) Done(step Step) bool {
	s := rs.Status(step)
	return s.Completed && !s.Stale
}

// State is the state reached by the longest prefix of done steps.
func (rs *RunState) State() State {
	st := StateInit
	for _, step := range Steps {
		if !rs.Done(step) {
			break
		}
		st = step.Reaches()
	}
	return st
}

// Begin records an attempt of step. The step stops counting as done and
// every completed downstream step turns stale until the attempt completes,
// so an interrupted or failed re-run never leaves old outputs looking fresh.
func (rs *RunState) Begin(step Step, now time.Time) {
	s := rs.status(step)
	s.Attempts++
	s.StartedAt = now
	s.Completed = false
	s.Stale = false
	rs.invalidateAfter(step)
	rs.UpdatedAt = now
}

// Complete marks step done and every completed downstream step stale.
func (rs *RunState) Complete(step Step, now time.Time) {
	s := rs.status(step)
	s.Completed = true
	s.Stale = false
	s.LastError = ""
	s.ErrorKind = ""
	s.FinishedAt = now
	if !s.StartedAt.IsZero() {
		s.Duration = now.Sub(s.StartedAt)
	}
	rs.invalidateAfter(step)
	rs.UpdatedAt = now
}

func (rs *RunState) invalidateAfter(step Step) {
	for _, next := range Steps[step.index()+1:] {
		if d, ok := rs.Steps[next]; ok && d != nil && d.Completed {
			d.Stale = true
		}
	}
}

// Fail records err against step without advancing the run.
func (rs *RunState) Fail(step Step, err error, now time.Time) {
	s := rs.status(step)
	s.LastError = err.Error()
	s.ErrorKind = insar.KindOf(err).String()
	s.FinishedAt = now
	rs.UpdatedAt = now
}

// Summary is a human-readable overview of the run.
func (rs *RunState) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s: %s\n", rs.RunID, rs.State())
	if rs.Pair != nil {
		fmt.Fprintf(&b, "pair: %s\n", rs.Pair)
	}
	for _, step := range Steps {
		s := rs.Status(step)
		mark := "pending"
		switch {
		case s.Completed && s.Stale:
			mark = "stale"
		case s.Completed:
			mark = "done"
		case s.LastError != "":
			mark = "failed"
		}
		fmt.Fprintf(&b, "  %-8s %-7s", step, mark)
		if s.Attempts > 0 {
			fmt.Fprintf(&b, " attempts=%d", s.Attempts)
		}
		if s.Duration > 0 {
			fmt.Fprintf(&b, " took=%s", s.Duration.Round(time.Second))
		}
		if s.LastError != "" && !s.Completed {
			fmt.Fprintf(&b, " error=%q", s.LastError)
		}
		b.WriteString("\n")
	}
	return b.String()
}
