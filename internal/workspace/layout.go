// Package workspace defines the stable on-disk layout of a run directory.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	SLCDir       = "SLC"
	OrbitDir     = "orbits"
	DEMDir       = "DEM"
	ProcessDir   = "process"
	MergedDir    = "merged"
	ResultsDir   = "results"
	RunStateFile = "runstate.json"
	LockFile     = ".lock"
	EngineLog    = "isce.log"
	ResultItem   = "result.json"
)

// Layout resolves paths inside one run directory.
type Layout struct {
	Root string
}

// New returns the layout rooted at dir, made absolute.
func New(dir string) (Layout, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return Layout{}, fmt.Errorf("resolve work dir %q: %w", dir, err)
	}
	return Layout{Root: abs}, nil
}

func (l Layout) SLC() string       { return filepath.Join(l.Root, SLCDir) }
func (l Layout) Orbits() string    { return filepath.Join(l.Root, OrbitDir) }
func (l Layout) DEM() string       { return filepath.Join(l.Root, DEMDir) }
func (l Layout) Process() string   { return filepath.Join(l.Root, ProcessDir) }
func (l Layout) Merged() string    { return filepath.Join(l.Root, ProcessDir, MergedDir) }
func (l Layout) Results() string   { return filepath.Join(l.Root, ResultsDir) }
func (l Layout) RunState() string  { return filepath.Join(l.Root, RunStateFile) }
func (l Layout) Lock() string      { return filepath.Join(l.Root, LockFile) }
func (l Layout) EngineLog() string { return filepath.Join(l.Root, ProcessDir, EngineLog) }

// ResultItem is the provenance document of the result set.
func (l Layout) ResultItem() string { return filepath.Join(l.Root, ResultsDir, ResultItem) }

// PlotDir is the visualisation directory for a flight direction and orbit,
// e.g. results/plot_asc_14.
func (l Layout) PlotDir(ascending bool, orbit int) string {
	dir := "des"
	if ascending {
		dir = "asc"
	}
	return filepath.Join(l.Results(), fmt.Sprintf("plot_%s_%d", dir, orbit))
}

// Ensure creates the run directory tree.
func (l Layout) Ensure() error {
	for _, dir := range []string{l.Root, l.SLC(), l.Orbits(), l.DEM(), l.Process(), l.Results()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// Protected reports whether path must survive every cleanup: anything in
// results/, the run-state file and the lock file.
func (l Layout) Protected(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return true
	}
	if abs == l.RunState() || abs == l.Lock() || abs == l.Root {
		return true
	}
	return l.InResults(abs)
}

// InResults reports whether path is results/ or lies beneath it.
func (l Layout) InResults(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return true
	}
	rel, err := filepath.Rel(l.Results(), abs)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// Within reports whether path lies strictly beneath the run directory.
func (l Layout) Within(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(l.Root, abs)
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
