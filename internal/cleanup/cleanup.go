// Package cleanup removes the bulky staging and intermediate files of a
// finished run. Nothing under results/ is ever removed.
package cleanup

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/robert-malhotra/asf-insar/internal/insar"
	"github.com/robert-malhotra/asf-insar/internal/state"
	"github.com/robert-malhotra/asf-insar/internal/workspace"
)

// Policy selects what survives a cleanup.
type Policy struct {
	KeepSLC      bool
	KeepOrbits   bool
	KeepDEM      bool
	RemoveMerged bool
}

// Category groups removable files.
type Category string

const (
	CategorySLC     Category = "slc"
	CategoryOrbits  Category = "orbits"
	CategoryDEM     Category = "dem"
	CategoryProcess Category = "process"
	CategoryMerged  Category = "merged"
)

// Failure is a path that could not be removed.
type Failure struct {
	Path string `json:"path"`
	Err  string `json:"error"`
}

// Report lists what a cleanup did.
type Report struct {
	Removed      []string              `json:"removed"`
	Kept         map[Category][]string `json:"kept,omitempty"`
	Protected    []string              `json:"protected,omitempty"`
	Failed       []Failure             `json:"failed,omitempty"`
	BytesRemoved int64                 `json:"bytes_removed"`
}

// Err joins the removal failures, classified as cleanup errors.
func (r Report) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failed))
	for _, f := range r.Failed {
		errs = append(errs, fmt.Errorf("%s: %s", f.Path, f.Err))
	}
	return insar.E(insar.KindCleanup, "cleanup", errors.Join(errs...))
}

// Manager deletes staging files inside one work directory.
type Manager struct {
	layout workspace.Layout
	logger *slog.Logger
	remove func(string) error
}

// NewManager creates a cleanup manager for the layout.
func NewManager(layout workspace.Layout, logger *slog.Logger) *Manager {
	return &Manager{layout: layout, logger: logger, remove: os.RemoveAll}
}

// Cleanup removes the categories policy does not keep. Failures are logged
// and recorded in the report; they never stop the remaining removals.
func (m *Manager) Cleanup(rs *state.RunState, policy Policy) Report {
	report := Report{Kept: make(map[Category][]string)}

	candidates := map[Category][]string{
		CategorySLC:     m.slcFiles(rs),
		CategoryOrbits:  m.orbitFiles(rs),
		CategoryDEM:     m.children(m.layout.DEM()),
		CategoryProcess: m.intermediates(),
	}
	if _, err := os.Stat(m.layout.Merged()); err == nil {
		candidates[CategoryMerged] = []string{m.layout.Merged()}
	}
	keep := map[Category]bool{
		CategorySLC:    policy.KeepSLC,
		CategoryOrbits: policy.KeepOrbits,
		CategoryDEM:    policy.KeepDEM,
		CategoryMerged: !policy.RemoveMerged,
	}

	for _, cat := range []Category{CategorySLC, CategoryOrbits, CategoryDEM, CategoryProcess, CategoryMerged} {
		paths := candidates[cat]
		if keep[cat] {
			if len(paths) > 0 {
				report.Kept[cat] = paths
			}
			continue
		}
		for _, path := range paths {
			m.removeOne(&report, cat, path)
		}
	}

	m.logger.Info("cleanup finished",
		slog.String("step", "cleanup"),
		slog.Int("removed", len(report.Removed)),
		slog.Int("failed", len(report.Failed)),
		slog.Int64("bytes", report.BytesRemoved),
	)
	return report
}

func (m *Manager) removeOne(report *Report, cat Category, path string) {
	if m.layout.Protected(path) || !m.layout.Within(path) {
		report.Protected = append(report.Protected, path)
		m.logger.Warn("refusing to remove protected path", slog.String("step", "cleanup"), slog.String("path", path))
		return
	}
	size := du(path)
	if err := m.remove(path); err != nil {
		err = insar.E(insar.KindCleanup, "cleanup", err)
		report.Failed = append(report.Failed, Failure{Path: path, Err: err.Error()})
		m.logger.Warn("remove failed",
			slog.String("step", "cleanup"),
			slog.String("category", string(cat)),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return
	}
	report.Removed = append(report.Removed, path)
	report.BytesRemoved += size
	m.logger.Debug("removed", slog.String("category", string(cat)), slog.String("path", path))
}

// slcFiles lists the archives in SLC/ together with any manifest SLC paths
// recorded elsewhere in the work directory.
func (m *Manager) slcFiles(rs *state.RunState) []string {
	paths := m.children(m.layout.SLC())
	if rs != nil {
		for _, e := range rs.Manifest.Of(insar.ArtifactSLC) {
			paths = append(paths, e.LocalPath)
		}
	}
	return m.existing(paths)
}

func (m *Manager) orbitFiles(rs *state.RunState) []string {
	paths := m.children(m.layout.Orbits())
	if rs != nil {
		for _, o := range rs.Orbits {
			paths = append(paths, o.LocalPath)
		}
	}
	return m.existing(paths)
}

// intermediates lists process/ except the generated configuration
// documents, the engine log and the merged directory.
func (m *Manager) intermediates() []string {
	var out []string
	for _, path := range m.children(m.layout.Process()) {
		name := filepath.Base(path)
		switch {
		case path == m.layout.Merged():
		case name == workspace.EngineLog:
		case strings.HasSuffix(name, ".xml"):
		default:
			out = append(out, path)
		}
	}
	return out
}

func (m *Manager) children(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, filepath.Join(dir, e.Name()))
	}
	return out
}

// existing deduplicates paths and drops the ones already gone.
func (m *Manager) existing(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	var out []string
	for _, p := range paths {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		if _, err := os.Lstat(p); err == nil {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// du sums the sizes of the regular files under path.
func du(path string) int64 {
	var total int64
	_ = filepath.WalkDir(path, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if info, err := d.Info(); err == nil && info.Mode().IsRegular() {
			total += info.Size()
		}
		return nil
	})
	return total
}
