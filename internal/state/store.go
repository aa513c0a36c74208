package state

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	jsoniter "github.com/json-iterator/go"

	"github.com/robert-malhotra/asf-insar/internal/insar"
	"github.com/robert-malhotra/asf-insar/internal/workspace"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Store persists the RunState of one work directory. It holds an exclusive
// lock on the directory until Close.
type Store struct {
	layout workspace.Layout
	lock   *flock.Flock
	logger *slog.Logger
}

// Open locks the work directory. A second Open on the same directory fails
// with ErrLocked until the first store is closed.
func Open(layout workspace.Layout, logger *slog.Logger) (*Store, error) {
	const op = "open state"
	if err := os.MkdirAll(layout.Root, 0o755); err != nil {
		return nil, insar.E(insar.KindState, op, err)
	}
	lock := flock.New(layout.Lock())
	ok, err := lock.TryLock()
	if err != nil {
		return nil, insar.E(insar.KindState, op, fmt.Errorf("lock %s: %w", layout.Lock(), err))
	}
	if !ok {
		return nil, insar.E(insar.KindState, op, fmt.Errorf("%s: %w", layout.Root, insar.ErrLocked))
	}
	return &Store{layout: layout, lock: lock, logger: logger}, nil
}

// Load reads the stored RunState. It returns nil and no error when the
// directory holds no run yet.
func (s *Store) Load() (*RunState, error) {
	const op = "load state"
	data, err := os.ReadFile(s.layout.RunState())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, insar.E(insar.KindState, op, err)
	}
	var rs RunState
	if err := json.Unmarshal(data, &rs); err != nil {
		return nil, insar.E(insar.KindState, op, fmt.Errorf("decode %s: %w", s.layout.RunState(), err))
	}
	if rs.Version != Version {
		return nil, insar.Errorf(insar.KindState, op, "%s: unsupported version %d", s.layout.RunState(), rs.Version)
	}
	if rs.Steps == nil {
		rs.Steps = make(map[Step]*StepStatus)
	}
	return &rs, nil
}

// Save replaces the stored RunState atomically.
func (s *Store) Save(rs *RunState) error {
	const op = "save state"
	if rs.UpdatedAt.IsZero() {
		rs.UpdatedAt = time.Now().UTC()
	}
	data, err := json.MarshalIndent(rs, "", "  ")
	if err != nil {
		return insar.E(insar.KindState, op, err)
	}
	path := s.layout.RunState()
	tmp, err := os.CreateTemp(filepath.Dir(path), ".runstate-*")
	if err != nil {
		return insar.E(insar.KindState, op, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return insar.E(insar.KindState, op, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return insar.E(insar.KindState, op, err)
	}
	if err := tmp.Close(); err != nil {
		return insar.E(insar.KindState, op, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return insar.E(insar.KindState, op, err)
	}
	s.logger.Debug("saved run state", slog.String("path", path), slog.String("state", string(rs.State())))
	return nil
}

// Close releases the work directory lock.
func (s *Store) Close() error {
	if err := s.lock.Unlock(); err != nil {
		return insar.E(insar.KindState, "close state", err)
	}
	return nil
}
