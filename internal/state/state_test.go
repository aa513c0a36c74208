package state

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robert-malhotra/asf-insar/internal/insar"
	"github.com/robert-malhotra/asf-insar/internal/workspace"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

var t0 = time.Date(2025, 11, 23, 10, 0, 0, 0, time.UTC)

func request() insar.Request {
	return insar.Request{Lon: 40.7, Lat: 13.6, Buffer: 0.2, EventDate: "20251117", Platform: "S1A"}
}

func TestParseStep(t *testing.T) {
	s, err := ParseStep("ISCE")
	require.NoError(t, err)
	assert.Equal(t, StepISCE, s)

	_, err = ParseStep("all")
	assert.Error(t, err)

	prev, ok := StepXML.Previous()
	assert.True(t, ok)
	assert.Equal(t, StepDEM, prev)
	_, ok = StepSearch.Previous()
	assert.False(t, ok)
}

func TestRunState_Progress(t *testing.T) {
	rs := New(request(), t0)
	assert.Equal(t, StateInit, rs.State())
	assert.NotEmpty(t, rs.RunID)

	for _, step := range []Step{StepSearch, StepDownload, StepOrbit} {
		rs.Begin(step, t0)
		rs.Complete(step, t0.Add(time.Minute))
	}
	assert.Equal(t, StateOrbitsFetched, rs.State())

	rs.Begin(StepDEM, t0)
	rs.Fail(StepDEM, insar.E(insar.KindFetch, "dem", insar.ErrCoverageGap), t0)
	assert.Equal(t, StateOrbitsFetched, rs.State())
	st := rs.Status(StepDEM)
	assert.Equal(t, 1, st.Attempts)
	assert.Equal(t, "fetch", st.ErrorKind)
	assert.False(t, st.Completed)

	rs.Begin(StepDEM, t0)
	rs.Complete(StepDEM, t0.Add(2*time.Minute))
	assert.Equal(t, StateFetched, rs.State())
	assert.Equal(t, 2, rs.Status(StepDEM).Attempts)
	assert.Empty(t, rs.Status(StepDEM).LastError)
	assert.Equal(t, 2*time.Minute, rs.Status(StepDEM).Duration)
}

func TestRunState_RerunMarksDownstreamStale(t *testing.T) {
	rs := New(request(), t0)
	for _, step := range Steps[:5] {
		rs.Complete(step, t0)
	}
	require.Equal(t, StateConfigured, rs.State())

	rs.Complete(StepOrbit, t0.Add(time.Hour))
	assert.True(t, rs.Done(StepOrbit))
	assert.True(t, rs.Status(StepDEM).Stale)
	assert.True(t, rs.Status(StepXML).Stale)
	assert.False(t, rs.Status(StepISCE).Stale, "never completed")
	assert.Equal(t, StateOrbitsFetched, rs.State())

	rs.Complete(StepDEM, t0.Add(2*time.Hour))
	assert.False(t, rs.Status(StepDEM).Stale)
	assert.True(t, rs.Status(StepXML).Stale)
}

func TestRunState_BeginReopensStep(t *testing.T) {
	rs := New(request(), t0)
	for _, step := range Steps[:7] {
		rs.Complete(step, t0)
	}
	require.Equal(t, StatePostProcessed, rs.State())

	rs.Begin(StepISCE, t0.Add(time.Hour))
	assert.False(t, rs.Done(StepISCE))
	assert.True(t, rs.Status(StepPost).Stale)
	assert.Equal(t, StateConfigured, rs.State())

	rs.Fail(StepISCE, errors.New("engine crashed"), t0.Add(2*time.Hour))
	assert.False(t, rs.Status(StepISCE).Completed)
	assert.True(t, rs.Status(StepPost).Stale)
	assert.Equal(t, StateConfigured, rs.State())
}

func TestRunState_Summary(t *testing.T) {
	rs := New(request(), t0)
	rs.Complete(StepSearch, t0)
	rs.Fail(StepDownload, errors.New("boom"), t0)
	s := rs.Summary()
	assert.Contains(t, s, "Searched")
	assert.Contains(t, s, "download failed")
	assert.Contains(t, s, `error="boom"`)
}

func openStore(t *testing.T, dir string) *Store {
	t.Helper()
	l, err := workspace.New(dir)
	require.NoError(t, err)
	s, err := Open(l, discard)
	require.NoError(t, err)
	return s
}

func TestStore_SaveLoad(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)
	defer s.Close()

	got, err := s.Load()
	require.NoError(t, err)
	assert.Nil(t, got, "fresh directory")

	rs := New(request(), t0)
	rs.Pair = &insar.ImagePair{
		Reference: insar.Acquisition{ID: "REF", Platform: "Sentinel-1A", RelativeOrbit: 14, StartTime: time.Date(2025, 11, 10, 3, 30, 0, 0, time.UTC)},
		Secondary: insar.Acquisition{ID: "SEC", Platform: "Sentinel-1A", RelativeOrbit: 14, StartTime: time.Date(2025, 11, 22, 3, 30, 0, 0, time.UTC)},
	}
	rs.Manifest = insar.DownloadManifest{Entries: []insar.ManifestEntry{{Kind: insar.ArtifactSLC, RemoteURL: "https://x/REF.zip", LocalPath: "/w/SLC/REF.zip", Required: true, Status: insar.StatusVerified}}}
	rs.Begin(StepSearch, t0)
	rs.Complete(StepSearch, t0.Add(time.Second))
	require.NoError(t, s.Save(rs))

	got, err = s.Load()
	require.NoError(t, err)
	if diff := cmp.Diff(rs, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, StateSearched, got.State())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{workspace.RunStateFile, workspace.LockFile}, names)
}

func TestStore_SecondInstanceIsLocked(t *testing.T) {
	dir := t.TempDir()
	first := openStore(t, dir)

	l, err := workspace.New(dir)
	require.NoError(t, err)
	_, err = Open(l, discard)
	require.Error(t, err)
	assert.Equal(t, insar.KindState, insar.KindOf(err))
	assert.ErrorIs(t, err, insar.ErrLocked)

	require.NoError(t, first.Close())
	second, err := Open(l, discard)
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestStore_CorruptState(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)
	defer s.Close()
	require.NoError(t, os.WriteFile(s.layout.RunState(), []byte("{not json"), 0o644))

	_, err := s.Load()
	require.Error(t, err)
	assert.Equal(t, insar.KindState, insar.KindOf(err))
}
