package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robert-malhotra/asf-insar/internal/insar"
)

// archiveServer serves SLC and tile zips, orbit files, and 404 for anything in missing.
func archiveServer(t *testing.T, missing ...string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := path.Base(r.URL.Path)
		for _, m := range missing {
			if m == name {
				http.NotFound(w, r)
				return
			}
		}
		switch {
		case strings.HasSuffix(name, ".EOF"):
			w.Write([]byte(orbitBody))
		case strings.HasSuffix(name, ".zip"):
			w.Write(zipBytes(t, strings.TrimSuffix(name, ".zip"), "payload"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

type urlOrbitSource struct {
	fakeOrbitSource
	base string
}

func (u *urlOrbitSource) List(ctx context.Context, kind insar.OrbitKind, mission string, at time.Time) ([]OrbitFile, error) {
	files, err := u.fakeOrbitSource.List(ctx, kind, mission, at)
	for i := range files {
		files[i].URL = u.base + "/" + files[i].Name
	}
	return files, err
}

func testStage(t *testing.T, server *httptest.Server, runner *stitchRunner) (*Stage, Dirs) {
	t.Helper()
	root := t.TempDir()
	dirs := Dirs{
		SLC:    filepath.Join(root, "SLC"),
		Orbits: filepath.Join(root, "orbits"),
		DEM:    filepath.Join(root, "DEM"),
	}
	source := &urlOrbitSource{
		fakeOrbitSource: fakeOrbitSource{files: map[insar.OrbitKind][]string{
			insar.OrbitPrecision:  {poeA},
			insar.OrbitRestituted: {resA},
		}},
		base: server.URL + "/orbits",
	}
	stitcher := NewStitcher(runner, StitcherConfig{Command: "dem.py", Timeout: time.Minute}, discard)
	stage := NewStage(testDownloader(testCreds), source, stitcher, StageConfig{
		Dirs:       dirs,
		DEMBaseURL: server.URL + "/dem",
		DEMMargin:  0.15,
	}, discard)
	return stage, dirs
}

func TestStage_DownloadSLC(t *testing.T) {
	server := archiveServer(t)
	stage, dirs := testStage(t, server, &stitchRunner{})
	pair := testPair(server.URL)

	res, err := stage.DownloadSLC(context.Background(), pair)
	require.NoError(t, err)
	require.Len(t, res.Paths, 2)
	assert.Equal(t, filepath.Join(dirs.SLC, pair.Reference.FileName), res.Paths[0])
	for _, e := range res.Entries {
		assert.Equal(t, insar.StatusVerified, e.Status)
		assert.FileExists(t, e.LocalPath)
	}
}

func TestStage_DownloadSLC_FailureFailsStep(t *testing.T) {
	server := archiveServer(t)
	stage, _ := testStage(t, server, &stitchRunner{})
	pair := testPair(server.URL)
	pair.Secondary.URL = server.URL + "/garbage"

	res, err := stage.DownloadSLC(context.Background(), pair)
	require.Error(t, err)
	assert.Equal(t, insar.KindFetch, insar.KindOf(err))
	assert.ErrorIs(t, err, insar.ErrNotFound)
	assert.Equal(t, insar.StatusVerified, res.Entries[0].Status)
	assert.Len(t, res.Paths, 1)
}

type fakeLocator struct {
	base  string
	calls []string
	err   error
}

func (f *fakeLocator) Locate(_ context.Context, sceneID string) (insar.Acquisition, error) {
	f.calls = append(f.calls, sceneID)
	if f.err != nil {
		return insar.Acquisition{}, f.err
	}
	return insar.Acquisition{ID: sceneID, FileName: sceneID + ".zip", URL: f.base + "/moved/" + sceneID + ".zip"}, nil
}

func TestStage_DownloadSLC_RelocatesScene(t *testing.T) {
	server := archiveServer(t, "retired.zip")
	stage, _ := testStage(t, server, &stitchRunner{})
	locator := &fakeLocator{base: server.URL}
	stage.WithLocator(locator)

	pair := testPair(server.URL)
	pair.Reference.URL = server.URL + "/old/retired.zip"
	pair.Secondary.URL = ""

	res, err := stage.DownloadSLC(context.Background(), pair)
	require.NoError(t, err)
	assert.Equal(t, []string{pair.ReferenceID(), pair.SecondaryID()}, locator.calls)
	require.Len(t, res.Entries, 2)
	for _, e := range res.Entries {
		assert.Equal(t, insar.StatusVerified, e.Status)
		assert.Contains(t, e.RemoteURL, "/moved/")
	}
	assert.Equal(t, server.URL+"/moved/"+pair.ReferenceID()+".zip", res.Pair.Reference.URL)
	assert.Equal(t, server.URL+"/moved/"+pair.SecondaryID()+".zip", res.Pair.Secondary.URL)
	assert.Equal(t, server.URL+"/old/retired.zip", pair.Reference.URL, "caller's pair is not modified")
}

func TestStage_DownloadSLC_RelocationFails(t *testing.T) {
	server := archiveServer(t, "retired.zip")

	t.Run("scene withdrawn", func(t *testing.T) {
		stage, _ := testStage(t, server, &stitchRunner{})
		locator := &fakeLocator{err: insar.E(insar.KindSearch, "locate", insar.ErrNotFound)}
		stage.WithLocator(locator)
		pair := testPair(server.URL)
		pair.Reference.URL = server.URL + "/old/retired.zip"

		res, err := stage.DownloadSLC(context.Background(), pair)
		require.Error(t, err)
		assert.ErrorIs(t, err, insar.ErrNotFound)
		assert.Equal(t, insar.KindFetch, insar.KindOf(err))
		assert.Len(t, locator.calls, 1)
		require.Len(t, res.Entries, 1)
		assert.Equal(t, insar.StatusAbsent, res.Entries[0].Status)
	})

	t.Run("no url and no locator", func(t *testing.T) {
		stage, _ := testStage(t, server, &stitchRunner{})
		pair := testPair(server.URL)
		pair.Reference.URL = ""

		_, err := stage.DownloadSLC(context.Background(), pair)
		require.Error(t, err)
		assert.Equal(t, insar.KindFetch, insar.KindOf(err))
		assert.Contains(t, err.Error(), "no download URL")
	})
}

func TestStage_FetchOrbits(t *testing.T) {
	server := archiveServer(t)
	stage, dirs := testStage(t, server, &stitchRunner{})

	res, err := stage.FetchOrbits(context.Background(), testPair(server.URL))
	require.NoError(t, err)
	require.Len(t, res.Selections, 2)
	assert.Equal(t, insar.OrbitPrecision, res.Selections[0].Kind)
	assert.Equal(t, insar.OrbitRestituted, res.Selections[1].Kind)
	assert.FileExists(t, filepath.Join(dirs.Orbits, poeA))
	assert.FileExists(t, filepath.Join(dirs.Orbits, resA))
}

func TestStage_FetchOrbits_MissingIsHardStop(t *testing.T) {
	server := archiveServer(t)
	stage, _ := testStage(t, server, &stitchRunner{})
	pair := testPair(server.URL)
	pair.Secondary.StartTime = pair.Secondary.StartTime.AddDate(0, 0, 1)

	res, err := stage.FetchOrbits(context.Background(), pair)
	assert.ErrorIs(t, err, insar.ErrMissingOrbit)
	assert.Empty(t, res.Entries, "nothing is downloaded when a selection is missing")
}

func TestStage_PrepareDEM(t *testing.T) {
	server := archiveServer(t, "N13E041.SRTMGL1.hgt.zip")
	runner := &stitchRunner{}
	stage, dirs := testStage(t, server, runner)
	pair := testPair(server.URL)
	pair.Reference.Footprint = square(40.7, 13.6, 0.3)
	pair.Secondary.Footprint = square(40.7, 13.6, 0.3)

	res, err := stage.PrepareDEM(context.Background(), pair, insar.AreaOfInterest{Lon: 40.7, Lat: 13.6, Buffer: 0.2})
	require.NoError(t, err)
	require.Len(t, res.Entries, 2)
	assert.Equal(t, insar.StatusVerified, res.Entries[0].Status)
	assert.Equal(t, insar.StatusAbsent, res.Entries[1].Status)
	require.Len(t, runner.cmds, 1)
	assert.Equal(t, dirs.DEM, runner.cmds[0].Dir)
	assert.Equal(t, filepath.Join(dirs.DEM, "demLat_N13_N14_Lon_E040_E042.dem.wgs84"), res.Raster.Path)
}

func TestStage_PrepareDEM_RequiredTileMissing(t *testing.T) {
	server := archiveServer(t, "N13E040.SRTMGL1.hgt.zip")
	runner := &stitchRunner{}
	stage, _ := testStage(t, server, runner)
	pair := testPair(server.URL)
	pair.Reference.Footprint = square(40.7, 13.6, 0.3)
	pair.Secondary.Footprint = square(40.7, 13.6, 0.3)

	res, err := stage.PrepareDEM(context.Background(), pair, insar.AreaOfInterest{Lon: 40.7, Lat: 13.6, Buffer: 0.2})
	assert.ErrorIs(t, err, insar.ErrCoverageGap)
	assert.Equal(t, insar.StatusVerified, res.Entries[1].Status, "every tile is attempted before coverage is judged")
	assert.Empty(t, runner.cmds, "stitching never runs over a gap")
}

func TestPlan(t *testing.T) {
	pair := testPair("https://data.example")
	orbits := []insar.OrbitSelection{
		{ImageID: pair.ReferenceID(), Kind: insar.OrbitPrecision, File: poeA, URL: "https://o/" + poeA, LocalPath: "/w/orbits/" + poeA},
		{ImageID: pair.SecondaryID(), Kind: insar.OrbitRestituted, File: resA, URL: "https://o/" + resA, LocalPath: "/w/orbits/" + resA},
	}
	tiles := PlanTiles(insar.AreaOfInterest{Lon: 40.7, Lat: 13.6, Buffer: 0.2}, 0.15).Entries("https://dem", "/w/DEM")

	m := Plan(pair, "/w/SLC", orbits, tiles)
	assert.Len(t, m.Of(insar.ArtifactSLC), 2)
	assert.Len(t, m.Of(insar.ArtifactOrbit), 2)
	assert.Len(t, m.Of(insar.ArtifactDemTile), 2)
	assert.Equal(t, pair.Reference.FileName, m.Entries[0].ExpectedName)
	assert.Equal(t, resA, m.Entries[3].ExpectedName)
}

func TestStage_Plan(t *testing.T) {
	server := archiveServer(t)
	stage, dirs := testStage(t, server, &stitchRunner{})
	pair := testPair(server.URL)
	pair.Reference.Footprint = square(40.7, 13.6, 0.3)
	pair.Secondary.Footprint = square(40.7, 13.6, 0.3)

	m := stage.Plan(pair, insar.AreaOfInterest{Lon: 40.7, Lat: 13.6, Buffer: 0.2}, nil)
	require.Len(t, m.Of(insar.ArtifactSLC), 2)
	assert.Empty(t, m.Of(insar.ArtifactOrbit))
	tiles := m.Of(insar.ArtifactDemTile)
	require.Len(t, tiles, 2)
	assert.Equal(t, filepath.Join(dirs.SLC, pair.Reference.FileName), m.Entries[0].LocalPath)
	for _, e := range m.Entries {
		assert.Equal(t, insar.StatusPending, e.Status)
	}
	assert.True(t, strings.HasPrefix(tiles[0].LocalPath, dirs.DEM))
}
