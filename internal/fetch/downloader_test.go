package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robert-malhotra/asf-insar/internal/insar"
)

func testSLCEntry(url, dir string) insar.ManifestEntry {
	return insar.ManifestEntry{
		Kind:         insar.ArtifactSLC,
		RemoteURL:    url,
		LocalPath:    filepath.Join(dir, "S1A_TEST.zip"),
		ExpectedName: "S1A_TEST.zip",
		Required:     true,
		Status:       insar.StatusPending,
	}
}

func TestDownloader_Fetch_Success(t *testing.T) {
	body := zipBytes(t, "manifest.safe", "<xml/>")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer server.Close()

	dir := t.TempDir()
	entry := testSLCEntry(server.URL+"/S1A_TEST.zip", dir)
	entry.ExpectedSize = int64(len(body))

	d := testDownloader(testCreds)
	require.NoError(t, d.Fetch(context.Background(), &entry))

	assert.Equal(t, insar.StatusVerified, entry.Status)
	assert.Equal(t, 1, entry.Attempts)
	assert.FileExists(t, entry.LocalPath)
	assert.NoFileExists(t, entry.LocalPath+partSuffix)

	stats := d.Stats()
	assert.Equal(t, int64(1), stats.Files)
	assert.Equal(t, int64(len(body)), stats.Bytes)
}

func TestDownloader_Fetch_DoubleVerificationFailure(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Write([]byte("<html>maintenance</html>"))
	}))
	defer server.Close()

	entry := testSLCEntry(server.URL+"/S1A_TEST.zip", t.TempDir())
	err := testDownloader(testCreds).Fetch(context.Background(), &entry)

	require.Error(t, err)
	assert.True(t, insar.IsKind(err, insar.KindVerification))
	assert.Equal(t, insar.StatusFailed, entry.Status)
	assert.NotEmpty(t, entry.Error)
	assert.Equal(t, int32(2), requests.Load())
	assert.NoFileExists(t, entry.LocalPath)
	assert.NoFileExists(t, entry.LocalPath+partSuffix)
}

func TestDownloader_Fetch_RetriesTransientStatus(t *testing.T) {
	var requests atomic.Int32
	body := zipBytes(t, "a.hgt", "elevation")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write(body)
	}))
	defer server.Close()

	entry := insar.ManifestEntry{
		Kind:      insar.ArtifactDemTile,
		RemoteURL: server.URL + "/N13E040.SRTMGL1.hgt.zip",
		LocalPath: filepath.Join(t.TempDir(), "N13E040.SRTMGL1.hgt.zip"),
	}
	require.NoError(t, testDownloader(Credentials{}).Fetch(context.Background(), &entry))
	assert.Equal(t, 2, entry.Attempts)
	assert.Equal(t, insar.StatusVerified, entry.Status)
}

func TestDownloader_Fetch_GivesUpAfterMaxAttempts(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	entry := testSLCEntry(server.URL+"/S1A_TEST.zip", t.TempDir())
	err := testDownloader(testCreds).Fetch(context.Background(), &entry)
	require.Error(t, err)
	assert.Equal(t, insar.KindNetwork, insar.KindOf(err))
	assert.Equal(t, int32(3), requests.Load())
	assert.Equal(t, insar.StatusFailed, entry.Status)
}

func TestDownloader_Fetch_AuthFailureNotRetried(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	entry := testSLCEntry(server.URL+"/S1A_TEST.zip", t.TempDir())
	err := testDownloader(testCreds).Fetch(context.Background(), &entry)
	require.Error(t, err)
	assert.Equal(t, insar.KindAuth, insar.KindOf(err))
	assert.Equal(t, int32(1), requests.Load())
}

func TestDownloader_Fetch_NotFoundIsAbsent(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	entry := insar.ManifestEntry{
		Kind:      insar.ArtifactDemTile,
		RemoteURL: server.URL + "/N13E041.SRTMGL1.hgt.zip",
		LocalPath: filepath.Join(t.TempDir(), "N13E041.SRTMGL1.hgt.zip"),
	}
	err := testDownloader(Credentials{}).Fetch(context.Background(), &entry)
	assert.ErrorIs(t, err, insar.ErrNotFound)
	assert.Equal(t, insar.StatusAbsent, entry.Status)
	assert.Equal(t, 1, entry.Attempts)
}

func TestDownloader_Fetch_SLCRequiresCredentials(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
	}))
	defer server.Close()

	entry := testSLCEntry(server.URL+"/S1A_TEST.zip", t.TempDir())
	err := testDownloader(Credentials{}).Fetch(context.Background(), &entry)
	require.Error(t, err)
	assert.Equal(t, insar.KindAuth, insar.KindOf(err))
	assert.Contains(t, err.Error(), "Earthdata credentials")
	assert.Zero(t, requests.Load())
}

func TestDownloader_Fetch_SkipsVerifiedFile(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
	}))
	defer server.Close()

	dir := t.TempDir()
	entry := testSLCEntry(server.URL+"/S1A_TEST.zip", dir)
	require.NoError(t, os.WriteFile(entry.LocalPath, zipBytes(t, "manifest.safe", "x"), 0o644))

	require.NoError(t, testDownloader(Credentials{}).Fetch(context.Background(), &entry))
	assert.Equal(t, insar.StatusVerified, entry.Status)
	assert.Zero(t, requests.Load())
}

func TestDownloader_Fetch_EarthdataRedirect(t *testing.T) {
	body := zipBytes(t, "manifest.safe", "<xml/>")

	var dataURL string
	auth := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "user" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "asf-urs", Value: "token", Path: "/"})
		http.Redirect(w, r, dataURL, http.StatusFound)
	}))
	defer auth.Close()

	data := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := r.Cookie("asf-urs"); err != nil {
			http.Redirect(w, r, auth.URL+"/oauth/authorize", http.StatusFound)
			return
		}
		w.Write(body)
	}))
	defer data.Close()
	dataURL = data.URL + "/S1A_TEST.zip"

	entry := testSLCEntry(dataURL, t.TempDir())
	require.NoError(t, testDownloader(testCreds).Fetch(context.Background(), &entry))
	assert.Equal(t, insar.StatusVerified, entry.Status)

	wrong := testCreds
	wrong.Password = "nope"
	entry = testSLCEntry(dataURL, t.TempDir())
	err := testDownloader(wrong).Fetch(context.Background(), &entry)
	assert.Equal(t, insar.KindAuth, insar.KindOf(err))
}

func TestDownloader_Fetch_Cancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	entry := testSLCEntry(server.URL+"/S1A_TEST.zip", t.TempDir())
	err := testDownloader(testCreds).Fetch(ctx, &entry)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, entry.LocalPath)
}
