// Package fetch acquires every remote input of a run: SLC archives, orbit
// files and DEM tiles. Downloads are strictly sequential and land on disk only
// after verification.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/robert-malhotra/asf-insar/internal/insar"
	"github.com/robert-malhotra/asf-insar/internal/verify"
)

const partSuffix = ".part"

// Credentials authenticate against the Earthdata login host.
type Credentials struct {
	Username string
	Password string
	AuthHost string
}

func (c Credentials) valid() bool { return c.Username != "" && c.Password != "" }

// DownloaderConfig configures a Downloader.
type DownloaderConfig struct {
	MaxAttempts int
	Backoff     time.Duration
	Timeout     time.Duration
	Credentials Credentials
}

// Downloader fetches manifest entries one at a time.
type Downloader struct {
	client      *http.Client
	maxAttempts int
	backoff     time.Duration
	creds       Credentials
	logger      *slog.Logger

	mu         sync.Mutex
	throughput *hdrhistogram.Histogram // KiB/s per completed transfer
	bytes      int64
}

// NewDownloader builds a downloader whose client follows redirects to the
// Earthdata login host with basic auth and keeps the session cookies.
func NewDownloader(cfg DownloaderConfig, logger *slog.Logger) *Downloader {
	jar, _ := cookiejar.New(nil)
	d := &Downloader{
		maxAttempts: max(cfg.MaxAttempts, 1),
		backoff:     cfg.Backoff,
		creds:       cfg.Credentials,
		logger:      logger,
		throughput:  hdrhistogram.New(1, 10_000_000, 3),
	}
	d.client = &http.Client{
		Timeout:       cfg.Timeout,
		Jar:           jar,
		CheckRedirect: d.checkRedirect,
	}
	return d
}

// WithHTTPClient replaces the HTTP client, keeping the auth redirect hook.
func (d *Downloader) WithHTTPClient(hc *http.Client) *Downloader {
	c := *hc
	c.CheckRedirect = d.checkRedirect
	if c.Jar == nil {
		c.Jar, _ = cookiejar.New(nil)
	}
	d.client = &c
	return d
}

func (d *Downloader) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= 10 {
		return errors.New("stopped after 10 redirects")
	}
	if d.creds.valid() && req.URL.Hostname() == d.creds.AuthHost {
		req.SetBasicAuth(d.creds.Username, d.creds.Password)
	}
	return nil
}

// statusError is a non-200 response.
type statusError struct {
	code int
	url  string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("GET %s: %d %s", e.url, e.code, http.StatusText(e.code))
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return true
	}
	return code >= 500
}

// Fetch downloads entry to its local path and updates its status in place.
// A file already present and verified is not downloaded again. Transient
// failures are retried with linear backoff; a verification failure is
// re-downloaded once before the entry is marked failed.
func (d *Downloader) Fetch(ctx context.Context, entry *insar.ManifestEntry) error {
	const op = "download"
	log := d.logger.With(
		slog.String("kind", string(entry.Kind)),
		slog.String("file", filepath.Base(entry.LocalPath)),
	)

	if err := verify.File(entry.LocalPath, verify.ForEntry(*entry)); err == nil {
		entry.Status = insar.StatusVerified
		entry.Error = ""
		log.Info("already present, skipping")
		return nil
	}

	if entry.Kind == insar.ArtifactSLC && !d.creds.valid() {
		return d.fail(entry, insar.Errorf(insar.KindAuth, op, "Earthdata credentials are required to download %s", entry.ExpectedName))
	}

	if err := os.MkdirAll(filepath.Dir(entry.LocalPath), 0o755); err != nil {
		return d.fail(entry, insar.E(insar.KindFetch, op, err))
	}

	part := entry.LocalPath + partSuffix
	exp := verify.ForEntry(*entry)
	exp.Name = "" // the part file carries a suffix; the final name is fixed by the plan

	for verifyFailures := 0; ; {
		entry.Status = insar.StatusDownloading
		if err := d.transfer(ctx, entry, part, log); err != nil {
			os.Remove(part)
			if errors.Is(err, insar.ErrNotFound) {
				entry.Status = insar.StatusAbsent
				entry.Error = err.Error()
				return err
			}
			return d.fail(entry, err)
		}

		if err := verify.File(part, exp); err != nil {
			os.Remove(part)
			verifyFailures++
			if verifyFailures >= 2 {
				return d.fail(entry, err)
			}
			log.Warn("verification failed, downloading again", slog.String("error", err.Error()))
			continue
		}

		if err := os.Rename(part, entry.LocalPath); err != nil {
			os.Remove(part)
			return d.fail(entry, insar.E(insar.KindFetch, op, err))
		}
		entry.Status = insar.StatusVerified
		entry.Error = ""
		return nil
	}
}

func (d *Downloader) fail(entry *insar.ManifestEntry, err error) error {
	entry.Status = insar.StatusFailed
	entry.Error = err.Error()
	return err
}

// transfer performs the GET with retries.
func (d *Downloader) transfer(ctx context.Context, entry *insar.ManifestEntry, part string, log *slog.Logger) error {
	const op = "download"
	var lastErr error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		if attempt > 1 {
			wait := time.Duration(attempt-1) * d.backoff
			log.Warn("retrying download", slog.Int("attempt", attempt), slog.Duration("wait", wait), slog.String("error", lastErr.Error()))
			select {
			case <-ctx.Done():
				return insar.E(insar.KindNetwork, op, ctx.Err())
			case <-time.After(wait):
			}
		}
		entry.Attempts++

		err := d.get(ctx, entry.RemoteURL, part, log)
		if err == nil {
			return nil
		}
		lastErr = err

		var se *statusError
		switch {
		case ctx.Err() != nil:
			return insar.E(insar.KindNetwork, op, ctx.Err())
		case errors.As(err, &se):
			switch {
			case se.code == http.StatusUnauthorized || se.code == http.StatusForbidden:
				return insar.E(insar.KindAuth, op, err)
			case se.code == http.StatusNotFound:
				return insar.E(insar.KindFetch, op, fmt.Errorf("%w: %v", insar.ErrNotFound, err))
			case !retryableStatus(se.code):
				return insar.E(insar.KindFetch, op, err)
			}
		}
	}
	return insar.E(insar.KindNetwork, op, fmt.Errorf("giving up after %d attempts: %w", d.maxAttempts, lastErr))
}

func (d *Downloader) get(ctx context.Context, url, part string, log *slog.Logger) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "asf-insar/1.0")

	start := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &statusError{code: resp.StatusCode, url: url}
	}

	f, err := os.Create(part)
	if err != nil {
		return err
	}
	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(part), err)
	}

	elapsed := time.Since(start)
	d.record(n, elapsed)
	log.Info("downloaded", slog.Int64("bytes", n), slog.Duration("elapsed", elapsed))
	return nil
}

func (d *Downloader) record(n int64, elapsed time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bytes += n
	secs := elapsed.Seconds()
	if secs <= 0 {
		secs = 1e-3
	}
	rate := int64(float64(n) / 1024 / secs)
	if rate < 1 {
		rate = 1
	}
	d.throughput.RecordValue(min(rate, d.throughput.HighestTrackableValue()))
}

// Stats summarises the transfers made so far.
type Stats struct {
	Files        int64
	Bytes        int64
	MeanKiBps    float64
	MedianKiBps  int64
	SlowestKiBps int64
}

// Stats returns throughput statistics over completed transfers.
func (d *Downloader) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		Files:        d.throughput.TotalCount(),
		Bytes:        d.bytes,
		MeanKiBps:    d.throughput.Mean(),
		MedianKiBps:  d.throughput.ValueAtQuantile(50),
		SlowestKiBps: d.throughput.Min(),
	}
}

// LogStats writes the throughput summary of a step.
func (d *Downloader) LogStats(step string) {
	s := d.Stats()
	if s.Files == 0 {
		return
	}
	d.logger.Info("download throughput",
		slog.String("step", step),
		slog.Int64("files", s.Files),
		slog.Int64("bytes", s.Bytes),
		slog.Float64("mean_kib_s", s.MeanKiBps),
		slog.Int64("median_kib_s", s.MedianKiBps),
		slog.Int64("slowest_kib_s", s.SlowestKiBps),
	)
}
