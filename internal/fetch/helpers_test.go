package fetch

import (
	"archive/zip"
	"bytes"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/paulmach/orb"

	"github.com/robert-malhotra/asf-insar/internal/insar"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func zipBytes(t *testing.T, name, content string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(name)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

const orbitBody = `<?xml version="1.0" ?>
<Earth_Explorer_File>
  <Earth_Explorer_Header/>
  <Data_Block type="xml"/>
</Earth_Explorer_File>
`

func testDownloader(creds Credentials) *Downloader {
	return NewDownloader(DownloaderConfig{
		MaxAttempts: 3,
		Backoff:     time.Millisecond,
		Timeout:     5 * time.Second,
		Credentials: creds,
	}, discard)
}

var testCreds = Credentials{Username: "user", Password: "secret", AuthHost: "127.0.0.1"}

func square(lon, lat, half float64) orb.Polygon {
	return orb.Polygon{orb.Ring{
		{lon - half, lat - half}, {lon + half, lat - half},
		{lon + half, lat + half}, {lon - half, lat + half},
		{lon - half, lat - half},
	}}
}

func testPair(baseURL string) insar.ImagePair {
	ref := time.Date(2025, 11, 10, 3, 30, 0, 0, time.UTC)
	sec := time.Date(2025, 11, 22, 3, 30, 0, 0, time.UTC)
	return insar.ImagePair{
		Reference: insar.Acquisition{
			ID:            "S1A_IW_SLC__1SDV_20251110T033000_20251110T033027_061000_079000_AAAA",
			FileName:      "S1A_IW_SLC__1SDV_20251110T033000_20251110T033027_061000_079000_AAAA.zip",
			URL:           baseURL + "/S1A_IW_SLC__1SDV_20251110T033000_20251110T033027_061000_079000_AAAA.zip",
			Platform:      "Sentinel-1A",
			RelativeOrbit: 14,
			StartTime:     ref,
			Footprint:     square(40.7, 13.6, 0.5),
		},
		Secondary: insar.Acquisition{
			ID:            "S1A_IW_SLC__1SDV_20251122T033000_20251122T033027_061175_079100_BBBB",
			FileName:      "S1A_IW_SLC__1SDV_20251122T033000_20251122T033027_061175_079100_BBBB.zip",
			URL:           baseURL + "/S1A_IW_SLC__1SDV_20251122T033000_20251122T033027_061175_079100_BBBB.zip",
			Platform:      "Sentinel-1A",
			RelativeOrbit: 14,
			StartTime:     sec,
			Footprint:     square(40.7, 13.6, 0.5),
		},
	}
}
