package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.WorkDir != "." {
		t.Errorf("expected default work dir ., got %s", cfg.WorkDir)
	}

	if cfg.ASF.BaseURL != "https://api.daac.asf.alaska.edu" {
		t.Errorf("expected default ASF base URL, got %s", cfg.ASF.BaseURL)
	}

	if cfg.Download.MaxAttempts != 3 {
		t.Errorf("expected default max attempts 3, got %d", cfg.Download.MaxAttempts)
	}

	if cfg.Orbit.Source != "asf" {
		t.Errorf("expected default orbit source asf, got %s", cfg.Orbit.Source)
	}

	if cfg.Search.Archive != "asf" {
		t.Errorf("expected default search archive asf, got %s", cfg.Search.Archive)
	}

	if cfg.CMR.Provider != "ASF" {
		t.Errorf("expected default CMR provider ASF, got %s", cfg.CMR.Provider)
	}

	if len(cfg.Engine.Swaths) != 3 || cfg.Engine.Swaths[2] != 3 {
		t.Errorf("expected default swaths [1 2 3], got %v", cfg.Engine.Swaths)
	}

	if cfg.Engine.EndStep != "geocodeoffsets" {
		t.Errorf("expected default end step geocodeoffsets, got %s", cfg.Engine.EndStep)
	}

	if cfg.Post.CoherenceThreshold != 0.3 {
		t.Errorf("expected default coherence threshold 0.3, got %v", cfg.Post.CoherenceThreshold)
	}

	if cfg.Logging.Level != "info" {
		t.Errorf("expected default log level info, got %s", cfg.Logging.Level)
	}
}

func TestLoadWithCustomValues(t *testing.T) {
	t.Setenv("WORK_DIR", "/data/run1")
	t.Setenv("ASF_TIMEOUT", "45s")
	t.Setenv("EARTHDATA_USERNAME", "alice")
	t.Setenv("EARTHDATA_PASSWORD", "secret")
	t.Setenv("DOWNLOAD_MAX_ATTEMPTS", "5")
	t.Setenv("ORBIT_SOURCE", "s3")
	t.Setenv("SEARCH_ARCHIVE", "cmr")
	t.Setenv("CMR_TIMEOUT", "10s")
	t.Setenv("ENGINE_SWATHS", "2")
	t.Setenv("ENGINE_USE_GPU", "false")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.WorkDir != "/data/run1" {
		t.Errorf("expected work dir /data/run1, got %s", cfg.WorkDir)
	}

	if cfg.ASF.Timeout != 45*time.Second {
		t.Errorf("expected ASF timeout 45s, got %s", cfg.ASF.Timeout)
	}

	if !cfg.Earthdata.HasCredentials() {
		t.Error("expected earthdata credentials to be loaded")
	}

	if cfg.Download.MaxAttempts != 5 {
		t.Errorf("expected max attempts 5, got %d", cfg.Download.MaxAttempts)
	}

	if cfg.Orbit.Source != "s3" {
		t.Errorf("expected orbit source s3, got %s", cfg.Orbit.Source)
	}

	if cfg.Search.Archive != "cmr" || cfg.CMR.Timeout != 10*time.Second {
		t.Errorf("expected CMR archive with 10s timeout, got %s %s", cfg.Search.Archive, cfg.CMR.Timeout)
	}

	if len(cfg.Engine.Swaths) != 1 || cfg.Engine.Swaths[0] != 2 {
		t.Errorf("expected swaths [2], got %v", cfg.Engine.Swaths)
	}

	if cfg.Engine.UseGPU {
		t.Error("expected GPU disabled")
	}

	if cfg.Logging.Format != "json" {
		t.Errorf("expected log format json, got %s", cfg.Logging.Format)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr string
	}{
		{name: "unparseable duration", key: "ASF_TIMEOUT", value: "soon", wantErr: "failed to parse"},
		{name: "zero attempts", key: "DOWNLOAD_MAX_ATTEMPTS", value: "0", wantErr: "max attempts"},
		{name: "unknown search archive", key: "SEARCH_ARCHIVE", value: "stac", wantErr: "search archive"},
		{name: "unknown orbit source", key: "ORBIT_SOURCE", value: "ftp", wantErr: "orbit source"},
		{name: "relative DEM URL", key: "DEM_BASE_URL", value: "/tiles", wantErr: "DEM base URL"},
		{name: "bad swath", key: "ENGINE_SWATHS", value: "1,4", wantErr: "swath"},
		{name: "coherence above one", key: "POST_COHERENCE_THRESHOLD", value: "1.5", wantErr: "coherence"},
		{name: "bad log level", key: "LOG_LEVEL", value: "verbose", wantErr: "log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			if err == nil {
				t.Fatalf("Load() succeeded with %s=%s", tt.key, tt.value)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestEarthdataConfig_HasCredentials(t *testing.T) {
	if (EarthdataConfig{Username: "u"}).HasCredentials() {
		t.Error("username alone is not a credential")
	}
	if !(EarthdataConfig{Username: "u", Password: "p"}).HasCredentials() {
		t.Error("username and password should count as credentials")
	}
}
