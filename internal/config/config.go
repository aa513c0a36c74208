// Package config provides deployment configuration for the InSAR pipeline.
// Per-run request parameters come from the command line; everything here is
// read from environment variables.
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds the complete application configuration loaded from environment variables.
type Config struct {
	WorkDir string `env:"WORK_DIR" envDefault:"."`

	Search    SearchConfig    `envPrefix:"SEARCH_"`
	ASF       ASFConfig       `envPrefix:"ASF_"`
	CMR       CMRConfig       `envPrefix:"CMR_"`
	Earthdata EarthdataConfig `envPrefix:"EARTHDATA_"`
	Download  DownloadConfig  `envPrefix:"DOWNLOAD_"`
	Orbit     OrbitConfig     `envPrefix:"ORBIT_"`
	DEM       DEMConfig       `envPrefix:"DEM_"`
	Engine    EngineConfig    `envPrefix:"ENGINE_"`
	Post      PostConfig      `envPrefix:"POST_"`
	Logging   LoggingConfig   `envPrefix:"LOG_"`
}

// SearchConfig selects the acquisition catalogue.
type SearchConfig struct {
	// Archive is "asf" (ASF Search API) or "cmr" (NASA CMR granule search).
	Archive string `env:"ARCHIVE" envDefault:"asf"`
}

// CMRConfig contains CMR API client configuration.
type CMRConfig struct {
	BaseURL  string        `env:"BASE_URL" envDefault:"https://cmr.earthdata.nasa.gov/search"`
	Provider string        `env:"PROVIDER" envDefault:"ASF"`
	Timeout  time.Duration `env:"TIMEOUT" envDefault:"60s"`
}

// ASFConfig contains ASF Search API client configuration.
type ASFConfig struct {
	BaseURL string        `env:"BASE_URL" envDefault:"https://api.daac.asf.alaska.edu"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"60s"`
}

// EarthdataConfig holds the credentials used by the SLC data pool.
type EarthdataConfig struct {
	Username string `env:"USERNAME"`
	Password string `env:"PASSWORD,unset"`
	AuthHost string `env:"AUTH_HOST" envDefault:"urs.earthdata.nasa.gov"`
}

// HasCredentials reports whether both username and password are set.
func (e EarthdataConfig) HasCredentials() bool {
	return e.Username != "" && e.Password != ""
}

// DownloadConfig controls the sequential downloader.
type DownloadConfig struct {
	MaxAttempts int           `env:"MAX_ATTEMPTS" envDefault:"3"`
	Backoff     time.Duration `env:"BACKOFF" envDefault:"5s"`
	Timeout     time.Duration `env:"TIMEOUT" envDefault:"2h"`
}

// OrbitConfig selects where orbit files are discovered.
type OrbitConfig struct {
	// Source is "asf" (s1qc index pages) or "s3" (public s1-orbits bucket).
	Source        string `env:"SOURCE" envDefault:"asf"`
	PrecisionURL  string `env:"POEORB_URL" envDefault:"https://s1qc.asf.alaska.edu/aux_poeorb/"`
	RestitutedURL string `env:"RESORB_URL" envDefault:"https://s1qc.asf.alaska.edu/aux_resorb/"`
	S3Bucket      string `env:"S3_BUCKET" envDefault:"s1-orbits"`
	S3Region      string `env:"S3_REGION" envDefault:"us-west-2"`
}

// DEMConfig controls DEM tile planning and stitching.
type DEMConfig struct {
	BaseURL       string        `env:"BASE_URL" envDefault:"https://step.esa.int/auxdata/dem/SRTMGL1"`
	Margin        float64       `env:"MARGIN" envDefault:"0.1"`
	StitchCommand string        `env:"STITCH_COMMAND" envDefault:"dem.py"`
	StitchTimeout time.Duration `env:"STITCH_TIMEOUT" envDefault:"30m"`
}

// EngineConfig controls the topsApp invocation and the generated workflow.
type EngineConfig struct {
	Command        string        `env:"COMMAND" envDefault:"topsApp.py"`
	EndStep        string        `env:"END_STEP" envDefault:"geocodeoffsets"`
	Timeout        time.Duration `env:"TIMEOUT" envDefault:"24h"`
	TailLines      int           `env:"TAIL_LINES" envDefault:"40"`
	UseGPU         bool          `env:"USE_GPU" envDefault:"true"`
	Swaths         []int         `env:"SWATHS" envDefault:"1,2,3" envSeparator:","`
	RangeLooks     int           `env:"RANGE_LOOKS" envDefault:"20"`
	AzimuthLooks   int           `env:"AZIMUTH_LOOKS" envDefault:"5"`
	FilterStrength float64       `env:"FILTER_STRENGTH" envDefault:"0.4"`
	Unwrapper      string        `env:"UNWRAPPER" envDefault:"snaphu_mcf"`
	Polarization   string        `env:"POLARIZATION" envDefault:"vv"`
}

// PostConfig controls post-processing.
type PostConfig struct {
	CoherenceThreshold float64 `env:"COHERENCE_THRESHOLD" envDefault:"0.3"`
	RenderPlots        bool    `env:"RENDER_PLOTS" envDefault:"true"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"text"`
}

// Load parses configuration from environment variables and validates it.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.WorkDir == "" {
		return fmt.Errorf("work directory is required")
	}

	if err := validURL("ASF base URL", c.ASF.BaseURL); err != nil {
		return err
	}
	if c.ASF.Timeout <= 0 {
		return fmt.Errorf("ASF timeout must be positive, got %s", c.ASF.Timeout)
	}
	switch c.Search.Archive {
	case "asf":
	case "cmr":
		if err := validURL("CMR base URL", c.CMR.BaseURL); err != nil {
			return err
		}
		if c.CMR.Provider == "" {
			return fmt.Errorf("CMR provider is required for archive cmr")
		}
		if c.CMR.Timeout <= 0 {
			return fmt.Errorf("CMR timeout must be positive, got %s", c.CMR.Timeout)
		}
	default:
		return fmt.Errorf("search archive must be 'asf' or 'cmr', got %q", c.Search.Archive)
	}

	if c.Download.MaxAttempts < 1 {
		return fmt.Errorf("download max attempts must be at least 1, got %d", c.Download.MaxAttempts)
	}
	if c.Download.Backoff < 0 {
		return fmt.Errorf("download backoff must not be negative, got %s", c.Download.Backoff)
	}
	if c.Download.Timeout <= 0 {
		return fmt.Errorf("download timeout must be positive, got %s", c.Download.Timeout)
	}

	switch c.Orbit.Source {
	case "asf":
		if err := validURL("precision orbit URL", c.Orbit.PrecisionURL); err != nil {
			return err
		}
		if err := validURL("restituted orbit URL", c.Orbit.RestitutedURL); err != nil {
			return err
		}
	case "s3":
		if c.Orbit.S3Bucket == "" || c.Orbit.S3Region == "" {
			return fmt.Errorf("orbit S3 bucket and region are required for source s3")
		}
	default:
		return fmt.Errorf("orbit source must be 'asf' or 's3', got %q", c.Orbit.Source)
	}

	if err := validURL("DEM base URL", c.DEM.BaseURL); err != nil {
		return err
	}
	if c.DEM.Margin < 0 || c.DEM.Margin > 5 {
		return fmt.Errorf("DEM margin must be between 0 and 5 degrees, got %v", c.DEM.Margin)
	}
	if c.DEM.StitchCommand == "" {
		return fmt.Errorf("DEM stitch command is required")
	}

	if c.Engine.Command == "" {
		return fmt.Errorf("engine command is required")
	}
	if c.Engine.EndStep == "" {
		return fmt.Errorf("engine end step is required")
	}
	if c.Engine.Timeout <= 0 {
		return fmt.Errorf("engine timeout must be positive, got %s", c.Engine.Timeout)
	}
	if c.Engine.TailLines < 1 {
		return fmt.Errorf("engine tail lines must be at least 1, got %d", c.Engine.TailLines)
	}
	if len(c.Engine.Swaths) == 0 {
		return fmt.Errorf("at least one swath is required")
	}
	for _, s := range c.Engine.Swaths {
		if s < 1 || s > 3 {
			return fmt.Errorf("swath must be 1, 2 or 3, got %d", s)
		}
	}
	if c.Engine.RangeLooks < 1 || c.Engine.AzimuthLooks < 1 {
		return fmt.Errorf("looks must be positive, got range %d azimuth %d", c.Engine.RangeLooks, c.Engine.AzimuthLooks)
	}
	if c.Engine.FilterStrength < 0 || c.Engine.FilterStrength > 1 {
		return fmt.Errorf("filter strength must be between 0 and 1, got %v", c.Engine.FilterStrength)
	}

	if c.Post.CoherenceThreshold < 0 || c.Post.CoherenceThreshold > 1 {
		return fmt.Errorf("coherence threshold must be between 0 and 1, got %v", c.Post.CoherenceThreshold)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level %q, must be one of: debug, info, warn, error", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format %q, must be one of: json, text", c.Logging.Format)
	}

	return nil
}

func validURL(name, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", name)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s %q is not an absolute URL", name, raw)
	}
	return nil
}
