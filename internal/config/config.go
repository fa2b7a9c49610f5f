// Package config loads the nearspeed YAML configuration file and merges it
// with built-in defaults and environment overrides.
package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/nearspeed/nearspeed/speedtest"
	"gopkg.in/yaml.v3"
)

const (
	appName            = "nearspeed"
	DefaultServerList  = "servers.json"
	maxProbeConcurrent = 64

	EnvServerList = "NEARSPEED_SERVER_LIST"
	EnvTimeout    = "NEARSPEED_TIMEOUT"
)

// Config is the effective configuration. Zero durations and sizes mean the
// library defaults.
type Config struct {
	ServerList       string        `yaml:"server_list,omitempty"`
	Timeout          time.Duration `yaml:"timeout,omitempty"`
	ProbeTimeout     time.Duration `yaml:"probe_timeout,omitempty"`
	LocationTimeout  time.Duration `yaml:"location_timeout,omitempty"`
	UploadSizeMB     int           `yaml:"upload_size_mb,omitempty"`
	LocationURL      string        `yaml:"location_url,omitempty"`
	ProbeConcurrency int           `yaml:"probe_concurrency,omitempty"`
	RateLimitMbps    float64       `yaml:"rate_limit_mbps,omitempty"`
	HistoryDB        string        `yaml:"history_db,omitempty"`
	GeoIPDB          string        `yaml:"geoip_db,omitempty"`
	Unit             string        `yaml:"unit,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ServerList:       DefaultServerList,
		Timeout:          speedtest.DefaultTransferTimeout,
		ProbeTimeout:     speedtest.DefaultProbeTimeout,
		LocationTimeout:  speedtest.DefaultLocationTimeout,
		UploadSizeMB:     speedtest.DefaultUploadSize / speedtest.MiB,
		LocationURL:      speedtest.DefaultLocationURL,
		ProbeConcurrency: 1,
		HistoryDB:        DefaultHistoryPath(),
		Unit:             "mbps",
	}
}

func xdgDir(env, fallback string) string {
	dir := os.Getenv(env)
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, fallback)
	}
	return filepath.Join(dir, appName)
}

// DefaultPath is $XDG_CONFIG_HOME/nearspeed/config.yaml.
func DefaultPath() string {
	dir := xdgDir("XDG_CONFIG_HOME", ".config")
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "config.yaml")
}

// DefaultHistoryPath is $XDG_DATA_HOME/nearspeed/history.db.
func DefaultHistoryPath() string {
	dir := xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
	if dir == "" {
		return "history.db"
	}
	return filepath.Join(dir, "history.db")
}

// Load returns the defaults overlaid with the file at path. An empty path
// means DefaultPath, which may be absent; an explicit path must exist.
func Load(path string) (*Config, error) {
	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	if err := file.validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	cfg.merge(&file)
	return cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.Timeout < 0:
		return fmt.Errorf("invalid timeout: %s (must be positive)", c.Timeout)
	case c.ProbeTimeout < 0:
		return fmt.Errorf("invalid probe_timeout: %s (must be positive)", c.ProbeTimeout)
	case c.LocationTimeout < 0:
		return fmt.Errorf("invalid location_timeout: %s (must be positive)", c.LocationTimeout)
	case c.UploadSizeMB < 0:
		return fmt.Errorf("invalid upload_size_mb: %d (must be positive)", c.UploadSizeMB)
	case c.ProbeConcurrency < 0 || c.ProbeConcurrency > maxProbeConcurrent:
		return fmt.Errorf("invalid probe_concurrency: %d (must be 1-%d)", c.ProbeConcurrency, maxProbeConcurrent)
	case c.RateLimitMbps < 0:
		return fmt.Errorf("invalid rate_limit_mbps: %g (must be positive)", c.RateLimitMbps)
	}
	if c.LocationURL != "" {
		u, err := url.Parse(c.LocationURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid location_url: %s", c.LocationURL)
		}
	}
	if c.Unit != "" {
		if _, err := speedtest.ParseUnit(c.Unit); err != nil {
			return err
		}
	}
	return nil
}

// merge copies the non-zero fields of o into c.
func (c *Config) merge(o *Config) {
	if o.ServerList != "" {
		c.ServerList = o.ServerList
	}
	if o.Timeout > 0 {
		c.Timeout = o.Timeout
	}
	if o.ProbeTimeout > 0 {
		c.ProbeTimeout = o.ProbeTimeout
	}
	if o.LocationTimeout > 0 {
		c.LocationTimeout = o.LocationTimeout
	}
	if o.UploadSizeMB > 0 {
		c.UploadSizeMB = o.UploadSizeMB
	}
	if o.LocationURL != "" {
		c.LocationURL = o.LocationURL
	}
	if o.ProbeConcurrency > 0 {
		c.ProbeConcurrency = o.ProbeConcurrency
	}
	if o.RateLimitMbps > 0 {
		c.RateLimitMbps = o.RateLimitMbps
	}
	if o.HistoryDB != "" {
		c.HistoryDB = o.HistoryDB
	}
	if o.GeoIPDB != "" {
		c.GeoIPDB = o.GeoIPDB
	}
	if o.Unit != "" {
		c.Unit = o.Unit
	}
}

// ApplyEnv overlays NEARSPEED_* variables read through getenv. Invalid values
// are reported to warn and ignored.
func (c *Config) ApplyEnv(getenv func(string) string, warn io.Writer) {
	if val := getenv(EnvServerList); val != "" {
		c.ServerList = val
	}
	if val := getenv(EnvTimeout); val != "" {
		if d, err := time.ParseDuration(val); err == nil && d > 0 {
			c.Timeout = d
		} else {
			fmt.Fprintf(warn, "%s: warning: invalid %s value '%s' (must be a positive duration), ignoring\n", appName, EnvTimeout, val)
		}
	}
}

// UnitType resolves the configured display unit.
func (c *Config) UnitType() speedtest.UnitType {
	u, _ := speedtest.ParseUnit(c.Unit)
	return u
}

// UserConfig converts c into library options.
func (c *Config) UserConfig() *speedtest.UserConfig {
	return &speedtest.UserConfig{
		TransferTimeout:  c.Timeout,
		ProbeTimeout:     c.ProbeTimeout,
		LocationTimeout:  c.LocationTimeout,
		UploadSize:       int64(c.UploadSizeMB) * speedtest.MiB,
		LocationURL:      c.LocationURL,
		ProbeConcurrency: c.ProbeConcurrency,
		RateLimit:        c.RateLimitMbps * 1e6 / 8,
	}
}
