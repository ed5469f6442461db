// SPDX-License-Identifier: MIT

// Package config loads and validates the strmd daemon configuration from a
// YAML file with environment variable overrides.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full daemon configuration.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`

	// WorkDir holds the instance lock, HLS session directories and the
	// catalog database unless overridden below.
	WorkDir         string `yaml:"work_dir"`
	CatalogDBPath   string `yaml:"catalog_db_path"`
	RemoteCacheDir  string `yaml:"remote_cache_dir"`
	HeatmapCacheDir string `yaml:"heatmap_cache_dir"` // empty disables heatmap caching

	// RemoteProviderURL is the base URL of the remote media provider.
	// Empty disables the /remote routes.
	RemoteProviderURL string `yaml:"remote_provider_url"`

	FFmpegBin  string `yaml:"ffmpeg_bin"`
	FFprobeBin string `yaml:"ffprobe_bin"`

	MaxSessions        int           `yaml:"max_sessions"`
	SessionIdleTimeout time.Duration `yaml:"session_idle_timeout"`
	SweepInterval      time.Duration `yaml:"sweep_interval"`
	SegmentSeconds     int           `yaml:"segment_seconds"`

	HeatmapTimeout time.Duration `yaml:"heatmap_timeout"`

	// RequestsPerMinute caps per-IP request rates on the HTTP surface.
	RequestsPerMinute int `yaml:"requests_per_minute"`

	// MaintenanceSchedule is a cron spec for cache pruning ("@every 6h").
	MaintenanceSchedule string `yaml:"maintenance_schedule"`
}

// Load reads the configuration file at path (optional), applies environment
// overrides and fills defaults. A missing file is not an error; env and
// defaults alone produce a usable config.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 -- operator-provided config path
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	applyEnv(&cfg)
	withDefaults(&cfg)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setStr := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, key string) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setDur := func(dst *time.Duration, key string) {
		if v := os.Getenv(key); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}

	setStr(&cfg.ListenAddr, "STRMD_LISTEN_ADDR")
	setStr(&cfg.LogLevel, "STRMD_LOG_LEVEL")
	setStr(&cfg.WorkDir, "STRMD_WORK_DIR")
	setStr(&cfg.CatalogDBPath, "STRMD_CATALOG_DB")
	setStr(&cfg.RemoteCacheDir, "STRMD_REMOTE_CACHE_DIR")
	setStr(&cfg.HeatmapCacheDir, "STRMD_HEATMAP_CACHE_DIR")
	setStr(&cfg.RemoteProviderURL, "STRMD_REMOTE_PROVIDER_URL")
	setStr(&cfg.FFmpegBin, "STRMD_FFMPEG_BIN")
	setStr(&cfg.FFprobeBin, "STRMD_FFPROBE_BIN")
	setInt(&cfg.MaxSessions, "STRMD_MAX_SESSIONS")
	setInt(&cfg.SegmentSeconds, "STRMD_SEGMENT_SECONDS")
	setInt(&cfg.RequestsPerMinute, "STRMD_REQUESTS_PER_MINUTE")
	setDur(&cfg.SessionIdleTimeout, "STRMD_SESSION_IDLE_TIMEOUT")
	setDur(&cfg.SweepInterval, "STRMD_SWEEP_INTERVAL")
	setDur(&cfg.HeatmapTimeout, "STRMD_HEATMAP_TIMEOUT")
	setStr(&cfg.MaintenanceSchedule, "STRMD_MAINTENANCE_SCHEDULE")
}

func withDefaults(cfg *Config) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8680"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = filepath.Join(os.TempDir(), "strmd")
	}
	if abs, err := filepath.Abs(cfg.WorkDir); err == nil {
		cfg.WorkDir = abs
	}
	if cfg.CatalogDBPath == "" {
		cfg.CatalogDBPath = filepath.Join(cfg.WorkDir, "catalog.db")
	}
	if cfg.RemoteCacheDir == "" {
		cfg.RemoteCacheDir = filepath.Join(cfg.WorkDir, "remote-cache")
	}
	if cfg.FFmpegBin == "" {
		cfg.FFmpegBin = "ffmpeg"
	}
	if cfg.FFprobeBin == "" {
		cfg.FFprobeBin = "ffprobe"
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 4
	}
	if cfg.SessionIdleTimeout <= 0 {
		cfg.SessionIdleTimeout = 2 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	if cfg.SegmentSeconds <= 0 {
		cfg.SegmentSeconds = 10
	}
	if cfg.HeatmapTimeout <= 0 {
		cfg.HeatmapTimeout = 2 * time.Minute
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 600
	}
	if cfg.MaintenanceSchedule == "" {
		cfg.MaintenanceSchedule = "@every 6h"
	}
}

func (c Config) validate() error {
	if c.MaxSessions > 64 {
		return fmt.Errorf("max_sessions %d exceeds hard limit 64", c.MaxSessions)
	}
	if c.RemoteProviderURL != "" {
		u, err := url.Parse(c.RemoteProviderURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("remote_provider_url %q is not an absolute URL", c.RemoteProviderURL)
		}
	}
	return nil
}
