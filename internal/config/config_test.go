// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, ":8680", cfg.ListenAddr)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, 4, cfg.MaxSessions)
	require.Equal(t, 2*time.Minute, cfg.SessionIdleTimeout)
	require.Equal(t, 30*time.Second, cfg.SweepInterval)
	require.Equal(t, 10, cfg.SegmentSeconds)
	require.Equal(t, 2*time.Minute, cfg.HeatmapTimeout)
	require.Equal(t, "@every 6h", cfg.MaintenanceSchedule)
	require.True(t, filepath.IsAbs(cfg.WorkDir))
	require.Equal(t, filepath.Join(cfg.WorkDir, "catalog.db"), cfg.CatalogDBPath)
	require.Equal(t, filepath.Join(cfg.WorkDir, "remote-cache"), cfg.RemoteCacheDir)
}

func TestLoad_MissingFileIsNotAnError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strmd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_addr: ":9000"
log_level: debug
max_sessions: 8
session_idle_timeout: 5m
remote_provider_url: "https://origin.example.com/media"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.ListenAddr)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, 8, cfg.MaxSessions)
	require.Equal(t, 5*time.Minute, cfg.SessionIdleTimeout)
	require.Equal(t, "https://origin.example.com/media", cfg.RemoteProviderURL)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strmd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen_addr: \":9000\"\nmax_sessions: 8\n"), 0o644))

	t.Setenv("STRMD_LISTEN_ADDR", ":7777")
	t.Setenv("STRMD_MAX_SESSIONS", "2")
	t.Setenv("STRMD_HEATMAP_TIMEOUT", "90s")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":7777", cfg.ListenAddr)
	require.Equal(t, 2, cfg.MaxSessions)
	require.Equal(t, 90*time.Second, cfg.HeatmapTimeout)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	t.Setenv("STRMD_MAX_SESSIONS", "100")
	_, err := Load("")
	require.ErrorContains(t, err, "max_sessions")
}

func TestLoad_RejectsRelativeProviderURL(t *testing.T) {
	t.Setenv("STRMD_REMOTE_PROVIDER_URL", "not-a-url")
	_, err := Load("")
	require.ErrorContains(t, err, "remote_provider_url")
}

func TestLoad_MalformedYAMLFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strmd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen_addr: [unclosed"), 0o644))

	_, err := Load(path)
	require.ErrorContains(t, err, "parse config")
}
