// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/strmd/strmd/internal/api"
	"github.com/strmd/strmd/internal/catalog"
	"github.com/strmd/strmd/internal/config"
	"github.com/strmd/strmd/internal/ffmpeg"
	"github.com/strmd/strmd/internal/guard"
	"github.com/strmd/strmd/internal/heatmap"
	"github.com/strmd/strmd/internal/hls"
	"github.com/strmd/strmd/internal/log"
	"github.com/strmd/strmd/internal/remotecache"
)

const (
	shutdownGrace = 10 * time.Second
	cachePruneAge = 30 * 24 * time.Hour
	lockFileName  = "strmd.lock"
	sessionSubdir = "sessions"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the streaming daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(parent context.Context) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	log.Configure(log.Config{Level: cfg.LogLevel})
	logger := log.WithComponent("daemon")

	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}

	// One daemon per work dir: concurrent instances would fight over the
	// session directories and the catalog database.
	lock := flock.New(filepath.Join(cfg.WorkDir, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire instance lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another strmd instance is already running in %s", cfg.WorkDir)
	}
	defer func() {
		_ = lock.Unlock()
	}()

	store, err := catalog.Open(cfg.CatalogDBPath, log.WithComponent("catalog"))
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer store.Close()

	sessions := hls.NewManager(
		&hls.FFmpegSpawner{Bin: cfg.FFmpegBin, SegmentSeconds: cfg.SegmentSeconds},
		hls.Config{
			Root:          filepath.Join(cfg.WorkDir, sessionSubdir),
			MaxSessions:   cfg.MaxSessions,
			IdleTimeout:   cfg.SessionIdleTimeout,
			SweepInterval: cfg.SweepInterval,
		},
	)
	defer sessions.Shutdown()

	var heatmapCache *heatmap.Cache
	if cfg.HeatmapCacheDir != "" {
		heatmapCache, err = heatmap.OpenCache(cfg.HeatmapCacheDir)
		if err != nil {
			logger.Warn().Err(err).Msg("heatmap cache unavailable, continuing without")
		} else {
			defer heatmapCache.Close()
		}
	}
	prober := func(ctx context.Context, path string) (*ffmpeg.ProbeResult, error) {
		return ffmpeg.Probe(ctx, cfg.FFprobeBin, path)
	}
	engine := heatmap.NewEngine(&heatmap.FFmpegRunner{Bin: cfg.FFmpegBin}, prober, heatmapCache, cfg.HeatmapTimeout)

	var remote *remotecache.Cache
	if cfg.RemoteProviderURL != "" {
		remote = remotecache.New(cfg.RemoteCacheDir, remotecache.NewHTTPProvider(cfg.RemoteProviderURL))
		remote.LoadMetaSidecars()
	}

	srv := api.New(cfg, guard.New(store), store, sessions, engine, remote)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go sessions.Run(ctx)

	sched := cron.New()
	_, err = sched.AddFunc(cfg.MaintenanceSchedule, func() {
		logger.Info().Str("event", "maintenance.run").Msg("running scheduled maintenance")
		if heatmapCache != nil {
			heatmapCache.GC()
		}
		if remote != nil {
			remote.PruneOlderThan(time.Now().Add(-cachePruneAge).Unix())
		}
	})
	if err != nil {
		return fmt.Errorf("maintenance schedule: %w", err)
	}
	sched.Start()
	defer sched.Stop()

	// Log level follows the config file without a restart.
	go func() {
		err := config.Watch(ctx, cfgFile, log.WithComponent("config"), func(next config.Config) {
			log.SetLevel(next.LogLevel)
		})
		if err != nil {
			logger.Warn().Err(err).Msg("config watcher stopped")
		}
	}()

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("event", "daemon.listening").Str("addr", cfg.ListenAddr).Msg("serving")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Str("event", "daemon.stopping").Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		logger.Warn().Err(err).Msg("http shutdown did not finish cleanly")
	}
	return nil
}
