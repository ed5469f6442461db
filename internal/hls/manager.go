// SPDX-License-Identifier: MIT

// Package hls owns per-file transcode sessions: one external transcoder
// process writing a segmented playlist into a session directory, a
// mutex-guarded registry keyed by path fingerprint, and an idle sweeper
// that reclaims processes and disk space.
package hls

import (
	"context"
	"crypto/sha1" // #nosec G505 -- registry key fingerprint, not a security boundary
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/load"

	"github.com/strmd/strmd/internal/log"
	"github.com/strmd/strmd/internal/metrics"
)

// PlaylistName is the variant playlist filename every session produces.
const PlaylistName = "playlist.m3u8"

// SegmentPattern is the ffmpeg filename template for session segments.
const SegmentPattern = "segment_%03d.ts"

// ErrBusy is returned when the session ceiling has been reached. It maps to
// a 503 at the HTTP boundary; no process is spawned for a rejected request.
var ErrBusy = errors.New("hls: transcode session limit reached")

// ErrPlaylistTimeout is returned when the transcoder never produced a
// playlist within the polling budget.
var ErrPlaylistTimeout = errors.New("hls: timed out waiting for playlist")

// Fingerprint derives the stable registry key for a resolved path.
func Fingerprint(resolvedPath string) string {
	sum := sha1.Sum([]byte(resolvedPath)) // #nosec G401
	return hex.EncodeToString(sum[:])
}

// Config tunes session lifetime and admission control.
type Config struct {
	Root            string        // parent of per-session output directories
	MaxSessions     int           // hard admission ceiling
	PlaylistRetries int           // playlist existence poll attempts
	RetryInterval   time.Duration // delay between poll attempts
	IdleTimeout     time.Duration // inactivity window before sweep
	SweepInterval   time.Duration // sweeper tick
}

func (c *Config) withDefaults() {
	if c.MaxSessions <= 0 {
		c.MaxSessions = 4
	}
	if c.PlaylistRetries <= 0 {
		c.PlaylistRetries = 50
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 200 * time.Millisecond
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 2 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 30 * time.Second
	}
}

// session is the registry entry for one transcode.
type session struct {
	key          string
	dir          string
	playlistPath string
	lastAccess   time.Time
	proc         Process // nil once exited or killed
	exited       bool
	exitCode     int
}

// Manager is the transcode session registry. All mutation happens under mu;
// process exit callbacks re-enter through markExited rather than touching
// the map directly.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*session
	spawner  Spawner
	cfg      Config
	log      zerolog.Logger
}

// NewManager creates a session manager rooted at cfg.Root.
func NewManager(spawner Spawner, cfg Config) *Manager {
	cfg.withDefaults()
	return &Manager{
		sessions: make(map[string]*session),
		spawner:  spawner,
		cfg:      cfg,
		log:      log.WithComponent("hls"),
	}
}

// EnsureSession guarantees a live (or already-produced) session for key.
// Existing sessions are touched and reused; otherwise a transcoder is
// spawned and the call blocks until the playlist appears or startup fails.
func (m *Manager) EnsureSession(ctx context.Context, key, resolvedPath string) error {
	m.mu.Lock()
	if s, ok := m.sessions[key]; ok {
		s.lastAccess = time.Now()
		m.mu.Unlock()
		return nil
	}

	if len(m.sessions) >= m.cfg.MaxSessions {
		m.mu.Unlock()
		m.logBusy(ctx, key)
		metrics.HLSSessionStartTotal.WithLabelValues("busy").Inc()
		return ErrBusy
	}

	// Register before unlocking so a concurrent EnsureSession for the same
	// key takes the fast path above instead of double-spawning.
	dir := filepath.Join(m.cfg.Root, key)
	s := &session{
		key:          key,
		dir:          dir,
		playlistPath: filepath.Join(dir, PlaylistName),
		lastAccess:   time.Now(),
	}
	m.sessions[key] = s
	metrics.HLSSessionsActive.Set(float64(len(m.sessions)))
	m.mu.Unlock()

	if err := m.startSession(ctx, s, resolvedPath); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// The creating client disconnected mid-startup. Other viewers may
			// already share the registered session via the fast path above,
			// so leave it running; the sweeper reclaims it once idle.
			metrics.HLSSessionStartTotal.WithLabelValues("canceled").Inc()
			return err
		}
		m.Stop(key)
		metrics.HLSSessionStartTotal.WithLabelValues("error").Inc()
		return err
	}
	metrics.HLSSessionStartTotal.WithLabelValues("ok").Inc()
	return nil
}

func (m *Manager) startSession(ctx context.Context, s *session, resolvedPath string) error {
	// #nosec G301 -- segments must be readable by the serving process
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	proc, err := m.spawner.Spawn(ctx, resolvedPath, s.dir)
	if err != nil {
		metrics.TranscoderSpawnTotal.WithLabelValues("hls", "error").Inc()
		return fmt.Errorf("spawn transcoder: %w", err)
	}
	metrics.TranscoderSpawnTotal.WithLabelValues("hls", "ok").Inc()

	m.mu.Lock()
	s.proc = proc
	m.mu.Unlock()

	m.log.Info().Str("event", "session.started").Str("key", s.key).Str("src", resolvedPath).Str("dir", s.dir).Msg("transcode session started")

	go m.watchExit(s, proc)

	return m.awaitPlaylist(ctx, s)
}

// watchExit marks the session as exited once the process terminates. The
// registry entry and any segments already on disk stay servable.
func (m *Manager) watchExit(s *session, proc Process) {
	err := proc.Wait()
	code := 0
	if err != nil {
		code = exitCodeOf(err)
	}

	m.mu.Lock()
	// Stop may have already dropped the handle; only record the first exit.
	if !s.exited {
		s.exited = true
		s.exitCode = code
		s.proc = nil
	}
	m.mu.Unlock()

	evt := m.log.Info()
	if code != 0 {
		evt = m.log.Warn()
	}
	evt.Str("event", "session.exited").Str("key", s.key).Int("exit_code", code).Msg("transcoder exited")
}

// awaitPlaylist polls for playlist creation with a bounded retry budget,
// failing fast if the transcoder dies first.
func (m *Manager) awaitPlaylist(ctx context.Context, s *session) error {
	for i := 0; i < m.cfg.PlaylistRetries; i++ {
		m.mu.Lock()
		exited, code := s.exited, s.exitCode
		m.mu.Unlock()
		if exited {
			return fmt.Errorf("hls: transcoder exited with code %d before playlist appeared", code)
		}

		if info, err := os.Stat(s.playlistPath); err == nil && info.Size() > 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.cfg.RetryInterval):
		}
	}
	return ErrPlaylistTimeout
}

// Touch refreshes the session's last access time. Called on every playlist
// and segment fetch so actively watched sessions survive the sweep.
func (m *Manager) Touch(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key]; ok {
		s.lastAccess = time.Now()
	}
}

// SessionDir returns the output directory for key. ok=false means the
// session is unknown (typically expired), which callers surface as 404.
func (m *Manager) SessionDir(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	if !ok {
		return "", false
	}
	return s.dir, true
}

// ActiveSessions reports the current registry size.
func (m *Manager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Stop force-kills the session's process if still alive, removes the
// registry entry, and deletes the output directory asynchronously.
// Directory removal failures are logged, never raised.
func (m *Manager) Stop(key string) {
	m.mu.Lock()
	s, ok := m.sessions[key]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, key)
	metrics.HLSSessionsActive.Set(float64(len(m.sessions)))

	proc := s.proc
	s.proc = nil // exited or killed processes are never killed twice
	alreadyExited := s.exited
	dir := s.dir
	m.mu.Unlock()

	if proc != nil && !alreadyExited {
		if err := proc.Kill(); err != nil {
			m.log.Warn().Err(err).Str("key", key).Msg("failed to kill transcoder")
		}
	}

	go func() {
		if err := os.RemoveAll(dir); err != nil {
			m.log.Warn().Err(err).Str("key", key).Str("dir", dir).Msg("failed to remove session dir")
		}
	}()

	m.log.Info().Str("event", "session.stopped").Str("key", key).Msg("transcode session stopped")
}

// Run drives the idle sweep until ctx is done. This is the only reclamation
// path for sessions nobody stopped explicitly.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	m.log.Info().Dur("interval", m.cfg.SweepInterval).Dur("idle_timeout", m.cfg.IdleTimeout).Msg("session sweeper started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Manager) sweep() {
	cutoff := time.Now().Add(-m.cfg.IdleTimeout)

	m.mu.Lock()
	var idle []string
	for key, s := range m.sessions {
		if s.lastAccess.Before(cutoff) {
			idle = append(idle, key)
		}
	}
	m.mu.Unlock()

	for _, key := range idle {
		m.log.Info().Str("event", "session.swept").Str("key", key).Msg("stopping idle session")
		m.Stop(key)
		metrics.HLSSessionsSweptTotal.Inc()
	}
}

// Shutdown stops every session. Called on daemon exit.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	keys := make([]string, 0, len(m.sessions))
	for key := range m.sessions {
		keys = append(keys, key)
	}
	m.mu.Unlock()

	for _, key := range keys {
		m.Stop(key)
	}
}

func (m *Manager) logBusy(ctx context.Context, key string) {
	evt := m.log.Warn().Str("event", "session.rejected").Str("key", key).Int("max_sessions", m.cfg.MaxSessions)
	if avg, err := load.AvgWithContext(ctx); err == nil {
		evt = evt.Float64("load1", avg.Load1)
	}
	evt.Msg("session ceiling reached")
}
