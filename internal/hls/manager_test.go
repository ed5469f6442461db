// SPDX-License-Identifier: MIT

package hls

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeProcess blocks in Wait until killed or released.
type fakeProcess struct {
	mu       sync.Mutex
	done     chan struct{}
	killed   int
	waitErr  error
	released bool
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{done: make(chan struct{})}
}

func (p *fakeProcess) Wait() error {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr
}

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.killed++
	if !p.released {
		p.released = true
		p.waitErr = errors.New("killed")
		close(p.done)
	}
	return nil
}

func (p *fakeProcess) exit(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.released {
		p.released = true
		p.waitErr = err
		close(p.done)
	}
}

func (p *fakeProcess) killCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

// fakeSpawner counts spawns and optionally writes the playlist to disk so
// EnsureSession's polling succeeds.
type fakeSpawner struct {
	spawns        atomic.Int64
	writePlaylist bool
	spawnErr      error
	failProc      bool

	mu    sync.Mutex
	procs []*fakeProcess
}

func (f *fakeSpawner) Spawn(ctx context.Context, resolvedPath, outputDir string) (Process, error) {
	f.spawns.Add(1)
	if f.spawnErr != nil {
		return nil, f.spawnErr
	}
	p := newFakeProcess()
	f.mu.Lock()
	f.procs = append(f.procs, p)
	f.mu.Unlock()

	if f.failProc {
		p.exit(errors.New("boom"))
		return p, nil
	}
	if f.writePlaylist {
		if err := os.WriteFile(filepath.Join(outputDir, PlaylistName), []byte("#EXTM3U\n"), 0o644); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (f *fakeSpawner) lastProc() *fakeProcess {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.procs[len(f.procs)-1]
}

func testConfig(t *testing.T) Config {
	return Config{
		Root:            t.TempDir(),
		MaxSessions:     2,
		PlaylistRetries: 10,
		RetryInterval:   10 * time.Millisecond,
		IdleTimeout:     time.Hour,
		SweepInterval:   time.Hour,
	}
}

func TestEnsureSession_IsIdempotentPerKey(t *testing.T) {
	spawner := &fakeSpawner{writePlaylist: true}
	m := NewManager(spawner, testConfig(t))
	defer m.Shutdown()

	key := Fingerprint("/media/movie.mp4")
	require.NoError(t, m.EnsureSession(context.Background(), key, "/media/movie.mp4"))
	require.NoError(t, m.EnsureSession(context.Background(), key, "/media/movie.mp4"))

	require.Equal(t, int64(1), spawner.spawns.Load())
	dir, ok := m.SessionDir(key)
	require.True(t, ok)
	require.FileExists(t, filepath.Join(dir, PlaylistName))
}

func TestEnsureSession_RejectsAboveCeilingWithoutSpawning(t *testing.T) {
	spawner := &fakeSpawner{writePlaylist: true}
	m := NewManager(spawner, testConfig(t))
	defer m.Shutdown()

	for i := 0; i < 2; i++ {
		path := fmt.Sprintf("/media/movie-%d.mp4", i)
		require.NoError(t, m.EnsureSession(context.Background(), Fingerprint(path), path))
	}

	err := m.EnsureSession(context.Background(), Fingerprint("/media/one-too-many.mp4"), "/media/one-too-many.mp4")
	require.ErrorIs(t, err, ErrBusy)
	require.Equal(t, int64(2), spawner.spawns.Load(), "rejected session must not spawn")

	// An existing session still ensures fine while the pool is full.
	require.NoError(t, m.EnsureSession(context.Background(), Fingerprint("/media/movie-0.mp4"), "/media/movie-0.mp4"))
}

func TestStop_KillsProcessOnceAndRemovesDirectory(t *testing.T) {
	spawner := &fakeSpawner{writePlaylist: true}
	m := NewManager(spawner, testConfig(t))

	key := Fingerprint("/media/movie.mp4")
	require.NoError(t, m.EnsureSession(context.Background(), key, "/media/movie.mp4"))
	dir, ok := m.SessionDir(key)
	require.True(t, ok)

	proc := spawner.lastProc()
	m.Stop(key)
	m.Stop(key) // second stop is a no-op

	require.Equal(t, 1, proc.killCount())
	_, ok = m.SessionDir(key)
	require.False(t, ok)

	require.Eventually(t, func() bool {
		_, err := os.Stat(dir)
		return os.IsNotExist(err)
	}, time.Second, 10*time.Millisecond, "session dir should be deleted")
}

func TestStop_DoesNotKillExitedProcess(t *testing.T) {
	spawner := &fakeSpawner{writePlaylist: true}
	m := NewManager(spawner, testConfig(t))

	key := Fingerprint("/media/movie.mp4")
	require.NoError(t, m.EnsureSession(context.Background(), key, "/media/movie.mp4"))

	proc := spawner.lastProc()
	proc.exit(nil)

	// The exit watcher drops the handle; segments stay servable.
	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		s := m.sessions[key]
		return s != nil && s.exited
	}, time.Second, 10*time.Millisecond)

	m.Stop(key)
	require.Equal(t, 0, proc.killCount())
}

func TestEnsureSession_FailsFastOnPrematureExit(t *testing.T) {
	spawner := &fakeSpawner{failProc: true}
	m := NewManager(spawner, testConfig(t))

	key := Fingerprint("/media/movie.mp4")
	err := m.EnsureSession(context.Background(), key, "/media/movie.mp4")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrPlaylistTimeout)

	_, ok := m.SessionDir(key)
	require.False(t, ok, "failed session must not stay registered")
}

func TestEnsureSession_PlaylistTimeout(t *testing.T) {
	spawner := &fakeSpawner{writePlaylist: false}
	cfg := testConfig(t)
	cfg.PlaylistRetries = 3
	m := NewManager(spawner, cfg)

	key := Fingerprint("/media/movie.mp4")
	err := m.EnsureSession(context.Background(), key, "/media/movie.mp4")
	require.ErrorIs(t, err, ErrPlaylistTimeout)
}

func TestEnsureSession_SpawnErrorPropagates(t *testing.T) {
	spawner := &fakeSpawner{spawnErr: errors.New("no such binary")}
	m := NewManager(spawner, testConfig(t))

	err := m.EnsureSession(context.Background(), Fingerprint("/m.mp4"), "/m.mp4")
	require.ErrorContains(t, err, "spawn transcoder")
	require.Equal(t, 0, m.ActiveSessions())
}

func TestEnsureSession_CreatorDisconnectKeepsSharedSession(t *testing.T) {
	spawner := &fakeSpawner{writePlaylist: false}
	cfg := testConfig(t)
	cfg.PlaylistRetries = 1000
	m := NewManager(spawner, cfg)
	defer m.Shutdown()

	key := Fingerprint("/media/movie.mp4")
	creatorCtx, cancelCreator := context.WithCancel(context.Background())
	creatorErr := make(chan error, 1)
	go func() {
		creatorErr <- m.EnsureSession(creatorCtx, key, "/media/movie.mp4")
	}()

	// A second viewer attaches to the registered session via the fast path.
	require.Eventually(t, func() bool {
		_, ok := m.SessionDir(key)
		return ok
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, m.EnsureSession(context.Background(), key, "/media/movie.mp4"))

	cancelCreator()
	require.ErrorIs(t, <-creatorErr, context.Canceled)

	_, ok := m.SessionDir(key)
	require.True(t, ok, "session shared with other viewers must survive the creator's disconnect")
	require.Equal(t, 0, spawner.lastProc().killCount())
	require.Equal(t, int64(1), spawner.spawns.Load())
}

func TestSweep_StopsIdleSessions(t *testing.T) {
	spawner := &fakeSpawner{writePlaylist: true}
	cfg := testConfig(t)
	cfg.IdleTimeout = 20 * time.Millisecond
	m := NewManager(spawner, cfg)

	key := Fingerprint("/media/movie.mp4")
	require.NoError(t, m.EnsureSession(context.Background(), key, "/media/movie.mp4"))

	time.Sleep(40 * time.Millisecond)
	m.sweep()

	_, ok := m.SessionDir(key)
	require.False(t, ok, "idle session should have been swept")
	require.Equal(t, 1, spawner.lastProc().killCount())
}

func TestTouch_KeepsSessionAliveThroughSweep(t *testing.T) {
	spawner := &fakeSpawner{writePlaylist: true}
	cfg := testConfig(t)
	cfg.IdleTimeout = 50 * time.Millisecond
	m := NewManager(spawner, cfg)
	defer m.Shutdown()

	key := Fingerprint("/media/movie.mp4")
	require.NoError(t, m.EnsureSession(context.Background(), key, "/media/movie.mp4"))

	time.Sleep(30 * time.Millisecond)
	m.Touch(key)
	m.sweep()

	_, ok := m.SessionDir(key)
	require.True(t, ok, "touched session must survive the sweep")
}

func TestFingerprint_IsStableAndHex(t *testing.T) {
	a := Fingerprint("/media/movie.mp4")
	b := Fingerprint("/media/movie.mp4")
	c := Fingerprint("/media/other.mp4")
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	require.Len(t, a, 40)
}
