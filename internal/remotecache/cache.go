// SPDX-License-Identifier: MIT

// Package remotecache materializes remote media to local disk on demand.
// Callers receive a local path as soon as the file exists and is writable;
// the download keeps appending while readers stream the partial file.
package remotecache

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/strmd/strmd/internal/log"
	"github.com/strmd/strmd/internal/metrics"
)

const fallbackMimeType = "video/mp4"

// Metadata describes a remote file.
type Metadata struct {
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
}

// Provider is the remote-file abstraction the cache downloads from.
type Provider interface {
	Metadata(ctx context.Context, remoteID string) (Metadata, error)
	// Open returns the remote byte stream starting at offset.
	Open(ctx context.Context, remoteID string, offset int64) (io.ReadCloser, error)
}

// CachedFile is the caller-visible handle to a (possibly still growing)
// local copy.
type CachedFile struct {
	Path     string
	Size     int64 // total remote size, 0 if unknown
	MimeType string
}

// inflight tracks one running download. created is closed the moment the
// local file is ready for partial reads (or creation failed, with err set
// first); the download itself usually keeps running long after.
type inflight struct {
	created chan struct{}
	err     error
}

// Cache streams remote files to a local directory while serving concurrent
// partial reads. Metadata is memoized per remote ID for the process
// lifetime; concurrent requests for the same ID share one download.
type Cache struct {
	dir      string
	provider Provider

	metaSF singleflight.Group

	mu        sync.Mutex
	meta      map[string]Metadata
	downloads map[string]*inflight

	log zerolog.Logger
}

// New creates a cache rooted at dir.
func New(dir string, provider Provider) *Cache {
	return &Cache{
		dir:       dir,
		provider:  provider,
		meta:      make(map[string]Metadata),
		downloads: make(map[string]*inflight),
		log:       log.WithComponent("remote-cache"),
	}
}

// FilePath returns the local path for remoteID, starting or resuming the
// download as needed. For a missing file the call blocks only until the
// local file is created and writable, never until the download completes.
func (c *Cache) FilePath(ctx context.Context, remoteID string) (CachedFile, error) {
	if remoteID == "" || filepath.Base(remoteID) != remoteID || strings.HasPrefix(remoteID, ".") {
		return CachedFile{}, fmt.Errorf("remotecache: invalid remote id %q", remoteID)
	}

	meta := c.metadata(ctx, remoteID)
	localPath := filepath.Join(c.dir, remoteID)
	handle := CachedFile{Path: localPath, Size: meta.Size, MimeType: meta.MimeType}

	c.mu.Lock()
	dl, downloading := c.downloads[remoteID]

	if info, err := os.Stat(localPath); err == nil {
		// Local copy exists. Resume opportunistically in the background if
		// it is short and nothing is already fetching it. Fire-and-forget:
		// the caller gets the growing partial file immediately.
		if !downloading && meta.Size > 0 && info.Size() < meta.Size {
			resume := &inflight{created: make(chan struct{})}
			close(resume.created)
			c.downloads[remoteID] = resume
			metrics.RemoteDownloadsStartedTotal.WithLabelValues("resume").Inc()
			go c.download(remoteID, localPath, info.Size(), resume)
		}
		c.mu.Unlock()
		return handle, nil
	}

	if !downloading {
		dl = &inflight{created: make(chan struct{})}
		c.downloads[remoteID] = dl
		metrics.RemoteDownloadsStartedTotal.WithLabelValues("fresh").Inc()
		go c.download(remoteID, localPath, 0, dl)
	}
	c.mu.Unlock()

	select {
	case <-dl.created:
	case <-ctx.Done():
		return CachedFile{}, ctx.Err()
	}
	if dl.err != nil {
		return CachedFile{}, dl.err
	}
	return handle, nil
}

// Downloading reports whether a download for remoteID is currently in
// flight. Serving code uses it to decide whether a short local copy will
// still grow.
func (c *Cache) Downloading(remoteID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.downloads[remoteID]
	return ok
}

// metadata fetches and memoizes remote metadata. Fetch failures degrade to
// a zero-size fallback so playback can still attempt to proceed.
func (c *Cache) metadata(ctx context.Context, remoteID string) Metadata {
	c.mu.Lock()
	if m, ok := c.meta[remoteID]; ok {
		c.mu.Unlock()
		return m
	}
	c.mu.Unlock()

	v, _, _ := c.metaSF.Do(remoteID, func() (any, error) {
		m, err := c.provider.Metadata(ctx, remoteID)
		if err != nil {
			c.log.Warn().Err(err).Str("remote_id", remoteID).Msg("metadata fetch failed, using fallback")
			m = Metadata{Size: 0, MimeType: fallbackMimeType}
		}
		if m.MimeType == "" {
			m.MimeType = fallbackMimeType
		}
		c.mu.Lock()
		c.meta[remoteID] = m
		c.mu.Unlock()
		c.writeMetaSidecar(remoteID, m)
		return m, nil
	})
	return v.(Metadata)
}

// markCreated publishes the file-creation outcome exactly once.
func (dl *inflight) markCreated(err error) {
	select {
	case <-dl.created:
		// Already handed off (resume case); late errors are stream errors.
	default:
		dl.err = err
		close(dl.created)
	}
}

// download pipes the remote stream into the local file. A creation error
// rejects waiting callers; any stream error after the handoff only
// truncates the local copy, so readers see EOF rather than a crash.
func (c *Cache) download(remoteID, localPath string, offset int64, dl *inflight) {
	defer func() {
		c.mu.Lock()
		if c.downloads[remoteID] == dl {
			delete(c.downloads, remoteID)
		}
		c.mu.Unlock()
	}()

	// The download owns its own lifetime; the request that triggered it may
	// be gone long before the stream finishes.
	ctx := context.Background()

	if err := os.MkdirAll(c.dir, 0o755); err != nil { // #nosec G301
		dl.markCreated(fmt.Errorf("remotecache: create cache dir: %w", err))
		return
	}

	flags := os.O_CREATE | os.O_WRONLY
	if offset > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(localPath, flags, 0o644) // #nosec G304 -- path is cacheDir/baseName, validated by FilePath
	if err != nil {
		dl.markCreated(fmt.Errorf("remotecache: create local file: %w", err))
		return
	}
	defer func() {
		if err := f.Close(); err != nil {
			c.log.Warn().Err(err).Str("remote_id", remoteID).Msg("failed to close cache file")
		}
	}()

	stream, err := c.provider.Open(ctx, remoteID, offset)
	if err != nil {
		dl.markCreated(fmt.Errorf("remotecache: open remote stream: %w", err))
		return
	}
	defer func() {
		if err := stream.Close(); err != nil {
			c.log.Warn().Err(err).Str("remote_id", remoteID).Msg("failed to close remote stream")
		}
	}()

	// File created and stream open: hand the partial file to the callers.
	dl.markCreated(nil)

	n, err := io.Copy(f, stream)
	metrics.RemoteDownloadBytes.Add(float64(n))
	if err != nil {
		c.log.Warn().Err(err).Str("remote_id", remoteID).Int64("written", n).Msg("remote stream failed mid-download, local copy truncated")
		return
	}
	c.log.Info().Str("event", "download.done").Str("remote_id", remoteID).Int64("bytes", n+offset).Msg("remote file fully cached")
}

// writeMetaSidecar persists metadata next to the cached file so a restarted
// daemon can trust partial files. Best-effort.
func (c *Cache) writeMetaSidecar(remoteID string, m Metadata) {
	if err := os.MkdirAll(c.dir, 0o755); err != nil { // #nosec G301
		return
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return
	}
	path := filepath.Join(c.dir, remoteID+".meta.json")
	if err := renameio.WriteFile(path, payload, 0o644); err != nil {
		c.log.Warn().Err(err).Str("remote_id", remoteID).Msg("failed to write metadata sidecar")
	}
}

// LoadMetaSidecars warms the in-memory metadata map from sidecar files.
func (c *Cache) LoadMetaSidecars() {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return
	}
	const suffix = ".meta.json"
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, suffix) || name == suffix {
			continue
		}
		data, err := os.ReadFile(filepath.Join(c.dir, name)) // #nosec G304 -- entries of the cache dir itself
		if err != nil {
			continue
		}
		var m Metadata
		if json.Unmarshal(data, &m) != nil {
			continue
		}
		id := strings.TrimSuffix(name, suffix)
		c.mu.Lock()
		if _, ok := c.meta[id]; !ok {
			c.meta[id] = m
		}
		c.mu.Unlock()
	}
}

// PruneOlderThan removes cached files (and their sidecars) whose mtime is
// older than the cutoff. Used by the maintenance schedule; errors logged.
func (c *Cache) PruneOlderThan(cutoffSeconds int64) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Unix() >= cutoffSeconds {
			continue
		}
		id := e.Name()
		c.mu.Lock()
		_, downloading := c.downloads[strings.TrimSuffix(id, ".meta.json")]
		c.mu.Unlock()
		if downloading {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, id)); err != nil {
			c.log.Warn().Err(err).Str("name", id).Msg("cache prune failed")
		}
	}
}

// Cleanup deletes the entire cache directory recursively. Errors are
// logged, never raised.
func (c *Cache) Cleanup() {
	if err := os.RemoveAll(c.dir); err != nil {
		c.log.Warn().Err(err).Str("dir", c.dir).Msg("cache cleanup failed")
	}
}
