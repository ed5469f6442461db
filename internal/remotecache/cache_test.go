// SPDX-License-Identifier: MIT

package remotecache

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// blockingStream serves its payload, then blocks until released so tests
// can observe the serve-while-downloading window.
type blockingStream struct {
	payload  *strings.Reader
	release  chan struct{}
	closedMu sync.Mutex
	closed   bool
}

func newBlockingStream(payload string) *blockingStream {
	return &blockingStream{
		payload: strings.NewReader(payload),
		release: make(chan struct{}),
	}
}

func (s *blockingStream) Read(p []byte) (int, error) {
	n, err := s.payload.Read(p)
	if err == io.EOF && n == 0 {
		<-s.release
		return 0, io.EOF
	}
	return n, nil
}

func (s *blockingStream) Close() error {
	s.closedMu.Lock()
	defer s.closedMu.Unlock()
	if !s.closed {
		s.closed = true
		select {
		case <-s.release:
		default:
			close(s.release)
		}
	}
	return nil
}

type fakeProvider struct {
	meta    Metadata
	metaErr error

	opens      atomic.Int64
	lastOffset atomic.Int64
	openErr    error
	content    string
	stream     *blockingStream // when set, returned instead of content
}

func (p *fakeProvider) Metadata(ctx context.Context, remoteID string) (Metadata, error) {
	if p.metaErr != nil {
		return Metadata{}, p.metaErr
	}
	return p.meta, nil
}

func (p *fakeProvider) Open(ctx context.Context, remoteID string, offset int64) (io.ReadCloser, error) {
	p.opens.Add(1)
	p.lastOffset.Store(offset)
	if p.openErr != nil {
		return nil, p.openErr
	}
	if p.stream != nil {
		return p.stream, nil
	}
	return io.NopCloser(strings.NewReader(p.content[offset:])), nil
}

func waitForContent(t *testing.T, path, want string) {
	t.Helper()
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(path)
		return err == nil && string(data) == want
	}, 2*time.Second, 5*time.Millisecond)
}

func TestFilePath_ConcurrentCallersShareOneDownload(t *testing.T) {
	stream := newBlockingStream("mp4-bytes")
	p := &fakeProvider{
		meta:   Metadata{Size: 9, MimeType: "video/mp4"},
		stream: stream,
	}
	c := New(t.TempDir(), p)

	const callers = 2
	handles := make([]CachedFile, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles[i], errs[i] = c.FilePath(context.Background(), "movie.mp4")
		}(i)
	}
	wg.Wait()

	require.Equal(t, int64(1), p.opens.Load(), "concurrent callers must share one remote stream")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, handles[0].Path, handles[i].Path)
		require.Equal(t, int64(9), handles[i].Size)
	}

	// Callers returned while the download was still streaming.
	waitForContent(t, handles[0].Path, "mp4-bytes")
	stream.Close()
}

func TestFilePath_ReturnsBeforeDownloadCompletes(t *testing.T) {
	stream := newBlockingStream("partial")
	p := &fakeProvider{
		meta:   Metadata{Size: 1000, MimeType: "video/mp4"},
		stream: stream,
	}
	c := New(t.TempDir(), p)

	done := make(chan struct{})
	var handle CachedFile
	var err error
	go func() {
		defer close(done)
		handle, err = c.FilePath(context.Background(), "big.mp4")
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("FilePath must not wait for the full download")
	}
	require.NoError(t, err)
	require.FileExists(t, handle.Path)
	stream.Close()
}

func TestFilePath_MetadataFailureFallsBack(t *testing.T) {
	p := &fakeProvider{
		metaErr: errors.New("remote unavailable"),
		content: "x",
	}
	c := New(t.TempDir(), p)

	handle, err := c.FilePath(context.Background(), "movie.mp4")
	require.NoError(t, err)
	require.Equal(t, int64(0), handle.Size)
	require.Equal(t, "video/mp4", handle.MimeType)
}

func TestFilePath_ResumesShortPartialFile(t *testing.T) {
	dir := t.TempDir()
	p := &fakeProvider{
		meta:    Metadata{Size: 10, MimeType: "video/mp4"},
		content: "0123456789",
	}
	c := New(dir, p)

	local := filepath.Join(dir, "movie.mp4")
	require.NoError(t, os.WriteFile(local, []byte("0123"), 0o644))

	handle, err := c.FilePath(context.Background(), "movie.mp4")
	require.NoError(t, err)
	require.Equal(t, local, handle.Path)

	// Resume appends the missing tail from the recorded offset.
	waitForContent(t, local, "0123456789")
	require.Equal(t, int64(4), p.lastOffset.Load())
}

func TestFilePath_CompleteFileSkipsDownload(t *testing.T) {
	dir := t.TempDir()
	p := &fakeProvider{meta: Metadata{Size: 4, MimeType: "video/mp4"}}
	c := New(dir, p)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "movie.mp4"), []byte("done"), 0o644))

	_, err := c.FilePath(context.Background(), "movie.mp4")
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, int64(0), p.opens.Load())
}

func TestFilePath_OpenFailureRejectsCallers(t *testing.T) {
	p := &fakeProvider{
		meta:    Metadata{Size: 10, MimeType: "video/mp4"},
		openErr: errors.New("403 from origin"),
	}
	c := New(t.TempDir(), p)

	_, err := c.FilePath(context.Background(), "movie.mp4")
	require.ErrorContains(t, err, "open remote stream")
}

func TestFilePath_RejectsUnsafeIDs(t *testing.T) {
	c := New(t.TempDir(), &fakeProvider{})

	for _, id := range []string{"", "../etc/passwd", "a/b.mp4", ".hidden.mp4"} {
		_, err := c.FilePath(context.Background(), id)
		require.Error(t, err, "id %q must be rejected", id)
	}
}

func TestMetaSidecars_SurviveRestart(t *testing.T) {
	dir := t.TempDir()
	p := &fakeProvider{
		meta:    Metadata{Size: 5, MimeType: "video/x-matroska"},
		content: "bytes",
	}
	c := New(dir, p)

	_, err := c.FilePath(context.Background(), "movie.mkv")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, "movie.mkv.meta.json"))
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)

	// A fresh cache with a failing provider still knows the metadata.
	c2 := New(dir, &fakeProvider{metaErr: errors.New("down")})
	c2.LoadMetaSidecars()
	handle, err := c2.FilePath(context.Background(), "movie.mkv")
	require.NoError(t, err)
	require.Equal(t, int64(5), handle.Size)
	require.Equal(t, "video/x-matroska", handle.MimeType)
}

func TestCleanup_RemovesCacheDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "movie.mp4"), []byte("x"), 0o644))

	c := New(dir, &fakeProvider{})
	c.Cleanup()

	_, err := os.Stat(dir)
	require.True(t, os.IsNotExist(err))
}
