// SPDX-License-Identifier: MIT

package api

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/strmd/strmd/internal/log"
	"github.com/strmd/strmd/internal/metrics"
)

// Extensions the stdlib mime table misses or resolves unhelpfully.
var extraMimeTypes = map[string]string{
	".mkv":  "video/x-matroska",
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".webm": "video/webm",
	".avi":  "video/x-msvideo",
	".mov":  "video/quicktime",
	".ts":   "video/MP2T",
	".m3u8": "application/vnd.apple.mpegurl",
	".srt":  "text/plain; charset=utf-8",
	".flac": "audio/flac",
	".mp3":  "audio/mpeg",
}

func contentTypeFor(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ct, ok := extraMimeTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// handleRaw serves raw file bytes for GET /<path>, honoring single-span
// Range requests. The guard decides first; the URL path is the requested
// file path.
func (s *Server) handleRaw(w http.ResponseWriter, r *http.Request) {
	requested := r.URL.Path

	res := s.guard.Authorize(r.Context(), requested)
	if !res.Allowed {
		writeDenial(w, res)
		return
	}
	metrics.RecordFileRequestAllowed()

	info, err := os.Stat(res.ResolvedPath)
	if err != nil || info.IsDir() {
		writeNotFound(w)
		return
	}

	s.serveFileRange(w, r, res.ResolvedPath, info.Size(), contentTypeFor(res.ResolvedPath))
}

// serveFileRange streams the negotiated span of the file at path, which is
// totalSize bytes long on disk.
func (s *Server) serveFileRange(w http.ResponseWriter, r *http.Request, path string, totalSize int64, contentType string) {
	offset, n, body := negotiateRange(w, r, totalSize, contentType)
	if !body {
		return
	}
	s.copyFile(w, r, path, offset, n)
}

// negotiateRange parses the Range header against totalSize, commits the
// response status and headers, and returns the byte window to stream.
// body=false means the response needs no body (HEAD, or a 416 was already
// written). totalSize <= 0 disables range math; n is then -1, meaning
// stream until EOF with no Content-Length promise.
func negotiateRange(w http.ResponseWriter, r *http.Request, totalSize int64, contentType string) (offset, n int64, body bool) {
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", contentType)

	if totalSize <= 0 {
		w.WriteHeader(http.StatusOK)
		return 0, -1, r.Method != http.MethodHead
	}

	rangeHeader := r.Header.Get("Range")
	span, err := parseRange(rangeHeader, totalSize)
	if err != nil {
		if errors.Is(err, errUnsatisfiable) {
			writeUnsatisfiable(w, totalSize)
		} else {
			writeInternalError(w)
		}
		return 0, 0, false
	}

	w.Header().Set("Content-Length", strconv.FormatInt(span.length(), 10))
	if rangeHeader != "" {
		w.Header().Set("Content-Range", contentRange(span, totalSize))
		w.WriteHeader(http.StatusPartialContent)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	return span.Start, span.length(), r.Method != http.MethodHead
}

// copyFile streams n bytes of path starting at offset into w; n < 0 means
// until EOF. Errors after headers are in flight can only be logged.
func (s *Server) copyFile(w http.ResponseWriter, r *http.Request, path string, offset, n int64) {
	f, err := os.Open(path) // #nosec G304 -- path already resolved and approved by the guard
	if err != nil {
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().Err(err).Msg("failed to open approved file")
		return
	}
	defer func() {
		_ = f.Close()
	}()

	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			logger := log.WithComponentFromContext(r.Context(), "api")
			logger.Error().Err(err).Msg("seek failed")
			return
		}
	}

	var src io.Reader = f
	if n >= 0 {
		src = io.LimitReader(f, n)
	}
	if _, err := io.Copy(w, src); err != nil {
		// Client disconnects land here; nothing to send anymore.
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Debug().Err(err).Msg("body copy ended early")
	}
}
