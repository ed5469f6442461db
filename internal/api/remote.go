// SPDX-License-Identifier: MIT

package api

import (
	"io"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/strmd/strmd/internal/log"
)

const growPollInterval = 50 * time.Millisecond

// handleRemote serves a remote file through the on-disk cache, honoring
// Range requests against the full remote size even while the local copy is
// still being downloaded.
func (s *Server) handleRemote(w http.ResponseWriter, r *http.Request) {
	if s.remote == nil {
		writeNotFound(w)
		return
	}
	id := chi.URLParam(r, "id")

	handle, err := s.remote.FilePath(r.Context(), id)
	if err != nil {
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Warn().Err(err).Str("remote_id", id).Msg("remote fetch failed")
		writeErrorMsg(w, http.StatusBadGateway, "remote file unavailable")
		return
	}

	totalSize := handle.Size
	if totalSize <= 0 {
		// Unknown remote size: fall back to whatever is on disk right now.
		if info, err := os.Stat(handle.Path); err == nil {
			totalSize = info.Size()
		}
	}

	offset, n, body := negotiateRange(w, r, totalSize, handle.MimeType)
	if !body {
		return
	}
	if n < 0 {
		// No Content-Length was promised; EOF simply ends the body.
		s.copyFile(w, r, handle.Path, offset, n)
		return
	}
	s.copyGrowingFile(w, r, id, handle.Path, offset, n)
}

// copyGrowingFile streams n bytes of path starting at offset into w, where
// path may still be downloading. Hitting EOF short of n waits for the local
// copy to grow rather than ending the body before the advertised
// Content-Length. The wait ends when the client goes away or the download
// stops without delivering the owed bytes.
func (s *Server) copyGrowingFile(w http.ResponseWriter, r *http.Request, remoteID, path string, offset, n int64) {
	logger := log.WithComponentFromContext(r.Context(), "api")

	f, err := os.Open(path) // #nosec G304 -- path is cacheDir/baseName, validated by the cache
	if err != nil {
		logger.Error().Err(err).Msg("failed to open cached file")
		return
	}
	defer func() {
		_ = f.Close()
	}()

	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			logger.Error().Err(err).Msg("seek failed")
			return
		}
	}

	remaining := n
	buf := make([]byte, 64*1024)
	finalPass := false
	for remaining > 0 {
		chunk := int64(len(buf))
		if chunk > remaining {
			chunk = remaining
		}
		rn, rerr := f.Read(buf[:chunk])
		if rn > 0 {
			if _, werr := w.Write(buf[:rn]); werr != nil {
				logger.Debug().Err(werr).Msg("body copy ended early")
				return
			}
			remaining -= int64(rn)
			finalPass = false
			continue
		}
		if rerr != nil && rerr != io.EOF {
			logger.Error().Err(rerr).Msg("cached file read failed")
			return
		}

		// EOF with bytes still owed.
		if !s.remote.Downloading(remoteID) {
			if finalPass {
				logger.Warn().Str("remote_id", remoteID).Int64("missing", remaining).Msg("download ended short of the advertised length")
				return
			}
			// The download may have finished between the read and the
			// check; read once more before giving up.
			finalPass = true
			continue
		}

		select {
		case <-r.Context().Done():
			return
		case <-time.After(growPollInterval):
		}
	}
}
