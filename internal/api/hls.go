// SPDX-License-Identifier: MIT

package api

import (
	"bufio"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/strmd/strmd/internal/hls"
	"github.com/strmd/strmd/internal/log"
)

// segmentNamePattern is the only shape a segment request may take. Anything
// else (separators, traversal, stray extensions) is rejected before the
// name is joined onto the session directory.
var segmentNamePattern = regexp.MustCompile(`^segment_\d+\.ts$`)

const (
	playlistContentType = "application/vnd.apple.mpegurl"
	segmentContentType  = "video/MP2T"

	// Advertised variant hints. A single-variant ladder: the transcoder
	// produces one rendition, so the hints are fixed.
	masterBandwidth  = 4000000
	masterResolution = "1920x1080"
)

// handleHLSMaster ensures a session exists and answers the master playlist.
// The variant URI carries the original file parameter percent-encoded so
// the player's follow-up requests re-authorize against the guard.
func (s *Server) handleHLSMaster(w http.ResponseWriter, r *http.Request) {
	resolved, ok := s.authorizeFileParam(w, r)
	if !ok {
		return
	}
	file := r.URL.Query().Get("file")

	key := hls.Fingerprint(resolved)
	if err := s.sessions.EnsureSession(r.Context(), key, resolved); err != nil {
		s.writeSessionError(w, r, err)
		return
	}

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	fmt.Fprintf(&b, "#EXT-X-STREAM-INF:PROGRAM-ID=1,BANDWIDTH=%d,RESOLUTION=%s\n", masterBandwidth, masterResolution)
	fmt.Fprintf(&b, "playlist.m3u8?file=%s\n", url.QueryEscape(file))

	w.Header().Set("Content-Type", playlistContentType)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(b.String()))
}

// handleHLSPlaylist serves the live variant playlist, rewriting every
// segment line to carry the file parameter.
func (s *Server) handleHLSPlaylist(w http.ResponseWriter, r *http.Request) {
	resolved, ok := s.authorizeFileParam(w, r)
	if !ok {
		return
	}
	file := r.URL.Query().Get("file")

	key := hls.Fingerprint(resolved)
	if err := s.sessions.EnsureSession(r.Context(), key, resolved); err != nil {
		s.writeSessionError(w, r, err)
		return
	}
	s.sessions.Touch(key)

	dir, ok := s.sessions.SessionDir(key)
	if !ok {
		writeErrorMsg(w, http.StatusNotFound, "session expired")
		return
	}

	f, err := os.Open(filepath.Join(dir, hls.PlaylistName)) // #nosec G304 -- fixed name under the session directory
	if err != nil {
		writeErrorMsg(w, http.StatusNotFound, "playlist not ready")
		return
	}
	defer func() {
		_ = f.Close()
	}()

	w.Header().Set("Content-Type", playlistContentType)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)

	suffix := "?file=" + url.QueryEscape(file)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasSuffix(line, ".ts") && !strings.HasPrefix(line, "#") {
			line += suffix
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return
		}
	}
}

// handleHLSSegment serves one transcoded segment and refreshes the session.
func (s *Server) handleHLSSegment(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "segment")
	if !segmentNamePattern.MatchString(name) {
		writeBadRequest(w, "invalid segment name")
		return
	}

	resolved, ok := s.authorizeFileParam(w, r)
	if !ok {
		return
	}

	key := hls.Fingerprint(resolved)
	dir, ok := s.sessions.SessionDir(key)
	if !ok {
		// Unknown key means the session expired; the player restarts from
		// the master playlist.
		writeErrorMsg(w, http.StatusNotFound, "session expired")
		return
	}
	s.sessions.Touch(key)

	path := filepath.Join(dir, name)
	f, err := os.Open(path) // #nosec G304 -- name matched the strict segment pattern
	if err != nil {
		writeNotFound(w)
		return
	}
	defer func() {
		_ = f.Close()
	}()
	info, err := f.Stat()
	if err != nil {
		writeInternalError(w)
		return
	}

	w.Header().Set("Content-Type", segmentContentType)
	w.Header().Set("Cache-Control", "public, max-age=60")
	http.ServeContent(w, r, name, info.ModTime(), f)
}

// handleHLSStop force-stops the session for the given file.
func (s *Server) handleHLSStop(w http.ResponseWriter, r *http.Request) {
	resolved, ok := s.authorizeFileParam(w, r)
	if !ok {
		return
	}
	s.sessions.Stop(hls.Fingerprint(resolved))
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) writeSessionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, hls.ErrBusy):
		writeServerBusy(w)
	case errors.Is(err, hls.ErrPlaylistTimeout):
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().Err(err).Msg("playlist never appeared")
		writeErrorMsg(w, http.StatusInternalServerError, "transcoder did not start in time")
	default:
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().Err(err).Msg("session start failed")
		writeInternalError(w)
	}
}
