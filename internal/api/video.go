// SPDX-License-Identifier: MIT

package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"os/exec"
	"strconv"
	"time"

	"github.com/strmd/strmd/internal/ffmpeg"
	"github.com/strmd/strmd/internal/heatmap"
	"github.com/strmd/strmd/internal/log"
	"github.com/strmd/strmd/internal/metrics"
)

const thumbnailTimeout = 15 * time.Second

// handleStream transcodes the file to a fragmented MP4 and pipes it into
// the response as it is produced. The transcoder is bound to the request
// context: a client disconnect kills it immediately.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	resolved, ok := s.authorizeFileParam(w, r)
	if !ok {
		return
	}

	startTime := 0.0
	if raw := r.URL.Query().Get("startTime"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 {
			writeBadRequest(w, "invalid startTime")
			return
		}
		startTime = v
	}

	args := ffmpeg.StreamArgs(resolved, startTime)
	cmd := exec.CommandContext(r.Context(), s.cfg.FFmpegBin, args...) // #nosec G204 -- args built internally from a guard-approved path
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		writeInternalError(w)
		return
	}
	if err := cmd.Start(); err != nil {
		metrics.TranscoderSpawnTotal.WithLabelValues("stream", "error").Inc()
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().Err(err).Msg("transcoder spawn failed")
		writeInternalError(w)
		return
	}
	metrics.TranscoderSpawnTotal.WithLabelValues("stream", "ok").Inc()

	w.Header().Set("Content-Type", "video/mp4")
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, stdout); err != nil {
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Debug().Err(err).Msg("stream copy ended early")
	}
	// Wait reaps the process; on disconnect the context kill already fired.
	if err := cmd.Wait(); err != nil && r.Context().Err() == nil {
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Warn().Err(err).Msg("transcoder exited abnormally")
	}
}

// handleThumbnail extracts one frame as JPEG. Small output, so it is
// buffered fully before the response commits, keeping failures clean 500s.
func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	resolved, ok := s.authorizeFileParam(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), thumbnailTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.cfg.FFmpegBin, ffmpeg.ThumbnailArgs(resolved)...) // #nosec G204
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil || out.Len() == 0 {
		metrics.TranscoderSpawnTotal.WithLabelValues("thumbnail", "error").Inc()
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Warn().Err(err).Msg("thumbnail extraction failed")
		writeInternalError(w)
		return
	}
	metrics.TranscoderSpawnTotal.WithLabelValues("thumbnail", "ok").Inc()

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "public, max-age=86400, immutable")
	w.Header().Set("Content-Length", strconv.Itoa(out.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out.Bytes())
}

// handleMetadata reports the container duration in seconds.
func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	resolved, ok := s.authorizeFileParam(w, r)
	if !ok {
		return
	}

	probe, err := ffmpeg.Probe(r.Context(), s.cfg.FFprobeBin, resolved)
	if err != nil || probe.Duration <= 0 {
		writeErrorMsg(w, http.StatusInternalServerError, "could not determine duration")
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"duration": probe.Duration})
}

// handleHeatmap runs (or fetches) the motion/audio intensity analysis.
func (s *Server) handleHeatmap(w http.ResponseWriter, r *http.Request) {
	resolved, ok := s.authorizeFileParam(w, r)
	if !ok {
		return
	}
	points := heatmap.SanitizePoints(r.URL.Query().Get("points"))

	result, err := s.heatmap.Analyze(r.Context(), resolved, points)
	if err != nil {
		if errors.Is(err, heatmap.ErrNoUsableStream) {
			writeErrorMsg(w, http.StatusUnprocessableEntity, "file has no analyzable stream")
			return
		}
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().Err(err).Msg("heatmap analysis failed")
		writeErrorMsg(w, http.StatusInternalServerError, "analysis failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleHeatmapProgress reports completion of an in-flight analysis job.
func (s *Server) handleHeatmapProgress(w http.ResponseWriter, r *http.Request) {
	resolved, ok := s.authorizeFileParam(w, r)
	if !ok {
		return
	}

	pct, running := s.heatmap.Progress(resolved)
	writeJSON(w, http.StatusOK, map[string]any{
		"running": running,
		"percent": pct,
	})
}
