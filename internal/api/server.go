// SPDX-License-Identifier: MIT

// Package api exposes the HTTP surface: direct range serving, on-the-fly
// transcoding, HLS session routes, heatmap analysis, the remote cache and
// the directory admin endpoints. Every media route consults the access
// guard before touching the filesystem.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/strmd/strmd/internal/catalog"
	"github.com/strmd/strmd/internal/config"
	"github.com/strmd/strmd/internal/guard"
	"github.com/strmd/strmd/internal/heatmap"
	"github.com/strmd/strmd/internal/hls"
	"github.com/strmd/strmd/internal/log"
	"github.com/strmd/strmd/internal/remotecache"
)

// DirectoryStore is the catalog surface the admin endpoints use.
type DirectoryStore interface {
	guard.DirectoryProvider
	AddDirectory(ctx context.Context, path string, kind catalog.Kind) (catalog.Directory, error)
	SetActive(ctx context.Context, id int64, active bool) error
	RemoveDirectory(ctx context.Context, id int64) error
}

// Server bundles the request handlers with their collaborators. Construct
// one per process with New and mount Handler on an http.Server.
type Server struct {
	cfg      config.Config
	guard    *guard.Guard
	store    DirectoryStore
	sessions *hls.Manager
	heatmap  *heatmap.Engine
	remote   *remotecache.Cache // nil when no remote provider is configured

	log zerolog.Logger
}

// New wires a Server. remote may be nil; the /remote routes then answer 404.
func New(cfg config.Config, g *guard.Guard, store DirectoryStore, sessions *hls.Manager, engine *heatmap.Engine, remote *remotecache.Cache) *Server {
	return &Server{
		cfg:      cfg,
		guard:    g,
		store:    store,
		sessions: sessions,
		heatmap:  engine,
		remote:   remote,
		log:      log.WithComponent("api"),
	}
}

// Handler builds the routed, instrumented handler tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(requestIDMiddleware)
	r.Use(accessLogMiddleware)
	r.Use(middleware.Recoverer)
	if s.cfg.RequestsPerMinute > 0 {
		r.Use(httprate.LimitByIP(s.cfg.RequestsPerMinute, time.Minute))
	}

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/video", func(r chi.Router) {
		r.Get("/stream", s.handleStream)
		r.Get("/thumbnail", s.handleThumbnail)
		r.Get("/metadata", s.handleMetadata)
		r.Get("/heatmap", s.handleHeatmap)
		r.Get("/heatmap/progress", s.handleHeatmapProgress)
		r.Route("/hls", func(r chi.Router) {
			r.Get("/master.m3u8", s.handleHLSMaster)
			r.Get("/playlist.m3u8", s.handleHLSPlaylist)
			r.Post("/stop", s.handleHLSStop)
			r.Get("/{segment}", s.handleHLSSegment)
		})
	})

	r.Get("/remote/{id}", s.handleRemote)

	r.Route("/api/dirs", func(r chi.Router) {
		r.Get("/", s.handleDirsList)
		r.Post("/", s.handleDirsAdd)
		r.Patch("/{id}", s.handleDirsPatch)
		r.Delete("/{id}", s.handleDirsDelete)
	})

	// Everything else is a direct file request.
	r.Get("/*", s.handleRaw)

	return otelhttp.NewHandler(r, "strmd.http")
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// authorizeFileParam runs the guard over the ?file= query parameter. On
// denial the response is already written and ok is false.
func (s *Server) authorizeFileParam(w http.ResponseWriter, r *http.Request) (resolved string, ok bool) {
	file := r.URL.Query().Get("file")
	if file == "" {
		writeBadRequest(w, "missing file parameter")
		return "", false
	}
	res := s.guard.Authorize(r.Context(), file)
	if !res.Allowed {
		writeDenial(w, res)
		return "", false
	}
	return res.ResolvedPath, true
}
