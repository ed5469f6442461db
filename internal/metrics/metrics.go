// SPDX-License-Identifier: MIT

// Package metrics exposes process-wide Prometheus collectors for strmd.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FileRequestsTotal tracks media file requests by outcome.
	FileRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "strmd_file_requests_total",
		Help: "Total number of media file requests by result and reason",
	}, []string{"result", "reason"})

	// AuthorizationDeniedTotal tracks guard denials by reason.
	AuthorizationDeniedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "strmd_authorization_denied_total",
		Help: "Total number of path authorizations denied by the access guard",
	}, []string{"reason"})

	// HLSSessionsActive tracks the number of live transcode sessions.
	HLSSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "strmd_hls_sessions_active",
		Help: "Number of currently registered HLS transcode sessions",
	})

	// HLSSessionStartTotal tracks session start attempts by result.
	HLSSessionStartTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "strmd_hls_session_start_total",
		Help: "Total number of HLS session start attempts by result",
	}, []string{"result"})

	// HLSSessionsSweptTotal counts sessions reclaimed by the idle sweeper.
	HLSSessionsSweptTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "strmd_hls_sessions_swept_total",
		Help: "Total number of idle HLS sessions reclaimed by the sweeper",
	})

	// TranscoderSpawnTotal counts external transcoder process starts.
	TranscoderSpawnTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "strmd_transcoder_spawn_total",
		Help: "Total number of transcoder process spawns by purpose and result",
	}, []string{"purpose", "result"})

	// HeatmapJobsTotal counts heatmap analysis jobs by result.
	HeatmapJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "strmd_heatmap_jobs_total",
		Help: "Total number of heatmap analysis jobs by result",
	}, []string{"result"})

	// HeatmapCacheTotal counts heatmap cache lookups by outcome.
	HeatmapCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "strmd_heatmap_cache_total",
		Help: "Total number of heatmap cache lookups by outcome",
	}, []string{"outcome"})

	// RemoteDownloadsStartedTotal counts remote download starts by mode.
	RemoteDownloadsStartedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "strmd_remote_downloads_started_total",
		Help: "Total number of remote media downloads started by mode",
	}, []string{"mode"})

	// RemoteDownloadBytes counts bytes materialized into the remote cache.
	RemoteDownloadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "strmd_remote_download_bytes_total",
		Help: "Total number of bytes written to the remote media cache",
	})

	// CatalogCallDuration tracks catalog worker round-trip latency.
	CatalogCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "strmd_catalog_call_duration_seconds",
		Help:    "Round-trip latency of catalog store worker calls",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"op"})
)

// RecordFileRequestAllowed increments the allowed file request counter.
func RecordFileRequestAllowed() {
	FileRequestsTotal.WithLabelValues("allowed", "ok").Inc()
}

// RecordFileRequestDenied increments the denied file request counter.
func RecordFileRequestDenied(reason string) {
	FileRequestsTotal.WithLabelValues("denied", reason).Inc()
}
