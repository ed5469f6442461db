// SPDX-License-Identifier: MIT

// Package heatmap extracts per-segment motion and audio intensity series
// from media files through a long-running external analysis pass, with job
// coalescing, progress reporting, and an advisory on-disk result cache.
package heatmap

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/strmd/strmd/internal/ffmpeg"
	"github.com/strmd/strmd/internal/log"
	"github.com/strmd/strmd/internal/metrics"
)

const (
	// DefaultPoints is used when the requested point count is absent or
	// unparseable.
	DefaultPoints = 100
	minPoints     = 1
	maxPoints     = 1000

	// Series defaults for files missing one of the two streams: flat "no
	// motion" and the RMS silence floor.
	defaultMotionScore = 0.0
	defaultAudioLevel  = -90.0
)

// ErrNoUsableStream is returned for files with neither video nor audio.
var ErrNoUsableStream = errors.New("heatmap: no usable stream")

// ProcessExitError reports a nonzero analyzer exit.
type ProcessExitError struct {
	Code int
}

func (e *ProcessExitError) Error() string {
	return fmt.Sprintf("process exited with code %d", e.Code)
}

// Result is one finished analysis: motion and audio series of equal length.
type Result struct {
	Motion []float64 `json:"motion"`
	Audio  []float64 `json:"audio"`
	Points int       `json:"points"`
}

// Prober reports which streams a file carries.
type Prober func(ctx context.Context, path string) (*ffmpeg.ProbeResult, error)

// Runner executes the external analysis pass, feeding every diagnostic
// line to sink. Injected so tests can replay canned output.
type Runner interface {
	Run(ctx context.Context, path string, hasVideo, hasAudio bool, sink func(line string)) error
}

// SanitizePoints parses a raw point-count parameter: non-numeric input
// defaults to 100 and the value is clamped to [1, 1000].
func SanitizePoints(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return DefaultPoints
	}
	return clampPoints(n)
}

func clampPoints(n int) int {
	if n < minPoints {
		return minPoints
	}
	if n > maxPoints {
		return maxPoints
	}
	return n
}

type progressState struct {
	percent float64
}

// Engine runs heatmap analysis jobs with per-path deduplication. Concurrent
// Analyze calls for the same path attach to one in-flight job and receive
// the identical result.
type Engine struct {
	runner  Runner
	prober  Prober
	cache   *Cache // nil disables caching
	timeout time.Duration

	sf singleflight.Group

	mu       sync.Mutex
	progress map[string]*progressState

	log zerolog.Logger
}

// NewEngine creates an analysis engine. cache may be nil.
func NewEngine(runner Runner, prober Prober, cache *Cache, timeout time.Duration) *Engine {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Engine{
		runner:   runner,
		prober:   prober,
		cache:    cache,
		timeout:  timeout,
		progress: make(map[string]*progressState),
		log:      log.WithComponent("heatmap"),
	}
}

// Analyze produces the heatmap for resolvedPath at the requested point
// count. The job registry is keyed by path alone: a second caller with a
// different point count attaches to the running job and receives its result.
func (e *Engine) Analyze(ctx context.Context, resolvedPath string, points int) (Result, error) {
	points = clampPoints(points)

	if e.cache != nil {
		if cached, ok := e.cache.Get(CacheKey(resolvedPath, points)); ok {
			metrics.HeatmapCacheTotal.WithLabelValues("hit").Inc()
			return cached, nil
		}
		metrics.HeatmapCacheTotal.WithLabelValues("miss").Inc()
	}

	v, err, _ := e.sf.Do(resolvedPath, func() (any, error) {
		// The job is shared: coalesced callers may outlive whoever created
		// it. Detach from the creating request so one client's disconnect
		// cannot kill the analysis everyone else is waiting on; the wall
		// clock timeout in generate still bounds the process.
		return e.generate(context.WithoutCancel(ctx), resolvedPath, points)
	})
	if err != nil {
		metrics.HeatmapJobsTotal.WithLabelValues("error").Inc()
		return Result{}, err
	}
	metrics.HeatmapJobsTotal.WithLabelValues("ok").Inc()
	return v.(Result), nil
}

// Progress reports the 0-100 completion of an in-flight job for path.
// ok=false means no job is running for that path.
func (e *Engine) Progress(path string) (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.progress[path]
	if !ok {
		return 0, false
	}
	return st.percent, true
}

func (e *Engine) generate(ctx context.Context, path string, points int) (Result, error) {
	probe, err := e.prober(ctx, path)
	if err != nil {
		return Result{}, fmt.Errorf("heatmap: probe: %w", err)
	}
	if !probe.HasVideo && !probe.HasAudio {
		return Result{}, ErrNoUsableStream
	}

	st := &progressState{}
	e.mu.Lock()
	e.progress[path] = st
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.progress, path)
		e.mu.Unlock()
	}()

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	col := &collector{}
	var sinkMu sync.Mutex
	sink := func(line string) {
		sinkMu.Lock()
		col.consume(line)
		pct := col.percent()
		sinkMu.Unlock()

		e.mu.Lock()
		st.percent = pct
		e.mu.Unlock()
	}

	started := time.Now()
	runErr := e.runner.Run(runCtx, path, probe.HasVideo, probe.HasAudio, sink)
	if runErr != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return Result{}, fmt.Errorf("heatmap: analysis timed out after %s", e.timeout)
		}
		var exitErr *ProcessExitError
		if errors.As(runErr, &exitErr) {
			return Result{}, fmt.Errorf("heatmap: %w", exitErr)
		}
		return Result{}, fmt.Errorf("heatmap: analysis failed: %w", runErr)
	}

	if col.sawError {
		// The tool emits non-fatal "Error" lines alongside success.
		e.log.Warn().Str("path", path).Msg("analyzer reported errors on its diagnostic stream despite clean exit")
	}

	result := Result{
		Motion: Resample(col.motion, points, defaultMotionScore),
		Audio:  Resample(col.audio, points, defaultAudioLevel),
		Points: points,
	}

	e.log.Info().
		Str("event", "heatmap.done").
		Str("path", path).
		Int("points", points).
		Int("motion_samples", len(col.motion)).
		Int("audio_samples", len(col.audio)).
		Dur("elapsed", time.Since(started)).
		Msg("heatmap analysis complete")

	if e.cache != nil {
		e.cache.Set(CacheKey(path, points), result)
	}
	return result, nil
}
