// SPDX-License-Identifier: MIT

package heatmap

import (
	"math"
	"strconv"
	"strings"

	"github.com/strmd/strmd/internal/ffmpeg"
)

const (
	motionKey = "lavfi.scene_score="
	audioKey  = "lavfi.astats.Overall.RMS_level="
)

// collector accumulates per-frame samples and progress markers from the
// analyzer's diagnostic stream. Motion and audio counts are independent:
// a file missing one stream simply collects nothing for that series.
type collector struct {
	motion      []float64
	audio       []float64
	durationSec float64
	currentSec  float64
	sawError    bool
}

// consume parses one diagnostic line. Unrecognized lines are ignored.
func (c *collector) consume(line string) {
	if idx := strings.Index(line, motionKey); idx >= 0 {
		if v, ok := parseTrailingFloat(line[idx+len(motionKey):]); ok {
			c.motion = append(c.motion, v)
		}
	}
	if idx := strings.Index(line, audioKey); idx >= 0 {
		if v, ok := parseTrailingFloat(line[idx+len(audioKey):]); ok {
			c.audio = append(c.audio, v)
		}
	}

	// "Duration: 00:01:23.45, start: ..." sets the progress denominator.
	if idx := strings.Index(line, "Duration:"); idx >= 0 && c.durationSec == 0 {
		rest := strings.TrimSpace(line[idx+len("Duration:"):])
		if cut := strings.IndexByte(rest, ','); cut >= 0 {
			rest = rest[:cut]
		}
		if sec, ok := ffmpeg.ParseClock(rest); ok {
			c.durationSec = sec
		}
	}

	// Repeated "time=00:00:12.34" stats lines advance the numerator.
	if idx := strings.Index(line, "time="); idx >= 0 {
		rest := line[idx+len("time="):]
		if cut := strings.IndexByte(rest, ' '); cut >= 0 {
			rest = rest[:cut]
		}
		if sec, ok := ffmpeg.ParseClock(rest); ok {
			c.currentSec = sec
		}
	}

	if strings.Contains(line, "Error") {
		c.sawError = true
	}
}

// parseTrailingFloat reads the float at the start of s, tolerating trailing
// text. "-inf" (silent audio frames) clamps to the silence floor.
func parseTrailingFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if cut := strings.IndexAny(s, " \t"); cut >= 0 {
		s = s[:cut]
	}
	if s == "" {
		return 0, false
	}
	if strings.EqualFold(s, "-inf") {
		return defaultAudioLevel, true
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// percent converts the collected progress markers into a 0-100 value.
func (c *collector) percent() float64 {
	if c.durationSec <= 0 {
		return 0
	}
	p := c.currentSec / c.durationSec * 100
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
