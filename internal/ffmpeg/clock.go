// SPDX-License-Identifier: MIT

package ffmpeg

import (
	"strconv"
	"strings"
)

// ParseClock converts an ffmpeg "HH:MM:SS.cc" timestamp into seconds.
// Returns false for anything that does not match the three-part shape.
func ParseClock(s string) (float64, bool) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return 0, false
	}
	h, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0, false
	}
	m, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return 0, false
	}
	sec, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return 0, false
	}
	return h*3600 + m*60 + sec, true
}
