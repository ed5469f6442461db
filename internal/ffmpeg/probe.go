// SPDX-License-Identifier: MIT

// Package ffmpeg wraps invocation of the external ffmpeg/ffprobe binaries.
// Argument lists are built here so no caller ever passes through a shell.
package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"time"
)

// ProbeResult contains the simplified results of a stream analysis.
type ProbeResult struct {
	HasVideo   bool
	HasAudio   bool
	VideoCodec string
	AudioCodec string
	Width      int
	Height     int
	Duration   float64 // seconds, 0 if undeterminable
}

const probeTimeout = 10 * time.Second

// Probe inspects the given file with ffprobe and reports which streams are
// present plus the container duration.
func Probe(ctx context.Context, ffprobeBin, path string) (*ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_entries", "stream=codec_type,codec_name,width,height",
		"-show_entries", "format=duration",
		"-i", path,
	}

	cmd := exec.CommandContext(ctx, ffprobeBin, args...) // #nosec G204 -- args constructed internally, path validated by the guard
	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	var data struct {
		Streams []struct {
			CodecType string `json:"codec_type"`
			CodecName string `json:"codec_name"`
			Width     int    `json:"width"`
			Height    int    `json:"height"`
		} `json:"streams"`
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &data); err != nil {
		return nil, fmt.Errorf("ffprobe json unmarshal failed: %w", err)
	}

	res := &ProbeResult{}
	for _, s := range data.Streams {
		switch s.CodecType {
		case "video":
			if !res.HasVideo {
				res.HasVideo = true
				res.VideoCodec = s.CodecName
				res.Width = s.Width
				res.Height = s.Height
			}
		case "audio":
			if !res.HasAudio {
				res.HasAudio = true
				res.AudioCodec = s.CodecName
			}
		}
	}
	if data.Format.Duration != "" {
		if d, err := strconv.ParseFloat(data.Format.Duration, 64); err == nil {
			res.Duration = d
		}
	}
	return res, nil
}
