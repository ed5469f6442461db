// SPDX-License-Identifier: MIT

package ffmpeg

import (
	"fmt"
	"strconv"
)

// HLSArgs constructs the arguments for a segmented HLS transcode of a local
// file. The playlist keeps every segment (list size 0) so sessions remain
// seekable across their whole lifetime.
func HLSArgs(input, playlistPath, segmentPattern string, segmentSeconds int) ([]string, error) {
	if input == "" {
		return nil, fmt.Errorf("missing input path")
	}
	if playlistPath == "" {
		return nil, fmt.Errorf("missing playlist path")
	}
	if segmentSeconds <= 0 {
		segmentSeconds = 10
	}

	return []string{
		"-hide_banner",
		"-nostdin",
		"-loglevel", "error",
		"-i", input,
		"-map", "0:v?",
		"-map", "0:a?",
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-crf", "23",
		"-c:a", "aac",
		"-b:a", "192k",
		"-ac", "2",
		"-f", "hls",
		"-hls_time", strconv.Itoa(segmentSeconds),
		"-hls_list_size", "0",
		"-hls_segment_filename", segmentPattern,
		playlistPath,
	}, nil
}

// StreamArgs constructs the arguments for an on-the-fly fragmented-MP4
// transcode written to stdout. startTime seeks before decode when > 0.
func StreamArgs(input string, startTime float64) []string {
	args := []string{
		"-hide_banner",
		"-nostdin",
		"-loglevel", "error",
	}
	if startTime > 0 {
		args = append(args, "-ss", strconv.FormatFloat(startTime, 'f', 3, 64))
	}
	args = append(args,
		"-i", input,
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-crf", "23",
		"-c:a", "aac",
		"-b:a", "192k",
		"-movflags", "frag_keyframe+empty_moov+default_base_moof",
		"-f", "mp4",
		"pipe:1",
	)
	return args
}

// ThumbnailArgs constructs the arguments for extracting a single JPEG frame
// to stdout, seeking a few seconds in to skip black lead-in frames.
func ThumbnailArgs(input string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-loglevel", "error",
		"-ss", "3",
		"-i", input,
		"-frames:v", "1",
		"-vf", "scale=320:-1",
		"-f", "image2",
		"-c:v", "mjpeg",
		"pipe:1",
	}
}

// HeatmapArgs constructs the arguments for the analysis pass. The metadata
// filters print per-frame scene-change scores and audio RMS levels as
// key=value lines on stderr; the null muxer discards the media itself.
// Duration/time progress lines require the default stats output, so
// -nostats is deliberately absent and loglevel stays at info.
func HeatmapArgs(input string, hasVideo, hasAudio bool) []string {
	args := []string{
		"-hide_banner",
		"-nostdin",
		"-i", input,
	}
	if hasVideo {
		args = append(args, "-vf", "select='gte(scene,0)',metadata=print")
	}
	if hasAudio {
		args = append(args, "-af", "astats=metadata=1:reset=1,ametadata=print:key=lavfi.astats.Overall.RMS_level")
	}
	args = append(args, "-f", "null", "-")
	return args
}
