// SPDX-License-Identifier: MIT

package heatmap

import (
	"bufio"
	"context"
	"errors"
	"os/exec"

	"github.com/strmd/strmd/internal/ffmpeg"
)

// FFmpegRunner executes the real analysis pass with ffmpeg. Samples and
// progress markers arrive on stderr; stdout is discarded by the null muxer.
type FFmpegRunner struct {
	Bin string
}

// Run starts ffmpeg and streams stderr lines into sink until the process
// exits. A nonzero exit surfaces as *ProcessExitError.
func (f *FFmpegRunner) Run(ctx context.Context, path string, hasVideo, hasAudio bool, sink func(line string)) error {
	bin := f.Bin
	if bin == "" {
		bin = "ffmpeg"
	}

	args := ffmpeg.HeatmapArgs(path, hasVideo, hasAudio)
	cmd := exec.CommandContext(ctx, bin, args...) // #nosec G204 -- args constructed internally, path validated by the guard

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	scanner := bufio.NewScanner(stderr)
	// Stats lines use carriage returns; split on both so time= updates
	// arrive incrementally.
	scanner.Split(scanCRLines)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		sink(scanner.Text())
	}

	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &ProcessExitError{Code: exitErr.ExitCode()}
		}
		return err
	}
	return nil
}

// scanCRLines is bufio.ScanLines extended to treat a bare carriage return
// as a line terminator, matching ffmpeg's in-place progress updates.
func scanCRLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i, b := range data {
		if b == '\n' || b == '\r' {
			return i + 1, dropTrailingCR(data[:i]), nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), dropTrailingCR(data), nil
	}
	return 0, nil, nil
}

func dropTrailingCR(data []byte) []byte {
	if len(data) > 0 && data[len(data)-1] == '\r' {
		return data[:len(data)-1]
	}
	return data
}
