// SPDX-License-Identifier: MIT

package hls

import (
	"context"
	"errors"
	"os/exec"
	"path/filepath"

	"github.com/strmd/strmd/internal/ffmpeg"
)

// Process is the handle to a spawned transcoder. The session that spawned
// it is the exclusive owner.
type Process interface {
	Wait() error
	Kill() error
}

// Spawner starts the external transcoder for a session. Injected so tests
// can count spawns without running ffmpeg.
type Spawner interface {
	Spawn(ctx context.Context, resolvedPath, outputDir string) (Process, error)
}

// FFmpegSpawner spawns the real ffmpeg binary.
type FFmpegSpawner struct {
	Bin            string
	SegmentSeconds int
}

// Spawn starts ffmpeg writing playlist and segments into outputDir.
// The process deliberately does not inherit ctx: session lifetime is owned
// by the manager, not by the request that created the session.
func (f *FFmpegSpawner) Spawn(ctx context.Context, resolvedPath, outputDir string) (Process, error) {
	bin := f.Bin
	if bin == "" {
		bin = "ffmpeg"
	}

	args, err := ffmpeg.HLSArgs(
		resolvedPath,
		filepath.Join(outputDir, PlaylistName),
		filepath.Join(outputDir, SegmentPattern),
		f.SegmentSeconds,
	)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(bin, args...) // #nosec G204 -- args constructed internally, path validated by the guard
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &osProcess{cmd: cmd}, nil
}

type osProcess struct {
	cmd *exec.Cmd
}

func (p *osProcess) Wait() error {
	return p.cmd.Wait()
}

func (p *osProcess) Kill() error {
	if p.cmd.Process == nil {
		return errors.New("process not started")
	}
	return p.cmd.Process.Kill()
}

// exitCodeOf extracts the exit code from a Wait error, defaulting to 1.
func exitCodeOf(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}
