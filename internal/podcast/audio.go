package podcast

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// commandRunner abstracts ffmpeg execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) error
}

// execRunner executes commands via os/exec, surfacing stderr in errors.
type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%w: %s", err, tail(msg, 512))
		}
		return err
	}
	return nil
}

// tail returns the last n bytes of s; ffmpeg errors end with the useful part.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// normalizer converts raw clips to the pipeline's canonical waveform:
// mono, 44.1 kHz, 16-bit PCM WAV.
type normalizer struct {
	ffmpeg string
	runner commandRunner
}

// normalize transcodes rawPath into outPath, applying a tempo change in the
// same pass when speed is not 1.0. The raw input is deleted after the
// attempt on every path. A missing input is a logged no-op: the upstream
// stage already failed louder than this one could.
func (n *normalizer) normalize(ctx context.Context, rawPath, outPath string, speed float64) error {
	if _, err := os.Stat(rawPath); err != nil {
		slog.Warn("normalization skipped, raw clip not found", "path", rawPath)
		return nil
	}
	defer func() {
		if err := os.Remove(rawPath); err != nil && !os.IsNotExist(err) {
			slog.Warn("could not remove raw clip", "path", rawPath, "error", err)
		}
	}()

	args := []string{"-i", rawPath, "-y"}
	if speed != 1.0 {
		args = append(args, "-filter:a", "atempo="+strconv.FormatFloat(speed, 'g', -1, 64))
	}
	args = append(args,
		"-acodec", "pcm_s16le",
		"-ar", "44100",
		"-ac", "1",
		outPath,
	)

	if err := n.runner.Run(ctx, n.ffmpeg, args...); err != nil {
		return fmt.Errorf("normalizing %s: %w", rawPath, err)
	}
	return nil
}

// combiner concatenates normalized clips and transcodes them to the final MP3.
type combiner struct {
	ffmpeg  string
	bitrate string
	runner  commandRunner
}

// combine runs the concat demuxer over the manifest and writes outPath.
// Every transient clip and the manifest itself are deleted after the
// attempt, success or failure. The manifest holds absolute paths we
// generated ourselves, so the demuxer runs with -safe 0.
func (c *combiner) combine(ctx context.Context, manifestPath, outPath string, clips []string) error {
	defer func() {
		for _, clip := range clips {
			if err := os.Remove(clip); err != nil && !os.IsNotExist(err) {
				slog.Warn("could not remove transient clip", "path", clip, "error", err)
			}
		}
		if err := os.Remove(manifestPath); err != nil && !os.IsNotExist(err) {
			slog.Warn("could not remove concat manifest", "path", manifestPath, "error", err)
		}
	}()

	bitrate := c.bitrate
	if bitrate == "" {
		bitrate = "192k"
	}

	args := []string{
		"-f", "concat",
		"-safe", "0",
		"-i", manifestPath,
		"-y",
		"-acodec", "libmp3lame",
		"-b:a", bitrate,
		outPath,
	}

	slog.Info("combining normalized clips", "clips", len(clips), "output", outPath)
	if err := c.runner.Run(ctx, c.ffmpeg, args...); err != nil {
		// Never leave a partial output for the static passthrough to serve.
		_ = os.Remove(outPath)
		return fmt.Errorf("combining clips: %w", err)
	}
	return nil
}
