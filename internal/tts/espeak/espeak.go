// Package espeak implements the TTS Synthesizer over the espeak-ng binary.
//
// This is the offline male-host voice. A fresh process is started for every
// line so per-line properties can differ: the speech rate is randomized
// within a bounded words-per-minute range to avoid robotic uniformity, the
// same trick the source system played with its per-line engine instances.
// The voice itself is pinned for the whole podcast.
package espeak

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os/exec"
	"strconv"
	"strings"

	"github.com/docudive/docudive/internal/config"
)

// commandRunner abstracts process execution for testability.
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
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}
	return nil
}

// Synthesizer renders speech by invoking espeak-ng.
type Synthesizer struct {
	bin     string
	voice   string
	rateMin int
	rateMax int
	runner  commandRunner
	randInt func(n int) int
}

// New creates a local synthesizer from config.
func New(cfg config.TTSConfig) *Synthesizer {
	return &Synthesizer{
		bin:     cfg.EspeakBin,
		voice:   cfg.EspeakVoice,
		rateMin: cfg.RateMin,
		rateMax: cfg.RateMax,
		runner:  execRunner{},
		randInt: rand.Intn,
	}
}

// Name returns the engine identifier.
func (s *Synthesizer) Name() string { return "espeak" }

// Ext returns the raw clip extension.
func (s *Synthesizer) Ext() string { return ".wav" }

// Synthesize renders text to a WAV file with a freshly started engine and a
// per-line randomized speech rate.
func (s *Synthesizer) Synthesize(ctx context.Context, text, outPath string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("empty text for synthesis")
	}

	rate := s.pickRate()
	// The "--" keeps dialogue starting with a dash from being read as flags.
	args := []string{
		"-v", s.voice,
		"-s", strconv.Itoa(rate),
		"-w", outPath,
		"--", text,
	}

	slog.Debug("local synthesis", "voice", s.voice, "rate", rate, "path", outPath)

	if err := s.runner.Run(ctx, s.bin, args...); err != nil {
		return fmt.Errorf("espeak synthesis: %w", err)
	}
	return nil
}

// pickRate returns a words-per-minute value in [rateMin, rateMax].
func (s *Synthesizer) pickRate() int {
	lo, hi := s.rateMin, s.rateMax
	if lo <= 0 {
		lo = 140
	}
	if hi < lo {
		hi = lo
	}
	if lo == hi {
		return lo
	}
	return lo + s.randInt(hi-lo+1)
}
