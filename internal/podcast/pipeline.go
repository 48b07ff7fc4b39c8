// Package podcast renders a two-voice podcast MP3 from document text.
//
// The pipeline runs four stages in order: script generation (LLM), per-line
// speech synthesis (one engine per host persona), per-clip normalization to
// a common waveform, and concatenation/transcoding to the final MP3. A
// failure at any stage fails the whole job; every stage cleans up its own
// transient files on both success and failure, so a finished job leaves
// nothing behind but the final MP3.
package podcast

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/docudive/docudive/internal/config"
	"github.com/docudive/docudive/internal/llm"
	"github.com/docudive/docudive/internal/tts"
)

// voice binds a persona to its synthesis engine and the tempo correction
// applied at normalization time.
type voice struct {
	synth tts.Synthesizer
	speed float64
}

// Pipeline drives one podcast job from document text to a final MP3.
type Pipeline struct {
	scripts   *ScriptGenerator
	voices    map[Speaker]voice
	outputDir string
	norm      *normalizer
	comb      *combiner
}

// New wires the pipeline: Alex speaks through the local engine at natural
// speed (rate was already controlled at synthesis time), Brenda through the
// cloud engine with a tempo correction for its slower cadence.
func New(cfg config.PodcastConfig, scripts *ScriptGenerator, alex, brenda tts.Synthesizer) *Pipeline {
	runner := execRunner{}
	cloudSpeed := cfg.CloudVoiceSpeed
	if cloudSpeed <= 0 {
		cloudSpeed = 1.1
	}
	return &Pipeline{
		scripts: scripts,
		voices: map[Speaker]voice{
			SpeakerAlex:   {synth: alex, speed: 1.0},
			SpeakerBrenda: {synth: brenda, speed: cloudSpeed},
		},
		outputDir: cfg.OutputDir,
		norm:      &normalizer{ffmpeg: cfg.FFmpegBin, runner: runner},
		comb:      &combiner{ffmpeg: cfg.FFmpegBin, bitrate: cfg.Bitrate, runner: runner},
	}
}

// Run generates, synthesizes, and combines one podcast. It returns the final
// file name (relative to the output directory). Transient clips and the
// concat manifest never outlive the call.
func (p *Pipeline) Run(ctx context.Context, documentText, baseName string, creds llm.Credentials) (string, error) {
	script, err := p.scripts.Generate(ctx, documentText, creds)
	if err != nil {
		return "", fmt.Errorf("could not produce a podcast script: %w", err)
	}

	clips, manifestPath, err := p.synthesize(ctx, script, baseName)
	if err != nil {
		return "", err
	}
	if len(clips) == 0 {
		_ = os.Remove(manifestPath)
		return "", fmt.Errorf("no usable dialogue lines in the generated script")
	}

	finalName := baseName + ".mp3"
	if err := p.comb.combine(ctx, manifestPath, filepath.Join(p.outputDir, finalName), clips); err != nil {
		return "", err
	}

	slog.Info("podcast rendered", "file", finalName, "lines", len(clips))
	return finalName, nil
}

// synthesize renders each valid line in speaking order and writes the concat
// manifest. Clip names carry the line index so order survives even if
// synthesis were ever parallelized. On error, everything produced so far is
// removed.
func (p *Pipeline) synthesize(ctx context.Context, script []Line, baseName string) (clips []string, manifestPath string, err error) {
	manifestPath = filepath.Join(p.outputDir, baseName+"_concat.txt")
	manifest, err := os.Create(manifestPath)
	if err != nil {
		return nil, "", fmt.Errorf("creating concat manifest: %w", err)
	}

	cleanup := func() {
		manifest.Close()
		for _, clip := range clips {
			_ = os.Remove(clip)
		}
		_ = os.Remove(manifestPath)
	}

	for i, line := range script {
		if !line.Valid() {
			slog.Warn("skipping malformed script line", "index", i, "speaker", line.Speaker)
			continue
		}
		v := p.voices[line.Speaker]

		rawPath := filepath.Join(p.outputDir, fmt.Sprintf("%s_raw_%d%s", baseName, i, v.synth.Ext()))
		normPath := filepath.Join(p.outputDir, fmt.Sprintf("%s_norm_%d.wav", baseName, i))

		if err := v.synth.Synthesize(ctx, line.Text, rawPath); err != nil {
			cleanup()
			_ = os.Remove(rawPath)
			return nil, "", fmt.Errorf("synthesizing line %d (%s): %w", i, line.Speaker, err)
		}

		if err := p.norm.normalize(ctx, rawPath, normPath, v.speed); err != nil {
			cleanup()
			_ = os.Remove(normPath)
			return nil, "", err
		}

		// A silently skipped normalization (missing raw clip) produces no
		// WAV; leave it out of the manifest rather than fail the job.
		if _, statErr := os.Stat(normPath); statErr != nil {
			continue
		}

		abs, absErr := filepath.Abs(normPath)
		if absErr != nil {
			abs = normPath
		}
		if _, err := fmt.Fprintf(manifest, "file '%s'\n", abs); err != nil {
			cleanup()
			return nil, "", fmt.Errorf("writing concat manifest: %w", err)
		}
		clips = append(clips, normPath)
	}

	if err := manifest.Close(); err != nil {
		for _, clip := range clips {
			_ = os.Remove(clip)
		}
		_ = os.Remove(manifestPath)
		return nil, "", fmt.Errorf("closing concat manifest: %w", err)
	}
	return clips, manifestPath, nil
}
