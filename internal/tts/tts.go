// Package tts defines the interface for text-to-speech synthesis.
//
// The podcast pipeline binds each host persona to one synthesizer: the
// female host to a cloud engine (gtrans) and the male host to a local
// offline engine (espeak). A synthesizer writes one raw clip per call;
// normalization to the common WAV format happens downstream.
package tts

import "context"

// Synthesizer converts one line of dialogue into a raw audio clip on disk.
type Synthesizer interface {
	// Name returns the engine identifier (e.g., "gtrans", "espeak").
	Name() string

	// Ext returns the file extension of raw clips, including the dot
	// (e.g., ".mp3", ".wav").
	Ext() string

	// Synthesize renders text to the given output path.
	Synthesize(ctx context.Context, text, outPath string) error
}
