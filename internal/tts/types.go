// Package tts defines the text-to-speech collaborator contract for ClipForge.
package tts

import (
	"context"
	"errors"
)

// Common errors
var (
	ErrQuotaExceeded = errors.New("TTS quota exceeded")
	ErrVoiceNotFound = errors.New("voice not found")
	ErrUnavailable   = errors.New("TTS provider unavailable")
)

// Synthesizer converts narration text into speech audio. The returned file
// must be a WAV or a format ffmpeg can probe; the pipeline measures its
// duration and drives all downstream timing from it.
type Synthesizer interface {
	// Name returns the provider identifier (e.g. "elevenlabs", "piper")
	Name() string

	// Synthesize renders text as speech and writes it to outPath
	Synthesize(ctx context.Context, text string, voice VoiceConfig, outPath string) error
}

// VoiceConfig selects and shapes the synthesized voice.
type VoiceConfig struct {
	VoiceID string  `json:"voice_id"`
	Speed   float64 `json:"speed"`  // 1.0 = normal
	Format  string  `json:"format"` // "wav", "mp3"
}

// DefaultVoice returns the stock narration voice.
func DefaultVoice() VoiceConfig {
	return VoiceConfig{
		VoiceID: "rachel",
		Speed:   1.0,
		Format:  "wav",
	}
}
