// Package stt defines the speech-to-text collaborator contract for ClipForge.
package stt

import (
	"context"
	"errors"
	"time"
)

// Common errors
var (
	ErrUnavailable = errors.New("STT provider unavailable")
	ErrTimeout     = errors.New("transcription timeout")
)

// Transcriber converts recorded audio into text. Implementations are opaque
// oracles (local Whisper, remote APIs); the pipeline only consumes the
// contract. Empty text for silent input is a valid result, not an error.
type Transcriber interface {
	// Name returns the provider identifier (e.g. "whisper", "deepgram")
	Name() string

	// Transcribe converts the audio file at path to text
	Transcribe(ctx context.Context, audioPath string) (*Transcript, error)
}

// Transcript is a transcription result with optional time-aligned segments.
type Transcript struct {
	Text           string        `json:"text"`
	Language       string        `json:"language,omitempty"`
	Duration       time.Duration `json:"duration"`
	ProcessingTime time.Duration `json:"processing_time"`
	Segments       []Segment     `json:"segments,omitempty"`
}

// Segment is a time-aligned transcript span.
type Segment struct {
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
	Text  string        `json:"text"`
}
