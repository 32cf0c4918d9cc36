// Package llm defines the language-model collaborator contracts: picking
// highlight moments out of a transcript and writing narration scripts.
package llm

import (
	"context"
	"errors"
	"time"
)

// Common errors
var (
	ErrUnavailable   = errors.New("LLM provider unavailable")
	ErrEmptyResponse = errors.New("LLM returned empty response")
)

// MomentSummary is one highlight the selector picked from a transcript.
type MomentSummary struct {
	Start   time.Duration `json:"start"`
	End     time.Duration `json:"end"`
	Summary string        `json:"summary"`
	Score   float64       `json:"score"` // 0..1, higher is more notable
}

// MomentSelector ranks the notable spans of a transcript.
type MomentSelector interface {
	// Name returns the provider identifier (e.g. "gemini", "ollama")
	Name() string

	// SelectMoments returns up to max moments ordered by descending score
	SelectMoments(ctx context.Context, transcript string, max int) ([]MomentSummary, error)
}

// ScriptWriter turns selected moments into a narration script.
type ScriptWriter interface {
	// Name returns the provider identifier
	Name() string

	// WriteScript produces narration text targeting roughly the given
	// spoken duration
	WriteScript(ctx context.Context, moments []MomentSummary, target time.Duration) (string, error)
}
