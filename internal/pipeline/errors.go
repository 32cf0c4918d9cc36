package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/normanking/clipforge/internal/compose"
	"github.com/normanking/clipforge/internal/llm"
	"github.com/normanking/clipforge/internal/media"
	"github.com/normanking/clipforge/internal/stt"
	"github.com/normanking/clipforge/internal/tts"
)

// ErrSynthesisFailed is surfaced when every video fallback tier has failed.
var ErrSynthesisFailed = errors.New("all video synthesis strategies failed")

// Kind classifies a stage failure for the retry policy.
type Kind string

const (
	// KindTransient covers network and timeout failures; retried with
	// backoff up to the configured attempt limit.
	KindTransient Kind = "transient_io"
	// KindConfiguration covers degenerate or missing inputs; fatal, the
	// run aborts without retry.
	KindConfiguration Kind = "configuration"
	// KindCollaborator means an external oracle explicitly signaled
	// failure (quota, missing voice); not retried.
	KindCollaborator Kind = "collaborator"
	// KindSynthesis means every video fallback tier was exhausted.
	KindSynthesis Kind = "synthesis_failed"
)

// StageError reports a terminal stage failure with its classification.
type StageError struct {
	Stage Stage
	Kind  Kind
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed (%s): %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// transientError marks a wrapped error as retryable.
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks err as a retryable I/O failure. Collaborator adapters use
// it to flag network-level faults distinct from explicit oracle errors.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// Classify maps an error to its failure kind. Unknown errors are treated as
// collaborator failures: they abort the stage rather than burn retries on a
// fault that will not heal.
func Classify(err error) Kind {
	var te *transientError
	var ne net.Error
	switch {
	case errors.As(err, &te),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, stt.ErrTimeout),
		errors.As(err, &ne) && ne.Timeout():
		return KindTransient
	case errors.Is(err, compose.ErrDegenerateClip),
		errors.Is(err, compose.ErrDegenerateNarration),
		errors.Is(err, media.ErrFileNotFound),
		errors.Is(err, media.ErrToolNotPresent):
		return KindConfiguration
	case errors.Is(err, ErrSynthesisFailed):
		return KindSynthesis
	case errors.Is(err, stt.ErrUnavailable),
		errors.Is(err, tts.ErrQuotaExceeded),
		errors.Is(err, tts.ErrVoiceNotFound),
		errors.Is(err, tts.ErrUnavailable),
		errors.Is(err, llm.ErrUnavailable),
		errors.Is(err, llm.ErrEmptyResponse):
		return KindCollaborator
	default:
		return KindCollaborator
	}
}
