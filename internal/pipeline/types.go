// Package pipeline sequences the source-to-video synthesis stages with
// retry, fallback, and artifact lineage.
package pipeline

import (
	"time"

	"github.com/normanking/clipforge/internal/artifact"
)

// Stage identifies one pipeline stage. Stage names double as the artifact
// store's directory keys.
type Stage string

const (
	StageTranscript Stage = "transcript"
	StageMoments    Stage = "moments"
	StageScript     Stage = "script"
	StageNarration  Stage = "audio"
	StageVideo      Stage = "video"
)

// stageOrder is the fixed execution order of a run.
var stageOrder = []Stage{
	StageTranscript,
	StageMoments,
	StageScript,
	StageNarration,
	StageVideo,
}

// State is the run lifecycle state.
type State string

const (
	StatePending      State = "pending"
	StateTranscribing State = "transcribing"
	StateAnalyzing    State = "analyzing"
	StateScripting    State = "scripting"
	StateNarrating    State = "narrating"
	StateComposing    State = "composing"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
)

// stageStates maps each stage to the state the run holds while executing it.
var stageStates = map[Stage]State{
	StageTranscript: StateTranscribing,
	StageMoments:    StateAnalyzing,
	StageScript:     StateScripting,
	StageNarration:  StateNarrating,
	StageVideo:      StateComposing,
}

// Strategy is a video synthesis fallback tier.
type Strategy string

const (
	FullLipSync    Strategy = "full_lipsync"
	StillAvatar    Strategy = "still_avatar"
	LoopBackground Strategy = "loop_background"
)

// fallbackOrder is the ordered ladder of video synthesis strategies. Each
// tier is attempted at most once per run.
var fallbackOrder = []Strategy{FullLipSync, StillAvatar, LoopBackground}

// Run is one end-to-end pipeline execution.
type Run struct {
	ID        string              `json:"id"`
	Source    string              `json:"source"`
	State     State               `json:"state"`
	Stage     Stage               `json:"stage,omitempty"` // failing stage when State == failed
	Strategy  Strategy            `json:"strategy,omitempty"`
	Artifacts []artifact.Artifact `json:"artifacts"`
	Error     string              `json:"error,omitempty"`
	ErrorKind Kind                `json:"error_kind,omitempty"`
	StartedAt time.Time           `json:"started_at"`
	EndedAt   time.Time           `json:"ended_at"`
}

// Outcome reports how a stage attempt finished.
type Outcome string

const (
	OutcomeStarted   Outcome = "started"
	OutcomeCached    Outcome = "cached"
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
)

// StatusEvent is emitted on every stage transition for external observers.
type StatusEvent struct {
	ID        string        `json:"id"`
	RunID     string        `json:"run_id"`
	Stage     Stage         `json:"stage"`
	State     State         `json:"state"`
	Outcome   Outcome       `json:"outcome"`
	Strategy  Strategy      `json:"strategy,omitempty"`
	Duration  time.Duration `json:"duration"`
	Message   string        `json:"message,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Sink receives status events. Implementations must not block the pipeline.
type Sink interface {
	Publish(StatusEvent)
}
