// Package compose matches a background clip to narration duration and muxes
// the narration as the sole audio track.
package compose

import (
	"errors"
	"fmt"
	"time"
)

// Common errors
var (
	ErrDegenerateClip      = errors.New("background clip duration must be positive")
	ErrDegenerateNarration = errors.New("narration duration must be positive")
)

// Plan is the loop/partial schedule that stretches a background clip to the
// narration's exact duration.
type Plan struct {
	Loops     int           `json:"loops"`   // full passes of the clip
	Partial   time.Duration `json:"partial"` // trailing segment, 0 <= Partial < ClipDur
	ClipDur   time.Duration `json:"clip_duration"`
	TargetDur time.Duration `json:"target_duration"` // == narration duration
}

// PlanComposition computes the schedule for given narration and clip
// durations. Loops*ClipDur + Partial always equals the narration duration;
// the video side is never shorter than the audio.
func PlanComposition(narration, clip time.Duration) (Plan, error) {
	if clip <= 0 {
		return Plan{}, fmt.Errorf("%w: %v", ErrDegenerateClip, clip)
	}
	if narration <= 0 {
		return Plan{}, fmt.Errorf("%w: %v", ErrDegenerateNarration, narration)
	}
	loops := int(narration / clip)
	partial := narration - time.Duration(loops)*clip
	return Plan{
		Loops:     loops,
		Partial:   partial,
		ClipDur:   clip,
		TargetDur: narration,
	}, nil
}
