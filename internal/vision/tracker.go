package vision

import (
	"context"
	"image"
	"sync"
)

// Tracker wraps a Detector and holds the last good region across detection
// misses. When the current frame's detection fails, the prior region is
// reused for up to MaxHeld consecutive frames before tracking is declared
// lost.
type Tracker struct {
	detector Detector
	maxHeld  int

	mu      sync.Mutex
	last    *FaceRegion
	misses  int
	everHit bool
}

// NewTracker creates a Tracker. maxHeld <= 0 defaults to 15 frames
// (half a second at 30 fps).
func NewTracker(detector Detector, maxHeld int) *Tracker {
	if maxHeld <= 0 {
		maxHeld = 15
	}
	return &Tracker{detector: detector, maxHeld: maxHeld}
}

// Track returns the face region for the current frame, reusing the prior
// frame's detection on a miss. Returns ErrFaceLost once misses exceed the
// hold limit, and nil region (no error) when no face has ever been seen.
func (t *Tracker) Track(ctx context.Context, img image.Image) (*FaceRegion, error) {
	region, err := t.detector.Detect(ctx, img)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if region != nil {
		t.last = region
		t.misses = 0
		t.everHit = true
		return region, nil
	}

	if !t.everHit {
		return nil, nil
	}

	t.misses++
	if t.misses > t.maxHeld {
		return nil, ErrFaceLost
	}
	return t.last, nil
}

// Reset clears tracking state.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = nil
	t.misses = 0
	t.everHit = false
}
