// Package vision provides face detection contracts and region tracking for
// lip-sync animation.
package vision

import (
	"context"
	"errors"
	"image"

	"github.com/go-gl/mathgl/mgl64"
)

// Common errors
var (
	ErrDetectorUnavailable = errors.New("face detector unavailable")
	ErrFaceLost            = errors.New("face tracking lost")
)

// FaceRegion is a bounding box plus landmark estimate for one frame.
// Coordinates are in pixels of the source image.
type FaceRegion struct {
	Min        mgl64.Vec2 `json:"min"`
	Max        mgl64.Vec2 `json:"max"`
	Landmarks  Landmarks  `json:"landmarks"`
	Confidence float64    `json:"confidence"`
}

// Landmarks holds the coarse facial landmark estimate
type Landmarks struct {
	LeftEye     mgl64.Vec2 `json:"left_eye"`
	RightEye    mgl64.Vec2 `json:"right_eye"`
	MouthCenter mgl64.Vec2 `json:"mouth_center"`
}

// Width returns the box width in pixels.
func (r *FaceRegion) Width() float64 { return r.Max.X() - r.Min.X() }

// Height returns the box height in pixels.
func (r *FaceRegion) Height() float64 { return r.Max.Y() - r.Min.Y() }

// Center returns the box center.
func (r *FaceRegion) Center() mgl64.Vec2 {
	return r.Min.Add(r.Max).Mul(0.5)
}

// MouthRect returns the mouth sub-region around the mouth landmark,
// sized relative to the face box.
func (r *FaceRegion) MouthRect() (mgl64.Vec2, mgl64.Vec2) {
	halfW := r.Width() * 0.25
	halfH := r.Height() * 0.12
	c := r.Landmarks.MouthCenter
	return mgl64.Vec2{c.X() - halfW, c.Y() - halfH}, mgl64.Vec2{c.X() + halfW, c.Y() + halfH}
}

// Detector locates a face in an image. A nil region with nil error means
// no face was found; that is a valid outcome, not a failure.
type Detector interface {
	// Name returns the detector identifier (e.g. "heuristic", "remote")
	Name() string

	// Detect locates the most prominent face region, or nil if none
	Detect(ctx context.Context, img image.Image) (*FaceRegion, error)
}

// estimateLandmarks derives coarse landmarks from a face bounding box.
func estimateLandmarks(min, max mgl64.Vec2) Landmarks {
	w := max.X() - min.X()
	h := max.Y() - min.Y()
	return Landmarks{
		LeftEye:     mgl64.Vec2{min.X() + 0.3*w, min.Y() + 0.4*h},
		RightEye:    mgl64.Vec2{min.X() + 0.7*w, min.Y() + 0.4*h},
		MouthCenter: mgl64.Vec2{min.X() + 0.5*w, min.Y() + 0.75*h},
	}
}
