package vision

import (
	"context"
	"image"

	"github.com/go-gl/mathgl/mgl64"
)

// minSkinFraction is the share of skin-classified pixels below which the
// image is treated as containing no face.
const minSkinFraction = 0.02

// HeuristicDetector locates a face by skin-tone pixel clustering. It is the
// built-in detector used when no external vision model is configured; its
// accuracy is deliberately modest and callers must handle the no-face case.
type HeuristicDetector struct{}

// NewHeuristicDetector creates a HeuristicDetector.
func NewHeuristicDetector() *HeuristicDetector {
	return &HeuristicDetector{}
}

// Name returns the detector identifier.
func (d *HeuristicDetector) Name() string { return "heuristic" }

// Detect scans for the bounding box of skin-tone pixels and estimates
// landmarks from box proportions. Returns nil when too few skin pixels exist.
func (d *HeuristicDetector) Detect(_ context.Context, img image.Image) (*FaceRegion, error) {
	bounds := img.Bounds()
	if bounds.Empty() {
		return nil, nil
	}

	minX, minY := bounds.Max.X, bounds.Max.Y
	maxX, maxY := bounds.Min.X, bounds.Min.Y
	var skin, total int

	// Sample every other pixel; full resolution adds nothing at box accuracy.
	for y := bounds.Min.Y; y < bounds.Max.Y; y += 2 {
		for x := bounds.Min.X; x < bounds.Max.X; x += 2 {
			total++
			r, g, b, _ := img.At(x, y).RGBA()
			if !isSkinTone(uint8(r>>8), uint8(g>>8), uint8(b>>8)) {
				continue
			}
			skin++
			if x < minX {
				minX = x
			}
			if x > maxX {
				maxX = x
			}
			if y < minY {
				minY = y
			}
			if y > maxY {
				maxY = y
			}
		}
	}

	if total == 0 || float64(skin)/float64(total) < minSkinFraction || maxX <= minX || maxY <= minY {
		return nil, nil
	}

	regionMin := mgl64.Vec2{float64(minX), float64(minY)}
	regionMax := mgl64.Vec2{float64(maxX), float64(maxY)}
	confidence := float64(skin) / float64(total)
	if confidence > 1 {
		confidence = 1
	}

	return &FaceRegion{
		Min:        regionMin,
		Max:        regionMax,
		Landmarks:  estimateLandmarks(regionMin, regionMax),
		Confidence: confidence,
	}, nil
}

// isSkinTone applies the classic RGB skin classification rule.
func isSkinTone(r, g, b uint8) bool {
	return r > 95 && g > 40 && b > 20 &&
		r > g && r > b &&
		int(r)-int(g) > 15
}
