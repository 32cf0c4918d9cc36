package lipsync

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/rs/zerolog"

	"github.com/normanking/clipforge/internal/audiofeat"
)

// FallbackRenderer animates a still avatar without face tracking: a ring
// around the image center pulses with the energy sequence. It honors the
// same contract as the Animator, one output frame per feature frame.
type FallbackRenderer struct {
	// Width and Height set the canvas when no avatar image is supplied.
	Width  int
	Height int

	log zerolog.Logger
}

// NewFallbackRenderer creates a renderer with the given canvas size.
func NewFallbackRenderer(width, height int, log zerolog.Logger) *FallbackRenderer {
	if width <= 0 {
		width = 1280
	}
	if height <= 0 {
		height = 720
	}
	return &FallbackRenderer{
		Width:  width,
		Height: height,
		log:    log.With().Str("component", "lipsync.fallback").Logger(),
	}
}

// Render draws one frame per feature frame into the arena. avatar may be
// nil, in which case a plain dark canvas is used.
func (r *FallbackRenderer) Render(ctx context.Context, avatar image.Image, seq *audiofeat.Sequence, arena *FrameArena) error {
	if seq == nil || seq.Len() == 0 {
		return ErrEmptySequence
	}

	base := r.baseFrame(avatar)
	cx := float64(base.Bounds().Dx()) / 2
	cy := float64(base.Bounds().Dy()) / 2
	baseRadius := math.Min(cx, cy) * 0.55

	for i := 0; i < seq.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		frame := seq.At(i)

		out := image.NewRGBA(base.Bounds())
		draw.Draw(out, out.Bounds(), base, base.Bounds().Min, draw.Src)

		radius := baseRadius * (1 + 0.25*frame.Energy)
		thickness := 2.0 + 6.0*frame.Energy
		ring := ringColor(frame)
		drawRing(out, cx, cy, radius, thickness, ring)

		if err := arena.Put(i, out); err != nil {
			return err
		}
	}

	r.log.Debug().Int("frames", seq.Len()).Msg("fallback render complete")
	return nil
}

// baseFrame centers the avatar on a dark canvas, or returns the bare canvas.
func (r *FallbackRenderer) baseFrame(avatar image.Image) *image.RGBA {
	w, h := r.Width, r.Height
	if avatar != nil {
		ab := avatar.Bounds()
		if ab.Dx() > 0 && ab.Dy() > 0 {
			w, h = ab.Dx(), ab.Dy()
		}
	}
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(out, out.Bounds(), image.NewUniform(color.RGBA{R: 18, G: 18, B: 24, A: 255}), image.Point{}, draw.Src)
	if avatar != nil {
		draw.Draw(out, out.Bounds(), avatar, avatar.Bounds().Min, draw.Over)
	}
	return out
}

// ringColor brightens with onset frames so speech starts are visible.
func ringColor(f audiofeat.Frame) color.RGBA {
	if f.Onset {
		return color.RGBA{R: 255, G: 214, B: 64, A: 255}
	}
	v := uint8(96 + f.Energy*159)
	return color.RGBA{R: 64, G: v, B: 255, A: 255}
}

// drawRing rasterizes an annulus by scanning its bounding box.
func drawRing(img *image.RGBA, cx, cy, radius, thickness float64, c color.RGBA) {
	bounds := img.Bounds()
	outer := radius + thickness/2
	inner := radius - thickness/2
	x0 := clampInt(int(cx-outer)-1, bounds.Min.X, bounds.Max.X)
	x1 := clampInt(int(cx+outer)+1, bounds.Min.X, bounds.Max.X)
	y0 := clampInt(int(cy-outer)-1, bounds.Min.Y, bounds.Max.Y)
	y1 := clampInt(int(cy+outer)+1, bounds.Min.Y, bounds.Max.Y)
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			d := math.Hypot(float64(x)-cx, float64(y)-cy)
			if d >= inner && d <= outer {
				img.SetRGBA(x, y, c)
			}
		}
	}
}
