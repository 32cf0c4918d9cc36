// Package lipsync renders audio-driven talking-head animation. The animator
// deforms the mouth region of a source face in time with a feature sequence;
// the fallback renderer draws a non-face-tracked pulsing indicator from the
// same sequence. Both emit exactly one output frame per feature frame.
package lipsync

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/rs/zerolog"

	"github.com/normanking/clipforge/internal/audiofeat"
	"github.com/normanking/clipforge/internal/vision"
)

// Common errors
var (
	ErrNoFace        = errors.New("no face found in source")
	ErrNoSource      = errors.New("no source frames")
	ErrEmptySequence = errors.New("feature sequence is empty")
)

// onsetReach is how close an onset must be to count as active speech.
const onsetReach = 80 * time.Millisecond

// Config controls mouth-parameter smoothing and deformation strength.
type Config struct {
	// Attack and Release are EMA rates in [0,1] applied per frame when the
	// energy target is rising or falling.
	Attack  float64 `json:"attack"`
	Release float64 `json:"release"`

	// OnsetFloor is the minimum mouth opening on onset frames.
	OnsetFloor float64 `json:"onset_floor"`

	// MaxStretch is the peak vertical stretch of the mouth region at full
	// opening, as a fraction of the region height.
	MaxStretch float64 `json:"max_stretch"`

	// BobAmplitude is the idle vertical bob in pixels on silent frames.
	BobAmplitude float64 `json:"bob_amplitude"`

	// MaxHeldFrames bounds consecutive face-detection misses before the
	// animation is abandoned.
	MaxHeldFrames int `json:"max_held_frames"`
}

// DefaultConfig returns animation defaults tuned for 30 fps narration.
func DefaultConfig() Config {
	return Config{
		Attack:        0.6,
		Release:       0.25,
		OnsetFloor:    0.35,
		MaxStretch:    0.45,
		BobAmplitude:  2.0,
		MaxHeldFrames: 15,
	}
}

// Animator maps a feature sequence onto per-frame mouth deformation of a
// source face.
type Animator struct {
	cfg     Config
	tracker *vision.Tracker
	log     zerolog.Logger
}

// NewAnimator creates an Animator over the given face detector.
func NewAnimator(cfg Config, detector vision.Detector, log zerolog.Logger) *Animator {
	def := DefaultConfig()
	if cfg.Attack <= 0 {
		cfg.Attack = def.Attack
	}
	if cfg.Release <= 0 {
		cfg.Release = def.Release
	}
	if cfg.OnsetFloor <= 0 {
		cfg.OnsetFloor = def.OnsetFloor
	}
	if cfg.MaxStretch <= 0 {
		cfg.MaxStretch = def.MaxStretch
	}
	if cfg.MaxHeldFrames <= 0 {
		cfg.MaxHeldFrames = def.MaxHeldFrames
	}
	return &Animator{
		cfg:     cfg,
		tracker: vision.NewTracker(detector, cfg.MaxHeldFrames),
		log:     log.With().Str("component", "lipsync").Logger(),
	}
}

// Animate renders one frame per feature frame into the arena. Source frames
// are cycled when the sequence outlasts them, so a single still image
// animates for the full narration. Returns ErrNoFace when the detector never
// finds a face, and vision.ErrFaceLost when tracking drops mid-sequence.
func (a *Animator) Animate(ctx context.Context, sources []image.Image, seq *audiofeat.Sequence, arena *FrameArena) error {
	if len(sources) == 0 {
		return ErrNoSource
	}
	if seq == nil || seq.Len() == 0 {
		return ErrEmptySequence
	}

	mean := seq.MeanEnergy()
	opening := 0.0

	for i := 0; i < seq.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		frame := seq.At(i)
		src := sources[i%len(sources)]

		region, err := a.tracker.Track(ctx, src)
		if err != nil {
			return fmt.Errorf("face tracking failed at frame %d: %w", i, err)
		}
		if region == nil {
			return ErrNoFace
		}

		opening = a.step(opening, frame)

		var out *image.RGBA
		if speaking(frame, seq, i, mean) {
			out = a.renderSpeaking(src, region, opening)
		} else {
			out = a.renderIdle(src, frame.Timestamp)
		}
		if err := arena.Put(i, out); err != nil {
			return err
		}
	}

	a.log.Debug().Int("frames", seq.Len()).Msg("lip-sync animation complete")
	return nil
}

// step advances the smoothed mouth opening toward the frame's energy.
// Rising energy uses the attack rate, falling energy the release rate, and
// onset frames are clamped up to the minimum opening floor.
func (a *Animator) step(prev float64, f audiofeat.Frame) float64 {
	rate := a.cfg.Release
	if f.Energy > prev {
		rate = a.cfg.Attack
	}
	next := prev + (f.Energy-prev)*rate
	if f.Onset && next < a.cfg.OnsetFloor {
		next = a.cfg.OnsetFloor
	}
	if next < 0 {
		next = 0
	}
	if next > 1 {
		next = 1
	}
	return next
}

// speaking reports whether the frame is part of active speech: an onset
// within reach, or energy above a fraction of the clip's mean energy.
func speaking(f audiofeat.Frame, seq *audiofeat.Sequence, i int, mean float64) bool {
	if mean > 0 && f.Energy > 0.4*mean {
		return true
	}
	reach := int(math.Ceil(onsetReach.Seconds() * float64(seq.FrameRate())))
	lo := i - reach
	if lo < 0 {
		lo = 0
	}
	hi := i + reach
	if hi > seq.Len()-1 {
		hi = seq.Len() - 1
	}
	for j := lo; j <= hi; j++ {
		if seq.At(j).Onset {
			return true
		}
	}
	return false
}

// renderSpeaking stretches the mouth region vertically around its center in
// proportion to the opening parameter.
func (a *Animator) renderSpeaking(src image.Image, region *vision.FaceRegion, opening float64) *image.RGBA {
	out := cloneRGBA(src)
	if opening <= 0.01 {
		return out
	}

	mouthMin, mouthMax := region.MouthRect()
	bounds := out.Bounds()
	x0 := clampInt(int(mouthMin.X()), bounds.Min.X, bounds.Max.X)
	x1 := clampInt(int(mouthMax.X()), bounds.Min.X, bounds.Max.X)
	y0 := clampInt(int(mouthMin.Y()), bounds.Min.Y, bounds.Max.Y)
	y1 := clampInt(int(mouthMax.Y()), bounds.Min.Y, bounds.Max.Y)
	if x1 <= x0 || y1 <= y0 {
		return out
	}

	center := mgl64.Vec2{
		(mouthMin.X() + mouthMax.X()) / 2,
		(mouthMin.Y() + mouthMax.Y()) / 2,
	}
	scale := 1 + opening*a.cfg.MaxStretch
	halfH := (mouthMax.Y() - mouthMin.Y()) / 2

	for y := y0; y < y1; y++ {
		// map each destination row back toward the mouth center so the
		// region appears stretched outward
		srcY := center.Y() + (float64(y)-center.Y())/scale
		sy := clampInt(int(math.Round(srcY)), bounds.Min.Y, bounds.Max.Y-1)
		for x := x0; x < x1; x++ {
			c := out.RGBAAt(x, sy)
			// darken the interior band so the open mouth reads as a cavity
			if halfH > 0 {
				depth := 1 - math.Abs(float64(y)-center.Y())/halfH
				if depth > 0 {
					shade := 1 - opening*0.6*depth
					c.R = uint8(float64(c.R) * shade)
					c.G = uint8(float64(c.G) * shade)
					c.B = uint8(float64(c.B) * shade)
				}
			}
			out.SetRGBA(x, y, c)
		}
	}
	return out
}

// renderIdle shifts the whole frame by a slow sinusoidal bob so silent
// stretches do not look frozen.
func (a *Animator) renderIdle(src image.Image, at time.Duration) *image.RGBA {
	bounds := src.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	offset := int(math.Round(a.cfg.BobAmplitude * math.Sin(2*math.Pi*0.5*at.Seconds())))
	draw.Draw(out, out.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)
	draw.Draw(out, out.Bounds().Add(image.Pt(0, offset)), src, bounds.Min, draw.Over)
	return out
}

func cloneRGBA(src image.Image) *image.RGBA {
	bounds := src.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(out, out.Bounds(), src, bounds.Min, draw.Src)
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
