// Package audiofeat converts narration waveforms into time-indexed
// speech-intensity features for lip-sync animation.
package audiofeat

import (
	"errors"
	"math"
	"sort"
	"time"

	"github.com/normanking/clipforge/internal/media"
)

// Common errors
var (
	ErrNoWaveform = errors.New("waveform is empty or has no sample rate")
)

// Band identifies the dominant spectral band of a feature frame.
type Band string

const (
	BandNone Band = "none" // silent frame
	BandLow  Band = "low"  // ~250 Hz
	BandMid  Band = "mid"  // ~1 kHz
	BandHigh Band = "high" // ~4 kHz
)

// Frame is one row of the feature sequence at a fixed time-step.
type Frame struct {
	Index     int           `json:"index"`
	Timestamp time.Duration `json:"timestamp"`
	Onset     bool          `json:"onset"`
	Energy    float64       `json:"energy"` // normalized 0..1
	Band      Band          `json:"band"`
}

// Sequence is a finite, time-monotonic feature sequence. It is immutable
// once computed; Frames returns a fresh view so iteration is restartable.
type Sequence struct {
	frames    []Frame
	frameRate int
}

// Len returns the number of frames.
func (s *Sequence) Len() int { return len(s.frames) }

// FrameRate returns frames per second.
func (s *Sequence) FrameRate() int { return s.frameRate }

// At returns the frame at index i.
func (s *Sequence) At(i int) Frame { return s.frames[i] }

// Frames returns a copy of the full frame sequence.
func (s *Sequence) Frames() []Frame {
	out := make([]Frame, len(s.frames))
	copy(out, s.frames)
	return out
}

// Duration returns the time span covered by the sequence.
func (s *Sequence) Duration() time.Duration {
	return time.Duration(len(s.frames)) * time.Second / time.Duration(s.frameRate)
}

// MeanEnergy returns the average normalized energy across all frames.
func (s *Sequence) MeanEnergy() float64 {
	if len(s.frames) == 0 {
		return 0
	}
	var sum float64
	for _, f := range s.frames {
		sum += f.Energy
	}
	return sum / float64(len(s.frames))
}

// Config holds extractor parameters.
type Config struct {
	FrameRate       int     `json:"frame_rate"`       // default 30
	WindowOverlap   float64 `json:"window_overlap"`   // 0..1, default 0.5
	OnsetThreshold  float64 `json:"onset_threshold"`  // rise over trailing average, default 1.5
	TrailingWindows int     `json:"trailing_windows"` // default 8
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		FrameRate:       30,
		WindowOverlap:   0.5,
		OnsetThreshold:  1.5,
		TrailingWindows: 8,
	}
}

// energyFloor is the minimum normalized energy for a frame to count as an
// onset candidate. Keeps numeric dust in silent recordings from triggering.
const energyFloor = 0.05

// Extractor computes feature sequences from waveforms.
type Extractor struct {
	cfg Config
}

// NewExtractor creates an Extractor, filling zero config fields with defaults.
func NewExtractor(cfg Config) *Extractor {
	def := DefaultConfig()
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = def.FrameRate
	}
	if cfg.WindowOverlap <= 0 || cfg.WindowOverlap >= 1 {
		cfg.WindowOverlap = def.WindowOverlap
	}
	if cfg.OnsetThreshold <= 0 {
		cfg.OnsetThreshold = def.OnsetThreshold
	}
	if cfg.TrailingWindows <= 0 {
		cfg.TrailingWindows = def.TrailingWindows
	}
	return &Extractor{cfg: cfg}
}

// Extract partitions the waveform into overlapping windows at the configured
// frame rate and computes per-frame energy, onsets, and dominant band.
// Silence-only input yields all-zero energy and no onsets. A waveform shorter
// than one window yields a single frame.
func (e *Extractor) Extract(w *media.Waveform) (*Sequence, error) {
	if w == nil || w.SampleRate <= 0 || len(w.Samples) == 0 {
		return nil, ErrNoWaveform
	}

	hop := w.SampleRate / e.cfg.FrameRate
	if hop < 1 {
		hop = 1
	}
	winLen := int(float64(hop) * (1 + e.cfg.WindowOverlap))

	numFrames := (len(w.Samples) + hop - 1) / hop
	if numFrames == 0 {
		numFrames = 1
	}

	// Raw RMS per window.
	raw := make([]float64, numFrames)
	for i := 0; i < numFrames; i++ {
		start := i * hop
		end := start + winLen
		if start >= len(w.Samples) {
			raw[i] = 0
			continue
		}
		if end > len(w.Samples) {
			end = len(w.Samples)
		}
		raw[i] = rms(w.Samples[start:end])
	}

	// Normalize against the clip's 95th-percentile energy, clamped to [0,1].
	p95 := percentile(raw, 0.95)
	frames := make([]Frame, numFrames)
	frameDur := time.Second / time.Duration(e.cfg.FrameRate)

	for i := range frames {
		var energy float64
		if p95 > 0 {
			energy = raw[i] / p95
			if energy > 1 {
				energy = 1
			}
		}

		band := BandNone
		if energy > 0 {
			start := i * hop
			end := start + winLen
			if end > len(w.Samples) {
				end = len(w.Samples)
			}
			if start < end {
				band = dominantBand(w.Samples[start:end], w.SampleRate)
			}
		}

		frames[i] = Frame{
			Index:     i,
			Timestamp: time.Duration(i) * frameDur,
			Energy:    energy,
			Band:      band,
		}
	}

	// Onset: local energy rise over the trailing average.
	for i := range frames {
		energy := frames[i].Energy
		if energy < energyFloor {
			continue
		}
		avg := trailingAverage(frames, i, e.cfg.TrailingWindows)
		if energy > avg*e.cfg.OnsetThreshold {
			frames[i].Onset = true
		}
	}

	return &Sequence{frames: frames, frameRate: e.cfg.FrameRate}, nil
}

// rms computes root-mean-square amplitude.
func rms(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// percentile returns the p-th percentile (0..1) of values.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

// trailingAverage averages the energies of up to n frames preceding index i.
// With no preceding frames it returns 0, so speech starting at frame zero
// registers as an onset.
func trailingAverage(frames []Frame, i, n int) float64 {
	start := i - n
	if start < 0 {
		start = 0
	}
	if start == i {
		return 0
	}
	var sum float64
	for j := start; j < i; j++ {
		sum += frames[j].Energy
	}
	return sum / float64(i-start)
}

// band center frequencies in Hz
var bandFreqs = map[Band]float64{
	BandLow:  250,
	BandMid:  1000,
	BandHigh: 4000,
}

// dominantBand picks the band with the most Goertzel power in the window.
func dominantBand(samples []float64, sampleRate int) Band {
	nyquist := float64(sampleRate) / 2
	best := BandLow
	var bestPower float64
	for _, b := range []Band{BandLow, BandMid, BandHigh} {
		freq := bandFreqs[b]
		if freq >= nyquist {
			continue
		}
		p := goertzelPower(samples, sampleRate, freq)
		if p > bestPower {
			bestPower = p
			best = b
		}
	}
	if bestPower == 0 {
		return BandNone
	}
	return best
}

// goertzelPower computes single-bin spectral power at freq.
func goertzelPower(samples []float64, sampleRate int, freq float64) float64 {
	w := 2 * math.Pi * freq / float64(sampleRate)
	coeff := 2 * math.Cos(w)
	var s1, s2 float64
	for _, x := range samples {
		s0 := x + coeff*s1 - s2
		s2 = s1
		s1 = s0
	}
	return s1*s1 + s2*s2 - coeff*s1*s2
}
