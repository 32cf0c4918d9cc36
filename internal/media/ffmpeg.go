package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"
)

// ErrEncodeFailed wraps non-zero ffmpeg exits.
var ErrEncodeFailed = errors.New("ffmpeg encode failed")

// EncoderConfig holds the encoding parameters shared by all video outputs.
type EncoderConfig struct {
	FPS          int
	CRF          int
	Preset       string
	AudioBitrate string
}

// DefaultEncoderConfig returns the standard output profile.
func DefaultEncoderConfig() EncoderConfig {
	return EncoderConfig{
		FPS:          30,
		CRF:          20,
		Preset:       "medium",
		AudioBitrate: "192k",
	}
}

// Encoder shells out to ffmpeg for frame-sequence encoding, audio muxing,
// and background looping.
type Encoder struct {
	binary string
	cfg    EncoderConfig
}

// NewEncoder creates an Encoder, filling zero config fields with defaults.
// An empty binary defaults to "ffmpeg" on PATH.
func NewEncoder(binary string, cfg EncoderConfig) *Encoder {
	if binary == "" {
		binary = "ffmpeg"
	}
	def := DefaultEncoderConfig()
	if cfg.FPS <= 0 {
		cfg.FPS = def.FPS
	}
	if cfg.CRF <= 0 {
		cfg.CRF = def.CRF
	}
	if cfg.Preset == "" {
		cfg.Preset = def.Preset
	}
	if cfg.AudioBitrate == "" {
		cfg.AudioBitrate = def.AudioBitrate
	}
	return &Encoder{binary: binary, cfg: cfg}
}

// run executes an ffmpeg invocation and wraps failures with stderr context.
func (e *Encoder) run(ctx context.Context, args ...string) error {
	full := append([]string{"-y"}, args...)
	cmd := exec.CommandContext(ctx, e.binary, full...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return ToolNotPresentErr(err)
		}
		return fmt.Errorf("%w: %s", ErrEncodeFailed, stderr.String())
	}
	return nil
}

// EncodeFrameSequence encodes a directory of numbered PNG frames
// (frame_000001.png, ...) and muxes audioPath as the sole audio stream.
// frameRate must match the rate the frames were rendered at, or the video
// duration drifts from the narration; frameRate <= 0 uses the config FPS.
func (e *Encoder) EncodeFrameSequence(ctx context.Context, frameDir, audioPath, outPath string, frameRate int) error {
	if frameRate <= 0 {
		frameRate = e.cfg.FPS
	}
	pattern := filepath.Join(frameDir, "frame_%06d.png")
	return e.run(ctx,
		"-framerate", strconv.Itoa(frameRate),
		"-i", pattern,
		"-i", audioPath,
		"-map", "0:v:0", "-map", "1:a:0",
		"-c:v", "libx264", "-pix_fmt", "yuv420p",
		"-r", strconv.Itoa(frameRate),
		"-crf", strconv.Itoa(e.cfg.CRF), "-preset", e.cfg.Preset,
		"-c:a", "aac", "-b:a", e.cfg.AudioBitrate,
		"-shortest", "-movflags", "+faststart",
		outPath,
	)
}

// LoopToDuration loops background video frames for exactly the given duration
// and attaches audioPath as the only audio track, discarding the background's
// original audio.
func (e *Encoder) LoopToDuration(ctx context.Context, backgroundPath, audioPath string, duration time.Duration, outPath string) error {
	secs := strconv.FormatFloat(duration.Seconds(), 'f', 3, 64)
	return e.run(ctx,
		"-stream_loop", "-1", "-i", backgroundPath,
		"-i", audioPath,
		"-t", secs,
		"-map", "0:v:0", "-map", "1:a:0",
		"-c:v", "libx264", "-pix_fmt", "yuv420p",
		"-r", strconv.Itoa(e.cfg.FPS),
		"-crf", strconv.Itoa(e.cfg.CRF), "-preset", e.cfg.Preset,
		"-c:a", "aac", "-b:a", e.cfg.AudioBitrate,
		"-shortest", "-movflags", "+faststart",
		outPath,
	)
}

// ExtractAudio extracts a mono 16 kHz WAV track from a media file, for
// transcription and feature analysis.
func (e *Encoder) ExtractAudio(ctx context.Context, mediaPath, outPath string) error {
	return e.run(ctx,
		"-i", mediaPath,
		"-vn", "-ac", "1", "-ar", "16000",
		"-f", "wav",
		outPath,
	)
}
