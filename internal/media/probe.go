// Package media wraps ffprobe/ffmpeg for stream inspection and encoding.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"
)

// Common errors
var (
	ErrFileNotFound   = errors.New("media file not found")
	ErrNoStreams      = errors.New("no audio or video streams found")
	ErrProbeFailed    = errors.New("ffprobe failed")
	ErrToolNotPresent = errors.New("ffmpeg/ffprobe not installed")
)

// StreamInfo describes a probed media file
type StreamInfo struct {
	Duration   time.Duration `json:"duration"`
	SampleRate int           `json:"sample_rate"` // 0 when no audio stream
	Channels   int           `json:"channels"`    // 0 when no audio stream
	HasVideo   bool          `json:"has_video"`
	Path       string        `json:"path"`
}

// Prober inspects media files via ffprobe
type Prober struct {
	binary string
}

// NewProber creates a Prober. An empty binary defaults to "ffprobe" on PATH.
func NewProber(binary string) *Prober {
	if binary == "" {
		binary = "ffprobe"
	}
	return &Prober{binary: binary}
}

// ffprobe JSON output shapes (subset)
type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType  string `json:"codec_type"`
		SampleRate string `json:"sample_rate"`
		Channels   int    `json:"channels"`
	} `json:"streams"`
}

// Probe returns duration, sample rate, and channel count for an audio or video file.
func (p *Prober) Probe(ctx context.Context, path string) (*StreamInfo, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}

	cmd := exec.CommandContext(ctx, p.binary,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, ToolNotPresentErr(err)
		}
		return nil, fmt.Errorf("%w: %s: %s", ErrProbeFailed, path, stderr.String())
	}

	var out probeOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, fmt.Errorf("%w: parse output: %v", ErrProbeFailed, err)
	}

	info := &StreamInfo{Path: path}

	if out.Format.Duration != "" {
		secs, err := strconv.ParseFloat(out.Format.Duration, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: parse duration %q", ErrProbeFailed, out.Format.Duration)
		}
		info.Duration = time.Duration(secs * float64(time.Second))
	}

	for _, s := range out.Streams {
		switch s.CodecType {
		case "audio":
			if info.SampleRate == 0 {
				info.SampleRate, _ = strconv.Atoi(s.SampleRate)
				info.Channels = s.Channels
			}
		case "video":
			info.HasVideo = true
		}
	}

	if info.SampleRate == 0 && !info.HasVideo {
		return nil, fmt.Errorf("%w: %s", ErrNoStreams, path)
	}

	return info, nil
}

// ToolNotPresentErr wraps a missing-binary error with the sentinel.
func ToolNotPresentErr(err error) error {
	return fmt.Errorf("%w: %v", ErrToolNotPresent, err)
}
