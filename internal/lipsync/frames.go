package lipsync

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
)

// Common errors
var (
	ErrOutOfOrder = errors.New("frame submitted out of order")
)

// FrameArena is an indexed, append-only frame sink. Frames are produced,
// written, and released strictly in sequence; frame i must be submitted
// before frame i+1. Files are named so the encoder can consume the
// directory as an image sequence.
type FrameArena struct {
	dir  string
	next int
}

// NewFrameArena creates the frame directory if needed.
func NewFrameArena(dir string) (*FrameArena, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create frame directory: %w", err)
	}
	return &FrameArena{dir: dir}, nil
}

// Dir returns the directory holding the written frames.
func (a *FrameArena) Dir() string { return a.dir }

// Count returns the number of frames written so far.
func (a *FrameArena) Count() int { return a.next }

// Put writes frame index onto disk. index must equal Count().
func (a *FrameArena) Put(index int, img image.Image) error {
	if index != a.next {
		return fmt.Errorf("%w: got %d, want %d", ErrOutOfOrder, index, a.next)
	}
	path := filepath.Join(a.dir, fmt.Sprintf("frame_%06d.png", index))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create frame file: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode frame %d: %w", index, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close frame file: %w", err)
	}
	a.next++
	return nil
}
