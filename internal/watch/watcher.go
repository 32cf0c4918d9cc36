// Package watch ingests source recordings dropped into a watched folder and
// submits them as pipeline runs once their contents stop changing.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// mediaExts are the source file types worth submitting.
var mediaExts = map[string]bool{
	".mp4": true, ".mov": true, ".mkv": true, ".webm": true,
	".wav": true, ".mp3": true, ".m4a": true, ".flac": true,
}

// SubmitFunc receives a settled source file path.
type SubmitFunc func(ctx context.Context, path string)

// Watcher observes a drop folder and submits new media files after they
// settle. A file settles when its size stops changing for the settle delay,
// so half-copied uploads are never submitted.
type Watcher struct {
	dir         string
	settleDelay time.Duration
	submit      SubmitFunc
	log         zerolog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// NewWatcher creates a Watcher over dir. settleDelay <= 0 defaults to 2s.
func NewWatcher(dir string, settleDelay time.Duration, submit SubmitFunc, log zerolog.Logger) *Watcher {
	if settleDelay <= 0 {
		settleDelay = 2 * time.Second
	}
	return &Watcher{
		dir:         dir,
		settleDelay: settleDelay,
		submit:      submit,
		log:         log.With().Str("component", "watch").Logger(),
		pending:     make(map[string]*time.Timer),
	}
}

// Run watches until ctx is cancelled. Files already present at startup are
// scheduled as if they had just arrived.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create watch dir: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	w.log.Info().Str("dir", w.dir).Msg("watching drop folder")

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.IsDir() {
			w.schedule(ctx, filepath.Join(w.dir, e.Name()))
		}
	}

	for {
		select {
		case <-ctx.Done():
			w.cancelPending()
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.schedule(ctx, ev.Name)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("watch error")
		}
	}
}

// schedule arms (or re-arms) the settle timer for a candidate file. Each
// write event pushes the deadline back, so the timer only fires after the
// file has been quiet for the full delay.
func (w *Watcher) schedule(ctx context.Context, path string) {
	if !mediaExts[strings.ToLower(filepath.Ext(path))] {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[path]; ok {
		t.Reset(w.settleDelay)
		return
	}
	w.pending[path] = time.AfterFunc(w.settleDelay, func() {
		w.settled(ctx, path)
	})
}

// settled verifies the file held its size through the delay, then submits.
func (w *Watcher) settled(ctx context.Context, path string) {
	w.mu.Lock()
	delete(w.pending, path)
	w.mu.Unlock()

	if ctx.Err() != nil {
		return
	}
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return
	}

	w.log.Info().Str("path", path).Int64("size", info.Size()).Msg("source settled, submitting")
	w.submit(ctx, path)
}

func (w *Watcher) cancelPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
}
