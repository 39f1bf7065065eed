// Package watch provides a "watch the source tree, debounce, re-run"
// loop for sitemin's watch mode. Bursts of filesystem events (editor
// saves, git checkouts) collapse into one pipeline run per quiet
// period.
//
// Typical usage:
//
//	w, _ := watch.New(base, watch.Options{Debounce: 500 * time.Millisecond})
//	defer w.Close()
//	w.OnChange(ctx, func() error { return runPipeline(ctx) })
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Options tunes the watcher behaviour.
type Options struct {
	// Debounce is the quiet period after the last filesystem event
	// before the action fires. Default: 500ms.
	Debounce time.Duration
	// Ignore are path fragments that never trigger a run (the output
	// tree, caches). Matched against slash-separated relative paths.
	Ignore []string
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Debounce <= 0 {
		o.Debounce = 500 * time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Watcher re-runs an action when files under the base tree change.
type Watcher struct {
	base string
	fsw  *fsnotify.Watcher
	opts Options

	// Counters for observability (exported via Stats).
	events  atomic.Int64
	ignored atomic.Int64
	runs    atomic.Int64
	errors  atomic.Int64
	runNs   atomic.Int64
}

// Stats are point-in-time counters.
type Stats struct {
	Events     int64         `json:"events"`
	Ignored    int64         `json:"ignored"`
	Runs       int64         `json:"runs"`
	Errors     int64         `json:"errors"`
	AvgRunTime time.Duration `json:"avg_run_time"`
}

// New creates a Watcher over every directory under base. Call OnChange
// to start the loop and Close when done.
func New(base string, opts Options) (*Watcher, error) {
	opts.defaults()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create watcher: %w", err)
	}

	w := &Watcher{base: base, fsw: fsw, opts: opts}
	if err := w.addTree(base); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// Close releases the underlying filesystem watcher.
func (w *Watcher) Close() error { return w.fsw.Close() }

// Stats returns the current counters.
func (w *Watcher) Stats() Stats {
	s := Stats{
		Events:  w.events.Load(),
		Ignored: w.ignored.Load(),
		Runs:    w.runs.Load(),
		Errors:  w.errors.Load(),
	}
	if s.Runs > 0 {
		s.AvgRunTime = time.Duration(w.runNs.Load() / s.Runs)
	}
	return s
}

// OnChange blocks until ctx is cancelled. Every relevant filesystem
// event (re)starts the debounce timer; when the window passes quietly
// the action runs once. Newly created directories are added to the
// watch set so deep trees keep working.
//
// If the action returns an error it is logged; the next change triggers
// a fresh run.
func (w *Watcher) OnChange(ctx context.Context, action func() error) {
	log := w.opts.Logger

	var debounceTimer *time.Timer
	var debounceCh <-chan time.Time
	pending := false

	log.Info("watch: started", "base", w.base, "debounce", w.opts.Debounce)

	for {
		select {
		case <-ctx.Done():
			log.Info("watch: stopped")
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.events.Add(1)
			if w.skip(ev.Name) {
				w.ignored.Add(1)
				continue
			}

			if ev.Op.Has(fsnotify.Create) {
				// Best effort: if the new path is a directory, watch it.
				if err := w.addTree(ev.Name); err != nil {
					log.Debug("watch: add new path failed", "path", ev.Name, "error", err)
				}
			}

			pending = true
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.NewTimer(w.opts.Debounce)
			debounceCh = debounceTimer.C
			log.Debug("watch: change detected, debouncing", "path", ev.Name, "op", ev.Op.String())

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.errors.Add(1)
			log.Warn("watch: watcher error", "error", err)

		case <-debounceCh:
			debounceCh = nil
			if pending {
				w.fire(log, action)
				pending = false
			}
		}
	}
}

func (w *Watcher) fire(log *slog.Logger, action func() error) {
	log.Info("watch: rebuilding")
	start := time.Now()
	if err := action(); err != nil {
		w.errors.Add(1)
		log.Error("watch: rebuild failed", "error", err)
		return
	}
	elapsed := time.Since(start)
	w.runs.Add(1)
	w.runNs.Add(int64(elapsed))
	log.Info("watch: rebuild complete", "duration", elapsed)
}

// addTree registers path and every directory below it. Non-directories
// are ignored silently.
func (w *Watcher) addTree(path string) error {
	return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if w.skip(p) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(p); err != nil {
			return fmt.Errorf("watch: add %s: %w", p, err)
		}
		return nil
	})
}

// skip reports whether a path is outside the interesting tree: ignored
// fragments and dot-directories (upscale cache, VCS metadata).
func (w *Watcher) skip(path string) bool {
	rel, err := filepath.Rel(w.base, path)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, part := range strings.Split(rel, "/") {
		if part != "." && part != ".." && strings.HasPrefix(part, ".") {
			return true
		}
	}
	for _, frag := range w.opts.Ignore {
		if frag != "" && strings.Contains(rel, frag) {
			return true
		}
	}
	return false
}
