// Package watcher re-renders derived state when memory files change on
// disk. It wraps fsnotify with recursive directory watching, glob based
// exclusion and a single trailing-edge debounce.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"
)

// DefaultDebounce collapses bursts of writes (a lifecycle pass touches many
// files) into one callback.
const DefaultDebounce = 500 * time.Millisecond

// DefaultExcludes are the files the engine itself writes. Reacting to them
// would make every summary render trigger another.
var DefaultExcludes = []string{
	".*",
	"*.tmp",
	"MEMORY.md",
	"STRATEGY.md",
	"engine.db*",
	"scheduler-state.json*",
	"archive",
}

// ErrNotDirectory is returned when the watch root is not a directory.
var ErrNotDirectory = errors.New("watcher: root is not a directory")

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period before the callback fires.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithExcludes replaces the default exclude patterns.
func WithExcludes(patterns ...string) Option {
	return func(w *Watcher) { w.patterns = patterns }
}

// Watcher calls OnChange once per burst of changes under root.
type Watcher struct {
	root     string
	onChange func(context.Context)
	debounce time.Duration
	patterns []string
	excludes []glob.Glob
	logger   *slog.Logger

	fsw *fsnotify.Watcher

	mu     sync.Mutex
	timer  *time.Timer
	closed bool
}

// New watches root and every non-excluded directory beneath it. Watches are
// in place when New returns.
func New(root string, onChange func(context.Context), opts ...Option) (*Watcher, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("watcher: %w", err)
	}
	if !info.IsDir() {
		return nil, ErrNotDirectory
	}

	w := &Watcher{
		root:     root,
		onChange: onChange,
		debounce: DefaultDebounce,
		patterns: DefaultExcludes,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}

	for _, p := range w.patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("watcher: exclude pattern %q: %w", p, err)
		}
		w.excludes = append(w.excludes, g)
	}

	w.fsw, err = fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watcher: %w", err)
	}
	if err := w.addRecursive(root); err != nil {
		w.fsw.Close()
		return nil, err
	}
	return w, nil
}

// Run processes events until ctx is cancelled or Close is called.
func (w *Watcher) Run(ctx context.Context) {
	defer w.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ctx, ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher: fsnotify error", "err", err)
		}
	}
}

// Close stops watching and cancels a pending callback. Safe to call more
// than once.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
	}
	return w.fsw.Close()
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	if w.excluded(ev.Name) {
		return
	}
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(ev.Name); err != nil {
				w.logger.Warn("watcher: add directory", "path", ev.Name, "err", err)
			}
		}
	}
	w.logger.Debug("watcher: change", "path", ev.Name, "op", ev.Op.String())
	w.schedule(ctx)
}

func (w *Watcher) schedule(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		if ctx.Err() != nil {
			return
		}
		w.onChange(ctx)
	})
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && w.excluded(path) {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

// excluded reports whether any path component below root matches an
// exclude pattern, so "archive" hides the whole archive tree.
func (w *Watcher) excluded(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		for _, g := range w.excludes {
			if g.Match(part) {
				return true
			}
		}
	}
	return false
}
