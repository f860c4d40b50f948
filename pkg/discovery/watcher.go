package discovery

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/contentkit/modrun/pkg/config"
	"github.com/contentkit/modrun/pkg/engine"
)

// DefaultDebounce is how long the watcher waits for changes to settle before
// notifying.
const DefaultDebounce = 300 * time.Millisecond

// Target receives invalidations from a Watcher. Registry implements it.
type Target interface {
	engine.Invalidator

	// Reset drops everything derived from project configuration.
	Reset()
}

// ChangeKind classifies a file change.
type ChangeKind int

const (
	// ChangeIgnored is a file the runtimes never read.
	ChangeIgnored ChangeKind = iota
	// ChangeSource is a module source file.
	ChangeSource
	// ChangePackage is a package.json, which can change any resolution.
	ChangePackage
	// ChangeConfig is a project configuration file.
	ChangeConfig
)

var sourceExtensions = map[string]bool{
	".ts": true, ".tsx": true, ".mts": true, ".cts": true,
	".js": true, ".jsx": true, ".mjs": true, ".cjs": true,
	".json": true,
}

// Classify reports what a change to file means for the runtimes.
func Classify(file string) ChangeKind {
	base := path.Base(filepath.ToSlash(file))
	for _, name := range config.DefaultConfigNames {
		if base == name {
			return ChangeConfig
		}
	}
	if base == "package.json" {
		return ChangePackage
	}
	if sourceExtensions[path.Ext(base)] {
		return ChangeSource
	}
	return ChangeIgnored
}

// WatcherOptions configures a Watcher.
type WatcherOptions struct {
	// Debounce defaults to DefaultDebounce.
	Debounce time.Duration

	// OnChange is called with the changed files once changes settle.
	OnChange func(files []string)

	Logger zerolog.Logger
}

// Watcher watches a project tree and invalidates runtime state as files
// change. Source changes invalidate one path, package.json changes clear all
// modules, and configuration changes reset the runtimes.
type Watcher struct {
	host    engine.ResolutionHost
	target  Target
	opts    WatcherOptions
	logger  zerolog.Logger
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]bool
	timer   *time.Timer
}

// NewWatcher creates a watcher invalidating target.
func NewWatcher(h engine.ResolutionHost, target Target, opts WatcherOptions) *Watcher {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	return &Watcher{
		host:    h,
		target:  target,
		opts:    opts,
		logger:  opts.Logger.With().Str("component", "watcher").Logger(),
		pending: make(map[string]bool),
	}
}

// Watch starts watching root recursively. Events are processed in the
// background until ctx ends or Close is called.
func (w *Watcher) Watch(ctx context.Context, root string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	w.watcher = watcher

	if err := w.watchDirectory(root); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", root, err)
	}

	go w.processEvents(ctx)

	w.logger.Info().Str("root", root).Msg("Started watching project")
	return nil
}

// watchDirectory adds dir and its subdirectories, skipping dependencies and
// hidden directories.
func (w *Watcher) watchDirectory(dir string) error {
	return filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != dir && skipDir(d.Name()) {
			return filepath.SkipDir
		}
		return w.watcher.Add(p)
	})
}

func skipDir(name string) bool {
	return name == "node_modules" || strings.HasPrefix(name, ".")
}

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			_ = w.watcher.Close()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() && !skipDir(info.Name()) {
			if err := w.watchDirectory(event.Name); err != nil {
				w.logger.Warn().Err(err).Str("dir", event.Name).Msg("Failed to watch directory")
			}
			return
		}
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	kind := Classify(event.Name)
	if kind == ChangeIgnored {
		return
	}
	w.logger.Debug().
		Str("file", event.Name).
		Str("op", event.Op.String()).
		Msg("Project file changed")

	w.apply(event.Name, kind)
	w.schedule(event.Name)
}

// apply invalidates runtime state for one change.
func (w *Watcher) apply(file string, kind ChangeKind) {
	switch kind {
	case ChangeSource:
		w.target.Invalidate(engine.Normalize(file, "", w.host.CaseSensitive()))
	case ChangePackage:
		w.target.ClearAll()
	case ChangeConfig:
		w.target.Reset()
	}
}

// schedule debounces change notifications.
func (w *Watcher) schedule(file string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[file] = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.opts.Debounce, w.flush)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	files := make([]string, 0, len(w.pending))
	for f := range w.pending {
		files = append(files, f)
	}
	w.pending = make(map[string]bool)
	w.mu.Unlock()

	sort.Strings(files)
	w.logger.Info().Int("files", len(files)).Msg("Project changed")
	if w.opts.OnChange != nil {
		w.opts.OnChange(files)
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}
