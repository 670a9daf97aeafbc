package redact

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is how long the watcher waits after the last change before reloading
const DefaultDebounce = 500 * time.Millisecond

// Watcher reloads a rules file into a live Redactor whenever the file changes.
// A file that fails to load leaves the current rules in place.
type Watcher struct {
	watcher  *fsnotify.Watcher
	redactor *Redactor
	path     string
	debounce time.Duration
	logger   *zap.Logger
	onReload func(error)
}

// WatcherOption configures a Watcher
type WatcherOption func(*Watcher)

// WithDebounce overrides DefaultDebounce
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// WithReloadHook is called after every reload attempt with its outcome
func WithReloadHook(fn func(error)) WatcherOption {
	return func(w *Watcher) {
		w.onReload = fn
	}
}

// NewWatcher watches the directory containing path, so editors that replace
// the file by rename are still seen.
func NewWatcher(redactor *Redactor, path string, logger *zap.Logger, opts ...WatcherOption) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %q: %w", path, err)
	}

	w := &Watcher{
		watcher:  fw,
		redactor: redactor,
		path:     filepath.Clean(path),
		debounce: DefaultDebounce,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Reload loads the rules file once and installs it on success.
func (w *Watcher) Reload() error {
	rules, err := LoadRules(w.path)
	if err != nil {
		w.logger.Warn("redaction rules reload failed", zap.String("path", w.path), zap.Error(err))
	} else {
		w.redactor.SetRules(rules)
		w.logger.Info("redaction rules reloaded", zap.String("path", w.path), zap.Int("rules", len(rules)))
	}
	if w.onReload != nil {
		w.onReload(err)
	}
	return err
}

// Run watches for changes until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(w.debounce, func() {
					_ = w.Reload()
				})
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("file watcher error", zap.Error(err))
		}
	}
}

// Close stops the underlying watcher. Run returns once it notices.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
