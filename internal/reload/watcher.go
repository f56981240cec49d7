// Package reload rebuilds the session when the dataset file changes.
package reload

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// DefaultDebounce coalesces bursts of writes into one reload.
const DefaultDebounce = time.Second

// Reloader re-reads its input. *pipeline.Session satisfies it.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Watcher calls Reload after the watched file settles.
type Watcher struct {
	path     string
	target   Reloader
	debounce time.Duration
	logger   *zap.Logger

	// reloaded, if set, receives the result of every reload.
	reloaded func(error)
}

// NewWatcher creates a Watcher for path. If debounce <= 0, DefaultDebounce
// is used.
func NewWatcher(path string, target Reloader, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}
	return &Watcher{
		path:     abs,
		target:   target,
		debounce: debounce,
		logger:   zap.L().Named("reload"),
	}
}

// Run watches until ctx is cancelled. The parent directory is watched so
// editors that replace the file by rename are still seen.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return eris.Wrap(err, "reload: create watcher")
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return eris.Wrapf(err, "reload: watch %s", filepath.Dir(w.path))
	}
	w.logger.Info("watching dataset", zap.String("path", w.path))

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if w.relevant(ev) {
				timer.Reset(w.debounce)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", zap.Error(err))
		case <-timer.C:
			w.fire(ctx)
		}
	}
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	name, err := filepath.Abs(ev.Name)
	if err != nil || name != w.path {
		return false
	}
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)
}

func (w *Watcher) fire(ctx context.Context) {
	start := time.Now()
	err := w.target.Reload(ctx)
	if err != nil {
		w.logger.Error("reload failed, keeping current dataset", zap.Error(err))
	} else {
		w.logger.Info("dataset reloaded", zap.Duration("took", time.Since(start)))
	}
	if w.reloaded != nil {
		w.reloaded(err)
	}
}
