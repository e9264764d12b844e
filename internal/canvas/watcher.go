package canvas

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces the burst of events an editor produces on save.
const DefaultDebounce = 500 * time.Millisecond

// Restarter is the part of the Coordinator the watcher drives.
type Restarter interface {
	Restart(ctx context.Context) (bool, error)
}

// Watcher restarts the canvas server when its MCP configuration changes.
type Watcher struct {
	path     string
	debounce time.Duration
	target   Restarter
}

// NewWatcher watches path and restarts target after each settled change.
func NewWatcher(path string, debounce time.Duration, target Restarter) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{path: path, debounce: debounce, target: target}
}

// Run watches until ctx is done. The file's directory is watched so that
// atomic replace-by-rename saves are seen.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	defer fsw.Close()

	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		return fmt.Errorf("watching directory %s: %w", dir, err)
	}
	slog.Info("watching canvas config", "path", w.path)

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !w.isRelevant(event) {
				continue
			}
			timer.Reset(w.debounce)

		case <-timer.C:
			slog.Info("canvas config changed, restarting server", "path", w.path)
			if _, err := w.target.Restart(ctx); err != nil {
				slog.Error("canvas server restart failed", "error", err)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("canvas config watch error", "error", err)
		}
	}
}

func (w *Watcher) isRelevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return false
	}
	return filepath.Clean(event.Name) == filepath.Clean(w.path)
}
