package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 500 * time.Millisecond

// Watcher hot-reloads a FileProvider when its file changes on disk.
type Watcher struct {
	watcher  *fsnotify.Watcher
	provider *FileProvider
	logger   *slog.Logger
}

// NewWatcher watches the directory holding the provider's file so editors
// that replace the file atomically are still picked up.
func NewWatcher(provider *FileProvider, logger *slog.Logger) (*Watcher, error) {
	if provider == nil || provider.Path() == "" {
		return nil, fmt.Errorf("file provider with a path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(provider.Path())); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch %q: %w", provider.Path(), err)
	}
	return &Watcher{watcher: w, provider: provider, logger: logger}, nil
}

// Run blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	target := filepath.Clean(w.provider.Path())
	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, func() {
				if err := w.provider.Reload(); err != nil {
					w.logger.Error("config reload failed", "event", "config_reload", "error", err)
					return
				}
				w.logger.Info("config reloaded", "event", "config_reload", "path", target)
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}
