package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 250 * time.Millisecond

// watchConfig reports (coalesced) changes to the settings file at path. The
// parent directory is watched so editors that replace the file on save are
// still seen.
func watchConfig(ctx context.Context, path string, l *slog.Logger, wg *sync.WaitGroup) (<-chan struct{}, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	out := make(chan struct{}, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer w.Close()
		var fire <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != abs || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				l.Debug("config_event", "op", ev.Op.String(), "path", ev.Name)
				fire = time.After(watchDebounce)
			case <-fire:
				fire = nil
				select {
				case out <- struct{}{}:
				default:
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				l.Warn("config_watch_error", "error", err)
			}
		}
	}()
	l.Info("config_watch", "path", abs)
	return out, nil
}
