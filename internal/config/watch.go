package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"vawter.tech/stopper"
)

// DefaultDebounce coalesces the burst of events an editor save produces.
const DefaultDebounce = 250 * time.Millisecond

// Watch calls onChange, debounced, whenever the config at path changes: the
// file itself, or any program file when path is a directory. A single file
// is watched through its parent directory so that editors replacing the file
// by rename are still seen. The watcher runs on sctx and stops with it.
func Watch(sctx *stopper.Context, path string, debounce time.Duration, onChange func(), logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}
	dir, match := path, func(name string) bool { return HasExtension(name) }
	if !info.IsDir() {
		dir = filepath.Dir(path)
		base := filepath.Base(path)
		match = func(name string) bool { return filepath.Base(name) == base }
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	sctx.Go(func(sctx *stopper.Context) error {
		sctx.Defer(func() {
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			mu.Unlock()
			_ = watcher.Close()
		})
		for {
			select {
			case <-sctx.Stopping():
				return nil
			case ev, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if !match(ev.Name) || ev.Op == fsnotify.Chmod {
					continue
				}
				logger.Debug("config change detected", "file", ev.Name, "op", ev.Op.String())
				mu.Lock()
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(debounce, onChange)
				mu.Unlock()
			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				logger.Warn("config watcher error", "path", dir, "error", err)
			}
		}
	})
	logger.Info("watching configuration", "path", path)
	return nil
}
