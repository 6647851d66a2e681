package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/shiftsad/gameserver/internal/lifecycle"
	"github.com/shiftsad/gameserver/internal/logging"
)

// ReloadCallback receives the configuration after the file changed and was
// loaded again. A returned error is logged; watching continues.
type ReloadCallback func(cfg *Config) error

// Watcher reloads the config file when it changes and hands the result to a
// callback. Bursts of events (editors often write a file several times on
// save) are coalesced by a debounce timer. A file that fails to load is
// logged and skipped, keeping the previous configuration.
//
// Watcher is a lifecycle module so it starts after the modules it may reconfigure.
type Watcher struct {
	path     string
	debounce time.Duration
	callback ReloadCallback
	logger   *logging.Logger

	mu            sync.Mutex
	cancel        context.CancelFunc
	stopped       chan struct{}
	debounceTimer *time.Timer
}

// NewWatcher creates a watcher for path. A zero debounce defaults to 500ms.
func NewWatcher(path string, debounce time.Duration, callback ReloadCallback) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	if callback == nil {
		return nil, fmt.Errorf("callback cannot be nil")
	}
	if debounce == 0 {
		debounce = 500 * time.Millisecond
	}

	return &Watcher{
		path:     path,
		debounce: debounce,
		callback: callback,
		logger:   logging.GetLogger("config.watcher"),
	}, nil
}

// Name implements lifecycle.Module
func (w *Watcher) Name() string {
	return "ConfigWatcher"
}

// Priority implements lifecycle.Module
func (w *Watcher) Priority() lifecycle.BootPriority {
	return lifecycle.Lowest
}

// Initialize starts watching. It returns once the fsnotify watch is in place.
func (w *Watcher) Initialize(ctx context.Context) error {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	if err := fsWatcher.Add(w.path); err != nil {
		fsWatcher.Close()
		return fmt.Errorf("failed to watch %s: %w", w.path, err)
	}

	// The watch loop must outlive the boot context.
	watchCtx, cancel := context.WithCancel(context.Background())

	w.mu.Lock()
	w.cancel = cancel
	w.stopped = make(chan struct{})
	stopped := w.stopped
	w.mu.Unlock()

	go w.watchLoop(watchCtx, fsWatcher, stopped)

	w.logger.Info("Watching %s for changes (debounce: %dms)", w.path, w.debounce.Milliseconds())
	return nil
}

func (w *Watcher) watchLoop(ctx context.Context, fsWatcher *fsnotify.Watcher, stopped chan struct{}) {
	defer close(stopped)
	defer fsWatcher.Close()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fsWatcher.Events:
			if !ok {
				w.logger.Warn("Watcher events channel closed")
				return
			}

			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}

			// Atomic saves replace the inode, which drops the watch.
			if event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				time.Sleep(50 * time.Millisecond)
				if err := fsWatcher.Add(w.path); err != nil {
					w.logger.Warn("Failed to re-add watch after %s: %v", event.Op, err)
				}
			}
			w.scheduleReload(ctx)

		case err, ok := <-fsWatcher.Errors:
			if !ok {
				w.logger.Warn("Watcher errors channel closed")
				return
			}
			w.logger.Error("Watcher error: %v", err)
		}
	}
}

// scheduleReload resets the debounce timer
func (w *Watcher) scheduleReload(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debounce, func() {
		if ctx.Err() != nil {
			return
		}
		w.reload()
	})
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("Failed to reload config (keeping previous config): %v", err)
		return
	}

	if err := w.callback(cfg); err != nil {
		w.logger.Warn("Reload callback failed (continuing to watch): %v", err)
		return
	}

	w.logger.Info("Config reloaded from %s", w.path)
}

// Stop ends the watch loop, waiting until ctx is done at most.
func (w *Watcher) Stop(ctx context.Context) error {
	w.mu.Lock()
	cancel, stopped := w.cancel, w.stopped
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for config watcher to stop: %w", ctx.Err())
	}
}

// LogLevelReloader returns a callback that re-applies log levels from the
// reloaded file. LOG_LEVEL_* variables and pinned (the --log-level flags)
// are merged in again, so hot reload never drops them.
func LogLevelReloader(pinned []string) ReloadCallback {
	return func(cfg *Config) error {
		defaultLevel, packages, err := ResolveLogLevels(cfg.Log.Levels, pinned)
		if err != nil {
			return err
		}
		return logging.Initialize(defaultLevel, packages)
	}
}
