package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultReloadDelay coalesces the burst of events editors produce on save.
const DefaultReloadDelay = 500 * time.Millisecond

// ChangeFunc receives the previous and the freshly loaded configuration.
type ChangeFunc func(prev, next *Config)

// Watcher reloads the configuration file when it changes on disk.
type Watcher struct {
	path     string
	delay    time.Duration
	onChange ChangeFunc
	logger   *zap.Logger

	mu      sync.Mutex
	current *Config
}

// NewWatcher creates a watcher for path, starting from the already loaded initial config.
func NewWatcher(path string, initial *Config, onChange ChangeFunc, logger *zap.Logger) *Watcher {
	return &Watcher{
		path:     filepath.Clean(path),
		delay:    DefaultReloadDelay,
		onChange: onChange,
		logger:   logger,
		current:  initial,
	}
}

// Current returns the last successfully loaded configuration.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Reload loads the file and hands the change to the callback.
// An invalid file keeps the previous configuration.
func (w *Watcher) Reload() error {
	next, err := Load(w.path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	prev := w.current
	w.current = next
	w.mu.Unlock()

	if w.onChange != nil {
		w.onChange(prev, next)
	}
	return nil
}

// Run watches the file's directory until ctx is done. The directory is
// watched rather than the file so rename-on-save editors keep working.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch config dir: %w", err)
	}

	w.logger.Info("watching config file", zap.String("path", w.path))

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.logger.Debug("config file changed", zap.String("op", event.Op.String()))
			if timer == nil {
				timer = time.NewTimer(w.delay)
			} else {
				timer.Reset(w.delay)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			if err := w.Reload(); err != nil {
				w.logger.Error("config reload failed, keeping previous config", zap.Error(err))
				continue
			}
			w.logger.Info("config reloaded", zap.String("path", w.path))

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}
