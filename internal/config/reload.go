package config

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 400 * time.Millisecond

// Reloader watches the config file and broadcasts validated reloads to
// subscribers. An invalid reload is logged and the previous config kept.
type Reloader struct {
	path    string
	current *Config
	subs    []func(*Config)
}

// NewReloader wraps an already-loaded config for file-watching.
func NewReloader(path string, initial *Config) *Reloader {
	return &Reloader{path: path, current: initial}
}

// OnChange registers a callback invoked after each successful reload.
func (r *Reloader) OnChange(fn func(*Config)) {
	r.subs = append(r.subs, fn)
}

// Current returns the presently active config.
func (r *Reloader) Current() *Config { return r.current }

// Watch blocks, debouncing filesystem events on path by reloadDebounce
// before attempting a reload, until ctx is canceled.
func (r *Reloader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(r.path); err != nil {
		return err
	}

	var timer *time.Timer
	var timerCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(reloadDebounce)
			timerCh = timer.C
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config.watch_error", "error", err)
		case <-timerCh:
			timerCh = nil
			r.reload()
		}
	}
}

func (r *Reloader) reload() {
	next, err := Load(r.path)
	if err != nil {
		slog.Warn("config.reload_failed", "error", err, "path", r.path)
		return
	}
	if err := Validate(next); err != nil {
		slog.Warn("config.reload_invalid", "error", err, "path", r.path)
		return
	}

	r.current.ReplaceFrom(next)
	slog.Info("config.reloaded", "path", r.path)
	for _, fn := range r.subs {
		fn(r.current)
	}
}
