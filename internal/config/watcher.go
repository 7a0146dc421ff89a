package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/twistedxcom/sessionwatch/internal/logging"
)

var cfgLog = logging.ForComponent(logging.CompConfig)

// Watcher reloads the config file when it changes on disk and hands the
// fresh config to a callback. Editors often write via rename, so the
// parent directory is watched rather than the file itself.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onReload func(*Config)

	ctx    context.Context
	cancel context.CancelFunc
}

// NewWatcher creates a watcher for the config at path. Call Start in a
// goroutine and Stop on shutdown.
func NewWatcher(path string, onReload func(*Config)) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		path:     path,
		watcher:  fsWatcher,
		onReload: onReload,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start watches the config directory until Stop is called.
func (w *Watcher) Start() {
	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		cfgLog.Warn("config_watch_add_failed",
			slog.String("dir", dir),
			slog.String("error", err.Error()))
		return
	}

	// Debounce: editors fire several events per save.
	var timer *time.Timer
	for {
		select {
		case <-w.ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(200*time.Millisecond, w.reload)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			cfgLog.Warn("config_watch_error", slog.String("error", err.Error()))
		}
	}
}

// Stop cancels the watch loop and closes the underlying watcher.
func (w *Watcher) Stop() {
	w.cancel()
	_ = w.watcher.Close()
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		cfgLog.Warn("config_reload_failed", slog.String("error", err.Error()))
		return
	}
	cfgLog.Info("config_reloaded", slog.String("path", w.path))
	if w.onReload != nil {
		w.onReload(cfg)
	}
}
