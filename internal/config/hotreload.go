package config

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeHandler is called when the config file changes.
// It receives the newly loaded config.
type ChangeHandler func(cfg *Config)

// Watcher watches one file for changes. Changes are debounced (300ms) to
// avoid rapid reloads. The parent directory is watched so that editors
// replacing the file by rename are seen.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	debounce time.Duration
	touched  func()
	stopChan chan struct{}
	stopOnce sync.Once

	mu       sync.Mutex
	handlers []ChangeHandler
}

// NewWatcher creates a config file watcher. Registered handlers receive
// the reloaded config; a file that fails to load is logged and skipped.
func NewWatcher(configPath string) (*Watcher, error) {
	cw, err := newWatcher(configPath)
	if err != nil {
		return nil, err
	}
	cw.touched = cw.reloadConfig
	return cw, nil
}

// WatchFile starts watching path and calls fn after each debounced change.
func WatchFile(path string, fn func()) (*Watcher, error) {
	cw, err := newWatcher(path)
	if err != nil {
		return nil, err
	}
	cw.touched = fn
	if err := cw.Start(); err != nil {
		cw.watcher.Close()
		return nil, err
	}
	return cw, nil
}

func newWatcher(path string) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		path:     abs,
		watcher:  w,
		debounce: 300 * time.Millisecond,
		stopChan: make(chan struct{}),
	}, nil
}

// OnChange registers a handler to be called when config changes.
func (cw *Watcher) OnChange(handler ChangeHandler) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.handlers = append(cw.handlers, handler)
}

// Start begins watching the file for changes.
func (cw *Watcher) Start() error {
	if err := cw.watcher.Add(filepath.Dir(cw.path)); err != nil {
		return err
	}
	go cw.watchLoop()

	slog.Info("watcher.started", "path", cw.path)
	return nil
}

// Stop halts the file watcher. It is safe to call more than once.
func (cw *Watcher) Stop() {
	cw.stopOnce.Do(func() {
		close(cw.stopChan)
		cw.watcher.Close()
		slog.Info("watcher.stopped", "path", cw.path)
	})
}

func (cw *Watcher) watchLoop() {
	var debounceTimer *time.Timer

	for {
		select {
		case <-cw.stopChan:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != cw.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			// Debounce: reset timer on each change
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(cw.debounce, cw.touched)

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("watcher.error", "path", cw.path, "error", err)
		}
	}
}

func (cw *Watcher) reloadConfig() {
	slog.Info("config.changed", "path", cw.path)

	cfg, err := Load(cw.path)
	if err != nil {
		slog.Error("config.reload_failed", "error", err)
		return
	}

	cw.mu.Lock()
	handlers := make([]ChangeHandler, len(cw.handlers))
	copy(handlers, cw.handlers)
	cw.mu.Unlock()

	for _, h := range handlers {
		h(cfg)
	}

	slog.Info("config.reloaded")
}
