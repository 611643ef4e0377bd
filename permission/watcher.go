package permission

import (
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DebounceDelay batches bursts of writes to the settings file.
const DebounceDelay = 100 * time.Millisecond

// SettingsSource yields the current user settings. Current may return nil.
type SettingsSource interface {
	Current() *Settings
}

// StaticSettings is a SettingsSource that never changes.
type StaticSettings struct {
	Settings *Settings
}

func (s StaticSettings) Current() *Settings { return s.Settings }

// SettingsWatcher keeps the settings file loaded and reloads it when it
// changes on disk. The parent directory is watched so editors that replace
// the file by rename are picked up.
//
// All methods are safe for concurrent use.
type SettingsWatcher struct {
	current atomic.Pointer[Settings]

	watcher *fsnotify.Watcher
	logger  *slog.Logger
	path    string
	delay   time.Duration

	debounceMu    sync.Mutex
	debounceTimer *time.Timer
	onReload      func(*Settings)

	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// WatcherOption configures a SettingsWatcher.
type WatcherOption func(*SettingsWatcher)

// WithDebounce overrides DebounceDelay.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *SettingsWatcher) { w.delay = d }
}

// WithReloadHook is called after every successful reload.
func WithReloadHook(fn func(*Settings)) WatcherOption {
	return func(w *SettingsWatcher) { w.onReload = fn }
}

// WithWatcherLogger sets the logger.
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *SettingsWatcher) { w.logger = l }
}

// WatchSettings loads path and starts watching it. Close stops the watch.
func WatchSettings(path string, opts ...WatcherOption) (*SettingsWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &SettingsWatcher{
		watcher: fw,
		path:    abs,
		delay:   DebounceDelay,
		logger:  slog.Default(),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	s, err := LoadSettings(abs)
	if err != nil {
		w.logger.Warn("failed to load settings, using empty allow list", "path", abs, "error", err)
		s = &Settings{}
	}
	w.current.Store(s)

	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, err
	}
	go w.eventLoop()
	return w, nil
}

// Current returns the most recently loaded settings.
func (w *SettingsWatcher) Current() *Settings {
	return w.current.Load()
}

// Close stops watching. It is safe to call more than once.
func (w *SettingsWatcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.watcher.Close()
		<-w.stopped
		w.debounceMu.Lock()
		if w.debounceTimer != nil {
			w.debounceTimer.Stop()
		}
		w.debounceMu.Unlock()
	})
	return err
}

func (w *SettingsWatcher) eventLoop() {
	defer close(w.stopped)
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				w.schedule()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("settings watcher error", "error", err)
		}
	}
}

func (w *SettingsWatcher) schedule() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.delay, w.reload)
}

func (w *SettingsWatcher) reload() {
	select {
	case <-w.done:
		return
	default:
	}
	s, err := LoadSettings(w.path)
	if err != nil {
		// Keep the previous settings while the file is mid-edit.
		w.logger.Warn("failed to reload settings", "path", w.path, "error", err)
		return
	}
	w.current.Store(s)
	w.logger.Debug("settings reloaded", "path", w.path, "allow", len(s.Permissions.Allow))
	if w.onReload != nil {
		w.onReload(s)
	}
}
