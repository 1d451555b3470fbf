package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeCallback is called after a successful reload.
type ChangeCallback func(oldConfig, newConfig *Config)

// Watcher watches a configuration file and reloads it when it changes.
// The parent directory is watched so editors that save by rename are seen.
type Watcher struct {
	file     string
	loader   *Loader
	logger   *slog.Logger
	debounce time.Duration

	mu     sync.RWMutex
	config *Config

	callbacksMu sync.Mutex
	callbacks   []ChangeCallback

	reloadMu sync.Mutex

	fsWatcher *fsnotify.Watcher
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
}

// NewWatcher loads file once and prepares a watcher for it. A nil logger
// uses slog.Default().
func NewWatcher(file string, loader *Loader, logger *slog.Logger) (*Watcher, error) {
	if _, err := FormatOf(file); err != nil {
		return nil, err
	}
	if loader == nil {
		loader = NewLoader()
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := loader.Load(file)
	if err != nil {
		return nil, fmt.Errorf("load initial config: %w", err)
	}
	return &Watcher{
		file:     filepath.Clean(file),
		loader:   loader,
		logger:   logger.With(slog.String("component", "config-watcher"), slog.String("file", file)),
		debounce: 100 * time.Millisecond,
		config:   cfg,
		done:     make(chan struct{}),
	}, nil
}

// SetDebounce changes how long the watcher waits after the last event before
// reloading. Call it before Start.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Start begins watching.
func (w *Watcher) Start() error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfigWatchError, err)
	}
	if err := fw.Add(filepath.Dir(w.file)); err != nil {
		fw.Close()
		return fmt.Errorf("%w: %w", ErrConfigWatchError, err)
	}
	w.fsWatcher = fw
	w.wg.Add(1)
	go w.watchLoop()
	return nil
}

// Stop stops watching. It is safe to call more than once.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		if w.fsWatcher != nil {
			err = w.fsWatcher.Close()
		}
		w.wg.Wait()
	})
	return err
}

// Config returns the current configuration
func (w *Watcher) Config() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

// OnChange registers a callback for configuration changes
func (w *Watcher) OnChange(cb ChangeCallback) {
	w.callbacksMu.Lock()
	defer w.callbacksMu.Unlock()
	w.callbacks = append(w.callbacks, cb)
}

// Reload reloads the file now. On error the current configuration is kept.
func (w *Watcher) Reload() error {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	next, err := w.loader.Load(w.file)
	if err != nil {
		return err
	}

	w.mu.Lock()
	prev := w.config
	w.config = next
	w.mu.Unlock()

	w.callbacksMu.Lock()
	callbacks := append([]ChangeCallback(nil), w.callbacks...)
	w.callbacksMu.Unlock()

	for _, cb := range callbacks {
		w.notify(cb, prev, next)
	}
	w.logger.Info("configuration reloaded")
	return nil
}

func (w *Watcher) notify(cb ChangeCallback, prev, next *Config) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("config change callback panicked", slog.Any("panic", r))
		}
	}()
	cb(prev, next)
}

func (w *Watcher) watchLoop() {
	defer w.wg.Done()

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.file {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				select {
				case <-w.done:
					return
				default:
				}
				if err := w.Reload(); err != nil {
					w.logger.Warn("config reload failed", slog.Any("error", err))
				}
			})

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", slog.Any("error", err))
		}
	}
}
