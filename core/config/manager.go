package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Manager owns the active configuration. Get is lock-free; Load and the
// file watcher swap the whole config atomically.
type Manager struct {
	configPtr atomic.Pointer[Config]
	logger    *slog.Logger

	watcherMu sync.Mutex
	watchers  []func(*Config)
	fsw       *fsnotify.Watcher
	stopWatch chan struct{}
	watchOnce sync.Once
}

// NewManager returns a manager holding the default configuration.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		logger:    logger,
		stopWatch: make(chan struct{}),
	}
	m.configPtr.Store(DefaultConfig())
	return m
}

// Get returns the active configuration. The returned value must be treated
// as read-only.
func (m *Manager) Get() *Config {
	return m.configPtr.Load()
}

// Load reads, validates, and activates the config at path. A missing file
// activates the defaults; an invalid file leaves the active config
// untouched.
func (m *Manager) Load(path string) error {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		m.configPtr.Store(cfg)
		return nil
	}
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: validate %s: %w", path, err)
	}

	m.configPtr.Store(cfg)
	m.notify(cfg)
	return nil
}

// OnChange registers a callback invoked with each successfully activated
// config.
func (m *Manager) OnChange(fn func(*Config)) {
	m.watcherMu.Lock()
	defer m.watcherMu.Unlock()
	m.watchers = append(m.watchers, fn)
}

func (m *Manager) notify(cfg *Config) {
	m.watcherMu.Lock()
	callbacks := append([]func(*Config){}, m.watchers...)
	m.watcherMu.Unlock()
	for _, fn := range callbacks {
		fn(cfg)
	}
}

// Watch reloads the config whenever path changes. Reload failures are
// logged and ignored: the previous config stays active.
func (m *Manager) Watch(path string) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: watcher: %w", err)
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return fmt.Errorf("config: watch %s: %w", path, err)
	}

	m.watcherMu.Lock()
	m.fsw = fsw
	m.watcherMu.Unlock()

	go func() {
		for {
			select {
			case event, ok := <-fsw.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := m.Load(path); err != nil {
					m.logger.Warn("config reload failed, keeping previous", "path", path, "error", err)
				} else {
					m.logger.Info("config reloaded", "path", path)
				}
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				m.logger.Warn("config watcher error", "error", err)
			case <-m.stopWatch:
				return
			}
		}
	}()
	return nil
}

// Close stops the watcher goroutine.
func (m *Manager) Close() {
	m.watchOnce.Do(func() {
		close(m.stopWatch)
		m.watcherMu.Lock()
		if m.fsw != nil {
			m.fsw.Close()
		}
		m.watcherMu.Unlock()
	})
}
