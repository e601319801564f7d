package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ChangeHandler is called after a successful reload with the old and the
// new configuration.
type ChangeHandler func(old, cur *Config)

// Manager watches one config file and hot-reloads it. A reload that fails
// to parse or validate keeps the previous configuration.
type Manager struct {
	path    string
	logger  *zap.Logger
	watcher *fsnotify.Watcher

	mu       sync.RWMutex
	cfg      *Config
	handlers []ChangeHandler
	started  bool
	stopCh   chan struct{}

	// editors often emit several events per save; coalesce them
	debounce time.Duration
}

// NewManager loads path once and prepares the watcher. The initial load
// must succeed; later reload failures only log.
func NewManager(path string, logger *zap.Logger) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	return &Manager{
		path:     path,
		logger:   logger,
		watcher:  watcher,
		cfg:      cfg,
		stopCh:   make(chan struct{}),
		debounce: 100 * time.Millisecond,
	}, nil
}

// Config returns the current configuration snapshot.
func (m *Manager) Config() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.Clone()
}

// Path returns the watched config file path.
func (m *Manager) Path() string { return m.path }

// OnChange registers a handler invoked after each successful reload.
func (m *Manager) OnChange(h ChangeHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

// Start begins watching the config file's directory. Watching the
// directory instead of the file survives the rename-and-replace dance most
// editors and config pushers do.
func (m *Manager) Start() error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	dir := filepath.Dir(m.path)
	if err := m.watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	go m.watchLoop()

	m.logger.Info("Config manager started",
		zap.String("file", m.path),
	)
	return nil
}

// Stop ends watching. Safe to call twice.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return nil
	}
	m.started = false
	close(m.stopCh)
	if err := m.watcher.Close(); err != nil {
		m.logger.Error("Error closing file watcher", zap.Error(err))
	}
	m.logger.Info("Config manager stopped")
	return nil
}

// Reload re-reads the file immediately. Used by POST /v1/system/reload.
func (m *Manager) Reload() error {
	cfg, err := Load(m.path)
	if err != nil {
		return err
	}

	m.mu.Lock()
	old := m.cfg
	m.cfg = cfg
	handlers := make([]ChangeHandler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	for _, h := range handlers {
		h(old, cfg.Clone())
	}
	m.logger.Info("Configuration reloaded", zap.String("file", m.path))
	return nil
}

func (m *Manager) watchLoop() {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Config watch loop panicked", zap.Any("panic", r))
		}
	}()

	var timer *time.Timer
	base := filepath.Base(m.path)

	for {
		select {
		case <-m.stopCh:
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			m.logger.Debug("Config file event",
				zap.String("file", event.Name),
				zap.String("op", event.Op.String()),
			)
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(m.debounce, func() {
				if err := m.Reload(); err != nil {
					m.logger.Warn("Config reload failed, keeping previous configuration",
						zap.Error(err),
					)
				}
			})
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Error("File watcher error", zap.Error(err))
		}
	}
}
