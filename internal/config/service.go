package config

import (
	"context"
	"fmt"
	"sync"

	"github.com/vzahanych/violence-watch/internal/logger"
)

// Service holds the live configuration and supports reloading it from disk
type Service struct {
	config     *Config
	configPath string
	logger     *logger.Logger
	mu         sync.RWMutex
	watchers   []ConfigWatcher
}

// ConfigWatcher is called when configuration changes
type ConfigWatcher func(ctx context.Context, oldConfig, newConfig *Config) error

// NewService loads and validates the configuration at configPath
func NewService(configPath string, log *logger.Logger) (*Service, error) {
	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load initial configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &Service{
		config:     cfg,
		configPath: configPath,
		logger:     log,
		watchers:   make([]ConfigWatcher, 0),
	}, nil
}

// Get returns the current configuration (thread-safe)
func (s *Service) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// Reload re-reads the configuration file and notifies watchers.
// The previous configuration stays active if the new one fails validation.
func (s *Service) Reload(ctx context.Context) error {
	s.mu.Lock()
	oldConfig := s.config

	newConfig, err := Load(s.configPath)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to reload configuration: %w", err)
	}

	if err := newConfig.Validate(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("invalid reloaded configuration: %w", err)
	}

	s.config = newConfig
	watchers := make([]ConfigWatcher, len(s.watchers))
	copy(watchers, s.watchers)
	s.mu.Unlock()

	for _, watcher := range watchers {
		if err := watcher(ctx, oldConfig, newConfig); err != nil {
			s.logger.Error("Config watcher error", "error", err)
		}
	}

	s.logger.Info("Configuration reloaded", "path", s.configPath)
	return nil
}

// Watch registers a configuration change watcher
func (s *Service) Watch(watcher ConfigWatcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers = append(s.watchers, watcher)
}
