// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/fleetmesh/fleet-core/pkg/constants"
	"github.com/fleetmesh/fleet-core/pkg/logger"
	"github.com/fleetmesh/fleet-core/pkg/service/filesystem"
)

// ConfigManager is the interface for config management.
type ConfigManager interface {
	// GetConfig returns the current config.
	GetConfig(ctx context.Context) (FullConfig, error)
}

// FileConfigManager implements the ConfigManager interface by reading from a
// YAML file. Reads are cached by file modification time, so calling GetConfig
// once per collection round is cheap.
type FileConfigManager struct {
	configPath string
	fsService  filesystem.Service
	logger     *zap.SugaredLogger

	mu          sync.RWMutex
	cached      FullConfig
	cachedValid bool
	cachedMod   time.Time
}

// NewFileConfigManager creates a new FileConfigManager reading from the
// default config path.
func NewFileConfigManager() *FileConfigManager {
	return NewFileConfigManagerWithPath(constants.DefaultConfigPath)
}

// NewFileConfigManagerWithPath creates a new FileConfigManager reading from
// the given path.
func NewFileConfigManagerWithPath(configPath string) *FileConfigManager {
	return &FileConfigManager{
		configPath: configPath,
		fsService:  filesystem.NewDefaultService(),
		logger:     logger.For(logger.ComponentConfigManager),
	}
}

// WithFileSystemService replaces the filesystem service, used in tests.
func (m *FileConfigManager) WithFileSystemService(fs filesystem.Service) *FileConfigManager {
	m.fsService = fs

	return m
}

// GetConfig returns the current config, re-reading the file only if its
// modification time changed since the last read.
func (m *FileConfigManager) GetConfig(ctx context.Context) (FullConfig, error) {
	if ctx.Err() != nil {
		return FullConfig{}, ctx.Err()
	}

	info, err := m.fsService.Stat(ctx, m.configPath)
	if err == nil {
		m.mu.RLock()
		if m.cachedValid && info.ModTime().Equal(m.cachedMod) {
			cfg := m.cached
			m.mu.RUnlock()

			return cfg, nil
		}
		m.mu.RUnlock()
	}

	data, err := m.fsService.ReadFile(ctx, m.configPath)
	if err != nil {
		return FullConfig{}, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg FullConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return FullConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg = applyEnvOverrides(cfg).WithDefaults()
	if err := cfg.Validate(); err != nil {
		return FullConfig{}, fmt.Errorf("invalid config: %w", err)
	}

	m.mu.Lock()
	m.cached = cfg
	m.cachedValid = true
	if info != nil {
		m.cachedMod = info.ModTime()
	}
	m.mu.Unlock()

	m.logger.Debugf("Loaded config with %d remotes from %s", len(cfg.Remotes), m.configPath)

	return cfg, nil
}
