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
	"sync"
)

// MockConfigManager is a mock implementation of ConfigManager for tests.
type MockConfigManager struct {
	mu     sync.RWMutex
	config FullConfig
	err    error
}

// NewMockConfigManager creates a MockConfigManager returning the given config.
func NewMockConfigManager(cfg FullConfig) *MockConfigManager {
	return &MockConfigManager{config: cfg.WithDefaults()}
}

// GetConfig returns the configured config or error.
func (m *MockConfigManager) GetConfig(ctx context.Context) (FullConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.err != nil {
		return FullConfig{}, m.err
	}

	return m.config, nil
}

// SetConfig replaces the config returned by GetConfig.
func (m *MockConfigManager) SetConfig(cfg FullConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config = cfg.WithDefaults()
}

// SetError makes GetConfig fail with err.
func (m *MockConfigManager) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}
