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

// Package registry provides the read-only list of configured remotes. The
// collection engine takes one snapshot per round and tolerates remotes
// appearing or disappearing between rounds.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/fleetmesh/fleet-core/pkg/config"
	"github.com/fleetmesh/fleet-core/pkg/models"
)

// Registry provides snapshots of the configured remotes.
type Registry interface {
	// Snapshot returns the current list of remotes. The returned slice is
	// owned by the caller.
	Snapshot(ctx context.Context) ([]models.Remote, error)
}

// ConfigRegistry reads remotes from the config manager.
type ConfigRegistry struct {
	configManager config.ConfigManager
}

// NewConfigRegistry creates a registry backed by the config manager.
func NewConfigRegistry(configManager config.ConfigManager) *ConfigRegistry {
	return &ConfigRegistry{configManager: configManager}
}

// Snapshot returns the currently configured remotes.
func (r *ConfigRegistry) Snapshot(ctx context.Context) ([]models.Remote, error) {
	cfg, err := r.configManager.GetConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read remotes from config: %w", err)
	}

	remotes := make([]models.Remote, len(cfg.Remotes))
	copy(remotes, cfg.Remotes)

	return remotes, nil
}

// MockRegistry is a mock implementation of Registry for tests.
type MockRegistry struct {
	mu      sync.RWMutex
	remotes []models.Remote
	err     error
}

// NewMockRegistry creates a MockRegistry with the given remotes.
func NewMockRegistry(remotes ...models.Remote) *MockRegistry {
	return &MockRegistry{remotes: remotes}
}

// Snapshot returns the configured remotes or error.
func (r *MockRegistry) Snapshot(ctx context.Context) ([]models.Remote, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.err != nil {
		return nil, r.err
	}

	remotes := make([]models.Remote, len(r.remotes))
	copy(remotes, r.remotes)

	return remotes, nil
}

// SetRemotes replaces the remote list.
func (r *MockRegistry) SetRemotes(remotes ...models.Remote) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remotes = remotes
}

// SetError makes Snapshot fail with err.
func (r *MockRegistry) SetError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}
