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

// Package state persists the collection cursors and per-remote status so a
// restart resumes from the last good cursor instead of re-fetching history.
package state

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/fleetmesh/fleet-core/pkg/logger"
	"github.com/fleetmesh/fleet-core/pkg/metrics"
	"github.com/fleetmesh/fleet-core/pkg/service/filesystem"
)

// RemoteState is the durable per-remote collection record.
type RemoteState struct {
	// Cursor is the unix-seconds marker of "collected up to here". The next
	// fetch asks the remote only for data after this point.
	Cursor int64 `json:"cursor"`
	// LastRoundID is the id of the last round that successfully fetched this
	// remote.
	LastRoundID string `json:"lastRoundId,omitempty"`
	// LastSuccess is when that round fetched the remote.
	LastSuccess time.Time `json:"lastSuccess"`
	// ConsecutiveFailures counts failed rounds since the last success.
	ConsecutiveFailures int `json:"consecutiveFailures,omitempty"`
	// LastError and LastErrorAt describe the most recent failure, kept across
	// successes until overwritten.
	LastError   string    `json:"lastError,omitempty"`
	LastErrorAt time.Time `json:"lastErrorAt"`
	// LastAttempt is when the collector last tried this remote, successful or
	// not. Used to enforce the minimum per-remote collection spacing.
	LastAttempt time.Time `json:"lastAttempt"`
}

// CollectionState is the whole persisted record, one entry per remote.
type CollectionState struct {
	// Version allows format migrations.
	Version int `json:"version"`
	// SavedAt is when this state was written.
	SavedAt time.Time `json:"savedAt"`
	// Remotes maps remote name to its collection record.
	Remotes map[string]RemoteState `json:"remotes"`
}

const stateVersion = 1

// NewCollectionState returns an empty state.
func NewCollectionState() CollectionState {
	return CollectionState{
		Version: stateVersion,
		Remotes: make(map[string]RemoteState),
	}
}

// Clone returns a deep copy of the state.
func (s CollectionState) Clone() CollectionState {
	out := CollectionState{
		Version: s.Version,
		SavedAt: s.SavedAt,
		Remotes: make(map[string]RemoteState, len(s.Remotes)),
	}
	for name, rs := range s.Remotes {
		out.Remotes[name] = rs
	}
	return out
}

// Store loads and saves CollectionState on disk. Saves replace the whole file
// atomically (write to a temp file, then rename), so a concurrent load never
// observes a torn write.
type Store struct {
	path      string
	fsService filesystem.Service
	logger    *zap.SugaredLogger
}

// NewStore creates a Store persisting to path.
func NewStore(path string, fsService filesystem.Service) *Store {
	return &Store{
		path:      path,
		fsService: fsService,
		logger:    logger.For(logger.ComponentStateStore),
	}
}

// Load reads the persisted state. A missing file yields an empty state, not
// an error; a corrupt file is an error so the operator can decide.
func (s *Store) Load(ctx context.Context) (CollectionState, error) {
	exists, err := s.fsService.PathExists(ctx, s.path)
	if err != nil {
		return CollectionState{}, fmt.Errorf("failed to check state file %s: %w", s.path, err)
	}
	if !exists {
		s.logger.Infof("No collection state at %s, starting fresh", s.path)
		return NewCollectionState(), nil
	}

	data, err := s.fsService.ReadFile(ctx, s.path)
	if err != nil {
		return CollectionState{}, fmt.Errorf("failed to read state file %s: %w", s.path, err)
	}

	var state CollectionState
	if err := json.Unmarshal(data, &state); err != nil {
		return CollectionState{}, fmt.Errorf("failed to parse state file %s: %w", s.path, err)
	}
	if state.Remotes == nil {
		state.Remotes = make(map[string]RemoteState)
	}

	s.logger.Infof("Loaded collection state for %d remotes from %s", len(state.Remotes), s.path)
	return state, nil
}

// Save persists state atomically, replacing the previous file.
func (s *Store) Save(ctx context.Context, state CollectionState) error {
	err := s.save(ctx, state)
	metrics.IncStateSave(err == nil)
	return err
}

func (s *Store) save(ctx context.Context, state CollectionState) error {
	state.Version = stateVersion
	state.SavedAt = time.Now()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode collection state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := s.fsService.EnsureDirectory(ctx, dir); err != nil {
		return fmt.Errorf("failed to create state directory %s: %w", dir, err)
	}

	tmpPath := s.path + ".tmp"
	if err := s.fsService.WriteFile(ctx, tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp state file %s: %w", tmpPath, err)
	}
	if err := s.fsService.Rename(ctx, tmpPath, s.path); err != nil {
		return fmt.Errorf("failed to replace state file %s: %w", s.path, err)
	}

	return nil
}
