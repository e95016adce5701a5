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

// Package health tracks per-remote collection health. Each remote owns a
// small state machine (unknown -> healthy <-> degraded) driven by fetch
// outcomes reported by the collector.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/fleetmesh/fleet-core/pkg/logger"
	"github.com/fleetmesh/fleet-core/pkg/metrics"
	"github.com/fleetmesh/fleet-core/pkg/models"
)

// State machine states and events.
const (
	stateUnknown  = "unknown"
	stateHealthy  = "healthy"
	stateDegraded = "degraded"

	eventSucceed = "succeed"
	eventFail    = "fail"
	eventRecover = "recover"
)

// RemoteHealth is the externally visible health record of one remote.
type RemoteHealth struct {
	Remote              string             `json:"remote"`
	State               models.HealthState `json:"state"`
	ConsecutiveFailures int                `json:"consecutiveFailures"`
	LastSuccess         time.Time          `json:"lastSuccess"`
	LastError           string             `json:"lastError,omitempty"`
	LastErrorAt         time.Time          `json:"lastErrorAt"`
}

type remoteEntry struct {
	machine             *fsm.FSM
	consecutiveFailures int
	lastSuccess         time.Time
	lastError           string
	lastErrorAt         time.Time
}

// Tracker holds the health machines of all known remotes.
type Tracker struct {
	mu               sync.RWMutex
	entries          map[string]*remoteEntry
	failureThreshold int
	logger           *zap.SugaredLogger
}

// NewTracker creates a Tracker. A remote is demoted to degraded after
// failureThreshold consecutive failed fetches.
func NewTracker(failureThreshold int) *Tracker {
	return &Tracker{
		entries:          make(map[string]*remoteEntry),
		failureThreshold: failureThreshold,
		logger:           logger.For(logger.ComponentHealth),
	}
}

func newHealthMachine() *fsm.FSM {
	return fsm.NewFSM(
		stateUnknown,
		fsm.Events{
			{Name: eventSucceed, Src: []string{stateUnknown, stateHealthy}, Dst: stateHealthy},
			{Name: eventFail, Src: []string{stateUnknown, stateHealthy}, Dst: stateDegraded},
			{Name: eventRecover, Src: []string{stateDegraded}, Dst: stateHealthy},
		},
		fsm.Callbacks{},
	)
}

func (t *Tracker) entry(remote string) *remoteEntry {
	e, ok := t.entries[remote]
	if !ok {
		e = &remoteEntry{machine: newHealthMachine()}
		t.entries[remote] = e
		metrics.UpdateRemoteHealth(remote, string(models.HealthUnknown))
	}
	return e
}

// Seed primes the tracker with the persisted health of one remote after a
// restart. A remote whose persisted failure streak already crossed the
// threshold resumes as degraded instead of unknown, so its retry backoff
// survives restarts. Remotes the tracker has already seen are left alone.
func (t *Tracker) Seed(ctx context.Context, prior RemoteHealth) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.entries[prior.Remote]; ok {
		return
	}

	e := t.entry(prior.Remote)
	e.consecutiveFailures = prior.ConsecutiveFailures
	e.lastSuccess = prior.LastSuccess
	e.lastError = prior.LastError
	e.lastErrorAt = prior.LastErrorAt

	if prior.ConsecutiveFailures < t.failureThreshold {
		return
	}
	if err := e.machine.Event(ctx, eventFail); err != nil {
		t.logger.Warnf("Health transition failed for %s: %v", prior.Remote, err)
		return
	}
	t.logger.Infof("Remote %s resumes degraded with %d persisted consecutive failures",
		prior.Remote, prior.ConsecutiveFailures)
	metrics.UpdateRemoteHealth(prior.Remote, string(models.HealthDegraded))
}

// ReportSuccess records a successful fetch for remote at ts.
func (t *Tracker) ReportSuccess(ctx context.Context, remote string, ts time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.entry(remote)
	e.consecutiveFailures = 0
	e.lastSuccess = ts
	e.lastError = ""

	switch e.machine.Current() {
	case stateDegraded:
		if err := e.machine.Event(ctx, eventRecover); err != nil {
			t.logger.Warnf("Health transition failed for %s: %v", remote, err)
			return
		}
		t.logger.Infof("Remote %s recovered", remote)
	case stateUnknown:
		if err := e.machine.Event(ctx, eventSucceed); err != nil {
			t.logger.Warnf("Health transition failed for %s: %v", remote, err)
			return
		}
	}
	metrics.UpdateRemoteHealth(remote, string(models.HealthHealthy))
}

// ReportFailure records a failed fetch for remote. The remote is demoted to
// degraded once the consecutive failure count reaches the threshold.
func (t *Tracker) ReportFailure(ctx context.Context, remote string, fetchErr error, ts time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.entry(remote)
	e.consecutiveFailures++
	if fetchErr != nil {
		e.lastError = fetchErr.Error()
	}
	e.lastErrorAt = ts

	if e.consecutiveFailures < t.failureThreshold {
		return
	}
	if e.machine.Current() == stateDegraded {
		return
	}
	if err := e.machine.Event(ctx, eventFail); err != nil {
		t.logger.Warnf("Health transition failed for %s: %v", remote, err)
		return
	}
	t.logger.Warnf("Remote %s degraded after %d consecutive failures: %s",
		remote, e.consecutiveFailures, e.lastError)
	metrics.UpdateRemoteHealth(remote, string(models.HealthDegraded))
}

// IsDegraded reports whether remote is currently degraded.
func (t *Tracker) IsDegraded(remote string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.entries[remote]
	return ok && e.machine.Current() == stateDegraded
}

// State returns the current health state of remote.
func (t *Tracker) State(remote string) models.HealthState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.entries[remote]
	if !ok {
		return models.HealthUnknown
	}
	return models.HealthState(e.machine.Current())
}

// ConsecutiveFailures returns the current failure streak of remote.
func (t *Tracker) ConsecutiveFailures(remote string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.entries[remote]
	if !ok {
		return 0
	}
	return e.consecutiveFailures
}

// Summary returns the health records of all tracked remotes.
func (t *Tracker) Summary() []RemoteHealth {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]RemoteHealth, 0, len(t.entries))
	for name, e := range t.entries {
		out = append(out, RemoteHealth{
			Remote:              name,
			State:               models.HealthState(e.machine.Current()),
			ConsecutiveFailures: e.consecutiveFailures,
			LastSuccess:         e.lastSuccess,
			LastError:           e.lastError,
			LastErrorAt:         e.lastErrorAt,
		})
	}
	return out
}

// Forget drops the health record of remote, e.g. after it was removed from
// the configuration.
func (t *Tracker) Forget(remote string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.entries[remote]; !ok {
		return
	}
	delete(t.entries, remote)
	metrics.RemoveRemoteHealth(remote)
	t.logger.Infof("Dropped health tracking for removed remote %s", remote)
}

// Known returns the names of all tracked remotes.
func (t *Tracker) Known() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	names := make([]string, 0, len(t.entries))
	for name := range t.entries {
		names = append(names, name)
	}
	return names
}
