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

// Package collector drives the collection rounds: a scheduler decides when a
// round runs, the poller fans out to all remotes and merges the results into
// the metric store and task cache, and the collection state is persisted
// after every round.
package collector

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fleetmesh/fleet-core/pkg/collector/state"
	"github.com/fleetmesh/fleet-core/pkg/config"
	"github.com/fleetmesh/fleet-core/pkg/health"
	"github.com/fleetmesh/fleet-core/pkg/logger"
	"github.com/fleetmesh/fleet-core/pkg/metrics"
	"github.com/fleetmesh/fleet-core/pkg/metricstore"
	"github.com/fleetmesh/fleet-core/pkg/models"
	"github.com/fleetmesh/fleet-core/pkg/registry"
	"github.com/fleetmesh/fleet-core/pkg/remote"
	"github.com/fleetmesh/fleet-core/pkg/taskcache"
)

// registryWatchInterval is how often the registry is checked for remotes
// that appeared between rounds. A new remote triggers an immediate round.
const registryWatchInterval = 30 * time.Second

// roundRequest is one queued follow-up round. At most one exists at a time;
// triggers arriving while it is queued coalesce into it.
type roundRequest struct {
	id     string
	reason models.TriggerReason
	// remote scopes the round to a single remote; empty means all remotes.
	remote string
}

// Engine owns the collection loop. It is the single writer of the metric
// store, the task cache and the collection state.
type Engine struct {
	cfg         config.CollectionConfig
	registry    registry.Registry
	factory     remote.Factory
	metricStore *metricstore.Store
	taskCache   *taskcache.Cache
	stateStore  *state.Store
	health      *health.Tracker
	logger      *zap.SugaredLogger

	// mu guards collectionState, rounds and pending.
	mu              sync.Mutex
	collectionState state.CollectionState
	rounds          []models.CollectionRound
	pending         *roundRequest
	// notifyCh wakes the scheduler loop when a follow-up round is queued.
	notifyCh chan struct{}
	// knownRemotes is the remote name set of the last registry snapshot,
	// maintained by the registry watcher.
	knownRemotes   map[string]struct{}
	registrySeeded bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine wires an Engine from its collaborators.
func NewEngine(
	cfg config.CollectionConfig,
	reg registry.Registry,
	factory remote.Factory,
	metricStore *metricstore.Store,
	taskCache *taskcache.Cache,
	stateStore *state.Store,
	healthTracker *health.Tracker,
) *Engine {
	return &Engine{
		cfg:             cfg,
		registry:        reg,
		factory:         factory,
		metricStore:     metricStore,
		taskCache:       taskCache,
		stateStore:      stateStore,
		health:          healthTracker,
		logger:          logger.For(logger.ComponentCollector),
		collectionState: state.NewCollectionState(),
		notifyCh:        make(chan struct{}, 1),
		knownRemotes:    make(map[string]struct{}),
	}
}

// Start loads the persisted collection state and starts the scheduler loop.
// If any remote is overdue (its last successful collection is older than one
// interval), an immediate round runs before the first tick.
func (e *Engine) Start(ctx context.Context) error {
	loaded, err := e.stateStore.Load(ctx)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.collectionState = loaded
	e.mu.Unlock()

	for name, rs := range loaded.Remotes {
		e.health.Seed(ctx, health.RemoteHealth{
			Remote:              name,
			ConsecutiveFailures: rs.ConsecutiveFailures,
			LastSuccess:         rs.LastSuccess,
			LastError:           rs.LastError,
			LastErrorAt:         rs.LastErrorAt,
		})
	}

	loopCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})

	go e.run(loopCtx, e.anyRemoteOverdue(loaded))
	go e.watchRegistry(loopCtx)

	return nil
}

// Stop cancels the loop and waits for an in-flight round to finish.
func (e *Engine) Stop() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	<-e.done
}

// anyRemoteOverdue reports whether any persisted remote has not been
// successfully collected within one interval.
func (e *Engine) anyRemoteOverdue(loaded state.CollectionState) bool {
	if len(loaded.Remotes) == 0 {
		// Fresh start, nothing persisted. Fetch right away.
		return true
	}
	cutoff := time.Now().Add(-e.cfg.Interval)
	for _, rs := range loaded.Remotes {
		if rs.LastSuccess.Before(cutoff) {
			return true
		}
	}
	return false
}

func (e *Engine) run(ctx context.Context, startOverdue bool) {
	defer close(e.done)

	if startOverdue {
		e.logger.Info("Collection overdue at startup, running initial round")
		e.runRound(ctx, roundRequest{id: uuid.New().String(), reason: models.TriggerScheduled})
	}

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.runRound(ctx, roundRequest{id: uuid.New().String(), reason: models.TriggerScheduled})
			// A round that overran the next tick leaves it queued in the
			// ticker channel. Drop it so rounds never run back-to-back off
			// the timer; the following tick proceeds on its normal schedule.
			select {
			case <-ticker.C:
				e.logger.Info("Skipping overdue scheduled round after slow round")
			default:
			}
		case <-e.notifyCh:
			req := e.takePending()
			if req == nil {
				continue
			}
			e.runRound(ctx, *req)
		}
	}
}

// TriggerRound queues a round and returns its id. remoteName scopes the round
// to a single remote; empty means all remotes. If a follow-up round is already
// queued, the trigger coalesces into it and the queued round's id is returned;
// coalescing triggers for different remotes widen the queued round to all
// remotes. The round runs as soon as the current round, if any, finishes.
func (e *Engine) TriggerRound(reason models.TriggerReason, remoteName string) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pending != nil {
		if e.pending.remote != remoteName {
			e.pending.remote = ""
		}
		return e.pending.id
	}
	e.pending = &roundRequest{id: uuid.New().String(), reason: reason, remote: remoteName}

	select {
	case e.notifyCh <- struct{}{}:
	default:
	}
	return e.pending.id
}

func (e *Engine) takePending() *roundRequest {
	e.mu.Lock()
	defer e.mu.Unlock()

	req := e.pending
	e.pending = nil
	return req
}

// watchRegistry polls the registry between rounds and triggers an immediate
// round when a remote appears that was not in the previous snapshot.
func (e *Engine) watchRegistry(ctx context.Context) {
	ticker := time.NewTicker(registryWatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			remotes, err := e.registry.Snapshot(ctx)
			if err != nil {
				e.logger.Warnf("Registry snapshot failed: %v", err)
				continue
			}
			if added := e.noteRemotes(remotes); len(added) > 0 {
				// A single new remote gets a scoped round; several at once
				// are cheapest to pick up in one full round.
				scope := ""
				if len(added) == 1 {
					scope = added[0]
				}
				id := e.TriggerRound(models.TriggerRemoteAdded, scope)
				e.logger.Infof("New remotes %v in registry, triggered round %s", added, id)
			}
		}
	}
}

// noteRemotes records the current remote name set and returns the names added
// since the last call. The very first snapshot never counts as an addition.
func (e *Engine) noteRemotes(remotes []models.Remote) []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	first := !e.registrySeeded
	e.registrySeeded = true

	var added []string
	current := make(map[string]struct{}, len(remotes))
	for _, r := range remotes {
		current[r.Name] = struct{}{}
		if _, ok := e.knownRemotes[r.Name]; !ok && !first {
			added = append(added, r.Name)
		}
	}
	e.knownRemotes = current
	return added
}

func init() {
	metrics.InitErrorCounter(logger.ComponentCollector, "engine")
}
