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

package collector

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fleetmesh/fleet-core/pkg/collector/state"
	"github.com/fleetmesh/fleet-core/pkg/constants"
	"github.com/fleetmesh/fleet-core/pkg/ctxutil"
	"github.com/fleetmesh/fleet-core/pkg/logger"
	"github.com/fleetmesh/fleet-core/pkg/metrics"
	"github.com/fleetmesh/fleet-core/pkg/models"
	"github.com/fleetmesh/fleet-core/pkg/remote"
)

// fetchResult is the outcome of polling one remote, plus the cursor the
// remote advanced to on success.
type fetchResult struct {
	outcome   models.RemoteOutcome
	newCursor int64
}

// runRound executes one collection round: snapshot the registry, fetch every
// remote in parallel under the concurrency limit, merge successful payloads
// into the stores, update health, and persist the collection state.
//
// Per-remote failures never fail the round. Every remote in the snapshot gets
// exactly one outcome; remotes that are not fetched get a skipped outcome.
func (e *Engine) runRound(ctx context.Context, req roundRequest) {
	startedAt := time.Now()

	remotes, err := e.registry.Snapshot(ctx)
	if err != nil {
		metrics.IncErrorCountAndLog(logger.ComponentCollector, "engine", err, e.logger)
		return
	}
	if req.remote != "" {
		remotes = scopeToRemote(remotes, req.remote)
		if len(remotes) == 0 {
			e.logger.Warnf("Round %s targets remote %s, which is not in the registry", req.id, req.remote)
			return
		}
	}
	e.logger.Infof("Starting round %s (%s) over %d remotes", req.id, req.reason, len(remotes))

	prior := e.stateSnapshot()

	results := make([]fetchResult, len(remotes))
	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxConcurrentFetches)
	for i, rem := range remotes {
		g.Go(func() error {
			results[i] = e.fetchRemote(groupCtx, rem, prior.Remotes[rem.Name], req.reason)
			return nil
		})
	}
	// Workers never return errors, failures live in their outcome.
	_ = g.Wait()

	round := models.CollectionRound{
		ID:        req.id,
		Reason:    req.reason,
		StartedAt: startedAt,
		Duration:  time.Since(startedAt),
		Outcomes:  make([]models.RemoteOutcome, 0, len(remotes)),
	}
	for _, res := range results {
		round.Outcomes = append(round.Outcomes, res.outcome)
		metrics.IncFetchOutcome(res.outcome.Remote, string(res.outcome.Status))
	}

	next := e.buildNextState(prior, remotes, results, req.id, startedAt)
	if req.remote == "" {
		// A scoped round sees only its one remote; judging removals from
		// that view would wipe everything else.
		e.cleanupRemovedRemotes(&next, remotes)
	}

	if err := e.stateStore.Save(ctx, next); err != nil {
		// The in-memory stores already hold this round's data, but the
		// cursors must not advance past what is durable, otherwise a restart
		// would skip the window this round covered. Re-fetching the same
		// window next round is the safe failure mode.
		metrics.IncErrorCountAndLog(logger.ComponentStateStore, "engine", err, e.logger)
	} else {
		e.mu.Lock()
		e.collectionState = next
		e.mu.Unlock()
	}

	e.recordRound(round)
	e.ingestRoundStats(round)
	metrics.ObserveRoundDuration(string(req.reason), round.Duration)
	e.logger.Infof("Finished round %s in %s: %s", req.id, round.Duration, summarizeOutcomes(round.Outcomes))
}

// fetchRemote polls one remote. Skipping rules come first: a remote fetched
// more recently than the minimum spacing is skipped, a degraded remote is
// only retried every DegradedRetryMultiplier intervals, and a round deadline
// too close to fit a fetch skips the remote outright. Manual triggers bypass
// the degraded backoff but not the minimum spacing.
func (e *Engine) fetchRemote(ctx context.Context, rem models.Remote, prior state.RemoteState, reason models.TriggerReason) fetchResult {
	now := time.Now()

	if !prior.LastAttempt.IsZero() && now.Sub(prior.LastAttempt) < e.cfg.MinInterval {
		return fetchResult{
			outcome: models.RemoteOutcome{
				Remote: rem.Name,
				Status: models.OutcomeSkipped,
				Error:  "collected recently",
			},
			newCursor: prior.Cursor,
		}
	}

	if reason == models.TriggerScheduled && e.health.IsDegraded(rem.Name) {
		backoff := time.Duration(e.cfg.DegradedRetryMultiplier) * e.cfg.Interval
		if now.Sub(prior.LastAttempt) < backoff {
			return fetchResult{
				outcome: models.RemoteOutcome{
					Remote: rem.Name,
					Status: models.OutcomeSkipped,
					Error:  "degraded, backing off",
				},
				newCursor: prior.Cursor,
			}
		}
	}

	if remaining, sufficient, err := ctxutil.HasSufficientTime(ctx, constants.MinRemainingFetchTime); err == nil && !sufficient {
		e.logger.Warnf("Skipping %s, only %s left in the round", rem.Name, remaining)
		return fetchResult{
			outcome: models.RemoteOutcome{
				Remote: rem.Name,
				Status: models.OutcomeSkipped,
				Error:  "round deadline too close",
			},
			newCursor: prior.Cursor,
		}
	}

	client, err := e.factory.ClientFor(rem)
	if err != nil {
		e.health.ReportFailure(ctx, rem.Name, err, now)
		return fetchResult{
			outcome: models.RemoteOutcome{
				Remote: rem.Name,
				Status: models.OutcomeTransportError,
				Error:  err.Error(),
			},
			newCursor: prior.Cursor,
		}
	}

	fetchCtx, cancel := context.WithTimeout(ctx, ctxutil.BoundedTimeout(ctx, e.cfg.FetchTimeout))
	defer cancel()

	fetchStart := time.Now()
	samples, tasks, err := fetchPayloads(fetchCtx, client, prior.Cursor)
	duration := time.Since(fetchStart)
	metrics.ObserveFetchDuration(rem.Name, duration)

	if err != nil {
		e.health.ReportFailure(ctx, rem.Name, err, now)
		e.logger.Warnf("Fetching %s failed after %s: %v", rem.Name, duration, err)
		return fetchResult{
			outcome: models.RemoteOutcome{
				Remote:   rem.Name,
				Status:   remote.OutcomeFor(err),
				Duration: duration,
				Error:    err.Error(),
			},
			newCursor: prior.Cursor,
		}
	}

	e.metricStore.Ingest(samples)
	e.taskCache.Ingest(rem.Name, tasks)
	e.health.ReportSuccess(ctx, rem.Name, now)
	e.refreshTrackedTasks(fetchCtx, client, rem.Name)

	return fetchResult{
		outcome: models.RemoteOutcome{
			Remote:   rem.Name,
			Status:   models.OutcomeOK,
			Duration: duration,
		},
		newCursor: advanceCursor(prior.Cursor, samples, tasks),
	}
}

// refreshTrackedTasks polls the tasks this control plane started on the
// remote by id until they finish. The windowed task list stops covering them
// once the cursor moves past their start time, so a long-running tracked task
// would otherwise never be seen completing. Failures here are best effort and
// never affect the remote's round outcome.
func (e *Engine) refreshTrackedTasks(ctx context.Context, client remote.Client, remoteName string) {
	for _, taskID := range e.taskCache.TrackedTaskIDs(remoteName) {
		record, err := client.FetchTaskStatus(ctx, taskID)
		if err != nil {
			e.logger.Debugf("Refreshing tracked task %s on %s failed: %v", taskID, remoteName, err)
			continue
		}
		if record.TaskID == "" {
			continue
		}
		e.taskCache.Ingest(remoteName, []models.TaskRecord{record})
	}
}

// scopeToRemote narrows a registry snapshot to the named remote.
func scopeToRemote(remotes []models.Remote, name string) []models.Remote {
	for _, rem := range remotes {
		if rem.Name == name {
			return []models.Remote{rem}
		}
	}
	return nil
}

// fetchPayloads runs the metrics and tasks fetches against one remote. The
// first error wins; there is no point ingesting half a remote's round.
func fetchPayloads(ctx context.Context, client remote.Client, cursor int64) ([]models.MetricSample, []models.TaskRecord, error) {
	samples, err := client.FetchMetrics(ctx, cursor)
	if err != nil {
		return nil, nil, err
	}
	tasks, err := client.FetchTasks(ctx, cursor)
	if err != nil {
		return nil, nil, err
	}
	return samples, tasks, nil
}

// advanceCursor returns the highest timestamp seen in this fetch, never
// moving backwards.
func advanceCursor(cursor int64, samples []models.MetricSample, tasks []models.TaskRecord) int64 {
	for _, s := range samples {
		if s.Timestamp > cursor {
			cursor = s.Timestamp
		}
	}
	for _, t := range tasks {
		if t.StartTime > cursor {
			cursor = t.StartTime
		}
		if t.EndTime > cursor {
			cursor = t.EndTime
		}
	}
	return cursor
}

// buildNextState derives the post-round collection state from the prior one
// and the round's results.
func (e *Engine) buildNextState(prior state.CollectionState, remotes []models.Remote, results []fetchResult, roundID string, startedAt time.Time) state.CollectionState {
	next := prior.Clone()

	for i, rem := range remotes {
		res := results[i]
		rs := next.Remotes[rem.Name]

		switch res.outcome.Status {
		case models.OutcomeOK:
			rs.Cursor = res.newCursor
			rs.LastRoundID = roundID
			rs.LastSuccess = startedAt
			rs.ConsecutiveFailures = 0
			rs.LastAttempt = startedAt
		case models.OutcomeSkipped:
			// Not an attempt, the prior record stands.
		default:
			rs.ConsecutiveFailures++
			rs.LastError = res.outcome.Error
			rs.LastErrorAt = startedAt
			rs.LastAttempt = startedAt
		}
		next.Remotes[rem.Name] = rs
	}

	return next
}

// cleanupRemovedRemotes drops all traces of remotes that are gone from the
// registry snapshot, both from the next persisted state and from the caches.
func (e *Engine) cleanupRemovedRemotes(next *state.CollectionState, remotes []models.Remote) {
	current := make(map[string]struct{}, len(remotes))
	for _, rem := range remotes {
		current[rem.Name] = struct{}{}
	}

	for name := range next.Remotes {
		if _, ok := current[name]; ok {
			continue
		}
		e.logger.Infof("Remote %s left the registry, dropping its data", name)
		e.health.Forget(name)
		e.metricStore.DropRemote(name)
		e.taskCache.DropRemote(name)
		delete(next.Remotes, name)

		e.mu.Lock()
		delete(e.collectionState.Remotes, name)
		e.mu.Unlock()
	}
}

// ingestRoundStats records the engine's own round statistics as a metric
// series under the reserved local remote, so dashboards can graph collection
// behavior with the same queries they use for fleet data.
func (e *Engine) ingestRoundStats(round models.CollectionRound) {
	counts := map[models.OutcomeStatus]int{}
	for _, o := range round.Outcomes {
		counts[o.Status]++
	}

	e.metricStore.Ingest([]models.MetricSample{{
		Remote:    constants.LocalRemoteName,
		Resource:  constants.CollectionStatsResource,
		Timestamp: round.StartedAt.Unix(),
		Fields: map[string]float64{
			"round_duration_ms": float64(round.Duration.Milliseconds()),
			"remotes_total":     float64(len(round.Outcomes)),
			"remotes_ok":        float64(counts[models.OutcomeOK]),
			"remotes_skipped":   float64(counts[models.OutcomeSkipped]),
			"remotes_failed": float64(len(round.Outcomes) -
				counts[models.OutcomeOK] - counts[models.OutcomeSkipped]),
		},
	}})
}
