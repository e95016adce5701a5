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
	"fmt"
	"strings"

	"github.com/tiendc/go-deepcopy"

	"github.com/fleetmesh/fleet-core/pkg/collector/state"
	"github.com/fleetmesh/fleet-core/pkg/health"
	"github.com/fleetmesh/fleet-core/pkg/models"
)

// recordRound appends a finished round to the diagnostics history, keeping
// only the last RoundHistory rounds.
func (e *Engine) recordRound(round models.CollectionRound) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.rounds = append(e.rounds, round)
	if overflow := len(e.rounds) - e.cfg.RoundHistory; overflow > 0 {
		e.rounds = append(e.rounds[:0], e.rounds[overflow:]...)
	}
}

// Rounds returns the retained rounds, oldest first. The returned rounds are
// deep copies, safe to hold across later rounds.
func (e *Engine) Rounds() []models.CollectionRound {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []models.CollectionRound
	if err := deepcopy.Copy(&out, e.rounds); err != nil {
		e.logger.Errorf("Failed to copy round history: %v", err)
		return nil
	}
	return out
}

// RoundStatus returns the outcomes of the round with the given id.
func (e *Engine) RoundStatus(id string) (models.CollectionRound, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range e.rounds {
		if e.rounds[i].ID != id {
			continue
		}
		var out models.CollectionRound
		if err := deepcopy.Copy(&out, &e.rounds[i]); err != nil {
			e.logger.Errorf("Failed to copy round %s: %v", id, err)
			return models.CollectionRound{}, false
		}
		return out, true
	}
	return models.CollectionRound{}, false
}

// HealthSummary returns the per-remote health records.
func (e *Engine) HealthSummary() []health.RemoteHealth {
	return e.health.Summary()
}

// StateSnapshot returns a copy of the current collection state.
func (e *Engine) StateSnapshot() state.CollectionState {
	return e.stateSnapshot()
}

func (e *Engine) stateSnapshot() state.CollectionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.collectionState.Clone()
}

// summarizeOutcomes renders a short per-status count line for round logs,
// e.g. "ok=3 timeout=1".
func summarizeOutcomes(outcomes []models.RemoteOutcome) string {
	counts := map[models.OutcomeStatus]int{}
	for _, o := range outcomes {
		counts[o.Status]++
	}

	order := []models.OutcomeStatus{
		models.OutcomeOK,
		models.OutcomeTimeout,
		models.OutcomeAuthError,
		models.OutcomeTransportError,
		models.OutcomeSkipped,
	}
	parts := make([]string, 0, len(order))
	for _, status := range order {
		if counts[status] > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", status, counts[status]))
		}
	}
	if len(parts) == 0 {
		return "no remotes"
	}
	return strings.Join(parts, " ")
}
