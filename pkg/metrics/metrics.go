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

package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fleetmesh/fleet-core/pkg/logger"
)

const (
	// Component Labels.
	ComponentCollector   = "collector"
	ComponentScheduler   = "scheduler"
	ComponentMetricStore = "metric_store"
	ComponentTaskCache   = "task_cache"
	ComponentStateStore  = "state_store"
	ComponentRemote      = "remote_client"
	ComponentStatusAPI   = "status_api"
	ComponentSelfMonitor = "self_monitor"
)

var (
	// Namespace and subsystem for all metrics.
	namespace = "fleet"
	subsystem = "core"

	// Error counters.
	errorCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "errors_total",
			Help:      "Total number of errors encountered by component",
		},
		[]string{"component", "instance"},
	)

	// Round timing.
	roundDuration = promauto.NewSummaryVec(
		prometheus.SummaryOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "collection_round_duration_milliseconds",
			Help:      "Time taken for one collection round (in milliseconds)",
			Objectives: map[float64]float64{
				0.5:  0.01,
				0.9:  0.01,
				0.95: 0.01,
				0.99: 0.01,
			},
		},
		[]string{"reason"},
	)

	// Per-remote fetch timing.
	fetchDuration = promauto.NewSummaryVec(
		prometheus.SummaryOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "remote_fetch_duration_milliseconds",
			Help:      "Time taken to fetch one remote (in milliseconds)",
			Objectives: map[float64]float64{
				0.5:  0.01,
				0.9:  0.01,
				0.99: 0.01,
			},
		},
		[]string{"remote"},
	)

	// Per-remote outcome counters.
	fetchOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "remote_fetch_outcomes_total",
			Help:      "Collection outcomes per remote and status",
		},
		[]string{"remote", "status"},
	)

	// Remote health gauge.
	remoteHealthState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "remote_health_state",
			Help:      "Health state of a remote (0=unknown, 1=healthy, 2=degraded)",
		},
		[]string{"remote"},
	)

	// Store ingestion counters.
	samplesIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "metric_samples_ingested_total",
			Help:      "Total number of metric samples accepted into the store",
		},
		[]string{"remote"},
	)

	tasksIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "task_records_ingested_total",
			Help:      "Total number of task records merged into the cache",
		},
		[]string{"remote"},
	)

	// Collection state persistence.
	stateSaves = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "state_saves_total",
			Help:      "Collection state save attempts by result",
		},
		[]string{"result"},
	)
)

// SetupMetricsEndpoint starts an HTTP server to expose metrics
// This should be called once at application startup.
func SetupMetricsEndpoint(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.For("metrics").Errorf("Metrics endpoint failed: %v", err)
		}
	}()

	return server
}

// IncErrorCountAndLog increments the error counter for a component and logs a debug message if a logger is provided.
func IncErrorCountAndLog(component, instance string, err error, logger *zap.SugaredLogger) {
	IncErrorCount(component, instance)

	if logger != nil {
		logger.Debugf("Component %s instance %s failed: %v", component, instance, err)
	}
}

// IncErrorCount increments the error counter for a component.
func IncErrorCount(component, instance string) {
	errorCounter.WithLabelValues(component, instance).Inc()
}

// InitErrorCounter initializes the error counter for a component.
func InitErrorCounter(component, instance string) {
	errorCounter.WithLabelValues(component, instance).Add(0)
}

// ObserveRoundDuration records the time taken for a full collection round.
func ObserveRoundDuration(reason string, duration time.Duration) {
	roundDuration.WithLabelValues(reason).Observe(float64(duration.Milliseconds()))
}

// ObserveFetchDuration records the time taken to fetch a single remote.
func ObserveFetchDuration(remote string, duration time.Duration) {
	fetchDuration.WithLabelValues(remote).Observe(float64(duration.Milliseconds()))
}

// IncFetchOutcome counts one per-remote collection outcome.
func IncFetchOutcome(remote, status string) {
	fetchOutcomes.WithLabelValues(remote, status).Inc()
}

// UpdateRemoteHealth updates the health gauge for a remote.
func UpdateRemoteHealth(remote string, state string) {
	remoteHealthState.WithLabelValues(remote).Set(healthStateValue(state))
}

// RemoveRemoteHealth drops the health gauge for a remote that left the registry.
func RemoveRemoteHealth(remote string) {
	remoteHealthState.DeleteLabelValues(remote)
}

func healthStateValue(state string) float64 {
	switch state {
	case "healthy":
		return 1
	case "degraded":
		return 2
	default:
		return 0
	}
}

// AddSamplesIngested counts metric samples accepted into the store.
func AddSamplesIngested(remote string, n int) {
	samplesIngested.WithLabelValues(remote).Add(float64(n))
}

// AddTasksIngested counts task records merged into the cache.
func AddTasksIngested(remote string, n int) {
	tasksIngested.WithLabelValues(remote).Add(float64(n))
}

// IncStateSave counts a collection state save attempt.
func IncStateSave(success bool) {
	result := "ok"
	if !success {
		result = "error"
	}

	stateSaves.WithLabelValues(result).Inc()
}
