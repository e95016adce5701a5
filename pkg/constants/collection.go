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

package constants

import "time"

const (
	// DefaultCollectionInterval is the interval between scheduled collection rounds.
	// - Too small: the control plane hammers every remote's API with little new data per fetch
	// - Too high: dashboards go stale and locally-started tasks stay unreconciled for long
	DefaultCollectionInterval = 15 * time.Minute

	// MinCollectionInterval is the minimum spacing between two collections of the
	// same remote. A remote fetched more recently than this is skipped within a
	// round, its data is recent enough.
	MinCollectionInterval = 10 * time.Second

	// DefaultFetchTimeout bounds a single remote's metrics/tasks fetch.
	DefaultFetchTimeout = 60 * time.Second

	// DefaultMaxConcurrentFetches limits the number of remotes polled in parallel
	// within one round, keeping the outbound connection budget bounded.
	DefaultMaxConcurrentFetches = 20

	// DefaultFailureThreshold is the number of consecutive failed rounds after
	// which a remote is demoted to degraded.
	DefaultFailureThreshold = 3

	// DefaultDegradedRetryMultiplier stretches the retry interval for degraded
	// remotes. A remote known to be down is retried every
	// multiplier * collection interval instead of every round.
	DefaultDegradedRetryMultiplier = 4

	// DefaultRetentionHorizon is how long metric samples are kept per series.
	DefaultRetentionHorizon = 7 * 24 * time.Hour

	// DefaultMaxSeries caps the number of (remote, resource) series in the
	// metrics store.
	DefaultMaxSeries = 4096

	// DefaultRoundHistory is the number of finished rounds retained for
	// diagnostics.
	DefaultRoundHistory = 16

	// MinRemainingFetchTime is the least time left on the round's deadline
	// that still makes starting a remote fetch worthwhile. Below it the
	// remote is skipped instead of starting a fetch that is about to be
	// cancelled mid-flight.
	MinRemainingFetchTime = 2 * time.Second

	// LocalRemoteName is the reserved remote id under which the engine records
	// its own collection statistics.
	LocalRemoteName = "local"

	// CollectionStatsResource is the reserved resource id for round statistics.
	CollectionStatsResource = "collection-stats"
)

const (
	// DefaultStatePath is the default location of the persisted collection state.
	DefaultStatePath = "/data/collection-state.json"

	// DefaultConfigPath is the default path to the config file.
	DefaultConfigPath = "/data/config.yaml"

	// DefaultMetricsPort is the port of the prometheus metrics endpoint.
	DefaultMetricsPort = 8081

	// DefaultStatusPort is the port of the operational status API.
	DefaultStatusPort = 8080
)
