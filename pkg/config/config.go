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
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/fleetmesh/fleet-core/pkg/constants"
	"github.com/fleetmesh/fleet-core/pkg/models"
)

// FullConfig is the complete configuration of the engine.
type FullConfig struct {
	Agent      AgentConfig      `yaml:"agent"`
	Collection CollectionConfig `yaml:"collection"`
	Remotes    []models.Remote  `yaml:"remotes"`
}

// AgentConfig configures the process-level surfaces.
type AgentConfig struct {
	// MetricsPort is the port of the prometheus metrics endpoint.
	MetricsPort int `yaml:"metricsPort"`
	// StatusPort is the port of the operational status API.
	StatusPort int `yaml:"statusPort"`
}

// CollectionConfig configures the collection engine. All values are fixed at
// startup; they are not tunable per call.
type CollectionConfig struct {
	// Interval between scheduled collection rounds.
	Interval time.Duration `yaml:"interval"`
	// MinInterval is the minimum spacing between two collections of the same remote.
	MinInterval time.Duration `yaml:"minInterval"`
	// FetchTimeout bounds a single remote's fetch within a round.
	FetchTimeout time.Duration `yaml:"fetchTimeout"`
	// MaxConcurrentFetches limits parallel remote fetches per round.
	MaxConcurrentFetches int `yaml:"maxConcurrentFetches"`
	// FailureThreshold is the number of consecutive failures after which a
	// remote is demoted to degraded.
	FailureThreshold int `yaml:"failureThreshold"`
	// DegradedRetryMultiplier stretches the retry interval for degraded remotes.
	DegradedRetryMultiplier int `yaml:"degradedRetryMultiplier"`
	// RetentionHorizon is how long metric samples are kept per series.
	RetentionHorizon time.Duration `yaml:"retentionHorizon"`
	// MaxSeries caps the number of (remote, resource) series in the metrics store.
	MaxSeries int `yaml:"maxSeries"`
	// RoundHistory is the number of finished rounds retained for diagnostics.
	RoundHistory int `yaml:"roundHistory"`
	// StatePath is the location of the persisted collection state.
	StatePath string `yaml:"statePath"`
}

// WithDefaults returns a copy of the config with all unset values replaced by
// their defaults.
func (c FullConfig) WithDefaults() FullConfig {
	if c.Agent.MetricsPort == 0 {
		c.Agent.MetricsPort = constants.DefaultMetricsPort
	}
	if c.Agent.StatusPort == 0 {
		c.Agent.StatusPort = constants.DefaultStatusPort
	}
	if c.Collection.Interval == 0 {
		c.Collection.Interval = constants.DefaultCollectionInterval
	}
	if c.Collection.MinInterval == 0 {
		c.Collection.MinInterval = constants.MinCollectionInterval
	}
	if c.Collection.FetchTimeout == 0 {
		c.Collection.FetchTimeout = constants.DefaultFetchTimeout
	}
	if c.Collection.MaxConcurrentFetches == 0 {
		c.Collection.MaxConcurrentFetches = constants.DefaultMaxConcurrentFetches
	}
	if c.Collection.FailureThreshold == 0 {
		c.Collection.FailureThreshold = constants.DefaultFailureThreshold
	}
	if c.Collection.DegradedRetryMultiplier == 0 {
		c.Collection.DegradedRetryMultiplier = constants.DefaultDegradedRetryMultiplier
	}
	if c.Collection.RetentionHorizon == 0 {
		c.Collection.RetentionHorizon = constants.DefaultRetentionHorizon
	}
	if c.Collection.MaxSeries == 0 {
		c.Collection.MaxSeries = constants.DefaultMaxSeries
	}
	if c.Collection.RoundHistory == 0 {
		c.Collection.RoundHistory = constants.DefaultRoundHistory
	}
	if c.Collection.StatePath == "" {
		c.Collection.StatePath = constants.DefaultStatePath
	}

	return c
}

// Validate checks the config for inconsistencies that would break the engine.
func (c FullConfig) Validate() error {
	if c.Collection.MinInterval > c.Collection.Interval {
		return fmt.Errorf("minInterval (%s) must not exceed interval (%s)",
			c.Collection.MinInterval, c.Collection.Interval)
	}

	seen := make(map[string]bool, len(c.Remotes))
	for _, remote := range c.Remotes {
		if remote.Name == "" {
			return fmt.Errorf("remote with endpoint %q has no name", remote.Endpoint)
		}
		if seen[remote.Name] {
			return fmt.Errorf("duplicate remote name %q", remote.Name)
		}
		seen[remote.Name] = true

		if remote.Endpoint == "" {
			return fmt.Errorf("remote %q has no endpoint", remote.Name)
		}
		if remote.Name == constants.LocalRemoteName {
			return fmt.Errorf("remote name %q is reserved", constants.LocalRemoteName)
		}

		switch remote.Kind {
		case models.RemoteKindVirt, models.RemoteKindBackup:
		default:
			return fmt.Errorf("remote %q has unknown kind %q", remote.Name, remote.Kind)
		}
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides on top of the
// parsed config. Only process-level settings are overridable this way,
// the remotes list always comes from the config file.
func applyEnvOverrides(cfg FullConfig) FullConfig {
	if v := os.Getenv("METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Agent.MetricsPort = port
		}
	}
	if v := os.Getenv("STATUS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Agent.StatusPort = port
		}
	}
	if v := os.Getenv("COLLECTION_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Collection.Interval = d
		}
	}
	if v := os.Getenv("COLLECTION_STATE_PATH"); v != "" {
		cfg.Collection.StatePath = v
	}

	return cfg
}
