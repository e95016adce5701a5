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

// Package metricstore keeps a bounded in-memory time-series cache of the
// metric samples collected from all remotes, keyed by (remote, resource).
package metricstore

import (
	"maps"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fleetmesh/fleet-core/pkg/logger"
	"github.com/fleetmesh/fleet-core/pkg/metrics"
	"github.com/fleetmesh/fleet-core/pkg/models"
)

type seriesKey struct {
	remote   string
	resource string
}

type series struct {
	// samples are kept sorted by ascending timestamp, one sample per
	// timestamp.
	samples []models.MetricSample
}

// Store is the in-memory metric sample cache. A single writer (the collector)
// ingests, many readers query concurrently.
type Store struct {
	mu        sync.RWMutex
	series    map[seriesKey]*series
	retention time.Duration
	maxSeries int
	logger    *zap.SugaredLogger
}

// NewStore creates a Store that retains samples for the given horizon and
// caps the number of distinct (remote, resource) series at maxSeries.
func NewStore(retention time.Duration, maxSeries int) *Store {
	return &Store{
		series:    make(map[seriesKey]*series),
		retention: retention,
		maxSeries: maxSeries,
		logger:    logger.For(logger.ComponentMetricStore),
	}
}

// Ingest appends samples to their series. Samples at an already present
// timestamp overwrite the stored sample instead of duplicating it. Samples
// older than the retention horizon are dropped on the way in, and ingestion
// into a series evicts samples that have aged out of the horizon.
func (s *Store) Ingest(samples []models.MetricSample) int {
	if len(samples) == 0 {
		return 0
	}

	cutoff := time.Now().Add(-s.retention).Unix()

	s.mu.Lock()
	defer s.mu.Unlock()

	ingested := 0
	perRemote := make(map[string]int)
	touched := make(map[seriesKey]struct{})
	for _, sample := range samples {
		if sample.Timestamp < cutoff {
			continue
		}
		key := seriesKey{remote: sample.Remote, resource: sample.Resource}
		ser, ok := s.series[key]
		if !ok {
			if len(s.series) >= s.maxSeries {
				s.logger.Warnf("Series limit %d reached, dropping samples for %s/%s",
					s.maxSeries, sample.Remote, sample.Resource)
				continue
			}
			ser = &series{}
			s.series[key] = ser
		}
		// Detach from the caller's map so later mutations cannot reach in.
		sample.Fields = maps.Clone(sample.Fields)
		ser.insert(sample)
		touched[key] = struct{}{}
		perRemote[sample.Remote]++
		ingested++
	}

	for key := range touched {
		s.series[key].evictBefore(cutoff)
	}

	for remote, n := range perRemote {
		metrics.AddSamplesIngested(remote, n)
	}
	return ingested
}

// insert places sample into the sorted slice, overwriting an existing sample
// with the same timestamp.
func (ser *series) insert(sample models.MetricSample) {
	n := len(ser.samples)
	// Common case: samples arrive in order and append at the tail.
	if n == 0 || ser.samples[n-1].Timestamp < sample.Timestamp {
		ser.samples = append(ser.samples, sample)
		return
	}

	i := sort.Search(n, func(i int) bool {
		return ser.samples[i].Timestamp >= sample.Timestamp
	})
	if i < n && ser.samples[i].Timestamp == sample.Timestamp {
		ser.samples[i] = sample
		return
	}
	ser.samples = append(ser.samples, models.MetricSample{})
	copy(ser.samples[i+1:], ser.samples[i:])
	ser.samples[i] = sample
}

func (ser *series) evictBefore(cutoff int64) {
	i := sort.Search(len(ser.samples), func(i int) bool {
		return ser.samples[i].Timestamp >= cutoff
	})
	if i > 0 {
		ser.samples = append(ser.samples[:0], ser.samples[i:]...)
	}
}

// Query returns all samples matching the given remote, resource and time
// range, ordered by timestamp (ties ordered by remote then resource). Empty
// remote or resource act as wildcards; until == 0 means no upper bound. The
// returned samples are detached copies, mutating them leaves the store alone.
func (s *Store) Query(remote, resource string, since, until int64) []models.MetricSample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.MetricSample
	for key, ser := range s.series {
		if remote != "" && key.remote != remote {
			continue
		}
		if resource != "" && key.resource != resource {
			continue
		}
		start := sort.Search(len(ser.samples), func(i int) bool {
			return ser.samples[i].Timestamp >= since
		})
		for _, sample := range ser.samples[start:] {
			if until != 0 && sample.Timestamp > until {
				break
			}
			sample.Fields = maps.Clone(sample.Fields)
			out = append(out, sample)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		if out[i].Remote != out[j].Remote {
			return out[i].Remote < out[j].Remote
		}
		return out[i].Resource < out[j].Resource
	})
	return out
}

// SeriesCount returns the number of distinct (remote, resource) series.
func (s *Store) SeriesCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.series)
}

// DropRemote removes all series belonging to remote, e.g. after it was
// removed from the configuration.
func (s *Store) DropRemote(remote string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := 0
	for key := range s.series {
		if key.remote == remote {
			delete(s.series, key)
			dropped++
		}
	}
	if dropped > 0 {
		s.logger.Infof("Dropped %d series for removed remote %s", dropped, remote)
	}
	return dropped
}
