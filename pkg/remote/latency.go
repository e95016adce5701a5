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

package remote

import (
	"sort"
	"sync"
	"time"

	"github.com/united-manufacturing-hub/expiremap/v2/pkg/expiremap"

	"github.com/fleetmesh/fleet-core/pkg/models"
)

// latencyWindow is how long individual fetch latencies are kept per remote.
const latencyWindow = 30 * time.Minute

var (
	latencyMu      sync.Mutex
	fetchLatencies = make(map[string]*expiremap.ExpireMap[time.Time, time.Duration])
)

// recordFetchLatency stores one successful fetch duration in the remote's
// sliding window.
func recordFetchLatency(remote string, d time.Duration) {
	latencyMu.Lock()
	window, ok := fetchLatencies[remote]
	if !ok {
		window = expiremap.NewEx[time.Time, time.Duration](latencyWindow, latencyWindow)
		fetchLatencies[remote] = window
	}
	latencyMu.Unlock()

	window.Set(time.Now(), d)
}

// ObservedLatency summarizes the fetch latencies observed for a remote over
// the sliding window. Returns zeros if nothing was observed recently.
func ObservedLatency(remote string) models.Latency {
	latencyMu.Lock()
	window, ok := fetchLatencies[remote]
	latencyMu.Unlock()

	if !ok {
		return models.Latency{}
	}

	return calculateLatency(window)
}

func calculateLatency(latencies *expiremap.ExpireMap[time.Time, time.Duration]) models.Latency {
	var minimumDuration time.Duration
	var maximumDuration time.Duration
	var p95 time.Duration
	var p99 time.Duration
	var avgNs int64

	var durations []time.Duration

	items := latencies.Length()
	latencies.Range(func(_ time.Time, value time.Duration) bool {
		if minimumDuration == 0 || value < minimumDuration {
			minimumDuration = value
		}
		if value > maximumDuration {
			maximumDuration = value
		}
		avgNs += value.Nanoseconds()
		durations = append(durations, value)

		return true
	})

	if items > 0 && len(durations) > 0 {
		avgNs /= int64(items)
		sort.Slice(durations, func(i, j int) bool {
			return durations[i] < durations[j]
		})

		p95Index := int(float64(items) * 0.95)
		p99Index := int(float64(items) * 0.99)
		if p95Index >= len(durations) {
			p95Index = len(durations) - 1
		}
		if p99Index >= len(durations) {
			p99Index = len(durations) - 1
		}

		p95 = durations[p95Index]
		p99 = durations[p99Index]
	}

	return models.Latency{
		Min: float64(minimumDuration),
		Max: float64(maximumDuration),
		P95: float64(p95),
		P99: float64(p99),
		Avg: float64(avgNs),
	}
}
