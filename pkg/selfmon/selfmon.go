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

// Package selfmon samples the control plane's own CPU and memory usage into
// the metric store under the reserved local remote, so the fleet view also
// covers the collector itself.
package selfmon

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/fleetmesh/fleet-core/pkg/constants"
	"github.com/fleetmesh/fleet-core/pkg/logger"
	"github.com/fleetmesh/fleet-core/pkg/metricstore"
	"github.com/fleetmesh/fleet-core/pkg/models"
)

const sampleInterval = time.Minute

// Monitor periodically writes a system sample into the metric store.
type Monitor struct {
	store  *metricstore.Store
	logger *zap.SugaredLogger
}

// NewMonitor creates a Monitor writing into store.
func NewMonitor(store *metricstore.Store) *Monitor {
	return &Monitor{
		store:  store,
		logger: logger.For(logger.ComponentSelfMonitor),
	}
}

// Run samples until ctx is cancelled. Blocking, callers run it in a
// goroutine.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sample(ctx)
		}
	}
}

func (m *Monitor) sample(ctx context.Context) {
	fields := make(map[string]float64)

	percentages, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		m.logger.Warnf("Failed to sample CPU usage: %v", err)
	} else if len(percentages) > 0 {
		fields["cpu_percent"] = percentages[0]
	}

	vmStat, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		m.logger.Warnf("Failed to sample memory usage: %v", err)
	} else {
		fields["mem_used_bytes"] = float64(vmStat.Used)
		fields["mem_used_percent"] = vmStat.UsedPercent
	}

	if len(fields) == 0 {
		return
	}

	m.store.Ingest([]models.MetricSample{{
		Remote:    constants.LocalRemoteName,
		Resource:  "system",
		Timestamp: time.Now().Unix(),
		Fields:    fields,
	}})
}
