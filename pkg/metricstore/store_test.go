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

package metricstore

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/fleetmesh/fleet-core/pkg/models"
)

func sample(remote, resource string, ts int64, cpu float64) models.MetricSample {
	return models.MetricSample{
		Remote:    remote,
		Resource:  resource,
		Timestamp: ts,
		Fields:    map[string]float64{"cpu": cpu},
	}
}

var _ = Describe("Store", func() {
	var (
		store *Store
		now   int64
	)

	BeforeEach(func() {
		store = NewStore(24*time.Hour, 8)
		now = time.Now().Unix()
	})

	Describe("Ingest", func() {
		It("keeps each series sorted regardless of arrival order", func() {
			store.Ingest([]models.MetricSample{
				sample("pve1", "node/pve1", now-10, 0.3),
				sample("pve1", "node/pve1", now-30, 0.1),
				sample("pve1", "node/pve1", now-20, 0.2),
			})

			got := store.Query("pve1", "node/pve1", 0, 0)
			Expect(got).To(HaveLen(3))
			Expect(got[0].Timestamp).To(Equal(now - 30))
			Expect(got[1].Timestamp).To(Equal(now - 20))
			Expect(got[2].Timestamp).To(Equal(now - 10))
		})

		It("overwrites a duplicate timestamp instead of adding a second sample", func() {
			store.Ingest([]models.MetricSample{sample("pve1", "node/pve1", now, 0.1)})
			store.Ingest([]models.MetricSample{sample("pve1", "node/pve1", now, 0.9)})

			got := store.Query("pve1", "node/pve1", 0, 0)
			Expect(got).To(HaveLen(1))
			Expect(got[0].Fields["cpu"]).To(Equal(0.9))
		})

		It("detaches stored samples from caller-owned field maps", func() {
			in := sample("pve1", "node/pve1", now, 0.5)
			store.Ingest([]models.MetricSample{in})
			in.Fields["cpu"] = 99

			got := store.Query("pve1", "node/pve1", 0, 0)
			Expect(got[0].Fields["cpu"]).To(Equal(0.5))

			// Query results are copies too, mutating one must not corrupt
			// what the next caller sees.
			got[0].Fields["cpu"] = 42
			again := store.Query("pve1", "node/pve1", 0, 0)
			Expect(again[0].Fields["cpu"]).To(Equal(0.5))
		})

		It("drops samples older than the retention horizon", func() {
			store = NewStore(time.Hour, 8)
			ancient := now - 2*3600

			Expect(store.Ingest([]models.MetricSample{
				sample("pve1", "node/pve1", ancient, 0.1),
				sample("pve1", "node/pve1", now, 0.5),
			})).To(Equal(1))

			got := store.Query("pve1", "", 0, 0)
			Expect(got).To(HaveLen(1))
			Expect(got[0].Timestamp).To(Equal(now))
		})

		It("evicts samples that aged out of the horizon from a touched series", func() {
			ser := &series{samples: []models.MetricSample{
				sample("pve1", "node/pve1", 100, 0.1),
				sample("pve1", "node/pve1", 200, 0.2),
				sample("pve1", "node/pve1", 300, 0.3),
			}}

			ser.evictBefore(250)
			Expect(ser.samples).To(HaveLen(1))
			Expect(ser.samples[0].Timestamp).To(Equal(int64(300)))
		})

		It("refuses new series past the configured maximum", func() {
			store = NewStore(24*time.Hour, 2)

			store.Ingest([]models.MetricSample{
				sample("pve1", "node/pve1", now, 0.1),
				sample("pve1", "vm/100", now, 0.2),
				sample("pve1", "vm/101", now, 0.3),
			})

			Expect(store.SeriesCount()).To(Equal(2))
			Expect(store.Query("pve1", "vm/101", 0, 0)).To(BeEmpty())
		})
	})

	Describe("Query", func() {
		BeforeEach(func() {
			store.Ingest([]models.MetricSample{
				sample("pve1", "node/pve1", now-20, 0.1),
				sample("pve1", "vm/100", now-10, 0.2),
				sample("pbs1", "datastore/main", now-15, 0.3),
			})
		})

		It("treats empty remote and resource as wildcards", func() {
			Expect(store.Query("", "", 0, 0)).To(HaveLen(3))
			Expect(store.Query("pve1", "", 0, 0)).To(HaveLen(2))
			Expect(store.Query("", "vm/100", 0, 0)).To(HaveLen(1))
		})

		It("bounds the result by the time range", func() {
			got := store.Query("", "", now-16, now-5)
			Expect(got).To(HaveLen(2))
			Expect(got[0].Resource).To(Equal("datastore/main"))
			Expect(got[1].Resource).To(Equal("vm/100"))
		})

		It("orders results across series by timestamp", func() {
			got := store.Query("", "", 0, 0)
			Expect(got[0].Timestamp).To(BeNumerically("<=", got[1].Timestamp))
			Expect(got[1].Timestamp).To(BeNumerically("<=", got[2].Timestamp))
		})
	})

	Describe("DropRemote", func() {
		It("removes every series of the remote and nothing else", func() {
			store.Ingest([]models.MetricSample{
				sample("pve1", "node/pve1", now, 0.1),
				sample("pve1", "vm/100", now, 0.2),
				sample("pbs1", "datastore/main", now, 0.3),
			})

			Expect(store.DropRemote("pve1")).To(Equal(2))
			Expect(store.Query("pve1", "", 0, 0)).To(BeEmpty())
			Expect(store.Query("pbs1", "", 0, 0)).To(HaveLen(1))
		})
	})
})
