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

package statusapi

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/fleetmesh/fleet-core/pkg/collector"
	"github.com/fleetmesh/fleet-core/pkg/collector/state"
	"github.com/fleetmesh/fleet-core/pkg/config"
	"github.com/fleetmesh/fleet-core/pkg/health"
	"github.com/fleetmesh/fleet-core/pkg/metricstore"
	"github.com/fleetmesh/fleet-core/pkg/models"
	"github.com/fleetmesh/fleet-core/pkg/registry"
	"github.com/fleetmesh/fleet-core/pkg/remote"
	"github.com/fleetmesh/fleet-core/pkg/service/filesystem"
	"github.com/fleetmesh/fleet-core/pkg/taskcache"
)

var _ = Describe("Server", func() {
	var (
		metricStore *metricstore.Store
		cache       *taskcache.Cache
		router      *gin.Engine
	)

	do := func(method, target string, body []byte) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, target, bytes.NewReader(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	BeforeEach(func() {
		metricStore = metricstore.NewStore(time.Hour, 64)
		cache = taskcache.NewCache()

		engine := collector.NewEngine(
			config.FullConfig{}.WithDefaults().Collection,
			registry.NewMockRegistry(),
			remote.NewMockFactory(),
			metricStore,
			cache,
			state.NewStore("/data/collection-state.json", filesystem.NewMockFileSystem()),
			health.NewTracker(3),
		)

		router = NewServer(engine, metricStore, cache, 0).routes()
	})

	It("answers the liveness endpoint", func() {
		rec := do(http.MethodGet, "/healthz", nil)
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring(`"status":"ok"`))
	})

	Describe("rounds", func() {
		It("returns 404 for an unknown round id", func() {
			rec := do(http.MethodGet, "/v1/rounds/no-such-round", nil)
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})

		It("accepts a trigger with an empty body as manual", func() {
			rec := do(http.MethodPost, "/v1/rounds", nil)
			Expect(rec.Code).To(Equal(http.StatusAccepted))

			var resp map[string]string
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["roundId"]).NotTo(BeEmpty())
		})

		It("coalesces triggers into the queued round", func() {
			first := do(http.MethodPost, "/v1/rounds", []byte(`{"reason":"manual"}`))
			second := do(http.MethodPost, "/v1/rounds", nil)
			Expect(first.Code).To(Equal(http.StatusAccepted))
			Expect(second.Code).To(Equal(http.StatusAccepted))

			var a, b map[string]string
			Expect(json.Unmarshal(first.Body.Bytes(), &a)).To(Succeed())
			Expect(json.Unmarshal(second.Body.Bytes(), &b)).To(Succeed())
			Expect(b["roundId"]).To(Equal(a["roundId"]))
		})

		It("accepts a trigger scoped to one remote", func() {
			rec := do(http.MethodPost, "/v1/rounds", []byte(`{"remote":"pve1"}`))
			Expect(rec.Code).To(Equal(http.StatusAccepted))
		})

		It("rejects unknown trigger reasons", func() {
			rec := do(http.MethodPost, "/v1/rounds", []byte(`{"reason":"because"}`))
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("rejects a scheduled trigger from outside", func() {
			rec := do(http.MethodPost, "/v1/rounds", []byte(`{"reason":"scheduled"}`))
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("tasks", func() {
		BeforeEach(func() {
			cache.Ingest("pve1", []models.TaskRecord{
				{Remote: "pve1", TaskID: "t1", Type: "backup", Status: models.TaskOK, StartTime: 100, EndTime: 150},
				{Remote: "pve1", TaskID: "t2", Type: "migrate", Status: models.TaskRunning, StartTime: 200},
			})
			cache.Ingest("pbs1", []models.TaskRecord{
				{Remote: "pbs1", TaskID: "t3", Type: "verify", Status: models.TaskOK, StartTime: 300, EndTime: 400},
			})
		})

		It("filters by remote", func() {
			rec := do(http.MethodGet, "/v1/tasks?remote=pve1", nil)
			Expect(rec.Code).To(Equal(http.StatusOK))

			var resp struct {
				Tasks []models.TaskRecord `json:"tasks"`
			}
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Tasks).To(HaveLen(2))
			for _, task := range resp.Tasks {
				Expect(task.Remote).To(Equal("pve1"))
			}
		})

		It("filters running tasks and pages", func() {
			rec := do(http.MethodGet, "/v1/tasks?running=true", nil)
			Expect(rec.Code).To(Equal(http.StatusOK))

			var resp struct {
				Tasks []models.TaskRecord `json:"tasks"`
			}
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Tasks).To(HaveLen(1))
			Expect(resp.Tasks[0].TaskID).To(Equal("t2"))
		})

		It("limits the result set", func() {
			rec := do(http.MethodGet, "/v1/tasks?limit=2", nil)
			var resp struct {
				Tasks []models.TaskRecord `json:"tasks"`
			}
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Tasks).To(HaveLen(2))
			// Default order is newest first.
			Expect(resp.Tasks[0].TaskID).To(Equal("t3"))
		})

		It("rejects a non-numeric since", func() {
			rec := do(http.MethodGet, "/v1/tasks?since=yesterday", nil)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("tolerates a negative offset", func() {
			rec := do(http.MethodGet, "/v1/tasks?offset=-1", nil)
			Expect(rec.Code).To(Equal(http.StatusOK))

			var resp struct {
				Tasks []models.TaskRecord `json:"tasks"`
			}
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Tasks).To(HaveLen(3))
		})
	})

	Describe("metrics", func() {
		BeforeEach(func() {
			now := time.Now().Unix()
			metricStore.Ingest([]models.MetricSample{
				{Remote: "pve1", Resource: "node/n1", Timestamp: now - 30, Fields: map[string]float64{"cpu": 0.5}},
				{Remote: "pve1", Resource: "node/n1", Timestamp: now, Fields: map[string]float64{"cpu": 0.7}},
			})
		})

		It("returns samples for a remote", func() {
			rec := do(http.MethodGet, "/v1/metrics?remote=pve1", nil)
			Expect(rec.Code).To(Equal(http.StatusOK))

			var resp struct {
				Samples []models.MetricSample `json:"samples"`
			}
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Samples).To(HaveLen(2))
		})

		It("applies the since bound", func() {
			now := time.Now().Unix()
			rec := do(http.MethodGet, "/v1/metrics?remote=pve1&since="+strconv.FormatInt(now-10, 10), nil)

			var resp struct {
				Samples []models.MetricSample `json:"samples"`
			}
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Samples).To(HaveLen(1))
			Expect(resp.Samples[0].Fields["cpu"]).To(Equal(0.7))
		})
	})

	It("returns the persisted state view", func() {
		rec := do(http.MethodGet, "/v1/state", nil)
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring("remotes"))
	})

	It("returns zero latency stats for an unobserved remote", func() {
		rec := do(http.MethodGet, "/v1/latency/nobody", nil)
		Expect(rec.Code).To(Equal(http.StatusOK))

		var lat models.Latency
		Expect(json.Unmarshal(rec.Body.Bytes(), &lat)).To(Succeed())
		Expect(lat.Avg).To(BeZero())
	})
})
