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
	"context"
	"net/http"
	"sync"

	"github.com/h2non/gock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/fleetmesh/fleet-core/pkg/models"
)

const virtEndpoint = "http://pve1.example:8006"
const backupEndpoint = "http://pbs1.example:8007"

func virtTestRemote() models.Remote {
	return models.Remote{
		Name:     "pve1",
		Kind:     models.RemoteKindVirt,
		Endpoint: virtEndpoint,
		TokenID:  "collector@pam!fleet",
		Token:    "s3cret",
	}
}

func backupTestRemote() models.Remote {
	return models.Remote{
		Name:     "pbs1",
		Kind:     models.RemoteKindBackup,
		Endpoint: backupEndpoint,
		TokenID:  "collector@pbs!fleet",
		Token:    "s3cret",
	}
}

var _ = Describe("HTTP clients", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
		gock.InterceptClient(GetClient(false))
	})

	AfterEach(func() {
		gock.OffAll()
	})

	Describe("GetClient", func() {
		It("hands out the same shared client to concurrent callers", func() {
			clients := make([]*http.Client, 16)
			var wg sync.WaitGroup
			for i := range clients {
				wg.Add(1)
				go func() {
					defer wg.Done()
					clients[i] = GetClient(i%2 == 1)
				}()
			}
			wg.Wait()

			for i, client := range clients {
				Expect(client).NotTo(BeNil())
				Expect(client).To(BeIdenticalTo(GetClient(i%2 == 1)))
			}
			Expect(GetClient(true)).NotTo(BeIdenticalTo(GetClient(false)))
		})
	})

	Describe("Factory", func() {
		It("selects the client implementation by remote kind", func() {
			factory := NewHTTPFactory()

			virt, err := factory.ClientFor(virtTestRemote())
			Expect(err).NotTo(HaveOccurred())
			Expect(virt).To(BeAssignableToTypeOf(&virtClient{}))

			backup, err := factory.ClientFor(backupTestRemote())
			Expect(err).NotTo(HaveOccurred())
			Expect(backup).To(BeAssignableToTypeOf(&backupClient{}))

			_, err = factory.ClientFor(models.Remote{Name: "x", Kind: "mainframe"})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("virt client", func() {
		var client Client

		BeforeEach(func() {
			var err error
			client, err = NewHTTPFactory().ClientFor(virtTestRemote())
			Expect(err).NotTo(HaveOccurred())
		})

		It("folds the flat metrics export into per-resource samples", func() {
			gock.New(virtEndpoint).
				Get("/api/cluster/metrics/export").
				MatchParam("start-time", "1000").
				MatchHeader("Authorization", "APIToken collector@pam!fleet=s3cret").
				Reply(200).
				JSON(map[string]any{
					"data": map[string]any{
						"data": []map[string]any{
							{"id": "node/pve1", "metric": "cpu", "timestamp": 1100, "value": 0.25},
							{"id": "node/pve1", "metric": "mem", "timestamp": 1100, "value": 0.5},
							{"id": "vm/100", "metric": "cpu", "timestamp": 1200, "value": 0.75},
						},
					},
				})

			samples, err := client.FetchMetrics(ctx, 1000)
			Expect(err).NotTo(HaveOccurred())
			Expect(samples).To(HaveLen(2))

			Expect(samples[0].Resource).To(Equal("node/pve1"))
			Expect(samples[0].Timestamp).To(Equal(int64(1100)))
			Expect(samples[0].Fields).To(HaveLen(2))
			Expect(samples[0].Fields["cpu"]).To(Equal(0.25))
			Expect(samples[0].Fields["mem"]).To(Equal(0.5))

			Expect(samples[1].Resource).To(Equal("vm/100"))
			Expect(samples[1].Fields["cpu"]).To(Equal(0.75))
		})

		It("maps the task list to records with derived statuses", func() {
			gock.New(virtEndpoint).
				Get("/api/cluster/tasks").
				MatchParam("since", "500").
				Reply(200).
				JSON(map[string]any{
					"data": []map[string]any{
						{"id": "UPID:1", "type": "vzdump", "status": "OK", "starttime": 600, "endtime": 660, "user": "root@pam"},
						{"id": "UPID:2", "type": "qmstart", "status": "", "starttime": 700, "endtime": 0, "user": "admin@pve"},
						{"id": "UPID:3", "type": "qmstop", "status": "some error text", "starttime": 800, "endtime": 810, "user": "root@pam"},
					},
				})

			tasks, err := client.FetchTasks(ctx, 500)
			Expect(err).NotTo(HaveOccurred())
			Expect(tasks).To(HaveLen(3))

			Expect(tasks[0].Status).To(Equal(models.TaskOK))
			Expect(tasks[1].Status).To(Equal(models.TaskRunning))
			Expect(tasks[1].Finished()).To(BeFalse())
			Expect(tasks[2].Status).To(Equal(models.TaskError))
			Expect(tasks[2].Remote).To(Equal("pve1"))
		})

		It("fetches a single task's status by id", func() {
			gock.New(virtEndpoint).
				Get("/api/cluster/tasks/UPID:9/status").
				Reply(200).
				JSON(map[string]any{
					"data": map[string]any{
						"id": "UPID:9", "type": "qmstart", "status": "OK",
						"starttime": 900, "endtime": 960, "user": "admin@pve",
					},
				})

			task, err := client.FetchTaskStatus(ctx, "UPID:9")
			Expect(err).NotTo(HaveOccurred())
			Expect(task.TaskID).To(Equal("UPID:9"))
			Expect(task.Status).To(Equal(models.TaskOK))
			Expect(task.EndTime).To(Equal(int64(960)))
			Expect(task.Remote).To(Equal("pve1"))
		})

		It("classifies rejected credentials as an auth error", func() {
			gock.New(virtEndpoint).
				Get("/api/cluster/metrics/export").
				Reply(401)

			_, err := client.FetchMetrics(ctx, 0)
			Expect(err).To(HaveOccurred())
			Expect(IsAuthError(err)).To(BeTrue())
		})

		It("classifies an unparsable payload as malformed", func() {
			gock.New(virtEndpoint).
				Get("/api/cluster/metrics/export").
				Reply(200).
				BodyString("<html>maintenance</html>")

			_, err := client.FetchMetrics(ctx, 0)
			Expect(err).To(HaveOccurred())
			Expect(IsMalformedError(err)).To(BeTrue())
		})

		It("classifies a server error as a transport error", func() {
			gock.New(virtEndpoint).
				Get("/api/cluster/tasks").
				Reply(502)

			_, err := client.FetchTasks(ctx, 0)
			Expect(err).To(HaveOccurred())
			Expect(IsAuthError(err)).To(BeFalse())
			Expect(OutcomeFor(err)).To(Equal(models.OutcomeTransportError))
		})
	})

	Describe("backup client", func() {
		var client Client

		BeforeEach(func() {
			var err error
			client, err = NewHTTPFactory().ClientFor(backupTestRemote())
			Expect(err).NotTo(HaveOccurred())
		})

		It("prefixes datastore resources and keeps named fields", func() {
			gock.New(backupEndpoint).
				Get("/api/status/metrics").
				MatchParam("start-time", "2000").
				Reply(200).
				JSON(map[string]any{
					"data": []map[string]any{
						{"datastore": "main", "timestamp": 2100, "values": map[string]float64{"used": 1024, "total": 4096}},
					},
				})

			samples, err := client.FetchMetrics(ctx, 2000)
			Expect(err).NotTo(HaveOccurred())
			Expect(samples).To(HaveLen(1))
			Expect(samples[0].Resource).To(Equal("datastore/main"))
			Expect(samples[0].Fields["used"]).To(Equal(float64(1024)))
		})

		It("fetches a single task's status by UPID", func() {
			gock.New(backupEndpoint).
				Get("/api/nodes/tasks/UPID:pbs:7/status").
				Reply(200).
				JSON(map[string]any{
					"data": map[string]any{
						"upid": "UPID:pbs:7", "worker-type": "backup", "status": "interrupted",
						"starttime": 4000, "endtime": 4100, "user": "root@pam", "worker-id": "vm/100",
					},
				})

			task, err := client.FetchTaskStatus(ctx, "UPID:pbs:7")
			Expect(err).NotTo(HaveOccurred())
			Expect(task.TaskID).To(Equal("UPID:pbs:7"))
			Expect(task.Type).To(Equal("backup"))
			Expect(task.Status).To(Equal(models.TaskError))
		})

		It("maps worker tasks to records", func() {
			gock.New(backupEndpoint).
				Get("/api/nodes/tasks").
				Reply(200).
				JSON(map[string]any{
					"data": []map[string]any{
						{"upid": "UPID:pbs:1", "worker-type": "garbage_collection", "status": "OK",
							"starttime": 3000, "endtime": 3100, "user": "root@pam", "worker-id": "main"},
					},
				})

			tasks, err := client.FetchTasks(ctx, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(tasks).To(HaveLen(1))
			Expect(tasks[0].TaskID).To(Equal("UPID:pbs:1"))
			Expect(tasks[0].Type).To(Equal("garbage_collection"))
			Expect(tasks[0].Status).To(Equal(models.TaskOK))
			Expect(tasks[0].Description).To(Equal("main"))
		})
	})
})
