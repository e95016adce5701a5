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
	"fmt"
	"net/url"
	"time"

	"github.com/goccy/go-json"

	"github.com/fleetmesh/fleet-core/pkg/models"
)

// backupClient talks to a backup server remote. Unlike the virtualization
// cluster export, the backup server already reports samples with named fields
// per datastore, so no folding is needed.
type backupClient struct {
	remote models.Remote
}

func newBackupClient(remote models.Remote) *backupClient {
	return &backupClient{remote: remote}
}

type backupMetricSample struct {
	Datastore string             `json:"datastore"`
	Timestamp int64              `json:"timestamp"`
	Values    map[string]float64 `json:"values"`
}

type backupMetricsResponse struct {
	Data []backupMetricSample `json:"data"`
}

type backupTask struct {
	UPID       string `json:"upid"`
	WorkerType string `json:"worker-type"`
	Status     string `json:"status"`
	StartTime  int64  `json:"starttime"`
	EndTime    int64  `json:"endtime"`
	User       string `json:"user"`
	WorkerID   string `json:"worker-id"`
}

type backupTasksResponse struct {
	Data []backupTask `json:"data"`
}

type backupTaskStatusResponse struct {
	Data backupTask `json:"data"`
}

// FetchMetrics returns metric samples newer than since.
func (c *backupClient) FetchMetrics(ctx context.Context, since int64) ([]models.MetricSample, error) {
	start := time.Now()

	metricsURL := fmt.Sprintf("%s/api/status/metrics?start-time=%d", c.remote.Endpoint, since)
	body, err := doGET(ctx, c.remote, metricsURL)
	if err != nil {
		return nil, err
	}

	var resp backupMetricsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		logMalformedPayload(c.remote.Name, "metrics", body)

		return nil, NewMalformedError(fmt.Errorf("failed to parse metrics from %s: %w", c.remote.Name, err))
	}

	recordFetchLatency(c.remote.Name, time.Since(start))

	samples := make([]models.MetricSample, 0, len(resp.Data))
	for _, s := range resp.Data {
		samples = append(samples, models.MetricSample{
			Remote:    c.remote.Name,
			Resource:  "datastore/" + s.Datastore,
			Timestamp: s.Timestamp,
			Fields:    s.Values,
		})
	}

	return samples, nil
}

// FetchTasks returns task records started or finished after since.
func (c *backupClient) FetchTasks(ctx context.Context, since int64) ([]models.TaskRecord, error) {
	start := time.Now()

	tasksURL := fmt.Sprintf("%s/api/nodes/tasks?since=%d", c.remote.Endpoint, since)
	body, err := doGET(ctx, c.remote, tasksURL)
	if err != nil {
		return nil, err
	}

	var resp backupTasksResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		logMalformedPayload(c.remote.Name, "tasks", body)

		return nil, NewMalformedError(fmt.Errorf("failed to parse tasks from %s: %w", c.remote.Name, err))
	}

	recordFetchLatency(c.remote.Name, time.Since(start))

	records := make([]models.TaskRecord, 0, len(resp.Data))
	for _, task := range resp.Data {
		records = append(records, models.TaskRecord{
			Remote:      c.remote.Name,
			TaskID:      task.UPID,
			Type:        task.WorkerType,
			Status:      taskStatusFromWire(task.Status, task.EndTime),
			StartTime:   task.StartTime,
			EndTime:     task.EndTime,
			User:        task.User,
			Description: task.WorkerID,
		})
	}

	return records, nil
}

// FetchTaskStatus returns the current record of one task by its UPID.
func (c *backupClient) FetchTaskStatus(ctx context.Context, taskID string) (models.TaskRecord, error) {
	start := time.Now()

	statusURL := fmt.Sprintf("%s/api/nodes/tasks/%s/status", c.remote.Endpoint, url.PathEscape(taskID))
	body, err := doGET(ctx, c.remote, statusURL)
	if err != nil {
		return models.TaskRecord{}, err
	}

	var resp backupTaskStatusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		logMalformedPayload(c.remote.Name, "task status", body)

		return models.TaskRecord{}, NewMalformedError(fmt.Errorf("failed to parse task status from %s: %w", c.remote.Name, err))
	}

	recordFetchLatency(c.remote.Name, time.Since(start))

	task := resp.Data
	return models.TaskRecord{
		Remote:      c.remote.Name,
		TaskID:      taskID,
		Type:        task.WorkerType,
		Status:      taskStatusFromWire(task.Status, task.EndTime),
		StartTime:   task.StartTime,
		EndTime:     task.EndTime,
		User:        task.User,
		Description: task.WorkerID,
	}, nil
}
