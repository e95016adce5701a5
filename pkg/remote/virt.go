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
	"sort"
	"time"

	"github.com/goccy/go-json"

	"github.com/fleetmesh/fleet-core/pkg/logger"
	"github.com/fleetmesh/fleet-core/pkg/models"
)

// virtClient talks to a virtualization cluster remote. The cluster exports
// one flat list of (resource id, metric name, timestamp, value) points which
// we fold into per-resource samples.
type virtClient struct {
	remote models.Remote
}

func newVirtClient(remote models.Remote) *virtClient {
	return &virtClient{remote: remote}
}

// virtMetricPoint is one datapoint in the cluster's metrics export.
type virtMetricPoint struct {
	ID        string  `json:"id"`
	Metric    string  `json:"metric"`
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"value"`
}

type virtMetricsResponse struct {
	Data struct {
		Data []virtMetricPoint `json:"data"`
	} `json:"data"`
}

// virtTask is one task in the cluster's task list.
type virtTask struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Status      string `json:"status"`
	StartTime   int64  `json:"starttime"`
	EndTime     int64  `json:"endtime"`
	User        string `json:"user"`
	Description string `json:"description"`
}

type virtTasksResponse struct {
	Data []virtTask `json:"data"`
}

type virtTaskStatusResponse struct {
	Data virtTask `json:"data"`
}

// FetchMetrics returns metric samples newer than since.
func (c *virtClient) FetchMetrics(ctx context.Context, since int64) ([]models.MetricSample, error) {
	start := time.Now()

	exportURL := fmt.Sprintf("%s/api/cluster/metrics/export?history=1&start-time=%d", c.remote.Endpoint, since)
	body, err := doGET(ctx, c.remote, exportURL)
	if err != nil {
		return nil, err
	}

	var resp virtMetricsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		logMalformedPayload(c.remote.Name, "metrics", body)

		return nil, NewMalformedError(fmt.Errorf("failed to parse metrics from %s: %w", c.remote.Name, err))
	}

	recordFetchLatency(c.remote.Name, time.Since(start))

	return foldMetricPoints(c.remote.Name, resp.Data.Data), nil
}

// FetchTasks returns task records started or finished after since.
func (c *virtClient) FetchTasks(ctx context.Context, since int64) ([]models.TaskRecord, error) {
	start := time.Now()

	tasksURL := fmt.Sprintf("%s/api/cluster/tasks?since=%d", c.remote.Endpoint, since)
	body, err := doGET(ctx, c.remote, tasksURL)
	if err != nil {
		return nil, err
	}

	var resp virtTasksResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		logMalformedPayload(c.remote.Name, "tasks", body)

		return nil, NewMalformedError(fmt.Errorf("failed to parse tasks from %s: %w", c.remote.Name, err))
	}

	recordFetchLatency(c.remote.Name, time.Since(start))

	records := make([]models.TaskRecord, 0, len(resp.Data))
	for _, task := range resp.Data {
		records = append(records, models.TaskRecord{
			Remote:      c.remote.Name,
			TaskID:      task.ID,
			Type:        task.Type,
			Status:      taskStatusFromWire(task.Status, task.EndTime),
			StartTime:   task.StartTime,
			EndTime:     task.EndTime,
			User:        task.User,
			Description: task.Description,
		})
	}

	return records, nil
}

// FetchTaskStatus returns the current record of one task by its id.
func (c *virtClient) FetchTaskStatus(ctx context.Context, taskID string) (models.TaskRecord, error) {
	start := time.Now()

	statusURL := fmt.Sprintf("%s/api/cluster/tasks/%s/status", c.remote.Endpoint, url.PathEscape(taskID))
	body, err := doGET(ctx, c.remote, statusURL)
	if err != nil {
		return models.TaskRecord{}, err
	}

	var resp virtTaskStatusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		logMalformedPayload(c.remote.Name, "task status", body)

		return models.TaskRecord{}, NewMalformedError(fmt.Errorf("failed to parse task status from %s: %w", c.remote.Name, err))
	}

	recordFetchLatency(c.remote.Name, time.Since(start))

	task := resp.Data
	return models.TaskRecord{
		Remote:      c.remote.Name,
		TaskID:      taskID,
		Type:        task.Type,
		Status:      taskStatusFromWire(task.Status, task.EndTime),
		StartTime:   task.StartTime,
		EndTime:     task.EndTime,
		User:        task.User,
		Description: task.Description,
	}, nil
}

// foldMetricPoints groups a flat point list into one sample per
// (resource, timestamp), with one named field per metric.
func foldMetricPoints(remote string, points []virtMetricPoint) []models.MetricSample {
	type sampleKey struct {
		resource  string
		timestamp int64
	}

	grouped := make(map[sampleKey]map[string]float64)
	for _, p := range points {
		key := sampleKey{resource: p.ID, timestamp: p.Timestamp}
		fields, ok := grouped[key]
		if !ok {
			fields = make(map[string]float64)
			grouped[key] = fields
		}
		fields[p.Metric] = p.Value
	}

	samples := make([]models.MetricSample, 0, len(grouped))
	for key, fields := range grouped {
		samples = append(samples, models.MetricSample{
			Remote:    remote,
			Resource:  key.resource,
			Timestamp: key.timestamp,
			Fields:    fields,
		})
	}

	sort.Slice(samples, func(i, j int) bool {
		if samples[i].Timestamp != samples[j].Timestamp {
			return samples[i].Timestamp < samples[j].Timestamp
		}

		return samples[i].Resource < samples[j].Resource
	})

	return samples
}

// taskStatusFromWire maps a remote's task status text to our task status.
// Remotes report arbitrary error text in the status field of failed tasks.
func taskStatusFromWire(status string, endTime int64) models.TaskStatus {
	if endTime == 0 {
		return models.TaskRunning
	}

	switch status {
	case "OK", "ok":
		return models.TaskOK
	case "stopped":
		return models.TaskStopped
	case "":
		return models.TaskUnknown
	default:
		return models.TaskError
	}
}

// logMalformedPayload logs a truncated payload for diagnosis of parse failures.
func logMalformedPayload(remote, operation string, body []byte) {
	const maxLogged = 512

	truncated := body
	if len(truncated) > maxLogged {
		truncated = truncated[:maxLogged]
	}

	logger.For(logger.ComponentRemoteClient).Warnf(
		"Malformed %s payload from remote %s (%d bytes): %q", operation, remote, len(body), truncated)
}
