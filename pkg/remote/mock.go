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
	"sync"

	"github.com/fleetmesh/fleet-core/pkg/models"
)

// MockClient is a mock implementation of the Client interface.
type MockClient struct {
	FetchMetricsFunc    func(ctx context.Context, since int64) ([]models.MetricSample, error)
	FetchTasksFunc      func(ctx context.Context, since int64) ([]models.TaskRecord, error)
	FetchTaskStatusFunc func(ctx context.Context, taskID string) (models.TaskRecord, error)

	mu                   sync.Mutex
	metricsFetchCount    int
	tasksFetchCount      int
	taskStatusFetchCount int
	lastMetricsSince     int64
	lastTasksSince       int64
	lastTaskStatusID     string
}

// FetchMetrics calls FetchMetricsFunc, recording the call.
func (m *MockClient) FetchMetrics(ctx context.Context, since int64) ([]models.MetricSample, error) {
	m.mu.Lock()
	m.metricsFetchCount++
	m.lastMetricsSince = since
	m.mu.Unlock()

	if m.FetchMetricsFunc != nil {
		return m.FetchMetricsFunc(ctx, since)
	}

	return nil, nil
}

// FetchTasks calls FetchTasksFunc, recording the call.
func (m *MockClient) FetchTasks(ctx context.Context, since int64) ([]models.TaskRecord, error) {
	m.mu.Lock()
	m.tasksFetchCount++
	m.lastTasksSince = since
	m.mu.Unlock()

	if m.FetchTasksFunc != nil {
		return m.FetchTasksFunc(ctx, since)
	}

	return nil, nil
}

// FetchTaskStatus calls FetchTaskStatusFunc, recording the call.
func (m *MockClient) FetchTaskStatus(ctx context.Context, taskID string) (models.TaskRecord, error) {
	m.mu.Lock()
	m.taskStatusFetchCount++
	m.lastTaskStatusID = taskID
	m.mu.Unlock()

	if m.FetchTaskStatusFunc != nil {
		return m.FetchTaskStatusFunc(ctx, taskID)
	}

	return models.TaskRecord{}, nil
}

// TaskStatusFetchCount returns how many times FetchTaskStatus was called.
func (m *MockClient) TaskStatusFetchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.taskStatusFetchCount
}

// LastTaskStatusID returns the task id passed to the most recent
// FetchTaskStatus call.
func (m *MockClient) LastTaskStatusID() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.lastTaskStatusID
}

// MetricsFetchCount returns how many times FetchMetrics was called.
func (m *MockClient) MetricsFetchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.metricsFetchCount
}

// TasksFetchCount returns how many times FetchTasks was called.
func (m *MockClient) TasksFetchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.tasksFetchCount
}

// LastMetricsSince returns the cursor passed to the most recent FetchMetrics call.
func (m *MockClient) LastMetricsSince() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.lastMetricsSince
}

// MockFactory is a mock implementation of the Factory interface, handing out
// one MockClient per remote name.
type MockFactory struct {
	mu      sync.Mutex
	clients map[string]*MockClient
}

// NewMockFactory creates a new MockFactory.
func NewMockFactory() *MockFactory {
	return &MockFactory{clients: make(map[string]*MockClient)}
}

// SetClient registers the client returned for a remote name.
func (f *MockFactory) SetClient(name string, client *MockClient) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clients[name] = client
}

// Client returns the registered client for a remote name, if any.
func (f *MockFactory) Client(name string) *MockClient {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.clients[name]
}

// ClientFor returns the registered client for the remote.
func (f *MockFactory) ClientFor(remote models.Remote) (Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	client, ok := f.clients[remote.Name]
	if !ok {
		return nil, fmt.Errorf("no mock client registered for remote %q", remote.Name)
	}

	return client, nil
}
