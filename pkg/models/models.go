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

// Package models holds the data types shared between the collection engine,
// its stores and its consumers.
package models

import "time"

// RemoteKind enumerates the supported remote cluster types.
type RemoteKind string

const (
	// RemoteKindVirt is a virtualization cluster remote.
	RemoteKindVirt RemoteKind = "virt"
	// RemoteKindBackup is a backup server remote.
	RemoteKindBackup RemoteKind = "backup"
)

// Remote describes one configured remote. The engine only ever reads a
// snapshot of it, the registry owns the value.
type Remote struct {
	// Name uniquely identifies the remote.
	Name string `yaml:"name" json:"name"`
	// Kind selects the client implementation used to talk to the remote.
	Kind RemoteKind `yaml:"kind" json:"kind"`
	// Endpoint is the base URL of the remote's API, e.g. https://host:8006.
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	// TokenID and Token authenticate against the remote's API.
	TokenID string `yaml:"tokenId" json:"tokenId"`
	Token   string `yaml:"token" json:"-"`
	// AllowInsecureTLS disables certificate verification for this remote.
	AllowInsecureTLS bool `yaml:"allowInsecureTLS,omitempty" json:"allowInsecureTLS,omitempty"`
}

// OutcomeStatus classifies the result of polling one remote in one round.
type OutcomeStatus string

const (
	OutcomeOK             OutcomeStatus = "ok"
	OutcomeTimeout        OutcomeStatus = "timeout"
	OutcomeAuthError      OutcomeStatus = "auth-error"
	OutcomeTransportError OutcomeStatus = "transport-error"
	OutcomeSkipped        OutcomeStatus = "skipped"
)

// RemoteOutcome is the per-remote result of a collection round. Every remote
// in the registry snapshot gets exactly one outcome per round; skipped remotes
// produce a skipped outcome, not an omission.
type RemoteOutcome struct {
	Remote   string        `json:"remote"`
	Status   OutcomeStatus `json:"status"`
	Duration time.Duration `json:"duration"`
	// Error carries the classified error text for non-ok outcomes.
	Error string `json:"error,omitempty"`
}

// TriggerReason says why a collection round ran.
type TriggerReason string

const (
	TriggerScheduled   TriggerReason = "scheduled"
	TriggerManual      TriggerReason = "manual"
	TriggerRemoteAdded TriggerReason = "remote-added"
)

// CollectionRound is one finished pass over all remotes. Immutable once the
// round completes; only the last few rounds are retained.
type CollectionRound struct {
	ID        string          `json:"id"`
	Reason    TriggerReason   `json:"reason"`
	StartedAt time.Time       `json:"startedAt"`
	Duration  time.Duration   `json:"duration"`
	Outcomes  []RemoteOutcome `json:"outcomes"`
}

// MetricSample is one datapoint of one resource on one remote. Timestamps are
// remote-side unix seconds and strictly increase per (remote, resource).
type MetricSample struct {
	Remote    string             `json:"remote"`
	Resource  string             `json:"resource"`
	Timestamp int64              `json:"timestamp"`
	Fields    map[string]float64 `json:"fields"`
}

// TaskStatus is the lifecycle status of a task as reported by a remote, or
// TaskRunning/TaskUnknown for locally-known tasks the remote has not reported
// on yet.
type TaskStatus string

const (
	TaskRunning TaskStatus = "running"
	TaskStopped TaskStatus = "stopped"
	TaskOK      TaskStatus = "ok"
	TaskError   TaskStatus = "error"
	TaskUnknown TaskStatus = "unknown"
)

// TaskRecord is one task/job on one remote. (Remote, TaskID) identifies at
// most one logical record in the task cache.
type TaskRecord struct {
	Remote string     `json:"remote"`
	TaskID string     `json:"taskId"`
	Type   string     `json:"type"`
	Status TaskStatus `json:"status"`
	// StartTime and EndTime are remote-side unix seconds. EndTime is zero
	// while the task is still running (or its end is not yet known).
	StartTime   int64  `json:"startTime"`
	EndTime     int64  `json:"endTime,omitempty"`
	User        string `json:"user,omitempty"`
	Description string `json:"description,omitempty"`
}

// Finished reports whether the remote considers the task done.
func (t TaskRecord) Finished() bool {
	return t.EndTime != 0
}

// HealthState is the per-remote health state machine value.
type HealthState string

const (
	// HealthUnknown is the initial state and the state after registry removal.
	HealthUnknown HealthState = "unknown"
	// HealthHealthy means the last collection attempt succeeded.
	HealthHealthy HealthState = "healthy"
	// HealthDegraded means the remote failed several consecutive rounds. It is
	// still retried, no health state is fatal.
	HealthDegraded HealthState = "degraded"
)

// Latency summarizes observed fetch latencies for a remote over a sliding
// window, in nanoseconds.
type Latency struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
	Avg float64 `json:"avg"`
}
