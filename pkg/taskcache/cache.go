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

// Package taskcache merges task records from all remotes with tasks this
// control plane started itself into one filterable view.
//
// Each cached entry is either local-only (we started the operation, the
// remote has not reported it yet) or reconciled (backed by the remote's own
// task list). A (remote, task id) pair maps to at most one entry; once the
// remote reports a task we know locally, the remote's record wins.
package taskcache

import (
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fleetmesh/fleet-core/pkg/logger"
	"github.com/fleetmesh/fleet-core/pkg/metrics"
	"github.com/fleetmesh/fleet-core/pkg/models"
)

type entryOrigin int

const (
	originLocalOnly entryOrigin = iota
	originReconciled
)

type taskKey struct {
	remote string
	taskID string
}

// localTaskIDPrefix marks placeholder ids of locally noted tasks the remote
// has not assigned an id to yet.
const localTaskIDPrefix = "local/"

type entry struct {
	origin entryOrigin
	// tracked marks tasks this control plane started itself. They are polled
	// by id until finished, even after the remote's list reconciled them.
	tracked bool
	record  models.TaskRecord
}

// Cache is the merged task view. A single writer (the collector plus local
// task creation) mutates it, many readers query concurrently.
type Cache struct {
	mu      sync.RWMutex
	entries map[taskKey]*entry
	logger  *zap.SugaredLogger
}

// NewCache creates an empty task cache.
func NewCache() *Cache {
	return &Cache{
		entries: make(map[taskKey]*entry),
		logger:  logger.For(logger.ComponentTaskCache),
	}
}

// LocalTask is the handle returned by NoteLocalTask. It identifies the
// provisional record until the remote assigns its own task id.
type LocalTask struct {
	cache  *Cache
	remote string
	taskID string
}

// TaskID returns the id the record is currently cached under. Before
// AttachRemoteID this is a generated placeholder.
func (l *LocalTask) TaskID() string {
	return l.taskID
}

// NoteLocalTask records a task this control plane just started against a
// remote, so it is visible in the merged view before the remote's task list
// reports it. The record starts as running with no end time.
func (c *Cache) NoteLocalTask(remote, taskType, description, user string) *LocalTask {
	placeholder := localTaskIDPrefix + uuid.New().String()

	c.mu.Lock()
	defer c.mu.Unlock()

	key := taskKey{remote: remote, taskID: placeholder}
	c.entries[key] = &entry{
		origin:  originLocalOnly,
		tracked: true,
		record: models.TaskRecord{
			Remote:      remote,
			TaskID:      placeholder,
			Type:        taskType,
			Status:      models.TaskRunning,
			StartTime:   time.Now().Unix(),
			User:        user,
			Description: description,
		},
	}

	c.logger.Debugf("Noted local task %s on %s (%s)", placeholder, remote, taskType)
	return &LocalTask{cache: c, remote: remote, taskID: placeholder}
}

// AttachRemoteID rekeys the local record under the task id the remote
// assigned, so the next ingest of the remote's task list reconciles with it
// instead of adding a duplicate.
func (l *LocalTask) AttachRemoteID(taskID string) {
	l.cache.mu.Lock()
	defer l.cache.mu.Unlock()

	oldKey := taskKey{remote: l.remote, taskID: l.taskID}
	e, ok := l.cache.entries[oldKey]
	if !ok {
		// Already reconciled away or dropped with the remote.
		l.taskID = taskID
		return
	}
	delete(l.cache.entries, oldKey)

	newKey := taskKey{remote: l.remote, taskID: taskID}
	if existing, ok := l.cache.entries[newKey]; ok && existing.origin == originReconciled {
		// The remote reported the task before we learned its id. Keep the
		// authoritative record, but keep following it until it finishes.
		existing.tracked = true
		l.taskID = taskID
		return
	}
	e.record.TaskID = taskID
	l.cache.entries[newKey] = e
	l.taskID = taskID
}

// Ingest merges the task records fetched from one remote. Remote records win
// over local-only records with the same id. Returns the number of records
// added or updated.
func (c *Cache) Ingest(remote string, records []models.TaskRecord) int {
	if len(records) == 0 {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	merged := 0
	for _, record := range records {
		if record.Remote == "" {
			record.Remote = remote
		}
		key := taskKey{remote: record.Remote, taskID: record.TaskID}
		e, ok := c.entries[key]
		if !ok {
			c.entries[key] = &entry{origin: originReconciled, record: record}
			merged++
			continue
		}
		if e.origin == originLocalOnly {
			c.logger.Debugf("Reconciled local task %s on %s", record.TaskID, remote)
		}
		e.origin = originReconciled
		e.record = record
		merged++
	}

	metrics.AddTasksIngested(remote, merged)
	return merged
}

// Filter is a conjunction of task query predicates. Zero values match
// everything.
type Filter struct {
	// Remote restricts to tasks of one remote.
	Remote string
	// Type restricts to task types containing this substring.
	Type string
	// Statuses restricts to tasks in any of the given statuses.
	Statuses []models.TaskStatus
	// User restricts to users containing this substring.
	User string
	// Running restricts to unfinished tasks.
	Running bool
	// ErrorsOnly restricts to finished tasks that did not end ok.
	ErrorsOnly bool
	// Since and Until bound the task start time (unix seconds, inclusive).
	// Until == 0 means no upper bound.
	Since int64
	Until int64
}

func (f Filter) matches(r models.TaskRecord) bool {
	if f.Remote != "" && r.Remote != f.Remote {
		return false
	}
	if f.Type != "" && !strings.Contains(r.Type, f.Type) {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, r.Status) {
		return false
	}
	if f.User != "" && !strings.Contains(r.User, f.User) {
		return false
	}
	if f.Running && r.Finished() {
		return false
	}
	if f.ErrorsOnly && (!r.Finished() || r.Status == models.TaskOK) {
		return false
	}
	if r.StartTime < f.Since {
		return false
	}
	if f.Until != 0 && r.StartTime > f.Until {
		return false
	}
	return true
}

// SortOrder selects the query sort direction over task start times.
type SortOrder int

const (
	// SortStartDescending returns most recent tasks first. The default.
	SortStartDescending SortOrder = iota
	// SortStartAscending returns oldest tasks first.
	SortStartAscending
)

// Query returns the tasks matching filter, sorted by start time. limit == 0
// means unbounded; offset skips the first matching records after sorting.
// Negative limit and offset values are treated as zero. The returned records
// are copies, stable only within this one call.
func (c *Cache) Query(filter Filter, order SortOrder, limit, offset int) []models.TaskRecord {
	if limit < 0 {
		limit = 0
	}
	if offset < 0 {
		offset = 0
	}

	c.mu.RLock()
	matched := make([]models.TaskRecord, 0, len(c.entries))
	for _, e := range c.entries {
		if filter.matches(e.record) {
			matched = append(matched, e.record)
		}
	}
	c.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].StartTime != matched[j].StartTime {
			if order == SortStartAscending {
				return matched[i].StartTime < matched[j].StartTime
			}
			return matched[i].StartTime > matched[j].StartTime
		}
		if matched[i].Remote != matched[j].Remote {
			return matched[i].Remote < matched[j].Remote
		}
		return matched[i].TaskID < matched[j].TaskID
	})

	if offset >= len(matched) {
		return nil
	}
	matched = matched[offset:]
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched
}

// TrackedTaskIDs returns the ids of tasks this control plane started on the
// given remote that are not yet known to have finished. Placeholder ids the
// remote never assigned are excluded, there is nothing to poll them under.
func (c *Cache) TrackedTaskIDs(remote string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var ids []string
	for key, e := range c.entries {
		if key.remote != remote || !e.tracked || e.record.Finished() {
			continue
		}
		if strings.HasPrefix(key.taskID, localTaskIDPrefix) {
			continue
		}
		ids = append(ids, key.taskID)
	}
	sort.Strings(ids)
	return ids
}

// Get returns the cached record for (remote, taskID), if any.
func (c *Cache) Get(remote, taskID string) (models.TaskRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[taskKey{remote: remote, taskID: taskID}]
	if !ok {
		return models.TaskRecord{}, false
	}
	return e.record, true
}

// Len returns the number of cached task records.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// DropRemote removes every record of remote, e.g. after it was removed from
// the configuration.
func (c *Cache) DropRemote(remote string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	dropped := 0
	for key := range c.entries {
		if key.remote == remote {
			delete(c.entries, key)
			dropped++
		}
	}
	if dropped > 0 {
		c.logger.Infof("Dropped %d task records for removed remote %s", dropped, remote)
	}
	return dropped
}
