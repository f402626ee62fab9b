// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"fmt"
	"sort"
	"time"

	"github.com/boltzgen/queued/internal/device"
	"github.com/boltzgen/queued/internal/store"
	qerrors "github.com/boltzgen/queued/pkg/errors"
	"github.com/boltzgen/queued/pkg/watch"
)

// NoPosition is the queue-position value reported for a job with
// no position: it is absent because the job is terminal or unknown.
const NoPosition = -1

// RunningPosition is the queue-position value reported for a
// running job: 0.
const RunningPosition = 0

// SubmitResult is returned by Submit.
type SubmitResult struct {
	JobID       string
	Position    int
	QueueLength int
	Record      *store.Record
}

// Submit creates a job record in state queued, persists it, and
// appends its id to the pending FIFO. Position is the
// 1-indexed rank among currently-queued jobs at the moment of this
// call — a snapshot, not a live handle.
func (q *Queue) Submit(scriptPath string, args store.Args, outputDir, jobName string) (*SubmitResult, error) {
	jobID := newJobID()
	rec := store.NewRecord(jobID, scriptPath, outputDir, args, jobName)

	if err := q.store.SaveRecord(rec); err != nil {
		return nil, err
	}

	q.mu.Lock()
	q.records[jobID] = rec
	q.pending = append(q.pending, jobID)
	position := len(q.pending)
	queueLength := len(q.pending)
	state := q.snapshotStateLocked()
	q.mu.Unlock()

	if err := q.store.SaveQueueState(state); err != nil {
		// Roll back the in-memory mutation: every pending/running
		// job-id must have a persisted record, and a job that failed
		// to make it into the persisted queue state should not be
		// treated as admitted.
		q.mu.Lock()
		q.removePendingLocked(jobID)
		delete(q.records, jobID)
		q.mu.Unlock()
		return nil, err
	}

	q.log.Info("job submitted", "job_id", jobID, "position", position)
	return &SubmitResult{JobID: jobID, Position: position, QueueLength: queueLength, Record: rec.Clone()}, nil
}

func (q *Queue) removePendingLocked(jobID string) {
	for i, id := range q.pending {
		if id == jobID {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return
		}
	}
}

// JobStatusResult is returned by JobStatus.
type JobStatusResult struct {
	Record   *store.Record
	Position int
}

// JobStatus returns a job's record plus its derived queue position
//. It consults in-memory state first and falls back to an
// on-disk load for records evicted from memory or from a prior
// process lifetime.
func (q *Queue) JobStatus(jobID string) (*JobStatusResult, error) {
	q.mu.Lock()
	rec, inMemory := q.records[jobID]
	var position int
	if inMemory {
		position = q.positionLocked(jobID, rec)
		recCopy := rec.Clone()
		q.mu.Unlock()
		return &JobStatusResult{Record: recCopy, Position: position}, nil
	}
	q.mu.Unlock()

	rec, err := q.store.LoadRecord(jobID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	return &JobStatusResult{Record: rec, Position: NoPosition}, nil
}

// positionLocked computes a job's position given its record. Must be
// called with q.mu held.
func (q *Queue) positionLocked(jobID string, rec *store.Record) int {
	switch rec.Status {
	case store.StatusRunning:
		return RunningPosition
	case store.StatusQueued:
		for i, id := range q.pending {
			if id == jobID {
				return i + 1
			}
		}
		return NoPosition
	default:
		return NoPosition
	}
}

// QueueStatusResult is returned by QueueStatus.
type QueueStatusResult struct {
	PendingCount     int
	RunningCount     int
	MaxWorkers       int
	PendingPreview   []string          // first 10, FIFO order
	RunningJobs      map[string]string // job id -> device id
	AvailableDevices int
	TotalDevices     int
	DeviceAssignments map[string]string
}

// QueueStatus returns a point-in-time view of the queue.
func (q *Queue) QueueStatus() *QueueStatusResult {
	q.mu.Lock()
	defer q.mu.Unlock()

	preview := q.pending
	if len(preview) > 10 {
		preview = preview[:10]
	}
	previewCopy := make([]string, len(preview))
	copy(previewCopy, preview)

	running := make(map[string]string, len(q.running))
	for jobID, entry := range q.running {
		running[jobID] = entry.record.DeviceID
	}

	return &QueueStatusResult{
		PendingCount:      len(q.pending),
		RunningCount:      len(q.running),
		MaxWorkers:        q.maxWorkers,
		PendingPreview:    previewCopy,
		RunningJobs:       running,
		AvailableDevices:  q.pool.AvailableCount(),
		TotalDevices:      q.pool.Total(),
		DeviceAssignments: q.pool.HeldMap(),
	}
}

// ResourceStatusResult is returned by ResourceStatus.
type ResourceStatusResult struct {
	IsIdle          bool
	AllDevicesFree  bool
	JobsInMemory    int
	QueuedJobs      int
	RunningJobs     int
	DevicesInUse    int
	DevicesAvailable int
	TotalDevices    int
}

// ResourceStatus reports coarse occupancy. is_idle is
// true iff both pending and running are empty.
func (q *Queue) ResourceStatus() *ResourceStatusResult {
	q.mu.Lock()
	pending := len(q.pending)
	running := len(q.running)
	inMemory := len(q.records)
	q.mu.Unlock()

	held := q.pool.HeldMap()

	return &ResourceStatusResult{
		IsIdle:           pending == 0 && running == 0,
		AllDevicesFree:   q.pool.AllDevicesFree(),
		JobsInMemory:     inMemory,
		QueuedJobs:       pending,
		RunningJobs:      running,
		DevicesInUse:     len(held),
		DevicesAvailable: q.pool.AvailableCount(),
		TotalDevices:     q.pool.Total(),
	}
}

// Cancel terminates a job. A queued job is removed
// from pending immediately; a running job's process is sent a
// termination signal and its device is released on the worker loop's
// next reap tick. In both cases the record flips to cancelled
// synchronously, before this call returns.
func (q *Queue) Cancel(jobID string) error {
	q.mu.Lock()
	rec, ok := q.records[jobID]
	if !ok {
		q.mu.Unlock()
		return qerrors.New(qerrors.CodeJobNotFound, fmt.Sprintf("Job %s not found", jobID))
	}
	if rec.Status.Terminal() {
		status := rec.Status
		q.mu.Unlock()
		return qerrors.New(qerrors.CodeAlreadyTerminal, fmt.Sprintf("Job %s is already %s", jobID, status))
	}

	now := time.Now()
	wasRunning := rec.Status == store.StatusRunning
	rec.Status = store.StatusCancelled
	rec.CompletedAt = &now

	if !wasRunning {
		q.removePendingLocked(jobID)
	}

	recSnapshot := rec.Clone()
	stateSnapshot := q.snapshotStateLocked()
	var entry *runningEntry
	if wasRunning {
		entry = q.running[jobID]
	}
	q.mu.Unlock()

	if wasRunning && entry != nil {
		if err := entry.proc.Terminate(); err != nil {
			q.log.Warn("failed to terminate process for cancelled job", "job_id", jobID, "error", err)
		}
	}

	q.persist(recSnapshot, stateSnapshot)
	q.metrics.IncJobTerminal(string(store.StatusCancelled))
	q.log.Info("job cancelled", "job_id", jobID, "was_running", wasRunning)
	return nil
}

// Reconfigure stops the worker loop, replaces the device pool and/or
// concurrency cap, and restarts. Running jobs are not
// interrupted; devices they currently hold are preserved if still
// present in the new pool.
func (q *Queue) Reconfigure(maxWorkers *int, deviceIDs []string) error {
	q.Stop()

	q.mu.Lock()
	newMax := q.maxWorkers
	if maxWorkers != nil {
		newMax = *maxWorkers
	}
	newDeviceIDs := q.pool.DeviceIDs()
	if deviceIDs != nil {
		newDeviceIDs = deviceIDs
	}

	held := q.pool.HeldMap() // device id -> job id, for currently running jobs
	newPool := device.New(newDeviceIDs, q.log)
	validIDs := make(map[string]bool, len(newDeviceIDs))
	for _, id := range newDeviceIDs {
		validIDs[id] = true
	}
	for deviceID, jobID := range held {
		if validIDs[deviceID] {
			newPool.MarkHeld(deviceID, jobID)
		}
	}
	q.pool = newPool
	q.maxWorkers = clamp(newMax, q.pool.Total())
	state := q.snapshotStateLocked()
	q.mu.Unlock()

	if err := q.store.SaveQueueState(state); err != nil {
		return err
	}

	q.Start()
	q.log.Info("queue reconfigured", "max_workers", q.maxWorkers, "device_ids", newDeviceIDs)
	return nil
}

// MaxWorkers returns the current concurrency cap.
func (q *Queue) MaxWorkers() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.maxWorkers
}

// DeviceIDs returns the current device pool's ids.
func (q *Queue) DeviceIDs() []string {
	return q.pool.DeviceIDs()
}

// JobLogPath returns the on-disk path of a queued job's combined
// stdout/stderr log, for callers that want to tail it directly (the
// SSE handler).
func (q *Queue) JobLogPath(jobID string) string {
	return q.store.JobLogPath(jobID)
}

// ListJobSnapshots returns a snapshot of every in-memory job, used by
// pkg/watch.JobPoller to detect state transitions for the WebSocket
// queue-status feed.
func (q *Queue) ListJobSnapshots() []watch.JobSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]watch.JobSnapshot, 0, len(q.records))
	ids := make([]string, 0, len(q.records))
	for id := range q.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		rec := q.records[id]
		out = append(out, watch.JobSnapshot{ID: id, Status: string(rec.Status), Raw: rec.Clone()})
	}
	return out
}
