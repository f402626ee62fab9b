// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package queue implements the FIFO admission queue and worker loop
//: the single background goroutine that
// dequeues waiting jobs, allocates a device, launches the external
// process, reaps completions, and persists every transition.
package queue

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/boltzgen/queued/internal/device"
	"github.com/boltzgen/queued/internal/store"
	"github.com/boltzgen/queued/internal/supervisor"
	"github.com/boltzgen/queued/pkg/logging"
	"github.com/boltzgen/queued/pkg/metrics"
)

const (
	// evictionTickInterval is how often (in worker-loop ticks) the
	// periodic eviction sweep runs.
	evictionTickInterval = 60

	sleepPendingNonEmpty = 500 * time.Millisecond
	sleepRunningOnly     = 2 * time.Second
	sleepIdle            = 5 * time.Second
	sleepAfterLoopPanic  = 5 * time.Second
	housekeepingSchedule = "@every 5m"
	jobIDLength          = 8
)

// runningEntry pairs an in-flight job's record with its supervised
// process.
type runningEntry struct {
	record *store.Record
	proc   *supervisor.Process
}

// Queue is the FIFO admission queue plus worker loop. It owns the
// device pool, delegates persistence to a Store and process
// management to a Supervisor.
type Queue struct {
	mu      sync.Mutex
	pending []string
	running map[string]*runningEntry
	records map[string]*store.Record

	pool       *device.Pool
	maxWorkers int

	store *store.Store
	sup   *supervisor.Supervisor

	metrics     metrics.Collector
	log         logging.Logger
	evictionAge time.Duration

	tick int

	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once

	housekeeping *cron.Cron
}

// Options configures a new Queue.
type Options struct {
	MaxWorkers  int
	DeviceIDs   []string
	Store       *store.Store
	Supervisor  *supervisor.Supervisor
	Metrics     metrics.Collector
	Log         logging.Logger
	EvictionAge time.Duration
}

// New constructs a Queue, performing crash recovery from the store's
// persisted queue state if one exists.
func New(opts Options) (*Queue, error) {
	if opts.Metrics == nil {
		opts.Metrics = metrics.NoOpCollector{}
	}
	if opts.Log == nil {
		opts.Log = logging.NewLogger(nil)
	}
	if opts.EvictionAge == 0 {
		opts.EvictionAge = 24 * time.Hour
	}

	q := &Queue{
		running:     make(map[string]*runningEntry),
		records:     make(map[string]*store.Record),
		store:       opts.Store,
		sup:         opts.Supervisor,
		metrics:     opts.Metrics,
		log:         opts.Log,
		evictionAge: opts.EvictionAge,
	}

	maxWorkers := opts.MaxWorkers
	deviceIDs := opts.DeviceIDs

	state, err := opts.Store.LoadQueueState()
	if err != nil {
		return nil, err
	}
	if state != nil {
		maxWorkers = state.MaxWorkers
		deviceIDs = state.GPUIDs
	}

	q.pool = device.New(deviceIDs, opts.Log)
	q.maxWorkers = clamp(maxWorkers, q.pool.Total())
	if maxWorkers > q.pool.Total() {
		opts.Log.Warn("max_workers exceeds device count, clamping",
			"configured", maxWorkers, "devices", q.pool.Total())
	}

	if state != nil {
		if err := q.recover(state); err != nil {
			return nil, err
		}
	}

	return q, nil
}

// recover re-populates the in-memory pending/running view from the
// persisted queue state: queued jobs are
// re-inserted into pending in order; running jobs did not survive the
// restart, so each is rewritten failed with the restart-marker error.
// No device is held for them — the pool starts empty of holdings.
func (q *Queue) recover(state *store.QueueState) error {
	for _, jobID := range state.PendingJobs {
		rec, err := q.store.LoadRecord(jobID)
		if err != nil {
			return err
		}
		if rec == nil || rec.Status != store.StatusQueued {
			continue
		}
		q.records[jobID] = rec
		q.pending = append(q.pending, jobID)
	}

	for jobID := range state.RunningJobs {
		rec, err := q.store.LoadRecord(jobID)
		if err != nil {
			return err
		}
		if rec == nil {
			continue
		}
		now := time.Now()
		rec.Status = store.StatusFailed
		rec.Error = "Server restarted while job was running"
		rec.CompletedAt = &now
		rec.DeviceID = ""
		if err := q.store.SaveRecord(rec); err != nil {
			q.log.Error("failed to persist recovered job", "job_id", jobID, "error", err)
		}
		q.records[jobID] = rec
		q.metrics.IncJobTerminal(string(rec.Status))
	}

	return nil
}

func clamp(v, max int) int {
	if v > max {
		return max
	}
	return v
}

// Start launches the background worker loop. It may be called again
// after a matching Stop — Reconfigure does exactly that, stopping the
// current loop and starting a fresh one — but never while a loop
// started by a prior Start is still running.
func (q *Queue) Start() {
	q.stopCh = make(chan struct{})
	q.doneCh = make(chan struct{})
	q.once = sync.Once{}
	q.housekeeping = cron.New()
	q.housekeeping.AddFunc(housekeepingSchedule, q.runHousekeeping)
	q.housekeeping.Start()
	go q.loop()
}

// Stop signals the worker loop and housekeeping cron to exit and
// blocks until the loop goroutine has returned.
func (q *Queue) Stop() {
	q.once.Do(func() {
		close(q.stopCh)
		<-q.doneCh
		if q.housekeeping != nil {
			ctx := q.housekeeping.Stop()
			<-ctx.Done()
		}
	})
}

func (q *Queue) loop() {
	defer close(q.doneCh)
	for {
		select {
		case <-q.stopCh:
			return
		default:
		}

		q.runTickSafely()

		q.mu.Lock()
		q.tick++
		if q.tick%evictionTickInterval == 0 {
			q.evictLocked()
		}
		sleep := q.sleepDurationLocked()
		q.mu.Unlock()

		select {
		case <-q.stopCh:
			return
		case <-time.After(sleep):
		}
	}
}

// runTickSafely recovers from a panic in reap/dispatch so a single bad
// tick never kills the worker loop.
func (q *Queue) runTickSafely() {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("worker loop panic recovered", "panic", r)
			time.Sleep(sleepAfterLoopPanic)
		}
	}()
	q.reap()
	q.dispatch()
}

func (q *Queue) sleepDurationLocked() time.Duration {
	switch {
	case len(q.pending) > 0:
		return sleepPendingNonEmpty
	case len(q.running) > 0:
		return sleepRunningOnly
	default:
		return sleepIdle
	}
}

// reap polls every in-flight process; exited processes are finalized,
// their device released, and the record persisted terminal.
func (q *Queue) reap() {
	q.mu.Lock()
	toCheck := make([]string, 0, len(q.running))
	for jobID := range q.running {
		toCheck = append(toCheck, jobID)
	}
	q.mu.Unlock()

	for _, jobID := range toCheck {
		q.reapOne(jobID)
	}
}

func (q *Queue) reapOne(jobID string) {
	q.mu.Lock()
	entry, ok := q.running[jobID]
	if !ok {
		q.mu.Unlock()
		return
	}
	exited, code, err := entry.proc.Poll()
	if !exited {
		q.mu.Unlock()
		return
	}

	rec := entry.record
	if !rec.Status.Terminal() {
		now := time.Now()
		rec.CompletedAt = &now
		if err != nil {
			rec.Status = store.StatusFailed
			rec.Error = fmt.Sprintf("process wait error: %v", err)
		} else if code == 0 {
			rec.Status = store.StatusCompleted
		} else {
			rec.Status = store.StatusFailed
			rec.Error = fmt.Sprintf("Process exited with code %d", code)
		}
	}
	deviceID := rec.DeviceID
	rec.DeviceID = ""
	delete(q.running, jobID)
	q.metrics.IncJobTerminal(string(rec.Status))
	recSnapshot := rec.Clone()
	stateSnapshot := q.snapshotStateLocked()
	q.mu.Unlock()

	if deviceID != "" {
		q.pool.Release(deviceID)
	}
	q.persist(recSnapshot, stateSnapshot)
	q.log.Info("job reaped", "job_id", jobID, "status", string(recSnapshot.Status), "device_id", deviceID)
}

// dispatch promotes queued jobs to running while capacity and devices
// allow.
func (q *Queue) dispatch() {
	for {
		q.mu.Lock()
		if len(q.running) >= q.maxWorkers || len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}

		jobID := q.pending[0]
		rec, ok := q.records[jobID]
		if !ok || rec == nil {
			q.pending = q.pending[1:]
			q.mu.Unlock()
			continue
		}

		deviceID, acquired := q.pool.Acquire(jobID)
		if !acquired {
			q.mu.Unlock()
			return
		}

		q.pending = q.pending[1:]
		now := time.Now()
		rec.Status = store.StatusRunning
		rec.StartedAt = &now
		rec.DeviceID = deviceID
		q.mu.Unlock()

		logPath := q.store.JobLogPath(jobID)
		proc, err := q.sup.Launch(rec.ScriptPath, rec.Args, deviceID, logPath)
		if err != nil {
			q.pool.Release(deviceID)
			now := time.Now()
			q.mu.Lock()
			alreadyTerminal := rec.Status.Terminal()
			if !alreadyTerminal {
				rec.Status = store.StatusFailed
				rec.Error = err.Error()
				rec.CompletedAt = &now
			}
			rec.DeviceID = ""
			recSnapshot := rec.Clone()
			stateSnapshot := q.snapshotStateLocked()
			q.mu.Unlock()
			if !alreadyTerminal {
				q.metrics.IncJobTerminal(string(rec.Status))
			}
			q.persist(recSnapshot, stateSnapshot)
			q.log.Error("failed to spawn job", "job_id", jobID, "error", err)
			continue
		}

		q.mu.Lock()
		if rec.Status.Terminal() {
			// Cancel landed on this job while Launch was in flight
			// (the critical section above released the lock before
			// this job ever made it into q.running, so Cancel's
			// Terminate() had no process handle to act on). Undo the
			// running transition instead of resurrecting a cancelled
			// job into the running map: terminate the process we just
			// spawned and give the device back.
			rec.DeviceID = ""
			recSnapshot := rec.Clone()
			stateSnapshot := q.snapshotStateLocked()
			q.mu.Unlock()

			if err := proc.Terminate(); err != nil {
				q.log.Warn("failed to terminate process for job cancelled during dispatch", "job_id", jobID, "error", err)
			}
			q.pool.Release(deviceID)
			q.persist(recSnapshot, stateSnapshot)
			q.log.Info("job cancelled during dispatch, terminated just-spawned process", "job_id", jobID, "device_id", deviceID)
			continue
		}

		rec.PID = proc.PID
		q.running[jobID] = &runningEntry{record: rec, proc: proc}
		recSnapshot := rec.Clone()
		stateSnapshot := q.snapshotStateLocked()
		q.mu.Unlock()

		q.persist(recSnapshot, stateSnapshot)
		q.store.WriteJobInfo(store.NewJobInfo(recSnapshot, deviceID))
		q.log.Info("job dispatched", "job_id", jobID, "device_id", deviceID, "pid", proc.PID)
	}
}

// evictLocked drops terminal records older than evictionAge from the
// in-memory map. Must be called with q.mu held.
func (q *Queue) evictLocked() {
	cutoff := time.Now().Add(-q.evictionAge)
	for jobID, rec := range q.records {
		if !rec.Status.Terminal() || rec.CompletedAt == nil {
			continue
		}
		if rec.CompletedAt.Before(cutoff) {
			delete(q.records, jobID)
		}
	}
}

// persist writes a record and the queue-state snapshot outside the
// queue's critical section. Failures are logged; the snapshot
// will be rewritten at the next transition.
func (q *Queue) persist(rec *store.Record, state *store.QueueState) {
	if rec != nil {
		if err := q.store.SaveRecord(rec); err != nil {
			q.log.Error("failed to persist job record", "job_id", rec.JobID, "error", err)
		}
	}
	if err := q.store.SaveQueueState(state); err != nil {
		q.log.Error("failed to persist queue state", "error", err)
	}
}

// snapshotStateLocked builds the Queue State snapshot from current
// in-memory state. Must be called with q.mu held.
func (q *Queue) snapshotStateLocked() *store.QueueState {
	running := make(map[string]string, len(q.running))
	for jobID, entry := range q.running {
		running[jobID] = entry.record.DeviceID
	}
	pending := make([]string, len(q.pending))
	copy(pending, q.pending)

	q.metrics.SetQueueDepth(len(pending))
	q.metrics.SetRunningCount(len(running))
	free := q.pool.AvailableCount()
	q.metrics.SetDevicesFree(free)
	q.metrics.SetDevicesHeld(q.pool.Total() - free)

	return &store.QueueState{
		MaxWorkers:  q.maxWorkers,
		GPUIDs:      q.pool.DeviceIDs(),
		PendingJobs: pending,
		RunningJobs: running,
	}
}

// runHousekeeping is the cron-scheduled job that logs a
// queue-depth/device-utilization snapshot and prunes empty output
// directories left behind by jobs cancelled before dispatch. It is
// orthogonal to the tick-counted in-memory eviction in evictLocked.
func (q *Queue) runHousekeeping() {
	status := q.QueueStatus()
	q.log.Info("housekeeping snapshot",
		"pending", status.PendingCount,
		"running", status.RunningCount,
		"devices_free", status.AvailableDevices,
		"devices_total", status.TotalDevices,
	)

	q.mu.Lock()
	candidates := make([]*store.Record, 0)
	for _, rec := range q.records {
		if rec.Status == store.StatusCancelled && rec.PID == 0 && rec.OutputDir != "" {
			candidates = append(candidates, rec)
		}
	}
	q.mu.Unlock()

	for _, rec := range candidates {
		entries, err := os.ReadDir(rec.OutputDir)
		if err != nil || len(entries) > 0 {
			continue
		}
		if err := os.Remove(rec.OutputDir); err == nil {
			q.log.Info("pruned empty output directory for cancelled job", "job_id", rec.JobID, "output_dir", rec.OutputDir)
		}
	}
}

// newJobID mints a short opaque per-job token.
func newJobID() string {
	return uuid.NewString()[:jobIDLength]
}
