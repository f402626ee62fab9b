// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package watch provides polling-based change detection for job records.
// The queue core has no push notifications of its own — state lives in an
// in-memory map guarded by a single mutex — so the request surface's
// WebSocket job-state feed learns about state changes by
// diffing successive snapshots on an interval, the same way the original
// job watcher diffed successive SLURM job lists.
package watch

import (
	"context"
	"time"
)

// DefaultPollInterval is the default polling interval for watch operations.
const DefaultPollInterval = 1 * time.Second

// JobSnapshot is the minimal view of a job record a poller needs to detect
// state changes. Raw carries the full record for callers that want to
// forward it verbatim (e.g. over a WebSocket).
type JobSnapshot struct {
	ID     string
	Status string
	Raw    any
}

// ListFunc returns the current set of job snapshots. It is typically a
// thin wrapper around the queue core's ListJobSnapshots method.
type ListFunc func(ctx context.Context) ([]JobSnapshot, error)

// JobEvent describes a detected change between two polls.
type JobEvent struct {
	EventType     string // job_new, job_state_change, job_terminal, job_evicted, error
	JobID         string
	PreviousState string
	NewState      string
	EventTime     time.Time
	Job           *JobSnapshot
	Err           error
}

var terminalStates = map[string]bool{
	"completed": true,
	"failed":    true,
	"cancelled": true,
}

// WatchOptions narrows a watch to a subset of jobs. A nil or zero-value
// WatchOptions watches every job the ListFunc returns.
type WatchOptions struct {
	JobIDs []string
}

// JobPoller detects job state transitions by polling a ListFunc on an
// interval and diffing against the previously observed state. A JobPoller
// is shared across every concurrent watcher (e.g. one per WebSocket
// connection), so the previously-observed-state map must live per Watch
// call, not on the poller itself — otherwise two watchers racing the same
// poller would diff against each other's history instead of their own.
type JobPoller struct {
	listFunc     ListFunc
	pollInterval time.Duration
	bufferSize   int
}

// NewJobPoller creates a poller backed by the given ListFunc.
func NewJobPoller(listFunc ListFunc) *JobPoller {
	return &JobPoller{
		listFunc:     listFunc,
		pollInterval: DefaultPollInterval,
		bufferSize:   64,
	}
}

// WithPollInterval sets a custom poll interval.
func (p *JobPoller) WithPollInterval(interval time.Duration) *JobPoller {
	p.pollInterval = interval
	return p
}

// WithBufferSize sets a custom buffer size for the event channel.
func (p *JobPoller) WithBufferSize(size int) *JobPoller {
	p.bufferSize = size
	return p
}

// Watch starts polling and returns a channel of events. The channel closes
// when ctx is cancelled.
func (p *JobPoller) Watch(ctx context.Context, opts *WatchOptions) (<-chan JobEvent, error) {
	if opts == nil {
		opts = &WatchOptions{}
	}
	eventChan := make(chan JobEvent, p.bufferSize)
	states := make(map[string]string)

	go p.pollLoop(ctx, opts, eventChan, states)

	return eventChan, nil
}

func (p *JobPoller) pollLoop(ctx context.Context, opts *WatchOptions, eventChan chan<- JobEvent, states map[string]string) {
	defer close(eventChan)

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	p.performPoll(ctx, opts, eventChan, states, true)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.performPoll(ctx, opts, eventChan, states, false)
		}
	}
}

func (p *JobPoller) performPoll(ctx context.Context, opts *WatchOptions, eventChan chan<- JobEvent, states map[string]string, isInitial bool) {
	jobs, err := p.listFunc(ctx)
	if err != nil {
		select {
		case eventChan <- JobEvent{EventType: "error", EventTime: time.Now(), Err: err}:
		case <-ctx.Done():
		}
		return
	}

	seen := make(map[string]bool, len(jobs))

	for i := range jobs {
		job := jobs[i]

		if len(opts.JobIDs) > 0 && !containsID(opts.JobIDs, job.ID) {
			continue
		}
		seen[job.ID] = true

		previous, exists := states[job.ID]
		states[job.ID] = job.Status

		switch {
		case !exists:
			if !isInitial {
				jobCopy := job
				eventChan <- JobEvent{
					EventType: "job_new",
					JobID:     job.ID,
					NewState:  job.Status,
					EventTime: time.Now(),
					Job:       &jobCopy,
				}
			}
		case previous != job.Status:
			jobCopy := job
			eventType := "job_state_change"
			if terminalStates[job.Status] {
				eventType = "job_terminal"
			}
			eventChan <- JobEvent{
				EventType:     eventType,
				JobID:         job.ID,
				PreviousState: previous,
				NewState:      job.Status,
				EventTime:     time.Now(),
				Job:           &jobCopy,
			}
		}
	}

	for id, previous := range states {
		if seen[id] {
			continue
		}
		delete(states, id)
		eventChan <- JobEvent{
			EventType:     "job_evicted",
			JobID:         id,
			PreviousState: previous,
			EventTime:     time.Now(),
		}
	}
}

func containsID(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
