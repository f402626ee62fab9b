// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package watch_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boltzgen/queued/pkg/watch"
)

type mockJobLister struct {
	mu   sync.RWMutex
	jobs []watch.JobSnapshot
	err  error
}

func (m *mockJobLister) List(ctx context.Context) ([]watch.JobSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	jobs := make([]watch.JobSnapshot, len(m.jobs))
	copy(jobs, m.jobs)
	return jobs, nil
}

func (m *mockJobLister) setJobs(jobs []watch.JobSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = jobs
}

func TestJobPollerDetectsStateChangesAndNewJobs(t *testing.T) {
	lister := &mockJobLister{
		jobs: []watch.JobSnapshot{
			{ID: "1", Status: "running"},
			{ID: "2", Status: "queued"},
		},
	}

	poller := watch.NewJobPoller(lister.List).WithPollInterval(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := poller.Watch(ctx, nil)
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)

	lister.setJobs([]watch.JobSnapshot{
		{ID: "1", Status: "completed"},
		{ID: "2", Status: "running"},
		{ID: "3", Status: "queued"},
	})

	var stateChanges, newJobs, terminal int
	timeout := time.After(500 * time.Millisecond)
collect:
	for {
		select {
		case event, ok := <-events:
			if !ok {
				break collect
			}
			switch event.EventType {
			case "job_state_change":
				stateChanges++
			case "job_new":
				newJobs++
			case "job_terminal":
				terminal++
			}
			if stateChanges+newJobs+terminal >= 3 {
				break collect
			}
		case <-timeout:
			break collect
		}
	}

	assert.Equal(t, 1, newJobs)
	assert.Equal(t, 1, stateChanges)
	assert.Equal(t, 1, terminal)
}

func TestJobPollerFiltersByJobID(t *testing.T) {
	lister := &mockJobLister{
		jobs: []watch.JobSnapshot{
			{ID: "1", Status: "running"},
			{ID: "2", Status: "running"},
		},
	}

	poller := watch.NewJobPoller(lister.List).WithPollInterval(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := poller.Watch(ctx, &watch.WatchOptions{JobIDs: []string{"1"}})
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	lister.setJobs([]watch.JobSnapshot{
		{ID: "1", Status: "completed"},
		{ID: "2", Status: "completed"},
	})

	select {
	case event := <-events:
		assert.Equal(t, "1", event.JobID)
	case <-time.After(300 * time.Millisecond):
		t.Fatal("expected an event for job 1")
	}
}

func TestJobPollerSendsEvictionOnDisappearance(t *testing.T) {
	lister := &mockJobLister{
		jobs: []watch.JobSnapshot{{ID: "1", Status: "completed"}},
	}

	poller := watch.NewJobPoller(lister.List).WithPollInterval(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := poller.Watch(ctx, nil)
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	lister.setJobs(nil)

	timeout := time.After(300 * time.Millisecond)
	for {
		select {
		case event := <-events:
			if event.EventType == "job_evicted" {
				assert.Equal(t, "1", event.JobID)
				return
			}
		case <-timeout:
			t.Fatal("expected a job_evicted event")
		}
	}
}

func TestJobPollerEmitsErrorEvent(t *testing.T) {
	lister := &mockJobLister{err: errors.New("store unavailable")}
	poller := watch.NewJobPoller(lister.List).WithPollInterval(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := poller.Watch(ctx, nil)
	require.NoError(t, err)

	select {
	case event := <-events:
		assert.Equal(t, "error", event.EventType)
		assert.ErrorContains(t, event.Err, "store unavailable")
	case <-time.After(300 * time.Millisecond):
		t.Fatal("expected an error event")
	}
}

func TestJobPollerClosesChannelOnCancel(t *testing.T) {
	lister := &mockJobLister{jobs: []watch.JobSnapshot{{ID: "1", Status: "running"}}}
	poller := watch.NewJobPoller(lister.List).WithPollInterval(1 * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	events, err := poller.Watch(ctx, nil)
	require.NoError(t, err)

	cancel()

	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(200 * time.Millisecond):
		t.Fatal("channel did not close after cancellation")
	}
}
