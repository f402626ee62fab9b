// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package store implements the durable job-id -> job-record mapping and
// the queue-state snapshot. One record file
// lives per job plus a single queue-state snapshot file, both rewritten
// wholesale on every transition via temp-file-then-rename so a crash
// mid-write never leaves a torn file behind.
package store

import "time"

// Status is the closed set of states a job record can be in.
// Transitions are monotone: queued -> running -> exactly one terminal
// state. Modeling it as a distinct type (rather than a bare string)
// lets callers exhaustively switch on it instead of string-matching.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is one of the three terminal states.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Record is the persisted Job Record. Field names and JSON
// tags are load-bearing: metadata.json on disk must match them verbatim
// for compatibility with prior deployments of the Python server this
// was rebuilt from.
type Record struct {
	JobID       string     `json:"job_id"`
	SubmittedAt time.Time  `json:"submitted_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Status      Status     `json:"status"`
	ScriptPath  string     `json:"script_path"`
	Args        Args       `json:"args"`
	OutputDir   string     `json:"output_dir"`
	DeviceID    string     `json:"device_id,omitempty"`
	PID         int        `json:"pid,omitempty"`
	Error       string     `json:"error,omitempty"`
	JobName     string     `json:"job_name,omitempty"`
}

// NewRecord constructs a freshly-submitted record in state queued. An
// empty jobName defaults to "job_<job_id>".
func NewRecord(jobID, scriptPath, outputDir string, args Args, jobName string) *Record {
	if jobName == "" {
		jobName = "job_" + jobID
	}
	if args == nil {
		args = Args{}
	}
	return &Record{
		JobID:       jobID,
		SubmittedAt: time.Now(),
		Status:      StatusQueued,
		ScriptPath:  scriptPath,
		Args:        args,
		OutputDir:   outputDir,
		JobName:     jobName,
	}
}

// Clone returns a deep-enough copy of r so callers holding a pointer
// into the queue core's in-memory map can't mutate it out from under
// the lock.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.StartedAt != nil {
		t := *r.StartedAt
		c.StartedAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	c.Args = make(Args, len(r.Args))
	copy(c.Args, r.Args)
	return &c
}

// QueueState is the single-file snapshot of queue-wide state. Field names are kept for on-disk compatibility: gpu_ids maps to
// device_ids, pending_jobs to pending, running_jobs to
// running.
type QueueState struct {
	MaxWorkers  int               `json:"max_workers"`
	GPUIDs      []string          `json:"gpu_ids"`
	PendingJobs []string          `json:"pending_jobs"`
	RunningJobs map[string]string `json:"running_jobs"`
}

// JobInfo is the compatibility projection written to
// <output_dir>/job_info.json — an advisory file read by
// check_status, not by the queue itself.
type JobInfo struct {
	JobID       string     `json:"job_id"`
	Config      string     `json:"config"`
	OutputDir   string     `json:"output_dir"`
	Protocol    string     `json:"protocol"`
	NumDesigns  int        `json:"num_designs"`
	Budget      int        `json:"budget"`
	CUDADevice  string     `json:"cuda_device,omitempty"`
	SubmittedAt time.Time  `json:"submitted_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	PID         int        `json:"pid,omitempty"`
}

// NewJobInfo builds the job_info.json projection for r, pulling
// config/protocol/num_designs/budget back out of its stored Args
// (the request surface's own submit arguments, in the same order
// supervisor.BuildArgv would consume them for argv construction).
func NewJobInfo(r *Record, deviceID string) *JobInfo {
	info := &JobInfo{
		JobID:       r.JobID,
		OutputDir:   r.OutputDir,
		CUDADevice:  deviceID,
		SubmittedAt: r.SubmittedAt,
		StartedAt:   r.StartedAt,
		PID:         r.PID,
	}
	if v, ok := r.Args.Get("config"); ok {
		info.Config, _ = v.(string)
	}
	if v, ok := r.Args.Get("protocol"); ok {
		info.Protocol, _ = v.(string)
	}
	if v, ok := r.Args.Get("num_designs"); ok {
		info.NumDesigns = intOf(v)
	}
	if v, ok := r.Args.Get("budget"); ok {
		info.Budget = intOf(v)
	}
	return info
}

// intOf coerces an Args value (int64 or float64, per Arg's documented
// runtime shape) into an int, defaulting to zero for anything else.
func intOf(v any) int {
	switch t := v.(type) {
	case int64:
		return int(t)
	case int:
		return t
	case float64:
		return int(t)
	default:
		return 0
	}
}
