// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package server implements the request surface: the JSON RPC
// operations clients call to submit, inspect, and control jobs. Every
// handler takes and returns a plain JSON object.
package server

import "time"

// Protocol is the closed set of design protocols this surface allows.
type Protocol string

const (
	ProtocolProteinAnything        Protocol = "protein-anything"
	ProtocolPeptideAnything        Protocol = "peptide-anything"
	ProtocolProteinSmallMolecule   Protocol = "protein-small_molecule"
	ProtocolNanobodyAnything       Protocol = "nanobody-anything"
	ProtocolAntibodyAnything       Protocol = "antibody-anything"
)

var validProtocols = map[Protocol]bool{
	ProtocolProteinAnything:      true,
	ProtocolPeptideAnything:      true,
	ProtocolProteinSmallMolecule: true,
	ProtocolNanobodyAnything:     true,
	ProtocolAntibodyAnything:     true,
}

// IsValidProtocol reports whether p is one of the protocols this
// surface defines.
func IsValidProtocol(p string) bool {
	return validProtocols[Protocol(p)]
}

// SubmitRequest is the JSON body of POST /submit.
type SubmitRequest struct {
	Config     string `json:"config"`
	Output     string `json:"output"`
	Protocol   string `json:"protocol"`
	NumDesigns int    `json:"num_designs"`
	Budget     int    `json:"budget"`
	JobName    string `json:"job_name,omitempty"`
}

// SubmitResponse is the success response of POST /submit.
type SubmitResponse struct {
	Status       string `json:"status"`
	JobID        string `json:"job_id"`
	QueuePosition int   `json:"queue_position"`
	QueueLength  int    `json:"queue_length"`
	OutputDir    string `json:"output_dir"`
	Config       string `json:"config"`
	Protocol     string `json:"protocol"`
	NumDesigns   int    `json:"num_designs"`
	Budget       int    `json:"budget"`
}

// RunRequest is the JSON body of POST /run.
type RunRequest struct {
	Config     string `json:"config"`
	Output     string `json:"output"`
	Protocol   string `json:"protocol"`
	NumDesigns int    `json:"num_designs"`
	Budget     int    `json:"budget"`
	CUDADevice string `json:"cuda_device,omitempty"`
}

// Statistics is the artefact-count summary embedded in several
// responses.
type Statistics struct {
	TotalDesigns int      `json:"total_designs"`
	PDBFiles     []string `json:"pdb_files,omitempty"`
}

// RunResponse is the response of POST /run.
type RunResponse struct {
	Status         string     `json:"status"`
	OutputDir      string     `json:"output_dir"`
	Statistics     Statistics `json:"statistics"`
	ReturnCode     int        `json:"return_code"`
	StdoutPreview  string     `json:"stdout_preview"`
	StderrPreview  string     `json:"stderr_preview"`
}

// CheckStatusResponse is the response of GET /check_status.
type CheckStatusResponse struct {
	Status     string         `json:"status"`
	JobStatus  string         `json:"job_status"`
	OutputDir  string         `json:"output_dir"`
	Statistics Statistics     `json:"statistics"`
	JobInfo    map[string]any `json:"job_info,omitempty"`
	LogFile    string         `json:"log_file,omitempty"`
	Summary    string         `json:"summary,omitempty"`
}

// JobStatusResponse is the response of GET /job_status.
type JobStatusResponse struct {
	Status        string     `json:"status"`
	JobID         string     `json:"job_id"`
	JobStatusVal  string     `json:"job_status"`
	QueuePosition *int       `json:"queue_position"`
	OutputDir     string     `json:"output_dir"`
	DeviceID      string     `json:"device_id,omitempty"`
	SubmittedAt   time.Time  `json:"submitted_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// RunningJobView describes one running job in queue_status.
type RunningJobView struct {
	JobID    string `json:"job_id"`
	DeviceID string `json:"device_id"`
}

// QueueStatusResponse is the response of GET /queue_status.
type QueueStatusResponse struct {
	QueueLength      int               `json:"queue_length"`
	RunningCount     int               `json:"running_count"`
	MaxWorkers       int               `json:"max_workers"`
	RunningJobs      []RunningJobView  `json:"running_jobs"`
	QueuedJobs       []string          `json:"queued_jobs"`
	AvailableDevices int               `json:"available_devices"`
	TotalDevices     int               `json:"total_devices"`
	DeviceAssignments map[string]string `json:"device_assignments"`
}

// CancelRequest is the JSON body of POST /cancel.
type CancelRequest struct {
	JobID string `json:"job_id"`
}

// StatusMessageResponse is the shared {status, message} shape several
// operations use.
type StatusMessageResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ConfigureQueueRequest is the JSON body of POST /configure_queue.
type ConfigureQueueRequest struct {
	MaxWorkers *int   `json:"max_workers,omitempty"`
	DeviceIDs  string `json:"device_ids,omitempty"`
}

// ConfigureQueueResponse is the response of POST /configure_queue.
type ConfigureQueueResponse struct {
	Status     string   `json:"status"`
	MaxWorkers int      `json:"max_workers"`
	DeviceIDs  []string `json:"device_ids"`
	Message    string   `json:"message,omitempty"`
}

// ResourceUsage is embedded in ResourceStatusResponse.
type ResourceUsage struct {
	JobsInMemory     int `json:"jobs_in_memory"`
	QueuedJobs       int `json:"queued_jobs"`
	RunningJobs      int `json:"running_jobs"`
	DevicesInUse     int `json:"devices_in_use"`
	DevicesAvailable int `json:"devices_available"`
	TotalDevices     int `json:"total_devices"`
}

// ResourceStatusResponse is the response of GET /resource_status.
type ResourceStatusResponse struct {
	IsIdle         bool          `json:"is_idle"`
	AllDevicesFree bool          `json:"all_devices_free"`
	ResourceUsage  ResourceUsage `json:"resource_usage"`
	Message        string        `json:"message,omitempty"`
}

// ErrorResponse is the envelope every operation uses on failure: every
// user-visible failure carries a human-readable error_message and
// error field.
type ErrorResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
	Error        string `json:"error,omitempty"`
}
