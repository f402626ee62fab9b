// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/boltzgen/queued/internal/inspector"
	"github.com/boltzgen/queued/internal/queue"
	"github.com/boltzgen/queued/internal/store"
	"github.com/boltzgen/queued/internal/syncrun"
	qerrors "github.com/boltzgen/queued/pkg/errors"
)

// designScriptName is the external design binary's entry point,
// resolved relative to the server's configured scripts directory.
const designScriptName = "boltzgen_design.py"

func (s *Server) designScriptPath() string {
	return filepath.Join(s.cfg.ScriptsDir, designScriptName)
}

// buildDesignArgs constructs the ordered argument list passed to the
// design binary: config, output, protocol, num_designs, budget, then an
// optional cuda_device.
func buildDesignArgs(config, output, protocol string, numDesigns, budget int, cudaDevice string) store.Args {
	pairs := []any{
		"config", config,
		"output", output,
		"protocol", protocol,
		"num_designs", int64(numDesigns),
		"budget", int64(budget),
	}
	if cudaDevice != "" {
		pairs = append(pairs, "cuda_device", cudaDevice)
	}
	return store.NewArgs(pairs...)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := validateSubmission(req.Config, req.Protocol); err != nil {
		writeError(w, err)
		return
	}

	args := buildDesignArgs(req.Config, req.Output, req.Protocol, req.NumDesigns, req.Budget, "")
	result, err := s.queue.Submit(s.designScriptPath(), args, req.Output, req.JobName)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, SubmitResponse{
		Status:        "queued",
		JobID:         result.JobID,
		QueuePosition: result.Position,
		QueueLength:   result.QueueLength,
		OutputDir:     req.Output,
		Config:        req.Config,
		Protocol:      req.Protocol,
		NumDesigns:    req.NumDesigns,
		Budget:        req.Budget,
	})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := validateSubmission(req.Config, req.Protocol); err != nil {
		writeError(w, err)
		return
	}

	args := buildDesignArgs(req.Config, req.Output, req.Protocol, req.NumDesigns, req.Budget, req.CUDADevice)

	result, err := syncrun.Run(r.Context(), syncrun.Options{
		ScriptsDir: s.cfg.ScriptsDir,
		ScriptPath: s.designScriptPath(),
		Args:       args,
		OutputDir:  req.Output,
		CUDADevice: req.CUDADevice,
	})
	if err != nil {
		writeError(w, qerrors.Wrap(qerrors.CodeSpawnFailed, "failed to run design process", err))
		return
	}

	status := "success"
	if result.ReturnCode != 0 {
		status = "error"
	}

	writeJSON(w, http.StatusOK, RunResponse{
		Status:        status,
		OutputDir:     req.Output,
		Statistics:    statisticsOf(result.Artifacts),
		ReturnCode:    result.ReturnCode,
		StdoutPreview: result.StdoutTail,
		StderrPreview: result.StderrTail,
	})
}

func (s *Server) handleCheckStatus(w http.ResponseWriter, r *http.Request) {
	outputDir := r.URL.Query().Get("output_dir")
	if outputDir == "" {
		writeError(w, qerrors.New(qerrors.CodeValidationFailed, "output_dir is required"))
		return
	}

	result := inspector.Inspect(outputDir)
	resp := CheckStatusResponse{
		Status:     "success",
		JobStatus:  string(result.Status),
		OutputDir:  outputDir,
		Statistics: statisticsOf(result.Artifacts),
	}
	if result.LogExists {
		resp.LogFile = result.LogPath
	}

	if info, err := loadJobInfo(outputDir); err == nil && info != nil {
		resp.JobInfo = info
	}

	if result.Status == inspector.StatusCompleted || result.Status == inspector.StatusFailed {
		resp.Summary = summarize(result)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("job_id")
	if jobID == "" {
		writeError(w, qerrors.New(qerrors.CodeValidationFailed, "job_id is required"))
		return
	}

	result, err := s.queue.JobStatus(jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	if result == nil {
		writeError(w, qerrors.New(qerrors.CodeJobNotFound, "Job "+jobID+" not found"))
		return
	}

	rec := result.Record
	resp := JobStatusResponse{
		Status:       "success",
		JobID:        rec.JobID,
		JobStatusVal: string(rec.Status),
		OutputDir:    rec.OutputDir,
		DeviceID:     rec.DeviceID,
		SubmittedAt:  rec.SubmittedAt,
		StartedAt:    rec.StartedAt,
		CompletedAt:  rec.CompletedAt,
		Error:        rec.Error,
	}
	if result.Position != queue.NoPosition {
		p := result.Position
		resp.QueuePosition = &p
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	status := s.queue.QueueStatus()

	running := make([]RunningJobView, 0, len(status.RunningJobs))
	for jobID, deviceID := range status.RunningJobs {
		running = append(running, RunningJobView{JobID: jobID, DeviceID: deviceID})
	}
	sort.Slice(running, func(i, j int) bool { return running[i].JobID < running[j].JobID })

	writeJSON(w, http.StatusOK, QueueStatusResponse{
		QueueLength:       status.PendingCount,
		RunningCount:      status.RunningCount,
		MaxWorkers:        status.MaxWorkers,
		RunningJobs:       running,
		QueuedJobs:        status.PendingPreview,
		AvailableDevices:  status.AvailableDevices,
		TotalDevices:      status.TotalDevices,
		DeviceAssignments: status.DeviceAssignments,
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.JobID == "" {
		writeError(w, qerrors.New(qerrors.CodeValidationFailed, "job_id is required"))
		return
	}

	if err := s.queue.Cancel(req.JobID); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, StatusMessageResponse{
		Status:  "success",
		Message: "Job " + req.JobID + " cancelled",
	})
}

func (s *Server) handleConfigureQueue(w http.ResponseWriter, r *http.Request) {
	var req ConfigureQueueRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.MaxWorkers != nil && *req.MaxWorkers <= 0 {
		writeError(w, qerrors.New(qerrors.CodeInvalidMaxWorkers, "max_workers must be positive"))
		return
	}

	var deviceIDs []string
	if req.DeviceIDs != "" {
		deviceIDs = splitDeviceIDs(req.DeviceIDs)
	}

	if err := s.queue.Reconfigure(req.MaxWorkers, deviceIDs); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ConfigureQueueResponse{
		Status:     "success",
		MaxWorkers: s.queue.MaxWorkers(),
		DeviceIDs:  s.queue.DeviceIDs(),
		Message:    "Queue reconfigured",
	})
}

func (s *Server) handleResourceStatus(w http.ResponseWriter, r *http.Request) {
	status := s.queue.ResourceStatus()

	writeJSON(w, http.StatusOK, ResourceStatusResponse{
		IsIdle:         status.IsIdle,
		AllDevicesFree: status.AllDevicesFree,
		ResourceUsage: ResourceUsage{
			JobsInMemory:     status.JobsInMemory,
			QueuedJobs:       status.QueuedJobs,
			RunningJobs:      status.RunningJobs,
			DevicesInUse:     status.DevicesInUse,
			DevicesAvailable: status.DevicesAvailable,
			TotalDevices:     status.TotalDevices,
		},
	})
}

func validateSubmission(config, protocol string) error {
	if config == "" {
		return qerrors.New(qerrors.CodeMissingConfig, "config is required")
	}
	if _, err := os.Stat(config); err != nil {
		return qerrors.Wrap(qerrors.CodeMissingConfig, "config file not found: "+config, err)
	}
	if !IsValidProtocol(protocol) {
		return qerrors.New(qerrors.CodeInvalidProtocol, "invalid protocol: "+protocol)
	}
	return nil
}

func splitDeviceIDs(raw string) []string {
	parts := strings.Split(raw, ",")
	ids := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			ids = append(ids, p)
		}
	}
	return ids
}

func statisticsOf(a inspector.Artifacts) Statistics {
	return Statistics{TotalDesigns: a.PDBFiles + a.CIFFiles, PDBFiles: a.PDBFilenames}
}

func summarize(r inspector.Result) string {
	return "status=" + string(r.Status) + " pdb=" + itoa(r.Artifacts.PDBFiles) + " cif=" + itoa(r.Artifacts.CIFFiles)
}

func itoa(n int) string {
	return fmtInt(n)
}

func loadJobInfo(outputDir string) (map[string]any, error) {
	data, err := os.ReadFile(filepath.Join(outputDir, "job_info.json"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var info map[string]any
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return info, nil
}
