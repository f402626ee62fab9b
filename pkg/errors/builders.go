// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package errors

import "fmt"

// InvalidProtocol reports a protocol string outside the closed set the
// request surface accepts.
func InvalidProtocol(protocol string) *QueueError {
	return New(CodeInvalidProtocol, fmt.Sprintf("unknown protocol %q", protocol))
}

// MissingConfig reports a submit/run call whose config file does not
// exist.
func MissingConfig(path string) *QueueError {
	return New(CodeMissingConfig, fmt.Sprintf("config file not found: %s", path))
}

// InvalidMaxWorkers reports max_workers <= 0 on reconfigure.
func InvalidMaxWorkers(value int) *QueueError {
	return New(CodeInvalidMaxWorkers, fmt.Sprintf("max_workers must be positive, got %d", value))
}

// JobNotFound reports cancel/status of an unknown job id.
func JobNotFound(jobID string) *QueueError {
	return New(CodeJobNotFound, fmt.Sprintf("Job %s not found", jobID))
}

// AlreadyTerminal reports cancel of a job already in a terminal state.
func AlreadyTerminal(jobID string, status string) *QueueError {
	return New(CodeAlreadyTerminal, fmt.Sprintf("Job %s is already %s", jobID, status))
}

// PersistenceFailed wraps a record or queue-state write failure.
func PersistenceFailed(op string, cause error) *QueueError {
	return Wrap(CodePersistenceFailed, fmt.Sprintf("failed to persist %s", op), cause)
}

// SpawnFailed wraps an os/exec start failure (missing executable,
// permission denied).
func SpawnFailed(cause error) *QueueError {
	return Wrap(CodeSpawnFailed, "failed to start process", cause)
}

// BreakerOpen reports that the spawn circuit breaker is open.
func BreakerOpen(cause error) *QueueError {
	return Wrap(CodeBreakerOpen, "process launcher circuit breaker is open", cause)
}

// NonZeroExit reports a terminated child with a non-zero exit code.
func NonZeroExit(code int) *QueueError {
	return New(CodeNonZeroExit, fmt.Sprintf("Process exited with code %d", code))
}

// WorkerLoopError wraps a recovered panic/error from the worker loop
// iteration; the loop logs it and continues.
func WorkerLoopError(cause error) *QueueError {
	return Wrap(CodeWorkerLoopError, "worker loop iteration failed", cause)
}
