// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"encoding/json"
	"os"
	"path/filepath"

	qerrors "github.com/boltzgen/queued/pkg/errors"
	"github.com/boltzgen/queued/pkg/logging"
)

// Store persists Job Records and the Queue State snapshot under a root
// directory, one subdirectory per job. Record files are
// single-writer — only the queue core writes them — so no cross-process
// locking is required. The queue core calls Store methods outside its
// own lock, writing record and queue-state snapshots it took while
// holding that lock.
type Store struct {
	jobsRoot string
	log      logging.Logger
}

// New constructs a Store rooted at jobsRoot, creating it if necessary.
func New(jobsRoot string, log logging.Logger) (*Store, error) {
	if log == nil {
		log = logging.NewLogger(nil)
	}
	if err := os.MkdirAll(jobsRoot, 0o755); err != nil {
		return nil, qerrors.Wrap(qerrors.CodePersistenceFailed, "create jobs root", err)
	}
	return &Store{jobsRoot: jobsRoot, log: log}, nil
}

// JobDir returns <jobs_root>/<job_id>.
func (s *Store) JobDir(jobID string) string {
	return filepath.Join(s.jobsRoot, jobID)
}

// JobLogPath returns <jobs_root>/<job_id>/job.log — the queued entry
// point's merged stdout+stderr destination.
func (s *Store) JobLogPath(jobID string) string {
	return filepath.Join(s.JobDir(jobID), "job.log")
}

func (s *Store) metadataPath(jobID string) string {
	return filepath.Join(s.JobDir(jobID), "metadata.json")
}

func (s *Store) queueStatePath() string {
	return filepath.Join(s.jobsRoot, "queue_state.json")
}

// SaveRecord rewrites a job's metadata.json wholesale via a temp-file
// and atomic rename, so a crash mid-write can never leave a torn file
// behind.
func (s *Store) SaveRecord(r *Record) error {
	dir := s.JobDir(r.JobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return qerrors.Wrap(qerrors.CodePersistenceFailed, "create job directory", err)
	}
	if err := writeJSONAtomic(s.metadataPath(r.JobID), r); err != nil {
		return qerrors.Wrap(qerrors.CodePersistenceFailed, "write job record", err)
	}
	return nil
}

// LoadRecord loads a job's persisted record. A missing file returns
// (nil, nil) — "not found" is a normal outcome here, not an error.
func (s *Store) LoadRecord(jobID string) (*Record, error) {
	data, err := os.ReadFile(s.metadataPath(jobID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, qerrors.Wrap(qerrors.CodePersistenceFailed, "read job record", err)
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, qerrors.Wrap(qerrors.CodePersistenceFailed, "decode job record", err)
	}
	return &r, nil
}

// SaveQueueState rewrites queue_state.json wholesale.
func (s *Store) SaveQueueState(state *QueueState) error {
	if err := writeJSONAtomic(s.queueStatePath(), state); err != nil {
		return qerrors.Wrap(qerrors.CodePersistenceFailed, "write queue state", err)
	}
	return nil
}

// LoadQueueState loads the queue-state snapshot. A missing file returns
// (nil, nil), meaning "no prior state" — the common case on first boot.
func (s *Store) LoadQueueState() (*QueueState, error) {
	data, err := os.ReadFile(s.queueStatePath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, qerrors.Wrap(qerrors.CodePersistenceFailed, "read queue state", err)
	}
	var st QueueState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, qerrors.Wrap(qerrors.CodePersistenceFailed, "decode queue state", err)
	}
	return &st, nil
}

// WriteJobInfo writes the advisory <output_dir>/job_info.json
// compatibility projection. Failures here are logged, not
// propagated — job_info.json is read only by check_status as a
// best-effort fallback, never by the queue itself.
func (s *Store) WriteJobInfo(info *JobInfo) {
	if info.OutputDir == "" {
		return
	}
	if err := os.MkdirAll(info.OutputDir, 0o755); err != nil {
		s.log.Warn("failed to create output dir for job_info.json", "output_dir", info.OutputDir, "error", err)
		return
	}
	path := filepath.Join(info.OutputDir, "job_info.json")
	if err := writeJSONAtomic(path, info); err != nil {
		s.log.Warn("failed to write job_info.json", "path", path, "error", err)
	}
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
