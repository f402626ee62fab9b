// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package inspector derives a coarse job status from filesystem
// evidence alone — the merged run log and output artefacts under an
// output directory — without consulting the queue core. It exists for callers that hold only an output path,
// not a job id, and is deliberately advisory: it must never mutate
// queue state.
package inspector

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LogFileName is the merged stdout+stderr log written by the
// synchronous run path.
const LogFileName = "boltzgen_run.log"

// Status is the coarse, advisory status this inspector derives.
type Status string

const (
	StatusNotStarted        Status = "not_started"
	StatusFailed             Status = "failed"
	StatusCompleted          Status = "completed"
	StatusRunning            Status = "running"
	StatusPossiblyRunning    Status = "possibly_running"
	StatusStalledOrCompleted Status = "stalled_or_completed"
)

var completionMarkers = []string{
	"boltzgen completed successfully",
	"design completed",
	"all designs completed",
	"finished",
}

var errorMarkers = []string{
	"error:",
	"exception:",
	"traceback",
	"failed:",
	"fatal",
}

// MaxPDBFilenames bounds how many .pdb filenames CountArtifacts
// collects, matching the §6 statistics.pdb_files[≤20] response cap.
const MaxPDBFilenames = 20

// Artifacts counts output files discovered under an output directory.
type Artifacts struct {
	PDBFiles     int
	CIFFiles     int
	JSONFiles    int
	CSVFiles     int
	TXTFiles     int
	PDBFilenames []string // up to MaxPDBFilenames, relative to outputDir
}

// Total returns the total artefact count across all kinds.
func (a Artifacts) Total() int {
	return a.PDBFiles + a.CIFFiles + a.JSONFiles + a.CSVFiles + a.TXTFiles
}

// Result is the inspector's full report for an output directory.
type Result struct {
	Status    Status
	LogPath   string
	LogExists bool
	Artifacts Artifacts
}

// Inspect derives a Result for outputDir by scanning its run log (if
// present) and counting output artefacts. The whole log is read, not
// only its tail, so a marker anywhere in the file counts.
func Inspect(outputDir string) Result {
	logPath := filepath.Join(outputDir, LogFileName)
	info, err := os.Stat(logPath)
	if err != nil {
		return Result{Status: StatusNotStarted, LogPath: logPath, Artifacts: CountArtifacts(outputDir)}
	}

	status := deriveStatus(logPath, info.ModTime())
	return Result{Status: status, LogPath: logPath, LogExists: true, Artifacts: CountArtifacts(outputDir)}
}

func deriveStatus(logPath string, modTime time.Time) Status {
	data, err := os.ReadFile(logPath)
	if err != nil {
		return StatusNotStarted
	}
	lower := strings.ToLower(string(data))

	for _, marker := range errorMarkers {
		if strings.Contains(lower, marker) {
			return StatusFailed
		}
	}
	for _, marker := range completionMarkers {
		if strings.Contains(lower, marker) {
			return StatusCompleted
		}
	}

	age := time.Since(modTime)
	switch {
	case age < 5*time.Minute:
		return StatusRunning
	case age < time.Hour:
		return StatusPossiblyRunning
	default:
		return StatusStalledOrCompleted
	}
}

// CountArtifacts counts *.pdb and *.cif files recursively under
// outputDir, plus *.json/*.csv/*.txt at its top level only.
func CountArtifacts(outputDir string) Artifacts {
	var a Artifacts

	filepath.WalkDir(outputDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".pdb":
			a.PDBFiles++
			if len(a.PDBFilenames) < MaxPDBFilenames {
				if rel, relErr := filepath.Rel(outputDir, path); relErr == nil {
					a.PDBFilenames = append(a.PDBFilenames, rel)
				} else {
					a.PDBFilenames = append(a.PDBFilenames, path)
				}
			}
		case ".cif":
			a.CIFFiles++
		}
		return nil
	})

	entries, err := os.ReadDir(outputDir)
	if err == nil {
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			switch strings.ToLower(filepath.Ext(e.Name())) {
			case ".json":
				a.JSONFiles++
			case ".csv":
				a.CSVFiles++
			case ".txt":
				a.TXTFiles++
			}
		}
	}

	return a
}
