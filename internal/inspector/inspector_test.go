// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package inspector

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInspectNotStarted(t *testing.T) {
	dir := t.TempDir()
	result := Inspect(dir)
	assert.Equal(t, StatusNotStarted, result.Status)
	assert.False(t, result.LogExists)
}

func TestInspectCompleted(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir, "Starting design...\nAll designs completed\n")

	result := Inspect(dir)
	assert.Equal(t, StatusCompleted, result.Status)
}

func TestInspectFailedTakesPriorityOverCompleted(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir, "design completed\nTraceback (most recent call last):\nRuntimeError: boom\n")

	result := Inspect(dir)
	assert.Equal(t, StatusFailed, result.Status, "an error marker must win over a completion marker")
}

func TestInspectRunningByRecency(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir, "still working\n")
	result := Inspect(dir)
	assert.Equal(t, StatusRunning, result.Status)
}

func TestInspectStalledByOldMtime(t *testing.T) {
	dir := t.TempDir()
	path := writeLog(t, dir, "still working\n")
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	result := Inspect(dir)
	assert.Equal(t, StatusStalledOrCompleted, result.Status)
}

func TestCountArtifacts(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "nested")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	write(t, filepath.Join(dir, "a.pdb"), "x")
	write(t, filepath.Join(sub, "b.pdb"), "x")
	write(t, filepath.Join(dir, "c.cif"), "x")
	write(t, filepath.Join(dir, "summary.json"), "{}")
	write(t, filepath.Join(dir, "stats.csv"), "a,b")
	write(t, filepath.Join(dir, "notes.txt"), "hi")
	write(t, filepath.Join(sub, "nested.json"), "{}") // not top-level, must not count

	a := CountArtifacts(dir)
	assert.Equal(t, 2, a.PDBFiles)
	assert.Equal(t, 1, a.CIFFiles)
	assert.Equal(t, 1, a.JSONFiles)
	assert.Equal(t, 1, a.CSVFiles)
	assert.Equal(t, 1, a.TXTFiles)
	assert.Equal(t, 6, a.Total())
	assert.ElementsMatch(t, []string{"a.pdb", filepath.Join("nested", "b.pdb")}, a.PDBFilenames)
}

func TestCountArtifactsCapsPDBFilenames(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < MaxPDBFilenames+5; i++ {
		write(t, filepath.Join(dir, strconv.Itoa(i)+".pdb"), "x")
	}

	a := CountArtifacts(dir)
	assert.Equal(t, MaxPDBFilenames+5, a.PDBFiles)
	assert.Len(t, a.PDBFilenames, MaxPDBFilenames)
}

func writeLog(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, LogFileName)
	write(t, path, content)
	return path
}

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
