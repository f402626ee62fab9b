// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boltzgen/queued/internal/store"
)

func TestBuildArgv(t *testing.T) {
	args := store.NewArgs(
		"num_designs", int64(10),
		"verbose", true,
		"dry_run", false,
		"label", "run-1",
		"skip", nil,
	)

	argv := BuildArgv("/opt/boltzgen/scripts/run.py", args)

	assert.Equal(t, []string{
		"/opt/boltzgen/scripts/run.py",
		"--num_designs", "10",
		"--verbose",
		"--label", "run-1",
	}, argv)
}

func TestBuildArgvPreservesOrder(t *testing.T) {
	args := store.NewArgs("zeta", int64(1), "alpha", int64(2))
	argv := BuildArgv("script.py", args)
	assert.Equal(t, []string{"script.py", "--zeta", "1", "--alpha", "2"}, argv)
}

func TestLaunchPollSuccess(t *testing.T) {
	scriptsDir := t.TempDir()
	script := filepath.Join(scriptsDir, "ok.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho hello\nexit 0\n"), 0o755))

	sup := New(scriptsDir, nil)
	logPath := filepath.Join(t.TempDir(), "job.log")

	proc, err := sup.Launch(script, nil, "0", logPath)
	require.NoError(t, err)
	require.Greater(t, proc.PID, 0)

	require.Eventually(t, func() bool {
		exited, _, _ := proc.Poll()
		return exited
	}, 2*time.Second, 10*time.Millisecond)

	exited, code, err := proc.Poll()
	require.True(t, exited)
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	data, rerr := os.ReadFile(logPath)
	require.NoError(t, rerr)
	assert.Contains(t, string(data), "hello")
}

func TestLaunchPollNonZeroExit(t *testing.T) {
	scriptsDir := t.TempDir()
	script := filepath.Join(scriptsDir, "fail.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nexit 7\n"), 0o755))

	sup := New(scriptsDir, nil)
	logPath := filepath.Join(t.TempDir(), "job.log")

	proc, err := sup.Launch(script, nil, "0", logPath)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		exited, _, _ := proc.Poll()
		return exited
	}, 2*time.Second, 10*time.Millisecond)

	_, code, err := proc.Poll()
	require.NoError(t, err)
	assert.Equal(t, 7, code)
}

func TestLaunchMissingExecutableFails(t *testing.T) {
	scriptsDir := t.TempDir()
	sup := New(scriptsDir, nil)
	logPath := filepath.Join(t.TempDir(), "job.log")

	_, err := sup.Launch(filepath.Join(scriptsDir, "does-not-exist.sh"), nil, "0", logPath)
	assert.Error(t, err)
}

func TestLaunchTerminate(t *testing.T) {
	scriptsDir := t.TempDir()
	script := filepath.Join(scriptsDir, "sleep.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nsleep 30\n"), 0o755))

	sup := New(scriptsDir, nil)
	logPath := filepath.Join(t.TempDir(), "job.log")

	proc, err := sup.Launch(script, nil, "0", logPath)
	require.NoError(t, err)

	require.NoError(t, proc.Terminate())

	require.Eventually(t, func() bool {
		exited, _, _ := proc.Poll()
		return exited
	}, 3*time.Second, 10*time.Millisecond)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	scriptsDir := t.TempDir()
	sup := New(scriptsDir, nil)
	missing := filepath.Join(scriptsDir, "missing.sh")

	var lastErr error
	for i := 0; i < 5; i++ {
		_, lastErr = sup.Launch(missing, nil, "0", filepath.Join(t.TempDir(), "job.log"))
		require.Error(t, lastErr)
	}
	assert.Contains(t, lastErr.Error(), "circuit breaker", "after repeated spawn failures the breaker should fail fast")
}
