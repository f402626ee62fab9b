// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	v := viper.New()
	cfg := Load(v)

	assert.Equal(t, defaultMaxWorkers, cfg.MaxWorkers)
	assert.Equal(t, defaultJobsRoot, cfg.JobsRoot)
	assert.Equal(t, defaultScriptsDir, cfg.ScriptsDir)
	assert.Equal(t, defaultEvictionAge, cfg.EvictionAge)
	assert.Equal(t, defaultListenAddr, cfg.ListenAddr)
	assert.False(t, cfg.Debug)
	assert.NotEmpty(t, cfg.DeviceIDs)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("BOLTZGEN_MAX_WORKERS", "4")
	t.Setenv("BOLTZGEN_GPU_IDS", "0,1,2,3")
	t.Setenv("BOLTZGEN_JOBS_ROOT", "/tmp/jobs")
	t.Setenv("BOLTZGEN_EVICTION_AGE", "1h")

	v := viper.New()
	cfg := Load(v)

	assert.Equal(t, 4, cfg.MaxWorkers)
	assert.Equal(t, []string{"0", "1", "2", "3"}, cfg.DeviceIDs)
	assert.Equal(t, "/tmp/jobs", cfg.JobsRoot)
	assert.Equal(t, time.Hour, cfg.EvictionAge)
}

func TestParseDeviceIDs(t *testing.T) {
	assert.Equal(t, []string{"0", "1"}, ParseDeviceIDs("0,1"))
	assert.Equal(t, []string{"0", "1"}, ParseDeviceIDs(" 0 , 1 "))
	assert.Equal(t, []string{}, ParseDeviceIDs(""))
}

func TestValidate(t *testing.T) {
	cfg := &Config{MaxWorkers: 1, JobsRoot: "/tmp"}
	require.NoError(t, cfg.Validate())

	cfg.MaxWorkers = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidMaxWorkers)

	cfg.MaxWorkers = 1
	cfg.JobsRoot = ""
	assert.ErrorIs(t, cfg.Validate(), ErrMissingJobsRoot)
}
