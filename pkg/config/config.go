// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package config loads the job-queue supervisor's configuration from
// an optional config file, environment variables, and CLI flags, in
// that order of increasing precedence, via spf13/viper.
package config

import (
	"os/exec"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the daemon's runtime configuration.
type Config struct {
	// MaxWorkers is the configured concurrency cap (BOLTZGEN_MAX_WORKERS).
	MaxWorkers int

	// DeviceIDs is the full accelerator pool (BOLTZGEN_GPU_IDS).
	DeviceIDs []string

	// JobsRoot is the root directory under which every job gets its own
	// subdirectory.
	JobsRoot string

	// ScriptsDir is the fixed working directory new child processes are
	// launched from.
	ScriptsDir string

	// EvictionAge is how long a terminal record stays in memory before
	// the periodic eviction sweep drops it.
	EvictionAge time.Duration

	// ListenAddr is the request-surface HTTP listen address.
	ListenAddr string

	// Debug enables debug-level logging.
	Debug bool
}

const (
	defaultMaxWorkers  = 1
	defaultJobsRoot    = "/var/lib/boltzgen/jobs"
	defaultScriptsDir  = "/opt/boltzgen/scripts"
	defaultEvictionAge = 24 * time.Hour
	defaultListenAddr  = ":8765"
)

// Load builds a Config from the environment, an optional config file,
// and any flags already bound into v (the caller's cobra command binds
// its flags into the same viper instance before calling Load).
func Load(v *viper.Viper) *Config {
	if v == nil {
		v = viper.New()
	}

	v.SetEnvPrefix("BOLTZGEN")
	v.AutomaticEnv()
	v.SetDefault("max_workers", defaultMaxWorkers)
	v.SetDefault("jobs_root", defaultJobsRoot)
	v.SetDefault("scripts_dir", defaultScriptsDir)
	v.SetDefault("eviction_age", defaultEvictionAge.String())
	v.SetDefault("listen_addr", defaultListenAddr)
	v.SetDefault("debug", false)

	cfg := &Config{
		MaxWorkers: v.GetInt("max_workers"),
		JobsRoot:   v.GetString("jobs_root"),
		ScriptsDir: v.GetString("scripts_dir"),
		ListenAddr: v.GetString("listen_addr"),
		Debug:      v.GetBool("debug"),
	}

	if d, err := time.ParseDuration(v.GetString("eviction_age")); err == nil {
		cfg.EvictionAge = d
	} else {
		cfg.EvictionAge = defaultEvictionAge
	}

	if raw := v.GetString("gpu_ids"); raw != "" {
		cfg.DeviceIDs = ParseDeviceIDs(raw)
	} else {
		cfg.DeviceIDs = DetectDevices()
	}

	return cfg
}

// ParseDeviceIDs splits a comma-separated device-id list, e.g. "0,1".
func ParseDeviceIDs(raw string) []string {
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

// DetectDevices shells out to nvidia-smi to enumerate accelerator
// indices, falling back to a single device on any failure. Intentionally
// dumb shell-out parsing, treated as an external collaborator rather
// than core scheduling logic.
func DetectDevices() []string {
	out, err := exec.Command("nvidia-smi", "--query-gpu=index", "--format=csv,noheader").Output()
	if err != nil {
		return []string{"0"}
	}

	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			ids = append(ids, line)
		}
	}
	if len(ids) == 0 {
		return []string{"0"}
	}
	return ids
}

// Validate checks the config for the cases treated as validation
// errors.
func (c *Config) Validate() error {
	if c.MaxWorkers <= 0 {
		return ErrInvalidMaxWorkers
	}
	if c.JobsRoot == "" {
		return ErrMissingJobsRoot
	}
	return nil
}
