// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package config

import "errors"

var (
	// ErrInvalidMaxWorkers is returned when max_workers is not positive.
	ErrInvalidMaxWorkers = errors.New("max_workers must be greater than 0")

	// ErrMissingJobsRoot is returned when jobs_root is empty.
	ErrMissingJobsRoot = errors.New("jobs_root is required")
)
