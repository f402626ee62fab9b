// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package device tracks which accelerator indices are free versus held
// by a job. Devices are discrete, exclusive,
// and cheap to track, so a single mutex guards the whole pool; it is
// never held while the queue core's lock is taken.
package device

import (
	"sort"
	"sync"

	"github.com/boltzgen/queued/pkg/logging"
)

// Pool is a thread-safe set of accelerator device ids, partitioned into
// free and held. The zero value is not usable; construct with New.
type Pool struct {
	mu   sync.Mutex
	all  []string
	free map[string]struct{}
	held map[string]string // device id -> job id
	log  logging.Logger
}

// New constructs a Pool over the given device ids. Duplicate ids are
// collapsed; order is preserved for the first occurrence, which is also
// the acquire selection order.
func New(deviceIDs []string, log logging.Logger) *Pool {
	if log == nil {
		log = logging.NewLogger(nil)
	}
	all := make([]string, 0, len(deviceIDs))
	seen := make(map[string]struct{}, len(deviceIDs))
	free := make(map[string]struct{}, len(deviceIDs))
	for _, id := range deviceIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		all = append(all, id)
		free[id] = struct{}{}
	}
	return &Pool{
		all:  all,
		free: free,
		held: make(map[string]string),
		log:  log,
	}
}

// Acquire removes one free device and assigns it to jobID, returning
// (deviceID, true). If no device is free, it returns ("", false) — not
// an error; the queue core treats starvation as a retry-next-tick
// condition.
func (p *Pool) Acquire(jobID string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.free) == 0 {
		return "", false
	}

	var chosen string
	for _, id := range p.all {
		if _, ok := p.free[id]; ok {
			chosen = id
			break
		}
	}
	delete(p.free, chosen)
	p.held[chosen] = jobID
	return chosen, true
}

// MarkHeld assigns a specific device to jobID without going through
// the acquire-lowest-free selection policy. Used by Reconfigure to
// carry a running job's device assignment over into a freshly
// constructed pool. Returns false if deviceID is not part of the pool
// or is not currently free.
func (p *Pool) MarkHeld(deviceID, jobID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, free := p.free[deviceID]; !free {
		return false
	}
	delete(p.free, deviceID)
	p.held[deviceID] = jobID
	return true
}

// Release returns deviceID to the free set. Releasing an id that is not
// currently held is a no-op logged at Warn, not an error —
// this happens harmlessly on duplicate reap/cancel races.
func (p *Pool) Release(deviceID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.held[deviceID]; !ok {
		p.log.Warn("release of device not currently held", "device_id", deviceID)
		return
	}
	delete(p.held, deviceID)
	p.free[deviceID] = struct{}{}
}

// AvailableCount returns the number of currently free devices.
func (p *Pool) AvailableCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// AvailableList returns the currently free device ids, sorted for
// deterministic output (tests must not depend on acquire order, but
// query responses should be stable).
func (p *Pool) AvailableList() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.free))
	for id := range p.free {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// HeldMap returns a copy of the device id -> job id assignment.
func (p *Pool) HeldMap() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]string, len(p.held))
	for k, v := range p.held {
		out[k] = v
	}
	return out
}

// Total returns the size of the whole pool (|all|).
func (p *Pool) Total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.all)
}

// AllDevicesFree reports whether every device in the pool is currently
// unheld — used by resource_status.
func (p *Pool) AllDevicesFree() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.held) == 0
}

// DeviceIDs returns a copy of the full ordered pool.
func (p *Pool) DeviceIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.all))
	copy(out, p.all)
	return out
}
