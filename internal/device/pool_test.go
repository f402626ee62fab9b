// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	p := New([]string{"0", "1"}, nil)
	require.Equal(t, 2, p.Total())
	require.Equal(t, 2, p.AvailableCount())

	id, ok := p.Acquire("job-1")
	require.True(t, ok)
	assert.Equal(t, "0", id)
	assert.Equal(t, 1, p.AvailableCount())
	assert.Equal(t, map[string]string{"0": "job-1"}, p.HeldMap())

	p.Release(id)
	assert.Equal(t, 2, p.AvailableCount())
	assert.Empty(t, p.HeldMap())
}

func TestAcquireStarvation(t *testing.T) {
	p := New([]string{"0"}, nil)
	_, ok := p.Acquire("job-1")
	require.True(t, ok)

	_, ok = p.Acquire("job-2")
	assert.False(t, ok, "acquiring from an exhausted pool must not error, just report unavailable")
}

func TestReleaseUnknownIsNoOp(t *testing.T) {
	p := New([]string{"0"}, nil)
	assert.NotPanics(t, func() { p.Release("9") })
	assert.Equal(t, 1, p.AvailableCount())
}

func TestDuplicateDeviceIDsCollapse(t *testing.T) {
	p := New([]string{"0", "0", "1"}, nil)
	assert.Equal(t, 2, p.Total())
}

func TestInvariantFreeHeldPartition(t *testing.T) {
	p := New([]string{"0", "1", "2"}, nil)

	a, _ := p.Acquire("j1")
	b, _ := p.Acquire("j2")

	all := map[string]bool{}
	for _, id := range p.AvailableList() {
		all[id] = true
	}
	for id := range p.HeldMap() {
		assert.False(t, all[id], "a device cannot be simultaneously free and held")
		all[id] = true
	}
	assert.Len(t, all, 3)

	p.Release(a)
	p.Release(b)
	assert.True(t, p.AllDevicesFree())
}

func TestConcurrentAcquireIsExclusive(t *testing.T) {
	p := New([]string{"0", "1", "2", "3"}, nil)
	var wg sync.WaitGroup
	results := make(chan string, 4)

	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if id, ok := p.Acquire("job"); ok {
				results <- id
			}
		}(i)
	}
	wg.Wait()
	close(results)

	seen := map[string]bool{}
	for id := range results {
		assert.False(t, seen[id], "no device acquired twice concurrently")
		seen[id] = true
	}
	assert.LessOrEqual(t, len(seen), 4)
}
