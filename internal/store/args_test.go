// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArgsPreservesInsertionOrderThroughJSON(t *testing.T) {
	args := NewArgs("zeta", int64(1), "alpha", true, "middle", "value")

	data, err := json.Marshal(args)
	require.NoError(t, err)

	var decoded Args
	require.NoError(t, json.Unmarshal(data, &decoded))

	require.Len(t, decoded, 3)
	assert.Equal(t, "zeta", decoded[0].Name)
	assert.Equal(t, "alpha", decoded[1].Name)
	assert.Equal(t, "middle", decoded[2].Name)
}

func TestArgsGet(t *testing.T) {
	args := NewArgs("num_designs", int64(5))
	v, ok := args.Get("num_designs")
	require.True(t, ok)
	assert.Equal(t, int64(5), v)

	_, ok = args.Get("missing")
	assert.False(t, ok)
}
