// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSetsCategoryAndRetryable(t *testing.T) {
	err := New(CodeBreakerOpen, "breaker open")
	assert.Equal(t, CategoryProcess, err.Category)
	assert.True(t, err.Retryable)
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("exec: no such file")
	err := Wrap(CodeSpawnFailed, "spawn failed", cause)
	require.ErrorIs(t, err, err)
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestIsMatchesOnCode(t *testing.T) {
	a := New(CodeJobNotFound, "Job x not found")
	b := New(CodeJobNotFound, "Job y not found")
	c := New(CodeAlreadyTerminal, "Job x is already cancelled")
	assert.True(t, a.Is(b))
	assert.False(t, a.Is(c))
}

func TestHTTPStatusMapping(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, HTTPStatus(CodeJobNotFound))
	assert.Equal(t, http.StatusConflict, HTTPStatus(CodeAlreadyTerminal))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(CodeInvalidProtocol))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(CodeBreakerOpen))
}

func TestBuilders(t *testing.T) {
	assert.Equal(t, "Job abc not found", JobNotFound("abc").Message)
	assert.Equal(t, "Job abc is already cancelled", AlreadyTerminal("abc", "cancelled").Message)
	assert.Equal(t, "Process exited with code 1", NonZeroExit(1).Message)
}
