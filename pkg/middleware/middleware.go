// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package middleware provides http.Handler middleware for the
// request surface: request logging, request-id injection, panic
// recovery, and metrics recording. This service accepts inbound
// HTTP calls and makes none of its own outbound, so this package
// wraps inbound http.Handlers rather than http.RoundTrippers.
package middleware

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/boltzgen/queued/pkg/logging"
	"github.com/boltzgen/queued/pkg/metrics"
)

// Middleware wraps an http.Handler with cross-cutting behavior.
type Middleware func(http.Handler) http.Handler

// Chain composes middlewares so the first one runs outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

type requestIDKey struct{}

// RequestIDFromContext returns the request id injected by WithRequestID,
// or "" if none is present.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}

// WithRequestID assigns a uuid to every request and stores it in the
// request context for downstream logging.
func WithRequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := uuid.NewString()
			w.Header().Set("X-Request-ID", id)
			ctx := context.WithValue(r.Context(), requestIDKey{}, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// statusRecorder captures the status code written by the wrapped
// handler so logging/metrics middleware can observe it after the
// fact.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Flush forwards to the wrapped ResponseWriter's Flusher, if it has
// one — required for the SSE log-tail endpoint, which this recorder
// would otherwise silently break by hiding the underlying Flusher
// behind an embedding that doesn't promote it.
func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack forwards to the wrapped ResponseWriter's Hijacker, if it has
// one — required for the WebSocket queue-status feed, whose upgrade
// handshake hijacks the connection out from under net/http.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("underlying ResponseWriter does not support hijacking")
	}
	return hj.Hijack()
}

// WithLogging logs every request at Info with method, path, status,
// and duration; errors (5xx) log at Warn.
func WithLogging(logger logging.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			reqLogger := logging.LogAPICall(logger, r.Method, r.URL.Path,
				"request_id", RequestIDFromContext(r.Context()),
			)
			reqLogger.Debug("request received")

			next.ServeHTTP(rec, r)

			duration := time.Since(start)
			if rec.status >= 500 {
				reqLogger.Warn("request failed",
					"status_code", rec.status,
					"duration_ms", duration.Milliseconds(),
				)
				return
			}
			reqLogger.Info("request completed",
				"status_code", rec.status,
				"duration_ms", duration.Milliseconds(),
			)
		})
	}
}

// WithMetrics records request/response/error counters and latency
// histograms against a metrics.Collector.
func WithMetrics(collector metrics.Collector) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			collector.RecordRequest(r.Method, r.URL.Path)
			next.ServeHTTP(rec, r)

			duration := time.Since(start)
			collector.RecordResponse(r.Method, r.URL.Path, rec.status, duration)
			if rec.status >= 400 {
				collector.RecordError(r.Method, r.URL.Path)
			}
		})
	}
}

// WithRecover converts a panic in a downstream handler into a 500
// response instead of crashing the daemon. The worker loop has its
// own recover; this is
// the request-surface analogue for RPC handlers.
func WithRecover(logger logging.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic handling request", "panic", rec, "path", r.URL.Path)
					http.Error(w, `{"status":"error","error_message":"internal error"}`, http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// WithTimeout bounds how long a handler may run before the context is
// cancelled; mirrors pkg/context's per-operation timeouts.
func WithTimeout(timeout time.Duration) Middleware {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, timeout, `{"status":"error","error_message":"request timed out"}`)
	}
}
