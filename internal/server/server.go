// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/boltzgen/queued/internal/queue"
	"github.com/boltzgen/queued/pkg/config"
	qerrors "github.com/boltzgen/queued/pkg/errors"
	"github.com/boltzgen/queued/pkg/logging"
	"github.com/boltzgen/queued/pkg/metrics"
	"github.com/boltzgen/queued/pkg/middleware"
	"github.com/boltzgen/queued/pkg/streaming"
	"github.com/boltzgen/queued/pkg/watch"
)

// Server wires the queue core and supporting infrastructure to HTTP
// handlers: the JSON RPC operations, a Prometheus scrape endpoint, a
// WebSocket feed of job state transitions, and an SSE feed of a
// running job's combined output.
type Server struct {
	cfg     *config.Config
	queue   *queue.Queue
	log     logging.Logger
	metrics metrics.Collector

	wsHub *streaming.QueueStatusServer
	sse   *streaming.RunStreamServer
}

// New builds a Server ready to be handed to http.ListenAndServe.
func New(cfg *config.Config, q *queue.Queue, log logging.Logger, collector metrics.Collector) *Server {
	s := &Server{cfg: cfg, queue: q, log: log, metrics: collector}

	poller := watch.NewJobPoller(func(ctx context.Context) ([]watch.JobSnapshot, error) {
		return q.ListJobSnapshots(), nil
	}).WithPollInterval(time.Second)
	s.wsHub = streaming.NewQueueStatusServer(poller)
	s.sse = streaming.NewRunStreamServer(s.openJobLog)

	return s
}

// Handler returns the fully wrapped http.Handler to serve. The
// request-bounding timeout applies only to the bounded JSON RPC
// operations: the WebSocket and SSE feeds are long-lived by design, and
// http.TimeoutHandler's wrapped ResponseWriter doesn't support the
// Hijacker/Flusher those upgrades need, so they run under the same
// observability middleware without it.
func (s *Server) Handler() http.Handler {
	base := middleware.Chain(
		middleware.WithRequestID(),
		middleware.WithRecover(s.log),
		middleware.WithLogging(s.log),
		middleware.WithMetrics(s.metrics),
	)
	bounded := middleware.Chain(
		middleware.WithRequestID(),
		middleware.WithRecover(s.log),
		middleware.WithLogging(s.log),
		middleware.WithMetrics(s.metrics),
		middleware.WithTimeout(2*time.Minute),
	)

	r := mux.NewRouter()
	r.HandleFunc("/submit", s.handleSubmit).Methods(http.MethodPost)
	r.HandleFunc("/run", s.handleRun).Methods(http.MethodPost)
	r.HandleFunc("/check_status", s.handleCheckStatus).Methods(http.MethodGet)
	r.HandleFunc("/job_status", s.handleJobStatus).Methods(http.MethodGet)
	r.HandleFunc("/queue_status", s.handleQueueStatus).Methods(http.MethodGet)
	r.HandleFunc("/cancel", s.handleCancel).Methods(http.MethodPost)
	r.HandleFunc("/configure_queue", s.handleConfigureQueue).Methods(http.MethodPost)
	r.HandleFunc("/resource_status", s.handleResourceStatus).Methods(http.MethodGet)

	top := mux.NewRouter()
	top.PathPrefix("/ws/queue").Handler(base(http.HandlerFunc(s.wsHub.HandleWebSocket)))
	top.PathPrefix("/stream/run").Handler(base(http.HandlerFunc(s.sse.HandleSSE)))
	top.Handle("/metrics", base(promhttp.Handler()))
	top.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	top.PathPrefix("/").Handler(bounded(r))

	return top
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusMessageResponse{Status: "ok"})
}

// openJobLog satisfies streaming.LineSource by tailing a queued job's
// persisted log from byte zero, following it as the worker process
// keeps appending, until the job is terminal and the log is drained or
// the caller's context is cancelled.
func (s *Server) openJobLog(ctx context.Context, jobID string) (io.ReadCloser, error) {
	result, err := s.queue.JobStatus(jobID)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, qerrors.New(qerrors.CodeJobNotFound, "Job "+jobID+" not found")
	}
	path := s.queue.JobLogPath(jobID)
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	done := func() bool {
		st, err := s.queue.JobStatus(jobID)
		return err == nil && st != nil && st.Record.Status.Terminal()
	}
	return &followReader{ctx: ctx, file: f, done: done}, nil
}

// followReader adapts an append-only file into an io.Reader that blocks
// (briefly polling) at EOF instead of returning it immediately, so the
// SSE handler's scanner keeps reading new lines as the job progresses.
type followReader struct {
	ctx  context.Context
	file *os.File
	done func() bool
}

func (f *followReader) Read(p []byte) (int, error) {
	for {
		finished := f.done != nil && f.done()
		n, err := f.file.Read(p)
		if n > 0 {
			return n, nil
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return 0, err
		}
		if finished {
			return 0, io.EOF
		}
		select {
		case <-f.ctx.Done():
			return 0, io.EOF
		case <-time.After(250 * time.Millisecond):
		}
	}
}

func (f *followReader) Close() error { return f.file.Close() }

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		writeError(w, qerrors.New(qerrors.CodeValidationFailed, "invalid request body: "+err.Error()))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	var qerr *qerrors.QueueError
	if errors.As(err, &qerr) {
		writeJSON(w, qerrors.HTTPStatus(qerr.Code), ErrorResponse{
			Status:       "error",
			ErrorMessage: qerr.Message,
			Error:        string(qerr.Code),
		})
		return
	}
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{Status: "error", ErrorMessage: err.Error()})
}

func fmtInt(n int) string {
	return strconv.Itoa(n)
}
