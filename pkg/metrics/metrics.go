// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package metrics exposes the job-queue supervisor's Prometheus
// metrics: RPC request/response counters for the request surface, and
// gauges for queue depth, running count, and device-pool occupancy.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector is the interface the request surface and queue core record
// against. A NoOpCollector satisfies it for tests that don't care
// about metrics.
type Collector interface {
	RecordRequest(method, path string)
	RecordResponse(method, path string, statusCode int, duration time.Duration)
	RecordError(method, path string)

	SetQueueDepth(n int)
	SetRunningCount(n int)
	SetDevicesFree(n int)
	SetDevicesHeld(n int)
	IncJobTerminal(status string)
}

// PrometheusCollector backs Collector with real Prometheus metrics,
// registered against the provided registerer (pass
// prometheus.DefaultRegisterer in production, a fresh
// prometheus.NewRegistry() in tests to avoid duplicate-registration
// panics across test runs).
type PrometheusCollector struct {
	requestsTotal  *prometheus.CounterVec
	responseTime   *prometheus.HistogramVec
	errorsTotal    *prometheus.CounterVec
	queueDepth     prometheus.Gauge
	runningCount   prometheus.Gauge
	devicesFree    prometheus.Gauge
	devicesHeld    prometheus.Gauge
	jobsTerminal   *prometheus.CounterVec
}

// NewPrometheusCollector registers and returns a PrometheusCollector.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)
	return &PrometheusCollector{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "boltzgen_queue_requests_total",
			Help: "Total RPC requests handled by the request surface.",
		}, []string{"method", "path"}),
		responseTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "boltzgen_queue_request_duration_seconds",
			Help:    "RPC request handling latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		errorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "boltzgen_queue_request_errors_total",
			Help: "Total RPC requests that returned an error.",
		}, []string{"method", "path"}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "boltzgen_queue_pending_jobs",
			Help: "Number of jobs currently queued.",
		}),
		runningCount: factory.NewGauge(prometheus.GaugeOpts{
			Name: "boltzgen_queue_running_jobs",
			Help: "Number of jobs currently running.",
		}),
		devicesFree: factory.NewGauge(prometheus.GaugeOpts{
			Name: "boltzgen_queue_devices_free",
			Help: "Number of accelerator devices currently free.",
		}),
		devicesHeld: factory.NewGauge(prometheus.GaugeOpts{
			Name: "boltzgen_queue_devices_held",
			Help: "Number of accelerator devices currently held by a job.",
		}),
		jobsTerminal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "boltzgen_queue_jobs_terminal_total",
			Help: "Total jobs that reached a terminal state, by status.",
		}, []string{"status"}),
	}
}

func (c *PrometheusCollector) RecordRequest(method, path string) {
	c.requestsTotal.WithLabelValues(method, path).Inc()
}

func (c *PrometheusCollector) RecordResponse(method, path string, statusCode int, duration time.Duration) {
	c.responseTime.WithLabelValues(method, path, statusText(statusCode)).Observe(duration.Seconds())
}

func (c *PrometheusCollector) RecordError(method, path string) {
	c.errorsTotal.WithLabelValues(method, path).Inc()
}

func (c *PrometheusCollector) SetQueueDepth(n int)   { c.queueDepth.Set(float64(n)) }
func (c *PrometheusCollector) SetRunningCount(n int) { c.runningCount.Set(float64(n)) }
func (c *PrometheusCollector) SetDevicesFree(n int)  { c.devicesFree.Set(float64(n)) }
func (c *PrometheusCollector) SetDevicesHeld(n int)  { c.devicesHeld.Set(float64(n)) }

func (c *PrometheusCollector) IncJobTerminal(status string) {
	c.jobsTerminal.WithLabelValues(status).Inc()
}

func statusText(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 200:
		return "2xx"
	default:
		return "other"
	}
}

// NoOpCollector discards everything; used by components under test
// that don't wire a real registry.
type NoOpCollector struct{}

func (NoOpCollector) RecordRequest(method, path string)                                    {}
func (NoOpCollector) RecordResponse(method, path string, statusCode int, d time.Duration)   {}
func (NoOpCollector) RecordError(method, path string)                                       {}
func (NoOpCollector) SetQueueDepth(n int)                                                   {}
func (NoOpCollector) SetRunningCount(n int)                                                 {}
func (NoOpCollector) SetDevicesFree(n int)                                                  {}
func (NoOpCollector) SetDevicesHeld(n int)                                                  {}
func (NoOpCollector) IncJobTerminal(status string)                                          {}
