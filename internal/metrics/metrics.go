// Package metrics defines the Prometheus collectors for the analysis pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics tracks jobs, analysis runs and the vision backend
type Metrics struct {
	registry *prometheus.Registry

	jobsEnqueued   prometheus.Counter
	jobsFinished   *prometheus.CounterVec
	jobDuration    prometheus.Histogram
	analysisRuns   *prometheus.CounterVec
	visionDegraded prometheus.Counter
	workersBusy    prometheus.Gauge
	httpRequests   *prometheus.CounterVec
}

// New creates the collectors on a private registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "paddy_jobs_enqueued_total",
			Help: "Analysis jobs accepted by the queue",
		}),
		jobsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paddy_job_attempts_total",
				Help: "Finished job attempts by outcome",
			},
			[]string{"outcome"}, // succeeded, retry, failed
		),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "paddy_job_duration_seconds",
			Help:    "Wall time of one job attempt",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		analysisRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paddy_analysis_runs_total",
				Help: "Orchestrator runs by final photo group status",
			},
			[]string{"status"},
		),
		visionDegraded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "paddy_vision_degraded_total",
			Help: "Vision assessments that fell back to the degraded result",
		}),
		workersBusy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "paddy_workers_busy",
			Help: "Workers currently running a job",
		}),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paddy_http_requests_total",
				Help: "HTTP requests by route and status code",
			},
			[]string{"method", "route", "code"},
		),
	}

	m.registry.MustRegister(
		m.jobsEnqueued,
		m.jobsFinished,
		m.jobDuration,
		m.analysisRuns,
		m.visionDegraded,
		m.workersBusy,
		m.httpRequests,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// The recorders below accept a nil receiver so callers can run without metrics.

func (m *Metrics) JobEnqueued() {
	if m == nil {
		return
	}
	m.jobsEnqueued.Inc()
}

func (m *Metrics) JobFinished(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.jobsFinished.WithLabelValues(outcome).Inc()
	m.jobDuration.Observe(took.Seconds())
}

func (m *Metrics) AnalysisRun(status string) {
	if m == nil {
		return
	}
	m.analysisRuns.WithLabelValues(status).Inc()
}

func (m *Metrics) VisionDegraded() {
	if m == nil {
		return
	}
	m.visionDegraded.Inc()
}

func (m *Metrics) WorkerBusy(delta float64) {
	if m == nil {
		return
	}
	m.workersBusy.Add(delta)
}

func (m *Metrics) HTTPRequest(method, route string, code int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
}
