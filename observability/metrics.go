// Copyright (C) 2025 Nirman AI (deveshjha247@gmail.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the build engine.
//
// Metrics cover the job pipeline (starts, finishes by status, progress
// stage latency), the event stream (appends, live subscribers,
// keepalives), and the background schedulers. Exposed via /metrics.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "nirman"

// BuildMetrics holds all Prometheus metrics for the build engine.
// Initialize once at startup via InitMetrics; all recording helpers
// tolerate a nil receiver so components work without metrics wired.
type BuildMetrics struct {
	// JobsStarted counts accepted build jobs.
	JobsStarted prometheus.Counter

	// JobsFinished counts finished jobs by terminal status.
	// Labels: status (success, failed, cancelled)
	JobsFinished *prometheus.CounterVec

	// EventsAppended counts build events written to the log.
	// Labels: type
	EventsAppended *prometheus.CounterVec

	// GenerationSeconds measures model generation latency per stage.
	// Labels: stage (planning, codegen), provider
	GenerationSeconds *prometheus.HistogramVec

	// Fallbacks counts deterministic fallbacks taken per stage.
	// Labels: stage (planning, codegen)
	Fallbacks *prometheus.CounterVec

	// LiveSubscribers tracks currently attached SSE streams.
	LiveSubscribers prometheus.Gauge

	// KeepAlivesTotal counts keepalive pings sent on live streams.
	KeepAlivesTotal prometheus.Counter

	// ClientDisconnectsTotal counts streams ended by the client.
	ClientDisconnectsTotal prometheus.Counter

	// SchedulerRuns counts background job firings.
	// Labels: job, status (success, error)
	SchedulerRuns *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance, nil until InitMetrics runs.
var DefaultMetrics *BuildMetrics

// InitMetrics creates and registers all metrics on the default registry.
// Call once at startup; a second call panics on duplicate registration.
func InitMetrics() *BuildMetrics {
	DefaultMetrics = &BuildMetrics{
		JobsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "build",
			Name:      "jobs_started_total",
			Help:      "Total build jobs accepted",
		}),

		JobsFinished: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "build",
				Name:      "jobs_finished_total",
				Help:      "Total build jobs finished by terminal status",
			},
			[]string{"status"},
		),

		EventsAppended: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "events",
				Name:      "appended_total",
				Help:      "Total build events appended to the log",
			},
			[]string{"type"},
		),

		GenerationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "build",
				Name:      "generation_seconds",
				Help:      "Model generation latency per pipeline stage",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"stage", "provider"},
		),

		Fallbacks: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "build",
				Name:      "fallbacks_total",
				Help:      "Deterministic fallbacks taken per pipeline stage",
			},
			[]string{"stage"},
		),

		LiveSubscribers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "stream",
			Name:      "live_subscribers",
			Help:      "Currently attached SSE subscribers",
		}),

		KeepAlivesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "stream",
			Name:      "keepalives_total",
			Help:      "Total keepalive pings sent",
		}),

		ClientDisconnectsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "stream",
			Name:      "client_disconnects_total",
			Help:      "Total streams ended by client disconnect",
		}),

		SchedulerRuns: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "scheduler",
				Name:      "runs_total",
				Help:      "Background job firings by job name and status",
			},
			[]string{"job", "status"},
		),
	}
	return DefaultMetrics
}

// =============================================================================
// Recording helpers
// =============================================================================

// JobStarted records an accepted job.
func (m *BuildMetrics) JobStarted() {
	if m == nil {
		return
	}
	m.JobsStarted.Inc()
}

// JobFinished records a job reaching a terminal status.
func (m *BuildMetrics) JobFinished(status string) {
	if m == nil {
		return
	}
	m.JobsFinished.WithLabelValues(status).Inc()
}

// EventAppended records one event write.
func (m *BuildMetrics) EventAppended(eventType string) {
	if m == nil {
		return
	}
	m.EventsAppended.WithLabelValues(eventType).Inc()
}

// RecordGeneration records one generation call's latency and whether the
// stage fell back to its deterministic path.
func (m *BuildMetrics) RecordGeneration(stage, provider string, elapsed time.Duration, fallback bool) {
	if m == nil {
		return
	}
	m.GenerationSeconds.WithLabelValues(stage, provider).Observe(elapsed.Seconds())
	if fallback {
		m.Fallbacks.WithLabelValues(stage).Inc()
	}
}

// StreamAttached increments the live subscriber gauge.
func (m *BuildMetrics) StreamAttached() {
	if m == nil {
		return
	}
	m.LiveSubscribers.Inc()
}

// StreamDetached decrements the live subscriber gauge.
func (m *BuildMetrics) StreamDetached() {
	if m == nil {
		return
	}
	m.LiveSubscribers.Dec()
}

// RecordKeepAlive counts one keepalive ping.
func (m *BuildMetrics) RecordKeepAlive() {
	if m == nil {
		return
	}
	m.KeepAlivesTotal.Inc()
}

// RecordClientDisconnect counts one client-initiated stream end.
func (m *BuildMetrics) RecordClientDisconnect() {
	if m == nil {
		return
	}
	m.ClientDisconnectsTotal.Inc()
}

// RecordSchedulerRun counts one background job firing.
func (m *BuildMetrics) RecordSchedulerRun(job string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.SchedulerRuns.WithLabelValues(job, status).Inc()
}
