// Copyright (C) 2025 Girderworks (engineering@girderworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the boqd pipeline.
//
// # Description
//
// Metrics cover run outcomes, event decoding, validation loop behavior, and
// rollback activity. They are exposed via the /metrics endpoint for
// Prometheus + Grafana.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "boqd"

const pipelineSubsystem = "pipeline"

// PipelineMetrics holds all Prometheus metrics for pipeline runs.
//
// # Fields
//
//   - RunsTotal: Counter of finished runs by terminal status
//   - RunAttemptsTotal: Counter of stream consumption attempts by outcome
//   - EventsTotal: Counter of stream events by classification result
//   - UnitsRecordedTotal: Counter of persisted unit records by status
//   - ValidationIterationsTotal: Counter of observed validation verdicts
//   - RollbackUnitsTotal: Counter of units written as failed during rollback
//   - RunDurationSeconds: Histogram of end-to-end run duration
//   - ActiveRuns: Gauge of runs currently in flight
type PipelineMetrics struct {
	// RunsTotal counts finished runs.
	// Labels: status (completed, force_accepted, rolled_back)
	RunsTotal *prometheus.CounterVec

	// RunAttemptsTotal counts stream consumption attempts.
	// Labels: outcome (success, retry, exhausted)
	RunAttemptsTotal *prometheus.CounterVec

	// EventsTotal counts stream events by what happened to them.
	// Labels: result (unit, report, verdict, discarded, decode_error)
	EventsTotal *prometheus.CounterVec

	// UnitsRecordedTotal counts persisted unit records.
	// Labels: unit, status (completed, failed)
	UnitsRecordedTotal *prometheus.CounterVec

	// ValidationIterationsTotal counts validation verdicts observed.
	// Labels: signal (continue, accept, force_accept, failed)
	ValidationIterationsTotal *prometheus.CounterVec

	// RollbackUnitsTotal counts failed-status rollback writes.
	RollbackUnitsTotal prometheus.Counter

	// RunDurationSeconds measures end-to-end run duration.
	// Labels: status (completed, rolled_back)
	RunDurationSeconds *prometheus.HistogramVec

	// ActiveRuns tracks runs currently being processed.
	ActiveRuns prometheus.Gauge
}

// DefaultMetrics is the singleton instance, initialized by InitMetrics().
// It stays nil when metrics are disabled; callers must nil-check.
var DefaultMetrics *PipelineMetrics

// InitMetrics initializes and registers the default metrics instance.
//
// # Description
//
// Creates and registers all Prometheus metrics. Call once at startup.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
func InitMetrics() *PipelineMetrics {
	DefaultMetrics = &PipelineMetrics{
		RunsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "runs_total",
				Help:      "Total finished pipeline runs by terminal status",
			},
			[]string{"status"},
		),

		RunAttemptsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "run_attempts_total",
				Help:      "Total stream consumption attempts by outcome",
			},
			[]string{"outcome"},
		),

		EventsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "events_total",
				Help:      "Total stream events by classification result",
			},
			[]string{"result"},
		),

		UnitsRecordedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "units_recorded_total",
				Help:      "Total persisted unit records by unit and status",
			},
			[]string{"unit", "status"},
		),

		ValidationIterationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "validation_iterations_total",
				Help:      "Total validation verdicts observed by loop signal",
			},
			[]string{"signal"},
		),

		RollbackUnitsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "rollback_units_total",
				Help:      "Total failed-status unit records written during rollback",
			},
		),

		RunDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "run_duration_seconds",
				Help:      "End-to-end pipeline run duration in seconds",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
			},
			[]string{"status"},
		),

		ActiveRuns: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "active_runs",
				Help:      "Number of pipeline runs currently in flight",
			},
		),
	}

	return DefaultMetrics
}

// =============================================================================
// Helper Methods
// =============================================================================

// RecordEvent records the classification result of one stream event.
func (m *PipelineMetrics) RecordEvent(result string) {
	m.EventsTotal.WithLabelValues(result).Inc()
}

// RecordUnit records one persisted unit record.
func (m *PipelineMetrics) RecordUnit(unit string, status string) {
	m.UnitsRecordedTotal.WithLabelValues(unit, status).Inc()
}

// RecordVerdict records one validation verdict and the resulting signal.
func (m *PipelineMetrics) RecordVerdict(signal string) {
	m.ValidationIterationsTotal.WithLabelValues(signal).Inc()
}

// RecordAttempt records one stream consumption attempt outcome.
func (m *PipelineMetrics) RecordAttempt(outcome string) {
	m.RunAttemptsTotal.WithLabelValues(outcome).Inc()
}

// RunStarted increments the active runs gauge.
func (m *PipelineMetrics) RunStarted() {
	m.ActiveRuns.Inc()
}

// RunFinished records a finished run with its terminal status and duration.
func (m *PipelineMetrics) RunFinished(status string, seconds float64) {
	m.ActiveRuns.Dec()
	m.RunsTotal.WithLabelValues(status).Inc()
	m.RunDurationSeconds.WithLabelValues(status).Observe(seconds)
}
