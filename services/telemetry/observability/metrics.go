// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the telemetry
// ingest service: event throughput by kind and error kind, sampling
// decisions, and predictor query latency.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "pbartrace"

// Metrics holds every Prometheus metric the service records. Initialize
// once at startup via InitMetrics().
type Metrics struct {
	// EventsTotal counts ingested events by kind (begin, progress,
	// finish) and outcome (ok, error).
	EventsTotal *prometheus.CounterVec

	// EventErrorsTotal counts ingest failures by pberrors.Kind.
	EventErrorsTotal *prometheus.CounterVec

	// SamplingDecisionsTotal counts completed-trace sampling decisions by
	// technique and outcome (retained, discarded).
	SamplingDecisionsTotal *prometheus.CounterVec

	// PredictorQueryDuration measures PredictStep/PredictWhole latency.
	PredictorQueryDuration *prometheus.HistogramVec

	// ActiveSubscriptions tracks open subscribe_trace watches.
	ActiveSubscriptions prometheus.Gauge

	// HotStoreOpDuration measures hot-store round trips by operation.
	HotStoreOpDuration *prometheus.HistogramVec
}

// DefaultMetrics is the package singleton, set by InitMetrics.
var DefaultMetrics *Metrics

// InitMetrics registers and returns the singleton Metrics instance.
// Panics if called twice against the same Prometheus registry.
func InitMetrics() *Metrics {
	DefaultMetrics = &Metrics{
		EventsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "intake",
				Name:      "events_total",
				Help:      "Total ingested step events by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		EventErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "intake",
				Name:      "event_errors_total",
				Help:      "Ingest failures by error kind",
			},
			[]string{"error_kind"},
		),
		SamplingDecisionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "sampling",
				Name:      "decisions_total",
				Help:      "Completed-trace sampling decisions by technique and outcome",
			},
			[]string{"technique", "outcome"},
		),
		PredictorQueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "predictor",
				Name:      "query_duration_seconds",
				Help:      "PredictStep/PredictWhole latency in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"operation"},
		),
		ActiveSubscriptions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "subscription",
				Name:      "active_watches",
				Help:      "Number of currently open subscribe_trace watches",
			},
		),
		HotStoreOpDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "hotstore",
				Name:      "op_duration_seconds",
				Help:      "Hot-store round trip latency by operation",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
			},
			[]string{"op"},
		),
	}
	return DefaultMetrics
}

// RecordEvent records one ingested event.
func (m *Metrics) RecordEvent(kind string, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.EventsTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordEventError records an ingest failure by error kind.
func (m *Metrics) RecordEventError(errorKind string) {
	m.EventErrorsTotal.WithLabelValues(errorKind).Inc()
}

// RecordSamplingDecision records a completed-trace sampling outcome.
func (m *Metrics) RecordSamplingDecision(technique string, retained bool) {
	outcome := "discarded"
	if retained {
		outcome = "retained"
	}
	m.SamplingDecisionsTotal.WithLabelValues(technique, outcome).Inc()
}

// RecordPredictorQuery records a predictor query's latency.
func (m *Metrics) RecordPredictorQuery(operation string, seconds float64) {
	m.PredictorQueryDuration.WithLabelValues(operation).Observe(seconds)
}

// SubscriptionOpened increments the active-watch gauge.
func (m *Metrics) SubscriptionOpened() {
	m.ActiveSubscriptions.Inc()
}

// SubscriptionClosed decrements the active-watch gauge.
func (m *Metrics) SubscriptionClosed() {
	m.ActiveSubscriptions.Dec()
}

// RecordHotStoreOp records a hot-store operation's latency.
func (m *Metrics) RecordHotStoreOp(op string, seconds float64) {
	m.HotStoreOpDuration.WithLabelValues(op).Observe(seconds)
}
