// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the pipeline service.
//
// # Description
//
// Metrics cover document throughput (by terminal outcome), per-stage
// latency, live pipeline and subscriber gauges, dropped progress events,
// and watchdog activity. Exposed via the /metrics endpoint; use with
// Prometheus + Grafana for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
// All helper methods tolerate a nil receiver so call sites need no guards
// when metrics are disabled (tests).
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics.
const metricsNamespace = "labinsights"

// Subsystem for pipeline metrics.
const pipelineSubsystem = "pipeline"

// PipelineMetrics holds all Prometheus metrics for document processing.
//
// # Fields
//
//   - DocumentsTotal: Counter of finished documents by outcome.
//   - StageDurationSeconds: Histogram of per-stage latency.
//   - ActivePipelines: Gauge of currently running orchestrator tasks.
//   - Subscribers: Gauge of attached progress-stream subscribers.
//   - DroppedEventsTotal: Counter of progress events dropped for slow
//     subscribers.
//   - WatchdogSweepsTotal: Counter of watchdog sweeps and flipped documents.
//   - OCRRetriesTotal: Counter of transient OCR retries.
type PipelineMetrics struct {
	// DocumentsTotal counts terminal documents.
	// Labels: outcome (complete, error, cancelled)
	DocumentsTotal *prometheus.CounterVec

	// StageDurationSeconds measures wall time spent in each stage.
	// Labels: stage (ocr_extraction, ai_analysis, saving_results)
	StageDurationSeconds *prometheus.HistogramVec

	// ActivePipelines tracks running orchestrator tasks.
	ActivePipelines prometheus.Gauge

	// Subscribers tracks attached progress subscribers.
	Subscribers prometheus.Gauge

	// DroppedEventsTotal counts events dropped under back-pressure.
	DroppedEventsTotal prometheus.Counter

	// WatchdogSweepsTotal counts sweeps by result.
	// Labels: result (clean, flipped)
	WatchdogSweepsTotal *prometheus.CounterVec

	// OCRRetriesTotal counts transient OCR retries.
	OCRRetriesTotal prometheus.Counter
}

// DefaultMetrics is the singleton instance. Initialized by InitMetrics().
var DefaultMetrics *PipelineMetrics

// InitMetrics creates and registers all metrics on the default registry.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration). Call once from main.
func InitMetrics() *PipelineMetrics {
	DefaultMetrics = &PipelineMetrics{
		DocumentsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "documents_total",
				Help:      "Total documents reaching a terminal state by outcome",
			},
			[]string{"outcome"},
		),

		StageDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "stage_duration_seconds",
				Help:      "Wall time spent in each pipeline stage",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"stage"},
		),

		ActivePipelines: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: pipelineSubsystem,
			Name:      "active_pipelines",
			Help:      "Number of currently running document pipelines",
		}),

		Subscribers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: pipelineSubsystem,
			Name:      "progress_subscribers",
			Help:      "Number of attached progress-stream subscribers",
		}),

		DroppedEventsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: pipelineSubsystem,
			Name:      "dropped_events_total",
			Help:      "Progress events dropped because a subscriber fell behind",
		}),

		WatchdogSweepsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "watchdog_sweeps_total",
				Help:      "Watchdog sweeps by result",
			},
			[]string{"result"},
		),

		OCRRetriesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: pipelineSubsystem,
			Name:      "ocr_retries_total",
			Help:      "Transient OCR failures that were retried",
		}),
	}
	return DefaultMetrics
}

// RecordOutcome records a terminal document.
func (m *PipelineMetrics) RecordOutcome(outcome string) {
	if m == nil {
		return
	}
	m.DocumentsTotal.WithLabelValues(outcome).Inc()
}

// RecordStageDuration records time spent in one stage.
func (m *PipelineMetrics) RecordStageDuration(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDurationSeconds.WithLabelValues(stage).Observe(d.Seconds())
}

// PipelineStarted increments the active pipelines gauge.
func (m *PipelineMetrics) PipelineStarted() {
	if m == nil {
		return
	}
	m.ActivePipelines.Inc()
}

// PipelineEnded decrements the active pipelines gauge.
func (m *PipelineMetrics) PipelineEnded() {
	if m == nil {
		return
	}
	m.ActivePipelines.Dec()
}

// SubscriberAttached increments the subscriber gauge.
func (m *PipelineMetrics) SubscriberAttached() {
	if m == nil {
		return
	}
	m.Subscribers.Inc()
}

// SubscriberDetached decrements the subscriber gauge.
func (m *PipelineMetrics) SubscriberDetached() {
	if m == nil {
		return
	}
	m.Subscribers.Dec()
}

// RecordDroppedEvent counts one dropped progress event.
func (m *PipelineMetrics) RecordDroppedEvent() {
	if m == nil {
		return
	}
	m.DroppedEventsTotal.Inc()
}

// RecordSweep records one watchdog sweep.
func (m *PipelineMetrics) RecordSweep(flipped int) {
	if m == nil {
		return
	}
	if flipped > 0 {
		m.WatchdogSweepsTotal.WithLabelValues("flipped").Add(float64(flipped))
		return
	}
	m.WatchdogSweepsTotal.WithLabelValues("clean").Inc()
}

// RecordOCRRetry counts one transient OCR retry.
func (m *PipelineMetrics) RecordOCRRetry() {
	if m == nil {
		return
	}
	m.OCRRetriesTotal.Inc()
}
