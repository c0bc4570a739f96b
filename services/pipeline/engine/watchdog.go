// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/AleutianAI/LabInsights/services/pipeline/bus"
	"github.com/AleutianAI/LabInsights/services/pipeline/datatypes"
	"github.com/AleutianAI/LabInsights/services/pipeline/observability"
	"github.com/AleutianAI/LabInsights/services/pipeline/store"
)

// Defaults for the stuck-document sweep.
const (
	DefaultSweepInterval  = 60 * time.Second
	DefaultStuckThreshold = 5 * time.Minute
)

// Watchdog flips stuck documents to error state.
//
// # Description
//
// A document is stuck when it is still processing but its last progress
// write is older than the threshold: its task crashed, the process
// restarted mid-flight, or an agent call is hanging past any useful point.
// Each sweep cancels any lingering task, marks the document with
// "processing timed out", and publishes the terminal event so attached
// streams close.
//
// # Thread Safety
//
// Run is the only entry point; one goroutine per Watchdog.
type Watchdog struct {
	records   store.RecordStore
	events    *bus.ProgressBus
	orch      *Orchestrator
	metrics   *observability.PipelineMetrics
	interval  time.Duration
	threshold time.Duration
}

// NewWatchdog creates a Watchdog. Zero interval/threshold take the
// defaults. metrics may be nil.
func NewWatchdog(
	records store.RecordStore,
	events *bus.ProgressBus,
	orch *Orchestrator,
	metrics *observability.PipelineMetrics,
	interval, threshold time.Duration,
) *Watchdog {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if threshold <= 0 {
		threshold = DefaultStuckThreshold
	}
	return &Watchdog{
		records:   records,
		events:    events,
		orch:      orch,
		metrics:   metrics,
		interval:  interval,
		threshold: threshold,
	}
}

// Run sweeps on the configured interval until ctx is done. An initial sweep
// runs immediately so documents stranded by a restart are flipped without
// waiting a full interval.
func (w *Watchdog) Run(ctx context.Context) {
	slog.Info("watchdog started", "interval", w.interval, "threshold", w.threshold)

	w.Sweep(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("watchdog stopped")
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep flips every stuck document once and returns how many were flipped.
func (w *Watchdog) Sweep(ctx context.Context) int {
	cutoff := time.Now().UTC().Add(-w.threshold)
	ids, err := w.records.FindStuck(ctx, cutoff)
	if err != nil {
		slog.Error("stuck-document query failed", "error", err)
		return 0
	}

	flipped := 0
	for _, id := range ids {
		if w.flip(ctx, id) {
			flipped++
		}
	}
	w.metrics.RecordSweep(flipped)
	if flipped > 0 {
		slog.Warn("watchdog flipped stuck documents", "count", flipped)
	}
	return flipped
}

// flip forces one stuck document to error state.
func (w *Watchdog) flip(ctx context.Context, id string) bool {
	// Kill any hung task first so its failure path (silenced by the
	// cancellation cause) cannot race this write.
	if w.orch != nil && w.orch.Cancel(id) {
		slog.Warn("cancelled hung pipeline task", "document_id", id)
	}

	if err := w.records.MarkError(ctx, id, msgTimeout); err != nil {
		slog.Error("failed to mark stuck document", "document_id", id, "error", err)
		return false
	}
	slog.Warn("stuck document marked as error", "document_id", id)

	doc, err := w.records.GetDocument(ctx, id)
	if err != nil {
		slog.Error("re-read of stuck document failed", "document_id", id, "error", err)
		return true
	}
	w.events.Publish(datatypes.SnapshotEvent(doc))
	return true
}
