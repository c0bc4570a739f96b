// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/LabInsights/services/pipeline/bus"
	"github.com/AleutianAI/LabInsights/services/pipeline/datatypes"
	"github.com/AleutianAI/LabInsights/services/pipeline/observability"
	"github.com/AleutianAI/LabInsights/services/pipeline/store"
)

// heartbeatInterval keeps idle SSE connections alive through proxies.
const heartbeatInterval = 15 * time.Second

// StreamProgress streams a document's progress events as SSE.
//
// # Description
//
// The subscription is taken out before the catch-up read so no event can
// fall between them. The current record is sent first as a snapshot, so a
// client joining mid-flight renders immediately; live events follow. Any
// event that would move progress backwards relative to what this stream
// already sent is suppressed (the snapshot may be ahead of events queued
// before it), except a progress-0 reset from a retry, which rewinds the
// stream so the re-run's events flow through. An event repeating the
// exact state already sent is dropped. The stream closes after the first
// terminal event, after a terminal snapshot, or when the client
// disconnects.
func StreamProgress(records store.RecordStore, events *bus.ProgressBus, metrics *observability.PipelineMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")

		ch, unsubscribe := events.Subscribe(id)
		defer unsubscribe()
		metrics.SubscriberAttached()
		defer metrics.SubscriberDetached()

		doc, err := records.GetDocument(c.Request.Context(), id)
		if err != nil {
			writeError(c, err, "document not found")
			return
		}

		SetSSEHeaders(c.Writer)
		w, err := NewEventWriter(c.Writer)
		if err != nil {
			writeError(c, err, "streaming not supported")
			return
		}

		snapshot := datatypes.SnapshotEvent(doc)
		if err := w.WriteEvent(snapshot); err != nil {
			slog.Debug("stream client gone before snapshot", "document_id", id)
			return
		}
		if snapshot.Terminal() {
			return
		}
		lastProgress := snapshot.Progress
		lastStage := snapshot.ProcessingStage
		lastStatus := snapshot.Status

		slog.Info("progress stream attached", "document_id", id)

		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-c.Request.Context().Done():
				slog.Debug("stream client disconnected", "document_id", id)
				return

			case ev, ok := <-ch:
				if !ok {
					return
				}
				if !ev.Terminal() {
					if ev.Progress == 0 {
						// A retry reset: follow the document back down.
						lastProgress = 0
					} else if ev.Progress < lastProgress {
						// Stale events queued before the snapshot would move
						// the stream backwards.
						continue
					} else if ev.Progress == lastProgress &&
						ev.ProcessingStage == lastStage && ev.Status == lastStatus {
						// Already sent, as the snapshot or a live event.
						continue
					}
				}
				if err := w.WriteEvent(ev); err != nil {
					slog.Debug("stream write failed", "document_id", id, "error", err)
					return
				}
				lastProgress = ev.Progress
				lastStage = ev.ProcessingStage
				lastStatus = ev.Status
				if ev.Terminal() {
					slog.Info("progress stream completed", "document_id", id, "status", ev.Status)
					return
				}

			case <-ticker.C:
				if err := w.WriteHeartbeat(); err != nil {
					slog.Debug("heartbeat write failed", "document_id", id, "error", err)
					return
				}
			}
		}
	}
}
