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
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/AleutianAI/LabInsights/services/pipeline/datatypes"
)

// =============================================================================
// Interface Definition
// =============================================================================

// EventWriter defines the contract for writing progress events as
// Server-Sent Events.
//
// # Description
//
// EventWriter abstracts the SSE wire format from the stream handler.
// Events are written as anonymous data frames ("data: {json}\n\n") so any
// EventSource client receives them on its default message handler; no
// event names are used.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use: the stream handler
// writes events and heartbeats from one goroutine today, but the contract
// does not depend on it.
//
// # Limitations
//
//   - Must be used with an http.Flusher-compatible ResponseWriter.
//   - SetSSEHeaders must be called before the first write.
type EventWriter interface {
	// WriteEvent serializes the event to JSON and writes one SSE data
	// frame, flushing immediately.
	WriteEvent(event datatypes.ProgressEvent) error

	// WriteHeartbeat writes an SSE comment frame (":\n\n"). Clients ignore
	// it; proxies and load balancers see traffic and keep the connection.
	WriteHeartbeat() error
}

// =============================================================================
// Implementation
// =============================================================================

// sseWriter implements EventWriter over an http.ResponseWriter.
type sseWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
}

var _ EventWriter = (*sseWriter)(nil)

// NewEventWriter creates an EventWriter for the given ResponseWriter.
//
// # Outputs
//
//   - EventWriter: Ready to write events.
//   - error: Non-nil if the ResponseWriter does not support flushing.
func NewEventWriter(w http.ResponseWriter) (EventWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &sseWriter{writer: w, flusher: flusher}, nil
}

// WriteEvent writes one "data: {json}\n\n" frame and flushes.
func (w *sseWriter) WriteEvent(event datatypes.ProgressEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := fmt.Fprintf(w.writer, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// WriteHeartbeat writes a bare comment frame and flushes.
func (w *sseWriter) WriteHeartbeat() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := fmt.Fprint(w.writer, ":\n\n"); err != nil {
		return fmt.Errorf("write heartbeat: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// =============================================================================
// Helper Functions
// =============================================================================

// SetSSEHeaders configures HTTP response headers for SSE streaming.
//
// Must be called before writing any response body. X-Accel-Buffering
// disables nginx response buffering.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}
