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
	"errors"
	"sync"
)

// Cancellation causes. Tasks aborted with one of these never write error
// state; the caller (delete, retry, watchdog, shutdown) owns the record.
var (
	errTaskCancelled  = errors.New("task cancelled")
	errTaskSuperseded = errors.New("task superseded")
	errTaskShutdown   = errors.New("orchestrator shutting down")
)

// silentAbort reports whether cause means the task should exit without
// touching the document record.
func silentAbort(cause error) bool {
	return errors.Is(cause, errTaskCancelled) ||
		errors.Is(cause, errTaskSuperseded) ||
		errors.Is(cause, errTaskShutdown)
}

// taskHandle identifies one registered task so remove only ever detaches
// its own entry, never a successor registered for the same document.
type taskHandle struct {
	cancel context.CancelCauseFunc
}

// taskRegistry enforces the single-live-task invariant: at most one running
// pipeline per document ID.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type taskRegistry struct {
	mu    sync.Mutex
	tasks map[string]*taskHandle
}

func newTaskRegistry() *taskRegistry {
	return &taskRegistry{tasks: make(map[string]*taskHandle)}
}

// register installs cancel as the live task for id. Any existing task is
// cancelled with errTaskSuperseded first.
func (r *taskRegistry) register(id string, cancel context.CancelCauseFunc) *taskHandle {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.tasks[id]; ok {
		prev.cancel(errTaskSuperseded)
	}
	h := &taskHandle{cancel: cancel}
	r.tasks[id] = h
	return h
}

// cancel aborts the live task for id with the given cause. Returns false
// when no task is registered.
func (r *taskRegistry) cancel(id string, cause error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.tasks[id]
	if !ok {
		return false
	}
	h.cancel(cause)
	return true
}

// cancelAll aborts every live task. Used on shutdown.
func (r *taskRegistry) cancelAll(cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, h := range r.tasks {
		h.cancel(cause)
	}
}

// remove detaches h from id, but only if h is still the registered task.
func (r *taskRegistry) remove(id string, h *taskHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.tasks[id]; ok && cur == h {
		delete(r.tasks, id)
	}
}

// active reports whether a task is registered for id.
func (r *taskRegistry) active(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.tasks[id]
	return ok
}
