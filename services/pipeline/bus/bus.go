// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package bus provides the in-process progress broker for document pipelines.
//
// # Description
//
// The bus fans out ProgressEvents to any number of subscribers keyed by
// document ID. Publishing never blocks: each subscriber owns a bounded
// buffer and the oldest event is dropped when it fills. A subscriber that
// falls behind can always recover by re-reading the document record, since
// terminal state is persisted before it is published.
//
// # Thread Safety
//
// All operations are safe under concurrent publishers and subscribers.
//
// # Limitations
//
//   - Single process only. A multi-instance deployment must pin a document
//     to one instance or replace this package with an external broker.
package bus

import (
	"log/slog"
	"sync"

	"github.com/AleutianAI/LabInsights/services/pipeline/datatypes"
)

// DefaultBufferSize is the per-subscriber event buffer capacity.
const DefaultBufferSize = 16

// UnsubscribeFunc detaches a subscriber. Idempotent; closes the channel.
type UnsubscribeFunc func()

// subscriber is one attached stream consumer.
type subscriber struct {
	ch     chan datatypes.ProgressEvent
	closed bool
}

// ProgressBus is the process-wide progress broker.
//
// # Description
//
// Construct one per process with New and share it between the orchestrator,
// the watchdog, and the HTTP handlers. Tests create isolated instances.
//
// # Fields
//
//   - bufferSize: Capacity of each subscriber's buffer.
//   - subs: Active subscribers per document ID.
//
// # Thread Safety
//
// Safe for concurrent use. The mutex guards the subscriber registry and the
// closed flag of each subscriber; buffers are per-subscriber channels.
type ProgressBus struct {
	bufferSize int

	mu   sync.Mutex
	subs map[string][]*subscriber

	// onDrop, when set, observes dropped events (metrics hook).
	onDrop func(documentID string)
}

// Option configures a ProgressBus.
type Option func(*ProgressBus)

// WithBufferSize overrides the per-subscriber buffer capacity. Values below
// 8 are raised to 8 to honor the delivery contract.
func WithBufferSize(n int) Option {
	return func(b *ProgressBus) {
		if n < 8 {
			n = 8
		}
		b.bufferSize = n
	}
}

// WithDropObserver installs a callback invoked whenever a subscriber's
// oldest event is dropped. Used to feed the dropped-event counter.
func WithDropObserver(fn func(documentID string)) Option {
	return func(b *ProgressBus) {
		b.onDrop = fn
	}
}

// New creates an empty ProgressBus.
func New(opts ...Option) *ProgressBus {
	b := &ProgressBus{
		bufferSize: DefaultBufferSize,
		subs:       make(map[string][]*subscriber),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish delivers an event to every active subscriber of its document.
//
// # Description
//
// Never blocks. For each subscriber the event is enqueued; if the buffer is
// full, the oldest buffered event is discarded first. Events reach a single
// subscriber in publish order.
//
// # Inputs
//
//   - event: Complete document snapshot. DocumentID selects the subscribers.
func (b *ProgressBus) Publish(event datatypes.ProgressEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs[event.DocumentID] {
		if sub.closed {
			continue
		}
		for {
			select {
			case sub.ch <- event:
			default:
				// Buffer full: drop the oldest and retry. The registry lock
				// excludes concurrent publishers, so the retry cannot race
				// another producer for the freed slot.
				select {
				case <-sub.ch:
					if b.onDrop != nil {
						b.onDrop(event.DocumentID)
					}
				default:
				}
				continue
			}
			break
		}
	}
}

// Subscribe attaches a consumer to a document's event stream.
//
// # Inputs
//
//   - documentID: The document to follow.
//
// # Outputs
//
//   - <-chan datatypes.ProgressEvent: Receive-only event channel. Closed by
//     the returned UnsubscribeFunc.
//   - UnsubscribeFunc: Detaches and closes the channel. Idempotent.
func (b *ProgressBus) Subscribe(documentID string) (<-chan datatypes.ProgressEvent, UnsubscribeFunc) {
	sub := &subscriber{ch: make(chan datatypes.ProgressEvent, b.bufferSize)}

	b.mu.Lock()
	b.subs[documentID] = append(b.subs[documentID], sub)
	count := len(b.subs[documentID])
	b.mu.Unlock()

	slog.Debug("progress subscriber attached", "document_id", documentID, "subscribers", count)

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			sub.closed = true
			close(sub.ch)
			list := b.subs[documentID]
			for i, s := range list {
				if s == sub {
					b.subs[documentID] = append(list[:i], list[i+1:]...)
					break
				}
			}
			if len(b.subs[documentID]) == 0 {
				delete(b.subs, documentID)
			}
		})
	}
	return sub.ch, unsubscribe
}

// SubscriberCount returns the number of active subscribers for a document.
// Used by metrics and tests.
func (b *ProgressBus) SubscriberCount(documentID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[documentID])
}
