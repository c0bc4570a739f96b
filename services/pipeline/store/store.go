// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store persists the Document aggregate and its analysis children.
//
// The RecordStore interface is the single write path for document state.
// The orchestrator owns progress/status writes, the watchdog owns the
// out-of-band processing->error transition, and the HTTP handlers own
// create/delete/retry. The SQLite implementation lives in sqlite.go.
package store

import (
	"context"
	"time"

	"github.com/AleutianAI/LabInsights/services/pipeline/datatypes"
)

// RecordStore is the CRUD surface over documents, analysis results, and
// health markers.
//
// # Description
//
// All operations are idempotent with respect to a stable document ID and
// return errors wrapping the datatypes sentinels (ErrNotFound,
// ErrNotRetryable, ErrInvariantViolation, ErrRecordStoreUnavailable).
//
// # Thread Safety
//
// Implementations must serialize per-document writes; database/sql
// connection pooling plus row-level statements provide that here.
type RecordStore interface {
	// CreateDocument inserts a new document in the initial processing state
	// (stage ocr_extraction, progress 0).
	CreateDocument(ctx context.Context, doc *datatypes.Document) error

	// GetDocument returns a document with its analysis, if any.
	// Returns ErrNotFound when the id does not exist.
	GetDocument(ctx context.Context, id string) (*datatypes.Document, error)

	// ListDocuments returns all documents in descending uploaded_at order.
	ListDocuments(ctx context.Context) ([]*datatypes.Document, error)

	// UpdateProgress sets stage and progress on a processing document.
	// A decrease is rejected with ErrInvariantViolation; only ResetForRetry
	// may lower progress.
	UpdateProgress(ctx context.Context, id string, stage datatypes.ProcessingStage, progress int) error

	// SetRawText persists the OCR output before AI analysis begins.
	SetRawText(ctx context.Context, id, rawText string) error

	// WriteAnalysis persists the analysis result and markers, and flips the
	// document to complete/100 with processed_at set. The write is atomic:
	// later readers observe all of it or none of it.
	WriteAnalysis(ctx context.Context, id, rawText string, insights datatypes.HealthInsights) error

	// MarkError sets status error with a message, keeping stage/progress.
	MarkError(ctx context.Context, id, message string) error

	// ResetForRetry clears error state and any previous analysis, returning
	// the document to processing/ocr_extraction/0. Returns ErrNotRetryable
	// when the document is complete.
	ResetForRetry(ctx context.Context, id string) error

	// DeleteDocument removes the document, cascading to its analysis and
	// markers. Returns ErrNotFound when the id does not exist.
	DeleteDocument(ctx context.Context, id string) error

	// FindStuck returns ids of processing documents whose last progress
	// write precedes the cutoff.
	FindStuck(ctx context.Context, olderThan time.Time) ([]string, error)

	// Close releases the underlying connections.
	Close() error
}
