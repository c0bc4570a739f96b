// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/AleutianAI/LabInsights/services/pipeline/datatypes"
)

// =============================================================================
// Migrations
// =============================================================================

// migrations are applied in order at open time. Never edit a shipped entry;
// append a new version instead.
var migrations = []string{
	// v1: core schema
	`CREATE TABLE documents (
		id               TEXT PRIMARY KEY,
		filename         TEXT NOT NULL,
		mime_kind        TEXT NOT NULL,
		uploaded_at      TIMESTAMP NOT NULL,
		status           TEXT NOT NULL,
		processing_stage TEXT NOT NULL,
		progress         INTEGER NOT NULL DEFAULT 0,
		storage_ref      TEXT NOT NULL,
		fetch_url        TEXT NOT NULL,
		raw_text         TEXT,
		error_message    TEXT,
		processed_at     TIMESTAMP,
		updated_at       TIMESTAMP NOT NULL
	);
	CREATE TABLE analysis_results (
		id              TEXT PRIMARY KEY,
		document_id     TEXT NOT NULL UNIQUE REFERENCES documents(id) ON DELETE CASCADE,
		summary         TEXT NOT NULL,
		key_findings    TEXT NOT NULL,
		recommendations TEXT NOT NULL,
		disclaimer      TEXT NOT NULL,
		document_type   TEXT,
		test_date       TEXT
	);
	CREATE TABLE health_markers (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		analysis_id     TEXT NOT NULL REFERENCES analysis_results(id) ON DELETE CASCADE,
		marker          TEXT NOT NULL,
		value           TEXT NOT NULL,
		unit            TEXT,
		reference_range TEXT
	);
	CREATE INDEX idx_documents_status ON documents(status);
	CREATE INDEX idx_documents_uploaded_at ON documents(uploaded_at DESC);
	CREATE INDEX idx_documents_processing ON documents(status, processing_stage) WHERE status = 'processing';`,
}

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements RecordStore over database/sql + go-sqlite3.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ RecordStore = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the record store at the given DSN
// and applies pending migrations.
//
// # Inputs
//
//   - dsn: go-sqlite3 DSN, e.g. "file:labinsights.db" or ":memory:".
//
// # Outputs
//
//   - *SQLiteStore: Ready store with foreign keys enforced.
//   - error: Non-nil on open or migration failure.
func OpenSQLite(dsn string) (*SQLiteStore, error) {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite3", dsn+sep+"_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open record store: %w", err)
	}
	// go-sqlite3 serializes writes; a single connection avoids
	// SQLITE_BUSY churn under concurrent pipelines.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY, applied_at TIMESTAMP NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	var current int
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	for i := current; i < len(migrations); i++ {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, i+1, s.now()); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", i+1, err)
		}
		slog.Info("applied record store migration", "version", i+1)
	}
	return nil
}

// Close releases the underlying connections.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// Writes
// =============================================================================

// CreateDocument inserts a new document in the initial processing state.
func (s *SQLiteStore) CreateDocument(ctx context.Context, doc *datatypes.Document) error {
	doc.Status = datatypes.StatusProcessing
	doc.ProcessingStage = datatypes.StageOCRExtraction
	doc.Progress = 0
	doc.UpdatedAt = s.now()
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = doc.UpdatedAt
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, filename, mime_kind, uploaded_at, status, processing_stage,
			progress, storage_ref, fetch_url, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Filename, string(doc.MimeKind), doc.UploadedAt, string(doc.Status),
		string(doc.ProcessingStage), doc.Progress, doc.StorageRef, doc.FetchURL, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create document %s: %w: %v", doc.ID, datatypes.ErrRecordStoreUnavailable, err)
	}
	return nil
}

// UpdateProgress sets stage and progress, rejecting decreases.
func (s *SQLiteStore) UpdateProgress(ctx context.Context, id string, stage datatypes.ProcessingStage, progress int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET processing_stage = ?, progress = ?, updated_at = ?
		WHERE id = ? AND status = ? AND progress <= ?`,
		string(stage), progress, s.now(), id, string(datatypes.StatusProcessing), progress)
	if err != nil {
		return fmt.Errorf("update progress %s: %w: %v", id, datatypes.ErrRecordStoreUnavailable, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		doc, err := s.GetDocument(ctx, id)
		if err != nil {
			return err
		}
		return fmt.Errorf("progress %d -> %d on %s document %s: %w",
			doc.Progress, progress, doc.Status, id, datatypes.ErrInvariantViolation)
	}
	return nil
}

// SetRawText persists the OCR output.
func (s *SQLiteStore) SetRawText(ctx context.Context, id, rawText string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE documents SET raw_text = ? WHERE id = ?`, rawText, id)
	if err != nil {
		return fmt.Errorf("set raw text %s: %w: %v", id, datatypes.ErrRecordStoreUnavailable, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("document %s: %w", id, datatypes.ErrNotFound)
	}
	return nil
}

// WriteAnalysis persists the result and flips the document to complete.
func (s *SQLiteStore) WriteAnalysis(ctx context.Context, id, rawText string, insights datatypes.HealthInsights) error {
	findings, err := json.Marshal(insights.KeyFindings)
	if err != nil {
		return fmt.Errorf("marshal key findings: %w", err)
	}
	recommendations, err := json.Marshal(insights.Recommendations)
	if err != nil {
		return fmt.Errorf("marshal recommendations: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write analysis %s: %w: %v", id, datatypes.ErrRecordStoreUnavailable, err)
	}
	defer tx.Rollback()

	analysisID := uuid.New().String()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO analysis_results (id, document_id, summary, key_findings, recommendations,
			disclaimer, document_type, test_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		analysisID, id, insights.Summary, string(findings), string(recommendations),
		insights.Disclaimer, insights.Data.DocumentType, insights.Data.TestDate); err != nil {
		return fmt.Errorf("insert analysis for %s: %w: %v", id, datatypes.ErrRecordStoreUnavailable, err)
	}

	for _, m := range insights.Data.Markers {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO health_markers (analysis_id, marker, value, unit, reference_range)
			VALUES (?, ?, ?, ?, ?)`,
			analysisID, m.Marker, m.Value, m.Unit, m.ReferenceRange); err != nil {
			return fmt.Errorf("insert marker for %s: %w: %v", id, datatypes.ErrRecordStoreUnavailable, err)
		}
	}

	now := s.now()
	res, err := tx.ExecContext(ctx, `
		UPDATE documents SET status = ?, processing_stage = ?, progress = ?, raw_text = ?,
			processed_at = ?, error_message = NULL, updated_at = ?
		WHERE id = ?`,
		string(datatypes.StatusComplete), string(datatypes.StageComplete),
		datatypes.ProgressComplete, rawText, now, now, id)
	if err != nil {
		return fmt.Errorf("complete document %s: %w: %v", id, datatypes.ErrRecordStoreUnavailable, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("document %s: %w", id, datatypes.ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit analysis %s: %w: %v", id, datatypes.ErrRecordStoreUnavailable, err)
	}
	return nil
}

// MarkError sets status error, keeping current stage and progress.
func (s *SQLiteStore) MarkError(ctx context.Context, id, message string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		string(datatypes.StatusError), message, s.now(), id)
	if err != nil {
		return fmt.Errorf("mark error %s: %w: %v", id, datatypes.ErrRecordStoreUnavailable, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("document %s: %w", id, datatypes.ErrNotFound)
	}
	return nil
}

// ResetForRetry returns an errored or stuck document to its initial state,
// discarding any previous analysis and OCR text.
func (s *SQLiteStore) ResetForRetry(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("reset %s: %w: %v", id, datatypes.ErrRecordStoreUnavailable, err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM documents WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("document %s: %w", id, datatypes.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("reset %s: %w: %v", id, datatypes.ErrRecordStoreUnavailable, err)
	}
	if status == string(datatypes.StatusComplete) {
		return fmt.Errorf("document %s is complete: %w", id, datatypes.ErrNotRetryable)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM analysis_results WHERE document_id = ?`, id); err != nil {
		return fmt.Errorf("clear analysis %s: %w: %v", id, datatypes.ErrRecordStoreUnavailable, err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE documents SET status = ?, processing_stage = ?, progress = 0, raw_text = NULL,
			error_message = NULL, processed_at = NULL, updated_at = ?
		WHERE id = ?`,
		string(datatypes.StatusProcessing), string(datatypes.StageOCRExtraction), s.now(), id); err != nil {
		return fmt.Errorf("reset %s: %w: %v", id, datatypes.ErrRecordStoreUnavailable, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reset %s: %w: %v", id, datatypes.ErrRecordStoreUnavailable, err)
	}
	return nil
}

// DeleteDocument removes a document; the schema cascades to children.
func (s *SQLiteStore) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete document %s: %w: %v", id, datatypes.ErrRecordStoreUnavailable, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("document %s: %w", id, datatypes.ErrNotFound)
	}
	return nil
}

// =============================================================================
// Reads
// =============================================================================

const documentColumns = `id, filename, mime_kind, uploaded_at, status, processing_stage,
	progress, storage_ref, fetch_url, COALESCE(raw_text, ''), COALESCE(error_message, ''),
	processed_at, updated_at`

func (s *SQLiteStore) scanDocument(row *sql.Row) (*datatypes.Document, error) {
	var doc datatypes.Document
	var mime, status, stage string
	var processedAt sql.NullTime
	err := row.Scan(&doc.ID, &doc.Filename, &mime, &doc.UploadedAt, &status, &stage,
		&doc.Progress, &doc.StorageRef, &doc.FetchURL, &doc.RawText, &doc.ErrorMessage,
		&processedAt, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, datatypes.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan document: %w: %v", datatypes.ErrRecordStoreUnavailable, err)
	}
	doc.MimeKind = datatypes.MimeKind(mime)
	doc.Status = datatypes.DocumentStatus(status)
	doc.ProcessingStage = datatypes.ProcessingStage(stage)
	if processedAt.Valid {
		t := processedAt.Time
		doc.ProcessedAt = &t
	}
	return &doc, nil
}

// GetDocument returns a document with its analysis, if any.
func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*datatypes.Document, error) {
	doc, err := s.scanDocument(s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, datatypes.ErrNotFound) {
			return nil, fmt.Errorf("document %s: %w", id, datatypes.ErrNotFound)
		}
		return nil, err
	}
	if err := s.attachAnalysis(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// ListDocuments returns all documents, newest upload first.
func (s *SQLiteStore) ListDocuments(ctx context.Context) ([]*datatypes.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM documents ORDER BY uploaded_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w: %v", datatypes.ErrRecordStoreUnavailable, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("list documents: %w: %v", datatypes.ErrRecordStoreUnavailable, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list documents: %w: %v", datatypes.ErrRecordStoreUnavailable, err)
	}

	docs := make([]*datatypes.Document, 0, len(ids))
	for _, id := range ids {
		doc, err := s.GetDocument(ctx, id)
		if errors.Is(err, datatypes.ErrNotFound) {
			continue // deleted between the two queries
		}
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (s *SQLiteStore) attachAnalysis(ctx context.Context, doc *datatypes.Document) error {
	var a datatypes.AnalysisResult
	var findings, recommendations string
	var docType, testDate sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, summary, key_findings, recommendations, disclaimer,
			document_type, test_date
		FROM analysis_results WHERE document_id = ?`, doc.ID).
		Scan(&a.ID, &a.DocumentID, &a.Summary, &findings, &recommendations,
			&a.Disclaimer, &docType, &testDate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load analysis for %s: %w: %v", doc.ID, datatypes.ErrRecordStoreUnavailable, err)
	}
	a.DocumentType = docType.String
	a.TestDate = testDate.String
	if err := json.Unmarshal([]byte(findings), &a.KeyFindings); err != nil {
		return fmt.Errorf("decode key findings for %s: %w", doc.ID, err)
	}
	if err := json.Unmarshal([]byte(recommendations), &a.Recommendations); err != nil {
		return fmt.Errorf("decode recommendations for %s: %w", doc.ID, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT marker, value, COALESCE(unit, ''), COALESCE(reference_range, '')
		FROM health_markers WHERE analysis_id = ? ORDER BY id`, a.ID)
	if err != nil {
		return fmt.Errorf("load markers for %s: %w: %v", doc.ID, datatypes.ErrRecordStoreUnavailable, err)
	}
	defer rows.Close()
	for rows.Next() {
		var m datatypes.HealthMarker
		if err := rows.Scan(&m.Marker, &m.Value, &m.Unit, &m.ReferenceRange); err != nil {
			return fmt.Errorf("scan marker for %s: %w: %v", doc.ID, datatypes.ErrRecordStoreUnavailable, err)
		}
		a.Markers = append(a.Markers, m)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load markers for %s: %w: %v", doc.ID, datatypes.ErrRecordStoreUnavailable, err)
	}

	doc.Analysis = &a
	return nil
}

// FindStuck returns processing documents whose last write predates olderThan.
func (s *SQLiteStore) FindStuck(ctx context.Context, olderThan time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM documents WHERE status = ? AND updated_at < ?`,
		string(datatypes.StatusProcessing), olderThan)
	if err != nil {
		return nil, fmt.Errorf("find stuck: %w: %v", datatypes.ErrRecordStoreUnavailable, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("find stuck: %w: %v", datatypes.ErrRecordStoreUnavailable, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
