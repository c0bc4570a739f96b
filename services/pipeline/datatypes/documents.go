// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures for the document pipeline service.
//
// This file contains the Document aggregate and its children, plus the
// transient structures exchanged between the OCR, extraction, and insight
// agents. Progress events live in events.go, error kinds in errors.go.
package datatypes

import (
	"time"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxUploadBytes is the maximum accepted upload size.
	MaxUploadBytes = 10 * 1024 * 1024 // 10MB

	// ProgressOCR is the progress written on entry to the OCR stage.
	ProgressOCR = 10

	// ProgressAnalysis is the progress written on entry to the AI analysis stage.
	ProgressAnalysis = 50

	// ProgressSaving is the progress written on entry to the saving stage.
	ProgressSaving = 90

	// ProgressComplete is the terminal progress value.
	ProgressComplete = 100
)

// =============================================================================
// Enumerations
// =============================================================================

// DocumentStatus is the coarse lifecycle state of a Document.
type DocumentStatus string

const (
	// StatusProcessing means an orchestrator task owns the document.
	StatusProcessing DocumentStatus = "processing"

	// StatusComplete means an AnalysisResult exists and progress is 100.
	StatusComplete DocumentStatus = "complete"

	// StatusError means processing terminated with a non-empty error message.
	StatusError DocumentStatus = "error"
)

// ProcessingStage is the fine-grained pipeline position of a Document.
type ProcessingStage string

const (
	// StageOCRExtraction covers download + OCR of the original bytes.
	StageOCRExtraction ProcessingStage = "ocr_extraction"

	// StageAIAnalysis covers the extraction and insight agent calls.
	StageAIAnalysis ProcessingStage = "ai_analysis"

	// StageSavingResults covers the analysis write.
	StageSavingResults ProcessingStage = "saving_results"

	// StageComplete is terminal.
	StageComplete ProcessingStage = "complete"

	// StageNone is used when no stage applies (never while processing).
	StageNone ProcessingStage = "none"
)

// MimeKind is the accepted upload media type.
type MimeKind string

const (
	MimePDF  MimeKind = "pdf"
	MimePNG  MimeKind = "png"
	MimeJPEG MimeKind = "jpeg"
)

// MimeKindFromContentType maps an HTTP content type to a MimeKind.
//
// # Inputs
//
//   - contentType: The sniffed or declared content type, e.g. "application/pdf".
//
// # Outputs
//
//   - MimeKind: The matching kind.
//   - bool: false if the content type is not accepted.
func MimeKindFromContentType(contentType string) (MimeKind, bool) {
	switch contentType {
	case "application/pdf":
		return MimePDF, true
	case "image/png":
		return MimePNG, true
	case "image/jpeg", "image/jpg":
		return MimeJPEG, true
	default:
		return "", false
	}
}

// =============================================================================
// Document Aggregate
// =============================================================================

// Document is the aggregate root for one uploaded lab report.
//
// # Description
//
// A Document is created at upload time and mutated only by the pipeline
// orchestrator and the stuck-document watchdog. It exclusively owns its
// AnalysisResult and the result's HealthMarkers (cascade delete). The
// storage object behind StorageRef is a weak reference: losing it does not
// invalidate the record.
//
// # Invariants
//
//   - Status complete implies Stage complete, Progress 100, ProcessedAt set,
//     and exactly one AnalysisResult.
//   - Status error implies a non-empty ErrorMessage.
//   - Progress is monotonically non-decreasing while Status is processing;
//     only an explicit retry reset may lower it.
type Document struct {
	ID              string          `json:"document_id"`
	Filename        string          `json:"filename"`
	MimeKind        MimeKind        `json:"mime_kind"`
	UploadedAt      time.Time       `json:"uploaded_at"`
	StorageRef      string          `json:"-"`
	FetchURL        string          `json:"-"`
	Status          DocumentStatus  `json:"status"`
	ProcessingStage ProcessingStage `json:"processing_stage"`
	Progress        int             `json:"progress"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	ProcessedAt     *time.Time      `json:"processed_at,omitempty"`
	RawText         string          `json:"-"`

	// Analysis is populated on reads when an AnalysisResult exists.
	Analysis *AnalysisResult `json:"analysis,omitempty"`

	// UpdatedAt is the time of the last progress/status write. The watchdog
	// uses it to find stuck documents.
	UpdatedAt time.Time `json:"-"`
}

// Terminal reports whether the document is in a terminal status.
func (d *Document) Terminal() bool {
	return d.Status == StatusComplete || d.Status == StatusError
}

// AnalysisResult is the 0..1 child of a Document holding the insight output.
type AnalysisResult struct {
	ID              string         `json:"id"`
	DocumentID      string         `json:"document_id"`
	Summary         string         `json:"summary"`
	KeyFindings     []string       `json:"key_findings"`
	Recommendations []string       `json:"recommendations"`
	Disclaimer      string         `json:"disclaimer"`
	DocumentType    string         `json:"document_type"`
	TestDate        string         `json:"test_date,omitempty"`
	Markers         []HealthMarker `json:"markers"`
}

// HealthMarker is one extracted measurement.
//
// Value is stored verbatim as emitted by the extractor, sign and decimals
// included. The core never coerces it to a number; numeric interpretation is
// a consumer concern. ReferenceRange is the raw extracted string and is
// never synthesized.
type HealthMarker struct {
	Marker         string `json:"marker"`
	Value          string `json:"value"`
	Unit           string `json:"unit,omitempty"`
	ReferenceRange string `json:"reference_range,omitempty"`
}

// =============================================================================
// Agent Payloads
// =============================================================================

// HealthDataExtraction is the validated output of the extraction agent.
//
// Markers may be empty; an empty list is a soft anomaly, not a failure.
// TestDate, when present, is a normalized ISO-8601 date (YYYY-MM-DD).
type HealthDataExtraction struct {
	Markers      []HealthMarker `json:"markers"`
	DocumentType string         `json:"document_type,omitempty"`
	TestDate     string         `json:"test_date,omitempty"`
}

// HealthInsights is the validated output of the insight agent.
//
// Data is always the extraction the caller passed in; the model is not
// trusted to echo it back.
type HealthInsights struct {
	Data            HealthDataExtraction `json:"data"`
	Summary         string               `json:"summary"`
	KeyFindings     []string             `json:"key_findings"`
	Recommendations []string             `json:"recommendations"`
	Disclaimer      string               `json:"disclaimer"`
}
