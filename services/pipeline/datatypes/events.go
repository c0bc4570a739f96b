// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"time"
)

// =============================================================================
// Progress Events
// =============================================================================

// ProgressEvent is a complete snapshot of a document's state, published on
// the progress bus whenever the orchestrator or watchdog changes it.
//
// # Description
//
// Every event carries enough state for a subscriber joining mid-flight to
// render the document without any prior events. Optional payload fields are
// only populated once the corresponding stage has produced them.
//
// # Thread Safety
//
// Events are value types; publishers and subscribers never share pointers
// into mutable state.
type ProgressEvent struct {
	DocumentID      string                `json:"document_id"`
	Status          DocumentStatus        `json:"status"`
	ProcessingStage ProcessingStage       `json:"processing_stage"`
	Progress        int                   `json:"progress"`
	Filename        string                `json:"filename"`
	UploadedAt      time.Time             `json:"uploaded_at"`
	RawText         string                `json:"raw_text,omitempty"`
	ExtractedData   *HealthDataExtraction `json:"extracted_data,omitempty"`
	AIInsights      *HealthInsights       `json:"ai_insights,omitempty"`
	ErrorMessage    string                `json:"error_message,omitempty"`
	ProcessedAt     *time.Time            `json:"processed_at,omitempty"`
}

// Terminal reports whether this event ends the stream for its document.
func (e ProgressEvent) Terminal() bool {
	return e.Status == StatusComplete || e.Status == StatusError
}

// SnapshotEvent builds a catch-up ProgressEvent from the current document
// record. Used when a subscriber joins mid-flight and when the watchdog or
// handlers publish without an in-memory pipeline state.
func SnapshotEvent(doc *Document) ProgressEvent {
	ev := ProgressEvent{
		DocumentID:      doc.ID,
		Status:          doc.Status,
		ProcessingStage: doc.ProcessingStage,
		Progress:        doc.Progress,
		Filename:        doc.Filename,
		UploadedAt:      doc.UploadedAt,
		RawText:         doc.RawText,
		ErrorMessage:    doc.ErrorMessage,
		ProcessedAt:     doc.ProcessedAt,
	}
	if doc.Analysis != nil {
		ev.ExtractedData = &HealthDataExtraction{
			Markers:      doc.Analysis.Markers,
			DocumentType: doc.Analysis.DocumentType,
			TestDate:     doc.Analysis.TestDate,
		}
		ev.AIInsights = &HealthInsights{
			Data:            *ev.ExtractedData,
			Summary:         doc.Analysis.Summary,
			KeyFindings:     doc.Analysis.KeyFindings,
			Recommendations: doc.Analysis.Recommendations,
			Disclaimer:      doc.Analysis.Disclaimer,
		}
	}
	return ev
}
