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
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestMimeKindFromContentType(t *testing.T) {
	tests := []struct {
		contentType string
		want        MimeKind
		ok          bool
	}{
		{"application/pdf", MimePDF, true},
		{"image/png", MimePNG, true},
		{"image/jpeg", MimeJPEG, true},
		{"image/jpg", MimeJPEG, true},
		{"image/gif", "", false},
		{"text/plain", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		got, ok := MimeKindFromContentType(tt.contentType)
		if ok != tt.ok || got != tt.want {
			t.Errorf("MimeKindFromContentType(%q) = (%q, %v), want (%q, %v)",
				tt.contentType, got, ok, tt.want, tt.ok)
		}
	}
}

func TestKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrInputInvalid, "InputInvalid"},
		{ErrOCRTransient, "OCRTransient"},
		{ErrOCRPermanent, "OCRPermanent"},
		{ErrExtractionMalformed, "ExtractionMalformed"},
		{ErrInsightMalformed, "InsightMalformed"},
		{ErrNotRetryable, "NotRetryable"},
		{ErrTimeout, "Timeout"},
		{fmt.Errorf("ocr failed: %w", ErrOCRTransient), "OCRTransient"},
		{fmt.Errorf("plain"), "internal"},
	}

	for _, tt := range tests {
		if got := Kind(tt.err); got != tt.want {
			t.Errorf("Kind(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{ErrInputInvalid, http.StatusBadRequest},
		{ErrNotFound, http.StatusNotFound},
		{ErrNotRetryable, http.StatusConflict},
		{ErrStorageUnavailable, http.StatusServiceUnavailable},
		{ErrRecordStoreUnavailable, http.StatusServiceUnavailable},
		{ErrLLMUnavailable, http.StatusServiceUnavailable},
		{ErrOCRPermanent, http.StatusInternalServerError},
		{fmt.Errorf("wrapped: %w", ErrNotFound), http.StatusNotFound},
	}

	for _, tt := range tests {
		if got := HTTPStatus(tt.err); got != tt.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestSnapshotEvent(t *testing.T) {
	uploaded := time.Now().UTC()
	processed := uploaded.Add(30 * time.Second)

	doc := &Document{
		ID:              "doc-1",
		Filename:        "blood.pdf",
		MimeKind:        MimePDF,
		UploadedAt:      uploaded,
		Status:          StatusComplete,
		ProcessingStage: StageComplete,
		Progress:        ProgressComplete,
		ProcessedAt:     &processed,
		RawText:         "Hemoglobin 14.5 g/dL (13.5-17.5)",
		Analysis: &AnalysisResult{
			Summary:         "All values within range.",
			KeyFindings:     []string{"All values normal."},
			Recommendations: []string{"Maintain current habits."},
			Disclaimer:      "Not professional medical advice.",
			DocumentType:    "Blood Test Report",
			Markers: []HealthMarker{
				{Marker: "Hemoglobin", Value: "14.5", Unit: "g/dL", ReferenceRange: "13.5-17.5"},
			},
		},
	}

	ev := SnapshotEvent(doc)

	if !ev.Terminal() {
		t.Fatal("snapshot of a complete document should be terminal")
	}
	if ev.DocumentID != "doc-1" || ev.Progress != 100 {
		t.Errorf("unexpected snapshot identity: %+v", ev)
	}
	if ev.ExtractedData == nil || len(ev.ExtractedData.Markers) != 1 {
		t.Fatalf("snapshot should carry extracted markers, got %+v", ev.ExtractedData)
	}
	if ev.AIInsights == nil || ev.AIInsights.Summary == "" {
		t.Fatalf("snapshot should carry insights, got %+v", ev.AIInsights)
	}
	if ev.AIInsights.Data.Markers[0].Value != "14.5" {
		t.Errorf("insights must embed the extraction verbatim, got %+v", ev.AIInsights.Data)
	}

	// An in-flight document must not be terminal and must not carry payloads.
	inflight := &Document{ID: "doc-2", Status: StatusProcessing, ProcessingStage: StageOCRExtraction, Progress: ProgressOCR}
	got := SnapshotEvent(inflight)
	if got.Terminal() || got.ExtractedData != nil || got.AIInsights != nil {
		t.Errorf("in-flight snapshot should be bare, got %+v", got)
	}
}
