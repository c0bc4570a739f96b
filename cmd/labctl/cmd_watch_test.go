// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"strings"
	"testing"

	"github.com/AleutianAI/LabInsights/services/pipeline/datatypes"
)

func TestParseSSELine(t *testing.T) {
	tests := []struct {
		name string
		line string
		ok   bool
	}{
		{"data frame", `data: {"document_id":"d1","status":"processing","processing_stage":"ocr_extraction","progress":10}`, true},
		{"comment frame", ":", false},
		{"blank separator", "", false},
		{"malformed json", "data: {not json", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := parseSSELine(tt.line)
			if ok != tt.ok {
				t.Fatalf("parseSSELine(%q) ok = %v, want %v", tt.line, ok, tt.ok)
			}
			if ok && ev.DocumentID != "d1" {
				t.Errorf("document_id = %q, want d1", ev.DocumentID)
			}
		})
	}
}

func TestFormatEvent(t *testing.T) {
	processing := datatypes.ProgressEvent{
		Status:          datatypes.StatusProcessing,
		ProcessingStage: datatypes.StageAIAnalysis,
		Progress:        50,
	}
	if got := formatEvent(processing); !strings.Contains(got, "50%") || !strings.Contains(got, "ai_analysis") {
		t.Errorf("processing line = %q", got)
	}

	failed := datatypes.ProgressEvent{
		Status:       datatypes.StatusError,
		Progress:     10,
		ErrorMessage: "text extraction failed",
	}
	if got := formatEvent(failed); !strings.Contains(got, "text extraction failed") {
		t.Errorf("error line = %q", got)
	}

	done := datatypes.ProgressEvent{
		Status:   datatypes.StatusComplete,
		Progress: 100,
		Filename: "blood.pdf",
		AIInsights: &datatypes.HealthInsights{
			Summary: "All markers within range.",
		},
	}
	got := formatEvent(done)
	if !strings.Contains(got, "blood.pdf") || !strings.Contains(got, "All markers within range.") {
		t.Errorf("complete line = %q", got)
	}
}
