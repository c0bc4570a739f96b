// Package agents holds the OCR, extraction, and insight clients the
// pipeline orchestrator drives. Each agent is a narrow interface so tests
// and alternative providers can substitute implementations.
package agents

import (
	"context"

	"github.com/AleutianAI/LabInsights/services/pipeline/datatypes"
)

// OCRAgent turns stored document bytes into raw text.
type OCRAgent interface {
	// ExtractText downloads the document behind fetchURL and returns its
	// text. Network and provider 5xx failures wrap ErrOCRTransient;
	// 4xx/invalid-document failures wrap ErrOCRPermanent.
	ExtractText(ctx context.Context, fetchURL string, mime datatypes.MimeKind) (string, error)
}

// ExtractionAgent turns raw OCR text into structured health data.
type ExtractionAgent interface {
	// Extract returns the validated extraction. Schema failures after JSON
	// repair wrap ErrExtractionMalformed and are not retried; transport
	// failures wrap ErrLLMUnavailable.
	Extract(ctx context.Context, rawText string) (datatypes.HealthDataExtraction, error)
}

// InsightAgent turns an extraction into human-readable insights.
type InsightAgent interface {
	// Generate returns validated insights with Data set to the input
	// extraction; the model is never trusted to echo it back.
	Generate(ctx context.Context, data datatypes.HealthDataExtraction) (datatypes.HealthInsights, error)
}
