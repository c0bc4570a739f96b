package agents

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/AleutianAI/LabInsights/services/pipeline/datatypes"
	"github.com/AleutianAI/LabInsights/services/pipeline/jsonrepair"
)

// LLMExtraction implements ExtractionAgent over an OpenAI-compatible chat
// completions endpoint in JSON-object response mode.
type LLMExtraction struct {
	client *openai.Client
	model  string
}

var _ ExtractionAgent = (*LLMExtraction)(nil)

// NewLLMExtraction creates the extraction agent.
//
// baseURL may point at any OpenAI-compatible endpoint; empty uses the
// OpenAI default.
func NewLLMExtraction(apiKey, baseURL, model string) *LLMExtraction {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("extraction model not set, defaulting", "model", model)
	}
	return &LLMExtraction{client: openai.NewClientWithConfig(cfg), model: model}
}

// Extract sends the raw text to the model and converts the reply into a
// HealthDataExtraction. Individual malformed markers are dropped with a log
// line; a missing or non-list "markers" key fails the whole extraction.
func (e *LLMExtraction) Extract(ctx context.Context, rawText string) (datatypes.HealthDataExtraction, error) {
	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: extractionSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: rawText},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return datatypes.HealthDataExtraction{}, fmt.Errorf("extraction call failed: %w: %v", datatypes.ErrLLMUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return datatypes.HealthDataExtraction{}, fmt.Errorf("extraction returned no choices: %w", datatypes.ErrLLMUnavailable)
	}

	return parseExtraction(resp.Choices[0].Message.Content)
}

// parseExtraction repairs, validates, and converts a model reply. Split out
// for direct testing against captured model output.
func parseExtraction(reply string) (datatypes.HealthDataExtraction, error) {
	obj, err := jsonrepair.ParseObject(reply)
	if err != nil {
		return datatypes.HealthDataExtraction{}, fmt.Errorf("extraction reply: %w: %v", datatypes.ErrExtractionMalformed, err)
	}

	rawMarkers, ok := obj["markers"]
	if !ok {
		return datatypes.HealthDataExtraction{}, fmt.Errorf("extraction reply missing markers key: %w", datatypes.ErrExtractionMalformed)
	}
	if _, isList := rawMarkers.([]any); !isList {
		return datatypes.HealthDataExtraction{}, fmt.Errorf("extraction markers is not a list: %w", datatypes.ErrExtractionMalformed)
	}

	var out datatypes.HealthDataExtraction
	for _, m := range jsonrepair.AsObjectSlice(rawMarkers) {
		name, okName := jsonrepair.AsString(m["marker"])
		value, okValue := jsonrepair.AsString(m["value"])
		if !okName || !okValue || name == "" {
			slog.Warn("dropping malformed marker from extraction", "marker", m)
			continue
		}
		unit, _ := jsonrepair.AsString(m["unit"])
		rng, _ := jsonrepair.AsString(m["reference_range"])
		out.Markers = append(out.Markers, datatypes.HealthMarker{
			Marker:         name,
			Value:          value,
			Unit:           unit,
			ReferenceRange: rng,
		})
	}

	out.DocumentType, _ = jsonrepair.AsString(obj["document_type"])
	if raw, ok := jsonrepair.AsString(obj["test_date"]); ok {
		out.TestDate = normalizeTestDate(raw)
	}

	if len(out.Markers) == 0 {
		// Soft anomaly: an empty report still flows downstream.
		slog.Warn("extraction produced zero markers")
	}
	return out, nil
}

// testDateLayouts are tried in order for best-effort date normalization.
var testDateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"02.01.2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"2 January 2006",
	time.RFC3339,
}

// normalizeTestDate converts a printed date to ISO-8601, or returns "" when
// no layout matches.
func normalizeTestDate(raw string) string {
	for _, layout := range testDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format("2006-01-02")
		}
	}
	slog.Debug("unparseable test date dropped", "raw", raw)
	return ""
}
