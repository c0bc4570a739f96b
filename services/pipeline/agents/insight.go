package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/AleutianAI/LabInsights/services/pipeline/datatypes"
	"github.com/AleutianAI/LabInsights/services/pipeline/jsonrepair"
	"github.com/AleutianAI/LabInsights/services/pipeline/rangeparse"
)

// LLMInsight implements InsightAgent over an OpenAI-compatible endpoint.
type LLMInsight struct {
	client *openai.Client
	model  string
}

var _ InsightAgent = (*LLMInsight)(nil)

// NewLLMInsight creates the insight agent.
func NewLLMInsight(apiKey, baseURL, model string) *LLMInsight {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("insight model not set, defaulting", "model", model)
	}
	return &LLMInsight{client: openai.NewClientWithConfig(cfg), model: model}
}

// annotatedMarker is the marker payload sent to the model: the extracted
// fields plus the locally computed assessment. The model is never asked to
// interpret ranges itself.
type annotatedMarker struct {
	datatypes.HealthMarker
	Assessment rangeparse.Verdict `json:"assessment"`
}

// Generate produces insights for an extraction. With zero markers the reply
// is built locally: there is nothing for the model to analyze and the
// deterministic wording satisfies the all-normal contract.
func (g *LLMInsight) Generate(ctx context.Context, data datatypes.HealthDataExtraction) (datatypes.HealthInsights, error) {
	if len(data.Markers) == 0 {
		slog.Info("no markers extracted, emitting baseline insights")
		return datatypes.HealthInsights{
			Data:            data,
			Summary:         "No individual lab markers could be read from this document, so there is nothing abnormal to report.",
			KeyFindings:     []string{"All values normal or not interpretable."},
			Recommendations: []string{"If you expected results here, try re-uploading a clearer copy of the report."},
			Disclaimer:      standardDisclaimer,
		}, nil
	}

	annotated := make([]annotatedMarker, 0, len(data.Markers))
	for _, m := range data.Markers {
		annotated = append(annotated, annotatedMarker{
			HealthMarker: m,
			Assessment:   rangeparse.Evaluate(m.Value, m.ReferenceRange),
		})
	}
	payload, err := json.Marshal(map[string]any{
		"document_type": data.DocumentType,
		"test_date":     data.TestDate,
		"markers":       annotated,
	})
	if err != nil {
		return datatypes.HealthInsights{}, fmt.Errorf("marshal insight payload: %w", err)
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: insightSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: string(payload)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return datatypes.HealthInsights{}, fmt.Errorf("insight call failed: %w: %v", datatypes.ErrLLMUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return datatypes.HealthInsights{}, fmt.Errorf("insight returned no choices: %w", datatypes.ErrLLMUnavailable)
	}

	return parseInsights(resp.Choices[0].Message.Content, data)
}

// parseInsights repairs and validates a model reply, reattaching the
// caller's extraction. Any "data" the model echoed back is discarded.
func parseInsights(reply string, data datatypes.HealthDataExtraction) (datatypes.HealthInsights, error) {
	obj, err := jsonrepair.ParseObject(reply)
	if err != nil {
		return datatypes.HealthInsights{}, fmt.Errorf("insight reply: %w: %v", datatypes.ErrInsightMalformed, err)
	}

	summary, ok := jsonrepair.AsString(obj["summary"])
	if !ok || strings.TrimSpace(summary) == "" {
		return datatypes.HealthInsights{}, fmt.Errorf("insight reply missing summary: %w", datatypes.ErrInsightMalformed)
	}

	findings := jsonrepair.AsStringSlice(obj["key_findings"])
	if len(findings) == 0 {
		findings = []string{"All values normal or not interpretable."}
	}
	recommendations := jsonrepair.AsStringSlice(obj["recommendations"])

	disclaimer, _ := jsonrepair.AsString(obj["disclaimer"])
	if !strings.Contains(strings.ToLower(disclaimer), "professional medical advice") {
		disclaimer = standardDisclaimer
	}

	return datatypes.HealthInsights{
		Data:            data,
		Summary:         summary,
		KeyFindings:     findings,
		Recommendations: recommendations,
		Disclaimer:      disclaimer,
	}, nil
}
