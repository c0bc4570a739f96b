package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/AleutianAI/LabInsights/services/pipeline/datatypes"
)

// MistralOCR calls a Mistral-compatible OCR endpoint. The provider fetches
// the document itself from the signed URL we pass, so no bytes transit
// through this process.
type MistralOCR struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

var _ OCRAgent = (*MistralOCR)(nil)

// NewMistralOCR creates an OCR client.
func NewMistralOCR(baseURL, apiKey, model string) *MistralOCR {
	if model == "" {
		model = "mistral-ocr-latest"
		slog.Warn("OCR model not set, defaulting", "model", model)
	}
	return &MistralOCR{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		// OCR of a multi-page PDF can take a while; keep the timeout well
		// under the pipeline deadline so transient retries still fit.
		client: &http.Client{Timeout: 2 * time.Minute},
	}
}

type ocrRequest struct {
	Model    string      `json:"model"`
	Document ocrDocument `json:"document"`
}

type ocrDocument struct {
	Type        string `json:"type"`
	DocumentURL string `json:"document_url,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
}

type ocrResponse struct {
	Pages []struct {
		Index    int    `json:"index"`
		Markdown string `json:"markdown"`
	} `json:"pages"`
}

// ExtractText submits the fetch URL to the OCR provider and concatenates
// the returned page markdown.
func (m *MistralOCR) ExtractText(ctx context.Context, fetchURL string, mime datatypes.MimeKind) (string, error) {
	doc := ocrDocument{Type: "document_url", DocumentURL: fetchURL}
	if mime == datatypes.MimePNG || mime == datatypes.MimeJPEG {
		doc = ocrDocument{Type: "image_url", ImageURL: fetchURL}
	}

	body, err := json.Marshal(ocrRequest{Model: m.model, Document: doc})
	if err != nil {
		return "", fmt.Errorf("marshal OCR request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/v1/ocr", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build OCR request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call OCR provider: %w: %v", datatypes.ErrOCRTransient, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read OCR response: %w: %v", datatypes.ErrOCRTransient, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return "", fmt.Errorf("OCR provider returned %d: %w: %s", resp.StatusCode, datatypes.ErrOCRTransient, truncate(payload, 200))
	case resp.StatusCode >= 400:
		return "", fmt.Errorf("OCR provider returned %d: %w: %s", resp.StatusCode, datatypes.ErrOCRPermanent, truncate(payload, 200))
	}

	var parsed ocrResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return "", fmt.Errorf("decode OCR response: %w: %v", datatypes.ErrOCRPermanent, err)
	}

	var sb strings.Builder
	for i, page := range parsed.Pages {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(page.Markdown)
	}
	text := sb.String()
	slog.Debug("OCR extracted text", "pages", len(parsed.Pages), "bytes", len(text))
	return text, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
