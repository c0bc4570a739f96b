package agents

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/LabInsights/services/pipeline/datatypes"
)

func TestParseExtraction(t *testing.T) {
	reply := `{"markers":[
		{"marker":"Hemoglobin","value":"14.5","unit":"g/dL","reference_range":"13.5-17.5"},
		{"marker":"Glucose","value":92,"unit":"mg/dL","reference_range":"70-100"}
	],"document_type":"Blood Test Report","test_date":"2025-06-01"}`

	got, err := parseExtraction(reply)
	require.NoError(t, err)
	require.Len(t, got.Markers, 2)
	assert.Equal(t, "Hemoglobin", got.Markers[0].Marker)
	assert.Equal(t, "14.5", got.Markers[0].Value)
	// Numeric values are coerced to strings, preserving the printed form.
	assert.Equal(t, "92", got.Markers[1].Value)
	assert.Equal(t, "Blood Test Report", got.DocumentType)
	assert.Equal(t, "2025-06-01", got.TestDate)
}

func TestParseExtractionFencedReply(t *testing.T) {
	got, err := parseExtraction("```json{\"markers\":[]}```")
	require.NoError(t, err)
	assert.Empty(t, got.Markers)
}

func TestParseExtractionDropsMalformedMarkers(t *testing.T) {
	reply := `{"markers":[
		{"marker":"Hemoglobin","value":"14.5"},
		{"value":"9.9"},
		{"marker":"","value":"1"},
		{"marker":"WBC","value":true},
		"not even an object"
	]}`

	got, err := parseExtraction(reply)
	require.NoError(t, err)
	require.Len(t, got.Markers, 1)
	assert.Equal(t, "Hemoglobin", got.Markers[0].Marker)
}

func TestParseExtractionSchemaFailures(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{"missing markers key", `{"document_type":"Blood Test Report"}`},
		{"markers not a list", `{"markers":"none"}`},
		{"prose only", "I found no structured data in this document."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseExtraction(tt.reply)
			assert.ErrorIs(t, err, datatypes.ErrExtractionMalformed)
		})
	}
}

func TestNormalizeTestDate(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2025-06-01", "2025-06-01"},
		{"2025/06/01", "2025-06-01"},
		{"06/01/2025", "2025-06-01"},
		{"Jun 1, 2025", "2025-06-01"},
		{"1 June 2025", "2025-06-01"},
		{"next tuesday", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := normalizeTestDate(tt.in); got != tt.want {
			t.Errorf("normalizeTestDate(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// newChatStub serves an OpenAI-compatible chat completions endpoint that
// always answers with content.
func newChatStub(t *testing.T, content string, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			http.Error(w, "upstream failure", status)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-test",
			"object": "chat.completion",
			"model":  "gpt-4o-mini",
			"choices": []map[string]any{
				{"index": 0, "message": map[string]any{"role": "assistant", "content": content}, "finish_reason": "stop"},
			},
		})
	}))
}

func TestLLMExtractionEndToEnd(t *testing.T) {
	srv := newChatStub(t, `{"markers":[{"marker":"Hemoglobin","value":"14.5","unit":"g/dL","reference_range":"13.5-17.5"}]}`, http.StatusOK)
	defer srv.Close()

	agent := NewLLMExtraction("test-key", srv.URL+"/v1", "gpt-4o-mini")
	got, err := agent.Extract(context.Background(), "Hemoglobin 14.5 g/dL (13.5-17.5)")
	require.NoError(t, err)
	require.Len(t, got.Markers, 1)
	assert.Equal(t, "Hemoglobin", got.Markers[0].Marker)
}

func TestLLMExtractionTransportFailure(t *testing.T) {
	srv := newChatStub(t, "", http.StatusInternalServerError)
	defer srv.Close()

	agent := NewLLMExtraction("test-key", srv.URL+"/v1", "gpt-4o-mini")
	_, err := agent.Extract(context.Background(), "text")
	assert.ErrorIs(t, err, datatypes.ErrLLMUnavailable)
}
