// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/LabInsights/services/pipeline/bus"
	"github.com/AleutianAI/LabInsights/services/pipeline/datatypes"
	"github.com/AleutianAI/LabInsights/services/pipeline/store"
)

// -----------------------------------------------------------------------------
// Fakes
// -----------------------------------------------------------------------------

type ocrFunc func(ctx context.Context, fetchURL string, mime datatypes.MimeKind) (string, error)

func (f ocrFunc) ExtractText(ctx context.Context, fetchURL string, mime datatypes.MimeKind) (string, error) {
	return f(ctx, fetchURL, mime)
}

type extractFunc func(ctx context.Context, rawText string) (datatypes.HealthDataExtraction, error)

func (f extractFunc) Extract(ctx context.Context, rawText string) (datatypes.HealthDataExtraction, error) {
	return f(ctx, rawText)
}

type insightFunc func(ctx context.Context, data datatypes.HealthDataExtraction) (datatypes.HealthInsights, error)

func (f insightFunc) Generate(ctx context.Context, data datatypes.HealthDataExtraction) (datatypes.HealthInsights, error) {
	return f(ctx, data)
}

// flakyStore fails the first n WriteAnalysis calls, then delegates.
type flakyStore struct {
	store.RecordStore
	failures int32
	attempts int32
}

func (s *flakyStore) WriteAnalysis(ctx context.Context, id, rawText string, ins datatypes.HealthInsights) error {
	n := atomic.AddInt32(&s.attempts, 1)
	if n <= atomic.LoadInt32(&s.failures) {
		return fmt.Errorf("%w: injected write failure", datatypes.ErrRecordStoreUnavailable)
	}
	return s.RecordStore.WriteAnalysis(ctx, id, rawText, ins)
}

// -----------------------------------------------------------------------------
// Fixtures
// -----------------------------------------------------------------------------

func testExtraction() datatypes.HealthDataExtraction {
	return datatypes.HealthDataExtraction{
		Markers: []datatypes.HealthMarker{
			{Marker: "Hemoglobin", Value: "14.5", Unit: "g/dL", ReferenceRange: "13.5-17.5"},
		},
		DocumentType: "Blood Test Report",
	}
}

func testInsights() datatypes.HealthInsights {
	return datatypes.HealthInsights{
		Data:            testExtraction(),
		Summary:         "All markers within range.",
		KeyFindings:     []string{"All values normal or not interpretable."},
		Recommendations: []string{"No follow-up needed."},
		Disclaimer:      "This is not professional medical advice.",
	}
}

func happyAgents() (ocrFunc, extractFunc, insightFunc) {
	ocr := ocrFunc(func(context.Context, string, datatypes.MimeKind) (string, error) {
		return "Hemoglobin 14.5 g/dL (13.5-17.5)", nil
	})
	extract := extractFunc(func(context.Context, string) (datatypes.HealthDataExtraction, error) {
		return testExtraction(), nil
	})
	insight := insightFunc(func(_ context.Context, data datatypes.HealthDataExtraction) (datatypes.HealthInsights, error) {
		ins := testInsights()
		ins.Data = data
		return ins, nil
	})
	return ocr, extract, insight
}

func fastConfig() Config {
	return Config{
		Deadline:    5 * time.Second,
		SavingDwell: time.Millisecond,
		OCRBackoff:  []time.Duration{time.Millisecond, time.Millisecond},
	}
}

func openEngineStore(t *testing.T) store.RecordStore {
	t.Helper()
	s, err := store.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func createDoc(t *testing.T, records store.RecordStore, id string) *datatypes.Document {
	t.Helper()
	doc := &datatypes.Document{
		ID:         id,
		Filename:   "blood.pdf",
		MimeKind:   datatypes.MimePDF,
		UploadedAt: time.Now().UTC(),
		StorageRef: "documents/" + id + "/blood.pdf",
		FetchURL:   "https://storage.example/signed/" + id,
	}
	require.NoError(t, records.CreateDocument(context.Background(), doc))
	return doc
}

// collectUntilTerminal drains events until a terminal one arrives.
func collectUntilTerminal(t *testing.T, ch <-chan datatypes.ProgressEvent) []datatypes.ProgressEvent {
	t.Helper()
	var events []datatypes.ProgressEvent
	deadline := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatal("event channel closed before a terminal event")
			}
			events = append(events, ev)
			if ev.Terminal() {
				return events
			}
		case <-deadline:
			t.Fatalf("no terminal event after %d events", len(events))
		}
	}
}

// -----------------------------------------------------------------------------
// Tests
// -----------------------------------------------------------------------------

func TestPipelineHappyPath(t *testing.T) {
	records := openEngineStore(t)
	events := bus.New()
	ocr, extract, insight := happyAgents()
	orch := New(records, ocr, extract, insight, events, nil, fastConfig())

	doc := createDoc(t, records, "doc-1")
	ch, unsubscribe := events.Subscribe(doc.ID)
	defer unsubscribe()

	orch.Start(doc)
	got := collectUntilTerminal(t, ch)

	require.Len(t, got, 4)
	assert.Equal(t, datatypes.StageOCRExtraction, got[0].ProcessingStage)
	assert.Equal(t, datatypes.ProgressOCR, got[0].Progress)
	assert.Equal(t, datatypes.StageAIAnalysis, got[1].ProcessingStage)
	assert.Equal(t, datatypes.ProgressAnalysis, got[1].Progress)
	assert.Equal(t, datatypes.StageSavingResults, got[2].ProcessingStage)
	assert.Equal(t, datatypes.ProgressSaving, got[2].Progress)
	assert.Equal(t, datatypes.StatusComplete, got[3].Status)
	assert.Equal(t, datatypes.ProgressComplete, got[3].Progress)

	// Progress never decreases across the stream.
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i].Progress, got[i-1].Progress)
	}

	// Payloads appear as the stages produce them.
	assert.Empty(t, got[0].RawText)
	assert.NotEmpty(t, got[1].RawText)
	require.NotNil(t, got[2].ExtractedData)
	require.NotNil(t, got[2].AIInsights)
	require.NotNil(t, got[3].AIInsights)
	assert.Equal(t, testExtraction(), got[3].AIInsights.Data)
	require.NotNil(t, got[3].ProcessedAt)

	// The record matches the terminal event.
	final, err := records.GetDocument(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusComplete, final.Status)
	require.NotNil(t, final.Analysis)
	assert.Equal(t, "All markers within range.", final.Analysis.Summary)

	require.NoError(t, orch.Shutdown(context.Background()))
	assert.False(t, orch.Active(doc.ID))
}

func TestPipelineOCRTransientRetry(t *testing.T) {
	records := openEngineStore(t)
	events := bus.New()

	var calls int32
	ocr := ocrFunc(func(context.Context, string, datatypes.MimeKind) (string, error) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			return "", fmt.Errorf("%w: provider 503", datatypes.ErrOCRTransient)
		}
		return "recovered text", nil
	})
	_, extract, insight := happyAgents()
	orch := New(records, ocr, extract, insight, events, nil, fastConfig())

	doc := createDoc(t, records, "doc-retry")
	ch, unsubscribe := events.Subscribe(doc.ID)
	defer unsubscribe()

	orch.Start(doc)
	got := collectUntilTerminal(t, ch)

	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, datatypes.StatusComplete, got[len(got)-1].Status)
}

func TestPipelineOCRTransientExhausted(t *testing.T) {
	records := openEngineStore(t)
	events := bus.New()

	var calls int32
	ocr := ocrFunc(func(context.Context, string, datatypes.MimeKind) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "", fmt.Errorf("%w: provider 503", datatypes.ErrOCRTransient)
	})
	_, extract, insight := happyAgents()
	orch := New(records, ocr, extract, insight, events, nil, fastConfig())

	doc := createDoc(t, records, "doc-exhausted")
	ch, unsubscribe := events.Subscribe(doc.ID)
	defer unsubscribe()

	orch.Start(doc)
	got := collectUntilTerminal(t, ch)

	// Initial attempt plus one retry per backoff entry.
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	last := got[len(got)-1]
	assert.Equal(t, datatypes.StatusError, last.Status)
	assert.Equal(t, msgOCRFailed, last.ErrorMessage)

	final, err := records.GetDocument(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusError, final.Status)
	assert.Equal(t, msgOCRFailed, final.ErrorMessage)
}

func TestPipelineOCRPermanentNotRetried(t *testing.T) {
	records := openEngineStore(t)
	events := bus.New()

	var calls int32
	ocr := ocrFunc(func(context.Context, string, datatypes.MimeKind) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "", fmt.Errorf("%w: unreadable document", datatypes.ErrOCRPermanent)
	})
	_, extract, insight := happyAgents()
	orch := New(records, ocr, extract, insight, events, nil, fastConfig())

	doc := createDoc(t, records, "doc-permanent")
	ch, unsubscribe := events.Subscribe(doc.ID)
	defer unsubscribe()

	orch.Start(doc)
	got := collectUntilTerminal(t, ch)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, msgOCRFailed, got[len(got)-1].ErrorMessage)
}

func TestPipelineExtractionMalformedIsTerminal(t *testing.T) {
	records := openEngineStore(t)
	events := bus.New()

	ocr, _, insight := happyAgents()
	extract := extractFunc(func(context.Context, string) (datatypes.HealthDataExtraction, error) {
		return datatypes.HealthDataExtraction{}, fmt.Errorf("%w: no markers key", datatypes.ErrExtractionMalformed)
	})
	orch := New(records, ocr, extract, insight, events, nil, fastConfig())

	doc := createDoc(t, records, "doc-malformed")
	ch, unsubscribe := events.Subscribe(doc.ID)
	defer unsubscribe()

	orch.Start(doc)
	got := collectUntilTerminal(t, ch)

	last := got[len(got)-1]
	assert.Equal(t, datatypes.StatusError, last.Status)
	assert.Equal(t, msgLLMGarbage, last.ErrorMessage)

	// The OCR text survives for debugging even though analysis failed.
	final, err := records.GetDocument(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.StageAIAnalysis, final.ProcessingStage)
}

func TestPipelineWriteAnalysisRetriesOnce(t *testing.T) {
	records := &flakyStore{RecordStore: openEngineStore(t), failures: 1}
	events := bus.New()
	ocr, extract, insight := happyAgents()
	orch := New(records, ocr, extract, insight, events, nil, fastConfig())

	doc := createDoc(t, records, "doc-flaky")
	ch, unsubscribe := events.Subscribe(doc.ID)
	defer unsubscribe()

	orch.Start(doc)
	got := collectUntilTerminal(t, ch)

	assert.Equal(t, int32(2), atomic.LoadInt32(&records.attempts))
	assert.Equal(t, datatypes.StatusComplete, got[len(got)-1].Status)
}

func TestPipelineWriteAnalysisExhaustedIsPersistenceFailure(t *testing.T) {
	records := &flakyStore{RecordStore: openEngineStore(t), failures: 2}
	events := bus.New()
	ocr, extract, insight := happyAgents()
	orch := New(records, ocr, extract, insight, events, nil, fastConfig())

	doc := createDoc(t, records, "doc-unsaveable")
	ch, unsubscribe := events.Subscribe(doc.ID)
	defer unsubscribe()

	orch.Start(doc)
	got := collectUntilTerminal(t, ch)

	assert.Equal(t, int32(2), atomic.LoadInt32(&records.attempts))
	last := got[len(got)-1]
	assert.Equal(t, datatypes.StatusError, last.Status)
	assert.Equal(t, msgPersistence, last.ErrorMessage)
}

func TestPipelineDeadline(t *testing.T) {
	records := openEngineStore(t)
	events := bus.New()

	ocr := ocrFunc(func(ctx context.Context, _ string, _ datatypes.MimeKind) (string, error) {
		<-ctx.Done()
		return "", fmt.Errorf("%w: %v", datatypes.ErrOCRTransient, ctx.Err())
	})
	_, extract, insight := happyAgents()
	cfg := fastConfig()
	cfg.Deadline = 50 * time.Millisecond
	orch := New(records, ocr, extract, insight, events, nil, cfg)

	doc := createDoc(t, records, "doc-slow")
	ch, unsubscribe := events.Subscribe(doc.ID)
	defer unsubscribe()

	orch.Start(doc)
	got := collectUntilTerminal(t, ch)

	last := got[len(got)-1]
	assert.Equal(t, datatypes.StatusError, last.Status)
	assert.Equal(t, msgTimeout, last.ErrorMessage)
}

func TestCancelAbortsWithoutErrorState(t *testing.T) {
	records := openEngineStore(t)
	events := bus.New()

	started := make(chan struct{})
	ocr := ocrFunc(func(ctx context.Context, _ string, _ datatypes.MimeKind) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	})
	_, extract, insight := happyAgents()
	orch := New(records, ocr, extract, insight, events, nil, fastConfig())

	doc := createDoc(t, records, "doc-cancelled")
	orch.Start(doc)
	<-started

	assert.True(t, orch.Cancel(doc.ID))

	waitCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	require.NoError(t, orch.Shutdown(waitCtx))

	// The record is untouched: no error status, no error message. The
	// caller that cancelled (delete or retry) owns the record now.
	final, err := records.GetDocument(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusProcessing, final.Status)
	assert.Empty(t, final.ErrorMessage)
}

func TestCancelUnknownDocument(t *testing.T) {
	ocr, extract, insight := happyAgents()
	orch := New(openEngineStore(t), ocr, extract, insight, bus.New(), nil, fastConfig())
	assert.False(t, orch.Cancel("no-such-doc"))
}

func TestStartSupersedesRunningTask(t *testing.T) {
	records := openEngineStore(t)
	events := bus.New()

	var calls int32
	firstStarted := make(chan struct{})
	firstCancelled := make(chan struct{})
	ocr := ocrFunc(func(ctx context.Context, _ string, _ datatypes.MimeKind) (string, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(firstStarted)
			<-ctx.Done()
			close(firstCancelled)
			return "", ctx.Err()
		}
		return "second attempt text", nil
	})
	_, extract, insight := happyAgents()
	orch := New(records, ocr, extract, insight, events, nil, fastConfig())

	doc := createDoc(t, records, "doc-superseded")
	orch.Start(doc)
	<-firstStarted

	ch, unsubscribe := events.Subscribe(doc.ID)
	defer unsubscribe()

	orch.Start(doc)

	select {
	case <-firstCancelled:
	case <-time.After(5 * time.Second):
		t.Fatal("first task was not cancelled by the second Start")
	}

	got := collectUntilTerminal(t, ch)
	assert.Equal(t, datatypes.StatusComplete, got[len(got)-1].Status)

	final, err := records.GetDocument(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusComplete, final.Status)
}

func TestErrorMessageMapping(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{datatypes.ErrTimeout, msgTimeout},
		{fmt.Errorf("wrapped: %w", datatypes.ErrOCRTransient), msgOCRFailed},
		{datatypes.ErrOCRPermanent, msgOCRFailed},
		{datatypes.ErrLLMUnavailable, msgLLMDown},
		{datatypes.ErrExtractionMalformed, msgLLMGarbage},
		{datatypes.ErrInsightMalformed, msgLLMGarbage},
		{datatypes.ErrRecordStoreUnavailable, msgPersistence},
		{errors.New("surprise"), msgInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, errorMessage(tt.err), "err %v", tt.err)
	}
}
