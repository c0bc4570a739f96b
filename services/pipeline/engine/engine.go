// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine runs the document processing pipeline.
//
// # Description
//
// The Orchestrator owns one background task per processing document and
// drives it through ocr_extraction -> ai_analysis -> saving_results ->
// complete, persisting every state change before publishing it on the
// progress bus. The Watchdog (watchdog.go) sweeps for documents whose task
// died without reaching a terminal state.
//
// # Thread Safety
//
// Orchestrator methods are safe for concurrent use. At most one task runs
// per document ID; starting a new task supersedes the old one.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/LabInsights/services/pipeline/agents"
	"github.com/AleutianAI/LabInsights/services/pipeline/bus"
	"github.com/AleutianAI/LabInsights/services/pipeline/datatypes"
	"github.com/AleutianAI/LabInsights/services/pipeline/observability"
	"github.com/AleutianAI/LabInsights/services/pipeline/store"
)

// Defaults for Config zero values.
const (
	DefaultDeadline    = 10 * time.Minute
	DefaultSavingDwell = 500 * time.Millisecond
)

// defaultOCRBackoff is the wait before each transient OCR retry.
var defaultOCRBackoff = []time.Duration{1 * time.Second, 4 * time.Second}

// User-facing terminal error messages. These are shown verbatim in the UI;
// internals stay in the logs.
const (
	msgTimeout     = "processing timed out"
	msgOCRFailed   = "text extraction failed"
	msgLLMDown     = "AI analysis unavailable"
	msgLLMGarbage  = "AI analysis produced unusable output"
	msgPersistence = "persistence failure"
	msgInternal    = "internal error"
)

// Config tunes pipeline timing. Zero values take the defaults above.
type Config struct {
	// Deadline bounds one document's end-to-end processing time.
	Deadline time.Duration

	// SavingDwell is the minimum time spent in saving_results so stream
	// consumers can observe the stage before the terminal event.
	SavingDwell time.Duration

	// OCRBackoff holds the wait before each transient OCR retry; its length
	// is the retry count.
	OCRBackoff []time.Duration
}

func (c Config) withDefaults() Config {
	if c.Deadline <= 0 {
		c.Deadline = DefaultDeadline
	}
	if c.SavingDwell <= 0 {
		c.SavingDwell = DefaultSavingDwell
	}
	if c.OCRBackoff == nil {
		c.OCRBackoff = defaultOCRBackoff
	}
	return c
}

// Orchestrator starts and supervises pipeline tasks.
//
// # Fields
//
//   - records: Document persistence; every state change lands here first.
//   - ocr/extractor/insights: The three processing agents.
//   - events: Progress fan-out; published after the matching write commits.
//   - metrics: Prometheus instrumentation; nil disables it.
type Orchestrator struct {
	records   store.RecordStore
	ocr       agents.OCRAgent
	extractor agents.ExtractionAgent
	insights  agents.InsightAgent
	events    *bus.ProgressBus
	metrics   *observability.PipelineMetrics
	cfg       Config

	tasks *taskRegistry
	wg    sync.WaitGroup
}

// New creates an Orchestrator. metrics may be nil.
func New(
	records store.RecordStore,
	ocr agents.OCRAgent,
	extractor agents.ExtractionAgent,
	insights agents.InsightAgent,
	events *bus.ProgressBus,
	metrics *observability.PipelineMetrics,
	cfg Config,
) *Orchestrator {
	return &Orchestrator{
		records:   records,
		ocr:       ocr,
		extractor: extractor,
		insights:  insights,
		events:    events,
		metrics:   metrics,
		cfg:       cfg.withDefaults(),
		tasks:     newTaskRegistry(),
	}
}

// Start launches the pipeline for doc in the background.
//
// # Description
//
// The document must already exist in the record store in the processing
// state (CreateDocument or ResetForRetry). If a task is already running for
// this document it is superseded: cancelled without writing error state.
//
// # Inputs
//
//   - doc: Snapshot of the record to process. Copied; the caller keeps
//     ownership of the pointer.
func (o *Orchestrator) Start(doc *datatypes.Document) {
	ctx, cancel := context.WithCancelCause(context.Background())
	handle := o.tasks.register(doc.ID, cancel)

	o.metrics.PipelineStarted()
	o.wg.Add(1)

	working := *doc
	go o.run(ctx, handle, &working)
}

// Cancel aborts the live task for a document, if any. The task exits
// without writing error state; the caller owns the record from here
// (delete and retry both cancel before mutating).
func (o *Orchestrator) Cancel(documentID string) bool {
	return o.tasks.cancel(documentID, errTaskCancelled)
}

// Active reports whether a task is currently running for a document.
func (o *Orchestrator) Active(documentID string) bool {
	return o.tasks.active(documentID)
}

// Shutdown cancels all live tasks and waits for them to exit, or for ctx.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.tasks.cancelAll(errTaskShutdown)

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("orchestrator shutdown: %w", ctx.Err())
	}
}

// run executes one pipeline task to its terminal state.
func (o *Orchestrator) run(ctx context.Context, handle *taskHandle, doc *datatypes.Document) {
	defer o.wg.Done()
	defer o.tasks.remove(doc.ID, handle)
	defer o.metrics.PipelineEnded()

	runCtx, stop := context.WithTimeout(ctx, o.cfg.Deadline)
	defer stop()

	start := time.Now()
	err := o.process(runCtx, doc)
	if err == nil {
		slog.Info("pipeline complete",
			"document_id", doc.ID,
			"filename", doc.Filename,
			"duration", time.Since(start))
		o.metrics.RecordOutcome("complete")
		return
	}

	if silentAbort(context.Cause(ctx)) {
		slog.Info("pipeline aborted",
			"document_id", doc.ID,
			"cause", context.Cause(ctx))
		o.metrics.RecordOutcome("cancelled")
		return
	}

	// The task context carries only the deadline at this point, so Done
	// means the document ran out of time regardless of which call
	// surfaced it.
	if runCtx.Err() != nil {
		err = fmt.Errorf("%w: pipeline deadline %s elapsed", datatypes.ErrTimeout, o.cfg.Deadline)
	}

	slog.Error("pipeline failed",
		"document_id", doc.ID,
		"error_kind", datatypes.Kind(err),
		"error", err)
	o.fail(doc, err)
	o.metrics.RecordOutcome("error")
}

// process drives the three stages. State is written before it is published;
// a subscriber that misses an event can always re-read the record.
func (o *Orchestrator) process(ctx context.Context, doc *datatypes.Document) error {
	// Stage 1: OCR.
	stageStart := time.Now()
	if err := o.advance(ctx, doc, datatypes.StageOCRExtraction, datatypes.ProgressOCR); err != nil {
		return err
	}
	o.publish(doc, nil, nil)

	rawText, err := o.runOCR(ctx, doc)
	if err != nil {
		return err
	}
	if err := o.records.SetRawText(ctx, doc.ID, rawText); err != nil {
		return err
	}
	doc.RawText = rawText
	o.metrics.RecordStageDuration(string(datatypes.StageOCRExtraction), time.Since(stageStart))

	// Stage 2: AI analysis.
	stageStart = time.Now()
	if err := o.advance(ctx, doc, datatypes.StageAIAnalysis, datatypes.ProgressAnalysis); err != nil {
		return err
	}
	o.publish(doc, nil, nil)

	data, err := o.extractor.Extract(ctx, rawText)
	if err != nil {
		return err
	}
	ins, err := o.insights.Generate(ctx, data)
	if err != nil {
		return err
	}
	o.metrics.RecordStageDuration(string(datatypes.StageAIAnalysis), time.Since(stageStart))

	// Stage 3: persist.
	stageStart = time.Now()
	if err := o.advance(ctx, doc, datatypes.StageSavingResults, datatypes.ProgressSaving); err != nil {
		return err
	}
	o.publish(doc, &data, &ins)

	if err := sleepCtx(ctx, o.cfg.SavingDwell); err != nil {
		return err
	}
	if err := o.writeAnalysis(ctx, doc.ID, rawText, ins); err != nil {
		return err
	}
	o.metrics.RecordStageDuration(string(datatypes.StageSavingResults), time.Since(stageStart))

	// Terminal event from the committed record, so processed_at and the
	// analysis row match what any later reader sees.
	final, err := o.records.GetDocument(ctx, doc.ID)
	if err != nil {
		slog.Warn("re-read after completion failed, publishing local state",
			"document_id", doc.ID, "error", err)
		now := time.Now().UTC()
		doc.Status = datatypes.StatusComplete
		doc.ProcessingStage = datatypes.StageComplete
		doc.Progress = datatypes.ProgressComplete
		doc.ProcessedAt = &now
		o.publish(doc, &data, &ins)
		return nil
	}
	o.events.Publish(datatypes.SnapshotEvent(final))
	return nil
}

// runOCR calls the OCR agent, retrying transient failures per cfg.OCRBackoff.
func (o *Orchestrator) runOCR(ctx context.Context, doc *datatypes.Document) (string, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		text, err := o.ocr.ExtractText(ctx, doc.FetchURL, doc.MimeKind)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !errors.Is(err, datatypes.ErrOCRTransient) || attempt >= len(o.cfg.OCRBackoff) {
			return "", lastErr
		}

		slog.Warn("transient ocr failure, retrying",
			"document_id", doc.ID,
			"attempt", attempt+1,
			"backoff", o.cfg.OCRBackoff[attempt],
			"error", err)
		o.metrics.RecordOCRRetry()
		if err := sleepCtx(ctx, o.cfg.OCRBackoff[attempt]); err != nil {
			return "", err
		}
	}
}

// writeAnalysis persists the result, retrying once after a short pause. A
// second failure is terminal for the document.
func (o *Orchestrator) writeAnalysis(ctx context.Context, id, rawText string, ins datatypes.HealthInsights) error {
	err := o.records.WriteAnalysis(ctx, id, rawText, ins)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}

	slog.Warn("analysis write failed, retrying once", "document_id", id, "error", err)
	if serr := sleepCtx(ctx, 1*time.Second); serr != nil {
		return serr
	}
	if err = o.records.WriteAnalysis(ctx, id, rawText, ins); err != nil {
		return fmt.Errorf("%w: analysis write failed twice: %v", datatypes.ErrRecordStoreUnavailable, err)
	}
	return nil
}

// advance writes the stage transition and mirrors it on the working copy.
func (o *Orchestrator) advance(ctx context.Context, doc *datatypes.Document, stage datatypes.ProcessingStage, progress int) error {
	if err := o.records.UpdateProgress(ctx, doc.ID, stage, progress); err != nil {
		return err
	}
	doc.ProcessingStage = stage
	doc.Progress = progress
	return nil
}

// publish emits a snapshot of the working copy, attaching the in-flight
// agent outputs that are not yet on the record.
func (o *Orchestrator) publish(doc *datatypes.Document, data *datatypes.HealthDataExtraction, ins *datatypes.HealthInsights) {
	ev := datatypes.SnapshotEvent(doc)
	if data != nil {
		ev.ExtractedData = data
	}
	if ins != nil {
		ev.AIInsights = ins
	}
	o.events.Publish(ev)
}

// fail flips the document to error state and publishes the terminal event.
// Runs on a fresh context: the task context is typically already dead here.
func (o *Orchestrator) fail(doc *datatypes.Document, cause error) {
	msg := errorMessage(cause)

	ctx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()

	if err := o.records.MarkError(ctx, doc.ID, msg); err != nil {
		if errors.Is(err, datatypes.ErrNotFound) {
			// Deleted while we were failing; nothing to report.
			return
		}
		slog.Error("failed to persist error state", "document_id", doc.ID, "error", err)
		// Publish anyway so attached streams terminate.
	}
	doc.Status = datatypes.StatusError
	doc.ErrorMessage = msg
	o.publish(doc, nil, nil)
}

// errorMessage maps an internal failure to the message stored on the record.
func errorMessage(err error) string {
	switch {
	case errors.Is(err, datatypes.ErrTimeout):
		return msgTimeout
	case errors.Is(err, datatypes.ErrOCRTransient), errors.Is(err, datatypes.ErrOCRPermanent):
		return msgOCRFailed
	case errors.Is(err, datatypes.ErrLLMUnavailable):
		return msgLLMDown
	case errors.Is(err, datatypes.ErrExtractionMalformed), errors.Is(err, datatypes.ErrInsightMalformed):
		return msgLLMGarbage
	case errors.Is(err, datatypes.ErrRecordStoreUnavailable):
		return msgPersistence
	default:
		return msgInternal
	}
}

// sleepCtx sleeps for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
