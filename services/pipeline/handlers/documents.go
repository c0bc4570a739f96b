// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the HTTP surface of the pipeline service.
//
// Each handler is a constructor taking its dependencies and returning a
// gin.HandlerFunc. Progress streaming lives in stream.go, the SSE wire
// format in sse_writer.go.
package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/LabInsights/services/pipeline/blobstore"
	"github.com/AleutianAI/LabInsights/services/pipeline/bus"
	"github.com/AleutianAI/LabInsights/services/pipeline/datatypes"
	"github.com/AleutianAI/LabInsights/services/pipeline/engine"
	"github.com/AleutianAI/LabInsights/services/pipeline/store"
)

// formOverheadBytes is slack on top of MaxUploadBytes for multipart framing.
const formOverheadBytes = 64 * 1024

// writeError maps err to its HTTP status and emits a sanitized message.
// Internal details stay in the logs.
func writeError(c *gin.Context, err error, publicMsg string) {
	slog.Error("request failed",
		"path", c.FullPath(),
		"error_kind", datatypes.Kind(err),
		"error", err)
	c.JSON(datatypes.HTTPStatus(err), gin.H{"error": publicMsg})
}

// HealthCheck reports service liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "pipeline"})
}

// UploadDocument accepts a multipart lab report and starts its pipeline.
//
// # Description
//
// Validates size (10MB cap) and type (PDF, PNG, JPEG; sniffed when the
// declared Content-Type is missing or generic), stores the original bytes,
// creates the document record in the processing state, and launches the
// background pipeline. Responds 201 before processing finishes; clients
// follow progress on the stream endpoint.
func UploadDocument(records store.RecordStore, objects blobstore.ObjectStore, pipelines *engine.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, datatypes.MaxUploadBytes+formOverheadBytes)

		file, header, err := c.Request.FormFile("file")
		if err != nil {
			writeError(c, datatypes.ErrInputInvalid, "upload must be multipart form data with a 'file' field of at most 10MB")
			return
		}
		defer file.Close()

		if header.Size > datatypes.MaxUploadBytes {
			writeError(c, datatypes.ErrInputInvalid, "file exceeds the 10MB limit")
			return
		}

		data, err := io.ReadAll(file)
		if err != nil {
			writeError(c, datatypes.ErrInputInvalid, "could not read uploaded file")
			return
		}

		contentType := header.Header.Get("Content-Type")
		if base, _, found := strings.Cut(contentType, ";"); found {
			contentType = strings.TrimSpace(base)
		}
		if contentType == "" || contentType == "application/octet-stream" {
			contentType = http.DetectContentType(data)
		}
		kind, ok := datatypes.MimeKindFromContentType(contentType)
		if !ok {
			writeError(c, datatypes.ErrInputInvalid, "unsupported file type: PDF, PNG, and JPEG are accepted")
			return
		}

		filename := filepath.Base(header.Filename)
		if filename == "" || filename == "." || filename == string(filepath.Separator) {
			filename = "document"
		}

		id := uuid.New().String()
		storageRef, fetchURL, err := objects.Put(c.Request.Context(), data, id, filename, contentType)
		if err != nil {
			writeError(c, err, "document storage is unavailable, try again later")
			return
		}

		doc := &datatypes.Document{
			ID:         id,
			Filename:   filename,
			MimeKind:   kind,
			UploadedAt: time.Now().UTC(),
			StorageRef: storageRef,
			FetchURL:   fetchURL,
		}
		if err := records.CreateDocument(c.Request.Context(), doc); err != nil {
			// The stored object would otherwise leak.
			if delErr := objects.Delete(c.Request.Context(), storageRef); delErr != nil && !errors.Is(delErr, datatypes.ErrNotFound) {
				slog.Warn("orphaned object after failed create", "storage_ref", storageRef, "error", delErr)
			}
			writeError(c, err, "could not create document record")
			return
		}

		pipelines.Start(doc)

		slog.Info("document accepted",
			"document_id", id,
			"filename", filename,
			"mime_kind", kind,
			"bytes", len(data))
		c.JSON(http.StatusCreated, gin.H{
			"document_id": id,
			"filename":    filename,
		})
	}
}

// ListDocuments returns all documents, newest upload first.
func ListDocuments(records store.RecordStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		docs, err := records.ListDocuments(c.Request.Context())
		if err != nil {
			writeError(c, err, "could not list documents")
			return
		}
		c.JSON(http.StatusOK, gin.H{"documents": docs})
	}
}

// GetDocument returns one document with its analysis, if any.
func GetDocument(records store.RecordStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		doc, err := records.GetDocument(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, err, "document not found")
			return
		}
		c.JSON(http.StatusOK, doc)
	}
}

// DeleteDocument removes a document and its stored original.
//
// # Description
//
// Cancels any running pipeline first so the dying task cannot write to the
// record, deletes the record (cascading to analysis and markers), then
// removes the stored object best-effort: a failed object delete is logged
// but does not fail the request, since the record is already gone.
func DeleteDocument(records store.RecordStore, objects blobstore.ObjectStore, pipelines *engine.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")

		doc, err := records.GetDocument(c.Request.Context(), id)
		if err != nil {
			writeError(c, err, "document not found")
			return
		}

		if pipelines.Cancel(id) {
			slog.Info("cancelled running pipeline for delete", "document_id", id)
		}

		if err := records.DeleteDocument(c.Request.Context(), id); err != nil {
			writeError(c, err, "could not delete document")
			return
		}

		if doc.StorageRef != "" {
			if err := objects.Delete(c.Request.Context(), doc.StorageRef); err != nil && !errors.Is(err, datatypes.ErrNotFound) {
				slog.Warn("stored object not removed", "document_id", id, "storage_ref", doc.StorageRef, "error", err)
			}
		}

		slog.Info("document deleted", "document_id", id)
		c.JSON(http.StatusOK, gin.H{"status": "deleted", "document_id": id})
	}
}

// RetryDocument restarts processing for a failed or stuck document.
//
// # Description
//
// Completed documents are immutable: retry returns 409. Otherwise any
// running task is cancelled, the record is reset to processing with its
// previous OCR text and analysis discarded, a reset snapshot is published
// so attached streams follow the document back to the start, and a fresh
// pipeline starts from the stored original.
func RetryDocument(records store.RecordStore, objects blobstore.ObjectStore, pipelines *engine.Orchestrator, events *bus.ProgressBus) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")

		if pipelines.Cancel(id) {
			slog.Info("cancelled running pipeline for retry", "document_id", id)
		}

		if err := records.ResetForRetry(c.Request.Context(), id); err != nil {
			if errors.Is(err, datatypes.ErrNotRetryable) {
				writeError(c, err, "completed documents cannot be reprocessed")
				return
			}
			writeError(c, err, "could not reset document for retry")
			return
		}

		doc, err := records.GetDocument(c.Request.Context(), id)
		if err != nil {
			writeError(c, err, "document not found after reset")
			return
		}

		// The reset is written; attached streams hear about it before the
		// new task's own events start.
		events.Publish(datatypes.SnapshotEvent(doc))

		// The upload-time fetch URL may have expired by now.
		fetchURL, err := objects.SignFetchURL(c.Request.Context(), doc.StorageRef)
		if err != nil {
			writeError(c, err, "stored document is no longer available")
			return
		}
		doc.FetchURL = fetchURL

		pipelines.Start(doc)

		slog.Info("document retry started", "document_id", id)
		c.JSON(http.StatusOK, gin.H{"document_id": id, "status": string(datatypes.StatusProcessing)})
	}
}
