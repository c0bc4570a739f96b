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
	"errors"
	"net/http"
)

// -----------------------------------------------------------------------------
// Error Kinds
// -----------------------------------------------------------------------------

// Sentinel errors classifying every failure the pipeline can surface.
// Callers wrap these with %w and context; HTTPStatus and Kind unwrap them.
var (
	// ErrInputInvalid is returned when an upload fails validation.
	ErrInputInvalid = errors.New("input invalid")

	// ErrStorageUnavailable is returned on object-storage transport failure.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrRecordStoreUnavailable is returned on record-store transport failure.
	ErrRecordStoreUnavailable = errors.New("record store unavailable")

	// ErrOCRTransient is a retryable OCR failure (network, provider 5xx).
	ErrOCRTransient = errors.New("ocr transient failure")

	// ErrOCRPermanent is a non-retryable OCR failure (4xx, invalid document).
	ErrOCRPermanent = errors.New("ocr permanent failure")

	// ErrLLMUnavailable is an LLM transport failure; fatal for the document.
	ErrLLMUnavailable = errors.New("llm unavailable")

	// ErrExtractionMalformed means the extraction reply failed schema
	// validation even after repair. Not retried.
	ErrExtractionMalformed = errors.New("extraction output malformed")

	// ErrInsightMalformed means the insight reply failed schema validation
	// even after repair. Not retried.
	ErrInsightMalformed = errors.New("insight output malformed")

	// ErrInvariantViolation is returned when a write would break a document
	// invariant, e.g. decreasing progress outside of a retry reset.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNotRetryable is returned when retry is requested for a document
	// that is complete or still actively processing.
	ErrNotRetryable = errors.New("not retryable")

	// ErrTimeout is returned when the end-to-end pipeline deadline elapses.
	ErrTimeout = errors.New("timeout")
)

// Kind returns the short taxonomy name for err, or "internal" when the error
// does not wrap a known sentinel.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrInputInvalid):
		return "InputInvalid"
	case errors.Is(err, ErrStorageUnavailable):
		return "StorageUnavailable"
	case errors.Is(err, ErrRecordStoreUnavailable):
		return "RecordStoreUnavailable"
	case errors.Is(err, ErrOCRTransient):
		return "OCRTransient"
	case errors.Is(err, ErrOCRPermanent):
		return "OCRPermanent"
	case errors.Is(err, ErrLLMUnavailable):
		return "LLMUnavailable"
	case errors.Is(err, ErrExtractionMalformed):
		return "ExtractionMalformed"
	case errors.Is(err, ErrInsightMalformed):
		return "InsightMalformed"
	case errors.Is(err, ErrInvariantViolation):
		return "InvariantViolation"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrNotRetryable):
		return "NotRetryable"
	case errors.Is(err, ErrTimeout):
		return "Timeout"
	default:
		return "internal"
	}
}

// HTTPStatus maps an error kind to the status code the HTTP surface returns.
//
//   - InputInvalid -> 400
//   - NotFound -> 404
//   - NotRetryable -> 409
//   - *Unavailable -> 503
//   - everything else -> 500
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrInputInvalid):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNotRetryable):
		return http.StatusConflict
	case errors.Is(err, ErrStorageUnavailable),
		errors.Is(err, ErrRecordStoreUnavailable),
		errors.Is(err, ErrLLMUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
