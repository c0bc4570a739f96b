// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package jsonrepair recovers structured data from untrusted LLM output.
//
// # Description
//
// Models asked for a JSON object still wrap it in markdown fences, prepend
// commentary, or leak raw control characters from OCR text into string
// literals. This package centralizes the defenses shared by the extraction
// and insight agents: a cleanup pass, a parse-with-retry entry point, and
// coercion helpers for reading loosely-typed fields out of the result.
//
// # Limitations
//
//   - Only JSON objects are supported at the top level; the agents never
//     request arrays or scalars.
//   - Cleanup is heuristic. A reply with no brace-delimited object anywhere
//     in it is unrecoverable and surfaces as a parse error.
package jsonrepair

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Clean strips the defects commonly found around LLM-emitted JSON.
//
// # Description
//
// Removes control characters U+0000..U+001F except tab, newline, and
// carriage return, then trims markdown fences and surrounding prose by
// slicing from the first '{' to the last '}'.
//
// # Inputs
//
//   - text: Raw model reply.
//
// # Outputs
//
//   - string: The cleaned candidate JSON. May still be invalid.
func Clean(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r < 0x20 && r != '\t' && r != '\n' && r != '\r' {
			continue
		}
		b.WriteRune(r)
	}
	cleaned := strings.TrimSpace(b.String())

	// Accept the {...} slice if the model wrapped the object in fences or
	// commentary. Fences are plain prose once the braces are sliced out.
	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start >= 0 && end > start {
		cleaned = cleaned[start : end+1]
	}
	return cleaned
}

// ParseObject parses text into a JSON object, repairing once on failure.
//
// # Description
//
// Tries a direct parse first. On failure it applies Clean and retries
// exactly once. Repeated calls on the same input are stable: Clean is
// idempotent over its own output.
//
// # Inputs
//
//   - text: Raw or cleaned model reply.
//
// # Outputs
//
//   - map[string]any: The decoded object.
//   - error: Non-nil if the reply holds no parseable JSON object.
func ParseObject(text string) (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err == nil {
		return obj, nil
	}

	cleaned := Clean(text)
	if err := json.Unmarshal([]byte(cleaned), &obj); err != nil {
		return nil, fmt.Errorf("no parseable JSON object in model reply: %w", err)
	}
	return obj, nil
}

// AsString coerces a decoded JSON value to a string.
//
// Scalars that arrived as numbers but are declared as strings in the schema
// are formatted without exponent notation, so a marker value of 14 becomes
// "14" and 14.5 becomes "14.5". Booleans and composites do not coerce.
func AsString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case json.Number:
		return t.String(), true
	default:
		return "", false
	}
}

// AsStringSlice coerces a decoded JSON value to a slice of strings.
//
// Elements that fail AsString are dropped. A scalar string is promoted to a
// one-element slice, which tolerates models that flatten single-item lists.
func AsStringSlice(v any) []string {
	switch t := v.(type) {
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := AsString(item); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{t}
	default:
		return nil
	}
}

// AsObjectSlice returns the []map entries of a decoded JSON array, dropping
// non-object elements.
func AsObjectSlice(v any) []map[string]any {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}
