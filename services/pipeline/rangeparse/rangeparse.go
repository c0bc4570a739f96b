// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package rangeparse interprets clinical reference-range strings.
//
// # Description
//
// Lab reports express reference ranges in a handful of loose textual forms:
// closed ranges ("3.5 - 5.0", "3.5–5.0"), upper bounds ("<100", "≤ 2.0"),
// lower bounds (">40", "≥ 60"), and OCR-mangled hybrids ("<6 - 6.0", read
// as an upper bound at the larger number). Anything else ("varies",
// "depending on age") is not interpretable and is never guessed at.
//
// The insight agent uses this package to decide which markers are abnormal;
// it is the only consumer. Marker values are never modified here.
package rangeparse

import (
	"regexp"
	"strconv"
	"strings"
)

// =============================================================================
// Types
// =============================================================================

// Range is a parsed reference interval. A closed range has both bounds; an
// upper-bound form has only Max; a lower-bound form has only Min. The
// exclusivity flags distinguish strict bounds ("<", ">") from inclusive
// ones ("≤", "≥"); closed ranges are inclusive on both sides.
type Range struct {
	Min *float64
	Max *float64

	MinExclusive bool
	MaxExclusive bool
}

// Verdict classifies a marker value against its reference range.
type Verdict string

const (
	// VerdictNormal means the value sits inside the range.
	VerdictNormal Verdict = "normal"

	// VerdictLow and VerdictHigh mean the value clearly violates a bound.
	VerdictLow  Verdict = "low"
	VerdictHigh Verdict = "high"

	// VerdictBorderlineLow and VerdictBorderlineHigh mean the value violates
	// a bound but sits within the clinical tolerance band (25% of the range
	// width) of it.
	VerdictBorderlineLow  Verdict = "borderline_low"
	VerdictBorderlineHigh Verdict = "borderline_high"

	// VerdictNotInterpretable means the range or value could not be parsed.
	// Such markers are omitted from findings rather than guessed at.
	VerdictNotInterpretable Verdict = "not_interpretable"
)

// Abnormal reports whether the verdict should produce a finding.
func (v Verdict) Abnormal() bool {
	switch v {
	case VerdictLow, VerdictHigh, VerdictBorderlineLow, VerdictBorderlineHigh:
		return true
	default:
		return false
	}
}

// =============================================================================
// Parsing
// =============================================================================

// numberRe matches a signed decimal number.
var numberRe = regexp.MustCompile(`[-+]?\d+(?:\.\d+)?`)

// boundedRe matches a single relational bound like "<100" or "≥ 60".
var boundedRe = regexp.MustCompile(`^\s*(<=?|≤|>=?|≥)\s*(.+)$`)

// closedRe matches a two-sided range with any dash variant as separator.
// Anchored so that "13.5-17.5" parses as 13.5..17.5 rather than a pair of
// signed numbers.
var closedRe = regexp.MustCompile(`^\s*([-+]?\d+(?:\.\d+)?)\s*[-–—]\s*([-+]?\d+(?:\.\d+)?)\s*$`)

// Parse interprets a reference-range string.
//
// # Inputs
//
//   - s: Raw range text as extracted, e.g. "13.5–17.5" or "< 6.0".
//
// # Outputs
//
//   - Range: The parsed interval. Meaningful only when ok is true.
//   - bool: false when the text is descriptive or unparseable.
func Parse(s string) (Range, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Range{}, false
	}

	if m := boundedRe.FindStringSubmatch(s); m != nil {
		nums := numberRe.FindAllString(m[2], -1)
		if len(nums) == 0 {
			return Range{}, false
		}
		// A relational prefix followed by several numbers is the OCR-mangled
		// form "<6 - 6.0"; take the widest bound.
		bound, err := strconv.ParseFloat(nums[0], 64)
		if err != nil {
			return Range{}, false
		}
		for _, raw := range nums[1:] {
			n, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				continue
			}
			if strings.HasPrefix(m[1], "<") || m[1] == "≤" {
				if n > bound {
					bound = n
				}
			} else if n < bound {
				bound = n
			}
		}
		if strings.HasPrefix(m[1], "<") || m[1] == "≤" {
			return Range{Max: &bound, MaxExclusive: m[1] == "<"}, true
		}
		return Range{Min: &bound, MinExclusive: m[1] == ">"}, true
	}

	// Closed range: two numbers separated by a dash variant.
	if m := closedRe.FindStringSubmatch(s); m != nil {
		lo, err1 := strconv.ParseFloat(m[1], 64)
		hi, err2 := strconv.ParseFloat(m[2], 64)
		if err1 != nil || err2 != nil || lo > hi {
			return Range{}, false
		}
		return Range{Min: &lo, Max: &hi}, true
	}

	return Range{}, false
}

// parseValue extracts the numeric content of a marker value string. Values
// are stored verbatim upstream, so they may carry their own relational
// prefix ("<6") or trailing junk; the leading number is what we compare.
// Censored values keep their direction: below means the true value is
// strictly under the number, above strictly over it.
func parseValue(s string) (n float64, below, above, ok bool) {
	s = strings.TrimSpace(s)
	if m := boundedRe.FindStringSubmatch(s); m != nil {
		below = m[1] == "<"
		above = m[1] == ">"
	}
	raw := numberRe.FindString(s)
	if raw == "" {
		return 0, false, false, false
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, false, false
	}
	return n, below, above, true
}

// =============================================================================
// Evaluation
// =============================================================================

// Evaluate classifies a verbatim marker value against a raw range string.
//
// # Description
//
// The borderline band is 25% of the range width measured from the violated
// boundary. One-sided ranges have no width, so the band falls back to 25%
// of the bound's magnitude. A value sitting exactly on a strict bound
// ("<100" with value 100) violates it at zero distance, so it classifies
// as borderline; a censored value pointing inward ("<6" against "<6.0")
// does not.
//
// # Inputs
//
//   - value: Verbatim marker value, e.g. "14.5" or "<6".
//   - referenceRange: Raw extracted range text. May be empty.
//
// # Outputs
//
//   - Verdict: Classification. VerdictNotInterpretable when either side
//     fails to parse.
func Evaluate(value, referenceRange string) Verdict {
	r, ok := Parse(referenceRange)
	if !ok {
		return VerdictNotInterpretable
	}
	v, below, above, ok := parseValue(value)
	if !ok {
		return VerdictNotInterpretable
	}

	var width float64
	switch {
	case r.Min != nil && r.Max != nil:
		width = *r.Max - *r.Min
	case r.Max != nil:
		width = abs(*r.Max)
	default:
		width = abs(*r.Min)
	}
	tolerance := 0.25 * width

	if r.Min != nil && (v < *r.Min || (r.MinExclusive && v == *r.Min && !above)) {
		if *r.Min-v <= tolerance {
			return VerdictBorderlineLow
		}
		return VerdictLow
	}
	if r.Max != nil && (v > *r.Max || (r.MaxExclusive && v == *r.Max && !below)) {
		if v-*r.Max <= tolerance {
			return VerdictBorderlineHigh
		}
		return VerdictHigh
	}
	return VerdictNormal
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
