// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rangeparse

import (
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		min  float64
		max  float64
		// hasMin/hasMax describe the expected bound shape; ok=false means unparseable.
		hasMin bool
		hasMax bool
		ok     bool
	}{
		{name: "closed hyphen", in: "3.5 - 5.0", min: 3.5, max: 5.0, hasMin: true, hasMax: true, ok: true},
		{name: "closed en dash", in: "3.5–5.0", min: 3.5, max: 5.0, hasMin: true, hasMax: true, ok: true},
		{name: "closed no spaces", in: "13.5-17.5", min: 13.5, max: 17.5, hasMin: true, hasMax: true, ok: true},
		{name: "upper bound", in: "<100", max: 100, hasMax: true, ok: true},
		{name: "upper bound leq", in: "≤ 2.0", max: 2.0, hasMax: true, ok: true},
		{name: "lower bound", in: ">40", min: 40, hasMin: true, ok: true},
		{name: "lower bound geq", in: "≥ 60", min: 60, hasMin: true, ok: true},
		{name: "malformed upper takes max", in: "<6 - 6.0", max: 6.0, hasMax: true, ok: true},
		{name: "malformed upper reversed", in: "<6.0 - 6", max: 6.0, hasMax: true, ok: true},
		{name: "descriptive", in: "depending on age and sex", ok: false},
		{name: "varies", in: "varies", ok: false},
		{name: "empty", in: "", ok: false},
		{name: "inverted closed range", in: "5.0 - 3.5", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, ok := Parse(tt.in)
			if ok != tt.ok {
				t.Fatalf("Parse(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			}
			if !ok {
				return
			}
			if (r.Min != nil) != tt.hasMin || (r.Max != nil) != tt.hasMax {
				t.Fatalf("Parse(%q) bounds = (%v, %v)", tt.in, r.Min, r.Max)
			}
			if r.Min != nil && *r.Min != tt.min {
				t.Errorf("Parse(%q) min = %v, want %v", tt.in, *r.Min, tt.min)
			}
			if r.Max != nil && *r.Max != tt.max {
				t.Errorf("Parse(%q) max = %v, want %v", tt.in, *r.Max, tt.max)
			}
		})
	}
}

func TestParseExclusivity(t *testing.T) {
	tests := []struct {
		in      string
		minExcl bool
		maxExcl bool
	}{
		{"<100", false, true},
		{"<= 2.0", false, false},
		{"≤ 2.0", false, false},
		{">40", true, false},
		{">= 60", false, false},
		{"≥ 60", false, false},
		{"13.5-17.5", false, false},
	}

	for _, tt := range tests {
		r, ok := Parse(tt.in)
		if !ok {
			t.Fatalf("Parse(%q) failed", tt.in)
		}
		if r.MinExclusive != tt.minExcl || r.MaxExclusive != tt.maxExcl {
			t.Errorf("Parse(%q) exclusivity = (%v, %v), want (%v, %v)",
				tt.in, r.MinExclusive, r.MaxExclusive, tt.minExcl, tt.maxExcl)
		}
	}
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name  string
		value string
		rng   string
		want  Verdict
	}{
		{"inside closed range", "14.5", "13.5-17.5", VerdictNormal},
		{"at lower bound", "13.5", "13.5-17.5", VerdictNormal},
		{"at upper bound", "17.5", "13.5-17.5", VerdictNormal},
		{"borderline low", "12.8", "13.5-17.5", VerdictBorderlineLow},
		{"clearly low", "10.0", "13.5-17.5", VerdictLow},
		{"borderline high", "18.2", "13.5-17.5", VerdictBorderlineHigh},
		{"clearly high", "25.0", "13.5-17.5", VerdictHigh},
		{"under upper bound", "85", "<100", VerdictNormal},
		{"at exclusive upper bound", "100", "<100", VerdictBorderlineHigh},
		{"at inclusive upper bound", "2.0", "≤ 2.0", VerdictNormal},
		{"over upper bound borderline", "110", "<100", VerdictBorderlineHigh},
		{"over upper bound clearly", "200", "<100", VerdictHigh},
		{"over lower bound", "62", ">40", VerdictNormal},
		{"at exclusive lower bound", "40", ">40", VerdictBorderlineLow},
		{"at inclusive lower bound", "60", "≥ 60", VerdictNormal},
		{"under lower bound", "20", ">40", VerdictLow},
		{"value carries prefix", "<6", "<6.0", VerdictNormal},
		{"censored value at exclusive lower bound", ">40", ">40", VerdictNormal},
		{"descriptive range", "14.5", "varies", VerdictNotInterpretable},
		{"missing range", "14.5", "", VerdictNotInterpretable},
		{"non numeric value", "positive", "13.5-17.5", VerdictNotInterpretable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Evaluate(tt.value, tt.rng); got != tt.want {
				t.Errorf("Evaluate(%q, %q) = %q, want %q", tt.value, tt.rng, got, tt.want)
			}
		})
	}
}

func TestVerdictAbnormal(t *testing.T) {
	abnormal := []Verdict{VerdictLow, VerdictHigh, VerdictBorderlineLow, VerdictBorderlineHigh}
	for _, v := range abnormal {
		if !v.Abnormal() {
			t.Errorf("%q should be abnormal", v)
		}
	}
	for _, v := range []Verdict{VerdictNormal, VerdictNotInterpretable} {
		if v.Abnormal() {
			t.Errorf("%q should not be abnormal", v)
		}
	}
}
