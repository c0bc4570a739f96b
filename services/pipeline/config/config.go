// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads pipeline service configuration from the environment.
//
// # Description
//
// Every setting has an environment variable; secrets additionally fall back
// to container secret files under /run/secrets when the variable is unset.
// Optional settings take documented defaults with a warning; required
// settings fail Load with a descriptive validation error.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Defaults for optional settings.
const (
	DefaultPort           = "12310"
	DefaultDSN            = "/data/labinsights.db"
	DefaultOCRBaseURL     = "https://api.mistral.ai"
	DefaultOCRModel       = "mistral-ocr-latest"
	DefaultLLMModel       = "gpt-4o-mini"
	DefaultDeadline       = 10 * time.Minute
	DefaultStuckThreshold = 5 * time.Minute
	DefaultSweepInterval  = 60 * time.Second
)

// Config holds the full service configuration.
//
// # Fields
//
//   - Port: HTTP listen port.
//   - DSN: SQLite database path.
//   - GCSBucket: Bucket for uploaded originals. Required.
//   - GCSCredentialsFile: Optional service-account key file; empty uses
//     ambient credentials.
//   - OCRAPIKey/OCRBaseURL/OCRModel: Mistral OCR provider settings.
//   - LLMAPIKey/LLMBaseURL/LLMModel: OpenAI-compatible chat settings for
//     the extraction and insight agents. Empty base URL uses the provider
//     default.
//   - CORSOrigins: Allowed browser origins.
//   - Deadline/StuckThreshold/SweepInterval: Pipeline timing knobs.
type Config struct {
	Port               string `validate:"required"`
	DSN                string `validate:"required"`
	GCSBucket          string `validate:"required"`
	GCSCredentialsFile string
	OCRAPIKey          string `validate:"required"`
	OCRBaseURL         string `validate:"required,url"`
	OCRModel           string `validate:"required"`
	LLMAPIKey          string `validate:"required"`
	LLMBaseURL         string `validate:"omitempty,url"`
	LLMModel           string `validate:"required"`
	CORSOrigins        []string
	Deadline           time.Duration `validate:"gt=0"`
	StuckThreshold     time.Duration `validate:"gt=0"`
	SweepInterval      time.Duration `validate:"gt=0"`
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		Port:               envOrDefault("PIPELINE_PORT", DefaultPort),
		DSN:                envOrDefault("PIPELINE_DB_PATH", DefaultDSN),
		GCSBucket:          strings.Trim(os.Getenv("GCS_BUCKET"), "\"' "),
		GCSCredentialsFile: os.Getenv("GCS_CREDENTIALS_FILE"),
		OCRAPIKey:          secretOrEnv("MISTRAL_API_KEY", "/run/secrets/mistral_api_key"),
		OCRBaseURL:         envOrDefault("MISTRAL_BASE_URL", DefaultOCRBaseURL),
		OCRModel:           envOrDefault("MISTRAL_OCR_MODEL", DefaultOCRModel),
		LLMAPIKey:          secretOrEnv("OPENAI_API_KEY", "/run/secrets/openai_api_key"),
		LLMBaseURL:         strings.Trim(os.Getenv("OPENAI_BASE_URL"), "\"' "),
		LLMModel:           envOrDefault("OPENAI_MODEL", DefaultLLMModel),
		CORSOrigins:        splitOrigins(os.Getenv("CORS_ALLOWED_ORIGINS")),
		Deadline:           durationOrDefault("PIPELINE_DEADLINE", DefaultDeadline),
		StuckThreshold:     durationOrDefault("PIPELINE_STUCK_THRESHOLD", DefaultStuckThreshold),
		SweepInterval:      durationOrDefault("PIPELINE_SWEEP_INTERVAL", DefaultSweepInterval),
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// envOrDefault returns the trimmed env value, or def with a warning.
func envOrDefault(key, def string) string {
	v := strings.Trim(os.Getenv(key), "\"' ")
	if v == "" {
		slog.Warn("environment variable not set, using default", "var", key, "default", def)
		return def
	}
	return v
}

// secretOrEnv reads key from the environment, falling back to a container
// secret file.
func secretOrEnv(key, secretPath string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	data, err := os.ReadFile(secretPath)
	if err != nil {
		slog.Error("secret not found in environment or secret file", "var", key, "path", secretPath)
		return ""
	}
	slog.Info("read secret from container secrets", "var", key)
	return strings.TrimSpace(string(data))
}

// durationOrDefault parses a Go duration from the environment.
func durationOrDefault(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("invalid duration, using default", "var", key, "value", v, "default", def)
		return def
	}
	return d
}

// splitOrigins parses a comma-separated origin list. Empty means
// browser-less deployments; no CORS headers are emitted.
func splitOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			origins = append(origins, p)
		}
	}
	return origins
}
