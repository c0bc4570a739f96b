// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package blobstore stores original uploaded documents.
//
// The pipeline only needs two things from object storage: a durable
// reference for later cleanup and a time-limited fetch URL the OCR provider
// can download from. The GCS implementation is the production path; the
// memory implementation backs tests and credential-less local runs.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/AleutianAI/LabInsights/services/pipeline/datatypes"
)

// ObjectStore is the storage gateway for original document bytes.
//
// # Description
//
// Put is not retried internally; a transport failure surfaces as
// ErrStorageUnavailable and fails the upload. Delete is idempotent:
// a missing object returns ErrNotFound, which callers treat as success.
type ObjectStore interface {
	// Put uploads the bytes and returns a durable storage reference plus a
	// fetch URL valid for at least the pipeline's end-to-end deadline.
	Put(ctx context.Context, data []byte, documentID, filename, contentType string) (storageRef, fetchURL string, err error)

	// SignFetchURL issues a fresh time-limited fetch URL for an existing
	// object. Used on retry, where the URL minted at upload time may have
	// expired.
	SignFetchURL(ctx context.Context, storageRef string) (string, error)

	// Delete removes the object behind a storage reference.
	Delete(ctx context.Context, storageRef string) error
}

// =============================================================================
// GCS Implementation
// =============================================================================

// GCSStore implements ObjectStore on a Google Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
	urlTTL time.Duration
}

var _ ObjectStore = (*GCSStore)(nil)

// NewGCS creates a GCS-backed store.
//
// # Inputs
//
//   - bucket: Target bucket name.
//   - urlTTL: Validity window for signed fetch URLs. Must cover the
//     pipeline deadline; callers pass deadline plus slack.
//   - opts: Client options, e.g. option.WithCredentialsFile for explicit
//     service-account keys. Empty uses ambient credentials.
func NewGCS(ctx context.Context, bucket string, urlTTL time.Duration, opts ...option.ClientOption) (*GCSStore, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket, urlTTL: urlTTL}, nil
}

// Put uploads the document bytes to documents/<id>/<filename>.
func (g *GCSStore) Put(ctx context.Context, data []byte, documentID, filename, contentType string) (string, string, error) {
	objectPath := fmt.Sprintf("documents/%s/%s", documentID, filename)

	writer := g.client.Bucket(g.bucket).Object(objectPath).NewWriter(ctx)
	writer.ContentType = contentType
	writer.CacheControl = "no-cache, no-store, must-revalidate"
	if _, err := writer.Write(data); err != nil {
		return "", "", fmt.Errorf("write object %s: %w: %v", objectPath, datatypes.ErrStorageUnavailable, err)
	}
	if err := writer.Close(); err != nil {
		return "", "", fmt.Errorf("close object %s: %w: %v", objectPath, datatypes.ErrStorageUnavailable, err)
	}

	fetchURL, err := g.SignFetchURL(ctx, objectPath)
	if err != nil {
		return "", "", err
	}

	slog.Info("stored document in GCS", "bucket", g.bucket, "object", objectPath, "bytes", len(data))
	return objectPath, fetchURL, nil
}

// SignFetchURL issues a V4 signed GET URL for an existing object.
func (g *GCSStore) SignFetchURL(_ context.Context, storageRef string) (string, error) {
	fetchURL, err := g.client.Bucket(g.bucket).SignedURL(storageRef, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(g.urlTTL),
	})
	if err != nil {
		return "", fmt.Errorf("sign fetch URL for %s: %w: %v", storageRef, datatypes.ErrStorageUnavailable, err)
	}
	return fetchURL, nil
}

// Delete removes the object. A missing object maps to ErrNotFound.
func (g *GCSStore) Delete(ctx context.Context, storageRef string) error {
	err := g.client.Bucket(g.bucket).Object(storageRef).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("object %s: %w", storageRef, datatypes.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("delete object %s: %w: %v", storageRef, datatypes.ErrStorageUnavailable, err)
	}
	return nil
}
