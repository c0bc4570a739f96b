// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package blobstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/AleutianAI/LabInsights/services/pipeline/datatypes"
)

// MemoryStore implements ObjectStore in process memory. Used by tests and
// by local runs without GCS credentials.
type MemoryStore struct {
	// URLPrefix is prepended to storage refs to form fetch URLs, e.g. the
	// base URL of an httptest server that serves the objects.
	URLPrefix string

	mu      sync.Mutex
	objects map[string][]byte
}

var _ ObjectStore = (*MemoryStore)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory(urlPrefix string) *MemoryStore {
	return &MemoryStore{
		URLPrefix: urlPrefix,
		objects:   make(map[string][]byte),
	}
}

// Put stores a copy of the bytes under documents/<id>/<filename>.
func (m *MemoryStore) Put(_ context.Context, data []byte, documentID, filename, _ string) (string, string, error) {
	ref := fmt.Sprintf("documents/%s/%s", documentID, filename)
	buf := make([]byte, len(data))
	copy(buf, data)

	m.mu.Lock()
	m.objects[ref] = buf
	m.mu.Unlock()

	return ref, m.URLPrefix + "/" + ref, nil
}

// SignFetchURL rebuilds the fetch URL for an existing object.
func (m *MemoryStore) SignFetchURL(_ context.Context, storageRef string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[storageRef]; !ok {
		return "", fmt.Errorf("object %s: %w", storageRef, datatypes.ErrNotFound)
	}
	return m.URLPrefix + "/" + storageRef, nil
}

// Delete removes the object; missing refs map to ErrNotFound.
func (m *MemoryStore) Delete(_ context.Context, storageRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[storageRef]; !ok {
		return fmt.Errorf("object %s: %w", storageRef, datatypes.ErrNotFound)
	}
	delete(m.objects, storageRef)
	return nil
}

// Get returns the stored bytes. Test helper.
func (m *MemoryStore) Get(storageRef string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[storageRef]
	return data, ok
}

// Len returns the number of stored objects. Test helper.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}
