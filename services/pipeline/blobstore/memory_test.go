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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/LabInsights/services/pipeline/datatypes"
)

func TestMemoryStorePutDelete(t *testing.T) {
	m := NewMemory("https://objects.test")
	ctx := context.Background()

	ref, url, err := m.Put(ctx, []byte("pdf-bytes"), "doc-1", "blood.pdf", "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, "documents/doc-1/blood.pdf", ref)
	assert.Equal(t, "https://objects.test/documents/doc-1/blood.pdf", url)

	data, ok := m.Get(ref)
	require.True(t, ok)
	assert.Equal(t, []byte("pdf-bytes"), data)

	require.NoError(t, m.Delete(ctx, ref))
	assert.Equal(t, 0, m.Len())

	// Second delete reports NotFound, which callers treat as success.
	err = m.Delete(ctx, ref)
	assert.ErrorIs(t, err, datatypes.ErrNotFound)
}

func TestMemoryStoreCopiesBytes(t *testing.T) {
	m := NewMemory("")
	buf := []byte("original")
	ref, _, err := m.Put(context.Background(), buf, "doc-1", "scan.png", "image/png")
	require.NoError(t, err)

	buf[0] = 'X'
	data, _ := m.Get(ref)
	assert.Equal(t, []byte("original"), data, "store must not alias caller memory")
}
