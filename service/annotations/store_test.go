// Copyright 2021 Optakt Labs OÜ
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may not
// use this file except in compliance with the License. You may obtain a copy of
// the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations under
// the License.

package annotations_test

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optakt/kart/service/annotations"
)

var testLog = zerolog.New(io.Discard)

func TestStore_Roundtrip(t *testing.T) {
	store, err := annotations.Open(testLog, filepath.Join(t.TempDir(), "annotations.db"))
	require.NoError(t, err)
	defer store.Close()

	_, ok, err := store.Get("diff-counts", "abc..def")
	require.NoError(t, err)
	assert.False(t, ok)

	store.Put("diff-counts", "abc..def", []byte(`{"inserts":3}`))

	data, ok, err := store.Get("diff-counts", "abc..def")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"inserts":3}`, string(data))
}

func TestStore_FallsBackToMemory(t *testing.T) {
	// A path that cannot be created forces the memory-only fallback.
	store, err := annotations.Open(testLog, filepath.Join("/proc", "definitely", "not", "writable"))
	require.NoError(t, err)
	defer store.Close()

	assert.True(t, store.Readonly())

	// The fallback still accepts reads and writes in memory.
	store.Put("diff-counts", "x", []byte("y"))
	data, ok, err := store.Get("diff-counts", "x")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "y", string(data))
}

func TestSessions_Reenter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "annotations.db")

	first, err := annotations.Acquire(testLog, path)
	require.NoError(t, err)
	second, err := annotations.Acquire(testLog, path)
	require.NoError(t, err)
	assert.Same(t, first, second)

	require.NoError(t, annotations.Release(path))

	// Still usable while one reference remains.
	first.Put("t", "o", []byte("v"))
	_, ok, err := first.Get("t", "o")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, annotations.Release(path))
}
