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

package lfs_test

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optakt/kart/service/lfs"
)

var testLog = zerolog.New(io.Discard)

func TestPointer_Roundtrip(t *testing.T) {
	pointer := lfs.Pointer{
		OID:  "sha256:aec070645fe53ee3b3763059376134f058cc337247c978add178b6ccdfb0019f",
		Size: 1234,
		Extra: map[string]string{
			"format":    "laz-1.4",
			"sourceOid": "sha256:deadbeef",
			"extent":    "1,2,3,4",
		},
	}

	data := pointer.Encode()
	decoded, err := lfs.ParsePointer(data)
	require.NoError(t, err)
	assert.Equal(t, pointer.OID, decoded.OID)
	assert.Equal(t, pointer.Size, decoded.Size)
	assert.Equal(t, pointer.Extra, decoded.Extra)
}

func TestPointer_EncodeIsCanonical(t *testing.T) {
	pointer := lfs.Pointer{
		OID:  "sha256:aec070645fe53ee3b3763059376134f058cc337247c978add178b6ccdfb0019f",
		Size: 42,
		Extra: map[string]string{
			"zebra":  "last",
			"aabach": "first",
			"format": "copc-1.0",
		},
	}

	expected := "version https://git-lfs.github.com/spec/v1\n" +
		"oid sha256:aec070645fe53ee3b3763059376134f058cc337247c978add178b6ccdfb0019f\n" +
		"size 42\n" +
		"aabach first\n" +
		"format copc-1.0\n" +
		"zebra last\n"
	assert.Equal(t, expected, string(pointer.Encode()))
}

func TestParsePointer_Invalid(t *testing.T) {
	_, err := lfs.ParsePointer([]byte("oid sha256:ab\nsize 1\n"))
	assert.Error(t, err, "missing version should be rejected")

	_, err = lfs.ParsePointer([]byte("version x\noid md5:ab\nsize 1\n"))
	assert.Error(t, err, "non-sha256 oid should be rejected")

	_, err = lfs.ParsePointer([]byte("version x\noid sha256:ab\nsize many\n"))
	assert.Error(t, err, "non-decimal size should be rejected")
}

func TestCache_Store(t *testing.T) {
	dir := t.TempDir()
	cache := lfs.NewCache(testLog, filepath.Join(dir, "lfs"))

	source := filepath.Join(dir, "tile.laz")
	require.NoError(t, os.WriteFile(source, []byte("tile-bytes"), 0666))

	sha, size, err := cache.Store(source)
	require.NoError(t, err)
	assert.Equal(t, int64(10), size)
	assert.True(t, cache.Has(sha))

	// The object lands under the two-level hash prefix fanout.
	assert.Equal(t, filepath.Join(dir, "lfs", "objects", sha[0:2], sha[2:4], sha), cache.Path(sha))

	// Duplicate writes of the same object are idempotent.
	again, _, err := cache.Store(source)
	require.NoError(t, err)
	assert.Equal(t, sha, again)

	file, err := cache.Open(sha)
	require.NoError(t, err)
	defer file.Close()
	contents, err := io.ReadAll(file)
	require.NoError(t, err)
	assert.Equal(t, []byte("tile-bytes"), contents)
}

func TestCache_StoreBytes(t *testing.T) {
	cache := lfs.NewCache(testLog, t.TempDir())
	sha, err := cache.StoreBytes([]byte("contents"))
	require.NoError(t, err)
	assert.True(t, cache.Has(sha))
}
