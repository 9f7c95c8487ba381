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

package gitstore

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optakt/kart/models/kart"
)

func writeHeader(t *testing.T, stream kart.ImportStream, ref string, message string, from kart.OID) {
	t.Helper()
	header := fmt.Sprintf("commit %s\n", ref)
	header += "author Test User <test@example.com> 1600000000 +0000\n"
	header += "committer Test User <test@example.com> 1600000000 +0000\n"
	header += fmt.Sprintf("data %d\n%s\n", len(message), message)
	if !from.IsZero() {
		header += fmt.Sprintf("from %s\n", from.Hex())
	}
	_, err := stream.Write([]byte(header))
	require.NoError(t, err)
}

func writeBlob(t *testing.T, stream kart.ImportStream, path string, data []byte) {
	t.Helper()
	_, err := stream.Write([]byte(fmt.Sprintf("M 644 inline %s\ndata %d\n", path, len(data))))
	require.NoError(t, err)
	_, err = stream.Write(data)
	require.NoError(t, err)
	_, err = stream.Write([]byte("\n"))
	require.NoError(t, err)
}

func TestImporter_StreamsCommit(t *testing.T) {
	store := testStore(t)
	importer := NewImporter(testLog, store)

	ref := TempImportRef()
	stream, err := importer.Start(ref)
	require.NoError(t, err)

	writeHeader(t, stream, ref, "First import", kart.ZeroOID)
	writeBlob(t, stream, "points/one.txt", []byte("one"))
	writeBlob(t, stream, "points/two.txt", []byte("two"))
	require.NoError(t, stream.Done())

	oid, err := store.Ref(ref)
	require.NoError(t, err)
	commit, err := store.Commit(oid)
	require.NoError(t, err)
	assert.Equal(t, "First import", commit.Message)
	assert.Empty(t, commit.Parents)

	entry, err := store.EntryByPath(commit.Tree, "points/one.txt")
	require.NoError(t, err)
	require.NotNil(t, entry)
	data, err := store.Blob(entry.OID)
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), data)
}

func TestImporter_FromSeedsParentAndTree(t *testing.T) {
	store := testStore(t)
	importer := NewImporter(testLog, store)

	// First commit with one blob.
	first := TempImportRef()
	stream, err := importer.Start(first)
	require.NoError(t, err)
	writeHeader(t, stream, first, "base", kart.ZeroOID)
	writeBlob(t, stream, "a.txt", []byte("a"))
	require.NoError(t, stream.Done())
	base, err := store.Ref(first)
	require.NoError(t, err)

	// Second commit from the first, adding a blob and deleting the original.
	second := TempImportRef()
	stream, err = importer.Start(second)
	require.NoError(t, err)
	writeHeader(t, stream, second, "change", base)
	writeBlob(t, stream, "b.txt", []byte("b"))
	_, err = stream.Write([]byte("D a.txt\n"))
	require.NoError(t, err)
	require.NoError(t, stream.Done())

	oid, err := store.Ref(second)
	require.NoError(t, err)
	commit, err := store.Commit(oid)
	require.NoError(t, err)
	assert.Equal(t, []kart.OID{base}, commit.Parents)

	entry, err := store.EntryByPath(commit.Tree, "a.txt")
	require.NoError(t, err)
	assert.Nil(t, entry)
	entry, err = store.EntryByPath(commit.Tree, "b.txt")
	require.NoError(t, err)
	assert.NotNil(t, entry)
}

func TestImporter_CopyExistingBlobByOID(t *testing.T) {
	store := testStore(t)
	importer := NewImporter(testLog, store)

	blob, err := store.PutBlob([]byte("legend"))
	require.NoError(t, err)

	ref := TempImportRef()
	stream, err := importer.Start(ref)
	require.NoError(t, err)
	writeHeader(t, stream, ref, "copy", kart.ZeroOID)
	_, err = stream.Write([]byte(fmt.Sprintf("M 644 %s some/path\n", blob.Hex())))
	require.NoError(t, err)
	require.NoError(t, stream.Done())

	oid, err := store.Ref(ref)
	require.NoError(t, err)
	commit, err := store.Commit(oid)
	require.NoError(t, err)
	entry, err := store.EntryByPath(commit.Tree, "some/path")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, blob, entry.OID)
}

func TestImporter_MissingObjectFails(t *testing.T) {
	store := testStore(t)
	importer := NewImporter(testLog, store)

	ref := TempImportRef()
	stream, err := importer.Start(ref)
	require.NoError(t, err)
	writeHeader(t, stream, ref, "bad", kart.ZeroOID)
	missing := HashObject(TypeBlob, []byte("not stored"))
	_, err = stream.Write([]byte(fmt.Sprintf("M 644 %s some/path\n", missing.Hex())))
	assert.Error(t, err)
}

func TestImporter_AbortLeavesNoRef(t *testing.T) {
	store := testStore(t)
	importer := NewImporter(testLog, store)

	ref := TempImportRef()
	stream, err := importer.Start(ref)
	require.NoError(t, err)
	writeHeader(t, stream, ref, "never lands", kart.ZeroOID)
	writeBlob(t, stream, "a.txt", []byte("a"))
	require.NoError(t, stream.Abort())

	assert.False(t, store.HasRef(ref))
	assert.Error(t, stream.Done())
}

func TestImporter_SplitWritesAcrossPayloads(t *testing.T) {
	store := testStore(t)
	importer := NewImporter(testLog, store)

	ref := TempImportRef()
	stream, err := importer.Start(ref)
	require.NoError(t, err)
	writeHeader(t, stream, ref, "split", kart.ZeroOID)

	// Deliver one blob command byte by byte to exercise incremental parsing.
	full := fmt.Sprintf("M 644 inline x.txt\ndata %d\n%s\n", 5, "hello")
	for i := 0; i < len(full); i++ {
		_, err = stream.Write([]byte{full[i]})
		require.NoError(t, err)
	}
	require.NoError(t, stream.Done())

	oid, err := store.Ref(ref)
	require.NoError(t, err)
	commit, err := store.Commit(oid)
	require.NoError(t, err)
	entry, err := store.EntryByPath(commit.Tree, "x.txt")
	require.NoError(t, err)
	require.NotNil(t, entry)
}
