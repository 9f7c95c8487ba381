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
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optakt/kart/models/kart"
)

var testLog = zerolog.New(io.Discard)

func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := Init(testLog, t.TempDir())
	require.NoError(t, err)
	return store
}

func TestStore_BlobRoundtrip(t *testing.T) {
	store := testStore(t)

	oid, err := store.PutBlob([]byte("hello"))
	require.NoError(t, err)
	assert.True(t, store.HasObject(oid))

	data, err := store.Blob(oid)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	// Writing the same contents again is idempotent.
	again, err := store.PutBlob([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, oid, again)
}

func TestStore_BlobNotFound(t *testing.T) {
	store := testStore(t)
	_, err := store.Blob(HashObject(TypeBlob, []byte("missing")))
	require.Error(t, err)
	assert.Equal(t, kart.ExitNotFound, kart.ExitCode(err))
}

func TestHashObject_KnownValue(t *testing.T) {
	// The empty blob hash is a well-known git constant.
	oid := HashObject(TypeBlob, nil)
	assert.Equal(t, "e69de29bb2d1d6434b8b29ae775ad8c2e48c5391", oid.Hex())
}

func TestStore_TreeRoundtrip(t *testing.T) {
	store := testStore(t)

	blob, err := store.PutBlob([]byte("contents"))
	require.NoError(t, err)

	tree := Tree{Entries: []TreeEntry{
		{Mode: ModeBlob, Name: "b.txt", OID: blob},
		{Mode: ModeBlob, Name: "a.txt", OID: blob},
	}}
	oid, err := store.PutTree(&tree)
	require.NoError(t, err)

	// Entry order does not affect the tree OID.
	swapped := Tree{Entries: []TreeEntry{
		{Mode: ModeBlob, Name: "a.txt", OID: blob},
		{Mode: ModeBlob, Name: "b.txt", OID: blob},
	}}
	swappedOID, err := store.PutTree(&swapped)
	require.NoError(t, err)
	assert.Equal(t, oid, swappedOID)

	decoded, err := store.Tree(oid)
	require.NoError(t, err)
	require.Len(t, decoded.Entries, 2)
	assert.Equal(t, "a.txt", decoded.Entries[0].Name)
	assert.Equal(t, "b.txt", decoded.Entries[1].Name)
}

func TestStore_CommitRoundtrip(t *testing.T) {
	store := testStore(t)

	tree, err := store.EmptyTree()
	require.NoError(t, err)

	sig := Signature{Name: "Test User", Email: "test@example.com", When: 1600000000, Offset: "+1300"}
	commit := Commit{
		Tree:      tree,
		Author:    sig,
		Committer: sig,
		Message:   "Initial import\n\nWith a body.\n",
	}
	oid, err := store.PutCommit(&commit)
	require.NoError(t, err)

	decoded, err := store.Commit(oid)
	require.NoError(t, err)
	assert.Equal(t, tree, decoded.Tree)
	assert.Empty(t, decoded.Parents)
	assert.Equal(t, sig, decoded.Author)
	assert.Equal(t, commit.Message, decoded.Message)
}

func TestParseSignature(t *testing.T) {
	sig, err := ParseSignature("Test User <test@example.com> 1600000000 +1300")
	require.NoError(t, err)
	assert.Equal(t, "Test User", sig.Name)
	assert.Equal(t, "test@example.com", sig.Email)
	assert.Equal(t, int64(1600000000), sig.When)
	assert.Equal(t, "+1300", sig.Offset)

	_, err = ParseSignature("garbage")
	assert.Error(t, err)
}

func TestStore_Refs(t *testing.T) {
	store := testStore(t)

	tree, err := store.EmptyTree()
	require.NoError(t, err)
	sig := Signature{Name: "t", Email: "t@e", When: 1, Offset: "+0000"}
	oid, err := store.PutCommit(&Commit{Tree: tree, Author: sig, Committer: sig, Message: "m"})
	require.NoError(t, err)

	err = store.SetRef("refs/heads/main", oid)
	require.NoError(t, err)

	got, err := store.Ref("refs/heads/main")
	require.NoError(t, err)
	assert.Equal(t, oid, got)

	resolved, err := store.ResolveRevision("main")
	require.NoError(t, err)
	assert.Equal(t, oid, resolved)

	resolved, err = store.ResolveRevision("HEAD")
	require.NoError(t, err)
	assert.Equal(t, oid, resolved)

	resolved, err = store.ResolveRevision(oid.Hex())
	require.NoError(t, err)
	assert.Equal(t, oid, resolved)

	_, err = store.ResolveRevision("no-such-branch")
	require.Error(t, err)
	assert.Equal(t, kart.ExitNoBranch, kart.ExitCode(err))

	err = store.DeleteRef("refs/heads/main")
	require.NoError(t, err)
	assert.False(t, store.HasRef("refs/heads/main"))
}

func TestTreeBuilder(t *testing.T) {
	store := testStore(t)

	blob1, err := store.PutBlob([]byte("one"))
	require.NoError(t, err)
	blob2, err := store.PutBlob([]byte("two"))
	require.NoError(t, err)

	builder := NewTreeBuilder(store, kart.ZeroOID)
	require.NoError(t, builder.Insert("points/.table-dataset.v3/meta/title", blob1))
	require.NoError(t, builder.Insert("points/.table-dataset.v3/feature/ab/cd/AQ==", blob2))
	root, err := builder.Write()
	require.NoError(t, err)

	entry, err := store.EntryByPath(root, "points/.table-dataset.v3/meta/title")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, blob1, entry.OID)

	t.Run("removing a blob prunes empty subtrees", func(t *testing.T) {
		builder := NewTreeBuilder(store, root)
		require.NoError(t, builder.Remove("points/.table-dataset.v3/feature/ab/cd/AQ=="))
		pruned, err := builder.Write()
		require.NoError(t, err)

		entry, err := store.EntryByPath(pruned, "points/.table-dataset.v3/feature")
		require.NoError(t, err)
		assert.Nil(t, entry)

		entry, err = store.EntryByPath(pruned, "points/.table-dataset.v3/meta/title")
		require.NoError(t, err)
		assert.NotNil(t, entry)
	})

	t.Run("removing a whole subtree", func(t *testing.T) {
		builder := NewTreeBuilder(store, root)
		require.NoError(t, builder.Remove("points"))
		pruned, err := builder.Write()
		require.NoError(t, err)

		tree, err := store.Tree(pruned)
		require.NoError(t, err)
		assert.Empty(t, tree.Entries)
	})

	t.Run("identical contents give identical trees", func(t *testing.T) {
		other := NewTreeBuilder(store, kart.ZeroOID)
		require.NoError(t, other.Insert("points/.table-dataset.v3/feature/ab/cd/AQ==", blob2))
		require.NoError(t, other.Insert("points/.table-dataset.v3/meta/title", blob1))
		otherRoot, err := other.Write()
		require.NoError(t, err)
		assert.Equal(t, root, otherRoot)
	})
}

func TestStore_CountBlobs(t *testing.T) {
	store := testStore(t)
	blob, err := store.PutBlob([]byte("x"))
	require.NoError(t, err)

	builder := NewTreeBuilder(store, kart.ZeroOID)
	require.NoError(t, builder.Insert("a/b/one", blob))
	require.NoError(t, builder.Insert("a/b/two", blob))
	require.NoError(t, builder.Insert("a/three", blob))
	root, err := builder.Write()
	require.NoError(t, err)

	count, err := store.CountBlobs(root)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}
