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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optakt/kart/models/kart"
)

func treeWith(t *testing.T, store *Store, blobs map[string]string) kart.OID {
	t.Helper()
	builder := NewTreeBuilder(store, kart.ZeroOID)
	for path, contents := range blobs {
		oid, err := store.PutBlob([]byte(contents))
		require.NoError(t, err)
		require.NoError(t, builder.Insert(path, oid))
	}
	root, err := builder.Write()
	require.NoError(t, err)
	return root
}

func commitWith(t *testing.T, store *Store, tree kart.OID, when int64, parents ...kart.OID) kart.OID {
	t.Helper()
	sig := Signature{Name: "t", Email: "t@e", When: when, Offset: "+0000"}
	oid, err := store.PutCommit(&Commit{Tree: tree, Parents: parents, Author: sig, Committer: sig, Message: "m"})
	require.NoError(t, err)
	return oid
}

func TestStore_MergeBase(t *testing.T) {
	store := testStore(t)

	base := commitWith(t, store, treeWith(t, store, map[string]string{"f": "0"}), 1)
	ours := commitWith(t, store, treeWith(t, store, map[string]string{"f": "1"}), 2, base)
	theirs := commitWith(t, store, treeWith(t, store, map[string]string{"f": "2"}), 3, base)

	found, err := store.MergeBase(ours, theirs)
	require.NoError(t, err)
	assert.Equal(t, base, found)

	t.Run("unrelated histories have no merge base", func(t *testing.T) {
		stray := commitWith(t, store, treeWith(t, store, map[string]string{"g": "9"}), 4)
		found, err := store.MergeBase(ours, stray)
		require.NoError(t, err)
		assert.True(t, found.IsZero())
	})

	t.Run("fast-forward base is the older commit", func(t *testing.T) {
		found, err := store.MergeBase(base, ours)
		require.NoError(t, err)
		assert.Equal(t, base, found)
	})
}

func TestStore_MergeTrees(t *testing.T) {
	store := testStore(t)

	t.Run("clean merge takes both changes", func(t *testing.T) {
		ancestor := treeWith(t, store, map[string]string{"one": "a", "two": "b"})
		ours := treeWith(t, store, map[string]string{"one": "a", "two": "b", "three": "c"})
		theirs := treeWith(t, store, map[string]string{"one": "a", "two": "B"})

		index, err := store.MergeTrees(ancestor, ours, theirs)
		require.NoError(t, err)
		assert.Empty(t, index.Conflicts)
		assert.Len(t, index.Entries, 3)

		merged, err := index.WriteTree(store)
		require.NoError(t, err)
		expected := treeWith(t, store, map[string]string{"one": "a", "two": "B", "three": "c"})
		assert.Equal(t, expected, merged)
	})

	t.Run("competing edits conflict", func(t *testing.T) {
		ancestor := treeWith(t, store, map[string]string{"one": "a"})
		ours := treeWith(t, store, map[string]string{"one": "X"})
		theirs := treeWith(t, store, map[string]string{"one": "Y"})

		index, err := store.MergeTrees(ancestor, ours, theirs)
		require.NoError(t, err)
		require.Len(t, index.Conflicts, 1)
		conflict := index.Conflicts["one"]
		require.NotNil(t, conflict.Ancestor)
		require.NotNil(t, conflict.Ours)
		require.NotNil(t, conflict.Theirs)
		assert.NotEqual(t, conflict.Ours.OID, conflict.Theirs.OID)
	})

	t.Run("edit versus delete conflicts", func(t *testing.T) {
		ancestor := treeWith(t, store, map[string]string{"one": "a"})
		ours := treeWith(t, store, map[string]string{"one": "X"})
		theirs := treeWith(t, store, map[string]string{})

		index, err := store.MergeTrees(ancestor, ours, theirs)
		require.NoError(t, err)
		require.Len(t, index.Conflicts, 1)
		conflict := index.Conflicts["one"]
		assert.Nil(t, conflict.Theirs)
	})

	t.Run("both delete merges cleanly", func(t *testing.T) {
		ancestor := treeWith(t, store, map[string]string{"one": "a", "keep": "k"})
		ours := treeWith(t, store, map[string]string{"keep": "k"})
		theirs := treeWith(t, store, map[string]string{"keep": "k"})

		index, err := store.MergeTrees(ancestor, ours, theirs)
		require.NoError(t, err)
		assert.Empty(t, index.Conflicts)
		assert.Len(t, index.Entries, 1)
	})
}
