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

package kart

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDelta(t *testing.T) {
	t.Run("nominal case", func(t *testing.T) {
		delta, err := NewDelta(NewKeyValue("1", "a"), NewKeyValue("1", "b"))
		require.NoError(t, err)
		assert.Equal(t, DeltaUpdate, delta.Type())
		assert.Equal(t, "1", delta.Key())
	})

	t.Run("empty delta", func(t *testing.T) {
		_, err := NewDelta(nil, nil)
		assert.Error(t, err)
	})
}

func TestDelta_Types(t *testing.T) {
	assert.Equal(t, DeltaInsert, Insert(NewKeyValue("1", "a")).Type())
	assert.Equal(t, DeltaDelete, Delete(NewKeyValue("1", "a")).Type())
	assert.Equal(t, DeltaUpdate, Update(NewKeyValue("1", "a"), NewKeyValue("1", "b")).Type())
}

func TestDelta_Invert(t *testing.T) {
	delta := Update(NewKeyValue("1", "a"), NewKeyValue("2", "b"))
	delta.Flags = WorkingCopyEdit

	inv := delta.Invert()
	assert.Equal(t, "2", inv.OldKey())
	assert.Equal(t, "1", inv.NewKey())
	assert.Equal(t, WorkingCopyEdit, inv.Flags)

	// Inversion is an involution.
	back := inv.Invert()
	assert.Equal(t, delta.OldKey(), back.OldKey())
	assert.Equal(t, delta.NewKey(), back.NewKey())
}

func TestDelta_IsRename(t *testing.T) {
	assert.True(t, Update(NewKeyValue("1", "a"), NewKeyValue("2", "a")).IsRename())
	assert.False(t, Update(NewKeyValue("1", "a"), NewKeyValue("1", "b")).IsRename())
	assert.False(t, Insert(NewKeyValue("2", "a")).IsRename())
}

func TestDelta_Concat(t *testing.T) {

	insert := func(v string) *Delta { return Insert(NewKeyValue("1", v)) }
	update := func(o string, n string) *Delta { return Update(NewKeyValue("1", o), NewKeyValue("1", n)) }
	del := func(v string) *Delta { return Delete(NewKeyValue("1", v)) }

	t.Run("insert + insert conflicts", func(t *testing.T) {
		_, err := insert("a").Concat(insert("b"))
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("insert + update is insert", func(t *testing.T) {
		result, err := insert("a").Concat(update("a", "b"))
		require.NoError(t, err)
		require.NotNil(t, result)
		assert.Equal(t, DeltaInsert, result.Type())
		contents, err := result.New.Value.Get()
		require.NoError(t, err)
		assert.Equal(t, "b", contents)
	})

	t.Run("insert + delete cancels out", func(t *testing.T) {
		result, err := insert("a").Concat(del("a"))
		require.NoError(t, err)
		assert.Nil(t, result)
	})

	t.Run("update + insert conflicts", func(t *testing.T) {
		_, err := update("a", "b").Concat(insert("c"))
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("update + update composes", func(t *testing.T) {
		result, err := update("a", "b").Concat(update("b", "c"))
		require.NoError(t, err)
		require.NotNil(t, result)
		assert.Equal(t, DeltaUpdate, result.Type())
		oldContents, err := result.Old.Value.Get()
		require.NoError(t, err)
		newContents, err := result.New.Value.Get()
		require.NoError(t, err)
		assert.Equal(t, "a", oldContents)
		assert.Equal(t, "c", newContents)
	})

	t.Run("update + reverse update cancels out", func(t *testing.T) {
		result, err := update("a", "b").Concat(update("b", "a"))
		require.NoError(t, err)
		assert.Nil(t, result)
	})

	t.Run("update + delete is delete", func(t *testing.T) {
		result, err := update("a", "b").Concat(del("b"))
		require.NoError(t, err)
		require.NotNil(t, result)
		assert.Equal(t, DeltaDelete, result.Type())
		contents, err := result.Old.Value.Get()
		require.NoError(t, err)
		assert.Equal(t, "a", contents)
	})

	t.Run("delete + insert is update", func(t *testing.T) {
		result, err := del("a").Concat(insert("b"))
		require.NoError(t, err)
		require.NotNil(t, result)
		assert.Equal(t, DeltaUpdate, result.Type())
	})

	t.Run("delete + reinsert of same value cancels out", func(t *testing.T) {
		result, err := del("a").Concat(insert("a"))
		require.NoError(t, err)
		assert.Nil(t, result)
	})

	t.Run("delete + delete conflicts", func(t *testing.T) {
		_, err := del("a").Concat(del("a"))
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("delete + update conflicts", func(t *testing.T) {
		_, err := del("a").Concat(update("a", "b"))
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("flags are combined", func(t *testing.T) {
		first := update("a", "b")
		first.Flags = WorkingCopyEdit
		second := update("b", "c")
		second.Flags = BinaryFile

		result, err := first.Concat(second)
		require.NoError(t, err)
		require.NotNil(t, result)
		assert.Equal(t, WorkingCopyEdit|BinaryFile, result.Flags)
	})

	t.Run("inversion reverses concatenation", func(t *testing.T) {
		a := update("a", "b")
		b := update("b", "c")

		forward, err := a.Concat(b)
		require.NoError(t, err)
		backward, err := b.Invert().Concat(a.Invert())
		require.NoError(t, err)

		forwardOld, _ := forward.Old.Value.Get()
		backwardNew, _ := backward.New.Value.Get()
		assert.Equal(t, forwardOld, backwardNew)
	})
}

func TestValue_Lazy(t *testing.T) {
	t.Run("deferred values are memoized", func(t *testing.T) {
		calls := 0
		value := DeferredValue(func() (interface{}, error) {
			calls++
			return "contents", nil
		})

		assert.False(t, value.Materialized())

		contents, err := value.Get()
		require.NoError(t, err)
		assert.Equal(t, "contents", contents)
		assert.True(t, value.Materialized())

		_, err = value.Get()
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("immediate values are always materialized", func(t *testing.T) {
		value := NewValue("contents")
		assert.True(t, value.Materialized())
	})
}
