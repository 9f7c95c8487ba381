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

func repoDiffFixture(section string, deltas ...*Delta) RepoDiff {
	return RepoDiff{
		"points": DatasetDiff{
			section: NewDeltaDiff(deltas...),
		},
	}
}

func TestDeltaDiff_Concat(t *testing.T) {
	t.Run("disjoint keys are merged", func(t *testing.T) {
		lhs := NewDeltaDiff(Insert(NewKeyValue("1", "a")))
		rhs := NewDeltaDiff(Insert(NewKeyValue("2", "b")))

		result, err := lhs.Concat(rhs)
		require.NoError(t, err)
		assert.Len(t, result, 2)
	})

	t.Run("matching keys compose", func(t *testing.T) {
		lhs := NewDeltaDiff(Insert(NewKeyValue("1", "a")))
		rhs := NewDeltaDiff(Update(NewKeyValue("1", "a"), NewKeyValue("1", "b")))

		result, err := lhs.Concat(rhs)
		require.NoError(t, err)
		require.Len(t, result, 1)
		assert.Equal(t, DeltaInsert, result["1"].Type())
	})

	t.Run("cancelling keys are removed", func(t *testing.T) {
		lhs := NewDeltaDiff(Insert(NewKeyValue("1", "a")))
		rhs := NewDeltaDiff(Delete(NewKeyValue("1", "a")))

		result, err := lhs.Concat(rhs)
		require.NoError(t, err)
		assert.Empty(t, result)
	})

	t.Run("conflicting keys propagate the error", func(t *testing.T) {
		lhs := NewDeltaDiff(Insert(NewKeyValue("1", "a")))
		rhs := NewDeltaDiff(Insert(NewKeyValue("1", "b")))

		_, err := lhs.Concat(rhs)
		assert.ErrorIs(t, err, ErrConflict)
	})
}

func TestRepoDiff_ConcatAssociativity(t *testing.T) {

	// Three consecutive diffs over the same dataset shape.
	a := repoDiffFixture(SectionFeature, Insert(NewKeyValue("1", "a")))
	b := repoDiffFixture(SectionFeature, Update(NewKeyValue("1", "a"), NewKeyValue("1", "b")))
	c := repoDiffFixture(SectionFeature, Update(NewKeyValue("1", "b"), NewKeyValue("1", "c")))

	ab, err := a.Concat(b)
	require.NoError(t, err)
	left, err := ab.Concat(c)
	require.NoError(t, err)

	// Rebuild the fixtures since concatenation may consume lazy state.
	a = repoDiffFixture(SectionFeature, Insert(NewKeyValue("1", "a")))
	b = repoDiffFixture(SectionFeature, Update(NewKeyValue("1", "a"), NewKeyValue("1", "b")))
	c = repoDiffFixture(SectionFeature, Update(NewKeyValue("1", "b"), NewKeyValue("1", "c")))

	bc, err := b.Concat(c)
	require.NoError(t, err)
	right, err := a.Concat(bc)
	require.NoError(t, err)

	require.Equal(t, left.RecursiveLen(), right.RecursiveLen())
	leftDelta := left["points"][SectionFeature]["1"]
	rightDelta := right["points"][SectionFeature]["1"]
	assert.Equal(t, leftDelta.Type(), rightDelta.Type())
	leftNew, _ := leftDelta.New.Value.Get()
	rightNew, _ := rightDelta.New.Value.Get()
	assert.Equal(t, leftNew, rightNew)
}

func TestRepoDiff_Invert(t *testing.T) {
	diff := repoDiffFixture(SectionFeature,
		Insert(NewKeyValue("1", "a")),
		Delete(NewKeyValue("2", "b")),
	)

	inv := diff.Invert()
	assert.Equal(t, DeltaDelete, inv["points"][SectionFeature]["1"].Type())
	assert.Equal(t, DeltaInsert, inv["points"][SectionFeature]["2"].Type())

	// Double inversion restores the original.
	back := inv.Invert()
	assert.Equal(t, DeltaInsert, back["points"][SectionFeature]["1"].Type())
	assert.Equal(t, DeltaDelete, back["points"][SectionFeature]["2"].Type())
}

func TestRepoDiff_Concat_RemovesEmptyDatasets(t *testing.T) {
	lhs := repoDiffFixture(SectionFeature, Insert(NewKeyValue("1", "a")))
	rhs := repoDiffFixture(SectionFeature, Delete(NewKeyValue("1", "a")))

	result, err := lhs.Concat(rhs)
	require.NoError(t, err)
	assert.Empty(t, result)
}

func TestRepoDiff_Filter(t *testing.T) {
	diff := RepoDiff{
		"points": DatasetDiff{
			SectionFeature: NewDeltaDiff(
				Insert(NewKeyValue("1", "a")),
				Insert(NewKeyValue("2", "b")),
			),
		},
		"lines": DatasetDiff{
			SectionFeature: NewDeltaDiff(Insert(NewKeyValue("7", "z"))),
		},
	}

	t.Run("match all keeps everything", func(t *testing.T) {
		assert.Equal(t, 3, diff.Filter(MatchAllRepo()).RecursiveLen())
	})

	t.Run("dataset filter drops other datasets", func(t *testing.T) {
		filter, err := ParseFilterPatterns("points")
		require.NoError(t, err)
		filtered := diff.Filter(filter)
		assert.Len(t, filtered, 1)
		assert.Equal(t, 2, filtered.RecursiveLen())
	})

	t.Run("key filter drops other keys", func(t *testing.T) {
		filter, err := ParseFilterPatterns("points:1")
		require.NoError(t, err)
		filtered := diff.Filter(filter)
		assert.Equal(t, 1, filtered.RecursiveLen())
		assert.Contains(t, filtered["points"][SectionFeature], "1")
	})

	t.Run("glob filter matches datasets", func(t *testing.T) {
		filter, err := ParseFilterPatterns("po*")
		require.NoError(t, err)
		filtered := diff.Filter(filter)
		assert.Len(t, filtered, 1)
		assert.Contains(t, filtered, "points")
	})
}
