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

package dataset_test

import (
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optakt/kart/codec/kbor"
	"github.com/optakt/kart/models/kart"
	"github.com/optakt/kart/service/dataset"
	"github.com/optakt/kart/service/gitstore"
	"github.com/optakt/kart/service/lfs"
	"github.com/optakt/kart/testing/helpers"
)

var testLog = zerolog.New(io.Discard)

func TestDatasets_ListAndGet(t *testing.T) {
	store, err := gitstore.Init(testLog, t.TempDir())
	require.NoError(t, err)
	codec := kbor.NewCodec()

	root := helpers.BuildTabularTree(t, store, codec, "topo/points", map[string]string{"1": "a", "2": "b"})
	view, err := dataset.FromTree(testLog, store, codec, root)
	require.NoError(t, err)

	t.Run("list finds nested datasets", func(t *testing.T) {
		datasets, err := view.List(kart.MatchAllRepo())
		require.NoError(t, err)
		require.Len(t, datasets, 1)
		assert.Equal(t, "topo/points", datasets[0].Path)
		assert.Equal(t, dataset.KindTabular, datasets[0].Kind)
	})

	t.Run("list honours the filter", func(t *testing.T) {
		filter, err := kart.ParseFilterPatterns("other")
		require.NoError(t, err)
		datasets, err := view.List(filter)
		require.NoError(t, err)
		assert.Empty(t, datasets)
	})

	t.Run("get returns the dataset", func(t *testing.T) {
		ds, err := view.Get("topo/points")
		require.NoError(t, err)
		assert.Equal(t, dataset.KindTabular, ds.Kind)
	})

	t.Run("get of missing path fails with not found", func(t *testing.T) {
		_, err := view.Get("nope")
		require.Error(t, err)
		assert.Equal(t, kart.ExitNoTable, kart.ExitCode(err))
	})

	t.Run("get of invalid path fails with invalid argument", func(t *testing.T) {
		_, err := view.Get("/nope")
		require.Error(t, err)
		assert.Equal(t, kart.ExitInvalidArgument, kart.ExitCode(err))
	})
}

func TestDatasets_UnsupportedVersion(t *testing.T) {
	store, err := gitstore.Init(testLog, t.TempDir())
	require.NoError(t, err)
	codec := kbor.NewCodec()

	blob, err := store.PutBlob([]byte("{}"))
	require.NoError(t, err)
	builder := gitstore.NewTreeBuilder(store, kart.ZeroOID)
	require.NoError(t, builder.Insert("future/.table-dataset.v9/meta/schema.json", blob))
	root, err := builder.Write()
	require.NoError(t, err)

	view, err := dataset.FromTree(testLog, store, codec, root)
	require.NoError(t, err)

	_, err = view.Get("future")
	require.Error(t, err)
	assert.Equal(t, kart.ExitNotYetImplemented, kart.ExitCode(err))

	// List skips the unsupported dataset instead of failing.
	datasets, err := view.List(kart.MatchAllRepo())
	require.NoError(t, err)
	assert.Empty(t, datasets)
}

func TestDataset_MetaAndSchema(t *testing.T) {
	store, err := gitstore.Init(testLog, t.TempDir())
	require.NoError(t, err)
	codec := kbor.NewCodec()

	root := helpers.BuildTabularTree(t, store, codec, "points", map[string]string{"1": "a"})
	view, err := dataset.FromTree(testLog, store, codec, root)
	require.NoError(t, err)
	ds, err := view.Get("points")
	require.NoError(t, err)

	items, err := ds.MetaItems()
	require.NoError(t, err)
	assert.Contains(t, items, "schema.json")
	assert.Contains(t, items, "title")
	for name := range items {
		assert.NotContains(t, name, "legend")
	}

	schema, err := ds.Schema()
	require.NoError(t, err)
	assert.True(t, schema.Equal(helpers.PointsSchema()))

	// Second read hits the decode cache.
	again, err := ds.Schema()
	require.NoError(t, err)
	assert.True(t, again.Equal(schema))
}

func TestDataset_Features(t *testing.T) {
	store, err := gitstore.Init(testLog, t.TempDir())
	require.NoError(t, err)
	codec := kbor.NewCodec()

	root := helpers.BuildTabularTree(t, store, codec, "points", map[string]string{"1": "a", "2": "b", "3": "c"})
	view, err := dataset.FromTree(testLog, store, codec, root)
	require.NoError(t, err)
	ds, err := view.Get("points")
	require.NoError(t, err)

	t.Run("count is cheap and accurate", func(t *testing.T) {
		count, err := ds.FeatureCount()
		require.NoError(t, err)
		assert.Equal(t, 3, count)
	})

	t.Run("streamed values stay lazy until asked", func(t *testing.T) {
		seen := make(map[string]*kart.Value)
		err := ds.Features(kart.MatchAllKeys(), func(key string, oid kart.OID, value *kart.Value) error {
			seen[key] = value
			return nil
		})
		require.NoError(t, err)
		require.Len(t, seen, 3)

		for key, value := range seen {
			assert.False(t, value.Materialized(), "feature %s should not be materialized", key)
		}

		contents, err := seen["2"].Get()
		require.NoError(t, err)
		feature := contents.(kart.Feature)
		assert.Equal(t, "b", feature["name"])
		assert.Equal(t, "2", feature["fid"])
	})

	t.Run("filter restricts the stream", func(t *testing.T) {
		var keys []string
		err := ds.Features(kart.NewUserStringKeyFilter("1", "3"), func(key string, oid kart.OID, value *kart.Value) error {
			keys = append(keys, key)
			return nil
		})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"1", "3"}, keys)
	})

	t.Run("feature blob lookup by primary key", func(t *testing.T) {
		oid, err := ds.FeatureBlob([]interface{}{"1"})
		require.NoError(t, err)
		assert.False(t, oid.IsZero())

		oid, err = ds.FeatureBlob([]interface{}{"99"})
		require.NoError(t, err)
		assert.True(t, oid.IsZero())
	})
}

func TestDataset_Tiles(t *testing.T) {
	store, err := gitstore.Init(testLog, t.TempDir())
	require.NoError(t, err)
	codec := kbor.NewCodec()

	pointer := lfs.Pointer{
		OID:   "sha256:aec070645fe53ee3b3763059376134f058cc337247c978add178b6ccdfb0019f",
		Size:  100,
		Extra: map[string]string{"format": "laz-1.4"},
	}
	blob, err := store.PutBlob(pointer.Encode())
	require.NoError(t, err)

	builder := gitstore.NewTreeBuilder(store, kart.ZeroOID)
	inner := dataset.InnerPath("lidar", dataset.KindPointCloud)
	require.NoError(t, builder.Insert(inner+"/"+dataset.TileRelPath("tile-001"), blob))
	root, err := builder.Write()
	require.NoError(t, err)

	view, err := dataset.FromTree(testLog, store, codec, root)
	require.NoError(t, err)
	ds, err := view.Get("lidar")
	require.NoError(t, err)
	assert.Equal(t, dataset.KindPointCloud, ds.Kind)
	assert.True(t, ds.Kind.IsTile())

	var names []string
	err = ds.Tiles(kart.MatchAllKeys(), func(name string, oid kart.OID, value *kart.Value) error {
		names = append(names, name)
		contents, err := value.Get()
		require.NoError(t, err)
		decoded := contents.(*lfs.Pointer)
		assert.Equal(t, pointer.OID, decoded.OID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"tile-001"}, names)

	decoded, err := ds.TilePointer("tile-001")
	require.NoError(t, err)
	assert.Equal(t, int64(100), decoded.Size)
}
