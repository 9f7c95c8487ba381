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

package helpers

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/optakt/kart/codec/kbor"
	"github.com/optakt/kart/models/kart"
	"github.com/optakt/kart/service/dataset"
	"github.com/optakt/kart/service/gitstore"
)

func intPtr(i int) *int { return &i }

// PointsSchema is the schema shared by most test fixtures: a single text
// primary key and one attribute column.
func PointsSchema() kart.Schema {
	return kart.Schema{
		{ID: "c1", Name: "fid", DataType: "text", PrimaryKeyIndex: intPtr(0)},
		{ID: "c2", Name: "name", DataType: "text"},
	}
}

// BuildTabularTree writes a tabular dataset tree containing the given
// features (fid -> name) and returns the root tree OID.
func BuildTabularTree(t *testing.T, store *gitstore.Store, codec *kbor.Codec, dsPath string, features map[string]string) kart.OID {
	t.Helper()

	schema := PointsSchema()
	legend := kbor.LegendForSchema(schema)
	legendID, legendData, err := codec.LegendID(legend)
	require.NoError(t, err)

	builder := gitstore.NewTreeBuilder(store, kart.ZeroOID)
	inner := dataset.InnerPath(dsPath, dataset.KindTabular)

	schemaJSON, err := schema.ToJSON()
	require.NoError(t, err)
	canonical, err := kbor.CanonicalizeMeta("schema.json", schemaJSON)
	require.NoError(t, err)
	oid, err := store.PutBlob(canonical)
	require.NoError(t, err)
	require.NoError(t, builder.Insert(inner+"/"+dataset.MetaRelPath("schema.json"), oid))

	oid, err = store.PutBlob(legendData)
	require.NoError(t, err)
	require.NoError(t, builder.Insert(inner+"/"+dataset.LegendRelPath(legendID), oid))

	title, err := kbor.CanonicalizeMeta("title", []byte("Points"))
	require.NoError(t, err)
	oid, err = store.PutBlob(title)
	require.NoError(t, err)
	require.NoError(t, builder.Insert(inner+"/"+dataset.MetaRelPath("title"), oid))

	for fid, name := range features {
		feature := kart.Feature{"fid": fid, "name": name}
		data, err := codec.EncodeFeature(schema, []byte(legendID), feature)
		require.NoError(t, err)
		oid, err := store.PutBlob(data)
		require.NoError(t, err)
		rel, err := dataset.FeatureRelPath(codec, []interface{}{fid})
		require.NoError(t, err)
		require.NoError(t, builder.Insert(inner+"/"+rel, oid))
	}

	root, err := builder.Write()
	require.NoError(t, err)
	return root
}

// CommitTree wraps a tree in a commit with a deterministic signature.
func CommitTree(t *testing.T, store *gitstore.Store, tree kart.OID, when int64, message string, parents ...kart.OID) kart.OID {
	t.Helper()
	sig := gitstore.Signature{Name: "Test User", Email: "test@example.com", When: when, Offset: "+0000"}
	oid, err := store.PutCommit(&gitstore.Commit{
		Tree:      tree,
		Parents:   parents,
		Author:    sig,
		Committer: sig,
		Message:   message,
	})
	require.NoError(t, err)
	return oid
}
