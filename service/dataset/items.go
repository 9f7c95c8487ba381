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

package dataset

import (
	"fmt"
	"strings"

	"github.com/optakt/kart/codec/kbor"
	"github.com/optakt/kart/models/kart"
	"github.com/optakt/kart/service/lfs"
)

// MetaItems returns the dataset's meta items keyed by name. Schema legends
// are internal bookkeeping and are not part of the meta items.
func (ds *Dataset) MetaItems() (map[string][]byte, error) {

	items := make(map[string][]byte)
	meta, err := ds.subtree(MetaPrefix)
	if err != nil {
		return nil, err
	}
	if meta.IsZero() {
		return items, nil
	}

	err = ds.store.WalkBlobs(meta, func(path string, oid kart.OID) error {
		if strings.HasPrefix(path, "legend/") {
			return nil
		}
		data, err := ds.store.Blob(oid)
		if err != nil {
			return err
		}
		items[path] = data
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("could not read meta items: %w", err)
	}
	return items, nil
}

// MetaItem returns one meta item's contents, or NotFound.
func (ds *Dataset) MetaItem(name string) ([]byte, error) {
	entry, err := ds.store.EntryByPath(ds.inner, MetaRelPath(name))
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, kart.NewNotFound(kart.ExitNotFound, "dataset %s has no meta item %q", ds.Path, name)
	}
	return ds.store.Blob(entry.OID)
}

// Schema returns the dataset's schema, decoded from the schema.json meta
// item. Decodes are cached by blob OID.
func (ds *Dataset) Schema() (kart.Schema, error) {

	entry, err := ds.store.EntryByPath(ds.inner, MetaRelPath("schema.json"))
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, kart.NewNotFound(kart.ExitNotFound, "dataset %s has no schema", ds.Path)
	}

	cached, ok := ds.cache.Get(cacheKey(entry.OID))
	if ok {
		return cached.(kart.Schema), nil
	}

	data, err := ds.store.Blob(entry.OID)
	if err != nil {
		return nil, err
	}
	schema, err := kart.SchemaFromJSON(data)
	if err != nil {
		return nil, fmt.Errorf("could not parse schema of dataset %s: %w", ds.Path, err)
	}
	ds.cache.Set(cacheKey(entry.OID), schema, int64(len(data)))
	return schema, nil
}

// LegendByID resolves a schema legend stored in the dataset, with caching.
func (ds *Dataset) LegendByID(legendID string) (*kbor.Legend, error) {

	entry, err := ds.store.EntryByPath(ds.inner, LegendRelPath(legendID))
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, kart.NewNotFound(kart.ExitNotFound, "dataset %s has no legend %s", ds.Path, legendID)
	}

	cached, ok := ds.cache.Get(cacheKey(entry.OID))
	if ok {
		return cached.(*kbor.Legend), nil
	}

	data, err := ds.store.Blob(entry.OID)
	if err != nil {
		return nil, err
	}
	legend, err := ds.codec.DecodeLegend(data)
	if err != nil {
		return nil, err
	}
	ds.cache.Set(cacheKey(entry.OID), legend, int64(len(data)))
	return legend, nil
}

// LegendBlobs returns the dataset's legend blobs by OID, so an import that
// replaces the dataset can carry the legends over without re-encoding.
func (ds *Dataset) LegendBlobs() (map[string]kart.OID, error) {
	legends := make(map[string]kart.OID)
	tree, err := ds.subtree(LegendPrefix)
	if err != nil {
		return nil, err
	}
	if tree.IsZero() {
		return legends, nil
	}
	err = ds.store.WalkBlobs(tree, func(path string, oid kart.OID) error {
		legends[path] = oid
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("could not read legends: %w", err)
	}
	return legends, nil
}

// FeatureCount returns the number of features by counting blobs in the
// feature subtree, without reading any contents.
func (ds *Dataset) FeatureCount() (int, error) {
	tree, err := ds.subtree(FeaturePrefix)
	if err != nil {
		return 0, err
	}
	if tree.IsZero() {
		return 0, nil
	}
	return ds.store.CountBlobs(tree)
}

// Features streams the dataset's features matching the filter. The value of
// each feature is deferred: it decodes the blob only when the consumer asks.
func (ds *Dataset) Features(filter *kart.UserStringKeyFilter, fn func(key string, oid kart.OID, value *kart.Value) error) error {

	tree, err := ds.subtree(FeaturePrefix)
	if err != nil {
		return err
	}
	if tree.IsZero() {
		return nil
	}

	return ds.store.WalkBlobs(tree, func(path string, oid kart.OID) error {
		pkValues, err := DecodeFeatureRelPath(ds.codec, path)
		if err != nil {
			return err
		}
		key := kart.PKString(pkValues)
		if filter != nil && !filter.Contains(key) {
			return nil
		}
		value := kart.DeferredValue(func() (interface{}, error) {
			return ds.DecodeFeatureBlob(pkValues, oid)
		})
		return fn(key, oid, value)
	})
}

// DecodeFeatureBlob reads and decodes one feature blob into a feature map.
// The feature's legend is resolved through its embedded identifier against
// this dataset version's legend tree.
func (ds *Dataset) DecodeFeatureBlob(pkValues []interface{}, oid kart.OID) (interface{}, error) {

	data, err := ds.store.Blob(oid)
	if err != nil {
		return nil, err
	}
	legendID, values, err := ds.codec.DecodeFeature(data)
	if err != nil {
		return nil, err
	}
	legend, err := ds.LegendByID(string(legendID))
	if err != nil {
		return nil, err
	}
	schema, err := ds.Schema()
	if err != nil {
		return nil, err
	}

	names := make(map[string]string, len(schema))
	for _, col := range schema {
		names[col.ID] = col.Name
	}

	feature := make(kart.Feature)
	for i, id := range legend.PKColumns {
		if i >= len(pkValues) {
			break
		}
		name, ok := names[id]
		if !ok {
			continue
		}
		feature[name] = pkValues[i]
	}
	for i, id := range legend.NonPKColumns {
		if i >= len(values) {
			break
		}
		name, ok := names[id]
		if !ok {
			// The column was dropped after this feature was written.
			continue
		}
		feature[name] = values[i]
	}
	return feature, nil
}

// FeatureBlob looks up the blob of one feature by primary key. The OID is
// zero when the feature is absent.
func (ds *Dataset) FeatureBlob(pkValues []interface{}) (kart.OID, error) {
	rel, err := FeatureRelPath(ds.codec, pkValues)
	if err != nil {
		return kart.ZeroOID, err
	}
	entry, err := ds.store.EntryByPath(ds.inner, rel)
	if err != nil {
		return kart.ZeroOID, err
	}
	if entry == nil {
		return kart.ZeroOID, nil
	}
	return entry.OID, nil
}

// Tiles streams the dataset's tile pointers matching the filter. The value
// of each tile is deferred: it parses the pointer blob only when the
// consumer asks.
func (ds *Dataset) Tiles(filter *kart.UserStringKeyFilter, fn func(name string, oid kart.OID, value *kart.Value) error) error {

	tree, err := ds.subtree(TilePrefix)
	if err != nil {
		return err
	}
	if tree.IsZero() {
		return nil
	}

	return ds.store.WalkBlobs(tree, func(path string, oid kart.OID) error {
		name := DecodeTileRelPath(path)
		if filter != nil && !filter.Contains(name) {
			return nil
		}
		value := kart.DeferredValue(func() (interface{}, error) {
			data, err := ds.store.Blob(oid)
			if err != nil {
				return nil, err
			}
			return lfs.ParsePointer(data)
		})
		return fn(name, oid, value)
	})
}

// TilePointer looks up and parses the pointer blob of one tile, or returns
// NotFound.
func (ds *Dataset) TilePointer(tilename string) (*lfs.Pointer, error) {
	entry, err := ds.store.EntryByPath(ds.inner, TileRelPath(tilename))
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, kart.NewNotFound(kart.ExitNotFound, "dataset %s has no tile %q", ds.Path, tilename)
	}
	data, err := ds.store.Blob(entry.OID)
	if err != nil {
		return nil, err
	}
	return lfs.ParsePointer(data)
}
