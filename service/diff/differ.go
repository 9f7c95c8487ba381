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

package diff

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/optakt/kart/codec/kbor"
	"github.com/optakt/kart/models/kart"
	"github.com/optakt/kart/service/annotations"
	"github.com/optakt/kart/service/dataset"
	"github.com/optakt/kart/service/gitstore"
)

// Differ computes structured diffs between two dataset snapshots. Features
// and tiles are compared by blob OID first, so unchanged items cost one tree
// walk and no decoding; the deltas that are emitted carry deferred values,
// which bounds memory for million-row diffs.
type Differ struct {
	log         zerolog.Logger
	store       *gitstore.Store
	codec       *kbor.Codec
	annotations *annotations.Store
}

// New creates a differ on the given store.
func New(log zerolog.Logger, store *gitstore.Store, codec *kbor.Codec, options ...func(*Differ)) *Differ {
	d := Differ{
		log:   log.With().Str("component", "diff").Logger(),
		store: store,
		codec: codec,
	}
	for _, option := range options {
		option(&d)
	}
	return &d
}

// WithAnnotations attaches the best-effort annotation store, which memoizes
// diff summaries per commit pair.
func WithAnnotations(store *annotations.Store) func(*Differ) {
	return func(d *Differ) {
		d.annotations = store
	}
}

// CommitDiff computes the diff between two commits, restricted by the
// filter.
func (d *Differ) CommitDiff(base kart.OID, target kart.OID, filter *kart.RepoKeyFilter) (kart.RepoDiff, error) {
	baseTree, err := d.store.CommitTree(base)
	if err != nil {
		return nil, fmt.Errorf("could not resolve base commit: %w", err)
	}
	targetTree, err := d.store.CommitTree(target)
	if err != nil {
		return nil, fmt.Errorf("could not resolve target commit: %w", err)
	}
	repoDiff, err := d.TreeDiff(baseTree, targetTree, filter)
	if err != nil {
		return nil, err
	}
	d.annotate(base, target, filter, repoDiff)
	return repoDiff, nil
}

// annotate memoizes the diff's type counts for the commit pair. The
// annotation store is best-effort, so this never fails the diff.
func (d *Differ) annotate(base kart.OID, target kart.OID, filter *kart.RepoKeyFilter, repoDiff kart.RepoDiff) {
	if d.annotations == nil {
		return
	}
	if filter != nil && !filter.MatchesAll() {
		return
	}
	counts := make(map[string]map[string]int)
	for path, dsDiff := range repoDiff {
		counts[path] = make(map[string]int)
		for _, deltas := range dsDiff {
			for deltaType, count := range deltas.TypeCounts() {
				counts[path][deltaType] += count
			}
		}
	}
	data, err := json.Marshal(counts)
	if err != nil {
		return
	}
	d.annotations.Put("diff-counts", base.Hex()+".."+target.Hex(), data)
}

// TreeDiff computes the diff between two root trees, restricted by the
// filter.
func (d *Differ) TreeDiff(baseTree kart.OID, targetTree kart.OID, filter *kart.RepoKeyFilter) (kart.RepoDiff, error) {

	baseView, err := dataset.FromTree(d.log, d.store, d.codec, baseTree)
	if err != nil {
		return nil, err
	}
	targetView, err := dataset.FromTree(d.log, d.store, d.codec, targetTree)
	if err != nil {
		return nil, err
	}

	baseSets, err := baseView.List(filter)
	if err != nil {
		return nil, fmt.Errorf("could not list base datasets: %w", err)
	}
	targetSets, err := targetView.List(filter)
	if err != nil {
		return nil, fmt.Errorf("could not list target datasets: %w", err)
	}

	paths := make(map[string]struct{})
	baseByPath := make(map[string]*dataset.Dataset)
	for _, ds := range baseSets {
		baseByPath[ds.Path] = ds
		paths[ds.Path] = struct{}{}
	}
	targetByPath := make(map[string]*dataset.Dataset)
	for _, ds := range targetSets {
		targetByPath[ds.Path] = ds
		paths[ds.Path] = struct{}{}
	}

	repoDiff := make(kart.RepoDiff)
	for path := range paths {
		old := baseByPath[path]
		new := targetByPath[path]

		// Identical inner trees cannot contain any change.
		if old != nil && new != nil && old.InnerOID() == new.InnerOID() {
			continue
		}

		var dsFilter *kart.DatasetKeyFilter
		if filter != nil {
			dsFilter = filter.Get(path)
		}
		dsDiff, err := d.DatasetDiff(old, new, dsFilter)
		if err != nil {
			return nil, fmt.Errorf("could not diff dataset %s: %w", path, err)
		}
		if dsDiff.RecursiveLen() > 0 {
			repoDiff[path] = dsDiff
		}
	}

	return repoDiff, nil
}

// DatasetDiff computes the diff between two snapshots of the same dataset.
// Either side can be nil for a dataset that was added or removed.
func (d *Differ) DatasetDiff(old *dataset.Dataset, new *dataset.Dataset, filter *kart.DatasetKeyFilter) (kart.DatasetDiff, error) {

	if filter == nil {
		filter = kart.MatchAllDataset()
	}

	dsDiff := make(kart.DatasetDiff)

	// A section whose key filter is nil is not covered by the filter at
	// all, so it is skipped without walking anything.
	if metaFilter := filter.Get(kart.SectionMeta); metaFilter != nil {
		metaDiff, err := d.metaDiff(old, new, metaFilter)
		if err != nil {
			return nil, err
		}
		dsDiff.SetIfNonEmpty(kart.SectionMeta, metaDiff)
	}

	kind := datasetKind(old, new)
	if kind.IsTile() {
		if tileFilter := filter.Get(kart.SectionTile); tileFilter != nil {
			tileDiff, err := d.itemDiff(old, new, kart.SectionTile, tileFilter)
			if err != nil {
				return nil, err
			}
			dsDiff.SetIfNonEmpty(kart.SectionTile, tileDiff)
		}
		return dsDiff, nil
	}

	if featureFilter := filter.Get(kart.SectionFeature); featureFilter != nil {
		featureDiff, err := d.itemDiff(old, new, kart.SectionFeature, featureFilter)
		if err != nil {
			return nil, err
		}
		dsDiff.SetIfNonEmpty(kart.SectionFeature, featureDiff)
	}
	return dsDiff, nil
}

func datasetKind(old *dataset.Dataset, new *dataset.Dataset) dataset.Kind {
	if new != nil {
		return new.Kind
	}
	return old.Kind
}

func (d *Differ) metaDiff(old *dataset.Dataset, new *dataset.Dataset, filter *kart.UserStringKeyFilter) (kart.DeltaDiff, error) {

	oldItems := make(map[string][]byte)
	newItems := make(map[string][]byte)
	var err error
	if old != nil {
		oldItems, err = old.MetaItems()
		if err != nil {
			return nil, err
		}
	}
	if new != nil {
		newItems, err = new.MetaItems()
		if err != nil {
			return nil, err
		}
	}

	deltas := make(kart.DeltaDiff)
	names := make(map[string]struct{})
	for name := range oldItems {
		names[name] = struct{}{}
	}
	for name := range newItems {
		names[name] = struct{}{}
	}
	for name := range names {
		if filter != nil && !filter.Contains(name) {
			continue
		}
		oldContents, hasOld := oldItems[name]
		newContents, hasNew := newItems[name]
		switch {
		case hasOld && hasNew:
			if string(oldContents) == string(newContents) {
				continue
			}
			deltas.Add(kart.Update(
				kart.NewKeyValue(name, string(oldContents)),
				kart.NewKeyValue(name, string(newContents)),
			))
		case hasOld:
			deltas.Add(kart.Delete(kart.NewKeyValue(name, string(oldContents))))
		default:
			deltas.Add(kart.Insert(kart.NewKeyValue(name, string(newContents))))
		}
	}
	return deltas, nil
}

type itemRef struct {
	oid   kart.OID
	value *kart.Value
}

func (d *Differ) itemDiff(old *dataset.Dataset, new *dataset.Dataset, section string, filter *kart.UserStringKeyFilter) (kart.DeltaDiff, error) {

	collect := func(ds *dataset.Dataset) (map[string]itemRef, error) {
		items := make(map[string]itemRef)
		if ds == nil {
			return items, nil
		}
		record := func(key string, oid kart.OID, value *kart.Value) error {
			items[key] = itemRef{oid: oid, value: value}
			return nil
		}
		if section == kart.SectionTile {
			err := ds.Tiles(filter, record)
			if err != nil {
				return nil, err
			}
			return items, nil
		}
		err := ds.Features(filter, record)
		if err != nil {
			return nil, err
		}
		return items, nil
	}

	oldItems, err := collect(old)
	if err != nil {
		return nil, err
	}
	newItems, err := collect(new)
	if err != nil {
		return nil, err
	}

	deltas := make(kart.DeltaDiff)
	keys := make(map[string]struct{})
	for key := range oldItems {
		keys[key] = struct{}{}
	}
	for key := range newItems {
		keys[key] = struct{}{}
	}
	for key := range keys {
		oldRef, hasOld := oldItems[key]
		newRef, hasNew := newItems[key]
		switch {
		case hasOld && hasNew:
			// Compare by blob OID first; identical blobs cannot differ.
			if oldRef.oid == newRef.oid {
				continue
			}
			deltas.Add(kart.Update(
				&kart.KeyValue{Key: key, Value: oldRef.value},
				&kart.KeyValue{Key: key, Value: newRef.value},
			))
		case hasOld:
			deltas.Add(kart.Delete(&kart.KeyValue{Key: key, Value: oldRef.value}))
		default:
			deltas.Add(kart.Insert(&kart.KeyValue{Key: key, Value: newRef.value}))
		}
	}
	return deltas, nil
}
