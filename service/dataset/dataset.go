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
	"sort"

	"github.com/OneOfOne/xxhash"
	"github.com/dgraph-io/ristretto"
	"github.com/rs/zerolog"

	"github.com/optakt/kart/codec/kbor"
	"github.com/optakt/kart/models/kart"
	"github.com/optakt/kart/service/gitstore"
)

// Datasets presents the tree of a commit as a collection of typed datasets.
// All operations are read-only; mutation goes through the fast-import
// pipeline. Decoded schemas and legends are kept in a shared cache keyed by
// blob OID, since the same schema version is referenced by every feature of
// a dataset snapshot.
type Datasets struct {
	log   zerolog.Logger
	store *gitstore.Store
	codec *kbor.Codec
	cache *ristretto.Cache
	root  kart.OID
}

// FromCommit opens the datasets of the given commit.
func FromCommit(log zerolog.Logger, store *gitstore.Store, codec *kbor.Codec, commit kart.OID) (*Datasets, error) {
	tree, err := store.CommitTree(commit)
	if err != nil {
		return nil, fmt.Errorf("could not resolve commit tree: %w", err)
	}
	return FromTree(log, store, codec, tree)
}

// FromTree opens the datasets of the given root tree.
func FromTree(log zerolog.Logger, store *gitstore.Store, codec *kbor.Codec, root kart.OID) (*Datasets, error) {

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1 << 25,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("could not initialize decode cache: %w", err)
	}

	d := Datasets{
		log:   log.With().Str("component", "dataset").Logger(),
		store: store,
		codec: codec,
		cache: cache,
		root:  root,
	}
	return &d, nil
}

// Root returns the root tree the view is reading from.
func (d *Datasets) Root() kart.OID {
	return d.root
}

// List streams the datasets matching the given filter, in path order.
// Subtrees carrying an unrecognized dataset marker are skipped with a
// warning; Get reports them as errors instead.
func (d *Datasets) List(filter *kart.RepoKeyFilter) ([]*Dataset, error) {

	var datasets []*Dataset
	err := d.findDatasets(d.root, "", func(ds *Dataset) {
		if filter != nil && !filter.MatchesAll() && !filter.Contains(ds.Path) {
			return
		}
		datasets = append(datasets, ds)
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(datasets, func(i int, j int) bool {
		return datasets[i].Path < datasets[j].Path
	})
	return datasets, nil
}

func (d *Datasets) findDatasets(tree kart.OID, prefix string, found func(*Dataset)) error {
	node, err := d.store.Tree(tree)
	if err != nil {
		return fmt.Errorf("could not read tree: %w", err)
	}
	for _, entry := range node.Entries {
		if !entry.IsTree() {
			continue
		}
		kind, isMarker, err := KindForDirname(entry.Name)
		if err != nil {
			d.log.Warn().Str("path", prefix).Str("dirname", entry.Name).Msg("skipping dataset with unsupported version")
			continue
		}
		if isMarker {
			found(d.newDataset(prefix, kind, entry.OID))
			continue
		}
		path := entry.Name
		if prefix != "" {
			path = prefix + "/" + entry.Name
		}
		err = d.findDatasets(entry.OID, path, found)
		if err != nil {
			return err
		}
	}
	return nil
}

// Get returns the dataset at the given path. It fails with NotFound when the
// path is absent and with an unsupported-version error when the inner
// directory name is unrecognized.
func (d *Datasets) Get(path string) (*Dataset, error) {

	err := kart.CheckDatasetPath(path)
	if err != nil {
		return nil, err
	}

	entry, err := d.store.EntryByPath(d.root, path)
	if err != nil {
		return nil, err
	}
	if entry == nil || !entry.IsTree() {
		return nil, kart.NewNotFound(kart.ExitNoTable, "no dataset found at %q", path)
	}

	node, err := d.store.Tree(entry.OID)
	if err != nil {
		return nil, fmt.Errorf("could not read dataset tree: %w", err)
	}
	for _, child := range node.Entries {
		if !child.IsTree() {
			continue
		}
		kind, isMarker, err := KindForDirname(child.Name)
		if err != nil {
			return nil, err
		}
		if isMarker {
			return d.newDataset(path, kind, child.OID), nil
		}
	}
	return nil, kart.NewNotFound(kart.ExitNoTable, "no dataset found at %q", path)
}

func (d *Datasets) newDataset(path string, kind Kind, inner kart.OID) *Dataset {
	ds := Dataset{
		log:   d.log.With().Str("dataset", path).Logger(),
		store: d.store,
		codec: d.codec,
		cache: d.cache,
		Path:  path,
		Kind:  kind,
		inner: inner,
	}
	return &ds
}

// Dataset is one versioned collection inside a commit: meta items plus
// either primary-keyed features or named tile pointers.
type Dataset struct {
	log   zerolog.Logger
	store *gitstore.Store
	codec *kbor.Codec
	cache *ristretto.Cache

	Path string
	Kind Kind

	inner kart.OID
}

// InnerOID returns the OID of the dataset's inner tree.
func (ds *Dataset) InnerOID() kart.OID {
	return ds.inner
}

func (ds *Dataset) subtree(rel string) (kart.OID, error) {
	entry, err := ds.store.EntryByPath(ds.inner, rel)
	if err != nil {
		return kart.ZeroOID, err
	}
	if entry == nil || !entry.IsTree() {
		return kart.ZeroOID, nil
	}
	return entry.OID, nil
}

func cacheKey(oid kart.OID) uint64 {
	return xxhash.Checksum64(oid[:])
}
