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

	"github.com/optakt/kart/models/kart"
)

// IndexEntry is one resolved path in a merge index.
type IndexEntry struct {
	Path string
	OID  kart.OID
	Mode string
}

// Conflict3 holds the three competing versions of one path. Any side can be
// nil when the path is absent in that version.
type Conflict3 struct {
	Ancestor *IndexEntry
	Ours     *IndexEntry
	Theirs   *IndexEntry
}

// MergeIndex is the outcome of a three-way tree merge: the cleanly merged
// entries plus the conflict triples, keyed by path.
type MergeIndex struct {
	Entries   map[string]IndexEntry
	Conflicts map[string]Conflict3
}

// MergeTrees runs a three-way merge over the given trees and returns the
// merge index. Renames are not detected; a moved path merges as a delete
// plus an insert.
func (s *Store) MergeTrees(ancestor kart.OID, ours kart.OID, theirs kart.OID) (*MergeIndex, error) {

	flatten := func(tree kart.OID) (map[string]kart.OID, error) {
		flat := make(map[string]kart.OID)
		if tree.IsZero() {
			return flat, nil
		}
		err := s.WalkBlobs(tree, func(path string, oid kart.OID) error {
			flat[path] = oid
			return nil
		})
		if err != nil {
			return nil, err
		}
		return flat, nil
	}

	ancestorFlat, err := flatten(ancestor)
	if err != nil {
		return nil, fmt.Errorf("could not flatten ancestor tree: %w", err)
	}
	oursFlat, err := flatten(ours)
	if err != nil {
		return nil, fmt.Errorf("could not flatten our tree: %w", err)
	}
	theirsFlat, err := flatten(theirs)
	if err != nil {
		return nil, fmt.Errorf("could not flatten their tree: %w", err)
	}

	paths := make(map[string]struct{})
	for path := range ancestorFlat {
		paths[path] = struct{}{}
	}
	for path := range oursFlat {
		paths[path] = struct{}{}
	}
	for path := range theirsFlat {
		paths[path] = struct{}{}
	}

	index := MergeIndex{
		Entries:   make(map[string]IndexEntry),
		Conflicts: make(map[string]Conflict3),
	}

	entryOf := func(flat map[string]kart.OID, path string) *IndexEntry {
		oid, ok := flat[path]
		if !ok {
			return nil
		}
		return &IndexEntry{Path: path, OID: oid, Mode: ModeBlob}
	}

	for path := range paths {
		a := entryOf(ancestorFlat, path)
		o := entryOf(oursFlat, path)
		t := entryOf(theirsFlat, path)

		// Both sides agree, including agreeing the path is gone.
		if sameEntry(o, t) {
			if o != nil {
				index.Entries[path] = *o
			}
			continue
		}
		// Only one side changed relative to the ancestor; take the change.
		if sameEntry(o, a) {
			if t != nil {
				index.Entries[path] = *t
			}
			continue
		}
		if sameEntry(t, a) {
			if o != nil {
				index.Entries[path] = *o
			}
			continue
		}

		index.Conflicts[path] = Conflict3{Ancestor: a, Ours: o, Theirs: t}
	}

	return &index, nil
}

func sameEntry(a *IndexEntry, b *IndexEntry) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.OID == b.OID
}

// WriteTree materializes the cleanly merged entries as a tree.
func (m *MergeIndex) WriteTree(s *Store) (kart.OID, error) {
	builder := NewTreeBuilder(s, kart.ZeroOID)
	for _, entry := range m.Entries {
		err := builder.Insert(entry.Path, entry.OID)
		if err != nil {
			return kart.ZeroOID, fmt.Errorf("could not insert merged entry: %w", err)
		}
	}
	return builder.Write()
}
