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

package merge

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/optakt/kart/models/kart"
	"github.com/optakt/kart/service/gitstore"
	"github.com/optakt/kart/service/repo"
)

// MergedIndex is the persisted outcome of a conflicted merge: the cleanly
// merged entries, the conflict triples keyed by path, and the resolutions
// accepted so far. It round-trips through the MERGED_INDEX file.
type MergedIndex struct {
	Entries   map[string]gitstore.IndexEntry
	Conflicts map[string]gitstore.Conflict3
	Resolves  map[string][]gitstore.IndexEntry
}

// FromMergeIndex wraps the outcome of a tree merge for persistence.
func FromMergeIndex(index *gitstore.MergeIndex) *MergedIndex {
	m := MergedIndex{
		Entries:   index.Entries,
		Conflicts: index.Conflicts,
		Resolves:  make(map[string][]gitstore.IndexEntry),
	}
	return &m
}

// UnresolvedCount returns the number of conflicts without a resolution.
func (m *MergedIndex) UnresolvedCount() int {
	return len(m.Conflicts) - len(m.Resolves)
}

// AddResolve records the resolution of one conflict. An empty entry list
// resolves the conflict as a deletion.
func (m *MergedIndex) AddResolve(key string, entries []gitstore.IndexEntry) error {
	_, ok := m.Conflicts[key]
	if !ok {
		return kart.NewNotFound(kart.ExitNotFound, "no conflict found at %q", key)
	}
	_, ok = m.Resolves[key]
	if ok {
		return kart.NewInvalidOperation("conflict at %q is already resolved", key)
	}
	if entries == nil {
		entries = []gitstore.IndexEntry{}
	}
	m.Resolves[key] = entries
	return nil
}

// The serialized document uses hex object IDs, so the file stays robust
// against object ID representation changes.

type entryDoc struct {
	Path string `cbor:"path"`
	OID  string `cbor:"oid"`
	Mode string `cbor:"mode"`
}

type conflictDoc struct {
	Ancestor *entryDoc `cbor:"ancestor"`
	Ours     *entryDoc `cbor:"ours"`
	Theirs   *entryDoc `cbor:"theirs"`
}

type mergedIndexDoc struct {
	Entries   map[string]entryDoc    `cbor:"entries"`
	Conflicts map[string]conflictDoc `cbor:"conflicts"`
	Resolves  map[string][]entryDoc  `cbor:"resolves"`
}

func encodeEntry(entry *gitstore.IndexEntry) *entryDoc {
	if entry == nil {
		return nil
	}
	return &entryDoc{Path: entry.Path, OID: entry.OID.Hex(), Mode: entry.Mode}
}

func decodeEntry(doc *entryDoc) (*gitstore.IndexEntry, error) {
	if doc == nil {
		return nil, nil
	}
	oid, err := kart.ParseOID(doc.OID)
	if err != nil {
		return nil, fmt.Errorf("malformed merged index entry: %w", err)
	}
	return &gitstore.IndexEntry{Path: doc.Path, OID: oid, Mode: doc.Mode}, nil
}

// WriteToRepo persists the merged index atomically.
func (m *MergedIndex) WriteToRepo(r *repo.Repo) error {

	doc := mergedIndexDoc{
		Entries:   make(map[string]entryDoc, len(m.Entries)),
		Conflicts: make(map[string]conflictDoc, len(m.Conflicts)),
		Resolves:  make(map[string][]entryDoc, len(m.Resolves)),
	}
	for path, entry := range m.Entries {
		entry := entry
		doc.Entries[path] = *encodeEntry(&entry)
	}
	for path, conflict := range m.Conflicts {
		doc.Conflicts[path] = conflictDoc{
			Ancestor: encodeEntry(conflict.Ancestor),
			Ours:     encodeEntry(conflict.Ours),
			Theirs:   encodeEntry(conflict.Theirs),
		}
	}
	for path, entries := range m.Resolves {
		docs := make([]entryDoc, 0, len(entries))
		for _, entry := range entries {
			entry := entry
			docs = append(docs, *encodeEntry(&entry))
		}
		doc.Resolves[path] = docs
	}

	encoder, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return fmt.Errorf("could not create merged index encoder: %w", err)
	}
	data, err := encoder.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("could not encode merged index: %w", err)
	}
	return r.WriteGitDirFile(repo.FileMergedIndex, data)
}

// ReadIndexFromRepo loads the persisted merged index.
func ReadIndexFromRepo(r *repo.Repo) (*MergedIndex, error) {

	data, err := r.ReadGitDirFile(repo.FileMergedIndex)
	if err != nil {
		return nil, fmt.Errorf("could not read MERGED_INDEX: %w", err)
	}
	var doc mergedIndexDoc
	err = cbor.Unmarshal(data, &doc)
	if err != nil {
		return nil, fmt.Errorf("could not decode merged index: %w", err)
	}

	m := MergedIndex{
		Entries:   make(map[string]gitstore.IndexEntry, len(doc.Entries)),
		Conflicts: make(map[string]gitstore.Conflict3, len(doc.Conflicts)),
		Resolves:  make(map[string][]gitstore.IndexEntry, len(doc.Resolves)),
	}
	for path, entry := range doc.Entries {
		entry := entry
		decoded, err := decodeEntry(&entry)
		if err != nil {
			return nil, err
		}
		m.Entries[path] = *decoded
	}
	for path, conflict := range doc.Conflicts {
		ancestor, err := decodeEntry(conflict.Ancestor)
		if err != nil {
			return nil, err
		}
		ours, err := decodeEntry(conflict.Ours)
		if err != nil {
			return nil, err
		}
		theirs, err := decodeEntry(conflict.Theirs)
		if err != nil {
			return nil, err
		}
		m.Conflicts[path] = gitstore.Conflict3{Ancestor: ancestor, Ours: ours, Theirs: theirs}
	}
	for path, docs := range doc.Resolves {
		entries := make([]gitstore.IndexEntry, 0, len(docs))
		for _, entry := range docs {
			entry := entry
			decoded, err := decodeEntry(&entry)
			if err != nil {
				return nil, err
			}
			entries = append(entries, *decoded)
		}
		m.Resolves[path] = entries
	}

	return &m, nil
}

// ResolvedEntries returns every entry of the fully resolved tree: the
// cleanly merged entries plus the accepted resolutions.
func (m *MergedIndex) ResolvedEntries() []gitstore.IndexEntry {
	var entries []gitstore.IndexEntry
	for _, entry := range m.Entries {
		entries = append(entries, entry)
	}
	for _, resolved := range m.Resolves {
		entries = append(entries, resolved...)
	}
	return entries
}
