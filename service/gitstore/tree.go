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
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/optakt/kart/models/kart"
)

// File modes used in tree entries.
const (
	ModeBlob = "100644"
	ModeTree = "40000"
)

// TreeEntry is one name in a tree, pointing at a blob or a subtree.
type TreeEntry struct {
	Mode string
	Name string
	OID  kart.OID
}

// IsTree reports whether the entry points at a subtree.
func (e TreeEntry) IsTree() bool {
	return e.Mode == ModeTree
}

// Tree is a git tree: an ordered list of named entries. Git canonicalizes
// trees by sorting entries by name, with subtree names compared as if they
// had a trailing slash - which is what makes tree OIDs stable regardless of
// insertion order.
type Tree struct {
	Entries []TreeEntry
}

// Entry returns the entry with the given name, or nil.
func (t *Tree) Entry(name string) *TreeEntry {
	for i := range t.Entries {
		if t.Entries[i].Name == name {
			return &t.Entries[i]
		}
	}
	return nil
}

func sortKey(e TreeEntry) string {
	if e.IsTree() {
		return e.Name + "/"
	}
	return e.Name
}

// Encode renders the tree in its canonical byte form.
func (t *Tree) Encode() []byte {
	entries := make([]TreeEntry, len(t.Entries))
	copy(entries, t.Entries)
	sort.Slice(entries, func(i int, j int) bool {
		return sortKey(entries[i]) < sortKey(entries[j])
	})
	var buf bytes.Buffer
	for _, e := range entries {
		buf.WriteString(e.Mode)
		buf.WriteByte(' ')
		buf.WriteString(e.Name)
		buf.WriteByte(0)
		buf.Write(e.OID[:])
	}
	return buf.Bytes()
}

// DecodeTree parses a tree object's contents.
func DecodeTree(data []byte) (*Tree, error) {
	var tree Tree
	for len(data) > 0 {
		sp := bytes.IndexByte(data, ' ')
		if sp < 0 {
			return nil, fmt.Errorf("malformed tree entry: missing mode")
		}
		mode := string(data[:sp])
		data = data[sp+1:]
		nul := bytes.IndexByte(data, 0)
		if nul < 0 {
			return nil, fmt.Errorf("malformed tree entry: missing name terminator")
		}
		name := string(data[:nul])
		data = data[nul+1:]
		if len(data) < 20 {
			return nil, fmt.Errorf("malformed tree entry: truncated object ID")
		}
		var oid kart.OID
		copy(oid[:], data[:20])
		data = data[20:]
		tree.Entries = append(tree.Entries, TreeEntry{Mode: mode, Name: name, OID: oid})
	}
	return &tree, nil
}

// PutTree stores a tree and returns its content address.
func (s *Store) PutTree(tree *Tree) (kart.OID, error) {
	return s.writeObject(TypeTree, tree.Encode())
}

// Tree reads a tree object.
func (s *Store) Tree(oid kart.OID) (*Tree, error) {
	typ, data, err := s.readObject(oid)
	if err != nil {
		return nil, err
	}
	if typ != TypeTree {
		return nil, fmt.Errorf("object %s is a %s, not a tree", oid, typ)
	}
	return DecodeTree(data)
}

// EntryByPath resolves a slash-separated path through subtrees, starting at
// the given tree. Returns nil when any component is absent.
func (s *Store) EntryByPath(tree kart.OID, path string) (*TreeEntry, error) {
	segments := strings.Split(path, "/")
	current := tree
	for i, segment := range segments {
		node, err := s.Tree(current)
		if err != nil {
			return nil, fmt.Errorf("could not read tree: %w", err)
		}
		entry := node.Entry(segment)
		if entry == nil {
			return nil, nil
		}
		if i == len(segments)-1 {
			return entry, nil
		}
		if !entry.IsTree() {
			return nil, nil
		}
		current = entry.OID
	}
	return nil, nil
}

// WalkBlobs calls fn for every blob under the given tree, with its
// slash-separated path relative to the tree.
func (s *Store) WalkBlobs(tree kart.OID, fn func(path string, oid kart.OID) error) error {
	return s.walkBlobs(tree, "", fn)
}

func (s *Store) walkBlobs(tree kart.OID, prefix string, fn func(path string, oid kart.OID) error) error {
	node, err := s.Tree(tree)
	if err != nil {
		return fmt.Errorf("could not read tree: %w", err)
	}
	for _, entry := range node.Entries {
		path := entry.Name
		if prefix != "" {
			path = prefix + "/" + entry.Name
		}
		if entry.IsTree() {
			err = s.walkBlobs(entry.OID, path, fn)
			if err != nil {
				return err
			}
			continue
		}
		err = fn(path, entry.OID)
		if err != nil {
			return err
		}
	}
	return nil
}

// CountBlobs counts the blobs under the given tree by walking subtree
// entries, without reading any blob contents.
func (s *Store) CountBlobs(tree kart.OID) (int, error) {
	count := 0
	err := s.WalkBlobs(tree, func(string, kart.OID) error {
		count++
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}
