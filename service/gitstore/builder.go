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
	"strings"

	"github.com/optakt/kart/models/kart"
)

// TreeBuilder assembles a tree from blob inserts and deletes, optionally
// seeded from an existing tree. Subtrees are expanded lazily, one level at a
// time, so touching a handful of paths in a million-entry tree only loads
// the subtrees along those paths - untouched subtrees keep their OIDs
// without ever being read.
type TreeBuilder struct {
	store *Store
	root  *treeNode
}

type treeNode struct {
	base   kart.OID
	loaded bool
	blobs  map[string]kart.OID
	trees  map[string]*treeNode
}

func newTreeNode(base kart.OID) *treeNode {
	n := treeNode{
		base:  base,
		blobs: make(map[string]kart.OID),
		trees: make(map[string]*treeNode),
	}
	return &n
}

// NewTreeBuilder returns a builder seeded from the given tree. Pass the zero
// OID to start from scratch.
func NewTreeBuilder(store *Store, base kart.OID) *TreeBuilder {
	b := TreeBuilder{
		store: store,
		root:  newTreeNode(base),
	}
	return &b
}

func (b *TreeBuilder) expand(n *treeNode) error {
	if n.loaded {
		return nil
	}
	n.loaded = true
	if n.base.IsZero() {
		return nil
	}
	tree, err := b.store.Tree(n.base)
	if err != nil {
		return fmt.Errorf("could not expand tree: %w", err)
	}
	for _, entry := range tree.Entries {
		if entry.IsTree() {
			n.trees[entry.Name] = newTreeNode(entry.OID)
			continue
		}
		n.blobs[entry.Name] = entry.OID
	}
	return nil
}

// Insert records a blob at the given slash-separated path, creating
// intermediate trees as needed.
func (b *TreeBuilder) Insert(path string, oid kart.OID) error {

	segments := strings.Split(path, "/")
	node := b.root
	for _, segment := range segments[:len(segments)-1] {
		err := b.expand(node)
		if err != nil {
			return err
		}
		child, ok := node.trees[segment]
		if !ok {
			child = newTreeNode(kart.ZeroOID)
			child.loaded = true
			node.trees[segment] = child
		}
		// A blob cannot shadow a tree on the same name.
		delete(node.blobs, segment)
		node = child
	}

	err := b.expand(node)
	if err != nil {
		return err
	}
	name := segments[len(segments)-1]
	delete(node.trees, name)
	node.blobs[name] = oid
	return nil
}

// Remove deletes the blob or subtree at the given path. Removing an absent
// path is a no-op, which matches the importer protocol's D command.
func (b *TreeBuilder) Remove(path string) error {

	segments := strings.Split(path, "/")
	node := b.root
	for _, segment := range segments[:len(segments)-1] {
		err := b.expand(node)
		if err != nil {
			return err
		}
		child, ok := node.trees[segment]
		if !ok {
			return nil
		}
		node = child
	}

	err := b.expand(node)
	if err != nil {
		return err
	}
	name := segments[len(segments)-1]
	delete(node.blobs, name)
	delete(node.trees, name)
	return nil
}

// Write stores all modified trees and returns the root tree's OID. Empty
// subtrees are pruned, as git does not represent them.
func (b *TreeBuilder) Write() (kart.OID, error) {
	oid, _, err := b.write(b.root)
	if err != nil {
		return kart.ZeroOID, err
	}
	return oid, nil
}

func (b *TreeBuilder) write(n *treeNode) (kart.OID, bool, error) {

	// An unexpanded node is untouched; keep its OID without reading it.
	if !n.loaded {
		return n.base, !n.base.IsZero(), nil
	}

	var tree Tree
	for name, oid := range n.blobs {
		tree.Entries = append(tree.Entries, TreeEntry{Mode: ModeBlob, Name: name, OID: oid})
	}
	for name, child := range n.trees {
		oid, ok, err := b.write(child)
		if err != nil {
			return kart.ZeroOID, false, err
		}
		if !ok {
			continue
		}
		tree.Entries = append(tree.Entries, TreeEntry{Mode: ModeTree, Name: name, OID: oid})
	}

	if len(tree.Entries) == 0 && n != b.root {
		return kart.ZeroOID, false, nil
	}

	oid, err := b.store.PutTree(&tree)
	if err != nil {
		return kart.ZeroOID, false, fmt.Errorf("could not write tree: %w", err)
	}
	return oid, true, nil
}
