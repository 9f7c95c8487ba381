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
	"sort"

	"github.com/optakt/kart/models/kart"
)

// Walk visits the ancestry of a commit, newest committer date first,
// starting with the commit itself. The callback returns false to stop the
// walk early. Missing commits (shallow clones) surface as NotFound errors.
func (s *Store) Walk(from kart.OID, fn func(oid kart.OID, commit *Commit) (bool, error)) error {

	type pending struct {
		oid    kart.OID
		commit *Commit
	}

	visited := make(map[kart.OID]struct{})
	var queue []pending

	push := func(oid kart.OID) error {
		_, ok := visited[oid]
		if ok {
			return nil
		}
		visited[oid] = struct{}{}
		commit, err := s.Commit(oid)
		if err != nil {
			return err
		}
		queue = append(queue, pending{oid: oid, commit: commit})
		sort.SliceStable(queue, func(i int, j int) bool {
			return queue[i].commit.Committer.When > queue[j].commit.Committer.When
		})
		return nil
	}

	err := push(from)
	if err != nil {
		return err
	}

	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		proceed, err := fn(next.oid, next.commit)
		if err != nil {
			return err
		}
		if !proceed {
			return nil
		}
		for _, parent := range next.commit.Parents {
			err = push(parent)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// MergeBase returns the best common ancestor of two commits, or the zero OID
// when the commits are unrelated.
func (s *Store) MergeBase(a kart.OID, b kart.OID) (kart.OID, error) {

	ancestors := make(map[kart.OID]struct{})
	err := s.Walk(a, func(oid kart.OID, commit *Commit) (bool, error) {
		ancestors[oid] = struct{}{}
		return true, nil
	})
	if err != nil {
		return kart.ZeroOID, err
	}

	base := kart.ZeroOID
	err = s.Walk(b, func(oid kart.OID, commit *Commit) (bool, error) {
		_, ok := ancestors[oid]
		if ok {
			base = oid
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		return kart.ZeroOID, err
	}

	return base, nil
}

// IsAncestor reports whether ancestor is reachable from descendant.
func (s *Store) IsAncestor(ancestor kart.OID, descendant kart.OID) (bool, error) {
	found := false
	err := s.Walk(descendant, func(oid kart.OID, commit *Commit) (bool, error) {
		if oid == ancestor {
			found = true
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		return false, err
	}
	return found, nil
}
