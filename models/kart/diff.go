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

package kart

import (
	"fmt"
	"sort"
)

// Sections of a dataset diff. Tabular datasets have meta and feature
// sections; tile datasets have meta and tile sections.
const (
	SectionMeta    = "meta"
	SectionFeature = "feature"
	SectionTile    = "tile"
)

// DeltaDiff is the inner-most level of a diff: a mapping from item key to the
// delta for that item.
type DeltaDiff map[string]*Delta

// NewDeltaDiff returns a delta diff containing the given deltas, each stored
// at its own key.
func NewDeltaDiff(deltas ...*Delta) DeltaDiff {
	d := make(DeltaDiff, len(deltas))
	for _, delta := range deltas {
		d.Add(delta)
	}
	return d
}

// Add stores the delta at its own key.
func (d DeltaDiff) Add(delta *Delta) {
	d[delta.Key()] = delta
}

// Invert returns the diff with every delta inverted. Each inverted delta is
// re-added at its own key, which may differ from the original key for
// renames.
func (d DeltaDiff) Invert() DeltaDiff {
	result := make(DeltaDiff, len(d))
	for _, delta := range d {
		result.Add(delta.Invert())
	}
	return result
}

// Concat concatenates this diff with the subsequent diff, pointwise on
// matching keys. Deltas that cancel out are removed from the result.
func (d DeltaDiff) Concat(other DeltaDiff) (DeltaDiff, error) {
	result := make(DeltaDiff)
	for key, delta := range d {
		result[key] = delta
	}
	for key, rhs := range other {
		lhs, ok := result[key]
		if !ok {
			result[key] = rhs
			continue
		}
		both, err := lhs.Concat(rhs)
		if err != nil {
			return nil, fmt.Errorf("could not concatenate deltas: %w", err)
		}
		if both == nil {
			delete(result, key)
			continue
		}
		result[key] = both
	}
	return result, nil
}

// Filter returns the diff restricted to deltas whose key matches the filter.
func (d DeltaDiff) Filter(filter *UserStringKeyFilter) DeltaDiff {
	if filter == nil || filter.MatchesAll() {
		return d
	}
	result := make(DeltaDiff)
	for key, delta := range d {
		if filter.Contains(key) {
			result[key] = delta
		}
	}
	return result
}

// SortedKeys returns the delta keys in lexical order, for stable output.
func (d DeltaDiff) SortedKeys() []string {
	keys := make([]string, 0, len(d))
	for key := range d {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// TypeCounts tallies the deltas by type.
func (d DeltaDiff) TypeCounts() map[string]int {
	counts := make(map[string]int)
	for _, delta := range d {
		counts[delta.Type().String()]++
	}
	return counts
}

// DatasetDiff groups the delta diffs of one dataset by section.
type DatasetDiff map[string]DeltaDiff

// Invert returns the dataset diff with every section inverted.
func (d DatasetDiff) Invert() DatasetDiff {
	result := make(DatasetDiff, len(d))
	for section, deltas := range d {
		result[section] = deltas.Invert()
	}
	return result
}

// Concat concatenates this dataset diff with the subsequent one, section by
// section. Sections that end up empty are removed.
func (d DatasetDiff) Concat(other DatasetDiff) (DatasetDiff, error) {
	result := make(DatasetDiff)
	for section, deltas := range d {
		result[section] = deltas
	}
	for section, rhs := range other {
		lhs, ok := result[section]
		if !ok {
			result[section] = rhs
			continue
		}
		both, err := lhs.Concat(rhs)
		if err != nil {
			return nil, fmt.Errorf("could not concatenate %s diffs: %w", section, err)
		}
		if len(both) == 0 {
			delete(result, section)
			continue
		}
		result[section] = both
	}
	return result, nil
}

// RecursiveLen counts the deltas across all sections.
func (d DatasetDiff) RecursiveLen() int {
	total := 0
	for _, deltas := range d {
		total += len(deltas)
	}
	return total
}

// SetIfNonEmpty stores the delta diff under the section unless it is empty.
func (d DatasetDiff) SetIfNonEmpty(section string, deltas DeltaDiff) {
	if len(deltas) > 0 {
		d[section] = deltas
	}
}

// RepoDiff is the outer-most level of a diff: a mapping from dataset path to
// the dataset diff for that dataset.
type RepoDiff map[string]DatasetDiff

// Invert returns the repo diff with every dataset diff inverted.
func (d RepoDiff) Invert() RepoDiff {
	result := make(RepoDiff, len(d))
	for path, dsDiff := range d {
		result[path] = dsDiff.Invert()
	}
	return result
}

// Concat concatenates this repo diff with the subsequent one, dataset by
// dataset. Datasets that end up empty are removed.
func (d RepoDiff) Concat(other RepoDiff) (RepoDiff, error) {
	result := make(RepoDiff)
	for path, dsDiff := range d {
		result[path] = dsDiff
	}
	for path, rhs := range other {
		lhs, ok := result[path]
		if !ok {
			result[path] = rhs
			continue
		}
		both, err := lhs.Concat(rhs)
		if err != nil {
			return nil, fmt.Errorf("could not concatenate diffs for dataset %s: %w", path, err)
		}
		if both.RecursiveLen() == 0 {
			delete(result, path)
			continue
		}
		result[path] = both
	}
	return result, nil
}

// Filter returns the repo diff restricted to the deltas matching the given
// key filter.
func (d RepoDiff) Filter(filter *RepoKeyFilter) RepoDiff {
	if filter == nil || filter.MatchesAll() {
		return d
	}
	result := make(RepoDiff)
	for path, dsDiff := range d {
		dsFilter := filter.Get(path)
		if dsFilter == nil {
			continue
		}
		filtered := make(DatasetDiff)
		for section, deltas := range dsDiff {
			keyFilter := dsFilter.Get(section)
			if keyFilter == nil {
				// The section is not covered by the filter at all.
				continue
			}
			filtered.SetIfNonEmpty(section, deltas.Filter(keyFilter))
		}
		if filtered.RecursiveLen() > 0 {
			result[path] = filtered
		}
	}
	return result
}

// RecursiveLen counts the deltas across all datasets.
func (d RepoDiff) RecursiveLen() int {
	total := 0
	for _, dsDiff := range d {
		total += dsDiff.RecursiveLen()
	}
	return total
}

// Prune removes empty sections and empty dataset diffs.
func (d RepoDiff) Prune() {
	for path, dsDiff := range d {
		for section, deltas := range dsDiff {
			if len(deltas) == 0 {
				delete(dsDiff, section)
			}
		}
		if len(dsDiff) == 0 {
			delete(d, path)
		}
	}
}

// SortedPaths returns the dataset paths in lexical order.
func (d RepoDiff) SortedPaths() []string {
	paths := make([]string, 0, len(d))
	for path := range d {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}
