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
	"regexp"
	"strings"
)

// The following filters all apply to keys, not to values - they match meta
// item names, primary key values or tile names, which can be known without
// loading the item's blob.

// filterPattern parses user filter patterns of the shape
// <dataset-glob>[:(feature|meta|tile)][:<rest>].
var filterPattern = regexp.MustCompile(`^([^:<>"|?\x00-\x1f]+)(?::(feature|meta|tile))?(?::(.*))?$`)

// UserStringKeyFilter matches item keys against a set of strings the user
// has supplied, or matches everything.
type UserStringKeyFilter struct {
	matchAll bool
	keys     map[string]struct{}
}

// NewUserStringKeyFilter returns a filter matching exactly the given keys.
func NewUserStringKeyFilter(keys ...string) *UserStringKeyFilter {
	f := UserStringKeyFilter{
		keys: make(map[string]struct{}, len(keys)),
	}
	for _, key := range keys {
		f.keys[key] = struct{}{}
	}
	return &f
}

// MatchAllKeys returns a filter that matches every key.
func MatchAllKeys() *UserStringKeyFilter {
	return &UserStringKeyFilter{matchAll: true}
}

// Contains reports whether the key matches the filter.
func (f *UserStringKeyFilter) Contains(key string) bool {
	if f.matchAll {
		return true
	}
	_, ok := f.keys[key]
	return ok
}

// Add adds a key to the filter. Adding to a match-all filter is a no-op.
func (f *UserStringKeyFilter) Add(key string) {
	if f.matchAll {
		return
	}
	f.keys[key] = struct{}{}
}

// MatchesAll reports whether the filter is universal.
func (f *UserStringKeyFilter) MatchesAll() bool {
	return f.matchAll
}

// Empty reports whether the filter matches nothing.
func (f *UserStringKeyFilter) Empty() bool {
	return !f.matchAll && len(f.keys) == 0
}

// Len returns the number of explicit keys.
func (f *UserStringKeyFilter) Len() int {
	return len(f.keys)
}

// DatasetKeyFilter restricts the items of one dataset, with one key filter
// per section (meta, feature, tile).
type DatasetKeyFilter struct {
	matchAll bool
	sections map[string]*UserStringKeyFilter
}

// NewDatasetKeyFilter returns an empty dataset filter.
func NewDatasetKeyFilter() *DatasetKeyFilter {
	f := DatasetKeyFilter{
		sections: make(map[string]*UserStringKeyFilter),
	}
	return &f
}

// MatchAllDataset returns a dataset filter that matches every item.
func MatchAllDataset() *DatasetKeyFilter {
	return &DatasetKeyFilter{matchAll: true}
}

// Get returns the key filter for a section. A match-all dataset filter
// appears to contain a match-all child at every section. Returns nil when
// the section is not covered.
func (f *DatasetKeyFilter) Get(section string) *UserStringKeyFilter {
	if f.matchAll {
		return MatchAllKeys()
	}
	return f.sections[section]
}

// Set stores the key filter for a section. Setting on a match-all filter is
// a no-op.
func (f *DatasetKeyFilter) Set(section string, filter *UserStringKeyFilter) {
	if f.matchAll {
		return
	}
	f.sections[section] = filter
}

// MatchesAll reports whether the filter is universal.
func (f *DatasetKeyFilter) MatchesAll() bool {
	return f.matchAll
}

// Empty reports whether the filter matches nothing.
func (f *DatasetKeyFilter) Empty() bool {
	return !f.matchAll && len(f.sections) == 0
}

// RepoKeyFilter restricts which items of a diff, checkout or import are
// considered, with one dataset filter per dataset path. Dataset paths can be
// globs using '*' as the only metacharacter.
type RepoKeyFilter struct {
	matchAll bool
	paths    map[string]*DatasetKeyFilter
	globs    map[string]*DatasetKeyFilter
}

// NewRepoKeyFilter returns an empty repo filter.
func NewRepoKeyFilter() *RepoKeyFilter {
	f := RepoKeyFilter{
		paths: make(map[string]*DatasetKeyFilter),
		globs: make(map[string]*DatasetKeyFilter),
	}
	return &f
}

// MatchAllRepo returns a repo filter that matches every item.
func MatchAllRepo() *RepoKeyFilter {
	return &RepoKeyFilter{matchAll: true}
}

// DatasetsFilter returns a repo filter that matches everything in all of the
// given datasets.
func DatasetsFilter(paths ...string) *RepoKeyFilter {
	f := NewRepoKeyFilter()
	for _, path := range paths {
		f.set(path, MatchAllDataset())
	}
	return f
}

// ExcludeDatasetsFilter returns a filter that matches everything that is not
// in any of the given datasets.
func ExcludeDatasetsFilter(paths ...string) *NegateKeyFilter {
	return Negate(DatasetsFilter(paths...))
}

// ParseFilterPatterns builds a repo filter from user pattern strings like
// ["datasetA:1", "datasetA:2", "datasetB"]. With no patterns, the result
// matches everything.
func ParseFilterPatterns(patterns ...string) (*RepoKeyFilter, error) {
	if len(patterns) == 0 {
		return MatchAllRepo(), nil
	}
	f := NewRepoKeyFilter()
	for _, pattern := range patterns {
		err := f.AddPattern(pattern)
		if err != nil {
			return nil, err
		}
	}
	return f, nil
}

// AddPattern parses one user pattern and adds it to the filter.
func (f *RepoKeyFilter) AddPattern(pattern string) error {

	match := filterPattern.FindStringSubmatch(pattern)
	if match == nil {
		return badPattern(pattern)
	}
	glob := match[1]
	section := match[2]
	rest := match[3]

	if strings.HasPrefix(glob, "/") || strings.HasPrefix(glob, ".") ||
		strings.HasSuffix(glob, "/") || strings.HasSuffix(glob, ".") ||
		strings.Contains(glob, "./") || strings.Contains(glob, "/.") {
		return badPattern(pattern)
	}

	// If a key is given without a section, it refers to a feature.
	if section == "" && rest != "" {
		section = SectionFeature
	}

	if section == "" {
		// Whole dataset.
		f.set(glob, MatchAllDataset())
		return nil
	}

	dsFilter := f.Get(glob)
	if dsFilter == nil || dsFilter.Empty() {
		dsFilter = NewDatasetKeyFilter()
		if rest != "" {
			dsFilter.Set(section, NewUserStringKeyFilter())
		} else {
			dsFilter.Set(section, MatchAllKeys())
		}
		f.set(glob, dsFilter)
	}
	if dsFilter.Get(section) == nil {
		if rest != "" {
			dsFilter.Set(section, NewUserStringKeyFilter())
		} else {
			dsFilter.Set(section, MatchAllKeys())
		}
	}
	if rest != "" {
		dsFilter.Get(section).Add(rest)
	}
	return nil
}

// Get returns the dataset filter matching a dataset path, trying exact
// entries first and glob entries second. Returns nil when no entry matches.
func (f *RepoKeyFilter) Get(path string) *DatasetKeyFilter {
	if f.matchAll {
		return MatchAllDataset()
	}
	dsFilter, ok := f.paths[path]
	if ok {
		return dsFilter
	}
	for glob, dsFilter := range f.globs {
		if globMatch(glob, path) {
			return dsFilter
		}
	}
	return nil
}

// Contains reports whether any entry matches the dataset path.
func (f *RepoKeyFilter) Contains(path string) bool {
	return f.Get(path) != nil
}

// MatchesAll reports whether the filter is universal.
func (f *RepoKeyFilter) MatchesAll() bool {
	return f.matchAll
}

// Empty reports whether the filter matches nothing.
func (f *RepoKeyFilter) Empty() bool {
	return !f.matchAll && len(f.paths) == 0 && len(f.globs) == 0
}

func (f *RepoKeyFilter) set(path string, dsFilter *DatasetKeyFilter) {
	if f.matchAll {
		return
	}
	if strings.Contains(path, "*") {
		f.globs[path] = dsFilter
	}
	f.paths[path] = dsFilter
}

func badPattern(pattern string) error {
	return NewInvalidArgument("invalid filter format, should be '<dataset>' or '<dataset>:<primary_key>': got %q", pattern)
}

// globMatch matches a dataset path against a glob where '*' is the only
// metacharacter. '*' matches any run of characters, including slashes.
func globMatch(glob string, path string) bool {
	parts := strings.Split(glob, "*")
	if len(parts) == 1 {
		return glob == path
	}
	if !strings.HasPrefix(path, parts[0]) {
		return false
	}
	path = path[len(parts[0]):]
	for _, part := range parts[1 : len(parts)-1] {
		idx := strings.Index(path, part)
		if idx < 0 {
			return false
		}
		path = path[idx+len(part):]
	}
	// The final part must match at the very end.
	return strings.HasSuffix(path, parts[len(parts)-1])
}

// NegateKeyFilter contains whatever the delegate does not contain, and vice
// versa.
type NegateKeyFilter struct {
	delegate *RepoKeyFilter
}

// Negate returns a filter that inverts the delegate's matches.
func Negate(delegate *RepoKeyFilter) *NegateKeyFilter {
	n := NegateKeyFilter{
		delegate: delegate,
	}
	return &n
}

// Contains reports whether the delegate does not match the path.
func (n *NegateKeyFilter) Contains(path string) bool {
	return !n.delegate.Contains(path)
}

// DeltaFilter filters parts of individual deltas. "--" is the key for old
// values of deletes, "-" for old values of updates, "+" for new values of
// updates, and "++" for new values of inserts.
type DeltaFilter struct {
	matchAll bool
	parts    map[string]struct{}
}

// NewDeltaFilter returns a filter passing exactly the given parts.
func NewDeltaFilter(parts ...string) *DeltaFilter {
	f := DeltaFilter{
		parts: make(map[string]struct{}, len(parts)),
	}
	for _, part := range parts {
		f.parts[part] = struct{}{}
	}
	return &f
}

// MatchAllDeltaParts returns a filter passing every part.
func MatchAllDeltaParts() *DeltaFilter {
	return &DeltaFilter{matchAll: true}
}

// Contains reports whether the part passes the filter.
func (f *DeltaFilter) Contains(part string) bool {
	if f.matchAll {
		return true
	}
	_, ok := f.parts[part]
	return ok
}
