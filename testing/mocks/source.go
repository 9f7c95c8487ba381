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

package mocks

import (
	"io"
	"sort"
	"testing"

	"github.com/optakt/kart/models/kart"
)

// FeatureIter streams a fixed feature slice.
type FeatureIter struct {
	features []kart.Feature
	index    int
}

func NewFeatureIter(features []kart.Feature) *FeatureIter {
	i := FeatureIter{
		features: features,
	}
	return &i
}

func (i *FeatureIter) Next() (kart.Feature, error) {
	if i.index >= len(i.features) {
		return nil, io.EOF
	}
	feature := i.features[i.index]
	i.index++
	return feature, nil
}

// TableSource is a mock table import source.
type TableSource struct {
	DestPathFunc     func() string
	SchemaFunc       func() kart.Schema
	MetaFunc         func() map[string][]byte
	FeatureCountFunc func() (int, error)
	FeaturesFunc     func() (kart.FeatureIter, error)
	FeaturesByIDFunc func(ids []string, ignoreMissing bool) (kart.FeatureIter, error)
	CloseFunc        func() error
}

func (s *TableSource) DestPath() string {
	return s.DestPathFunc()
}

func (s *TableSource) Schema() kart.Schema {
	return s.SchemaFunc()
}

func (s *TableSource) Meta() map[string][]byte {
	return s.MetaFunc()
}

func (s *TableSource) FeatureCount() (int, error) {
	return s.FeatureCountFunc()
}

func (s *TableSource) Features() (kart.FeatureIter, error) {
	return s.FeaturesFunc()
}

func (s *TableSource) FeaturesByID(ids []string, ignoreMissing bool) (kart.FeatureIter, error) {
	return s.FeaturesByIDFunc(ids, ignoreMissing)
}

func (s *TableSource) Close() error {
	return s.CloseFunc()
}

// BaselineTableSource returns a mock source producing the given features
// (fid -> name) for the given destination path, with the shared test schema.
func BaselineTableSource(t *testing.T, dest string, features map[string]string) *TableSource {
	t.Helper()

	pkIndex := 0
	schema := kart.Schema{
		{ID: "c1", Name: "fid", DataType: "text", PrimaryKeyIndex: &pkIndex},
		{ID: "c2", Name: "name", DataType: "text"},
	}

	build := func() []kart.Feature {
		fids := make([]string, 0, len(features))
		for fid := range features {
			fids = append(fids, fid)
		}
		sort.Strings(fids)
		list := make([]kart.Feature, 0, len(fids))
		for _, fid := range fids {
			list = append(list, kart.Feature{"fid": fid, "name": features[fid]})
		}
		return list
	}

	s := TableSource{
		DestPathFunc: func() string {
			return dest
		},
		SchemaFunc: func() kart.Schema {
			return schema
		},
		MetaFunc: func() map[string][]byte {
			return map[string][]byte{"title": []byte("Points")}
		},
		FeatureCountFunc: func() (int, error) {
			return len(features), nil
		},
		FeaturesFunc: func() (kart.FeatureIter, error) {
			return NewFeatureIter(build()), nil
		},
		FeaturesByIDFunc: func(ids []string, ignoreMissing bool) (kart.FeatureIter, error) {
			var list []kart.Feature
			for _, id := range ids {
				name, ok := features[id]
				if !ok {
					continue
				}
				list = append(list, kart.Feature{"fid": id, "name": name})
			}
			return NewFeatureIter(list), nil
		},
		CloseFunc: func() error {
			return nil
		},
	}

	return &s
}

// TileSource is a mock tile import source.
type TileSource struct {
	DestPathFunc func() string
	MetaFunc     func() map[string][]byte
	PathsFunc    func() ([]string, error)
	CloseFunc    func() error
}

func (s *TileSource) DestPath() string {
	return s.DestPathFunc()
}

func (s *TileSource) Meta() map[string][]byte {
	return s.MetaFunc()
}

func (s *TileSource) Paths() ([]string, error) {
	return s.PathsFunc()
}

func (s *TileSource) Close() error {
	return s.CloseFunc()
}

// BaselineTileSource returns a mock source producing the given tile files.
func BaselineTileSource(t *testing.T, dest string, paths []string) *TileSource {
	t.Helper()

	s := TileSource{
		DestPathFunc: func() string {
			return dest
		},
		MetaFunc: func() map[string][]byte {
			return map[string][]byte{"title": []byte("Survey")}
		},
		PathsFunc: func() ([]string, error) {
			return paths, nil
		},
		CloseFunc: func() error {
			return nil
		},
	}

	return &s
}
