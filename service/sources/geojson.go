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

package sources

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/optakt/kart/models/kart"
)

// GeoJSONTableSource imports a GeoJSON feature collection as one tabular
// dataset. The schema is supplied explicitly; schema inference is out of
// scope.
type GeoJSONTableSource struct {
	dest     string
	schema   kart.Schema
	meta     map[string][]byte
	features []kart.Feature
}

// NewGeoJSONTableSource reads a schema file and a GeoJSON file into an
// import source.
func NewGeoJSONTableSource(dest string, schemaPath string, dataPath string) (*GeoJSONTableSource, error) {

	schemaData, err := os.ReadFile(schemaPath)
	if err != nil {
		return nil, kart.NewNotFound(kart.ExitNoImportSource, "could not read schema file: %s", err)
	}
	schema, err := kart.SchemaFromJSON(schemaData)
	if err != nil {
		return nil, kart.NewInvalidArgument("invalid schema file: %s", err)
	}

	data, err := os.ReadFile(dataPath)
	if err != nil {
		return nil, kart.NewNotFound(kart.ExitNoImportSource, "could not read data file: %s", err)
	}
	var doc struct {
		Features []struct {
			Properties map[string]interface{} `json:"properties"`
		} `json:"features"`
	}
	err = json.Unmarshal(data, &doc)
	if err != nil {
		return nil, kart.NewInvalidArgument("invalid GeoJSON file: %s", err)
	}

	s := GeoJSONTableSource{
		dest:   dest,
		schema: schema,
		meta:   make(map[string][]byte),
	}
	for _, item := range doc.Features {
		s.features = append(s.features, kart.Feature(item.Properties))
	}

	return &s, nil
}

func (s *GeoJSONTableSource) DestPath() string {
	return s.dest
}

func (s *GeoJSONTableSource) Schema() kart.Schema {
	return s.schema
}

func (s *GeoJSONTableSource) Meta() map[string][]byte {
	return s.meta
}

func (s *GeoJSONTableSource) FeatureCount() (int, error) {
	return len(s.features), nil
}

func (s *GeoJSONTableSource) Features() (kart.FeatureIter, error) {
	return &sliceIter{features: s.features}, nil
}

func (s *GeoJSONTableSource) FeaturesByID(ids []string, ignoreMissing bool) (kart.FeatureIter, error) {
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	var matched []kart.Feature
	for _, feature := range s.features {
		key := kart.PKString(s.schema.PKValues(feature))
		_, ok := wanted[key]
		if ok {
			matched = append(matched, feature)
			delete(wanted, key)
		}
	}
	if len(wanted) > 0 && !ignoreMissing {
		return nil, kart.NewNotFound(kart.ExitNotFound, "%d requested features not found in source", len(wanted))
	}
	return &sliceIter{features: matched}, nil
}

func (s *GeoJSONTableSource) Close() error {
	return nil
}

type sliceIter struct {
	features []kart.Feature
	index    int
}

func (i *sliceIter) Next() (kart.Feature, error) {
	if i.index >= len(i.features) {
		return nil, io.EOF
	}
	feature := i.features[i.index]
	i.index++
	return feature, nil
}

// String describes the source for import messages.
func (s *GeoJSONTableSource) String() string {
	return fmt.Sprintf("GeoJSON source (%d features)", len(s.features))
}
