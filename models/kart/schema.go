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
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// ColumnSchema describes one column of a tabular dataset. The ID is stable
// across renames; the name is what users see. Primary key columns carry
// their position in the primary key tuple.
type ColumnSchema struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	DataType        string `json:"dataType"`
	PrimaryKeyIndex *int   `json:"primaryKeyIndex,omitempty"`
}

// Schema is the ordered column list of a tabular dataset, as stored in the
// schema.json meta item.
type Schema []ColumnSchema

// SchemaFromJSON parses a schema.json meta item.
func SchemaFromJSON(data []byte) (Schema, error) {
	var schema Schema
	err := json.Unmarshal(data, &schema)
	if err != nil {
		return nil, fmt.Errorf("could not decode schema: %w", err)
	}
	return schema, nil
}

// ToJSON renders the schema in its canonical meta item form.
func (s Schema) ToJSON() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("could not encode schema: %w", err)
	}
	return data, nil
}

// PKColumns returns the primary key columns in tuple order.
func (s Schema) PKColumns() []ColumnSchema {
	var pks []ColumnSchema
	for _, col := range s {
		if col.PrimaryKeyIndex != nil {
			pks = append(pks, col)
		}
	}
	sort.SliceStable(pks, func(i int, j int) bool {
		return *pks[i].PrimaryKeyIndex < *pks[j].PrimaryKeyIndex
	})
	return pks
}

// NonPKColumns returns the non-primary-key columns in schema order.
func (s Schema) NonPKColumns() []ColumnSchema {
	var cols []ColumnSchema
	for _, col := range s {
		if col.PrimaryKeyIndex == nil {
			cols = append(cols, col)
		}
	}
	return cols
}

// PKValues extracts the primary key tuple from a feature.
func (s Schema) PKValues(feature map[string]interface{}) []interface{} {
	pks := s.PKColumns()
	values := make([]interface{}, 0, len(pks))
	for _, col := range pks {
		values = append(values, feature[col.Name])
	}
	return values
}

// PKString renders a primary key tuple as the string key used in diffs and
// filters. Multi-column keys are comma-joined.
func PKString(values []interface{}) string {
	parts := make([]string, 0, len(values))
	for _, value := range values {
		parts = append(parts, fmt.Sprintf("%v", value))
	}
	return strings.Join(parts, ",")
}

// Equal reports whether the two schemas are identical.
func (s Schema) Equal(other Schema) bool {
	return reflect.DeepEqual(s, other)
}

// SchemaDiffCounts tallies the kinds of column changes between two schema
// versions. The fast-import pipeline uses these to decide whether feature
// blobs can be deduplicated across the change.
type SchemaDiffCounts struct {
	Inserts   int
	Deletes   int
	Updates   int
	PKUpdates int
}

// DiffTypeCounts compares this schema against a newer version, matching
// columns by ID.
func (s Schema) DiffTypeCounts(other Schema) SchemaDiffCounts {

	var counts SchemaDiffCounts
	oldByID := make(map[string]ColumnSchema, len(s))
	for _, col := range s {
		oldByID[col.ID] = col
	}
	newByID := make(map[string]ColumnSchema, len(other))
	for _, col := range other {
		newByID[col.ID] = col
	}

	for id, oldCol := range oldByID {
		newCol, ok := newByID[id]
		if !ok {
			counts.Deletes++
			continue
		}
		if !reflect.DeepEqual(oldCol, newCol) {
			counts.Updates++
		}
	}
	for id := range newByID {
		_, ok := oldByID[id]
		if !ok {
			counts.Inserts++
		}
	}

	// Any change to the primary key column sequence rewrites every feature
	// path, so it counts as a PK update regardless of what else changed.
	oldPK := make([]string, 0)
	for _, col := range s.PKColumns() {
		oldPK = append(oldPK, col.ID+":"+col.DataType)
	}
	newPK := make([]string, 0)
	for _, col := range other.PKColumns() {
		newPK = append(newPK, col.ID+":"+col.DataType)
	}
	if !reflect.DeepEqual(oldPK, newPK) {
		counts.PKUpdates++
	}

	return counts
}
