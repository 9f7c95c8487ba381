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

package kbor

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MetaType determines how a meta item is canonicalized before being written
// as a blob.
type MetaType int

const (
	MetaJSON MetaType = iota + 1
	MetaWKT
	MetaXML
	MetaText
)

// MetaTypeForName derives the canonicalization of a meta item from its name.
func MetaTypeForName(name string) MetaType {
	switch {
	case strings.HasSuffix(name, ".json"):
		return MetaJSON
	case strings.HasSuffix(name, ".wkt"), strings.HasPrefix(name, "crs/"):
		return MetaWKT
	case strings.HasSuffix(name, ".xml"):
		return MetaXML
	default:
		return MetaText
	}
}

// CanonicalizeMeta normalizes a meta item's contents so that two
// logically-equal items encode to byte-identical blobs.
func CanonicalizeMeta(name string, contents []byte) ([]byte, error) {
	switch MetaTypeForName(name) {
	case MetaJSON:
		return CanonicalizeJSON(contents)
	case MetaWKT:
		return []byte(NormalizeWKT(string(contents))), nil
	case MetaXML:
		return NormalizeText(contents), nil
	default:
		return NormalizeText(contents), nil
	}
}

// CanonicalizeJSON re-marshals JSON with sorted keys and fixed separators.
func CanonicalizeJSON(contents []byte) ([]byte, error) {
	var value interface{}
	err := json.Unmarshal(contents, &value)
	if err != nil {
		return nil, fmt.Errorf("could not parse JSON meta item: %w", err)
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("could not render JSON meta item: %w", err)
	}
	return data, nil
}

// NormalizeWKT collapses whitespace runs in a WKT definition to single
// spaces and trims the ends.
func NormalizeWKT(wkt string) string {
	return strings.Join(strings.Fields(wkt), " ")
}

// NormalizeText ensures text meta items are newline-terminated.
func NormalizeText(contents []byte) []byte {
	if len(contents) == 0 || contents[len(contents)-1] == '\n' {
		return contents
	}
	result := make([]byte, len(contents)+1)
	copy(result, contents)
	result[len(contents)] = '\n'
	return result
}
