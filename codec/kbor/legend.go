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
	"fmt"

	"github.com/optakt/kart/models/kart"
)

// Legend is a stored schema snapshot: the column identifiers a feature blob's
// values refer to. Feature blobs reference a legend by identifier instead of
// embedding field metadata, which keeps them small and lets schema renames
// leave feature blobs untouched.
type Legend struct {
	PKColumns    []string
	NonPKColumns []string
}

// LegendForSchema derives the legend of a schema version.
func LegendForSchema(schema kart.Schema) *Legend {
	l := Legend{}
	for _, col := range schema.PKColumns() {
		l.PKColumns = append(l.PKColumns, col.ID)
	}
	for _, col := range schema.NonPKColumns() {
		l.NonPKColumns = append(l.NonPKColumns, col.ID)
	}
	return &l
}

// EncodeLegend serializes a legend into its canonical blob form.
func (c *Codec) EncodeLegend(legend *Legend) ([]byte, error) {
	data, err := c.encoder.Marshal([]interface{}{legend.PKColumns, legend.NonPKColumns})
	if err != nil {
		return nil, fmt.Errorf("could not encode legend: %w", err)
	}
	return data, nil
}

// DecodeLegend parses a legend blob.
func (c *Codec) DecodeLegend(data []byte) (*Legend, error) {
	var raw [][]string
	err := c.decoder.Unmarshal(data, &raw)
	if err != nil {
		return nil, fmt.Errorf("could not decode legend: %w", err)
	}
	if len(raw) != 2 {
		return nil, fmt.Errorf("invalid legend blob: %d elements", len(raw))
	}
	l := Legend{
		PKColumns:    raw[0],
		NonPKColumns: raw[1],
	}
	return &l, nil
}

// LegendID returns the identifier a legend is stored under, which is the
// hexhash of its canonical blob form.
func (c *Codec) LegendID(legend *Legend) (string, []byte, error) {
	data, err := c.EncodeLegend(legend)
	if err != nil {
		return "", nil, err
	}
	return Hexhash(data), data, nil
}
