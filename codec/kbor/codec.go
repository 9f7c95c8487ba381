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

	"github.com/fxamacker/cbor/v2"

	"github.com/optakt/kart/models/kart"
)

// Codec encodes and decodes dataset items using canonical CBOR encoding.
// Canonical encoding is load-bearing: two logically-equal items must encode
// to byte-identical blobs, since blob paths and deduplication are derived
// from content addresses.
type Codec struct {
	encoder cbor.EncMode
	decoder cbor.DecMode
}

// NewCodec creates a new Codec.
func NewCodec() *Codec {

	// We should never fail here if the options are valid, so use panic to keep
	// the function signature for the codec clean.
	encOptions := cbor.CanonicalEncOptions()
	encoder, err := encOptions.EncMode()
	if err != nil {
		panic(err)
	}

	decOptions := cbor.DecOptions{}
	decoder, err := decOptions.DecMode()
	if err != nil {
		panic(err)
	}

	c := Codec{
		encoder: encoder,
		decoder: decoder,
	}

	return &c
}

// Marshal returns the canonical CBOR encoding of the given value.
func (c *Codec) Marshal(value interface{}) ([]byte, error) {
	return c.encoder.Marshal(value)
}

// Unmarshal parses CBOR-encoded data into the given value.
func (c *Codec) Unmarshal(data []byte, value interface{}) error {
	return c.decoder.Unmarshal(data, value)
}

// PackPK encodes a primary key tuple into its canonical byte form, from
// which feature paths are derived.
func (c *Codec) PackPK(values []interface{}) ([]byte, error) {
	data, err := c.encoder.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("could not pack primary key: %w", err)
	}
	return data, nil
}

// UnpackPK decodes a packed primary key tuple.
func (c *Codec) UnpackPK(data []byte) ([]interface{}, error) {
	var values []interface{}
	err := c.decoder.Unmarshal(data, &values)
	if err != nil {
		return nil, fmt.Errorf("could not unpack primary key: %w", err)
	}
	return values, nil
}

// EncodeFeature serializes the non-primary-key fields of a feature in schema
// column order, referencing the schema legend by identifier. The primary key
// is not stored in the blob; it is encoded in the blob's path.
func (c *Codec) EncodeFeature(schema kart.Schema, legendID []byte, feature kart.Feature) ([]byte, error) {
	cols := schema.NonPKColumns()
	values := make([]interface{}, 0, len(cols))
	for _, col := range cols {
		values = append(values, feature[col.Name])
	}
	data, err := c.encoder.Marshal([]interface{}{legendID, values})
	if err != nil {
		return nil, fmt.Errorf("could not encode feature: %w", err)
	}
	return data, nil
}

// DecodeFeature parses a feature blob into its embedded legend identifier
// and its non-primary-key values.
func (c *Codec) DecodeFeature(data []byte) ([]byte, []interface{}, error) {
	var raw []interface{}
	err := c.decoder.Unmarshal(data, &raw)
	if err != nil {
		return nil, nil, fmt.Errorf("could not decode feature: %w", err)
	}
	if len(raw) != 2 {
		return nil, nil, fmt.Errorf("invalid feature blob: %d elements", len(raw))
	}
	legendID, ok := raw[0].([]byte)
	if !ok {
		return nil, nil, fmt.Errorf("invalid feature blob: bad legend identifier")
	}
	values, ok := raw[1].([]interface{})
	if !ok {
		return nil, nil, fmt.Errorf("invalid feature blob: bad value list")
	}
	return legendID, values, nil
}
