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

// Feature is one row of a tabular dataset, keyed by column name.
type Feature map[string]interface{}

// FeatureIter streams features from an import source. Next returns io.EOF
// when the stream is exhausted.
type FeatureIter interface {
	Next() (Feature, error)
}

// TableSource produces the features and metadata of one tabular dataset to
// be imported.
type TableSource interface {

	// DestPath is the dataset path the source imports to.
	DestPath() string

	// Schema describes the features the source produces.
	Schema() Schema

	// Meta returns extra meta items discovered by the source (title,
	// description, CRS definitions), keyed by meta item name.
	Meta() map[string][]byte

	// FeatureCount returns the number of features the source will produce,
	// where known cheaply.
	FeatureCount() (int, error)

	// Features streams all features.
	Features() (FeatureIter, error)

	// FeaturesByID streams the features matching the given primary key
	// strings. Missing keys are skipped when ignoreMissing is set.
	FeaturesByID(ids []string, ignoreMissing bool) (FeatureIter, error)

	// Close releases the source's resources.
	Close() error
}

// TileSource produces the tile files and metadata of one tile dataset to be
// imported.
type TileSource interface {

	// DestPath is the dataset path the source imports to.
	DestPath() string

	// Meta returns extra meta items discovered by the source.
	Meta() map[string][]byte

	// Paths returns the local filesystem paths of the tiles to import.
	Paths() ([]string, error)

	// Close releases the source's resources.
	Close() error
}
