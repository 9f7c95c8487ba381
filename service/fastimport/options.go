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

package fastimport

import (
	"runtime"

	"github.com/go-playground/validator/v10"

	"github.com/optakt/kart/models/kart"
	"github.com/optakt/kart/service/gitstore"
)

// ReplaceExisting controls how an import treats datasets that already exist.
type ReplaceExisting int

const (
	// ReplaceNone imports must not collide with existing datasets.
	ReplaceNone ReplaceExisting = iota
	// ReplaceGiven replaces existing datasets with the same path as an
	// import source; other datasets are untouched.
	ReplaceGiven
	// ReplaceAll starts from scratch: only the imported datasets remain.
	ReplaceAll
)

// Options tune one import run.
type Options struct {
	ReplaceExisting ReplaceExisting `validate:"min=0,max=2"`

	// ReplaceIDs restricts a ReplaceGiven import to the given primary keys;
	// the rest of the dataset is carried over unchanged.
	ReplaceIDs []string

	// Limit caps the number of features imported per source; zero means no
	// limit.
	Limit int `validate:"min=0"`

	Message string

	// FromCommit is the starting point of the import. Ignored (and
	// cleared) by ReplaceAll imports.
	FromCommit kart.OID

	// Branch is the reference to advance on success; empty advances HEAD.
	Branch string

	// Amend replaces the from-commit instead of adding a child commit.
	Amend bool

	// AllowEmpty permits a commit whose tree equals its parent's.
	AllowEmpty bool

	// NumWorkers bounds the tile extraction and conversion pools; zero
	// means one worker per available CPU core.
	NumWorkers int `validate:"min=0"`

	// ConvertToCloudOptimized converts tiles to their cloud-optimized
	// variant while importing.
	ConvertToCloudOptimized bool

	Author    gitstore.Signature
	Committer gitstore.Signature
}

var validate = validator.New()

// Validate checks the option values before any reference is touched.
func (o *Options) Validate() error {
	err := validate.Struct(o)
	if err != nil {
		return kart.NewInvalidArgument("invalid import options: %s", err)
	}
	if o.Amend && o.FromCommit.IsZero() {
		return kart.NewInvalidArgument("cannot amend without a from commit")
	}
	if len(o.ReplaceIDs) > 0 && o.ReplaceExisting != ReplaceGiven {
		return kart.NewInvalidArgument("replacing specific IDs requires replacing the given dataset")
	}
	return nil
}

func (o *Options) workers() int {
	if o.NumWorkers > 0 {
		return o.NumWorkers
	}
	return runtime.NumCPU()
}
