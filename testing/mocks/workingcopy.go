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
	"testing"

	"github.com/optakt/kart/models/kart"
)

// WorkingCopy is a mock working copy.
type WorkingCopy struct {
	ExistsFunc      func() bool
	IsDirtyFunc     func() (bool, error)
	ResetToHeadFunc func() error
	FeatureFunc     func(dsPath string, pk string) (kart.Feature, error)
	TilePathFunc    func(dsPath string, tilename string) (string, error)
}

func (w *WorkingCopy) Exists() bool {
	return w.ExistsFunc()
}

func (w *WorkingCopy) IsDirty() (bool, error) {
	return w.IsDirtyFunc()
}

func (w *WorkingCopy) ResetToHead() error {
	return w.ResetToHeadFunc()
}

func (w *WorkingCopy) Feature(dsPath string, pk string) (kart.Feature, error) {
	return w.FeatureFunc(dsPath, pk)
}

func (w *WorkingCopy) TilePath(dsPath string, tilename string) (string, error) {
	return w.TilePathFunc(dsPath, tilename)
}

// BaselineWorkingCopy returns a clean, present working copy with no
// contents.
func BaselineWorkingCopy(t *testing.T) *WorkingCopy {
	t.Helper()

	w := WorkingCopy{
		ExistsFunc: func() bool {
			return true
		},
		IsDirtyFunc: func() (bool, error) {
			return false, nil
		},
		ResetToHeadFunc: func() error {
			return nil
		},
		FeatureFunc: func(dsPath string, pk string) (kart.Feature, error) {
			return nil, kart.NewNotFound(kart.ExitNotFound, "no feature found at %s:%s", dsPath, pk)
		},
		TilePathFunc: func(dsPath string, tilename string) (string, error) {
			return "", kart.NewNotFound(kart.ExitNotFound, "no tile found at %s:%s", dsPath, tilename)
		},
	}

	return &w
}
