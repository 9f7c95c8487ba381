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
	"errors"

	"github.com/optakt/kart/models/kart"
	"github.com/optakt/kart/service/dataset"
	"github.com/optakt/kart/service/gitstore"
)

// shouldCompareFeatures decides whether imported features should be compared
// against the previous feature blobs. This prevents repo bloat after columns
// are added or removed from the dataset, by only creating new blobs when the
// old blob cannot carry the new schema.
func (s *Service) shouldCompareFeatures(source kart.TableSource, replacing *dataset.Dataset, fromCommit kart.OID) (bool, error) {

	if replacing == nil {
		return false, nil
	}
	oldSchema, err := replacing.Schema()
	if err != nil {
		return false, err
	}
	newSchema := source.Schema()
	if !oldSchema.Equal(newSchema) {
		counts := oldSchema.DiffTypeCounts(newSchema)
		if counts.PKUpdates > 0 {
			// When the PK changes, we cannot match old features to new
			// features, so there is no point trying.
			return false, nil
		}
		if counts.Inserts > 0 || counts.Deletes > 0 {
			// After column adds or deletes, we want to check features
			// against old features, to avoid duplicating identical ones.
			return true, nil
		}
	}

	if fromCommit.IsZero() {
		return false, nil
	}

	// Walk the log until we encounter a relevant schema change.
	result := false
	decided := false
	err = s.store.Walk(fromCommit, func(oid kart.OID, commit *gitstore.Commit) (bool, error) {
		view, err := dataset.FromTree(s.log, s.store, s.codec, commit.Tree)
		if err != nil {
			return false, err
		}
		old, err := view.Get(replacing.Path)
		if err != nil {
			if kart.ExitCode(err) == kart.ExitNoTable {
				// No schema changes since this dataset was added.
				decided = true
				result = false
				return false, nil
			}
			return false, err
		}
		schema, err := old.Schema()
		if err != nil {
			return false, err
		}
		if !schema.Equal(newSchema) {
			// This revision had a schema change.
			counts := schema.DiffTypeCounts(newSchema)
			decided = true
			if counts.PKUpdates > 0 {
				// A PK update rewrote every feature in that revision, and
				// nothing changed since, so there is nothing to compare to.
				result = false
			} else {
				result = counts.Inserts > 0 || counts.Deletes > 0
			}
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		var kerr *kart.Error
		if errors.As(err, &kerr) && kerr.Code == kart.ExitNotFound {
			// Probably a shallow clone missing the commit. Just run the
			// comparison; worst case it is a bit slow.
			return true, nil
		}
		return false, err
	}
	if decided {
		return result, nil
	}
	return false, nil
}
