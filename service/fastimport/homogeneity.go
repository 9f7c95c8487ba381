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
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/optakt/kart/models/kart"
)

// mergeTileMetadata merges one dataset-level metadata field across all tiles
// and sources. Per-tile fields (extents, OIDs, sizes) are exempt from this
// check and never pass through here. A field that differs across the inputs
// is a disparity; all disparities are collected into one NonHomogenous error
// so the user sees the whole report at once.
func mergeTileMetadata(fields []map[string]string) (map[string]string, error) {

	values := make(map[string]map[string]struct{})
	for _, item := range fields {
		for key, value := range item {
			set, ok := values[key]
			if !ok {
				set = make(map[string]struct{})
				values[key] = set
			}
			set[value] = struct{}{}
		}
	}

	merged := make(map[string]string)
	var disparity *multierror.Error
	for key, set := range values {
		if len(set) == 1 {
			for value := range set {
				merged[key] = value
			}
			continue
		}
		found := make([]string, 0, len(set))
		for value := range set {
			found = append(found, value)
		}
		sort.Strings(found)
		disparity = multierror.Append(disparity, fmt.Errorf("%s: %d different values found: %s", key, len(found), strings.Join(found, ", ")))
	}

	err := disparity.ErrorOrNil()
	if err != nil {
		return nil, kart.NewInvalidOperation("tiles to be imported are not homogenous:\n%s", err).WithHint(
			"all tiles in a dataset must share the same format; import them as separate datasets instead")
	}
	return merged, nil
}
