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
	"strings"
)

// CheckDatasetPath validates a dataset path: slash-separated, no leading or
// trailing dot or slash, no './' or '/.' runs, no control characters and
// none of :<>"|?*.
func CheckDatasetPath(path string) error {
	if path == "" {
		return NewInvalidArgument("dataset path cannot be empty")
	}
	for _, r := range path {
		if r < 0x20 {
			return NewInvalidArgument("dataset path %q contains control characters", path)
		}
		if strings.ContainsRune(`:<>"|?*`, r) {
			return NewInvalidArgument("dataset path %q contains forbidden character %q", path, r)
		}
	}
	if strings.HasPrefix(path, "/") || strings.HasPrefix(path, ".") ||
		strings.HasSuffix(path, "/") || strings.HasSuffix(path, ".") {
		return NewInvalidArgument("dataset path %q cannot start or end with '/' or '.'", path)
	}
	if strings.Contains(path, "./") || strings.Contains(path, "/.") {
		return NewInvalidArgument("dataset path %q cannot contain './' or '/.'", path)
	}
	if strings.Contains(path, "//") {
		return NewInvalidArgument("dataset path %q cannot contain empty segments", path)
	}
	return nil
}
