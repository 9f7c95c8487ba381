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

package sources

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/optakt/kart/models/kart"
)

// DirectoryTileSource imports every tile file in a directory as one tile
// dataset.
type DirectoryTileSource struct {
	dest  string
	paths []string
}

// NewDirectoryTileSource lists the tile files under a directory.
func NewDirectoryTileSource(dest string, dir string) (*DirectoryTileSource, error) {

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, kart.NewNotFound(kart.ExitNoImportSource, "could not read tile directory: %s", err)
	}
	s := DirectoryTileSource{
		dest: dest,
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		s.paths = append(s.paths, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(s.paths)
	if len(s.paths) == 0 {
		return nil, kart.NewNotFound(kart.ExitNoImportSource, "no tiles found in %q", dir)
	}

	return &s, nil
}

func (s *DirectoryTileSource) DestPath() string {
	return s.dest
}

func (s *DirectoryTileSource) Meta() map[string][]byte {
	return map[string][]byte{}
}

func (s *DirectoryTileSource) Paths() ([]string, error) {
	return s.paths, nil
}

func (s *DirectoryTileSource) Close() error {
	return nil
}
