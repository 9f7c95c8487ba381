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

package merge

import (
	"sort"
	"strings"

	"github.com/optakt/kart/codec/kbor"
	"github.com/optakt/kart/models/kart"
	"github.com/optakt/kart/service/dataset"
)

// ConflictPath is the decoded location of one conflict: the dataset it
// belongs to, the section within the dataset, and the item key. The label is
// the stable human-readable rendering users select conflicts by, such as
// "points:feature:42".
type ConflictPath struct {
	DatasetPath string
	Kind        dataset.Kind
	Section     string
	Key         string
}

// Label renders the conflict path for display and selection.
func (c *ConflictPath) Label() string {
	return c.DatasetPath + ":" + c.Section + ":" + c.Key
}

// DecodeConflictPath classifies a repository path into its dataset, section
// and item key. Paths outside any dataset are grouped under the "<files>"
// dataset and the "file" section, with their raw path as the key.
func DecodeConflictPath(codec *kbor.Codec, path string) (*ConflictPath, error) {

	segments := strings.Split(path, "/")
	for i, segment := range segments {
		kind, isMarker, err := dataset.KindForDirname(segment)
		if err != nil || !isMarker {
			continue
		}
		dsPath := strings.Join(segments[:i], "/")
		rel := strings.Join(segments[i+1:], "/")
		section, key, err := dataset.DecodeRelPath(codec, rel)
		if err != nil {
			return nil, err
		}
		c := ConflictPath{
			DatasetPath: dsPath,
			Kind:        kind,
			Section:     section,
			Key:         key,
		}
		return &c, nil
	}

	c := ConflictPath{
		DatasetPath: "<files>",
		Section:     "file",
		Key:         path,
	}
	return &c, nil
}

// ConflictLabels decodes and sorts the labels of all conflicts in the index.
func (m *MergedIndex) ConflictLabels(codec *kbor.Codec) ([]string, error) {
	labels := make([]string, 0, len(m.Conflicts))
	for path := range m.Conflicts {
		decoded, err := DecodeConflictPath(codec, path)
		if err != nil {
			return nil, err
		}
		labels = append(labels, decoded.Label())
	}
	sort.Strings(labels)
	return labels, nil
}

// FindConflict locates a conflict by its label. The second return is the raw
// repository path the conflict is stored under.
func (m *MergedIndex) FindConflict(codec *kbor.Codec, label string) (*ConflictPath, string, error) {

	// Conflict labels are often displayed with ":ancestor" etc appended, so
	// tolerate a stray trailing colon.
	label = strings.TrimSuffix(label, ":")

	for path := range m.Conflicts {
		decoded, err := DecodeConflictPath(codec, path)
		if err != nil {
			return nil, "", err
		}
		if decoded.Label() == label {
			return decoded, path, nil
		}
	}
	return nil, "", kart.NewNotFound(kart.ExitNotFound, "no conflict found at %q", label)
}
