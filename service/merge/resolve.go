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
	"encoding/json"
	"os"

	"github.com/optakt/kart/codec/kbor"
	"github.com/optakt/kart/models/kart"
	"github.com/optakt/kart/service/dataset"
	"github.com/optakt/kart/service/gitstore"
	"github.com/optakt/kart/service/lfs"
	"github.com/optakt/kart/service/repo"
)

// Resolution strategies a user can pick for a conflict.
const (
	ResolveAncestor    = "ancestor"
	ResolveOurs        = "ours"
	ResolveTheirs      = "theirs"
	ResolveDelete      = "delete"
	ResolveWorkingCopy = "workingcopy"
	ResolveWithFile    = "with-file"
)

// Resolve records the resolution of one conflict, selected by its label.
// Returns the number of unresolved conflicts remaining.
func (s *Service) Resolve(label string, strategy string, filePath string) (int, error) {

	release, err := s.repo.LockMergeState()
	if err != nil {
		return 0, err
	}
	defer release()

	err = s.repo.RequireState(repo.StateMerging, "start a merge before resolving conflicts")
	if err != nil {
		return 0, err
	}

	merged, err := ReadIndexFromRepo(s.repo)
	if err != nil {
		return 0, err
	}
	decoded, path, err := merged.FindConflict(s.codec, label)
	if err != nil {
		return 0, err
	}
	_, ok := merged.Resolves[path]
	if ok {
		return 0, kart.NewInvalidOperation("conflict at %q is already resolved", label)
	}
	conflict := merged.Conflicts[path]

	var entries []gitstore.IndexEntry
	switch strategy {
	case ResolveAncestor, ResolveOurs, ResolveTheirs:
		var version *gitstore.IndexEntry
		switch strategy {
		case ResolveAncestor:
			version = conflict.Ancestor
		case ResolveOurs:
			version = conflict.Ours
		case ResolveTheirs:
			version = conflict.Theirs
		}
		if version == nil {
			// The chosen version does not exist; resolve by deleting.
			s.log.Info().Str("label", label).Str("version", strategy).Msg("version does not exist - resolving conflict by deleting")
			entries = []gitstore.IndexEntry{}
		} else {
			entries = []gitstore.IndexEntry{*version}
		}

	case ResolveDelete:
		entries = []gitstore.IndexEntry{}

	case ResolveWorkingCopy:
		entries, err = s.workingCopyResolution(decoded, path)
		if err != nil {
			return 0, err
		}

	case ResolveWithFile:
		if filePath == "" {
			return 0, kart.NewInvalidArgument("resolving with a file requires a file path")
		}
		entries, err = s.fileResolution(decoded, path, filePath)
		if err != nil {
			return 0, err
		}

	default:
		return 0, kart.NewInvalidArgument("unknown resolution strategy %q", strategy)
	}

	err = merged.AddResolve(path, entries)
	if err != nil {
		return 0, err
	}
	err = merged.WriteToRepo(s.repo)
	if err != nil {
		return 0, err
	}

	remaining := merged.UnresolvedCount()
	s.log.Info().Str("label", label).Int("remaining", remaining).Msg("conflict resolved")
	return remaining, nil
}

// workingCopyResolution reads the current working-copy contents of the
// conflicted item and encodes them as the resolution.
func (s *Service) workingCopyResolution(decoded *ConflictPath, path string) ([]gitstore.IndexEntry, error) {

	if s.workingCopy == nil || !s.workingCopy.Exists() {
		return nil, kart.NewNotFound(kart.ExitNoWorkingCopy, "no working copy to resolve from")
	}

	switch decoded.Section {
	case kart.SectionFeature:
		feature, err := s.workingCopy.Feature(decoded.DatasetPath, decoded.Key)
		if err != nil {
			return nil, kart.NewNotFound(kart.ExitNotFound,
				"no feature found at %s - to resolve a conflict by deleting the feature, use delete", decoded.Label())
		}
		return s.encodeFeatureResolution(decoded, feature)

	case kart.SectionTile:
		tilePath, err := s.workingCopy.TilePath(decoded.DatasetPath, decoded.Key)
		if err != nil {
			return nil, kart.NewNotFound(kart.ExitNotFound,
				"no tile found at %s - to resolve a conflict by deleting the tile, use delete", decoded.Label())
		}
		return s.tileResolution(decoded, tilePath)

	default:
		return nil, kart.NewNotYetImplemented(
			"only feature or tile conflicts can currently be resolved from the working copy")
	}
}

// fileResolution parses the given file (GeoJSON for features, a tile file
// for tiles) and stores its contents as the resolution.
func (s *Service) fileResolution(decoded *ConflictPath, path string, filePath string) ([]gitstore.IndexEntry, error) {

	switch decoded.Section {
	case kart.SectionFeature:
		data, err := os.ReadFile(filePath)
		if err != nil {
			return nil, kart.NewNotFound(kart.ExitNotFound, "could not read resolution file: %s", err)
		}
		var doc struct {
			Features []struct {
				Properties map[string]interface{} `json:"properties"`
			} `json:"features"`
		}
		err = json.Unmarshal(data, &doc)
		if err != nil {
			return nil, kart.NewInvalidArgument("could not parse GeoJSON resolution: %s", err)
		}
		var entries []gitstore.IndexEntry
		for _, item := range doc.Features {
			resolved, err := s.encodeFeatureResolution(decoded, kart.Feature(item.Properties))
			if err != nil {
				return nil, err
			}
			entries = append(entries, resolved...)
		}
		return entries, nil

	case kart.SectionTile:
		return s.tileResolution(decoded, filePath)

	default:
		return nil, kart.NewNotYetImplemented(
			"only feature or tile conflicts can currently be resolved using a file")
	}
}

// encodeFeatureResolution encodes a feature for the conflicted dataset and
// stores its blob, returning the index entry of the resolution.
func (s *Service) encodeFeatureResolution(decoded *ConflictPath, feature kart.Feature) ([]gitstore.IndexEntry, error) {

	ds, err := s.conflictDataset(decoded)
	if err != nil {
		return nil, err
	}
	schema, err := ds.Schema()
	if err != nil {
		return nil, err
	}
	legend := kbor.LegendForSchema(schema)
	legendID, _, err := s.codec.LegendID(legend)
	if err != nil {
		return nil, err
	}
	data, err := s.codec.EncodeFeature(schema, []byte(legendID), feature)
	if err != nil {
		return nil, err
	}
	oid, err := s.repo.Store.PutBlob(data)
	if err != nil {
		return nil, err
	}
	rel, err := dataset.FeatureRelPath(s.codec, schema.PKValues(feature))
	if err != nil {
		return nil, err
	}
	entry := gitstore.IndexEntry{
		Path: dataset.InnerPath(decoded.DatasetPath, ds.Kind) + "/" + rel,
		OID:  oid,
		Mode: gitstore.ModeBlob,
	}
	return []gitstore.IndexEntry{entry}, nil
}

// tileResolution checks format conformance, lands the tile in the LFS cache
// and stores the pointer blob as the resolution.
func (s *Service) tileResolution(decoded *ConflictPath, tilePath string) ([]gitstore.IndexEntry, error) {

	ds, err := s.conflictDataset(decoded)
	if err != nil {
		return nil, err
	}

	format, err := s.converter.Detect(tilePath)
	if err != nil {
		return nil, err
	}
	datasetFormat := format
	formatJSON, err := ds.MetaItem("format.json")
	if err == nil {
		var parsed struct {
			Format string `json:"format"`
		}
		err = json.Unmarshal(formatJSON, &parsed)
		if err == nil && parsed.Format != "" {
			datasetFormat = parsed.Format
		}
	}
	if !s.converter.Compatible(datasetFormat, format) {
		return nil, kart.NewInvalidOperation(
			"the tile at %s does not match the dataset's format (%s vs %s)", tilePath, format, datasetFormat)
	}

	sha, size, err := s.repo.Cache.Store(tilePath)
	if err != nil {
		return nil, err
	}
	pointer := lfs.Pointer{
		OID:   "sha256:" + sha,
		Size:  size,
		Extra: map[string]string{lfs.KeyFormat: format},
	}
	oid, err := s.repo.Store.PutBlob(pointer.Encode())
	if err != nil {
		return nil, err
	}
	entry := gitstore.IndexEntry{
		Path: dataset.InnerPath(decoded.DatasetPath, ds.Kind) + "/" + dataset.TileRelPath(decoded.Key),
		OID:  oid,
		Mode: gitstore.ModeBlob,
	}
	return []gitstore.IndexEntry{entry}, nil
}

// conflictDataset loads the dataset a conflict belongs to from the first
// version that has it, preferring ours.
func (s *Service) conflictDataset(decoded *ConflictPath) (*dataset.Dataset, error) {

	context, err := ReadContextFromRepo(s.repo)
	if err != nil {
		return nil, err
	}
	for _, commit := range []kart.OID{context.Commits.Ours, context.Commits.Theirs, context.Commits.Ancestor} {
		if commit.IsZero() {
			continue
		}
		view, err := dataset.FromCommit(s.log, s.repo.Store, s.codec, commit)
		if err != nil {
			return nil, err
		}
		ds, err := view.Get(decoded.DatasetPath)
		if err == nil {
			return ds, nil
		}
	}
	return nil, kart.NewNotFound(kart.ExitNoTable, "no version of dataset %s found", decoded.DatasetPath)
}
