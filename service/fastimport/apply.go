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

	"github.com/optakt/kart/codec/kbor"
	"github.com/optakt/kart/models/kart"
	"github.com/optakt/kart/service/dataset"
	"github.com/optakt/kart/service/lfs"
)

// ApplyDiff streams a structured diff onto the from-commit and commits the
// result. Applying the diff between two commits onto the first reproduces
// the second's tree exactly, since feature encoding is deterministic.
func (s *Service) ApplyDiff(repoDiff kart.RepoDiff, opts Options) (kart.OID, error) {

	return s.run(opts, "diff", func(stream kart.ImportStream, fromTree kart.OID) error {

		view, err := dataset.FromTree(s.log, s.store, s.codec, fromTree)
		if err != nil {
			return err
		}

		for _, path := range repoDiff.SortedPaths() {
			dsDiff := repoDiff[path]
			err := s.applyDatasetDiff(stream, view, path, dsDiff)
			if err != nil {
				return fmt.Errorf("could not apply diff to dataset %s: %w", path, err)
			}
		}
		return nil
	})
}

func (s *Service) applyDatasetDiff(stream kart.ImportStream, view *dataset.Datasets, path string, dsDiff kart.DatasetDiff) error {

	kind := dataset.KindTabular
	if _, ok := dsDiff[kart.SectionTile]; ok {
		kind = dataset.KindPointCloud
	}

	var schema kart.Schema
	existing, err := view.Get(path)
	if err == nil {
		kind = existing.Kind
		if kind == dataset.KindTabular {
			schema, err = existing.Schema()
			if err != nil {
				return err
			}
		}
	} else if kart.ExitCode(err) != kart.ExitNoTable {
		return err
	}

	inner := dataset.InnerPath(path, kind)

	// Meta deltas first, since they may carry the schema the feature deltas
	// need for encoding.
	metaDiff := dsDiff[kart.SectionMeta]
	for _, name := range metaDiff.SortedKeys() {
		delta := metaDiff[name]
		if delta.New == nil {
			err := DeletePath(stream, inner+"/"+dataset.MetaRelPath(name))
			if err != nil {
				return err
			}
			continue
		}
		contents, err := delta.New.Value.Get()
		if err != nil {
			return err
		}
		text, ok := contents.(string)
		if !ok {
			return fmt.Errorf("meta item %q has non-text contents", name)
		}
		canonical, err := kbor.CanonicalizeMeta(name, []byte(text))
		if err != nil {
			return err
		}
		if name == "schema.json" {
			schema, err = kart.SchemaFromJSON(canonical)
			if err != nil {
				return err
			}
		}
		err = WriteBlob(stream, inner+"/"+dataset.MetaRelPath(name), canonical)
		if err != nil {
			return err
		}
	}

	featureDiff := dsDiff[kart.SectionFeature]
	if len(featureDiff) > 0 {
		if schema == nil {
			return kart.NewInvalidOperation("cannot apply feature changes to %s: no schema available", path)
		}
		legend := kbor.LegendForSchema(schema)
		legendID, legendData, err := s.codec.LegendID(legend)
		if err != nil {
			return err
		}
		err = WriteBlob(stream, inner+"/"+dataset.LegendRelPath(legendID), legendData)
		if err != nil {
			return err
		}

		for _, key := range featureDiff.SortedKeys() {
			delta := featureDiff[key]

			if delta.Old != nil {
				rel, err := dataset.FeatureRelPath(s.codec, pkValuesForID(schema, delta.Old.Key))
				if err != nil {
					return err
				}
				err = DeletePath(stream, inner+"/"+rel)
				if err != nil {
					return err
				}
			}
			if delta.New == nil {
				continue
			}

			contents, err := delta.New.Value.Get()
			if err != nil {
				return err
			}
			feature, ok := contents.(kart.Feature)
			if !ok {
				return fmt.Errorf("feature %q has invalid contents", key)
			}
			data, err := s.codec.EncodeFeature(schema, []byte(legendID), feature)
			if err != nil {
				return err
			}
			rel, err := dataset.FeatureRelPath(s.codec, schema.PKValues(feature))
			if err != nil {
				return err
			}
			err = WriteBlob(stream, inner+"/"+rel, data)
			if err != nil {
				return err
			}
			featuresImported.Inc()
		}
	}

	tileDiff := dsDiff[kart.SectionTile]
	for _, name := range tileDiff.SortedKeys() {
		delta := tileDiff[name]
		if delta.Old != nil {
			err := DeletePath(stream, inner+"/"+dataset.TileRelPath(delta.Old.Key))
			if err != nil {
				return err
			}
		}
		if delta.New == nil {
			continue
		}
		contents, err := delta.New.Value.Get()
		if err != nil {
			return err
		}
		pointer, ok := contents.(*lfs.Pointer)
		if !ok {
			return fmt.Errorf("tile %q has invalid contents", name)
		}
		err = WriteBlob(stream, inner+"/"+dataset.TileRelPath(delta.New.Key), pointer.Encode())
		if err != nil {
			return err
		}
		tilesImported.Inc()
	}

	return nil
}
