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

package dataset

import (
	"fmt"
	"strings"

	"github.com/optakt/kart/codec/kbor"
	"github.com/optakt/kart/models/kart"
)

// Relative locations inside a dataset's inner tree.
const (
	MetaPrefix    = "meta"
	LegendPrefix  = "meta/legend"
	FeaturePrefix = "feature"
	TilePrefix    = "tile"
)

// FeatureRelPath derives the blob path of a feature from its primary key
// tuple. The path is deterministic in the PK only: a hash-prefixed fanout
// directory pair followed by the encoded PK itself, so two imports of the
// same PK land on the same path.
func FeatureRelPath(codec *kbor.Codec, pkValues []interface{}) (string, error) {
	packed, err := codec.PackPK(pkValues)
	if err != nil {
		return "", err
	}
	return FeatureRelPathFromPacked(packed), nil
}

// FeatureRelPathFromPacked derives the blob path from an already-packed PK.
func FeatureRelPathFromPacked(packed []byte) string {
	h := kbor.Hexhash(packed)
	return fmt.Sprintf("%s/%s/%s/%s", FeaturePrefix, h[0:2], h[2:4], kbor.B64Encode(packed))
}

// DecodeFeatureRelPath recovers the primary key values from a feature blob
// path.
func DecodeFeatureRelPath(codec *kbor.Codec, relPath string) ([]interface{}, error) {
	name := relPath[strings.LastIndex(relPath, "/")+1:]
	packed, err := kbor.B64Decode(name)
	if err != nil {
		return nil, fmt.Errorf("could not decode feature path %q: %w", relPath, err)
	}
	return codec.UnpackPK(packed)
}

// TileRelPath derives the pointer blob path of a tile from its name, with a
// hash-prefixed fanout directory.
func TileRelPath(tilename string) string {
	prefix := kbor.Hexhash([]byte(tilename))[0:2]
	return fmt.Sprintf("%s/%s/%s", TilePrefix, prefix, tilename)
}

// DecodeTileRelPath recovers the tile name from a pointer blob path.
func DecodeTileRelPath(relPath string) string {
	return relPath[strings.LastIndex(relPath, "/")+1:]
}

// MetaRelPath returns the blob path of a meta item.
func MetaRelPath(name string) string {
	return MetaPrefix + "/" + name
}

// LegendRelPath returns the blob path of a schema legend.
func LegendRelPath(legendID string) string {
	return LegendPrefix + "/" + legendID
}

// InnerPath returns the repository path of a dataset's inner tree.
func InnerPath(dsPath string, kind Kind) string {
	return dsPath + "/" + kind.Dirname()
}

// DecodeRelPath classifies a path relative to a dataset's inner tree into a
// section and an item key. The key of a feature is its primary key string;
// the key of a tile or meta item is its name.
func DecodeRelPath(codec *kbor.Codec, relPath string) (string, string, error) {
	switch {
	case strings.HasPrefix(relPath, LegendPrefix+"/"):
		return kart.SectionMeta, strings.TrimPrefix(relPath, MetaPrefix+"/"), nil
	case strings.HasPrefix(relPath, MetaPrefix+"/"):
		return kart.SectionMeta, strings.TrimPrefix(relPath, MetaPrefix+"/"), nil
	case strings.HasPrefix(relPath, FeaturePrefix+"/"):
		values, err := DecodeFeatureRelPath(codec, relPath)
		if err != nil {
			return "", "", err
		}
		return kart.SectionFeature, kart.PKString(values), nil
	case strings.HasPrefix(relPath, TilePrefix+"/"):
		return kart.SectionTile, DecodeTileRelPath(relPath), nil
	default:
		return "", "", fmt.Errorf("path %q is not inside any dataset section", relPath)
	}
}
