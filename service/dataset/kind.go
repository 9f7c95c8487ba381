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
	"strings"

	"github.com/optakt/kart/models/kart"
)

// Inner directory names marking a subtree as a dataset of a given kind and
// version.
const (
	TableDirname      = ".table-dataset.v3"
	PointCloudDirname = ".point-cloud-dataset.v1"
	RasterDirname     = ".raster-dataset.v1"
)

// Kind is the tagged variant a dataset dispatches on: tabular datasets hold
// primary-keyed feature blobs, tile datasets hold pointer blobs.
type Kind int

const (
	KindTabular Kind = iota + 1
	KindPointCloud
	KindRaster
)

// IsTile reports whether datasets of this kind store tile pointer blobs.
func (k Kind) IsTile() bool {
	return k == KindPointCloud || k == KindRaster
}

// Dirname returns the inner directory name for the kind.
func (k Kind) Dirname() string {
	switch k {
	case KindTabular:
		return TableDirname
	case KindPointCloud:
		return PointCloudDirname
	case KindRaster:
		return RasterDirname
	default:
		return ""
	}
}

func (k Kind) String() string {
	switch k {
	case KindTabular:
		return "table"
	case KindPointCloud:
		return "point-cloud"
	case KindRaster:
		return "raster"
	default:
		return "invalid"
	}
}

// KindForDirname maps an inner directory name to its kind. The second return
// distinguishes "not a dataset marker at all" from "a dataset marker of an
// unsupported version".
func KindForDirname(name string) (Kind, bool, error) {
	switch name {
	case TableDirname:
		return KindTabular, true, nil
	case PointCloudDirname:
		return KindPointCloud, true, nil
	case RasterDirname:
		return KindRaster, true, nil
	}
	if strings.HasPrefix(name, ".") && strings.Contains(name, "-dataset.v") {
		return 0, true, kart.NewNotYetImplemented("unsupported dataset version: %s", name)
	}
	return 0, false, nil
}
