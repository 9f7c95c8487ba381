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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var featuresImported = promauto.NewCounter(prometheus.CounterOpts{
	Name: "kart_import_features",
	Help: "number of feature blobs streamed into the object store",
})

var tilesImported = promauto.NewCounter(prometheus.CounterOpts{
	Name: "kart_import_tiles",
	Help: "number of tile pointer blobs streamed into the object store",
})

var tilesConverted = promauto.NewCounter(prometheus.CounterOpts{
	Name: "kart_import_tile_conversions",
	Help: "number of tiles converted to a cloud-optimized format",
})

var bytesStreamed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "kart_import_bytes",
	Help: "number of content bytes streamed through the importer protocol",
})
