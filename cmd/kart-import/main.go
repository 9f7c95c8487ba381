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

package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/optakt/kart/codec/kbor"
	"github.com/optakt/kart/models/kart"
	"github.com/optakt/kart/service/dataset"
	"github.com/optakt/kart/service/fastimport"
	"github.com/optakt/kart/service/gitstore"
	"github.com/optakt/kart/service/repo"
	"github.com/optakt/kart/service/sources"
)

const (
	success = 0
	failure = 1
)

func main() {
	os.Exit(run())
}

func run() int {

	// Command line parameter initialization.
	var (
		flagLog       string
		flagRepo      string
		flagDest      string
		flagSchema    string
		flagData      string
		flagTiles     string
		flagRaster    bool
		flagMessage   string
		flagReplace   bool
		flagLimit     int
		flagWorkers   int
		flagConvert   bool
		flagConverter string
	)

	pflag.StringVarP(&flagLog, "log", "l", "info", "log output level")
	pflag.StringVarP(&flagRepo, "repo", "r", ".", "repository path")
	pflag.StringVarP(&flagDest, "dest", "d", "", "destination dataset path")
	pflag.StringVarP(&flagSchema, "schema", "s", "", "schema file for tabular imports")
	pflag.StringVarP(&flagData, "data", "g", "", "GeoJSON file for tabular imports")
	pflag.StringVarP(&flagTiles, "tiles", "t", "", "directory of tiles for tile imports")
	pflag.BoolVar(&flagRaster, "raster", false, "import tiles as a raster dataset instead of point-cloud")
	pflag.StringVarP(&flagMessage, "message", "m", "", "commit message")
	pflag.BoolVar(&flagReplace, "replace-existing", false, "replace an existing dataset with the same path")
	pflag.IntVar(&flagLimit, "limit", 0, "maximum number of features to import per source")
	pflag.IntVar(&flagWorkers, "num-workers", 0, "number of workers for tile extraction and conversion")
	pflag.BoolVar(&flagConvert, "convert-to-cloud-optimized", false, "convert tiles to their cloud-optimized variant")
	pflag.StringVar(&flagConverter, "converter", "", "external tile conversion program")

	pflag.Parse()

	// Logger initialization.
	zerolog.TimestampFunc = func() time.Time { return time.Now().UTC() }
	log := zerolog.New(os.Stderr).With().Timestamp().Logger().Level(zerolog.DebugLevel)
	level, err := zerolog.ParseLevel(flagLog)
	if err != nil {
		log.Error().Str("level", flagLog).Err(err).Msg("could not parse log level")
		return failure
	}
	log = log.Level(level)

	if flagDest == "" {
		err := kart.NewInvalidArgument("a destination dataset path is required")
		log.Error().Err(err).Msg("invalid arguments")
		return kart.ExitCode(err)
	}

	r, err := repo.Open(log, flagRepo)
	if err != nil {
		log.Error().Err(err).Msg("could not open repository")
		return kart.ExitCode(err)
	}

	// Initialize the import pipeline.
	codec := kbor.NewCodec()
	importer := gitstore.NewImporter(log, r.Store)
	var serviceOptions []func(*fastimport.Service)
	if flagConverter != "" {
		serviceOptions = append(serviceOptions, fastimport.WithConverter(fastimport.NewExecConverter(log, flagConverter)))
	}
	service := fastimport.New(log, r.Store, codec, importer, r.Cache, serviceOptions...)

	sig, err := r.Signature()
	if err != nil {
		log.Error().Err(err).Msg("could not build committer signature")
		return kart.ExitCode(err)
	}
	opts := fastimport.Options{
		Message:                 flagMessage,
		Limit:                   flagLimit,
		NumWorkers:              flagWorkers,
		ConvertToCloudOptimized: flagConvert,
		Author:                  sig,
		Committer:               sig,
	}
	head, err := r.Store.ResolveRevision("HEAD")
	if err == nil {
		opts.FromCommit = head
	}
	if flagReplace {
		opts.ReplaceExisting = fastimport.ReplaceGiven
	}

	var commit kart.OID
	switch {
	case flagTiles != "":
		source, err := sources.NewDirectoryTileSource(flagDest, flagTiles)
		if err != nil {
			log.Error().Err(err).Msg("could not open tile source")
			return kart.ExitCode(err)
		}
		kind := dataset.KindPointCloud
		if flagRaster {
			kind = dataset.KindRaster
		}
		commit, err = service.ImportTiles([]kart.TileSource{source}, kind, opts)
		if err != nil {
			log.Error().Err(err).Msg("tile import failed")
			return kart.ExitCode(err)
		}

	case flagSchema != "" && flagData != "":
		source, err := sources.NewGeoJSONTableSource(flagDest, flagSchema, flagData)
		if err != nil {
			log.Error().Err(err).Msg("could not open table source")
			return kart.ExitCode(err)
		}
		commit, err = service.ImportTables([]kart.TableSource{source}, opts)
		if err != nil {
			log.Error().Err(err).Msg("table import failed")
			return kart.ExitCode(err)
		}

	default:
		err := kart.NewInvalidArgument("either --tiles or both --schema and --data are required")
		log.Error().Err(err).Msg("invalid arguments")
		return kart.ExitCode(err)
	}

	log.Info().Str("commit", commit.Hex()).Msg("import finished")
	return success
}
