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
	"github.com/optakt/kart/service/gitstore"
	"github.com/optakt/kart/service/merge"
	"github.com/optakt/kart/service/repo"
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
		flagLog  string
		flagRepo string
		flagWith string
		flagFile string
	)

	pflag.StringVarP(&flagLog, "log", "l", "info", "log output level")
	pflag.StringVarP(&flagRepo, "repo", "r", ".", "repository path")
	pflag.StringVarP(&flagWith, "with", "w", "", "resolve with one of: ancestor, ours, theirs, delete, workingcopy")
	pflag.StringVarP(&flagFile, "with-file", "f", "", "resolve with the version(s) in the given file")

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

	if pflag.NArg() != 1 {
		err := kart.NewInvalidArgument("a conflict label is required")
		log.Error().Err(err).Msg("invalid arguments")
		return kart.ExitCode(err)
	}
	if (flagWith == "") == (flagFile == "") {
		err := kart.NewInvalidArgument("choose a resolution using either --with or --with-file")
		log.Error().Err(err).Msg("invalid arguments")
		return kart.ExitCode(err)
	}

	r, err := repo.Open(log, flagRepo)
	if err != nil {
		log.Error().Err(err).Msg("could not open repository")
		return kart.ExitCode(err)
	}
	importer := gitstore.NewImporter(log, r.Store)
	service := merge.New(log, r, kbor.NewCodec(), importer)

	strategy := flagWith
	if flagFile != "" {
		strategy = merge.ResolveWithFile
	}
	remaining, err := service.Resolve(pflag.Arg(0), strategy, flagFile)
	if err != nil {
		log.Error().Err(err).Msg("could not resolve conflict")
		return kart.ExitCode(err)
	}

	log.Info().Int("remaining", remaining).Msg("resolved 1 conflict")
	if remaining == 0 {
		log.Info().Msg("all conflicts resolved - complete the merge to finish")
	}
	return success
}
