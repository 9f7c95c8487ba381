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
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/optakt/kart/codec/kbor"
	"github.com/optakt/kart/models/kart"
	"github.com/optakt/kart/service/annotations"
	"github.com/optakt/kart/service/diff"
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
		flagLog     string
		flagRepo    string
		flagBase    string
		flagTarget  string
		flagFilters []string
	)

	pflag.StringVarP(&flagLog, "log", "l", "info", "log output level")
	pflag.StringVarP(&flagRepo, "repo", "r", ".", "repository path")
	pflag.StringVarP(&flagBase, "base", "b", "HEAD", "base revision")
	pflag.StringVarP(&flagTarget, "target", "t", "", "target revision")
	pflag.StringSliceVarP(&flagFilters, "filter", "f", nil, "filter patterns such as 'dataset' or 'dataset:123'")

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

	if flagTarget == "" {
		err := kart.NewInvalidArgument("a target revision is required")
		log.Error().Err(err).Msg("invalid arguments")
		return kart.ExitCode(err)
	}

	r, err := repo.Open(log, flagRepo)
	if err != nil {
		log.Error().Err(err).Msg("could not open repository")
		return kart.ExitCode(err)
	}
	base, err := r.Store.ResolveRevision(flagBase)
	if err != nil {
		log.Error().Err(err).Msg("could not resolve base revision")
		return kart.ExitCode(err)
	}
	target, err := r.Store.ResolveRevision(flagTarget)
	if err != nil {
		log.Error().Err(err).Msg("could not resolve target revision")
		return kart.ExitCode(err)
	}
	filter, err := kart.ParseFilterPatterns(flagFilters...)
	if err != nil {
		log.Error().Err(err).Msg("could not parse filters")
		return kart.ExitCode(err)
	}

	// The annotation store memoizes diff summaries; it is best-effort and
	// falls back to memory on read-only repositories.
	annotationsPath := filepath.Join(r.GitDir, repo.FileAnnotations)
	store, err := annotations.Acquire(log, annotationsPath)
	if err != nil {
		log.Error().Err(err).Msg("could not open annotation store")
		return kart.ExitCode(err)
	}
	defer func() {
		err := annotations.Release(annotationsPath)
		if err != nil {
			log.Warn().Err(err).Msg("could not close annotation store")
		}
	}()

	differ := diff.New(log, r.Store, kbor.NewCodec(), diff.WithAnnotations(store))
	repoDiff, err := differ.CommitDiff(base, target, filter)
	if err != nil {
		log.Error().Err(err).Msg("could not compute diff")
		return kart.ExitCode(err)
	}

	// Render the diff as JSON: per dataset, per section, keys with their
	// delta types.
	output := make(map[string]map[string]map[string]string)
	for _, path := range repoDiff.SortedPaths() {
		output[path] = make(map[string]map[string]string)
		for section, deltas := range repoDiff[path] {
			output[path][section] = make(map[string]string)
			for _, key := range deltas.SortedKeys() {
				output[path][section][key] = deltas[key].Type().String()
			}
		}
	}
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	err = encoder.Encode(output)
	if err != nil {
		log.Error().Err(err).Msg("could not render diff")
		return kart.ExitCode(err)
	}

	return success
}
