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
		flagLog            string
		flagRepo           string
		flagNoFF           bool
		flagFFOnly         bool
		flagDryRun         bool
		flagMessage        string
		flagInto           string
		flagFailOnConflict bool
		flagContinue       bool
		flagAbort          bool
	)

	pflag.StringVarP(&flagLog, "log", "l", "info", "log output level")
	pflag.StringVarP(&flagRepo, "repo", "r", ".", "repository path")
	pflag.BoolVar(&flagNoFF, "no-ff", false, "create a merge commit even when the merge resolves as a fast-forward")
	pflag.BoolVar(&flagFFOnly, "ff-only", false, "refuse anything but a fast-forward or up-to-date merge")
	pflag.BoolVar(&flagDryRun, "dry-run", false, "show what would be done without doing it")
	pflag.StringVarP(&flagMessage, "message", "m", "", "commit message for the merge")
	pflag.StringVar(&flagInto, "into", "HEAD", "merge into the given ref instead of the current branch")
	pflag.BoolVar(&flagFailOnConflict, "fail-on-conflict", false, "exit non-zero on conflicts instead of entering the merging state")
	pflag.BoolVar(&flagContinue, "continue", false, "complete a merge once all conflicts are resolved")
	pflag.BoolVar(&flagAbort, "abort", false, "abandon an ongoing merge and restore the previous state")

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

	r, err := repo.Open(log, flagRepo)
	if err != nil {
		log.Error().Err(err).Msg("could not open repository")
		return kart.ExitCode(err)
	}
	importer := gitstore.NewImporter(log, r.Store)
	service := merge.New(log, r, kbor.NewCodec(), importer)

	switch {
	case flagAbort:
		err := service.Abort()
		if err != nil {
			log.Error().Err(err).Msg("could not abort merge")
			return kart.ExitCode(err)
		}
		log.Info().Msg("merge aborted")

	case flagContinue:
		commit, err := service.Continue(flagMessage)
		if err != nil {
			log.Error().Err(err).Msg("could not complete merge")
			return kart.ExitCode(err)
		}
		log.Info().Str("commit", commit.Hex()).Msg("merge completed")

	default:
		if pflag.NArg() != 1 {
			err := kart.NewInvalidArgument("a commit to merge is required")
			log.Error().Err(err).Msg("invalid arguments")
			return kart.ExitCode(err)
		}
		result, err := service.Merge(merge.Options{
			Theirs:         pflag.Arg(0),
			NoFF:           flagNoFF,
			FFOnly:         flagFFOnly,
			DryRun:         flagDryRun,
			Message:        flagMessage,
			Into:           flagInto,
			FailOnConflict: flagFailOnConflict,
		})
		if err != nil {
			if result != nil && len(result.Conflicts) > 0 {
				for _, label := range result.Conflicts {
					log.Warn().Str("conflict", label).Msg("merge conflict")
				}
			}
			log.Error().Err(err).Msg("merge failed")
			return kart.ExitCode(err)
		}
		switch {
		case result.NoOp:
			log.Info().Msg("already up to date")
		case result.FastForward:
			log.Info().Str("commit", result.Commit.Hex()).Msg("fast-forward")
		case len(result.Conflicts) > 0:
			for _, label := range result.Conflicts {
				log.Warn().Str("conflict", label).Msg("merge conflict")
			}
			log.Info().Int("conflicts", len(result.Conflicts)).Msg("repository is now in merging state - resolve the conflicts, then continue")
		default:
			log.Info().Str("commit", result.Commit.Hex()).Msg("merge committed")
		}
	}

	return success
}
