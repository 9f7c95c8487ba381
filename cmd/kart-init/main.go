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

	"github.com/optakt/kart/models/kart"
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
		flagLog   string
		flagName  string
		flagEmail string
	)

	pflag.StringVarP(&flagLog, "log", "l", "info", "log output level")
	pflag.StringVarP(&flagName, "name", "n", "", "committer name to configure")
	pflag.StringVarP(&flagEmail, "email", "e", "", "committer email to configure")

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

	path := "."
	if pflag.NArg() > 0 {
		path = pflag.Arg(0)
	}

	r, err := repo.Init(log, path)
	if err != nil {
		log.Error().Err(err).Msg("could not initialize repository")
		return kart.ExitCode(err)
	}
	if flagName != "" {
		r.Config.Set(repo.ConfigUserName, flagName)
	}
	if flagEmail != "" {
		r.Config.Set(repo.ConfigUserEmail, flagEmail)
	}
	err = r.Config.Save()
	if err != nil {
		log.Error().Err(err).Msg("could not save repository config")
		return kart.ExitCode(err)
	}

	log.Info().Str("path", r.Path).Msg("repository initialized")
	return success
}
