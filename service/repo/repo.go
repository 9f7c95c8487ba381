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

package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/juju/fslock"
	"github.com/rs/zerolog"

	"github.com/optakt/kart/models/kart"
	"github.com/optakt/kart/service/gitstore"
	"github.com/optakt/kart/service/lfs"
)

// State is the repository's lifecycle state. The merging state and the
// normal state are mutually exclusive.
type State int

const (
	StateNormal State = iota + 1
	StateMerging
)

func (s State) String() string {
	switch s {
	case StateNormal:
		return "normal"
	case StateMerging:
		return "merging"
	default:
		return "invalid"
	}
}

// Repo owns a git object database, an optional working directory, the
// key/value configuration, and the merge-state area inside the internal
// directory.
type Repo struct {
	log zerolog.Logger

	// Path is the repository root; GitDir is its internal directory.
	Path   string
	GitDir string

	Store  *gitstore.Store
	Config *Config
	Cache  *lfs.Cache
}

// Init creates a new repository at the given path.
func Init(log zerolog.Logger, path string) (*Repo, error) {

	gitDir := filepath.Join(path, ".kart")
	err := os.MkdirAll(gitDir, 0777)
	if err != nil {
		return nil, fmt.Errorf("could not create repository directory: %w", err)
	}
	store, err := gitstore.Init(log, gitDir)
	if err != nil {
		return nil, err
	}

	// Predetermined internal files ensure git tooling treats LFS and
	// feature blobs correctly.
	infoDir := filepath.Join(gitDir, "info")
	err = os.MkdirAll(infoDir, 0777)
	if err != nil {
		return nil, fmt.Errorf("could not create info directory: %w", err)
	}
	err = os.WriteFile(filepath.Join(infoDir, "attributes"), []byte(infoAttributes), 0666)
	if err != nil {
		return nil, fmt.Errorf("could not write info/attributes: %w", err)
	}
	err = os.WriteFile(filepath.Join(infoDir, "exclude"), []byte(infoExclude), 0666)
	if err != nil {
		return nil, fmt.Errorf("could not write info/exclude: %w", err)
	}

	config, err := LoadConfig(gitDir)
	if err != nil {
		return nil, err
	}
	config.Set(ConfigRepoVersion, "3")
	err = config.Save()
	if err != nil {
		return nil, err
	}

	return open(log, path, gitDir, store, config)
}

// Open opens an existing repository.
func Open(log zerolog.Logger, path string) (*Repo, error) {
	gitDir := filepath.Join(path, ".kart")
	_, err := os.Stat(gitDir)
	if os.IsNotExist(err) {
		return nil, kart.NewNotFound(kart.ExitNoRepository, "no repository found at %q", path)
	}
	store := gitstore.New(log, gitDir)
	config, err := LoadConfig(gitDir)
	if err != nil {
		return nil, err
	}
	return open(log, path, gitDir, store, config)
}

func open(log zerolog.Logger, path string, gitDir string, store *gitstore.Store, config *Config) (*Repo, error) {
	r := Repo{
		log:    log.With().Str("component", "repo").Logger(),
		Path:   path,
		GitDir: gitDir,
		Store:  store,
		Config: config,
		Cache:  lfs.NewCache(log, filepath.Join(path, "lfs")),
	}
	return &r, nil
}

// State derives the repository state from the merge-state files. The
// presence of MERGE_HEAD without MERGED_INDEX is a corrupt state.
func (r *Repo) State() (State, error) {
	mergeHead := r.HasGitDirFile(FileMergeHead)
	mergedIndex := r.HasGitDirFile(FileMergedIndex)
	if mergeHead && !mergedIndex {
		return 0, kart.NewInvalidOperation(
			"repo is in \"merging\" state, but required file MERGED_INDEX is missing").WithHint(
			"run a merge abort to recover")
	}
	if mergeHead {
		return StateMerging, nil
	}
	return StateNormal, nil
}

// RequireState fails with a state mismatch unless the repository is in the
// given state.
func (r *Repo) RequireState(state State, hint string) error {
	current, err := r.State()
	if err != nil {
		return err
	}
	if current != state {
		return kart.NewInvalidOperation("repo is in %q state, but this operation requires %q state", current, state).WithHint(hint)
	}
	return nil
}

// GitDirFile returns the path of a file inside the internal directory.
func (r *Repo) GitDirFile(name string) string {
	return filepath.Join(r.GitDir, name)
}

// HasGitDirFile reports whether the internal file exists.
func (r *Repo) HasGitDirFile(name string) bool {
	_, err := os.Stat(r.GitDirFile(name))
	return err == nil
}

// ReadGitDirFile reads an internal file.
func (r *Repo) ReadGitDirFile(name string) ([]byte, error) {
	data, err := os.ReadFile(r.GitDirFile(name))
	if err != nil {
		return nil, fmt.Errorf("could not read %s: %w", name, err)
	}
	return data, nil
}

// WriteGitDirFile writes an internal file atomically: the contents land in a
// temporary file first and are renamed into place, so a crash between writes
// never leaves a partial file.
func (r *Repo) WriteGitDirFile(name string, data []byte) error {
	path := r.GitDirFile(name)
	tmp := path + "." + uuid.New().String()
	err := os.WriteFile(tmp, data, 0666)
	if err != nil {
		return fmt.Errorf("could not write %s: %w", name, err)
	}
	err = os.Rename(tmp, path)
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("could not store %s: %w", name, err)
	}
	return nil
}

// RemoveGitDirFile removes an internal file; absence is not an error.
func (r *Repo) RemoveGitDirFile(name string) error {
	err := os.Remove(r.GitDirFile(name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("could not remove %s: %w", name, err)
	}
	return nil
}

// LockMergeState acquires the repository-wide advisory lock that guards the
// transition between the normal and merging states. The returned release
// function must run on every exit path.
func (r *Repo) LockMergeState() (func(), error) {
	lock := fslock.New(r.GitDirFile(FileMergeLock))
	err := lock.LockWithTimeout(10 * time.Second)
	if err != nil {
		return nil, kart.NewInvalidOperation("could not acquire merge-state lock: %s", err)
	}
	release := func() {
		err := lock.Unlock()
		if err != nil {
			r.log.Warn().Err(err).Msg("could not release merge-state lock")
		}
	}
	return release, nil
}

// Signature builds the committer signature from the configured user,
// failing when no user is configured.
func (r *Repo) Signature() (gitstore.Signature, error) {
	name, okName := r.Config.Get(ConfigUserName)
	email, okEmail := r.Config.Get(ConfigUserEmail)
	if !okName || !okEmail {
		return gitstore.Signature{}, kart.NewNotFound(kart.ExitNoUser,
			"no user configured").WithHint("set user.name and user.email in the repository config")
	}
	return gitstore.NewSignature(name, email), nil
}
