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

package repo_test

import (
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optakt/kart/models/kart"
	"github.com/optakt/kart/service/repo"
)

var testLog = zerolog.New(io.Discard)

func TestRepo_InitAndOpen(t *testing.T) {
	dir := t.TempDir()

	created, err := repo.Init(testLog, dir)
	require.NoError(t, err)
	assert.True(t, created.HasGitDirFile("HEAD"))
	assert.True(t, created.HasGitDirFile("info/attributes"))
	assert.True(t, created.HasGitDirFile("info/exclude"))

	opened, err := repo.Open(testLog, dir)
	require.NoError(t, err)
	version, ok := opened.Config.Get(repo.ConfigRepoVersion)
	require.True(t, ok)
	assert.Equal(t, "3", version)

	t.Run("opening a non-repository fails", func(t *testing.T) {
		_, err := repo.Open(testLog, t.TempDir())
		require.Error(t, err)
		assert.Equal(t, kart.ExitNoRepository, kart.ExitCode(err))
	})
}

func TestRepo_State(t *testing.T) {
	r, err := repo.Init(testLog, t.TempDir())
	require.NoError(t, err)

	state, err := r.State()
	require.NoError(t, err)
	assert.Equal(t, repo.StateNormal, state)

	// Entering the merging state requires both MERGE_HEAD and MERGED_INDEX.
	require.NoError(t, r.WriteGitDirFile(repo.FileMergedIndex, []byte("x")))
	require.NoError(t, r.WriteGitDirFile(repo.FileMergeHead, []byte("0000000000000000000000000000000000000000\n")))

	state, err = r.State()
	require.NoError(t, err)
	assert.Equal(t, repo.StateMerging, state)

	err = r.RequireState(repo.StateNormal, "")
	require.Error(t, err)
	assert.Equal(t, kart.ExitInvalidOperation, kart.ExitCode(err))

	t.Run("merge head without merged index is corrupt", func(t *testing.T) {
		require.NoError(t, r.RemoveGitDirFile(repo.FileMergedIndex))
		_, err := r.State()
		require.Error(t, err)
		assert.Equal(t, kart.ExitInvalidOperation, kart.ExitCode(err))
	})
}

func TestRepo_GitDirFiles(t *testing.T) {
	r, err := repo.Init(testLog, t.TempDir())
	require.NoError(t, err)

	require.NoError(t, r.WriteGitDirFile("MERGE_MSG", []byte("draft")))
	data, err := r.ReadGitDirFile("MERGE_MSG")
	require.NoError(t, err)
	assert.Equal(t, "draft", string(data))

	require.NoError(t, r.RemoveGitDirFile("MERGE_MSG"))
	assert.False(t, r.HasGitDirFile("MERGE_MSG"))

	// Removing an absent file is fine.
	require.NoError(t, r.RemoveGitDirFile("MERGE_MSG"))
}

func TestRepo_MergeStateLock(t *testing.T) {
	r, err := repo.Init(testLog, t.TempDir())
	require.NoError(t, err)

	release, err := r.LockMergeState()
	require.NoError(t, err)
	release()

	// The lock can be taken again after release.
	release, err = r.LockMergeState()
	require.NoError(t, err)
	release()
}

func TestRepo_Signature(t *testing.T) {
	r, err := repo.Init(testLog, t.TempDir())
	require.NoError(t, err)

	_, err = r.Signature()
	require.Error(t, err)
	assert.Equal(t, kart.ExitNoUser, kart.ExitCode(err))

	r.Config.Set(repo.ConfigUserName, "Test User")
	r.Config.Set(repo.ConfigUserEmail, "test@example.com")
	sig, err := r.Signature()
	require.NoError(t, err)
	assert.Equal(t, "Test User", sig.Name)
	assert.Equal(t, "test@example.com", sig.Email)
}

func TestConfig_LegacyKeys(t *testing.T) {
	r, err := repo.Init(testLog, t.TempDir())
	require.NoError(t, err)

	r.Config.Set("sno.workingcopy.path", "legacy.gpkg")
	value, ok := r.Config.Get(repo.ConfigWorkingCopyLocation)
	require.True(t, ok)
	assert.Equal(t, "legacy.gpkg", value)

	r.Config.Set(repo.ConfigWorkingCopyLocation, "modern.gpkg")
	value, ok = r.Config.Get(repo.ConfigWorkingCopyLocation)
	require.True(t, ok)
	assert.Equal(t, "modern.gpkg", value)
}

func TestConfig_DatasetCheckout(t *testing.T) {
	r, err := repo.Init(testLog, t.TempDir())
	require.NoError(t, err)

	assert.True(t, r.Config.DatasetCheckout("points"))
	r.Config.Set("dataset.points.checkout", "false")
	assert.False(t, r.Config.DatasetCheckout("points"))
}
