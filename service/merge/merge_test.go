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

package merge_test

import (
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optakt/kart/codec/kbor"
	"github.com/optakt/kart/models/kart"
	"github.com/optakt/kart/service/dataset"
	"github.com/optakt/kart/service/gitstore"
	"github.com/optakt/kart/service/merge"
	"github.com/optakt/kart/service/repo"
	"github.com/optakt/kart/testing/helpers"
	"github.com/optakt/kart/testing/mocks"
)

var testLog = zerolog.New(io.Discard)

type mergeEnv struct {
	repo    *repo.Repo
	codec   *kbor.Codec
	service *merge.Service
	wc      *mocks.WorkingCopy
}

// newMergeEnv initializes a repository whose main branch holds the ours
// lineage and whose other branch holds the theirs lineage, both descending
// from a common ancestor.
func newMergeEnv(t *testing.T, ancestor map[string]string, ours map[string]string, theirs map[string]string) *mergeEnv {
	t.Helper()

	r, err := repo.Init(testLog, t.TempDir())
	require.NoError(t, err)
	r.Config.Set(repo.ConfigUserName, "Test User")
	r.Config.Set(repo.ConfigUserEmail, "test@example.com")
	require.NoError(t, r.Config.Save())

	codec := kbor.NewCodec()
	store := r.Store

	base := helpers.CommitTree(t, store, helpers.BuildTabularTree(t, store, codec, "points", ancestor), 1, "ancestor")
	oursCommit := helpers.CommitTree(t, store, helpers.BuildTabularTree(t, store, codec, "points", ours), 2, "ours", base)
	theirsCommit := helpers.CommitTree(t, store, helpers.BuildTabularTree(t, store, codec, "points", theirs), 3, "theirs", base)

	require.NoError(t, store.SetRef("refs/heads/main", oursCommit))
	require.NoError(t, store.SetRef("refs/heads/other", theirsCommit))
	require.NoError(t, store.SetHead("refs/heads/main"))

	wc := mocks.BaselineWorkingCopy(t)
	importer := gitstore.NewImporter(testLog, store)
	service := merge.New(testLog, r, codec, importer, merge.WithWorkingCopy(wc))

	env := mergeEnv{
		repo:    r,
		codec:   codec,
		service: service,
		wc:      wc,
	}
	return &env
}

func (env *mergeEnv) features(t *testing.T, commit kart.OID) map[string]string {
	t.Helper()
	view, err := dataset.FromCommit(testLog, env.repo.Store, env.codec, commit)
	require.NoError(t, err)
	ds, err := view.Get("points")
	require.NoError(t, err)
	features := make(map[string]string)
	err = ds.Features(kart.MatchAllKeys(), func(key string, oid kart.OID, value *kart.Value) error {
		contents, err := value.Get()
		require.NoError(t, err)
		features[key] = contents.(kart.Feature)["name"].(string)
		return nil
	})
	require.NoError(t, err)
	return features
}

func (env *mergeEnv) state(t *testing.T) repo.State {
	t.Helper()
	state, err := env.repo.State()
	require.NoError(t, err)
	return state
}

func TestService_CleanMerge(t *testing.T) {
	env := newMergeEnv(t,
		map[string]string{"1": "a", "2": "b"},
		map[string]string{"1": "a", "2": "b", "3": "c"},
		map[string]string{"1": "a", "2": "B"},
	)

	result, err := env.service.Merge(merge.Options{Theirs: "other"})
	require.NoError(t, err)
	assert.False(t, result.NoOp)
	assert.False(t, result.FastForward)
	assert.Empty(t, result.Conflicts)
	assert.Equal(t, repo.StateNormal, env.state(t))

	// The merge commit has two parents and combines both changes.
	commit, err := env.repo.Store.Commit(result.Commit)
	require.NoError(t, err)
	require.Len(t, commit.Parents, 2)
	assert.Equal(t, map[string]string{"1": "a", "2": "B", "3": "c"}, env.features(t, result.Commit))

	// HEAD advanced to the merge commit.
	head, err := env.repo.Store.ResolveRevision("HEAD")
	require.NoError(t, err)
	assert.Equal(t, result.Commit, head)
}

func TestService_FastForward(t *testing.T) {
	env := newMergeEnv(t,
		map[string]string{"1": "a"},
		map[string]string{"1": "a"},
		map[string]string{"1": "a", "2": "b"},
	)
	// Make ours the ancestor itself: move main back to the merge base.
	base, err := env.repo.Store.MergeBase(
		mustResolve(t, env.repo.Store, "main"),
		mustResolve(t, env.repo.Store, "other"),
	)
	require.NoError(t, err)
	require.NoError(t, env.repo.Store.SetRef("refs/heads/main", base))

	t.Run("fast-forward updates the branch pointer", func(t *testing.T) {
		result, err := env.service.Merge(merge.Options{Theirs: "other"})
		require.NoError(t, err)
		assert.True(t, result.FastForward)
		head, err := env.repo.Store.ResolveRevision("HEAD")
		require.NoError(t, err)
		assert.Equal(t, mustResolve(t, env.repo.Store, "other"), head)
	})

	t.Run("merging an ancestor is a no-op", func(t *testing.T) {
		// After the fast-forward, merging the other branch again changes
		// nothing.
		result, err := env.service.Merge(merge.Options{Theirs: "other"})
		require.NoError(t, err)
		assert.True(t, result.NoOp)
		assert.True(t, result.FastForward)
	})
}

func TestService_FFOnlyRefusesRealMerge(t *testing.T) {
	env := newMergeEnv(t,
		map[string]string{"1": "a"},
		map[string]string{"1": "a", "2": "b"},
		map[string]string{"1": "a", "3": "c"},
	)

	_, err := env.service.Merge(merge.Options{Theirs: "other", FFOnly: true})
	require.Error(t, err)
	assert.Equal(t, kart.ExitInvalidOperation, kart.ExitCode(err))
}

func TestService_ConflictedMerge(t *testing.T) {
	env := newMergeEnv(t,
		map[string]string{"1": "a"},
		map[string]string{"1": "X"},
		map[string]string{"1": "Y"},
	)

	result, err := env.service.Merge(merge.Options{Theirs: "other"})
	require.NoError(t, err)
	require.Equal(t, []string{"points:feature:1"}, result.Conflicts)
	assert.Equal(t, repo.StateMerging, env.state(t))

	t.Run("merging again while merging is rejected", func(t *testing.T) {
		_, err := env.service.Merge(merge.Options{Theirs: "other"})
		require.Error(t, err)
		assert.Equal(t, kart.ExitInvalidOperation, kart.ExitCode(err))
	})

	t.Run("continue is rejected while conflicts remain", func(t *testing.T) {
		_, err := env.service.Continue("")
		require.Error(t, err)
		assert.Equal(t, kart.ExitInvalidOperation, kart.ExitCode(err))
	})

	t.Run("resolve with theirs and continue", func(t *testing.T) {
		remaining, err := env.service.Resolve("points:feature:1", merge.ResolveTheirs, "")
		require.NoError(t, err)
		assert.Equal(t, 0, remaining)

		commit, err := env.service.Continue("")
		require.NoError(t, err)

		// The merge commit has parents (ours, theirs) and theirs' contents.
		decoded, err := env.repo.Store.Commit(commit)
		require.NoError(t, err)
		require.Len(t, decoded.Parents, 2)
		assert.Equal(t, map[string]string{"1": "Y"}, env.features(t, commit))

		assert.Equal(t, repo.StateNormal, env.state(t))
		for _, name := range repo.MergeStateFiles {
			assert.False(t, env.repo.HasGitDirFile(name), "%s should be gone", name)
		}
	})
}

func TestService_ResolveStrategies(t *testing.T) {
	t.Run("resolving twice is rejected", func(t *testing.T) {
		env := newMergeEnv(t,
			map[string]string{"1": "a"},
			map[string]string{"1": "X"},
			map[string]string{"1": "Y"},
		)
		_, err := env.service.Merge(merge.Options{Theirs: "other"})
		require.NoError(t, err)

		_, err = env.service.Resolve("points:feature:1", merge.ResolveOurs, "")
		require.NoError(t, err)
		_, err = env.service.Resolve("points:feature:1", merge.ResolveTheirs, "")
		require.Error(t, err)
		assert.Equal(t, kart.ExitInvalidOperation, kart.ExitCode(err))
	})

	t.Run("resolving an unknown label is not found", func(t *testing.T) {
		env := newMergeEnv(t,
			map[string]string{"1": "a"},
			map[string]string{"1": "X"},
			map[string]string{"1": "Y"},
		)
		_, err := env.service.Merge(merge.Options{Theirs: "other"})
		require.NoError(t, err)

		_, err = env.service.Resolve("points:feature:42", merge.ResolveOurs, "")
		require.Error(t, err)
		assert.Equal(t, kart.ExitNotFound, kart.ExitCode(err))
	})

	t.Run("delete resolution removes the feature", func(t *testing.T) {
		env := newMergeEnv(t,
			map[string]string{"1": "a", "2": "keep"},
			map[string]string{"1": "X", "2": "keep"},
			map[string]string{"1": "Y", "2": "keep"},
		)
		_, err := env.service.Merge(merge.Options{Theirs: "other"})
		require.NoError(t, err)

		_, err = env.service.Resolve("points:feature:1", merge.ResolveDelete, "")
		require.NoError(t, err)
		commit, err := env.service.Continue("")
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"2": "keep"}, env.features(t, commit))
	})

	t.Run("working copy resolution encodes the feature", func(t *testing.T) {
		env := newMergeEnv(t,
			map[string]string{"1": "a"},
			map[string]string{"1": "X"},
			map[string]string{"1": "Y"},
		)
		_, err := env.service.Merge(merge.Options{Theirs: "other"})
		require.NoError(t, err)

		env.wc.FeatureFunc = func(dsPath string, pk string) (kart.Feature, error) {
			return kart.Feature{"fid": pk, "name": "wc-version"}, nil
		}
		_, err = env.service.Resolve("points:feature:1", merge.ResolveWorkingCopy, "")
		require.NoError(t, err)
		commit, err := env.service.Continue("")
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"1": "wc-version"}, env.features(t, commit))
	})
}

func TestService_FailOnConflict(t *testing.T) {
	env := newMergeEnv(t,
		map[string]string{"1": "a"},
		map[string]string{"1": "X"},
		map[string]string{"1": "Y"},
	)

	result, err := env.service.Merge(merge.Options{Theirs: "other", FailOnConflict: true})
	require.Error(t, err)
	assert.Equal(t, kart.ExitMergeConflict, kart.ExitCode(err))
	require.NotNil(t, result)
	assert.NotEmpty(t, result.Conflicts)

	// No state change happened.
	assert.Equal(t, repo.StateNormal, env.state(t))
}

func TestService_Abort(t *testing.T) {
	env := newMergeEnv(t,
		map[string]string{"1": "a"},
		map[string]string{"1": "X"},
		map[string]string{"1": "Y"},
	)

	_, err := env.service.Merge(merge.Options{Theirs: "other"})
	require.NoError(t, err)
	require.Equal(t, repo.StateMerging, env.state(t))

	resetCalls := 0
	env.wc.ResetToHeadFunc = func() error {
		resetCalls++
		return nil
	}

	require.NoError(t, env.service.Abort())

	// No merge-state files remain, the state is normal again, and the
	// working copy was reset to HEAD.
	for _, name := range repo.MergeStateFiles {
		assert.False(t, env.repo.HasGitDirFile(name), "%s should be gone", name)
	}
	assert.Equal(t, repo.StateNormal, env.state(t))
	assert.Equal(t, 1, resetCalls)

	t.Run("aborting again is rejected", func(t *testing.T) {
		err := env.service.Abort()
		require.Error(t, err)
		assert.Equal(t, kart.ExitInvalidOperation, kart.ExitCode(err))
	})
}

func TestService_CorruptStateDetection(t *testing.T) {
	env := newMergeEnv(t,
		map[string]string{"1": "a"},
		map[string]string{"1": "X"},
		map[string]string{"1": "Y"},
	)

	_, err := env.service.Merge(merge.Options{Theirs: "other"})
	require.NoError(t, err)

	// Simulate a crash that lost MERGED_INDEX.
	require.NoError(t, env.repo.RemoveGitDirFile(repo.FileMergedIndex))

	_, err = env.repo.State()
	require.Error(t, err)
	assert.Equal(t, kart.ExitInvalidOperation, kart.ExitCode(err))

	// Abort recovers the repository.
	require.NoError(t, env.service.Abort())
	assert.Equal(t, repo.StateNormal, env.state(t))
}

func TestService_UnrelatedHistories(t *testing.T) {
	env := newMergeEnv(t,
		map[string]string{"1": "a"},
		map[string]string{"1": "X"},
		map[string]string{"1": "Y"},
	)

	// An unrelated root commit.
	stray := helpers.CommitTree(t, env.repo.Store,
		helpers.BuildTabularTree(t, env.repo.Store, env.codec, "other-data", map[string]string{"9": "z"}), 9, "stray")
	require.NoError(t, env.repo.Store.SetRef("refs/heads/stray", stray))

	_, err := env.service.Merge(merge.Options{Theirs: "stray"})
	require.Error(t, err)
	assert.Equal(t, kart.ExitInvalidOperation, kart.ExitCode(err))
}

func mustResolve(t *testing.T, store *gitstore.Store, rev string) kart.OID {
	t.Helper()
	oid, err := store.ResolveRevision(rev)
	require.NoError(t, err)
	return oid
}
