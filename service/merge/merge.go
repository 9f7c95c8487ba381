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

package merge

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/optakt/kart/codec/kbor"
	"github.com/optakt/kart/models/kart"
	"github.com/optakt/kart/service/fastimport"
	"github.com/optakt/kart/service/gitstore"
	"github.com/optakt/kart/service/repo"
)

// Options tune one merge.
type Options struct {
	// Theirs is the revision being merged in.
	Theirs string
	// NoFF forces a merge commit even when the merge resolves as a
	// fast-forward; by default the branch pointer is just updated.
	NoFF bool
	// FFOnly refuses to do anything but a fast-forward.
	FFOnly bool
	// DryRun reports what would happen without doing it.
	DryRun bool
	// Message overrides the generated merge commit message.
	Message string
	// Into merges into the given reference instead of HEAD. Implies
	// FailOnConflict, since only HEAD merges can enter the merging state.
	Into string
	// FailOnConflict reports conflicts and leaves the repository state
	// untouched instead of entering the merging state.
	FailOnConflict bool
}

// Result is the structured outcome of a merge operation.
type Result struct {
	Commit      kart.OID
	Branch      string
	Message     string
	NoOp        bool
	FastForward bool
	DryRun      bool
	Conflicts   []string
	State       repo.State
}

// Service is the merge and resolve state machine. It produces three-way
// merged trees; when conflicts remain it persists the repository's merging
// state and accepts per-conflict resolutions until the merge is completed or
// aborted.
type Service struct {
	log         zerolog.Logger
	repo        *repo.Repo
	codec       *kbor.Codec
	importer    kart.Importer
	workingCopy kart.WorkingCopy
	converter   fastimport.Converter
}

// New creates the merge state machine for a repository.
func New(log zerolog.Logger, r *repo.Repo, codec *kbor.Codec, importer kart.Importer, options ...func(*Service)) *Service {

	s := Service{
		log:       log.With().Str("component", "merge").Logger(),
		repo:      r,
		codec:     codec,
		importer:  importer,
		converter: fastimport.NewSniffConverter(log),
	}
	for _, option := range options {
		option(&s)
	}

	return &s
}

// WithWorkingCopy attaches the working copy that resolutions read from and
// that gets reset when the merge state changes.
func WithWorkingCopy(wc kart.WorkingCopy) func(*Service) {
	return func(s *Service) {
		s.workingCopy = wc
	}
}

// WithConverter overrides the tile format detector used by resolutions.
func WithConverter(converter fastimport.Converter) func(*Service) {
	return func(s *Service) {
		s.converter = converter
	}
}

// Merge incorporates the changes of another revision into the current
// branch: a no-op for an already-merged revision, a fast-forward where
// possible, a clean merge commit otherwise - and on conflicts, either a
// reported failure or a transition into the merging state.
func (s *Service) Merge(opts Options) (*Result, error) {

	if opts.FFOnly && opts.NoFF {
		return nil, kart.NewInvalidArgument("conflicting parameters: --no-ff and --ff-only")
	}
	if opts.Message != "" && opts.FFOnly {
		return nil, kart.NewInvalidArgument("conflicting parameters: --message and --ff-only")
	}
	into := opts.Into
	if into == "" {
		into = "HEAD"
	}
	if into != "HEAD" {
		// We cannot put the repository into a merging state for a non-HEAD
		// merge, so there would be no way to resolve conflicts.
		opts.FailOnConflict = true
	}

	err := s.repo.RequireState(repo.StateNormal,
		"a merge is already ongoing - abort it or continue it first")
	if err != nil {
		return nil, err
	}

	store := s.repo.Store
	theirs, err := store.ResolveRevision(opts.Theirs)
	if err != nil {
		return nil, err
	}
	var ours kart.OID
	oursBranch := into
	if into == "HEAD" {
		oursBranch, ours, err = store.Head()
		if err != nil {
			return nil, err
		}
		if ours.IsZero() {
			return nil, kart.NewNotFound(kart.ExitNoBranch, "HEAD points at an unborn branch")
		}
	} else {
		ours, err = store.ResolveRevision(into)
		if err != nil {
			return nil, err
		}
	}

	ancestor, err := store.MergeBase(ours, theirs)
	if err != nil {
		return nil, err
	}
	if ancestor.IsZero() {
		return nil, kart.NewInvalidOperation("commits %s and %s are not related", theirs, ours)
	}

	context := Context{
		Commits:      AncestorOursTheirs{Ancestor: ancestor, Ours: ours, Theirs: theirs},
		OursBranch:   oursBranch,
		TheirsBranch: branchShorthand(store, opts.Theirs),
	}
	message := opts.Message
	if message == "" {
		message = context.Message()
	}

	result := Result{
		Commit:  ours,
		Branch:  shorthand(oursBranch),
		Message: message,
		DryRun:  opts.DryRun,
		State:   repo.StateNormal,
	}

	// We are up to date if we are trying to merge our own ancestor; all
	// no-ops count as fast-forwards.
	if ancestor == theirs {
		result.NoOp = true
		result.FastForward = true
		result.Message = ""
		return &result, nil
	}

	// We are fast-forwardable if we are our own common ancestor.
	canFF := ancestor == ours
	if opts.FFOnly && !canFF {
		return nil, kart.NewInvalidOperation("cannot resolve as a fast-forward merge and --ff-only specified")
	}
	if canFF && !opts.NoFF {
		s.log.Debug().Str("theirs", theirs.Hex()).Msg("fast-forward")
		result.Commit = theirs
		result.FastForward = true
		if !opts.DryRun {
			err = s.advance(oursBranch, theirs)
			if err != nil {
				return nil, err
			}
			s.resetWorkingCopy()
		}
		return &result, nil
	}

	oursTree, err := store.CommitTree(ours)
	if err != nil {
		return nil, err
	}
	theirsTree, err := store.CommitTree(theirs)
	if err != nil {
		return nil, err
	}
	ancestorTree, err := store.CommitTree(ancestor)
	if err != nil {
		return nil, err
	}

	index, err := store.MergeTrees(ancestorTree, oursTree, theirsTree)
	if err != nil {
		return nil, fmt.Errorf("could not merge trees: %w", err)
	}

	if len(index.Conflicts) > 0 {
		merged := FromMergeIndex(index)
		labels, err := merged.ConflictLabels(s.codec)
		if err != nil {
			return nil, err
		}
		result.Conflicts = labels

		if opts.FailOnConflict {
			return &result, kart.NewMergeConflict("merge failed due to conflicts")
		}
		result.State = repo.StateMerging
		if !opts.DryRun {
			err = s.enterMergingState(merged, &context, message)
			if err != nil {
				return nil, err
			}
		}
		return &result, nil
	}

	if opts.DryRun {
		return &result, nil
	}

	commit, err := s.commitMergedTree(index, &context, message)
	if err != nil {
		return nil, err
	}
	result.Commit = commit
	s.resetWorkingCopy()

	return &result, nil
}

// commitMergedTree materializes the cleanly merged index as a tree and
// creates the merge commit with both parents.
func (s *Service) commitMergedTree(index *gitstore.MergeIndex, context *Context, message string) (kart.OID, error) {

	store := s.repo.Store
	tree, err := index.WriteTree(store)
	if err != nil {
		return kart.ZeroOID, fmt.Errorf("could not write merged tree: %w", err)
	}
	s.log.Debug().Str("tree", tree.Hex()).Msg("merged tree written")

	sig, err := s.repo.Signature()
	if err != nil {
		return kart.ZeroOID, err
	}
	commit := gitstore.Commit{
		Tree:      tree,
		Parents:   []kart.OID{context.Commits.Ours, context.Commits.Theirs},
		Author:    sig,
		Committer: sig,
		Message:   message,
	}
	oid, err := store.PutCommit(&commit)
	if err != nil {
		return kart.ZeroOID, err
	}
	err = s.advance(context.OursBranch, oid)
	if err != nil {
		return kart.ZeroOID, err
	}

	s.log.Debug().Str("commit", oid.Hex()).Msg("merge commit created")
	return oid, nil
}

func (s *Service) advance(refName string, oid kart.OID) error {
	if refName == "" || refName == "HEAD" {
		return s.repo.Store.AdvanceHead(oid)
	}
	return s.repo.Store.SetRef(refName, oid)
}

func (s *Service) resetWorkingCopy() {
	if s.workingCopy == nil || !s.workingCopy.Exists() {
		return
	}
	err := s.workingCopy.ResetToHead()
	if err != nil {
		s.log.Warn().Err(err).Msg("could not reset working copy")
	}
}

func branchShorthand(store *gitstore.Store, revspec string) string {
	if store.HasRef("refs/heads/" + revspec) {
		return revspec
	}
	return ""
}
