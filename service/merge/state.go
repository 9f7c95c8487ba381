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

	"github.com/optakt/kart/models/kart"
	"github.com/optakt/kart/service/fastimport"
	"github.com/optakt/kart/service/gitstore"
	"github.com/optakt/kart/service/repo"
)

// enterMergingState moves the repository into the merging state. The
// advisory lock guards the transition; MERGE_HEAD is written after
// MERGED_INDEX, MERGED_TREE and MERGE_MSG (only the optional MERGE_BRANCH
// follows it), so a crash part-way leaves a state that is either absent or
// detectably corrupt, and an abort recovers both.
func (s *Service) enterMergingState(merged *MergedIndex, context *Context, message string) error {

	release, err := s.repo.LockMergeState()
	if err != nil {
		return err
	}
	defer release()

	err = merged.WriteToRepo(s.repo)
	if err != nil {
		return err
	}

	// The merged tree is cached mostly for updating the working copy, but
	// is also used when serializing feature resolves.
	index := gitstore.MergeIndex{Entries: merged.Entries, Conflicts: merged.Conflicts}
	tree, err := index.WriteTree(s.repo.Store)
	if err != nil {
		return fmt.Errorf("could not write merged tree: %w", err)
	}
	err = s.repo.WriteGitDirFile(repo.FileMergedTree, []byte(tree.Hex()+"\n"))
	if err != nil {
		return err
	}
	err = s.repo.WriteGitDirFile(repo.FileMergeMsg, []byte(message))
	if err != nil {
		return err
	}
	err = context.WriteToRepo(s.repo)
	if err != nil {
		return err
	}

	s.log.Info().Int("conflicts", len(merged.Conflicts)).Msg("entered merging state")
	return nil
}

// Abort abandons an ongoing merge and puts things back how they were before
// the merge began. It tries to be robust against a messed-up repository
// state: the merge files are cleaned up even when the state is corrupt.
func (s *Service) Abort() error {

	release, err := s.repo.LockMergeState()
	if err != nil {
		return err
	}
	defer release()

	wasMerging := s.repo.HasGitDirFile(repo.FileMergeHead)

	// Delete all merge files, whether or not we are in a merge; if we are
	// not, they should be cleaned up anyway.
	for _, name := range repo.MergeStateFiles {
		err := s.repo.RemoveGitDirFile(name)
		if err != nil {
			return err
		}
	}

	if !wasMerging {
		return kart.NewInvalidOperation("repository is not in a merging state").WithHint(
			"nothing to abort")
	}

	// The user may have modified the working copy during the merging state.
	s.resetWorkingCopy()

	s.log.Info().Msg("merge aborted")
	return nil
}

// Continue completes a merge that had conflicts: it commits the result of
// the merge and moves the repository from the merging state back into the
// normal state, with the branch HEAD now at the merge commit. Only works
// once all conflicts have been resolved.
func (s *Service) Continue(message string) (kart.OID, error) {

	release, err := s.repo.LockMergeState()
	if err != nil {
		return kart.ZeroOID, err
	}
	defer release()

	err = s.repo.RequireState(repo.StateMerging, "start a merge before continuing one")
	if err != nil {
		return kart.ZeroOID, err
	}

	merged, err := ReadIndexFromRepo(s.repo)
	if err != nil {
		return kart.ZeroOID, err
	}
	if merged.UnresolvedCount() > 0 {
		return kart.ZeroOID, kart.NewInvalidOperation(
			"merge cannot be completed until all conflicts are resolved - %d conflicts remain",
			merged.UnresolvedCount())
	}

	context, err := ReadContextFromRepo(s.repo)
	if err != nil {
		return kart.ZeroOID, err
	}
	if message == "" {
		if s.repo.HasGitDirFile(repo.FileMergeMsg) {
			data, err := s.repo.ReadGitDirFile(repo.FileMergeMsg)
			if err != nil {
				return kart.ZeroOID, err
			}
			message = string(data)
		} else {
			message = context.Message()
		}
	}

	tree, err := s.writeResolvedTree(merged, context, message)
	if err != nil {
		return kart.ZeroOID, err
	}
	s.log.Debug().Str("tree", tree.Hex()).Msg("resolved tree written")

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
	oid, err := s.repo.Store.PutCommit(&commit)
	if err != nil {
		return kart.ZeroOID, err
	}
	err = s.advance(context.OursBranch, oid)
	if err != nil {
		return kart.ZeroOID, err
	}

	for _, name := range repo.MergeStateFiles {
		err := s.repo.RemoveGitDirFile(name)
		if err != nil {
			return kart.ZeroOID, err
		}
	}

	s.resetWorkingCopy()

	s.log.Info().Str("commit", oid.Hex()).Msg("merge completed")
	return oid, nil
}

// writeResolvedTree streams the fully resolved entries through the importer
// protocol and returns the resulting tree. The temporary reference is
// always cleaned up.
func (s *Service) writeResolvedTree(merged *MergedIndex, context *Context, message string) (kart.OID, error) {

	store := s.repo.Store
	ref := gitstore.TempImportRef()
	defer func() {
		err := store.DeleteRef(ref)
		if err != nil {
			s.log.Warn().Err(err).Str("ref", ref).Msg("could not delete temporary import reference")
		}
	}()

	stream, err := s.importer.Start(ref)
	if err != nil {
		return kart.ZeroOID, err
	}
	sig, err := s.repo.Signature()
	if err != nil {
		_ = stream.Abort()
		return kart.ZeroOID, err
	}
	err = fastimport.WriteHeader(stream, ref, sig, sig, message, kart.ZeroOID)
	if err != nil {
		_ = stream.Abort()
		return kart.ZeroOID, err
	}
	for _, entry := range merged.ResolvedEntries() {
		err = fastimport.CopyExistingBlob(stream, entry.Path, entry.OID)
		if err != nil {
			_ = stream.Abort()
			return kart.ZeroOID, err
		}
	}
	err = stream.Done()
	if err != nil {
		return kart.ZeroOID, kart.NewSubprocessError(err, "import stream failed")
	}

	imported, err := store.Ref(ref)
	if err != nil {
		return kart.ZeroOID, err
	}
	return store.CommitTree(imported)
}
