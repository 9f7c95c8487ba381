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

// Well-known files in the repository's internal directory.
const (
	FileHead     = "HEAD"
	FileIndex    = "index"
	FileOrigHead = "ORIG_HEAD"

	// The head we are merging HEAD with.
	FileMergeHead = "MERGE_HEAD"
	// The draft commit message for when the merge is completed.
	FileMergeMsg = "MERGE_MSG"
	// The shorthand name of the branch that was merged in, if any.
	FileMergeBranch = "MERGE_BRANCH"
	// The serialized conflict triples plus resolved entries.
	FileMergedIndex = "MERGED_INDEX"
	// Cached materialization of the cleanly merged portion of the tree.
	FileMergedTree = "MERGED_TREE"

	// Advisory lock guarding the NORMAL<->MERGING transition.
	FileMergeLock = "merge-state.lock"

	// Auxiliary stores.
	FileAnnotations = "annotations.db"
	FileEnvelopes   = "feature_envelopes.db"
)

// MergeStateFiles are all the files that make up the persisted merge state.
var MergeStateFiles = []string{
	FileMergeHead,
	FileMergeMsg,
	FileMergeBranch,
	FileMergedIndex,
	FileMergedTree,
}

// Predetermined internal file contents ensuring LFS and feature blobs are
// treated correctly by git tooling.
const (
	infoAttributes = "**/.*-dataset.v?/tile/** filter=lfs diff=lfs merge=lfs -text\n" +
		"**/.*-dataset.v?/feature/** -text -diff -merge\n"
	infoExclude = ".kart.*\nannotations.db\nfeature_envelopes.db\n"
)
