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
	"strings"

	"github.com/optakt/kart/models/kart"
	"github.com/optakt/kart/service/repo"
)

// AncestorOursTheirs groups one value for each of the three versions that
// take part in a three-way merge.
type AncestorOursTheirs struct {
	Ancestor kart.OID
	Ours     kart.OID
	Theirs   kart.OID
}

// Context describes the merge in progress: the three commits being
// reconciled and the names they were referred to by.
type Context struct {
	Commits      AncestorOursTheirs
	OursBranch   string
	TheirsBranch string
}

// Message is the default commit message for the merge.
func (c *Context) Message() string {
	theirs := c.TheirsBranch
	if theirs == "" {
		theirs = c.Commits.Theirs.Hex()[:8]
	}
	if c.OursBranch != "" {
		return fmt.Sprintf("Merge branch %q into %s", theirs, shorthand(c.OursBranch))
	}
	return fmt.Sprintf("Merge %q", theirs)
}

// WriteToRepo persists the parts of the context that cannot be derived:
// MERGE_HEAD carries the theirs commit, MERGE_BRANCH the name that was
// merged in.
func (c *Context) WriteToRepo(r *repo.Repo) error {
	err := r.WriteGitDirFile(repo.FileMergeHead, []byte(c.Commits.Theirs.Hex()+"\n"))
	if err != nil {
		return err
	}
	if c.TheirsBranch != "" {
		err = r.WriteGitDirFile(repo.FileMergeBranch, []byte(c.TheirsBranch+"\n"))
		if err != nil {
			return err
		}
	}
	return nil
}

// ReadContextFromRepo rebuilds the merge context of an in-progress merge:
// ours is HEAD, theirs comes from MERGE_HEAD, and the ancestor is recomputed
// as their merge base.
func ReadContextFromRepo(r *repo.Repo) (*Context, error) {

	data, err := r.ReadGitDirFile(repo.FileMergeHead)
	if err != nil {
		return nil, fmt.Errorf("could not read MERGE_HEAD: %w", err)
	}
	theirs, err := kart.ParseOID(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("malformed MERGE_HEAD: %w", err)
	}

	oursBranch, ours, err := r.Store.Head()
	if err != nil {
		return nil, err
	}
	ancestor, err := r.Store.MergeBase(ours, theirs)
	if err != nil {
		return nil, err
	}

	c := Context{
		Commits:    AncestorOursTheirs{Ancestor: ancestor, Ours: ours, Theirs: theirs},
		OursBranch: oursBranch,
	}
	if r.HasGitDirFile(repo.FileMergeBranch) {
		data, err := r.ReadGitDirFile(repo.FileMergeBranch)
		if err != nil {
			return nil, err
		}
		c.TheirsBranch = strings.TrimSpace(string(data))
	}
	return &c, nil
}

func shorthand(ref string) string {
	return strings.TrimPrefix(ref, "refs/heads/")
}
