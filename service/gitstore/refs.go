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

package gitstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/optakt/kart/models/kart"
)

func (s *Store) refPath(name string) (string, error) {
	if strings.Contains(name, "..") || strings.HasPrefix(name, "/") {
		return "", kart.NewInvalidArgument("invalid reference name: %q", name)
	}
	return filepath.Join(s.dir, filepath.FromSlash(name)), nil
}

// SetRef points a reference at a commit, creating it if needed.
func (s *Store) SetRef(name string, oid kart.OID) error {
	path, err := s.refPath(name)
	if err != nil {
		return err
	}
	err = os.MkdirAll(filepath.Dir(path), 0777)
	if err != nil {
		return fmt.Errorf("could not create reference directory: %w", err)
	}
	tmp := path + "." + uuid.New().String()
	err = os.WriteFile(tmp, []byte(oid.Hex()+"\n"), 0666)
	if err != nil {
		return fmt.Errorf("could not write reference: %w", err)
	}
	err = os.Rename(tmp, path)
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("could not store reference: %w", err)
	}
	return nil
}

// Ref reads the commit a reference points at.
func (s *Store) Ref(name string) (kart.OID, error) {
	path, err := s.refPath(name)
	if err != nil {
		return kart.ZeroOID, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return kart.ZeroOID, kart.NewNotFound(kart.ExitNoBranch, "no such reference: %s", name)
	}
	if err != nil {
		return kart.ZeroOID, fmt.Errorf("could not read reference %s: %w", name, err)
	}
	return kart.ParseOID(strings.TrimSpace(string(data)))
}

// HasRef reports whether a reference exists.
func (s *Store) HasRef(name string) bool {
	path, err := s.refPath(name)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// DeleteRef removes a reference. Removing an absent reference is a no-op.
func (s *Store) DeleteRef(name string) error {
	path, err := s.refPath(name)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("could not delete reference %s: %w", name, err)
	}
	return nil
}

// Head returns the reference name HEAD points at and the commit it resolves
// to. The OID is zero for an unborn branch. An empty reference name means
// HEAD is detached.
func (s *Store) Head() (string, kart.OID, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, "HEAD"))
	if err != nil {
		return "", kart.ZeroOID, fmt.Errorf("could not read HEAD: %w", err)
	}
	contents := strings.TrimSpace(string(data))
	if strings.HasPrefix(contents, "ref: ") {
		name := strings.TrimPrefix(contents, "ref: ")
		oid, err := s.Ref(name)
		if err != nil {
			// Unborn branch.
			return name, kart.ZeroOID, nil
		}
		return name, oid, nil
	}
	oid, err := kart.ParseOID(contents)
	if err != nil {
		return "", kart.ZeroOID, fmt.Errorf("malformed HEAD: %w", err)
	}
	return "", oid, nil
}

// SetHead points HEAD at a branch reference.
func (s *Store) SetHead(name string) error {
	err := os.WriteFile(filepath.Join(s.dir, "HEAD"), []byte("ref: "+name+"\n"), 0666)
	if err != nil {
		return fmt.Errorf("could not write HEAD: %w", err)
	}
	return nil
}

// AdvanceHead moves the branch HEAD points at (or HEAD itself when detached)
// to the given commit.
func (s *Store) AdvanceHead(oid kart.OID) error {
	name, _, err := s.Head()
	if err != nil {
		return err
	}
	if name == "" {
		err = os.WriteFile(filepath.Join(s.dir, "HEAD"), []byte(oid.Hex()+"\n"), 0666)
		if err != nil {
			return fmt.Errorf("could not write detached HEAD: %w", err)
		}
		return nil
	}
	return s.SetRef(name, oid)
}

// ResolveRevision resolves a revision specifier: a full hex OID, "HEAD", a
// full reference name, or a branch/tag shorthand.
func (s *Store) ResolveRevision(rev string) (kart.OID, error) {

	if rev == "HEAD" {
		_, oid, err := s.Head()
		if err != nil {
			return kart.ZeroOID, err
		}
		if oid.IsZero() {
			return kart.ZeroOID, kart.NewNotFound(kart.ExitNoBranch, "HEAD points at an unborn branch")
		}
		return oid, nil
	}

	if len(rev) == 40 {
		oid, err := kart.ParseOID(rev)
		if err == nil && s.HasObject(oid) {
			return oid, nil
		}
	}

	candidates := []string{rev, "refs/heads/" + rev, "refs/tags/" + rev}
	for _, name := range candidates {
		if !strings.HasPrefix(name, "refs/") {
			continue
		}
		oid, err := s.Ref(name)
		if err == nil {
			return oid, nil
		}
	}

	return kart.ZeroOID, kart.NewNotFound(kart.ExitNoBranch, "could not resolve revision: %q", rev)
}

// TempImportRef returns a fresh uniquely-named temporary reference for an
// import.
func TempImportRef() string {
	return "refs/kart-import/" + uuid.New().String()
}
