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
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/optakt/kart/models/kart"
)

// Signature identifies the author or committer of a commit.
type Signature struct {
	Name  string
	Email string
	When  int64
	// Offset is the timezone offset rendering, eg. "+1300".
	Offset string
}

// NewSignature returns a signature stamped with the current time.
func NewSignature(name string, email string) Signature {
	now := time.Now()
	_, seconds := now.Zone()
	return Signature{
		Name:   name,
		Email:  email,
		When:   now.Unix(),
		Offset: minutesToOffset(seconds / 60),
	}
}

func minutesToOffset(minutes int) string {
	sign := "+"
	if minutes < 0 {
		sign = "-"
		minutes = -minutes
	}
	return fmt.Sprintf("%s%02d%02d", sign, minutes/60, minutes%60)
}

// Render formats the signature as it appears in commit headers and the
// importer grammar.
func (sig Signature) Render() string {
	return fmt.Sprintf("%s <%s> %d %s", sig.Name, sig.Email, sig.When, sig.Offset)
}

// ParseSignature parses a rendered signature.
func ParseSignature(text string) (Signature, error) {
	var sig Signature
	start := strings.Index(text, " <")
	end := strings.Index(text, "> ")
	if start < 0 || end < start {
		return sig, fmt.Errorf("malformed signature: %q", text)
	}
	sig.Name = text[:start]
	sig.Email = text[start+2 : end]
	rest := strings.Fields(text[end+2:])
	if len(rest) != 2 {
		return sig, fmt.Errorf("malformed signature timestamp: %q", text)
	}
	when, err := parseDecimal(rest[0])
	if err != nil {
		return sig, fmt.Errorf("malformed signature timestamp: %w", err)
	}
	sig.When = int64(when)
	sig.Offset = rest[1]
	return sig, nil
}

// Commit is the standard git commit: a tree plus parent links, author and
// committer signatures, and a message. Immutable once written.
type Commit struct {
	Tree      kart.OID
	Parents   []kart.OID
	Author    Signature
	Committer Signature
	Message   string
}

// Encode renders the commit in its canonical byte form.
func (c *Commit) Encode() []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "tree %s\n", c.Tree.Hex())
	for _, parent := range c.Parents {
		fmt.Fprintf(&buf, "parent %s\n", parent.Hex())
	}
	fmt.Fprintf(&buf, "author %s\n", c.Author.Render())
	fmt.Fprintf(&buf, "committer %s\n", c.Committer.Render())
	buf.WriteByte('\n')
	buf.WriteString(c.Message)
	return buf.Bytes()
}

// DecodeCommit parses a commit object's contents.
func DecodeCommit(data []byte) (*Commit, error) {

	var commit Commit
	rest := string(data)
	for {
		idx := strings.Index(rest, "\n")
		if idx < 0 {
			return nil, fmt.Errorf("malformed commit: no message separator")
		}
		line := rest[:idx]
		rest = rest[idx+1:]
		if line == "" {
			break
		}

		sp := strings.Index(line, " ")
		if sp < 0 {
			return nil, fmt.Errorf("malformed commit header: %q", line)
		}
		field := line[:sp]
		value := line[sp+1:]
		switch field {
		case "tree":
			oid, err := kart.ParseOID(value)
			if err != nil {
				return nil, fmt.Errorf("malformed commit tree: %w", err)
			}
			commit.Tree = oid
		case "parent":
			oid, err := kart.ParseOID(value)
			if err != nil {
				return nil, fmt.Errorf("malformed commit parent: %w", err)
			}
			commit.Parents = append(commit.Parents, oid)
		case "author":
			sig, err := ParseSignature(value)
			if err != nil {
				return nil, err
			}
			commit.Author = sig
		case "committer":
			sig, err := ParseSignature(value)
			if err != nil {
				return nil, err
			}
			commit.Committer = sig
		}
	}
	commit.Message = rest

	return &commit, nil
}

// PutCommit stores a commit and returns its content address.
func (s *Store) PutCommit(commit *Commit) (kart.OID, error) {
	return s.writeObject(TypeCommit, commit.Encode())
}

// Commit reads a commit object.
func (s *Store) Commit(oid kart.OID) (*Commit, error) {
	typ, data, err := s.readObject(oid)
	if err != nil {
		return nil, err
	}
	if typ != TypeCommit {
		return nil, fmt.Errorf("object %s is a %s, not a commit", oid, typ)
	}
	return DecodeCommit(data)
}

// CommitTree resolves the tree of the commit at the given OID.
func (s *Store) CommitTree(oid kart.OID) (kart.OID, error) {
	commit, err := s.Commit(oid)
	if err != nil {
		return kart.ZeroOID, err
	}
	return commit.Tree, nil
}
