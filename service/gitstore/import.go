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

	"github.com/rs/zerolog"

	"github.com/optakt/kart/models/kart"
)

// Importer opens streaming imports that apply the fast-import grammar
// in-process. The same grammar could be piped into a `git fast-import`
// subprocess instead; the engine never knows the difference.
type Importer struct {
	log   zerolog.Logger
	store *Store
}

// NewImporter creates an importer on the given store.
func NewImporter(log zerolog.Logger, store *Store) *Importer {
	i := Importer{
		log:   log.With().Str("component", "importer").Logger(),
		store: store,
	}
	return &i
}

// Start opens a streaming import that will, on success, point the given
// reference at the imported commit.
func (i *Importer) Start(ref string) (kart.ImportStream, error) {
	if ref == "" {
		return nil, kart.NewInvalidArgument("import reference cannot be empty")
	}
	s := importStream{
		log:   i.log,
		store: i.store,
		ref:   ref,
	}
	return &s, nil
}

// importStream parses the fast-import grammar incrementally as bytes are
// written, staging tree updates in a builder. The stream is single-producer:
// writes are not thread-safe, matching the subprocess pipe it stands in for.
type importStream struct {
	log   zerolog.Logger
	store *Store

	ref string
	buf bytes.Buffer

	// Payload parsing state: when expectPayload is set, the next bytes are a
	// raw payload of needData bytes followed by a mandatory newline.
	expectPayload bool
	needData      int
	inlinePath    string

	author    Signature
	committer Signature
	message   string
	parents   []kart.OID
	builder   *TreeBuilder

	finished bool
	aborted  bool
	err      error
}

func (s *importStream) Write(data []byte) (int, error) {
	if s.finished || s.aborted {
		return 0, fmt.Errorf("import stream is closed")
	}
	if s.err != nil {
		// The importer died early; the driver sees the broken pipe.
		return 0, s.err
	}
	s.buf.Write(data)
	err := s.process()
	if err != nil {
		s.err = err
		return 0, err
	}
	return len(data), nil
}

// Done writes the end-of-stream trailer, applies any remaining commands and
// waits for the import to finish.
func (s *importStream) Done() error {
	if s.aborted {
		return fmt.Errorf("import stream was aborted")
	}
	if s.err != nil {
		return s.err
	}
	s.buf.WriteString("\ndone\n")
	err := s.process()
	if err != nil {
		s.err = err
		return err
	}
	if !s.finished {
		return fmt.Errorf("import stream ended without a done command")
	}
	return nil
}

// Abort terminates the stream early. Nothing is committed and the reference
// is left untouched, so the import counts as failed.
func (s *importStream) Abort() error {
	s.aborted = true
	return nil
}

func (s *importStream) process() error {
	for {
		if s.expectPayload {
			// The payload plus its trailing newline must be available in full.
			if s.buf.Len() < s.needData+1 {
				return nil
			}
			payload := make([]byte, s.needData)
			_, _ = s.buf.Read(payload)
			nl, _ := s.buf.ReadByte()
			if nl != '\n' {
				return fmt.Errorf("malformed data payload: missing newline terminator")
			}
			s.expectPayload = false
			s.needData = 0
			err := s.consumePayload(payload)
			if err != nil {
				return err
			}
			continue
		}

		line, ok := s.readLine()
		if !ok {
			return nil
		}
		if line == "" {
			continue
		}
		err := s.command(line)
		if err != nil {
			return err
		}
		if s.finished {
			return nil
		}
	}
}

func (s *importStream) readLine() (string, bool) {
	data := s.buf.Bytes()
	idx := bytes.IndexByte(data, '\n')
	if idx < 0 {
		return "", false
	}
	line := string(data[:idx])
	s.buf.Next(idx + 1)
	return line, true
}

func (s *importStream) command(line string) error {
	switch {

	case strings.HasPrefix(line, "commit "):
		s.ref = strings.TrimPrefix(line, "commit ")
		return nil

	case strings.HasPrefix(line, "author "):
		sig, err := ParseSignature(strings.TrimPrefix(line, "author "))
		if err != nil {
			return err
		}
		s.author = sig
		return nil

	case strings.HasPrefix(line, "committer "):
		sig, err := ParseSignature(strings.TrimPrefix(line, "committer "))
		if err != nil {
			return err
		}
		s.committer = sig
		return nil

	case strings.HasPrefix(line, "data "):
		size, err := parseDecimal(strings.TrimPrefix(line, "data "))
		if err != nil || size < 0 {
			return fmt.Errorf("malformed data command: %q", line)
		}
		s.expectPayload = true
		s.needData = size
		return nil

	case strings.HasPrefix(line, "from "):
		oid, err := kart.ParseOID(strings.TrimPrefix(line, "from "))
		if err != nil {
			return fmt.Errorf("malformed from command: %w", err)
		}
		return s.seedFrom(oid)

	case strings.HasPrefix(line, "M 644 inline "):
		s.inlinePath = strings.TrimPrefix(line, "M 644 inline ")
		return nil

	case strings.HasPrefix(line, "M 644 "):
		rest := strings.TrimPrefix(line, "M 644 ")
		sp := strings.Index(rest, " ")
		if sp < 0 {
			return fmt.Errorf("malformed modify command: %q", line)
		}
		oid, err := kart.ParseOID(rest[:sp])
		if err != nil {
			return fmt.Errorf("malformed modify command: %w", err)
		}
		if !s.store.HasObject(oid) {
			return fmt.Errorf("modify command references missing object: %s", oid)
		}
		return s.ensureBuilder().Insert(rest[sp+1:], oid)

	case strings.HasPrefix(line, "D "):
		return s.ensureBuilder().Remove(strings.TrimPrefix(line, "D "))

	case line == "done":
		return s.finalize()

	default:
		return fmt.Errorf("unsupported import command: %q", line)
	}
}

func (s *importStream) consumePayload(payload []byte) error {
	if s.inlinePath != "" {
		oid, err := s.store.PutBlob(payload)
		if err != nil {
			return fmt.Errorf("could not store inline blob: %w", err)
		}
		path := s.inlinePath
		s.inlinePath = ""
		return s.ensureBuilder().Insert(path, oid)
	}
	s.message = string(payload)
	return nil
}

func (s *importStream) seedFrom(oid kart.OID) error {
	commit, err := s.store.Commit(oid)
	if err != nil {
		return fmt.Errorf("could not read from commit: %w", err)
	}
	if s.builder != nil {
		return fmt.Errorf("from command after tree modifications")
	}
	s.builder = NewTreeBuilder(s.store, commit.Tree)
	s.parents = []kart.OID{oid}
	return nil
}

func (s *importStream) ensureBuilder() *TreeBuilder {
	if s.builder == nil {
		s.builder = NewTreeBuilder(s.store, kart.ZeroOID)
	}
	return s.builder
}

func (s *importStream) finalize() error {

	tree, err := s.ensureBuilder().Write()
	if err != nil {
		return fmt.Errorf("could not write imported tree: %w", err)
	}

	commit := Commit{
		Tree:      tree,
		Parents:   s.parents,
		Author:    s.author,
		Committer: s.committer,
		Message:   s.message,
	}
	oid, err := s.store.PutCommit(&commit)
	if err != nil {
		return fmt.Errorf("could not write imported commit: %w", err)
	}

	err = s.store.SetRef(s.ref, oid)
	if err != nil {
		return fmt.Errorf("could not update import reference: %w", err)
	}

	s.log.Debug().Str("ref", s.ref).Str("commit", oid.Hex()).Msg("import finished")
	s.finished = true
	return nil
}
