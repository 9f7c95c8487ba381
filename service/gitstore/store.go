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
	"crypto/sha1"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zlib"
	"github.com/rs/zerolog"

	"github.com/optakt/kart/models/kart"
)

// Object types in the git object database.
const (
	TypeBlob   = "blob"
	TypeTree   = "tree"
	TypeCommit = "commit"
)

// Store is an in-process git object database: content-addressed storage of
// blobs, trees and commits as zlib-deflated loose objects, plus reference
// management. Concurrent reads are safe; writes are idempotent since objects
// land under their content address via an atomic rename.
type Store struct {
	log zerolog.Logger
	dir string
}

// New returns a store on an existing git directory.
func New(log zerolog.Logger, dir string) *Store {
	s := Store{
		log: log.With().Str("component", "gitstore").Logger(),
		dir: dir,
	}
	return &s
}

// Init creates the object database layout inside the given git directory and
// returns a store on it.
func Init(log zerolog.Logger, dir string) (*Store, error) {
	dirs := []string{
		filepath.Join(dir, "objects"),
		filepath.Join(dir, "refs", "heads"),
		filepath.Join(dir, "refs", "tags"),
	}
	for _, sub := range dirs {
		err := os.MkdirAll(sub, 0777)
		if err != nil {
			return nil, fmt.Errorf("could not create object database directory: %w", err)
		}
	}
	head := filepath.Join(dir, "HEAD")
	_, err := os.Stat(head)
	if os.IsNotExist(err) {
		err = os.WriteFile(head, []byte("ref: refs/heads/main\n"), 0666)
		if err != nil {
			return nil, fmt.Errorf("could not write HEAD: %w", err)
		}
	}
	return New(log, dir), nil
}

// Dir returns the git directory the store lives in.
func (s *Store) Dir() string {
	return s.dir
}

// HashObject computes the content address of an object without storing it.
func HashObject(typ string, data []byte) kart.OID {
	h := sha1.New()
	fmt.Fprintf(h, "%s %d", typ, len(data))
	h.Write([]byte{0})
	h.Write(data)
	var oid kart.OID
	copy(oid[:], h.Sum(nil))
	return oid
}

func (s *Store) objectPath(oid kart.OID) string {
	hex := oid.Hex()
	return filepath.Join(s.dir, "objects", hex[:2], hex[2:])
}

func (s *Store) writeObject(typ string, data []byte) (kart.OID, error) {

	oid := HashObject(typ, data)
	path := s.objectPath(oid)
	_, err := os.Stat(path)
	if err == nil {
		// Already stored; content addressing makes this a no-op.
		return oid, nil
	}

	err = os.MkdirAll(filepath.Dir(path), 0777)
	if err != nil {
		return kart.ZeroOID, fmt.Errorf("could not create object directory: %w", err)
	}

	// Write to a temporary path and atomically rename into place, so a
	// concurrent reader never sees a partial object.
	tmp := path + "." + uuid.New().String()
	file, err := os.Create(tmp)
	if err != nil {
		return kart.ZeroOID, fmt.Errorf("could not create object file: %w", err)
	}
	zw := zlib.NewWriter(file)
	_, err = fmt.Fprintf(zw, "%s %d", typ, len(data))
	if err == nil {
		_, err = zw.Write([]byte{0})
	}
	if err == nil {
		_, err = zw.Write(data)
	}
	if err == nil {
		err = zw.Close()
	}
	if err == nil {
		err = file.Close()
	}
	if err != nil {
		file.Close()
		os.Remove(tmp)
		return kart.ZeroOID, fmt.Errorf("could not write object: %w", err)
	}
	err = os.Rename(tmp, path)
	if err != nil {
		os.Remove(tmp)
		return kart.ZeroOID, fmt.Errorf("could not store object: %w", err)
	}

	return oid, nil
}

func (s *Store) readObject(oid kart.OID) (string, []byte, error) {

	file, err := os.Open(s.objectPath(oid))
	if os.IsNotExist(err) {
		return "", nil, kart.NewNotFound(kart.ExitNotFound, "no such object: %s", oid)
	}
	if err != nil {
		return "", nil, fmt.Errorf("could not open object %s: %w", oid, err)
	}
	defer file.Close()

	zr, err := zlib.NewReader(file)
	if err != nil {
		return "", nil, fmt.Errorf("could not decompress object %s: %w", oid, err)
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return "", nil, fmt.Errorf("could not read object %s: %w", oid, err)
	}

	sep := bytes.IndexByte(raw, 0)
	if sep < 0 {
		return "", nil, fmt.Errorf("malformed object %s: missing header", oid)
	}
	header := string(raw[:sep])
	data := raw[sep+1:]

	var typ string
	var size int
	_, err = fmt.Sscanf(header, "%s %d", &typ, &size)
	if err != nil {
		return "", nil, fmt.Errorf("malformed object header %q: %w", header, err)
	}
	if size != len(data) {
		return "", nil, fmt.Errorf("corrupt object %s: size %d does not match %d", oid, size, len(data))
	}

	return typ, data, nil
}

// PutBlob stores a blob and returns its content address.
func (s *Store) PutBlob(data []byte) (kart.OID, error) {
	return s.writeObject(TypeBlob, data)
}

// Blob reads a blob's contents.
func (s *Store) Blob(oid kart.OID) ([]byte, error) {
	typ, data, err := s.readObject(oid)
	if err != nil {
		return nil, err
	}
	if typ != TypeBlob {
		return nil, fmt.Errorf("object %s is a %s, not a blob", oid, typ)
	}
	return data, nil
}

// HasObject reports whether an object is present in the database.
func (s *Store) HasObject(oid kart.OID) bool {
	_, err := os.Stat(s.objectPath(oid))
	return err == nil
}

// EmptyTree stores and returns the empty tree.
func (s *Store) EmptyTree() (kart.OID, error) {
	return s.PutTree(&Tree{})
}

func parseDecimal(text string) (int, error) {
	return strconv.Atoi(text)
}
