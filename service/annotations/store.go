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

package annotations

import (
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v2"
	"github.com/rs/zerolog"
)

// Store is the auxiliary annotation database: derived data keyed by object
// ID and annotation type, such as precomputed diff summaries. It is strictly
// best-effort - a repository on read-only media degrades to a memory-only
// store, and write failures are logged and swallowed, never surfaced.
type Store struct {
	log      zerolog.Logger
	db       *badger.DB
	readonly bool
}

// Open opens the annotation store at the given path, falling back to a
// memory-only store when the path cannot be opened for writing.
func Open(log zerolog.Logger, path string) (*Store, error) {

	log = log.With().Str("component", "annotations").Logger()

	options := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(options)
	if err != nil {
		// Can't create a database in a read-only location, but callers
		// still need some store to talk to, so fall back to an in-memory
		// database that looks read-only.
		log.Info().Err(err).Msg("failed to open annotation store; falling back to in-memory storage")
		memory := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
		db, err = badger.Open(memory)
		if err != nil {
			return nil, fmt.Errorf("could not open in-memory annotation store: %w", err)
		}
		s := Store{log: log, db: db, readonly: true}
		return &s, nil
	}

	s := Store{log: log, db: db}
	return &s, nil
}

// Readonly reports whether the store fell back to in-memory storage, in
// which case writes last only as long as the store is open.
func (s *Store) Readonly() bool {
	return s.readonly
}

func key(annotationType string, objectID string) []byte {
	return []byte(annotationType + "/" + objectID)
}

// Get returns the annotation of the given type for the given object, if
// any.
func (s *Store) Get(annotationType string, objectID string) ([]byte, bool, error) {
	var data []byte
	err := s.db.View(func(tx *badger.Txn) error {
		item, err := tx.Get(key(annotationType, objectID))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("could not read annotation: %w", err)
	}
	return data, true, nil
}

// Put stores an annotation. Failures are swallowed with a log line; the
// annotation store never blocks the operation it is annotating.
func (s *Store) Put(annotationType string, objectID string, data []byte) {
	err := s.db.Update(func(tx *badger.Txn) error {
		return tx.Set(key(annotationType, objectID), data)
	})
	if err != nil {
		s.log.Info().Err(err).Str("type", annotationType).Str("object", objectID).Msg("could not store annotation")
	}
}

// Close releases the store.
func (s *Store) Close() error {
	return s.db.Close()
}

// The session registry lets callers re-enter an already-open store for the
// same path without re-opening the database, which badger would refuse.
var (
	sessionsMu sync.Mutex
	sessions   = make(map[string]*session)
)

type session struct {
	store *Store
	count int
}

// Acquire returns the shared store for a path, opening it on first use.
// Every Acquire must be paired with a Release.
func Acquire(log zerolog.Logger, path string) (*Store, error) {
	sessionsMu.Lock()
	defer sessionsMu.Unlock()

	existing, ok := sessions[path]
	if ok {
		existing.count++
		return existing.store, nil
	}
	store, err := Open(log, path)
	if err != nil {
		return nil, err
	}
	sessions[path] = &session{store: store, count: 1}
	return store, nil
}

// Release drops one reference to the shared store for a path, closing it
// when the last reference goes.
func Release(path string) error {
	sessionsMu.Lock()
	defer sessionsMu.Unlock()

	existing, ok := sessions[path]
	if !ok {
		return nil
	}
	existing.count--
	if existing.count > 0 {
		return nil
	}
	delete(sessions, path)
	return existing.store.Close()
}
