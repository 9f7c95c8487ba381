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

package lfs

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Cache is the local content-addressed store for large objects referenced by
// pointer blobs. Objects are laid out as
// <root>/objects/<hh>/<hh>/<sha256-hex>, where the prefixes are the first
// two bytes of the hash.
type Cache struct {
	log  zerolog.Logger
	root string
}

// NewCache returns a cache rooted at the given directory, conventionally
// <repo>/lfs.
func NewCache(log zerolog.Logger, root string) *Cache {
	c := Cache{
		log:  log.With().Str("component", "lfs").Logger(),
		root: root,
	}
	return &c
}

// Path returns where an object with the given hex digest lives in the cache.
func (c *Cache) Path(sha256Hex string) string {
	return filepath.Join(c.root, "objects", sha256Hex[0:2], sha256Hex[2:4], sha256Hex)
}

// Has reports whether the object is present in the cache.
func (c *Cache) Has(sha256Hex string) bool {
	_, err := os.Stat(c.Path(sha256Hex))
	return err == nil
}

// Open opens an object for reading.
func (c *Cache) Open(sha256Hex string) (*os.File, error) {
	file, err := os.Open(c.Path(sha256Hex))
	if err != nil {
		return nil, fmt.Errorf("could not open cached object %s: %w", sha256Hex, err)
	}
	return file, nil
}

// HashFile computes the SHA-256 digest and size of a file.
func HashFile(path string) (string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("could not open file for hashing: %w", err)
	}
	defer file.Close()
	h := sha256.New()
	size, err := io.Copy(h, file)
	if err != nil {
		return "", 0, fmt.Errorf("could not hash file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}

// Store copies a file into the cache and returns its hex digest and size.
// The copy lands in a uuid-named temporary path and is atomically renamed
// into place, so duplicate writes of the same object are idempotent and a
// crash never leaves a partial object at the final path. The source file is
// left in place; callers that downloaded the source only for the import
// delete it themselves.
func (c *Cache) Store(sourcePath string) (string, int64, error) {

	sha, size, err := HashFile(sourcePath)
	if err != nil {
		return "", 0, err
	}
	if c.Has(sha) {
		return sha, size, nil
	}

	dest := c.Path(sha)
	err = os.MkdirAll(filepath.Dir(dest), 0777)
	if err != nil {
		return "", 0, fmt.Errorf("could not create cache directory: %w", err)
	}

	tmp := filepath.Join(filepath.Dir(dest), uuid.New().String()+".tmp")
	source, err := os.Open(sourcePath)
	if err != nil {
		return "", 0, fmt.Errorf("could not open source file: %w", err)
	}
	defer source.Close()
	target, err := os.Create(tmp)
	if err != nil {
		return "", 0, fmt.Errorf("could not create temporary cache file: %w", err)
	}
	_, err = io.Copy(target, source)
	if err == nil {
		err = target.Close()
	}
	if err != nil {
		target.Close()
		os.Remove(tmp)
		return "", 0, fmt.Errorf("could not copy object into cache: %w", err)
	}
	err = os.Rename(tmp, dest)
	if err != nil {
		os.Remove(tmp)
		return "", 0, fmt.Errorf("could not store object in cache: %w", err)
	}

	c.log.Debug().Str("oid", sha).Int64("size", size).Msg("object stored in cache")
	return sha, size, nil
}

// StoreBytes writes raw contents into the cache and returns the hex digest.
func (c *Cache) StoreBytes(data []byte) (string, error) {

	digest := sha256.Sum256(data)
	sha := hex.EncodeToString(digest[:])
	if c.Has(sha) {
		return sha, nil
	}

	dest := c.Path(sha)
	err := os.MkdirAll(filepath.Dir(dest), 0777)
	if err != nil {
		return "", fmt.Errorf("could not create cache directory: %w", err)
	}
	tmp := filepath.Join(filepath.Dir(dest), uuid.New().String()+".tmp")
	err = os.WriteFile(tmp, data, 0666)
	if err != nil {
		return "", fmt.Errorf("could not write temporary cache file: %w", err)
	}
	err = os.Rename(tmp, dest)
	if err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("could not store object in cache: %w", err)
	}
	return sha, nil
}
