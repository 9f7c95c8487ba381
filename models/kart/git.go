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

package kart

import (
	"io"
)

// ImportStream accepts the fast-import command grammar:
//
//	commit <ref>
//	author ... committer ... data <len>
//	[from <oid>]
//	(M 644 inline <path>\ndata <len>\n<bytes>\n
//	 | M 644 <existing-oid> <path>
//	 | D <path>)*
//
// Writes are not thread-safe; a single producer owns the stream. Done writes
// the end-of-stream trailer and blocks until the importer has finished.
// Abort terminates the stream early, which the importer treats as a failed
// import.
type ImportStream interface {
	io.Writer
	Done() error
	Abort() error
}

// Importer opens streaming imports against the git object database. The
// protocol is agnostic to whether the implementation spawns a `git
// fast-import` subprocess and pipes into it, or applies the stream
// in-process.
type Importer interface {
	Start(ref string) (ImportStream, error)
}

// WorkingCopy is the engine's view of a materialized working copy. The
// engine only ever consumes it as a sink to reset, or as a source of
// conflict resolutions; materialization itself lives elsewhere.
type WorkingCopy interface {
	Exists() bool
	IsDirty() (bool, error)
	ResetToHead() error

	// Feature reads the current working-copy contents of one feature, or
	// returns a NotFound error.
	Feature(dsPath string, pk string) (Feature, error)

	// TilePath locates the working-copy file for one tile, or returns a
	// NotFound error.
	TilePath(dsPath string, tilename string) (string, error)
}
