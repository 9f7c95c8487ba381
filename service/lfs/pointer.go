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
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// VersionURL is the version header of LFS pointer files.
const VersionURL = "https://git-lfs.github.com/spec/v1"

// Well-known extra pointer keys used by tile datasets.
const (
	KeySourceOID = "sourceOid"
	KeyFormat    = "format"
)

// Pointer is the decoded form of an LFS pointer blob: a small text blob
// standing in for a large object stored in the content-addressed backing
// store, referencing it by SHA-256.
type Pointer struct {
	// OID is the full "sha256:<hex>" reference of the backing object.
	OID  string
	Size int64
	// Extra carries any additional headers, such as tile extents, the tile
	// format, or the sourceOid provenance of converted tiles.
	Extra map[string]string
}

// Encode renders the pointer in its canonical text form: the version line,
// then oid and size, then any additional keys sorted lexicographically. Two
// logically-equal pointers encode to byte-identical blobs.
func (p *Pointer) Encode() []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "version %s\n", VersionURL)
	fmt.Fprintf(&buf, "oid %s\n", p.OID)
	fmt.Fprintf(&buf, "size %d\n", p.Size)
	keys := make([]string, 0, len(p.Extra))
	for key := range p.Extra {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(&buf, "%s %s\n", key, p.Extra[key])
	}
	return buf.Bytes()
}

// ParsePointer decodes an LFS pointer blob.
func ParsePointer(data []byte) (*Pointer, error) {

	p := Pointer{
		Extra: make(map[string]string),
	}
	seenVersion := false
	for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		sp := strings.Index(line, " ")
		if sp < 0 {
			return nil, fmt.Errorf("malformed pointer line: %q", line)
		}
		key := line[:sp]
		value := line[sp+1:]
		switch key {
		case "version":
			seenVersion = true
		case "oid":
			p.OID = value
		case "size":
			size, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("malformed pointer size: %w", err)
			}
			p.Size = size
		default:
			p.Extra[key] = value
		}
	}
	if !seenVersion {
		return nil, fmt.Errorf("malformed pointer: missing version")
	}
	if !strings.HasPrefix(p.OID, "sha256:") {
		return nil, fmt.Errorf("malformed pointer: bad oid %q", p.OID)
	}

	return &p, nil
}

// Sha256Hex returns the bare hex digest of the pointer's backing object.
func (p *Pointer) Sha256Hex() string {
	return strings.TrimPrefix(p.OID, "sha256:")
}
