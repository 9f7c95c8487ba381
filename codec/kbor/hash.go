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

package kbor

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

// Hexhash hashes the given byte sequences and returns a hex digest truncated
// to 160 bits, the same length as git hashes - more is overkill.
func Hexhash(parts ...[]byte) string {
	h := sha256.New()
	for _, part := range parts {
		h.Write(part)
	}
	return hex.EncodeToString(h.Sum(nil))[:40]
}

// B64Encode renders bytes as a URL-safe base64 string, used for the final
// component of feature blob paths.
func B64Encode(data []byte) string {
	return base64.URLEncoding.EncodeToString(data)
}

// B64Decode parses a URL-safe base64 string.
func B64Decode(text string) ([]byte, error) {
	return base64.URLEncoding.DecodeString(text)
}
