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
	"encoding/hex"
	"fmt"
)

// OID identifies an object in the git object database. It is a 20-byte SHA-1
// digest, rendered as lowercase hex.
type OID [20]byte

// ZeroOID is the all-zero object ID, used as an absent marker.
var ZeroOID = OID{}

// ParseOID parses a 40-character hex string into an OID.
func ParseOID(text string) (OID, error) {
	var oid OID
	if len(text) != 40 {
		return ZeroOID, fmt.Errorf("invalid object ID length: %d", len(text))
	}
	data, err := hex.DecodeString(text)
	if err != nil {
		return ZeroOID, fmt.Errorf("invalid object ID: %w", err)
	}
	copy(oid[:], data)
	return oid, nil
}

// Hex returns the lowercase hex rendering of the OID.
func (o OID) Hex() string {
	return hex.EncodeToString(o[:])
}

// IsZero returns true for the absent marker.
func (o OID) IsZero() bool {
	return o == ZeroOID
}

func (o OID) String() string {
	return o.Hex()
}
