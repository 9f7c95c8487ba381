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

package fastimport

import (
	"fmt"
	"io"

	"github.com/optakt/kart/models/kart"
	"github.com/optakt/kart/service/gitstore"
)

// The functions below produce the fast-import grammar consumed by the
// importer stream. All writes go through a single producer; the stream is
// not thread-safe.

func WriteHeader(stream io.Writer, ref string, author gitstore.Signature, committer gitstore.Signature, message string, from kart.OID) error {
	header := fmt.Sprintf("commit %s\n", ref)
	header += fmt.Sprintf("author %s\n", author.Render())
	header += fmt.Sprintf("committer %s\n", committer.Render())
	header += fmt.Sprintf("data %d\n%s\n", len(message), message)
	if !from.IsZero() {
		header += fmt.Sprintf("from %s\n", from.Hex())
	}
	_, err := stream.Write([]byte(header))
	if err != nil {
		return fmt.Errorf("could not write import header: %w", err)
	}
	return nil
}

func WriteBlob(stream io.Writer, path string, data []byte) error {
	_, err := fmt.Fprintf(stream, "M 644 inline %s\ndata %d\n", path, len(data))
	if err == nil {
		_, err = stream.Write(data)
	}
	if err == nil {
		_, err = stream.Write([]byte("\n"))
	}
	if err != nil {
		return fmt.Errorf("could not write blob %s: %w", path, err)
	}
	return nil
}

func CopyExistingBlob(stream io.Writer, path string, oid kart.OID) error {
	_, err := fmt.Fprintf(stream, "M 644 %s %s\n", oid.Hex(), path)
	if err != nil {
		return fmt.Errorf("could not copy blob %s: %w", path, err)
	}
	return nil
}

func DeletePath(stream io.Writer, path string) error {
	_, err := fmt.Fprintf(stream, "D %s\n", path)
	if err != nil {
		return fmt.Errorf("could not delete path %s: %w", path, err)
	}
	return nil
}
