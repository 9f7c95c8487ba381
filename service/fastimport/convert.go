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
	"bytes"
	"fmt"
	"os"
	"os/exec"

	"github.com/rs/zerolog"

	"github.com/optakt/kart/models/kart"
)

// Tile formats the engine recognizes.
const (
	FormatLAZ     = "laz-1.4"
	FormatCOPC    = "copc-1.0"
	FormatGeoTIFF = "geotiff"
	FormatCOG     = "cog"
	FormatUnknown = "unknown"
)

// Converter detects tile formats and converts tiles to their cloud-optimized
// variants.
type Converter interface {

	// Detect returns the format of the tile file at the given path.
	Detect(path string) (string, error)

	// CloudOptimized reports whether a format is already cloud-optimized.
	CloudOptimized(format string) bool

	// CloudOptimizedVariant returns the format a conversion produces.
	CloudOptimizedVariant(format string) string

	// Convert writes the cloud-optimized variant of the source tile to the
	// destination path.
	Convert(source string, dest string) error

	// Compatible reports whether a tile of the given format can live in a
	// dataset of the given dataset format.
	Compatible(datasetFormat string, tileFormat string) bool
}

// SniffConverter detects formats by file signature. It cannot convert;
// conversion needs an external tool hooked up with NewExecConverter.
type SniffConverter struct {
	log zerolog.Logger
}

// NewSniffConverter creates a detect-only converter.
func NewSniffConverter(log zerolog.Logger) *SniffConverter {
	c := SniffConverter{
		log: log.With().Str("component", "converter").Logger(),
	}
	return &c
}

// Detect sniffs the file signature of the tile.
func (c *SniffConverter) Detect(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("could not open tile: %w", err)
	}
	defer file.Close()
	header := make([]byte, 1024)
	n, err := file.Read(header)
	if err != nil && n == 0 {
		return "", fmt.Errorf("could not read tile header: %w", err)
	}
	header = header[:n]
	return DetectFormat(header), nil
}

// DetectFormat classifies a tile by its leading bytes. LAS/LAZ files start
// with the LASF signature; COPC files additionally carry a "copc" VLR right
// after the header. TIFF files start with a byte-order mark.
func DetectFormat(header []byte) string {
	switch {
	case bytes.HasPrefix(header, []byte("LASF")):
		if bytes.Contains(header, []byte("copc")) {
			return FormatCOPC
		}
		return FormatLAZ
	case bytes.HasPrefix(header, []byte("II*\x00")), bytes.HasPrefix(header, []byte("MM\x00*")):
		return FormatGeoTIFF
	default:
		return FormatUnknown
	}
}

// CloudOptimized reports whether the format needs no conversion.
func (c *SniffConverter) CloudOptimized(format string) bool {
	return format == FormatCOPC || format == FormatCOG
}

// CloudOptimizedVariant maps a format to its cloud-optimized counterpart.
func (c *SniffConverter) CloudOptimizedVariant(format string) string {
	switch format {
	case FormatLAZ, FormatCOPC:
		return FormatCOPC
	case FormatGeoTIFF, FormatCOG:
		return FormatCOG
	default:
		return format
	}
}

// Convert always fails; hook up an exec converter for real conversions.
func (c *SniffConverter) Convert(source string, dest string) error {
	return kart.NewNotYetImplemented("tile conversion requires an external converter")
}

// Compatible allows a tile into a dataset when the formats match up to cloud
// optimization.
func (c *SniffConverter) Compatible(datasetFormat string, tileFormat string) bool {
	if datasetFormat == tileFormat {
		return true
	}
	return c.CloudOptimizedVariant(datasetFormat) == c.CloudOptimizedVariant(tileFormat)
}

// ExecConverter shells out to an external tool for conversions, passing the
// source and destination paths as arguments. Detection and compatibility are
// inherited from the sniffing converter.
type ExecConverter struct {
	*SniffConverter
	program string
	args    []string
}

// NewExecConverter creates a converter around an external program.
func NewExecConverter(log zerolog.Logger, program string, args ...string) *ExecConverter {
	c := ExecConverter{
		SniffConverter: NewSniffConverter(log),
		program:        program,
		args:           args,
	}
	return &c
}

// Convert runs the external tool and surfaces non-zero exits as subprocess
// errors.
func (c *ExecConverter) Convert(source string, dest string) error {
	args := append(append([]string{}, c.args...), source, dest)
	cmd := exec.Command(c.program, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return kart.NewSubprocessError(err, "tile converter failed: %s", string(output))
	}
	return nil
}
