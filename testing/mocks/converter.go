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

package mocks

import (
	"os"
	"testing"
)

// Converter is a mock tile converter.
type Converter struct {
	DetectFunc                func(path string) (string, error)
	CloudOptimizedFunc        func(format string) bool
	CloudOptimizedVariantFunc func(format string) string
	ConvertFunc               func(source string, dest string) error
	CompatibleFunc            func(datasetFormat string, tileFormat string) bool
}

func (c *Converter) Detect(path string) (string, error) {
	return c.DetectFunc(path)
}

func (c *Converter) CloudOptimized(format string) bool {
	return c.CloudOptimizedFunc(format)
}

func (c *Converter) CloudOptimizedVariant(format string) string {
	return c.CloudOptimizedVariantFunc(format)
}

func (c *Converter) Convert(source string, dest string) error {
	return c.ConvertFunc(source, dest)
}

func (c *Converter) Compatible(datasetFormat string, tileFormat string) bool {
	return c.CompatibleFunc(datasetFormat, tileFormat)
}

// BaselineConverter returns a converter that reports every tile as "laz-1.4"
// and converts by prepending a marker to the file contents, so converted
// objects hash differently from their sources.
func BaselineConverter(t *testing.T) *Converter {
	t.Helper()

	c := Converter{
		DetectFunc: func(path string) (string, error) {
			return "laz-1.4", nil
		},
		CloudOptimizedFunc: func(format string) bool {
			return format == "copc-1.0"
		},
		CloudOptimizedVariantFunc: func(format string) string {
			return "copc-1.0"
		},
		ConvertFunc: func(source string, dest string) error {
			data, err := os.ReadFile(source)
			if err != nil {
				return err
			}
			return os.WriteFile(dest, append([]byte("COPC:"), data...), 0666)
		},
		CompatibleFunc: func(datasetFormat string, tileFormat string) bool {
			return datasetFormat == tileFormat
		},
	}

	return &c
}
