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

package repo

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Configuration keys the engine reads.
const (
	ConfigRepoVersion         = "kart.repostructure.version"
	ConfigWorkingCopyLocation = "kart.workingcopy.location"
	ConfigSpatialFilterGeom   = "kart.spatialfilter.geometry"
	ConfigSpatialFilterCRS    = "kart.spatialfilter.crs"
	ConfigSpatialFilterRef    = "kart.spatialfilter.reference"
	ConfigSpatialFilterOID    = "kart.spatialfilter.objectid"
	ConfigUserName            = "user.name"
	ConfigUserEmail           = "user.email"
)

// Legacy keys honoured for repositories branded by the engine's previous
// name.
var legacyKeys = map[string]string{
	ConfigRepoVersion:         "sno.repository.version",
	ConfigWorkingCopyLocation: "sno.workingcopy.path",
}

// Config is the repository's key/value configuration, stored as a flat
// mapping of dotted keys.
type Config struct {
	path   string
	values map[string]string
}

// LoadConfig reads the configuration file inside the given internal
// directory, returning an empty configuration when the file is absent.
func LoadConfig(dir string) (*Config, error) {

	c := Config{
		path:   filepath.Join(dir, "config.yml"),
		values: make(map[string]string),
	}
	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return &c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("could not read config: %w", err)
	}
	err = yaml.Unmarshal(data, &c.values)
	if err != nil {
		return nil, fmt.Errorf("could not parse config: %w", err)
	}
	return &c, nil
}

// Get returns the value for a key, falling back to the key's legacy variant.
func (c *Config) Get(key string) (string, bool) {
	value, ok := c.values[key]
	if ok {
		return value, true
	}
	legacy, ok := legacyKeys[key]
	if ok {
		value, ok := c.values[legacy]
		if ok {
			return value, true
		}
	}
	return "", false
}

// Set stores a value for a key.
func (c *Config) Set(key string, value string) {
	c.values[key] = value
}

// DatasetCheckout reports whether a dataset is checked out. A dataset is
// not checked out when its flag at dataset.<path>.checkout is "false" or "0".
func (c *Config) DatasetCheckout(dsPath string) bool {
	value, ok := c.values["dataset."+dsPath+".checkout"]
	if !ok {
		return true
	}
	return value != "false" && value != "0"
}

// Save writes the configuration atomically.
func (c *Config) Save() error {
	data, err := yaml.Marshal(c.values)
	if err != nil {
		return fmt.Errorf("could not render config: %w", err)
	}
	tmp := c.path + "." + uuid.New().String()
	err = os.WriteFile(tmp, data, 0666)
	if err != nil {
		return fmt.Errorf("could not write config: %w", err)
	}
	err = os.Rename(tmp, c.path)
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("could not store config: %w", err)
	}
	return nil
}
