// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"
)

// Config is the sortstat.yaml driver configuration: store backend
// selection, global knobs (cache budget, sample capacity, tiebreak
// seed) and the declared indexes. Every field carries a json tag and the file itself
// is decoded with sigs.k8s.io/yaml, which converts YAML to JSON
// before unmarshaling.
type Config struct {
	// StoreDir selects the diskstore backing directory. Empty means
	// use an in-memory store (memstore) instead, which never spills.
	StoreDir string `json:"storeDir,omitempty"`
	// CacheBudget overrides diskstore's per-segment in-memory budget,
	// in bytes. Zero means diskstore.DefaultCacheBudget.
	CacheBudget int64 `json:"cacheBudget,omitempty"`
	// SpillAtBytes overrides memstore's simulated spill threshold, in
	// bytes. Only meaningful when StoreDir is empty. Zero disables
	// memstore's spill simulation (working-set learning never kicks
	// in, matching a dataset small enough to sort purely in memory).
	SpillAtBytes int64 `json:"spillAtBytes,omitempty"`

	// SampleCapacity overrides stat.DefaultSampleCapacity.
	SampleCapacity int `json:"sampleCapacity,omitempty"`
	// Seed feeds the stat4 reservoir's tiebreak LCG.
	Seed uint32 `json:"seed,omitempty"`

	// Indexes describes the indexes this driver knows how to build
	// and analyze.
	Indexes []IndexConfig `json:"indexes,omitempty"`
}

// IndexConfig describes one index: its table/index name pair (used
// to tag stat1/stat4 output) and its column count.
type IndexConfig struct {
	Table     string `json:"table"`
	Index     string `json:"index"`
	Columns   int    `json:"columns"`
	Unordered bool   `json:"unordered,omitempty"`
}

func loadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	cfg := new(Config)
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) indexFor(table, index string) (*IndexConfig, error) {
	for i := range c.Indexes {
		if c.Indexes[i].Table == table && c.Indexes[i].Index == index {
			return &c.Indexes[i], nil
		}
	}
	return nil, fmt.Errorf("no index %q.%q declared in config", table, index)
}
