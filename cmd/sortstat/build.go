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
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/sneller-archive/sortstat/collate"
	"github.com/sneller-archive/sortstat/sorter"
	"github.com/sneller-archive/sortstat/store"
	"github.com/sneller-archive/sortstat/store/diskstore"
	"github.com/sneller-archive/sortstat/store/memstore"
)

// nullToken marks a NULL column value in tab-separated build input,
// following the conventional \N sentinel used by flat-file bulk
// loaders (e.g. PostgreSQL's COPY text format).
const nullToken = `\N`

// openBackend picks diskstore (spilling, on CacheBudget/StoreDir) or
// memstore (in-memory, simulated spill via SpillAtBytes) per cfg.
func openBackend(cfg *Config) (store.Store, func() error, error) {
	if cfg.StoreDir != "" {
		if err := os.MkdirAll(cfg.StoreDir, 0o755); err != nil {
			return nil, nil, err
		}
		ds := diskstore.New(cfg.StoreDir)
		ds.CacheBudget = cfg.CacheBudget
		return ds, ds.Close, nil
	}
	ms := memstore.New()
	ms.SpillAtBytes = cfg.SpillAtBytes
	return ms, func() error { return nil }, nil
}

// build reads tab-separated rows from inputPath (one row per line,
// idx.Columns fields per row, \N for NULL), feeds them through
// sorter.Sorter keyed on a Columnar comparator with NullEqualsNull
// set (so NULLs group together and later columns still order), and persists
// the fully-merged ascending key stream to outputPath.
func build(cfg *Config, idx *IndexConfig, inputPath, outputPath string) error {
	st, closeStore, err := openBackend(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	codec := collate.Codec{NCols: idx.Columns}
	cmp := collate.Columnar{Codec: codec, NullEqualsNull: true}

	s, err := sorter.Open(st, cmp)
	if err != nil {
		return err
	}
	if dashv {
		s.Logf = logf
	}
	defer s.Close()

	f, err := os.Open(inputPath)
	if err != nil {
		return err
	}
	defer f.Close()

	scan := bufio.NewScanner(f)
	scan.Buffer(make([]byte, 64*1024), 16*1024*1024)
	var rowid int64
	for scan.Scan() {
		line := scan.Text()
		if line == "" {
			continue
		}
		rowid++
		cols := strings.Split(line, "\t")
		if len(cols) != idx.Columns {
			return fmt.Errorf("build: line %d has %d columns, want %d", rowid, len(cols), idx.Columns)
		}
		fields := make([]collate.Field, idx.Columns)
		for i, c := range cols {
			if c == nullToken {
				fields[i] = collate.Field{Null: true}
				continue
			}
			fields[i] = collate.Field{Bytes: []byte(c)}
		}
		key := codec.EncodeKey(fields, rowid)
		if err := s.Insert(key); err != nil {
			return err
		}
	}
	if err := scan.Err(); err != nil {
		return err
	}

	empty, err := s.Rewind()
	if err != nil {
		return err
	}

	err = writeIndexFile(outputPath, func() ([]byte, bool, error) {
		if empty {
			return nil, false, nil
		}
		key, err := s.CurrentKey()
		if err != nil {
			return nil, false, err
		}
		// CurrentKey's slice is borrowed; copy it before advancing.
		out := append([]byte(nil), key...)
		more, err := s.Next()
		if err != nil {
			return nil, false, err
		}
		if !more {
			empty = true
		}
		return out, true, nil
	})
	if err != nil {
		return err
	}
	if dashv {
		logf("build: wrote %d rows from %s to %s", rowid, inputPath, outputPath)
	}
	return nil
}
