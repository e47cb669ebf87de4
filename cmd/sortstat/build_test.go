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
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/sneller-archive/sortstat/collate"
)

func writeTSV(t *testing.T, path string, lines []string) {
	t.Helper()
	var buf bytes.Buffer
	for _, l := range lines {
		buf.WriteString(l)
		buf.WriteByte('\n')
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestBuildProducesAscendingIndexFile(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.tsv")
	out := filepath.Join(dir, "out.idx")
	writeTSV(t, in, []string{
		"charlie\t3",
		"alpha\t1",
		"bravo\t2",
		"alpha\t1",
	})

	cfg := &Config{}
	idx := &IndexConfig{Table: "t", Index: "idx", Columns: 2}
	if err := build(cfg, idx, in, out); err != nil {
		t.Fatal(err)
	}

	fi, err := readIndexFile(out, idx.Columns)
	if err != nil {
		t.Fatal(err)
	}
	if len(fi.keys) != 4 {
		t.Fatalf("expected 4 keys, got %d", len(fi.keys))
	}
	cmp := collate.Columnar{Codec: fi.codec}
	for i := 1; i < len(fi.keys); i++ {
		if cmp.Compare(fi.keys[i-1], fi.keys[i]) == collate.Greater {
			t.Fatalf("index file not in ascending order at position %d", i)
		}
	}
	first, _, err := fi.codec.DecodeKey(fi.keys[0])
	if err != nil {
		t.Fatal(err)
	}
	if string(first[0].Bytes) != "alpha" {
		t.Fatalf("expected first key's column 0 to be %q, got %q", "alpha", first[0].Bytes)
	}
}

func TestBuildWithDiskstoreBackendSpills(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.tsv")
	out := filepath.Join(dir, "out.idx")
	var lines []string
	for i := 0; i < 500; i++ {
		lines = append(lines, "v\t1")
	}
	writeTSV(t, in, lines)

	cfg := &Config{StoreDir: filepath.Join(dir, "store"), CacheBudget: 256}
	idx := &IndexConfig{Table: "t", Index: "idx", Columns: 2}
	if err := build(cfg, idx, in, out); err != nil {
		t.Fatal(err)
	}
	fi, err := readIndexFile(out, idx.Columns)
	if err != nil {
		t.Fatal(err)
	}
	if len(fi.keys) != 500 {
		t.Fatalf("expected 500 keys, got %d", len(fi.keys))
	}
}

func TestAnalyzeIndexFileRunsWithoutError(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.tsv")
	out := filepath.Join(dir, "out.idx")
	writeTSV(t, in, []string{"a\t1", "a\t1", "b\t2"})

	cfg := &Config{}
	idx := &IndexConfig{Table: "t", Index: "idx", Columns: 2}
	if err := build(cfg, idx, in, out); err != nil {
		t.Fatal(err)
	}
	if err := analyzeIndexFile(cfg, idx, out); err != nil {
		t.Fatal(err)
	}
}

func TestConfigIndexForLookup(t *testing.T) {
	cfg := &Config{Indexes: []IndexConfig{{Table: "t", Index: "i1", Columns: 2}}}
	if _, err := cfg.indexFor("t", "i1"); err != nil {
		t.Fatal(err)
	}
	if _, err := cfg.indexFor("t", "missing"); err == nil {
		t.Fatal("expected an error for an undeclared index")
	}
}
