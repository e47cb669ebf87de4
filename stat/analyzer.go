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

// Package stat implements the ANALYZE statistics engine: a
// single-pass change-detection scan over an index's sorted keys that
// produces a compact stat1 row (average group sizes per column
// prefix) and a bounded stat4 sample table (representative rows with
// per-prefix selectivity counts).
package stat

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/sneller-archive/sortstat/collate"
)

// StdLogf adapts a *log.Logger into the Logf func fields carried by
// Analyzer and sorter.Sorter.
func StdLogf(l *log.Logger) func(format string, args ...interface{}) {
	return l.Printf
}

// Analyzer computes statistics for one index of one table.
type Analyzer struct {
	Table string
	Index string
	K     int // number of indexed columns

	// Collations gives the per-column collation used for change
	// detection; a nil entry (or an index beyond len(Collations))
	// falls back to bytewise comparison.
	Collations []collate.Collation

	// Unordered marks the index as not usable for ORDER BY, which
	// only affects the trailing token on the emitted stat1 string.
	Unordered bool

	// SampleCapacity is the stat4 reservoir size S; zero means
	// DefaultSampleCapacity.
	SampleCapacity int

	// Seed feeds the reservoir's tiebreak LCG. Zero means "draw one
	// from the process randomness source", not "disable tiebreaking".
	// Tests set it explicitly for reproducible reservoirs.
	Seed uint32

	Logf func(format string, args ...interface{})
}

func (a *Analyzer) logf(f string, args ...interface{}) {
	if a.Logf != nil {
		a.Logf(f, args...)
	}
}

func (a *Analyzer) collationFor(c int) collate.Collation {
	if c < len(a.Collations) && a.Collations[c] != nil {
		return a.Collations[c]
	}
	return func(x, y []byte) collate.Order { return byteCompare(x, y) }
}

func byteCompare(a, b []byte) collate.Order {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return collate.Less
			}
			return collate.Greater
		}
	}
	switch {
	case len(a) < len(b):
		return collate.Less
	case len(a) > len(b):
		return collate.Greater
	default:
		return collate.Equal
	}
}

// Result is the output of one AnalyzeIndex call.
type Result struct {
	Stat1    *Stat1Row // nil if the index produced no rows
	Stat4    []Stat4Row
	RowCount int64
}

// fieldEqual treats two NULLs in the same column position as equal,
// matching ANALYZE's grouping semantics (a run of NULLs counts as one
// distinct prefix value), independent of the Columnar comparator's
// own (possibly stricter) NullEqualsNull flag.
func fieldEqual(coll collate.Collation, a, b collate.Field) bool {
	if a.Null || b.Null {
		return a.Null == b.Null
	}
	return coll(a.Bytes, b.Bytes) == collate.Equal
}

// AnalyzeIndex runs the change-detection scan over scan, offering a
// sample candidate to the reservoir each time a group of rows equal
// in every indexed column closes, and uses fetch to retrieve the key
// blob of every sample that survives to the end of the scan.
func (a *Analyzer) AnalyzeIndex(scan IndexScanner, fetch KeyFetcher) (*Result, error) {
	if a.K <= 0 {
		return nil, fmt.Errorf("stat: Analyzer.K must be positive")
	}
	id := uuid.New()
	a.logf("stat: analyze id=%s table=%s index=%s starting", id, a.Table, a.Index)

	K := a.K
	eq := make([]int64, K)
	lt := make([]int64, K)
	dlt := make([]int64, K)
	var prev []collate.Field
	var prevRowid int64
	var rowcount int64

	seed := a.Seed
	if seed == 0 {
		var b [4]byte
		if _, err := rand.Read(b[:]); err != nil {
			return nil, fmt.Errorf("stat: seeding sample reservoir: %w", err)
		}
		seed = binary.LittleEndian.Uint32(b[:]) | 1
	}
	res := newReservoir(a.SampleCapacity, K, seed)

	// offer snapshots the running counters for the group that just
	// closed, before the boundary event folds eq into lt: eq still
	// holds the closed group's full size, lt counts only rows
	// strictly below it, and dlt[c]+1 counts the group's own prefix
	// among the distinct prefixes seen.
	offer := func() {
		cdlt := make([]int64, K)
		for c := 0; c < K; c++ {
			cdlt[c] = dlt[c] + 1
		}
		res.push(prevRowid, eq, lt, cdlt, rowcount)
	}

	for {
		fields, rowid, ok, err := scan.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if len(fields) != K {
			return nil, fmt.Errorf("stat: scan produced %d fields, want %d", len(fields), K)
		}

		if prev != nil {
			changedAt := K
			for c := 0; c < K; c++ {
				if !fieldEqual(a.collationFor(c), fields[c], prev[c]) {
					changedAt = c
					break
				}
			}
			if changedAt < K {
				// the group equal in all K columns has closed;
				// its last row is the sample candidate.
				offer()
				for c := changedAt; c < K; c++ {
					lt[c] += eq[c]
					dlt[c]++
					eq[c] = 0
				}
			}
		}
		for c := 0; c < K; c++ {
			eq[c]++
		}
		rowcount++
		prev = fields
		prevRowid = rowid
	}

	if rowcount == 0 {
		a.logf("stat: analyze id=%s table=%s index=%s: empty index, no stat1 row", id, a.Table, a.Index)
		return &Result{RowCount: 0}, nil
	}

	// one last boundary event at every level folds the final group
	// into lt/dlt; it is also the final group's sample candidacy.
	offer()
	for c := 0; c < K; c++ {
		lt[c] += eq[c]
		dlt[c]++
	}

	avg := make([]int64, K)
	for c := 0; c < K; c++ {
		if dlt[c] == 0 {
			avg[c] = 0
			continue
		}
		avg[c] = (rowcount + dlt[c] - 1) / dlt[c]
	}

	stat1 := &Stat1Row{
		Table:     a.Table,
		Index:     a.Index,
		RowCount:  rowcount,
		Avg:       avg,
		Unordered: a.Unordered,
	}

	var stat4 []Stat4Row
	for _, s := range res.samples() {
		if s.sumEq == 0 {
			continue
		}
		blob, err := fetch.FetchKey(s.rowid)
		if err != nil {
			return nil, err
		}
		stat4 = append(stat4, Stat4Row{
			Table: a.Table,
			Index: a.Index,
			Eq:    s.eq,
			Lt:    s.lt,
			Dlt:   s.dlt,
			Key:   blob,
		})
	}

	a.logf("stat: analyze id=%s table=%s index=%s done rows=%d samples=%d", id, a.Table, a.Index, rowcount, len(stat4))
	return &Result{Stat1: stat1, Stat4: stat4, RowCount: rowcount}, nil
}

// TableRowCountRow builds the table-level stat1 row
// (table_name, NULL, "rowcount").
func TableRowCountRow(table string, rowcount int64) Stat1Row {
	return Stat1Row{Table: table, RowCount: rowcount}
}
