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

package stat

import (
	"fmt"
	"strconv"
	"strings"
)

// Stat1Row is one row of the stat1 table: (tbl, idx NULLABLE, stat).
// Index == "" represents a table-level row (idx is NULL), whose Stat
// string is just the row count with no Avg values.
type Stat1Row struct {
	Table     string
	Index     string
	RowCount  int64
	Avg       []int64
	Unordered bool
}

// Stat formats the row's third column: the row count followed by one
// space-separated average-group-size integer per column, optionally
// followed by " unordered".
func (r Stat1Row) Stat() string {
	var b strings.Builder
	b.WriteString(strconv.FormatInt(r.RowCount, 10))
	for _, a := range r.Avg {
		b.WriteByte(' ')
		b.WriteString(strconv.FormatInt(a, 10))
	}
	if r.Unordered {
		b.WriteString(" unordered")
	}
	return b.String()
}

// ParseStat1 parses a stat1 Stat string into its row count, per-column
// averages, and unordered flag. It stops at the first token that is
// neither a decimal integer nor the literal "unordered".
func ParseStat1(s string) (rowcount int64, avg []int64, unordered bool, err error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0, nil, false, fmt.Errorf("%w: empty stat1 string", ErrCorrupt)
	}
	rowcount, err = strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return 0, nil, false, fmt.Errorf("%w: bad rowcount: %v", ErrCorrupt, err)
	}
	for _, tok := range fields[1:] {
		if tok == "unordered" {
			unordered = true
			break
		}
		n, err := strconv.ParseInt(tok, 10, 64)
		if err != nil {
			break
		}
		avg = append(avg, n)
	}
	return rowcount, avg, unordered, nil
}

// Stat4Row is one row of the stat4 table: (tbl, idx, neq, nlt, ndlt,
// sample). Eq/Lt/Dlt each have length K.
type Stat4Row struct {
	Table string
	Index string
	Eq    []int64
	Lt    []int64
	Dlt   []int64
	Key   []byte
}

func formatCounts(v []int64) string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = strconv.FormatInt(n, 10)
	}
	return strings.Join(parts, " ")
}

// NEq, NLt, NDlt format this row's three count columns.
func (r Stat4Row) NEq() string  { return formatCounts(r.Eq) }
func (r Stat4Row) NLt() string  { return formatCounts(r.Lt) }
func (r Stat4Row) NDlt() string { return formatCounts(r.Dlt) }

// ParseCounts parses one of stat4's neq/nlt/ndlt text columns into K
// integers.
func ParseCounts(s string, k int) ([]int64, error) {
	fields := strings.Fields(s)
	if len(fields) != k {
		return nil, fmt.Errorf("%w: expected %d counts, got %d", ErrCorrupt, k, len(fields))
	}
	out := make([]int64, k)
	for i, tok := range fields {
		n, err := strconv.ParseInt(tok, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		out[i] = n
	}
	return out, nil
}
