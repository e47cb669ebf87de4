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

// RawStat1Row is one row as read straight off the stat1 table, before
// its Stat string has been parsed.
type RawStat1Row struct {
	Table string
	Index string // "" means the table-level (idx IS NULL) row
	Stat  string
}

// RawStat4Row is one row as read straight off the stat4 table.
type RawStat4Row struct {
	Table  string
	Index  string
	NEq    string
	NLt    string
	NDlt   string
	Sample []byte
}

// LoadedSample is one stat4 sample reconstituted for an index's
// in-memory planner estimates.
type LoadedSample struct {
	Eq  []int64
	Lt  []int64
	Dlt []int64
	Key []byte
}

// IndexStats is the in-memory form of one index's reloaded planner
// estimates.
type IndexStats struct {
	// RowEst has length K+1: RowEst[0] is the row count, and
	// RowEst[1+c] is avg[c] for column position c.
	RowEst    []int64
	Unordered bool
	Samples   []LoadedSample
	// AvgEq is the trailing estimate of average-equal-rows for the
	// leftmost column, derived from the last loaded sample.
	AvgEq int64
}

// LoadIndexStats reconstructs one index's IndexStats from the raw
// stat1/stat4 rows belonging to table/index. A malformed stat1 row
// leaves RowEst nil, so the index keeps its default estimates rather
// than failing the whole load; malformed stat4 rows are skipped
// individually for the same reason.
func LoadIndexStats(stat1Rows []RawStat1Row, stat4Rows []RawStat4Row, table, index string, k int) *IndexStats {
	out := &IndexStats{}
	for _, r := range stat1Rows {
		if r.Table != table || r.Index != index {
			continue
		}
		rowcount, avg, unordered, err := ParseStat1(r.Stat)
		if err != nil {
			continue
		}
		est := make([]int64, 1+len(avg))
		est[0] = rowcount
		copy(est[1:], avg)
		out.RowEst = est
		out.Unordered = unordered
		break
	}

	for _, r := range stat4Rows {
		if r.Table != table || r.Index != index {
			continue
		}
		eq, err := ParseCounts(r.NEq, k)
		if err != nil {
			continue
		}
		lt, err := ParseCounts(r.NLt, k)
		if err != nil {
			continue
		}
		dlt, err := ParseCounts(r.NDlt, k)
		if err != nil {
			continue
		}
		out.Samples = append(out.Samples, LoadedSample{Eq: eq, Lt: lt, Dlt: dlt, Key: r.Sample})
	}

	if n := len(out.Samples); n > 0 {
		last := out.Samples[n-1]
		var sumEarlierEq int64
		for i := 0; i < n-1; i++ {
			sumEarlierEq += out.Samples[i].Eq[0]
		}
		out.AvgEq = 1
		if last.Dlt[0] > 0 {
			if avgEq := (last.Lt[0] - sumEarlierEq) / last.Dlt[0]; avgEq > 1 {
				out.AvgEq = avgEq
			}
		}
	}
	return out
}
