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
	"reflect"
	"testing"
)

// Loading a stat1 row "1000 50 5 unordered" for a 2-column index
// yields RowEst [1000, 50, 5] and unordered=true.
func TestLoadIndexStatsStat1(t *testing.T) {
	rows := []RawStat1Row{
		{Table: "t", Index: "idx", Stat: "1000 50 5 unordered"},
	}
	got := LoadIndexStats(rows, nil, "t", "idx", 2)
	want := []int64{1000, 50, 5}
	if !reflect.DeepEqual(got.RowEst, want) {
		t.Fatalf("RowEst = %v, want %v", got.RowEst, want)
	}
	if !got.Unordered {
		t.Fatal("expected unordered=true")
	}
}

func TestLoadIndexStatsIgnoresOtherTablesAndIndexes(t *testing.T) {
	rows := []RawStat1Row{
		{Table: "other", Index: "idx", Stat: "5 5"},
		{Table: "t", Index: "other_idx", Stat: "6 6"},
		{Table: "t", Index: "idx", Stat: "7 7"},
	}
	got := LoadIndexStats(rows, nil, "t", "idx", 1)
	if got.RowEst[0] != 7 {
		t.Fatalf("expected the matching row's estimate (7), got %v", got.RowEst)
	}
}

func TestLoadIndexStatsMalformedStat1RowLeavesDefaultEstimates(t *testing.T) {
	rows := []RawStat1Row{
		{Table: "t", Index: "idx", Stat: "not-a-number"},
	}
	got := LoadIndexStats(rows, nil, "t", "idx", 1)
	if got.RowEst != nil {
		t.Fatalf("expected nil RowEst for a malformed stat1 row, got %v", got.RowEst)
	}
}

// Two stat4 samples for a single-column index: an earlier sample with
// eq[0]=10 and a later, final sample with lt[0]=30 (10 rows from the
// first sample plus 20 more before the second) and dlt[0]=2. AvgEq
// should be (30-10)/2 = 10.
func TestLoadIndexStatsStat4AvgEq(t *testing.T) {
	rows := []RawStat4Row{
		{Table: "t", Index: "idx", NEq: "10", NLt: "0", NDlt: "1", Sample: []byte("k1")},
		{Table: "t", Index: "idx", NEq: "20", NLt: "30", NDlt: "2", Sample: []byte("k2")},
	}
	got := LoadIndexStats(nil, rows, "t", "idx", 1)
	if len(got.Samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(got.Samples))
	}
	if got.AvgEq != 10 {
		t.Fatalf("AvgEq = %d, want 10", got.AvgEq)
	}
	last := got.Samples[1]
	if last.Eq[0] != 20 || last.Lt[0] != 30 || last.Dlt[0] != 2 {
		t.Fatalf("unexpected last sample: %+v", last)
	}
	if string(last.Key) != "k2" {
		t.Fatalf("Key = %q, want %q", last.Key, "k2")
	}
}

func TestLoadIndexStatsStat4AvgEqFloorsAtOne(t *testing.T) {
	rows := []RawStat4Row{
		{Table: "t", Index: "idx", NEq: "1", NLt: "0", NDlt: "1", Sample: []byte("k")},
	}
	got := LoadIndexStats(nil, rows, "t", "idx", 1)
	if got.AvgEq != 1 {
		t.Fatalf("AvgEq = %d, want 1 (floor)", got.AvgEq)
	}
}

func TestLoadIndexStatsMalformedStat4RowIsSkipped(t *testing.T) {
	rows := []RawStat4Row{
		{Table: "t", Index: "idx", NEq: "bad", NLt: "0", NDlt: "1", Sample: []byte("k1")},
		{Table: "t", Index: "idx", NEq: "5", NLt: "0", NDlt: "1", Sample: []byte("k2")},
	}
	got := LoadIndexStats(nil, rows, "t", "idx", 1)
	if len(got.Samples) != 1 {
		t.Fatalf("expected the malformed row to be skipped, got %d samples", len(got.Samples))
	}
	if string(got.Samples[0].Key) != "k2" {
		t.Fatalf("expected the surviving sample to be k2, got %q", got.Samples[0].Key)
	}
}
