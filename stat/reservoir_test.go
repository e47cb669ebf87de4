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
	"testing"

	"golang.org/x/exp/slices"
)

// pushRow is a small helper that mimics one row's worth of
// change-detection bookkeeping for a single-column index (K=1, every
// row distinct) and offers it to the reservoir.
func pushRow(r *reservoir, rowid, rowsSoFar int64) {
	eq := []int64{rowsSoFar}
	lt := []int64{0}
	dlt := []int64{1}
	r.push(rowid, eq, lt, dlt, rowsSoFar)
}

func TestReservoirNeverExceedsCapacity(t *testing.T) {
	r := newReservoir(6, 1, 99)
	for i := int64(1); i <= 500; i++ {
		eq := []int64{1}
		lt := []int64{i - 1}
		dlt := []int64{i}
		r.push(i, eq, lt, dlt, i)
		if r.occupantCount() > r.capacity {
			t.Fatalf("occupantCount %d exceeds capacity %d at row %d", r.occupantCount(), r.capacity, i)
		}
	}
}

func TestReservoirDropsAllNullCandidates(t *testing.T) {
	r := newReservoir(4, 1, 1)
	r.push(1, []int64{0}, []int64{0}, []int64{0}, 1)
	if r.occupantCount() != 0 {
		t.Fatalf("expected an all-zero eq candidate to be dropped, occupantCount=%d", r.occupantCount())
	}
}

// A strictly increasing sumEq sequence means the final candidate has
// the largest sumEq pushed. With capacity 4 its push moves the running
// total from 1225 to 1275, across a multiple of P=26, so it takes the
// periodic path, which always admits it; it must be present at the end.
func TestReservoirKeepsLargestMonotonicCandidate(t *testing.T) {
	r := newReservoir(4, 1, 1)
	var lastRowid int64
	for i := int64(1); i <= 50; i++ {
		lastRowid = i
		r.push(i, []int64{i}, []int64{0}, []int64{0}, i)
	}
	found := false
	for _, s := range r.samples() {
		if s.rowid == lastRowid {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected the final monotonic candidate (rowid=%d) to survive eviction", lastRowid)
	}
}

// Drive the non-periodic admission rule directly against a full
// reservoir: a candidate beating the weakest non-periodic occupant's
// sumEq evicts exactly that occupant; one that does not beat it is
// dropped.
func TestReservoirHighEqEvictsWeakestNonPeriodic(t *testing.T) {
	r := newReservoir(4, 1, 1)
	for i := int64(1); i <= 4; i++ {
		r.admitNonPeriodic(&sample{rowid: i, sumEq: i, eq: []int64{i}, hash: uint32(i)})
	}
	r.admitNonPeriodic(&sample{rowid: 99, sumEq: 3, eq: []int64{3}, hash: ^uint32(0)})
	have := map[int64]bool{}
	for _, s := range r.samples() {
		have[s.rowid] = true
	}
	if have[1] {
		t.Fatal("expected the sumEq=1 occupant to be evicted")
	}
	if !have[99] {
		t.Fatal("expected the sumEq=3 candidate to be admitted")
	}
	r.admitNonPeriodic(&sample{rowid: 100, sumEq: 1, eq: []int64{1}})
	for _, s := range r.samples() {
		if s.rowid == 100 {
			t.Fatal("expected a candidate weaker than every occupant to be dropped")
		}
	}
}

func TestPeriodGrowsWithRowCount(t *testing.T) {
	r := newReservoir(24, 1, 1)
	p1 := r.period(1)
	p2 := r.period(1_000_000)
	if p2 <= p1 {
		t.Fatalf("expected period to grow with rowsSoFar: period(1)=%d period(1e6)=%d", p1, p2)
	}
}

// samples() makes no ordering promise; sort a snapshot by sumEq before
// asserting on it, the way a caller inspecting reservoir contents would.
func TestReservoirSamplesSortBySumEq(t *testing.T) {
	r := newReservoir(8, 1, 3)
	for i := int64(1); i <= 100; i++ {
		r.push(i, []int64{i % 7}, []int64{0}, []int64{1}, i)
	}
	got := r.samples()
	slices.SortFunc(got, func(a, b *sample) bool { return sampleLess(a, b) })
	for i := 1; i < len(got); i++ {
		if got[i].sumEq < got[i-1].sumEq {
			t.Fatalf("samples not sorted ascending by sumEq: %v", got)
		}
	}
}

func TestSampleLessOrdersBySumEqThenHash(t *testing.T) {
	a := &sample{sumEq: 3, hash: 10}
	b := &sample{sumEq: 5, hash: 1}
	if !sampleLess(a, b) {
		t.Fatal("expected lower sumEq to sort first regardless of hash")
	}
	c := &sample{sumEq: 3, hash: 1}
	d := &sample{sumEq: 3, hash: 2}
	if !sampleLess(c, d) {
		t.Fatal("expected equal sumEq to fall back to hash ordering")
	}
}
