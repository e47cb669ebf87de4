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

import "github.com/sneller-archive/sortstat/internal/heap"

// DefaultSampleCapacity is the reservoir's default sample count S.
const DefaultSampleCapacity = 24

// sample is one reservoir occupant: the per-column running counts
// captured at the row that produced it, plus the bookkeeping needed
// to decide whether a later candidate should replace it.
type sample struct {
	rowid    int64
	eq       []int64
	lt       []int64
	dlt      []int64
	sumEq    int64
	hash     uint32
	periodic bool
}

func sampleLess(a, b *sample) bool {
	if a.sumEq != b.sumEq {
		return a.sumEq < b.sumEq
	}
	return a.hash < b.hash
}

// reservoir is the bounded sample buffer behind stat4: a
// periodic-admission path that keeps samples evenly spread across
// the scan, and a high-eq path that otherwise favors candidates
// representing large groups of equal rows. The non-periodic
// occupants are kept as a min-heap (ordered by
// sumEq, hash tiebreak) via package heap, so the "does this candidate
// beat the weakest occupant" and "replace the weakest occupant" steps
// are both O(log S) instead of a linear scan per candidate.
type reservoir struct {
	capacity int
	k        int

	nonPeriodic []*sample // min-heap; root is the weakest occupant
	periodic    []*sample

	h      uint32 // LCG tiebreak state
	prevLt int64  // running sumEq+prevLt total from the previous push
}

func newReservoir(capacity, k int, seed uint32) *reservoir {
	if capacity <= 0 {
		capacity = DefaultSampleCapacity
	}
	if seed == 0 {
		seed = 1
	}
	return &reservoir{capacity: capacity, k: k, h: seed}
}

func (r *reservoir) occupantCount() int {
	return len(r.nonPeriodic) + len(r.periodic)
}

// period returns P, recomputed from the row count observed so far
// (rather than the final row count, which a single forward pass over
// the sorter's readout cannot know in advance):
// P = ceil(rowsSoFar/(S/3+1)) + 1.
func (r *reservoir) period(rowsSoFar int64) int64 {
	d := int64(r.capacity/3 + 1)
	return (rowsSoFar+d-1)/d + 1
}

// push offers one candidate row to the reservoir. eq/lt/dlt are the
// per-column running counts at this row, already updated for this
// row's prefix-boundary events; rowsSoFar is the total row count
// including this row.
func (r *reservoir) push(rowid int64, eq, lt, dlt []int64, rowsSoFar int64) {
	var sumEq int64
	for _, v := range eq {
		sumEq += v
	}
	// an all-NULL prefix candidate is never emitted (see stat1/stat4
	// output rules), so there is no reason to ever let it occupy a
	// reservoir slot.
	if sumEq == 0 {
		return
	}

	r.h = r.h*1103515245 + 12345
	np := sumEq + r.prevLt
	p := r.period(rowsSoFar)
	periodic := r.prevLt/p != np/p
	r.prevLt = np

	cand := &sample{
		rowid:    rowid,
		eq:       append([]int64(nil), eq...),
		lt:       append([]int64(nil), lt...),
		dlt:      append([]int64(nil), dlt...),
		sumEq:    sumEq,
		hash:     r.h,
		periodic: periodic,
	}

	if periodic {
		r.admitPeriodic(cand)
		return
	}
	r.admitNonPeriodic(cand)
}

func (r *reservoir) admitPeriodic(cand *sample) {
	if r.occupantCount() < r.capacity {
		r.periodic = append(r.periodic, cand)
		return
	}
	// Reservoir is full: displace whichever current occupant is
	// weakest overall, periodic or not. The non-periodic rule below
	// never touches a periodic occupant, but a periodic admission is
	// unconditional and must still evict someone.
	if len(r.nonPeriodic) > 0 {
		weakestPeriodicIdx := weakestIndex(r.periodic)
		if weakestPeriodicIdx < 0 || sampleLess(r.nonPeriodic[0], r.periodic[weakestPeriodicIdx]) {
			heap.PopSlice(&r.nonPeriodic, sampleLess)
			r.periodic = append(r.periodic, cand)
			return
		}
	}
	if idx := weakestIndex(r.periodic); idx >= 0 {
		r.periodic[idx] = cand
	}
}

func (r *reservoir) admitNonPeriodic(cand *sample) {
	if r.occupantCount() < r.capacity {
		heap.PushSlice(&r.nonPeriodic, cand, sampleLess)
		return
	}
	if len(r.nonPeriodic) == 0 {
		// every occupant is periodic; the non-periodic rule has
		// nothing it is allowed to evict, so the candidate is dropped.
		return
	}
	root := r.nonPeriodic[0]
	if cand.sumEq > root.sumEq || (cand.sumEq == root.sumEq && cand.hash > root.hash) {
		heap.ReplaceRoot(r.nonPeriodic, cand, sampleLess)
	}
}

func weakestIndex(s []*sample) int {
	idx := -1
	for i, v := range s {
		if idx < 0 || sampleLess(v, s[idx]) {
			idx = i
		}
	}
	return idx
}

// samples returns every occupant, in no particular order, skipping
// the all-NULL-prefix degenerate case a second time defensively.
func (r *reservoir) samples() []*sample {
	out := make([]*sample, 0, r.occupantCount())
	for _, s := range r.nonPeriodic {
		if s.sumEq > 0 {
			out = append(out, s)
		}
	}
	for _, s := range r.periodic {
		if s.sumEq > 0 {
			out = append(out, s)
		}
	}
	return out
}
