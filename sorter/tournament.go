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

package sorter

import "github.com/sneller-archive/sortstat/collate"

// tournament is the selection tree driving the N-way merge: leaves
// conceptually hold the per-run current keys (real or virtual EOF),
// and tree[i] for every node holds the index of the winning leaf of
// that node's subtree, with ties broken toward the lower leaf index -
// which, because runs are merged strictly by list position, preserves
// the original insertion order of equal keys.
type tournament struct {
	iters []*runIter
	cmp   collate.Comparator
	n     int   // power of two >= len(iters); number of leaves
	tree  []int // size n; tree[0] unused, tree[1] is the root/winner
}

func newTournament(iters []*runIter, cmp collate.Comparator) *tournament {
	n := nextPow2(len(iters))
	t := &tournament{
		iters: iters,
		cmp:   cmp,
		n:     n,
		tree:  make([]int, n),
	}
	t.build()
	return t
}

func nextPow2(n int) int {
	if n <= 1 {
		return 2
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// live reports whether leaf is a real, non-exhausted iterator. Leaves
// at or beyond len(iters) are the virtual "always EOF" padding slots
// that round the leaf count up to a power of two.
func (t *tournament) live(leaf int) bool {
	return leaf < len(t.iters) && !t.iters[leaf].eof
}

// winner returns whichever of a, b should be considered smaller: a
// live key beats virtual EOF; between two live keys the comparator
// decides; ties favor the lower index.
func (t *tournament) winner(a, b int) int {
	aLive, bLive := t.live(a), t.live(b)
	switch {
	case aLive && !bLive:
		return a
	case !aLive && bLive:
		return b
	case !aLive && !bLive:
		if a < b {
			return a
		}
		return b
	}
	switch t.cmp.Compare(t.iters[a].key, t.iters[b].key) {
	case collate.Greater:
		return b
	default: // Less or Equal: lower index wins ties
		if a <= b {
			return a
		}
		return b
	}
}

// build computes every node of the tree from scratch.
func (t *tournament) build() {
	n := t.n
	for i := n - 1; i >= 1; i-- {
		if i >= n/2 {
			left := 2*i - n
			right := left + 1
			t.tree[i] = t.winner(left, right)
		} else {
			t.tree[i] = t.winner(t.tree[2*i], t.tree[2*i+1])
		}
	}
}

// min returns the leaf index currently holding the smallest key, or
// -1 if every iterator is at EOF.
func (t *tournament) min() int {
	if t.n == 0 {
		return -1
	}
	w := t.tree[1]
	if !t.live(w) {
		return -1
	}
	return w
}

// advance moves the current winning iterator forward one key and
// recomputes every ancestor on the path back to the root, so one
// advance costs ceil(log2 n) comparisons.
func (t *tournament) advance() error {
	leaf := t.tree[1]
	if leaf < 0 || leaf >= len(t.iters) {
		return nil
	}
	if err := t.iters[leaf].advance(); err != nil {
		return err
	}
	node := (leaf + t.n) / 2
	for node >= 1 {
		if node >= t.n/2 {
			left := 2*node - t.n
			right := left + 1
			t.tree[node] = t.winner(left, right)
		} else {
			t.tree[node] = t.winner(t.tree[2*node], t.tree[2*node+1])
		}
		node /= 2
	}
	return nil
}
