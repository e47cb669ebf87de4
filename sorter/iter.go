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

import (
	"github.com/sneller-archive/sortstat/collate"
	"github.com/sneller-archive/sortstat/store"
)

// runIter is a single run's read cursor, plus the current key cached
// into an owned buffer, allocated once per iter and grown on demand.
// Owning the key unconditionally is simpler than tracking borrowed
// page pointers, and nothing in the store.Cursor contract promises
// stable key pointers across Next anyway.
type runIter struct {
	cur store.Cursor
	buf []byte // owned backing storage, grown on demand
	key []byte // buf[:n], the current key; nil at EOF
	eof bool
}

// openRunIter opens a read cursor over seg and primes it with the
// first key.
func openRunIter(s store.Store, seg store.SegmentID, cmp collate.Comparator) (*runIter, error) {
	cur, err := s.OpenCursor(seg, false, cmp)
	if err != nil {
		return nil, err
	}
	it := &runIter{cur: cur}
	if err := it.loadFirst(); err != nil {
		cur.Close()
		return nil, err
	}
	return it, nil
}

func (it *runIter) loadFirst() error {
	ok, err := it.cur.First()
	if err != nil {
		return err
	}
	if !ok {
		it.eof = true
		it.key = nil
		return nil
	}
	return it.cacheKey()
}

// advance moves the iterator to its next key, or marks it EOF.
func (it *runIter) advance() error {
	ok, err := it.cur.Next()
	if err != nil {
		return err
	}
	if !ok {
		it.eof = true
		it.key = nil
		return nil
	}
	return it.cacheKey()
}

func (it *runIter) cacheKey() error {
	n, err := it.cur.KeySize()
	if err != nil {
		return err
	}
	if cap(it.buf) < n {
		it.buf = make([]byte, n)
	}
	it.buf = it.buf[:n]
	if _, err := it.cur.KeyRead(0, n, it.buf); err != nil {
		return err
	}
	it.key = it.buf
	return nil
}

func (it *runIter) close() error {
	return it.cur.Close()
}
