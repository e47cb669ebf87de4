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

// Package memstore is a pure in-memory store.Store used by sorter
// tests and by cmd/sortstat when no store directory is configured. It simulates page accounting (rather than paging real
// data) so tests can drive the sorter's spill-threshold and fan-in
// logic deterministically without touching a filesystem.
package memstore

import (
	"fmt"
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/sneller-archive/sortstat/collate"
	"github.com/sneller-archive/sortstat/store"
)

// PageSize is the number of key bytes memstore treats as one page,
// for the purposes of PageCount.
const PageSize = 4096

// Store is an in-memory store.Store implementation.
type Store struct {
	mu       sync.Mutex
	segments map[store.SegmentID]*segment
	nextID   store.SegmentID

	// PageSize overrides the package default; zero means PageSize.
	PageSize int64
	// SpillAtBytes is the total key-byte volume at which
	// BackingFileExists begins returning true, simulating cache
	// overflow to disk. Zero means "never spills".
	SpillAtBytes int64

	openCursors int64 // proxy for PageRefCount: one "page" pinned per open cursor
}

type segment struct {
	keys     [][]byte
	payloads [][]byte
}

// New creates an empty memstore.
func New() *Store {
	return &Store{segments: make(map[store.SegmentID]*segment)}
}

func (s *Store) pageSize() int64 {
	if s.PageSize > 0 {
		return s.PageSize
	}
	return PageSize
}

func (s *Store) CreateBlobSegment() (store.SegmentID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.segments[id] = &segment{}
	return id, nil
}

func (s *Store) DropSegment(id store.SegmentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.segments, id)
	return nil
}

func (s *Store) OpenCursor(id store.SegmentID, writable bool, cmp collate.Comparator) (store.Cursor, error) {
	s.mu.Lock()
	seg, ok := s.segments[id]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("memstore: no such segment %d", id)
	}
	s.mu.Lock()
	s.openCursors++
	s.mu.Unlock()
	return &cursor{store: s, seg: seg, writable: writable, cmp: cmp, pos: -1}, nil
}

func (s *Store) PageCount() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, seg := range s.segments {
		for _, k := range seg.keys {
			total += int64(len(k))
		}
	}
	ps := s.pageSize()
	return (total + ps - 1) / ps, nil
}

func (s *Store) PageRefCount() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openCursors, nil
}

func (s *Store) BackingFileExists() (bool, error) {
	if s.SpillAtBytes <= 0 {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, seg := range s.segments {
		for _, k := range seg.keys {
			total += int64(len(k))
		}
	}
	return total >= s.SpillAtBytes, nil
}

// Segments returns the live segment ids, mostly useful for debugging
// and tests that want to assert on run counts.
func (s *Store) Segments() []store.SegmentID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Keys(s.segments)
}

type cursor struct {
	store    *Store
	seg      *segment
	writable bool
	cmp      collate.Comparator
	pos      int
	closed   bool
}

func (c *cursor) First() (bool, error) {
	if len(c.seg.keys) == 0 {
		c.pos = 0
		return false, nil
	}
	c.pos = 0
	return true, nil
}

func (c *cursor) Next() (bool, error) {
	c.pos++
	return c.pos < len(c.seg.keys), nil
}

func (c *cursor) KeySize() (int, error) {
	if c.pos < 0 || c.pos >= len(c.seg.keys) {
		return 0, fmt.Errorf("memstore: cursor not positioned on a row")
	}
	return len(c.seg.keys[c.pos]), nil
}

func (c *cursor) KeyRead(offset, length int, buf []byte) (int, error) {
	if c.pos < 0 || c.pos >= len(c.seg.keys) {
		return 0, fmt.Errorf("memstore: cursor not positioned on a row")
	}
	key := c.seg.keys[c.pos]
	if offset < 0 || offset+length > len(key) {
		return 0, &store.StoreError{Kind: store.ErrShortRead, Err: fmt.Errorf("memstore: read [%d:%d] out of range for %d-byte key", offset, offset+length, len(key))}
	}
	return copy(buf, key[offset:offset+length]), nil
}

func (c *cursor) Insert(key, payload []byte, flags store.InsertFlags) error {
	if !c.writable {
		return fmt.Errorf("memstore: cursor is read-only")
	}
	owned := append([]byte(nil), key...)
	c.seg.keys = append(c.seg.keys, owned)
	if payload != nil {
		c.seg.payloads = append(c.seg.payloads, append([]byte(nil), payload...))
	} else {
		c.seg.payloads = append(c.seg.payloads, nil)
	}
	return nil
}

func (c *cursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if c.writable {
		sortSegment(c.seg, c.cmp)
	}
	c.store.mu.Lock()
	c.store.openCursors--
	c.store.mu.Unlock()
	return nil
}

// sortSegment orders seg's keys ascending by cmp as part of sealing
// a writable cursor, keeping each key's payload attached to it.
// SortStableFunc (not
// SortFunc) is required here: the sorter's stability invariant (equal
// keys inserted in order i<j come back in order i<j) depends on this
// sort never reordering two keys the comparator calls Equal.
func sortSegment(seg *segment, cmp collate.Comparator) {
	idx := make([]int, len(seg.keys))
	for i := range idx {
		idx[i] = i
	}
	slices.SortStableFunc(idx, func(a, b int) bool {
		return cmp.Compare(seg.keys[a], seg.keys[b]) == collate.Less
	})
	keys := make([][]byte, len(seg.keys))
	payloads := make([][]byte, len(seg.payloads))
	for dst, src := range idx {
		keys[dst] = seg.keys[src]
		payloads[dst] = seg.payloads[src]
	}
	seg.keys = keys
	seg.payloads = payloads
}
