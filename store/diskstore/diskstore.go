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

// Package diskstore is a store.Store that actually spills: keys are
// buffered in memory per-segment up to CacheBudget bytes, then
// zstd-compressed and appended to a lazily-created backing file
// guarded by an advisory OS lock, the way a real page cache spills
// dirty pages to a temporary database file. BackingFileExists
// therefore reports a genuine on-disk fact rather than a simulated
// one, which is what lets sorter.Sorter's working-set-learning rule
// (see package sorter) be exercised against real spill behavior.
package diskstore

import (
	"encoding/binary"
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/exp/slices"

	"github.com/sneller-archive/sortstat/collate"
	"github.com/sneller-archive/sortstat/store"
)

// PageSize is the number of key bytes diskstore treats as one page.
const PageSize = 4096

// DefaultCacheBudget is the per-segment byte budget kept in memory
// before a batch is flushed to the backing file.
const DefaultCacheBudget = 256 * 1024

var (
	encOnce sync.Once
	encoder *zstd.Encoder
	decOnce sync.Once
	decoder *zstd.Decoder
)

func getEncoder() *zstd.Encoder {
	encOnce.Do(func() {
		e, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
		if err != nil {
			panic("diskstore: zstd.NewWriter: " + err.Error())
		}
		encoder = e
	})
	return encoder
}

func getDecoder() *zstd.Decoder {
	decOnce.Do(func() {
		d, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(runtime.GOMAXPROCS(0)))
		if err != nil {
			panic("diskstore: zstd.NewReader: " + err.Error())
		}
		decoder = d
	})
	return decoder
}

type block struct {
	offset int64
	clen   int64
	ulen   int64
}

type segState struct {
	blocks      []block
	memKeys     [][]byte
	memPayloads [][]byte
	memBytes    int64
	dropped     bool
}

// Store is a spilling, disk-backed store.Store.
type Store struct {
	mu       sync.Mutex
	dir      string
	file     *os.File
	fileSize int64

	segments map[store.SegmentID]*segState
	nextID   store.SegmentID

	// CacheBudget is the per-segment in-memory byte budget before a
	// flush is triggered. Zero means DefaultCacheBudget.
	CacheBudget int64

	openCursors int64
}

// New creates a diskstore rooted at dir (used only if/when spilling
// actually occurs; no file is created until then).
func New(dir string) *Store {
	return &Store{dir: dir, segments: make(map[store.SegmentID]*segState)}
}

// Close releases the backing file, if one was created.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	name := s.file.Name()
	err := s.file.Close()
	os.Remove(name)
	s.file = nil
	return err
}

func (s *Store) budget() int64 {
	if s.CacheBudget > 0 {
		return s.CacheBudget
	}
	return DefaultCacheBudget
}

func (s *Store) CreateBlobSegment() (store.SegmentID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.segments[id] = &segState{}
	return id, nil
}

func (s *Store) DropSegment(id store.SegmentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seg, ok := s.segments[id]; ok {
		seg.dropped = true
		delete(s.segments, id)
	}
	return nil
}

func (s *Store) OpenCursor(id store.SegmentID, writable bool, cmp collate.Comparator) (store.Cursor, error) {
	s.mu.Lock()
	seg, ok := s.segments[id]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("diskstore: no such segment %d", id)
	}
	if writable {
		s.mu.Lock()
		s.openCursors++
		s.mu.Unlock()
		return &writeCursor{store: s, id: id, seg: seg, cmp: cmp}, nil
	}
	keys, payloads, err := s.materialize(seg)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.openCursors++
	s.mu.Unlock()
	return &readCursor{store: s, keys: keys, payloads: payloads, pos: -1}, nil
}

// materialize decompresses every flushed block of seg plus its
// pending in-memory tail into one ordered key/payload slice. This is
// a simplification over streaming page-by-page reads: a run's size is
// already bounded by the working-set budget W by construction (see
// package sorter), so a run comfortably fits in memory once it is
// being merged.
func (s *Store) materialize(seg *segState) ([][]byte, [][]byte, error) {
	s.mu.Lock()
	blocks := append([]block(nil), seg.blocks...)
	memKeys := append([][]byte(nil), seg.memKeys...)
	memPayloads := append([][]byte(nil), seg.memPayloads...)
	f := s.file
	s.mu.Unlock()

	var keys, payloads [][]byte
	for _, b := range blocks {
		comp := make([]byte, b.clen)
		if err := s.readAt(f, b.offset, comp); err != nil {
			return nil, nil, err
		}
		raw, err := getDecoder().DecodeAll(comp, make([]byte, 0, b.ulen))
		if err != nil {
			return nil, nil, &store.StoreError{Kind: store.ErrRead, Err: err}
		}
		k, p, err := decodeBatch(raw)
		if err != nil {
			return nil, nil, err
		}
		keys = append(keys, k...)
		payloads = append(payloads, p...)
	}
	keys = append(keys, memKeys...)
	payloads = append(payloads, memPayloads...)
	return keys, payloads, nil
}

func (s *Store) readAt(f *os.File, offset int64, buf []byte) error {
	if f == nil {
		return &store.StoreError{Kind: store.ErrRead, Err: fmt.Errorf("diskstore: no backing file")}
	}
	if err := lockShared(f); err != nil {
		return &store.StoreError{Kind: store.ErrLock, Err: err}
	}
	defer unlock(f)
	n, err := f.ReadAt(buf, offset)
	if err != nil {
		return &store.StoreError{Kind: store.ErrRead, Err: err}
	}
	if n != len(buf) {
		return &store.StoreError{Kind: store.ErrShortRead, Err: fmt.Errorf("short read: got %d want %d", n, len(buf))}
	}
	return nil
}

// encodeBatch serializes a batch of keys+payloads as a sequence of
// [varint keylen][key][varint paylen][payload] records.
func encodeBatch(keys, payloads [][]byte) []byte {
	size := 0
	for i := range keys {
		size += 2*binary.MaxVarintLen64 + len(keys[i]) + len(payloads[i])
	}
	buf := make([]byte, 0, size)
	var tmp [binary.MaxVarintLen64]byte
	for i := range keys {
		n := binary.PutUvarint(tmp[:], uint64(len(keys[i])))
		buf = append(buf, tmp[:n]...)
		buf = append(buf, keys[i]...)
		n = binary.PutUvarint(tmp[:], uint64(len(payloads[i])))
		buf = append(buf, tmp[:n]...)
		buf = append(buf, payloads[i]...)
	}
	return buf
}

func decodeBatch(raw []byte) ([][]byte, [][]byte, error) {
	var keys, payloads [][]byte
	for len(raw) > 0 {
		klen, n := binary.Uvarint(raw)
		if n <= 0 {
			return nil, nil, fmt.Errorf("diskstore: corrupt batch (key length)")
		}
		raw = raw[n:]
		if uint64(len(raw)) < klen {
			return nil, nil, fmt.Errorf("diskstore: corrupt batch (key body)")
		}
		key := raw[:klen]
		raw = raw[klen:]
		plen, n := binary.Uvarint(raw)
		if n <= 0 {
			return nil, nil, fmt.Errorf("diskstore: corrupt batch (payload length)")
		}
		raw = raw[n:]
		if uint64(len(raw)) < plen {
			return nil, nil, fmt.Errorf("diskstore: corrupt batch (payload body)")
		}
		var payload []byte
		if plen > 0 {
			payload = raw[:plen]
		}
		raw = raw[plen:]
		keys = append(keys, key)
		payloads = append(payloads, payload)
	}
	return keys, payloads, nil
}

func (s *Store) flush(id store.SegmentID, seg *segState) error {
	if len(seg.memKeys) == 0 {
		return nil
	}
	raw := encodeBatch(seg.memKeys, seg.memPayloads)
	comp := getEncoder().EncodeAll(raw, nil)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		f, err := os.CreateTemp(s.dir, "sortstat-spill-*.tmp")
		if err != nil {
			return &store.StoreError{Kind: store.ErrWrite, Err: err}
		}
		s.file = f
	}
	if err := lockExclusive(s.file); err != nil {
		return &store.StoreError{Kind: store.ErrLock, Err: err}
	}
	defer unlock(s.file)

	off := s.fileSize
	n, err := s.file.WriteAt(comp, off)
	if err != nil {
		return &store.StoreError{Kind: store.ErrWrite, Err: err}
	}
	s.fileSize += int64(n)

	seg.blocks = append(seg.blocks, block{offset: off, clen: int64(len(comp)), ulen: int64(len(raw))})
	seg.memKeys = nil
	seg.memPayloads = nil
	seg.memBytes = 0
	return nil
}

func (s *Store) insert(id store.SegmentID, seg *segState, key, payload []byte) error {
	owned := append([]byte(nil), key...)
	var ownedPayload []byte
	if payload != nil {
		ownedPayload = append([]byte(nil), payload...)
	}
	s.mu.Lock()
	seg.memKeys = append(seg.memKeys, owned)
	seg.memPayloads = append(seg.memPayloads, ownedPayload)
	seg.memBytes += int64(len(owned) + len(ownedPayload))
	shouldFlush := seg.memBytes >= s.budget()
	s.mu.Unlock()
	if shouldFlush {
		return s.flush(id, seg)
	}
	return nil
}

// sealSorted flushes any pending batch for seg, decompresses every
// block written so far, sorts the combined keys (carrying payloads
// along) by cmp, and re-flushes the result as the segment's sole
// block. The sort must be stable: the sorter's stability invariant
// requires keys the comparator calls Equal to come back in the order
// they were inserted.
func (s *Store) sealSorted(id store.SegmentID, seg *segState, cmp collate.Comparator) error {
	if err := s.flush(id, seg); err != nil {
		return err
	}

	s.mu.Lock()
	blocks := append([]block(nil), seg.blocks...)
	f := s.file
	s.mu.Unlock()
	if len(blocks) == 0 {
		return nil
	}

	var keys, payloads [][]byte
	for _, b := range blocks {
		comp := make([]byte, b.clen)
		if err := s.readAt(f, b.offset, comp); err != nil {
			return err
		}
		raw, err := getDecoder().DecodeAll(comp, make([]byte, 0, b.ulen))
		if err != nil {
			return &store.StoreError{Kind: store.ErrRead, Err: err}
		}
		k, p, err := decodeBatch(raw)
		if err != nil {
			return err
		}
		keys = append(keys, k...)
		payloads = append(payloads, p...)
	}

	idx := make([]int, len(keys))
	for i := range idx {
		idx[i] = i
	}
	slices.SortStableFunc(idx, func(a, b int) bool {
		return cmp.Compare(keys[a], keys[b]) == collate.Less
	})
	sortedKeys := make([][]byte, len(keys))
	sortedPayloads := make([][]byte, len(payloads))
	for dst, src := range idx {
		sortedKeys[dst] = keys[src]
		sortedPayloads[dst] = payloads[src]
	}

	var size int64
	for i := range sortedKeys {
		size += int64(len(sortedKeys[i]) + len(sortedPayloads[i]))
	}
	s.mu.Lock()
	seg.blocks = nil
	seg.memKeys = sortedKeys
	seg.memPayloads = sortedPayloads
	seg.memBytes = size
	s.mu.Unlock()
	return s.flush(id, seg)
}

func (s *Store) PageCount() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, seg := range s.segments {
		total += seg.memBytes
		for _, b := range seg.blocks {
			total += b.ulen
		}
	}
	return (total + PageSize - 1) / PageSize, nil
}

func (s *Store) PageRefCount() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openCursors, nil
}

func (s *Store) BackingFileExists() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file != nil && s.fileSize > 0, nil
}

type writeCursor struct {
	store  *Store
	id     store.SegmentID
	seg    *segState
	cmp    collate.Comparator
	closed bool
}

func (c *writeCursor) First() (bool, error) { return false, fmt.Errorf("diskstore: cursor is write-only") }
func (c *writeCursor) Next() (bool, error)  { return false, fmt.Errorf("diskstore: cursor is write-only") }
func (c *writeCursor) KeySize() (int, error) {
	return 0, fmt.Errorf("diskstore: cursor is write-only")
}
func (c *writeCursor) KeyRead(offset, length int, buf []byte) (int, error) {
	return 0, fmt.Errorf("diskstore: cursor is write-only")
}

func (c *writeCursor) Insert(key, payload []byte, flags store.InsertFlags) error {
	return c.store.insert(c.id, c.seg, key, payload)
}

// Close flushes any pending in-memory batch, then collapses every
// block written during this run (plus the final batch) into a single
// block sorted by the cursor's comparator, so read cursors opened
// afterwards see an ascending stream. Each segment is sorted exactly
// once, at seal time.
func (c *writeCursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	err := c.store.sealSorted(c.id, c.seg, c.cmp)
	c.store.mu.Lock()
	c.store.openCursors--
	c.store.mu.Unlock()
	return err
}

type readCursor struct {
	store    *Store
	keys     [][]byte
	payloads [][]byte
	pos      int
	closed   bool
}

func (c *readCursor) First() (bool, error) {
	if len(c.keys) == 0 {
		c.pos = 0
		return false, nil
	}
	c.pos = 0
	return true, nil
}

func (c *readCursor) Next() (bool, error) {
	c.pos++
	return c.pos < len(c.keys), nil
}

func (c *readCursor) KeySize() (int, error) {
	if c.pos < 0 || c.pos >= len(c.keys) {
		return 0, fmt.Errorf("diskstore: cursor not positioned on a row")
	}
	return len(c.keys[c.pos]), nil
}

func (c *readCursor) KeyRead(offset, length int, buf []byte) (int, error) {
	if c.pos < 0 || c.pos >= len(c.keys) {
		return 0, fmt.Errorf("diskstore: cursor not positioned on a row")
	}
	key := c.keys[c.pos]
	if offset < 0 || offset+length > len(key) {
		return 0, &store.StoreError{Kind: store.ErrShortRead, Err: fmt.Errorf("diskstore: read out of range")}
	}
	return copy(buf, key[offset:offset+length]), nil
}

func (c *readCursor) Insert(key, payload []byte, flags store.InsertFlags) error {
	return fmt.Errorf("diskstore: cursor is read-only")
}

func (c *readCursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.store.mu.Lock()
	c.store.openCursors--
	c.store.mu.Unlock()
	return nil
}
