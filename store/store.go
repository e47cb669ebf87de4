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

// Package store declares the narrow paged-store interface the sorter
// consumes. The real pager/B-tree engine a production build sits on is
// an external collaborator; this package only pins the contract, plus
// (in the memstore and diskstore subpackages) two concrete
// implementations that let the sorter and analyzer be exercised and
// tested without a full database underneath them.
package store

import (
	"errors"

	"github.com/sneller-archive/sortstat/collate"
)

// SegmentID identifies a blob-keyed ordered segment (a "run") inside
// the store. It is an opaque integer page id from the sorter's point
// of view.
type SegmentID int64

// InsertFlags modifies Cursor.Insert. The sorter never sets any flags
// today; the type exists so the collaborator contract can grow insert
// options (e.g. "append hint") without changing the interface shape.
type InsertFlags uint32

// Cursor positions over one segment's keys in ascending order.
type Cursor interface {
	// First positions the cursor at the first key in the segment.
	// It reports false if the segment is empty.
	First() (bool, error)
	// Next advances to the next key. It reports false at EOF.
	Next() (bool, error)
	// KeySize returns the byte length of the key at the current
	// position.
	KeySize() (int, error)
	// KeyRead copies length bytes of the current key starting at
	// offset into buf, returning the number of bytes copied.
	KeyRead(offset, length int, buf []byte) (int, error)
	// Insert appends a key (with an optional opaque payload) to a
	// cursor opened writable. Keys may arrive in any order; a writable
	// cursor sorts them into ascending order (using the Comparator it
	// was opened with) as part of Close, before the segment becomes
	// visible to read cursors.
	Insert(key, payload []byte, flags InsertFlags) error
	// Close releases the cursor. For a writable cursor this is also
	// the point at which the segment's keys are sorted and the
	// segment becomes readable. A second Close is a no-op; other
	// calls after Close are not checked.
	Close() error
}

// Store is the collaborator paged store the sorter is built against.
type Store interface {
	// CreateBlobSegment allocates a new, empty ordered segment and
	// returns its handle.
	CreateBlobSegment() (SegmentID, error)
	// OpenCursor opens a cursor over seg. A writable cursor is
	// positioned for Insert; a read-only cursor must call First
	// before Next/KeySize/KeyRead are valid.
	OpenCursor(seg SegmentID, writable bool, cmp collate.Comparator) (Cursor, error)
	// DropSegment releases a segment's storage. In practice this is
	// usually implicit at transaction end; callers should still call
	// it so in-memory/test stores can reclaim eagerly.
	DropSegment(seg SegmentID) error
	// PageCount reports the store's current page count, used by the
	// sorter to detect cache spillage and size runs.
	PageCount() (int64, error)
	// PageRefCount reports the number of pages currently pinned by
	// open cursors, used by the sorter to bound merge fan-in.
	PageRefCount() (int64, error)
	// BackingFileExists reports whether the store's temporary
	// backing file has been created with non-empty contents, i.e.
	// whether the cache has begun spilling to disk.
	BackingFileExists() (bool, error)
}

// ErrKind classifies a StoreError.
type ErrKind int

const (
	ErrRead ErrKind = iota
	ErrWrite
	ErrLock
	ErrShortRead
)

func (k ErrKind) String() string {
	switch k {
	case ErrRead:
		return "read"
	case ErrWrite:
		return "write"
	case ErrLock:
		return "lock"
	case ErrShortRead:
		return "short read"
	default:
		return "unknown"
	}
}

// StoreError wraps an underlying I/O failure from a Store
// implementation with the sub-kind of operation that failed.
type StoreError struct {
	Kind ErrKind
	Err  error
}

func (e *StoreError) Error() string {
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *StoreError) Unwrap() error { return e.Err }

// ErrOutOfMemory is returned by implementations that hit an allocation
// failure while servicing a call (run allocation, tournament array
// growth, etc).
var ErrOutOfMemory = errors.New("store: out of memory")

// ErrInterrupted is surfaced from a store call when the caller's
// process-wide interrupt flag was observed between page operations.
var ErrInterrupted = errors.New("store: interrupted")
