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

	"github.com/sneller-archive/sortstat/collate"
	"github.com/sneller-archive/sortstat/sorter"
	"github.com/sneller-archive/sortstat/store"
)

// IndexScanner delivers the decoded rows of one sorted index scan, in
// ascending key order. It is the collaborator interface package stat
// drives; SorterScanner below is the concrete adapter over a rewound
// sorter.Sorter, but any ordered source of (fields, rowid) pairs can
// implement it.
type IndexScanner interface {
	// Next advances to the next row. ok is false at EOF, with err nil.
	// The returned fields must remain valid at least until the
	// following Next call returns; the analyzer holds each row as
	// its previous-row state while examining the next one.
	Next() (fields []collate.Field, rowid int64, ok bool, err error)
}

// SorterScanner adapts an already-rewound sorter.Sorter into an
// IndexScanner by decoding each composite key with codec. One
// physical cursor suffices for all K per-column counters: a single
// pass decodes every column at once and the analyzer's nested
// change-detection loops operate on the decoded field vector.
type SorterScanner struct {
	s       *sorter.Sorter
	codec   collate.Codec
	atEOF   bool
	started bool
}

// NewSorterScanner wraps s, which must already have been rewound;
// empty is the boolean Sorter.Rewind returned.
func NewSorterScanner(s *sorter.Sorter, codec collate.Codec, empty bool) *SorterScanner {
	return &SorterScanner{s: s, codec: codec, atEOF: empty}
}

func (sc *SorterScanner) Next() ([]collate.Field, int64, bool, error) {
	if sc.atEOF {
		return nil, 0, false, nil
	}
	if sc.started {
		more, err := sc.s.Next()
		if err != nil {
			return nil, 0, false, err
		}
		if !more {
			sc.atEOF = true
			return nil, 0, false, nil
		}
	}
	sc.started = true
	key, err := sc.s.CurrentKey()
	if err != nil {
		return nil, 0, false, err
	}
	// CurrentKey's slice is only borrowed until the next advance,
	// but the decoded fields must outlive it (see IndexScanner).
	key = append([]byte(nil), key...)
	fields, rowid, err := sc.codec.DecodeKey(key)
	if err != nil {
		return nil, 0, false, err
	}
	return fields, rowid, true, nil
}

// KeyFetcher retrieves the full encoded key for a sampled row by
// rowid, used to fill in a stat4 row's key blob after the scan that
// produced the reservoir has already moved on. Keeping this as a
// separate, late lookup means the reservoir itself only ever carries
// the small per-column count arrays plus a rowid, never whole keys.
type KeyFetcher interface {
	FetchKey(rowid int64) ([]byte, error)
}

// CursorKeyFetcher implements KeyFetcher by re-opening a read cursor
// over the same segment the scan was driven from and walking it until
// the matching rowid is found. This is linear rather than a point
// lookup because store.Cursor exposes no seek-by-rowid operation; for
// a collaborator store that did, a real engine would seek instead.
type CursorKeyFetcher struct {
	Store store.Store
	Seg   store.SegmentID
	Cmp   collate.Comparator
	Codec collate.Codec
}

func (f CursorKeyFetcher) FetchKey(rowid int64) ([]byte, error) {
	cur, err := f.Store.OpenCursor(f.Seg, false, f.Cmp)
	if err != nil {
		return nil, err
	}
	defer cur.Close()
	ok, err := cur.First()
	if err != nil {
		return nil, err
	}
	for ok {
		n, err := cur.KeySize()
		if err != nil {
			return nil, err
		}
		buf := make([]byte, n)
		if _, err := cur.KeyRead(0, n, buf); err != nil {
			return nil, err
		}
		rid, err := f.Codec.RowID(buf)
		if err != nil {
			return nil, err
		}
		if rid == rowid {
			return buf, nil
		}
		ok, err = cur.Next()
		if err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("stat: rowid %d not found in segment", rowid)
}
