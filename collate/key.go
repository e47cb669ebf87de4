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

package collate

import (
	"encoding/binary"
	"fmt"
)

// Field is one decoded column value within a composite index key.
// Null fields carry no Bytes.
type Field struct {
	Null  bool
	Bytes []byte
}

// Collation compares two non-NULL column values for a single column
// position. A nil Collation is bytewise (memcmp) ordering, which is
// the default for every column unless the caller supplies one.
type Collation func(a, b []byte) Order

// Codec encodes and decodes composite index keys: a fixed number of
// columns (NCols), each independently NULL-able, followed by a
// fixed-width trailing rowid. This is the on-disk shape the sorter
// and analyzer exchange through the collaborator store; the sorter
// itself never decodes it; only the Columnar comparator and the
// analyzer's column-prefix change detection do.
type Codec struct {
	NCols int
}

// EncodeKey serializes fields (len(fields) must equal c.NCols) and the
// trailing rowid into a single opaque key. Each field is encoded as a
// one-byte NULL tag followed by a varint length and the raw bytes
// (omitted for NULL fields).
func (c Codec) EncodeKey(fields []Field, rowid int64) []byte {
	if len(fields) != c.NCols {
		panic(fmt.Sprintf("collate: EncodeKey: got %d fields, want %d", len(fields), c.NCols))
	}
	size := 8
	for _, f := range fields {
		size += 1 + binary.MaxVarintLen64
		if !f.Null {
			size += len(f.Bytes)
		}
	}
	buf := make([]byte, 0, size)
	var tmp [binary.MaxVarintLen64]byte
	for _, f := range fields {
		if f.Null {
			buf = append(buf, 0)
			continue
		}
		buf = append(buf, 1)
		n := binary.PutUvarint(tmp[:], uint64(len(f.Bytes)))
		buf = append(buf, tmp[:n]...)
		buf = append(buf, f.Bytes...)
	}
	var rid [8]byte
	binary.BigEndian.PutUint64(rid[:], uint64(rowid))
	buf = append(buf, rid[:]...)
	return buf
}

// DecodeKey is the inverse of EncodeKey.
func (c Codec) DecodeKey(key []byte) ([]Field, int64, error) {
	fields := make([]Field, c.NCols)
	rest := key
	for i := 0; i < c.NCols; i++ {
		if len(rest) < 1 {
			return nil, 0, fmt.Errorf("collate: truncated key at column %d", i)
		}
		tag := rest[0]
		rest = rest[1:]
		switch tag {
		case 0:
			fields[i] = Field{Null: true}
		case 1:
			n, nn := binary.Uvarint(rest)
			if nn <= 0 {
				return nil, 0, fmt.Errorf("collate: bad varint length at column %d", i)
			}
			rest = rest[nn:]
			if uint64(len(rest)) < n {
				return nil, 0, fmt.Errorf("collate: truncated value at column %d", i)
			}
			fields[i] = Field{Bytes: rest[:n]}
			rest = rest[n:]
		default:
			return nil, 0, fmt.Errorf("collate: unknown field tag %d at column %d", tag, i)
		}
	}
	if len(rest) != 8 {
		return nil, 0, fmt.Errorf("collate: expected 8 trailing rowid bytes, got %d", len(rest))
	}
	rowid := int64(binary.BigEndian.Uint64(rest))
	return fields, rowid, nil
}

// RowID extracts just the trailing rowid without decoding every column,
// used by the stat4 key-blob lookups that search a key list by rowid.
func (c Codec) RowID(key []byte) (int64, error) {
	if len(key) < 8 {
		return 0, fmt.Errorf("collate: key too short to hold a rowid")
	}
	return int64(binary.BigEndian.Uint64(key[len(key)-8:])), nil
}

// Columnar is a Codec-aware Comparator: it decodes both keys and
// compares column by column, honoring per-column Collations and the
// NullEqualsNull flag (the boolean flag described in the collaborator
// contract: whether two NULLs in the same column position compare
// Equal or are left incomparable-but-ordered). The trailing rowid acts
// as the final, always-non-NULL tiebreak column, exactly as a SQLite
// index's implicit rowid column does.
type Columnar struct {
	Codec          Codec
	Collations     []Collation // len 0 or NCols; nil entries are bytewise
	NullEqualsNull bool
}

func (c Columnar) collationFor(i int) Collation {
	if i < len(c.Collations) && c.Collations[i] != nil {
		return c.Collations[i]
	}
	return func(a, b []byte) Order { return Order(bytesCompare(a, b)) }
}

// CollationFor exposes the effective per-column collation (bytewise
// if none was supplied for column i), for comparing single column
// values independently of the composite-key Comparator.
func (c Columnar) CollationFor(i int) Collation {
	return c.collationFor(i)
}

func (c Columnar) Compare(a, b []byte) Order {
	af, arow, err := c.Codec.DecodeKey(a)
	if err != nil {
		panic(err)
	}
	bf, brow, err := c.Codec.DecodeKey(b)
	if err != nil {
		panic(err)
	}
	if o := c.ComparePrefix(af, bf, c.Codec.NCols); o != Equal {
		return o
	}
	switch {
	case arow < brow:
		return Less
	case arow > brow:
		return Greater
	default:
		return Equal
	}
}

// ComparePrefix compares only the first n decoded column values of two
// rows, without looking at the rowid. Compare uses it for every
// column before falling back to the rowid.
func (c Columnar) ComparePrefix(a, b []Field, n int) Order {
	for i := 0; i < n; i++ {
		af, bf := a[i], b[i]
		switch {
		case af.Null && bf.Null:
			if c.NullEqualsNull {
				// group consecutive NULLs into one distinct prefix
				continue
			}
			// NullEqualsNull off: every NULL is distinct from
			// every other NULL (ordinary SQL semantics), so two
			// NULL rows must never compare Equal. Greater is
			// returned whichever side comes first, so with this
			// flag off Compare is not a consistent sort order for
			// rows holding NULL in the same column.
			return Greater
		case af.Null:
			return Less
		case bf.Null:
			return Greater
		}
		if o := c.collationFor(i)(af.Bytes, bf.Bytes); o != Equal {
			return o
		}
	}
	return Equal
}

func bytesCompare(a, b []byte) int {
	// local alias to avoid importing "bytes" twice across files;
	// kept trivial on purpose.
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}
