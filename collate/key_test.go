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

import "testing"

func field(s string) Field { return Field{Bytes: []byte(s)} }

func TestCodecRoundTrip(t *testing.T) {
	c := Codec{NCols: 3}
	in := []Field{field("a"), {Null: true}, field("xyz")}
	key := c.EncodeKey(in, 42)
	out, rowid, err := c.DecodeKey(key)
	if err != nil {
		t.Fatal(err)
	}
	if rowid != 42 {
		t.Fatalf("rowid = %d, want 42", rowid)
	}
	for i := range in {
		if in[i].Null != out[i].Null {
			t.Fatalf("column %d: null mismatch", i)
		}
		if !in[i].Null && string(in[i].Bytes) != string(out[i].Bytes) {
			t.Fatalf("column %d: got %q want %q", i, out[i].Bytes, in[i].Bytes)
		}
	}
}

func TestColumnarOrdering(t *testing.T) {
	c := Columnar{Codec: Codec{NCols: 2}, NullEqualsNull: true}
	less := c.Codec.EncodeKey([]Field{field("a"), field("x")}, 1)
	more := c.Codec.EncodeKey([]Field{field("a"), field("y")}, 1)
	if o := c.Compare(less, more); o != Less {
		t.Fatalf("expected Less, got %v", o)
	}
	if o := c.Compare(more, less); o != Greater {
		t.Fatalf("expected Greater, got %v", o)
	}
	if o := c.Compare(less, less); o != Equal {
		t.Fatalf("expected Equal, got %v", o)
	}
}

func TestNullOrdering(t *testing.T) {
	c := Columnar{Codec: Codec{NCols: 1}, NullEqualsNull: true}
	n1 := c.Codec.EncodeKey([]Field{{Null: true}}, 1)
	n2 := c.Codec.EncodeKey([]Field{{Null: true}}, 2)
	v := c.Codec.EncodeKey([]Field{field("x")}, 3)

	if o := c.Compare(n1, v); o != Less {
		t.Fatalf("NULL should sort before a value, got %v", o)
	}
	f1, _, _ := c.Codec.DecodeKey(n1)
	f2, _, _ := c.Codec.DecodeKey(n2)
	if o := c.ComparePrefix(f1, f2, 1); o != Equal {
		t.Fatalf("NullEqualsNull=true: two NULLs should compare Equal, got %v", o)
	}

	c.NullEqualsNull = false
	if o := c.ComparePrefix(f1, f2, 1); o == Equal {
		t.Fatal("NullEqualsNull=false: two NULLs must not compare Equal")
	}
}

func TestRowIDTiebreak(t *testing.T) {
	c := Columnar{Codec: Codec{NCols: 1}, NullEqualsNull: true}
	a := c.Codec.EncodeKey([]Field{field("same")}, 5)
	b := c.Codec.EncodeKey([]Field{field("same")}, 9)
	if o := c.Compare(a, b); o != Less {
		t.Fatalf("expected rowid 5 < rowid 9 to break the tie, got %v", o)
	}
}
