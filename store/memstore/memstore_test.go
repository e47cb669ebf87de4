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

package memstore

import (
	"testing"

	"github.com/sneller-archive/sortstat/collate"
)

func TestInsertAndScan(t *testing.T) {
	s := New()
	id, err := s.CreateBlobSegment()
	if err != nil {
		t.Fatal(err)
	}
	w, err := s.OpenCursor(id, true, collate.Bytewise{})
	if err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"a", "b", "c"} {
		if err := w.Insert([]byte(k), nil, 0); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := s.OpenCursor(id, false, collate.Bytewise{})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	ok, err := r.First()
	if err != nil || !ok {
		t.Fatalf("First: ok=%v err=%v", ok, err)
	}
	var got []string
	for {
		n, err := r.KeySize()
		if err != nil {
			t.Fatal(err)
		}
		buf := make([]byte, n)
		if _, err := r.KeyRead(0, n, buf); err != nil {
			t.Fatal(err)
		}
		got = append(got, string(buf))
		ok, err := r.Next()
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
	}
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

func TestBackingFileSpillThreshold(t *testing.T) {
	s := New()
	s.SpillAtBytes = 10
	if exists, _ := s.BackingFileExists(); exists {
		t.Fatal("should not have spilled yet")
	}
	id, _ := s.CreateBlobSegment()
	w, _ := s.OpenCursor(id, true, collate.Bytewise{})
	for i := 0; i < 20; i++ {
		w.Insert([]byte{byte(i)}, nil, 0)
	}
	w.Close()
	if exists, _ := s.BackingFileExists(); !exists {
		t.Fatal("expected spill to be reported after exceeding SpillAtBytes")
	}
}

func TestPageRefCountTracksOpenCursors(t *testing.T) {
	s := New()
	id, _ := s.CreateBlobSegment()
	if n, _ := s.PageRefCount(); n != 0 {
		t.Fatalf("expected 0 refs, got %d", n)
	}
	c1, _ := s.OpenCursor(id, true, collate.Bytewise{})
	c2, _ := s.OpenCursor(id, false, collate.Bytewise{})
	if n, _ := s.PageRefCount(); n != 2 {
		t.Fatalf("expected 2 refs, got %d", n)
	}
	c1.Close()
	if n, _ := s.PageRefCount(); n != 1 {
		t.Fatalf("expected 1 ref after closing one cursor, got %d", n)
	}
	c2.Close()
	if n, _ := s.PageRefCount(); n != 0 {
		t.Fatalf("expected 0 refs after closing all cursors, got %d", n)
	}
}
