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

// Package sorter implements the external-merge sorter used by index
// construction: an unordered stream of opaque byte-string keys under
// a caller-supplied comparator, materialized as bounded run segments
// in a collaborator store and merged into a single ascending stream
// on demand.
package sorter

import (
	"fmt"

	"golang.org/x/exp/slices"

	"github.com/sneller-archive/sortstat/collate"
	"github.com/sneller-archive/sortstat/store"
)

// MinSegment is the floor on the learned working-set size W, in
// pages.
const MinSegment = 10

// mergeRefBudget is the fraction of W that bounds how many pages the
// merge's own open iterators may pin before a pass must stop opening
// further runs, so merging never triggers additional spills.
const mergeRefBudget = 0.9

type state int

const (
	stateIngest state = iota
	stateRewound
	stateClosed
	statePoisoned
)

// Sorter accumulates opaque byte-string keys in store-backed run
// segments and, after Rewind, yields them in ascending comparator
// order through Next/CurrentKey.
type Sorter struct {
	store store.Store
	cmp   collate.Comparator

	st state

	// ingestion
	runs       []store.SegmentID
	openSeg    store.SegmentID
	hasOpenSeg bool
	openCur    store.Cursor
	w          int64 // working-set size in pages; 0 until learned
	pRunStart  int64
	wLearned   bool

	// readout (valid only once st == stateRewound)
	final     *tournament       // nil if the sorter reads out a single run directly
	finalSegs []store.SegmentID // segments backing final.iters, kept for Close
	solo      *runIter          // used instead of final when exactly one run remains
	soloSeg   store.SegmentID
	atEOF     bool
	wasEmpty  bool

	// Logf, if non-nil, receives progress/diagnostic messages.
	Logf func(format string, args ...interface{})
}

func (s *Sorter) logf(f string, args ...interface{}) {
	if s.Logf != nil {
		s.Logf(f, args...)
	}
}

// Open creates a Sorter bound to st and cmp. No run segments are
// allocated until the first Insert.
func Open(st store.Store, cmp collate.Comparator) (*Sorter, error) {
	if st == nil || cmp == nil {
		return nil, fmt.Errorf("sorter: Open requires a non-nil store and comparator")
	}
	return &Sorter{store: st, cmp: cmp, st: stateIngest}, nil
}

func (s *Sorter) poison(err error) error {
	s.st = statePoisoned
	return err
}

// Insert appends key to the currently open run, sealing and starting
// a fresh run whenever the store's observed page count has grown by
// W pages since the current run began (see learnWorkingSet). Keys are
// handed to the store's writable cursor as they arrive, in whatever
// order Insert is called; the cursor is responsible for sorting them
// into ascending order when the run is sealed (see Cursor.Close), so
// each run is sorted exactly once, right before it becomes readable.
func (s *Sorter) Insert(key []byte) error {
	switch s.st {
	case statePoisoned:
		return ErrPoisoned
	case stateIngest:
	default:
		return ErrMisuse
	}

	pNow, err := s.store.PageCount()
	if err != nil {
		return s.poison(err)
	}
	if err := s.learnWorkingSet(pNow); err != nil {
		return s.poison(err)
	}
	if s.hasOpenSeg && s.w > 0 && pNow >= s.pRunStart+s.w {
		if err := s.sealCurrentRun(); err != nil {
			return s.poison(err)
		}
	}
	if !s.hasOpenSeg {
		if err := s.openNewRun(pNow); err != nil {
			return s.poison(err)
		}
	}
	if err := s.openCur.Insert(key, nil, 0); err != nil {
		return s.poison(err)
	}
	return nil
}

// learnWorkingSet sets W the first time the store reports that its
// backing file exists (i.e. the cache has begun spilling):
// W = max(P_now-5, MinSegment). Bounding per-run size by the actual
// in-memory cache keeps each run sortable without further spilling.
func (s *Sorter) learnWorkingSet(pNow int64) error {
	if s.wLearned {
		return nil
	}
	spilling, err := s.store.BackingFileExists()
	if err != nil {
		return err
	}
	if !spilling {
		return nil
	}
	w := pNow - 5
	if w < MinSegment {
		w = MinSegment
	}
	s.w = w
	s.wLearned = true
	s.logf("sorter: learned working set W=%d pages (P_now=%d)", s.w, pNow)
	return nil
}

func (s *Sorter) openNewRun(pNow int64) error {
	seg, err := s.store.CreateBlobSegment()
	if err != nil {
		return err
	}
	cur, err := s.store.OpenCursor(seg, true, s.cmp)
	if err != nil {
		return err
	}
	s.openSeg = seg
	s.hasOpenSeg = true
	s.openCur = cur
	s.pRunStart = pNow
	return nil
}

// sealCurrentRun closes the currently open run's writable cursor,
// which sorts the run's buffered keys into ascending order as its
// last step, and records the now-immutable segment.
func (s *Sorter) sealCurrentRun() error {
	if err := s.openCur.Close(); err != nil {
		return err
	}
	s.runs = append(s.runs, s.openSeg)
	s.hasOpenSeg = false
	s.openCur = nil
	return nil
}

// Rewind closes ingestion and merges runs into fewer, larger runs
// until one ordered stream remains, leaving the sorter positioned at
// its first key (if any). It reports whether the sorter is empty. The
// readout is a single forward pass; calling Rewind a second time is
// a Misuse error, not a restart.
func (s *Sorter) Rewind() (bool, error) {
	switch s.st {
	case statePoisoned:
		return false, ErrPoisoned
	case stateIngest:
	default:
		return false, ErrMisuse
	}

	if s.hasOpenSeg {
		if err := s.sealCurrentRun(); err != nil {
			return false, s.poison(err)
		}
	}

	if len(s.runs) == 0 {
		s.st = stateRewound
		s.atEOF = true
		s.wasEmpty = true
		return true, nil
	}

	for len(s.runs) > 1 {
		iters, opened, err := s.openMergePrefix()
		if err != nil {
			return false, s.poison(err)
		}
		final := opened == len(s.runs)
		if final {
			s.final = newTournament(iters, s.cmp)
			s.finalSegs = append([]store.SegmentID(nil), s.runs...)
			s.runs = nil
			break
		}
		out, err := s.drainToNewRun(iters)
		if err != nil {
			return false, s.poison(err)
		}
		consumed := append([]store.SegmentID(nil), s.runs[:opened]...)
		s.runs[0] = out
		s.runs = slices.Delete(s.runs, 1, opened)
		for _, seg := range consumed {
			if err := s.store.DropSegment(seg); err != nil {
				return false, s.poison(err)
			}
		}
	}

	if s.final == nil && len(s.runs) == 1 {
		s.soloSeg = s.runs[0]
		it, err := openRunIter(s.store, s.soloSeg, s.cmp)
		if err != nil {
			return false, s.poison(err)
		}
		s.solo = it
		s.runs = nil
	}

	s.st = stateRewound
	s.atEOF = s.currentEOF()
	s.wasEmpty = s.atEOF
	return s.wasEmpty, nil
}

func (s *Sorter) currentEOF() bool {
	if s.final != nil {
		return s.final.min() < 0
	}
	if s.solo != nil {
		return s.solo.eof
	}
	return true
}

// openMergePrefix opens iterators over a prefix of s.runs: one by one
// until either every remaining run is open, or the store's pinned
// page count reaches 0.9*W. At least two runs are always opened (when
// two or more remain) so a pass always makes progress.
func (s *Sorter) openMergePrefix() ([]*runIter, int, error) {
	var iters []*runIter
	for len(iters) < len(s.runs) {
		it, err := openRunIter(s.store, s.runs[len(iters)], s.cmp)
		if err != nil {
			for _, prev := range iters {
				prev.close()
			}
			return nil, 0, err
		}
		iters = append(iters, it)
		if len(iters) < 2 {
			continue
		}
		if s.w > 0 {
			refs, err := s.store.PageRefCount()
			if err != nil {
				for _, prev := range iters {
					prev.close()
				}
				return nil, 0, err
			}
			if float64(refs) >= mergeRefBudget*float64(s.w) {
				break
			}
		}
	}
	return iters, len(iters), nil
}

// drainToNewRun merges iters into a freshly created run segment,
// draining them in full via a tournament tree, and returns the new
// segment's handle. Used for every merge pass except the last (the
// last pass's tree is kept live for Next/CurrentKey instead).
func (s *Sorter) drainToNewRun(iters []*runIter) (store.SegmentID, error) {
	out, err := s.store.CreateBlobSegment()
	if err != nil {
		closeAll(iters)
		return 0, err
	}
	w, err := s.store.OpenCursor(out, true, s.cmp)
	if err != nil {
		closeAll(iters)
		s.store.DropSegment(out)
		return 0, err
	}

	t := newTournament(iters, s.cmp)
	for {
		leaf := t.min()
		if leaf < 0 {
			break
		}
		if err := w.Insert(iters[leaf].key, nil, 0); err != nil {
			closeAll(iters)
			w.Close()
			s.store.DropSegment(out)
			return 0, err
		}
		if err := t.advance(); err != nil {
			closeAll(iters)
			w.Close()
			s.store.DropSegment(out)
			return 0, err
		}
	}
	closeAll(iters)
	if err := w.Close(); err != nil {
		s.store.DropSegment(out)
		return 0, err
	}
	return out, nil
}

func closeAll(iters []*runIter) {
	for _, it := range iters {
		it.close()
	}
}

// Next advances to the next key in ascending order. It reports false
// at EOF.
func (s *Sorter) Next() (bool, error) {
	switch s.st {
	case statePoisoned:
		return false, ErrPoisoned
	case stateRewound:
	default:
		return false, ErrMisuse
	}
	if s.atEOF {
		return false, nil
	}
	var err error
	if s.final != nil {
		err = s.final.advance()
	} else if s.solo != nil {
		err = s.solo.advance()
	}
	if err != nil {
		return false, s.poison(err)
	}
	s.atEOF = s.currentEOF()
	return !s.atEOF, nil
}

// CurrentKey returns the key at the current read position. The
// returned slice is borrowed and only valid until the next call to
// Next or Close.
func (s *Sorter) CurrentKey() ([]byte, error) {
	switch s.st {
	case statePoisoned:
		return nil, ErrPoisoned
	case stateRewound:
	default:
		return nil, ErrMisuse
	}
	if s.atEOF {
		return nil, fmt.Errorf("sorter: CurrentKey called at EOF")
	}
	if s.final != nil {
		return s.final.iters[s.final.min()].key, nil
	}
	return s.solo.key, nil
}

// Close releases every run segment still owned by the Sorter. It is
// always valid to call, including on a poisoned Sorter.
func (s *Sorter) Close() error {
	if s.st == stateClosed {
		return nil
	}
	var firstErr error
	if s.hasOpenSeg && s.openCur != nil {
		if err := s.openCur.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.final != nil {
		for _, it := range s.final.iters {
			it.close()
		}
	}
	if s.solo != nil {
		s.solo.close()
	}
	for _, seg := range s.runs {
		if err := s.store.DropSegment(seg); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, seg := range s.finalSegs {
		if err := s.store.DropSegment(seg); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.final == nil && s.solo != nil {
		if err := s.store.DropSegment(s.soloSeg); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.hasOpenSeg {
		if err := s.store.DropSegment(s.openSeg); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.st = stateClosed
	return firstErr
}
