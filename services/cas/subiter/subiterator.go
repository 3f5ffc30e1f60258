// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package subiter implements bounded sub-iteration over annotation indexes.
//
// A Subiterator is built from a source iterator over an annotation index and
// an optional window, and materializes at construction time the ordered
// subset of annotations selected by its Policy:
//
//   - Ambiguous: every annotation starting inside the window, overlaps allowed.
//   - Unambiguous: a left-to-right chain of non-overlapping annotations.
//   - Strict: annotations ending past the window end are skipped.
//
// The result is a Snapshot: an immutable slice of record pointers. It does
// not observe later changes to the source index. A Subiterator is a cursor
// into a Snapshot; copies share the snapshot and move independently.
//
// Construction reads the source through a copy of the given iterator, so the
// caller's cursor position is left untouched.
package subiter

import (
	"errors"
	"fmt"
	"sort"

	"github.com/AleutianAI/AleutianCAS/services/cas/fs"
	"github.com/AleutianAI/AleutianCAS/services/cas/index"
	"github.com/AleutianAI/AleutianCAS/services/cas/order"
)

// ErrIllegalArgument is returned for an invalid window or an index whose
// order cannot be bounded by a span.
var ErrIllegalArgument = errors.New("illegal argument")

// Policy selects the overlap and strictness rules.
type Policy struct {
	// Ambiguous allows overlapping annotations in the result.
	Ambiguous bool

	// Strict drops annotations ending after the window end. It has no
	// effect on an unbounded subiterator.
	Strict bool
}

func (p Policy) String() string {
	s := "unambiguous"
	if p.Ambiguous {
		s = "ambiguous"
	}
	if p.Strict {
		s += ",strict"
	}
	return s
}

// NewUnbounded materializes the whole source. With an ambiguous policy the
// result is a plain copy; otherwise overlaps are removed left to right,
// keeping an annotation only if it starts at or after the end of the last
// kept one.
func NewUnbounded(it index.Iterator, ord *order.Order, p Policy) (*Subiterator, error) {
	if ord == nil {
		return nil, fmt.Errorf("%w: nil order", ErrIllegalArgument)
	}
	src := it.Copy()
	src.MoveToFirst()

	var out []*fs.Record
	if p.Ambiguous {
		for ; src.Valid(); src.MoveToNext() {
			out = append(out, current(src))
		}
		return newSubiterator(out, ord), nil
	}

	if !ord.IsAnnotationOrder() {
		return nil, fmt.Errorf("%w: disambiguation needs an annotation order, got %s", ErrIllegalArgument, ord)
	}
	var last *fs.Record
	for ; src.Valid(); src.MoveToNext() {
		e := current(src)
		if last == nil || e.Begin() >= last.End() {
			out = append(out, e)
			last = e
		}
	}
	return newSubiterator(out, ord), nil
}

// NewBounded materializes the annotations inside the span of bound.
//
// The bound itself, and every annotation whose keys equal the bound's
// (same span and type priority), are excluded.
//
// Errors:
//
//	ErrIllegalArgument - bound is nil or not an annotation, its span is
//	inverted, or ord is not an annotation order
func NewBounded(it index.Iterator, ord *order.Order, bound *fs.Record, p Policy) (*Subiterator, error) {
	if bound == nil || !bound.IsAnnotation() {
		return nil, fmt.Errorf("%w: bound %v is not an annotation", ErrIllegalArgument, bound)
	}
	if err := checkWindow(ord, bound.Begin(), bound.End()); err != nil {
		return nil, err
	}

	src := it.Copy()
	src.MoveTo(bound)
	for src.Valid() && ord.CompareKeys(current(src), bound) == 0 {
		src.MoveToNext()
	}
	return newSubiterator(collect(src, bound.Begin(), bound.End(), p), ord), nil
}

// NewRange materializes the annotations inside [begin, end]. Unlike
// NewBounded there is no bounding record to exclude: annotations spanning
// exactly [begin, end) are included.
//
// Errors:
//
//	ErrIllegalArgument - begin is negative or greater than end, or ord is
//	not an annotation order
func NewRange(it index.Iterator, ord *order.Order, begin, end int, p Policy) (*Subiterator, error) {
	if begin < 0 {
		return nil, fmt.Errorf("%w: negative begin %d", ErrIllegalArgument, begin)
	}
	if err := checkWindow(ord, begin, end); err != nil {
		return nil, err
	}

	src := it.Copy()
	src.MoveToFirst()
	if !src.Valid() {
		return newSubiterator(nil, ord), nil
	}
	probe := fs.NewAnnotation(0, current(src).Type(), begin, end)
	src.MoveTo(probe)
	rewindCoextensive(src, begin, end)
	return newSubiterator(collect(src, begin, end, p), ord), nil
}

func checkWindow(ord *order.Order, begin, end int) error {
	if begin > end {
		return fmt.Errorf("%w: window begin %d > end %d", ErrIllegalArgument, begin, end)
	}
	if ord == nil || !ord.IsAnnotationOrder() {
		return fmt.Errorf("%w: bounded iteration needs an annotation order, got %v", ErrIllegalArgument, ord)
	}
	return nil
}

// rewindCoextensive moves it back over the annotations spanning exactly
// [begin, end) that sort before the cursor, so they are not lost when the
// probe's type priority sorts after theirs.
func rewindCoextensive(it index.Iterator, begin, end int) {
	back := it.Copy()
	if back.Valid() {
		back.MoveToPrevious()
	} else {
		back.MoveToLast()
	}

	var first *fs.Record
	for ; back.Valid(); back.MoveToPrevious() {
		r := current(back)
		if r.Begin() != begin || r.End() != end {
			break
		}
		first = r
	}
	if first != nil {
		it.MoveTo(first)
	}
}

// collect scans forward from the cursor and applies the window and policy.
func collect(it index.Iterator, start, end int, p Policy) []*fs.Record {
	for it.Valid() && current(it).Begin() < start {
		it.MoveToNext()
	}

	var out []*fs.Record
	if p.Ambiguous {
		for ; it.Valid(); it.MoveToNext() {
			e := current(it)
			if e.Begin() > end {
				break
			}
			if p.Strict && e.End() > end {
				continue
			}
			out = append(out, e)
		}
		return out
	}

	// The first candidate inside the window seeds the chain.
	var kept *fs.Record
	for ; it.Valid(); it.MoveToNext() {
		e := current(it)
		if e.Begin() > end {
			return nil
		}
		if p.Strict && e.End() > end {
			continue
		}
		kept = e
		break
	}
	if kept == nil {
		return nil
	}
	out = append(out, kept)

	for it.MoveToNext(); it.Valid(); it.MoveToNext() {
		next := current(it)
		if next.Begin() < kept.End() {
			continue
		}
		if next.Begin() > end {
			break
		}
		if p.Strict && next.End() > end {
			continue
		}
		out = append(out, next)
		kept = next
	}
	return out
}

// current returns the record under a cursor known to be valid.
func current(it index.Iterator) *fs.Record {
	r, _ := it.Get()
	return r
}

// Snapshot is the materialized, ordered result of a subiterator.
type Snapshot struct {
	records []*fs.Record
	ord     *order.Order
}

// Len returns the number of records.
func (s *Snapshot) Len() int { return len(s.records) }

// At returns record i.
func (s *Snapshot) At(i int) (*fs.Record, bool) {
	if i < 0 || i >= len(s.records) {
		return nil, false
	}
	return s.records[i], true
}

// Records returns a copy of the materialized sequence.
func (s *Snapshot) Records() []*fs.Record {
	out := make([]*fs.Record, len(s.records))
	copy(out, s.records)
	return out
}

// Iterator returns a new cursor positioned at the first record.
func (s *Snapshot) Iterator() *Subiterator { return &Subiterator{snap: s} }

// Subiterator is a cursor over a Snapshot. Positions -1 and Len() are the
// invalid before-first and after-last states.
type Subiterator struct {
	snap *Snapshot
	pos  int
}

var _ index.Iterator = (*Subiterator)(nil)

func newSubiterator(records []*fs.Record, ord *order.Order) *Subiterator {
	return &Subiterator{snap: &Snapshot{records: records, ord: ord}}
}

// Snapshot returns the shared materialized sequence.
func (s *Subiterator) Snapshot() *Snapshot { return s.snap }

// Len returns the snapshot length.
func (s *Subiterator) Len() int { return len(s.snap.records) }

// Valid implements index.Iterator.
func (s *Subiterator) Valid() bool { return s.pos >= 0 && s.pos < len(s.snap.records) }

// Get implements index.Iterator.
func (s *Subiterator) Get() (*fs.Record, error) {
	if !s.Valid() {
		return nil, index.ErrNoSuchElement
	}
	return s.snap.records[s.pos], nil
}

// MoveToFirst implements index.Iterator.
func (s *Subiterator) MoveToFirst() { s.pos = 0 }

// MoveToLast implements index.Iterator.
func (s *Subiterator) MoveToLast() { s.pos = len(s.snap.records) - 1 }

// MoveToNext implements index.Iterator.
func (s *Subiterator) MoveToNext() {
	if s.Valid() {
		s.pos++
	}
}

// MoveToPrevious implements index.Iterator.
func (s *Subiterator) MoveToPrevious() {
	if s.Valid() {
		s.pos--
	}
}

// MoveTo implements index.Iterator with a binary search by the total order.
func (s *Subiterator) MoveTo(r *fs.Record) {
	recs := s.snap.records
	s.pos = sort.Search(len(recs), func(i int) bool {
		return s.snap.ord.Compare(recs[i], r) >= 0
	})
}

// Copy implements index.Iterator.
func (s *Subiterator) Copy() index.Iterator { return &Subiterator{snap: s.snap, pos: s.pos} }
