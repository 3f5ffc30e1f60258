// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package constraint

import (
	"github.com/AleutianAI/AleutianCAS/services/cas/fs"
	"github.com/AleutianAI/AleutianCAS/services/cas/index"
)

// FilteredIterator wraps an iterator and skips records that do not match
// its constraint on every move. It can wrap an index cursor, a subiterator
// or another FilteredIterator.
type FilteredIterator struct {
	it index.Iterator
	c  *Constraint
}

var _ index.Iterator = (*FilteredIterator)(nil)

// Filter wraps it and advances it to the first matching record at or after
// its current position. The wrapped iterator must not be used afterwards.
// A nil c matches every record.
func Filter(it index.Iterator, c *Constraint) *FilteredIterator {
	f := &FilteredIterator{it: it, c: c}
	f.forward()
	return f
}

// Constraint returns the filter predicate.
func (f *FilteredIterator) Constraint() *Constraint { return f.c }

func (f *FilteredIterator) Valid() bool { return f.it.Valid() }

func (f *FilteredIterator) Get() (*fs.Record, error) { return f.it.Get() }

func (f *FilteredIterator) MoveToFirst() {
	f.it.MoveToFirst()
	f.forward()
}

func (f *FilteredIterator) MoveToLast() {
	f.it.MoveToLast()
	f.backward()
}

func (f *FilteredIterator) MoveToNext() {
	if !f.it.Valid() {
		return
	}
	f.it.MoveToNext()
	f.forward()
}

func (f *FilteredIterator) MoveToPrevious() {
	if !f.it.Valid() {
		return
	}
	f.it.MoveToPrevious()
	f.backward()
}

// MoveTo positions at the first matching record not less than r.
func (f *FilteredIterator) MoveTo(r *fs.Record) {
	f.it.MoveTo(r)
	f.forward()
}

func (f *FilteredIterator) Copy() index.Iterator {
	return &FilteredIterator{it: f.it.Copy(), c: f.c}
}

func (f *FilteredIterator) forward() {
	for f.it.Valid() {
		if r, _ := f.it.Get(); f.c.Match(r) {
			return
		}
		f.it.MoveToNext()
	}
}

func (f *FilteredIterator) backward() {
	for f.it.Valid() {
		if r, _ := f.it.Get(); f.c.Match(r) {
			return
		}
		f.it.MoveToPrevious()
	}
}
