// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package index

import (
	"github.com/AleutianAI/AleutianCAS/services/cas/fs"
)

// Iterator is a restartable, repositionable, bidirectional cursor.
//
// Moving past either end makes the iterator invalid; it never fails.
// Navigation from an invalid position leaves the iterator invalid until it
// is repositioned with MoveToFirst, MoveToLast or MoveTo.
type Iterator interface {
	// Valid reports whether the cursor denotes an element.
	Valid() bool

	// Get returns the current element, or ErrNoSuchElement.
	Get() (*fs.Record, error)

	MoveToFirst()
	MoveToLast()
	MoveToNext()
	MoveToPrevious()

	// MoveTo positions the cursor on the first element whose ordering key is
	// greater than or equal to r's. When no element matches exactly the
	// cursor lands on the insertion point.
	MoveTo(r *fs.Record)

	// Copy returns an independent cursor at the same position over the same
	// sequence.
	Copy() Iterator
}

// Collect rewinds it and returns every element in order.
func Collect(it Iterator) []*fs.Record {
	var out []*fs.Record
	for it.MoveToFirst(); it.Valid(); it.MoveToNext() {
		r, err := it.Get()
		if err != nil {
			break
		}
		out = append(out, r)
	}
	return out
}

// CollectReverse rewinds it to the last element and returns every element
// walking backwards.
func CollectReverse(it Iterator) []*fs.Record {
	var out []*fs.Record
	for it.MoveToLast(); it.Valid(); it.MoveToPrevious() {
		r, err := it.Get()
		if err != nil {
			break
		}
		out = append(out, r)
	}
	return out
}

// Cursor is the Iterator over an Index. It holds only a position, so copies
// are cheap and independent.
type Cursor struct {
	ix  *Index
	pos int
}

var _ Iterator = (*Cursor)(nil)

// Valid implements Iterator.
func (c *Cursor) Valid() bool {
	return c.pos >= 0 && c.pos < c.ix.tree.Len()
}

// Get implements Iterator.
func (c *Cursor) Get() (*fs.Record, error) {
	if !c.Valid() {
		return nil, ErrNoSuchElement
	}
	r, ok := c.ix.tree.GetAt(c.pos)
	if !ok {
		return nil, ErrNoSuchElement
	}
	return r, nil
}

// MoveToFirst implements Iterator.
func (c *Cursor) MoveToFirst() { c.pos = 0 }

// MoveToLast implements Iterator.
func (c *Cursor) MoveToLast() { c.pos = c.ix.tree.Len() - 1 }

// MoveToNext implements Iterator.
func (c *Cursor) MoveToNext() {
	if c.Valid() {
		c.pos++
	}
}

// MoveToPrevious implements Iterator.
func (c *Cursor) MoveToPrevious() {
	if c.Valid() {
		c.pos--
	}
}

// MoveTo implements Iterator.
func (c *Cursor) MoveTo(r *fs.Record) { c.pos = c.ix.lowerBound(r) }

// Copy implements Iterator.
func (c *Cursor) Copy() Iterator { return &Cursor{ix: c.ix, pos: c.pos} }

// Index returns the index the cursor walks.
func (c *Cursor) Index() *Index { return c.ix }
