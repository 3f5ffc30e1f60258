// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package order defines the total orders used by CAS indexes.
//
// An Order is a list of keys followed by an identity tie-break, so no two
// distinct records ever compare equal. The annotation order is
//
//	begin ascending, end descending, type priority, identity
//
// which makes a linear scan visit an outer span before the inner spans that
// share its start. A zero-length annotation has the smallest end of all
// annotations starting at the same offset and therefore sorts after them.
package order

import (
	"cmp"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianCAS/services/cas/fs"
	"github.com/AleutianAI/AleutianCAS/services/cas/types"
)

// Direction of a key comparison.
type Direction int

const (
	Ascending Direction = iota
	Descending
)

func (d Direction) String() string {
	if d == Descending {
		return "descending"
	}
	return "ascending"
}

// Key is one comparison step of an Order. A key either compares a feature
// value or, when TypePriority is set, the records' type priorities.
type Key struct {
	Feature      string
	Direction    Direction
	TypePriority bool
}

// Asc returns an ascending feature key.
func Asc(feature string) Key { return Key{Feature: feature} }

// Desc returns a descending feature key.
func Desc(feature string) Key { return Key{Feature: feature, Direction: Descending} }

// ByTypePriority returns a type-priority key.
func ByTypePriority() Key { return Key{TypePriority: true} }

func (k Key) String() string {
	if k.TypePriority {
		return "type-priority"
	}
	return k.Feature + " " + k.Direction.String()
}

// Comparator is the contract shared by everything that orders records.
type Comparator interface {
	Compare(a, b *fs.Record) int
}

// Order compares records by its keys, then by identity.
//
// Order is immutable and safe for concurrent use.
type Order struct {
	keys []Key
	prio *types.Priorities
}

// New returns an order over keys. prio may be nil, in which case every
// type-priority key compares equal.
func New(prio *types.Priorities, keys ...Key) *Order {
	k := make([]Key, len(keys))
	copy(k, keys)
	return &Order{keys: k, prio: prio}
}

// Annotation returns the standard annotation order.
func Annotation(prio *types.Priorities) *Order {
	return New(prio, Asc(fs.FeatureBegin), Desc(fs.FeatureEnd), ByTypePriority())
}

// Keys returns a copy of the order's keys.
func (o *Order) Keys() []Key {
	k := make([]Key, len(o.keys))
	copy(k, o.keys)
	return k
}

// Priorities returns the injected type priorities, possibly nil.
func (o *Order) Priorities() *types.Priorities { return o.prio }

// IsAnnotationOrder reports whether the order starts with begin ascending,
// end descending, the prefix bounded iteration relies on.
func (o *Order) IsAnnotationOrder() bool {
	return len(o.keys) >= 2 &&
		o.keys[0] == Asc(fs.FeatureBegin) &&
		o.keys[1] == Desc(fs.FeatureEnd)
}

// References reports whether any key reads the named feature.
func (o *Order) References(feature string) bool {
	for _, k := range o.keys {
		if !k.TypePriority && k.Feature == feature {
			return true
		}
	}
	return false
}

// CompareKeys compares a and b by the keys only, without the identity
// tie-break.
func (o *Order) CompareKeys(a, b *fs.Record) int {
	for _, k := range o.keys {
		var c int
		if k.TypePriority {
			c = o.prio.Compare(a.Type(), b.Type())
		} else {
			c = compareFeature(a, b, k.Feature)
			if k.Direction == Descending {
				c = -c
			}
		}
		if c != 0 {
			return c
		}
	}
	return 0
}

// Compare is the total order: CompareKeys, then identity ascending.
func (o *Order) Compare(a, b *fs.Record) int {
	if a == b {
		return 0
	}
	if c := o.CompareKeys(a, b); c != 0 {
		return c
	}
	return cmp.Compare(a.ID(), b.ID())
}

// Less reports whether a sorts before b.
func (o *Order) Less(a, b *fs.Record) bool { return o.Compare(a, b) < 0 }

func compareFeature(a, b *fs.Record, feature string) int {
	// Span keys are on the hot path of every annotation index.
	switch feature {
	case fs.FeatureBegin:
		if a.IsAnnotation() && b.IsAnnotation() {
			return cmp.Compare(a.Begin(), b.Begin())
		}
	case fs.FeatureEnd:
		if a.IsAnnotation() && b.IsAnnotation() {
			return cmp.Compare(a.End(), b.End())
		}
	}
	va, _ := a.Feature(feature)
	vb, _ := b.Feature(feature)
	return va.Compare(vb)
}

func (o *Order) String() string {
	parts := make([]string, 0, len(o.keys)+1)
	for _, k := range o.keys {
		parts = append(parts, k.String())
	}
	parts = append(parts, "identity")
	return fmt.Sprintf("order(%s)", strings.Join(parts, ", "))
}

// Identity orders records by creation order alone.
type Identity struct{}

// Compare implements Comparator.
func (Identity) Compare(a, b *fs.Record) int { return cmp.Compare(a.ID(), b.ID()) }
