// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fs defines feature structures: typed records with named feature
// values, and annotations, the records that additionally carry a text span.
//
// # Ownership Model
//
// Records are owned by the store that created them. Indexes and iterators
// hold non-owning pointers. A record's identity, type and span never change
// after construction; feature values may be updated, but a feature used as an
// index key must only be changed through the store, which re-indexes it.
package fs

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/AleutianAI/AleutianCAS/services/cas/types"
)

// Pseudo-feature names resolving to an annotation's span.
const (
	FeatureBegin = "begin"
	FeatureEnd   = "end"
)

// Sentinel errors returned by Validate.
var (
	// ErrInvalidSpan is returned for negative or inverted spans, and for spans
	// on non-annotation records.
	ErrInvalidSpan = errors.New("invalid span")

	// ErrSpanOutOfRange is returned when a span ends past the document.
	ErrSpanOutOfRange = errors.New("span out of range")
)

// ID is a record identity. IDs are assigned in creation order, are unique
// within a store and are never zero for a real record.
type ID uint64

// Record is a feature structure.
type Record struct {
	id       ID
	typ      *types.Type
	begin    int
	end      int
	features map[string]Value
}

// New returns a record without a span.
func New(id ID, typ *types.Type) *Record {
	return &Record{id: id, typ: typ}
}

// NewAnnotation returns a record spanning [begin, end).
// The caller is responsible for validating the span; see Validate.
func NewAnnotation(id ID, typ *types.Type, begin, end int) *Record {
	return &Record{id: id, typ: typ, begin: begin, end: end}
}

// ID returns the record identity.
func (r *Record) ID() ID { return r.id }

// Type returns the record type.
func (r *Record) Type() *types.Type { return r.typ }

// IsAnnotation reports whether the record carries a span.
func (r *Record) IsAnnotation() bool { return r.typ != nil && r.typ.IsAnnotation() }

// Begin returns the span start, 0 for non-annotations.
func (r *Record) Begin() int { return r.begin }

// End returns the span end, 0 for non-annotations.
func (r *Record) End() int { return r.end }

// Len returns End-Begin.
func (r *Record) Len() int { return r.end - r.begin }

// Feature returns the named feature value. The pseudo-features "begin" and
// "end" resolve to the span of an annotation.
func (r *Record) Feature(name string) (Value, bool) {
	if r.IsAnnotation() {
		switch name {
		case FeatureBegin:
			return Int(int64(r.begin)), true
		case FeatureEnd:
			return Int(int64(r.end)), true
		}
	}
	v, ok := r.features[name]
	return v, ok
}

// SetFeature stores v under name. Setting the zero Value removes the
// feature. The span pseudo-features cannot be set.
func (r *Record) SetFeature(name string, v Value) error {
	if name == FeatureBegin || name == FeatureEnd {
		return fmt.Errorf("record #%d: span feature %q is immutable", r.id, name)
	}
	if v.IsNone() {
		delete(r.features, name)
		return nil
	}
	if r.features == nil {
		r.features = make(map[string]Value)
	}
	r.features[name] = v
	return nil
}

// FeatureNames returns the names of the stored features, sorted.
func (r *Record) FeatureNames() []string {
	return slices.Sorted(maps.Keys(r.features))
}

// Validate checks the record against documentLength. A negative
// documentLength means the document length is not known yet and only the
// lower bounds are checked.
func (r *Record) Validate(documentLength int) error {
	if r.id == 0 {
		return fmt.Errorf("record: zero id")
	}
	if r.typ == nil {
		return fmt.Errorf("record #%d: nil type", r.id)
	}
	if !r.IsAnnotation() {
		if r.begin != 0 || r.end != 0 {
			return fmt.Errorf("record #%d: %w: non-annotation type %s", r.id, ErrInvalidSpan, r.typ.Name())
		}
		return nil
	}
	if r.begin < 0 || r.end < r.begin {
		return fmt.Errorf("record #%d: %w [%d,%d)", r.id, ErrInvalidSpan, r.begin, r.end)
	}
	if documentLength >= 0 && r.end > documentLength {
		return fmt.Errorf("record #%d: %w: [%d,%d) exceeds document length %d",
			r.id, ErrSpanOutOfRange, r.begin, r.end, documentLength)
	}
	return nil
}

func (r *Record) String() string {
	if r == nil {
		return "<nil>"
	}
	if r.IsAnnotation() {
		return fmt.Sprintf("%s#%d[%d,%d)", r.typ.Name(), r.id, r.begin, r.end)
	}
	return fmt.Sprintf("%s#%d", r.typ.Name(), r.id)
}
