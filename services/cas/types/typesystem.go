// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package types provides the closed, hierarchical type universe used by the
// CAS record store and its indexes.
//
// A TypeSystem starts with two built-in types: TOP, the root of every
// hierarchy, and Annotation, the root of all span-bearing types. User types
// are added with AddType and the universe is frozen with Commit, after which
// subsumption checks are O(1) interval tests.
//
// # Thread Safety
//
// A TypeSystem is not safe for concurrent mutation. Once committed it is
// read-only and may be shared by any number of stores and goroutines.
package types

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// Names of the built-in types.
const (
	TopTypeName        = "uima.cas.TOP"
	AnnotationTypeName = "uima.tcas.Annotation"
)

// Sentinel errors for type system operations.
var (
	// ErrDuplicateType is returned when adding a type whose name already exists.
	ErrDuplicateType = errors.New("duplicate type")

	// ErrUnknownType is returned when a type name cannot be resolved.
	ErrUnknownType = errors.New("unknown type")

	// ErrCommitted is returned when mutating a committed type system.
	ErrCommitted = errors.New("type system is committed")

	// ErrNotCommitted is returned by operations that need a frozen universe.
	ErrNotCommitted = errors.New("type system is not committed")

	// ErrInvalidTypeName is returned for empty names or names containing whitespace.
	ErrInvalidTypeName = errors.New("invalid type name")

	// ErrPriorityCycle is returned when priority lists contradict each other.
	ErrPriorityCycle = errors.New("type priority cycle")
)

// TypeID is the stable identifier of a type within its TypeSystem.
// IDs start at 1; the zero value never names a type.
type TypeID int32

// Type is a node in the type hierarchy.
type Type struct {
	id         TypeID
	name       string
	parent     *Type
	children   []*Type
	annotation bool

	// pre/post are DFS numbers assigned at Commit.
	pre, post int
}

// ID returns the type's identifier.
func (t *Type) ID() TypeID { return t.id }

// Name returns the fully qualified type name.
func (t *Type) Name() string { return t.name }

// Parent returns the supertype, or nil for TOP.
func (t *Type) Parent() *Type { return t.parent }

// IsAnnotation reports whether records of this type carry a span.
func (t *Type) IsAnnotation() bool { return t.annotation }

func (t *Type) String() string {
	if t == nil {
		return "<nil>"
	}
	return t.name
}

// TypeSystem is the set of all types known to a store.
type TypeSystem struct {
	types     []*Type
	byName    map[string]*Type
	committed bool
}

// NewTypeSystem returns an uncommitted type system holding TOP and Annotation.
func NewTypeSystem() *TypeSystem {
	ts := &TypeSystem{byName: make(map[string]*Type)}
	top := ts.add(TopTypeName, nil)
	ann := ts.add(AnnotationTypeName, top)
	ann.annotation = true
	return ts
}

func (ts *TypeSystem) add(name string, parent *Type) *Type {
	t := &Type{
		id:     TypeID(len(ts.types) + 1),
		name:   name,
		parent: parent,
	}
	if parent != nil {
		t.annotation = parent.annotation
		parent.children = append(parent.children, t)
	}
	ts.types = append(ts.types, t)
	ts.byName[name] = t
	return t
}

// AddType declares a new type as a direct subtype of parentName.
//
// Errors:
//
//	ErrCommitted - the type system is frozen
//	ErrInvalidTypeName - name is empty or contains whitespace
//	ErrDuplicateType - name is already declared
//	ErrUnknownType - parentName is not declared
func (ts *TypeSystem) AddType(name, parentName string) (*Type, error) {
	if ts.committed {
		return nil, fmt.Errorf("add %q: %w", name, ErrCommitted)
	}
	if err := validateName(name); err != nil {
		return nil, err
	}
	if _, exists := ts.byName[name]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateType, name)
	}
	parent, ok := ts.byName[parentName]
	if !ok {
		return nil, fmt.Errorf("parent of %s: %w: %s", name, ErrUnknownType, parentName)
	}
	return ts.add(name, parent), nil
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTypeName)
	}
	if strings.IndexFunc(name, unicode.IsSpace) >= 0 {
		return fmt.Errorf("%w: %q contains whitespace", ErrInvalidTypeName, name)
	}
	return nil
}

// Commit freezes the type system and numbers the hierarchy so that
// Subsumes runs in constant time. Calling Commit twice is a no-op.
func (ts *TypeSystem) Commit() {
	if ts.committed {
		return
	}

	type frame struct {
		t    *Type
		next int
	}
	counter := 0
	stack := []frame{{t: ts.types[0]}}
	ts.types[0].pre = counter
	counter++

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next < len(top.t.children) {
			child := top.t.children[top.next]
			top.next++
			child.pre = counter
			counter++
			stack = append(stack, frame{t: child})
			continue
		}
		top.t.post = counter
		counter++
		stack = stack[:len(stack)-1]
	}

	ts.committed = true
}

// IsCommitted reports whether Commit has been called.
func (ts *TypeSystem) IsCommitted() bool { return ts.committed }

// Type looks a type up by name.
func (ts *TypeSystem) Type(name string) (*Type, bool) {
	t, ok := ts.byName[name]
	return t, ok
}

// MustType is like Type but panics on unknown names. Intended for tests
// and package-level setup with literal names.
func (ts *TypeSystem) MustType(name string) *Type {
	t, ok := ts.byName[name]
	if !ok {
		panic(fmt.Sprintf("types: %s: %s", ErrUnknownType, name))
	}
	return t
}

// TypeByID looks a type up by identifier.
func (ts *TypeSystem) TypeByID(id TypeID) (*Type, bool) {
	if id < 1 || int(id) > len(ts.types) {
		return nil, false
	}
	return ts.types[id-1], true
}

// Top returns the root type.
func (ts *TypeSystem) Top() *Type { return ts.types[0] }

// Annotation returns the root of the span-bearing types.
func (ts *TypeSystem) Annotation() *Type { return ts.types[1] }

// Len returns the number of declared types, built-ins included.
func (ts *TypeSystem) Len() int { return len(ts.types) }

// Types returns all types in declaration (ID) order.
func (ts *TypeSystem) Types() []*Type {
	out := make([]*Type, len(ts.types))
	copy(out, ts.types)
	return out
}

// Subsumes reports whether sub is super or one of its descendants.
func (ts *TypeSystem) Subsumes(super, sub *Type) bool {
	if super == nil || sub == nil {
		return false
	}
	if ts.committed {
		return super.pre <= sub.pre && sub.post <= super.post
	}
	for t := sub; t != nil; t = t.parent {
		if t == super {
			return true
		}
	}
	return false
}

// Subtypes returns t and all of its descendants in depth-first order.
func (ts *TypeSystem) Subtypes(t *Type) []*Type {
	if t == nil {
		return nil
	}
	var out []*Type
	stack := []*Type{t}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, cur)
		for i := len(cur.children) - 1; i >= 0; i-- {
			stack = append(stack, cur.children[i])
		}
	}
	return out
}
