// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package constraint provides composable record predicates and an iterator
// that filters another iterator by a predicate.
//
// A Constraint is a tagged value evaluated by a single recursive Match.
// Constraints are immutable once built and safe to share between goroutines;
// a FilteredIterator is not.
package constraint

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianCAS/services/cas/fs"
	"github.com/AleutianAI/AleutianCAS/services/cas/types"
)

// Kind tags the variant held by a Constraint.
type Kind int

const (
	KindType Kind = iota
	KindPath
	KindAnd
	KindOr
	KindNot
)

// Op is the test a path constraint applies to the value it reaches.
type Op int

const (
	OpEq Op = iota
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpBetween
	OpExists
	OpEmbed
)

var opSymbols = map[Op]string{
	OpEq: "==", OpNe: "!=", OpLt: "<", OpLe: "<=", OpGt: ">", OpGe: ">=",
}

// Constraint is a predicate over records.
type Constraint struct {
	kind Kind

	// KindType
	ts    *types.TypeSystem
	types []*types.Type

	// KindPath
	path   []string
	op     Op
	lo, hi fs.Value
	inner  *Constraint

	// KindAnd, KindOr, KindNot
	children []*Constraint
}

// Kind returns the variant tag.
func (c *Constraint) Kind() Kind { return c.kind }

// Type matches records whose type is subsumed by any of the given types.
func Type(ts *types.TypeSystem, of ...*types.Type) *Constraint {
	return &Constraint{kind: KindType, ts: ts, types: of}
}

// TypeNames is Type with types looked up by name.
func TypeNames(ts *types.TypeSystem, names ...string) (*Constraint, error) {
	out := make([]*types.Type, 0, len(names))
	for _, n := range names {
		t, ok := ts.Type(n)
		if !ok {
			return nil, fmt.Errorf("constraint: %w: %q", types.ErrUnknownType, n)
		}
		out = append(out, t)
	}
	return Type(ts, out...), nil
}

// And matches when every child matches. An empty And matches everything.
func And(cs ...*Constraint) *Constraint { return &Constraint{kind: KindAnd, children: cs} }

// Or matches when any child matches. An empty Or matches nothing.
func Or(cs ...*Constraint) *Constraint { return &Constraint{kind: KindOr, children: cs} }

// Not inverts c. Not(nil) matches nothing.
func Not(c *Constraint) *Constraint { return &Constraint{kind: KindNot, children: []*Constraint{c}} }

// Path builds constraints on the value reached by following a chain of
// feature names from the record. Every element but the last must hold a
// reference. An empty path addresses the record itself.
type Path struct {
	names []string
}

// Feature starts a path constraint.
func Feature(path ...string) Path {
	return Path{names: append([]string(nil), path...)}
}

func (p Path) build(op Op, lo, hi fs.Value, inner *Constraint) *Constraint {
	return &Constraint{kind: KindPath, path: p.names, op: op, lo: lo, hi: hi, inner: inner}
}

// Eq matches values equal to v. Ints and floats compare numerically.
func (p Path) Eq(v fs.Value) *Constraint { return p.build(OpEq, v, fs.Value{}, nil) }

// Ne matches present values not equal to v.
func (p Path) Ne(v fs.Value) *Constraint { return p.build(OpNe, v, fs.Value{}, nil) }

// Lt matches values less than v.
func (p Path) Lt(v fs.Value) *Constraint { return p.build(OpLt, v, fs.Value{}, nil) }

// Le matches values less than or equal to v.
func (p Path) Le(v fs.Value) *Constraint { return p.build(OpLe, v, fs.Value{}, nil) }

// Gt matches values greater than v.
func (p Path) Gt(v fs.Value) *Constraint { return p.build(OpGt, v, fs.Value{}, nil) }

// Ge matches values greater than or equal to v.
func (p Path) Ge(v fs.Value) *Constraint { return p.build(OpGe, v, fs.Value{}, nil) }

// Between matches values in the inclusive range [lo, hi].
func (p Path) Between(lo, hi fs.Value) *Constraint { return p.build(OpBetween, lo, hi, nil) }

// Exists matches when the path resolves to a value.
func (p Path) Exists() *Constraint { return p.build(OpExists, fs.Value{}, fs.Value{}, nil) }

// Matches applies inner to the record the path references.
func (p Path) Matches(inner *Constraint) *Constraint {
	return p.build(OpEmbed, fs.Value{}, fs.Value{}, inner)
}

// Match reports whether r satisfies c. A nil record never matches.
func (c *Constraint) Match(r *fs.Record) bool {
	if r == nil {
		return false
	}
	if c == nil {
		return true
	}
	switch c.kind {
	case KindType:
		for _, t := range c.types {
			if c.ts.Subsumes(t, r.Type()) {
				return true
			}
		}
		return false
	case KindPath:
		return c.matchPath(r)
	case KindAnd:
		for _, ch := range c.children {
			if !ch.Match(r) {
				return false
			}
		}
		return true
	case KindOr:
		for _, ch := range c.children {
			if ch.Match(r) {
				return true
			}
		}
		return false
	case KindNot:
		return !c.children[0].Match(r)
	}
	return false
}

func (c *Constraint) matchPath(r *fs.Record) bool {
	v, ok := resolve(r, c.path)
	if !ok {
		return false
	}
	switch c.op {
	case OpExists:
		return true
	case OpEmbed:
		ref, isRef := v.AsRef()
		return isRef && c.inner.Match(ref)
	case OpBetween:
		return sameDomain(v, c.lo) && sameDomain(v, c.hi) &&
			v.Compare(c.lo) >= 0 && v.Compare(c.hi) <= 0
	}

	if !sameDomain(v, c.lo) {
		return c.op == OpNe
	}
	d := v.Compare(c.lo)
	switch c.op {
	case OpEq:
		return d == 0
	case OpNe:
		return d != 0
	case OpLt:
		return d < 0
	case OpLe:
		return d <= 0
	case OpGt:
		return d > 0
	case OpGe:
		return d >= 0
	}
	return false
}

// resolve follows path from r. It fails when an intermediate feature is
// missing or not a reference, or the final feature is unset.
func resolve(r *fs.Record, path []string) (fs.Value, bool) {
	if len(path) == 0 {
		return fs.Ref(r), true
	}
	cur := r
	for _, name := range path[:len(path)-1] {
		v, ok := cur.Feature(name)
		if !ok {
			return fs.Value{}, false
		}
		next, isRef := v.AsRef()
		if !isRef || next == nil {
			return fs.Value{}, false
		}
		cur = next
	}
	v, ok := cur.Feature(path[len(path)-1])
	if !ok || v.IsNone() {
		return fs.Value{}, false
	}
	return v, true
}

func sameDomain(a, b fs.Value) bool {
	numeric := func(k fs.Kind) bool { return k == fs.KindInt || k == fs.KindFloat }
	return a.Kind() == b.Kind() || (numeric(a.Kind()) && numeric(b.Kind()))
}

func (c *Constraint) String() string {
	if c == nil {
		return "any"
	}
	switch c.kind {
	case KindType:
		names := make([]string, len(c.types))
		for i, t := range c.types {
			names[i] = t.Name()
		}
		return "type(" + strings.Join(names, "|") + ")"
	case KindPath:
		p := strings.Join(c.path, ".")
		if p == "" {
			p = "self"
		}
		switch c.op {
		case OpExists:
			return p + " exists"
		case OpEmbed:
			return p + " -> " + c.inner.String()
		case OpBetween:
			return fmt.Sprintf("%s in [%s, %s]", p, c.lo, c.hi)
		}
		return fmt.Sprintf("%s %s %s", p, opSymbols[c.op], c.lo)
	case KindAnd, KindOr:
		parts := make([]string, len(c.children))
		for i, ch := range c.children {
			parts[i] = ch.String()
		}
		sep := " && "
		if c.kind == KindOr {
			sep = " || "
		}
		return "(" + strings.Join(parts, sep) + ")"
	case KindNot:
		return "!" + c.children[0].String()
	}
	return "constraint(?)"
}
