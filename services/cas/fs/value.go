// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fs

import (
	"cmp"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	// KindNone is the zero Value: a missing or unset feature.
	KindNone Kind = iota
	KindInt
	KindFloat
	KindString
	KindBool
	KindRef
	KindArray
)

var kindNames = [...]string{"none", "int", "float", "string", "bool", "ref", "array"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Value is a feature value: a scalar, a reference to another record, or an
// array of values. The zero Value has KindNone.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
	ref  *Record
	arr  []Value
}

// Int returns an integer value.
func Int(v int64) Value { return Value{kind: KindInt, i: v} }

// Float returns a floating point value.
func Float(v float64) Value { return Value{kind: KindFloat, f: v} }

// String returns a string value.
func String(v string) Value { return Value{kind: KindString, s: v} }

// Bool returns a boolean value.
func Bool(v bool) Value {
	var i int64
	if v {
		i = 1
	}
	return Value{kind: KindBool, i: i}
}

// Ref returns a reference to r. A nil record yields the zero Value.
func Ref(r *Record) Value {
	if r == nil {
		return Value{}
	}
	return Value{kind: KindRef, ref: r}
}

// Array returns an array value holding a copy of vs.
func Array(vs ...Value) Value {
	arr := make([]Value, len(vs))
	copy(arr, vs)
	return Value{kind: KindArray, arr: arr}
}

// Kind returns the variant of v.
func (v Value) Kind() Kind { return v.kind }

// IsNone reports whether v is unset.
func (v Value) IsNone() bool { return v.kind == KindNone }

// AsInt returns the integer held by v.
func (v Value) AsInt() (int64, bool) { return v.i, v.kind == KindInt }

// AsFloat returns the float held by v. Integers are widened.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.f, true
	case KindInt:
		return float64(v.i), true
	}
	return 0, false
}

// AsString returns the string held by v.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsBool returns the boolean held by v.
func (v Value) AsBool() (bool, bool) { return v.i != 0, v.kind == KindBool }

// AsRef returns the record referenced by v.
func (v Value) AsRef() (*Record, bool) { return v.ref, v.kind == KindRef }

// Len returns the number of elements of an array value, or 0.
func (v Value) Len() int { return len(v.arr) }

// Index returns element i of an array value.
func (v Value) Index(i int) Value {
	if i < 0 || i >= len(v.arr) {
		return Value{}
	}
	return v.arr[i]
}

// Compare orders two values. Values of different kinds order by kind, except
// that ints and floats compare numerically. None sorts before everything.
// References compare by record identity; arrays lexicographically.
func (v Value) Compare(o Value) int {
	switch {
	case v.kind == KindInt && o.kind == KindFloat:
		return compareIntFloat(v.i, o.f)
	case v.kind == KindFloat && o.kind == KindInt:
		return -compareIntFloat(o.i, v.f)
	}
	if v.kind != o.kind {
		return cmp.Compare(v.kind, o.kind)
	}
	switch v.kind {
	case KindInt, KindBool:
		return cmp.Compare(v.i, o.i)
	case KindFloat:
		return cmp.Compare(v.f, o.f)
	case KindString:
		return strings.Compare(v.s, o.s)
	case KindRef:
		return cmp.Compare(v.ref.id, o.ref.id)
	case KindArray:
		for i := 0; i < len(v.arr) && i < len(o.arr); i++ {
			if c := v.arr[i].Compare(o.arr[i]); c != 0 {
				return c
			}
		}
		return cmp.Compare(len(v.arr), len(o.arr))
	}
	return 0
}

// compareIntFloat compares i with f exactly, without rounding i to a
// float64. NaN sorts before every number, as cmp.Compare orders floats.
func compareIntFloat(i int64, f float64) int {
	const twoTo63 = float64(1 << 63)
	switch {
	case math.IsNaN(f):
		return 1
	case f >= twoTo63:
		return -1
	case f < -twoTo63:
		return 1
	}
	whole := math.Trunc(f)
	if c := cmp.Compare(i, int64(whole)); c != 0 {
		return c
	}
	return cmp.Compare(0, f-whole)
}

// Equal reports whether v and o compare equal.
func (v Value) Equal(o Value) bool { return v.Compare(o) == 0 }

func isNumeric(k Kind) bool { return k == KindInt || k == KindFloat }

func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindString:
		return strconv.Quote(v.s)
	case KindBool:
		return strconv.FormatBool(v.i != 0)
	case KindRef:
		return fmt.Sprintf("#%d", v.ref.id)
	case KindArray:
		parts := make([]string, len(v.arr))
		for i, e := range v.arr {
			parts[i] = e.String()
		}
		return "[" + strings.Join(parts, " ") + "]"
	}
	return "<none>"
}
