// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/AleutianAI/AleutianCAS/services/cas/constraint"
	"github.com/AleutianAI/AleutianCAS/services/cas/fs"
)

// errBadWhere is returned for an unparseable --where expression.
var errBadWhere = errors.New("invalid --where expression")

// whereOps lists comparison operators, longest first.
var whereOps = []string{"==", "!=", "<=", ">=", "<", ">", "="}

// parseWhere turns "path op value" into a constraint. A bare path tests
// that the feature exists. Path segments are separated by dots.
func parseWhere(expr string) (*constraint.Constraint, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("%w: empty", errBadWhere)
	}
	if i, op := findOp(expr); i >= 0 {
		path, err := parsePath(expr[:i])
		if err != nil {
			return nil, err
		}
		v := parseValue(strings.TrimSpace(expr[i+len(op):]))
		switch op {
		case "==", "=":
			return path.Eq(v), nil
		case "!=":
			return path.Ne(v), nil
		case "<=":
			return path.Le(v), nil
		case ">=":
			return path.Ge(v), nil
		case "<":
			return path.Lt(v), nil
		default:
			return path.Gt(v), nil
		}
	}
	path, err := parsePath(expr)
	if err != nil {
		return nil, err
	}
	return path.Exists(), nil
}

// findOp returns the position and text of the leftmost operator, or -1.
// At a given position a two-character operator wins over its prefix.
func findOp(expr string) (int, string) {
	for i := range len(expr) {
		for _, op := range whereOps {
			if strings.HasPrefix(expr[i:], op) {
				return i, op
			}
		}
	}
	return -1, ""
}

func parsePath(s string) (constraint.Path, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return constraint.Path{}, fmt.Errorf("%w: missing feature name", errBadWhere)
	}
	parts := strings.Split(s, ".")
	for _, p := range parts {
		if p == "" || strings.ContainsAny(p, " \t") {
			return constraint.Path{}, fmt.Errorf("%w: bad feature path %q", errBadWhere, s)
		}
	}
	return constraint.Feature(parts...), nil
}

// parseValue reads a quoted string, bool, integer or float, falling back
// to an unquoted string.
func parseValue(s string) fs.Value {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return fs.String(s[1 : len(s)-1])
	}
	if b, err := strconv.ParseBool(s); err == nil && (s == "true" || s == "false") {
		return fs.Bool(b)
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return fs.Int(i)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return fs.Float(f)
	}
	return fs.String(s)
}
