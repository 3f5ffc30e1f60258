// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package types

import (
	"cmp"
	"fmt"
)

// Priorities ranks types for the type-priority step of an index ordering.
//
// Priorities is built from one or more priority lists, each naming types
// from highest priority (sorts first) to lowest. The lists are merged into a
// single linear order; contradicting lists are rejected. A type inherits the
// rank of its nearest listed ancestor. Types with no listed ancestor share
// one unranked bucket after every ranked type, which keeps the relation a
// total preorder.
//
// A nil *Priorities is valid and compares every pair as equal.
//
// Priorities is immutable after construction and safe for concurrent use.
type Priorities struct {
	order []*Type

	// ranks is indexed by TypeID-1 and covers every type of the system.
	ranks []int
}

// NewPriorities merges the priority lists over a committed type system.
//
// Errors:
//
//	ErrNotCommitted - ts has not been committed
//	ErrUnknownType - a list names an undeclared type
//	ErrPriorityCycle - the lists cannot be merged into one linear order
func NewPriorities(ts *TypeSystem, lists ...[]string) (*Priorities, error) {
	if !ts.IsCommitted() {
		return nil, fmt.Errorf("priorities: %w", ErrNotCommitted)
	}

	// Nodes in order of first appearance; edges between consecutive entries.
	var nodes []*Type
	seen := make(map[*Type]int)
	succ := make(map[*Type][]*Type)
	indegree := make(map[*Type]int)

	for li, list := range lists {
		var prev *Type
		for _, name := range list {
			t, ok := ts.Type(name)
			if !ok {
				return nil, fmt.Errorf("priority list %d: %w: %s", li, ErrUnknownType, name)
			}
			if _, ok := seen[t]; !ok {
				seen[t] = len(nodes)
				nodes = append(nodes, t)
			}
			if prev != nil {
				succ[prev] = append(succ[prev], t)
				indegree[t]++
			}
			prev = t
		}
	}

	// Kahn's algorithm, always releasing the earliest-seen ready node.
	ready := make([]bool, len(nodes))
	for i, t := range nodes {
		ready[i] = indegree[t] == 0
	}
	done := make([]bool, len(nodes))
	order := make([]*Type, 0, len(nodes))

	for len(order) < len(nodes) {
		pick := -1
		for i := range nodes {
			if ready[i] && !done[i] {
				pick = i
				break
			}
		}
		if pick < 0 {
			return nil, fmt.Errorf("%w among %d listed types", ErrPriorityCycle, len(nodes)-len(order))
		}
		t := nodes[pick]
		done[pick] = true
		order = append(order, t)
		for _, s := range succ[t] {
			indegree[s]--
			if indegree[s] == 0 {
				ready[seen[s]] = true
			}
		}
	}

	p := &Priorities{
		order: order,
		ranks: make([]int, ts.Len()),
	}
	listed := make(map[*Type]int, len(order))
	for i, t := range order {
		listed[t] = i
	}
	unranked := len(order)
	for _, t := range ts.types {
		rank := unranked
		for a := t; a != nil; a = a.parent {
			if r, ok := listed[a]; ok {
				rank = r
				break
			}
		}
		p.ranks[t.id-1] = rank
	}

	return p, nil
}

// Rank returns the priority rank of t. Lower ranks sort first. Unlisted
// types, nil, and types foreign to the system get the unranked value.
func (p *Priorities) Rank(t *Type) int {
	if p == nil || t == nil || int(t.id) > len(p.ranks) || t.id < 1 {
		return p.unranked()
	}
	return p.ranks[t.id-1]
}

func (p *Priorities) unranked() int {
	if p == nil {
		return 0
	}
	return len(p.order)
}

// Compare orders two types by priority.
func (p *Priorities) Compare(a, b *Type) int {
	if p == nil || a == b {
		return 0
	}
	return cmp.Compare(p.Rank(a), p.Rank(b))
}

// Order returns the merged linear order of listed types.
func (p *Priorities) Order() []*Type {
	if p == nil {
		return nil
	}
	out := make([]*Type, len(p.order))
	copy(out, p.order)
	return out
}
