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
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/tidwall/btree"

	"github.com/AleutianAI/AleutianCAS/services/cas/fs"
	"github.com/AleutianAI/AleutianCAS/services/cas/order"
	"github.com/AleutianAI/AleutianCAS/services/cas/types"
)

// Kind selects how an index treats records with equal keys.
type Kind int

const (
	// KindSorted keeps every record, ordered by keys then identity.
	KindSorted Kind = iota

	// KindSet keeps at most one record per key.
	KindSet

	// KindBag keeps every record in creation order and ignores keys.
	KindBag
)

func (k Kind) String() string {
	switch k {
	case KindSorted:
		return "sorted"
	case KindSet:
		return "set"
	case KindBag:
		return "bag"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind parses "sorted", "set" or "bag", case-insensitively.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "sorted", "":
		return KindSorted, nil
	case "set":
		return KindSet, nil
	case "bag":
		return KindBag, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Definition describes an index.
type Definition struct {
	// Label names the index within its store.
	Label string

	// Type selects the records: Type and all of its subtypes.
	Type *types.Type

	// Kind selects duplicate handling.
	Kind Kind

	// Order sorts the records. Required for sorted and set indexes,
	// ignored for bags.
	Order *order.Order
}

// Index is an ordered view over the records of one type and its subtypes.
type Index struct {
	def  Definition
	ts   *types.TypeSystem
	cmp  func(a, b *fs.Record) int
	tree *btree.BTreeG[*fs.Record]
}

// New creates an empty index.
//
// Errors:
//
//	ErrInvalidDefinition - missing label, type, or order for a keyed kind
func New(ts *types.TypeSystem, def Definition) (*Index, error) {
	if def.Label == "" {
		return nil, fmt.Errorf("%w: empty label", ErrInvalidDefinition)
	}
	if def.Type == nil {
		return nil, fmt.Errorf("%w: %s: nil type", ErrInvalidDefinition, def.Label)
	}

	var cmp func(a, b *fs.Record) int
	switch def.Kind {
	case KindSorted, KindSet:
		if def.Order == nil {
			return nil, fmt.Errorf("%w: %s: %s index needs an order", ErrInvalidDefinition, def.Label, def.Kind)
		}
		cmp = def.Order.Compare
		if def.Kind == KindSet {
			cmp = def.Order.CompareKeys
		}
	case KindBag:
		cmp = order.Identity{}.Compare
	default:
		return nil, fmt.Errorf("%w: %s: %s", ErrInvalidDefinition, def.Label, def.Kind)
	}

	ix := &Index{def: def, ts: ts, cmp: cmp}
	ix.tree = ix.newTree()
	return ix, nil
}

func (ix *Index) newTree() *btree.BTreeG[*fs.Record] {
	less := func(a, b *fs.Record) bool { return ix.cmp(a, b) < 0 }
	return btree.NewBTreeGOptions(less, btree.Options{NoLocks: true})
}

// Label returns the index label.
func (ix *Index) Label() string { return ix.def.Label }

// Type returns the indexed type.
func (ix *Index) Type() *types.Type { return ix.def.Type }

// Kind returns the index kind.
func (ix *Index) Kind() Kind { return ix.def.Kind }

// Order returns the index order, nil for bags.
func (ix *Index) Order() *order.Order { return ix.def.Order }

// Definition returns the definition the index was built from.
func (ix *Index) Definition() Definition { return ix.def }

// Accepts reports whether r belongs in this index by type.
func (ix *Index) Accepts(r *fs.Record) bool {
	return r != nil && ix.ts.Subsumes(ix.def.Type, r.Type())
}

// Size returns the number of indexed records.
func (ix *Index) Size() int { return ix.tree.Len() }

// Insert adds r. It returns false when r is not accepted by type, is
// already indexed, or, for a set index, another record holds the same key.
func (ix *Index) Insert(r *fs.Record) bool {
	if !ix.Accepts(r) {
		return false
	}
	if _, found := ix.tree.Get(r); found {
		return false
	}
	ix.tree.Set(r)
	return true
}

// Remove deletes r by identity. A set index never drops a different record
// that merely shares r's key.
func (ix *Index) Remove(r *fs.Record) bool {
	if r == nil {
		return false
	}
	got, found := ix.tree.Get(r)
	if !found || got != r {
		return false
	}
	ix.tree.Delete(r)
	return true
}

// Contains reports whether r itself is indexed.
func (ix *Index) Contains(r *fs.Record) bool {
	if r == nil {
		return false
	}
	got, found := ix.tree.Get(r)
	return found && got == r
}

// Find returns the indexed record comparing equal to probe: for a set index
// the record holding probe's key, otherwise probe itself if indexed.
func (ix *Index) Find(probe *fs.Record) (*fs.Record, bool) {
	if probe == nil {
		return nil, false
	}
	return ix.tree.Get(probe)
}

// Load bulk-inserts records. The batch is sorted once and appended to the
// tree in order, which avoids rebalancing on every insert when the index is
// being filled. Records that Insert would reject are skipped; for a set
// index the first record in the batch holding a key wins. Load returns the
// number of records added.
func (ix *Index) Load(records []*fs.Record) int {
	batch := make([]*fs.Record, 0, len(records))
	for _, r := range records {
		if ix.Accepts(r) {
			batch = append(batch, r)
		}
	}
	slices.SortStableFunc(batch, ix.cmp)

	added := 0
	var prev *fs.Record
	for _, r := range batch {
		if prev != nil && ix.cmp(prev, r) == 0 {
			continue
		}
		prev = r
		if _, found := ix.tree.Get(r); found {
			continue
		}
		ix.tree.Load(r)
		added++
	}
	return added
}

// At returns the record at position i.
func (ix *Index) At(i int) (*fs.Record, bool) { return ix.tree.GetAt(i) }

// Iterator returns a cursor positioned at the first record.
func (ix *Index) Iterator() *Cursor { return &Cursor{ix: ix} }

// Records returns all records in index order.
func (ix *Index) Records() []*fs.Record { return ix.tree.Items() }

// Scan calls fn for each record in order until fn returns false.
func (ix *Index) Scan(fn func(r *fs.Record) bool) { ix.tree.Scan(fn) }

// Clear removes every record.
func (ix *Index) Clear() { ix.tree = ix.newTree() }

// lowerBound returns the position of the first record not less than r.
func (ix *Index) lowerBound(r *fs.Record) int {
	return sort.Search(ix.tree.Len(), func(i int) bool {
		x, _ := ix.tree.GetAt(i)
		return ix.cmp(x, r) >= 0
	})
}

func (ix *Index) String() string {
	return fmt.Sprintf("index(%s %s %s, %d records)", ix.def.Label, ix.def.Kind, ix.def.Type, ix.Size())
}
