// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package index provides ordered, type-scoped views over the records of a
// CAS store, and the bidirectional iterator contract shared by every
// traversal in the engine.
//
// # Ownership Model
//
// An Index stores pointers to records but does NOT own them:
//   - The ordering key of an indexed record MUST NOT change while it is indexed
//   - To change a key feature: remove the record, update it, insert it again
//   - Removing a record from the store removes it from every index
//
// # Thread Safety
//
// Index and its iterators are NOT safe for concurrent use. A store and the
// indexes derived from it are owned by one goroutine at a time. Mutating an
// index while an iterator over it is in use gives unspecified iteration
// results; this is a caller obligation and is not checked.
package index

import (
	"errors"
)

// Sentinel errors for index operations.
var (
	// ErrNoSuchElement is returned by Iterator.Get on an invalid cursor.
	ErrNoSuchElement = errors.New("no such element")

	// ErrInvalidDefinition is returned when an index definition is incomplete.
	ErrInvalidDefinition = errors.New("invalid index definition")

	// ErrUnknownKind is returned when parsing an unrecognized index kind.
	ErrUnknownKind = errors.New("unknown index kind")
)
