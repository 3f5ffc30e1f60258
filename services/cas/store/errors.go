// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store provides the typed record store of a CAS view: it creates
// records, owns them, and keeps every index defined over it consistent as
// records are added, removed and updated.
//
// # Ownership Model
//
// The store owns its records. Indexes, iterators and subiterator snapshots
// hold non-owning pointers:
//   - Records added after an iterator or snapshot was acquired are only
//     visible to iterators acquired afterwards
//   - Key features of an indexed record MUST be changed through SetFeature
//   - Removing a record removes it from every index
//
// # Thread Safety
//
// Store is NOT safe for concurrent use. One annotator owns a store for the
// duration of its processing call. Independent stores may be used from
// independent goroutines.
package store

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for store operations.
var (
	// ErrInvalidRecord is returned when a record fails validation or belongs
	// to another type system.
	ErrInvalidRecord = errors.New("invalid record")

	// ErrDuplicateRecord is returned when adding a record whose ID is
	// already in the store.
	ErrDuplicateRecord = errors.New("duplicate record ID")

	// ErrMaxRecordsExceeded is returned when the store has reached its
	// configured capacity.
	ErrMaxRecordsExceeded = errors.New("maximum record count exceeded")

	// ErrSpanOutOfRange is returned when an annotation ends past the
	// document text.
	ErrSpanOutOfRange = errors.New("span out of range")

	// ErrUnknownIndex is returned when no index has the requested label.
	ErrUnknownIndex = errors.New("unknown index")

	// ErrDuplicateIndex is returned when defining an index with a label
	// already in use.
	ErrDuplicateIndex = errors.New("duplicate index label")

	// ErrNotIndexed is returned when removing or updating a record that is
	// not in the store.
	ErrNotIndexed = errors.New("record not indexed")

	// ErrNotAnnotationType is returned when an annotation operation names a
	// type that does not carry spans.
	ErrNotAnnotationType = errors.New("not an annotation type")

	// ErrDocumentTextSet is returned when the document text is set twice.
	ErrDocumentTextSet = errors.New("document text already set")
)

// BatchError aggregates multiple errors from a batch operation.
//
// AddBatch collects every problem in the batch and returns them together
// rather than failing on the first one.
type BatchError struct {
	// Errors holds one entry per problem, each prefixed with the record's
	// position in the batch (e.g. "record[3]: duplicate record ID").
	Errors []error
}

// Error returns a summary of the batch errors.
func (e *BatchError) Error() string {
	if len(e.Errors) == 0 {
		return "batch error with no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors: %v (and %d more)",
		len(e.Errors), e.Errors[0], len(e.Errors)-1)
}

// Unwrap returns the underlying errors for errors.Is and errors.As.
func (e *BatchError) Unwrap() []error {
	return e.Errors
}

// ErrorList returns all errors, one per line.
func (e *BatchError) ErrorList() string {
	var b strings.Builder
	for i, err := range e.Errors {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(err.Error())
	}
	return b.String()
}
