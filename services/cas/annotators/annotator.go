// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package annotators provides reference annotators that populate a store
// from its document text.
//
// A Tokenizer splits the text into Word, Number and Punctuation tokens; a
// SentenceSplitter groups tokens into Sentence annotations ending at
// terminal punctuation. Both bulk-load their output through
// store.AddBatch.
//
// # Offsets
//
// Spans are byte offsets into the document text.
//
// # Thread Safety
//
// Annotators hold no per-document state and may be shared by concurrent
// workers, each with its own store.
package annotators

import (
	"context"
	"errors"

	"github.com/AleutianAI/AleutianCAS/services/cas/store"
)

// Feature names written by the reference annotators.
const (
	// FeatureKind holds the token class: "word", "number" or "punct".
	FeatureKind = "kind"

	// FeatureText holds the lowercased covered text of a token.
	FeatureText = "text"
)

// Token kinds stored in FeatureKind.
const (
	KindWord   = "word"
	KindNumber = "number"
	KindPunct  = "punct"
)

// contextCheckInterval is how often annotators check for cancellation.
const contextCheckInterval = 1000

// ErrNoDocumentText is returned when the store has no document text.
var ErrNoDocumentText = errors.New("annotators: store has no document text")

// Annotator adds annotations to a store.
type Annotator interface {
	// Name returns a unique identifier for this annotator.
	Name() string

	// Process reads the store and adds annotations to it.
	//
	// # Inputs
	//
	//   - ctx: Context for cancellation. Implementations return ctx.Err()
	//     when it is cancelled.
	//   - st: The document's store. Owned by the caller for the call.
	//
	// # Outputs
	//
	//   - error: Non-nil on failure. Implementations add nothing on failure.
	Process(ctx context.Context, st *store.Store) error
}

// Default returns the reference pipeline: a Tokenizer followed by a
// SentenceSplitter.
func Default() []Annotator {
	return []Annotator{NewTokenizer(), NewSentenceSplitter()}
}
