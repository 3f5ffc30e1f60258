// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package annotators

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/AleutianAI/AleutianCAS/services/cas/fs"
	"github.com/AleutianAI/AleutianCAS/services/cas/store"
)

// tokenPattern matches words (with inner apostrophes or hyphens), numbers
// (with inner separators) and single non-space symbols.
var tokenPattern = regexp.MustCompile(`[\p{L}\p{M}]+(?:['’-][\p{L}\p{M}]+)*|\p{N}+(?:[.,:]\p{N}+)*|[^\s\p{L}\p{M}\p{N}]`)

// TokenTypes names the types a Tokenizer creates.
type TokenTypes struct {
	Word   string
	Number string
	Punct  string
}

// DefaultTokenTypes matches the default schema.
func DefaultTokenTypes() TokenTypes {
	return TokenTypes{Word: "Word", Number: "Number", Punct: "Punctuation"}
}

// Tokenizer annotates words, numbers and punctuation.
type Tokenizer struct {
	types TokenTypes
}

// NewTokenizer creates a tokenizer using DefaultTokenTypes.
func NewTokenizer() *Tokenizer {
	return &Tokenizer{types: DefaultTokenTypes()}
}

// NewTokenizerWithTypes creates a tokenizer writing the given types.
func NewTokenizerWithTypes(tt TokenTypes) *Tokenizer {
	return &Tokenizer{types: tt}
}

// Name implements Annotator.
func (t *Tokenizer) Name() string { return "tokenizer" }

// Process implements Annotator. Every token gets FeatureKind and
// FeatureText before it is indexed, so keyed indexes see both.
func (t *Tokenizer) Process(ctx context.Context, st *store.Store) error {
	text, ok := st.DocumentText()
	if !ok {
		return ErrNoDocumentText
	}

	spans := tokenPattern.FindAllStringIndex(text, -1)
	records := make([]*fs.Record, 0, len(spans))
	for i, span := range spans {
		if i%contextCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		covered := text[span[0]:span[1]]
		kind, typeName := t.classify(covered)
		r, err := st.CreateAnnotation(typeName, span[0], span[1])
		if err != nil {
			return fmt.Errorf("tokenizer: %w", err)
		}
		if err := r.SetFeature(FeatureKind, fs.String(kind)); err != nil {
			return fmt.Errorf("tokenizer: %w", err)
		}
		if err := r.SetFeature(FeatureText, fs.String(strings.ToLower(covered))); err != nil {
			return fmt.Errorf("tokenizer: %w", err)
		}
		records = append(records, r)
	}
	return st.AddBatch(ctx, records)
}

// classify returns the token kind and type name of a matched token.
func (t *Tokenizer) classify(covered string) (kind, typeName string) {
	first, _ := utf8.DecodeRuneInString(covered)
	switch {
	case unicode.IsLetter(first) || unicode.IsMark(first):
		return KindWord, t.types.Word
	case unicode.IsNumber(first):
		return KindNumber, t.types.Number
	default:
		return KindPunct, t.types.Punct
	}
}
