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
	"strings"

	"github.com/AleutianAI/AleutianCAS/services/cas/fs"
	"github.com/AleutianAI/AleutianCAS/services/cas/store"
)

// defaultTerminators end a sentence when they form a whole token.
const defaultTerminators = ".!?"

// SentenceSplitter groups tokens into sentences.
//
// A sentence runs from its first token through the next punctuation token
// whose text is a terminator. Trailing tokens without a terminator form a
// final sentence.
type SentenceSplitter struct {
	tokenType    string
	sentenceType string
	terminators  string
}

// NewSentenceSplitter creates a splitter reading Token and writing Sentence.
func NewSentenceSplitter() *SentenceSplitter {
	return &SentenceSplitter{
		tokenType:    "Token",
		sentenceType: "Sentence",
		terminators:  defaultTerminators,
	}
}

// Name implements Annotator.
func (s *SentenceSplitter) Name() string { return "sentence-splitter" }

// Process implements Annotator.
func (s *SentenceSplitter) Process(ctx context.Context, st *store.Store) error {
	if _, ok := st.DocumentText(); !ok {
		return ErrNoDocumentText
	}
	ix, err := st.AnnotationIndex(s.tokenType)
	if err != nil {
		return fmt.Errorf("sentence splitter: %w", err)
	}

	var sentences []*fs.Record
	begin, end := -1, -1
	emit := func() error {
		r, err := st.CreateAnnotation(s.sentenceType, begin, end)
		if err != nil {
			return fmt.Errorf("sentence splitter: %w", err)
		}
		sentences = append(sentences, r)
		begin, end = -1, -1
		return nil
	}

	n := 0
	for it := ix.Iterator(); it.Valid(); it.MoveToNext() {
		if n%contextCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		n++
		tok, err := it.Get()
		if err != nil {
			return fmt.Errorf("sentence splitter: %w", err)
		}
		if begin < 0 {
			begin = tok.Begin()
		}
		if tok.End() > end {
			end = tok.End()
		}
		if s.terminates(tok) {
			if err := emit(); err != nil {
				return err
			}
		}
	}
	if begin >= 0 {
		if err := emit(); err != nil {
			return err
		}
	}
	return st.AddBatch(ctx, sentences)
}

// terminates reports whether tok ends a sentence.
func (s *SentenceSplitter) terminates(tok *fs.Record) bool {
	v, ok := tok.Feature(FeatureKind)
	if !ok {
		return false
	}
	if kind, _ := v.AsString(); kind != KindPunct {
		return false
	}
	text, _ := tok.Feature(FeatureText)
	str, _ := text.AsString()
	return str != "" && strings.Contains(s.terminators, str)
}
