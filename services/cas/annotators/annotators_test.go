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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianCAS/services/cas/config"
	"github.com/AleutianAI/AleutianCAS/services/cas/fs"
	"github.com/AleutianAI/AleutianCAS/services/cas/store"
	"github.com/AleutianAI/AleutianCAS/services/cas/types"
)

const sampleText = "The dog saw the cat. It costs 3.50 dollars! Done"

func newStore(t *testing.T, opts ...store.Option) *store.Store {
	t.Helper()
	f, err := config.Default(context.Background())
	require.NoError(t, err)
	schema, err := f.Build()
	require.NoError(t, err)
	st, err := schema.NewStore(opts...)
	require.NoError(t, err)
	return st
}

func coveredTexts(t *testing.T, st *store.Store, typeName string) []string {
	t.Helper()
	ix, err := st.AnnotationIndex(typeName)
	require.NoError(t, err)
	var out []string
	for _, r := range ix.Records() {
		out = append(out, st.CoveredText(r))
	}
	return out
}

func featureString(t *testing.T, r *fs.Record, name string) string {
	t.Helper()
	v, ok := r.Feature(name)
	require.True(t, ok, "feature %s missing on %s", name, r)
	s, ok := v.AsString()
	require.True(t, ok)
	return s
}

func TestTokenizer(t *testing.T) {
	st := newStore(t, store.WithDocumentText(sampleText))
	require.NoError(t, NewTokenizer().Process(context.Background(), st))

	assert.Equal(t,
		[]string{"The", "dog", "saw", "the", "cat", ".", "It", "costs", "3.50", "dollars", "!", "Done"},
		coveredTexts(t, st, "Token"))
	assert.Equal(t, []string{"3.50"}, coveredTexts(t, st, "Number"))
	assert.Equal(t, []string{".", "!"}, coveredTexts(t, st, "Punctuation"))
	assert.Len(t, coveredTexts(t, st, "Word"), 9)

	ix, err := st.AnnotationIndex("Token")
	require.NoError(t, err)
	first := ix.Records()[0]
	assert.Equal(t, KindWord, featureString(t, first, FeatureKind))
	assert.Equal(t, "the", featureString(t, first, FeatureText))
}

func TestTokenizer_FillsKeyedIndexes(t *testing.T) {
	st := newStore(t, store.WithDocumentText(sampleText))
	require.NoError(t, NewTokenizer().Process(context.Background(), st))

	byKind, err := st.Index("TokenByKind")
	require.NoError(t, err)
	var kinds []string
	for _, r := range byKind.Records() {
		kinds = append(kinds, featureString(t, r, FeatureKind))
	}
	require.Len(t, kinds, 12)
	assert.Equal(t, KindNumber, kinds[0])
	assert.Equal(t, []string{KindPunct, KindPunct}, kinds[1:3])
	for _, k := range kinds[3:] {
		assert.Equal(t, KindWord, k)
	}

	// "The" and "the" share a key, so the set index keeps one of them.
	byText, err := st.Index("WordByText")
	require.NoError(t, err)
	assert.Equal(t, 8, byText.Size())
	assert.Equal(t, "The", st.CoveredText(byText.Records()[len(byText.Records())-1]))
}

func TestTokenizer_Patterns(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"hyphen and apostrophe", "state-of-the-art don't", []string{"state-of-the-art", "don't"}},
		{"grouped number", "1,000 items", []string{"1,000", "items"}},
		{"symbols split", "ok?!", []string{"ok", "?", "!"}},
		{"unicode letters", "naïve café", []string{"naïve", "café"}},
		{"whitespace only", " \t\n", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newStore(t, store.WithDocumentText(tt.text))
			require.NoError(t, NewTokenizer().Process(context.Background(), st))
			assert.Equal(t, tt.want, coveredTexts(t, st, "Token"))
		})
	}
}

func TestTokenizer_Errors(t *testing.T) {
	t.Run("no document text", func(t *testing.T) {
		st := newStore(t)
		assert.ErrorIs(t, NewTokenizer().Process(context.Background(), st), ErrNoDocumentText)
	})

	t.Run("cancelled", func(t *testing.T) {
		st := newStore(t, store.WithDocumentText(sampleText))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.ErrorIs(t, NewTokenizer().Process(ctx, st), context.Canceled)
		assert.Zero(t, st.Len())
	})

	t.Run("unknown type", func(t *testing.T) {
		st := newStore(t, store.WithDocumentText(sampleText))
		tok := NewTokenizerWithTypes(TokenTypes{Word: "Noun", Number: "Number", Punct: "Punctuation"})
		assert.ErrorIs(t, tok.Process(context.Background(), st), types.ErrUnknownType)
		assert.Zero(t, st.Len())
	})
}

func TestSentenceSplitter(t *testing.T) {
	st := newStore(t, store.WithDocumentText(sampleText))
	for _, a := range Default() {
		require.NoError(t, a.Process(context.Background(), st), a.Name())
	}

	assert.Equal(t,
		[]string{"The dog saw the cat.", "It costs 3.50 dollars!", "Done"},
		coveredTexts(t, st, "Sentence"))

	ix, err := st.AnnotationIndex("Sentence")
	require.NoError(t, err)
	second := ix.Records()[1]
	assert.Equal(t, strings.Index(sampleText, "It"), second.Begin())

	covered, err := st.CoveredBy(context.Background(), second, "Token")
	require.NoError(t, err)
	assert.Len(t, covered, 5)
}

func TestSentenceSplitter_Edges(t *testing.T) {
	t.Run("no tokens", func(t *testing.T) {
		st := newStore(t, store.WithDocumentText("   "))
		require.NoError(t, NewSentenceSplitter().Process(context.Background(), st))
		assert.Empty(t, coveredTexts(t, st, "Sentence"))
	})

	t.Run("terminator only", func(t *testing.T) {
		st := newStore(t, store.WithDocumentText("Hi. ."))
		for _, a := range Default() {
			require.NoError(t, a.Process(context.Background(), st))
		}
		assert.Equal(t, []string{"Hi.", "."}, coveredTexts(t, st, "Sentence"))
	})

	t.Run("no document text", func(t *testing.T) {
		st := newStore(t)
		assert.ErrorIs(t, NewSentenceSplitter().Process(context.Background(), st), ErrNoDocumentText)
	})
}

func TestAnnotatorNames(t *testing.T) {
	names := make(map[string]bool)
	for _, a := range Default() {
		names[a.Name()] = true
	}
	assert.Equal(t, map[string]bool{"tokenizer": true, "sentence-splitter": true}, names)
}
