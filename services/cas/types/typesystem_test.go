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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildTestSystem declares:
//
//	TOP
//	└── Annotation
//	    ├── Sentence
//	    └── Token
//	        └── Word
//	└── Lemma
func buildTestSystem(t *testing.T) *TypeSystem {
	t.Helper()
	ts := NewTypeSystem()
	_, err := ts.AddType("Sentence", AnnotationTypeName)
	require.NoError(t, err)
	_, err = ts.AddType("Token", AnnotationTypeName)
	require.NoError(t, err)
	_, err = ts.AddType("Word", "Token")
	require.NoError(t, err)
	_, err = ts.AddType("Lemma", TopTypeName)
	require.NoError(t, err)
	ts.Commit()
	return ts
}

func TestNewTypeSystem_Builtins(t *testing.T) {
	ts := NewTypeSystem()

	assert.Equal(t, TopTypeName, ts.Top().Name())
	assert.Equal(t, AnnotationTypeName, ts.Annotation().Name())
	assert.Equal(t, ts.Top(), ts.Annotation().Parent())
	assert.True(t, ts.Annotation().IsAnnotation())
	assert.False(t, ts.Top().IsAnnotation())
	assert.Equal(t, 2, ts.Len())
}

func TestTypeSystem_AddType(t *testing.T) {
	t.Run("inherits annotation flag", func(t *testing.T) {
		ts := buildTestSystem(t)
		assert.True(t, ts.MustType("Word").IsAnnotation())
		assert.False(t, ts.MustType("Lemma").IsAnnotation())
	})

	t.Run("duplicate name", func(t *testing.T) {
		ts := NewTypeSystem()
		_, err := ts.AddType("Token", AnnotationTypeName)
		require.NoError(t, err)
		_, err = ts.AddType("Token", AnnotationTypeName)
		assert.True(t, errors.Is(err, ErrDuplicateType))
	})

	t.Run("unknown parent", func(t *testing.T) {
		ts := NewTypeSystem()
		_, err := ts.AddType("Token", "Missing")
		assert.True(t, errors.Is(err, ErrUnknownType))
	})

	t.Run("invalid names", func(t *testing.T) {
		ts := NewTypeSystem()
		for _, name := range []string{"", "two words", "tab\tname"} {
			_, err := ts.AddType(name, TopTypeName)
			assert.True(t, errors.Is(err, ErrInvalidTypeName), "name %q", name)
		}
	})

	t.Run("committed system rejects new types", func(t *testing.T) {
		ts := buildTestSystem(t)
		_, err := ts.AddType("Late", TopTypeName)
		assert.True(t, errors.Is(err, ErrCommitted))
	})
}

func TestTypeSystem_Subsumes(t *testing.T) {
	check := func(t *testing.T, ts *TypeSystem) {
		ann := ts.Annotation()
		token := ts.MustType("Token")
		word := ts.MustType("Word")
		sentence := ts.MustType("Sentence")
		lemma := ts.MustType("Lemma")

		assert.True(t, ts.Subsumes(ts.Top(), word))
		assert.True(t, ts.Subsumes(ann, word))
		assert.True(t, ts.Subsumes(token, word))
		assert.True(t, ts.Subsumes(word, word))
		assert.False(t, ts.Subsumes(word, token))
		assert.False(t, ts.Subsumes(sentence, word))
		assert.False(t, ts.Subsumes(ann, lemma))
		assert.False(t, ts.Subsumes(nil, word))
	}

	t.Run("committed interval test", func(t *testing.T) {
		check(t, buildTestSystem(t))
	})

	t.Run("uncommitted parent walk", func(t *testing.T) {
		ts := NewTypeSystem()
		_, _ = ts.AddType("Sentence", AnnotationTypeName)
		_, _ = ts.AddType("Token", AnnotationTypeName)
		_, _ = ts.AddType("Word", "Token")
		_, _ = ts.AddType("Lemma", TopTypeName)
		check(t, ts)
	})
}

func TestTypeSystem_Subtypes(t *testing.T) {
	ts := buildTestSystem(t)

	var names []string
	for _, st := range ts.Subtypes(ts.Annotation()) {
		names = append(names, st.Name())
	}
	assert.Equal(t, []string{AnnotationTypeName, "Sentence", "Token", "Word"}, names)
	assert.Nil(t, ts.Subtypes(nil))
}

func TestTypeSystem_TypeByID(t *testing.T) {
	ts := buildTestSystem(t)
	token := ts.MustType("Token")

	got, ok := ts.TypeByID(token.ID())
	require.True(t, ok)
	assert.Same(t, token, got)

	_, ok = ts.TypeByID(0)
	assert.False(t, ok)
	_, ok = ts.TypeByID(TypeID(ts.Len() + 1))
	assert.False(t, ok)
}
