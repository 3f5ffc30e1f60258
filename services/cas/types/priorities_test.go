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

func TestNewPriorities_RequiresCommit(t *testing.T) {
	ts := NewTypeSystem()
	_, err := NewPriorities(ts)
	assert.True(t, errors.Is(err, ErrNotCommitted))
}

func TestPriorities_Compare(t *testing.T) {
	ts := buildTestSystem(t)
	p, err := NewPriorities(ts, []string{"Sentence", "Token"})
	require.NoError(t, err)

	sentence := ts.MustType("Sentence")
	token := ts.MustType("Token")
	word := ts.MustType("Word")
	lemma := ts.MustType("Lemma")

	assert.Equal(t, -1, p.Compare(sentence, token))
	assert.Equal(t, 1, p.Compare(token, sentence))

	// Word inherits Token's rank.
	assert.Equal(t, 0, p.Compare(token, word))
	assert.Equal(t, -1, p.Compare(sentence, word))

	// Unlisted types sort after every listed type and tie with each other.
	assert.Equal(t, -1, p.Compare(token, lemma))
	assert.Equal(t, 0, p.Compare(lemma, ts.Annotation()))
}

func TestPriorities_MergesLists(t *testing.T) {
	ts := buildTestSystem(t)
	p, err := NewPriorities(ts,
		[]string{"Sentence", "Token"},
		[]string{"Lemma", "Sentence"},
	)
	require.NoError(t, err)

	var names []string
	for _, tp := range p.Order() {
		names = append(names, tp.Name())
	}
	assert.Equal(t, []string{"Lemma", "Sentence", "Token"}, names)
	assert.Equal(t, -1, p.Compare(ts.MustType("Lemma"), ts.MustType("Word")))
}

func TestPriorities_Errors(t *testing.T) {
	ts := buildTestSystem(t)

	_, err := NewPriorities(ts, []string{"Sentence", "Token"}, []string{"Token", "Sentence"})
	assert.True(t, errors.Is(err, ErrPriorityCycle))

	_, err = NewPriorities(ts, []string{"Sentence", "Nope"})
	assert.True(t, errors.Is(err, ErrUnknownType))
}

func TestPriorities_Nil(t *testing.T) {
	ts := buildTestSystem(t)
	var p *Priorities

	assert.Equal(t, 0, p.Compare(ts.MustType("Sentence"), ts.MustType("Token")))
	assert.Nil(t, p.Order())
}
