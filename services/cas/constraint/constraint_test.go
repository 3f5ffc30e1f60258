// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package constraint

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianCAS/services/cas/fs"
	"github.com/AleutianAI/AleutianCAS/services/cas/index"
	"github.com/AleutianAI/AleutianCAS/services/cas/order"
	"github.com/AleutianAI/AleutianCAS/services/cas/subiter"
	"github.com/AleutianAI/AleutianCAS/services/cas/types"
)

type fixture struct {
	ts       *types.TypeSystem
	token    *types.Type
	word     *types.Type
	sentence *types.Type
	lemma    *types.Type
	ix       *index.Index
	nextID   fs.ID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ts := types.NewTypeSystem()
	token, err := ts.AddType("Token", types.AnnotationTypeName)
	require.NoError(t, err)
	word, err := ts.AddType("Word", "Token")
	require.NoError(t, err)
	sentence, err := ts.AddType("Sentence", types.AnnotationTypeName)
	require.NoError(t, err)
	lemma, err := ts.AddType("Lemma", types.TopTypeName)
	require.NoError(t, err)
	ts.Commit()

	ix, err := index.New(ts, index.Definition{Label: "ann", Type: ts.Annotation(), Order: order.Annotation(nil)})
	require.NoError(t, err)
	return &fixture{ts: ts, token: token, word: word, sentence: sentence, lemma: lemma, ix: ix}
}

func (f *fixture) add(t *testing.T, typ *types.Type, begin, end int, feats map[string]fs.Value) *fs.Record {
	t.Helper()
	f.nextID++
	r := fs.NewAnnotation(f.nextID, typ, begin, end)
	for k, v := range feats {
		require.NoError(t, r.SetFeature(k, v))
	}
	require.True(t, f.ix.Insert(r))
	return r
}

func (f *fixture) lemmaOf(t *testing.T, text string) *fs.Record {
	t.Helper()
	f.nextID++
	l := fs.New(f.nextID, f.lemma)
	require.NoError(t, l.SetFeature("text", fs.String(text)))
	return l
}

func TestType_SubtypeInclusive(t *testing.T) {
	f := newFixture(t)
	tok := f.add(t, f.token, 0, 3, nil)
	word := f.add(t, f.word, 4, 7, nil)
	sent := f.add(t, f.sentence, 0, 7, nil)

	c := Type(f.ts, f.token)
	assert.True(t, c.Match(tok))
	assert.True(t, c.Match(word))
	assert.False(t, c.Match(sent))
	assert.False(t, c.Match(nil))

	either, err := TypeNames(f.ts, "Word", "Sentence")
	require.NoError(t, err)
	assert.False(t, either.Match(tok))
	assert.True(t, either.Match(word))
	assert.True(t, either.Match(sent))

	_, err = TypeNames(f.ts, "Noun")
	assert.True(t, errors.Is(err, types.ErrUnknownType))
}

func TestPath_Comparisons(t *testing.T) {
	f := newFixture(t)
	r := f.add(t, f.token, 3, 8, map[string]fs.Value{
		"pos":   fs.String("NN"),
		"score": fs.Float(0.5),
		"stop":  fs.Bool(false),
	})

	tests := []struct {
		name string
		c    *Constraint
		want bool
	}{
		{"eq string", Feature("pos").Eq(fs.String("NN")), true},
		{"ne string", Feature("pos").Ne(fs.String("VB")), true},
		{"eq wrong kind", Feature("pos").Eq(fs.Int(1)), false},
		{"ne wrong kind", Feature("pos").Ne(fs.Int(1)), true},
		{"begin lt", Feature("begin").Lt(fs.Int(4)), true},
		{"begin le", Feature("begin").Le(fs.Int(3)), true},
		{"end gt", Feature("end").Gt(fs.Int(8)), false},
		{"end ge", Feature("end").Ge(fs.Int(8)), true},
		{"float vs int", Feature("score").Lt(fs.Int(1)), true},
		{"between", Feature("score").Between(fs.Float(0.5), fs.Float(0.9)), true},
		{"between outside", Feature("begin").Between(fs.Int(4), fs.Int(9)), false},
		{"bool", Feature("stop").Eq(fs.Bool(false)), true},
		{"exists", Feature("pos").Exists(), true},
		{"missing", Feature("lemma").Exists(), false},
		{"missing compare", Feature("lemma").Ne(fs.String("x")), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.c.Match(r), tt.c.String())
		})
	}
}

func TestPath_FollowsReferences(t *testing.T) {
	f := newFixture(t)
	run := f.lemmaOf(t, "run")
	walk := f.lemmaOf(t, "walk")
	tok := f.add(t, f.token, 0, 4, map[string]fs.Value{"lemma": fs.Ref(run)})
	other := f.add(t, f.token, 5, 9, map[string]fs.Value{"lemma": fs.Ref(walk)})
	bare := f.add(t, f.token, 10, 12, map[string]fs.Value{"lemma": fs.String("run")})

	byText := Feature("lemma", "text").Eq(fs.String("run"))
	assert.True(t, byText.Match(tok))
	assert.False(t, byText.Match(other))
	assert.False(t, byText.Match(bare), "a non-reference intermediate does not resolve")

	embedded := Feature("lemma").Matches(And(Type(f.ts, f.lemma), Feature("text").Eq(fs.String("walk"))))
	assert.False(t, embedded.Match(tok))
	assert.True(t, embedded.Match(other))
	assert.False(t, embedded.Match(bare))

	self := Feature().Matches(Type(f.ts, f.token))
	assert.True(t, self.Match(tok))
}

func TestComposite(t *testing.T) {
	f := newFixture(t)
	noun := f.add(t, f.word, 0, 3, map[string]fs.Value{"pos": fs.String("NN")})
	verb := f.add(t, f.word, 4, 7, map[string]fs.Value{"pos": fs.String("VB")})
	sent := f.add(t, f.sentence, 0, 7, nil)

	isNoun := Feature("pos").Eq(fs.String("NN"))
	c := And(Type(f.ts, f.token), Not(isNoun))
	assert.False(t, c.Match(noun))
	assert.True(t, c.Match(verb))
	assert.False(t, c.Match(sent))

	c = Or(isNoun, Type(f.ts, f.sentence))
	assert.True(t, c.Match(noun))
	assert.False(t, c.Match(verb))
	assert.True(t, c.Match(sent))

	assert.True(t, And().Match(sent))
	assert.False(t, Or().Match(sent))

	assert.Equal(t, `(type(Token) && !pos == "NN")`, And(Type(f.ts, f.token), Not(isNoun)).String())
}

func TestFilteredIterator(t *testing.T) {
	f := newFixture(t)
	a := f.add(t, f.token, 0, 3, nil)
	f.add(t, f.sentence, 0, 10, nil)
	b := f.add(t, f.word, 4, 6, nil)
	f.add(t, f.sentence, 11, 20, nil)
	c := f.add(t, f.token, 12, 15, nil)

	it := Filter(f.ix.Iterator(), Type(f.ts, f.token))
	assert.Equal(t, []*fs.Record{a, b, c}, index.Collect(it))
	assert.Equal(t, []*fs.Record{c, b, a}, index.CollectReverse(it))

	it.MoveTo(fs.NewAnnotation(999, f.token, 1, 2))
	got, err := it.Get()
	require.NoError(t, err)
	assert.Same(t, b, got)

	cp := it.Copy()
	it.MoveToNext()
	got, _ = it.Get()
	assert.Same(t, c, got)
	got, _ = cp.Get()
	assert.Same(t, b, got)

	it.MoveToNext()
	assert.False(t, it.Valid())
	_, err = it.Get()
	assert.True(t, errors.Is(err, index.ErrNoSuchElement))

	none := Filter(f.ix.Iterator(), Type(f.ts, f.lemma))
	assert.False(t, none.Valid())
	none.MoveToLast()
	assert.False(t, none.Valid())
}

func TestFilteredIterator_OverSubiterator(t *testing.T) {
	f := newFixture(t)
	sent := f.add(t, f.sentence, 0, 20, nil)
	a := f.add(t, f.word, 0, 4, map[string]fs.Value{"pos": fs.String("NN")})
	f.add(t, f.word, 5, 9, map[string]fs.Value{"pos": fs.String("VB")})
	c := f.add(t, f.word, 10, 14, map[string]fs.Value{"pos": fs.String("NN")})
	f.add(t, f.word, 21, 25, map[string]fs.Value{"pos": fs.String("NN")})

	sub, err := subiter.NewBounded(f.ix.Iterator(), order.Annotation(nil), sent, subiter.Policy{Ambiguous: true})
	require.NoError(t, err)
	nouns := Filter(sub, Feature("pos").Eq(fs.String("NN")))
	assert.Equal(t, []*fs.Record{a, c}, index.Collect(nouns))
}

func TestNilConstraint_MatchesEverything(t *testing.T) {
	f := newFixture(t)
	a := f.add(t, f.token, 0, 3, nil)
	s := f.add(t, f.sentence, 0, 10, nil)
	b := f.add(t, f.word, 4, 6, nil)

	var none *Constraint
	assert.True(t, none.Match(a))
	assert.False(t, none.Match(nil))
	assert.Equal(t, "any", none.String())

	assert.False(t, Not(nil).Match(a))
	assert.Equal(t, "!any", Not(nil).String())
	assert.True(t, And(nil, Type(f.ts, f.token)).Match(b))
	assert.False(t, And(nil, Type(f.ts, f.token)).Match(s))

	it := Filter(f.ix.Iterator(), nil)
	assert.Equal(t, index.Collect(f.ix.Iterator()), index.Collect(it))
	assert.Len(t, index.Collect(it), 3)
}
