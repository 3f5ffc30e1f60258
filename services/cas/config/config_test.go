// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianCAS/services/cas/index"
	"github.com/AleutianAI/AleutianCAS/services/cas/store"
	"github.com/AleutianAI/AleutianCAS/services/cas/types"
)

const minimalYAML = `
types:
  - name: Token
    parent: uima.tcas.Annotation
  - name: Sentence
    parent: uima.tcas.Annotation
priorities:
  - [Sentence, Token]
indexes:
  - label: ByPos
    type: Token
    keys:
      - feature: pos
        direction: descending
      - type_priority: true
  - label: AllTokens
    type: Token
    kind: bag
`

func TestDefault(t *testing.T) {
	f, err := Default(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DefaultWorkers, f.Runner.Workers)
	assert.Equal(t, "none", f.Telemetry.Exporter)

	schema, err := f.Build()
	require.NoError(t, err)
	assert.True(t, schema.TypeSystem.IsCommitted())
	for _, name := range []string{"Token", "Word", "Number", "Punctuation", "Sentence", "Lemma"} {
		_, ok := schema.TypeSystem.Type(name)
		assert.True(t, ok, name)
	}
	word := schema.TypeSystem.MustType("Word")
	sentence := schema.TypeSystem.MustType("Sentence")
	assert.Negative(t, schema.Priorities.Compare(sentence, word), "Word inherits Token's rank")

	st, err := schema.NewStore()
	require.NoError(t, err)
	assert.Equal(t, []string{store.AnnotationIndexLabel, "TokenByKind", "WordByText"}, st.Labels())
	assert.Equal(t, store.DefaultMaxRecords, st.Stats().MaxRecords)
}

func TestParse_Minimal(t *testing.T) {
	f, err := Parse(context.Background(), []byte(minimalYAML))
	require.NoError(t, err)
	require.Len(t, f.Indexes, 2)

	schema, err := f.Build()
	require.NoError(t, err)
	require.Len(t, schema.Indexes, 2)

	byPos := schema.Indexes[0]
	assert.Equal(t, index.KindSorted, byPos.Kind)
	assert.Equal(t, "order(pos descending, type-priority, identity)", byPos.Order.String())
	assert.Equal(t, index.KindBag, schema.Indexes[1].Kind)
	assert.Nil(t, schema.Indexes[1].Order)

	st, err := schema.NewStore(store.WithMaxRecords(5))
	require.NoError(t, err)
	assert.Equal(t, 5, st.Stats().MaxRecords)
	tok, err := st.AddAnnotation("Token", 0, 3)
	require.NoError(t, err)
	bag, err := st.Index("AllTokens")
	require.NoError(t, err)
	assert.True(t, bag.Contains(tok))
}

func TestParse_Empty(t *testing.T) {
	f, err := Parse(context.Background(), nil)
	require.NoError(t, err)
	schema, err := f.Build()
	require.NoError(t, err)
	assert.Equal(t, 2, schema.TypeSystem.Len(), "only the built-in types")
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{"unknown key", "typez: []", ""},
		{"bad type name", "types:\n  - name: 'bad name'\n    parent: uima.cas.TOP", "types[0].name"},
		{"missing parent", "types:\n  - name: Token", "types[0].parent"},
		{"bad kind", "indexes:\n  - label: x\n    type: Token\n    kind: heap", "indexes[0].kind"},
		{"key without feature", "indexes:\n  - label: x\n    type: Token\n    keys:\n      - direction: ascending", "indexes[0].keys[0].feature"},
		{"key with both", "indexes:\n  - label: x\n    type: Token\n    keys:\n      - feature: a\n        type_priority: true", "indexes[0].keys[0].feature"},
		{"bad direction", "indexes:\n  - label: x\n    type: Token\n    keys:\n      - feature: a\n        direction: up", "indexes[0].keys[0].direction"},
		{"bad priority name", "priorities:\n  - ['a b']", "priorities[0][0]"},
		{"negative workers", "runner:\n  workers: -1", "runner.workers"},
		{"bad exporter", "telemetry:\n  exporter: zipkin", "telemetry.exporter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(context.Background(), []byte(tt.yaml))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig), "got %v", err)
			if tt.field == "" {
				return
			}
			var ve *ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
			var fields []string
			for _, fe := range ve.Fields {
				fields = append(fields, fe.Field)
			}
			assert.Contains(t, fields, tt.field)
		})
	}
}

func TestBuild_Rejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want error
	}{
		{"unknown parent", "types:\n  - name: Word\n    parent: Token", types.ErrUnknownType},
		{"duplicate type", "types:\n  - name: A\n    parent: uima.cas.TOP\n  - name: A\n    parent: uima.cas.TOP", types.ErrDuplicateType},
		{"priority cycle", "types:\n  - name: A\n    parent: uima.tcas.Annotation\n  - name: B\n    parent: uima.tcas.Annotation\npriorities:\n  - [A, B]\n  - [B, A]", types.ErrPriorityCycle},
		{"unknown index type", "indexes:\n  - label: x\n    type: Nope", types.ErrUnknownType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Parse(context.Background(), []byte(tt.yaml))
			require.NoError(t, err)
			_, err = f.Build()
			assert.True(t, errors.Is(err, ErrInvalidConfig), "got %v", err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cas.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalYAML), 0o600))

	f, err := Load(context.Background(), path)
	require.NoError(t, err)
	assert.Len(t, f.Types, 2)

	f, err = Load(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, f.Types, 6, "empty path loads the default")

	_, err = Load(context.Background(), filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	big := filepath.Join(dir, "big.yaml")
	require.NoError(t, os.WriteFile(big, []byte("# "+strings.Repeat("x", MaxYAMLFileSize)), 0o600))
	_, err = Load(context.Background(), big)
	assert.True(t, errors.Is(err, ErrFileTooLarge))
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cas.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalYAML), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type result struct {
		f   *File
		err error
	}
	results := make(chan result, 16)
	done := make(chan error, 1)
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	go func() {
		done <- Watch(ctx, path, logger, func(f *File, err error) {
			select {
			case results <- result{f, err}:
			default:
			}
		})
	}()

	// Keep rewriting until the watcher is registered and reports a reload.
	updated := minimalYAML + "runner:\n  workers: 9\n"
	var got result
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte(updated), 0o600)
		select {
		case got = <-results:
			return got.err == nil && got.f.Runner.Workers == 9
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}

	// Watch has returned, so the buffer is no longer written.
	assert.Contains(t, logs.String(), "Watching CAS config")
	assert.Contains(t, logs.String(), "CAS config reloaded")
}
