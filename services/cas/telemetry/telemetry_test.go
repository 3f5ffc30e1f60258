// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestForExporter(t *testing.T) {
	tests := []struct {
		name        string
		wantTrace   string
		wantMetrics string
	}{
		{"", "none", "none"},
		{"none", "none", "none"},
		{"stdout", "stdout", "stdout"},
		{"otlp", "otlp", "none"},
		{"prometheus", "none", "prometheus"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := ForExporter(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTrace, cfg.TraceExporter)
			assert.Equal(t, tt.wantMetrics, cfg.MetricExporter)
			assert.Equal(t, "casctl", cfg.ServiceName)
		})
	}

	_, err := ForExporter("jaeger")
	assert.ErrorIs(t, err, ErrUnknownExporter)
}

func TestInit(t *testing.T) {
	t.Run("nil context", func(t *testing.T) {
		//nolint:staticcheck // exercising the nil guard
		_, err := Init(nil, DefaultConfig())
		assert.ErrorIs(t, err, ErrNilContext)
	})

	t.Run("none installs nothing", func(t *testing.T) {
		cfg, err := ForExporter("none")
		require.NoError(t, err)
		shutdown, err := Init(context.Background(), cfg)
		require.NoError(t, err)
		assert.NoError(t, shutdown(context.Background()))
	})

	t.Run("unknown trace exporter", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.TraceExporter = "zipkin"
		cfg.MetricExporter = "none"
		_, err := Init(context.Background(), cfg)
		assert.ErrorIs(t, err, ErrUnknownExporter)
	})

	t.Run("unknown metric exporter", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.TraceExporter = "none"
		cfg.MetricExporter = "statsd"
		_, err := Init(context.Background(), cfg)
		assert.ErrorIs(t, err, ErrUnknownExporter)
	})
}

func TestRecordError(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	_, span := tp.Tracer("test").Start(context.Background(), "op")
	RecordError(span, errors.New("boom"))
	span.End()

	_, okSpan := tp.Tracer("test").Start(context.Background(), "ok")
	SetSpanOK(okSpan)
	RecordError(okSpan, nil)
	okSpan.End()

	ended := rec.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Equal(t, "boom", ended[0].Status().Description)
	assert.Len(t, ended[0].Events(), 1)
	assert.Equal(t, codes.Ok, ended[1].Status().Code)

	RecordError(nil, errors.New("ignored"))
	SetSpanOK(nil)
}

func TestLoggerWithTrace(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo, true)

	t.Run("no span", func(t *testing.T) {
		buf.Reset()
		assert.Empty(t, TraceID(context.Background()))
		assert.Empty(t, SpanID(context.Background()))
		LoggerWithTrace(context.Background(), logger).Info("plain")

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.NotContains(t, entry, "trace_id")
	})

	t.Run("active span", func(t *testing.T) {
		buf.Reset()
		tp := sdktrace.NewTracerProvider()
		defer func() { _ = tp.Shutdown(context.Background()) }()
		ctx, span := tp.Tracer("test").Start(context.Background(), "op")
		defer span.End()

		LoggerWithTrace(ctx, logger).Info("traced")

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, TraceID(ctx), entry["trace_id"])
		assert.Equal(t, SpanID(ctx), entry["span_id"])
		assert.Len(t, entry["trace_id"], 32)
	})

	t.Run("nil logger falls back to default", func(t *testing.T) {
		assert.NotNil(t, LoggerWithTrace(context.Background(), nil))
	})
}

func TestNewLogger_Text(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelWarn, false)
	logger.Info("hidden")
	logger.Warn("shown", slog.String("k", "v"))
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "k=v")
}
