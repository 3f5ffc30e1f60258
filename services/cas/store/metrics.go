// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for store operations.
var (
	tracer = otel.Tracer("aleutian.cas.store")
	meter  = otel.Meter("aleutian.cas.store")
)

// Metrics for store operations.
var (
	operationLatency   metric.Float64Histogram
	operationTotal     metric.Int64Counter
	storeSize          metric.Int64Gauge
	subiteratorResults metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		operationLatency, err = meter.Float64Histogram(
			"cas_store_operation_duration_seconds",
			metric.WithDescription("Duration of CAS store operations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		operationTotal, err = meter.Int64Counter(
			"cas_store_operation_total",
			metric.WithDescription("Total number of CAS store operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		storeSize, err = meter.Int64Gauge(
			"cas_store_size",
			metric.WithDescription("Current number of records in a CAS store"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		subiteratorResults, err = meter.Int64Histogram(
			"cas_subiterator_results",
			metric.WithDescription("Number of annotations materialized per subiterator"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// startOperationSpan creates a span for a store operation.
func startOperationSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("cas.operation", operation))
	return tracer.Start(ctx, "Store."+operation, trace.WithAttributes(attrs...))
}

// setOperationSpanResult sets the result attributes on an operation span.
func setOperationSpanResult(span trace.Span, resultCount int, success bool) {
	span.SetAttributes(
		attribute.Int("cas.result_count", resultCount),
		attribute.Bool("cas.success", success),
	)
}

// recordOperationMetrics records metrics for a store operation.
func recordOperationMetrics(ctx context.Context, operation string, duration time.Duration, success bool) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.Bool("success", success),
	)

	operationLatency.Record(ctx, duration.Seconds(), attrs)
	operationTotal.Add(ctx, 1, attrs)
}

// recordSubiteratorResults records the size of a materialized subiterator.
func recordSubiteratorResults(ctx context.Context, policy string, count int) {
	if err := initMetrics(); err != nil {
		return
	}
	subiteratorResults.Record(ctx, int64(count), metric.WithAttributes(attribute.String("policy", policy)))
}

// recordStoreSize records the current store size.
func recordStoreSize(ctx context.Context, size int) {
	if err := initMetrics(); err != nil {
		return
	}
	storeSize.Record(ctx, int64(size))
}
