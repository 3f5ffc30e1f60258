// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package runner processes documents concurrently, one store per document.
//
// Each document gets a fresh store built from a config.Schema and runs
// through an annotator pipeline in order. Stores are never shared between
// workers, so the single-threaded store contract holds without locking.
//
// # Failure Model
//
// A failing document does not stop the run. Its Result carries the error
// and the remaining documents are still processed. Only cancellation of
// the run context ends the run early.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianCAS/services/cas/annotators"
	"github.com/AleutianAI/AleutianCAS/services/cas/config"
	"github.com/AleutianAI/AleutianCAS/services/cas/store"
	"github.com/AleutianAI/AleutianCAS/services/cas/telemetry"
)

const tracerName = "aleutian.cas.runner"

// Sentinel errors for the runner.
var (
	// ErrNilSchema is returned when New is given no schema.
	ErrNilSchema = errors.New("runner: schema is nil")

	// ErrDocumentTooLarge is returned for a document over the size limit.
	ErrDocumentTooLarge = errors.New("runner: document too large")

	// ErrInvalidOptions is returned for negative limits.
	ErrInvalidOptions = errors.New("runner: invalid options")
)

// Options configures a Runner.
type Options struct {
	// Logger receives per-document events. Default: slog.Default().
	Logger *slog.Logger

	// Workers bounds concurrently processed documents.
	// Default: config.DefaultWorkers
	Workers int

	// MaxDocumentBytes rejects larger documents. Zero disables the check.
	// Default: config.DefaultMaxDocumentBytes
	MaxDocumentBytes int

	// StoreOptions are applied to every document store.
	StoreOptions []store.Option
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		Logger:           slog.Default(),
		Workers:          config.DefaultWorkers,
		MaxDocumentBytes: config.DefaultMaxDocumentBytes,
	}
}

// Option is a functional option for configuring a Runner.
type Option func(*Options)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// WithWorkers sets the number of concurrent workers.
func WithWorkers(n int) Option {
	return func(o *Options) {
		o.Workers = n
	}
}

// WithMaxDocumentBytes sets the document size limit.
func WithMaxDocumentBytes(n int) Option {
	return func(o *Options) {
		o.MaxDocumentBytes = n
	}
}

// WithStoreOptions adds options applied to every document store.
func WithStoreOptions(opts ...store.Option) Option {
	return func(o *Options) {
		o.StoreOptions = append(o.StoreOptions, opts...)
	}
}

// FromConfig returns the options described by the runner section of a
// config file. Zero values keep the defaults.
func FromConfig(r config.RunnerYAML) []Option {
	var opts []Option
	if r.Workers > 0 {
		opts = append(opts, WithWorkers(r.Workers))
	}
	if r.MaxDocumentBytes > 0 {
		opts = append(opts, WithMaxDocumentBytes(r.MaxDocumentBytes))
	}
	return opts
}

// Document is one input text.
type Document struct {
	// ID identifies the document. Empty IDs are replaced with a UUID.
	ID string

	// Text is the document text.
	Text string
}

// AnnotatorResult records one annotator's run on one document.
type AnnotatorResult struct {
	Name     string
	Duration time.Duration
	Err      error
}

// Result is the outcome for one document.
type Result struct {
	// DocumentID is the document's ID after defaulting.
	DocumentID string

	// Store holds the document's records. Nil when the store could not
	// be created.
	Store *store.Store

	// Annotators lists each annotator that ran, in pipeline order.
	Annotators []AnnotatorResult

	// Duration is the wall time spent on the document.
	Duration time.Duration

	// Err is the first error, or nil.
	Err error
}

// Runner processes documents through an annotator pipeline.
//
// Thread Safety: Run may be called concurrently; each call owns its stores.
type Runner struct {
	schema   *config.Schema
	pipeline []annotators.Annotator
	options  Options
}

// New creates a Runner.
//
// Errors:
//
//	ErrNilSchema - schema is nil
//	ErrInvalidOptions - negative workers or size limit
func New(schema *config.Schema, pipeline []annotators.Annotator, opts ...Option) (*Runner, error) {
	if schema == nil {
		return nil, ErrNilSchema
	}
	options := DefaultOptions()
	for _, opt := range opts {
		opt(&options)
	}
	if options.Workers < 0 || options.MaxDocumentBytes < 0 {
		return nil, fmt.Errorf("%w: workers=%d max_document_bytes=%d",
			ErrInvalidOptions, options.Workers, options.MaxDocumentBytes)
	}
	if options.Workers == 0 {
		options.Workers = config.DefaultWorkers
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	return &Runner{
		schema:   schema,
		pipeline: append([]annotators.Annotator(nil), pipeline...),
		options:  options,
	}, nil
}

// Run processes docs with at most Workers documents in flight.
//
// Description:
//
//	Results are returned in input order. Per-document failures are
//	reported in Result.Err. When ctx is cancelled Run stops starting new
//	documents and returns ctx.Err() with the results gathered so far;
//	unstarted documents have Err set to the context error.
func (r *Runner) Run(ctx context.Context, docs []Document) ([]Result, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "Runner.Run",
		trace.WithAttributes(
			attribute.Int("cas.documents", len(docs)),
			attribute.Int("cas.workers", r.options.Workers),
		),
	)
	defer span.End()

	results := make([]Result, len(docs))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(r.options.Workers)

	for i, doc := range docs {
		if gCtx.Err() != nil {
			results[i] = Result{DocumentID: doc.ID, Err: gCtx.Err()}
			continue
		}
		g.Go(func() error {
			results[i] = r.Process(gCtx, doc)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		telemetry.RecordError(span, err)
		return results, err
	}
	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
		}
	}
	span.SetAttributes(attribute.Int("cas.failed", failed))
	telemetry.SetSpanOK(span)
	return results, nil
}

// Process runs the pipeline over a single document in a fresh store.
func (r *Runner) Process(ctx context.Context, doc Document) (res Result) {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	res.DocumentID = doc.ID

	ctx, span := telemetry.StartSpan(ctx, tracerName, "Runner.Process",
		trace.WithAttributes(
			attribute.String("cas.document_id", doc.ID),
			attribute.Int("cas.document_bytes", len(doc.Text)),
		),
	)
	defer span.End()
	logger := telemetry.LoggerWithTrace(ctx, r.options.Logger).With(slog.String("document_id", doc.ID))

	start := time.Now()
	defer func() {
		res.Duration = time.Since(start)
		recordDocument(ctx, res)
		if res.Err != nil {
			telemetry.RecordError(span, res.Err)
			logger.Warn("document failed",
				slog.String("error", res.Err.Error()),
				slog.Duration("duration", res.Duration),
			)
			return
		}
		span.SetAttributes(attribute.Int("cas.records", res.Store.Len()))
		telemetry.SetSpanOK(span)
		logger.Debug("document processed",
			slog.Int("records", res.Store.Len()),
			slog.Duration("duration", res.Duration),
		)
	}()

	if limit := r.options.MaxDocumentBytes; limit > 0 && len(doc.Text) > limit {
		res.Err = fmt.Errorf("%w: %d bytes (max %d)", ErrDocumentTooLarge, len(doc.Text), limit)
		return res
	}

	opts := append([]store.Option{store.WithLogger(logger)}, r.options.StoreOptions...)
	opts = append(opts, store.WithDocumentText(doc.Text))
	st, err := r.schema.NewStore(opts...)
	if err != nil {
		res.Err = fmt.Errorf("create store: %w", err)
		return res
	}
	res.Store = st

	for _, a := range r.pipeline {
		aStart := time.Now()
		err := a.Process(ctx, st)
		res.Annotators = append(res.Annotators, AnnotatorResult{
			Name:     a.Name(),
			Duration: time.Since(aStart),
			Err:      err,
		})
		if err != nil {
			res.Err = fmt.Errorf("annotator %s: %w", a.Name(), err)
			return res
		}
	}
	return res
}

var (
	runnerMeter metric.Meter

	documentsTotal   metric.Int64Counter
	documentDuration metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		runnerMeter = otel.Meter(tracerName)

		documentsTotal, metricsErr = runnerMeter.Int64Counter(
			"cas_runner_documents_total",
			metric.WithDescription("Documents processed by result"),
		)
		if metricsErr != nil {
			return
		}

		documentDuration, metricsErr = runnerMeter.Float64Histogram(
			"cas_runner_document_duration_seconds",
			metric.WithDescription("Per-document processing time"),
			metric.WithUnit("s"),
		)
	})
	return metricsErr
}

func recordDocument(ctx context.Context, res Result) {
	if err := initMetrics(); err != nil {
		return
	}
	result := "ok"
	if res.Err != nil {
		result = "error"
	}
	attrs := metric.WithAttributes(attribute.String("result", result))
	documentsTotal.Add(ctx, 1, attrs)
	documentDuration.Record(ctx, res.Duration.Seconds(), attrs)
}
