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
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianCAS/services/cas/constraint"
	"github.com/AleutianAI/AleutianCAS/services/cas/fs"
	"github.com/AleutianAI/AleutianCAS/services/cas/index"
	"github.com/AleutianAI/AleutianCAS/services/cas/order"
	"github.com/AleutianAI/AleutianCAS/services/cas/subiter"
	"github.com/AleutianAI/AleutianCAS/services/cas/types"
)

// Default configuration values.
const (
	// DefaultMaxRecords is the default maximum number of records a store holds.
	DefaultMaxRecords = 10_000_000

	// AnnotationIndexLabel labels the built-in index over every annotation.
	AnnotationIndexLabel = "AnnotationIndex"

	// batchCheckInterval is how often AddBatch checks for context cancellation.
	batchCheckInterval = 1000
)

// Options configures Store behavior and limits.
type Options struct {
	// Logger receives store events. Default: slog.Default().
	Logger *slog.Logger

	// MaxRecords is the maximum number of records the store can hold.
	// Default: 10,000,000
	MaxRecords int

	// Priorities breaks ties between co-extensive annotations of
	// different types. Nil compares all types equal.
	Priorities *types.Priorities

	documentText *string
}

// DefaultOptions returns the default options.
func DefaultOptions() Options {
	return Options{
		Logger:     slog.Default(),
		MaxRecords: DefaultMaxRecords,
	}
}

// Option is a functional option for configuring Store.
type Option func(*Options)

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// WithMaxRecords sets the maximum number of records the store can hold.
func WithMaxRecords(max int) Option {
	return func(o *Options) {
		o.MaxRecords = max
	}
}

// WithPriorities sets the type priorities of the annotation order.
func WithPriorities(p *types.Priorities) Option {
	return func(o *Options) {
		o.Priorities = p
	}
}

// WithDocumentText sets the document text, fixing the upper bound of every
// annotation span.
func WithDocumentText(text string) Option {
	return func(o *Options) {
		o.documentText = &text
	}
}

// Stats contains statistics about a store.
type Stats struct {
	// ID is the store identity.
	ID string

	// Records is the number of records in the store.
	Records int

	// ByType maps each type name to the count of records of exactly that type.
	ByType map[string]int

	// Indexes maps each index label to its size.
	Indexes map[string]int

	// DocumentLength is the length of the document text, -1 when unset.
	DocumentLength int

	// MaxRecords is the configured maximum capacity.
	MaxRecords int
}

// Store holds the records of one document and the indexes over them.
type Store struct {
	id       uuid.UUID
	ts       *types.TypeSystem
	options  Options
	logger   *slog.Logger
	annOrder *order.Order

	text   string
	docLen int
	nextID fs.ID

	records   map[fs.ID]*fs.Record
	typeCount map[types.TypeID]int

	// annotations is the built-in index over every annotation.
	annotations *index.Index

	// indexes holds the labelled indexes, labels their definition order.
	indexes map[string]*index.Index
	labels  []string

	// byType holds the per-type annotation indexes, created on first use.
	byType map[types.TypeID]*index.Index

	// all lists every maintained index in creation order.
	all []*index.Index
}

// New creates an empty store over a committed type system.
//
// Example:
//
//	s, err := store.New(ts, store.WithPriorities(prio), store.WithDocumentText(text))
//
// Errors:
//
//	types.ErrNotCommitted - ts is nil or not committed
func New(ts *types.TypeSystem, opts ...Option) (*Store, error) {
	if ts == nil || !ts.IsCommitted() {
		return nil, fmt.Errorf("store: %w", types.ErrNotCommitted)
	}
	options := DefaultOptions()
	for _, opt := range opts {
		opt(&options)
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}

	id := uuid.New()
	s := &Store{
		id:        id,
		ts:        ts,
		options:   options,
		logger:    options.Logger.With(slog.String("cas_id", id.String())),
		annOrder:  order.Annotation(options.Priorities),
		docLen:    -1,
		records:   make(map[fs.ID]*fs.Record),
		typeCount: make(map[types.TypeID]int),
		indexes:   make(map[string]*index.Index),
		byType:    make(map[types.TypeID]*index.Index),
	}
	if options.documentText != nil {
		s.text = *options.documentText
		s.docLen = len(s.text)
	}

	ann, err := index.New(ts, index.Definition{
		Label: AnnotationIndexLabel,
		Type:  ts.Annotation(),
		Kind:  index.KindSorted,
		Order: s.annOrder,
	})
	if err != nil {
		return nil, err
	}
	s.annotations = ann
	s.indexes[ann.Label()] = ann
	s.labels = append(s.labels, ann.Label())
	s.byType[ts.Annotation().ID()] = ann
	s.all = append(s.all, ann)
	return s, nil
}

// ID returns the store identity.
func (s *Store) ID() uuid.UUID { return s.id }

// TypeSystem returns the type system the store was created over.
func (s *Store) TypeSystem() *types.TypeSystem { return s.ts }

// AnnotationOrder returns the order of every annotation index.
func (s *Store) AnnotationOrder() *order.Order { return s.annOrder }

// Len returns the number of records in the store.
func (s *Store) Len() int { return len(s.records) }

// DocumentText returns the document text and whether it has been set.
func (s *Store) DocumentText() (string, bool) { return s.text, s.docLen >= 0 }

// DocumentLength returns the length of the document text in bytes, -1 when
// it has not been set.
func (s *Store) DocumentLength() int { return s.docLen }

// SetDocumentText sets the document text once.
//
// Errors:
//
//	ErrDocumentTextSet - the text was already set
//	ErrSpanOutOfRange - an annotation already in the store ends past the text
func (s *Store) SetDocumentText(text string) error {
	if s.docLen >= 0 {
		return ErrDocumentTextSet
	}
	for _, r := range s.records {
		if r.End() > len(text) {
			return fmt.Errorf("%w: %s exceeds document length %d", ErrSpanOutOfRange, r, len(text))
		}
	}
	s.text = text
	s.docLen = len(text)
	return nil
}

// CoveredText returns the document text spanned by r, or "" when r is not an
// annotation or the text is unset.
func (s *Store) CoveredText(r *fs.Record) string {
	if r == nil || !r.IsAnnotation() || s.docLen < 0 || r.End() > s.docLen {
		return ""
	}
	return s.text[r.Begin():r.End()]
}

func (s *Store) lookup(typeName string) (*types.Type, error) {
	t, ok := s.ts.Type(typeName)
	if !ok {
		return nil, fmt.Errorf("store: %w: %q", types.ErrUnknownType, typeName)
	}
	return t, nil
}

// CreateRecord creates a record of the named type with the next ID. The
// record is not indexed until added. Annotation types get the empty span
// [0,0).
func (s *Store) CreateRecord(typeName string) (*fs.Record, error) {
	t, err := s.lookup(typeName)
	if err != nil {
		return nil, err
	}
	s.nextID++
	if t.IsAnnotation() {
		return fs.NewAnnotation(s.nextID, t, 0, 0), nil
	}
	return fs.New(s.nextID, t), nil
}

// CreateAnnotation creates an annotation of the named type spanning
// [begin, end). The record is not indexed until added.
//
// Errors:
//
//	types.ErrUnknownType - no such type
//	ErrNotAnnotationType - the type carries no span
//	ErrInvalidRecord - the span is negative or inverted
//	ErrSpanOutOfRange - the span ends past the document text
func (s *Store) CreateAnnotation(typeName string, begin, end int) (*fs.Record, error) {
	t, err := s.lookup(typeName)
	if err != nil {
		return nil, err
	}
	if !t.IsAnnotation() {
		return nil, fmt.Errorf("%w: %s", ErrNotAnnotationType, t.Name())
	}
	r := fs.NewAnnotation(s.nextID+1, t, begin, end)
	if err := s.validate(r); err != nil {
		return nil, err
	}
	s.nextID++
	return r, nil
}

// AddAnnotation creates an annotation and adds it.
func (s *Store) AddAnnotation(typeName string, begin, end int) (*fs.Record, error) {
	r, err := s.CreateAnnotation(typeName, begin, end)
	if err != nil {
		return nil, err
	}
	if err := s.Add(r); err != nil {
		return nil, err
	}
	return r, nil
}

// validate checks a record before it enters the store.
func (s *Store) validate(r *fs.Record) error {
	if r == nil {
		return fmt.Errorf("%w: record is nil", ErrInvalidRecord)
	}
	if t := r.Type(); t == nil {
		return fmt.Errorf("%w: record #%d has no type", ErrInvalidRecord, r.ID())
	} else if own, ok := s.ts.TypeByID(t.ID()); !ok || own != t {
		return fmt.Errorf("%w: type %s is not part of this type system", ErrInvalidRecord, t.Name())
	}
	if err := r.Validate(s.docLen); err != nil {
		if errors.Is(err, fs.ErrSpanOutOfRange) {
			return fmt.Errorf("%w: %v", ErrSpanOutOfRange, err)
		}
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return nil
}

// Add adds a single record to the store and every index accepting it.
//
// Errors:
//
//	ErrInvalidRecord - the record failed validation
//	ErrSpanOutOfRange - the span ends past the document text
//	ErrDuplicateRecord - a record with the same ID is in the store
//	ErrMaxRecordsExceeded - the store is at capacity
func (s *Store) Add(r *fs.Record) error {
	if err := s.validate(r); err != nil {
		return err
	}
	if len(s.records) >= s.options.MaxRecords {
		return ErrMaxRecordsExceeded
	}
	if _, exists := s.records[r.ID()]; exists {
		return fmt.Errorf("%w: %d", ErrDuplicateRecord, r.ID())
	}

	s.track(r)
	for _, ix := range s.all {
		ix.Insert(r)
	}
	return nil
}

// track registers r as owned by the store.
func (s *Store) track(r *fs.Record) {
	s.records[r.ID()] = r
	s.typeCount[r.Type().ID()]++
	if r.ID() > s.nextID {
		s.nextID = r.ID()
	}
}

// AddBatch adds multiple records atomically. It is the bulk-load path:
// after validation each index is filled with one sorted load rather than
// one insert per record.
//
// Description:
//
//	Validates all records, checks for duplicates both within the batch and
//	against the store, then adds them all. If any check fails, NO records
//	are added.
//
// Errors:
//
//	*BatchError - every validation and duplicate problem found
//	ErrMaxRecordsExceeded - the batch would exceed capacity
//	context errors - ctx was cancelled during validation
func (s *Store) AddBatch(ctx context.Context, records []*fs.Record) (err error) {
	if len(records) == 0 {
		return nil
	}

	ctx, span := startOperationSpan(ctx, "AddBatch", attribute.Int("cas.batch_size", len(records)))
	defer span.End()
	start := time.Now()
	defer func() {
		recordOperationMetrics(ctx, "AddBatch", time.Since(start), err == nil)
		finishSpan(span, len(records), err)
	}()

	// Phase 1: validate everything before touching the store
	var errs []error
	seen := make(map[fs.ID]int)
	for i, r := range records {
		if i%batchCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := s.validate(r); err != nil {
			errs = append(errs, fmt.Errorf("record[%d]: %w", i, err))
			continue
		}
		if first, exists := seen[r.ID()]; exists {
			errs = append(errs, fmt.Errorf("record[%d]: %w in batch (same as record[%d]): %d",
				i, ErrDuplicateRecord, first, r.ID()))
			continue
		}
		seen[r.ID()] = i
		if _, exists := s.records[r.ID()]; exists {
			errs = append(errs, fmt.Errorf("record[%d]: %w: %d", i, ErrDuplicateRecord, r.ID()))
		}
	}
	if len(errs) > 0 {
		return &BatchError{Errors: errs}
	}
	if len(s.records)+len(records) > s.options.MaxRecords {
		return ErrMaxRecordsExceeded
	}

	// Phase 2: no failure point after the first write
	for _, r := range records {
		s.track(r)
	}
	for _, ix := range s.all {
		ix.Load(records)
	}

	s.logger.Info("batch loaded",
		slog.Int("records", len(records)),
		slog.Int("indexes", len(s.all)),
		slog.Int("store_size", len(s.records)),
	)
	recordStoreSize(ctx, len(s.records))
	return nil
}

// Remove removes r from the store and every index.
//
// Errors:
//
//	ErrNotIndexed - r is not in the store
func (s *Store) Remove(r *fs.Record) error {
	if !s.Contains(r) {
		return fmt.Errorf("%w: %v", ErrNotIndexed, r)
	}
	for _, ix := range s.all {
		ix.Remove(r)
	}
	delete(s.records, r.ID())
	if s.typeCount[r.Type().ID()]--; s.typeCount[r.Type().ID()] == 0 {
		delete(s.typeCount, r.Type().ID())
	}
	return nil
}

// Contains reports whether r itself is in the store.
func (s *Store) Contains(r *fs.Record) bool {
	return r != nil && s.records[r.ID()] == r
}

// Record returns the record with the given ID.
func (s *Store) Record(id fs.ID) (*fs.Record, bool) {
	r, ok := s.records[id]
	return r, ok
}

// SetFeature updates a feature of r. When r is in the store, every index
// whose keys read the feature drops r before the update and takes it back
// after, so the index order stays consistent. A set index silently drops r
// when its new key collides with another record's.
func (s *Store) SetFeature(r *fs.Record, name string, v fs.Value) error {
	if r == nil {
		return fmt.Errorf("%w: record is nil", ErrInvalidRecord)
	}
	if !s.Contains(r) || name == fs.FeatureBegin || name == fs.FeatureEnd {
		return r.SetFeature(name, v)
	}

	var affected []*index.Index
	for _, ix := range s.all {
		if ord := ix.Order(); ord != nil && ord.References(name) && ix.Remove(r) {
			affected = append(affected, ix)
		}
	}
	err := r.SetFeature(name, v)
	for _, ix := range affected {
		if !ix.Insert(r) {
			s.logger.Debug("record dropped from set index on key collision",
				slog.String("index", ix.Label()),
				slog.String("record", r.String()),
			)
		}
	}
	return err
}

// DefineIndex creates a labelled index and fills it with the records
// already in the store.
//
// Errors:
//
//	ErrDuplicateIndex - the label is in use
//	index.ErrInvalidDefinition - the definition is incomplete or its type
//	belongs to another type system
func (s *Store) DefineIndex(def index.Definition) (*index.Index, error) {
	if _, exists := s.indexes[def.Label]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateIndex, def.Label)
	}
	if def.Type != nil {
		if own, ok := s.ts.TypeByID(def.Type.ID()); !ok || own != def.Type {
			return nil, fmt.Errorf("%w: %s: type %s is not part of this type system",
				index.ErrInvalidDefinition, def.Label, def.Type.Name())
		}
	}
	ix, err := index.New(s.ts, def)
	if err != nil {
		return nil, err
	}
	ix.Load(s.sortedRecords())

	s.indexes[def.Label] = ix
	s.labels = append(s.labels, def.Label)
	s.all = append(s.all, ix)
	s.logger.Debug("index defined",
		slog.String("label", def.Label),
		slog.String("type", def.Type.Name()),
		slog.String("kind", def.Kind.String()),
		slog.Int("size", ix.Size()),
	)
	return ix, nil
}

// Index returns the labelled index.
func (s *Store) Index(label string) (*index.Index, error) {
	ix, ok := s.indexes[label]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownIndex, label)
	}
	return ix, nil
}

// Labels returns the index labels in definition order.
func (s *Store) Labels() []string {
	return slices.Clone(s.labels)
}

// AnnotationIndex returns the annotation index of the named type and its
// subtypes. An empty name selects every annotation.
//
// Errors:
//
//	types.ErrUnknownType - no such type
//	ErrNotAnnotationType - the type carries no span
func (s *Store) AnnotationIndex(typeName string) (*index.Index, error) {
	if typeName == "" {
		return s.annotations, nil
	}
	t, err := s.lookup(typeName)
	if err != nil {
		return nil, err
	}
	if !t.IsAnnotation() {
		return nil, fmt.Errorf("%w: %s", ErrNotAnnotationType, t.Name())
	}
	if ix, ok := s.byType[t.ID()]; ok {
		return ix, nil
	}

	ix, err := index.New(s.ts, index.Definition{
		Label: AnnotationIndexLabel + "/" + t.Name(),
		Type:  t,
		Kind:  index.KindSorted,
		Order: s.annOrder,
	})
	if err != nil {
		return nil, err
	}
	ix.Load(s.annotations.Records())
	s.byType[t.ID()] = ix
	s.all = append(s.all, ix)
	return ix, nil
}

// Subiterator returns the annotations of the named type inside bound,
// selected by the policy.
func (s *Store) Subiterator(ctx context.Context, bound *fs.Record, typeName string, p subiter.Policy) (sub *subiter.Subiterator, err error) {
	ctx, span := startOperationSpan(ctx, "Subiterator",
		attribute.String("cas.type", typeName),
		attribute.String("cas.policy", p.String()),
	)
	defer span.End()
	start := time.Now()
	defer func() {
		recordOperationMetrics(ctx, "Subiterator", time.Since(start), err == nil)
		finishSpan(span, subLen(sub), err)
	}()

	ix, err := s.AnnotationIndex(typeName)
	if err != nil {
		return nil, err
	}
	sub, err = subiter.NewBounded(ix.Iterator(), s.annOrder, bound, p)
	if err != nil {
		return nil, err
	}
	recordSubiteratorResults(ctx, p.String(), sub.Len())
	return sub, nil
}

// SubiteratorRange returns the annotations of the named type inside
// [begin, end], selected by the policy.
func (s *Store) SubiteratorRange(ctx context.Context, typeName string, begin, end int, p subiter.Policy) (sub *subiter.Subiterator, err error) {
	ctx, span := startOperationSpan(ctx, "SubiteratorRange",
		attribute.String("cas.type", typeName),
		attribute.String("cas.policy", p.String()),
		attribute.Int("cas.begin", begin),
		attribute.Int("cas.end", end),
	)
	defer span.End()
	start := time.Now()
	defer func() {
		recordOperationMetrics(ctx, "SubiteratorRange", time.Since(start), err == nil)
		finishSpan(span, subLen(sub), err)
	}()

	ix, err := s.AnnotationIndex(typeName)
	if err != nil {
		return nil, err
	}
	sub, err = subiter.NewRange(ix.Iterator(), s.annOrder, begin, end, p)
	if err != nil {
		return nil, err
	}
	recordSubiteratorResults(ctx, p.String(), sub.Len())
	return sub, nil
}

// Unambiguous returns the left-to-right non-overlapping chain of
// annotations of the named type over the whole document.
func (s *Store) Unambiguous(ctx context.Context, typeName string) (*subiter.Subiterator, error) {
	ix, err := s.AnnotationIndex(typeName)
	if err != nil {
		return nil, err
	}
	sub, err := subiter.NewUnbounded(ix.Iterator(), s.annOrder, subiter.Policy{})
	if err != nil {
		return nil, err
	}
	recordSubiteratorResults(ctx, "unbounded", sub.Len())
	return sub, nil
}

// CoveredBy returns the annotations of the named type lying entirely inside
// bound, overlaps allowed.
func (s *Store) CoveredBy(ctx context.Context, bound *fs.Record, typeName string) ([]*fs.Record, error) {
	sub, err := s.Subiterator(ctx, bound, typeName, subiter.Policy{Ambiguous: true, Strict: true})
	if err != nil {
		return nil, err
	}
	return sub.Snapshot().Records(), nil
}

// Select returns the annotations of the named type matching c, in index
// order.
func (s *Store) Select(typeName string, c *constraint.Constraint) (*constraint.FilteredIterator, error) {
	ix, err := s.AnnotationIndex(typeName)
	if err != nil {
		return nil, err
	}
	return constraint.Filter(ix.Iterator(), c), nil
}

// Walk visits every record in a deterministic order: by type in type-system
// order, annotations in annotation order and other records by ID. Walk
// stops when fn returns false.
func (s *Store) Walk(fn func(r *fs.Record) bool) {
	groups := make(map[types.TypeID][]*fs.Record, len(s.typeCount))
	for _, r := range s.records {
		groups[r.Type().ID()] = append(groups[r.Type().ID()], r)
	}
	for _, t := range s.ts.Types() {
		g := groups[t.ID()]
		if len(g) == 0 {
			continue
		}
		if t.IsAnnotation() {
			slices.SortFunc(g, s.annOrder.Compare)
		} else {
			slices.SortFunc(g, order.Identity{}.Compare)
		}
		for _, r := range g {
			if !fn(r) {
				return
			}
		}
	}
}

// Records returns every record in Walk order.
func (s *Store) Records() []*fs.Record {
	out := make([]*fs.Record, 0, len(s.records))
	s.Walk(func(r *fs.Record) bool {
		out = append(out, r)
		return true
	})
	return out
}

// sortedRecords returns every record ordered by ID.
func (s *Store) sortedRecords() []*fs.Record {
	out := make([]*fs.Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	slices.SortFunc(out, order.Identity{}.Compare)
	return out
}

// Stats returns statistics about the store.
func (s *Store) Stats() Stats {
	byType := make(map[string]int, len(s.typeCount))
	for id, n := range s.typeCount {
		if t, ok := s.ts.TypeByID(id); ok {
			byType[t.Name()] = n
		}
	}
	indexes := make(map[string]int, len(s.indexes))
	for label, ix := range s.indexes {
		indexes[label] = ix.Size()
	}
	return Stats{
		ID:             s.id.String(),
		Records:        len(s.records),
		ByType:         byType,
		Indexes:        indexes,
		DocumentLength: s.docLen,
		MaxRecords:     s.options.MaxRecords,
	}
}

// Clear removes every record. Index definitions and the document text are
// kept, and IDs are not reused.
func (s *Store) Clear() {
	s.records = make(map[fs.ID]*fs.Record)
	s.typeCount = make(map[types.TypeID]int)
	for _, ix := range s.all {
		ix.Clear()
	}
	s.logger.Info("store cleared", slog.Int("indexes", len(s.all)))
}

func subLen(sub *subiter.Subiterator) int {
	if sub == nil {
		return 0
	}
	return sub.Len()
}

// finishSpan records the outcome of an operation on its span.
func finishSpan(span trace.Span, resultCount int, err error) {
	setOperationSpanResult(span, resultCount, err == nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
