// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the CAS schema: the type system, type priorities,
// custom index definitions and store, runner and telemetry settings.
//
// Configuration is YAML decoded into concrete structs, validated with
// struct tags, and turned into runtime objects by File.Build. An embedded
// default is used when no file is given.
//
// Thread Safety:
//
//	All exported functions are safe for concurrent use. A File is not
//	modified after Parse returns.
package config

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianCAS/services/cas/index"
	"github.com/AleutianAI/AleutianCAS/services/cas/order"
	"github.com/AleutianAI/AleutianCAS/services/cas/store"
	"github.com/AleutianAI/AleutianCAS/services/cas/types"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxYAMLFileSize is the maximum allowed config file size (1MB).
	MaxYAMLFileSize = 1024 * 1024

	// DefaultWorkers is the runner concurrency when none is configured.
	DefaultWorkers = 4

	// DefaultMaxDocumentBytes is the largest document the runner accepts
	// when no limit is configured.
	DefaultMaxDocumentBytes = 1024 * 1024
)

// Sentinel errors for configuration loading.
var (
	// ErrInvalidConfig is returned when a config fails validation or
	// describes an inconsistent schema.
	ErrInvalidConfig = errors.New("invalid config")

	// ErrFileTooLarge is returned when a config file exceeds MaxYAMLFileSize.
	ErrFileTooLarge = errors.New("config file too large")
)

// =============================================================================
// Embedded Default
// =============================================================================

//go:embed default.yaml
var defaultYAML []byte

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	configLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cas_config_loads_total",
		Help: "Total CAS config loads by source and result",
	}, []string{"source", "result"})

	configLoadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cas_config_load_duration_seconds",
		Help:    "Duration of CAS config loading",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5},
	})
)

var tracer = otel.Tracer("aleutian.cas.config")

// =============================================================================
// Validator
// =============================================================================

var typeNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// configValidate is the validator for config structs. Initialized in init()
// with the custom typename rule.
var configValidate *validator.Validate

func init() {
	configValidate = validator.New(validator.WithRequiredStructEnabled())
	configValidate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = configValidate.RegisterValidation("typename", validateTypeName)
}

// validateTypeName accepts dotted identifiers such as "uima.tcas.Annotation".
func validateTypeName(fl validator.FieldLevel) bool {
	return typeNamePattern.MatchString(fl.Field().String())
}

// =============================================================================
// Types
// =============================================================================

// File is the root structure for YAML deserialization.
type File struct {
	Types      []TypeYAML    `yaml:"types" validate:"dive"`
	Priorities [][]string    `yaml:"priorities" validate:"dive,dive,typename"`
	Indexes    []IndexYAML   `yaml:"indexes" validate:"dive"`
	Store      StoreYAML     `yaml:"store"`
	Runner     RunnerYAML    `yaml:"runner"`
	Telemetry  TelemetryYAML `yaml:"telemetry"`
}

// TypeYAML declares one type. Parents must be declared before children.
type TypeYAML struct {
	Name   string `yaml:"name" validate:"required,typename"`
	Parent string `yaml:"parent" validate:"required,typename"`
}

// IndexYAML declares a labelled index.
type IndexYAML struct {
	Label string    `yaml:"label" validate:"required"`
	Type  string    `yaml:"type" validate:"required,typename"`
	Kind  string    `yaml:"kind" validate:"omitempty,oneof=sorted set bag"`
	Keys  []KeyYAML `yaml:"keys" validate:"dive"`
}

// KeyYAML is one sort key: a feature with a direction, or the type
// priority.
type KeyYAML struct {
	Feature      string `yaml:"feature" validate:"required_without=TypePriority,excluded_with=TypePriority"`
	Direction    string `yaml:"direction" validate:"omitempty,oneof=ascending descending"`
	TypePriority bool   `yaml:"type_priority"`
}

// StoreYAML holds store limits.
type StoreYAML struct {
	MaxRecords int `yaml:"max_records" validate:"gte=0"`
}

// RunnerYAML holds per-document processing settings.
type RunnerYAML struct {
	Workers          int `yaml:"workers" validate:"gte=0,lte=256"`
	MaxDocumentBytes int `yaml:"max_document_bytes" validate:"gte=0"`
}

// TelemetryYAML selects the telemetry exporter.
type TelemetryYAML struct {
	Exporter    string `yaml:"exporter" validate:"omitempty,oneof=none stdout otlp prometheus"`
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
}

// FieldError describes one failed validation rule.
type FieldError struct {
	// Field is the YAML path of the offending value, e.g. "indexes[0].label".
	Field string

	// Rule is the failed rule, e.g. "required".
	Rule string

	// Param is the rule parameter, if any.
	Param string
}

func (e FieldError) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("%s: failed %s=%s", e.Field, e.Rule, e.Param)
	}
	return fmt.Sprintf("%s: failed %s", e.Field, e.Rule)
}

// ValidationError lists every field that failed validation.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Error()
	}
	return fmt.Sprintf("%v: %s", ErrInvalidConfig, strings.Join(parts, "; "))
}

// Unwrap makes errors.Is(err, ErrInvalidConfig) hold.
func (e *ValidationError) Unwrap() error { return ErrInvalidConfig }

// =============================================================================
// Loading
// =============================================================================

// Default returns the embedded default config.
func Default(ctx context.Context) (*File, error) {
	return parse(ctx, defaultYAML, "embedded")
}

// Parse decodes and validates YAML config data. Unknown keys are rejected.
func Parse(ctx context.Context, data []byte) (*File, error) {
	return parse(ctx, data, "bytes")
}

// Load reads and validates the config file at path. An empty path loads
// the embedded default.
//
// Errors:
//
//	ErrFileTooLarge - the file exceeds MaxYAMLFileSize
//	ErrInvalidConfig - the file fails validation
func Load(ctx context.Context, path string) (*File, error) {
	if ctx == nil {
		return nil, fmt.Errorf("config.Load: ctx must not be nil")
	}
	if path == "" {
		return Default(ctx)
	}

	ctx, span := tracer.Start(ctx, "config.Load", trace.WithAttributes(attribute.String("path", path)))
	defer span.End()

	data, err := readFile(path)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read failed")
		configLoads.WithLabelValues("file", "error").Inc()
		return nil, err
	}
	span.SetAttributes(attribute.Int("yaml_size", len(data)))
	return parse(ctx, data, "file")
}

// readFile reads path after checking its size.
func readFile(path string) ([]byte, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat config: %w", err)
	}
	if info.Size() > MaxYAMLFileSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrFileTooLarge, info.Size(), MaxYAMLFileSize)
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return data, nil
}

func parse(ctx context.Context, data []byte, source string) (f *File, err error) {
	_, span := tracer.Start(ctx, "config.Parse", trace.WithAttributes(attribute.String("source", source)))
	defer span.End()

	startTime := time.Now()
	defer func() {
		configLoadDuration.Observe(time.Since(startTime).Seconds())
		result := "ok"
		if err != nil {
			result = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, "parse failed")
		}
		configLoads.WithLabelValues(source, result).Inc()
	}()

	f = &File{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: unmarshaling YAML: %v", ErrInvalidConfig, err)
	}
	f.applyDefaults()

	if err := configValidate.Struct(f); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		ve := &ValidationError{}
		for _, fe := range verrs {
			field, _ := strings.CutPrefix(fe.Namespace(), "File.")
			ve.Fields = append(ve.Fields, FieldError{Field: field, Rule: fe.Tag(), Param: fe.Param()})
		}
		return nil, ve
	}

	span.SetAttributes(
		attribute.Int("type_count", len(f.Types)),
		attribute.Int("index_count", len(f.Indexes)),
	)
	slog.Debug("CAS config parsed",
		slog.String("source", source),
		slog.Int("type_count", len(f.Types)),
		slog.Int("index_count", len(f.Indexes)),
	)
	return f, nil
}

func (f *File) applyDefaults() {
	if f.Store.MaxRecords == 0 {
		f.Store.MaxRecords = store.DefaultMaxRecords
	}
	if f.Runner.Workers == 0 {
		f.Runner.Workers = DefaultWorkers
	}
	if f.Runner.MaxDocumentBytes == 0 {
		f.Runner.MaxDocumentBytes = DefaultMaxDocumentBytes
	}
	if f.Telemetry.Exporter == "" {
		f.Telemetry.Exporter = "none"
	}
}

// =============================================================================
// Building
// =============================================================================

// Schema is the runtime form of a File.
type Schema struct {
	// TypeSystem is committed.
	TypeSystem *types.TypeSystem

	// Priorities orders co-extensive annotations of different types.
	Priorities *types.Priorities

	// Indexes are the labelled index definitions every store gets.
	Indexes []index.Definition

	// MaxRecords is the store capacity.
	MaxRecords int
}

// Build creates the type system, priorities and index definitions.
//
// Errors:
//
//	ErrInvalidConfig - wrapping the type system, priority or index error
func (f *File) Build() (*Schema, error) {
	ts := types.NewTypeSystem()
	for _, t := range f.Types {
		if _, err := ts.AddType(t.Name, t.Parent); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	ts.Commit()

	prio, err := types.NewPriorities(ts, f.Priorities...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	defs := make([]index.Definition, 0, len(f.Indexes))
	for i, ix := range f.Indexes {
		def, err := ix.definition(ts, prio)
		if err != nil {
			return nil, fmt.Errorf("%w: indexes[%d]: %w", ErrInvalidConfig, i, err)
		}
		defs = append(defs, def)
	}

	return &Schema{
		TypeSystem: ts,
		Priorities: prio,
		Indexes:    defs,
		MaxRecords: f.Store.MaxRecords,
	}, nil
}

func (ix IndexYAML) definition(ts *types.TypeSystem, prio *types.Priorities) (index.Definition, error) {
	t, ok := ts.Type(ix.Type)
	if !ok {
		return index.Definition{}, fmt.Errorf("%w: %q", types.ErrUnknownType, ix.Type)
	}
	kind, err := index.ParseKind(ix.Kind)
	if err != nil {
		return index.Definition{}, err
	}
	def := index.Definition{Label: ix.Label, Type: t, Kind: kind}
	if kind == index.KindBag {
		return def, nil
	}

	keys := make([]order.Key, 0, len(ix.Keys))
	for _, k := range ix.Keys {
		switch {
		case k.TypePriority:
			keys = append(keys, order.ByTypePriority())
		case k.Direction == "descending":
			keys = append(keys, order.Desc(k.Feature))
		default:
			keys = append(keys, order.Asc(k.Feature))
		}
	}
	def.Order = order.New(prio, keys...)
	return def, nil
}

// NewStore creates a store over the schema with every configured index
// defined. Options are applied after the schema's own.
func (s *Schema) NewStore(opts ...store.Option) (*store.Store, error) {
	base := []store.Option{
		store.WithPriorities(s.Priorities),
		store.WithMaxRecords(s.MaxRecords),
	}
	st, err := store.New(s.TypeSystem, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	for _, def := range s.Indexes {
		if _, err := st.DefineIndex(def); err != nil {
			return nil, err
		}
	}
	return st, nil
}
