// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianCAS/services/cas/config"
	"github.com/AleutianAI/AleutianCAS/services/cas/telemetry"
)

// --- Global Command Variables ---
var (
	configPath string
	logLevel   string
	logFormat  string

	// Set by the root PersistentPreRunE.
	casConfig         *config.File
	logger            *slog.Logger
	telemetryShutdown func(context.Context) error

	rootCmd = &cobra.Command{
		Use:   "casctl",
		Short: "Annotate documents and query their annotation indexes",
		Long: `casctl runs the reference annotators over text documents and
iterates the resulting annotation indexes, optionally bounded by an
enclosing annotation and filtered by feature constraints.`,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if telemetryShutdown == nil {
				return nil
			}
			return telemetryShutdown(context.Background())
		},
	}

	iterateCmd = &cobra.Command{
		Use:   "iterate [file...]",
		Short: "Annotate files and print the annotations of a type",
		Long: `Annotate each file ("-" reads stdin) and print the annotations of
--type. With --within, annotations are grouped under each annotation of
that type that bounds them; with --begin and --end they are limited to a
character range.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runIterate, // Defined in cmd_iterate.go
	}

	typesCmd = &cobra.Command{
		Use:   "types",
		Short: "Print the configured type system, priorities and indexes",
		Args:  cobra.NoArgs,
		RunE:  runTypes, // Defined in cmd_types.go
	}

	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Watch the configuration file and report each reload",
		Args:  cobra.NoArgs,
		RunE:  runWatch, // Defined in cmd_watch.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Path to the CAS configuration file (default: built-in schema)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "auto",
		"Log format: auto, text or json (auto picks text on a terminal)")

	iterateCmd.Flags().StringVarP(&iterType, "type", "t", "Token", "Annotation type to iterate")
	iterateCmd.Flags().StringVarP(&iterWithin, "within", "w", "",
		"Group results under each annotation of this type that bounds them")
	iterateCmd.Flags().IntVar(&iterBegin, "begin", -1, "Range start (byte offset, with --end)")
	iterateCmd.Flags().IntVar(&iterEnd, "end", -1, "Range end (byte offset, with --begin)")
	iterateCmd.Flags().BoolVar(&iterAmbiguous, "ambiguous", true,
		"Return overlapping annotations; false keeps only non-overlapping ones")
	iterateCmd.Flags().BoolVar(&iterStrict, "strict", false,
		"Drop annotations that extend past the bound")
	iterateCmd.Flags().StringArrayVar(&iterWhere, "where", nil,
		`Feature constraint such as "kind == word" (repeatable, all must match)`)
	iterateCmd.Flags().StringVarP(&iterOutput, "output", "o", "text", "Output format: text, json or yaml")

	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "",
		"Serve Prometheus metrics on this address while watching (e.g. :9464)")

	rootCmd.AddCommand(iterateCmd, typesCmd, watchCmd)
}

// setup builds the logger, loads the configuration and starts telemetry.
func setup(cmd *cobra.Command, args []string) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return fmt.Errorf("invalid --log-level %q: %w", logLevel, err)
	}
	asJSON, err := useJSONLogs(logFormat, os.Stderr)
	if err != nil {
		return err
	}
	logger = telemetry.NewLogger(cmd.ErrOrStderr(), level, asJSON)
	slog.SetDefault(logger)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	casConfig, err = config.Load(ctx, configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	tcfg, err := telemetry.ForExporter(casConfig.Telemetry.Exporter)
	if err != nil {
		return err
	}
	if casConfig.Telemetry.ServiceName != "" {
		tcfg.ServiceName = casConfig.Telemetry.ServiceName
	}
	if casConfig.Telemetry.Endpoint != "" {
		tcfg.OTLPEndpoint = casConfig.Telemetry.Endpoint
	}
	telemetryShutdown, err = telemetry.Init(ctx, tcfg)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	logger.Debug("casctl ready",
		slog.String("config", configPathOrDefault()),
		slog.String("exporter", casConfig.Telemetry.Exporter),
	)
	return nil
}

// useJSONLogs resolves --log-format. "auto" picks JSON unless f is a
// terminal.
func useJSONLogs(format string, f *os.File) (bool, error) {
	switch strings.ToLower(format) {
	case "text":
		return false, nil
	case "json":
		return true, nil
	case "auto", "":
		fd := f.Fd()
		return !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd), nil
	default:
		return false, fmt.Errorf("invalid --log-format %q", format)
	}
}

func configPathOrDefault() string {
	if configPath == "" {
		return "<built-in>"
	}
	return configPath
}
