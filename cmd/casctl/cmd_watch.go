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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianCAS/services/cas/config"
	"github.com/AleutianAI/AleutianCAS/services/cas/telemetry"
)

var watchMetricsAddr string

func runWatch(cmd *cobra.Command, args []string) error {
	if configPath == "" {
		return errors.New("watch needs --config")
	}
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if watchMetricsAddr != "" {
		srv := startMetricsServer(watchMetricsAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	out := cmd.OutOrStdout()
	logger.Info("watching configuration", slog.String("path", configPath))
	return config.Watch(ctx, configPath, logger, func(f *config.File, err error) {
		if err != nil {
			logger.Error("configuration rejected", slog.String("error", err.Error()))
			return
		}
		reportReload(out, f)
	})
}

// reportReload prints a one-line summary of a reloaded configuration.
func reportReload(w io.Writer, f *config.File) {
	schema, err := f.Build()
	if err != nil {
		logger.Error("configuration does not build", slog.String("error", err.Error()))
		return
	}
	fmt.Fprintf(w, "reloaded: %d types, %d indexes, max %d records\n",
		schema.TypeSystem.Len(), len(schema.Indexes), schema.MaxRecords)
}

// startMetricsServer serves /metrics. The otel Prometheus exporter's
// handler is used when telemetry exports to Prometheus; otherwise the
// default registry holding the config load metrics is served.
func startMetricsServer(addr string) *http.Server {
	handler := telemetry.MetricsHandler()
	if handler == nil {
		handler = promhttp.Handler()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", slog.String("error", err.Error()))
		}
	}()
	logger.Info("serving metrics", slog.String("addr", addr))
	return srv
}
