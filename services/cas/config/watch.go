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
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the config at path whenever it changes and reports each
// result to onChange. The parent directory is watched so that editors that
// replace the file by rename are seen. Watch blocks until ctx is done and
// then returns nil. A nil logger logs to slog.Default().
func Watch(ctx context.Context, path string, logger *slog.Logger, onChange func(*File, error)) error {
	if logger == nil {
		logger = slog.Default()
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(absPath), err)
	}
	logger.Info("Watching CAS config", slog.String("path", absPath))

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isReload(event, absPath) {
				continue
			}
			f, err := Load(ctx, absPath)
			if err != nil {
				logger.Warn("CAS config reload failed",
					slog.String("path", absPath),
					slog.String("error", err.Error()))
			} else {
				logger.Info("CAS config reloaded", slog.String("path", absPath))
			}
			onChange(f, err)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Config watcher error", slog.String("error", err.Error()))
		}
	}
}

// isReload reports whether event rewrote the watched file.
func isReload(event fsnotify.Event, absPath string) bool {
	name, err := filepath.Abs(event.Name)
	if err != nil || name != absPath {
		return false
	}
	return event.Op&(fsnotify.Write|fsnotify.Create) != 0
}
