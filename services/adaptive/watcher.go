// Copyright (C) 2025 Aegis Labs (dev@aegis-sec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
package adaptive

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the registry when the registry file changes on disk. The
// retraining sidecar promotes adapters by rewriting that file, so this is how
// promotions reach a running gatekeeper without a restart.
type Watcher struct {
	registry *Registry
	debounce time.Duration
}

// NewWatcher wires a watcher over the registry. Panics on nil (fail-fast for
// programming errors).
func NewWatcher(registry *Registry) *Watcher {
	if registry == nil {
		panic("NewWatcher: registry must not be nil")
	}
	return &Watcher{
		registry: registry,
		// Writers replace the file with a temp-file rename, which can fire
		// several events back to back. Reload once after they settle.
		debounce: 250 * time.Millisecond,
	}
}

// Run blocks until ctx is cancelled, reloading the registry after every
// change to the registry file. Reload failures are logged and do not stop the
// watcher; the previous snapshot keeps serving.
//
// The parent directory is watched rather than the file itself so rename-based
// replacement does not drop the watch.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create the registry watcher: %w", err)
	}
	defer fsw.Close()

	dir := filepath.Dir(w.registry.Path())
	if err := fsw.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	slog.Info("Watching the adapter registry", "path", w.registry.Path())

	target := filepath.Clean(w.registry.Path())
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				fire = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
		case <-fire:
			timer = nil
			fire = nil
			if err := w.registry.Reload(ctx); err != nil {
				slog.Error("Registry reload after a file change failed", "error", err)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			slog.Error("Registry watcher error", "error", err)
		}
	}
}
