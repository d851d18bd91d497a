// Copyright (C) 2025 Aegis Labs (dev@aegis-sec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
package adaptive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/aegis-sec/aegis/services/classifier"
	"github.com/aegis-sec/aegis/services/consensus"
)

var tracer = otel.Tracer("aegis.adaptive")

// registryFile is the on-disk promotion record. The retraining sidecar (or an
// operator) updates it when a new adapter is ready; the registry loads it and
// swaps the live snapshot.
type registryFile struct {
	Current *RegistryEntry  `json:"current"`
	History []RegistryEntry `json:"history,omitempty"`

	// LastAction is written by the retraining sidecar: "promoted" or
	// "rolled_back". Informational; the reload trusts Current either way.
	LastAction string `json:"last_action,omitempty"`
}

// RegistryEntry names one promoted adapter checkpoint. Scores carries the
// sidecar's evaluation metrics for the checkpoint and is passed through
// untouched.
type RegistryEntry struct {
	Version     string             `json:"version"`
	AdapterPath string             `json:"adapter_path"`
	PromotedAt  time.Time          `json:"promoted_at"`
	Scores      map[string]float64 `json:"scores,omitempty"`
}

// ClientFactory builds the classifier for a promoted adapter. Split out so
// tests can promote without an inference server to talk to.
type ClientFactory func(entry RegistryEntry) (consensus.Classifier, error)

// Registry is the single writer of the adapter State. It owns the registry
// file: Reload ingests an externally updated file, Promote records a new
// version and then ingests it. A load that fails partway leaves the previous
// snapshot serving; readers never observe a half-promoted adapter.
type Registry struct {
	mu       sync.Mutex
	path     string
	state    *State
	factory  ClientFactory
	observer func(error)
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithClientFactory overrides how classifier clients are built for promoted
// adapters.
func WithClientFactory(f ClientFactory) RegistryOption {
	return func(r *Registry) { r.factory = f }
}

// WithReloadObserver registers a callback invoked after every reload with its
// outcome, nil on success. The gatekeeper hangs its reload counter off this.
func WithReloadObserver(f func(error)) RegistryOption {
	return func(r *Registry) { r.observer = f }
}

// NewRegistry wires a registry over the given file path and state handle.
// baseURL and apiKey configure the default inference-server client factory.
// Panics on a nil state (fail-fast for programming errors).
func NewRegistry(path, baseURL, apiKey string, state *State, opts ...RegistryOption) *Registry {
	if state == nil {
		panic("NewRegistry: state must not be nil")
	}
	r := &Registry{
		path:  path,
		state: state,
		factory: func(entry RegistryEntry) (consensus.Classifier, error) {
			return classifier.NewCausalClient(baseURL, apiKey, entry.Version)
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Path returns the registry file location.
func (r *Registry) Path() string {
	return r.path
}

// Reload reads the registry file and swaps the live snapshot to whatever it
// names.
//
// Failure semantics: any fault (unreadable file, malformed JSON, client
// construction error) keeps the previous snapshot serving and returns the
// error. A file whose current entry is explicitly null demotes the adapter:
// the snapshot is cleared and the classifier reports NOT_AVAILABLE.
func (r *Registry) Reload(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reloadLocked(ctx)
}

func (r *Registry) reloadLocked(ctx context.Context) error {
	err := r.loadLocked(ctx)
	if r.observer != nil {
		r.observer(err)
	}
	return err
}

func (r *Registry) loadLocked(ctx context.Context) error {
	_, span := tracer.Start(ctx, "Registry.Reload")
	defer span.End()

	raw, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && r.state.Current() == nil {
			slog.Warn("Adapter registry file not found, classifier stays unavailable", "path", r.path)
			return nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to read the adapter registry %s: %w", r.path, err)
	}

	var file registryFile
	if err := json.Unmarshal(raw, &file); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to parse the adapter registry %s: %w", r.path, err)
	}

	prior := r.state.Current()
	if file.Current == nil {
		if prior != nil {
			r.state.swap(nil)
			slog.Info("Adapter demoted, classifier now unavailable", "previous_version", prior.Version)
		}
		return nil
	}
	if file.Current.Version == "" || file.Current.AdapterPath == "" {
		err := fmt.Errorf("adapter registry %s: current entry must carry version and adapter_path", r.path)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if prior != nil && prior.Version == file.Current.Version && prior.AdapterPath == file.Current.AdapterPath {
		return nil
	}

	// Build the replacement completely before touching the live pointer.
	client, err := r.factory(*file.Current)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Adapter promotion failed, previous snapshot stays live",
			"version", file.Current.Version, "error", err)
		return fmt.Errorf("failed to build a client for adapter %s: %w", file.Current.Version, err)
	}
	snap := &Snapshot{
		Version:     file.Current.Version,
		AdapterPath: file.Current.AdapterPath,
		PromotedAt:  file.Current.PromotedAt,
		LoadedAt:    time.Now().UTC(),
		client:      client,
	}

	old := r.state.swap(snap)
	span.SetAttributes(attribute.String("adapter.version", snap.Version))
	if old != nil {
		slog.Info("Adapter snapshot swapped", "previous_version", old.Version, "version", snap.Version)
	} else {
		slog.Info("Adapter snapshot loaded", "version", snap.Version)
	}
	return nil
}

// Promote records a new adapter version in the registry file and loads it.
// The previous current entry moves to the history list.
//
// The file is replaced atomically (write-then-rename). If loading the new
// version fails, the previous file content is restored and the previous
// snapshot keeps serving, so a bad promotion leaves no trace in either the
// file or the live state.
func (r *Registry) Promote(ctx context.Context, version, adapterPath string) error {
	if version == "" || adapterPath == "" {
		return fmt.Errorf("promote requires a version and an adapter path")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var file registryFile
	priorRaw, readErr := os.ReadFile(r.path)
	if readErr == nil {
		if err := json.Unmarshal(priorRaw, &file); err != nil {
			return fmt.Errorf("failed to parse the adapter registry %s: %w", r.path, err)
		}
	} else if !errors.Is(readErr, os.ErrNotExist) {
		return fmt.Errorf("failed to read the adapter registry %s: %w", r.path, readErr)
	}

	if file.Current != nil {
		file.History = append(file.History, *file.Current)
	}
	file.Current = &RegistryEntry{
		Version:     version,
		AdapterPath: adapterPath,
		PromotedAt:  time.Now().UTC(),
	}
	file.LastAction = "promoted"

	if err := r.writeLocked(file); err != nil {
		return err
	}
	if err := r.reloadLocked(ctx); err != nil {
		// Roll the file back so the registry on disk matches what serves.
		if readErr == nil {
			if restoreErr := os.WriteFile(r.path, priorRaw, 0o644); restoreErr != nil {
				slog.Error("Failed to restore the adapter registry after a bad promotion",
					"path", r.path, "error", restoreErr)
			}
		} else {
			if removeErr := os.Remove(r.path); removeErr != nil {
				slog.Error("Failed to remove the adapter registry after a bad promotion",
					"path", r.path, "error", removeErr)
			}
		}
		return fmt.Errorf("promotion of adapter %s rolled back: %w", version, err)
	}
	return nil
}

func (r *Registry) writeLocked(file registryFile) error {
	raw, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal the adapter registry: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".registry-*.json")
	if err != nil {
		return fmt.Errorf("failed to stage the adapter registry: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write the adapter registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write the adapter registry: %w", err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace the adapter registry: %w", err)
	}
	return nil
}
