// Copyright (C) 2025 Aegis Labs (dev@aegis-sec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package adaptive manages the hot-swappable LoRA adapter behind the causal
// classifier: which adapter version is promoted, loading it into a live
// snapshot, watching the on-disk registry for promotions, and the client
// boundary to the retraining sidecar.
package adaptive

import (
	"sync/atomic"
	"time"

	"github.com/aegis-sec/aegis/services/consensus"
)

// Snapshot is one immutable view of the promoted adapter. Once published it
// is never mutated; a promotion builds a fresh Snapshot off to the side and
// swaps the pointer.
type Snapshot struct {
	Version     string
	AdapterPath string
	PromotedAt  time.Time
	LoadedAt    time.Time

	client consensus.Classifier
}

// Client returns the classifier bound to this snapshot's adapter version.
func (s *Snapshot) Client() consensus.Classifier {
	return s.client
}

// State is the single handle request paths read the current adapter through.
// Readers are lock-free; the registry is the only writer. A nil snapshot
// means no adapter has been promoted yet.
type State struct {
	current atomic.Pointer[Snapshot]
}

func NewState() *State {
	return &State{}
}

// Current returns the live snapshot, or nil when no adapter is promoted.
// Callers must hold onto the returned pointer for the duration of one request
// rather than re-reading it, so a mid-request swap cannot split their view.
func (s *State) Current() *Snapshot {
	return s.current.Load()
}

// swap publishes a new snapshot and returns the one it replaced. Only the
// registry calls this, under its writer lock.
func (s *State) swap(snap *Snapshot) *Snapshot {
	return s.current.Swap(snap)
}
