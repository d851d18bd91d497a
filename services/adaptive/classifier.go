// Copyright (C) 2025 Aegis Labs (dev@aegis-sec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
package adaptive

import (
	"context"

	"github.com/aegis-sec/aegis/services/consensus"
)

// Classifier adapts the hot-swappable State to the consensus.Classifier
// interface. Each call reads the state fresh, so a promotion between two
// requests takes effect on the very next request with no coordination.
type Classifier struct {
	state *State
}

// NewClassifier panics on a nil state (fail-fast for programming errors).
func NewClassifier(state *State) *Classifier {
	if state == nil {
		panic("NewClassifier: state must not be nil")
	}
	return &Classifier{state: state}
}

// Classify reports NOT_AVAILABLE without error when no adapter is promoted.
// That is the expected degraded mode, not a fault; the consensus merge treats
// it as severity-neutral. Inference errors from a loaded adapter propagate so
// the pipeline can record ERROR.
func (c *Classifier) Classify(ctx context.Context, text string) (consensus.Verdict, error) {
	snap := c.state.Current()
	if snap == nil {
		return consensus.VerdictNotAvailable, nil
	}
	return snap.Client().Classify(ctx, text)
}

// Version returns the promoted adapter version, or "" when none is loaded.
// Surfaced in health responses and audit records.
func (c *Classifier) Version() string {
	snap := c.state.Current()
	if snap == nil {
		return ""
	}
	return snap.Version
}
