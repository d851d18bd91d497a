// Copyright (C) 2025 Aegis Labs (dev@aegis-sec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package consensus

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("aegis.consensus")

// PIIScanner is the capability boundary to the entity-recognition engine.
// Implementations return BLOCK if any configured sensitive entity type is
// detected above the scanner's confidence policy, else ACCEPT, plus the
// detected entity types for audit.
type PIIScanner interface {
	Scan(ctx context.Context, text string) (Verdict, []string)
}

// Classifier is the narrow interface every model-backed classifier adapter
// implements. A non-nil error is converted to VerdictError at the pipeline
// boundary and never propagates further; adapters should additionally map
// their own internal faults before returning.
type Classifier interface {
	Classify(ctx context.Context, text string) (Verdict, error)
}

// Pipeline runs one query through the PII scanner and the classifier fan-out
// and merges the verdicts. It holds no per-request state; a single Pipeline
// serves concurrent requests.
type Pipeline struct {
	pii      PIIScanner
	legacy   Classifier // nil reports NOT_RUN
	adaptive Classifier // nil reports NOT_AVAILABLE

	// classifierTimeout bounds each classifier call. A timeout maps to that
	// classifier's ERROR outcome rather than stalling the request.
	classifierTimeout time.Duration

	// skipOnPIIBlock skips the classifier stage entirely when the PII scan
	// already blocked, reporting NOT_RUN for both classifiers. The final
	// verdict is BLOCK either way; this only trades audit detail for compute.
	skipOnPIIBlock bool
}

// Outcome is what one pipeline run hands back to the caller: the merged
// result plus the PII entity types that were detected, for audit storage.
type Outcome struct {
	Result
	Entities []string
	Duration time.Duration
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLegacyClassifier attaches the legacy sequence classifier.
func WithLegacyClassifier(c Classifier) Option {
	return func(p *Pipeline) { p.legacy = c }
}

// WithAdaptiveClassifier attaches the adaptive causal-model classifier.
func WithAdaptiveClassifier(c Classifier) Option {
	return func(p *Pipeline) { p.adaptive = c }
}

// WithClassifierTimeout overrides the per-classifier timeout.
func WithClassifierTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.classifierTimeout = d }
}

// WithSkipOnPIIBlock enables the short-circuit resource-saving mode.
func WithSkipOnPIIBlock(skip bool) Option {
	return func(p *Pipeline) { p.skipOnPIIBlock = skip }
}

// NewPipeline builds a Pipeline. The PII scanner is required; classifiers are
// optional and their absence degrades to NOT_RUN / NOT_AVAILABLE verdicts.
// Panics on a nil scanner (fail-fast for programming errors).
func NewPipeline(pii PIIScanner, opts ...Option) *Pipeline {
	if pii == nil {
		panic("NewPipeline: pii scanner must not be nil")
	}
	p := &Pipeline{
		pii:               pii,
		classifierTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Check runs the full pipeline for one query.
//
// The PII scan runs to completion first. Unless short-circuiting is enabled,
// both classifiers then run concurrently; their ordering is not observable in
// the output because Merge is pure and commutative with respect to finish
// order. A cancelled ctx cancels the classifier calls for this request only.
//
// Check never fails: every fault is folded into the returned verdicts.
func (p *Pipeline) Check(ctx context.Context, text string) Outcome {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "Pipeline.Check")
	defer span.End()

	piiStatus, entities := p.pii.Scan(ctx, text)
	span.SetAttributes(
		attribute.String("aegis.pii_status", string(piiStatus)),
		attribute.Int("aegis.pii_entities", len(entities)),
	)

	var legacyFlag, adaptiveFlag Verdict
	if piiStatus == VerdictBlock && p.skipOnPIIBlock {
		legacyFlag, adaptiveFlag = VerdictNotRun, VerdictNotRun
	} else {
		legacyFlag, adaptiveFlag = p.runClassifiers(ctx, text)
	}

	result := Merge(piiStatus, legacyFlag, adaptiveFlag)
	span.SetAttributes(attribute.String("aegis.final_flag", string(result.FinalFlag)))

	return Outcome{
		Result:   result,
		Entities: entities,
		Duration: time.Since(start),
	}
}

// runClassifiers fans out to both classifier adapters concurrently and waits
// for both. Classifier errors are non-fatal: they become VerdictError for
// that classifier and never abort the other one.
func (p *Pipeline) runClassifiers(ctx context.Context, text string) (legacy, adaptive Verdict) {
	legacy = VerdictNotRun
	adaptive = VerdictNotAvailable

	g, gCtx := errgroup.WithContext(ctx)

	if p.legacy != nil {
		g.Go(func() error {
			legacy = p.callOne(gCtx, "legacy", p.legacy, text)
			return nil // classifier faults are folded into the verdict
		})
	}
	if p.adaptive != nil {
		g.Go(func() error {
			adaptive = p.callOne(gCtx, "adaptive", p.adaptive, text)
			return nil
		})
	}
	_ = g.Wait()
	return legacy, adaptive
}

// callOne invokes a single classifier under the per-classifier timeout and
// maps any fault to VerdictError.
func (p *Pipeline) callOne(ctx context.Context, name string, c Classifier, text string) Verdict {
	callCtx, cancel := context.WithTimeout(ctx, p.classifierTimeout)
	defer cancel()

	verdict, err := c.Classify(callCtx, text)
	if err != nil {
		slog.Warn("Classifier fault mapped to ERROR", "classifier", name, "error", err)
		return VerdictError
	}
	return verdict
}
