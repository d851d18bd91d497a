// Copyright (C) 2025 Aegis Labs (dev@aegis-sec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package consensus

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeScanner struct {
	status   Verdict
	entities []string
}

func (f *fakeScanner) Scan(_ context.Context, _ string) (Verdict, []string) {
	return f.status, f.entities
}

type fakeClassifier struct {
	verdict Verdict
	err     error
	delay   time.Duration
	calls   atomic.Int32
}

func (f *fakeClassifier) Classify(ctx context.Context, _ string) (Verdict, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.verdict, f.err
}

func TestPipelineCheck_CleanQuery(t *testing.T) {
	p := NewPipeline(
		&fakeScanner{status: VerdictAccept},
		WithLegacyClassifier(&fakeClassifier{verdict: VerdictAccept}),
		WithAdaptiveClassifier(&fakeClassifier{verdict: VerdictAccept}),
	)

	out := p.Check(context.Background(), "what is the weather")

	assert.Equal(t, VerdictAccept, out.FinalFlag)
	assert.Equal(t, VerdictAccept, out.PIIStatus)
	assert.Equal(t, VerdictAccept, out.MaliciousFlag)
	assert.Equal(t, VerdictAccept, out.SLMFlag)
	assert.Empty(t, out.Entities)
}

func TestPipelineCheck_PIIBlockStillRunsClassifiersByDefault(t *testing.T) {
	legacy := &fakeClassifier{verdict: VerdictAccept}
	adaptive := &fakeClassifier{verdict: VerdictFlag}
	p := NewPipeline(
		&fakeScanner{status: VerdictBlock, entities: []string{"EMAIL_ADDRESS"}},
		WithLegacyClassifier(legacy),
		WithAdaptiveClassifier(adaptive),
	)

	out := p.Check(context.Background(), "mail me at jdoe@example.com")

	// Classifiers ran and are reported for audit, but cannot downgrade BLOCK.
	assert.Equal(t, VerdictBlock, out.FinalFlag)
	assert.Equal(t, VerdictAccept, out.MaliciousFlag)
	assert.Equal(t, VerdictFlag, out.SLMFlag)
	assert.Equal(t, []string{"EMAIL_ADDRESS"}, out.Entities)
	assert.EqualValues(t, 1, legacy.calls.Load())
	assert.EqualValues(t, 1, adaptive.calls.Load())
}

func TestPipelineCheck_PIIBlockShortCircuit(t *testing.T) {
	legacy := &fakeClassifier{verdict: VerdictAccept}
	adaptive := &fakeClassifier{verdict: VerdictAccept}
	p := NewPipeline(
		&fakeScanner{status: VerdictBlock, entities: []string{"US_SSN"}},
		WithLegacyClassifier(legacy),
		WithAdaptiveClassifier(adaptive),
		WithSkipOnPIIBlock(true),
	)

	out := p.Check(context.Background(), "my ssn is 078-05-1120")

	assert.Equal(t, VerdictBlock, out.FinalFlag)
	assert.Equal(t, VerdictNotRun, out.MaliciousFlag)
	assert.Equal(t, VerdictNotRun, out.SLMFlag)
	assert.Zero(t, legacy.calls.Load())
	assert.Zero(t, adaptive.calls.Load())
}

func TestPipelineCheck_ClassifierErrorIsFolded(t *testing.T) {
	p := NewPipeline(
		&fakeScanner{status: VerdictAccept},
		WithLegacyClassifier(&fakeClassifier{err: errors.New("sidecar unreachable")}),
		WithAdaptiveClassifier(&fakeClassifier{verdict: VerdictAccept}),
	)

	out := p.Check(context.Background(), "hello")

	assert.Equal(t, VerdictError, out.MaliciousFlag)
	assert.Equal(t, VerdictAccept, out.SLMFlag)
	assert.Equal(t, VerdictError, out.FinalFlag)
}

func TestPipelineCheck_TimeoutMapsToError(t *testing.T) {
	p := NewPipeline(
		&fakeScanner{status: VerdictAccept},
		WithLegacyClassifier(&fakeClassifier{verdict: VerdictAccept}),
		WithAdaptiveClassifier(&fakeClassifier{verdict: VerdictAccept, delay: time.Second}),
		WithClassifierTimeout(20*time.Millisecond),
	)

	start := time.Now()
	out := p.Check(context.Background(), "hello")

	require.Less(t, time.Since(start), time.Second, "pipeline must not wait out a stalled classifier")
	assert.Equal(t, VerdictError, out.SLMFlag)
	assert.Equal(t, VerdictAccept, out.MaliciousFlag)
	assert.Equal(t, VerdictError, out.FinalFlag)
}

func TestPipelineCheck_MissingClassifiers(t *testing.T) {
	p := NewPipeline(&fakeScanner{status: VerdictAccept})

	out := p.Check(context.Background(), "hello")

	assert.Equal(t, VerdictNotRun, out.MaliciousFlag)
	assert.Equal(t, VerdictNotAvailable, out.SLMFlag)
	assert.Equal(t, VerdictAccept, out.FinalFlag)
}

func TestPipelineCheck_ConcurrentRequests(t *testing.T) {
	p := NewPipeline(
		&fakeScanner{status: VerdictAccept},
		WithLegacyClassifier(&fakeClassifier{verdict: VerdictAccept, delay: time.Millisecond}),
		WithAdaptiveClassifier(&fakeClassifier{verdict: VerdictFlag, delay: time.Millisecond}),
	)

	done := make(chan Outcome, 50)
	for i := 0; i < 50; i++ {
		go func() {
			done <- p.Check(context.Background(), "hello")
		}()
	}
	for i := 0; i < 50; i++ {
		out := <-done
		assert.Equal(t, VerdictFlag, out.FinalFlag)
	}
}

func TestNewPipeline_NilScannerPanics(t *testing.T) {
	assert.Panics(t, func() { NewPipeline(nil) })
}
