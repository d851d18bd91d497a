// Copyright (C) 2025 Aegis Labs (dev@aegis-sec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
package adaptive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/aegis-sec/aegis/services/consensus"
)

// TrainingExample is one labeled prompt submitted for adapter retraining.
// Labels are restricted to the three trainable verdicts; validation happens
// at the API boundary before a batch reaches this client.
type TrainingExample struct {
	Prompt string            `json:"prompt"`
	Label  consensus.Verdict `json:"label"`
}

// RetrainJob describes a retraining run queued on the training sidecar.
type RetrainJob struct {
	JobID           string `json:"job_id"`
	Status          string `json:"status"`
	AdapterVersion  string `json:"adapter_version,omitempty"`
	ExamplesTrained int    `json:"examples_trained,omitempty"`
}

// TrainerClient is the HTTP boundary to the retraining sidecar. Training is
// asynchronous: Submit queues a job, the sidecar fine-tunes a new LoRA
// checkpoint and promotes it through the adapter registry when done.
type TrainerClient struct {
	httpClient *http.Client
	baseURL    string
}

// NewTrainerClient reads TRAINER_URL from the environment. An unset variable
// is not an error: retraining is an optional capability and the gatekeeper
// degrades the retrain endpoint cleanly when it returns (nil, nil) here.
func NewTrainerClient() (*TrainerClient, error) {
	baseURL := os.Getenv("TRAINER_URL")
	if baseURL == "" {
		slog.Warn("TRAINER_URL not set, the retrain endpoint will be disabled")
		return nil, nil
	}
	slog.Info("Initializing trainer client", "base_url", baseURL)
	return NewTrainerClientWithURL(baseURL), nil
}

// NewTrainerClientWithURL constructs a client against an explicit endpoint.
func NewTrainerClientWithURL(baseURL string) *TrainerClient {
	return &TrainerClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
	}
}

type submitRequest struct {
	Examples []TrainingExample `json:"examples"`
}

// Submit queues a retraining batch.
func (t *TrainerClient) Submit(ctx context.Context, examples []TrainingExample) (*RetrainJob, error) {
	ctx, span := tracer.Start(ctx, "TrainerClient.Submit")
	defer span.End()
	span.SetAttributes(attribute.Int("trainer.num_examples", len(examples)))

	if len(examples) == 0 {
		return nil, fmt.Errorf("a retraining batch must contain at least one example")
	}

	var job RetrainJob
	if err := t.do(ctx, "POST", "/retrain", submitRequest{Examples: examples}, &job); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	slog.Info("Retraining batch submitted", "job_id", job.JobID, "examples", len(examples))
	return &job, nil
}

// Status fetches the state of a previously submitted job.
func (t *TrainerClient) Status(ctx context.Context, jobID string) (*RetrainJob, error) {
	ctx, span := tracer.Start(ctx, "TrainerClient.Status")
	defer span.End()

	var job RetrainJob
	if err := t.do(ctx, "GET", "/retrain/"+jobID, nil, &job); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return &job, nil
}

func (t *TrainerClient) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal the trainer request: %w", err)
		}
		body = bytes.NewBuffer(raw)
	}

	// Use NewRequestWithContext to respect context cancellation/timeout
	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create the trainer request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		slog.Error("Trainer call failed", "path", path, "error", err)
		return fmt.Errorf("trainer call failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read the trainer response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		slog.Error("Trainer returned an error", "status_code", resp.StatusCode, "response", string(respBody))
		return fmt.Errorf("trainer failed with status %d: %s", resp.StatusCode, string(respBody))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse the trainer response: %w", err)
	}
	return nil
}
