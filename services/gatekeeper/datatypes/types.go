// Copyright (C) 2025 Aegis Labs (dev@aegis-sec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes holds the wire types of the gatekeeper API.
package datatypes

import (
	"errors"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/aegis-sec/aegis/pkg/validation"
	"github.com/aegis-sec/aegis/services/consensus"
)

// QueryRequest is the body of POST /check-query. Only query is required: the
// sidecar agents send a bare {"query": ...} body, and the audit record falls
// back to the unknown employee when no id is given.
type QueryRequest struct {
	EmployeeID string `json:"employee_id" binding:"omitempty,identifier"`
	SessionID  string `json:"session_id" binding:"omitempty,identifier"`
	Query      string `json:"query" binding:"required"`
}

// QueryResponse is the consensus result plus audit context. The four verdict
// fields mirror the merge result verbatim; clients gate on final_flag only.
type QueryResponse struct {
	PIIStatus     consensus.Verdict `json:"pii_status"`
	SLMFlag       consensus.Verdict `json:"slm_flag"`
	MaliciousFlag consensus.Verdict `json:"malicious_flag"`
	FinalFlag     consensus.Verdict `json:"final_flag"`

	Entities       []string `json:"entities,omitempty"`
	AdapterVersion string   `json:"adapter_version,omitempty"`
	RecordID       string   `json:"record_id,omitempty"`
	DurationMS     int64    `json:"duration_ms"`
}

// RetrainExample is one labeled prompt in a retraining submission.
type RetrainExample struct {
	Prompt string `json:"prompt" binding:"required"`
	Label  string `json:"label" binding:"required,verdict_label"`
}

// RetrainRequest is the body of POST /adaptive-retrain. The sidecar agents
// submit one example at a time as a top-level {"prompt", "label"} pair; the
// examples list is the batch form for bulk submissions. Both may be combined.
type RetrainRequest struct {
	Prompt string `json:"prompt" binding:"omitempty"`
	Label  string `json:"label" binding:"omitempty,verdict_label"`

	Examples []RetrainExample `json:"examples" binding:"omitempty,max=1024,dive"`
}

// Flatten collapses both request shapes into one example list. A top-level
// prompt without a label (or the reverse) is an error, as is a request that
// carries no examples at all.
func (r *RetrainRequest) Flatten() ([]RetrainExample, error) {
	out := r.Examples
	if r.Prompt != "" || r.Label != "" {
		if r.Prompt == "" || r.Label == "" {
			return nil, errors.New("prompt and label must be given together")
		}
		out = append([]RetrainExample{{Prompt: r.Prompt, Label: r.Label}}, out...)
	}
	if len(out) == 0 {
		return nil, errors.New("the request carries no training examples")
	}
	return out, nil
}

// RetrainResponse reports the queued training job.
type RetrainResponse struct {
	JobID    string `json:"job_id"`
	Status   string `json:"status"`
	Accepted int    `json:"accepted"`
}

// ReviewRequest is the body of POST /v1/audit/records/:id/review.
type ReviewRequest struct {
	Decision string `json:"decision" binding:"required,oneof=cleared confirmed"`
	Reviewer string `json:"reviewer" binding:"required"`
	Note     string `json:"note"`
}

// HealthResponse reports component availability for readiness probes.
type HealthResponse struct {
	Status         string `json:"status"`
	AdapterVersion string `json:"adapter_version,omitempty"`
	LegacyEnabled  bool   `json:"legacy_enabled"`
	TrainerEnabled bool   `json:"trainer_enabled"`
	AuditEnabled   bool   `json:"audit_enabled"`
}

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		// verdict_label restricts retrain labels to the trainable verdicts.
		v.RegisterValidation("verdict_label", func(fl validator.FieldLevel) bool {
			_, err := consensus.ParseVerdict(fl.Field().String())
			return err == nil
		})
		// identifier keeps employee and session ids out of the audit
		// store's key separator space.
		v.RegisterValidation("identifier", func(fl validator.FieldLevel) bool {
			return validation.ValidateIdentifier(fl.Field().String()) == nil
		})
	}
}
