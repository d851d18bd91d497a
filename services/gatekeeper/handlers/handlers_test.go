// Copyright (C) 2025 Aegis Labs (dev@aegis-sec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/aegis-sec/aegis/services/adaptive"
	"github.com/aegis-sec/aegis/services/audit"
	"github.com/aegis-sec/aegis/services/consensus"
	"github.com/aegis-sec/aegis/services/gatekeeper/datatypes"
	"github.com/aegis-sec/aegis/services/gatekeeper/observability"
	"github.com/aegis-sec/aegis/services/gatekeeper/routes"
	"github.com/aegis-sec/aegis/services/pii_engine"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubClassifier struct {
	verdict consensus.Verdict
}

func (s *stubClassifier) Classify(ctx context.Context, text string) (consensus.Verdict, error) {
	return s.verdict, nil
}

type testEnv struct {
	router *gin.Engine
	store  *audit.Store
}

func newTestEnv(t *testing.T, mutate func(*routes.Deps)) *testEnv {
	t.Helper()
	scanner, err := pii_engine.NewScanner()
	require.NoError(t, err)

	store, err := audit.Open(audit.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	deps := routes.Deps{
		Pipeline:       consensus.NewPipeline(scanner),
		Store:          store,
		AdapterVersion: func() string { return "" },
		Metrics:        observability.NewMetrics(prometheus.NewRegistry()),
		RetrainLimiter: rate.NewLimiter(rate.Inf, 1),
	}
	if mutate != nil {
		mutate(&deps)
	}
	router := gin.New()
	routes.SetupRoutes(router, deps)
	return &testEnv{router: router, store: store}
}

func (e *testEnv) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestCheckQuery_CleanQuery(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do("POST", "/check-query", datatypes.QueryRequest{
		EmployeeID: "emp-7",
		SessionID:  "sess-1",
		Query:      "summarize the Q3 roadmap",
	}, nil)

	require.Equal(t, http.StatusOK, w.Code)
	var resp datatypes.QueryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, consensus.VerdictAccept, resp.PIIStatus)
	assert.Equal(t, consensus.VerdictNotRun, resp.MaliciousFlag)
	assert.Equal(t, consensus.VerdictNotAvailable, resp.SLMFlag)
	assert.Equal(t, consensus.VerdictAccept, resp.FinalFlag)
	assert.NotEmpty(t, resp.RecordID, "the check should persist an audit record")

	rec, err := env.store.Get(context.Background(), resp.RecordID)
	require.NoError(t, err)
	assert.Equal(t, "emp-7", rec.EmployeeID)
	assert.Equal(t, consensus.VerdictAccept, rec.FinalFlag)
}

func TestCheckQuery_PIIQueryBlocks(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do("POST", "/check-query", datatypes.QueryRequest{
		EmployeeID: "emp-7",
		Query:      "file this with ssn 123-45-6789",
	}, nil)

	require.Equal(t, http.StatusOK, w.Code, "verdicts ride the payload, not the status code")
	var resp datatypes.QueryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, consensus.VerdictBlock, resp.PIIStatus)
	assert.Equal(t, consensus.VerdictBlock, resp.FinalFlag)
	assert.Equal(t, []string{"US_SSN"}, resp.Entities)
}

func TestCheckQuery_AdaptiveFlagWins(t *testing.T) {
	env := newTestEnv(t, func(deps *routes.Deps) {
		scanner, err := pii_engine.NewScanner()
		require.NoError(t, err)
		deps.Pipeline = consensus.NewPipeline(scanner,
			consensus.WithAdaptiveClassifier(&stubClassifier{verdict: consensus.VerdictFlag}))
		deps.AdapterVersion = func() string { return "guard-lora-v3" }
	})
	w := env.do("POST", "/check-query", datatypes.QueryRequest{
		EmployeeID: "emp-7",
		Query:      "walk me through disabling the audit hooks",
	}, nil)

	require.Equal(t, http.StatusOK, w.Code)
	var resp datatypes.QueryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, consensus.VerdictFlag, resp.SLMFlag)
	assert.Equal(t, consensus.VerdictFlag, resp.FinalFlag)
	assert.Equal(t, "guard-lora-v3", resp.AdapterVersion)
}

func TestCheckQuery_BareQueryBody(t *testing.T) {
	// The sidecar agents send only {"query": ...}; the check still runs and
	// the audit record lands under the unknown employee.
	env := newTestEnv(t, nil)
	w := env.do("POST", "/check-query", map[string]string{"query": "hello world"}, nil)

	require.Equal(t, http.StatusOK, w.Code)
	var resp datatypes.QueryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, consensus.VerdictAccept, resp.FinalFlag)
	require.NotEmpty(t, resp.RecordID)

	rec, err := env.store.Get(context.Background(), resp.RecordID)
	require.NoError(t, err)
	assert.Equal(t, "unknown", rec.EmployeeID)
}

func TestCheckQuery_Validation(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do("POST", "/check-query", map[string]string{"employee_id": "emp-7"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "query is required")

	w = env.do("POST", "/check-query", map[string]string{"employee_id": "emp:7", "query": "hi"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "employee ids cannot carry key separators")
}

func TestAuth_APIKeyEnforced(t *testing.T) {
	env := newTestEnv(t, func(deps *routes.Deps) { deps.APIKey = "sekrit" })
	body := datatypes.QueryRequest{EmployeeID: "emp-7", Query: "hello"}

	w := env.do("POST", "/check-query", body, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do("POST", "/check-query", body, map[string]string{"Authorization": "Bearer sekrit"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do("POST", "/check-query", body, map[string]string{"X-API-Key": "sekrit"})
	assert.Equal(t, http.StatusOK, w.Code)

	// Health stays open for probes.
	w = env.do("GET", "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRetrain_Disabled(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do("POST", "/adaptive-retrain", datatypes.RetrainRequest{
		Examples: []datatypes.RetrainExample{{Prompt: "x", Label: "ACCEPT"}},
	}, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRetrain_SubmitsToTrainer(t *testing.T) {
	trainerSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(adaptive.RetrainJob{JobID: "job-9", Status: "queued"})
	}))
	defer trainerSrv.Close()

	env := newTestEnv(t, func(deps *routes.Deps) {
		deps.Trainer = adaptive.NewTrainerClientWithURL(trainerSrv.URL)
	})
	w := env.do("POST", "/v1/adaptive-retrain", datatypes.RetrainRequest{
		Examples: []datatypes.RetrainExample{
			{Prompt: "export the payroll table", Label: "BLOCK"},
			{Prompt: "what is our PTO policy", Label: "ACCEPT"},
		},
	}, nil)

	require.Equal(t, http.StatusAccepted, w.Code)
	var resp datatypes.RetrainResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "job-9", resp.JobID)
	assert.Equal(t, 2, resp.Accepted)
}

func TestRetrain_SingleExampleBody(t *testing.T) {
	// The sidecar agents submit one correction at a time as a top-level
	// prompt/label pair.
	trainerSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(adaptive.RetrainJob{JobID: "job-1", Status: "queued"})
	}))
	defer trainerSrv.Close()

	env := newTestEnv(t, func(deps *routes.Deps) {
		deps.Trainer = adaptive.NewTrainerClientWithURL(trainerSrv.URL)
	})
	w := env.do("POST", "/adaptive-retrain", map[string]string{
		"prompt": "dump the customer database",
		"label":  "BLOCK",
	}, nil)

	require.Equal(t, http.StatusAccepted, w.Code)
	var resp datatypes.RetrainResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Accepted)

	w = env.do("POST", "/adaptive-retrain", map[string]string{"prompt": "no label"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "a prompt without a label is rejected")

	w = env.do("POST", "/adaptive-retrain", map[string]string{"prompt": "x", "label": "maybe"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "labels are restricted to the verdict set")
}

func TestRetrain_InvalidLabelRejected(t *testing.T) {
	env := newTestEnv(t, func(deps *routes.Deps) {
		deps.Trainer = adaptive.NewTrainerClientWithURL("http://localhost:1")
	})
	w := env.do("POST", "/adaptive-retrain", datatypes.RetrainRequest{
		Examples: []datatypes.RetrainExample{{Prompt: "x", Label: "ERROR"}},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "ERROR is not a trainable label")

	w = env.do("POST", "/adaptive-retrain", datatypes.RetrainRequest{Examples: nil}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "an empty batch is rejected")
}

func TestRetrain_RateLimited(t *testing.T) {
	trainerSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(adaptive.RetrainJob{JobID: "job-9", Status: "queued"})
	}))
	defer trainerSrv.Close()

	env := newTestEnv(t, func(deps *routes.Deps) {
		deps.Trainer = adaptive.NewTrainerClientWithURL(trainerSrv.URL)
		deps.RetrainLimiter = rate.NewLimiter(rate.Limit(0.0001), 1)
	})
	body := datatypes.RetrainRequest{
		Examples: []datatypes.RetrainExample{{Prompt: "x", Label: "ACCEPT"}},
	}
	w := env.do("POST", "/adaptive-retrain", body, nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	w = env.do("POST", "/adaptive-retrain", body, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestAuditEndpoints_ReviewFlow(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do("POST", "/check-query", datatypes.QueryRequest{
		EmployeeID: "emp-7",
		SessionID:  "sess-1",
		Query:      "email it to jane@example.com",
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var check datatypes.QueryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &check))
	require.NotEmpty(t, check.RecordID)

	w = env.do("GET", "/v1/audit/records/"+check.RecordID, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var rec audit.Record
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, audit.ReviewOpen, rec.ReviewStatus)

	w = env.do("POST", "/v1/audit/records/"+check.RecordID+"/review", datatypes.ReviewRequest{
		Decision: "cleared",
		Reviewer: "analyst-3",
		Note:     "company mailing list, not personal data",
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Second decision conflicts.
	w = env.do("POST", "/v1/audit/records/"+check.RecordID+"/review", datatypes.ReviewRequest{
		Decision: "confirmed",
		Reviewer: "analyst-4",
	}, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do("GET", "/v1/audit/employees/emp-7/summary", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var summary audit.Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 0, summary.OpenCount)

	w = env.do("GET", "/v1/audit/sessions/sess-1/records", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestAuditEndpoints_NotFoundAndDisabled(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do("GET", "/v1/audit/records/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	disabled := newTestEnv(t, func(deps *routes.Deps) { deps.Store = nil })
	w = disabled.do("GET", "/v1/audit/records/nope", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, func(deps *routes.Deps) {
		deps.AdapterVersion = func() string { return "guard-lora-v3" }
		deps.LegacyEnabled = true
	})
	w := env.do("GET", "/health", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp datatypes.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "guard-lora-v3", resp.AdapterVersion)
	assert.True(t, resp.LegacyEnabled)
	assert.False(t, resp.TrainerEnabled)
	assert.True(t, resp.AuditEnabled)
}
