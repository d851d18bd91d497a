// Copyright (C) 2025 Aegis Labs (dev@aegis-sec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/aegis-sec/aegis/services/audit"
	"github.com/aegis-sec/aegis/services/consensus"
	"github.com/aegis-sec/aegis/services/gatekeeper/datatypes"
	"github.com/aegis-sec/aegis/services/gatekeeper/observability"
)

var checkTracer = otel.Tracer("aegis.gatekeeper.handlers")

// unknownEmployee attributes checks whose request carried no employee_id.
const unknownEmployee = "unknown"

// AdapterVersion reports the currently promoted adapter, "" when none.
type AdapterVersion func() string

// HandleCheckQuery runs one query through the consensus pipeline, persists
// the audit record, and returns the merged verdicts.
//
// The response status is 200 regardless of the verdict: the verdict is the
// payload, not an HTTP error. Callers gate on final_flag.
func HandleCheckQuery(pipeline *consensus.Pipeline, store *audit.Store,
	adapterVersion AdapterVersion, metrics *observability.Metrics) gin.HandlerFunc {

	return func(c *gin.Context) {
		ctx, span := checkTracer.Start(c.Request.Context(), "HandleCheckQuery")
		defer span.End()

		var req datatypes.QueryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to parse the check-query request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}
		if req.EmployeeID == "" {
			req.EmployeeID = unknownEmployee
		}

		outcome := pipeline.Check(ctx, req.Query)
		version := adapterVersion()

		metrics.ChecksTotal.WithLabelValues(string(outcome.FinalFlag)).Inc()
		metrics.CheckDurationSeconds.Observe(outcome.Duration.Seconds())
		metrics.ClassifierVerdictsTotal.WithLabelValues("pii", string(outcome.PIIStatus)).Inc()
		metrics.ClassifierVerdictsTotal.WithLabelValues("legacy", string(outcome.MaliciousFlag)).Inc()
		metrics.ClassifierVerdictsTotal.WithLabelValues("adaptive", string(outcome.SLMFlag)).Inc()
		for _, entity := range outcome.Entities {
			metrics.PIIEntitiesTotal.WithLabelValues(entity).Inc()
		}

		resp := datatypes.QueryResponse{
			PIIStatus:      outcome.PIIStatus,
			SLMFlag:        outcome.SLMFlag,
			MaliciousFlag:  outcome.MaliciousFlag,
			FinalFlag:      outcome.FinalFlag,
			Entities:       outcome.Entities,
			AdapterVersion: version,
			DurationMS:     outcome.Duration.Milliseconds(),
		}

		if store != nil {
			rec := &audit.Record{
				EmployeeID:     req.EmployeeID,
				SessionID:      req.SessionID,
				QueryText:      req.Query,
				PIIStatus:      outcome.PIIStatus,
				SLMFlag:        outcome.SLMFlag,
				MaliciousFlag:  outcome.MaliciousFlag,
				FinalFlag:      outcome.FinalFlag,
				Entities:       outcome.Entities,
				AdapterVersion: version,
				DurationMS:     outcome.Duration.Milliseconds(),
			}
			// A failed audit write must not withhold the verdict from the
			// caller; it is logged and the check still answers.
			if err := store.Put(ctx, rec); err != nil {
				span.RecordError(err)
				slog.Error("Failed to persist the audit record", "error", err)
			} else {
				resp.RecordID = rec.ID
			}
		}

		if outcome.FinalFlag != consensus.VerdictAccept {
			slog.Warn("Query did not pass the consensus check",
				"employee_id", req.EmployeeID,
				"final_flag", outcome.FinalFlag,
				"pii_status", outcome.PIIStatus,
				"record_id", resp.RecordID)
		}
		c.JSON(http.StatusOK, resp)
	}
}
