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
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/aegis-sec/aegis/services/adaptive"
	"github.com/aegis-sec/aegis/services/consensus"
	"github.com/aegis-sec/aegis/services/gatekeeper/datatypes"
	"github.com/aegis-sec/aegis/services/gatekeeper/observability"
)

// HandleRetrain validates a labeled batch and forwards it to the retraining
// sidecar. Training is expensive, so submissions go through a rate limiter;
// a nil trainer means the capability is not deployed and the endpoint
// degrades to 503 instead of disappearing.
func HandleRetrain(trainer *adaptive.TrainerClient, limiter *rate.Limiter,
	metrics *observability.Metrics) gin.HandlerFunc {

	return func(c *gin.Context) {
		ctx, span := checkTracer.Start(c.Request.Context(), "HandleRetrain")
		defer span.End()

		if trainer == nil {
			metrics.RetrainSubmissionsTotal.WithLabelValues("disabled").Inc()
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "retraining is not enabled on this deployment"})
			return
		}

		var req datatypes.RetrainRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			metrics.RetrainSubmissionsTotal.WithLabelValues("rejected").Inc()
			slog.Error("Failed to parse the retrain request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}

		// Shape errors are rejected before a rate token is spent.
		submitted, err := req.Flatten()
		if err != nil {
			metrics.RetrainSubmissionsTotal.WithLabelValues("rejected").Inc()
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if !limiter.Allow() {
			metrics.RetrainSubmissionsTotal.WithLabelValues("rate_limited").Inc()
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "retrain submission rate exceeded"})
			return
		}

		examples := make([]adaptive.TrainingExample, 0, len(submitted))
		for i, ex := range submitted {
			label, err := consensus.ParseVerdict(ex.Label)
			if err != nil {
				// Binding already enforces the label set; this guards
				// against the two validations drifting apart.
				metrics.RetrainSubmissionsTotal.WithLabelValues("rejected").Inc()
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "example": i})
				return
			}
			examples = append(examples, adaptive.TrainingExample{Prompt: ex.Prompt, Label: label})
		}

		job, err := trainer.Submit(ctx, examples)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			metrics.RetrainSubmissionsTotal.WithLabelValues("error").Inc()
			slog.Error("Retrain submission failed", "error", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}

		metrics.RetrainSubmissionsTotal.WithLabelValues("accepted").Inc()
		c.JSON(http.StatusAccepted, datatypes.RetrainResponse{
			JobID:    job.JobID,
			Status:   job.Status,
			Accepted: len(examples),
		})
	}
}

// HandleRetrainStatus reports the state of a queued training job.
func HandleRetrainStatus(trainer *adaptive.TrainerClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		if trainer == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "retraining is not enabled on this deployment"})
			return
		}
		job, err := trainer.Status(c.Request.Context(), c.Param("jobId"))
		if err != nil {
			slog.Error("Retrain status lookup failed", "job_id", c.Param("jobId"), "error", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, job)
	}
}
