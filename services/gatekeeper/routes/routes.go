// Copyright (C) 2025 Aegis Labs (dev@aegis-sec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/aegis-sec/aegis/services/adaptive"
	"github.com/aegis-sec/aegis/services/audit"
	"github.com/aegis-sec/aegis/services/consensus"
	"github.com/aegis-sec/aegis/services/gatekeeper/handlers"
	"github.com/aegis-sec/aegis/services/gatekeeper/middleware"
	"github.com/aegis-sec/aegis/services/gatekeeper/observability"
)

// Deps carries everything the route tree needs. Optional components (store,
// trainer) may be nil; their endpoints degrade instead of disappearing.
type Deps struct {
	Pipeline       *consensus.Pipeline
	Store          *audit.Store
	Trainer        *adaptive.TrainerClient
	AdapterVersion handlers.AdapterVersion
	Metrics        *observability.Metrics
	RetrainLimiter *rate.Limiter
	APIKey         string
	LegacyEnabled  bool
}

func SetupRoutes(router *gin.Engine, deps Deps) {
	router.GET("/health", handlers.HealthCheck(deps.AdapterVersion,
		deps.LegacyEnabled, deps.Trainer != nil, deps.Store != nil))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	auth := middleware.APIKeyAuth(deps.APIKey)

	checkQuery := handlers.HandleCheckQuery(deps.Pipeline, deps.Store, deps.AdapterVersion, deps.Metrics)
	retrain := handlers.HandleRetrain(deps.Trainer, deps.RetrainLimiter, deps.Metrics)

	// Top-level aliases for the original sidecar contract.
	router.POST("/check-query", auth, checkQuery)
	router.POST("/adaptive-retrain", auth, retrain)

	// API version 1 group
	v1 := router.Group("/v1")
	v1.Use(auth)
	{
		v1.POST("/check-query", checkQuery)
		v1.POST("/adaptive-retrain", retrain)
		v1.GET("/adaptive-retrain/:jobId", handlers.HandleRetrainStatus(deps.Trainer))

		// Audit and review routes
		auditGroup := v1.Group("/audit")
		{
			auditGroup.GET("/records/:recordId", handlers.GetAuditRecord(deps.Store))
			auditGroup.POST("/records/:recordId/review", handlers.ReviewAuditRecord(deps.Store))
			auditGroup.GET("/employees/:employeeId/records", handlers.ListEmployeeRecords(deps.Store))
			auditGroup.GET("/employees/:employeeId/summary", handlers.GetEmployeeSummary(deps.Store))
			auditGroup.GET("/sessions/:sessionId/records", handlers.ListSessionRecords(deps.Store))
			auditGroup.GET("/sessions/:sessionId/summary", handlers.GetSessionSummary(deps.Store))
		}
	}
}
