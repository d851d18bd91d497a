// Copyright (C) 2025 Aegis Labs (dev@aegis-sec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/aegis-sec/aegis/services/audit"
	"github.com/aegis-sec/aegis/services/gatekeeper/datatypes"
)

func requireStore(store *audit.Store, c *gin.Context) bool {
	if store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "the audit store is not enabled on this deployment"})
		return false
	}
	return true
}

// GetAuditRecord fetches one audit record by id.
func GetAuditRecord(store *audit.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireStore(store, c) {
			return
		}
		rec, err := store.Get(c.Request.Context(), c.Param("recordId"))
		if errors.Is(err, audit.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
			return
		}
		if err != nil {
			slog.Error("Audit record lookup failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, rec)
	}
}

// ReviewAuditRecord applies a reviewer decision to an open record.
func ReviewAuditRecord(store *audit.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireStore(store, c) {
			return
		}
		var req datatypes.ReviewRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}
		decision, err := audit.ParseReviewStatus(req.Decision)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		rec, err := store.Review(c.Request.Context(), c.Param("recordId"), decision, req.Reviewer, req.Note)
		if errors.Is(err, audit.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, rec)
	}
}

func listLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 {
		return 100
	}
	return limit
}

// ListEmployeeRecords returns an employee's audit history, oldest first.
func ListEmployeeRecords(store *audit.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireStore(store, c) {
			return
		}
		records, err := store.ListByEmployee(c.Request.Context(), c.Param("employeeId"), listLimit(c))
		if err != nil {
			slog.Error("Employee record listing failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": records})
	}
}

// GetEmployeeSummary aggregates an employee's verdict history.
func GetEmployeeSummary(store *audit.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireStore(store, c) {
			return
		}
		summary, err := store.EmployeeSummary(c.Request.Context(), c.Param("employeeId"))
		if err != nil {
			slog.Error("Employee summary failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}

// ListSessionRecords returns one session's audit history, oldest first.
func ListSessionRecords(store *audit.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireStore(store, c) {
			return
		}
		records, err := store.ListBySession(c.Request.Context(), c.Param("sessionId"), listLimit(c))
		if err != nil {
			slog.Error("Session record listing failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": records})
	}
}

// GetSessionSummary aggregates one session's verdict history.
func GetSessionSummary(store *audit.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireStore(store, c) {
			return
		}
		summary, err := store.SessionSummary(c.Request.Context(), c.Param("sessionId"))
		if err != nil {
			slog.Error("Session summary failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}
