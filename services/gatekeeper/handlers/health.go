// Copyright (C) 2025 Aegis Labs (dev@aegis-sec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aegis-sec/aegis/services/gatekeeper/datatypes"
)

// HealthCheck reports service liveness and which optional components are
// wired in. The adapter version is read live, so a promotion shows up here
// without a restart.
func HealthCheck(adapterVersion AdapterVersion, legacyEnabled, trainerEnabled, auditEnabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, datatypes.HealthResponse{
			Status:         "ok",
			AdapterVersion: adapterVersion(),
			LegacyEnabled:  legacyEnabled,
			TrainerEnabled: trainerEnabled,
			AuditEnabled:   auditEnabled,
		})
	}
}
