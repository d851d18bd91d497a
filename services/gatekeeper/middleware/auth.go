// Copyright (C) 2025 Aegis Labs (dev@aegis-sec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides HTTP middleware for the gatekeeper service.
//
// The auth middleware compares a shared API key against the Authorization
// header ("Bearer <key>") or the X-API-Key header. When no key is configured
// the middleware is a no-op, so a local deployment works with zero auth
// infrastructure.
package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
)

// APIKeyAuth returns the auth middleware for the configured key. An empty
// key disables authentication entirely.
func APIKeyAuth(key string) gin.HandlerFunc {
	if key == "" {
		slog.Warn("AEGIS_API_KEY not set, the API is unauthenticated")
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		presented := c.GetHeader("X-API-Key")
		if presented == "" {
			header := c.GetHeader("Authorization")
			presented = strings.TrimPrefix(header, "Bearer ")
			if presented == header {
				presented = ""
			}
		}
		if subtle.ConstantTimeCompare([]byte(presented), []byte(key)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing API key"})
			return
		}
		c.Next()
	}
}

// APIKeyFromEnv reads AEGIS_API_KEY, falling back to the container secret
// path if the variable is unset.
func APIKeyFromEnv() string {
	if key := os.Getenv("AEGIS_API_KEY"); key != "" {
		return key
	}
	secretPath := "/run/secrets/aegis_api_key"
	raw, err := os.ReadFile(secretPath)
	if err != nil {
		return ""
	}
	slog.Info("Read the API key from container secrets", "path", secretPath)
	return strings.TrimSpace(string(raw))
}
