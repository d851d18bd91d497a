// Copyright (C) 2025 Aegis Labs (dev@aegis-sec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validation provides input validation for security-critical
// identifiers.
//
// Employee and session ids end up in composite database keys and in log
// lines, so they are restricted to a character whitelist. Validating at the
// API boundary prevents key-prefix collisions and log injection.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// identifierPattern matches safe external identifiers: letters, digits,
// dots, underscores, and hyphens. Colons are deliberately excluded because
// the audit store uses them as key separators.
var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._\-]{0,63}$`)

// ValidateIdentifier checks an employee or session id.
//
// Valid identifiers:
//   - 1-64 characters
//   - Letters and digits, plus dots, underscores, and hyphens
//   - Must start with a letter or digit
func ValidateIdentifier(id string) error {
	if id == "" {
		return fmt.Errorf("identifier cannot be empty")
	}
	if !identifierPattern.MatchString(id) {
		return fmt.Errorf("invalid identifier %q (must be 1-64 alphanumeric chars, dots, underscores, or hyphens)", id)
	}
	return nil
}

// SanitizeIdentifier trims whitespace and validates. Returns the cleaned id.
func SanitizeIdentifier(id string) (string, error) {
	normalized := strings.TrimSpace(id)
	if err := ValidateIdentifier(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}
