// Copyright (C) 2025 Aegis Labs (dev@aegis-sec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package pii_engine detects sensitive entities (SSNs, card numbers, emails,
// phone numbers) in query text. Detection rules are regex patterns embedded
// into the binary at build time; the scanner emits a binary ACCEPT/BLOCK
// verdict plus the matched entity types for the audit trail.
package pii_engine

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/aegis-sec/aegis/services/consensus"
	"github.com/aegis-sec/aegis/services/pii_engine/enforcement"
	"gopkg.in/yaml.v3"
)

var tracer = otel.Tracer("aegis.pii_engine")

// DefaultEntities is the entity set scanned when no explicit selection is
// configured.
var DefaultEntities = []string{"PHONE_NUMBER", "EMAIL_ADDRESS", "US_SSN", "CREDIT_CARD"}

// Scanner holds the compiled entity rules and the policy knobs that decide
// which matches turn into a BLOCK.
type Scanner struct {
	entities      []EntityClass
	enabled       map[string]bool
	minConfidence ConfidenceLevel
}

// Option adjusts scanner policy at construction time.
type Option func(*Scanner)

// WithEntities restricts scanning to the named entity types. Names that do not
// exist in the embedded pattern file are rejected by NewScanner.
func WithEntities(types []string) Option {
	return func(s *Scanner) {
		s.enabled = make(map[string]bool, len(types))
		for _, t := range types {
			s.enabled[strings.ToUpper(strings.TrimSpace(t))] = true
		}
	}
}

// WithMinConfidence sets the confidence cutoff below which a match is recorded
// as a finding but does not block the query. Defaults to Medium.
func WithMinConfidence(level ConfidenceLevel) Option {
	return func(s *Scanner) { s.minConfidence = level }
}

// NewScanner initializes a scanner from the embedded pattern file.
//
// It performs the following operations:
// 1. Unmarshals the embedded YAML data.
// 2. Compiles all regex patterns.
// 3. Sorts entity classes by priority.
//
// Returns an error if the embedded YAML is malformed, contains invalid regex,
// or an Option names an entity type the pattern file does not define.
func NewScanner(opts ...Option) (*Scanner, error) {
	var patternFile EntityPatternFile
	if err := yaml.Unmarshal(enforcement.PIIEntityPatterns, &patternFile); err != nil {
		return nil, fmt.Errorf("failed to unmarshal the embedded pattern file: %w", err)
	}

	if err := patternFile.CompileRegexes(); err != nil {
		return nil, fmt.Errorf("failed to compile a regex: %w", err)
	}
	patternFile.SortByPriority()

	s := &Scanner{
		entities:      patternFile.Entities,
		minConfidence: Medium,
	}
	s.enabled = make(map[string]bool, len(DefaultEntities))
	for _, t := range DefaultEntities {
		s.enabled[t] = true
	}
	for _, opt := range opts {
		opt(s)
	}

	known := make(map[string]bool, len(s.entities))
	for _, e := range s.entities {
		known[e.Type] = true
	}
	for t := range s.enabled {
		if !known[t] {
			return nil, fmt.Errorf("unknown entity type %q: not defined in the embedded pattern file", t)
		}
	}
	return s, nil
}

// Scan checks the query text against every enabled entity class and returns
// BLOCK with the distinct matched entity types when any match meets the
// scanner's confidence cutoff, ACCEPT otherwise.
//
// The scanner never errors on query content: a query it cannot match is
// simply clean. This keeps the pii leg of the pipeline binary by contract.
func (s *Scanner) Scan(ctx context.Context, text string) (consensus.Verdict, []string) {
	_, span := tracer.Start(ctx, "pii_engine.Scan")
	defer span.End()

	var matched []string
	for _, finding := range s.ScanDetailed(text) {
		if !finding.Confidence.AtLeast(s.minConfidence) {
			continue
		}
		seen := false
		for _, t := range matched {
			if t == finding.EntityType {
				seen = true
				break
			}
		}
		if !seen {
			matched = append(matched, finding.EntityType)
		}
	}

	if len(matched) > 0 {
		span.SetAttributes(
			attribute.String("pii.verdict", string(consensus.VerdictBlock)),
			attribute.StringSlice("pii.entity_types", matched),
		)
		return consensus.VerdictBlock, matched
	}
	span.SetAttributes(attribute.String("pii.verdict", string(consensus.VerdictAccept)))
	return consensus.VerdictAccept, nil
}

// ScanDetailed audits the query text against every enabled pattern and
// captures one Finding per match, including low-confidence matches that Scan
// would not block on. Intended for the audit record rather than the hot path
// verdict.
func (s *Scanner) ScanDetailed(text string) []Finding {
	var findings []Finding
	for _, entity := range s.entities {
		if !s.enabled[entity.Type] {
			continue
		}
		for _, pattern := range entity.Patterns {
			match := pattern.compiledPattern.FindString(text)
			if match != "" {
				findings = append(findings, Finding{
					EntityType:         entity.Type,
					PatternId:          pattern.Id,
					PatternDescription: pattern.Description,
					MatchedContent:     strings.TrimSpace(match),
					Confidence:         pattern.Confidence,
				})
			}
		}
	}
	return findings
}
