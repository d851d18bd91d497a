// Copyright (C) 2025 Aegis Labs (dev@aegis-sec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
package pii_engine

import (
	"fmt"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

type ConfidenceLevel string

const (
	Low    ConfidenceLevel = "low"
	Medium ConfidenceLevel = "medium"
	High   ConfidenceLevel = "high"
)

// rank orders confidence levels so the scanner can apply a minimum-confidence
// cutoff. Unknown levels are rejected at unmarshal time, so the zero return
// for them is unreachable in practice.
func (c ConfidenceLevel) rank() int {
	switch c {
	case Low:
		return 1
	case Medium:
		return 2
	case High:
		return 3
	}
	return 0
}

// AtLeast reports whether c meets or exceeds the given threshold.
func (c ConfidenceLevel) AtLeast(threshold ConfidenceLevel) bool {
	return c.rank() >= threshold.rank()
}

type EntityPatternFile struct {
	Entities []EntityClass `yaml:"entities"`
}

// EntityClass describes one category of sensitive data (US_SSN, EMAIL_ADDRESS,
// etc.) together with the regex patterns that detect it.
type EntityClass struct {
	Type        string    `yaml:"type"`
	Description string    `yaml:"description"`
	Priority    int       `yaml:"priority"`
	Patterns    []Pattern `yaml:"patterns"`
}

type Pattern struct {
	Id              string          `yaml:"id"`
	Description     string          `yaml:"description"`
	Regex           string          `yaml:"regex"`
	Confidence      ConfidenceLevel `yaml:"confidence"`
	compiledPattern *regexp.Regexp  `yaml:"-"`
}

func (c *ConfidenceLevel) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	incoming := ConfidenceLevel(s)
	switch incoming {
	case High, Medium, Low:
		*c = incoming
		return nil
	default:
		return fmt.Errorf("invalid value for Confidence: %q", incoming)
	}
}

func (f *EntityPatternFile) CompileRegexes() error {
	for i := range f.Entities {
		for j := range f.Entities[i].Patterns {
			pattern := &f.Entities[i].Patterns[j]
			re, err := regexp.Compile(pattern.Regex)
			if err != nil {
				return fmt.Errorf("failed to compile the regex %s: %w", pattern.Regex, err)
			}
			pattern.compiledPattern = re
		}
	}
	return nil
}

func (f *EntityPatternFile) SortByPriority() {
	sort.Slice(f.Entities, func(i, j int) bool {
		return f.Entities[i].Priority > f.Entities[j].Priority
	})
}

// Finding records one pattern match inside a scanned query. Matched content is
// retained so the audit trail can show reviewers what triggered the verdict.
type Finding struct {
	EntityType         string          `json:"entity_type"`
	PatternId          string          `json:"pattern_id"`
	PatternDescription string          `json:"pattern_description"`
	MatchedContent     string          `json:"matched_content"`
	Confidence         ConfidenceLevel `json:"confidence"`
}
