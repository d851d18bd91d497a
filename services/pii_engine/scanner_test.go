// Copyright (C) 2025 Aegis Labs (dev@aegis-sec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
package pii_engine

import (
	"context"
	"testing"

	"github.com/aegis-sec/aegis/services/consensus"
)

func TestNewScanner_EmbeddedPatternsLoad(t *testing.T) {
	s, err := NewScanner()
	if err != nil {
		t.Fatalf("NewScanner failed on the embedded pattern file: %v", err)
	}
	if len(s.entities) == 0 {
		t.Fatal("expected at least one entity class from the embedded file")
	}
	for i := 1; i < len(s.entities); i++ {
		if s.entities[i-1].Priority < s.entities[i].Priority {
			t.Errorf("entities not sorted by priority: %s (%d) before %s (%d)",
				s.entities[i-1].Type, s.entities[i-1].Priority,
				s.entities[i].Type, s.entities[i].Priority)
		}
	}
}

func TestNewScanner_UnknownEntityRejected(t *testing.T) {
	_, err := NewScanner(WithEntities([]string{"PASSPORT_NUMBER"}))
	if err == nil {
		t.Fatal("expected an error for an entity type the pattern file does not define")
	}
}

func TestScan_Verdicts(t *testing.T) {
	tests := []struct {
		name         string
		text         string
		wantVerdict  consensus.Verdict
		wantEntities []string
	}{
		{
			name:        "clean query",
			text:        "summarize the Q3 roadmap for the platform team",
			wantVerdict: consensus.VerdictAccept,
		},
		{
			name:         "dashed ssn",
			text:         "my ssn is 123-45-6789, can you file this form",
			wantVerdict:  consensus.VerdictBlock,
			wantEntities: []string{"US_SSN"},
		},
		{
			name:         "email address",
			text:         "forward the draft to jane.doe@example.com before friday",
			wantVerdict:  consensus.VerdictBlock,
			wantEntities: []string{"EMAIL_ADDRESS"},
		},
		{
			name:         "visa card number",
			text:         "charge it to 4111 1111 1111 1111 please",
			wantVerdict:  consensus.VerdictBlock,
			wantEntities: []string{"CREDIT_CARD"},
		},
		{
			name:         "delimited phone number",
			text:         "call me at (415) 555-2671 after lunch",
			wantVerdict:  consensus.VerdictBlock,
			wantEntities: []string{"PHONE_NUMBER"},
		},
		{
			name:         "multiple entity types",
			text:         "ssn 123-45-6789 email bob@corp.io",
			wantVerdict:  consensus.VerdictBlock,
			wantEntities: []string{"US_SSN", "EMAIL_ADDRESS"},
		},
		{
			name: "bare digit run is low confidence and does not block",
			// matches PHONE_BARE_TEN_DIGIT but sits below the Medium cutoff
			text:        "ticket id 4155552671 is still open",
			wantVerdict: consensus.VerdictAccept,
		},
	}

	s, err := NewScanner()
	if err != nil {
		t.Fatalf("NewScanner: %v", err)
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			verdict, entities := s.Scan(context.Background(), tc.text)
			if verdict != tc.wantVerdict {
				t.Fatalf("Scan(%q) verdict = %s, want %s", tc.text, verdict, tc.wantVerdict)
			}
			if len(entities) != len(tc.wantEntities) {
				t.Fatalf("Scan(%q) entities = %v, want %v", tc.text, entities, tc.wantEntities)
			}
			for i, want := range tc.wantEntities {
				if entities[i] != want {
					t.Errorf("Scan(%q) entities[%d] = %s, want %s", tc.text, i, entities[i], want)
				}
			}
		})
	}
}

func TestScan_LowConfidenceBlocksWhenCutoffLowered(t *testing.T) {
	s, err := NewScanner(WithMinConfidence(Low))
	if err != nil {
		t.Fatalf("NewScanner: %v", err)
	}
	verdict, entities := s.Scan(context.Background(), "reach me on 4155552671")
	if verdict != consensus.VerdictBlock {
		t.Fatalf("verdict = %s, want BLOCK with the cutoff at Low", verdict)
	}
	if len(entities) != 1 || entities[0] != "PHONE_NUMBER" {
		t.Fatalf("entities = %v, want [PHONE_NUMBER]", entities)
	}
}

func TestScan_DisabledEntityIgnored(t *testing.T) {
	s, err := NewScanner(WithEntities([]string{"US_SSN"}))
	if err != nil {
		t.Fatalf("NewScanner: %v", err)
	}
	verdict, entities := s.Scan(context.Background(), "mail it to jane@example.com")
	if verdict != consensus.VerdictAccept {
		t.Fatalf("verdict = %s, want ACCEPT when EMAIL_ADDRESS is disabled", verdict)
	}
	if entities != nil {
		t.Fatalf("entities = %v, want none", entities)
	}
}

func TestScanDetailed_CapturesLowConfidenceFindings(t *testing.T) {
	s, err := NewScanner()
	if err != nil {
		t.Fatalf("NewScanner: %v", err)
	}
	findings := s.ScanDetailed("ticket id 4155552671 is still open")
	if len(findings) != 1 {
		t.Fatalf("findings = %v, want exactly one", findings)
	}
	f := findings[0]
	if f.EntityType != "PHONE_NUMBER" || f.Confidence != Low {
		t.Errorf("finding = %+v, want a low-confidence PHONE_NUMBER match", f)
	}
	if f.MatchedContent != "4155552671" {
		t.Errorf("matched content = %q, want the raw digit run", f.MatchedContent)
	}
}
