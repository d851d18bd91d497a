// Copyright (C) 2025 Aegis Labs (dev@aegis-sec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package consensus implements the classification merge core of the Aegis
// gatekeeper. A query is scanned for PII, classified by up to two independent
// model backends, and the individual verdicts are combined under a fixed
// conservative-wins severity order into a single final verdict.
package consensus

import "fmt"

// Verdict is one classifier's categorical output for a query.
//
// The value set is closed. Adapters must only ever produce values from this
// set; anything else is a contract violation and is treated as a programmer
// error by Merge.
type Verdict string

const (
	// VerdictAccept means the query passed the classifier.
	VerdictAccept Verdict = "ACCEPT"

	// VerdictFlag means the query is suspicious and should be surfaced for
	// review but not blocked outright.
	VerdictFlag Verdict = "FLAG"

	// VerdictBlock means the query must not be forwarded.
	VerdictBlock Verdict = "BLOCK"

	// VerdictError means the classifier ran but failed (transport fault,
	// malformed model output, timeout). Never silently downgraded to ACCEPT.
	VerdictError Verdict = "ERROR"

	// VerdictNotRun means the classifier was deliberately skipped for this
	// query. Severity-neutral.
	VerdictNotRun Verdict = "NOT_RUN"

	// VerdictNotAvailable means the classifier has no loaded model snapshot.
	// This is an expected degraded mode, not an error. Severity-neutral.
	VerdictNotAvailable Verdict = "NOT_AVAILABLE"
)

// ParseVerdict converts a wire string into a Verdict.
//
// Only the three trainable labels are accepted here; this is the validation
// used for retraining submissions and CLI input, where ERROR/NOT_RUN make no
// sense.
func ParseVerdict(s string) (Verdict, error) {
	switch Verdict(s) {
	case VerdictAccept, VerdictFlag, VerdictBlock:
		return Verdict(s), nil
	default:
		return "", fmt.Errorf("invalid verdict label %q: must be one of ACCEPT, FLAG, BLOCK", s)
	}
}

// severity assigns each concrete verdict its rank in the conservative-wins
// order BLOCK > ERROR > FLAG > ACCEPT. ERROR sits above FLAG so that a failed
// classifier is never masked as safe, but below BLOCK so that a confirmed
// block is not downgraded by an unrelated adapter fault.
//
// NOT_RUN and NOT_AVAILABLE are severity-neutral: they are excluded from the
// max-severity computation entirely, and the second return value is false.
func severity(v Verdict) (int, bool) {
	switch v {
	case VerdictAccept:
		return 0, true
	case VerdictFlag:
		return 1, true
	case VerdictError:
		return 2, true
	case VerdictBlock:
		return 3, true
	case VerdictNotRun, VerdictNotAvailable:
		return 0, false
	}
	panic(fmt.Sprintf("consensus: verdict %q is outside the declared enum", v))
}

// verdictForSeverity is the inverse of severity for concrete verdicts.
var verdictForSeverity = [...]Verdict{
	VerdictAccept,
	VerdictFlag,
	VerdictError,
	VerdictBlock,
}
