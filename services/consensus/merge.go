// Copyright (C) 2025 Aegis Labs (dev@aegis-sec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package consensus

import "fmt"

// Result bundles the individual classifier verdicts for one query together
// with the merged final verdict. Field names match the wire contract of the
// /check-query endpoint.
//
// Thread Safety: Result is immutable after construction and safe for
// concurrent read. It is created once per query and handed to the caller;
// the merge engine retains no reference to it.
type Result struct {
	// PIIStatus is the PII scanner outcome: ACCEPT or BLOCK.
	PIIStatus Verdict `json:"pii_status"`

	// SLMFlag is the adaptive causal-model classifier verdict.
	SLMFlag Verdict `json:"slm_flag"`

	// MaliciousFlag is the legacy sequence-classifier verdict.
	MaliciousFlag Verdict `json:"malicious_flag"`

	// FinalFlag is the merged verdict: the most severe of the three under
	// BLOCK > ERROR > FLAG > ACCEPT, ignoring severity-neutral inputs.
	FinalFlag Verdict `json:"final_flag"`
}

// Merge combines the three classifier outputs into one Result.
//
// It is a pure function: same inputs always produce the same output, no
// hidden state, no I/O. The individual verdicts are preserved verbatim in
// the Result for audit, including NOT_RUN and NOT_AVAILABLE, which never
// raise or lower the final verdict.
//
// Inputs outside the declared enums cause a panic. An adapter returning an
// undeclared value is a broken contract, not a runtime condition, and must
// fail loudly rather than produce a verdict of unknown meaning.
func Merge(pii, legacy, adaptive Verdict) Result {
	if pii != VerdictAccept && pii != VerdictBlock {
		panic(fmt.Sprintf("consensus: pii status %q is outside {ACCEPT, BLOCK}", pii))
	}

	max, _ := severity(pii)
	for _, v := range [...]Verdict{legacy, adaptive} {
		if rank, concrete := severity(v); concrete && rank > max {
			max = rank
		}
	}

	return Result{
		PIIStatus:     pii,
		SLMFlag:       adaptive,
		MaliciousFlag: legacy,
		FinalFlag:     verdictForSeverity[max],
	}
}
