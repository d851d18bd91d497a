// Package classifier holds the model backend clients for the consensus
// pipeline: an HTTP client for the legacy sequence classifier sidecar and an
// OpenAI-compatible completion client for the adaptive causal classifier.
//
// Both clients return one of the three trainable labels or an error. Mapping
// errors onto the pipeline's ERROR verdict is the pipeline's job, not theirs.
package classifier

import (
	"fmt"
	"regexp"

	"github.com/aegis-sec/aegis/services/consensus"
)

// labelPattern extracts the first classification label from raw model output.
// Fine-tuned checkpoints occasionally wrap the label in quotes or trailing
// prose, so we scan for the token rather than comparing the whole string.
var labelPattern = regexp.MustCompile(`\b(ACCEPT|FLAG|BLOCK)\b`)

// parseLabel maps raw model output to a Verdict. Output with no recognizable
// label is an error so the pipeline records ERROR instead of guessing.
func parseLabel(raw string) (consensus.Verdict, error) {
	m := labelPattern.FindStringSubmatch(raw)
	if m == nil {
		return "", fmt.Errorf("no classification label in model output %q", raw)
	}
	return consensus.Verdict(m[1]), nil
}
