package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/aegis-sec/aegis/services/consensus"
)

var sequenceTracer = otel.Tracer("aegis.classifier.sequence")

// SequenceClient talks to the legacy sequence classifier sidecar over HTTP.
// The sidecar hosts a frozen encoder model and is treated as a black box: any
// transport fault, non-200 status, or unparseable body comes back as an error.
type SequenceClient struct {
	httpClient *http.Client
	baseURL    string
}

type sequenceClassifyRequest struct {
	Text string `json:"text"`
}

type sequenceClassifyResponse struct {
	Label string `json:"label"`
}

// NewSequenceClient reads LEGACY_CLASSIFIER_URL from the environment.
func NewSequenceClient() (*SequenceClient, error) {
	baseURL := os.Getenv("LEGACY_CLASSIFIER_URL")
	if baseURL == "" {
		return nil, fmt.Errorf("LEGACY_CLASSIFIER_URL environment variable not set")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	slog.Info("Initializing legacy sequence classifier client", "base_url", baseURL)
	return &SequenceClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
	}, nil
}

// NewSequenceClientWithURL constructs a client against an explicit endpoint.
// Used by tests and the CLI.
func NewSequenceClientWithURL(baseURL string) *SequenceClient {
	return &SequenceClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
	}
}

// Classify implements the consensus.Classifier interface.
func (c *SequenceClient) Classify(ctx context.Context, text string) (consensus.Verdict, error) {
	ctx, span := sequenceTracer.Start(ctx, "SequenceClient.Classify")
	defer span.End()

	classifyURL := c.baseURL + "/classify"
	reqBody, err := json.Marshal(sequenceClassifyRequest{Text: text})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("failed to marshal request to the sequence classifier: %w", err)
	}

	// Use NewRequestWithContext to respect context cancellation/timeout
	req, err := http.NewRequestWithContext(ctx, "POST", classifyURL, bytes.NewBuffer(reqBody))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("failed to create request to the sequence classifier: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Sequence classifier call failed", "error", err)
		return "", fmt.Errorf("sequence classifier call failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("failed to read the sequence classifier response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		slog.Error("Sequence classifier returned an error", "status_code", resp.StatusCode,
			"response", string(respBody))
		return "", fmt.Errorf("sequence classifier failed with status %d: %s", resp.StatusCode,
			string(respBody))
	}

	var classifyResp sequenceClassifyResponse
	if err := json.Unmarshal(respBody, &classifyResp); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Failed to parse JSON response from the sequence classifier", "error", err,
			"response", string(respBody))
		return "", fmt.Errorf("failed to parse the sequence classifier response: %w", err)
	}

	verdict, err := parseLabel(classifyResp.Label)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetAttributes(attribute.String("classifier.verdict", string(verdict)))
	return verdict, nil
}
