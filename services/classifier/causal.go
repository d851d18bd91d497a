package classifier

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/aegis-sec/aegis/services/consensus"
)

var causalTracer = otel.Tracer("aegis.classifier.causal")

// causalPromptTemplate is the completion protocol the LoRA adapters are
// trained on. The model continues after the opening quote with the label.
const causalPromptTemplate = "prompt: %q\nclassification: \""

// CausalClient classifies queries through an OpenAI-compatible completion
// server hosting the base causal model plus a LoRA adapter. The adapter to
// route to is carried in the model field, so one client can serve successive
// promoted adapter versions.
type CausalClient struct {
	client *openai.Client
	model  string
}

// NewCausalClient constructs a client against an OpenAI-compatible inference
// server. The model argument selects the adapter checkpoint to route to.
func NewCausalClient(baseURL, apiKey, model string) (*CausalClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("inference server base URL not set")
	}
	if model == "" {
		return nil, fmt.Errorf("adapter model name not set")
	}
	if apiKey == "" {
		// Local inference servers usually ignore the key but the SDK
		// requires a non-empty one.
		apiKey = "local"
	}
	config := openai.DefaultConfig(apiKey)
	config.BaseURL = strings.TrimSuffix(baseURL, "/")
	slog.Info("Initializing causal classifier client", "base_url", config.BaseURL, "model", model)
	return &CausalClient{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}, nil
}

// Model returns the adapter checkpoint this client routes to.
func (c *CausalClient) Model() string {
	return c.model
}

// Classify implements the consensus.Classifier interface.
func (c *CausalClient) Classify(ctx context.Context, text string) (consensus.Verdict, error) {
	ctx, span := causalTracer.Start(ctx, "CausalClient.Classify")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", c.model))

	req := openai.CompletionRequest{
		Model:       c.model,
		Prompt:      fmt.Sprintf(causalPromptTemplate, text),
		MaxTokens:   8,
		Temperature: 0,
		Stop:        []string{"\"", "\n"},
	}
	resp, err := c.client.CreateCompletion(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Causal classifier call failed", "model", c.model, "error", err)
		return "", fmt.Errorf("causal classifier call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("causal classifier returned no choices")
	}

	verdict, err := parseLabel(resp.Choices[0].Text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetAttributes(attribute.String("classifier.verdict", string(verdict)))
	return verdict, nil
}
