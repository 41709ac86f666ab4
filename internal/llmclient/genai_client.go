// File: internal/llmclient/genai_client.go
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xkilldash9x/crucible/api/schemas"
	"github.com/xkilldash9x/crucible/internal/config"
)

// GenAIClient implements schemas.Provider on top of the official genai SDK.
// The SDK client is constructed per GenAIClient instance, so the factory's
// per-call construction gives each invocation an isolated handle.
type GenAIClient struct {
	apiKey string
	model  string
	logger *zap.Logger
}

// NewGenAIClient initializes the client from immutable configuration.
func NewGenAIClient(cfg config.LLMConfig, model string, logger *zap.Logger) (*GenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("genai API key is required")
	}
	return &GenAIClient{
		apiKey: cfg.APIKey,
		model:  model,
		logger: logger.Named("llmclient.genai"),
	}, nil
}

// GenerateResponse performs a single generation attempt via the SDK.
func (c *GenAIClient) GenerateResponse(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  c.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return "", schemas.Transient(fmt.Errorf("failed to construct genai client: %w", err))
	}

	genCfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(req.Temperature),
		MaxOutputTokens: int32(req.MaxTokens),
	}
	if req.SystemPrompt != "" {
		genCfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.SystemPrompt}},
		}
	}
	if req.ForceJSONFormat {
		genCfg.ResponseMIMEType = "application/json"
	}

	model := req.Model
	if model == "" {
		model = c.model
	}

	resp, err := client.Models.GenerateContent(ctx, model, genai.Text(req.UserPrompt), genCfg)
	if err != nil {
		return "", classifyGenAIError(err)
	}

	text := resp.Text()
	if text == "" {
		return "", schemas.Transient(fmt.Errorf("genai returned an empty response"))
	}
	return text, nil
}

// classifyGenAIError maps SDK failures onto the transient/permanent taxonomy.
func classifyGenAIError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusInternalServerError, http.StatusGatewayTimeout:
			return schemas.Transient(err)
		default:
			return schemas.Permanent(err)
		}
	}
	// Network-level failures come back unclassified; treat as retryable.
	return schemas.Transient(err)
}
