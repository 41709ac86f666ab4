package llmclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/crucible/api/schemas"
	"github.com/xkilldash9x/crucible/internal/config"
)

func geminiTestConfig(endpoint string) config.LLMConfig {
	return config.LLMConfig{
		Provider:   config.ProviderGemini,
		Model:      "gemini-2.5-pro",
		APIKey:     "test-key",
		Endpoint:   endpoint,
		APITimeout: 5 * time.Second,
	}
}

func TestNewGeminiClientRequiresAPIKey(t *testing.T) {
	t.Parallel()

	cfg := geminiTestConfig("")
	cfg.APIKey = ""
	_, err := NewGeminiClient(cfg, "gemini-2.5-pro", zap.NewNop())
	assert.Error(t, err)
}

func TestGeminiGenerateResponse(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Write([]byte(`{
			"candidates": [{"content": {"parts": [{"text": "generated text"}]}, "finishReason": "STOP"}],
			"usageMetadata": {"promptTokenCount": 10, "candidatesTokenCount": 20, "totalTokenCount": 30}
		}`))
	}))
	defer server.Close()

	client, err := NewGeminiClient(geminiTestConfig(server.URL), "gemini-2.5-pro", zap.NewNop())
	require.NoError(t, err)

	out, err := client.GenerateResponse(context.Background(), schemas.GenerationRequest{
		UserPrompt:  "hello",
		Temperature: 0.9,
		MaxTokens:   1024,
	})
	require.NoError(t, err)
	assert.Equal(t, "generated text", out)
}

func TestGeminiErrorClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		status        int
		body          string
		wantTransient bool
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, body: `{}`, wantTransient: true},
		{name: "overloaded", status: http.StatusServiceUnavailable, body: `{}`, wantTransient: true},
		{name: "internal error", status: http.StatusInternalServerError, body: `{}`, wantTransient: true},
		{name: "gateway timeout", status: http.StatusGatewayTimeout, body: `{}`, wantTransient: true},
		{name: "bad request", status: http.StatusBadRequest, body: `{}`, wantTransient: false},
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{}`, wantTransient: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client, err := NewGeminiClient(geminiTestConfig(server.URL), "gemini-2.5-pro", zap.NewNop())
			require.NoError(t, err)

			_, err = client.GenerateResponse(context.Background(), schemas.GenerationRequest{UserPrompt: "p"})
			require.Error(t, err)
			assert.Equal(t, tt.wantTransient, schemas.IsTransient(err))
		})
	}
}

func TestGeminiResponseBodyClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		body          string
		wantTransient bool
	}{
		{
			name:          "no candidates is permanent",
			body:          `{"candidates": []}`,
			wantTransient: false,
		},
		{
			name:          "safety block is permanent",
			body:          `{"candidates": [{"content": {"parts": []}, "finishReason": "SAFETY"}]}`,
			wantTransient: false,
		},
		{
			name:          "empty parts without a block reason is transient",
			body:          `{"candidates": [{"content": {"parts": []}, "finishReason": "OTHER"}]}`,
			wantTransient: true,
		},
		{
			name:          "undecodable body is permanent",
			body:          `not json`,
			wantTransient: false,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client, err := NewGeminiClient(geminiTestConfig(server.URL), "gemini-2.5-pro", zap.NewNop())
			require.NoError(t, err)

			_, err = client.GenerateResponse(context.Background(), schemas.GenerationRequest{UserPrompt: "p"})
			require.Error(t, err)
			assert.Equal(t, tt.wantTransient, schemas.IsTransient(err))
		})
	}
}

func TestGeminiNetworkFailureIsTransient(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // connection refused from here on

	client, err := NewGeminiClient(geminiTestConfig(server.URL), "gemini-2.5-pro", zap.NewNop())
	require.NoError(t, err)

	_, err = client.GenerateResponse(context.Background(), schemas.GenerationRequest{UserPrompt: "p"})
	require.Error(t, err)
	assert.True(t, schemas.IsTransient(err))
}

func TestFactorySelectsProvider(t *testing.T) {
	t.Parallel()

	t.Run("gemini", func(t *testing.T) {
		t.Parallel()
		factory, err := NewFactory(geminiTestConfig(""), zap.NewNop())
		require.NoError(t, err)
		provider, err := factory.NewProvider()
		require.NoError(t, err)
		assert.IsType(t, &GeminiClient{}, provider)
	})

	t.Run("unknown provider rejected", func(t *testing.T) {
		t.Parallel()
		cfg := geminiTestConfig("")
		cfg.Provider = "openai"
		_, err := NewFactory(cfg, zap.NewNop())
		assert.Error(t, err)
	})
}
