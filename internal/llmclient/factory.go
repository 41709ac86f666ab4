// File: internal/llmclient/factory.go
// Description: Constructs provider handles from immutable configuration. The
// factory is what makes call isolation cheap: a fresh handle per invocation
// is just another NewProvider call, with no shared mutable client state.
package llmclient

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/crucible/api/schemas"
	"github.com/xkilldash9x/crucible/internal/config"
)

// Factory builds schemas.Provider instances for the configured backend.
type Factory struct {
	cfg    config.LLMConfig
	model  string
	logger *zap.Logger
}

// NewFactory validates the provider selection and returns a Factory.
func NewFactory(cfg config.LLMConfig, logger *zap.Logger) (*Factory, error) {
	switch cfg.Provider {
	case config.ProviderGemini, config.ProviderGoogle:
	default:
		return nil, fmt.Errorf("unknown LLM provider '%s'", cfg.Provider)
	}
	return &Factory{cfg: cfg, model: cfg.Model, logger: logger}, nil
}

// NewProvider constructs a fresh provider handle.
func (f *Factory) NewProvider() (schemas.Provider, error) {
	switch f.cfg.Provider {
	case config.ProviderGemini:
		return NewGeminiClient(f.cfg, f.model, f.logger)
	case config.ProviderGoogle:
		return NewGenAIClient(f.cfg, f.model, f.logger)
	default:
		return nil, fmt.Errorf("unknown LLM provider '%s'", f.cfg.Provider)
	}
}
