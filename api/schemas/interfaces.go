package schemas

import "context"

// -- Provider Interfaces --

// GenerationRequest carries everything a provider needs for one call. The
// engine never inspects provider response formats beyond the returned text.
type GenerationRequest struct {
	SystemPrompt    string
	UserPrompt      string
	Model           string
	MaxTokens       int
	Temperature     float32
	ForceJSONFormat bool

	// MaxRetries overrides the call layer's retry budget for this request;
	// zero keeps the configured policy.
	MaxRetries int
	// Seed is the run-scoped jitter RNG seed; zero keeps the call layer's
	// fallback seed.
	Seed int64
}

// Provider is the narrow interface to a generative content backend.
type Provider interface {
	// GenerateResponse produces text for the given request. Errors are
	// classified with the taxonomy in errors.go so callers can decide
	// whether to retry.
	GenerateResponse(ctx context.Context, req GenerationRequest) (string, error)
}

// ProviderFactory constructs provider handles from immutable configuration.
// The resilient call layer uses it to build a fresh, isolated handle per
// invocation so concurrent calls cannot share mutable client state.
type ProviderFactory interface {
	NewProvider() (Provider, error)
}

// -- Prompt Supplier --

// PromptSupplier returns a fully substituted prompt for a phase. It must be a
// pure function of its arguments with no side effects.
type PromptSupplier interface {
	Render(phase Phase, params map[string]any) (string, error)
}

// -- Result Sink --

// ResultSink receives per-phase items for archival. Implementations must not
// block the engine: calls are best-effort and failures are logged and
// dropped, never propagated.
type ResultSink interface {
	Record(ctx context.Context, runID string, phase Phase, item any)
	Close(ctx context.Context) error
}
