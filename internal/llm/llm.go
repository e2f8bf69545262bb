package llm

import (
	"context"
	"errors"
	"fmt"
)

// Completion is one provider response.
type Completion struct {
	Text             string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// Completer sends a single prompt to a provider model.
type Completer interface {
	Name() string
	Complete(ctx context.Context, model, prompt string) (Completion, error)
}

// ErrNotConfigured is returned by the placeholder completer.
var ErrNotConfigured = errors.New("llm provider not configured")

// ErrInvalidResponse marks provider output that could not be parsed.
var ErrInvalidResponse = errors.New("invalid llm response")

// PlaceholderCompleter is used when no provider key is configured.
type PlaceholderCompleter struct{}

// Name implements Completer.
func (PlaceholderCompleter) Name() string { return "none" }

// Complete returns ErrNotConfigured.
func (PlaceholderCompleter) Complete(ctx context.Context, model, prompt string) (Completion, error) {
	_ = ctx
	_ = prompt
	return Completion{}, fmt.Errorf("%w (model %q)", ErrNotConfigured, model)
}

// ProviderConfig selects and authenticates a provider.
type ProviderConfig struct {
	Provider string
	APIKey   string
}

// NewCompleter builds the completer for the configured provider. An empty
// provider or key yields the placeholder.
func NewCompleter(ctx context.Context, cfg ProviderConfig) (Completer, error) {
	if cfg.APIKey == "" {
		return PlaceholderCompleter{}, nil
	}
	switch cfg.Provider {
	case "", "none":
		return PlaceholderCompleter{}, nil
	case "anthropic":
		return NewAnthropic(cfg.APIKey)
	case "openai":
		return NewOpenAI(cfg.APIKey)
	case "google", "gemini":
		return NewGoogle(ctx, cfg.APIKey)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
