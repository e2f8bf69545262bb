package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// Google completes prompts with Gemini models.
type Google struct {
	client *genai.Client
}

// NewGoogle constructs a Gemini completer.
func NewGoogle(ctx context.Context, apiKey string) (*Google, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GOOGLE_API_KEY is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create google client: %w", err)
	}
	return &Google{client: client}, nil
}

// Name implements Completer.
func (g *Google) Name() string { return "google" }

// Complete implements Completer.
func (g *Google) Complete(ctx context.Context, model, prompt string) (Completion, error) {
	resp, err := g.client.Models.GenerateContent(ctx, model, genai.Text(prompt), nil)
	if err != nil {
		return Completion{}, &ProviderError{Provider: g.Name(), Err: err}
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return Completion{}, fmt.Errorf("%w: google returned no candidates", ErrInvalidResponse)
	}

	out := Completion{Text: resp.Text(), Model: model}
	if resp.UsageMetadata != nil {
		out.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return out, nil
}

var _ Completer = (*Google)(nil)
