package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Anthropic completes prompts with Claude models.
type Anthropic struct {
	client    anthropic.Client
	MaxTokens int64
}

// NewAnthropic constructs an Anthropic completer.
func NewAnthropic(apiKey string) (*Anthropic, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY is required")
	}
	return &Anthropic{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		MaxTokens: 1024,
	}, nil
}

// Name implements Completer.
func (a *Anthropic) Name() string { return "anthropic" }

// Complete implements Completer.
func (a *Anthropic) Complete(ctx context.Context, model, prompt string) (Completion, error) {
	resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: a.MaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return Completion{}, &ProviderError{Provider: a.Name(), Status: apiErr.StatusCode, Err: err}
		}
		return Completion{}, &ProviderError{Provider: a.Name(), Err: err}
	}

	var content string
	for _, block := range resp.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}
	return Completion{
		Text:             content,
		Model:            model,
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
	}, nil
}

var _ Completer = (*Anthropic)(nil)
