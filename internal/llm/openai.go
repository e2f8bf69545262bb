package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAI completes prompts with OpenAI chat models.
type OpenAI struct {
	client openai.Client
}

// NewOpenAI constructs an OpenAI completer.
func NewOpenAI(apiKey string) (*OpenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	return &OpenAI{client: openai.NewClient(option.WithAPIKey(apiKey))}, nil
}

// Name implements Completer.
func (o *OpenAI) Name() string { return "openai" }

// Complete implements Completer.
func (o *OpenAI) Complete(ctx context.Context, model, prompt string) (Completion, error) {
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		MaxCompletionTokens: openai.Int(1024),
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return Completion{}, &ProviderError{Provider: o.Name(), Status: apiErr.StatusCode, Err: err}
		}
		return Completion{}, &ProviderError{Provider: o.Name(), Err: err}
	}
	if len(resp.Choices) == 0 {
		return Completion{}, fmt.Errorf("%w: openai returned no choices", ErrInvalidResponse)
	}
	return Completion{
		Text:             resp.Choices[0].Message.Content,
		Model:            model,
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
	}, nil
}

var _ Completer = (*OpenAI)(nil)
