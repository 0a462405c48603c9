package airanker

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider implements Provider using anthropic-sdk-go.
type AnthropicProvider struct {
	client anthropic.Client
}

// NewAnthropicProvider builds a Provider bound to apiKey.
func NewAnthropicProvider(apiKey string) *AnthropicProvider {
	return &AnthropicProvider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
	}
}

// Complete sends prompt as a single user turn and returns the concatenated
// text content of the response.
func (p *AnthropicProvider) Complete(ctx context.Context, model string, temperature float64, prompt string) (string, error) {
	if model == "" {
		model = string(anthropic.ModelClaude3_5SonnetLatest)
	}

	resp, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   1024,
		Temperature: anthropic.Float(temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("airanker: anthropic request failed: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return text, nil
}
