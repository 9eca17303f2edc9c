package llm

import (
	"context"

	"github.com/comigor/healthchat-go/internal/config"
	"github.com/sashabaranov/go-openai"
)

// OpenAI adapts *openai.Client to Client.
type OpenAI struct {
	*openai.Client
}

// NewClient creates a new OpenAI-compatible client
func NewClient(cfg config.LLMConfig) *OpenAI {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	return &OpenAI{Client: openai.NewClientWithConfig(config)}
}

// StreamChatCompletion opens a streaming completion.
func (o *OpenAI) StreamChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (TokenStream, error) {
	s, err := o.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, err
	}
	return s, nil
}
