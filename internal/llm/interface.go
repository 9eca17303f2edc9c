package llm

import (
	"context"

	"github.com/sashabaranov/go-openai"
)

// Client is minimal subset of openai.Client used by the backend; it is easy to mock in tests.
type Client interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	StreamChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (TokenStream, error)
}

// TokenStream yields completion deltas until io.EOF.
type TokenStream interface {
	Recv() (openai.ChatCompletionStreamResponse, error)
	Close() error
}
