package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const titlePrompt = "Write a short descriptive title (2 to 5 words) for a health conversation that starts with the message below. Reply with the title only, no quotes or punctuation at the end."

// Titler generates conversation titles with a chat model.
type Titler struct {
	client Client
	model  string
}

// NewTitler returns a Titler using model.
func NewTitler(client Client, model string) *Titler {
	return &Titler{client: client, model: model}
}

// GenerateTitle asks the model for a title of sample. The result is not
// validated; callers apply their own bounds.
func (t *Titler) GenerateTitle(ctx context.Context, sample string) (string, error) {
	resp, err := t.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       t.model,
		MaxTokens:   16,
		Temperature: 0.3,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: titlePrompt},
			{Role: openai.ChatMessageRoleUser, Content: sample},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("title completion returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
