package main

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"

	"github.com/comigor/healthchat-go/internal/config"
	"github.com/comigor/healthchat-go/internal/history"
	"github.com/comigor/healthchat-go/internal/llm"
	"github.com/comigor/healthchat-go/internal/server"
)

type replyStream struct {
	deltas []string
}

func (s *replyStream) Recv() (openai.ChatCompletionStreamResponse, error) {
	if len(s.deltas) == 0 {
		return openai.ChatCompletionStreamResponse{}, io.EOF
	}
	d := s.deltas[0]
	s.deltas = s.deltas[1:]
	return openai.ChatCompletionStreamResponse{Choices: []openai.ChatCompletionStreamChoice{
		{Delta: openai.ChatCompletionStreamChoiceDelta{Content: d}},
	}}, nil
}

func (s *replyStream) Close() error { return nil }

type cannedLLM struct{}

func (cannedLLM) CreateChatCompletion(ctx context.Context, r openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{
		{Message: openai.ChatCompletionMessage{Content: "Sore Throat"}},
	}}, nil
}

func (cannedLLM) StreamChatCompletion(ctx context.Context, r openai.ChatCompletionRequest) (llm.TokenStream, error) {
	return &replyStream{deltas: []string{"Try warm", " water."}}, nil
}

func TestTerminal_PrintsOnlyNewText(t *testing.T) {
	var out bytes.Buffer
	term := newTerminal(&out)

	term.BufferUpdated("Hello")
	term.BufferUpdated("Hello there.")
	term.TurnCompleted(nil)
	require.Equal(t, "Hello there.\n", out.String())

	out.Reset()
	term.BufferUpdated("a -  b")
	term.BufferUpdated("a - b c.")
	term.TurnCompleted(nil)
	require.Equal(t, "a -  b\na - b c.\n", out.String())
}

func TestTerminal_Session(t *testing.T) {
	db, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer db.Close()

	backend := httptest.NewServer(server.New(config.Config{
		Auth: config.AuthConfig{Users: []config.UserConfig{{Token: "tok", UserID: "u1", Name: "Asha"}}},
	}, db, cannedLLM{}, nil).Handler())
	defer backend.Close()

	cfg := &config.Config{
		Client: config.ClientConfig{BaseURL: backend.URL, Token: "tok"},
		Chat:   config.ChatConfig{Greeting: "Hello! Describe your symptoms."},
	}
	var out bytes.Buffer
	term := newTerminal(&out)
	ctrl := newController(cfg, term)
	defer ctrl.Close()

	in := strings.NewReader("my throat hurts\n/history\n/bogus\n/quit\nnever sent\n")
	require.NoError(t, term.run(context.Background(), ctrl, in))
	id := ctrl.ChatID()
	require.NotEmpty(t, id)

	got := out.String()
	require.Contains(t, got, "assistant> Hello! Describe your symptoms.")
	require.Contains(t, got, "Try warm water.\n")
	require.Contains(t, got, "Sore Throat")
	require.Contains(t, got, "Unknown command /bogus.")

	list, err := db.ForUser("u1").ListChats(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "Try warm water.", list[0].Messages[2].Text)

	out.Reset()
	in = strings.NewReader("/rename " + id + " Throat Care Notes\n/rename " + id + " x\n")
	require.NoError(t, term.run(context.Background(), ctrl, in))
	require.Contains(t, out.String(), "Renamed "+id)
	require.Contains(t, out.String(), "Could not rename")

	list, err = db.ForUser("u1").ListChats(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Throat Care Notes", list[0].Title)
	require.Len(t, list[0].Messages, 3)
}
