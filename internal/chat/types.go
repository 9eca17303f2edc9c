package chat

import (
	"context"
	"io"

	"github.com/comigor/healthchat-go/internal/history"
)

// Location is an optional position hint passed through to the backend.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// WireMessage is a role-tagged message as sent to the model.
type WireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StreamRequest opens one assistant reply stream.
type StreamRequest struct {
	Messages []WireMessage `json:"messages"`
	Location *Location     `json:"location,omitempty"`
}

// Titler suggests a short title for a new conversation.
type Titler interface {
	GenerateTitle(ctx context.Context, sample string) (string, error)
}

// Locator resolves the current position. It should honour ctx; the
// controller also stops waiting once the geolocation timeout expires.
type Locator interface {
	CurrentPosition(ctx context.Context) (*Location, error)
}

// Streamer opens the token stream for a reply.
type Streamer interface {
	OpenStream(ctx context.Context, req StreamRequest) (io.ReadCloser, error)
}

// Credentials exposes the bearer credential; an empty token means signed out.
type Credentials interface {
	Token() string
}

// Listener receives the outward notifications of a turn.
type Listener interface {
	BufferUpdated(text string)
	TurnCompleted(messages []history.Message)
	TurnFailed(err error, partial string)
}

type nopListener struct{}

func (nopListener) BufferUpdated(string)            {}
func (nopListener) TurnCompleted([]history.Message) {}
func (nopListener) TurnFailed(error, string)        {}
