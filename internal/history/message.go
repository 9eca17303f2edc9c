package history

import (
	"context"
	"errors"
	"time"
)

// Sender of a message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Message is a single conversational message.
type Message struct {
	Sender Sender    `json:"sender"`
	Text   string    `json:"text"`
	Time   time.Time `json:"time"`
}

// Record is a persisted chat: a title plus its conversation.
type Record struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Update replaces the messages of a record. A nil Title keeps the stored one.
type Update struct {
	Title    *string   `json:"title,omitempty"`
	Messages []Message `json:"messages"`
}

// Profile is the health profile used to personalise replies.
type Profile struct {
	Name          string   `json:"name"`
	Age           int      `json:"age,omitempty"`
	Height        float64  `json:"height,omitempty"`
	Weight        float64  `json:"weight,omitempty"`
	Gender        string   `json:"gender,omitempty"`
	BloodGroup    string   `json:"bloodGroup,omitempty"`
	Conditions    []string `json:"conditions,omitempty"`
	Allergies     []string `json:"allergies,omitempty"`
	Smoking       string   `json:"smoking,omitempty"`
	Alcohol       string   `json:"alcohol,omitempty"`
	ActivityLevel string   `json:"activityLevel,omitempty"`
}

// ErrNotFound is returned for unknown chat ids.
var ErrNotFound = errors.New("chat not found")

// Store is the read/write contract for chat history. Implementations are
// scoped to one authenticated user.
type Store interface {
	CreateChat(ctx context.Context, title string, messages []Message) (Record, error)
	UpdateChat(ctx context.Context, id string, u Update) (Record, error)
	DeleteChat(ctx context.Context, id string) error
	ListChats(ctx context.Context) ([]Record, error)
	GetProfile(ctx context.Context) (Profile, error)
}
