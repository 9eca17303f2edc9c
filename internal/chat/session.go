package chat

import (
	"context"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/comigor/healthchat-go/internal/history"
	"github.com/comigor/healthchat-go/internal/logger"
)

// Session is the context of one open conversation. It is owned by a
// Controller and only mutated under the controller's lock.
type Session struct {
	id        string
	chatID    string
	title     string
	messages  []history.Message
	streaming bool
	cancel    context.CancelFunc
}

func newSession(greeting string) *Session {
	s := &Session{id: uuid.NewString()}
	if greeting != "" {
		s.messages = []history.Message{{Sender: history.SenderAssistant, Text: greeting}}
	}
	return s
}

// replaceLast returns a copy of msgs whose trailing message has text. The
// input slice is never modified so earlier snapshots stay valid.
func replaceLast(msgs []history.Message, text string) []history.Message {
	out := append([]history.Message(nil), msgs...)
	if n := len(out); n > 0 {
		out[n-1].Text = text
	}
	return out
}

// toWire converts a conversation to role-tagged messages, dropping empty
// entries such as the in-flight assistant placeholder.
func toWire(msgs []history.Message) []WireMessage {
	out := make([]WireMessage, 0, len(msgs))
	for _, m := range msgs {
		if strings.TrimSpace(m.Text) == "" {
			continue
		}
		out = append(out, WireMessage{Role: string(m.Sender), Content: m.Text})
	}
	return out
}

var locationIntent = regexp.MustCompile(`(?i)\b(nearby|near me|hospitals?|clinics?|doctors?)\b`)

// WantsLocation reports whether text asks for something close to the user.
func WantsLocation(text string) bool {
	return locationIntent.MatchString(text)
}

type locateResult struct {
	loc *Location
	err error
}

// locate resolves the position hint for text. It never fails the turn: a
// missing locator, a denial, or the timeout all yield nil.
func (c *Controller) locate(ctx context.Context, text string) *Location {
	if c.locator == nil || !WantsLocation(text) {
		return nil
	}
	lctx, cancel := context.WithTimeout(ctx, c.opts.GeoTimeout)
	defer cancel()

	ch := make(chan locateResult, 1)
	go func() {
		loc, err := c.locator.CurrentPosition(lctx)
		ch <- locateResult{loc: loc, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil || r.loc == nil {
			logger.L.Info("continuing without location", "error", ErrLocationUnavailable, "cause", r.err)
			return nil
		}
		return r.loc
	case <-lctx.Done():
		logger.L.Info("continuing without location", "error", ErrLocationUnavailable, "cause", lctx.Err())
		return nil
	}
}
