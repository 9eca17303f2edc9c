package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/comigor/healthchat-go/internal/history"
	"github.com/comigor/healthchat-go/internal/logger"
	"github.com/comigor/healthchat-go/internal/stream"
)

// CreateFailedText replaces the assistant placeholder when the chat record
// could not be created.
const CreateFailedText = "Sorry, I couldn't start a new chat right now. Please try again."

// Options tune a Controller. Zero values fall back to the defaults.
type Options struct {
	Policy         stream.FlushPolicy
	FlushDelay     time.Duration
	Greeting       string
	GeoTimeout     time.Duration
	PersistRetries int
	Debounce       time.Duration
}

// Deps are the collaborators of a Controller. Titler, Locator and Listener
// are optional.
type Deps struct {
	Store       history.Store
	Streamer    Streamer
	Credentials Credentials
	Titler      Titler
	Locator     Locator
	Listener    Listener
}

// Controller sequences user turns for one conversation at a time.
type Controller struct {
	store     history.Store
	streamer  Streamer
	creds     Credentials
	titler    Titler
	locator   Locator
	listener  Listener
	opts      Options
	refresher *history.Refresher
	now       func() time.Time

	mu      sync.Mutex
	session *Session
}

// NewController returns a controller with a fresh conversation. onHistory,
// when set, receives every refreshed history snapshot.
func NewController(d Deps, opts Options, onHistory func([]history.Record)) *Controller {
	if opts.GeoTimeout <= 0 {
		opts.GeoTimeout = 5 * time.Second
	}
	if opts.PersistRetries < 0 {
		opts.PersistRetries = 0
	}
	c := &Controller{
		store:    d.Store,
		streamer: d.Streamer,
		creds:    d.Credentials,
		titler:   d.Titler,
		locator:  d.Locator,
		listener: d.Listener,
		opts:     opts,
		now:      time.Now,
	}
	if c.listener == nil {
		c.listener = nopListener{}
	}
	c.refresher = history.NewRefresher(c.listChats, opts.Debounce, onHistory)
	c.session = newSession(opts.Greeting)
	return c
}

func (c *Controller) listChats(ctx context.Context) ([]history.Record, error) {
	if !c.authenticated() {
		return nil, ErrAuthRequired
	}
	return c.store.ListChats(ctx)
}

func (c *Controller) authenticated() bool {
	return c.creds != nil && c.creds.Token() != ""
}

// Messages returns a snapshot of the current conversation.
func (c *Controller) Messages() []history.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]history.Message(nil), c.session.messages...)
}

// ChatID returns the record id of the current conversation, empty before
// the first turn has been persisted.
func (c *Controller) ChatID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.chatID
}

// Title returns the record title of the current conversation.
func (c *Controller) Title() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.title
}

// Streaming reports whether a reply is in flight.
func (c *Controller) Streaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.streaming
}

// History returns the cached history list.
func (c *Controller) History() []history.Record {
	return c.refresher.List()
}

// RefreshHistory schedules a debounced history refresh.
func (c *Controller) RefreshHistory() {
	c.refresher.Request()
}

// LoadHistory fetches the history list now.
func (c *Controller) LoadHistory(ctx context.Context) []history.Record {
	return c.refresher.Refresh(ctx)
}

// NewChat abandons the current conversation, including any reply still
// streaming, and starts an empty one.
func (c *Controller) NewChat() {
	c.replace(newSession(c.opts.Greeting))
	c.refresher.Request()
}

// LoadChat makes the cached record id the current conversation.
func (c *Controller) LoadChat(id string) error {
	rec, ok := c.refresher.Find(id)
	if !ok {
		return history.ErrNotFound
	}
	s := newSession("")
	s.chatID = rec.ID
	s.title = rec.Title
	s.messages = append([]history.Message(nil), rec.Messages...)
	c.replace(s)
	return nil
}

// DeleteChat deletes a record; deleting the open conversation starts a new one.
func (c *Controller) DeleteChat(ctx context.Context, id string) error {
	if !c.authenticated() {
		return ErrAuthRequired
	}
	if err := c.store.DeleteChat(ctx, id); err != nil {
		return fmt.Errorf("delete chat %s: %w", id, err)
	}
	if c.ChatID() == id {
		c.replace(newSession(c.opts.Greeting))
	}
	c.refresher.Request()
	return nil
}

// RenameChat sets the title of record id. The open conversation is renamed
// from its in-memory messages, other records from the cached history.
func (c *Controller) RenameChat(ctx context.Context, id, title string) error {
	if !c.authenticated() {
		return ErrAuthRequired
	}
	title, ok := CleanTitle(title)
	if !ok {
		return ErrInvalidTitle
	}

	c.mu.Lock()
	sess := c.session
	open := sess.chatID != "" && sess.chatID == id
	if open && sess.streaming {
		c.mu.Unlock()
		return ErrTurnInProgress
	}
	var msgs []history.Message
	if open {
		msgs = append([]history.Message(nil), sess.messages...)
	}
	c.mu.Unlock()

	if !open {
		rec, found := c.refresher.Find(id)
		if !found {
			return history.ErrNotFound
		}
		msgs = rec.Messages
	}

	if _, err := c.store.UpdateChat(ctx, id, history.Update{Title: &title, Messages: msgs}); err != nil {
		return fmt.Errorf("rename chat %s: %w", id, err)
	}
	if open {
		c.mu.Lock()
		if c.session == sess {
			sess.title = title
		}
		c.mu.Unlock()
	}
	c.refresher.Request()
	return nil
}

// Close abandons any in-flight turn and stops background refreshes.
func (c *Controller) Close() {
	c.replace(newSession(""))
	c.refresher.Stop()
}

func (c *Controller) replace(s *Session) {
	c.mu.Lock()
	cancel := c.session.cancel
	c.session = s
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Send runs one full turn for text and blocks until the reply has reached a
// terminal phase. Exactly one of TurnCompleted or TurnFailed is delivered to
// the listener unless the conversation is replaced meanwhile, in which case
// the abandoned turn is silent and ErrSessionClosed is returned.
func (c *Controller) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	if !c.authenticated() {
		c.listener.TurnFailed(ErrAuthRequired, "")
		return ErrAuthRequired
	}

	c.mu.Lock()
	sess := c.session
	if sess.streaming {
		c.mu.Unlock()
		return ErrTurnInProgress
	}
	turnCtx, cancel := context.WithCancel(ctx)
	sess.streaming = true
	sess.cancel = cancel
	now := c.now()
	user := history.Message{Sender: history.SenderUser, Text: text, Time: now}
	sess.messages = append(append([]history.Message(nil), sess.messages...),
		user,
		history.Message{Sender: history.SenderAssistant, Time: now},
	)
	chatID := sess.chatID
	c.mu.Unlock()

	defer func() {
		cancel()
		c.mu.Lock()
		sess.streaming = false
		sess.cancel = nil
		c.mu.Unlock()
	}()

	if chatID == "" {
		title := c.title(turnCtx, text)
		rec, err := c.store.CreateChat(turnCtx, title, []history.Message{user})
		if err != nil {
			err = fmt.Errorf("%w: %w", ErrCreateFailed, err)
			logger.L.Error("chat record creation failed", "session", sess.id, "error", err)
			if _, live := c.freeze(sess, CreateFailedText); !live {
				return ErrSessionClosed
			}
			c.listener.TurnFailed(err, CreateFailedText)
			return err
		}
		c.mu.Lock()
		live := c.session == sess
		if live {
			sess.chatID = rec.ID
			sess.title = rec.Title
		}
		c.mu.Unlock()
		if !live {
			return ErrSessionClosed
		}
		chatID = rec.ID
		c.refresher.Request()
	}

	loc := c.locate(turnCtx, text)
	res := c.stream(turnCtx, sess, StreamRequest{
		Messages: toWire(c.snapshot(sess)),
		Location: loc,
	})

	msgs, live := c.freeze(sess, res.Text)
	if !live {
		logger.L.Debug("dropping result of abandoned turn", "session", sess.id)
		return ErrSessionClosed
	}
	c.persist(context.WithoutCancel(ctx), chatID, msgs)
	c.refresher.Request()

	if res.Phase == stream.PhaseCompleted {
		c.listener.TurnCompleted(msgs)
		return nil
	}
	c.listener.TurnFailed(res.Err, res.Text)
	return res.Err
}

func (c *Controller) stream(ctx context.Context, sess *Session, req StreamRequest) stream.Result {
	body, err := c.streamer.OpenStream(ctx, req)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrStreamTransport, err)
		logger.L.Error("opening reply stream failed", "session", sess.id, "error", err)
		return stream.Result{Phase: stream.PhaseFailed, Text: stream.FallbackText, Err: err}
	}
	defer body.Close()

	asm := stream.NewAssembler(c.opts.Policy, stream.Handlers{
		Updated: func(text string) { c.update(sess, text) },
	}, stream.WithFlushDelay(c.opts.FlushDelay))
	res := asm.Run(ctx, body)
	if res.Phase == stream.PhaseFailed {
		res.Err = fmt.Errorf("%w: %w", ErrStreamTransport, res.Err)
	}
	return res
}

// update replaces the in-flight assistant text and notifies the listener,
// unless sess is no longer the current conversation.
func (c *Controller) update(sess *Session, text string) {
	c.mu.Lock()
	if c.session != sess {
		c.mu.Unlock()
		return
	}
	sess.messages = replaceLast(sess.messages, text)
	c.mu.Unlock()
	c.listener.BufferUpdated(text)
}

// freeze sets the final assistant text and returns the conversation, or
// false when sess has been replaced.
func (c *Controller) freeze(sess *Session, text string) ([]history.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != sess {
		return nil, false
	}
	sess.messages = replaceLast(sess.messages, text)
	return append([]history.Message(nil), sess.messages...), true
}

func (c *Controller) snapshot(sess *Session) []history.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]history.Message(nil), sess.messages...)
}

func (c *Controller) title(ctx context.Context, text string) string {
	if c.titler == nil {
		return FallbackTitle(text)
	}
	raw, err := c.titler.GenerateTitle(ctx, text)
	if err == nil {
		if t, ok := CleanTitle(raw); ok {
			return t
		}
		err = fmt.Errorf("unusable title %q", raw)
	}
	logger.L.Warn("using fallback chat title", "error", fmt.Errorf("%w: %w", ErrTitleGeneration, err))
	return FallbackTitle(text)
}

// persist stores the conversation by id. Failures are logged and leave the
// rendered text in place.
func (c *Controller) persist(ctx context.Context, chatID string, msgs []history.Message) {
	var err error
	for attempt := 0; attempt <= c.opts.PersistRetries; attempt++ {
		if _, err = c.store.UpdateChat(ctx, chatID, history.Update{Messages: msgs}); err == nil {
			return
		}
		if errors.Is(err, ErrAuthRequired) || errors.Is(err, history.ErrNotFound) {
			break
		}
	}
	logger.L.Warn("chat history not saved", "chat", chatID, "error", fmt.Errorf("%w: %w", ErrPersistFailed, err))
}
