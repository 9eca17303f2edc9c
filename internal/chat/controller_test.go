package chat

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/comigor/healthchat-go/internal/history"
	"github.com/comigor/healthchat-go/internal/stream"
)

type fakeStore struct {
	mu        sync.Mutex
	createErr error
	updateErr error
	created   []history.Record
	updates   []history.Update
	deleted   []string
	listCalls atomic.Int32
}

func (f *fakeStore) CreateChat(ctx context.Context, title string, messages []history.Message) (history.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return history.Record{}, f.createErr
	}
	rec := history.Record{ID: "chat-1", Title: title, Messages: messages}
	f.created = append(f.created, rec)
	return rec, nil
}

func (f *fakeStore) UpdateChat(ctx context.Context, id string, u history.Update) (history.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, u)
	if f.updateErr != nil {
		return history.Record{}, f.updateErr
	}
	return history.Record{ID: id, Messages: u.Messages}, nil
}

func (f *fakeStore) DeleteChat(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeStore) ListChats(ctx context.Context) ([]history.Record, error) {
	f.listCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]history.Record(nil), f.created...), nil
}

func (f *fakeStore) GetProfile(ctx context.Context) (history.Profile, error) {
	return history.Profile{Name: "Asha"}, nil
}

func (f *fakeStore) updateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updates)
}

type fakeStreamer struct {
	mu       sync.Mutex
	body     string
	err      error
	requests []StreamRequest
	// block makes OpenStream return a body that stays open until ctx ends.
	block bool
}

func (f *fakeStreamer) OpenStream(ctx context.Context, req StreamRequest) (io.ReadCloser, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.block {
		pr, pw := io.Pipe()
		go func() {
			pw.Write([]byte(stream.EncodeToken("Still ")))
			<-ctx.Done()
			pw.CloseWithError(ctx.Err())
		}()
		return pr, nil
	}
	return io.NopCloser(strings.NewReader(f.body)), nil
}

func (f *fakeStreamer) calls() []StreamRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]StreamRequest(nil), f.requests...)
}

type fakeTitler struct {
	title string
	err   error
}

func (f fakeTitler) GenerateTitle(ctx context.Context, sample string) (string, error) {
	return f.title, f.err
}

type fakeLocator struct {
	loc   *Location
	err   error
	hang  bool
	calls atomic.Int32
}

func (f *fakeLocator) CurrentPosition(ctx context.Context) (*Location, error) {
	f.calls.Add(1)
	if f.hang {
		time.Sleep(time.Second)
		return &Location{Lat: 1, Lng: 1}, nil
	}
	return f.loc, f.err
}

type token string

func (t token) Token() string { return string(t) }

type recListener struct {
	mu        sync.Mutex
	updates   []string
	completed [][]history.Message
	failed    []error
	partials  []string
}

func (r *recListener) BufferUpdated(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, text)
}

func (r *recListener) TurnCompleted(messages []history.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, messages)
}

func (r *recListener) TurnFailed(err error, partial string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, err)
	r.partials = append(r.partials, partial)
}

func (r *recListener) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.completed), len(r.failed)
}

type fixture struct {
	store    *fakeStore
	streamer *fakeStreamer
	listener *recListener
	locator  *fakeLocator
	ctrl     *Controller
}

func newFixture(t *testing.T, body string, mutate func(*Deps, *Options)) *fixture {
	t.Helper()
	f := &fixture{
		store:    &fakeStore{},
		streamer: &fakeStreamer{body: body},
		listener: &recListener{},
		locator:  &fakeLocator{},
	}
	deps := Deps{
		Store:       f.store,
		Streamer:    f.streamer,
		Credentials: token("secret"),
		Titler:      fakeTitler{title: `"Sore Throat Care"`},
		Locator:     f.locator,
		Listener:    f.listener,
	}
	opts := Options{
		Policy:     stream.DefaultFlushPolicy(),
		Greeting:   "Hello! Describe your symptoms.",
		GeoTimeout: 30 * time.Millisecond,
		Debounce:   20 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&deps, &opts)
	}
	f.ctrl = NewController(deps, opts, nil)
	t.Cleanup(f.ctrl.Close)
	return f
}

func reply(tokens ...string) string {
	var b strings.Builder
	for _, tok := range tokens {
		b.WriteString(stream.EncodeToken(tok))
	}
	b.WriteString(stream.EncodeDone())
	return b.String()
}

func TestSend_FirstTurnCreatesThenUpdates(t *testing.T) {
	f := newFixture(t, reply("Gargle warm", " salt water.", " Rest"), nil)

	require.NoError(t, f.ctrl.Send(context.Background(), "  I have a sore throat "))

	require.Len(t, f.store.created, 1)
	require.Equal(t, "Sore Throat Care", f.store.created[0].Title)
	require.Equal(t, []history.Message{{Sender: history.SenderUser, Text: "I have a sore throat", Time: f.store.created[0].Messages[0].Time}}, f.store.created[0].Messages)
	require.Equal(t, "chat-1", f.ctrl.ChatID())

	calls := f.streamer.calls()
	require.Len(t, calls, 1)
	require.Equal(t, []WireMessage{
		{Role: "assistant", Content: "Hello! Describe your symptoms."},
		{Role: "user", Content: "I have a sore throat"},
	}, calls[0].Messages)
	require.Nil(t, calls[0].Location)

	require.Equal(t, []string{"Gargle warm salt water.", "Gargle warm salt water. Rest"}, f.listener.updates)
	require.Len(t, f.listener.completed, 1)
	final := f.listener.completed[0]
	require.Len(t, final, 3)
	require.Equal(t, "Gargle warm salt water. Rest", final[2].Text)

	require.Len(t, f.store.updates, 1)
	require.Nil(t, f.store.updates[0].Title, "updates never touch the title")
	require.Equal(t, final, f.store.updates[0].Messages)
	require.Equal(t, final, f.ctrl.Messages())
}

func TestSend_LaterTurnsOnlyUpdate(t *testing.T) {
	f := newFixture(t, reply("Okay."), nil)
	ctx := context.Background()

	require.NoError(t, f.ctrl.Send(ctx, "first"))
	require.NoError(t, f.ctrl.Send(ctx, "second"))

	require.Len(t, f.store.created, 1)
	require.Len(t, f.store.updates, 2)
	require.Len(t, f.store.updates[1].Messages, 5)

	calls := f.streamer.calls()
	require.Len(t, calls[1].Messages, 4, "greeting, first, reply, second")
}

func TestSend_CreateFailureAbortsTurn(t *testing.T) {
	f := newFixture(t, reply("never"), func(d *Deps, o *Options) {
		d.Store.(*fakeStore).createErr = errors.New("db down")
	})

	err := f.ctrl.Send(context.Background(), "my head hurts")
	require.ErrorIs(t, err, ErrCreateFailed)

	require.Empty(t, f.streamer.calls(), "no stream call after failed creation")
	require.Len(t, f.listener.failed, 1)
	require.ErrorIs(t, f.listener.failed[0], ErrCreateFailed)
	require.Equal(t, CreateFailedText, f.listener.partials[0])
	require.Empty(t, f.listener.completed)

	msgs := f.ctrl.Messages()
	require.Equal(t, CreateFailedText, msgs[len(msgs)-1].Text)
	require.Empty(t, f.ctrl.ChatID())
	require.False(t, f.ctrl.Streaming())
}

func TestSend_AuthRequired(t *testing.T) {
	f := newFixture(t, reply("x"), func(d *Deps, o *Options) {
		d.Credentials = token("")
	})

	err := f.ctrl.Send(context.Background(), "hello")
	require.ErrorIs(t, err, ErrAuthRequired)
	require.Empty(t, f.store.created)
	require.Empty(t, f.streamer.calls())
	require.Equal(t, []error{ErrAuthRequired}, f.listener.failed)
	require.Len(t, f.ctrl.Messages(), 1, "conversation untouched")
}

func TestSend_LocationTimeoutProceedsWithoutLocation(t *testing.T) {
	f := newFixture(t, reply("Here are some options."), nil)
	f.locator.hang = true

	start := time.Now()
	require.NoError(t, f.ctrl.Send(context.Background(), "Is there a clinic nearby?"))
	require.Less(t, time.Since(start), 500*time.Millisecond)

	require.Equal(t, int32(1), f.locator.calls.Load())
	calls := f.streamer.calls()
	require.Len(t, calls, 1)
	require.Nil(t, calls[0].Location)
	require.Empty(t, f.listener.failed)
	require.Len(t, f.listener.completed, 1)
}

func TestSend_LocationPassedThrough(t *testing.T) {
	f := newFixture(t, reply("Try City Hospital."), nil)
	f.locator.loc = &Location{Lat: 18.52, Lng: 73.85}

	require.NoError(t, f.ctrl.Send(context.Background(), "find a Doctor"))
	require.Equal(t, &Location{Lat: 18.52, Lng: 73.85}, f.streamer.calls()[0].Location)
}

func TestSend_LocationDeniedAndNoIntent(t *testing.T) {
	f := newFixture(t, reply("Fine."), nil)
	f.locator.err = errors.New("permission denied")
	ctx := context.Background()

	require.NoError(t, f.ctrl.Send(ctx, "hospitals near me"))
	require.Nil(t, f.streamer.calls()[0].Location)

	require.NoError(t, f.ctrl.Send(ctx, "I have a cough"))
	require.Equal(t, int32(1), f.locator.calls.Load(), "no lookup without location intent")
}

func TestSend_TitleFallback(t *testing.T) {
	cases := []Titler{
		fakeTitler{err: errors.New("model unavailable")},
		fakeTitler{title: `"Ok"`},
		fakeTitler{title: strings.Repeat("long ", 20)},
		fakeTitler{title: "   "},
	}
	for _, titler := range cases {
		f := newFixture(t, reply("Noted."), func(d *Deps, o *Options) { d.Titler = titler })
		require.NoError(t, f.ctrl.Send(context.Background(), "I have a terrible headache since morning"))
		require.Equal(t, "Terrible headache morning", f.store.created[0].Title)
	}
}

func TestSend_StreamOpenFailure(t *testing.T) {
	f := newFixture(t, "", nil)
	f.streamer.err = errors.New("connection refused")

	err := f.ctrl.Send(context.Background(), "fever")
	require.ErrorIs(t, err, ErrStreamTransport)
	require.Len(t, f.listener.failed, 1)
	require.Equal(t, stream.FallbackText, f.listener.partials[0])

	msgs := f.ctrl.Messages()
	require.Equal(t, stream.FallbackText, msgs[len(msgs)-1].Text)
	require.Len(t, f.store.updates, 1, "failed turn is still persisted")
}

func TestSend_ErrorTerminatorKeepsPartial(t *testing.T) {
	f := newFixture(t, stream.EncodeToken("Drink fluids")+stream.EncodeError(), nil)

	err := f.ctrl.Send(context.Background(), "cold")
	require.ErrorIs(t, err, ErrStreamTransport)
	require.ErrorIs(t, err, stream.ErrStreamFailed)
	require.Equal(t, []string{"Drink fluids"}, f.listener.partials)
}

func TestSend_PersistFailureKeepsRenderedText(t *testing.T) {
	f := newFixture(t, reply("Stay hydrated."), func(d *Deps, o *Options) {
		d.Store.(*fakeStore).updateErr = errors.New("write failed")
		o.PersistRetries = 2
	})

	require.NoError(t, f.ctrl.Send(context.Background(), "tired"))
	require.Len(t, f.listener.completed, 1)
	require.Equal(t, 3, f.store.updateCount(), "one attempt plus two retries")

	msgs := f.ctrl.Messages()
	require.Equal(t, "Stay hydrated.", msgs[len(msgs)-1].Text)
}

func TestSend_RejectsWhileStreaming(t *testing.T) {
	f := newFixture(t, "", nil)
	f.streamer.block = true

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.ctrl.Send(ctx, "first") }()

	require.Eventually(t, func() bool { return len(f.streamer.calls()) == 1 }, time.Second, 5*time.Millisecond)
	require.True(t, f.ctrl.Streaming())
	require.ErrorIs(t, f.ctrl.Send(context.Background(), "second"), ErrTurnInProgress)

	cancel()
	err := <-done
	require.ErrorIs(t, err, ErrStreamTransport)
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, f.ctrl.Streaming())
	require.Len(t, f.streamer.calls(), 1)
}

func TestNewChat_AbandonsInFlightTurn(t *testing.T) {
	f := newFixture(t, "", nil)
	f.streamer.block = true

	done := make(chan error, 1)
	go func() { done <- f.ctrl.Send(context.Background(), "first") }()
	require.Eventually(t, func() bool { return len(f.streamer.calls()) == 1 }, time.Second, 5*time.Millisecond)

	f.ctrl.NewChat()

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrSessionClosed)
	case <-time.After(time.Second):
		t.Fatal("abandoned turn did not finish")
	}
	completed, failed := f.listener.counts()
	require.Zero(t, completed)
	require.Zero(t, failed)
	require.Zero(t, f.store.updateCount(), "stale turn never persisted")
	require.Equal(t, []history.Message{{Sender: history.SenderAssistant, Text: "Hello! Describe your symptoms."}}, f.ctrl.Messages())
	require.Empty(t, f.ctrl.ChatID())
	require.False(t, f.ctrl.Streaming())
}

func TestNewChat_DebouncesHistoryRefresh(t *testing.T) {
	f := newFixture(t, "", func(d *Deps, o *Options) { o.Debounce = 50 * time.Millisecond })

	f.ctrl.NewChat()
	f.ctrl.NewChat()

	time.Sleep(200 * time.Millisecond)
	require.Equal(t, int32(1), f.store.listCalls.Load())
}

func TestLoadAndDeleteChat(t *testing.T) {
	f := newFixture(t, reply("Rest well."), nil)
	ctx := context.Background()

	require.NoError(t, f.ctrl.Send(ctx, "back pain"))
	f.ctrl.LoadHistory(ctx)
	f.ctrl.NewChat()
	require.Empty(t, f.ctrl.ChatID())

	require.NoError(t, f.ctrl.LoadChat("chat-1"))
	require.Equal(t, "chat-1", f.ctrl.ChatID())
	require.Equal(t, "Sore Throat Care", f.ctrl.Title())
	require.ErrorIs(t, f.ctrl.LoadChat("missing"), history.ErrNotFound)

	require.NoError(t, f.ctrl.DeleteChat(ctx, "chat-1"))
	require.Equal(t, []string{"chat-1"}, f.store.deleted)
	require.Empty(t, f.ctrl.ChatID(), "deleting the open chat starts a new one")
}

func TestRenameChat(t *testing.T) {
	f := newFixture(t, reply("Rest well."), nil)
	ctx := context.Background()

	require.NoError(t, f.ctrl.Send(ctx, "back pain"))
	require.NoError(t, f.ctrl.RenameChat(ctx, "chat-1", `  "Lower Back"  `))
	require.Equal(t, "Lower Back", f.ctrl.Title())

	f.store.mu.Lock()
	last := f.store.updates[len(f.store.updates)-1]
	f.store.mu.Unlock()
	require.NotNil(t, last.Title)
	require.Equal(t, "Lower Back", *last.Title)
	require.Equal(t, f.ctrl.Messages(), last.Messages, "renaming keeps the conversation")

	require.ErrorIs(t, f.ctrl.RenameChat(ctx, "chat-1", "ab"), ErrInvalidTitle)
	require.ErrorIs(t, f.ctrl.RenameChat(ctx, "missing", "Some Title"), history.ErrNotFound)

	f.ctrl.LoadHistory(ctx)
	f.ctrl.NewChat()
	require.NoError(t, f.ctrl.RenameChat(ctx, "chat-1", "From History"))
	f.store.mu.Lock()
	last = f.store.updates[len(f.store.updates)-1]
	f.store.mu.Unlock()
	require.Equal(t, "From History", *last.Title)
	require.Len(t, last.Messages, 1, "cached record messages are kept")
}

func TestSend_EmptyMessage(t *testing.T) {
	f := newFixture(t, "", nil)
	require.ErrorIs(t, f.ctrl.Send(context.Background(), "   "), ErrEmptyMessage)
	require.Empty(t, f.streamer.calls())
}
