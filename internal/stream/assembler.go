package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/qmuntal/stateless"

	"github.com/comigor/healthchat-go/internal/logger"
)

// Phase of an assistant turn.
type Phase string

const (
	PhaseIdle      Phase = "Idle"
	PhaseStreaming Phase = "Streaming"
	PhaseCompleted Phase = "Completed" // Terminal
	PhaseFailed    Phase = "Failed"    // Terminal
)

// Terminal reports whether no further events are processed in p.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

type trigger string

const (
	triggerBegin trigger = "Begin"
	triggerToken trigger = "Token"
	triggerDone  trigger = "Done"
	triggerError trigger = "Error"
)

// FallbackText is shown when a turn fails before anything was displayed.
const FallbackText = "Sorry, I couldn't process that request. Please try again."

var (
	// ErrStreamFailed is reported when the producer sent an error terminator.
	ErrStreamFailed = errors.New("stream reported an error")
	// ErrTransport wraps read failures of the underlying stream.
	ErrTransport = errors.New("stream transport error")
)

// Handlers receive assembler notifications. Nil handlers are skipped.
type Handlers struct {
	Updated   func(text string)
	Completed func(text string)
	Failed    func(err error, text string)
}

// Result is the terminal outcome of a turn.
type Result struct {
	Phase Phase
	Text  string
	Err   error
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithFlushDelay pauses after every intermediate flush. It only paces
// rendering and has no effect on the assembled text.
func WithFlushDelay(d time.Duration) Option {
	return func(a *Assembler) { a.flushDelay = d }
}

// WithReadSize sets the transport read buffer size.
func WithReadSize(n int) Option {
	return func(a *Assembler) {
		if n > 0 {
			a.readSize = n
		}
	}
}

// Assembler rebuilds one assistant message from decoder events. Events must
// be delivered by a single goroutine, in arrival order.
type Assembler struct {
	policy     FlushPolicy
	handlers   Handlers
	flushDelay time.Duration
	readSize   int

	fsm       *stateless.StateMachine
	raw       strings.Builder
	total     strings.Builder
	displayed string
	result    Result
}

// NewAssembler returns an assembler in the Idle phase.
func NewAssembler(policy FlushPolicy, h Handlers, opts ...Option) *Assembler {
	a := &Assembler{
		policy:   policy,
		handlers: h,
		readSize: 4096,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.Reset()
	return a
}

// Reset discards all per-turn state and returns to Idle.
func (a *Assembler) Reset() {
	a.raw.Reset()
	a.total.Reset()
	a.displayed = ""
	a.result = Result{Phase: PhaseIdle}
	a.fsm = a.newMachine()
}

// Phase returns the current phase.
func (a *Assembler) Phase() Phase {
	return a.fsm.MustState().(Phase)
}

// Displayed returns the normalized text shown so far.
func (a *Assembler) Displayed() string {
	return a.displayed
}

// Result returns the terminal outcome; Phase is not terminal while the turn runs.
func (a *Assembler) Result() Result {
	return a.result
}

func (a *Assembler) newMachine() *stateless.StateMachine {
	fsm := stateless.NewStateMachine(PhaseIdle)

	fsm.Configure(PhaseIdle).
		Permit(triggerBegin, PhaseStreaming)

	// Tokens stay in Streaming; an internal transition skips exit/entry actions.
	fsm.Configure(PhaseStreaming).
		InternalTransition(triggerToken, func(ctx context.Context, args ...any) error {
			return a.onToken(ctx, args[0].(string))
		}).
		Permit(triggerDone, PhaseCompleted).
		Permit(triggerError, PhaseFailed)

	fsm.Configure(PhaseCompleted).
		OnEntry(func(ctx context.Context, args ...any) error {
			a.flush(true)
			a.result = Result{Phase: PhaseCompleted, Text: a.displayed}
			logger.L.Debug("stream completed", "length", len(a.displayed))
			if a.handlers.Completed != nil {
				a.handlers.Completed(a.displayed)
			}
			return nil
		}).
		Ignore(triggerBegin).
		Ignore(triggerToken).
		Ignore(triggerDone).
		Ignore(triggerError)

	fsm.Configure(PhaseFailed).
		OnEntry(func(ctx context.Context, args ...any) error {
			err := ErrStreamFailed
			if len(args) > 0 {
				if e, ok := args[0].(error); ok && e != nil {
					err = e
				}
			}
			if a.policy.ForceFlush(a.raw.String()) {
				a.flush(true)
			}
			text := a.displayed
			if text == "" {
				text = FallbackText
			}
			a.result = Result{Phase: PhaseFailed, Text: text, Err: err}
			logger.L.Warn("stream failed", "error", err, "displayed", len(a.displayed))
			if a.handlers.Failed != nil {
				a.handlers.Failed(err, text)
			}
			return nil
		}).
		Ignore(triggerBegin).
		Ignore(triggerToken).
		Ignore(triggerDone).
		Ignore(triggerError)

	return fsm
}

// Handle processes one event. Events after a terminal phase are ignored.
func (a *Assembler) Handle(ctx context.Context, ev Event) error {
	if a.Phase() == PhaseIdle {
		if err := a.fsm.FireCtx(ctx, triggerBegin); err != nil {
			return fmt.Errorf("begin turn: %w", err)
		}
	}
	switch ev.Kind {
	case EventToken:
		return a.fsm.FireCtx(ctx, triggerToken, ev.Data)
	case EventDone:
		return a.fsm.FireCtx(ctx, triggerDone)
	case EventError:
		return a.fsm.FireCtx(ctx, triggerError, ev.Err)
	}
	return fmt.Errorf("unknown event kind %d", ev.Kind)
}

func (a *Assembler) onToken(ctx context.Context, payload string) error {
	a.raw.WriteString(payload)
	if !a.flush(false) {
		return nil
	}
	if a.flushDelay > 0 {
		t := time.NewTimer(a.flushDelay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
		}
	}
	return nil
}

// flush promotes the raw buffer when the policy allows it and reports
// whether an update was emitted. A forced flush always emits, so the final
// notification is sent even when nothing was buffered.
func (a *Assembler) flush(force bool) bool {
	raw := a.raw.String()
	ok := a.policy.ShouldFlush(raw)
	if force {
		ok = true
	}
	if !ok {
		return false
	}
	a.total.WriteString(raw)
	a.raw.Reset()
	a.displayed = Normalize(a.total.String())
	if a.handlers.Updated != nil {
		a.handlers.Updated(a.displayed)
	}
	return true
}

// Run reads r to the end of the turn and returns its terminal result. Read
// failures and context cancellation end the turn as Failed; closure without a
// terminator ends it as Completed.
func (a *Assembler) Run(ctx context.Context, r io.Reader) Result {
	dec := NewDecoder()
	buf := make([]byte, a.readSize)

	for !a.Phase().Terminal() {
		if err := ctx.Err(); err != nil {
			a.fail(ctx, fmt.Errorf("%w: %w", ErrTransport, err))
			break
		}
		n, err := r.Read(buf)
		if n > 0 {
			a.dispatch(ctx, dec.Feed(buf[:n]))
		}
		if a.Phase().Terminal() {
			break
		}
		if errors.Is(err, io.EOF) {
			a.dispatch(ctx, dec.Close())
			break
		}
		if err != nil {
			a.fail(ctx, fmt.Errorf("%w: %w", ErrTransport, err))
			break
		}
	}

	if !a.Phase().Terminal() {
		a.fail(ctx, fmt.Errorf("%w: stream ended without terminator", ErrTransport))
	}
	return a.result
}

func (a *Assembler) dispatch(ctx context.Context, events []Event) {
	for _, ev := range events {
		if err := a.Handle(ctx, ev); err != nil {
			logger.L.Error("assembler event failed", "event", ev.Kind.String(), "error", err)
		}
		if a.Phase().Terminal() {
			return
		}
	}
}

// fail terminates the turn after a transport problem. It fires outside the
// caller's context so a cancelled turn still reaches Failed.
func (a *Assembler) fail(ctx context.Context, err error) {
	if err := a.Handle(context.WithoutCancel(ctx), Event{Kind: EventError, Err: err}); err != nil {
		logger.L.Error("assembler failed to terminate", "error", err)
	}
}
