package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/comigor/healthchat-go/internal/chat"
	"github.com/comigor/healthchat-go/internal/client"
	"github.com/comigor/healthchat-go/internal/config"
	"github.com/comigor/healthchat-go/internal/history"
	"github.com/comigor/healthchat-go/internal/stream"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the assistant from the terminal",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Client.Token == "" {
			return errors.New("client.token is required (set HEALTHCHAT_CLIENT_TOKEN)")
		}
		t := newTerminal(cmd.OutOrStdout())
		ctrl := newController(cfg, t)
		defer ctrl.Close()
		return t.run(cmd.Context(), ctrl, cmd.InOrStdin())
	},
}

func newController(cfg *config.Config, l chat.Listener) *chat.Controller {
	c := client.New(cfg.Client)
	return chat.NewController(chat.Deps{
		Store:       c,
		Streamer:    c,
		Credentials: c,
		Titler:      c,
		Locator:     client.NewStaticLocator(cfg.Client),
		Listener:    l,
	}, chat.Options{
		Policy:         stream.FlushPolicy{Threshold: cfg.Stream.FlushThreshold, Terminals: cfg.Stream.FlushTerminals},
		FlushDelay:     cfg.Stream.FlushDelay,
		Greeting:       cfg.Chat.Greeting,
		GeoTimeout:     cfg.Chat.GeoTimeout,
		PersistRetries: cfg.Chat.PersistRetries,
		Debounce:       cfg.History.RefreshDebounce,
	}, nil)
}

// terminal renders a conversation on a line-oriented output. It prints only
// the newly displayed suffix of each buffer update.
type terminal struct {
	mu      sync.Mutex
	out     io.Writer
	printed string

	you       lipgloss.Style
	assistant lipgloss.Style
	notice    lipgloss.Style
}

// newTerminal styles labels for out; non-terminal writers get plain text.
func newTerminal(out io.Writer) *terminal {
	r := lipgloss.NewRenderer(out)
	return &terminal{
		out:       out,
		you:       r.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		assistant: r.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
		notice:    r.NewStyle().Foreground(lipgloss.Color("243")),
	}
}

func (t *terminal) BufferUpdated(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rest, ok := strings.CutPrefix(text, t.printed); ok {
		fmt.Fprint(t.out, rest)
	} else {
		fmt.Fprint(t.out, "\n", text)
	}
	t.printed = text
}

func (t *terminal) TurnCompleted([]history.Message) {
	t.endTurn()
}

func (t *terminal) TurnFailed(err error, partial string) {
	t.mu.Lock()
	if partial != "" && t.printed != partial {
		if rest, ok := strings.CutPrefix(partial, t.printed); ok {
			fmt.Fprint(t.out, rest)
		} else {
			fmt.Fprint(t.out, "\n", partial)
		}
		t.printed = partial
	}
	t.mu.Unlock()
	t.endTurn()
	if errors.Is(err, chat.ErrAuthRequired) {
		t.say("Please sign in: set client.token to a valid token.")
	}
}

func (t *terminal) endTurn() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.printed != "" {
		fmt.Fprintln(t.out)
	}
	t.printed = ""
}

func (t *terminal) say(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.out, t.notice.Render(fmt.Sprintf(format, args...)))
}

func (t *terminal) line(label lipgloss.Style, who, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, "%s %s\n", label.Render(who+">"), text)
}

func (t *terminal) showConversation(msgs []history.Message) {
	for _, m := range msgs {
		if m.Text == "" {
			continue
		}
		if m.Sender == history.SenderAssistant {
			t.line(t.assistant, "assistant", m.Text)
		} else {
			t.line(t.you, "you", m.Text)
		}
	}
}

func (t *terminal) showHistory(list []history.Record) {
	if len(list) == 0 {
		t.say("No saved chats.")
		return
	}
	for _, rec := range list {
		t.say("%s  %s  %s", rec.ID, rec.UpdatedAt.Local().Format("2006-01-02 15:04"), rec.Title)
	}
}

const helpText = `Commands:
  /new           start a new chat
  /history       list saved chats
  /open <id>     continue a saved chat
  /delete <id>   delete a saved chat
  /rename <id> <title>
                 retitle a saved chat
  /quit          exit`

// run reads lines from in until EOF or /quit. Each message is sent as one
// turn; an interrupt while a reply streams abandons that reply.
func (t *terminal) run(ctx context.Context, ctrl *chat.Controller, in io.Reader) error {
	t.showConversation(ctrl.Messages())
	ctrl.LoadHistory(ctx)

	sc := bufio.NewScanner(in)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		cmd, arg, _ := strings.Cut(line, " ")
		arg = strings.TrimSpace(arg)

		switch cmd {
		case "/quit", "/exit":
			return nil
		case "/help":
			t.say(helpText)
		case "/new":
			ctrl.NewChat()
			t.showConversation(ctrl.Messages())
		case "/history":
			t.showHistory(ctrl.LoadHistory(ctx))
		case "/open":
			if err := ctrl.LoadChat(arg); err != nil {
				t.say("No chat %q in history; try /history.", arg)
				continue
			}
			t.say("Opened %q.", ctrl.Title())
			t.showConversation(ctrl.Messages())
		case "/delete":
			if err := ctrl.DeleteChat(ctx, arg); err != nil {
				t.say("Could not delete %q: %v", arg, err)
				continue
			}
			t.say("Deleted %s.", arg)
		case "/rename":
			id, title, _ := strings.Cut(arg, " ")
			if err := ctrl.RenameChat(ctx, id, title); err != nil {
				t.say("Could not rename %q: %v", id, err)
				continue
			}
			t.say("Renamed %s.", id)
		default:
			if strings.HasPrefix(cmd, "/") {
				t.say("Unknown command %s.\n%s", cmd, helpText)
				continue
			}
			t.mu.Lock()
			fmt.Fprint(t.out, t.assistant.Render("assistant>"), " ")
			t.mu.Unlock()
			t.send(ctx, ctrl, line)
		}
	}
	return sc.Err()
}

func (t *terminal) send(ctx context.Context, ctrl *chat.Controller, line string) {
	turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	err := ctrl.Send(turnCtx, line)
	switch {
	case err == nil, errors.Is(err, chat.ErrSessionClosed):
	case errors.Is(err, chat.ErrTurnInProgress), errors.Is(err, chat.ErrEmptyMessage):
		t.say("%v", err)
	}
}
