package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jholhewres/megatron/pkg/megatron/channels"
	"github.com/jholhewres/megatron/pkg/megatron/channels/memory"
	"github.com/jholhewres/megatron/pkg/megatron/dispatch"
	"github.com/jholhewres/megatron/pkg/megatron/identity"
)

// Synthetic identities used by the console.
const (
	consoleBotID   = "5500000000001@s.whatsapp.net"
	consoleUserID  = "5500000000002@s.whatsapp.net"
	consoleGroupID = "120363000000000001@g.us"
	defaultOwner   = "5500000000009"
)

// newConsoleCmd creates the `megatron console` command.
func newConsoleCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "console",
		Short: "Try plugins offline in a local REPL",
		Long: `Start an interactive console that feeds typed lines to the dispatcher
as WhatsApp messages from the owner, printing whatever the bot sends back.
No WhatsApp connection is made.

Console commands:
  :group        talk in a simulated group (bot and you are admins)
  :dm           talk in a direct chat (default)
  :as NUMBER    send as another number (":as owner" to switch back)
  :quit         leave the console

Examples:
  megatron console
  megatron console --persist`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConsole(cmd, version)
		},
	}
	cmd.Flags().Bool("persist", false, "use the configured state database instead of a throwaway one")
	return cmd
}

// consoleSession is the REPL's mutable state.
type consoleSession struct {
	owner  string
	sender string
	chatID string
}

func runConsole(cmd *cobra.Command, version string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	persist, _ := cmd.Flags().GetBool("persist")
	if !persist {
		dir, err := os.MkdirTemp("", "megatron-console-*")
		if err != nil {
			return fmt.Errorf("creating temp state dir: %w", err)
		}
		defer os.RemoveAll(dir)
		cfg.Database.Path = filepath.Join(dir, "state.db")
	}

	owner := defaultOwner
	if len(cfg.Owners) > 0 {
		owner = identity.ExtractDigits(cfg.Owners[0])
	} else {
		cfg.Owners = []string{owner}
	}
	ownerID := owner + "@s.whatsapp.net"

	historyFile := ""
	if home, err := os.UserHomeDir(); err == nil {
		historyFile = filepath.Join(home, ".megatron_history")
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "megatron> ",
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       ":quit",
	})
	if err != nil {
		return fmt.Errorf("starting console: %w", err)
	}
	defer rl.Close()
	out := rl.Stdout()

	// Logs go to stderr so replies stay readable.
	logger := newLogger(cmd, cfg, os.Stderr)

	client := memory.New(consoleBotID)
	client.SetRoster(&channels.Roster{
		ChatID:  consoleGroupID,
		Subject: "Console Group",
		Participants: []channels.Participant{
			{ID: consoleBotID, IsAdmin: true},
			{ID: ownerID, IsAdmin: true},
			{ID: consoleUserID},
		},
	})
	client.OnSend = func(chatID string, msg *channels.OutgoingMessage) {
		printOutgoing(out, chatID, msg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, err := newBot(ctx, cfg, client, version, logger)
	if err != nil {
		return err
	}
	defer b.close()
	b.services.Restart = func() error {
		fmt.Fprintln(out, "(restart requested; ignored in console)")
		return nil
	}

	if term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprintf(out, "%s console. You are %s (owner). Prefix: %q. Type :quit to leave.\n",
			cfg.Name, owner, b.services.Prefixes.First())
	}

	s := &consoleSession{owner: ownerID, sender: ownerID, chatID: ownerID}
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ":") {
			if quit := s.meta(out, line); quit {
				return nil
			}
			rl.SetPrompt(s.prompt())
			continue
		}

		outcome := b.dispatcher.Handle(ctx, s.envelope(line))
		b.dispatcher.Wait()
		if outcome != dispatch.OutcomeInvoked && outcome != dispatch.OutcomeNoCommand {
			fmt.Fprintf(out, "(%s)\n", outcome)
		}
	}
}

// meta handles a console command and reports whether to quit.
func (s *consoleSession) meta(out io.Writer, line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case ":quit", ":q", ":exit":
		return true
	case ":group":
		s.chatID = consoleGroupID
	case ":dm":
		s.chatID = s.sender
	case ":as":
		if len(fields) < 2 {
			fmt.Fprintln(out, "usage: :as NUMBER | owner")
			break
		}
		if fields[1] == "owner" {
			s.sender = s.owner
		} else if digits := identity.ExtractDigits(fields[1]); len(digits) >= 7 {
			s.sender = digits + "@s.whatsapp.net"
		} else {
			fmt.Fprintln(out, "invalid number")
			break
		}
		if !channels.IsGroupID(s.chatID) {
			s.chatID = s.sender
		}
	default:
		fmt.Fprintf(out, "unknown console command %s\n", fields[0])
	}
	return false
}

func (s *consoleSession) prompt() string {
	where := "dm"
	if channels.IsGroupID(s.chatID) {
		where = "group"
	}
	return fmt.Sprintf("megatron [%s %s]> ", identity.Normalize(s.sender), where)
}

// envelope wraps a typed line as an inbound text message.
func (s *consoleSession) envelope(line string) *channels.Envelope {
	return &channels.Envelope{
		ID:        strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:20],
		ChatID:    s.chatID,
		SenderID:  s.sender,
		PushName:  "Console",
		Timestamp: time.Now(),
		Content:   &channels.Content{Kind: channels.KindText, Text: line},
	}
}

// printOutgoing renders a message sent by the bot.
func printOutgoing(out io.Writer, chatID string, msg *channels.OutgoingMessage) {
	where := identity.Normalize(chatID)
	if channels.IsGroupID(chatID) {
		where = "group"
	}
	switch {
	case msg.Reaction != nil:
		fmt.Fprintf(out, "[%s] reacted %s\n", where, msg.Reaction.Emoji)
	case msg.Media != nil:
		fmt.Fprintf(out, "[%s] <%s %d bytes> %s\n", where, msg.Media.Kind, len(msg.Media.Data), msg.Media.Caption)
	default:
		text := msg.Text
		if msg.EditID != "" {
			text = "(edit) " + text
		}
		fmt.Fprintf(out, "[%s] %s\n", where, text)
	}
}
