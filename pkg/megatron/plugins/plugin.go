// Package plugins defines bot plugins and the registry that serves them to
// the dispatcher.
//
// A plugin is exactly one of:
//   - a command plugin, invoked when a message starts with a prefix and one
//     of its command names;
//   - a text plugin, run concurrently for every prefix-less message;
//   - an always plugin, run synchronously for every message before mode
//     filtering.
package plugins

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jholhewres/megatron/pkg/megatron/access"
	"github.com/jholhewres/megatron/pkg/megatron/channels"
	"github.com/jholhewres/megatron/pkg/megatron/message"
	"github.com/jholhewres/megatron/pkg/megatron/state"
	"github.com/jholhewres/megatron/pkg/megatron/tasks"
)

// Kind selects when a plugin runs.
type Kind int

const (
	KindCommand Kind = iota
	KindText
	KindAlways
)

func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindText:
		return "text"
	case KindAlways:
		return "always"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Gates restrict who may invoke a command plugin. Every set gate must pass.
type Gates struct {
	// Creator requires the bot account or a configured owner.
	Creator bool

	// Owner requires creator or sudo.
	Owner bool

	// Sudo requires creator or sudo.
	Sudo bool

	// Group requires a group chat.
	Group bool

	// Private requires a direct chat.
	Private bool

	// Admin requires a group admin (owners pass) when used in a group.
	Admin bool
}

// Handler runs a plugin.
type Handler func(ctx context.Context, conn channels.Client, m *message.Message, c *Context) error

// Plugin is a registry entry.
type Plugin struct {
	// Name identifies the plugin in logs and enable/disable lists.
	Name string

	Kind Kind

	// Commands are the names a command plugin answers to.
	Commands []string

	Category    string
	Description string
	Usage       string

	Gates Gates

	Handler Handler

	// Source is "builtin" or the path of the shared object it came from.
	Source string
}

// ErrInvalidPlugin wraps validation failures.
var ErrInvalidPlugin = fmt.Errorf("invalid plugin")

// Validate checks the record is well-formed for its kind.
func (p *Plugin) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: nil record", ErrInvalidPlugin)
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidPlugin)
	}
	if p.Handler == nil {
		return fmt.Errorf("%w: %s: missing handler", ErrInvalidPlugin, p.Name)
	}
	switch p.Kind {
	case KindCommand:
		if len(p.Commands) == 0 {
			return fmt.Errorf("%w: %s: command plugin without commands", ErrInvalidPlugin, p.Name)
		}
		for _, c := range p.Commands {
			if c == "" || strings.ContainsAny(c, " \t\n") {
				return fmt.Errorf("%w: %s: bad command name %q", ErrInvalidPlugin, p.Name, c)
			}
		}
	case KindText, KindAlways:
		if len(p.Commands) > 0 {
			return fmt.Errorf("%w: %s: %s plugin must not declare commands", ErrInvalidPlugin, p.Name, p.Kind)
		}
	default:
		return fmt.Errorf("%w: %s: unknown kind %d", ErrInvalidPlugin, p.Name, int(p.Kind))
	}
	return nil
}

// Options tune built-in plugins.
type Options struct {
	// AliveMessage replaces the default alive text.
	AliveMessage string `yaml:"alive_message"`

	// AutoReveal forwards view-once media to the bot's own chat.
	AutoReveal bool `yaml:"auto_reveal"`

	// KickallDelay is the grace period before a purge starts.
	KickallDelay time.Duration `yaml:"kickall_delay"`

	// KickallInterval spaces individual removals.
	KickallInterval time.Duration `yaml:"kickall_interval"`
}

// DefaultOptions returns the built-in plugin defaults.
func DefaultOptions() Options {
	return Options{
		KickallDelay:    10 * time.Second,
		KickallInterval: time.Second,
	}
}

// BotInfo describes the running bot.
type BotInfo struct {
	Name      string
	Version   string
	StartedAt time.Time
}

// Services are shared dependencies handed to every plugin.
type Services struct {
	State    *state.Store
	Tasks    *tasks.Registry
	Registry *Registry
	Prefixes access.Prefixes
	Bot      BotInfo
	Options  Options

	// Restart, when set, restarts the process.
	Restart func() error
}

// Context is the per-invocation context of a plugin.
type Context struct {
	// Command is the lower-cased command name ("" for passive plugins).
	Command string

	// Args are the whitespace-separated arguments after the command.
	Args []string

	// Text is the argument text with its original spacing.
	Text string

	// Prefix is the detected prefix.
	Prefix string

	// FromSticker is true when a sticker binding produced the command.
	FromSticker bool

	// TraceID identifies the dispatch in logs.
	TraceID string

	Auth     *access.Auth
	Services *Services
	Logger   *slog.Logger

	msg *message.Message
}

// NewContext builds a context for m.
func NewContext(m *message.Message, auth *access.Auth, svc *Services, logger *slog.Logger) *Context {
	if logger == nil {
		logger = slog.Default()
	}
	return &Context{Auth: auth, Services: svc, Logger: logger, msg: m}
}

// Message returns the message being handled.
func (c *Context) Message() *message.Message { return c.msg }

// Reply answers the message being handled.
func (c *Context) Reply(ctx context.Context, text string) error {
	return c.msg.Reply(ctx, text)
}

// Replyf formats and replies.
func (c *Context) Replyf(ctx context.Context, format string, args ...any) error {
	return c.msg.Reply(ctx, fmt.Sprintf(format, args...))
}

// Roster returns the group roster, fetched on first use.
func (c *Context) Roster(ctx context.Context) (*channels.Roster, error) {
	return c.Auth.Roster(ctx)
}

// IsAdmin reports whether the sender administers the group.
func (c *Context) IsAdmin(ctx context.Context) bool { return c.Auth.IsAdmin(ctx) }

// IsBotAdmin reports whether the bot administers the group.
func (c *Context) IsBotAdmin(ctx context.Context) bool { return c.Auth.IsBotAdmin(ctx) }
