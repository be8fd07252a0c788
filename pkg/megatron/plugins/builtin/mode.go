package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/jholhewres/megatron/pkg/megatron/access"
	"github.com/jholhewres/megatron/pkg/megatron/channels"
	"github.com/jholhewres/megatron/pkg/megatron/message"
	"github.com/jholhewres/megatron/pkg/megatron/plugins"
)

func init() {
	plugins.Register("mode", static(plugins.Plugin{
		Name:        "mode",
		Kind:        plugins.KindCommand,
		Commands:    []string{"mode"},
		Category:    categoryOwner,
		Description: "Show or change who the bot answers",
		Usage:       "mode [public|private|group|pm]",
		Gates:       plugins.Gates{Owner: true},
		Handler:     mode,
	}))
}

func mode(ctx context.Context, _ channels.Client, m *message.Message, c *plugins.Context) error {
	settings := c.Services.State.Settings
	names := make([]string, 0, 4)
	for _, md := range access.Modes() {
		names = append(names, string(md))
	}

	if len(c.Args) == 0 {
		return c.Replyf(ctx, "*Mode:* %s\n\n_Available:_ %s", settings.Mode(), strings.Join(names, ", "))
	}
	md, err := access.ParseMode(c.Args[0])
	if err != nil {
		return c.Replyf(ctx, "_Unknown mode %q_\n_Available:_ %s", c.Args[0], strings.Join(names, ", "))
	}
	if err := settings.SetMode(md); err != nil {
		return fmt.Errorf("set mode: %w", err)
	}
	react(ctx, m, "✅")
	return c.Replyf(ctx, "_Mode set to %s_", md)
}
