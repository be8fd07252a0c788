package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/jholhewres/megatron/pkg/megatron/channels"
	"github.com/jholhewres/megatron/pkg/megatron/message"
	"github.com/jholhewres/megatron/pkg/megatron/plugins"
	"github.com/jholhewres/megatron/pkg/megatron/sysinfo"
)

const defaultAlive = "*%s is alive*"

func init() {
	plugins.Register("alive", static(plugins.Plugin{
		Name:        "alive",
		Kind:        plugins.KindCommand,
		Commands:    []string{"alive"},
		Category:    categoryUtility,
		Description: "Show bot status",
		Handler:     alive,
	}))
	plugins.Register("system", static(plugins.Plugin{
		Name:        "system",
		Kind:        plugins.KindCommand,
		Commands:    []string{"system", "sysinfo"},
		Category:    categoryOwner,
		Description: "Host and process statistics",
		Gates:       plugins.Gates{Owner: true},
		Handler:     system,
	}))
}

func alive(ctx context.Context, _ channels.Client, _ *message.Message, c *plugins.Context) error {
	bot := c.Services.Bot
	text := c.Services.Options.AliveMessage
	if text == "" {
		text = fmt.Sprintf(defaultAlive, strings.ToUpper(bot.Name))
	}
	snap := sysinfo.Collect(ctx, bot.StartedAt, "")

	var b strings.Builder
	b.WriteString(text)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "*Version:* %s\n", bot.Version)
	fmt.Fprintf(&b, "*Uptime:* %s", sysinfo.FormatDuration(snap.Uptime))
	return c.Reply(ctx, b.String())
}

func system(ctx context.Context, _ channels.Client, _ *message.Message, c *plugins.Context) error {
	snap := sysinfo.Collect(ctx, c.Services.Bot.StartedAt, ".")
	if snap.PartialError != nil {
		c.Logger.Debug("builtin: partial system stats", "error", snap.PartialError)
	}
	return c.Reply(ctx, "*SYSTEM*\n\n"+snap.Summary())
}
