package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/jholhewres/megatron/pkg/megatron/channels"
	"github.com/jholhewres/megatron/pkg/megatron/message"
	"github.com/jholhewres/megatron/pkg/megatron/plugins"
)

func init() {
	plugins.Register("lifecycle", static(plugins.Plugin{
		Name:        "lifecycle",
		Kind:        plugins.KindCommand,
		Commands:    []string{"reload", "reboot", "restart"},
		Category:    categoryOwner,
		Description: "Reload plugins or restart the bot",
		Gates:       plugins.Gates{Owner: true},
		Handler:     lifecycle,
	}))
}

func lifecycle(ctx context.Context, _ channels.Client, _ *message.Message, c *plugins.Context) error {
	if c.Command == "reload" {
		report := c.Services.Registry.Load(ctx)
		var b strings.Builder
		fmt.Fprintf(&b, "_✅ Reloaded %d plugin(s), %d command(s)_", len(report.Loaded), report.Commands)
		if len(report.Skipped) > 0 {
			names := make([]string, 0, len(report.Skipped))
			for _, s := range report.Skipped {
				names = append(names, s.Name)
			}
			fmt.Fprintf(&b, "\n_❌ Failed: %s_", strings.Join(names, ", "))
		}
		return c.Reply(ctx, b.String())
	}

	if c.Services.Restart == nil {
		return c.Reply(ctx, "_Restart is not available in this mode_")
	}
	if err := c.Reply(ctx, "_🔄 Rebooting bot, please wait..._"); err != nil {
		c.Logger.Warn("builtin: restart notice failed", "error", err)
	}
	return c.Services.Restart()
}
