package builtin

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jholhewres/megatron/pkg/megatron/channels"
	"github.com/jholhewres/megatron/pkg/megatron/message"
	"github.com/jholhewres/megatron/pkg/megatron/plugins"
	"github.com/jholhewres/megatron/pkg/megatron/state"
)

func init() {
	plugins.Register("commands", static(plugins.Plugin{
		Name:        "commands",
		Kind:        plugins.KindCommand,
		Commands:    []string{"stop", "enable", "stopped", "listdisabled"},
		Category:    categoryOwner,
		Description: "Disable, enable and list commands",
		Usage:       "stop <command> | enable <command> | stopped",
		Gates:       plugins.Gates{Owner: true},
		Handler:     manageCommands,
	}))
}

func manageCommands(ctx context.Context, _ channels.Client, m *message.Message, c *plugins.Context) error {
	disabled := c.Services.State.Disabled
	prefix := prefixOf(c)

	switch c.Command {
	case "stop":
		if len(c.Args) == 0 {
			return c.Replyf(ctx, "_❌ Provide a command name to disable_\n\n_Usage:_ `%sstop <command>`", prefix)
		}
		cmd := strings.ToLower(c.Args[0])
		changed, err := disabled.Disable(cmd)
		switch {
		case errors.Is(err, state.ErrProtected):
			return c.Reply(ctx, "_❌ Cannot disable this command_\n\n_This is a protected system command_")
		case err != nil:
			return err
		case !changed:
			return c.Replyf(ctx, "_⚠️ Command \"%s\" is already disabled_", cmd)
		}
		react(ctx, m, "✅")
		return c.Replyf(ctx, "_✅ Command disabled successfully_\n\n_Command:_ `%s`\n\n_Use %senable %s to re-enable_", cmd, prefix, cmd)

	case "enable":
		if len(c.Args) == 0 {
			return c.Replyf(ctx, "_❌ Provide a command name to enable_\n\n_Usage:_ `%senable <command>`", prefix)
		}
		cmd := strings.ToLower(c.Args[0])
		changed, err := disabled.Enable(cmd)
		if err != nil {
			return err
		}
		if !changed {
			return c.Replyf(ctx, "_⚠️ Command \"%s\" is not disabled_", cmd)
		}
		react(ctx, m, "✅")
		return c.Replyf(ctx, "_✅ Command enabled successfully_\n\n_Command:_ `%s`", cmd)
	}

	list := disabled.List()
	if len(list) == 0 {
		return c.Reply(ctx, "_✅ No commands are currently disabled_")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "*DISABLED COMMANDS*\n\n_Total:_ %d\n\n", len(list))
	for i, cmd := range list {
		fmt.Fprintf(&b, "%d. `%s`\n", i+1, cmd)
	}
	fmt.Fprintf(&b, "\n_To enable a command:_ %senable <command>", prefix)
	return c.Reply(ctx, b.String())
}
