package builtin

import (
	"context"
	"errors"

	"github.com/jholhewres/megatron/pkg/megatron/channels"
	"github.com/jholhewres/megatron/pkg/megatron/message"
	"github.com/jholhewres/megatron/pkg/megatron/plugins"
	"github.com/jholhewres/megatron/pkg/megatron/state"
)

func init() {
	plugins.Register("sudo", static(plugins.Plugin{
		Name:        "sudo",
		Kind:        plugins.KindCommand,
		Commands:    []string{"setsudo", "delsudo", "listsudo"},
		Category:    categoryOwner,
		Description: "Manage sudo users",
		Usage:       "setsudo <number|@user> | delsudo <number|@user> | listsudo",
		Gates:       plugins.Gates{Creator: true},
		Handler:     sudo,
	}))
}

func sudo(ctx context.Context, _ channels.Client, m *message.Message, c *plugins.Context) error {
	settings := c.Services.State.Settings

	if c.Command == "listsudo" {
		list := settings.Sudo()
		if len(list) == 0 {
			return c.Reply(ctx, "_no sudo users set_")
		}
		return c.Reply(ctx, "*Sudo Users*\n\n"+numbered(list))
	}

	who := target(m)
	if who == "" && len(c.Args) > 0 {
		who = c.Text
	}
	if who == "" {
		return c.Replyf(ctx, "_Mention, reply to or type a number_\n_Ex: %s%s 5511987654321_", prefixOf(c), c.Command)
	}

	var (
		changed bool
		err     error
	)
	if c.Command == "setsudo" {
		changed, err = settings.AddSudo(who)
	} else {
		changed, err = settings.RemoveSudo(who)
	}
	switch {
	case errors.Is(err, state.ErrInvalidNumber):
		return c.Reply(ctx, "_Invalid number_")
	case err != nil:
		return err
	case !changed && c.Command == "setsudo":
		return c.Reply(ctx, "_already a sudo user_")
	case !changed:
		return c.Reply(ctx, "_not a sudo user_")
	case c.Command == "setsudo":
		return c.Reply(ctx, "_sudo added_")
	}
	return c.Reply(ctx, "_sudo removed_")
}
