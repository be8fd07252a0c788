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
	plugins.Register("bond", static(plugins.Plugin{
		Name:        "bond",
		Kind:        plugins.KindCommand,
		Commands:    []string{"bond", "unbond", "listbond"},
		Category:    categoryOwner,
		Description: "Bind a sticker to a command",
		Usage:       "bond <command> (reply to a sticker)",
		Gates:       plugins.Gates{Owner: true},
		Handler:     bond,
	}))
}

// quotedSticker returns the fingerprint of the quoted sticker, if any.
func quotedSticker(m *message.Message) string {
	q := m.Quoted
	if q == nil || q.Media == nil || q.Kind != channels.KindSticker {
		return ""
	}
	return q.Media.Fingerprint()
}

func bond(ctx context.Context, _ channels.Client, m *message.Message, c *plugins.Context) error {
	bindings := c.Services.State.Bindings
	prefix := prefixOf(c)

	switch c.Command {
	case "bond":
		if c.Text == "" {
			return c.Replyf(ctx, "*STICKER BOND*\n\nBind a sticker to execute a command\n\n"+
				"*Usage:*\nReply to a sticker: %[1]sbond <command>\n\n"+
				"*Examples:*\n%[1]sbond kick\n%[1]sbond ping\n\n"+
				"Send the sticker to run the command. Commands that act on a message "+
				"(vv, kick) work when the sticker is sent as a reply.", prefix)
		}
		fp := quotedSticker(m)
		if fp == "" {
			return c.Replyf(ctx, "_Reply to a sticker_\n_Ex: %sbond kick_", prefix)
		}
		cmd := strings.TrimSpace(c.Text)
		if prefix != "" {
			cmd = strings.TrimSpace(strings.TrimPrefix(cmd, prefix))
		}
		if cmd == "" {
			return c.Replyf(ctx, "_Invalid command!_\n\nExample: %sbond kick", prefix)
		}
		if err := bindings.Bind(fp, cmd); err != nil {
			return err
		}
		return c.Replyf(ctx, "_Sticked command %s to this sticker!_", cmd)

	case "unbond":
		fp := quotedSticker(m)
		if fp == "" {
			return c.Replyf(ctx, "_Reply to a bonded sticker!_\n\nExample:\n[Reply to sticker]\n%sunbond", prefix)
		}
		cmd, ok := bindings.Resolve(fp)
		if !ok {
			return c.Reply(ctx, "_This sticker is not bonded to any command_")
		}
		if _, err := bindings.Unbind(fp); err != nil {
			return err
		}
		return c.Replyf(ctx, "_Sticker unbonded from command: %s%s_", prefix, cmd)
	}

	list := bindings.List()
	if len(list) == 0 {
		return c.Reply(ctx, "_No bonded stickers_")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "*BONDED STICKERS*\n\nTotal: %d\n\n", len(list))
	for i, bd := range list {
		fmt.Fprintf(&b, "%d. %s%s\n", i+1, prefix, bd.Command)
	}
	return c.Reply(ctx, b.String())
}
