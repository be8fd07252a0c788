package builtin

import (
	"context"

	"github.com/jholhewres/megatron/pkg/megatron/channels"
	"github.com/jholhewres/megatron/pkg/megatron/message"
	"github.com/jholhewres/megatron/pkg/megatron/plugins"
)

func init() {
	plugins.Register("jid", static(plugins.Plugin{
		Name:        "jid",
		Kind:        plugins.KindCommand,
		Commands:    []string{"jid"},
		Category:    categoryUtility,
		Description: "Show the id of this chat, a mentioned user or the quoted author",
		Gates:       plugins.Gates{Owner: true},
		Handler:     jid,
	}))
}

func jid(ctx context.Context, _ channels.Client, m *message.Message, c *plugins.Context) error {
	if id := target(m); id != "" {
		return c.Reply(ctx, id)
	}
	return c.Reply(ctx, m.ChatID)
}
