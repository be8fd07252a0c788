package builtin

import (
	"context"
	"fmt"
	"time"

	"github.com/jholhewres/megatron/pkg/megatron/channels"
	"github.com/jholhewres/megatron/pkg/megatron/message"
	"github.com/jholhewres/megatron/pkg/megatron/plugins"
)

func init() {
	plugins.Register("ping", static(plugins.Plugin{
		Name:        "ping",
		Kind:        plugins.KindCommand,
		Commands:    []string{"ping"},
		Category:    categoryUtility,
		Description: "Measure response latency",
		Handler:     ping,
	}))
}

// ping sends a placeholder and edits it with the measured round trip.
func ping(ctx context.Context, _ channels.Client, m *message.Message, _ *plugins.Context) error {
	start := time.Now()
	sent, err := m.Send(ctx, &channels.OutgoingMessage{Text: "Pinging...", ReplyTo: m.ReplyRef()})
	if err != nil {
		return err
	}
	latency := time.Since(start).Milliseconds()
	_, err = m.Send(ctx, &channels.OutgoingMessage{
		Text:   fmt.Sprintf("*Pong!* %d ms", latency),
		EditID: sent.ID,
	})
	return err
}
