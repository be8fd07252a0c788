package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/jholhewres/megatron/pkg/megatron/channels"
	"github.com/jholhewres/megatron/pkg/megatron/identity"
	"github.com/jholhewres/megatron/pkg/megatron/message"
	"github.com/jholhewres/megatron/pkg/megatron/plugins"
)

func init() {
	plugins.Register("vv", static(plugins.Plugin{
		Name:        "vv",
		Kind:        plugins.KindCommand,
		Commands:    []string{"vv"},
		Category:    categoryOwner,
		Description: "Re-send quoted image, video or audio as a normal message",
		Usage:       "vv [user@server] (reply to media)",
		Gates:       plugins.Gates{Sudo: true},
		Handler:     reveal,
	}))
	plugins.Register("autoreveal", static(plugins.Plugin{
		Name:        "autoreveal",
		Kind:        plugins.KindAlways,
		Description: "Forward view-once media to the bot's own chat",
		Handler:     autoReveal,
	}))
}

// revealable maps the media kinds vv accepts to a fallback MIME type.
var revealable = map[channels.ContentKind]string{
	channels.KindImage: "image/jpeg",
	channels.KindVideo: "video/mp4",
	channels.KindAudio: "audio/mpeg",
}

func reveal(ctx context.Context, conn channels.Client, m *message.Message, c *plugins.Context) error {
	q := m.Quoted
	if !q.HasMedia() {
		return c.Reply(ctx, "_Reply to media_")
	}
	if _, ok := revealable[q.Kind]; !ok {
		return c.Reply(ctx, "_Unsupported media_")
	}

	dest := m.ChatID
	if strings.Contains(c.Text, "@") {
		dest = strings.TrimSpace(c.Text)
	}

	data, ok := q.Download(ctx)
	if !ok {
		return c.Reply(ctx, "_Failed_")
	}
	out := mediaCopy(q.Kind, q.Media.MimeType, data, q.Body)
	if dest == m.ChatID {
		out.ReplyTo = m.ReplyRef()
	}
	if _, err := conn.Send(ctx, dest, out); err != nil {
		c.Logger.Warn("builtin: reveal send failed", "dest", dest, "error", err)
		return c.Reply(ctx, "_Failed_")
	}
	return nil
}

func autoReveal(ctx context.Context, conn channels.Client, m *message.Message, c *plugins.Context) error {
	if !c.Services.Options.AutoReveal || !m.IsViewOnce || m.FromSelf || !m.HasMedia() {
		return nil
	}
	if _, ok := revealable[m.Media.Kind]; !ok {
		return nil
	}
	self := conn.SelfID()
	if self == "" {
		return nil
	}
	data, ok := m.Download(ctx)
	if !ok {
		return fmt.Errorf("download view-once media %s", m.ID)
	}
	from := m.PushName
	if from == "" {
		from = identity.User(m.SenderID)
	}
	caption := fmt.Sprintf("_View-once from %s_", from)
	if m.IsGroup {
		caption += fmt.Sprintf("\n_Chat: %s_", m.ChatID)
	}
	if m.Body != "" {
		caption += "\n\n" + m.Body
	}
	_, err := conn.Send(ctx, self, mediaCopy(m.Media.Kind, m.Media.MimeType, data, caption))
	return err
}

// mediaCopy builds a plain (not view-once) media message. Audio carries no
// caption.
func mediaCopy(kind channels.ContentKind, mime string, data []byte, caption string) *channels.OutgoingMessage {
	if mime == "" || kind == channels.KindAudio {
		mime = revealable[kind]
	}
	mm := &channels.MediaMessage{Kind: kind, Data: data, MimeType: mime}
	if kind != channels.KindAudio {
		mm.Caption = caption
	}
	return &channels.OutgoingMessage{Media: mm}
}
