// Package message – message.go turns transport envelopes into the canonical
// Message record handed to plugins. Normalize never fails: a malformed
// envelope degrades to a minimal record instead of an error.
package message

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jholhewres/megatron/pkg/megatron/channels"
	"github.com/jholhewres/megatron/pkg/megatron/identity"
)

// Conn is the part of the transport a Message needs.
type Conn interface {
	channels.Sender
	channels.Downloader
	SelfID() string
}

// Message is a normalized inbound message.
type Message struct {
	ID       string
	ChatID   string
	SenderID string
	PushName string
	IsGroup  bool
	FromSelf bool

	Timestamp time.Time

	// Kind is the content kind the message was built from.
	Kind channels.ContentKind

	// Body is the primary text (text, caption or selection id), or "".
	Body string

	// Media is nil when the message carries nothing downloadable.
	Media *Media

	// IsViewOnce is true when the content arrived in a view-once container.
	IsViewOnce bool

	// Mentions lists mentioned user ids.
	Mentions []string

	// Quoted is the replied-to message, one level deep.
	Quoted *Quoted

	// Content is the underlying envelope content.
	Content *channels.Content

	conn Conn
}

// Quoted is the message a Message replies to.
type Quoted struct {
	ID       string
	ChatID   string
	SenderID string
	FromSelf bool
	Body     string

	Kind       channels.ContentKind
	Media      *Media
	IsViewOnce bool

	// Raw is the quoted content as delivered.
	Raw *channels.Content

	conn Conn
}

// Media describes a downloadable attachment.
type Media struct {
	Kind       channels.ContentKind
	MimeType   string
	FileSHA256 []byte

	ref *channels.MediaRef
}

// Fingerprint is the base64 form of the file SHA-256, used to identify
// stickers regardless of who sends them. Returns "" without a hash.
func (m *Media) Fingerprint() string {
	if m == nil || len(m.FileSHA256) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(m.FileSHA256)
}

// Normalize builds a Message from env. Returns nil for a nil envelope.
func Normalize(env *channels.Envelope, conn Conn) (msg *Message) {
	if env == nil {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			msg = minimal(env, conn)
		}
	}()

	msg = minimal(env, conn)
	c := env.Content
	if c == nil {
		return msg
	}

	msg.Kind = c.Kind
	msg.Content = c
	msg.Body = Body(c)
	msg.IsViewOnce = c.ViewOnce.Revealable()
	msg.Media = mediaOf(c)

	if ci := c.Context; ci != nil {
		if len(ci.Mentions) > 0 {
			msg.Mentions = append([]string(nil), ci.Mentions...)
		}
		msg.Quoted = quotedOf(ci, msg, conn)
	}
	return msg
}

func minimal(env *channels.Envelope, conn Conn) *Message {
	msg := &Message{
		ID:        env.ID,
		ChatID:    env.ChatID,
		SenderID:  env.SenderID,
		PushName:  env.PushName,
		IsGroup:   env.IsGroup(),
		FromSelf:  env.FromSelf,
		Timestamp: env.Timestamp,
		Kind:      channels.KindUnknown,
		conn:      conn,
	}
	if msg.SenderID == "" && !msg.IsGroup {
		msg.SenderID = msg.ChatID
	}
	if env.FromSelf && conn != nil {
		if self := conn.SelfID(); self != "" {
			msg.SenderID = self
		}
	}
	return msg
}

// Body returns the primary text of c. The first non-empty source wins:
// text, image/video/document caption, button id, list row id, template
// id, native-flow "id" parameter, button display text.
func Body(c *channels.Content) string {
	if c == nil {
		return ""
	}
	candidates := []string{
		c.Text,
		c.Caption,
		c.Selection.ButtonID,
		c.Selection.ListRowID,
		c.Selection.TemplateID,
		nativeFlowID(c.Selection.NativeParams),
		c.Selection.ButtonText,
	}
	for _, s := range candidates {
		if s != "" {
			return s
		}
	}
	return ""
}

// nativeFlowID extracts the "id" field of a native-flow parameter payload.
func nativeFlowID(params string) string {
	if params == "" {
		return ""
	}
	var payload struct {
		ID any `json:"id"`
	}
	if err := json.Unmarshal([]byte(params), &payload); err != nil {
		return ""
	}
	switch v := payload.ID.(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%v", v)
	}
	return ""
}

func mediaOf(c *channels.Content) *Media {
	if c == nil || c.Media == nil {
		return nil
	}
	kind := c.Media.Kind
	if kind == "" {
		kind = c.Kind
	}
	return &Media{
		Kind:       kind,
		MimeType:   c.Media.MimeType,
		FileSHA256: c.Media.FileSHA256,
		ref:        c.Media,
	}
}

func quotedOf(ci *channels.ContextInfo, parent *Message, conn Conn) *Quoted {
	if ci.Quoted == nil || ci.StanzaID == "" {
		return nil
	}
	q := &Quoted{
		ID:         ci.StanzaID,
		ChatID:     ci.RemoteChatID,
		SenderID:   ci.Participant,
		Kind:       ci.Quoted.Kind,
		Body:       Body(ci.Quoted),
		Media:      mediaOf(ci.Quoted),
		IsViewOnce: ci.Quoted.ViewOnce.Revealable(),
		Raw:        ci.Quoted,
		conn:       conn,
	}
	if q.ChatID == "" {
		q.ChatID = parent.ChatID
	}
	if q.SenderID == "" && !parent.IsGroup {
		q.SenderID = parent.ChatID
	}
	if conn != nil {
		if self := conn.SelfID(); self != "" && identity.MatchesBySuffix(q.SenderID, self) {
			q.FromSelf = true
		}
	}
	return q
}

// HasMedia reports whether Download can return data.
func (m *Message) HasMedia() bool {
	return m != nil && m.Media != nil
}

// Download fetches the attached media. Returns false when the message has
// no media or the transfer fails.
func (m *Message) Download(ctx context.Context) ([]byte, bool) {
	if !m.HasMedia() {
		return nil, false
	}
	return download(ctx, m.conn, m.Media)
}

// HasMedia reports whether Download can return data.
func (q *Quoted) HasMedia() bool {
	return q != nil && q.Media != nil
}

// Download fetches the quoted message's media.
func (q *Quoted) Download(ctx context.Context) ([]byte, bool) {
	if !q.HasMedia() {
		return nil, false
	}
	return download(ctx, q.conn, q.Media)
}

// download drains the media stream into one buffer, chunks in arrival order.
func download(ctx context.Context, conn Conn, media *Media) ([]byte, bool) {
	if conn == nil || media == nil || media.ref == nil {
		return nil, false
	}
	rc, err := conn.Download(ctx, media.ref)
	if err != nil {
		return nil, false
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(rc); err != nil {
		return nil, false
	}
	return buf.Bytes(), true
}

// Reply sends text to the chat, quoting m. Blank text is a no-op.
func (m *Message) Reply(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	_, err := m.Send(ctx, &channels.OutgoingMessage{Text: text, ReplyTo: m.ReplyRef()})
	return err
}

// React sends an emoji reaction to m.
func (m *Message) React(ctx context.Context, emoji string) error {
	_, err := m.Send(ctx, &channels.OutgoingMessage{
		Reaction: &channels.OutgoingReaction{
			MessageID: m.ID,
			SenderID:  m.SenderID,
			FromSelf:  m.FromSelf,
			Emoji:     emoji,
		},
	})
	return err
}

// Send sends out to m's chat.
func (m *Message) Send(ctx context.Context, out *channels.OutgoingMessage) (*channels.SentMessage, error) {
	if m.conn == nil {
		return nil, channels.ErrChannelDisconnected
	}
	return m.conn.Send(ctx, m.ChatID, out)
}

// ReplyRef returns a reference that quotes m.
func (m *Message) ReplyRef() *channels.ReplyRef {
	return &channels.ReplyRef{MessageID: m.ID, SenderID: m.SenderID, Content: m.Content}
}
