// Package whatsapp – convert.go turns whatsmeow protobuf messages into
// channels.Content. It is the only place that inspects inbound waE2E types.
package whatsapp

import (
	"strings"

	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/jholhewres/megatron/pkg/megatron/channels"
)

// unwrap strips one ephemeral container and one view-once container and
// reports which view-once wrapper held the content.
func unwrap(msg *waE2E.Message) (*waE2E.Message, channels.ViewOnceWrapper) {
	if msg == nil {
		return nil, channels.ViewOnceNone
	}
	if eph := msg.GetEphemeralMessage(); eph != nil && eph.GetMessage() != nil {
		msg = eph.GetMessage()
	}
	switch {
	case msg.GetViewOnceMessage() != nil:
		if inner := msg.GetViewOnceMessage().GetMessage(); inner != nil {
			return inner, channels.ViewOnceV1
		}
		return msg, channels.ViewOnceUnknown
	case msg.GetViewOnceMessageV2() != nil:
		if inner := msg.GetViewOnceMessageV2().GetMessage(); inner != nil {
			return inner, channels.ViewOnceV2
		}
		return msg, channels.ViewOnceUnknown
	case msg.GetViewOnceMessageV2Extension() != nil:
		if inner := msg.GetViewOnceMessageV2Extension().GetMessage(); inner != nil {
			return inner, channels.ViewOnceV2Extension
		}
		return msg, channels.ViewOnceUnknown
	}
	if doc := msg.GetDocumentWithCaptionMessage(); doc != nil && doc.GetMessage() != nil {
		msg = doc.GetMessage()
	}
	return msg, channels.ViewOnceNone
}

// contentOf classifies msg. Quoted content (depth > 0) never carries its
// own context.
func contentOf(raw *waE2E.Message, depth int) *channels.Content {
	msg, wrapper := unwrap(raw)
	c := &channels.Content{Kind: channels.KindUnknown, ViewOnce: wrapper, Raw: msg}
	if msg == nil {
		return c
	}

	var ctx *waE2E.ContextInfo
	switch {
	case msg.Conversation != nil:
		c.Kind = channels.KindText
		c.Text = msg.GetConversation()

	case msg.GetExtendedTextMessage() != nil:
		ext := msg.GetExtendedTextMessage()
		c.Kind = channels.KindText
		c.Text = ext.GetText()
		ctx = ext.GetContextInfo()

	case msg.GetImageMessage() != nil:
		img := msg.GetImageMessage()
		c.Kind = channels.KindImage
		c.Caption = img.GetCaption()
		c.Media = mediaRef(channels.KindImage, img.GetMimetype(), img.GetFileSHA256(), img.GetFileLength(), img)
		ctx = img.GetContextInfo()
		if wrapper == channels.ViewOnceNone && img.GetViewOnce() {
			c.ViewOnce = channels.ViewOnceFlag
		}

	case msg.GetVideoMessage() != nil:
		vid := msg.GetVideoMessage()
		c.Kind = channels.KindVideo
		c.Caption = vid.GetCaption()
		c.Media = mediaRef(channels.KindVideo, vid.GetMimetype(), vid.GetFileSHA256(), vid.GetFileLength(), vid)
		ctx = vid.GetContextInfo()
		if wrapper == channels.ViewOnceNone && vid.GetViewOnce() {
			c.ViewOnce = channels.ViewOnceFlag
		}

	case msg.GetAudioMessage() != nil:
		aud := msg.GetAudioMessage()
		c.Kind = channels.KindAudio
		c.Media = mediaRef(channels.KindAudio, aud.GetMimetype(), aud.GetFileSHA256(), aud.GetFileLength(), aud)
		ctx = aud.GetContextInfo()

	case msg.GetStickerMessage() != nil:
		stk := msg.GetStickerMessage()
		c.Kind = channels.KindSticker
		c.Media = mediaRef(channels.KindSticker, stk.GetMimetype(), stk.GetFileSHA256(), stk.GetFileLength(), stk)
		ctx = stk.GetContextInfo()

	case msg.GetDocumentMessage() != nil:
		doc := msg.GetDocumentMessage()
		c.Kind = channels.KindDocument
		c.Caption = doc.GetCaption()
		c.Media = mediaRef(channels.KindDocument, doc.GetMimetype(), doc.GetFileSHA256(), doc.GetFileLength(), doc)
		ctx = doc.GetContextInfo()

	case msg.GetButtonsResponseMessage() != nil:
		br := msg.GetButtonsResponseMessage()
		c.Kind = channels.KindInteractive
		c.Selection.ButtonID = br.GetSelectedButtonID()
		c.Selection.ButtonText = br.GetSelectedDisplayText()
		ctx = br.GetContextInfo()

	case msg.GetListResponseMessage() != nil:
		lr := msg.GetListResponseMessage()
		c.Kind = channels.KindInteractive
		c.Selection.ListRowID = lr.GetSingleSelectReply().GetSelectedRowID()
		ctx = lr.GetContextInfo()

	case msg.GetTemplateButtonReplyMessage() != nil:
		tr := msg.GetTemplateButtonReplyMessage()
		c.Kind = channels.KindInteractive
		c.Selection.TemplateID = tr.GetSelectedID()
		ctx = tr.GetContextInfo()

	case msg.GetInteractiveResponseMessage() != nil:
		ir := msg.GetInteractiveResponseMessage()
		c.Kind = channels.KindInteractive
		c.Selection.NativeParams = ir.GetNativeFlowResponseMessage().GetParamsJSON()
		ctx = ir.GetContextInfo()

	case msg.GetReactionMessage() != nil:
		r := msg.GetReactionMessage()
		c.Kind = channels.KindReaction
		c.Reaction = &channels.Reaction{MessageID: r.GetKey().GetID(), Emoji: r.GetText()}

	case msg.GetProtocolMessage() != nil:
		c.Kind = channels.KindProtocol

	case msg.GetSenderKeyDistributionMessage() != nil:
		// Only when nothing else is bundled with it.
		c.Kind = channels.KindKeyDistribution
	}

	if depth == 0 && ctx != nil {
		c.Context = contextOf(ctx)
	}
	return c
}

func mediaRef(kind channels.ContentKind, mime string, sha []byte, size uint64, handle any) *channels.MediaRef {
	return &channels.MediaRef{Kind: kind, MimeType: mime, FileSHA256: sha, FileLength: size, Handle: handle}
}

func contextOf(ci *waE2E.ContextInfo) *channels.ContextInfo {
	out := &channels.ContextInfo{
		StanzaID:     ci.GetStanzaID(),
		Participant:  ci.GetParticipant(),
		RemoteChatID: ci.GetRemoteJID(),
	}
	if mentions := ci.GetMentionedJID(); len(mentions) > 0 {
		out.Mentions = append([]string(nil), mentions...)
	}
	if q := ci.GetQuotedMessage(); q != nil {
		out.Quoted = contentOf(q, 1)
	}
	if out.StanzaID == "" && out.Participant == "" && len(out.Mentions) == 0 && out.Quoted == nil {
		return nil
	}
	return out
}

// envelopeOf builds the envelope of a live message event. sender and chat
// are the resolved (phone) ids.
func envelopeOf(evt *events.Message, chat, sender string) *channels.Envelope {
	env := &channels.Envelope{
		ID:        string(evt.Info.ID),
		ChatID:    chat,
		SenderID:  sender,
		FromSelf:  evt.Info.IsFromMe,
		PushName:  evt.Info.PushName,
		Timestamp: evt.Info.Timestamp,
	}

	raw := evt.RawMessage
	if raw == nil {
		raw = evt.Message
	}
	env.Content = contentOf(raw, 0)

	// whatsmeow may already have unwrapped the view-once container.
	if env.Content.ViewOnce == channels.ViewOnceNone {
		switch {
		case evt.IsViewOnceV2Extension:
			env.Content.ViewOnce = channels.ViewOnceV2Extension
		case evt.IsViewOnceV2:
			env.Content.ViewOnce = channels.ViewOnceV2
		case evt.IsViewOnce:
			env.Content.ViewOnce = channels.ViewOnceV1
		}
	}
	return env
}

// parseJID converts an id to a types.JID. Accepts full JIDs and bare phone
// numbers ("5511999999999", "+55 11 99999-9999").
func parseJID(s string) (types.JID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return types.JID{}, errEmptyJID
	}
	if strings.Contains(s, "@") {
		return types.ParseJID(s)
	}
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
	if len(digits) < 7 {
		return types.JID{}, errShortNumber
	}
	return types.NewJID(digits, types.DefaultUserServer), nil
}
