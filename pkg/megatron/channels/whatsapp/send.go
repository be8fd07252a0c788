// Package whatsapp – send.go implements the outbound half of
// channels.GroupAdmin: messages, media, downloads and group management.
package whatsapp

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"

	"github.com/jholhewres/megatron/pkg/megatron/channels"
)

var _ channels.GroupAdmin = (*WhatsApp)(nil)

// Send delivers msg to chatID. A reaction takes precedence over media,
// media over text. EditID turns the message into an edit.
func (w *WhatsApp) Send(ctx context.Context, chatID string, msg *channels.OutgoingMessage) (*channels.SentMessage, error) {
	if !w.connected.Load() || w.client == nil {
		return nil, channels.ErrChannelDisconnected
	}
	if msg == nil {
		return nil, fmt.Errorf("%w: nil message", channels.ErrSendFailed)
	}
	chat, err := parseJID(chatID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid chat %q: %v", channels.ErrSendFailed, chatID, err)
	}

	var waMsg *waE2E.Message
	switch {
	case msg.Reaction != nil:
		waMsg, err = w.buildReaction(chat, msg.Reaction)
	case msg.Media != nil:
		waMsg, err = w.buildMedia(ctx, msg)
	default:
		waMsg = buildText(msg)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", channels.ErrSendFailed, err)
	}
	if msg.EditID != "" {
		waMsg = w.client.BuildEdit(chat, types.MessageID(msg.EditID), waMsg)
	}

	resp, err := w.client.SendMessage(ctx, chat, waMsg)
	if err != nil {
		w.errorCount.Add(1)
		return nil, fmt.Errorf("%w: %v", channels.ErrSendFailed, err)
	}
	return &channels.SentMessage{ID: string(resp.ID), Timestamp: resp.Timestamp}, nil
}

// contextInfo builds the reply/mention context, or nil when neither is set.
func contextInfo(reply *channels.ReplyRef, mentions []string) *waE2E.ContextInfo {
	if reply == nil && len(mentions) == 0 {
		return nil
	}
	ci := &waE2E.ContextInfo{}
	if reply != nil && reply.MessageID != "" {
		ci.StanzaID = proto.String(reply.MessageID)
		if reply.SenderID != "" {
			ci.Participant = proto.String(reply.SenderID)
		}
		quoted, _ := rawOf(reply.Content)
		if quoted == nil {
			quoted = &waE2E.Message{Conversation: proto.String("")}
		}
		ci.QuotedMessage = quoted
	}
	if len(mentions) > 0 {
		ci.MentionedJID = append([]string(nil), mentions...)
	}
	return ci
}

func rawOf(c *channels.Content) (*waE2E.Message, bool) {
	if c == nil {
		return nil, false
	}
	m, ok := c.Raw.(*waE2E.Message)
	return m, ok
}

func buildText(msg *channels.OutgoingMessage) *waE2E.Message {
	ci := contextInfo(msg.ReplyTo, msg.Mentions)
	if ci == nil {
		return &waE2E.Message{Conversation: proto.String(msg.Text)}
	}
	return &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text:        proto.String(msg.Text),
			ContextInfo: ci,
		},
	}
}

func (w *WhatsApp) buildReaction(chat types.JID, r *channels.OutgoingReaction) (*waE2E.Message, error) {
	var sender types.JID
	switch {
	case r.FromSelf && w.client.Store.ID != nil:
		sender = w.client.Store.ID.ToNonAD()
	case r.SenderID != "":
		jid, err := parseJID(r.SenderID)
		if err != nil {
			return nil, fmt.Errorf("reaction sender: %w", err)
		}
		sender = jid
	default:
		sender = chat
	}
	return w.client.BuildReaction(chat, sender, types.MessageID(r.MessageID), r.Emoji), nil
}

// uploadType maps a content kind to the whatsmeow media class.
func uploadType(kind channels.ContentKind) (whatsmeow.MediaType, error) {
	switch kind {
	case channels.KindImage, channels.KindSticker:
		return whatsmeow.MediaImage, nil
	case channels.KindVideo:
		return whatsmeow.MediaVideo, nil
	case channels.KindAudio:
		return whatsmeow.MediaAudio, nil
	case channels.KindDocument:
		return whatsmeow.MediaDocument, nil
	}
	return "", fmt.Errorf("%w: %s", channels.ErrMediaNotSupported, kind)
}

func (w *WhatsApp) buildMedia(ctx context.Context, msg *channels.OutgoingMessage) (*waE2E.Message, error) {
	media := msg.Media
	mediaType, err := uploadType(media.Kind)
	if err != nil {
		return nil, err
	}
	up, err := w.client.Upload(ctx, media.Data, mediaType)
	if err != nil {
		return nil, fmt.Errorf("uploading %s: %w", media.Kind, err)
	}
	return mediaMessage(media, up, contextInfo(msg.ReplyTo, msg.Mentions)), nil
}

// mediaMessage wraps an uploaded file in the protobuf message of its kind.
func mediaMessage(media *channels.MediaMessage, up whatsmeow.UploadResponse, ci *waE2E.ContextInfo) *waE2E.Message {
	var caption *string
	if media.Caption != "" {
		caption = proto.String(media.Caption)
	}
	size := proto.Uint64(up.FileLength)
	mime := proto.String(media.MimeType)

	switch media.Kind {
	case channels.KindImage:
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			Caption: caption, Mimetype: mime, URL: proto.String(up.URL), DirectPath: proto.String(up.DirectPath),
			MediaKey: up.MediaKey, FileEncSHA256: up.FileEncSHA256, FileSHA256: up.FileSHA256, FileLength: size,
			ViewOnce: proto.Bool(media.ViewOnce), ContextInfo: ci,
		}}
	case channels.KindVideo:
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			Caption: caption, Mimetype: mime, URL: proto.String(up.URL), DirectPath: proto.String(up.DirectPath),
			MediaKey: up.MediaKey, FileEncSHA256: up.FileEncSHA256, FileSHA256: up.FileSHA256, FileLength: size,
			ViewOnce: proto.Bool(media.ViewOnce), ContextInfo: ci,
		}}
	case channels.KindAudio:
		return &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			Mimetype: mime, URL: proto.String(up.URL), DirectPath: proto.String(up.DirectPath),
			MediaKey: up.MediaKey, FileEncSHA256: up.FileEncSHA256, FileSHA256: up.FileSHA256, FileLength: size,
			ContextInfo: ci,
		}}
	case channels.KindSticker:
		return &waE2E.Message{StickerMessage: &waE2E.StickerMessage{
			Mimetype: mime, URL: proto.String(up.URL), DirectPath: proto.String(up.DirectPath),
			MediaKey: up.MediaKey, FileEncSHA256: up.FileEncSHA256, FileSHA256: up.FileSHA256, FileLength: size,
			ContextInfo: ci,
		}}
	}
	filename := media.Filename
	if filename == "" {
		filename = "file"
	}
	return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
		Caption: caption, Mimetype: mime, FileName: proto.String(filename), URL: proto.String(up.URL),
		DirectPath: proto.String(up.DirectPath), MediaKey: up.MediaKey, FileEncSHA256: up.FileEncSHA256,
		FileSHA256: up.FileSHA256, FileLength: size, ContextInfo: ci,
	}}
}

// Download fetches and decrypts the media behind ref.
func (w *WhatsApp) Download(ctx context.Context, ref *channels.MediaRef) (io.ReadCloser, error) {
	if w.client == nil {
		return nil, channels.ErrChannelDisconnected
	}
	if ref == nil {
		return nil, channels.ErrMediaDownloadFailed
	}
	dm, ok := ref.Handle.(whatsmeow.DownloadableMessage)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no download descriptor", channels.ErrMediaDownloadFailed, ref.Kind)
	}
	data, err := w.client.Download(ctx, dm)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", channels.ErrMediaDownloadFailed, err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// GroupRoster fetches group metadata.
func (w *WhatsApp) GroupRoster(ctx context.Context, chatID string) (*channels.Roster, error) {
	if !channels.IsGroupID(chatID) {
		return nil, fmt.Errorf("%w: %s", channels.ErrNotGroup, chatID)
	}
	if w.client == nil {
		return nil, channels.ErrChannelDisconnected
	}
	jid, err := parseJID(chatID)
	if err != nil {
		return nil, err
	}
	info, err := w.client.GetGroupInfo(ctx, jid)
	if err != nil {
		return nil, fmt.Errorf("group info %s: %w", chatID, err)
	}
	return rosterOf(chatID, info), nil
}

func rosterOf(chatID string, info *types.GroupInfo) *channels.Roster {
	r := &channels.Roster{
		ChatID:       chatID,
		Subject:      info.Name,
		Announce:     info.IsAnnounce,
		Participants: make([]channels.Participant, 0, len(info.Participants)),
	}
	for _, p := range info.Participants {
		part := channels.Participant{
			ID:           p.JID.ToNonAD().String(),
			IsAdmin:      p.IsAdmin || p.IsSuperAdmin,
			IsSuperAdmin: p.IsSuperAdmin,
		}
		if !p.PhoneNumber.IsEmpty() {
			part.PhoneID = p.PhoneNumber.ToNonAD().String()
		}
		r.Participants = append(r.Participants, part)
	}
	return r
}

var participantChanges = map[channels.ParticipantAction]whatsmeow.ParticipantChange{
	channels.ParticipantAdd:     whatsmeow.ParticipantChangeAdd,
	channels.ParticipantRemove:  whatsmeow.ParticipantChangeRemove,
	channels.ParticipantPromote: whatsmeow.ParticipantChangePromote,
	channels.ParticipantDemote:  whatsmeow.ParticipantChangeDemote,
}

// UpdateParticipants applies action to userIDs in the group.
func (w *WhatsApp) UpdateParticipants(ctx context.Context, chatID string, userIDs []string, action channels.ParticipantAction) error {
	if !w.connected.Load() || w.client == nil {
		return channels.ErrChannelDisconnected
	}
	change, ok := participantChanges[action]
	if !ok {
		return fmt.Errorf("unknown participant action %q", action)
	}
	group, err := parseJID(chatID)
	if err != nil {
		return err
	}
	jids := make([]types.JID, 0, len(userIDs))
	for _, id := range userIDs {
		jid, err := parseJID(id)
		if err != nil {
			return fmt.Errorf("participant %q: %w", id, err)
		}
		jids = append(jids, jid)
	}

	results, err := w.client.UpdateGroupParticipants(ctx, group, jids, change)
	if err != nil {
		return fmt.Errorf("%s participants: %w", action, err)
	}
	for _, r := range results {
		if r.Error != 0 {
			return fmt.Errorf("%s %s: server error %d", action, r.JID, r.Error)
		}
	}
	return nil
}

// SetAnnounce toggles admin-only messaging in the group.
func (w *WhatsApp) SetAnnounce(ctx context.Context, chatID string, announce bool) error {
	if !w.connected.Load() || w.client == nil {
		return channels.ErrChannelDisconnected
	}
	group, err := parseJID(chatID)
	if err != nil {
		return err
	}
	if err := w.client.SetGroupAnnounce(ctx, group, announce); err != nil {
		return fmt.Errorf("set announce: %w", err)
	}
	return nil
}
