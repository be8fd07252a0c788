// Package channels defines the boundary between the bot core and the
// messaging transport. The transport adapter (see channels/whatsapp) turns
// protocol events into Envelopes and implements Client; nothing above this
// package touches protocol types.
package channels

import (
	"context"
	"fmt"
	"io"
	"time"
)

// ContentKind identifies the shape of an envelope's content.
type ContentKind string

const (
	KindText            ContentKind = "text"
	KindImage           ContentKind = "image"
	KindVideo           ContentKind = "video"
	KindAudio           ContentKind = "audio"
	KindSticker         ContentKind = "sticker"
	KindDocument        ContentKind = "document"
	KindReaction        ContentKind = "reaction"
	KindProtocol        ContentKind = "protocol"
	KindKeyDistribution ContentKind = "key_distribution"
	KindInteractive     ContentKind = "interactive"
	KindUnknown         ContentKind = "unknown"
)

// IsMedia reports whether the kind carries a downloadable attachment.
func (k ContentKind) IsMedia() bool {
	switch k {
	case KindImage, KindVideo, KindAudio, KindSticker, KindDocument:
		return true
	}
	return false
}

// ViewOnceWrapper names the view-once container the content was found in.
type ViewOnceWrapper string

const (
	ViewOnceNone        ViewOnceWrapper = ""
	ViewOnceV1          ViewOnceWrapper = "v1"
	ViewOnceV2          ViewOnceWrapper = "v2"
	ViewOnceV2Extension ViewOnceWrapper = "v2_extension"
	// ViewOnceFlag marks media flagged view-once on the media itself,
	// without a wrapping container.
	ViewOnceFlag ViewOnceWrapper = "flag"
	// ViewOnceUnknown is a wrapper the adapter did not recognize. The
	// content is passed through untouched.
	ViewOnceUnknown ViewOnceWrapper = "unknown"
)

// Revealable reports whether the wrapper is a known view-once form.
func (w ViewOnceWrapper) Revealable() bool {
	switch w {
	case ViewOnceV1, ViewOnceV2, ViewOnceV2Extension, ViewOnceFlag:
		return true
	}
	return false
}

// StatusBroadcast is the pseudo chat that carries status updates.
const StatusBroadcast = "status@broadcast"

// Envelope is one inbound message event as delivered by the transport.
type Envelope struct {
	// ID is the message identifier, unique per chat.
	ID string

	// ChatID is the conversation (group or direct) the message belongs to.
	ChatID string

	// SenderID is the author. For direct chats it equals the remote party.
	SenderID string

	// FromSelf is true when the bot's own account authored the message.
	FromSelf bool

	// PushName is the author's display name, when known.
	PushName string

	// Timestamp is when the message was sent.
	Timestamp time.Time

	// Content is nil for events without a message payload.
	Content *Content
}

// IsGroup reports whether the envelope belongs to a group chat.
func (e *Envelope) IsGroup() bool {
	return IsGroupID(e.ChatID)
}

// Kind returns the content kind, or KindUnknown without content.
func (e *Envelope) Kind() ContentKind {
	if e == nil || e.Content == nil {
		return KindUnknown
	}
	return e.Content.Kind
}

// Content is the payload of a message, already unwrapped from one level of
// ephemeral/view-once containers.
type Content struct {
	Kind ContentKind

	// ViewOnce records which view-once container held the content.
	ViewOnce ViewOnceWrapper

	// Text is the plain or extended text body.
	Text string

	// Caption is the media caption.
	Caption string

	// Selection holds interactive reply identifiers.
	Selection Selection

	// Media is set for downloadable content.
	Media *MediaRef

	// Context is the reply/mention metadata attached to the content.
	Context *ContextInfo

	// Reaction is set for KindReaction.
	Reaction *Reaction

	// Raw is the transport's own representation of the content. Only the
	// adapter interprets it (for example to quote the message on reply).
	Raw any
}

// Selection carries the identifiers of interactive replies.
type Selection struct {
	ButtonID     string
	ButtonText   string
	ListRowID    string
	TemplateID   string
	NativeParams string // JSON parameters of a native-flow response
}

// MediaRef points at downloadable media.
type MediaRef struct {
	Kind       ContentKind
	MimeType   string
	FileSHA256 []byte
	FileLength uint64

	// Handle is the transport's download descriptor.
	Handle any
}

// ContextInfo is the reply context of a message.
type ContextInfo struct {
	// StanzaID is the quoted message id.
	StanzaID string

	// Participant is the author of the quoted message.
	Participant string

	// RemoteChatID is set when the quoted message lives in another chat.
	RemoteChatID string

	// Mentions lists mentioned user ids.
	Mentions []string

	// Quoted is the quoted content. Its own Context is never populated.
	Quoted *Content
}

// Reaction is an emoji reaction to another message.
type Reaction struct {
	MessageID string
	Emoji     string
}

// OutgoingMessage is a message to send. Exactly one of Text, Media or
// Reaction is used, in that precedence order: Reaction, Media, Text.
type OutgoingMessage struct {
	Text     string
	Media    *MediaMessage
	Reaction *OutgoingReaction

	// ReplyTo quotes an existing message.
	ReplyTo *ReplyRef

	// EditID replaces the content of a previously sent message.
	EditID string

	// Mentions lists user ids to mention.
	Mentions []string
}

// ReplyRef identifies the message being quoted.
type ReplyRef struct {
	MessageID string
	SenderID  string
	Content   *Content
}

// OutgoingReaction reacts to a message.
type OutgoingReaction struct {
	MessageID string
	SenderID  string
	FromSelf  bool
	Emoji     string
}

// MediaMessage represents a media file to be sent.
type MediaMessage struct {
	// Kind is the media type (image, video, audio, sticker, document).
	Kind ContentKind

	// Data is the raw media bytes.
	Data []byte

	// MimeType is the MIME type (e.g. "image/jpeg").
	MimeType string

	// Caption accompanies images, videos and documents.
	Caption string

	// Filename is used for documents.
	Filename string

	// ViewOnce re-sends the media as view-once.
	ViewOnce bool
}

// SentMessage describes a message accepted by the transport.
type SentMessage struct {
	ID        string
	Timestamp time.Time
}

// Participant is a group member.
type Participant struct {
	// ID is the member id as used in the group (may be a hidden-user id).
	ID string

	// PhoneID is the phone-number id when the transport knows it.
	PhoneID string

	IsAdmin      bool
	IsSuperAdmin bool
}

// Roster is group metadata: subject and members.
type Roster struct {
	ChatID       string
	Subject      string
	Announce     bool
	Participants []Participant
}

// ParticipantAction is a membership change.
type ParticipantAction string

const (
	ParticipantAdd     ParticipantAction = "add"
	ParticipantRemove  ParticipantAction = "remove"
	ParticipantPromote ParticipantAction = "promote"
	ParticipantDemote  ParticipantAction = "demote"
)

// Sender sends messages.
type Sender interface {
	Send(ctx context.Context, chatID string, msg *OutgoingMessage) (*SentMessage, error)
}

// Downloader opens the media stream behind a MediaRef. The caller closes
// the returned reader.
type Downloader interface {
	Download(ctx context.Context, ref *MediaRef) (io.ReadCloser, error)
}

// Client is the transport surface the bot core depends on.
type Client interface {
	Sender
	Downloader

	// SelfID returns the bot account id, or "" before login.
	SelfID() string

	// GroupRoster fetches group metadata.
	GroupRoster(ctx context.Context, chatID string) (*Roster, error)
}

// GroupAdmin extends Client with group administration.
type GroupAdmin interface {
	Client

	// UpdateParticipants adds, removes, promotes or demotes members.
	UpdateParticipants(ctx context.Context, chatID string, userIDs []string, action ParticipantAction) error

	// SetAnnounce toggles admins-only messaging.
	SetAnnounce(ctx context.Context, chatID string, announce bool) error
}

// IsGroupID reports whether id names a group chat.
func IsGroupID(id string) bool {
	return len(id) > 5 && id[len(id)-5:] == "@g.us"
}

// Errors.
var (
	ErrChannelDisconnected = fmt.Errorf("channel is not connected")
	ErrSendFailed          = fmt.Errorf("failed to send message")
	ErrConnectionFailed    = fmt.Errorf("failed to connect to channel")
	ErrMediaNotSupported   = fmt.Errorf("media not supported by this channel")
	ErrMediaDownloadFailed = fmt.Errorf("failed to download media")
	ErrNotGroup            = fmt.Errorf("chat is not a group")
)
