// Package access – access.go derives the authorization flags of a message
// sender and applies the bot's operating mode.
//
// Levels:
//   - creator: the bot account itself, or a configured owner number
//   - sudo:    numbers granted elevated rights at runtime
//   - owner:   creator or sudo; the tier most gates check
//   - admin:   group admin of the chat the message came from
//
// Admin flags need the group roster, which is fetched lazily, at most once
// per message and never for direct chats.
package access

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/jholhewres/megatron/pkg/megatron/channels"
	"github.com/jholhewres/megatron/pkg/megatron/identity"
	"github.com/jholhewres/megatron/pkg/megatron/message"
)

// Mode is the bot's operating mode.
type Mode string

const (
	// ModePublic answers everyone.
	ModePublic Mode = "public"

	// ModePrivate answers owners only.
	ModePrivate Mode = "private"

	// ModeGroup answers non-owners only inside groups.
	ModeGroup Mode = "group"

	// ModePM answers non-owners only in direct chats.
	ModePM Mode = "pm"
)

// ErrUnknownMode is returned by ParseMode for unrecognized values.
var ErrUnknownMode = fmt.Errorf("unknown mode")

// Modes lists the valid modes.
func Modes() []Mode {
	return []Mode{ModePublic, ModePrivate, ModeGroup, ModePM}
}

// ParseMode parses s case-insensitively. An empty string is public.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModePublic, nil
	case ModePublic, ModePrivate, ModeGroup, ModePM:
		return m, nil
	}
	return ModePublic, fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// ModeOrDefault parses s, logging and falling back to public on error.
func ModeOrDefault(s string, logger *slog.Logger) Mode {
	m, err := ParseMode(s)
	if err != nil {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("access: invalid mode, using public", "mode", s)
	}
	return m
}

// Policy is a snapshot of who the bot answers.
type Policy struct {
	// Owners are configured creator numbers, in addition to the bot account.
	Owners []string

	// Sudo are numbers with owner rights.
	Sudo []string

	Mode Mode
}

// Allows applies the mode gate. Owners always pass.
func (p Policy) Allows(isGroup, isOwner bool) bool {
	if isOwner {
		return true
	}
	switch p.Mode {
	case ModePrivate:
		return false
	case ModeGroup:
		return isGroup
	case ModePM:
		return !isGroup
	}
	return true
}

// RosterFunc fetches the roster of a group chat.
type RosterFunc func(ctx context.Context, chatID string) (*channels.Roster, error)

// Auth holds the authorization flags of one message.
type Auth struct {
	IsCreator bool
	IsSudo    bool
	IsOwner   bool

	chatID   string
	senderID string
	selfID   string
	isGroup  bool
	fetch    RosterFunc

	once   sync.Once
	roster *channels.Roster
	err    error
}

// Resolve computes the flags of msg under p. selfID is the bot account.
func Resolve(p Policy, msg *message.Message, selfID string, fetch RosterFunc) *Auth {
	a := &Auth{
		chatID:   msg.ChatID,
		senderID: msg.SenderID,
		selfID:   selfID,
		isGroup:  msg.IsGroup,
		fetch:    fetch,
	}
	a.IsCreator = msg.FromSelf ||
		(selfID != "" && identity.MatchesBySuffix(msg.SenderID, selfID)) ||
		identity.MatchesAny(msg.SenderID, p.Owners)
	a.IsSudo = identity.MatchesAny(msg.SenderID, p.Sudo)
	a.IsOwner = a.IsCreator || a.IsSudo
	return a
}

// Roster returns the group roster, fetching it on first use. Direct chats
// never fetch and return channels.ErrNotGroup.
func (a *Auth) Roster(ctx context.Context) (*channels.Roster, error) {
	if !a.isGroup {
		return nil, channels.ErrNotGroup
	}
	a.once.Do(func() {
		if a.fetch == nil {
			a.err = fmt.Errorf("access: no roster source")
			return
		}
		a.roster, a.err = a.fetch(ctx, a.chatID)
	})
	return a.roster, a.err
}

// IsAdmin reports whether the sender administers the group.
func (a *Auth) IsAdmin(ctx context.Context) bool {
	return a.isParticipantAdmin(ctx, a.senderID)
}

// IsBotAdmin reports whether the bot administers the group.
func (a *Auth) IsBotAdmin(ctx context.Context) bool {
	return a.isParticipantAdmin(ctx, a.selfID)
}

func (a *Auth) isParticipantAdmin(ctx context.Context, id string) bool {
	if id == "" {
		return false
	}
	roster, err := a.Roster(ctx)
	if err != nil || roster == nil {
		return false
	}
	p, ok := FindParticipant(roster, id)
	return ok && (p.IsAdmin || p.IsSuperAdmin)
}

// FindParticipant looks up id in roster by member id or phone id.
func FindParticipant(roster *channels.Roster, id string) (channels.Participant, bool) {
	for _, p := range roster.Participants {
		if identity.MatchesBySuffix(p.ID, id) || (p.PhoneID != "" && identity.MatchesBySuffix(p.PhoneID, id)) {
			return p, true
		}
	}
	return channels.Participant{}, false
}
