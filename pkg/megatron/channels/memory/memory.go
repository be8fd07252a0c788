// Package memory implements channels.GroupAdmin in memory. It backs the
// offline console and the package tests: outbound messages are recorded
// (and optionally echoed), group rosters are whatever was configured.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jholhewres/megatron/pkg/megatron/channels"
	"github.com/jholhewres/megatron/pkg/megatron/identity"
)

// Sent is one recorded outbound message.
type Sent struct {
	ID      string
	ChatID  string
	Message *channels.OutgoingMessage
}

// Change is one recorded participant update.
type Change struct {
	ChatID string
	Users  []string
	Action channels.ParticipantAction
}

// Client is an in-memory transport.
type Client struct {
	selfID string

	mu          sync.Mutex
	sent        []Sent
	changes     []Change
	rosters     map[string]*channels.Roster
	rosterCalls int
	sendErr     error

	// OnSend, when set, observes every outbound message.
	OnSend func(chatID string, msg *channels.OutgoingMessage)
}

// New creates a client logged in as selfID.
func New(selfID string) *Client {
	return &Client{
		selfID:  selfID,
		rosters: make(map[string]*channels.Roster),
	}
}

// SelfID returns the account id.
func (c *Client) SelfID() string { return c.selfID }

// Send records msg.
func (c *Client) Send(_ context.Context, chatID string, msg *channels.OutgoingMessage) (*channels.SentMessage, error) {
	c.mu.Lock()
	if err := c.sendErr; err != nil {
		c.mu.Unlock()
		return nil, err
	}
	id := uuid.New().String()
	c.sent = append(c.sent, Sent{ID: id, ChatID: chatID, Message: msg})
	hook := c.OnSend
	c.mu.Unlock()

	if hook != nil {
		hook(chatID, msg)
	}
	return &channels.SentMessage{ID: id, Timestamp: time.Now()}, nil
}

// FailSends makes every subsequent Send return err (nil restores).
func (c *Client) FailSends(err error) {
	c.mu.Lock()
	c.sendErr = err
	c.mu.Unlock()
}

// Download serves media whose Handle is a []byte.
func (c *Client) Download(_ context.Context, ref *channels.MediaRef) (io.ReadCloser, error) {
	if ref == nil {
		return nil, channels.ErrMediaDownloadFailed
	}
	switch h := ref.Handle.(type) {
	case []byte:
		return io.NopCloser(bytes.NewReader(h)), nil
	case io.Reader:
		return io.NopCloser(h), nil
	}
	return nil, fmt.Errorf("%w: no in-memory payload", channels.ErrMediaDownloadFailed)
}

// SetRoster installs group metadata.
func (c *Client) SetRoster(r *channels.Roster) {
	c.mu.Lock()
	c.rosters[r.ChatID] = r
	c.mu.Unlock()
}

// GroupRoster returns a copy of the configured roster.
func (c *Client) GroupRoster(_ context.Context, chatID string) (*channels.Roster, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rosterCalls++
	r, ok := c.rosters[chatID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", channels.ErrNotGroup, chatID)
	}
	cp := *r
	cp.Participants = append([]channels.Participant(nil), r.Participants...)
	return &cp, nil
}

// UpdateParticipants applies and records a membership change.
func (c *Client) UpdateParticipants(_ context.Context, chatID string, userIDs []string, action channels.ParticipantAction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.rosters[chatID]
	if !ok {
		return fmt.Errorf("%w: %s", channels.ErrNotGroup, chatID)
	}
	c.changes = append(c.changes, Change{ChatID: chatID, Users: append([]string(nil), userIDs...), Action: action})

	switch action {
	case channels.ParticipantAdd:
		for _, id := range userIDs {
			r.Participants = append(r.Participants, channels.Participant{ID: id})
		}
	case channels.ParticipantRemove:
		kept := r.Participants[:0]
		for _, p := range r.Participants {
			if !identity.MatchesAny(p.ID, userIDs) {
				kept = append(kept, p)
			}
		}
		r.Participants = kept
	case channels.ParticipantPromote, channels.ParticipantDemote:
		for i, p := range r.Participants {
			if identity.MatchesAny(p.ID, userIDs) {
				r.Participants[i].IsAdmin = action == channels.ParticipantPromote
			}
		}
	}
	return nil
}

// SetAnnounce toggles the announce flag of the roster.
func (c *Client) SetAnnounce(_ context.Context, chatID string, announce bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.rosters[chatID]
	if !ok {
		return fmt.Errorf("%w: %s", channels.ErrNotGroup, chatID)
	}
	r.Announce = announce
	return nil
}

// Sent returns the recorded outbound messages.
func (c *Client) Sent() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Sent(nil), c.sent...)
}

// Texts returns the text of every recorded outbound text message.
func (c *Client) Texts() []string {
	var out []string
	for _, s := range c.Sent() {
		if s.Message.Text != "" {
			out = append(out, s.Message.Text)
		}
	}
	return out
}

// Changes returns the recorded participant updates.
func (c *Client) Changes() []Change {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Change(nil), c.changes...)
}

// RosterCalls counts GroupRoster invocations.
func (c *Client) RosterCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rosterCalls
}

// Reset clears recorded traffic.
func (c *Client) Reset() {
	c.mu.Lock()
	c.sent = nil
	c.changes = nil
	c.rosterCalls = 0
	c.mu.Unlock()
}

var _ channels.GroupAdmin = (*Client)(nil)
