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
	groupGates := plugins.Gates{Group: true, Admin: true}
	plugins.Register("group", static(plugins.Plugin{
		Name:        "group",
		Kind:        plugins.KindCommand,
		Commands:    []string{"mute", "unmute", "promote", "demote", "kick", "add"},
		Category:    categoryGroup,
		Description: "Group moderation",
		Usage:       "kick @user | promote @user | add <number> | mute",
		Gates:       groupGates,
		Handler:     moderate,
	}))
	plugins.Register("tagall", static(plugins.Plugin{
		Name:        "tagall",
		Kind:        plugins.KindCommand,
		Commands:    []string{"tagall", "hidetag"},
		Category:    categoryGroup,
		Description: "Mention every member",
		Usage:       "tagall [message]",
		Gates:       groupGates,
		Handler:     tagAll,
	}))
}

type participantChange struct {
	action  channels.ParticipantAction
	done    string
	emoji   string
	missing string
}

var participantChanges = map[string]participantChange{
	"promote": {channels.ParticipantPromote, "Promoted to admin", "⬆️", "_Reply or mention user to promote_"},
	"demote":  {channels.ParticipantDemote, "Demoted from admin", "⬇️", "_Reply or mention user to demote_"},
	"kick":    {channels.ParticipantRemove, "Removed from group", "👢", "_Reply or mention user to kick_"},
}

func moderate(ctx context.Context, conn channels.Client, m *message.Message, c *plugins.Context) error {
	ga, err := groupAdmin(conn)
	if err != nil {
		return err
	}
	if !c.IsBotAdmin(ctx) {
		return c.Reply(ctx, "_I need to be an admin to do that_")
	}

	switch c.Command {
	case "mute", "unmute":
		mute := c.Command == "mute"
		if err := ga.SetAnnounce(ctx, m.ChatID, mute); err != nil {
			return fmt.Errorf("%s: %w", c.Command, err)
		}
		if mute {
			react(ctx, m, "🔇")
			return c.Reply(ctx, "_Group muted_")
		}
		react(ctx, m, "🔊")
		return c.Reply(ctx, "_Group unmuted_")

	case "add":
		who := phoneJID(c.Text)
		if who == "" {
			return c.Reply(ctx, "_Provide a phone number_")
		}
		if err := ga.UpdateParticipants(ctx, m.ChatID, []string{who}, channels.ParticipantAdd); err != nil {
			return fmt.Errorf("add: %w", err)
		}
		react(ctx, m, "➕")
		return c.Reply(ctx, "_User added to group_")
	}

	change, ok := participantChanges[c.Command]
	if !ok {
		return nil
	}
	who := target(m)
	if who == "" {
		return c.Reply(ctx, change.missing)
	}
	if identity.MatchesBySuffix(who, conn.SelfID()) {
		return c.Reply(ctx, "_I can't do that to myself_")
	}
	if err := ga.UpdateParticipants(ctx, m.ChatID, []string{who}, change.action); err != nil {
		return fmt.Errorf("%s: %w", c.Command, err)
	}
	react(ctx, m, change.emoji)
	return c.Reply(ctx, "_"+change.done+"_")
}

func tagAll(ctx context.Context, _ channels.Client, m *message.Message, c *plugins.Context) error {
	roster, err := c.Roster(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", c.Command, err)
	}
	mentions := make([]string, 0, len(roster.Participants))
	for _, p := range roster.Participants {
		mentions = append(mentions, p.ID)
	}

	if c.Command == "hidetag" {
		text := c.Text
		if text == "" {
			text = "📢"
		}
		react(ctx, m, "👁️")
		_, err := m.Send(ctx, &channels.OutgoingMessage{Text: text, Mentions: mentions})
		return err
	}

	var b strings.Builder
	b.WriteString("┌─────────────────┐\n│  *TAG ALL*\n└─────────────────┘\n\n")
	if roster.Subject != "" {
		fmt.Fprintf(&b, "*Group:* %s\n", roster.Subject)
	}
	fmt.Fprintf(&b, "*Members:* %d\n", len(roster.Participants))
	if c.Text != "" {
		fmt.Fprintf(&b, "*Message:* %s\n", c.Text)
	}
	b.WriteString("\n")
	for i, id := range mentions {
		fmt.Fprintf(&b, "%d. @%s\n", i+1, identity.User(id))
	}
	react(ctx, m, "📢")
	_, err = m.Send(ctx, &channels.OutgoingMessage{Text: strings.TrimRight(b.String(), "\n"), Mentions: mentions})
	return err
}
