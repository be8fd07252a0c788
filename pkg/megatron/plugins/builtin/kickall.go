package builtin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jholhewres/megatron/pkg/megatron/channels"
	"github.com/jholhewres/megatron/pkg/megatron/identity"
	"github.com/jholhewres/megatron/pkg/megatron/message"
	"github.com/jholhewres/megatron/pkg/megatron/plugins"
	"github.com/jholhewres/megatron/pkg/megatron/tasks"
)

func init() {
	plugins.Register("kickall", static(plugins.Plugin{
		Name:        "kickall",
		Kind:        plugins.KindCommand,
		Commands:    []string{"kickall", "cancel"},
		Category:    categoryGroup,
		Description: "Remove every non-admin member after a grace period",
		Usage:       "kickall | cancel",
		Gates:       plugins.Gates{Group: true, Admin: true},
		Handler:     kickAll,
	}))
}

func kickAll(ctx context.Context, conn channels.Client, m *message.Message, c *plugins.Context) error {
	registry := c.Services.Tasks
	if c.Command == "cancel" {
		if registry.Cancel(m.ChatID) {
			react(ctx, m, "🛑")
			return c.Reply(ctx, "_Kickall process cancelled_")
		}
		react(ctx, m, "❌")
		return c.Reply(ctx, "_No active kickall process_")
	}

	ga, err := groupAdmin(conn)
	if err != nil {
		return err
	}
	if !c.IsBotAdmin(ctx) {
		return c.Reply(ctx, "_I need to be an admin to do that_")
	}
	roster, err := c.Roster(ctx)
	if err != nil {
		return fmt.Errorf("kickall: %w", err)
	}
	victims := removable(roster, conn.SelfID())
	if len(victims) == 0 {
		return c.Reply(ctx, "_No members to remove (only admins remaining)_")
	}

	opts := c.Services.Options
	chatID := m.ChatID
	logger := c.Logger.With("chat", chatID)
	run := func(tctx context.Context) error {
		if _, err := conn.Send(tctx, chatID, &channels.OutgoingMessage{
			Text: fmt.Sprintf("_Removing %d members..._", len(victims)),
		}); err != nil {
			logger.Warn("builtin: kickall notice failed", "error", err)
		}
		removed := 0
		for i, id := range victims {
			if i > 0 {
				select {
				case <-tctx.Done():
					return tctx.Err()
				case <-time.After(opts.KickallInterval):
				}
			}
			if err := ga.UpdateParticipants(tctx, chatID, []string{id}, channels.ParticipantRemove); err != nil {
				if tctx.Err() != nil {
					return tctx.Err()
				}
				logger.Warn("builtin: kickall remove failed", "user", id, "error", err)
				continue
			}
			removed++
		}
		_, err := conn.Send(tctx, chatID, &channels.OutgoingMessage{
			Text: fmt.Sprintf("✅ _Removed %d members from group_", removed),
		})
		return err
	}

	if err := registry.Start(chatID, "kickall", opts.KickallDelay, run); err != nil {
		if errors.Is(err, tasks.ErrPending) {
			return c.Replyf(ctx, "_A kickall is already running. Send %scancel to stop it_", prefixOf(c))
		}
		return err
	}
	return c.Replyf(ctx, "⚠️ *KICKALL INITIATED*\n\nRemoving %d members in %s...\n\nTo cancel:\n• Send: %scancel",
		len(victims), opts.KickallDelay.Round(time.Second), prefixOf(c))
}

// removable lists members that are neither admins nor the bot.
func removable(roster *channels.Roster, selfID string) []string {
	var out []string
	for _, p := range roster.Participants {
		if p.IsAdmin || p.IsSuperAdmin {
			continue
		}
		if identity.MatchesBySuffix(p.ID, selfID) || (p.PhoneID != "" && identity.MatchesBySuffix(p.PhoneID, selfID)) {
			continue
		}
		out = append(out, p.ID)
	}
	return out
}

