// Package builtin registers the plugins compiled into the bot. Import it
// for its side effects:
//
//	import _ "github.com/jholhewres/megatron/pkg/megatron/plugins/builtin"
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

// Categories shown by the menu.
const (
	categoryOwner   = "owner"
	categoryGroup   = "group"
	categoryUtility = "utility"
)

// ErrNoGroupAdmin is returned when the transport cannot manage groups.
var ErrNoGroupAdmin = fmt.Errorf("transport does not support group administration")

// static wraps a fixed record as a factory.
func static(p plugins.Plugin) plugins.Factory {
	return func() (*plugins.Plugin, error) {
		cp := p
		return &cp, nil
	}
}

// react sends a reaction and ignores failures; reactions are decoration.
func react(ctx context.Context, m *message.Message, emoji string) {
	_ = m.React(ctx, emoji)
}

// target picks the user a command acts on: first mention, else the author
// of the quoted message.
func target(m *message.Message) string {
	if len(m.Mentions) > 0 {
		return m.Mentions[0]
	}
	if m.Quoted != nil && m.Quoted.SenderID != "" {
		return m.Quoted.SenderID
	}
	return ""
}

// phoneJID turns free text such as "+55 11 98765-4321" into a user id.
func phoneJID(raw string) string {
	digits := identity.ExtractDigits(raw)
	if digits == "" {
		return ""
	}
	return digits + "@s.whatsapp.net"
}

// groupAdmin returns the group administration surface of conn.
func groupAdmin(conn channels.Client) (channels.GroupAdmin, error) {
	ga, ok := conn.(channels.GroupAdmin)
	if !ok {
		return nil, ErrNoGroupAdmin
	}
	return ga, nil
}

// numbered renders items as "1. a\n2. b".
func numbered(items []string) string {
	var b strings.Builder
	for i, it := range items {
		fmt.Fprintf(&b, "%d. %s\n", i+1, it)
	}
	return strings.TrimRight(b.String(), "\n")
}

// prefixOf returns the prefix to show in usage texts.
func prefixOf(c *plugins.Context) string {
	if c.Prefix != "" {
		return c.Prefix
	}
	if c.Services != nil {
		return c.Services.Prefixes.First()
	}
	return ""
}
