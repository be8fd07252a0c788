package builtin

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jholhewres/megatron/pkg/megatron/channels"
	"github.com/jholhewres/megatron/pkg/megatron/message"
	"github.com/jholhewres/megatron/pkg/megatron/plugins"
	"github.com/jholhewres/megatron/pkg/megatron/sysinfo"
)

func init() {
	plugins.Register("menu", static(plugins.Plugin{
		Name:        "menu",
		Kind:        plugins.KindCommand,
		Commands:    []string{"menu", "help"},
		Category:    categoryUtility,
		Description: "List available commands",
		Usage:       "menu [command]",
		Handler:     menu,
	}))
}

func menu(ctx context.Context, _ channels.Client, _ *message.Message, c *plugins.Context) error {
	snap := c.Services.Registry.Snapshot()
	prefix := prefixOf(c)

	if len(c.Args) > 0 {
		p, ok := snap.Resolve(c.Args[0])
		if !ok {
			return c.Replyf(ctx, "_Unknown command: %s_", c.Args[0])
		}
		return c.Reply(ctx, describe(p, prefix))
	}

	byCategory := make(map[string][]string)
	for _, p := range snap.All() {
		if p.Kind != plugins.KindCommand {
			continue
		}
		cat := p.Category
		if cat == "" {
			cat = "misc"
		}
		if cat == categoryOwner && !c.Auth.IsOwner {
			continue
		}
		for _, cmd := range p.Commands {
			if resolved, ok := snap.Resolve(cmd); ok && resolved.Name == p.Name {
				byCategory[cat] = append(byCategory[cat], prefix+cmd)
			}
		}
	}
	cats := make([]string, 0, len(byCategory))
	for cat := range byCategory {
		cats = append(cats, cat)
	}
	sort.Strings(cats)

	bot := c.Services.Bot
	mode := "public"
	if st := c.Services.State; st != nil {
		mode = string(st.Settings.Mode())
	}

	var b strings.Builder
	fmt.Fprintf(&b, "*%s*\n", strings.ToUpper(bot.Name))
	b.WriteString("────────────────────\n\n")
	fmt.Fprintf(&b, "*PREFIX*  : %s\n", prefix)
	fmt.Fprintf(&b, "*MODE*    : %s\n", strings.ToUpper(mode))
	fmt.Fprintf(&b, "*VERSION* : %s\n", bot.Version)
	if !bot.StartedAt.IsZero() {
		fmt.Fprintf(&b, "*UPTIME*  : %s\n", sysinfo.FormatDuration(time.Since(bot.StartedAt)))
	}
	b.WriteString("\n════════════════════\n\n")
	for _, cat := range cats {
		fmt.Fprintf(&b, "*%s:*\n", cat)
		for _, cmd := range byCategory[cat] {
			fmt.Fprintf(&b, "_%s_\n", cmd)
		}
		b.WriteString("\n")
	}
	return c.Reply(ctx, b.String())
}

func describe(p *plugins.Plugin, prefix string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s%s*\n", prefix, p.Commands[0])
	if p.Description != "" {
		fmt.Fprintf(&b, "%s\n", p.Description)
	}
	if p.Usage != "" {
		fmt.Fprintf(&b, "\n*Usage:* %s%s\n", prefix, p.Usage)
	}
	if len(p.Commands) > 1 {
		fmt.Fprintf(&b, "*Aliases:* %s\n", strings.Join(p.Commands[1:], ", "))
	}
	return b.String()
}
