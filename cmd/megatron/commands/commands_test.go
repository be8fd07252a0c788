package commands

import (
	"bytes"
	"strings"
	"testing"

	"github.com/jholhewres/megatron/pkg/megatron/channels"
	"github.com/jholhewres/megatron/pkg/megatron/config"
	"github.com/jholhewres/megatron/pkg/megatron/plugins"
)

func TestRootCommands(t *testing.T) {
	root := NewRootCmd("test")
	for _, name := range []string{"serve", "setup", "console", "plugins", "state"} {
		if cmd, _, err := root.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Errorf("subcommand %s missing: %v", name, err)
		}
	}
	if root.PersistentFlags().Lookup("config") == nil || root.PersistentFlags().Lookup("verbose") == nil {
		t.Error("global flags missing")
	}
}

func TestValidatePhone(t *testing.T) {
	tests := []struct {
		in string
		ok bool
	}{
		{"5511999998888", true},
		{"+55 (11) 99999-8888", true},
		{"", false},
		{"12345", false},
		{"abc", false},
	}
	for _, tt := range tests {
		if err := validatePhone(tt.in); (err == nil) != tt.ok {
			t.Errorf("validatePhone(%q) = %v, want ok=%v", tt.in, err, tt.ok)
		}
	}
}

func TestApplyAnswers(t *testing.T) {
	cfg := config.DefaultConfig()
	applyAnswers(cfg, setupAnswers{
		name:       "  ",
		owner:      "+55 11 99999-8888",
		prefix:     " ! ",
		mode:       "group",
		database:   "data/bot.db",
		pairPhone:  "+55 11 90000-0000",
		autoReveal: true,
	})

	if cfg.Name != "Megatron" {
		t.Errorf("blank name should keep the default, got %q", cfg.Name)
	}
	if len(cfg.Owners) != 1 || cfg.Owners[0] != "5511999998888" {
		t.Errorf("Owners = %v", cfg.Owners)
	}
	if cfg.Prefix != "!" || cfg.Mode != "group" || cfg.Database.Path != "data/bot.db" {
		t.Errorf("unexpected config: prefix=%q mode=%q db=%q", cfg.Prefix, cfg.Mode, cfg.Database.Path)
	}
	if cfg.WhatsApp.PairPhone != "5511900000000" || !cfg.Builtin.AutoReveal {
		t.Errorf("pair=%q autoReveal=%v", cfg.WhatsApp.PairPhone, cfg.Builtin.AutoReveal)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestGateList(t *testing.T) {
	if got := gateList(plugins.Gates{}); got != "-" {
		t.Errorf("empty gates = %q", got)
	}
	if got := gateList(plugins.Gates{Owner: true, Group: true, Admin: true}); got != "owner,group,admin" {
		t.Errorf("gates = %q", got)
	}
}

func TestConsoleSessionMeta(t *testing.T) {
	owner := "5511999998888@s.whatsapp.net"
	s := &consoleSession{owner: owner, sender: owner, chatID: owner}
	var out bytes.Buffer

	s.meta(&out, ":group")
	if s.chatID != consoleGroupID {
		t.Errorf("chat after :group = %q", s.chatID)
	}
	if env := s.envelope(".ping"); !env.IsGroup() || env.SenderID != owner || env.Content.Text != ".ping" {
		t.Errorf("group envelope = %+v", env)
	}

	s.meta(&out, ":as 5511987654321")
	if s.sender != "5511987654321@s.whatsapp.net" || s.chatID != consoleGroupID {
		t.Errorf("after :as in group: sender=%q chat=%q", s.sender, s.chatID)
	}

	s.meta(&out, ":dm")
	if s.chatID != s.sender {
		t.Errorf("chat after :dm = %q, want sender", s.chatID)
	}

	s.meta(&out, ":as owner")
	if s.sender != owner || s.chatID != owner {
		t.Errorf("after :as owner: sender=%q chat=%q", s.sender, s.chatID)
	}

	s.meta(&out, ":as 12")
	s.meta(&out, ":bogus")
	if !strings.Contains(out.String(), "invalid number") || !strings.Contains(out.String(), "unknown console command") {
		t.Errorf("output = %q", out.String())
	}

	if !s.meta(&out, ":quit") {
		t.Error(":quit should end the session")
	}

	a, b := s.envelope("x"), s.envelope("x")
	if a.ID == b.ID || len(a.ID) != 20 {
		t.Errorf("envelope ids %q %q", a.ID, b.ID)
	}
}

func TestPrintOutgoing(t *testing.T) {
	var out bytes.Buffer
	printOutgoing(&out, consoleGroupID, &channels.OutgoingMessage{Text: "hello"})
	printOutgoing(&out, "5511999998888@s.whatsapp.net", &channels.OutgoingMessage{Reaction: &channels.OutgoingReaction{Emoji: "👍"}})
	printOutgoing(&out, consoleGroupID, &channels.OutgoingMessage{Media: &channels.MediaMessage{Kind: channels.KindImage, Data: []byte("abc"), Caption: "pic"}})

	got := out.String()
	for _, want := range []string{"[group] hello", "reacted 👍", "<image 3 bytes> pic"} {
		if !strings.Contains(got, want) {
			t.Errorf("output %q missing %q", got, want)
		}
	}
}
