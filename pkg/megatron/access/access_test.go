package access

import (
	"context"
	"errors"
	"testing"

	"github.com/jholhewres/megatron/pkg/megatron/channels"
	"github.com/jholhewres/megatron/pkg/megatron/message"
)

const (
	botID   = "5511900000000@s.whatsapp.net"
	userID  = "5511987654321@s.whatsapp.net"
	adminID = "5511911111111@s.whatsapp.net"
	groupID = "120363000000000000@g.us"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModePublic, false},
		{"PRIVATE", ModePrivate, false},
		{" group ", ModeGroup, false},
		{"pm", ModePM, false},
		{"secret", ModePublic, true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if got != tt.want || (err != nil) != tt.wantErr {
			t.Errorf("ParseMode(%q) = %q, %v", tt.in, got, err)
		}
		if tt.wantErr && !errors.Is(err, ErrUnknownMode) {
			t.Errorf("expected ErrUnknownMode, got %v", err)
		}
	}
}

func TestPolicyAllows(t *testing.T) {
	tests := []struct {
		mode    Mode
		group   bool
		owner   bool
		allowed bool
	}{
		{ModePublic, false, false, true},
		{ModePrivate, true, false, false},
		{ModePrivate, false, false, false},
		{ModePrivate, false, true, true},
		{ModeGroup, true, false, true},
		{ModeGroup, false, false, false},
		{ModeGroup, false, true, true},
		{ModePM, true, false, false},
		{ModePM, false, false, true},
	}
	for _, tt := range tests {
		p := Policy{Mode: tt.mode}
		if got := p.Allows(tt.group, tt.owner); got != tt.allowed {
			t.Errorf("mode=%s group=%v owner=%v: got %v", tt.mode, tt.group, tt.owner, got)
		}
	}
}

func TestResolveFlags(t *testing.T) {
	p := Policy{Owners: []string{"11922222222"}, Sudo: []string{"11987654321"}}

	tests := []struct {
		name    string
		msg     *message.Message
		creator bool
		sudo    bool
	}{
		{"stranger", &message.Message{SenderID: adminID, ChatID: adminID}, false, false},
		{"sudo by suffix", &message.Message{SenderID: userID, ChatID: userID}, false, true},
		{"self authored", &message.Message{SenderID: "x", ChatID: userID, FromSelf: true}, true, false},
		{"bot id with device", &message.Message{SenderID: "5511900000000:7@s.whatsapp.net", ChatID: userID}, true, false},
		{"configured owner", &message.Message{SenderID: "5511922222222@s.whatsapp.net", ChatID: userID}, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Resolve(p, tt.msg, botID, nil)
			if a.IsCreator != tt.creator || a.IsSudo != tt.sudo || a.IsOwner != (tt.creator || tt.sudo) {
				t.Errorf("got creator=%v sudo=%v owner=%v", a.IsCreator, a.IsSudo, a.IsOwner)
			}
		})
	}
}

func TestLazyRoster(t *testing.T) {
	calls := 0
	fetch := func(_ context.Context, chatID string) (*channels.Roster, error) {
		calls++
		return &channels.Roster{ChatID: chatID, Participants: []channels.Participant{
			{ID: "12345@lid", PhoneID: adminID, IsAdmin: true},
			{ID: userID},
			{ID: botID, IsSuperAdmin: true},
		}}, nil
	}
	ctx := context.Background()

	t.Run("group fetches once", func(t *testing.T) {
		calls = 0
		a := Resolve(Policy{}, &message.Message{ChatID: groupID, SenderID: adminID, IsGroup: true}, botID, fetch)
		if calls != 0 {
			t.Fatal("roster fetched eagerly")
		}
		if !a.IsAdmin(ctx) || !a.IsBotAdmin(ctx) {
			t.Error("expected admin flags via phone id and super admin")
		}
		if _, err := a.Roster(ctx); err != nil {
			t.Fatal(err)
		}
		if calls != 1 {
			t.Errorf("roster fetched %d times", calls)
		}
	})

	t.Run("non admin", func(t *testing.T) {
		a := Resolve(Policy{}, &message.Message{ChatID: groupID, SenderID: userID, IsGroup: true}, botID, fetch)
		if a.IsAdmin(ctx) {
			t.Error("plain member reported as admin")
		}
	})

	t.Run("direct chat never fetches", func(t *testing.T) {
		calls = 0
		a := Resolve(Policy{}, &message.Message{ChatID: userID, SenderID: userID}, botID, fetch)
		if a.IsAdmin(ctx) || a.IsBotAdmin(ctx) {
			t.Error("admin flags must be false in direct chats")
		}
		if _, err := a.Roster(ctx); !errors.Is(err, channels.ErrNotGroup) {
			t.Errorf("Roster err = %v", err)
		}
		if calls != 0 {
			t.Errorf("direct chat fetched roster %d times", calls)
		}
	})

	t.Run("fetch failure", func(t *testing.T) {
		a := Resolve(Policy{}, &message.Message{ChatID: groupID, SenderID: adminID, IsGroup: true}, botID,
			func(context.Context, string) (*channels.Roster, error) { return nil, errors.New("timeout") })
		if a.IsAdmin(ctx) {
			t.Error("failed fetch must not grant admin")
		}
	})
}

func TestPrefixDetect(t *testing.T) {
	tests := []struct {
		name   string
		p      Prefixes
		body   string
		want   string
		wantOK bool
	}{
		{"literal", Prefixes{Literals: []string{"."}}, ".ping", ".", true},
		{"literal miss", Prefixes{Literals: []string{"."}}, "!ping", "", false},
		{"ordered literals", Prefixes{Literals: []string{"!", "."}}, ".ping", ".", true},
		{"multi symbol first", Prefixes{Literals: []string{".", "!"}, MultiPrefix: true}, "!ping", "!", true},
		{"multi falls back to literal", Prefixes{Literals: []string{">"}, MultiPrefix: true}, ">ping", ">", true},
		{"multi full width", Prefixes{MultiPrefix: true}, "！ping", "！", true},
		{"multi emoji", Prefixes{MultiPrefix: true}, "🔥ping", "🔥", true},
		{"multi plain word", Prefixes{MultiPrefix: true}, "ping", "", false},
		{"empty literal", Prefixes{Literals: []string{""}}, "ping", "", true},
		{"empty body", Prefixes{Literals: []string{""}}, "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.p.Detect(tt.body)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("Detect(%q) = %q, %v; want %q, %v", tt.body, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestParsePrefixes(t *testing.T) {
	got := ParsePrefixes(". , !,null")
	if len(got) != 3 || got[0] != "." || got[1] != "!" || got[2] != "" {
		t.Errorf("ParsePrefixes = %#v", got)
	}
	if got := ParsePrefixes(""); len(got) != 1 || got[0] != "" {
		t.Errorf("empty = %#v", got)
	}
}
