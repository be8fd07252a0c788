package whatsapp

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/jholhewres/megatron/pkg/megatron/channels"
)

func TestNew(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	t.Run("creates instance with defaults", func(t *testing.T) {
		w := New(DefaultConfig(), logger)
		if w.getState() != StateDisconnected {
			t.Errorf("expected initial state 'disconnected', got %s", w.getState())
		}
		if w.SelfID() != "" {
			t.Errorf("expected no self id before login, got %q", w.SelfID())
		}
	})

	t.Run("applies defaults to zero config", func(t *testing.T) {
		w := New(Config{SessionDir: "./sessions"}, nil)
		if w.cfg.ReconnectBackoff != 5*time.Second {
			t.Errorf("expected default backoff 5s, got %v", w.cfg.ReconnectBackoff)
		}
		if cap(w.envelopes) != 256 {
			t.Errorf("expected buffer 256, got %d", cap(w.envelopes))
		}
		if w.databasePath() != "sessions/whatsapp.db" {
			t.Errorf("database path = %q", w.databasePath())
		}
	})

	t.Run("prefers explicit database path", func(t *testing.T) {
		w := New(Config{SessionDir: "./sessions", DatabasePath: "/tmp/wa.db"}, logger)
		if w.databasePath() != "/tmp/wa.db" {
			t.Errorf("database path = %q", w.databasePath())
		}
	})
}

func TestSendWhileDisconnected(t *testing.T) {
	w := New(DefaultConfig(), nil)
	ctx := context.Background()

	if _, err := w.Send(ctx, "5511999999999", &channels.OutgoingMessage{Text: "hi"}); !errors.Is(err, channels.ErrChannelDisconnected) {
		t.Errorf("Send error = %v", err)
	}
	if err := w.SetAnnounce(ctx, "1@g.us", true); !errors.Is(err, channels.ErrChannelDisconnected) {
		t.Errorf("SetAnnounce error = %v", err)
	}
	if _, err := w.GroupRoster(ctx, "5511999999999@s.whatsapp.net"); !errors.Is(err, channels.ErrNotGroup) {
		t.Errorf("GroupRoster error = %v", err)
	}
}

func TestQRSubscription(t *testing.T) {
	w := New(DefaultConfig(), nil)
	ch, unsubscribe := w.SubscribeQR()

	w.notifyQR(QREvent{Type: "code", Code: "abc"})
	select {
	case evt := <-ch:
		if evt.Code != "abc" {
			t.Errorf("code = %q", evt.Code)
		}
	case <-time.After(time.Second):
		t.Fatal("no QR event")
	}

	unsubscribe()
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after unsubscribe")
	}
	w.notifyQR(QREvent{Type: "code"}) // must not panic
}

func TestTransitionNotifiesObservers(t *testing.T) {
	w := New(DefaultConfig(), nil)
	got := make(chan ConnectionEvent, 1)
	w.AddConnectionObserver(ConnectionObserverFunc(func(evt ConnectionEvent) { got <- evt }))

	w.transition(StateConnected, "connected")
	if !w.IsConnected() {
		t.Error("expected connected")
	}
	select {
	case evt := <-got:
		if evt.State != StateConnected || evt.Previous != StateDisconnected {
			t.Errorf("event = %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("observer not notified")
	}
}

func TestNeedsReconnect(t *testing.T) {
	w := New(DefaultConfig(), nil)
	cfg := HealthMonitorConfig{MaxSilentDuration: time.Minute, ForceReconnectAfter: 10 * time.Minute}
	now := time.Now()

	if w.needsReconnect(cfg, now) {
		t.Error("disconnected transport must not reconnect from health check")
	}
	w.setState(StateConnected)
	w.lastActivity.Store(now.Add(-30 * time.Second))
	if w.needsReconnect(cfg, now) {
		t.Error("recent activity should be healthy")
	}
	w.lastActivity.Store(now.Add(-5 * time.Minute))
	if w.needsReconnect(cfg, now) {
		t.Error("silent but below force threshold should not reconnect")
	}
	w.lastActivity.Store(now.Add(-time.Hour))
	if !w.needsReconnect(cfg, now) {
		t.Error("expected forced reconnect")
	}
}

func TestContentOf(t *testing.T) {
	sha := []byte{1, 2, 3}
	tests := []struct {
		name    string
		msg     *waE2E.Message
		kind    channels.ContentKind
		text    string
		caption string
		wrapper channels.ViewOnceWrapper
	}{
		{"conversation", &waE2E.Message{Conversation: proto.String("hi")}, channels.KindText, "hi", "", channels.ViewOnceNone},
		{"extended", &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("ext")}}, channels.KindText, "ext", "", channels.ViewOnceNone},
		{"image", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{Caption: proto.String("cap"), FileSHA256: sha}}, channels.KindImage, "", "cap", channels.ViewOnceNone},
		{"image flagged view-once", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{ViewOnce: proto.Bool(true)}}, channels.KindImage, "", "", channels.ViewOnceFlag},
		{"view-once v1", &waE2E.Message{ViewOnceMessage: &waE2E.FutureProofMessage{Message: &waE2E.Message{
			VideoMessage: &waE2E.VideoMessage{Caption: proto.String("v")}}}}, channels.KindVideo, "", "v", channels.ViewOnceV1},
		{"view-once v2", &waE2E.Message{ViewOnceMessageV2: &waE2E.FutureProofMessage{Message: &waE2E.Message{
			ImageMessage: &waE2E.ImageMessage{}}}}, channels.KindImage, "", "", channels.ViewOnceV2},
		{"view-once v2 extension", &waE2E.Message{ViewOnceMessageV2Extension: &waE2E.FutureProofMessage{Message: &waE2E.Message{
			AudioMessage: &waE2E.AudioMessage{}}}}, channels.KindAudio, "", "", channels.ViewOnceV2Extension},
		{"empty view-once wrapper", &waE2E.Message{ViewOnceMessageV2: &waE2E.FutureProofMessage{}}, channels.KindUnknown, "", "", channels.ViewOnceUnknown},
		{"ephemeral", &waE2E.Message{EphemeralMessage: &waE2E.FutureProofMessage{Message: &waE2E.Message{
			Conversation: proto.String("eph")}}}, channels.KindText, "eph", "", channels.ViewOnceNone},
		{"ephemeral view-once", &waE2E.Message{EphemeralMessage: &waE2E.FutureProofMessage{Message: &waE2E.Message{
			ViewOnceMessageV2: &waE2E.FutureProofMessage{Message: &waE2E.Message{ImageMessage: &waE2E.ImageMessage{}}}}}},
			channels.KindImage, "", "", channels.ViewOnceV2},
		{"sticker", &waE2E.Message{StickerMessage: &waE2E.StickerMessage{FileSHA256: sha}}, channels.KindSticker, "", "", channels.ViewOnceNone},
		{"document", &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{Caption: proto.String("doc")}}, channels.KindDocument, "", "doc", channels.ViewOnceNone},
		{"reaction", &waE2E.Message{ReactionMessage: &waE2E.ReactionMessage{Text: proto.String("👍")}}, channels.KindReaction, "", "", channels.ViewOnceNone},
		{"protocol", &waE2E.Message{ProtocolMessage: &waE2E.ProtocolMessage{}}, channels.KindProtocol, "", "", channels.ViewOnceNone},
		{"key distribution only", &waE2E.Message{SenderKeyDistributionMessage: &waE2E.SenderKeyDistributionMessage{}}, channels.KindKeyDistribution, "", "", channels.ViewOnceNone},
		{"key distribution with text", &waE2E.Message{SenderKeyDistributionMessage: &waE2E.SenderKeyDistributionMessage{},
			Conversation: proto.String("real")}, channels.KindText, "real", "", channels.ViewOnceNone},
		{"nil", nil, channels.KindUnknown, "", "", channels.ViewOnceNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := contentOf(tt.msg, 0)
			if c.Kind != tt.kind || c.Text != tt.text || c.Caption != tt.caption || c.ViewOnce != tt.wrapper {
				t.Errorf("got kind=%s text=%q caption=%q wrapper=%q", c.Kind, c.Text, c.Caption, c.ViewOnce)
			}
			if tt.kind.IsMedia() {
				if c.Media == nil {
					t.Fatal("expected media ref")
				}
				if _, ok := c.Media.Handle.(whatsmeow.DownloadableMessage); !ok {
					t.Errorf("handle %T is not downloadable", c.Media.Handle)
				}
			}
		})
	}
}

func TestContentOfSelections(t *testing.T) {
	tests := []struct {
		name string
		msg  *waE2E.Message
		want channels.Selection
	}{
		{"button", &waE2E.Message{ButtonsResponseMessage: &waE2E.ButtonsResponseMessage{
			SelectedButtonID: proto.String(".menu"),
			Response:         &waE2E.ButtonsResponseMessage_SelectedDisplayText{SelectedDisplayText: "Menu"},
		}}, channels.Selection{ButtonID: ".menu", ButtonText: "Menu"}},
		{"list", &waE2E.Message{ListResponseMessage: &waE2E.ListResponseMessage{
			SingleSelectReply: &waE2E.ListResponseMessage_SingleSelectReply{SelectedRowID: proto.String("row")},
		}}, channels.Selection{ListRowID: "row"}},
		{"template", &waE2E.Message{TemplateButtonReplyMessage: &waE2E.TemplateButtonReplyMessage{
			SelectedID: proto.String("tpl"),
		}}, channels.Selection{TemplateID: "tpl"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := contentOf(tt.msg, 0)
			if c.Kind != channels.KindInteractive || c.Selection != tt.want {
				t.Errorf("got %s %+v", c.Kind, c.Selection)
			}
		})
	}
}

func TestContextOneLevel(t *testing.T) {
	inner := &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{
		Text:        proto.String("quoted"),
		ContextInfo: &waE2E.ContextInfo{StanzaID: proto.String("DEEP")},
	}}
	msg := &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{
		Text: proto.String(".vv"),
		ContextInfo: &waE2E.ContextInfo{
			StanzaID:      proto.String("Q1"),
			Participant:   proto.String("5511@s.whatsapp.net"),
			MentionedJID:  []string{"5522@s.whatsapp.net"},
			QuotedMessage: inner,
		},
	}}

	c := contentOf(msg, 0)
	if c.Context == nil || c.Context.StanzaID != "Q1" || c.Context.Participant != "5511@s.whatsapp.net" {
		t.Fatalf("context = %+v", c.Context)
	}
	if len(c.Context.Mentions) != 1 || c.Context.Mentions[0] != "5522@s.whatsapp.net" {
		t.Errorf("mentions = %v", c.Context.Mentions)
	}
	if q := c.Context.Quoted; q == nil || q.Text != "quoted" || q.Context != nil {
		t.Errorf("quoted = %+v", q)
	}
}

func TestEnvelopeOf(t *testing.T) {
	evt := &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{IsFromMe: true},
			ID:            "ABC",
			PushName:      "Ana",
			Timestamp:     time.Unix(1700000000, 0),
		},
		Message:      &waE2E.Message{ImageMessage: &waE2E.ImageMessage{}},
		IsViewOnceV2: true,
	}
	env := envelopeOf(evt, "1@g.us", "5511@s.whatsapp.net")
	if env.ID != "ABC" || env.ChatID != "1@g.us" || env.SenderID != "5511@s.whatsapp.net" || !env.FromSelf || env.PushName != "Ana" {
		t.Errorf("envelope = %+v", env)
	}
	if env.Kind() != channels.KindImage || env.Content.ViewOnce != channels.ViewOnceV2 {
		t.Errorf("content = %+v", env.Content)
	}
}

func TestParseJID(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"5511999999999@s.whatsapp.net", "5511999999999@s.whatsapp.net", false},
		{"120363000000000000@g.us", "120363000000000000@g.us", false},
		{"+55 (11) 99999-9999", "5511999999999@s.whatsapp.net", false},
		{"", "", true},
		{"123", "", true},
	}
	for _, tt := range tests {
		jid, err := parseJID(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseJID(%q) error = %v", tt.in, err)
			continue
		}
		if err == nil && jid.String() != tt.want {
			t.Errorf("parseJID(%q) = %s, want %s", tt.in, jid, tt.want)
		}
	}
}

func TestBuildText(t *testing.T) {
	plain := buildText(&channels.OutgoingMessage{Text: "hi"})
	if plain.GetConversation() != "hi" || plain.GetExtendedTextMessage() != nil {
		t.Errorf("plain = %v", plain)
	}

	quoted := &waE2E.Message{Conversation: proto.String("orig")}
	msg := buildText(&channels.OutgoingMessage{
		Text:     "reply",
		ReplyTo:  &channels.ReplyRef{MessageID: "M1", SenderID: "5511@s.whatsapp.net", Content: &channels.Content{Raw: quoted}},
		Mentions: []string{"5522@s.whatsapp.net"},
	})
	ext := msg.GetExtendedTextMessage()
	ci := ext.GetContextInfo()
	if ext.GetText() != "reply" || ci.GetStanzaID() != "M1" || ci.GetParticipant() != "5511@s.whatsapp.net" {
		t.Errorf("reply = %v", msg)
	}
	if ci.GetQuotedMessage().GetConversation() != "orig" || len(ci.GetMentionedJID()) != 1 {
		t.Errorf("context = %v", ci)
	}
}

func TestMediaMessage(t *testing.T) {
	up := whatsmeow.UploadResponse{URL: "https://mmg", DirectPath: "/d", MediaKey: []byte{1}, FileSHA256: []byte{2}, FileEncSHA256: []byte{3}, FileLength: 42}

	img := mediaMessage(&channels.MediaMessage{Kind: channels.KindImage, MimeType: "image/jpeg", Caption: "c"}, up, nil)
	if im := img.GetImageMessage(); im == nil || im.GetCaption() != "c" || im.GetFileLength() != 42 || im.GetViewOnce() {
		t.Errorf("image = %v", img)
	}
	aud := mediaMessage(&channels.MediaMessage{Kind: channels.KindAudio, MimeType: "audio/mpeg"}, up, nil)
	if aud.GetAudioMessage().GetMimetype() != "audio/mpeg" {
		t.Errorf("audio = %v", aud)
	}
	doc := mediaMessage(&channels.MediaMessage{Kind: channels.KindDocument}, up, nil)
	if doc.GetDocumentMessage().GetFileName() != "file" {
		t.Errorf("document = %v", doc)
	}
	if _, err := uploadType(channels.KindText); !errors.Is(err, channels.ErrMediaNotSupported) {
		t.Errorf("uploadType(text) error = %v", err)
	}
}

func TestRosterOf(t *testing.T) {
	info := &types.GroupInfo{
		GroupName:     types.GroupName{Name: "Devs"},
		GroupAnnounce: types.GroupAnnounce{IsAnnounce: true},
		Participants: []types.GroupParticipant{
			{JID: types.NewJID("111", types.HiddenUserServer), PhoneNumber: types.NewJID("5511", types.DefaultUserServer), IsSuperAdmin: true},
			{JID: types.NewJID("5522", types.DefaultUserServer)},
		},
	}
	r := rosterOf("1@g.us", info)
	if r.Subject != "Devs" || !r.Announce || len(r.Participants) != 2 {
		t.Fatalf("roster = %+v", r)
	}
	owner := r.Participants[0]
	if owner.ID != "111@lid" || owner.PhoneID != "5511@s.whatsapp.net" || !owner.IsAdmin || !owner.IsSuperAdmin {
		t.Errorf("owner = %+v", owner)
	}
	if r.Participants[1].PhoneID != "" || r.Participants[1].IsAdmin {
		t.Errorf("member = %+v", r.Participants[1])
	}
}

func TestRenderQRNonTerminal(t *testing.T) {
	var buf bytes.Buffer
	renderQR(&buf, "2@abc")
	if !strings.Contains(buf.String(), "2@abc") {
		t.Errorf("output = %q", buf.String())
	}
}
