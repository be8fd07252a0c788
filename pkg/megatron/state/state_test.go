package state

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/jholhewres/megatron/pkg/megatron/access"
)

func openTestStore(t *testing.T, path string) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	s, err := Open(Config{Path: path}, logger)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestOpenCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.db")
	s := openTestStore(t, path)
	defer s.Close()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("database file not created: %v", err)
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Optimize(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestDisabledCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	s := openTestStore(t, path)

	changed, err := s.Disabled.Disable("PING")
	if err != nil || !changed {
		t.Fatalf("Disable = %v, %v", changed, err)
	}
	if changed, _ := s.Disabled.Disable("ping"); changed {
		t.Error("second disable should report no change")
	}
	if !s.Disabled.IsDisabled("ping") {
		t.Error("ping should be disabled")
	}

	for _, cmd := range []string{"stop", "enable", "restart"} {
		if _, err := s.Disabled.Disable(cmd); !errors.Is(err, ErrProtected) {
			t.Errorf("Disable(%q) err = %v, want ErrProtected", cmd, err)
		}
	}

	// Persisted across reopen.
	s.Close()
	s = openTestStore(t, path)
	defer s.Close()
	if !reflect.DeepEqual(s.Disabled.List(), []string{"ping"}) {
		t.Fatalf("after reopen List = %v", s.Disabled.List())
	}

	if changed, err := s.Disabled.Enable("ping"); err != nil || !changed {
		t.Fatalf("Enable = %v, %v", changed, err)
	}
	if changed, _ := s.Disabled.Enable("ping"); changed {
		t.Error("enable of enabled command should report no change")
	}
	if s.Disabled.IsDisabled("ping") {
		t.Error("ping still disabled")
	}
}

func TestStickerBindings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	s := openTestStore(t, path)

	if err := s.Bindings.Bind("AQID", "kick"); err != nil {
		t.Fatal(err)
	}
	if err := s.Bindings.Bind("AQID", "ping now"); err != nil {
		t.Fatal(err)
	}
	if err := s.Bindings.Bind("", "x"); err == nil {
		t.Error("expected error for empty fingerprint")
	}

	cmd, ok := s.Bindings.Resolve("AQID")
	if !ok || cmd != "ping now" {
		t.Fatalf("Resolve = %q, %v", cmd, ok)
	}

	s.Close()
	s = openTestStore(t, path)
	defer s.Close()

	if got := s.Bindings.List(); len(got) != 1 || got[0].Command != "ping now" {
		t.Fatalf("after reopen List = %+v", got)
	}
	removed, err := s.Bindings.Unbind("AQID")
	if err != nil || !removed {
		t.Fatalf("Unbind = %v, %v", removed, err)
	}
	if removed, _ := s.Bindings.Unbind("AQID"); removed {
		t.Error("second unbind should report nothing removed")
	}
	if _, ok := s.Bindings.Resolve("AQID"); ok {
		t.Error("binding still resolvable")
	}
}

func TestSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	s := openTestStore(t, path)

	if err := s.Settings.Seed(access.ModeGroup, []string{"5511987654321", "12"}); err != nil {
		t.Fatal(err)
	}
	if s.Settings.Mode() != access.ModeGroup {
		t.Errorf("seeded mode = %s", s.Settings.Mode())
	}
	if !reflect.DeepEqual(s.Settings.Sudo(), []string{"1987654321"}) {
		t.Errorf("sudo = %v", s.Settings.Sudo())
	}

	added, err := s.Settings.AddSudo("447700900123@s.whatsapp.net")
	if err != nil || !added {
		t.Fatalf("AddSudo = %v, %v", added, err)
	}
	if _, err := s.Settings.AddSudo("123"); !errors.Is(err, ErrInvalidNumber) {
		t.Errorf("short number err = %v", err)
	}
	if err := s.Settings.SetMode(access.ModePrivate); err != nil {
		t.Fatal(err)
	}

	s.Close()
	s = openTestStore(t, path)
	defer s.Close()

	// A runtime mode wins over the configured one.
	if err := s.Settings.Seed(access.ModePublic, nil); err != nil {
		t.Fatal(err)
	}
	if s.Settings.Mode() != access.ModePrivate {
		t.Errorf("mode after reopen = %s", s.Settings.Mode())
	}
	removed, err := s.Settings.RemoveSudo("+44 7700 900123")
	if err != nil || !removed {
		t.Fatalf("RemoveSudo = %v, %v", removed, err)
	}
	if len(s.Settings.Sudo()) != 1 {
		t.Errorf("sudo after remove = %v", s.Settings.Sudo())
	}
}
