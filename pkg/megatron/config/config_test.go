package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jholhewres/megatron/pkg/megatron/access"
)

// clearEnv unsets the override variables for the duration of a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvPrefix, EnvMode, EnvOwner, EnvSudo, EnvSessionDir} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestParseConfigOverlaysDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
name: Optimus
owners: ["5511999998888"]
prefix: "!,."
mode: private
builtin:
  kickall_delay: 30s
scheduler:
  stats_schedule: "@hourly"
`))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}

	if cfg.Name != "Optimus" || cfg.Mode != "private" {
		t.Errorf("name/mode = %q/%q", cfg.Name, cfg.Mode)
	}
	if cfg.Builtin.KickallDelay != 30*time.Second {
		t.Errorf("KickallDelay = %v, want 30s", cfg.Builtin.KickallDelay)
	}
	// Untouched fields keep their defaults.
	if cfg.Builtin.KickallInterval != time.Second {
		t.Errorf("KickallInterval = %v, want default 1s", cfg.Builtin.KickallInterval)
	}
	if !cfg.Scheduler.Enabled || cfg.Scheduler.OptimizeSchedule != "@daily" {
		t.Errorf("scheduler defaults lost: %+v", cfg.Scheduler)
	}
	if cfg.Scheduler.StatsSchedule != "@hourly" {
		t.Errorf("StatsSchedule = %q", cfg.Scheduler.StatsSchedule)
	}
	if cfg.Database.JournalMode != "WAL" {
		t.Errorf("JournalMode = %q, want WAL", cfg.Database.JournalMode)
	}

	p := cfg.Prefixes()
	if len(p.Literals) != 2 || p.Literals[0] != "!" || p.Literals[1] != "." {
		t.Errorf("Prefixes = %+v", p)
	}
}

func TestParseConfigRejectsUnknownKeys(t *testing.T) {
	if _, err := ParseConfig([]byte("prefx: \"!\"\n")); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestParseConfigEmpty(t *testing.T) {
	cfg, err := ParseConfig(nil)
	if err != nil {
		t.Fatalf("ParseConfig(nil): %v", err)
	}
	if cfg.Prefix != "." || cfg.Name != "Megatron" {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("MEGATRON_TEST_SET", "value")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"simple", "a: ${MEGATRON_TEST_SET}", "a: value"},
		{"bare", "a: $MEGATRON_TEST_SET", "a: value"},
		{"default used", "a: ${MEGATRON_TEST_UNSET:-fallback}", "a: fallback"},
		{"default ignored", "a: ${MEGATRON_TEST_SET:-fallback}", "a: value"},
		{"unset kept", "a: ${MEGATRON_TEST_UNSET}", "a: ${MEGATRON_TEST_UNSET}"},
		{"no vars", "a: plain", "a: plain"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := expandEnvVarsWithValidation(tt.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExpandEnvVarsRequired(t *testing.T) {
	_, err := expandEnvVarsWithValidation("owner: ${MEGATRON_TEST_UNSET:?set the owner number}\nmode: public\n")
	if err == nil {
		t.Fatal("expected error for unset required variable")
	}
	if !strings.Contains(err.Error(), "MEGATRON_TEST_UNSET - set the owner number") {
		t.Errorf("error = %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("MEGATRON_TEST_OWNER", "5511999998888")

	path := writeConfig(t, `
owners: ["${MEGATRON_TEST_OWNER}"]
database:
  path: state/bot.db
whatsapp:
  session_dir: ~/megatron-session
plugins:
  dir: /opt/megatron/plugins
`)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}

	if len(cfg.Owners) != 1 || cfg.Owners[0] != "5511999998888" {
		t.Errorf("Owners = %v", cfg.Owners)
	}
	dir := filepath.Dir(path)
	if cfg.Database.Path != filepath.Join(dir, "state/bot.db") {
		t.Errorf("Database.Path = %q, want relative to config dir", cfg.Database.Path)
	}
	if cfg.Plugins.Dir != "/opt/megatron/plugins" {
		t.Errorf("Plugins.Dir = %q, absolute paths must be kept", cfg.Plugins.Dir)
	}
	if home, err := os.UserHomeDir(); err == nil {
		if cfg.WhatsApp.SessionDir != filepath.Join(home, "megatron-session") {
			t.Errorf("SessionDir = %q, want ~ expanded", cfg.WhatsApp.SessionDir)
		}
	}
}

func TestLoadFromFileEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvPrefix, "#")
	t.Setenv(EnvMode, "group")
	t.Setenv(EnvOwner, "5511911111111, 5511999998888")
	t.Setenv(EnvSudo, "5511933333333")

	path := writeConfig(t, "owners: [\"5511999998888\"]\nmode: private\n")
	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}

	if cfg.Prefix != "#" {
		t.Errorf("Prefix = %q, want #", cfg.Prefix)
	}
	if cfg.InitialMode(slog.Default()) != access.ModeGroup {
		t.Errorf("Mode = %q, want group", cfg.Mode)
	}
	if len(cfg.Owners) != 2 || cfg.Owners[1] != "5511911111111" {
		t.Errorf("Owners = %v, want merged without duplicates", cfg.Owners)
	}
	if len(cfg.Sudo) != 1 || cfg.Sudo[0] != "5511933333333" {
		t.Errorf("Sudo = %v", cfg.Sudo)
	}
}

func TestLoadFromFileInvalid(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name    string
		content string
	}{
		{"bad mode", "mode: chaos\n"},
		{"bad owner", "owners: [\"abc\"]\n"},
		{"bad schedule", "scheduler:\n  health_schedule: \"whenever\"\n"},
		{"bad log format", "logging:\n  format: xml\n"},
		{"zero dedup", "dispatch:\n  dedup_capacity: 0\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromFile(writeConfig(t, tt.content))
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("error = %v, want ErrInvalidConfig", err)
			}
		})
	}

	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestSaveConfigToFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Owners = []string{"5511999998888"}
	cfg.Mode = "pm"
	cfg.Builtin.AutoReveal = true

	if err := SaveConfigToFile(cfg, path); err != nil {
		t.Fatalf("SaveConfigToFile: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("perm = %04o, want 0600", perm)
	}

	loaded, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if loaded.Mode != "pm" || !loaded.Builtin.AutoReveal || loaded.Owners[0] != "5511999998888" {
		t.Errorf("round trip lost values: %+v", loaded)
	}
	if loaded.WhatsApp.ReconnectBackoff != cfg.WhatsApp.ReconnectBackoff {
		t.Errorf("ReconnectBackoff = %v", loaded.WhatsApp.ReconnectBackoff)
	}

	// A second save keeps a backup of the first.
	if err := SaveConfigToFile(cfg, path); err != nil {
		t.Fatalf("second save: %v", err)
	}
	if _, err := os.Stat(path + ".bak"); err != nil {
		t.Errorf("backup missing: %v", err)
	}
}

func TestDispatchConfigMergesOwners(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Owners = []string{"+55 11 99999-8888", "5511911111111"}
	cfg.Dispatch.Owners = []string{"5511999998888", "5511922222222"}

	dc := cfg.DispatchConfig()
	want := []string{"5511999998888", "5511911111111", "5511922222222"}
	if len(dc.Owners) != len(want) {
		t.Fatalf("Owners = %v, want %v", dc.Owners, want)
	}
	for i := range want {
		if dc.Owners[i] != want[i] {
			t.Errorf("Owners[%d] = %q, want %q", i, dc.Owners[i], want[i])
		}
	}
	if dc.DedupCapacity != cfg.Dispatch.DedupCapacity {
		t.Errorf("DedupCapacity changed: %d", dc.DedupCapacity)
	}
}

func TestLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		cfg := &Config{Logging: LoggingConfig{Level: in}}
		if got := cfg.LogLevel(); got != want {
			t.Errorf("LogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
