// Package config – config.go defines the bot configuration and its defaults.
package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/jholhewres/megatron/pkg/megatron/access"
	"github.com/jholhewres/megatron/pkg/megatron/channels/whatsapp"
	"github.com/jholhewres/megatron/pkg/megatron/dispatch"
	"github.com/jholhewres/megatron/pkg/megatron/identity"
	"github.com/jholhewres/megatron/pkg/megatron/plugins"
	"github.com/jholhewres/megatron/pkg/megatron/scheduler"
	"github.com/jholhewres/megatron/pkg/megatron/state"
)

// Config is the top-level bot configuration.
type Config struct {
	// Name is the bot name shown by alive and menu.
	Name string `yaml:"name"`

	// Owners are creator phone numbers besides the bot account itself.
	Owners []string `yaml:"owners"`

	// Sudo numbers are seeded into the persisted sudo list at startup.
	Sudo []string `yaml:"sudo"`

	// Prefix is a comma separated list of command prefixes.
	// "null" or "none" allow commands without a prefix.
	Prefix string `yaml:"prefix"`

	// MultiPrefix accepts any symbol from the curated prefix set.
	MultiPrefix bool `yaml:"multi_prefix"`

	// Mode is the initial operating mode (public, private, group, pm).
	// A mode set at runtime with the mode command takes precedence.
	Mode string `yaml:"mode"`

	Logging   LoggingConfig    `yaml:"logging"`
	WhatsApp  whatsapp.Config  `yaml:"whatsapp"`
	Database  state.Config     `yaml:"database"`
	Plugins   plugins.Config   `yaml:"plugins"`
	Builtin   plugins.Options  `yaml:"builtin"`
	Dispatch  dispatch.Config  `yaml:"dispatch"`
	Scheduler scheduler.Config `yaml:"scheduler"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// Format is "json" or "text".
	Format string `yaml:"format"`
}

// DefaultConfig returns the configuration used when no file overrides it.
func DefaultConfig() *Config {
	return &Config{
		Name:   "Megatron",
		Prefix: ".",
		Mode:   string(access.ModePublic),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		WhatsApp:  whatsapp.DefaultConfig(),
		Database:  state.DefaultConfig(),
		Plugins:   plugins.Config{Dir: "./plugins"},
		Builtin:   plugins.DefaultOptions(),
		Dispatch:  dispatch.DefaultConfig(),
		Scheduler: scheduler.DefaultConfig(),
	}
}

// Prefixes returns the prefix detection settings.
func (c *Config) Prefixes() access.Prefixes {
	return access.Prefixes{
		Literals:    access.ParsePrefixes(c.Prefix),
		MultiPrefix: c.MultiPrefix,
	}
}

// DispatchConfig returns the dispatcher settings with the owners merged in.
func (c *Config) DispatchConfig() dispatch.Config {
	dc := c.Dispatch
	seen := make(map[string]bool)
	var owners []string
	for _, o := range append(append([]string{}, c.Owners...), dc.Owners...) {
		d := identity.ExtractDigits(o)
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		owners = append(owners, d)
	}
	dc.Owners = owners
	return dc
}

// InitialMode returns the configured mode, falling back to public.
func (c *Config) InitialMode(logger *slog.Logger) access.Mode {
	return access.ModeOrDefault(c.Mode, logger)
}

// LogLevel parses Logging.Level. Unknown values mean info.
func (c *Config) LogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.Logging.Level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Validate checks the configuration for values that would break startup.
func (c *Config) Validate() error {
	var problems []string

	if _, err := access.ParseMode(c.Mode); err != nil {
		problems = append(problems, fmt.Sprintf("mode: %v", err))
	}
	for _, o := range c.Owners {
		if len(identity.ExtractDigits(o)) < 7 {
			problems = append(problems, fmt.Sprintf("owners: %q is not a phone number", o))
		}
	}
	for _, s := range c.Sudo {
		if len(identity.ExtractDigits(s)) < 7 {
			problems = append(problems, fmt.Sprintf("sudo: %q is not a phone number", s))
		}
	}
	if c.Database.Path == "" {
		problems = append(problems, "database.path is required")
	}
	if c.Dispatch.DedupCapacity <= 0 {
		problems = append(problems, "dispatch.dedup_capacity must be positive")
	}
	if c.Builtin.KickallInterval < 0 || c.Builtin.KickallDelay < 0 {
		problems = append(problems, "builtin kickall durations must not be negative")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "text":
	default:
		problems = append(problems, fmt.Sprintf("logging.format: unknown format %q", c.Logging.Format))
	}
	if c.Scheduler.Enabled {
		for name, sched := range map[string]string{
			"optimize_schedule": c.Scheduler.OptimizeSchedule,
			"stats_schedule":    c.Scheduler.StatsSchedule,
			"health_schedule":   c.Scheduler.HealthSchedule,
		} {
			if sched == "" {
				continue
			}
			if err := scheduler.ValidateSchedule(sched); err != nil {
				problems = append(problems, fmt.Sprintf("scheduler.%s: %v", name, err))
			}
		}
		if c.Scheduler.JobTimeout < 0 {
			problems = append(problems, "scheduler.job_timeout must not be negative")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalidConfig, strings.Join(problems, "\n  - "))
	}
	return nil
}

// ErrInvalidConfig wraps validation problems.
var ErrInvalidConfig = fmt.Errorf("invalid configuration")

