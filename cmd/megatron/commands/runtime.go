package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/megatron/pkg/megatron/channels"
	"github.com/jholhewres/megatron/pkg/megatron/config"
	"github.com/jholhewres/megatron/pkg/megatron/dispatch"
	"github.com/jholhewres/megatron/pkg/megatron/plugins"
	_ "github.com/jholhewres/megatron/pkg/megatron/plugins/builtin"
	"github.com/jholhewres/megatron/pkg/megatron/state"
	"github.com/jholhewres/megatron/pkg/megatron/tasks"
)

// shutdownTimeout bounds graceful shutdown.
const shutdownTimeout = 10 * time.Second

// bot bundles the transport-independent parts of a running bot.
type bot struct {
	cfg        *config.Config
	logger     *slog.Logger
	state      *state.Store
	registry   *plugins.Registry
	tasks      *tasks.Registry
	services   *plugins.Services
	dispatcher *dispatch.Dispatcher
}

// newBot opens the state store, loads plugins and builds the dispatcher
// over client.
func newBot(ctx context.Context, cfg *config.Config, client channels.Client, version string, logger *slog.Logger) (*bot, error) {
	st, err := state.Open(cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("opening state: %w", err)
	}
	if err := st.Settings.Seed(cfg.InitialMode(logger), cfg.Sudo); err != nil {
		st.Close()
		return nil, fmt.Errorf("seeding settings: %w", err)
	}

	registry := plugins.NewRegistry(cfg.Plugins, logger, plugins.Builtins()...)
	report := registry.Load(ctx)
	for _, s := range report.Skipped {
		logger.Warn("plugin skipped", "name", s.Name, "source", s.Source, "reason", s.Reason)
	}

	taskReg := tasks.New(logger)
	taskReg.OnDone = func(chatID, name string, status tasks.Status, err error) {
		logger.Info("task finished", "chat", chatID, "task", name, "status", status, "error", err)
	}

	services := &plugins.Services{
		State:    st,
		Tasks:    taskReg,
		Registry: registry,
		Prefixes: cfg.Prefixes(),
		Bot: plugins.BotInfo{
			Name:      cfg.Name,
			Version:   version,
			StartedAt: time.Now(),
		},
		Options: cfg.Builtin,
	}

	return &bot{
		cfg:        cfg,
		logger:     logger,
		state:      st,
		registry:   registry,
		tasks:      taskReg,
		services:   services,
		dispatcher: dispatch.New(cfg.DispatchConfig(), client, services, logger),
	}, nil
}

// close releases everything newBot acquired, waiting for running plugins.
func (b *bot) close() {
	b.tasks.Shutdown()
	b.dispatcher.Wait()
	b.registry.Shutdown()
	if err := b.state.Close(); err != nil {
		b.logger.Error("failed to close state", "error", err)
	}
}

// loadConfig resolves the --config flag.
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, path, err := config.Load(configPath)
	if err != nil {
		if path != "" {
			return nil, path, fmt.Errorf("loading config from %s: %w", path, err)
		}
		return nil, "", fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

// newLogger builds the process logger from config and the --verbose flag.
func newLogger(cmd *cobra.Command, cfg *config.Config, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	logLevel := cfg.LogLevel()
	if verbose {
		logLevel = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel})
	}
	return slog.New(handler)
}
