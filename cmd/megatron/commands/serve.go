package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jholhewres/megatron/pkg/megatron/channels/whatsapp"
	"github.com/jholhewres/megatron/pkg/megatron/config"
	"github.com/jholhewres/megatron/pkg/megatron/scheduler"
)

// errNotConnected is reported by the health job while WhatsApp is offline.
var errNotConnected = errors.New("whatsapp not connected")

// newServeCmd creates the `megatron serve` command that runs the bot.
func newServeCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to WhatsApp and start answering commands",
		Long: `Start Megatron as a long-running service: connect to WhatsApp
(QR code or pair code on first run), load plugins and dispatch messages.

Examples:
  megatron serve
  megatron serve --config ./config.yaml -v`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, version)
		},
	}
}

func runServe(cmd *cobra.Command, version string) error {
	// ── Load config ──
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	// ── Configure logger ──
	logger := newLogger(cmd, cfg, os.Stdout)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Transport and bot ──
	wa := whatsapp.New(cfg.WhatsApp, logger)
	b, err := newBot(ctx, cfg, wa, version, logger)
	if err != nil {
		return err
	}

	var restart atomic.Bool
	b.services.Restart = func() error {
		restart.Store(true)
		cancel()
		return nil
	}

	wa.AddConnectionObserver(whatsapp.ConnectionObserverFunc(func(evt whatsapp.ConnectionEvent) {
		logger.Info("connection state changed", "state", evt.State, "previous", evt.Previous, "reason", evt.Reason)
	}))

	if err := wa.Connect(ctx); err != nil {
		b.close()
		return fmt.Errorf("failed to connect: %w", err)
	}

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		b.dispatcher.Run(ctx, wa.Envelopes())
	}()

	// ── Maintenance jobs ──
	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched = scheduler.New(cfg.Scheduler, logger)
		err := sched.RegisterMaintenance(scheduler.Maintenance{
			Optimize: b.state.Optimize,
			Stats: func(context.Context) error {
				s := b.dispatcher.Stats()
				logger.Info("dispatch stats",
					"received", s.Received,
					"duplicates", s.Duplicates,
					"filtered", s.Filtered,
					"dropped", s.Dropped,
					"invoked", s.Invoked,
					"failed", s.Failed,
					"passive_failures", s.PassiveFailures,
				)
				return nil
			},
			Health: []scheduler.JobFunc{
				b.state.Ping,
				func(context.Context) error {
					if h := wa.Health(); !h.Connected {
						return fmt.Errorf("%w (state %s, %d reconnect attempts)", errNotConnected, h.State, h.ReconnectAttempts)
					}
					return nil
				},
			},
		})
		if err != nil {
			logger.Error("failed to register maintenance jobs", "error", err)
		}
		sched.Start(ctx)
	}

	// ── Wait for shutdown ──
	logger.Info("Megatron running. Press Ctrl+C to stop.",
		"name", cfg.Name,
		"prefix", cfg.Prefix,
		"mode", b.state.Settings.Mode(),
		"version", version,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received, stopping...")
	case <-ctx.Done():
		if restart.Load() {
			logger.Info("restart requested, stopping...")
		}
	}
	cancel()

	// Graceful shutdown with timeout.
	done := make(chan struct{})
	go func() {
		if sched != nil {
			sched.Stop()
		}
		_ = wa.Disconnect()
		<-dispatchDone
		b.close()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(shutdownTimeout):
		logger.Warn("shutdown timed out after 10s, forcing exit")
	}

	if restart.Load() {
		return reexec()
	}
	return nil
}

// reexec replaces the current process with a fresh copy of itself.
func reexec() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("restart: locating executable: %w", err)
	}
	return syscall.Exec(exe, os.Args, os.Environ())
}

// resolveConfig loads config from file, offering interactive setup when
// none exists and stdin is a terminal.
func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")
	if configPath != "" || config.FindConfigFile() != "" || !term.IsTerminal(int(os.Stdin.Fd())) {
		cfg, path, err := loadConfig(cmd)
		if err != nil {
			return nil, err
		}
		if path != "" {
			slog.Info("config loaded", "path", path)
		}
		return cfg, nil
	}

	// No config file: offer interactive setup before connecting.
	runSetupNow := true
	err := huh.NewConfirm().
		Title("No configuration file found").
		Description("Megatron needs a config.yaml with at least one owner number.\nRun the setup wizard now?").
		Affirmative("Yes").
		Negative("No").
		Value(&runSetupNow).
		Run()
	if err != nil {
		return nil, fmt.Errorf("setup prompt: %w", err)
	}
	if !runSetupNow {
		fmt.Println("Run 'megatron setup' to create the configuration.")
		return nil, fmt.Errorf("configuration required before starting")
	}

	path, err := runInteractiveSetup(defaultConfigPath)
	if err != nil {
		return nil, fmt.Errorf("setup: %w", err)
	}

	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading config from %s: %w", path, err)
	}
	slog.Info("config loaded after setup", "path", path)
	return cfg, nil
}
