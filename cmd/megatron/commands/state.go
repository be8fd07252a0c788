package commands

import (
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jholhewres/megatron/pkg/megatron/state"
)

// newStateCmd creates the `megatron state` command.
func newStateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect and edit the persisted bot state",
		Long: `Inspect the state database: disabled commands, sticker bindings and
runtime settings. Stop the bot before editing; a running bot keeps its own
in-memory copy.

Examples:
  megatron state disabled
  megatron state enable ping
  megatron state bonds
  megatron state settings`,
	}

	cmd.AddCommand(
		newStateDisabledCmd(),
		newStateEnableCmd(),
		newStateBondsCmd(),
		newStateSettingsCmd(),
	)
	return cmd
}

// withState opens the configured state database for the duration of fn.
func withState(cmd *cobra.Command, fn func(st *state.Store) error) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	st, err := state.Open(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("opening state: %w", err)
	}
	defer st.Close()
	return fn(st)
}

func newStateDisabledCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disabled",
		Short: "List disabled commands",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withState(cmd, func(st *state.Store) error {
				list := st.Disabled.List()
				if len(list) == 0 {
					fmt.Println("No commands are disabled.")
					return nil
				}
				for i, c := range list {
					fmt.Printf("%d. %s\n", i+1, c)
				}
				return nil
			})
		},
	}
}

func newStateEnableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enable <command>",
		Short: "Re-enable a disabled command",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withState(cmd, func(st *state.Store) error {
				changed, err := st.Disabled.Enable(args[0])
				if err != nil {
					return err
				}
				if !changed {
					fmt.Printf("%s is not disabled\n", args[0])
					return nil
				}
				fmt.Printf("%s enabled\n", args[0])
				return nil
			})
		},
	}
}

func newStateBondsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bonds",
		Short: "List sticker bindings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withState(cmd, func(st *state.Store) error {
				bindings := st.Bindings.List()
				if len(bindings) == 0 {
					fmt.Println("No bonded stickers.")
					return nil
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "FINGERPRINT\tCOMMAND")
				for _, b := range bindings {
					fmt.Fprintf(w, "%s\t%s\n", b.Fingerprint, b.Command)
				}
				return w.Flush()
			})
		},
	}
}

func newStateSettingsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "settings",
		Short: "Show the runtime mode and sudo list",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withState(cmd, func(st *state.Store) error {
				fmt.Printf("Mode: %s\n", st.Settings.Mode())
				sudo := st.Settings.Sudo()
				if len(sudo) == 0 {
					fmt.Println("Sudo: (none)")
					return nil
				}
				fmt.Println("Sudo:")
				for _, n := range sudo {
					fmt.Printf("  %s\n", n)
				}
				return nil
			})
		},
	}
}
