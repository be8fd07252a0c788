// Package commands implements the megatron CLI commands using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with every subcommand registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "megatron",
		Short: "Megatron - WhatsApp command bot",
		Long: `Megatron is a plugin-driven WhatsApp bot written in Go.

Examples:
  megatron setup
  megatron serve --config ./config.yaml
  megatron console
  megatron plugins list
  megatron state bonds`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newServeCmd(version),
		newSetupCmd(),
		newConsoleCmd(version),
		newPluginsCmd(),
		newStateCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}
