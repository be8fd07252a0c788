package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/megatron/pkg/megatron/plugins"
)

// newPluginsCmd creates the `megatron plugins` command.
func newPluginsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "Inspect the plugin registry",
		Long: `Inspect the plugins the bot would load: compiled-in builtins plus the
shared objects found in plugins.dir.

Examples:
  megatron plugins list
  megatron plugins list --skipped`,
	}

	cmd.AddCommand(newPluginsListCmd())
	return cmd
}

func newPluginsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List loadable plugins and their commands",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
			if verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose"); verbose {
				logger = newLogger(cmd, cfg, os.Stderr)
			}

			registry := plugins.NewRegistry(cfg.Plugins, logger, plugins.Builtins()...)
			report := registry.Load(context.Background())
			defer registry.Shutdown()

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tKIND\tCOMMANDS\tGATES\tSOURCE")
			for _, p := range registry.All() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", p.Name, p.Kind, strings.Join(p.Commands, ","), gateList(p.Gates), p.Source)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Printf("\n%d plugin(s), %d command(s) in %s\n", len(report.Loaded), report.Commands, report.Duration.Round(time.Millisecond))

			showSkipped, _ := cmd.Flags().GetBool("skipped")
			if len(report.Duplicates) > 0 {
				fmt.Printf("Duplicate commands ignored: %s\n", strings.Join(report.Duplicates, ", "))
			}
			if showSkipped && len(report.Skipped) > 0 {
				fmt.Println("\nSkipped:")
				for _, s := range report.Skipped {
					fmt.Printf("  %s (%s): %s\n", s.Name, s.Source, s.Reason)
				}
			} else if len(report.Skipped) > 0 {
				fmt.Printf("%d plugin(s) skipped, use --skipped for details\n", len(report.Skipped))
			}
			return nil
		},
	}
	cmd.Flags().Bool("skipped", false, "show plugins that failed to load")
	return cmd
}

// gateList renders the permission gates of a plugin.
func gateList(g plugins.Gates) string {
	var out []string
	for _, gate := range []struct {
		on   bool
		name string
	}{
		{g.Creator, "creator"},
		{g.Owner, "owner"},
		{g.Sudo, "sudo"},
		{g.Group, "group"},
		{g.Private, "private"},
		{g.Admin, "admin"},
	} {
		if gate.on {
			out = append(out, gate.name)
		}
	}
	if len(out) == 0 {
		return "-"
	}
	return strings.Join(out, ",")
}
