package commands

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/jholhewres/megatron/pkg/megatron/access"
	"github.com/jholhewres/megatron/pkg/megatron/config"
	"github.com/jholhewres/megatron/pkg/megatron/identity"
)

// defaultConfigPath is where setup writes when --config is not given.
const defaultConfigPath = "config.yaml"

// newSetupCmd creates the `megatron setup` command for interactive configuration.
func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup wizard",
		Long: `Starts an interactive wizard to create your initial config.yaml.
Asks for the bot name, owner phone number, prefix, mode and database path.

Examples:
  megatron setup
  megatron setup --config ./configs/megatron.yaml`,
		RunE: runSetup,
	}
}

// runSetup executes the interactive setup flow.
func runSetup(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	if path == "" {
		path = defaultConfigPath
	}
	written, err := runInteractiveSetup(path)
	if err != nil {
		return err
	}
	fmt.Printf("\nConfiguration written to %s\nStart the bot with: megatron serve\n", written)
	return nil
}

// setupAnswers are the wizard fields before they are folded into a Config.
type setupAnswers struct {
	name        string
	owner       string
	prefix      string
	multiPrefix bool
	mode        string
	database    string
	pairPhone   string
	autoReveal  bool
	overwrite   bool
}

// runInteractiveSetup asks for the essentials and writes the config to path.
func runInteractiveSetup(path string) (string, error) {
	cfg := config.DefaultConfig()
	answers := setupAnswers{
		name:     cfg.Name,
		prefix:   cfg.Prefix,
		mode:     cfg.Mode,
		database: cfg.Database.Path,
	}

	var modeOptions []huh.Option[string]
	for _, m := range access.Modes() {
		modeOptions = append(modeOptions, huh.NewOption(modeLabel(m), string(m)))
	}

	groups := []*huh.Group{
		huh.NewGroup(
			huh.NewNote().
				Title("Megatron setup").
				Description("Creates config.yaml. Every value can be changed later."),
			huh.NewInput().
				Title("Bot name").
				Value(&answers.name),
			huh.NewInput().
				Title("Your phone number (owner)").
				Description("Country code included, no + or spaces. Example: 5511999998888").
				Value(&answers.owner).
				Validate(validatePhone),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Command prefix").
				Description(`Comma separated. Use "none" to accept commands without a prefix.`).
				Value(&answers.prefix),
			huh.NewConfirm().
				Title("Accept any symbol as prefix?").
				Value(&answers.multiPrefix),
			huh.NewSelect[string]().
				Title("Mode").
				Options(modeOptions...).
				Value(&answers.mode),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("State database path").
				Value(&answers.database).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("path is required")
					}
					return nil
				}),
			huh.NewInput().
				Title("Link with a pairing code instead of a QR code?").
				Description("Enter the bot's phone number, or leave empty to scan a QR code.").
				Value(&answers.pairPhone).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return nil
					}
					return validatePhone(s)
				}),
			huh.NewConfirm().
				Title("Forward view-once media to the bot's own chat?").
				Value(&answers.autoReveal),
		),
	}

	if _, err := os.Stat(path); err == nil {
		groups = append(groups, huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("%s already exists. Overwrite it?", path)).
				Description("A backup is kept as " + path + ".bak").
				Value(&answers.overwrite),
		))
	} else {
		answers.overwrite = true
	}

	if err := huh.NewForm(groups...).Run(); err != nil {
		return "", fmt.Errorf("setup form: %w", err)
	}
	if !answers.overwrite {
		return "", fmt.Errorf("setup cancelled: %s left untouched", path)
	}

	applyAnswers(cfg, answers)
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	if err := config.SaveConfigToFile(cfg, path); err != nil {
		return "", err
	}
	return path, nil
}

// applyAnswers folds the wizard answers into cfg.
func applyAnswers(cfg *config.Config, a setupAnswers) {
	if name := strings.TrimSpace(a.name); name != "" {
		cfg.Name = name
	}
	cfg.Owners = []string{identity.ExtractDigits(a.owner)}
	cfg.Prefix = strings.TrimSpace(a.prefix)
	cfg.MultiPrefix = a.multiPrefix
	cfg.Mode = a.mode
	cfg.Database.Path = strings.TrimSpace(a.database)
	cfg.WhatsApp.PairPhone = identity.ExtractDigits(a.pairPhone)
	cfg.Builtin.AutoReveal = a.autoReveal
}

// validatePhone accepts numbers with a country code.
func validatePhone(s string) error {
	digits := identity.ExtractDigits(s)
	if digits == "" {
		return errors.New("phone number is required")
	}
	if len(digits) < 10 {
		return errors.New("number seems too short, include the country code")
	}
	return nil
}

func modeLabel(m access.Mode) string {
	switch m {
	case access.ModePublic:
		return "public - answer everyone"
	case access.ModePrivate:
		return "private - answer owners only"
	case access.ModeGroup:
		return "group - others only in groups"
	case access.ModePM:
		return "pm - others only in private chats"
	}
	return string(m)
}
