// Package cli implements the automations command line.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/liamcoop/automations/automation"
	"github.com/liamcoop/automations/internal/config"
	"github.com/liamcoop/automations/internal/logger"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
}

// NewRootCommand creates the root command for the automations CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "automations",
		Short: "Manage trigger -> action automations",
		Long: `Create automations from plain sentences, list and manage them,
and run evaluation passes by hand.

  automations add "Every Monday at 9am, send me a weekly summary"
  automations message --from boss@corp.com "the merger is off"`,
		SilenceUsage:  true,
		SilenceErrors: true, // main prints the error
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.Verbose {
				logger.SetLevel(logger.LevelDebug)
			} else {
				logger.SetLevel(logger.LevelWarning)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", os.Getenv("AUTOMATIONS_CONFIG"), "path to the YAML config file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log to stderr at debug level")

	cmd.AddCommand(NewAddCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewToggleCommand(opts))
	cmd.AddCommand(NewTickCommand(opts))
	cmd.AddCommand(NewMessageCommand(opts))

	return cmd
}

// withManager opens the configured store for the duration of fn
func withManager(opts *RootOptions, fn func(*automation.Manager) error) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}

	m, err := automation.Open(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Close(); err != nil {
			logger.Warn("failed to close automations store", "error", err)
		}
	}()

	return fn(m)
}

func errNotFound(id string) error {
	return fmt.Errorf("automation %s not found", id)
}
