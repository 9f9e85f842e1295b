// Package commands provides the CLI command implementations for eventide.
package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/AshkanYarmoradi/go-eventide/adapters"
	"github.com/AshkanYarmoradi/go-eventide/cli/config"
	"github.com/AshkanYarmoradi/go-eventide/cli/styles"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// app carries the state shared by all subcommands of one invocation.
type app struct {
	configPath string
	url        string
	driver     string
	logLevel   string
	noColor    bool

	cfg    *config.Config
	logger *slog.Logger

	// gateway replaces the configured connection when set.
	gateway adapters.Gateway
}

// NewRootCommand creates the root command for the eventide CLI
func NewRootCommand() *cobra.Command {
	return newRootCommand(&app{})
}

func newRootCommand(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "eventide",
		Short: "Command-line client for the Message DB event store",
		Long: styles.Title.Render(styles.IconStream+" eventide") + `

Write, read and follow messages in a Message DB event store.

` + styles.Title.Render("Quick Start:") + `

  ` + styles.Code.Render(`eventide write account-123 Deposited '{"amount":10}'`) + `
  ` + styles.Code.Render("eventide read account-123") + `
  ` + styles.Code.Render("eventide category account") + `
  ` + styles.Code.Render("eventide tail account") + `

` + styles.Title.Render("Configuration:") + `

  Settings are read from eventide.yaml in the current directory or a parent.
  MESSAGE_STORE_URL and --url override the configured connection.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if a.noColor {
				styles.DisableColors()
			}
			return a.init(cmd)
		},
	}

	// Global flags
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "Config file (default: nearest eventide.yaml)")
	flags.StringVar(&a.url, "url", "", "Connection URL, overrides the config file")
	flags.StringVar(&a.driver, "driver", "", "Driver: pgx, postgres or memory")
	flags.StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	flags.BoolVar(&a.noColor, "no-color", false, "Disable colored output")

	// Add subcommands
	rootCmd.AddCommand(newWriteCommand(a))
	rootCmd.AddCommand(newReadCommand(a))
	rootCmd.AddCommand(newCategoryCommand(a))
	rootCmd.AddCommand(newLastCommand(a))
	rootCmd.AddCommand(newStreamVersionCommand(a))
	rootCmd.AddCommand(newCategoryVersionCommand(a))
	rootCmd.AddCommand(newStatsCommand(a))
	rootCmd.AddCommand(newTailCommand(a))
	rootCmd.AddCommand(newRelayCommand(a))
	rootCmd.AddCommand(newDiagnoseCommand(a))
	rootCmd.AddCommand(NewVersionCommand(Version, Commit, BuildDate))

	return rootCmd
}

// Execute runs the root command
func Execute() error {
	rootCmd := NewRootCommand()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, styles.FormatError(err.Error()))
		return err
	}

	return nil
}
