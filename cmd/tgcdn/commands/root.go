// Package commands implements the CLI commands for the tgcdn server.
package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "tgcdn",
	Short: "tgcdn - Telegram-backed image CDN",
	Long: `tgcdn accepts image uploads over HTTP, stores each image as a document
in a Telegram chat, and serves it back through a stable internal URL.

The pipeline is a database-backed job queue: every accepted upload becomes
a queue row that a pool of bot workers drains, with an hourly reconciliation
sweep recovering stuck or failed jobs.

Use "tgcdn [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/tgcdn/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(initCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}
