package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/devhw/tgcdn/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample tgcdn configuration file.

By default, the configuration file is created at $XDG_CONFIG_HOME/tgcdn/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  tgcdn init

  # Initialize with custom path
  tgcdn init --config /etc/tgcdn/config.yaml

  # Force overwrite existing config
  tgcdn init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := GetConfigFile()
	if path == "" {
		path = config.GetDefaultConfigPath()
	}

	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
	}

	if err := config.SaveConfig(config.GetDefaultConfig(), path); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", path)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Set telegram.chat_id and telegram.tokens (or export SENDBOT_CHAT_ID / SENDBOT_TOKENS)")
	fmt.Println("  2. Point database.mysql at your MySQL instance (or export DB_USER / DB_PASSWORD / DB_HOST / DB_PORT / DB_DATABASE)")
	fmt.Println("  3. Start the server with: tgcdn start")

	return nil
}
