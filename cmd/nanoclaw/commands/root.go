// Package commands implements the nanoclaw CLI's subcommands via
// cobra.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/nanoclaw/nanoclaw/internal/config"
)

// NewRootCmd builds the root command with every subcommand attached.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "nanoclaw",
		Short: "nanoclaw - multi-channel conversational agent runtime",
		Long: `nanoclaw normalizes chat platforms (Telegram, Slack, Microsoft Teams,
WhatsApp, a local CLI) onto a common message bus, runs an LM+tool
reasoning loop, and replies back through the originating channel.

Examples:
  nanoclaw run
  nanoclaw run --channel cli
  nanoclaw cron list
  nanoclaw auth login`,
		Version: version,
	}

	rootCmd.AddCommand(
		newRunCmd(),
		newCronCmd(),
		newAuthCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to config.yaml")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}

// resolveConfigPath checks the explicit --config flag first, then
// falls back to a search of standard locations.
func resolveConfigPath(cmd *cobra.Command) string {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return path
	}
	return config.FindConfigFile()
}
