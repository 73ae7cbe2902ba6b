package commands

import (
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/nanoclaw/nanoclaw/internal/config"
)

// newAuthCmd groups credential-management commands.
func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage the LM provider credential stored in the OS keyring",
	}
	cmd.AddCommand(newAuthLoginCmd())
	return cmd
}

func newAuthLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store an API key in the OS keyring",
		Long: `Prompts for (or accepts via --key) the LM provider API key and
stores it in the OS keyring, so config.yaml never needs to carry it in
plaintext.

Examples:
  nanoclaw auth login
  nanoclaw auth login --key sk-ant-...`,
		RunE: runAuthLogin,
	}
	cmd.Flags().String("key", "", "API key to store (skips the interactive prompt)")
	return cmd
}

func runAuthLogin(cmd *cobra.Command, _ []string) error {
	apiKey, _ := cmd.Flags().GetString("key")

	if apiKey == "" {
		key, err := promptForAPIKey()
		if err != nil {
			return fmt.Errorf("reading API key: %w", err)
		}
		apiKey = key
	}
	if apiKey == "" {
		return fmt.Errorf("no API key provided")
	}

	if err := config.StoreAPIKeyInKeyring(apiKey); err != nil {
		return fmt.Errorf("storing key in OS keyring: %w", err)
	}
	fmt.Println("API key stored in the OS keyring.")
	return nil
}

// promptForAPIKey uses a huh form when stdin is a terminal (masked
// input); otherwise it returns an error asking for --key instead.
func promptForAPIKey() (string, error) {
	if !term.IsTerminal(int(0)) {
		return "", fmt.Errorf("stdin is not a terminal; pass --key instead")
	}

	var apiKey string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("LM provider API key").
				EchoMode(huh.EchoModePassword).
				Value(&apiKey).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("an API key is required")
					}
					return nil
				}),
		),
	)
	if err := form.Run(); err != nil {
		return "", err
	}
	return apiKey, nil
}
