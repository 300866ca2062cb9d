package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"cipherfeed/clients/cli/config"
	"cipherfeed/clients/cli/internal/prompt"
)

// configureCmd represents the configure command
var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Interactively write the client config file",
	Long: `Walk through the connection settings and persist them to the config file
(default $HOME/.cipherfeedctl.yaml, written 0600). API keys are entered with
masked input and never echoed.`,
	RunE: runConfigure,
}

func init() {
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("cannot locate home directory: %w", err)
		}
		path = filepath.Join(home, ".cipherfeedctl.yaml")
	}

	// Start from the existing file so re-running only changes what the
	// operator types.
	cfg := &config.Config{Host: "http://localhost:8080"}
	if existing, err := config.LoadFromFile(path); err == nil {
		cfg = existing
		fmt.Printf("Updating existing config: %s\n\n", path)
	}

	host, err := prompt.ForString("Server host", cfg.Host)
	if err != nil {
		return err
	}
	cfg.Host = host

	if cfg.FrontendKey != "" {
		fmt.Printf("Frontend key currently %s\n", prompt.MaskKey(cfg.FrontendKey))
		if prompt.Confirm("Replace frontend key?") {
			cfg.FrontendKey = ""
		}
	}
	if cfg.FrontendKey == "" {
		key, err := prompt.ForAPIKey("Frontend API key", true)
		if err != nil {
			return err
		}
		cfg.FrontendKey = key
	}

	if cfg.BackendKey != "" {
		fmt.Printf("Backend key currently %s\n", prompt.MaskKey(cfg.BackendKey))
		if prompt.Confirm("Replace backend key?") {
			cfg.BackendKey = ""
		}
	}
	if cfg.BackendKey == "" {
		key, err := prompt.ForAPIKey("Backend API key", true)
		if err != nil {
			return err
		}
		cfg.BackendKey = key
	}

	listener, err := prompt.ForString("Default listener id", cfg.Listener)
	if err != nil {
		return err
	}
	cfg.Listener = listener

	socket, err := prompt.ForString("Oracled socket", cfg.OracledSocket)
	if err != nil {
		return err
	}
	cfg.OracledSocket = socket

	if !cfg.IsComplete() {
		fmt.Printf("\nWarning: config is incomplete (missing %v); API commands will need flags or environment variables.\n", cfg.MissingFields())
	}

	if err := config.SaveToFile(cfg, path); err != nil {
		return err
	}

	showKey := func(key string) string {
		if key == "" {
			return "(not set)"
		}
		return prompt.MaskKey(key)
	}
	fmt.Printf("\nSaved %s\n", path)
	fmt.Printf("  Host:          %s\n", cfg.Host)
	fmt.Printf("  Frontend key:  %s\n", showKey(cfg.FrontendKey))
	fmt.Printf("  Backend key:   %s\n", showKey(cfg.BackendKey))
	if cfg.Listener != "" {
		fmt.Printf("  Listener:      %s\n", cfg.Listener)
	}
	if cfg.OracledSocket != "" {
		fmt.Printf("  Oracled:       %s\n", cfg.OracledSocket)
	}
	return nil
}
