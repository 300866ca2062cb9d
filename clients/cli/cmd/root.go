package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "cipherfeedctl",
	Short: "CipherFeed CLI for sealing, submitting and inspecting listen records",
	Long: `cipherfeedctl talks to a running CipherFeed server and its oracle
sidecar: seal plaintext into handles, submit sealed records, trigger
decryptions, run listener queries, tail the event stream and benchmark the
service. It also carries offline tools (verify, debug, export, import) that
operate directly on a stopped server's database.`,
	Version: fmt.Sprintf("%s (commit: %s)", version, commit),
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	// Disable completion command
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	// Global flags
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path (default is $HOME/.cipherfeedctl.yaml)")
	rootCmd.PersistentFlags().String("host", "", "CipherFeed server base URL")
	rootCmd.PersistentFlags().String("backend-key", "", "backend API key")
	rootCmd.PersistentFlags().String("frontend-key", "", "frontend API key")
	rootCmd.PersistentFlags().String("listener", "", "listener id for queries and signatures")
	rootCmd.PersistentFlags().String("socket", "", "oracled unix socket for sealing")
}
