package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"cipherfeed/clients/cli/internal/backup"
	"cipherfeed/clients/cli/internal/prompt"
)

// importCmd represents the import command
var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Restore a JSONL snapshot into a fresh ledger database",
	Long: `Restore a snapshot produced by export into a fresh database directory.
The target must not exist: import restores, it never merges into a live
database.

Example usage:
  cipherfeedctl import --in backup.jsonl --db /var/lib/cipherfeed/.database
  cipherfeedctl import   # prompts for paths`,
	RunE: runImport,
}

var (
	importIn          string
	importDB          string
	importYes         bool
	importInteractive bool
)

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().StringVar(&importIn, "in", "", "snapshot file to restore")
	importCmd.Flags().StringVar(&importDB, "db", "", "path to the target database (must not exist)")
	importCmd.Flags().BoolVar(&importYes, "yes", false, "skip the confirmation prompt")
	importCmd.Flags().BoolVar(&importInteractive, "interactive", true, "enable interactive prompts for missing values")
}

func runImport(cmd *cobra.Command, args []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")

	if importIn == "" && importInteractive {
		path, err := prompt.ForPath("Snapshot file", true)
		if err != nil {
			return fmt.Errorf("interactive configuration failed: %w", err)
		}
		importIn = path
	}
	if importDB == "" && importInteractive {
		path, err := prompt.ForPath("Target database path", false)
		if err != nil {
			return fmt.Errorf("interactive configuration failed: %w", err)
		}
		importDB = path
	}
	if importIn == "" || importDB == "" {
		return fmt.Errorf("snapshot file and target database path are required (provide --in and --db)")
	}

	if !filepath.IsAbs(importDB) {
		abs, err := filepath.Abs(importDB)
		if err != nil {
			return fmt.Errorf("invalid target path: %w", err)
		}
		importDB = abs
	}
	if _, err := os.Stat(importIn); os.IsNotExist(err) {
		return fmt.Errorf("snapshot file does not exist: %s", importIn)
	}

	fmt.Println("Import Summary:")
	fmt.Printf("  Snapshot:  %s\n", importIn)
	fmt.Printf("  Target:    %s\n", importDB)
	fmt.Println()

	if !importYes && !prompt.Confirm("Proceed with the import?") {
		fmt.Println("Import cancelled.")
		return nil
	}

	stats, err := backup.Import(importIn, importDB, verbose)
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}

	printBackupStats("Import", stats)
	return nil
}
