package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"cipherfeed/clients/cli/internal/backup"
	"cipherfeed/clients/cli/internal/prompt"
)

// exportCmd represents the export command
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a ledger database to a JSONL snapshot",
	Long: `Export a stopped server's database to a portable JSONL snapshot, one key
per line. Sealed handles are exported as-is; nothing is decrypted.

Example usage:
  cipherfeedctl export --db /var/lib/cipherfeed/.database --out backup.jsonl
  cipherfeedctl export   # prompts for paths`,
	RunE: runExport,
}

var (
	exportDB          string
	exportOut         string
	exportInteractive bool
)

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVar(&exportDB, "db", "", "path to the source database")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output snapshot file (default cipherfeed-export-<ts>.jsonl)")
	exportCmd.Flags().BoolVar(&exportInteractive, "interactive", true, "enable interactive prompts for missing values")
}

func runExport(cmd *cobra.Command, args []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")

	if exportDB == "" && exportInteractive {
		path, err := prompt.ForPath("Source database path", true)
		if err != nil {
			return fmt.Errorf("interactive configuration failed: %w", err)
		}
		exportDB = path
	}
	if exportDB == "" {
		return fmt.Errorf("source database path is required (provide --db)")
	}
	if exportOut == "" {
		exportOut = fmt.Sprintf("cipherfeed-export-%s.jsonl", time.Now().Format("2006-01-02_15-04-05"))
	}

	if !filepath.IsAbs(exportDB) {
		abs, err := filepath.Abs(exportDB)
		if err != nil {
			return fmt.Errorf("invalid database path: %w", err)
		}
		exportDB = abs
	}
	if _, err := os.Stat(exportDB); os.IsNotExist(err) {
		return fmt.Errorf("source database does not exist: %s", exportDB)
	}
	if _, err := os.Stat(exportOut); err == nil {
		if !prompt.Confirm(fmt.Sprintf("Output file %s exists. Overwrite?", exportOut)) {
			fmt.Println("Export cancelled.")
			return nil
		}
	}

	stats, err := backup.Export(exportDB, exportOut, verbose)
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}

	printBackupStats("Export", stats)
	return nil
}

func printBackupStats(op string, stats *backup.Stats) {
	fmt.Printf("\n🎉 %s completed successfully!\n", op)
	fmt.Printf("📊 Statistics:\n")
	fmt.Printf("  Records:          %d\n", stats.Records)
	fmt.Printf("  Projections:      %d\n", stats.Projections)
	fmt.Printf("  Requests:         %d\n", stats.Requests)
	fmt.Printf("  Aggregates:       %d\n", stats.Aggregates)
	fmt.Printf("  Category index:   %d\n", stats.IndexSlots)
	fmt.Printf("  Meta keys:        %d\n", stats.MetaKeys)
	if stats.OtherKeys > 0 {
		fmt.Printf("  Other keys:       %d\n", stats.OtherKeys)
	}
	fmt.Printf("  Total:            %d\n", stats.Total())
}
