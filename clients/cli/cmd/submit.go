package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var (
	submitBundle   string
	submitCategory string
	submitMinutes  int64
	submitListener string
)

func init() {
	rootCmd.AddCommand(submitCmd)

	submitCmd.Flags().StringVar(&submitBundle, "bundle", "", "JSON bundle file with base64 handles, or - for stdin")
	submitCmd.Flags().StringVar(&submitCategory, "category", "", "podcast category (sealed via oracled before submission)")
	submitCmd.Flags().Int64Var(&submitMinutes, "minutes", -1, "minutes listened (sealed via oracled before submission)")
	submitCmd.Flags().StringVar(&submitListener, "listener", "", "listener id (sealed via oracled before submission)")
}

// submitCmd appends one sealed listen record to the ledger. Handles come from
// a pre-sealed bundle file or are sealed inline via the oracled socket.
var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a sealed listen record",
	Long: `Submit a ciphertext bundle to POST /v1/records. Pass a pre-sealed bundle
with --bundle, or let the command seal --category/--minutes/--listener through
the oracled socket first. The server stores the handles opaque and answers
with the assigned record id.`,
	RunE: runSubmit,
}

func runSubmit(cmd *cobra.Command, args []string) error {
	s := resolveSettings(cmd)

	var bundle cipherBundle
	switch {
	case submitBundle != "":
		data, err := readBundleFile(submitBundle)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(data, &bundle); err != nil {
			return fmt.Errorf("failed to parse bundle: %w", err)
		}
	case submitCategory != "" && submitMinutes >= 0 && submitListener != "":
		var err error
		bundle, err = sealBundle(s, submitCategory, submitMinutes, submitListener)
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("either --bundle or all of --category, --minutes and --listener are required")
	}

	c := newAPIClient(s)
	var out struct {
		ID          uint64 `json:"id"`
		SubmittedTS int64  `json:"submitted_ts"`
	}
	if err := c.postJSON("/v1/records", s.readKey(), bundle, &out); err != nil {
		return err
	}
	return printJSON(out)
}

func readBundleFile(path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read bundle from stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read bundle file: %w", err)
	}
	return data, nil
}
