package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(recordCmd)
}

// recordCmd reads one record's projection. Before the oracle resolves the
// record the projection comes back zeroed with processed=false; this is not
// an error, it just means the plaintext has not landed yet.
var recordCmd = &cobra.Command{
	Use:   "record <id>",
	Short: "Show a record's projection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("record id must be numeric: %q", args[0])
		}
		s := resolveSettings(cmd)
		c := newAPIClient(s)

		var out struct {
			ID        uint64 `json:"id"`
			Category  string `json:"category"`
			Minutes   int64  `json:"minutes"`
			Listener  string `json:"listener"`
			Processed bool   `json:"processed"`
		}
		if err := c.getJSON(fmt.Sprintf("/v1/records/%d", id), s.readKey(), nil, &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}
