package cmd

import (
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(requestCmd)
}

// requestCmd inspects one correlation entry. Resolved aggregate requests
// carry the decrypted counter in the value field; record results land in the
// record's projection instead.
var requestCmd = &cobra.Command{
	Use:   "request <id>",
	Short: "Show a pending oracle request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s := resolveSettings(cmd)
		c := newAPIClient(s)

		var pr pendingRequest
		if err := c.getJSON("/v1/requests/"+args[0], s.readKey(), nil, &pr); err != nil {
			return err
		}
		return printJSON(pr)
	},
}
