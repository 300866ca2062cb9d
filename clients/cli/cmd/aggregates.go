package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	aggDecrypt     bool
	aggWait        bool
	aggWaitTimeout time.Duration
)

func init() {
	rootCmd.AddCommand(aggregatesCmd)

	aggregatesCmd.Flags().BoolVar(&aggDecrypt, "decrypt", false, "request decryption of the category counter")
	aggregatesCmd.Flags().BoolVar(&aggWait, "wait", false, "with --decrypt, poll until the counter value arrives")
	aggregatesCmd.Flags().DurationVar(&aggWaitTimeout, "wait-timeout", 30*time.Second, "how long to wait for resolution")
}

// aggregatesCmd reads the per-category aggregate table. Counters leave the
// server sealed; --decrypt routes a snapshot through the oracle and --wait
// polls the request until the decimal value lands.
var aggregatesCmd = &cobra.Command{
	Use:   "aggregates [category]",
	Short: "List categories or show one category's sealed counter",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s := resolveSettings(cmd)
		c := newAPIClient(s)

		if len(args) == 0 {
			if aggDecrypt {
				return fmt.Errorf("--decrypt needs a category argument")
			}
			var out struct {
				Categories []string `json:"categories"`
			}
			if err := c.getJSON("/v1/aggregates", s.readKey(), nil, &out); err != nil {
				return err
			}
			return printJSON(out)
		}

		category := args[0]
		if !aggDecrypt {
			var out struct {
				Category    string `json:"category"`
				Counter     []byte `json:"counter"`
				FirstSeenTS int64  `json:"first_seen_ts"`
			}
			if err := c.getJSON("/v1/aggregates/"+category, s.readKey(), nil, &out); err != nil {
				return err
			}
			return printJSON(out)
		}

		var accepted struct {
			RequestID string `json:"request_id"`
		}
		if err := c.postJSON("/v1/aggregates/"+category+"/decrypt", s.readKey(), nil, &accepted); err != nil {
			return err
		}
		if !aggWait {
			return printJSON(accepted)
		}
		pr, err := waitForRequest(c, s, accepted.RequestID, aggWaitTimeout)
		if err != nil {
			return err
		}
		return printJSON(struct {
			Category string `json:"category"`
			Value    string `json:"value"`
		}{Category: pr.Category, Value: pr.Value})
	},
}
