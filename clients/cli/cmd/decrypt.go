package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var (
	decryptWait    bool
	decryptTimeout time.Duration
)

func init() {
	rootCmd.AddCommand(decryptCmd)

	decryptCmd.Flags().BoolVar(&decryptWait, "wait", false, "poll the request until it resolves")
	decryptCmd.Flags().DurationVar(&decryptTimeout, "wait-timeout", 30*time.Second, "how long to wait for resolution")
}

// decryptCmd asks the server to hand a record's handles to the oracle. The
// server answers 202 with a correlation id; with --wait the command polls the
// request and then prints the updated projection.
var decryptCmd = &cobra.Command{
	Use:   "decrypt <record-id>",
	Short: "Request decryption of a record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("record id must be numeric: %q", args[0])
		}
		s := resolveSettings(cmd)
		c := newAPIClient(s)

		var accepted struct {
			RequestID string `json:"request_id"`
		}
		if err := c.postJSON(fmt.Sprintf("/v1/records/%d/decrypt", id), s.readKey(), nil, &accepted); err != nil {
			return err
		}
		if !decryptWait {
			return printJSON(accepted)
		}

		if _, err := waitForRequest(c, s, accepted.RequestID, decryptTimeout); err != nil {
			return err
		}
		var proj struct {
			ID        uint64 `json:"id"`
			Category  string `json:"category"`
			Minutes   int64  `json:"minutes"`
			Listener  string `json:"listener"`
			Processed bool   `json:"processed"`
		}
		if err := c.getJSON(fmt.Sprintf("/v1/records/%d", id), s.readKey(), nil, &proj); err != nil {
			return err
		}
		return printJSON(proj)
	},
}

// pendingRequest is the wire form of a correlation entry.
type pendingRequest struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"`
	RecordID   uint64 `json:"record_id,omitempty"`
	Category   string `json:"category,omitempty"`
	State      string `json:"state"`
	CreatedTS  int64  `json:"created_ts"`
	ResolvedTS int64  `json:"resolved_ts,omitempty"`
	Value      string `json:"value,omitempty"`
}

// waitForRequest polls GET /v1/requests/{id} until the request leaves the
// created state or the timeout elapses.
func waitForRequest(c *apiClient, s settings, requestID string, timeout time.Duration) (pendingRequest, error) {
	deadline := time.Now().Add(timeout)
	var pr pendingRequest
	for {
		if err := c.getJSON("/v1/requests/"+requestID, s.readKey(), nil, &pr); err != nil {
			return pr, err
		}
		switch pr.State {
		case "resolved":
			return pr, nil
		case "expired":
			return pr, fmt.Errorf("request %s expired before the oracle answered", requestID)
		}
		if time.Now().After(deadline) {
			return pr, fmt.Errorf("request %s still pending after %v", requestID, timeout)
		}
		time.Sleep(250 * time.Millisecond)
	}
}
