package cmd

import (
	"bufio"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
)

var eventsRaw bool

func init() {
	rootCmd.AddCommand(eventsCmd)

	eventsCmd.Flags().BoolVar(&eventsRaw, "raw", false, "print the raw SSE frames instead of one line per event")
}

// eventsCmd tails the server's notification stream: submitted,
// discovery_requested, processed and aggregate_ready events as they happen.
// The stream is best-effort; a slow terminal misses events rather than
// stalling the server.
var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Tail the server's notification stream",
	RunE: func(cmd *cobra.Command, args []string) error {
		s := resolveSettings(cmd)

		req, err := http.NewRequest(http.MethodGet, s.Host+"/v1/events", nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+s.readKey())
		req.Header.Set("Accept", "text/event-stream")

		// No client timeout: the stream stays open until interrupted.
		httpc := &http.Client{}
		resp, err := httpc.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return &apiError{Status: resp.StatusCode}
		}

		scanner := bufio.NewScanner(resp.Body)
		var evType string
		for scanner.Scan() {
			line := scanner.Text()
			if eventsRaw {
				fmt.Println(line)
				continue
			}
			switch {
			case strings.HasPrefix(line, "event: "):
				evType = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				fmt.Printf("%-22s %s\n", evType, strings.TrimPrefix(line, "data: "))
			case strings.HasPrefix(line, ":"):
				// keepalive comment
			}
		}
		return scanner.Err()
	},
}
