package cmd

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

var (
	listenerCandidates string
	listenerThreshold  uint64
	listenerSignature  string
)

func init() {
	rootCmd.AddCommand(listenerCmd)

	listenerCmd.Flags().StringVar(&listenerCandidates, "candidates", "", "comma-separated candidate categories (recommendations, feed)")
	listenerCmd.Flags().Uint64Var(&listenerThreshold, "threshold", 0, "popularity threshold (niche)")
	listenerCmd.Flags().StringVar(&listenerSignature, "signature", "", "precomputed listener signature (skips the _sign call)")
}

// listenerCmd runs the per-listener read queries. Frontend keys need an HMAC
// signature for the listener id; the command fetches one via the backend key
// unless --signature supplies it. A backend key alone also passes: the server
// trusts backend callers with the path id.
var listenerCmd = &cobra.Command{
	Use:   "listener <id> <records|recommendations|patterns|niche|feed>",
	Short: "Run listener queries",
	Args:  cobra.ExactArgs(2),
	RunE:  runListenerQuery,
}

func runListenerQuery(cmd *cobra.Command, args []string) error {
	listener, query := args[0], args[1]
	s := resolveSettings(cmd)
	c := newAPIClient(s)

	path := "/v1/listeners/" + url.PathEscape(listener) + "/" + query
	params := url.Values{}
	switch query {
	case "records", "patterns":
	case "recommendations", "feed":
		if listenerCandidates == "" {
			return fmt.Errorf("%s needs --candidates", query)
		}
		params.Set("candidates", listenerCandidates)
	case "niche":
		params.Set("threshold", strconv.FormatUint(listenerThreshold, 10))
	default:
		return fmt.Errorf("unknown query %q (want records, recommendations, patterns, niche or feed)", query)
	}
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	key, headers, err := listenerAuth(c, s, listener)
	if err != nil {
		return err
	}

	var out map[string]any
	if err := c.getJSON(path, key, headers, &out); err != nil {
		return err
	}
	return printJSON(out)
}

// listenerAuth decides how to authenticate the query: signed frontend
// identity when a signature is available or fetchable, plain backend key
// otherwise.
func listenerAuth(c *apiClient, s settings, listener string) (string, map[string]string, error) {
	sig := listenerSignature
	if sig == "" && s.FrontendKey != "" && s.BackendKey != "" {
		fetched, err := c.fetchSignature(listener)
		if err != nil {
			return "", nil, err
		}
		sig = fetched
	}
	if sig != "" {
		if s.FrontendKey == "" {
			return "", nil, fmt.Errorf("a frontend key is required for signed listener queries")
		}
		return s.FrontendKey, map[string]string{
			"X-Listener-ID":        listener,
			"X-Listener-Signature": sig,
		}, nil
	}
	if s.BackendKey != "" {
		return s.BackendKey, nil, nil
	}
	return "", nil, fmt.Errorf("need --signature, or a backend key to fetch one")
}
