package cmd

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"cipherfeed/clients/cli/config"
)

// settings is the effective client configuration for one invocation: built-in
// defaults, overridden by the config file, then CIPHERFEED_* environment
// variables, then explicit flags.
type settings struct {
	Host          string
	BackendKey    string
	FrontendKey   string
	Listener      string
	OracledSocket string
	Timeout       time.Duration
}

// Helper function to get environment variable with fallback
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func resolveSettings(cmd *cobra.Command) settings {
	s := settings{
		Host:          "http://localhost:8080",
		OracledSocket: "/tmp/cipherfeed-oracled.sock",
		Timeout:       30 * time.Second,
	}

	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, ".cipherfeedctl.yaml")
		}
	}
	if cfg, err := config.LoadFromFile(path); err == nil {
		if cfg.Host != "" {
			s.Host = cfg.Host
		}
		if cfg.BackendKey != "" {
			s.BackendKey = cfg.BackendKey
		}
		if cfg.FrontendKey != "" {
			s.FrontendKey = cfg.FrontendKey
		}
		if cfg.Listener != "" {
			s.Listener = cfg.Listener
		}
		if cfg.OracledSocket != "" {
			s.OracledSocket = cfg.OracledSocket
		}
	}

	s.Host = getEnvOrDefault("CIPHERFEED_HOST", s.Host)
	s.BackendKey = getEnvOrDefault("CIPHERFEED_BACKEND_KEY", s.BackendKey)
	s.FrontendKey = getEnvOrDefault("CIPHERFEED_FRONTEND_KEY", s.FrontendKey)
	s.Listener = getEnvOrDefault("CIPHERFEED_LISTENER", s.Listener)
	s.OracledSocket = getEnvOrDefault("CIPHERFEED_ORACLED_SOCKET", s.OracledSocket)

	// Flags win when set explicitly.
	for flagName, dst := range map[string]*string{
		"host":         &s.Host,
		"backend-key":  &s.BackendKey,
		"frontend-key": &s.FrontendKey,
		"listener":     &s.Listener,
		"socket":       &s.OracledSocket,
	} {
		if f := cmd.Flags().Lookup(flagName); f != nil && f.Changed {
			*dst = f.Value.String()
		}
	}

	s.Host = strings.TrimRight(s.Host, "/")
	return s
}

// readKey picks the key to authenticate a public-surface call: the frontend
// key when present, otherwise the backend key.
func (s settings) readKey() string {
	if s.FrontendKey != "" {
		return s.FrontendKey
	}
	return s.BackendKey
}

// apiClient is a thin JSON client for the server's /v1 surface.
type apiClient struct {
	s     settings
	httpc *http.Client
}

func newAPIClient(s settings) *apiClient {
	return &apiClient{s: s, httpc: &http.Client{Timeout: s.Timeout}}
}

type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	msg := strings.TrimSpace(e.Body)
	if msg == "" {
		return fmt.Sprintf("server answered %d", e.Status)
	}
	return fmt.Sprintf("server answered %d: %s", e.Status, msg)
}

func (c *apiClient) do(method, path, key string, headers map[string]string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.s.Host+path, rd)
	if err != nil {
		return err
	}
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &apiError{Status: resp.StatusCode, Body: string(raw)}
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func (c *apiClient) getJSON(path, key string, headers map[string]string, out any) error {
	return c.do(http.MethodGet, path, key, headers, nil, out)
}

func (c *apiClient) postJSON(path, key string, body, out any) error {
	return c.do(http.MethodPost, path, key, nil, body, out)
}

// fetchSignature asks the server to sign a listener id. Requires a backend
// key; the same key must be registered as a signing key on the server.
func (c *apiClient) fetchSignature(listener string) (string, error) {
	if c.s.BackendKey == "" {
		return "", fmt.Errorf("a backend key is required to fetch listener signatures")
	}
	var out struct {
		Listener  string `json:"listener"`
		Signature string `json:"signature"`
	}
	err := c.postJSON("/v1/_sign", c.s.BackendKey, map[string]string{"listener": listener}, &out)
	if err != nil {
		return "", fmt.Errorf("failed to fetch signature: %w", err)
	}
	return out.Signature, nil
}

// sealViaSocket seals one plaintext into a handle through the oracled unix
// socket. Access is gated by peer credentials, so this only works for
// processes running as an allowed uid on the same host.
func sealViaSocket(socket string, plaintext []byte, timeout time.Duration) ([]byte, error) {
	httpc := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socket)
			},
		},
	}
	body, err := json.Marshal(map[string]string{
		"plaintext": base64.StdEncoding.EncodeToString(plaintext),
	})
	if err != nil {
		return nil, err
	}
	resp, err := httpc.Post("http://unix/seal", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to reach oracled at %s: %w", socket, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, &apiError{Status: resp.StatusCode, Body: string(raw)}
	}
	var out struct {
		Handle []byte `json:"handle"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode seal response: %w", err)
	}
	return out.Handle, nil
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
