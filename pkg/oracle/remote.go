package oracle

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Remote implements Oracle over an HTTP-over-unix transport to the oracled
// sidecar. Callbacks never flow through this client: oracled POSTs them to
// the server's /v1/oracle/callback endpoint. Proof verification happens
// locally under the shared proof key.
type Remote struct {
	addr  string
	httpc *http.Client
	keys  *Keyset
}

// NewRemote returns a client bound to addr (unix socket path). proofKeyHex
// must match oracled's proof key or every callback will be rejected.
func NewRemote(addr, proofKeyHex string) (*Remote, error) {
	keys, err := NewProofKeyset(proofKeyHex)
	if err != nil {
		return nil, err
	}
	tr := &http.Transport{}
	tr.DialContext = func(ctx context.Context, network, address string) (net.Conn, error) {
		return net.Dial("unix", addr)
	}
	return &Remote{addr: addr, httpc: &http.Client{Transport: tr, Timeout: 10 * time.Second}, keys: keys}, nil
}

// Submit forwards sealed handles to oracled and returns its request id.
func (r *Remote) Submit(ctx context.Context, handles [][]byte) (string, error) {
	if len(handles) == 0 {
		return "", fmt.Errorf("submit: no handles")
	}
	enc := make([]string, len(handles))
	for i, h := range handles {
		enc[i] = base64.StdEncoding.EncodeToString(h)
	}
	b, _ := json.Marshal(map[string]any{"handles": enc})
	reqq, err := http.NewRequestWithContext(ctx, "POST", "http://unix/submit", bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	reqq.Header.Set("Content-Type", "application/json")
	resp, err := r.httpc.Do(reqq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		return "", ErrBusy
	}
	if resp.StatusCode != 200 {
		return "", fmt.Errorf("oracled submit: status %d", resp.StatusCode)
	}
	var out struct {
		RequestID string `json:"request_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.RequestID == "" {
		return "", fmt.Errorf("oracled submit: empty request id")
	}
	return out.RequestID, nil
}

// Seal asks oracled to move plaintext into the confidential domain.
func (r *Remote) Seal(plaintext []byte) ([]byte, error) {
	b, _ := json.Marshal(map[string]string{"plaintext": base64.StdEncoding.EncodeToString(plaintext)})
	reqq, _ := http.NewRequest("POST", "http://unix/seal", bytes.NewReader(b))
	reqq.Header.Set("Content-Type", "application/json")
	resp, err := r.httpc.Do(reqq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("oracled seal: status %d", resp.StatusCode)
	}
	var out struct {
		Handle string `json:"handle"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(out.Handle)
}

// VerifyProof checks a callback attestation under the shared proof key.
func (r *Remote) VerifyProof(requestID string, plaintext []byte, proof string) bool {
	return r.keys.VerifyProof(requestID, plaintext, proof)
}

// Available probes oracled liveness.
func (r *Remote) Available() bool {
	reqq, _ := http.NewRequest("GET", "http://unix/health", nil)
	resp, err := r.httpc.Do(reqq)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == 200
}

// Close drops idle connections; the socket itself belongs to oracled.
func (r *Remote) Close() error {
	r.httpc.CloseIdleConnections()
	return nil
}
