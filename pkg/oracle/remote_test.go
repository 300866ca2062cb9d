package oracle_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"cipherfeed/pkg/oracle"
)

// fakeSidecar serves the oracled surface over a unix socket using a real
// keyset, enough to exercise the Remote client end to end.
func fakeSidecar(t *testing.T, ks *oracle.Keyset) string {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "oracled.sock")
	ln, err := net.Listen("unix", sock)
	if err != nil {
		t.Fatalf("listen unix: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/seal", func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Plaintext string `json:"plaintext"`
		}
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		pt, err := base64.StdEncoding.DecodeString(in.Plaintext)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h, err := ks.Seal(pt)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"handle": base64.StdEncoding.EncodeToString(h)})
	})
	mux.HandleFunc("/submit", func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Handles []string `json:"handles"`
		}
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil || len(in.Handles) == 0 {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"request_id": "req-fake-1"})
	})

	srv := &http.Server{Handler: mux}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return sock
}

func TestRemoteAgainstFakeSidecar(t *testing.T) {
	proofHex, err := oracle.GenerateKeyHex()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	ks, err := oracle.NewKeyset("", proofHex)
	if err != nil {
		t.Fatalf("keyset: %v", err)
	}
	sock := fakeSidecar(t, ks)

	r, err := oracle.NewRemote(sock, proofHex)
	if err != nil {
		t.Fatalf("new remote: %v", err)
	}
	defer func() { _ = r.Close() }()

	if !r.Available() {
		t.Fatal("sidecar should report available")
	}

	handle, err := r.Seal([]byte("news"))
	if err != nil {
		t.Fatalf("seal via sidecar: %v", err)
	}
	pt, err := ks.Open(handle)
	if err != nil || string(pt) != "news" {
		t.Fatalf("sidecar handle does not open: %q %v", pt, err)
	}

	id, err := r.Submit(context.Background(), [][]byte{handle})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if id != "req-fake-1" {
		t.Fatalf("request id = %q", id)
	}

	// Proof verification is local and shares oracled's key.
	proof := ks.Proof(id, []byte("17"))
	if !r.VerifyProof(id, []byte("17"), proof) {
		t.Fatal("remote rejected a valid proof")
	}
}

func TestRemoteUnavailableWhenSocketMissing(t *testing.T) {
	proofHex, err := oracle.GenerateKeyHex()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	r, err := oracle.NewRemote(filepath.Join(t.TempDir(), "missing.sock"), proofHex)
	if err != nil {
		t.Fatalf("new remote: %v", err)
	}
	if r.Available() {
		t.Fatal("missing socket should be unavailable")
	}
	if _, err := r.Submit(context.Background(), [][]byte{[]byte("x")}); err == nil {
		t.Fatal("submit should fail without a socket")
	}
}
