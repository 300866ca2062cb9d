// oracled is the out-of-process decryption oracle. It owns the master key,
// serves seal/submit over a unix socket restricted by peer credentials, and
// delivers finished decryptions to the server's callback endpoint with an
// HMAC proof. The server process never holds the master key in this mode.
package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"cipherfeed/pkg/logger"
	"cipherfeed/pkg/oracle"
	"cipherfeed/pkg/shutdown"
)

type job struct {
	id      string
	handles [][]byte
}

type daemon struct {
	keys        *oracle.Keyset
	jobs        chan job
	callbackURL string
	backendKey  string
	httpc       *http.Client
	allowedUIDs map[int]struct{}
	wg          sync.WaitGroup
}

func main() {
	_ = godotenv.Load(".env")

	var (
		socketPath  string
		dataDir     string
		callbackURL string
		backendKey  string
		workers     int
		queue       int
	)
	flag.StringVar(&socketPath, "socket", envOr("CIPHERFEED_ORACLED_SOCKET", "/tmp/cipherfeed-oracled.sock"), "unix socket path")
	flag.StringVar(&dataDir, "data-dir", envOr("CIPHERFEED_ORACLED_DATA_DIR", "./oracled-data"), "directory for audit log and generated keys")
	flag.StringVar(&callbackURL, "callback-url", envOr("CIPHERFEED_ORACLED_CALLBACK_URL", "http://127.0.0.1:8080/v1/oracle/callback"), "server callback endpoint")
	flag.StringVar(&backendKey, "backend-key", os.Getenv("CIPHERFEED_ORACLED_BACKEND_KEY"), "backend API key used when posting callbacks")
	flag.IntVar(&workers, "workers", 4, "decryption worker count")
	flag.IntVar(&queue, "queue", 1024, "job queue capacity")
	flag.Parse()

	logger.InitWithLevel(os.Getenv("CIPHERFEED_ORACLED_LOG_LEVEL"), "console")
	defer logger.Sync()

	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		logger.Error("data_dir_create_failed", "dir", dataDir, "error", err)
		os.Exit(1)
	}
	if err := logger.AttachAuditFileSink(dataDir); err != nil {
		logger.Warn("audit_sink_unavailable", "dir", dataDir, "error", err)
	}

	keys, err := loadKeys(dataDir)
	if err != nil {
		logger.Error("key_setup_failed", "error", err)
		os.Exit(1)
	}

	d := &daemon{
		keys:        keys,
		jobs:        make(chan job, queue),
		callbackURL: callbackURL,
		backendKey:  backendKey,
		httpc:       &http.Client{Timeout: 10 * time.Second},
		allowedUIDs: parseAllowedUIDs(os.Getenv("CIPHERFEED_ORACLED_ALLOWED_UIDS")),
	}

	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/seal", d.requirePeer(d.handleSeal))
	mux.HandleFunc("/submit", d.requirePeer(d.handleSubmit))

	// remove old socket
	_ = os.Remove(socketPath)
	if dir := filepath.Dir(socketPath); dir != "" {
		_ = os.MkdirAll(dir, 0o700)
	}
	l, err := net.Listen("unix", socketPath)
	if err != nil {
		logger.Error("listen_failed", "socket", socketPath, "error", err)
		os.Exit(1)
	}
	_ = os.Chmod(socketPath, 0o600)

	srv := &http.Server{
		Handler: mux,
		ConnContext: func(ctx context.Context, c net.Conn) context.Context {
			return context.WithValue(ctx, peerUIDKey{}, peerUIDForConn(c))
		},
	}

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(l) }()
	logger.Info("oracled_listening",
		"socket", socketPath,
		"callback_url", callbackURL,
		"workers", workers,
		"queue", queue,
		"proof_key", keys.Fingerprint(),
	)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("serve_failed", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	close(d.jobs)
	d.wg.Wait()
	keys.Zero()
	_ = os.Remove(socketPath)
	logger.Info("oracled_stopped")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// loadKeys builds the keyset from the environment. Missing keys are
// generated and persisted under dataDir so the server can be pointed at the
// proof key; the master key never leaves this process.
func loadKeys(dataDir string) (*oracle.Keyset, error) {
	masterHex := strings.TrimSpace(os.Getenv("CIPHERFEED_ORACLED_MASTER_KEY"))
	proofHex := strings.TrimSpace(os.Getenv("CIPHERFEED_ORACLED_PROOF_KEY"))

	if masterHex == "" {
		var err error
		if masterHex, err = oracle.GenerateKeyHex(); err != nil {
			return nil, err
		}
		logger.Warn("ephemeral_master_key_generated", "hint", "set CIPHERFEED_ORACLED_MASTER_KEY to survive restarts")
	} else {
		logger.Info("master_key_loaded_from_env")
	}
	if proofHex == "" {
		var err error
		if proofHex, err = oracle.GenerateKeyHex(); err != nil {
			return nil, err
		}
		// The server must share this key to verify callbacks; write it
		// where only the socket owner can read it.
		p := filepath.Join(dataDir, "proof.key")
		if err := os.WriteFile(p, []byte(proofHex+"\n"), 0o600); err != nil {
			return nil, err
		}
		logger.Warn("ephemeral_proof_key_generated", "path", p, "hint", "configure the server oracle.proof_key_hex from this file")
	}
	return oracle.NewKeyset(masterHex, proofHex)
}

func parseAllowedUIDs(v string) map[int]struct{} {
	out := map[int]struct{}{}
	for _, p := range strings.Split(v, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if uid, err := strconv.Atoi(p); err == nil {
			out[uid] = struct{}{}
		}
	}
	// Nothing configured: trust only our own uid.
	if len(out) == 0 {
		out[os.Getuid()] = struct{}{}
	}
	return out
}

type peerUIDKey struct{}

// requirePeer gates an endpoint on the unix peer credential of the
// connection. There is no API-key fallback on the socket.
func (d *daemon) requirePeer(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := r.Context().Value(peerUIDKey{}).(int)
		if !ok || uid < 0 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if _, allowed := d.allowedUIDs[uid]; !allowed {
			logger.Warn("peer_rejected", "uid", uid)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h(w, r)
	}
}

func (d *daemon) handleSeal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Plaintext string `json:"plaintext"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	pt, err := base64.StdEncoding.DecodeString(req.Plaintext)
	if err != nil {
		http.Error(w, "plaintext must be base64", http.StatusBadRequest)
		return
	}
	handle, err := d.keys.Seal(pt)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"handle": base64.StdEncoding.EncodeToString(handle)})
	logger.Audit.Info("oracled_seal", zap.Int("bytes", len(pt)))
}

func (d *daemon) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Handles []string `json:"handles"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Handles) == 0 {
		http.Error(w, "handles required", http.StatusBadRequest)
		return
	}
	handles := make([][]byte, len(req.Handles))
	for i, h := range req.Handles {
		b, err := base64.StdEncoding.DecodeString(h)
		if err != nil {
			http.Error(w, "handles must be base64", http.StatusBadRequest)
			return
		}
		handles[i] = b
	}

	id := uuid.NewString()
	select {
	case d.jobs <- job{id: id, handles: handles}:
	default:
		http.Error(w, "queue full", http.StatusTooManyRequests)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"request_id": id})
	logger.Audit.Info("oracled_submit", zap.String("request", id), zap.Int("handles", len(handles)))
}

func (d *daemon) worker() {
	defer d.wg.Done()
	for j := range d.jobs {
		d.process(j)
	}
}

// process mirrors the embedded oracle's job shapes: three handles form a
// record (category, minutes, listener), one handle is an aggregate counter.
func (d *daemon) process(j job) {
	pts := make([][]byte, 0, len(j.handles))
	for i, h := range j.handles {
		pt, err := d.keys.Open(h)
		if err != nil {
			logger.Warn("decrypt_failed", "request", j.id, "handle", i, "error", err)
			return
		}
		pts = append(pts, pt)
	}

	var plaintext []byte
	switch len(pts) {
	case 3:
		minutes, err := strconv.ParseInt(string(pts[1]), 10, 64)
		if err != nil {
			logger.Warn("bad_minutes_handle", "request", j.id, "error", err)
			return
		}
		plaintext, err = json.Marshal(oracle.RecordPlain{Category: string(pts[0]), Minutes: minutes, Listener: string(pts[2])})
		if err != nil {
			return
		}
	case 1:
		plaintext = pts[0]
	default:
		logger.Warn("unexpected_handle_count", "request", j.id, "handles", len(pts))
		return
	}

	cb := oracle.Callback{RequestID: j.id, Plaintext: plaintext, Proof: d.keys.Proof(j.id, plaintext)}
	d.deliver(cb)
}

// deliver posts the callback with retries. A 409 means the server already
// applied this request (a retry after a lost response), so it counts as
// delivered.
func (d *daemon) deliver(cb oracle.Callback) {
	body, _ := json.Marshal(cb)
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		req, err := http.NewRequest(http.MethodPost, d.callbackURL, bytes.NewReader(body))
		if err != nil {
			lastErr = err
			break
		}
		req.Header.Set("Content-Type", "application/json")
		if d.backendKey != "" {
			req.Header.Set("Authorization", "Bearer "+d.backendKey)
		}
		resp, err := d.httpc.Do(req)
		if err == nil {
			status := resp.StatusCode
			resp.Body.Close()
			if status == http.StatusOK || status == http.StatusConflict {
				logger.Audit.Info("oracled_callback", zap.String("request", cb.RequestID), zap.Int("status", status), zap.String("outcome", "delivered"))
				return
			}
			lastErr = &statusError{status}
		} else {
			lastErr = err
		}
		time.Sleep(time.Duration(attempt) * 250 * time.Millisecond)
	}
	logger.Error("callback_delivery_failed", "request", cb.RequestID, "error", lastErr)
	logger.Audit.Info("oracled_callback", zap.String("request", cb.RequestID), zap.String("outcome", "failed"))
}

type statusError struct{ code int }

func (e *statusError) Error() string { return "callback status " + strconv.Itoa(e.code) }
