package api_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cipherfeed/pkg/api"
	"cipherfeed/pkg/api/handlers"
	"cipherfeed/pkg/ledger"
	"cipherfeed/pkg/models"
	"cipherfeed/pkg/notify"
	"cipherfeed/pkg/oracle"
	"cipherfeed/pkg/query"
	"cipherfeed/pkg/store"
)

var (
	testMasterHex = strings.Repeat("ab", 32)
	testProofHex  = strings.Repeat("cd", 32)
)

type testServer struct {
	URL    string
	Client *http.Client
	Oracle *oracle.Embedded
	Ledger *ledger.Ledger
}

// newServer wires a complete stack behind the API router: pebble store in a
// temp dir, embedded oracle, bus, ledger and query engine. With started true
// the oracle workers feed callbacks straight back into the ledger.
func newServer(t *testing.T, started bool) *testServer {
	t.Helper()

	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	orc, err := oracle.NewEmbedded(oracle.EmbeddedConfig{
		MasterKeyHex: testMasterHex,
		ProofKeyHex:  testProofHex,
		Workers:      2,
		Queue:        32,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = orc.Close() })

	bus := notify.NewBus(32)
	t.Cleanup(bus.Close)

	led, err := ledger.New(st, orc, bus)
	require.NoError(t, err)
	if started {
		orc.Start(func(cb oracle.Callback) { _ = led.HandleCallback(cb) })
	}

	d := &handlers.Deps{
		Ledger:       led,
		Engine:       query.NewEngine(led),
		Bus:          bus,
		Oracle:       orc,
		Store:        st,
		MaxBodyBytes: 1 << 20,
	}
	srv := httptest.NewServer(api.NewRouter(d))
	t.Cleanup(srv.Close)

	return &testServer{URL: srv.URL, Client: srv.Client(), Oracle: orc, Ledger: led}
}

func (ts *testServer) do(t *testing.T, method, path string, hdr map[string]string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, ts.URL+path, rd)
	require.NoError(t, err)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	resp, err := ts.Client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

// sealedBundle builds a submission body the embedded oracle can open.
func sealedBundle(t *testing.T, orc *oracle.Embedded, category string, minutes int64, listener string) models.CipherBundle {
	t.Helper()
	c, err := orc.Seal([]byte(category))
	require.NoError(t, err)
	m, err := orc.Seal([]byte(fmt.Sprintf("%d", minutes)))
	require.NoError(t, err)
	l, err := orc.Seal([]byte(listener))
	require.NoError(t, err)
	return models.CipherBundle{Category: c, Minutes: m, Listener: l}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRecordLifecycleOverHTTP(t *testing.T) {
	ts := newServer(t, true)
	backend := map[string]string{"X-Role-Name": "backend"}

	// Submit.
	resp, raw := ts.do(t, http.MethodPost, "/v1/records", nil, sealedBundle(t, ts.Oracle, "tech", 42, "alice"))
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))
	var created struct {
		ID          uint64 `json:"id"`
		SubmittedTS int64  `json:"submitted_ts"`
	}
	require.NoError(t, json.Unmarshal(raw, &created))
	require.Equal(t, uint64(1), created.ID)
	require.NotZero(t, created.SubmittedTS)

	// Projection starts zeroed.
	resp, raw = ts.do(t, http.MethodGet, "/v1/records/1", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var proj struct {
		ID        uint64 `json:"id"`
		Category  string `json:"category"`
		Minutes   int64  `json:"minutes"`
		Listener  string `json:"listener"`
		Processed bool   `json:"processed"`
	}
	require.NoError(t, json.Unmarshal(raw, &proj))
	require.False(t, proj.Processed)
	require.Empty(t, proj.Category)

	// Kick off decryption.
	resp, raw = ts.do(t, http.MethodPost, "/v1/records/1/decrypt", nil, nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(raw))
	var accepted struct {
		RequestID string `json:"request_id"`
	}
	require.NoError(t, json.Unmarshal(raw, &accepted))
	require.NotEmpty(t, accepted.RequestID)

	// Workers resolve it asynchronously.
	waitFor(t, "projection processed", func() bool {
		_, raw := ts.do(t, http.MethodGet, "/v1/records/1", nil, nil)
		_ = json.Unmarshal(raw, &proj)
		return proj.Processed
	})
	require.Equal(t, "tech", proj.Category)
	require.Equal(t, int64(42), proj.Minutes)
	require.Equal(t, "alice", proj.Listener)

	// The correlation entry is resolved.
	resp, raw = ts.do(t, http.MethodGet, "/v1/requests/"+accepted.RequestID, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var pr models.PendingRequest
	require.NoError(t, json.Unmarshal(raw, &pr))
	require.Equal(t, models.StateResolved, pr.State)
	require.Equal(t, models.KindRecord, pr.Kind)

	// A second decrypt of the same record conflicts.
	resp, _ = ts.do(t, http.MethodPost, "/v1/records/1/decrypt", nil, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	// Category shows up in insertion order.
	resp, raw = ts.do(t, http.MethodGet, "/v1/aggregates", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var cats struct {
		Categories []string `json:"categories"`
	}
	require.NoError(t, json.Unmarshal(raw, &cats))
	require.Equal(t, []string{"tech"}, cats.Categories)

	// Aggregate entry: counter leaves sealed, first_seen_ts set.
	resp, raw = ts.do(t, http.MethodGet, "/v1/aggregates/tech", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var agg struct {
		Category    string `json:"category"`
		Counter     []byte `json:"counter"`
		FirstSeenTS int64  `json:"first_seen_ts"`
	}
	require.NoError(t, json.Unmarshal(raw, &agg))
	require.Equal(t, "tech", agg.Category)
	require.NotEmpty(t, agg.Counter)
	require.NotZero(t, agg.FirstSeenTS)

	// Aggregate decryption resolves on the request entry.
	resp, raw = ts.do(t, http.MethodPost, "/v1/aggregates/tech/decrypt", nil, nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.NoError(t, json.Unmarshal(raw, &accepted))
	waitFor(t, "aggregate request resolved", func() bool {
		_, raw := ts.do(t, http.MethodGet, "/v1/requests/"+accepted.RequestID, nil, nil)
		_ = json.Unmarshal(raw, &pr)
		return pr.State == models.StateResolved
	})
	require.Equal(t, models.KindAggregate, pr.Kind)
	require.Equal(t, "1", pr.Value)

	// And the listener sees the processed record.
	resp, raw = ts.do(t, http.MethodGet, "/v1/listeners/alice/records", backend, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	var lst struct {
		Listener string `json:"listener"`
		Records  []struct {
			ID       uint64 `json:"id"`
			Category string `json:"category"`
			Minutes  int64  `json:"minutes"`
		} `json:"records"`
	}
	require.NoError(t, json.Unmarshal(raw, &lst))
	require.Len(t, lst.Records, 1)
	require.Equal(t, "tech", lst.Records[0].Category)
}

func TestValidationAndLookupsOverHTTP(t *testing.T) {
	ts := newServer(t, true)

	// Malformed JSON body.
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/v1/records", strings.NewReader("{not json"))
	require.NoError(t, err)
	resp, err := ts.Client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Empty bundle: all three handles reported missing.
	resp, raw := ts.do(t, http.MethodPost, "/v1/records", nil, models.CipherBundle{})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Contains(t, string(raw), "category handle")

	// Non-numeric record id.
	resp, _ = ts.do(t, http.MethodGet, "/v1/records/abc", nil, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Unknown record id reads as the zero projection.
	resp, raw = ts.do(t, http.MethodGet, "/v1/records/999", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(raw), `"processed":false`)

	// Decrypting a record that does not exist is 404.
	resp, _ = ts.do(t, http.MethodPost, "/v1/records/999/decrypt", nil, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Unknown aggregate and request lookups are 404.
	resp, _ = ts.do(t, http.MethodGet, "/v1/aggregates/none", nil, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodPost, "/v1/aggregates/none/decrypt", nil, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodGet, "/v1/requests/nope", nil, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCallbackEndpoint(t *testing.T) {
	// Workers stay off so the pending request sits until we post callbacks
	// by hand.
	ts := newServer(t, false)

	_, raw := ts.do(t, http.MethodPost, "/v1/records", nil, sealedBundle(t, ts.Oracle, "news", 7, "bob"))
	var created struct {
		ID uint64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(raw, &created))
	_, raw = ts.do(t, http.MethodPost, fmt.Sprintf("/v1/records/%d/decrypt", created.ID), nil, nil)
	var accepted struct {
		RequestID string `json:"request_id"`
	}
	require.NoError(t, json.Unmarshal(raw, &accepted))

	plaintext, err := json.Marshal(oracle.RecordPlain{Category: "news", Minutes: 7, Listener: "bob"})
	require.NoError(t, err)
	ks, err := oracle.NewProofKeyset(testProofHex)
	require.NoError(t, err)

	// Wrong proof: rejected, request stays pending.
	resp, _ := ts.do(t, http.MethodPost, "/v1/oracle/callback", nil, oracle.Callback{
		RequestID: accepted.RequestID,
		Plaintext: plaintext,
		Proof:     "deadbeef",
	})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	// Unknown request id.
	resp, _ = ts.do(t, http.MethodPost, "/v1/oracle/callback", nil, oracle.Callback{
		RequestID: "not-a-request",
		Plaintext: plaintext,
		Proof:     ks.Proof("not-a-request", plaintext),
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	// Missing request id.
	resp, _ = ts.do(t, http.MethodPost, "/v1/oracle/callback", nil, oracle.Callback{
		Plaintext: plaintext,
		Proof:     "x",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Genuine callback applies.
	resp, raw = ts.do(t, http.MethodPost, "/v1/oracle/callback", nil, oracle.Callback{
		RequestID: accepted.RequestID,
		Plaintext: plaintext,
		Proof:     ks.Proof(accepted.RequestID, plaintext),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	// Replay conflicts and mutates nothing.
	resp, _ = ts.do(t, http.MethodPost, "/v1/oracle/callback", nil, oracle.Callback{
		RequestID: accepted.RequestID,
		Plaintext: plaintext,
		Proof:     ks.Proof(accepted.RequestID, plaintext),
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	_, raw = ts.do(t, http.MethodGet, fmt.Sprintf("/v1/records/%d", created.ID), nil, nil)
	require.Contains(t, string(raw), `"category":"news"`)
}

func TestListenerQueriesOverHTTP(t *testing.T) {
	ts := newServer(t, true)
	backend := map[string]string{"X-Role-Name": "backend"}

	for _, c := range []string{"tech", "tech", "news"} {
		_, raw := ts.do(t, http.MethodPost, "/v1/records", nil, sealedBundle(t, ts.Oracle, c, 30, "carol"))
		var created struct {
			ID uint64 `json:"id"`
		}
		require.NoError(t, json.Unmarshal(raw, &created))
		resp, _ := ts.do(t, http.MethodPost, fmt.Sprintf("/v1/records/%d/decrypt", created.ID), nil, nil)
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
	}
	waitFor(t, "all records processed", func() bool {
		_, raw := ts.do(t, http.MethodGet, "/v1/listeners/carol/records", backend, nil)
		var lst struct {
			Records []json.RawMessage `json:"records"`
		}
		_ = json.Unmarshal(raw, &lst)
		return len(lst.Records) == 3
	})

	// Recommendations keep one entry per matching record.
	resp, raw := ts.do(t, http.MethodGet, "/v1/listeners/carol/recommendations?candidates=show-a,show-b", backend, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var recs struct {
		Recommendations []string `json:"recommendations"`
	}
	require.NoError(t, json.Unmarshal(raw, &recs))
	require.Len(t, recs.Recommendations, 6)

	// Patterns: one label per record.
	resp, raw = ts.do(t, http.MethodGet, "/v1/listeners/carol/patterns", backend, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var pats struct {
		Patterns []string `json:"patterns"`
	}
	require.NoError(t, json.Unmarshal(raw, &pats))
	require.Equal(t, []string{"baseline", "baseline", "baseline"}, pats.Patterns)

	// Niche: per-record categories under the default predicate.
	resp, raw = ts.do(t, http.MethodGet, "/v1/listeners/carol/niche?threshold=5", backend, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var niche struct {
		Threshold uint64   `json:"threshold"`
		Niche     []string `json:"niche"`
	}
	require.NoError(t, json.Unmarshal(raw, &niche))
	require.Equal(t, uint64(5), niche.Threshold)
	require.Equal(t, []string{"tech", "tech", "news"}, niche.Niche)

	// Feed preserves candidate order.
	resp, raw = ts.do(t, http.MethodGet, "/v1/listeners/carol/feed?candidates=x,y,z", backend, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var feed struct {
		Feed []string `json:"feed"`
	}
	require.NoError(t, json.Unmarshal(raw, &feed))
	require.Equal(t, []string{"x", "y", "z"}, feed.Feed)

	// Bad threshold is a 400.
	resp, _ = ts.do(t, http.MethodGet, "/v1/listeners/carol/niche?threshold=-3", backend, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Frontend callers need a signature.
	resp, _ = ts.do(t, http.MethodGet, "/v1/listeners/carol/records", map[string]string{"X-Role-Name": "frontend"}, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAdminEndpointsOverHTTP(t *testing.T) {
	ts := newServer(t, true)
	admin := map[string]string{"X-Role-Name": "admin"}

	// Role required.
	resp, _ := ts.do(t, http.MethodGet, "/v1/admin/health", nil, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, raw := ts.do(t, http.MethodGet, "/v1/admin/health", admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(raw), "cipherfeed")

	_, _ = ts.do(t, http.MethodPost, "/v1/records", nil, sealedBundle(t, ts.Oracle, "tech", 5, "dave"))

	resp, raw = ts.do(t, http.MethodGet, "/v1/admin/stats", admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats struct {
		Records        uint64 `json:"records"`
		Pending        int    `json:"pending"`
		OracleCapacity int    `json:"oracle_capacity"`
	}
	require.NoError(t, json.Unmarshal(raw, &stats))
	require.Equal(t, uint64(1), stats.Records)
	require.Equal(t, 32, stats.OracleCapacity)

	// Raw key inspection.
	resp, raw = ts.do(t, http.MethodGet, "/v1/admin/keys?prefix=rec:", admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var keys struct {
		Keys []string `json:"keys"`
	}
	require.NoError(t, json.Unmarshal(raw, &keys))
	require.Len(t, keys.Keys, 1)

	resp, _ = ts.do(t, http.MethodGet, "/v1/admin/requests", admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Expire with a bad body.
	resp, _ = ts.do(t, http.MethodPost, "/v1/admin/expire", admin, map[string]int{"older_than_seconds": 0})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, raw = ts.do(t, http.MethodPost, "/v1/admin/expire", admin, map[string]int{"older_than_seconds": 3600})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(raw), `"expired":0`)
}

func TestSigningEndpoint(t *testing.T) {
	ts := newServer(t, true)

	resp, raw := ts.do(t, http.MethodPost, "/v1/_sign",
		map[string]string{"X-Role-Name": "backend", "X-API-Key": "backend-secret"},
		map[string]string{"listener": "alice"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	var signed struct {
		Listener  string `json:"listener"`
		Signature string `json:"signature"`
	}
	require.NoError(t, json.Unmarshal(raw, &signed))
	require.Equal(t, "alice", signed.Listener)
	require.Len(t, signed.Signature, 64) // hex sha256

	// Non-backend roles may not mint signatures.
	resp, _ = ts.do(t, http.MethodPost, "/v1/_sign",
		map[string]string{"X-Role-Name": "frontend", "X-API-Key": "frontend-secret"},
		map[string]string{"listener": "alice"})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestEventStreamOverHTTP(t *testing.T) {
	ts := newServer(t, true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/events", nil)
	require.NoError(t, err)
	resp, err := ts.Client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := make(chan string, 16)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	_, raw := ts.do(t, http.MethodPost, "/v1/records", nil, sealedBundle(t, ts.Oracle, "comedy", 12, "eve"))
	var created struct {
		ID uint64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(raw, &created))
	_, _ = ts.do(t, http.MethodPost, fmt.Sprintf("/v1/records/%d/decrypt", created.ID), nil, nil)

	// The full lifecycle crosses the stream in order.
	want := []string{"event: submitted", "event: discovery_requested", "event: processed"}
	deadline := time.After(5 * time.Second)
	for len(want) > 0 {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatalf("stream closed early, still waiting for %v", want)
			}
			if line == want[0] {
				want = want[1:]
			}
		case <-deadline:
			t.Fatalf("timed out, still waiting for %v", want)
		}
	}
}
