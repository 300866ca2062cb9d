package probe_test

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"cipherfeed/pkg/probe"
)

// readyzStub flips between a healthy and an unavailable readyz response.
func readyzStub(healthy *atomic.Bool) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok","version":"1.2.3"}`))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"store not ready"}`))
	}))
}

func TestPollTransitions(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := readyzStub(&healthy)
	defer srv.Close()

	p := probe.New(probe.Config{Target: srv.URL})

	p.Poll()
	st := p.Last()
	if st.Status != "ok" || st.Version != "1.2.3" {
		t.Fatalf("healthy poll = %+v", st)
	}
	if st.CheckedAt == 0 {
		t.Fatal("CheckedAt not set")
	}

	healthy.Store(false)
	p.Poll()
	st = p.Last()
	if st.Status != "degraded" {
		t.Fatalf("status = %q, want degraded", st.Status)
	}
	if st.Detail != "store not ready" {
		t.Fatalf("detail = %q", st.Detail)
	}

	srv.Close()
	p.Poll()
	if st = p.Last(); st.Status != "unreachable" {
		t.Fatalf("status = %q, want unreachable", st.Status)
	}
}

func TestHandlerServesCachedVerdict(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	target := readyzStub(&healthy)
	defer target.Close()

	p := probe.New(probe.Config{Target: target.URL})

	ln := fasthttputil.NewInmemoryListener()
	fsrv := &fasthttp.Server{Handler: p.Handler()}
	go func() { _ = fsrv.Serve(ln) }()
	t.Cleanup(func() { _ = ln.Close() })

	client := &http.Client{Transport: &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return ln.Dial()
		},
	}}
	t.Cleanup(client.CloseIdleConnections)

	get := func(path string) (int, []byte) {
		t.Helper()
		resp, err := client.Get("http://probe" + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, b
	}

	// Nothing polled yet: the cached verdict is unknown.
	code, _ := get("/healthz")
	if code != http.StatusServiceUnavailable {
		t.Fatalf("pre-poll status = %d, want 503", code)
	}

	p.Poll()
	code, body := get("/healthz")
	if code != http.StatusOK {
		t.Fatalf("post-poll status = %d, want 200", code)
	}
	var st probe.Status
	if err := json.Unmarshal(body, &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Status != "ok" || st.Version != "1.2.3" {
		t.Fatalf("served verdict = %+v", st)
	}

	if code, _ = get("/metrics"); code != http.StatusNotFound {
		t.Fatalf("unknown path status = %d, want 404", code)
	}
}

func TestStartStop(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	target := readyzStub(&healthy)
	defer target.Close()

	p := probe.New(probe.Config{Target: target.URL, Interval: 10 * time.Millisecond})
	p.Start()

	deadline := time.Now().Add(2 * time.Second)
	for p.Last().Status != "ok" {
		if time.Now().After(deadline) {
			t.Fatal("probe never turned ok")
		}
		time.Sleep(5 * time.Millisecond)
	}
	p.Stop()
}
