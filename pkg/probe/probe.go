// Package probe implements the readiness sidecar: it polls the server's
// /readyz endpoint in the background and serves the cached verdict over a
// lean fasthttp listener, so orchestrator health checks never touch the main
// request path.
package probe

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/valyala/fasthttp"

	"cipherfeed/pkg/logger"
)

// Config tunes the poller. Zero values fall back to a 5s interval and a 2s
// per-poll timeout.
type Config struct {
	Target   string
	Interval time.Duration
	Timeout  time.Duration
}

// Status is the cached verdict served to health checks.
type Status struct {
	Status    string `json:"status"`
	Version   string `json:"version,omitempty"`
	CheckedAt int64  `json:"checked_at"`
	Detail    string `json:"detail,omitempty"`
}

// Probe polls the target and caches the last verdict. Serving reads never
// block on the target.
type Probe struct {
	cfg   Config
	httpc *http.Client

	mu   sync.RWMutex
	last Status

	stop chan struct{}
	done chan struct{}
}

// New builds a probe; call Start to begin polling.
func New(cfg Config) *Probe {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	return &Probe{
		cfg:   cfg,
		httpc: &http.Client{Timeout: cfg.Timeout},
		last:  Status{Status: "unknown"},
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Start polls once immediately and then on every interval tick.
func (p *Probe) Start() {
	go func() {
		defer close(p.done)
		p.Poll()
		t := time.NewTicker(p.cfg.Interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				p.Poll()
			case <-p.stop:
				return
			}
		}
	}()
	logger.Info("probe_started", "target", p.cfg.Target, "interval", p.cfg.Interval.String())
}

// Stop terminates the poll loop and waits for it to exit.
func (p *Probe) Stop() {
	close(p.stop)
	<-p.done
}

// Poll fetches the target once and updates the cached verdict.
func (p *Probe) Poll() {
	st := Status{CheckedAt: time.Now().Unix()}
	resp, err := p.httpc.Get(p.cfg.Target)
	if err != nil {
		st.Status = "unreachable"
		st.Detail = err.Error()
		p.set(st)
		return
	}
	defer resp.Body.Close()

	var body struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if resp.StatusCode == http.StatusOK {
		st.Status = "ok"
		st.Version = body.Version
	} else {
		st.Status = "degraded"
		if body.Status != "" {
			st.Detail = body.Status
		} else {
			st.Detail = fmt.Sprintf("status %d", resp.StatusCode)
		}
	}
	p.set(st)
}

func (p *Probe) set(st Status) {
	p.mu.Lock()
	prev := p.last.Status
	p.last = st
	p.mu.Unlock()
	if prev != st.Status {
		logger.Warn("probe_state_changed", "from", prev, "to", st.Status, "detail", st.Detail)
	}
}

// Last returns the cached verdict.
func (p *Probe) Last() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last
}

// Handler serves the cached verdict. Only /health and /healthz exist; an ok
// verdict maps to 200, anything else to 503.
func (p *Probe) Handler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		switch string(ctx.Path()) {
		case "/health", "/healthz":
			st := p.Last()
			ctx.Response.Header.Set("Content-Type", "application/json")
			if st.Status == "ok" {
				ctx.SetStatusCode(fasthttp.StatusOK)
			} else {
				ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
			}
			b, _ := json.Marshal(st)
			_, _ = ctx.Write(b)
		default:
			ctx.SetStatusCode(fasthttp.StatusNotFound)
		}
	}
}
