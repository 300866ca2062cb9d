package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"cipherfeed/pkg/logger"
)

// keepaliveInterval is how often the SSE handler emits a comment line to
// keep idle connections from being reaped by intermediaries.
const keepaliveInterval = 25 * time.Second

// RegisterEvents registers the notification stream route on the provided
// router.
func RegisterEvents(r *mux.Router, d *Deps) {
	r.HandleFunc("/events", d.streamEvents).Methods(http.MethodGet)
}

// streamEvents handles GET /events as a server-sent-events stream of ledger
// lifecycle notifications: submitted, discovery_requested, processed and
// aggregate_ready. Subscribers that fall behind miss events rather than
// stalling the ledger; clients needing a complete picture poll the read
// endpoints instead.
func (d *Deps) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error":"streaming unsupported"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, cancel := d.Bus.Subscribe()
	defer cancel()

	logger.Log.Debug("sse_subscribed", zap.String("remote", r.RemoteAddr))
	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			logger.Log.Debug("sse_disconnected", zap.String("remote", r.RemoteAddr))
			return
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, open := <-ch:
			if !open {
				// Bus shut down; the server is going away.
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
