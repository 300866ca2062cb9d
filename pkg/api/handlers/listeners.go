package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"cipherfeed/pkg/auth"
	"cipherfeed/pkg/utils"
	"cipherfeed/pkg/validation"
)

// RegisterListeners registers the per-listener query routes on a subrouter
// guarded by the signed-listener middleware. Frontend callers must present a
// verified HMAC identity; backend and admin keys pass with the path id.
func RegisterListeners(r *mux.Router, d *Deps) {
	lr := r.PathPrefix("/listeners").Subrouter()
	lr.Use(auth.RequireSignedListener)

	lr.HandleFunc("/{id}/records", d.listenerRecords).Methods(http.MethodGet)
	lr.HandleFunc("/{id}/recommendations", d.listenerRecommendations).Methods(http.MethodGet)
	lr.HandleFunc("/{id}/patterns", d.listenerPatterns).Methods(http.MethodGet)
	lr.HandleFunc("/{id}/niche", d.listenerNiche).Methods(http.MethodGet)
	lr.HandleFunc("/{id}/feed", d.listenerFeed).Methods(http.MethodGet)
}

// resolveListener applies the canonical listener resolution and writes the
// error response itself when resolution fails.
func resolveListener(w http.ResponseWriter, r *http.Request) (string, bool) {
	listener, status, msg := auth.ResolveListenerFromRequest(r, mux.Vars(r)["id"])
	if status != 0 {
		utils.JSONError(w, status, msg)
		return "", false
	}
	return listener, true
}

// listenerRecords handles GET /listeners/{id}/records: every processed
// record of the listener, ascending by record id. Unprocessed submissions
// are invisible until their decryption resolves.
func (d *Deps) listenerRecords(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	listener, ok := resolveListener(w, r)
	if !ok {
		return
	}
	rows, err := d.Engine.RecordsForUser(listener)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	type listenRecord struct {
		ID       uint64 `json:"id"`
		Category string `json:"category"`
		Minutes  int64  `json:"minutes"`
	}
	out := make([]listenRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, listenRecord{
			ID:       row.ID,
			Category: row.Projection.Category,
			Minutes:  row.Projection.Minutes,
		})
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Listener string         `json:"listener"`
		Records  []listenRecord `json:"records"`
	}{Listener: listener, Records: out})
}

// listenerRecommendations handles GET /listeners/{id}/recommendations with a
// comma-separated candidates parameter. The result keeps one entry per
// (record, candidate) match, so repeated hits act as a weight.
func (d *Deps) listenerRecommendations(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	listener, ok := resolveListener(w, r)
	if !ok {
		return
	}
	candidates := candidatesParam(r)
	if err := validation.ValidateCandidates(candidates); err != nil {
		utils.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	recs, err := d.Engine.Recommend(listener, candidates)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	if recs == nil {
		recs = []string{}
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Listener        string   `json:"listener"`
		Recommendations []string `json:"recommendations"`
	}{Listener: listener, Recommendations: recs})
}

// listenerPatterns handles GET /listeners/{id}/patterns: one derived label
// per processed record.
func (d *Deps) listenerPatterns(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	listener, ok := resolveListener(w, r)
	if !ok {
		return
	}
	patterns, err := d.Engine.Patterns(listener)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	if patterns == nil {
		patterns = []string{}
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Listener string   `json:"listener"`
		Patterns []string `json:"patterns"`
	}{Listener: listener, Patterns: patterns})
}

// listenerNiche handles GET /listeners/{id}/niche?threshold=N: categories of
// the listener's records accepted by the popularity predicate.
func (d *Deps) listenerNiche(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	listener, ok := resolveListener(w, r)
	if !ok {
		return
	}
	var threshold uint64
	if raw := r.URL.Query().Get("threshold"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, `{"error":"threshold must be a non-negative integer"}`, http.StatusBadRequest)
			return
		}
		threshold = v
	}
	niche, err := d.Engine.Niche(listener, threshold)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	if niche == nil {
		niche = []string{}
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Listener  string   `json:"listener"`
		Threshold uint64   `json:"threshold"`
		Niche     []string `json:"niche"`
	}{Listener: listener, Threshold: threshold, Niche: niche})
}

// listenerFeed handles GET /listeners/{id}/feed: filters the supplied
// candidate list through the per-listener feed predicate, preserving
// candidate order.
func (d *Deps) listenerFeed(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	listener, ok := resolveListener(w, r)
	if !ok {
		return
	}
	candidates := candidatesParam(r)
	if err := validation.ValidateCandidates(candidates); err != nil {
		utils.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	feed, err := d.Engine.Feed(listener, candidates)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Listener string   `json:"listener"`
		Feed     []string `json:"feed"`
	}{Listener: listener, Feed: feed})
}
