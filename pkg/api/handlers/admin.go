package handlers

import (
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/mux"

	"cipherfeed/pkg/logger"
	"cipherfeed/pkg/models"
	"cipherfeed/pkg/store"
	"cipherfeed/pkg/utils"
)

// RegisterAdmin registers admin-only routes onto the admin subrouter.
func RegisterAdmin(r *mux.Router, d *Deps) {
	r.HandleFunc("/health", d.adminHealth).Methods(http.MethodGet)
	r.HandleFunc("/stats", d.adminStats).Methods(http.MethodGet)
	r.HandleFunc("/requests", d.adminListRequests).Methods(http.MethodGet)
	r.HandleFunc("/keys", d.adminListKeys).Methods(http.MethodGet)
	r.HandleFunc("/keys/{key}", d.adminGetKey).Methods(http.MethodGet)
	r.HandleFunc("/expire", d.adminExpire).Methods(http.MethodPost)
	logger.Log.Info("admin_routes_registered")
}

func (d *Deps) adminHealth(w http.ResponseWriter, r *http.Request) {
	if !isAdmin(r) {
		http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok","service":"cipherfeed"}`))
}

func (d *Deps) adminStats(w http.ResponseWriter, r *http.Request) {
	if !isAdmin(r) {
		http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "application/json")

	lastID, _ := d.Ledger.LastRecordID()
	cats, _ := d.Ledger.Categories()

	out := struct {
		Records        uint64              `json:"records"`
		Pending        int                 `json:"pending"`
		Categories     int                 `json:"categories"`
		BusSubscribers int                 `json:"bus_subscribers"`
		BusDropped     uint64              `json:"bus_dropped"`
		OracleDepth    int                 `json:"oracle_depth"`
		OracleCapacity int                 `json:"oracle_capacity"`
		OracleDropped  uint64              `json:"oracle_dropped"`
		Storage        store.PebbleMetrics `json:"storage"`
	}{
		Records:    lastID,
		Pending:    d.Ledger.PendingCount(),
		Categories: len(cats),
		Storage:    d.Store.GetPebbleMetrics(),
	}
	if d.Bus != nil {
		out.BusSubscribers = d.Bus.Subscribers()
		out.BusDropped = d.Bus.Dropped()
	}
	// The embedded oracle exposes queue stats; the remote client does not.
	if st, ok := d.Oracle.(interface{ Stats() (int, int, uint64) }); ok {
		out.OracleDepth, out.OracleCapacity, out.OracleDropped = st.Stats()
	}
	_ = utils.JSONWrite(w, http.StatusOK, out)
}

// adminListRequests dumps the full correlation table, resolved entries
// included.
func (d *Deps) adminListRequests(w http.ResponseWriter, r *http.Request) {
	if !isAdmin(r) {
		http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	reqs, err := d.Ledger.Requests()
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Requests []models.PendingRequest `json:"requests"`
	}{Requests: reqs})
}

// adminListKeys lists keys in the underlying store. Optional query param
// `prefix` can be provided to limit keys by prefix.
func (d *Deps) adminListKeys(w http.ResponseWriter, r *http.Request) {
	if !isAdmin(r) {
		http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	keys, err := d.Store.ListKeys(r.URL.Query().Get("prefix"))
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Keys []string `json:"keys"`
	}{Keys: keys})
}

// adminGetKey returns the raw value for a given key. The key path variable
// is URL-unescaped before lookup.
func (d *Deps) adminGetKey(w http.ResponseWriter, r *http.Request) {
	if !isAdmin(r) {
		http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
		return
	}
	// gorilla/mux does not unescape path variables.
	key, err := url.PathUnescape(mux.Vars(r)["key"])
	if err != nil {
		http.Error(w, `{"error":"invalid key encoding"}`, http.StatusBadRequest)
		return
	}
	v, err := d.Store.GetKey(key)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(v)
}

// adminExpire handles POST /expire to mark pending requests older than the
// given age as expired, the same action the sweeper takes on its schedule.
// Body: {"older_than_seconds": n}.
func (d *Deps) adminExpire(w http.ResponseWriter, r *http.Request) {
	if !isAdmin(r) {
		http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "application/json")

	var req struct {
		OlderThanSeconds int64 `json:"older_than_seconds"`
	}
	if err := utils.DecodeJSONBody(r, &req, d.MaxBodyBytes); err != nil {
		http.Error(w, `{"error":"invalid request"}`, http.StatusBadRequest)
		return
	}
	if req.OlderThanSeconds <= 0 {
		http.Error(w, `{"error":"older_than_seconds must be positive"}`, http.StatusBadRequest)
		return
	}
	n, err := d.Ledger.ExpireStale(time.Duration(req.OlderThanSeconds) * time.Second)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Expired int `json:"expired"`
	}{Expired: n})
}

// isAdmin checks if the request is from an admin or backend.
func isAdmin(r *http.Request) bool {
	role := r.Header.Get("X-Role-Name")
	return role == "admin" || role == "backend"
}
