package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"cipherfeed/pkg/logger"
	"cipherfeed/pkg/oracle"
	"cipherfeed/pkg/utils"
)

// RegisterRequests registers pending-request lookups and the oracle callback
// route on the provided router.
func RegisterRequests(r *mux.Router, d *Deps) {
	r.HandleFunc("/requests/{id}", d.getRequest).Methods(http.MethodGet)
	r.HandleFunc("/oracle/callback", d.oracleCallback).Methods(http.MethodPost)
}

// getRequest handles GET /requests/{id} to inspect a correlation entry.
// Resolved aggregate requests carry the decrypted counter in the value
// field; record results land in the record's projection instead.
func (d *Deps) getRequest(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	pr, err := d.Ledger.Request(mux.Vars(r)["id"])
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, pr)
}

// oracleCallback handles POST /oracle/callback, the single write path for
// plaintext. The body is the oracle's finished job: request id, base64
// plaintext and HMAC proof. Replays and unknown ids answer 409, failed
// proofs 422; the gateway restricts the route to backend keys.
func (d *Deps) oracleCallback(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var cb oracle.Callback
	if err := utils.DecodeJSONBody(r, &cb, d.MaxBodyBytes); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	if cb.RequestID == "" {
		http.Error(w, `{"error":"request_id is required"}`, http.StatusBadRequest)
		return
	}
	if err := d.Ledger.HandleCallback(cb); err != nil {
		logger.Log.Warn("callback_rejected",
			zap.String("request", cb.RequestID),
			zap.String("remote", r.RemoteAddr),
			zap.Error(err))
		logger.Audit.Info("oracle_callback",
			zap.String("request", cb.RequestID),
			zap.String("remote", r.RemoteAddr),
			zap.String("outcome", "rejected"),
			zap.String("reason", err.Error()))
		writeLedgerError(w, err)
		return
	}
	logger.Log.Info("callback_applied",
		zap.String("request", cb.RequestID),
		zap.String("remote", r.RemoteAddr))
	logger.Audit.Info("oracle_callback",
		zap.String("request", cb.RequestID),
		zap.String("remote", r.RemoteAddr),
		zap.String("outcome", "applied"))
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Status string `json:"status"`
	}{Status: "applied"})
}
