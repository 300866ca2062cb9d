package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"cipherfeed/pkg/utils"
)

// RegisterAggregates registers the category-aggregate routes on the provided
// router. Aggregates are read-only over HTTP; only verified oracle callbacks
// mutate them.
func RegisterAggregates(r *mux.Router, d *Deps) {
	r.HandleFunc("/aggregates", d.listCategories).Methods(http.MethodGet)
	r.HandleFunc("/aggregates/{category}", d.getAggregate).Methods(http.MethodGet)
	r.HandleFunc("/aggregates/{category}/decrypt", d.decryptAggregate).Methods(http.MethodPost)
}

// listCategories handles GET /aggregates to enumerate known categories in
// the order they were first observed.
func (d *Deps) listCategories(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	cats, err := d.Ledger.Categories()
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	if cats == nil {
		cats = []string{}
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Categories []string `json:"categories"`
	}{Categories: cats})
}

// getAggregate handles GET /aggregates/{category}. The counter leaves the
// server sealed; callers who want the number go through /decrypt and wait
// for the request to resolve.
func (d *Deps) getAggregate(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	category := mux.Vars(r)["category"]
	entry, err := d.Ledger.Aggregate(category)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	sealed, err := d.Ledger.SealedCounter(category)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Category    string `json:"category"`
		Counter     []byte `json:"counter"`
		FirstSeenTS int64  `json:"first_seen_ts"`
	}{Category: entry.Category, Counter: sealed, FirstSeenTS: entry.FirstSeenTS})
}

// decryptAggregate handles POST /aggregates/{category}/decrypt. A sealed
// snapshot of the counter goes to the oracle; the decrypted value appears on
// the pending request once the callback resolves it. The live counter is
// never touched.
func (d *Deps) decryptAggregate(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	category := mux.Vars(r)["category"]
	reqID, err := d.Ledger.RequestAggregateDecryption(r.Context(), category)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusAccepted, struct {
		RequestID string `json:"request_id"`
	}{RequestID: reqID})
}
