package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"cipherfeed/pkg/ledger"
	"cipherfeed/pkg/notify"
	"cipherfeed/pkg/oracle"
	"cipherfeed/pkg/query"
	"cipherfeed/pkg/store"
	"cipherfeed/pkg/utils"
)

// Deps carries the process-level components into the handlers. Everything
// arrives by handle; the handlers hold no state of their own.
type Deps struct {
	Ledger *ledger.Ledger
	Engine *query.Engine
	Bus    *notify.Bus
	Oracle oracle.Oracle
	Store  *store.Store

	// MaxBodyBytes caps request bodies on mutating endpoints.
	MaxBodyBytes int64
}

// writeLedgerError maps ledger and oracle errors onto HTTP status codes:
// missing things are 404, replays and processed records 409, bad proofs
// 422, an overloaded or closed oracle 503.
func writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		utils.JSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ledger.ErrAlreadyProcessed):
		utils.JSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrInvalidRequest):
		utils.JSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrProofInvalid):
		utils.JSONError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, oracle.ErrBusy):
		utils.JSONError(w, http.StatusServiceUnavailable, "oracle busy")
	case errors.Is(err, oracle.ErrClosed):
		utils.JSONError(w, http.StatusServiceUnavailable, "oracle unavailable")
	default:
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
	}
}

// recordIDVar parses the {id} route variable as a record id.
func recordIDVar(r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	return id, err == nil
}

// candidatesParam splits the comma-separated candidates query parameter,
// dropping empty segments.
func candidatesParam(r *http.Request) []string {
	raw := r.URL.Query().Get("candidates")
	if raw == "" {
		return nil
	}
	var out []string
	for _, c := range strings.Split(raw, ",") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}
