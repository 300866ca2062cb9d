// Package api assembles the versioned HTTP surface of the ledger. It only
// builds the router; process-level routes (health probes, metrics, docs) and
// the auth/telemetry middleware are mounted by the app.
package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"cipherfeed/pkg/api/handlers"
)

// NewRouter builds the /v1 API router plus the admin subrouter. All
// components arrive through handlers.Deps; the router keeps no state.
func NewRouter(d *handlers.Deps) http.Handler {
	r := mux.NewRouter()

	v1 := r.PathPrefix("/v1").Subrouter()
	handlers.RegisterRecords(v1, d)
	handlers.RegisterAggregates(v1, d)
	handlers.RegisterRequests(v1, d)
	handlers.RegisterListeners(v1, d)
	handlers.RegisterEvents(v1, d)
	handlers.RegisterSigning(v1, d)

	admin := v1.PathPrefix("/admin").Subrouter()
	handlers.RegisterAdmin(admin, d)

	return r
}
