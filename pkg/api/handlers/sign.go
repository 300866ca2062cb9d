package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"

	"github.com/gorilla/mux"

	"cipherfeed/pkg/logger"
	"cipherfeed/pkg/utils"
)

// RegisterSigning registers the listener-signing endpoint onto the provided
// router. The endpoint is for backend services that mint listener identities
// for their frontends; the caller's own API key is the signing secret, which
// is why the key must also be registered as a signing key.
func RegisterSigning(r *mux.Router, d *Deps) {
	r.HandleFunc("/_sign", d.signListener).Methods(http.MethodPost)
}

// signListener handles POST /_sign. It computes the HMAC-SHA256 signature a
// client must present in X-Listener-Signature for the given listener id.
// Only backend roles may request signatures. The request body must be JSON
// with a "listener" field.
func (d *Deps) signListener(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	// only backend roles may request signatures
	role := r.Header.Get("X-Role-Name")
	if role != "backend" {
		logger.Warn("forbidden_sign_attempt", "role", role, "remote", r.RemoteAddr)
		utils.JSONError(w, http.StatusForbidden, "forbidden")
		return
	}

	// determine the API key used by reading Authorization or X-API-Key header
	auth := r.Header.Get("Authorization")
	var key string
	if len(auth) > 7 && (auth[:7] == "Bearer " || auth[:7] == "bearer ") {
		key = auth[7:]
	}
	if key == "" {
		key = r.Header.Get("X-API-Key")
	}
	if key == "" {
		logger.Warn("missing_api_key_for_sign", "remote", r.RemoteAddr)
		utils.JSONError(w, http.StatusUnauthorized, "missing api key")
		return
	}

	var payload struct {
		Listener string `json:"listener"`
	}
	if err := utils.DecodeJSONBody(r, &payload, d.MaxBodyBytes); err != nil || payload.Listener == "" {
		logger.Warn("invalid_sign_payload", "error", err, "remote", r.RemoteAddr)
		utils.JSONError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	// Do not log the listener id or the key.
	logger.Info("listener_signature_issued", "remote", r.RemoteAddr, "role", role)

	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(payload.Listener))
	sig := hex.EncodeToString(mac.Sum(nil))
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{
		"listener":  payload.Listener,
		"signature": sig,
	})
}
