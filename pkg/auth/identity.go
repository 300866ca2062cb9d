package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"cipherfeed/pkg/config"
	"cipherfeed/pkg/logger"
	"cipherfeed/pkg/utils"
)

// Role represents the resolved caller role for a request.
type Role int

const (
	RoleUnauth Role = iota
	RoleFrontend
	RoleBackend
	RoleAdmin
)

// SecConfig mirrors the security-related configuration used to drive
// authentication, CORS and rate limiting behavior. Put here so limiter.go
// and gateway.go can reference the shared type.
type SecConfig struct {
	AllowedOrigins []string
	RPS            float64
	Burst          int
	IPWhitelist    []string
	BackendKeys    map[string]struct{}
	FrontendKeys   map[string]struct{}
	AdminKeys      map[string]struct{}
}

type ctxListenerKey struct{}

// RequireSignedListener verifies HMAC signature headers and injects the
// verified listener id into the request context.
func RequireSignedListener(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Caller role was resolved earlier by the gateway middleware.
		role := r.Header.Get("X-Role-Name")
		listenerID := strings.TrimSpace(r.Header.Get("X-Listener-ID"))
		sig := strings.TrimSpace(r.Header.Get("X-Listener-Signature"))

		// Backend/admin callers may omit the signature entirely; handlers
		// then take the listener from the path or headers. A present
		// signature is still verified below.
		if role == "backend" || role == "admin" {
			if sig == "" {
				next.ServeHTTP(w, r)
				return
			}
		}

		if sig == "" || listenerID == "" {
			logger.Warn("missing_signature_headers", "path", r.URL.Path, "remote", r.RemoteAddr)
			utils.JSONError(w, http.StatusUnauthorized, "missing signature headers")
			return
		}

		keys := config.GetSigningKeys()
		if len(keys) == 0 {
			logger.Error("no_signing_keys_configured")
			utils.JSONError(w, http.StatusInternalServerError, "server misconfigured: no signing secrets available")
			return
		}

		ok := false
		for k := range keys {
			mac := hmac.New(sha256.New, []byte(k))
			mac.Write([]byte(listenerID))
			expected := hex.EncodeToString(mac.Sum(nil))
			if hmac.Equal([]byte(expected), []byte(sig)) {
				ok = true
				break
			}
		}
		if !ok {
			logger.Warn("invalid_signature", "listener", listenerID)
			utils.JSONError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
		logger.Debug("signature_verified", "listener", listenerID)
		ctx := context.WithValue(r.Context(), ctxListenerKey{}, listenerID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ListenerIDFromContext returns the signature-verified listener id or the
// empty string.
func ListenerIDFromContext(ctx context.Context) string {
	if v := ctx.Value(ctxListenerKey{}); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func validateListener(id string) (bool, string) {
	if id == "" {
		return false, "listener required"
	}
	if len(id) > 128 {
		return false, "listener too long"
	}
	return true, ""
}

// ResolveListenerFromRequest is the single canonical resolver for handlers
// that need a caller-supplied listener id. A signature-verified id from the
// context is authoritative: any conflicting id in the path or headers is a
// 403. Without a signature, backend/admin roles may supply the id directly
// (pathListener comes from the route); frontend callers get a 401.
// Returns (listener, 0, "") on success or ("", status, message) on failure.
func ResolveListenerFromRequest(r *http.Request, pathListener string) (string, int, string) {
	if id := ListenerIDFromContext(r.Context()); id != "" {
		if pathListener != "" && pathListener != id {
			logger.Warn("listener_mismatch_signature_path", "signature", id, "path", pathListener)
			return "", http.StatusForbidden, "listener mismatch between signature and path"
		}
		if h := strings.TrimSpace(r.Header.Get("X-Listener-ID")); h != "" && h != id {
			logger.Warn("listener_mismatch_signature_header", "signature", id, "header", h)
			return "", http.StatusForbidden, "listener mismatch between signature and header"
		}
		return id, 0, ""
	}

	role := r.Header.Get("X-Role-Name")
	if role == "backend" || role == "admin" {
		if pathListener != "" {
			if ok, msg := validateListener(pathListener); !ok {
				return "", http.StatusBadRequest, msg
			}
			return pathListener, 0, ""
		}
		if h := strings.TrimSpace(r.Header.Get("X-Listener-ID")); h != "" {
			if ok, msg := validateListener(h); !ok {
				return "", http.StatusBadRequest, msg
			}
			return h, 0, ""
		}
		return "", http.StatusBadRequest, "listener required for backend requests"
	}

	logger.Warn("missing_listener_signature", "role", role, "path", r.URL.Path)
	return "", http.StatusUnauthorized, "missing or invalid listener signature"
}
