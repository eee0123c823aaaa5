// Package admin guards the operator-facing admin HTTP surface with a single
// shared key, compared in constant time.
package admin

import (
	"crypto/hmac"
	"crypto/sha256"
	"net/http"
	"strings"
)

// Guard authorizes admin requests against one configured key. When the key
// is empty, the admin surface is considered disabled entirely.
type Guard struct {
	key []byte
}

// New builds a Guard for the given admin key. An empty key disables the
// admin surface (Enabled reports false).
func New(adminKey string) *Guard {
	return &Guard{key: []byte(adminKey)}
}

// Enabled reports whether an admin key was configured.
func (g *Guard) Enabled() bool {
	return len(g.key) > 0
}

// Authorize extracts the presented key from the request (Authorization:
// Bearer <key>, or X-Admin-Key: <key>) and reports whether it matches the
// configured key using a constant-time comparison.
func (g *Guard) Authorize(r *http.Request) bool {
	if !g.Enabled() {
		return false
	}

	presented := r.Header.Get("X-Admin-Key")
	if presented == "" {
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			presented = strings.TrimPrefix(auth, "Bearer ")
		}
	}
	if presented == "" {
		return false
	}

	wantMAC := hmac.New(sha256.New, g.key)
	wantMAC.Write(g.key)
	gotMAC := hmac.New(sha256.New, g.key)
	gotMAC.Write([]byte(presented))
	return hmac.Equal(wantMAC.Sum(nil), gotMAC.Sum(nil))
}

// Middleware wraps next, rejecting requests that fail Authorize. When the
// guard is disabled, every request is answered with 404 so the admin
// surface's existence is not disclosed.
func (g *Guard) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !g.Enabled() {
			http.NotFound(w, r)
			return
		}
		if !g.Authorize(r) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":{"message":"missing or invalid admin key","type":"internal_error"}}`))
			return
		}
		next(w, r)
	}
}
