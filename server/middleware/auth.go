package middleware

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/adrianmueller-eu/personal-assistant-sub000/errors"
)

// Authenticator checks X-API-Key against the configured keys. The key list
// can be swapped at runtime by Update.
type Authenticator struct {
	keys atomic.Pointer[[][sha256.Size]byte]
}

// NewAuthenticator creates an authenticator accepting keys. With no keys
// every request is let through.
func NewAuthenticator(keys []string) *Authenticator {
	a := &Authenticator{}
	a.Update(keys)
	return a
}

// Update replaces the accepted keys.
func (a *Authenticator) Update(keys []string) {
	hashed := make([][sha256.Size]byte, 0, len(keys))
	for _, k := range keys {
		if k != "" {
			hashed = append(hashed, sha256.Sum256([]byte(k)))
		}
	}
	a.keys.Store(&hashed)
}

func (a *Authenticator) valid(key string) (int, bool) {
	sum := sha256.Sum256([]byte(key))
	for i, k := range *a.keys.Load() {
		if subtle.ConstantTimeCompare(sum[:], k[:]) == 1 {
			return i, true
		}
	}
	return 0, false
}

// Handler rejects requests without an accepted key. The caller is recorded
// in the context as "key-<index>" for rate limiting and logs.
func (a *Authenticator) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(*a.keys.Load()) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		requestID := GetRequestID(r.Context())
		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			errors.WriteError(w, errors.NewAuthError(requestID, "Missing API key", nil))
			return
		}
		idx, ok := a.valid(apiKey)
		if !ok {
			errors.WriteError(w, errors.NewAuthError(requestID, "Invalid API key", nil))
			return
		}

		ctx := context.WithValue(r.Context(), ClientKey, keyLabel(idx))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func keyLabel(idx int) string {
	return "key-" + strconv.Itoa(idx)
}
