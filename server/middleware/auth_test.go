package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuthenticator(t *testing.T) {
	auth := NewAuthenticator([]string{"first", "second"})
	var client string
	handler := auth.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client = GetClient(r.Context())
	}))

	tests := []struct {
		name   string
		key    string
		status int
		client string
	}{
		{"missing key", "", http.StatusUnauthorized, ""},
		{"unknown key", "third", http.StatusUnauthorized, ""},
		{"first key", "first", http.StatusOK, "key-0"},
		{"second key", "second", http.StatusOK, "key-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client = ""
			req := httptest.NewRequest("POST", "/v1/chat", nil)
			if tt.key != "" {
				req.Header.Set("X-API-Key", tt.key)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.client, client)
		})
	}
}

func TestAuthenticatorDisabledWithoutKeys(t *testing.T) {
	auth := NewAuthenticator(nil)
	rec := httptest.NewRecorder()
	auth.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).
		ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthenticatorUpdate(t *testing.T) {
	auth := NewAuthenticator([]string{"old"})
	handler := auth.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	auth.Update([]string{"new"})

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-API-Key", "old")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req.Header.Set("X-API-Key", "new")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
