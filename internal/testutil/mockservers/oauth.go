// Package mockservers provides httptest mock servers for external APIs.
package mockservers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"
)

// TokenServer is a mock OAuth2 token endpoint.
type TokenServer struct {
	Server *httptest.Server

	mu       sync.Mutex
	requests []url.Values
	issued   int

	// RefreshToken is returned from the code exchange.
	RefreshToken string
	// RotateRefresh makes refresh grants return a new refresh token;
	// otherwise the field is omitted like Google does.
	RotateRefresh bool
	// ExpiresIn is the lifetime reported for issued tokens, in seconds.
	ExpiresIn int
	// FailExchange and FailRefresh reject the grant with invalid_grant.
	FailExchange bool
	FailRefresh  bool
	// Delay holds every response, to widen race windows.
	Delay time.Duration
}

// NewTokenServer creates a new mock token endpoint.
func NewTokenServer(t *testing.T) *TokenServer {
	t.Helper()

	mock := &TokenServer{
		RefreshToken: "refresh-0",
		ExpiresIn:    3600,
	}
	mock.Server = httptest.NewServer(http.HandlerFunc(mock.handle))

	t.Cleanup(func() {
		mock.Server.Close()
	})

	return mock
}

// tokenConfig is the response behavior of the server
type tokenConfig struct {
	RefreshToken  string
	RotateRefresh bool
	ExpiresIn     int
	FailExchange  bool
	FailRefresh   bool
	Delay         time.Duration
}

func (m *TokenServer) configLocked() *tokenConfig {
	return &tokenConfig{
		RefreshToken:  m.RefreshToken,
		RotateRefresh: m.RotateRefresh,
		ExpiresIn:     m.ExpiresIn,
		FailExchange:  m.FailExchange,
		FailRefresh:   m.FailRefresh,
		Delay:         m.Delay,
	}
}

// Update changes the response behavior while requests may be in flight.
func (m *TokenServer) Update(fn func(s *TokenServer)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m)
}

// URL is the token endpoint URL.
func (m *TokenServer) URL() string {
	return m.Server.URL + "/token"
}

// Calls counts requests with the given grant_type.
func (m *TokenServer) Calls(grantType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.requests {
		if r.Get("grant_type") == grantType {
			n++
		}
	}
	return n
}

// LastRequest returns the form of the most recent request.
func (m *TokenServer) LastRequest() url.Values {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return nil
	}
	return m.requests[len(m.requests)-1]
}

func (m *TokenServer) handle(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	m.requests = append(m.requests, r.PostForm)
	m.issued++
	n := m.issued
	cfg := *m.configLocked()
	m.mu.Unlock()
	delay := cfg.Delay

	if delay > 0 {
		time.Sleep(delay)
	}

	w.Header().Set("Content-Type", "application/json")

	resp := map[string]interface{}{
		"access_token": fmt.Sprintf("access-%d", n),
		"token_type":   "Bearer",
		"expires_in":   cfg.ExpiresIn,
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		if cfg.FailExchange || r.PostForm.Get("code") == "" || r.PostForm.Get("code_verifier") == "" {
			writeGrantError(w, "The authorization code is invalid or expired.")
			return
		}
		if cfg.RefreshToken != "" {
			resp["refresh_token"] = cfg.RefreshToken
		}
	case "refresh_token":
		if cfg.FailRefresh || r.PostForm.Get("refresh_token") == "" {
			writeGrantError(w, "Token has been expired or revoked.")
			return
		}
		if cfg.RotateRefresh {
			resp["refresh_token"] = fmt.Sprintf("refresh-%d", n)
		}
	default:
		writeGrantError(w, "unsupported grant type")
		return
	}

	json.NewEncoder(w).Encode(resp)
}

func writeGrantError(w http.ResponseWriter, description string) {
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(map[string]string{
		"error":             "invalid_grant",
		"error_description": description,
	})
}
