package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modrinth/forgekeep/authn"
	"github.com/modrinth/forgekeep/connector"
	"github.com/modrinth/forgekeep/deferred"
	"github.com/modrinth/forgekeep/oauthserver"
	"github.com/modrinth/forgekeep/storage/memstore"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store := memstore.New()
	deferredQueue := deferred.New(store)
	authenticator := authn.New(store, deferredQueue, nil, false)
	return &Server{
		Store:      store,
		Authn:      authenticator,
		Deferred:   deferredQueue,
		Connectors: connector.Registry{},
		OAuth:      oauthserver.New(store, nil, authenticator),
		Sockets:    NewSocketRegistry(),
		Log:        nil,
	}
}

func TestNewRouterRegistersEveryRoute(t *testing.T) {
	s := newTestServer(t)
	r := s.NewRouter(nil)

	for _, tc := range []struct {
		method, path string
	}{
		{http.MethodGet, "/v3/auth/init"},
		{http.MethodGet, "/v3/auth/ws"},
		{http.MethodGet, "/v3/auth/callback"},
		{http.MethodDelete, "/v3/auth/provider"},
		{http.MethodPost, "/v3/auth/create"},
		{http.MethodPost, "/v3/auth/login"},
		{http.MethodPost, "/v3/auth/login/2fa"},
		{http.MethodPost, "/v3/auth/2fa/get_secret"},
		{http.MethodPost, "/v3/auth/2fa"},
		{http.MethodDelete, "/v3/auth/2fa"},
		{http.MethodPost, "/v3/auth/password/reset"},
		{http.MethodPatch, "/v3/auth/password"},
		{http.MethodPost, "/v3/auth/email/resend_verify"},
		{http.MethodPatch, "/v3/auth/email"},
		{http.MethodPost, "/v3/auth/email/verify"},
		{http.MethodGet, "/v3/auth/session/list"},
		{http.MethodDelete, "/v3/auth/session/abc"},
		{http.MethodPost, "/v3/auth/session/refresh"},
		{http.MethodGet, "/v3/auth/pat"},
		{http.MethodPost, "/v3/auth/pat"},
		{http.MethodPatch, "/v3/auth/pat/abc"},
		{http.MethodDelete, "/v3/auth/pat/abc"},
		{http.MethodGet, "/v3/auth/auth/oauth/authorize"},
		{http.MethodPost, "/v3/auth/auth/oauth/accept"},
		{http.MethodPost, "/v3/auth/auth/oauth/token"},
		{http.MethodGet, "/v3/auth/minecraft"},
		{http.MethodGet, "/v3/auth/minecraft/callback"},
	} {
		var match mux.RouteMatch
		req := httptest.NewRequest(tc.method, tc.path, nil)
		assert.True(t, r.Match(req, &match), "%s %s should match a route", tc.method, tc.path)
	}
}

func TestNotFoundReturnsJSONEnvelope(t *testing.T) {
	s := newTestServer(t)
	r := s.NewRouter(nil)

	req := httptest.NewRequest(http.MethodGet, "/nonexistent", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "not_found")
}

func TestClientIPPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	assert.Equal(t, "203.0.113.9", clientIP(req))
}

func TestClientIPFallsBackToRemoteAddr(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	assert.Equal(t, "10.0.0.1:1234", clientIP(req))
}
