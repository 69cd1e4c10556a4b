package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandleMinecraftInitNotConfigured(t *testing.T) {
	s := newTestServer(t)
	s.Minecraft = nil

	req := httptest.NewRequest(http.MethodGet, "/v3/auth/minecraft", nil)
	rec := httptest.NewRecorder()
	s.handleMinecraftInit(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "not_configured")
}

func TestHandleMinecraftCallbackNotConfigured(t *testing.T) {
	s := newTestServer(t)
	s.Minecraft = nil

	req := httptest.NewRequest(http.MethodGet, "/v3/auth/minecraft/callback?state=xyz", nil)
	rec := httptest.NewRecorder()
	s.handleMinecraftCallback(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "not_configured")
}
