package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modrinth/forgekeep/flow"
	"github.com/modrinth/forgekeep/storage"
	"github.com/modrinth/forgekeep/storage/memstore"
)

func TestAppendQueryJoinsWithoutExistingQueryString(t *testing.T) {
	got := appendQuery("https://modrinth.com/auth", url.Values{"session": {"abc"}})
	assert.Equal(t, "https://modrinth.com/auth?session=abc", got)
}

func TestAppendQueryJoinsWithExistingQueryString(t *testing.T) {
	got := appendQuery("https://modrinth.com/auth?ref=cli", url.Values{"session": {"abc"}})
	assert.Equal(t, "https://modrinth.com/auth?ref=cli&session=abc", got)
}

func TestUniqueUsernameReturnsBaseWhenFree(t *testing.T) {
	s := &Server{Store: memstore.New()}
	name, err := s.uniqueUsername(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", name)
}

func TestUniqueUsernameAppendsSuffixOnCollision(t *testing.T) {
	store := memstore.New()
	_, err := store.CreateUser(context.Background(), storage.User{Username: "alice"})
	require.NoError(t, err)

	s := &Server{Store: store}
	name, err := s.uniqueUsername(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice1", name)
}

func TestUniqueUsernameDefaultsEmptyBase(t *testing.T) {
	s := &Server{Store: memstore.New()}
	name, err := s.uniqueUsername(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "user", name)
}

func TestDeliverRedirectsWithSessionWhenNoSocket(t *testing.T) {
	s := &Server{Sockets: NewSocketRegistry()}
	returnURL := "https://modrinth.com/auth/callback"

	req := httptest.NewRequest(http.MethodGet, "/v3/auth/callback", nil)
	rec := httptest.NewRecorder()
	s.deliver(rec, req, flow.Flow{ReturnURL: &returnURL}, callbackResult{Session: "tok123"})

	require.Equal(t, http.StatusFound, rec.Code)
	loc := rec.Header().Get("Location")
	assert.Contains(t, loc, "session=tok123")
}

func TestDeliverWritesJSONWhenNoReturnURLOrSocket(t *testing.T) {
	s := &Server{Sockets: NewSocketRegistry()}
	req := httptest.NewRequest(http.MethodGet, "/v3/auth/callback", nil)
	rec := httptest.NewRecorder()
	s.deliver(rec, req, flow.Flow{}, callbackResult{NewAccount: true})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"new_account":true`)
}
