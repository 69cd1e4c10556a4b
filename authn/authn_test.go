package authn

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modrinth/forgekeep/credential"
	"github.com/modrinth/forgekeep/scope"
	"github.com/modrinth/forgekeep/storage"
	"github.com/modrinth/forgekeep/storage/memstore"
)

func newRequest(t *testing.T, authHeader string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, "https://example.com/v3/user", nil)
	require.NoError(t, err)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	return req
}

func TestExtractBearerTokenVariants(t *testing.T) {
	tok, ferr := ExtractBearerToken(newRequest(t, "Bearer mrp_abc"))
	require.Nil(t, ferr)
	assert.Equal(t, "mrp_abc", tok)

	tok, ferr = ExtractBearerToken(newRequest(t, "mrp_abc"))
	require.Nil(t, ferr)
	assert.Equal(t, "mrp_abc", tok)

	_, ferr = ExtractBearerToken(newRequest(t, ""))
	require.NotNil(t, ferr)
	assert.Equal(t, InvalidAuthMethod, ferr.Kind)
}

func TestAuthenticatePAT(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	u, err := store.CreateUser(ctx, storage.User{Username: "alice", ProviderIDs: map[storage.Provider]string{storage.ProviderGitHub: "1"}})
	require.NoError(t, err)
	pat, err := credential.CreatePAT(ctx, store, u.ID, "ci", scope.ProjectRead, time.Time{})
	require.NoError(t, err)

	a := New(store, nil, nil, false)
	scopes, user, ferr := a.Authenticate(ctx, newRequest(t, "Bearer "+pat.Token), 0)
	require.Nil(t, ferr)
	assert.Equal(t, scope.ProjectRead, scopes)
	assert.Equal(t, u.ID, user.ID)
}

func TestAuthenticateExpiredPAT(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	u, err := store.CreateUser(ctx, storage.User{Username: "bob", ProviderIDs: map[storage.Provider]string{storage.ProviderGitHub: "2"}})
	require.NoError(t, err)
	pat, err := store.CreatePAT(ctx, storage.PAT{UserID: u.ID, Token: "mrp_expired", Expires: time.Now().Add(-time.Hour)})
	require.NoError(t, err)

	a := New(store, nil, nil, false)
	_, _, ferr := a.Authenticate(ctx, newRequest(t, "Bearer "+pat.Token), 0)
	require.NotNil(t, ferr)
	assert.Equal(t, InvalidCredentials, ferr.Kind)
}

func TestAuthenticateSessionCarriesAllScopes(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	u, err := store.CreateUser(ctx, storage.User{Username: "carol", ProviderIDs: map[storage.Provider]string{storage.ProviderGitHub: "3"}})
	require.NoError(t, err)
	sess, err := credential.IssueSession(ctx, store, u.ID, credential.RequestMetadata{})
	require.NoError(t, err)

	a := New(store, nil, nil, false)
	scopes, _, ferr := a.Authenticate(ctx, newRequest(t, "Bearer "+sess.Token), scope.UserAuthWrite)
	require.Nil(t, ferr)
	assert.True(t, scopes.Contains(scope.UserAuthWrite))
}

func TestAuthenticateRejectsUnrecognizedPrefix(t *testing.T) {
	store := memstore.New()
	a := New(store, nil, nil, false)
	_, _, ferr := a.Authenticate(context.Background(), newRequest(t, "Bearer notarealtoken"), 0)
	require.NotNil(t, ferr)
	assert.Equal(t, InvalidAuthMethod, ferr.Kind)
}

func TestAuthenticateInsufficientScope(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	u, err := store.CreateUser(ctx, storage.User{Username: "dave", ProviderIDs: map[storage.Provider]string{storage.ProviderGitHub: "4"}})
	require.NoError(t, err)
	pat, err := credential.CreatePAT(ctx, store, u.ID, "ci", scope.ProjectRead, time.Time{})
	require.NoError(t, err)

	a := New(store, nil, nil, false)
	_, _, ferr := a.Authenticate(ctx, newRequest(t, "Bearer "+pat.Token), scope.ProjectWrite)
	require.NotNil(t, ferr)
	assert.Equal(t, InvalidCredentials, ferr.Kind)
}

func TestRequireModeratorRejectsNonMod(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	u, err := store.CreateUser(ctx, storage.User{Username: "erin", ProviderIDs: map[storage.Provider]string{storage.ProviderGitHub: "5"}})
	require.NoError(t, err)
	sess, err := credential.IssueSession(ctx, store, u.ID, credential.RequestMetadata{})
	require.NoError(t, err)

	a := New(store, nil, nil, false)
	_, ferr := a.RequireModerator(ctx, newRequest(t, "Bearer "+sess.Token))
	require.NotNil(t, ferr)
}
