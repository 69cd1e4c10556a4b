package oauthserver

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modrinth/forgekeep/authn"
	"github.com/modrinth/forgekeep/credential"
	"github.com/modrinth/forgekeep/flow"
	"github.com/modrinth/forgekeep/scope"
	"github.com/modrinth/forgekeep/storage"
	"github.com/modrinth/forgekeep/storage/memstore"
)

func newTestServer(t *testing.T) (*Server, storage.Store, storage.User, string) {
	t.Helper()
	mr := miniredis.RunT(t)
	t.Cleanup(mr.Close)

	store := memstore.New()
	flows := flow.New(flow.Config{Addrs: []string{mr.Addr()}})
	authenticator := authn.New(store, nil, nil, false)

	ctx := context.Background()
	user, err := store.CreateUser(ctx, storage.User{Username: "alice", ProviderIDs: map[storage.Provider]string{storage.ProviderGitHub: "1"}})
	require.NoError(t, err)

	sess, err := credential.IssueSession(ctx, store, user.ID, credential.RequestMetadata{})
	require.NoError(t, err)

	return New(store, flows, authenticator), store, user, sess.Token
}

func createClient(t *testing.T, store storage.Store, secret string, redirectURIs []string, maxScopes scope.Scopes) storage.OAuthClient {
	t.Helper()
	hash, err := credential.HashPassword(secret)
	require.NoError(t, err)
	client, err := store.CreateOAuthClient(context.Background(), storage.OAuthClient{
		ClientSecretHash: hash,
		Name:             "Test App",
		RedirectURIs:     redirectURIs,
		MaxScopes:        maxScopes,
	})
	require.NoError(t, err)
	return client
}

func extractJSONString(t *testing.T, body, key string) string {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(body), &m))
	v, ok := m[key].(string)
	require.True(t, ok, "key %q not found or not a string in %s", key, body)
	return v
}

func TestAuthorizeNewClientReturnsApprovalFlow(t *testing.T) {
	s, store, _, sessionToken := newTestServer(t)
	client := createClient(t, store, "shh", []string{"https://app.example/callback"}, scope.ProjectRead|scope.ProjectWrite)

	req := httptest.NewRequest("GET", "/authorize?client_id="+urlInt(client.ID)+"&scope=PROJECT_READ", nil)
	req.Header.Set("Authorization", "Bearer "+sessionToken)
	w := httptest.NewRecorder()

	s.HandleAuthorize(w, req)

	assert.Equal(t, 200, w.Code)
	assert.Contains(t, w.Body.String(), `"flow_id"`)
	assert.Contains(t, w.Body.String(), `"requested_scopes":"PROJECT_READ"`)
}

func TestAuthorizeUnrecognizedClient(t *testing.T) {
	s, _, _, sessionToken := newTestServer(t)

	req := httptest.NewRequest("GET", "/authorize?client_id=999999", nil)
	req.Header.Set("Authorization", "Bearer "+sessionToken)
	w := httptest.NewRecorder()

	s.HandleAuthorize(w, req)

	assert.Equal(t, 500, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_request")
}

func TestAuthorizeScopeTooBroadRedirects(t *testing.T) {
	s, store, _, sessionToken := newTestServer(t)
	client := createClient(t, store, "shh", []string{"https://app.example/callback"}, scope.ProjectRead)

	req := httptest.NewRequest("GET", "/authorize?client_id="+urlInt(client.ID)+"&scope=PROJECT_READ+PROJECT_WRITE&state=xyz", nil)
	req.Header.Set("Authorization", "Bearer "+sessionToken)
	w := httptest.NewRecorder()

	s.HandleAuthorize(w, req)

	assert.Equal(t, 302, w.Code)
	loc := w.Header().Get("Location")
	assert.Contains(t, loc, "error=invalid_scope")
	assert.Contains(t, loc, "state=xyz")
}

func TestFullAuthorizationCodeGrant(t *testing.T) {
	s, store, user, sessionToken := newTestServer(t)
	client := createClient(t, store, "shh", []string{"https://app.example/callback"}, scope.ProjectRead)

	// Step 1: /authorize with no existing grant returns a pending flow.
	authReq := httptest.NewRequest("GET", "/authorize?client_id="+urlInt(client.ID)+"&scope=PROJECT_READ&state=xyz", nil)
	authReq.Header.Set("Authorization", "Bearer "+sessionToken)
	authRec := httptest.NewRecorder()
	s.HandleAuthorize(authRec, authReq)
	require.Equal(t, 200, authRec.Code)

	flowID := extractJSONString(t, authRec.Body.String(), "flow_id")

	// Step 2: /accept consumes the flow and issues a code via redirect.
	acceptReq := httptest.NewRequest("POST", "/accept", strings.NewReader(`{"flow":"`+flowID+`"}`))
	acceptReq.Header.Set("Authorization", "Bearer "+sessionToken)
	acceptRec := httptest.NewRecorder()
	s.HandleAccept(acceptRec, acceptReq)
	require.Equal(t, 302, acceptRec.Code)

	loc, err := url.Parse(acceptRec.Header().Get("Location"))
	require.NoError(t, err)
	code := loc.Query().Get("code")
	require.NotEmpty(t, code)
	assert.Equal(t, "xyz", loc.Query().Get("state"))

	// Step 3: /token exchanges the code for an access token.
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("client_id", urlInt(client.ID))
	form.Set("client_secret", "shh")
	tokenReq := httptest.NewRequest("POST", "/token", strings.NewReader(form.Encode()))
	tokenReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	tokenRec := httptest.NewRecorder()
	s.HandleToken(tokenRec, tokenReq)
	require.Equal(t, 200, tokenRec.Code)
	assert.Contains(t, tokenRec.Body.String(), `"access_token"`)

	// The code is single-use: a second exchange must fail.
	tokenReq2 := httptest.NewRequest("POST", "/token", strings.NewReader(form.Encode()))
	tokenReq2.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	tokenRec2 := httptest.NewRecorder()
	s.HandleToken(tokenRec2, tokenReq2)
	assert.Equal(t, 400, tokenRec2.Code)

	// Re-authorizing with the same-or-narrower scope now short-circuits
	// straight to a code, skipping the approval flow.
	authReq2 := httptest.NewRequest("GET", "/authorize?client_id="+urlInt(client.ID)+"&scope=PROJECT_READ", nil)
	authReq2.Header.Set("Authorization", "Bearer "+sessionToken)
	authRec2 := httptest.NewRecorder()
	s.HandleAuthorize(authRec2, authReq2)
	assert.Equal(t, 302, authRec2.Code)
	assert.Contains(t, authRec2.Header().Get("Location"), "code=")

	_ = user
}

func TestTokenRejectsWrongClientSecret(t *testing.T) {
	s, store, _, sessionToken := newTestServer(t)
	client := createClient(t, store, "correct-secret", []string{"https://app.example/callback"}, scope.ProjectRead)

	authReq := httptest.NewRequest("GET", "/authorize?client_id="+urlInt(client.ID), nil)
	authReq.Header.Set("Authorization", "Bearer "+sessionToken)
	authRec := httptest.NewRecorder()
	s.HandleAuthorize(authRec, authReq)
	flowID := extractJSONString(t, authRec.Body.String(), "flow_id")

	acceptReq := httptest.NewRequest("POST", "/accept", strings.NewReader(`{"flow":"`+flowID+`"}`))
	acceptReq.Header.Set("Authorization", "Bearer "+sessionToken)
	acceptRec := httptest.NewRecorder()
	s.HandleAccept(acceptRec, acceptReq)
	loc, err := url.Parse(acceptRec.Header().Get("Location"))
	require.NoError(t, err)
	code := loc.Query().Get("code")

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("client_id", urlInt(client.ID))
	form.Set("client_secret", "wrong-secret")
	tokenReq := httptest.NewRequest("POST", "/token", strings.NewReader(form.Encode()))
	tokenReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	tokenRec := httptest.NewRecorder()
	s.HandleToken(tokenRec, tokenReq)
	assert.Equal(t, 401, tokenRec.Code)
}

func urlInt(id int64) string {
	return strconv.FormatInt(id, 10)
}
