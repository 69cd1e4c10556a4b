// Package oauthserver implements the RFC 6749 §4.1 authorization code
// grant: GET /authorize, POST /accept, and POST /token. The Go HTTP handler
// shape (ParseForm, Basic-auth client credentials, constant-time secret
// comparison, a dedicated token error body) follows dexidp/dex's
// server/authorizationhandlers.go and server/tokenhandlers.go.
package oauthserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/modrinth/forgekeep/authn"
	"github.com/modrinth/forgekeep/credential"
	"github.com/modrinth/forgekeep/flow"
	"github.com/modrinth/forgekeep/scope"
	"github.com/modrinth/forgekeep/storage"
)

// AccessTokenLifetime is how long a minted OAuth2 access token is valid.
const AccessTokenLifetime = 30 * 24 * time.Hour

// Server hosts the three authorization-code-grant endpoints. It holds no
// transport-level routing of its own; a caller (package httpapi) mounts its
// handler methods under whatever paths it chooses.
type Server struct {
	store         storage.Store
	flows         *flow.Store
	authenticator *authn.Authenticator

	accessTokenLifetime time.Duration
}

func New(store storage.Store, flows *flow.Store, authenticator *authn.Authenticator) *Server {
	return &Server{
		store:               store,
		flows:               flows,
		authenticator:       authenticator,
		accessTokenLifetime: AccessTokenLifetime,
	}
}

// WithAccessTokenLifetime overrides the default access token lifetime and
// returns s for chaining. A zero d leaves the default in place.
func (s *Server) WithAccessTokenLifetime(d time.Duration) *Server {
	if d > 0 {
		s.accessTokenLifetime = d
	}
	return s
}

type accessRequest struct {
	FlowID          string `json:"flow_id"`
	ClientID        int64  `json:"client_id"`
	ClientName      string `json:"client_name"`
	ClientIcon      string `json:"client_icon,omitempty"`
	RequestedScopes string `json:"requested_scopes"`
}

// HandleAuthorize implements GET /authorize (init_oauth in mod.rs). It
// requires an authenticated first-party session or PAT carrying
// scope.UserAuthWrite, validates the client and its redirect_uri, and
// either short-circuits straight to a code (an identical-or-broader
// authorization already exists) or hands back a pending approval flow for
// the client to show the user a consent screen against.
func (s *Server) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	_, user, ferr := s.authenticator.Authenticate(ctx, r, scope.UserAuthWrite)
	if ferr != nil {
		writeError(w, r, errDirect(AuthenticationError, ferr.Error()))
		return
	}

	q := r.URL.Query()
	clientID, err := strconv.ParseInt(q.Get("client_id"), 10, 64)
	if err != nil {
		writeError(w, r, errDirect(UnrecognizedClient, "client_id is missing or malformed"))
		return
	}

	_, hasRedirect := q["redirect_uri"]
	requestedRedirect := q.Get("redirect_uri")

	var state *string
	if raw := q.Get("state"); raw != "" {
		state = &raw
	}

	client, err := s.store.GetOAuthClientByID(ctx, clientID)
	if err != nil {
		writeError(w, r, errDirect(UnrecognizedClient, "client "+strconv.FormatInt(clientID, 10)+" is not registered"))
		return
	}

	redirectURI, oerr := validatedRedirectURI(requestedRedirect, hasRedirect, client.RedirectURIs)
	if oerr != nil {
		writeError(w, r, oerr)
		return
	}

	requestedScopes := client.MaxScopes
	if scopeParam := q.Get("scope"); scopeParam != "" {
		parsed, perr := scope.Parse(scopeParam)
		if perr != nil {
			writeError(w, r, errRedirect(FailedScopeParse, perr.Error(), state, redirectURI))
			return
		}
		requestedScopes = parsed
	}
	if !client.MaxScopes.Contains(requestedScopes) {
		writeError(w, r, errRedirect(ScopesTooBroad, "requested scope exceeds what this client is configured for", state, redirectURI))
		return
	}

	existing, err := s.store.GetOAuthAuthorization(ctx, client.ID, user.ID)
	switch {
	case err == nil && existing.Scopes.Contains(requestedScopes):
		s.issueAuthorizationCode(w, r, user.ID, client.ID, existing.ID, requestedScopes, redirectURI, state)
		return
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		writeError(w, r, errRedirect(AuthenticationError, err.Error(), state, redirectURI))
		return
	}

	approvalFlow, ferr2 := s.flows.Create(ctx, flow.Flow{
		Kind:                 flow.KindInitOAuthAppApproval,
		UserID:               &user.ID,
		ClientID:             client.ID,
		RequestedScopes:      requestedScopes,
		ValidatedRedirectURI: redirectURI,
		OriginalRedirectURI:  requestedRedirect,
		OriginalState:        state,
	})
	if ferr2 != nil {
		writeError(w, r, errRedirect(AuthenticationError, ferr2.Error(), state, redirectURI))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(accessRequest{
		FlowID:          approvalFlow.ID,
		ClientID:        client.ID,
		ClientName:      client.Name,
		ClientIcon:      client.IconURL,
		RequestedScopes: requestedScopes.String(),
	})
}

// validatedRedirectURI implements ValidatedRedirectUri::validate: an
// explicit redirect_uri must match one of the client's registered URIs
// ignoring query components; omitting it falls back to the client's first
// registered URI.
func validatedRedirectURI(requested string, provided bool, registered []string) (string, *Error) {
	if len(registered) == 0 {
		return "", errDirect(ClientMissingRedirectURI, "client has no redirect uris configured")
	}
	if !provided {
		return registered[0], nil
	}
	for _, candidate := range registered {
		if sameURIExceptQuery(candidate, requested) {
			return requested, nil
		}
	}
	return "", errDirect(InvalidRedirectURI, "the provided redirect uri did not match any configured for this client")
}

func sameURIExceptQuery(a, b string) bool {
	aBase, _, _ := strings.Cut(a, "?")
	bBase, _, _ := strings.Cut(b, "?")
	return aBase == bBase
}

type acceptRequest struct {
	Flow string `json:"flow"`
}

// HandleAccept implements POST /accept (accept_client_scopes in mod.rs).
// The pending flow is consumed rather than merely read, so a flow id can
// back exactly one authorization grant.
func (s *Server) HandleAccept(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	_, user, ferr := s.authenticator.Authenticate(ctx, r, scope.UserAuthWrite)
	if ferr != nil {
		writeError(w, r, errDirect(AuthenticationError, ferr.Error()))
		return
	}

	var body acceptRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, errDirect(InvalidAcceptFlowID, "malformed request body"))
		return
	}

	f, err := s.flows.Consume(ctx, body.Flow)
	if err != nil || f.Kind != flow.KindInitOAuthAppApproval || f.UserID == nil || *f.UserID != user.ID {
		writeError(w, r, errDirect(InvalidAcceptFlowID, "the provided flow id was invalid"))
		return
	}

	auth, err := s.store.UpsertOAuthAuthorization(ctx, storage.OAuthAuthorization{
		ClientID: f.ClientID,
		UserID:   user.ID,
		Scopes:   f.RequestedScopes,
		Created:  time.Now().UTC(),
	})
	if err != nil {
		writeError(w, r, errRedirect(AuthenticationError, err.Error(), f.OriginalState, f.ValidatedRedirectURI))
		return
	}

	s.issueAuthorizationCode(w, r, user.ID, f.ClientID, auth.ID, f.RequestedScopes, f.ValidatedRedirectURI, f.OriginalState)
}

// issueAuthorizationCode implements init_oauth_code_flow: it mints a
// single-use, 10-minute authorization code (flow.KindOAuthAuthorizationCodeSupplied)
// and redirects to the client's validated redirect URI with it, per RFC
// 6749 §4.1.2.
func (s *Server) issueAuthorizationCode(w http.ResponseWriter, r *http.Request, userID, clientID, authorizationID int64, scopes scope.Scopes, redirectURI string, state *string) {
	code, err := s.flows.Create(r.Context(), flow.Flow{
		Kind:                 flow.KindOAuthAuthorizationCodeSupplied,
		UserID:               &userID,
		ClientID:             clientID,
		AuthorizationID:      authorizationID,
		Scopes:               scopes,
		ValidatedRedirectURI: redirectURI,
	})
	if err != nil {
		writeError(w, r, errRedirect(AuthenticationError, err.Error(), state, redirectURI))
		return
	}

	q := url.Values{}
	q.Set("code", code.ID)
	if state != nil {
		q.Set("state", *state)
	}

	// IETF RFC 6749 §4.1.2 (https://datatracker.ietf.org/doc/html/rfc6749#section-4.1.2)
	http.Redirect(w, r, appendQuery(redirectURI, q), http.StatusFound)
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope"`
}

type tokenErrorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// HandleToken implements POST /token: RFC 6749 §4.1.3's authorization code
// exchange. Every failure here is reported directly as JSON; none of them
// carry a redirect URI to report through (the grounding errors.rs taxonomy
// only ever redirects from /authorize and /accept).
func (s *Server) HandleToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	w.Header().Set("Content-Type", "application/json")

	if err := r.ParseForm(); err != nil {
		writeTokenError(w, "invalid_request", "could not parse request body", http.StatusBadRequest)
		return
	}
	if grantType := r.PostFormValue("grant_type"); grantType != "authorization_code" {
		writeTokenError(w, "unsupported_grant_type", "", http.StatusBadRequest)
		return
	}

	clientIDStr, clientSecret, ok := clientCredentials(r)
	if !ok {
		writeTokenError(w, "invalid_request", "client authentication is missing", http.StatusBadRequest)
		return
	}
	clientID, err := strconv.ParseInt(clientIDStr, 10, 64)
	if err != nil {
		writeTokenError(w, "invalid_client", "invalid client credentials", http.StatusUnauthorized)
		return
	}
	client, err := s.store.GetOAuthClientByID(ctx, clientID)
	if err != nil {
		writeTokenError(w, "invalid_client", "invalid client credentials", http.StatusUnauthorized)
		return
	}
	if ok, _ := credential.VerifyPassword(clientSecret, client.ClientSecretHash); !ok {
		writeTokenError(w, "invalid_client", "invalid client credentials", http.StatusUnauthorized)
		return
	}

	code := r.PostFormValue("code")
	if code == "" {
		writeTokenError(w, "invalid_request", "required param: code", http.StatusBadRequest)
		return
	}

	f, err := s.flows.Consume(ctx, code)
	if err != nil || f.Kind != flow.KindOAuthAuthorizationCodeSupplied || f.ClientID != client.ID || f.UserID == nil {
		writeTokenError(w, "invalid_grant", "invalid or expired code parameter", http.StatusBadRequest)
		return
	}
	if redirectURI := r.PostFormValue("redirect_uri"); redirectURI != "" && redirectURI != f.ValidatedRedirectURI {
		writeTokenError(w, "invalid_request", "redirect_uri did not match the uri from the authorization request", http.StatusBadRequest)
		return
	}

	row, plaintext, err := credential.IssueOAuthAccessToken(ctx, s.store, *f.UserID, f.ClientID, f.AuthorizationID, f.Scopes, s.accessTokenLifetime)
	if err != nil {
		writeTokenError(w, "server_error", "", http.StatusInternalServerError)
		return
	}

	_ = json.NewEncoder(w).Encode(tokenResponse{
		AccessToken: plaintext,
		TokenType:   "Bearer",
		ExpiresIn:   int64(time.Until(row.Expires).Seconds()),
		Scope:       row.Scopes.String(),
	})
}

// clientCredentials extracts client_id/client_secret from HTTP Basic auth
// or the form body, matching dex's withClientFromStorage.
func clientCredentials(r *http.Request) (id, secret string, ok bool) {
	if id, secret, ok = r.BasicAuth(); ok {
		return id, secret, true
	}
	id = r.PostFormValue("client_id")
	secret = r.PostFormValue("client_secret")
	return id, secret, id != ""
}

func writeTokenError(w http.ResponseWriter, errType, description string, statusCode int) {
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(tokenErrorBody{Error: errType, ErrorDescription: description})
}
