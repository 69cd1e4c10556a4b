package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/modrinth/forgekeep/connector"
	"github.com/modrinth/forgekeep/credential"
	"github.com/modrinth/forgekeep/flow"
	"github.com/modrinth/forgekeep/scope"
	"github.com/modrinth/forgekeep/storage"
)

// handleInit implements GET /init: begins a federated sign-in. Auth is
// optional — an authenticated caller is linking a new provider to their own
// account; an anonymous caller is signing in or registering.
func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	providerName := storage.Provider(q.Get("provider"))
	conn, ok := s.Connectors.Get(providerName)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_input", "unrecognized provider")
		return
	}

	var userID *int64
	if _, user, ferr := s.Authn.Authenticate(ctx, r, scope.UserAuthWrite); ferr == nil {
		userID = &user.ID
	}

	var returnURL *string
	if v := q.Get("return_url"); v != "" {
		returnURL = &v
	}

	f, err := s.Flows.Create(ctx, flow.Flow{
		Kind:        flow.KindOAuth,
		UserID:      userID,
		ReturnURL:   returnURL,
		Provider:    providerName,
		WebSocketID: q.Get("ws"),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "could not start sign-in flow")
		return
	}

	http.Redirect(w, r, conn.RedirectURL(f.ID), http.StatusFound)
}

// handleUnlinkProvider implements DELETE /provider.
func (s *Server) handleUnlinkProvider(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	_, user, ferr := s.Authn.Authenticate(ctx, r, scope.UserAuthWrite)
	if ferr != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}
	providerName := storage.Provider(r.URL.Query().Get("provider"))
	if providerName == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "provider is required")
		return
	}

	_, err := s.Store.UpdateUser(ctx, user.ID, func(u storage.User) (storage.User, error) {
		if u.ProviderIDs == nil {
			return u, nil
		}
		delete(u.ProviderIDs, providerName)
		return u, nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrWouldOrphanAuth) {
			writeError(w, http.StatusBadRequest, "invalid_input", "cannot remove the only authentication method")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "could not unlink provider")
		return
	}
	writeNoContent(w)
}

// callbackResult is delivered either via a WebSocket push (handleWebSocket)
// or as query parameters on the redirect to ReturnURL.
type callbackResult struct {
	Session    string `json:"session,omitempty"`
	Flow       string `json:"flow,omitempty"`
	NewAccount bool   `json:"new_account,omitempty"`
	Error      string `json:"error,omitempty"`
}

// handleCallback implements GET /callback: consumes the OAuth/OpenID flow,
// exchanges the provider's code, fetches the normalized profile, then
// branches over the four federated sign-in cases: existing link, email
// match requiring confirmation, brand-new account, and linking onto the
// currently authenticated user.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), providerCallTimeout)
	defer cancel()

	q := r.URL.Query()
	state := q.Get("state")
	f, err := s.Flows.Consume(ctx, state)
	if err != nil || f.Kind != flow.KindOAuth {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid or expired sign-in flow")
		return
	}

	conn, ok := s.Connectors.Get(f.Provider)
	if !ok {
		s.deliver(w, r, f, callbackResult{Error: "provider is no longer configured"})
		return
	}
	accessToken, err := conn.ExchangeCode(ctx, q)
	if err != nil {
		s.deliver(w, r, f, callbackResult{Error: "could not complete sign-in with the provider"})
		return
	}
	profile, err := conn.FetchProfile(ctx, accessToken)
	if err != nil {
		s.deliver(w, r, f, callbackResult{Error: "could not load your profile from the provider"})
		return
	}

	if f.UserID != nil {
		s.completeLinking(ctx, w, r, f, profile)
		return
	}
	s.completeSignIn(ctx, w, r, f, profile)
}

// completeLinking handles the "link to an already-authenticated user" case.
func (s *Server) completeLinking(ctx context.Context, w http.ResponseWriter, r *http.Request, f flow.Flow, profile connector.Profile) {
	if owner, err := s.Store.GetUserByProviderID(ctx, f.Provider, profile.ProviderUserID); err == nil && owner.ID != *f.UserID {
		s.deliver(w, r, f, callbackResult{Error: "this provider account is already linked to another user"})
		return
	}

	var email *string
	user, err := s.Store.UpdateUser(ctx, *f.UserID, func(u storage.User) (storage.User, error) {
		if u.ProviderIDs == nil {
			u.ProviderIDs = map[storage.Provider]string{}
		}
		u.ProviderIDs[f.Provider] = profile.ProviderUserID
		email = u.Email
		return u, nil
	})
	if err != nil {
		s.deliver(w, r, f, callbackResult{Error: "could not link provider"})
		return
	}
	if email != nil {
		subject, text, html := s.Templates.NewLoginNotice(clientIP(r), r.Header.Get("User-Agent"))
		_ = s.Mailer.Send(subject+" — provider linked", text, html, *email)
	}
	sess, err := credential.IssueSession(ctx, s.Store, user.ID, requestMetadataFrom(r))
	if err != nil {
		s.deliver(w, r, f, callbackResult{Error: "could not issue session"})
		return
	}
	s.deliver(w, r, f, callbackResult{Session: sess.Token})
}

// completeSignIn handles the three anonymous-flow outcomes: existing-user
// 2FA-required, existing-user direct sign-in, and new-account creation.
func (s *Server) completeSignIn(ctx context.Context, w http.ResponseWriter, r *http.Request, f flow.Flow, profile connector.Profile) {
	existing, err := s.Store.GetUserByProviderID(ctx, f.Provider, profile.ProviderUserID)
	if err == nil {
		if existing.HasTOTP() {
			login2fa, ferr := s.Flows.Create(ctx, flow.Flow{Kind: flow.KindLogin2FA, UserID: &existing.ID})
			if ferr != nil {
				s.deliver(w, r, f, callbackResult{Error: "could not start 2fa flow"})
				return
			}
			s.deliver(w, r, f, callbackResult{Flow: login2fa.ID})
			return
		}
		sess, serr := credential.IssueSession(ctx, s.Store, existing.ID, requestMetadataFrom(r))
		if serr != nil {
			s.deliver(w, r, f, callbackResult{Error: "could not issue session"})
			return
		}
		s.deliver(w, r, f, callbackResult{Session: sess.Token})
		return
	}

	username, uerr := s.uniqueUsername(ctx, profile.Username)
	if uerr != nil {
		s.deliver(w, r, f, callbackResult{Error: "could not allocate a username"})
		return
	}
	var email *string
	if profile.Email != "" {
		email = &profile.Email
	}
	user, cerr := s.Store.CreateUser(ctx, storage.User{
		Username:      username,
		Email:         email,
		EmailVerified: email != nil,
		ProviderIDs:   map[storage.Provider]string{f.Provider: profile.ProviderUserID},
	})
	if cerr != nil {
		s.deliver(w, r, f, callbackResult{Error: "could not create account"})
		return
	}
	sess, serr := credential.IssueSession(ctx, s.Store, user.ID, requestMetadataFrom(r))
	if serr != nil {
		s.deliver(w, r, f, callbackResult{Error: "could not issue session"})
		return
	}
	s.deliver(w, r, f, callbackResult{Session: sess.Token, NewAccount: true})
}

// uniqueUsername resolves collisions by appending an incrementing numeric
// suffix until free.
func (s *Server) uniqueUsername(ctx context.Context, base string) (string, error) {
	if base == "" {
		base = "user"
	}
	candidate := base
	for i := 0; ; i++ {
		if i > 0 {
			candidate = fmt.Sprintf("%s%d", base, i)
		}
		if _, err := s.Store.GetUserByUsername(ctx, candidate); errors.Is(err, storage.ErrNotFound) {
			return candidate, nil
		} else if err != nil {
			return "", err
		}
		if i > 1000 {
			return "", errors.New("httpapi: exhausted username suffixes")
		}
	}
}

// deliver sends result either over the flow's registered WebSocket, as a
// redirect carrying the result on the stored return URL's query string, or
// as a plain JSON body when neither is available.
func (s *Server) deliver(w http.ResponseWriter, r *http.Request, f flow.Flow, result callbackResult) {
	if f.WebSocketID != "" && s.Sockets.Push(f.WebSocketID, result) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if f.ReturnURL == nil {
		writeJSON(w, http.StatusOK, result)
		return
	}
	q := url.Values{}
	if result.Error != "" {
		q.Set("error", result.Error)
	}
	if result.Session != "" {
		q.Set("session", result.Session)
	}
	if result.Flow != "" {
		q.Set("flow", result.Flow)
	}
	if result.NewAccount {
		q.Set("new_account", strconv.FormatBool(true))
	}
	http.Redirect(w, r, appendQuery(*f.ReturnURL, q), http.StatusFound)
}

// appendQuery appends extra as a query string onto uri, joining with "&"
// if uri already carries one.
func appendQuery(uri string, extra url.Values) string {
	sep := "?"
	if strings.Contains(uri, "?") {
		sep = "&"
	}
	return uri + sep + extra.Encode()
}
