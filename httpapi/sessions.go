package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/modrinth/forgekeep/authn"
	"github.com/modrinth/forgekeep/credential"
	"github.com/modrinth/forgekeep/scope"
	"github.com/modrinth/forgekeep/storage"
)

// sessionOut is the wire shape for a session row; Token is only ever
// included on the response to the request that created it (handleCreate,
// handleLogin, handleLogin2FA, handleRefreshSession) via sessionResponse,
// never from handleListSessions.
type sessionOut struct {
	ID        string `json:"id"`
	Token     string `json:"session,omitempty"`
	Created   time.Time `json:"created"`
	LastLogin time.Time `json:"last_login"`
	Expires   time.Time `json:"expires"`
	OS        string    `json:"os,omitempty"`
	Platform  string    `json:"platform,omitempty"`
	City      string    `json:"city,omitempty"`
	Country   string    `json:"country,omitempty"`
	Current   bool      `json:"current,omitempty"`
}

func sessionResponse(s storage.Session) sessionOut {
	out := toSessionOut(s, false)
	out.Token = s.Token
	return out
}

func toSessionOut(s storage.Session, current bool) sessionOut {
	return sessionOut{
		ID:        strconv.FormatInt(s.ID, 10),
		Created:   s.Created,
		LastLogin: s.LastLogin,
		Expires:   s.Expires,
		OS:        s.OS,
		Platform:  s.Platform,
		City:      s.City,
		Country:   s.Country,
		Current:   current,
	}
}

// handleListSessions implements GET /session/list: every non-expired
// session for the caller, with the one matching the current Authorization
// header flagged.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	_, user, ferr := s.Authn.Authenticate(ctx, r, scope.SessionRead)
	if ferr != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	token, _ := authn.ExtractBearerToken(r)
	sessions, err := s.Store.ListSessionsByUser(ctx, user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "could not list sessions")
		return
	}

	now := time.Now()
	out := make([]sessionOut, 0, len(sessions))
	for _, sess := range sessions {
		if sess.Expires.Before(now) {
			continue
		}
		out = append(out, toSessionOut(sess, sess.Token == token))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleDeleteSession implements DELETE /session/{id}: acts only on a
// session owned by the caller.
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	_, user, ferr := s.Authn.Authenticate(ctx, r, scope.SessionDelete)
	if ferr != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "malformed session id")
		return
	}
	sess, err := s.Store.GetSessionByID(ctx, id)
	if err != nil || sess.UserID != user.ID {
		writeError(w, http.StatusNotFound, "not_found", "no such session")
		return
	}
	if err := s.Store.DeleteSession(ctx, id); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "could not delete session")
		return
	}
	writeNoContent(w)
}

// handleRefreshSession implements POST /session/refresh: consumes the
// current session and issues a replacement.
func (s *Server) handleRefreshSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	token, ferr := authn.ExtractBearerToken(r)
	if ferr != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}
	current, err := s.Store.GetSessionByToken(ctx, token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	fresh, err := credential.RefreshSession(ctx, s.Store, current, requestMetadataFrom(r))
	if errors.Is(err, credential.ErrRefreshExpired) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "session refresh window has expired")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "session can no longer be refreshed")
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse(fresh))
}
