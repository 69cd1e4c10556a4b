package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/modrinth/forgekeep/credential"
	"github.com/modrinth/forgekeep/scope"
	"github.com/modrinth/forgekeep/storage"
)

type patOut struct {
	ID      string `json:"id"`
	Token   string `json:"token,omitempty"`
	Name    string `json:"name"`
	Scopes  string `json:"scopes"`
	Created time.Time `json:"created"`
	Expires time.Time `json:"expires,omitempty"`
	LastUsed time.Time `json:"last_used,omitempty"`
}

func toPATOut(p storage.PAT) patOut {
	return patOut{
		ID:       strconv.FormatInt(p.ID, 10),
		Name:     p.Name,
		Scopes:   p.Scopes.String(),
		Created:  p.Created,
		Expires:  p.Expires,
		LastUsed: p.LastUsed,
	}
}

// handleListPATs implements GET /pat.
func (s *Server) handleListPATs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	_, user, ferr := s.Authn.Authenticate(ctx, r, scope.PatRead)
	if ferr != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}
	pats, err := s.Store.ListPATsByUser(ctx, user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "could not list personal access tokens")
		return
	}
	out := make([]patOut, len(pats))
	for i, p := range pats {
		out[i] = toPATOut(p)
	}
	writeJSON(w, http.StatusOK, out)
}

type createPATRequest struct {
	Name    string `json:"name"`
	Scopes  string `json:"scopes"`
	Expires *time.Time `json:"expires,omitempty"`
}

// handleCreatePAT implements POST /pat.
func (s *Server) handleCreatePAT(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	_, user, ferr := s.Authn.Authenticate(ctx, r, scope.PatCreate)
	if ferr != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}
	var body createPATRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "malformed request body")
		return
	}
	scopes, err := scope.Parse(body.Scopes)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "unrecognized scope")
		return
	}
	var expires time.Time
	if body.Expires != nil {
		expires = *body.Expires
	}

	pat, err := credential.CreatePAT(ctx, s.Store, user.ID, body.Name, scopes, expires)
	switch err {
	case nil:
		writeJSON(w, http.StatusOK, patOutWithToken(pat))
	case credential.ErrRestrictedScope:
		writeError(w, http.StatusBadRequest, "invalid_input", "requested scope is restricted to sessions")
	case credential.ErrPastExpiry:
		writeError(w, http.StatusBadRequest, "invalid_input", "expires must be in the future")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "could not create personal access token")
	}
}

func patOutWithToken(p storage.PAT) patOut {
	out := toPATOut(p)
	out.Token = p.Token
	return out
}

type editPATRequest struct {
	Name    *string    `json:"name,omitempty"`
	Scopes  *string    `json:"scopes,omitempty"`
	Expires *time.Time `json:"expires,omitempty"`
}

// handleEditPAT implements PATCH /pat/{id}.
func (s *Server) handleEditPAT(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	_, user, ferr := s.Authn.Authenticate(ctx, r, scope.PatWrite)
	if ferr != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "malformed pat id")
		return
	}
	existing, err := s.Store.GetPATByID(ctx, id)
	if err != nil || existing.UserID != user.ID {
		writeError(w, http.StatusNotFound, "not_found", "no such personal access token")
		return
	}

	var body editPATRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "malformed request body")
		return
	}
	edit := credential.PATEdit{Name: body.Name, Expires: body.Expires}
	if body.Scopes != nil {
		parsed, perr := scope.Parse(*body.Scopes)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "invalid_input", "unrecognized scope")
			return
		}
		edit.Scopes = &parsed
	}

	updated, err := credential.EditPAT(ctx, s.Store, id, edit)
	switch err {
	case nil:
		writeJSON(w, http.StatusOK, toPATOut(updated))
	case credential.ErrRestrictedScope:
		writeError(w, http.StatusBadRequest, "invalid_input", "requested scope is restricted to sessions")
	case credential.ErrPastExpiry:
		writeError(w, http.StatusBadRequest, "invalid_input", "expires must be in the future")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "could not update personal access token")
	}
}

// handleDeletePAT implements DELETE /pat/{id}.
func (s *Server) handleDeletePAT(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	_, user, ferr := s.Authn.Authenticate(ctx, r, scope.PatDelete)
	if ferr != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "malformed pat id")
		return
	}
	existing, err := s.Store.GetPATByID(ctx, id)
	if err != nil || existing.UserID != user.ID {
		writeError(w, http.StatusNotFound, "not_found", "no such personal access token")
		return
	}
	if err := s.Store.DeletePAT(ctx, id); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "could not delete personal access token")
		return
	}
	writeNoContent(w)
}
