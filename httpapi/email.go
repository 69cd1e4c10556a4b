package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/modrinth/forgekeep/flow"
	"github.com/modrinth/forgekeep/scope"
	"github.com/modrinth/forgekeep/storage"
)

// handleResendVerifyEmail implements POST /email/resend_verify.
func (s *Server) handleResendVerifyEmail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	_, user, ferr := s.Authn.Authenticate(ctx, r, scope.UserAuthWrite)
	if ferr != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}
	if user.Email == nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "account has no email on file")
		return
	}
	if user.EmailVerified {
		writeNoContent(w)
		return
	}

	f, err := s.Flows.Create(ctx, flow.Flow{Kind: flow.KindConfirmEmail, UserID: &user.ID, ConfirmEmail: *user.Email})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "could not start verification flow")
		return
	}
	subject, text, html := s.Templates.VerifyEmail(s.SiteURL + "/auth/verify-email?flow=" + f.ID)
	_ = s.Mailer.Send(subject, text, html, *user.Email)
	writeNoContent(w)
}

type changeEmailRequest struct {
	Email string `json:"email"`
}

// handleChangeEmail implements PATCH /email: sets email, clears
// email_verified, and starts a fresh confirmation flow.
func (s *Server) handleChangeEmail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	_, user, ferr := s.Authn.Authenticate(ctx, r, scope.UserAuthWrite)
	if ferr != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}
	var body changeEmailRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || !emailRE.MatchString(body.Email) {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid email")
		return
	}
	if _, err := s.Store.GetUserByEmail(ctx, body.Email); err == nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "email is already registered")
		return
	}

	email := body.Email
	_, err := s.Store.UpdateUser(ctx, user.ID, func(u storage.User) (storage.User, error) {
		u.Email = &email
		u.EmailVerified = false
		return u, nil
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "could not update email")
		return
	}

	f, err := s.Flows.Create(ctx, flow.Flow{Kind: flow.KindConfirmEmail, UserID: &user.ID, ConfirmEmail: email})
	if err == nil {
		subject, text, html := s.Templates.VerifyEmail(s.SiteURL + "/auth/verify-email?flow=" + f.ID)
		_ = s.Mailer.Send(subject, text, html, email)
	}
	writeNoContent(w)
}

type verifyEmailRequest struct {
	Flow string `json:"flow"`
}

// handleVerifyEmail implements POST /email/verify: rejects a flow whose
// captured email no longer matches the user's current email, so a stale
// link from before a subsequent email change cannot verify the new address.
func (s *Server) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body verifyEmailRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "malformed request body")
		return
	}
	f, err := s.Flows.Consume(ctx, body.Flow)
	if err != nil || f.Kind != flow.KindConfirmEmail || f.UserID == nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid or expired flow")
		return
	}
	user, err := s.Store.GetUserByID(ctx, *f.UserID)
	if err != nil || user.Email == nil || *user.Email != f.ConfirmEmail {
		writeError(w, http.StatusBadRequest, "invalid_input", "this link is no longer valid")
		return
	}
	_, err = s.Store.UpdateUser(ctx, user.ID, func(u storage.User) (storage.User, error) {
		u.EmailVerified = true
		return u, nil
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "could not verify email")
		return
	}
	writeNoContent(w)
}
