package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/modrinth/forgekeep/credential"
	"github.com/modrinth/forgekeep/flow"
	"github.com/modrinth/forgekeep/pwpolicy"
	"github.com/modrinth/forgekeep/scope"
	"github.com/modrinth/forgekeep/storage"
)

// usernameRE constrains registration usernames to 1-39 url-safe characters.
var usernameRE = regexp.MustCompile(`^[a-zA-Z0-9_.-]{1,39}$`)

var emailRE = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

type createRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Captcha  string `json:"challenge"`
}

// handleCreate implements POST /create: the password registration flow. It
// validates input, checks CAPTCHA, rejects duplicate username or email,
// hashes the password, persists the user, dispatches a verification email,
// and returns a freshly issued session.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body createRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "malformed request body")
		return
	}

	if !usernameRE.MatchString(body.Username) {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid username")
		return
	}
	if !emailRE.MatchString(body.Email) {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid email")
		return
	}
	if pwpolicy.Estimate(body.Password, body.Username, body.Email) < pwpolicy.MinScore {
		writeError(w, http.StatusBadRequest, "invalid_input", "password is too weak")
		return
	}

	ok, err := s.Captcha.Verify(ctx, body.Captcha, clientIP(r))
	if err != nil || !ok {
		writeError(w, http.StatusBadRequest, "invalid_input", "captcha verification failed")
		return
	}

	if _, err := s.Store.GetUserByUsername(ctx, body.Username); err == nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "username is already taken")
		return
	}
	if _, err := s.Store.GetUserByEmail(ctx, body.Email); err == nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "email is already registered")
		return
	}

	hash, err := credential.HashPassword(body.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "could not process password")
		return
	}
	email := body.Email
	user, err := s.Store.CreateUser(ctx, storage.User{
		Username:     body.Username,
		Email:        &email,
		PasswordHash: &hash,
		Created:      time.Now().UTC(),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "could not create account")
		return
	}

	f, err := s.Flows.Create(ctx, flow.Flow{Kind: flow.KindConfirmEmail, UserID: &user.ID, ConfirmEmail: email})
	if err == nil {
		subject, text, html := s.Templates.VerifyEmail(s.SiteURL + "/auth/verify-email?flow=" + f.ID)
		_ = s.Mailer.Send(subject, text, html, email)
	}

	sess, err := credential.IssueSession(ctx, s.Store, user.ID, requestMetadataFrom(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "could not issue session")
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse(sess))
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// handleLogin implements POST /login. On success it returns a session; if
// the account has TOTP enabled, it instead returns a pending Login2FA flow.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body loginRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "malformed request body")
		return
	}

	user, err := lookupUser(ctx, s.Store, body.Username)
	if err != nil || !user.HasPassword() {
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "incorrect username or password")
		return
	}
	ok, err := credential.VerifyPassword(body.Password, *user.PasswordHash)
	if err != nil || !ok {
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "incorrect username or password")
		return
	}

	if user.HasTOTP() {
		f, err := s.Flows.Create(ctx, flow.Flow{Kind: flow.KindLogin2FA, UserID: &user.ID})
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", "could not start 2fa flow")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"error": "2fa_required", "flow": f.ID})
		return
	}

	sess, err := credential.IssueSession(ctx, s.Store, user.ID, requestMetadataFrom(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "could not issue session")
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse(sess))
}

// lookupUser resolves a login identifier that may be either a username or
// an email address, trying username first.
func lookupUser(ctx context.Context, store storage.Store, usernameOrEmail string) (storage.User, error) {
	usernameOrEmail = sanitizeUsernameOrEmail(usernameOrEmail)
	if user, err := store.GetUserByUsername(ctx, usernameOrEmail); err == nil {
		return user, nil
	}
	return store.GetUserByEmail(ctx, usernameOrEmail)
}

type login2FARequest struct {
	Flow string `json:"flow"`
	Code string `json:"code"`
}

// handleLogin2FA implements POST /login/2fa: accepts either the current
// TOTP code or a backup code (consumed atomically on use).
func (s *Server) handleLogin2FA(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body login2FARequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "malformed request body")
		return
	}

	f, err := s.Flows.Get(ctx, body.Flow)
	if err != nil || f.Kind != flow.KindLogin2FA || f.UserID == nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid or expired flow")
		return
	}
	user, err := s.Store.GetUserByID(ctx, *f.UserID)
	if err != nil || !user.HasTOTP() {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid 2fa state")
		return
	}

	valid := credential.VerifyTOTP(body.Code, *user.TOTPSecret)
	if !valid {
		if consumed, cerr := s.Store.ConsumeBackupCode(ctx, user.ID, body.Code); cerr == nil && consumed {
			valid = true
		}
	}
	if !valid {
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "incorrect 2fa code")
		return
	}

	_, _ = s.Flows.Consume(ctx, body.Flow)
	sess, err := credential.IssueSession(ctx, s.Store, user.ID, requestMetadataFrom(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "could not issue session")
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse(sess))
}

type totpSecretResponse struct {
	Secret string `json:"secret"`
	Flow   string `json:"flow"`
}

// handle2FABegin implements POST /2fa/get_secret: step 1 of enrollment.
func (s *Server) handle2FABegin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	_, user, ferr := s.Authn.Authenticate(ctx, r, scope.UserAuthWrite)
	if ferr != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}
	if user.HasTOTP() {
		writeError(w, http.StatusBadRequest, "invalid_input", "2fa is already enabled")
		return
	}

	key, err := credential.GenerateTOTPSecret("forgekeep", user.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "could not generate 2fa secret")
		return
	}
	f, err := s.Flows.Create(ctx, flow.Flow{Kind: flow.KindInitialize2FA, UserID: &user.ID, CandidateSecret: key.Secret()})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "could not start 2fa enrollment")
		return
	}
	writeJSON(w, http.StatusOK, totpSecretResponse{Secret: key.Secret(), Flow: f.ID})
}

type totpFinishRequest struct {
	Flow string `json:"flow"`
	Code string `json:"code"`
}

// handle2FAFinish implements POST /2fa: step 2 of enrollment. Backup codes
// are not accepted here, only the candidate secret's current TOTP code.
func (s *Server) handle2FAFinish(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	_, user, ferr := s.Authn.Authenticate(ctx, r, scope.UserAuthWrite)
	if ferr != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}
	var body totpFinishRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "malformed request body")
		return
	}

	f, err := s.Flows.Consume(ctx, body.Flow)
	if err != nil || f.Kind != flow.KindInitialize2FA || f.UserID == nil || *f.UserID != user.ID {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid or expired flow")
		return
	}
	if !credential.VerifyTOTP(body.Code, f.CandidateSecret) {
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "incorrect 2fa code")
		return
	}

	codes := credential.GenerateBackupCodes()
	secret := f.CandidateSecret
	_, err = s.Store.UpdateUser(ctx, user.ID, func(u storage.User) (storage.User, error) {
		u.TOTPSecret = &secret
		return u, nil
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "could not enable 2fa")
		return
	}
	if err := s.Store.SetBackupCodes(ctx, user.ID, codes); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "could not store backup codes")
		return
	}

	if user.Email != nil {
		subject, text, html := s.Templates.NewLoginNotice(clientIP(r), r.Header.Get("User-Agent"))
		_ = s.Mailer.Send(subject+" — 2FA enabled", text, html, *user.Email)
	}
	writeJSON(w, http.StatusOK, map[string][]string{"backup_codes": codes})
}

type disable2FARequest struct {
	Code string `json:"code"`
}

// handle2FADisable implements DELETE /2fa: requires the current TOTP or a
// backup code, so a stolen session cookie alone can't disable 2FA.
func (s *Server) handle2FADisable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	_, user, ferr := s.Authn.Authenticate(ctx, r, scope.UserAuthWrite)
	if ferr != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}
	if !user.HasTOTP() {
		writeError(w, http.StatusBadRequest, "invalid_input", "2fa is not enabled")
		return
	}
	var body disable2FARequest
	_ = json.NewDecoder(r.Body).Decode(&body)

	valid := credential.VerifyTOTP(body.Code, *user.TOTPSecret)
	if !valid {
		if consumed, cerr := s.Store.ConsumeBackupCode(ctx, user.ID, body.Code); cerr == nil && consumed {
			valid = true
		}
	}
	if !valid {
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "incorrect 2fa code")
		return
	}

	_, err := s.Store.UpdateUser(ctx, user.ID, func(u storage.User) (storage.User, error) {
		u.TOTPSecret = nil
		return u, nil
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "could not disable 2fa")
		return
	}
	writeNoContent(w)
}

type passwordResetRequest struct {
	UsernameOrEmail string `json:"username_or_email"`
	Captcha         string `json:"challenge"`
}

// handlePasswordResetBegin implements POST /password/reset. Requests for
// unknown users succeed silently, so the response never discloses whether
// the account exists.
func (s *Server) handlePasswordResetBegin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body passwordResetRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "malformed request body")
		return
	}
	if ok, err := s.Captcha.Verify(ctx, body.Captcha, clientIP(r)); err != nil || !ok {
		writeError(w, http.StatusBadRequest, "invalid_input", "captcha verification failed")
		return
	}

	user, err := s.Store.GetUserByUsername(ctx, body.UsernameOrEmail)
	if err != nil {
		user, err = s.Store.GetUserByEmail(ctx, body.UsernameOrEmail)
	}
	if err != nil || user.Email == nil {
		writeNoContent(w)
		return
	}

	f, err := s.Flows.Create(ctx, flow.Flow{Kind: flow.KindForgotPassword, UserID: &user.ID})
	if err == nil {
		subject, text, html := s.Templates.ResetPassword(s.SiteURL + "/auth/reset-password?flow=" + f.ID)
		_ = s.Mailer.Send(subject, text, html, *user.Email)
	}
	writeNoContent(w)
}

type passwordSetRequest struct {
	Flow        string `json:"flow,omitempty"`
	OldPassword string `json:"old_password,omitempty"`
	NewPassword string `json:"new_password"`
}

// handlePasswordSet implements PATCH /password, covering both the flow-based
// reset completion and the logged-in change-password path.
func (s *Server) handlePasswordSet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body passwordSetRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "malformed request body")
		return
	}

	var userID int64
	switch {
	case body.Flow != "":
		f, err := s.Flows.Consume(ctx, body.Flow)
		if err != nil || f.Kind != flow.KindForgotPassword || f.UserID == nil {
			writeError(w, http.StatusBadRequest, "invalid_input", "invalid or expired flow")
			return
		}
		userID = *f.UserID
	default:
		_, user, ferr := s.Authn.Authenticate(ctx, r, scope.UserAuthWrite)
		if ferr != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}
		if user.HasPassword() {
			ok, _ := credential.VerifyPassword(body.OldPassword, *user.PasswordHash)
			if !ok {
				writeError(w, http.StatusUnauthorized, "invalid_credentials", "incorrect current password")
				return
			}
		}
		userID = user.ID
	}

	if body.NewPassword == "" {
		// Clearing the password: UpdateUser's ErrWouldOrphanAuth guard
		// rejects this if it would leave the account unauthenticatable.
		_, err := s.Store.UpdateUser(ctx, userID, func(u storage.User) (storage.User, error) {
			u.PasswordHash = nil
			return u, nil
		})
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_input", "cannot remove the only authentication method")
			return
		}
		writeNoContent(w)
		return
	}

	user, err := s.Store.GetUserByID(ctx, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "could not load account")
		return
	}
	email := ""
	if user.Email != nil {
		email = *user.Email
	}
	if pwpolicy.Estimate(body.NewPassword, user.Username, email) < pwpolicy.MinScore {
		writeError(w, http.StatusBadRequest, "invalid_input", "password is too weak")
		return
	}
	hash, err := credential.HashPassword(body.NewPassword)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "could not process password")
		return
	}
	_, err = s.Store.UpdateUser(ctx, userID, func(u storage.User) (storage.User, error) {
		u.PasswordHash = &hash
		return u, nil
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "could not update password")
		return
	}
	writeNoContent(w)
}

// sanitizeUsernameOrEmail trims whitespace before a lookup, so a
// copy-pasted identifier with stray leading/trailing space still matches.
func sanitizeUsernameOrEmail(s string) string { return strings.TrimSpace(s) }
