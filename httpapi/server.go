// Package httpapi wires every authentication/authorization HTTP endpoint to
// the credential, flow, connector, and oauthserver packages, using
// gorilla/mux for routing and gorilla/handlers for CORS, the same pairing
// dexidp/dex's server/server.go uses
// (mux.NewRouter().SkipClean(true).UseEncodedPath(), handlers.CORS(...)).
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/modrinth/forgekeep/authn"
	"github.com/modrinth/forgekeep/captcha"
	"github.com/modrinth/forgekeep/connector"
	"github.com/modrinth/forgekeep/connector/minecraft"
	"github.com/modrinth/forgekeep/credential"
	"github.com/modrinth/forgekeep/deferred"
	"github.com/modrinth/forgekeep/flow"
	"github.com/modrinth/forgekeep/mail"
	"github.com/modrinth/forgekeep/oauthserver"
	"github.com/modrinth/forgekeep/storage"
)

// Server holds every dependency the route handlers close over. It is built
// once at startup by cmd/forgekeepd and is safe for concurrent use: every
// field is either immutable after construction or internally synchronized.
type Server struct {
	Store       storage.Store
	Flows       *flow.Store
	Authn       *authn.Authenticator
	Deferred    *deferred.Queue
	Connectors  connector.Registry
	Mailer      mail.Emailer
	Templates   mail.Templates
	Captcha     *captcha.Verifier
	OAuth       *oauthserver.Server
	Sockets     *SocketRegistry
	// Minecraft drives the Xbox Live/XSTS profile-linking exchange. Nil
	// when no Microsoft client credentials are configured for it.
	Minecraft   *minecraft.Client
	SiteURL     string // outbound link base for emails
	Log         *logrus.Logger
}

// NewRouter builds the complete route table under the /v3/auth prefix,
// plus the unprefixed health surface cmd/forgekeepd mounts separately.
func (s *Server) NewRouter(allowedOrigins []string) *mux.Router {
	root := mux.NewRouter().SkipClean(true).UseEncodedPath()
	root.NotFoundHandler = http.HandlerFunc(notFound)

	auth := root.PathPrefix("/v3/auth").Subrouter()

	auth.HandleFunc("/init", s.handleInit).Methods(http.MethodGet)
	auth.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)
	auth.HandleFunc("/callback", s.handleCallback).Methods(http.MethodGet)
	auth.HandleFunc("/provider", s.handleUnlinkProvider).Methods(http.MethodDelete)

	auth.HandleFunc("/create", s.handleCreate).Methods(http.MethodPost)
	auth.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	auth.HandleFunc("/login/2fa", s.handleLogin2FA).Methods(http.MethodPost)
	auth.HandleFunc("/2fa/get_secret", s.handle2FABegin).Methods(http.MethodPost)
	auth.HandleFunc("/2fa", s.handle2FAFinish).Methods(http.MethodPost)
	auth.HandleFunc("/2fa", s.handle2FADisable).Methods(http.MethodDelete)

	auth.HandleFunc("/password/reset", s.handlePasswordResetBegin).Methods(http.MethodPost)
	auth.HandleFunc("/password", s.handlePasswordSet).Methods(http.MethodPatch)

	auth.HandleFunc("/email/resend_verify", s.handleResendVerifyEmail).Methods(http.MethodPost)
	auth.HandleFunc("/email", s.handleChangeEmail).Methods(http.MethodPatch)
	auth.HandleFunc("/email/verify", s.handleVerifyEmail).Methods(http.MethodPost)

	auth.HandleFunc("/session/list", s.handleListSessions).Methods(http.MethodGet)
	auth.HandleFunc("/session/{id}", s.handleDeleteSession).Methods(http.MethodDelete)
	auth.HandleFunc("/session/refresh", s.handleRefreshSession).Methods(http.MethodPost)

	auth.HandleFunc("/pat", s.handleListPATs).Methods(http.MethodGet)
	auth.HandleFunc("/pat", s.handleCreatePAT).Methods(http.MethodPost)
	auth.HandleFunc("/pat/{id}", s.handleEditPAT).Methods(http.MethodPatch)
	auth.HandleFunc("/pat/{id}", s.handleDeletePAT).Methods(http.MethodDelete)

	auth.HandleFunc("/auth/oauth/authorize", s.OAuth.HandleAuthorize).Methods(http.MethodGet)
	auth.HandleFunc("/auth/oauth/accept", s.OAuth.HandleAccept).Methods(http.MethodPost)
	auth.HandleFunc("/auth/oauth/token", s.OAuth.HandleToken).Methods(http.MethodPost)

	auth.HandleFunc("/minecraft", s.handleMinecraftInit).Methods(http.MethodGet)
	auth.HandleFunc("/minecraft/callback", s.handleMinecraftCallback).Methods(http.MethodGet)

	cors := handlers.CORS(
		handlers.AllowedOrigins(allowedOrigins),
		handlers.AllowedHeaders([]string{"Authorization", "Content-Type"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete}),
	)
	root.Use(cors)
	return root
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "not_found", "no route matches this path")
}

// apiError is the uniform JSON error envelope every handler in this package
// returns on failure: description is always a short, fixed, user-safe
// string, never internal error text.
type apiError struct {
	Error       string `json:"error"`
	Description string `json:"description"`
}

func writeError(w http.ResponseWriter, status int, slug, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiError{Error: slug, Description: description})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// requestMetadataFrom builds credential.RequestMetadata from r, using a
// bare substring sniff for OS/platform rather than a dedicated user-agent
// parser: no such library appears anywhere in the pack (see DESIGN.md), and
// these two fields are advisory display data, never a security decision.
func requestMetadataFrom(r *http.Request) credential.RequestMetadata {
	ua := r.Header.Get("User-Agent")
	return credential.RequestMetadata{
		IP:        clientIP(r),
		UserAgent: ua,
		OS:        sniffOS(ua),
		Platform:  sniffPlatform(ua),
		City:      r.Header.Get("Cf-Ipcity"),
		Country:   r.Header.Get("Cf-Ipcountry"),
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}

// providerCallTimeout bounds outbound provider calls to a default 10s
// per-call timeout.
const providerCallTimeout = 10 * time.Second
