package oauthserver

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
)

// ErrorKind is the closed set of failure reasons the authorization code
// grant can fail with.
type ErrorKind string

const (
	AuthenticationError      ErrorKind = "authentication_error"
	UnrecognizedClient       ErrorKind = "unrecognized_client"
	ClientMissingRedirectURI ErrorKind = "client_missing_redirect_uri"
	InvalidRedirectURI       ErrorKind = "invalid_redirect_uri"
	FailedScopeParse         ErrorKind = "failed_scope_parse"
	ScopesTooBroad           ErrorKind = "scopes_too_broad"
	InvalidAcceptFlowID      ErrorKind = "invalid_accept_flow_id"
)

// Error is the OAuthError of errors.rs: it carries enough context to decide,
// at response time, whether it can be delivered as a redirect to the
// client's own redirect URI or must be reported directly.
type Error struct {
	Kind    ErrorKind
	Message string

	// State and RedirectURI are set only once a redirect URI has been
	// validated (errors.rs's OAuthError::redirect constructor); nil means
	// the request failed before reaching that point, per RFC 6749
	// §4.1.2.1's rule that such failures must not be redirected.
	State       *string
	RedirectURI *string
}

func (e *Error) Error() string { return e.Message }

// errDirect builds an error reported straight back to the caller, because
// no redirect URI has been established yet (OAuthError::error).
func errDirect(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// errRedirect builds an error to be delivered via the client's own redirect
// URI (OAuthError::redirect).
func errRedirect(kind ErrorKind, message string, state *string, redirectURI string) *Error {
	return &Error{Kind: kind, Message: message, State: state, RedirectURI: &redirectURI}
}

// statusCode mirrors OAuthError::status_code.
func (e *Error) statusCode() int {
	switch e.Kind {
	case AuthenticationError, UnrecognizedClient, FailedScopeParse, ScopesTooBroad:
		if e.RedirectURI != nil {
			return http.StatusFound
		}
		return http.StatusInternalServerError
	default: // InvalidRedirectURI, ClientMissingRedirectURI, InvalidAcceptFlowID
		return http.StatusBadRequest
	}
}

// errorName maps a kind to its RFC 6749 §4.1.2.1 error slug, mirroring
// OAuthErrorType::error_name.
func (e *Error) errorName() string {
	switch e.Kind {
	case InvalidRedirectURI, ClientMissingRedirectURI:
		return "invalid_uri"
	case AuthenticationError, InvalidAcceptFlowID:
		return "server_error"
	case UnrecognizedClient:
		return "invalid_request"
	case FailedScopeParse, ScopesTooBroad:
		return "invalid_scope"
	default:
		return "server_error"
	}
}

type apiError struct {
	Error       string `json:"error"`
	Description string `json:"description"`
}

// writeError renders e per errors.rs's error_response: a 302 to the
// client's redirect URI carrying error/error_description/state query
// params when one has been validated, otherwise a direct JSON body.
//
// Unlike errors.rs, the redirect URI's query string is built with
// url.Values rather than percent-encoding the whole composed URL; the
// latter would hand browsers a Location header that is itself one giant
// percent-encoded token instead of a URI, which no client could follow.
func writeError(w http.ResponseWriter, r *http.Request, e *Error) {
	if e.RedirectURI != nil {
		q := url.Values{}
		q.Set("error", e.errorName())
		q.Set("error_description", e.Message)
		if e.State != nil {
			q.Set("state", *e.State)
		}
		http.Redirect(w, r, appendQuery(*e.RedirectURI, q), http.StatusFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.statusCode())
	_ = json.NewEncoder(w).Encode(apiError{Error: e.errorName(), Description: e.Message})
}

func appendQuery(uri string, extra url.Values) string {
	sep := "?"
	if strings.Contains(uri, "?") {
		sep = "&"
	}
	return uri + sep + extra.Encode()
}
