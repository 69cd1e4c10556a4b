// Package authn implements the bearer-token request authenticator: it
// extracts a token from the Authorization header and resolves it to a
// user and scope set across every supported credential kind (session,
// personal access token, OAuth2 access token, and the legacy raw GitHub
// token bootstrap path). HTTP middleware wiring follows dexidp/dex's
// server/auth_middleware.go shape.
package authn

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/modrinth/forgekeep/connector"
	"github.com/modrinth/forgekeep/credential"
	"github.com/modrinth/forgekeep/deferred"
	"github.com/modrinth/forgekeep/scope"
	"github.com/modrinth/forgekeep/storage"
)

// Failure is the typed authentication failure taxonomy. All three map to
// HTTP 401; only ProviderError is retriable.
type Failure struct {
	Kind      FailureKind
	Retriable bool
	cause     error
}

func (f *Failure) Error() string {
	if f.cause != nil {
		return string(f.Kind) + ": " + f.cause.Error()
	}
	return string(f.Kind)
}

func (f *Failure) Unwrap() error { return f.cause }

type FailureKind string

const (
	InvalidAuthMethod FailureKind = "invalid_auth_method" // unparseable header
	InvalidCredentials FailureKind = "invalid_credentials" // well-formed but rejected
	ProviderError      FailureKind = "provider_error"      // transient federated-provider failure
)

func fail(kind FailureKind, cause error) *Failure {
	return &Failure{Kind: kind, Retriable: kind == ProviderError, cause: cause}
}

// Authenticator resolves a bearer token to its scopes and owning user.
type Authenticator struct {
	store             storage.Store
	legacyGitHub      connector.Connector
	deferredQueue     *deferred.Queue
	enableLegacyGitHub bool
}

// New builds an Authenticator. legacyGitHub may be nil when
// enableLegacyGitHub is false.
func New(store storage.Store, deferredQueue *deferred.Queue, legacyGitHub connector.Connector, enableLegacyGitHub bool) *Authenticator {
	return &Authenticator{
		store:              store,
		legacyGitHub:       legacyGitHub,
		deferredQueue:      deferredQueue,
		enableLegacyGitHub: enableLegacyGitHub,
	}
}

// ExtractBearerToken implements extract_authorization_header: it accepts a
// bare token, a "Bearer <token>" header, or HTTP Basic auth where the
// password field carries the token (used by some OAuth2 client libraries).
func ExtractBearerToken(r *http.Request) (string, *Failure) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", fail(InvalidAuthMethod, errors.New("missing Authorization header"))
	}
	scheme, rest, hasScheme := strings.Cut(header, " ")
	if !hasScheme {
		return strings.TrimSpace(header), nil
	}
	switch scheme {
	case "Bearer":
		return strings.TrimSpace(rest), nil
	case "Basic":
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(rest))
		if err != nil {
			return "", fail(InvalidCredentials, err)
		}
		_, password, ok := strings.Cut(string(decoded), ":")
		if !ok {
			return "", fail(InvalidCredentials, errors.New("malformed basic auth credentials"))
		}
		return strings.TrimSpace(password), nil
	default:
		return strings.TrimSpace(header), nil
	}
}

// Authenticate resolves token to (scopes, user), recording a deferred
// last-used write for PATs/sessions/OAuth2 tokens. requiredScopes, if
// non-empty, is enforced after resolution.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request, requiredScopes scope.Scopes) (scope.Scopes, storage.User, *Failure) {
	token, ferr := ExtractBearerToken(r)
	if ferr != nil {
		return 0, storage.User{}, ferr
	}

	scopes, user, ferr := a.resolveToken(ctx, token)
	if ferr != nil {
		return 0, storage.User{}, ferr
	}

	if requiredScopes != 0 && !scopes.Contains(requiredScopes) {
		return 0, storage.User{}, fail(InvalidCredentials, errors.New("insufficient scope"))
	}
	return scopes, user, nil
}

func (a *Authenticator) resolveToken(ctx context.Context, token string) (scope.Scopes, storage.User, *Failure) {
	prefix, _, _ := strings.Cut(token, "_")

	switch prefix {
	case "mrp":
		return a.resolvePAT(ctx, token)
	case "mra":
		return a.resolveSession(ctx, token)
	case "mro":
		return a.resolveOAuthToken(ctx, token)
	case "github", "gho", "ghp":
		if !a.enableLegacyGitHub {
			return 0, storage.User{}, fail(InvalidAuthMethod, errors.New("legacy github auth disabled"))
		}
		return a.resolveLegacyGitHub(ctx, token)
	default:
		return 0, storage.User{}, fail(InvalidAuthMethod, errors.New("unrecognized token prefix"))
	}
}

func (a *Authenticator) resolvePAT(ctx context.Context, token string) (scope.Scopes, storage.User, *Failure) {
	pat, err := a.store.GetPATByToken(ctx, token)
	if err != nil {
		return 0, storage.User{}, fail(InvalidCredentials, err)
	}
	if !pat.Expires.IsZero() && pat.Expires.Before(time.Now()) {
		return 0, storage.User{}, fail(InvalidCredentials, errors.New("pat expired"))
	}
	user, err := a.store.GetUserByID(ctx, pat.UserID)
	if err != nil {
		return 0, storage.User{}, fail(InvalidCredentials, err)
	}
	if a.deferredQueue != nil {
		a.deferredQueue.RecordPATUse(pat.ID)
	}
	return pat.Scopes, user, nil
}

func (a *Authenticator) resolveSession(ctx context.Context, token string) (scope.Scopes, storage.User, *Failure) {
	sess, err := a.store.GetSessionByToken(ctx, token)
	if err != nil {
		return 0, storage.User{}, fail(InvalidCredentials, err)
	}
	if sess.Expires.Before(time.Now()) {
		return 0, storage.User{}, fail(InvalidCredentials, errors.New("session expired"))
	}
	user, err := a.store.GetUserByID(ctx, sess.UserID)
	if err != nil {
		return 0, storage.User{}, fail(InvalidCredentials, err)
	}
	if a.deferredQueue != nil {
		a.deferredQueue.RecordSessionUse(sess.ID)
	}
	// A session carries every non-restricted *and* restricted scope: it is
	// the first-party credential every capability check is defined in
	// terms of.
	return scope.All, user, nil
}

func (a *Authenticator) resolveOAuthToken(ctx context.Context, token string) (scope.Scopes, storage.User, *Failure) {
	hash := credential.HashOAuthToken(token)
	accessToken, err := a.store.GetOAuthAccessTokenByHash(ctx, hash)
	if err != nil {
		return 0, storage.User{}, fail(InvalidCredentials, err)
	}
	if accessToken.Expires.Before(time.Now()) {
		return 0, storage.User{}, fail(InvalidCredentials, errors.New("oauth access token expired"))
	}
	user, err := a.store.GetUserByID(ctx, accessToken.UserID)
	if err != nil {
		return 0, storage.User{}, fail(InvalidCredentials, err)
	}
	if a.deferredQueue != nil {
		a.deferredQueue.RecordOAuthTokenUse(accessToken.ID)
	}
	return accessToken.Scopes, user, nil
}

// resolveLegacyGitHub implements the transitional bootstrap path: a raw
// GitHub token is exchanged for a profile, which must already be linked to
// a local user. It never creates an account and never carries restricted
// scopes.
func (a *Authenticator) resolveLegacyGitHub(ctx context.Context, token string) (scope.Scopes, storage.User, *Failure) {
	if a.legacyGitHub == nil {
		return 0, storage.User{}, fail(InvalidAuthMethod, errors.New("legacy github connector not configured"))
	}
	profile, err := a.legacyGitHub.FetchProfile(ctx, token)
	if err != nil {
		return 0, storage.User{}, fail(ProviderError, err)
	}
	user, err := a.store.GetUserByProviderID(ctx, storage.ProviderGitHub, profile.ProviderUserID)
	if err != nil {
		return 0, storage.User{}, fail(InvalidCredentials, err)
	}
	return scope.All &^ scope.Restricted, user, nil
}

// RequireModerator authenticates and additionally requires the resolved
// user to hold a moderator-or-above role, matching
// check_is_moderator_from_headers.
func (a *Authenticator) RequireModerator(ctx context.Context, r *http.Request) (storage.User, *Failure) {
	_, user, ferr := a.Authenticate(ctx, r, 0)
	if ferr != nil {
		return storage.User{}, ferr
	}
	if !user.Role.IsMod() {
		return storage.User{}, fail(InvalidCredentials, errors.New("moderator role required"))
	}
	return user, nil
}
