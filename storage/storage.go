// Package storage defines the credential store interface and the entities
// it persists: users, sessions, personal access tokens, OAuth2 clients,
// authorizations, access tokens, and backup codes.
//
// Implementations are required to perform the multi-row mutations described
// in each method's doc comment inside a single transaction, and to commit
// before any cache invalidation happens (see package cache).
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/modrinth/forgekeep/permission"
	"github.com/modrinth/forgekeep/scope"
)

// ErrNotFound is returned when a lookup by id or secondary key finds nothing.
var ErrNotFound = errors.New("storage: not found")

// ErrAlreadyExists is returned by Create* methods on a uniqueness conflict.
var ErrAlreadyExists = errors.New("storage: already exists")

// ErrWouldOrphanAuth is returned when a mutation would clear a user's last
// remaining authentication method.
var ErrWouldOrphanAuth = errors.New("storage: user must retain at least one authentication method")

// DeletedUserID is the sentinel id that orphaned references (e.g. an OAuth2
// client whose owner's account was deleted) resolve to, so rows referencing
// a removed user stay valid without a nullable foreign key.
const DeletedUserID int64 = 127155982985829

// Provider names the closed set of federated identity providers a user can
// link, matching the nullable id columns on User.
type Provider string

const (
	ProviderGitHub    Provider = "github"
	ProviderDiscord   Provider = "discord"
	ProviderGitLab    Provider = "gitlab"
	ProviderGoogle    Provider = "google"
	ProviderSteam     Provider = "steam"
	ProviderMicrosoft Provider = "microsoft"
	ProviderPayPal    Provider = "paypal"
)

var AllProviders = []Provider{
	ProviderGitHub, ProviderDiscord, ProviderGitLab, ProviderGoogle,
	ProviderSteam, ProviderMicrosoft, ProviderPayPal,
}

// User is the denormalized user row.
type User struct {
	ID int64

	Username string
	Email    *string

	// ProviderIDs holds the nullable per-provider remote id columns.
	ProviderIDs map[Provider]string

	PasswordHash *string // Argon2id PHC string
	TOTPSecret   *string // base32

	// MinecraftID/MinecraftUsername are set once a Minecraft profile is
	// linked via the Xbox Live/XSTS exchange. MinecraftID never changes
	// once linked; MinecraftUsername is refreshed on every link.
	MinecraftID       *string
	MinecraftUsername *string

	EmailVerified bool
	Created       time.Time

	Role   permission.Role
	Badges uint64
}

// HasPassword reports whether the user has a local password set.
func (u User) HasPassword() bool { return u.PasswordHash != nil }

// HasTOTP reports whether the user has TOTP 2FA enabled.
func (u User) HasTOTP() bool { return u.TOTPSecret != nil }

// HasAnyAuthMethod reports whether the user could still authenticate.
func (u User) HasAnyAuthMethod() bool {
	return u.PasswordHash != nil || len(u.ProviderIDs) > 0
}

// Session is a first-party long-lived browser credential.
type Session struct {
	ID     int64
	UserID int64
	Token  string // "mra_" + 60 random alphanumerics

	Created       time.Time
	LastLogin     time.Time
	Expires       time.Time // sliding, refreshed on use
	RefreshExpires time.Time // hard cutoff

	OS        string
	Platform  string
	City      string
	Country   string
	IP        string
	UserAgent string
}

// PAT is a personal access token.
type PAT struct {
	ID     int64
	UserID int64
	Token  string // "mrp_" + 60 random alphanumerics

	Name   string
	Scopes scope.Scopes

	Created  time.Time
	Expires  time.Time
	LastUsed time.Time
}

// OAuthClient is a third-party app registered by a user.
type OAuthClient struct {
	ID              int64
	ClientSecretHash string

	Name    string
	IconURL string

	OwnerUserID  int64
	RedirectURIs []string
	MaxScopes    scope.Scopes

	Created time.Time
}

// OAuthAuthorization is a user's standing grant to a client.
type OAuthAuthorization struct {
	ID       int64
	ClientID int64
	UserID   int64
	Scopes   scope.Scopes
	Created  time.Time
}

// OAuthAccessToken is a third-party bearer token. Only TokenHash is stored;
// the plaintext token is never persisted.
type OAuthAccessToken struct {
	ID        int64
	TokenHash [32]byte // sha256

	Scopes          scope.Scopes
	UserID          int64
	ClientID        int64
	AuthorizationID int64

	Created  time.Time
	Expires  time.Time
	LastUsed time.Time
}

// BackupCode is a one-time 2FA bypass code.
type BackupCode struct {
	UserID int64
	Code   string // base62 of a random 64-bit value
}

// Store is the interface the credential issuer, authenticator, and OAuth2
// authorization server endpoints depend on. A cache.Store wraps a Store to
// provide Redis-backed cache-aside reads in front of it.
type Store interface {
	Close() error

	// Users
	CreateUser(ctx context.Context, u User) (User, error)
	GetUserByID(ctx context.Context, id int64) (User, error)
	GetUserByUsername(ctx context.Context, username string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUserByProviderID(ctx context.Context, provider Provider, providerID string) (User, error)
	GetUsersByIDs(ctx context.Context, ids []int64) ([]User, error)
	// UpdateUser runs updater inside a transaction against the current row
	// and persists the result. Implementations MUST re-check
	// HasAnyAuthMethod() on the post-update value when the update could
	// clear the last auth method, returning ErrWouldOrphanAuth instead of
	// committing otherwise.
	UpdateUser(ctx context.Context, id int64, updater func(User) (User, error)) (User, error)

	// Sessions
	CreateSession(ctx context.Context, s Session) (Session, error)
	GetSessionByID(ctx context.Context, id int64) (Session, error)
	GetSessionByToken(ctx context.Context, token string) (Session, error)
	ListSessionsByUser(ctx context.Context, userID int64) ([]Session, error)
	UpdateSession(ctx context.Context, id int64, updater func(Session) (Session, error)) (Session, error)
	DeleteSession(ctx context.Context, id int64) error

	// PATs
	CreatePAT(ctx context.Context, p PAT) (PAT, error)
	GetPATByID(ctx context.Context, id int64) (PAT, error)
	GetPATByToken(ctx context.Context, token string) (PAT, error)
	ListPATsByUser(ctx context.Context, userID int64) ([]PAT, error)
	UpdatePAT(ctx context.Context, id int64, updater func(PAT) (PAT, error)) (PAT, error)
	DeletePAT(ctx context.Context, id int64) error

	// OAuth2 clients
	CreateOAuthClient(ctx context.Context, c OAuthClient) (OAuthClient, error)
	GetOAuthClientByID(ctx context.Context, id int64) (OAuthClient, error)

	// OAuth2 authorizations
	GetOAuthAuthorization(ctx context.Context, clientID, userID int64) (OAuthAuthorization, error)
	UpsertOAuthAuthorization(ctx context.Context, a OAuthAuthorization) (OAuthAuthorization, error)

	// OAuth2 access tokens
	CreateOAuthAccessToken(ctx context.Context, t OAuthAccessToken) (OAuthAccessToken, error)
	GetOAuthAccessTokenByHash(ctx context.Context, hash [32]byte) (OAuthAccessToken, error)
	UpdateOAuthAccessToken(ctx context.Context, id int64, updater func(OAuthAccessToken) (OAuthAccessToken, error)) (OAuthAccessToken, error)

	// Backup codes
	SetBackupCodes(ctx context.Context, userID int64, codes []string) error
	GetBackupCodes(ctx context.Context, userID int64) ([]BackupCode, error)
	ConsumeBackupCode(ctx context.Context, userID int64, code string) (bool, error)
}
