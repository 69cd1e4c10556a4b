// Package credential implements issuance and verification for every
// first-party credential kind: password hashes, sessions, personal access
// tokens, TOTP secrets/backup codes, and OAuth2 access tokens.
// TOTP handling follows dexidp/dex's server/totphandler.go call shape
// (pquerna/otp); password hashing uses Argon2id (golang.org/x/crypto, the
// same module dex uses for bcrypt) rather than bcrypt, for PHC-formatted
// hashes with configurable memory/time cost.
package credential

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base32"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/argon2"

	"github.com/modrinth/forgekeep/ids"
	"github.com/modrinth/forgekeep/scope"
	"github.com/modrinth/forgekeep/storage"
)

// --- Password hashing (Argon2id, PHC string format) -------------------------

const (
	argonTime    = 1
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 4
	argonKeyLen  = 32
	argonSaltLen = 16
)

// HashPassword returns a PHC-formatted Argon2id hash of password with a
// fresh random salt, e.g. "$argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>".
func HashPassword(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("credential: read salt: %w", err)
	}
	hash := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash)), nil
}

// VerifyPassword checks password against a PHC-formatted Argon2id hash
// produced by HashPassword, in constant time.
func VerifyPassword(password, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, fmt.Errorf("credential: unrecognized hash format")
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, fmt.Errorf("credential: parse version: %w", err)
	}
	var memory uint32
	var time_ uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time_, &threads); err != nil {
		return false, fmt.Errorf("credential: parse params: %w", err)
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("credential: decode salt: %w", err)
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, fmt.Errorf("credential: decode hash: %w", err)
	}
	got := argon2.IDKey([]byte(password), salt, time_, memory, threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

// --- TOTP ------------------------------------------------------------------

// GenerateTOTPSecret returns a fresh base32 TOTP secret for account
// enrollment, using the (SHA-1, 6-digit, 30s) parameters VerifyTOTP expects.
func GenerateTOTPSecret(issuer, accountName string) (*otp.Key, error) {
	return totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: accountName,
		SecretSize:  20,
		Algorithm:   otp.AlgorithmSHA1,
		Digits:      otp.DigitsSix,
		Period:      30,
	})
}

// VerifyTOTP checks code against secret (base32) using the current step.
func VerifyTOTP(code, secret string) bool {
	return totp.Validate(code, secret)
}

// --- Backup codes ------------------------------------------------------------

const backupCodeCount = 6

// GenerateBackupCodes returns a fresh set of one-time 2FA bypass codes,
// base62-encoded 64-bit random values.
func GenerateBackupCodes() []string {
	codes := make([]string, backupCodeCount)
	for i := range codes {
		codes[i] = ids.Encode(ids.New())
	}
	return codes
}

// --- Sessions ----------------------------------------------------------------

const (
	sessionTokenPrefix = "mra_"
	patTokenPrefix     = "mrp_"
	oauthTokenPrefix   = "mro_"
	tokenRandomLen     = 60
)

// RequestMetadata is the subset of an inbound HTTP request the issuer
// records alongside a session.
type RequestMetadata struct {
	IP        string
	UserAgent string
	OS        string
	Platform  string
	City      string
	Country   string
}

// SessionLifetime is the sliding-expiry window; RefreshLifetime is the hard
// cutoff after which a session can no longer be refreshed.
const (
	SessionLifetime = 14 * 24 * time.Hour
	RefreshLifetime = 90 * 24 * time.Hour
)

// IssueSession writes a new session row for userID and returns it, full
// plaintext token included, so the caller can send it straight to the
// client.
func IssueSession(ctx context.Context, store storage.Store, userID int64, meta RequestMetadata) (storage.Session, error) {
	now := time.Now().UTC()
	sess := storage.Session{
		ID:             ids.New(),
		UserID:         userID,
		Token:          sessionTokenPrefix + ids.NewSecureToken(tokenRandomLen),
		Created:        now,
		LastLogin:      now,
		Expires:        now.Add(SessionLifetime),
		RefreshExpires: now.Add(RefreshLifetime),
		OS:             meta.OS,
		Platform:       meta.Platform,
		City:           meta.City,
		Country:        meta.Country,
		IP:             meta.IP,
		UserAgent:      meta.UserAgent,
	}
	return store.CreateSession(ctx, sess)
}

// ErrRefreshExpired is returned by RefreshSession once the hard cutoff has passed.
var ErrRefreshExpired = fmt.Errorf("credential: session refresh window expired")

// RefreshSession deletes the current session and issues a fresh one. A
// losing concurrent caller on the same session observes storage.ErrNotFound
// on its own subsequent use, by design (see DESIGN.md).
func RefreshSession(ctx context.Context, store storage.Store, current storage.Session, meta RequestMetadata) (storage.Session, error) {
	if time.Now().UTC().After(current.RefreshExpires) {
		return storage.Session{}, ErrRefreshExpired
	}
	if err := store.DeleteSession(ctx, current.ID); err != nil {
		return storage.Session{}, fmt.Errorf("credential: delete session: %w", err)
	}
	return IssueSession(ctx, store, current.UserID, meta)
}

// --- Personal access tokens --------------------------------------------------

// ErrRestrictedScope is returned when a PAT or OAuth2 client requests a
// scope reserved for first-party sessions.
var ErrRestrictedScope = fmt.Errorf("credential: restricted scopes cannot be granted to this credential kind")

// ErrPastExpiry is returned when a caller requests an expiry in the past.
var ErrPastExpiry = fmt.Errorf("credential: expiry must be in the future")

// CreatePAT issues a personal access token, returning the plaintext token
// exactly once via the returned storage.PAT.
func CreatePAT(ctx context.Context, store storage.Store, userID int64, name string, scopes scope.Scopes, expires time.Time) (storage.PAT, error) {
	if scopes.IsRestricted() {
		return storage.PAT{}, ErrRestrictedScope
	}
	if !expires.IsZero() && expires.Before(time.Now()) {
		return storage.PAT{}, ErrPastExpiry
	}
	return store.CreatePAT(ctx, storage.PAT{
		ID:      ids.New(),
		UserID:  userID,
		Token:   patTokenPrefix + ids.NewSecureToken(tokenRandomLen),
		Name:    name,
		Scopes:  scopes,
		Created: time.Now().UTC(),
		Expires: expires,
	})
}

// PATEdit is a partial update accepted by EditPAT; nil fields are left
// unchanged.
type PATEdit struct {
	Name    *string
	Scopes  *scope.Scopes
	Expires *time.Time
}

// EditPAT applies a partial update, re-checking the restricted-scope and
// past-expiry rules against the new values.
func EditPAT(ctx context.Context, store storage.Store, id int64, edit PATEdit) (storage.PAT, error) {
	return store.UpdatePAT(ctx, id, func(p storage.PAT) (storage.PAT, error) {
		if edit.Name != nil {
			p.Name = *edit.Name
		}
		if edit.Scopes != nil {
			if edit.Scopes.IsRestricted() {
				return storage.PAT{}, ErrRestrictedScope
			}
			p.Scopes = *edit.Scopes
		}
		if edit.Expires != nil {
			if !edit.Expires.IsZero() && edit.Expires.Before(time.Now()) {
				return storage.PAT{}, ErrPastExpiry
			}
			p.Expires = *edit.Expires
		}
		return p, nil
	})
}

// --- OAuth2 access tokens ----------------------------------------------------

// IssueOAuthAccessToken mints an opaque bearer token, stores only its
// SHA-256 hash, and returns both the storage row and the plaintext token,
// which is never persisted.
func IssueOAuthAccessToken(ctx context.Context, store storage.Store, userID, clientID, authorizationID int64, scopes scope.Scopes, lifetime time.Duration) (storage.OAuthAccessToken, string, error) {
	plaintext := oauthTokenPrefix + ids.NewSecureToken(tokenRandomLen)
	now := time.Now().UTC()
	row, err := store.CreateOAuthAccessToken(ctx, storage.OAuthAccessToken{
		ID:              ids.New(),
		TokenHash:       sha256.Sum256([]byte(plaintext)),
		Scopes:          scopes,
		UserID:          userID,
		ClientID:        clientID,
		AuthorizationID: authorizationID,
		Created:         now,
		Expires:         now.Add(lifetime),
	})
	if err != nil {
		return storage.OAuthAccessToken{}, "", err
	}
	return row, plaintext, nil
}

// HashOAuthToken computes the lookup hash for a bearer token presented to
// the authenticator.
func HashOAuthToken(token string) [32]byte {
	return sha256.Sum256([]byte(token))
}

// base32NoPadding is exposed for callers that render a TOTP secret outside
// of the otp.Key.String() URL form.
var base32NoPadding = base32.StdEncoding.WithPadding(base32.NoPadding)

// EncodeTOTPSecret renders raw bytes as the base32 string stored on User.TOTPSecret.
func EncodeTOTPSecret(raw []byte) string {
	return base32NoPadding.EncodeToString(raw)
}
