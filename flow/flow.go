// Package flow implements the server-side continuation token: a
// short-lived, single-use, Redis-backed state carrier for multi-step
// authentication protocols. The storage shape follows
// dexidp/dex's storage.AuthRequest — one flat struct covering every
// variant — while the Kind discriminator keeps variants mutually exclusive.
package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redisv8 "github.com/go-redis/redis/v8"

	"github.com/dchest/uniuri"

	"github.com/modrinth/forgekeep/scope"
	"github.com/modrinth/forgekeep/storage"
)

// Kind discriminates which fields of Flow are meaningful.
type Kind string

const (
	KindOAuth                         Kind = "oauth"
	KindLogin2FA                      Kind = "login_2fa"
	KindInitialize2FA                 Kind = "initialize_2fa"
	KindForgotPassword                Kind = "forgot_password"
	KindConfirmEmail                  Kind = "confirm_email"
	KindMinecraftAuth                 Kind = "minecraft_auth"
	KindInitOAuthAppApproval          Kind = "init_oauth_app_approval"
	KindOAuthAuthorizationCodeSupplied Kind = "oauth_authorization_code_supplied"
)

// ttls holds the per-kind lifetime before a flow expires unconsumed.
var ttls = map[Kind]time.Duration{
	KindOAuth:                         30 * time.Minute,
	KindLogin2FA:                      30 * time.Minute,
	KindInitialize2FA:                 30 * time.Minute,
	KindForgotPassword:                24 * time.Hour,
	KindConfirmEmail:                  24 * time.Hour,
	KindMinecraftAuth:                 30 * time.Minute,
	KindInitOAuthAppApproval:          30 * time.Minute,
	KindOAuthAuthorizationCodeSupplied: 10 * time.Minute,
}

// idLength is the random-id length used for flow ids.
const idLength = 32

// Flow is the single-use continuation token. Only the fields relevant to
// Kind are populated; the rest are zero.
type Flow struct {
	ID      string    `json:"id"`
	Kind    Kind      `json:"kind"`
	Created time.Time `json:"created"`

	// KindOAuth
	UserID      *int64          `json:"user_id,omitempty"`
	ReturnURL   *string         `json:"return_url,omitempty"`
	Provider    storage.Provider `json:"provider,omitempty"`
	WebSocketID string          `json:"websocket_id,omitempty"`

	// KindLogin2FA / KindForgotPassword use UserID above.

	// KindInitialize2FA
	CandidateSecret string `json:"candidate_secret,omitempty"`

	// KindConfirmEmail
	ConfirmEmail string `json:"confirm_email,omitempty"`

	// KindInitOAuthAppApproval
	ClientID         int64        `json:"client_id,omitempty"`
	RequestedScopes  scope.Scopes `json:"requested_scopes,omitempty"`
	OriginalState    *string      `json:"original_state,omitempty"`

	// KindOAuthAuthorizationCodeSupplied
	AuthorizationID      int64   `json:"authorization_id,omitempty"`
	Scopes               scope.Scopes `json:"scopes,omitempty"`
	ValidatedRedirectURI string  `json:"validated_redirect_uri,omitempty"`
	OriginalRedirectURI  string  `json:"original_redirect_uri,omitempty"`
	State                *string `json:"state,omitempty"`
}

const keyPrefix = "flow/"

// Store is the Redis-backed flow store.
type Store struct {
	rdb redisv8.UniversalClient
}

// Config mirrors cache.Config: a UniversalClient endpoint set.
type Config struct {
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	SentinelPassword string   `yaml:"sentinel_password"`
	MasterName       string   `yaml:"master_name"`
}

func New(cfg Config) *Store {
	return &Store{rdb: redisv8.NewUniversalClient(&redisv8.UniversalOptions{
		Addrs:            cfg.Addrs,
		Password:         cfg.Password,
		SentinelPassword: cfg.SentinelPassword,
		MasterName:       cfg.MasterName,
	})}
}

func (s *Store) Close() error { return s.rdb.Close() }

// Create persists f under a fresh random id and returns the populated flow.
func (s *Store) Create(ctx context.Context, f Flow) (Flow, error) {
	ttl, ok := ttls[f.Kind]
	if !ok {
		return Flow{}, fmt.Errorf("flow: unknown kind %q", f.Kind)
	}
	f.ID = uniuri.NewLen(idLength)
	f.Created = time.Now().UTC()
	b, err := json.Marshal(f)
	if err != nil {
		return Flow{}, fmt.Errorf("flow: marshal: %w", err)
	}
	if err := s.rdb.Set(ctx, keyPrefix+f.ID, b, ttl).Err(); err != nil {
		return Flow{}, fmt.Errorf("flow: set: %w", err)
	}
	return f, nil
}

// ErrNotFound is returned when a flow id is absent, expired, or already consumed.
var ErrNotFound = fmt.Errorf("flow: not found or expired")

// Get loads f without consuming it, for multi-step flows (e.g. 2FA
// enrollment's begin/finish) that read the same flow twice.
func (s *Store) Get(ctx context.Context, id string) (Flow, error) {
	b, err := s.rdb.Get(ctx, keyPrefix+id).Bytes()
	if err == redisv8.Nil {
		return Flow{}, ErrNotFound
	}
	if err != nil {
		return Flow{}, fmt.Errorf("flow: get: %w", err)
	}
	var f Flow
	if err := json.Unmarshal(b, &f); err != nil {
		return Flow{}, fmt.Errorf("flow: unmarshal: %w", err)
	}
	return f, nil
}

// Consume atomically loads and deletes the flow, enforcing single use.
func (s *Store) Consume(ctx context.Context, id string) (Flow, error) {
	b, err := s.rdb.GetDel(ctx, keyPrefix+id).Bytes()
	if err == redisv8.Nil {
		return Flow{}, ErrNotFound
	}
	if err != nil {
		return Flow{}, fmt.Errorf("flow: consume: %w", err)
	}
	var f Flow
	if err := json.Unmarshal(b, &f); err != nil {
		return Flow{}, fmt.Errorf("flow: unmarshal: %w", err)
	}
	return f, nil
}

// Delete discards a flow without requiring its contents, e.g. abandoning an
// in-progress OAuth app approval.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.rdb.Del(ctx, keyPrefix+id).Err()
}
