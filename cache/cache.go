// Package cache implements a cache-aside layer: a storage.Store decorator
// that fronts a slower Store with Redis, following
// the key-prefix and UniversalClient conventions of dexidp/dex's
// storage/redis package.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redisv8 "github.com/go-redis/redis/v8"

	"github.com/modrinth/forgekeep/ids"
	"github.com/modrinth/forgekeep/storage"
)

const (
	userByIDPrefix       = "user/id/"
	userByUsernamePrefix = "user/username/"
	userByEmailPrefix    = "user/email/"
	userByProviderPrefix = "user/provider/"
	sessionByTokenPrefix = "session/token/"
	patByTokenPrefix     = "pat/token/"
	oauthTokenPrefix     = "oauth_token/hash/"

	// userTTL bounds staleness on cached users; writes still invalidate
	// eagerly, this is only a backstop against a missed invalidation.
	userTTL    = 10 * time.Minute
	entityTTL  = 10 * time.Minute
	defaultTimeout = 5 * time.Second
)

// Store wraps a storage.Store with a Redis-backed cache-aside layer. It
// implements storage.Store itself so it can be substituted transparently.
type Store struct {
	inner storage.Store
	rdb   redisv8.UniversalClient
}

// Config mirrors dex's storage/redis.Config shape.
type Config struct {
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	SentinelPassword string   `yaml:"sentinel_password"`
	MasterName       string   `yaml:"master_name"`
}

func (c *Config) open() redisv8.UniversalClient {
	return redisv8.NewUniversalClient(&redisv8.UniversalOptions{
		Addrs:            c.Addrs,
		Password:         c.Password,
		SentinelPassword: c.SentinelPassword,
		MasterName:       c.MasterName,
	})
}

// New wraps inner with a cache-aside layer backed by the Redis endpoints in
// cfg.
func New(inner storage.Store, cfg Config) *Store {
	return &Store{inner: inner, rdb: cfg.open()}
}

func (s *Store) Close() error {
	if err := s.rdb.Close(); err != nil {
		return err
	}
	return s.inner.Close()
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, defaultTimeout)
}

func (s *Store) setJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	// Best-effort: a failed cache write just means the next read goes to
	// the store. Cache failures must never surface as storage failures.
	s.rdb.Set(ctx, key, b, ttl)
}

func (s *Store) getJSON(ctx context.Context, key string, v interface{}) bool {
	b, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(b, v) == nil
}

func (s *Store) del(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	s.rdb.Del(ctx, keys...)
}

// userInvalidationKeys returns every cache key that could resolve to u: the
// id key plus every secondary-index key the row participates in.
func userInvalidationKeys(u storage.User) []string {
	keys := []string{
		userByIDPrefix + ids.Encode(u.ID),
		userByUsernamePrefix + u.Username,
	}
	if u.Email != nil {
		keys = append(keys, userByEmailPrefix+*u.Email)
	}
	for provider, providerID := range u.ProviderIDs {
		keys = append(keys, userByProviderPrefix+string(provider)+"/"+providerID)
	}
	return keys
}

// --- Users -------------------------------------------------------------

func (s *Store) CreateUser(ctx context.Context, u storage.User) (storage.User, error) {
	created, err := s.inner.CreateUser(ctx, u)
	if err != nil {
		return storage.User{}, err
	}
	cctx, cancel := withTimeout(ctx)
	defer cancel()
	s.setJSON(cctx, userByIDPrefix+ids.Encode(created.ID), created, userTTL)
	return created, nil
}

func (s *Store) GetUserByID(ctx context.Context, id int64) (storage.User, error) {
	cctx, cancel := withTimeout(ctx)
	defer cancel()
	var u storage.User
	if s.getJSON(cctx, userByIDPrefix+ids.Encode(id), &u) {
		return u, nil
	}
	u, err := s.inner.GetUserByID(ctx, id)
	if err != nil {
		// Negative results are never cached: a just-created user must be
		// immediately visible, not hidden behind a stale miss.
		return storage.User{}, err
	}
	s.setJSON(cctx, userByIDPrefix+ids.Encode(id), u, userTTL)
	return u, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (storage.User, error) {
	cctx, cancel := withTimeout(ctx)
	defer cancel()
	var u storage.User
	if s.getJSON(cctx, userByUsernamePrefix+username, &u) {
		return u, nil
	}
	u, err := s.inner.GetUserByUsername(ctx, username)
	if err != nil {
		return storage.User{}, err
	}
	s.setJSON(cctx, userByUsernamePrefix+username, u, userTTL)
	return u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (storage.User, error) {
	cctx, cancel := withTimeout(ctx)
	defer cancel()
	var u storage.User
	if s.getJSON(cctx, userByEmailPrefix+email, &u) {
		return u, nil
	}
	u, err := s.inner.GetUserByEmail(ctx, email)
	if err != nil {
		return storage.User{}, err
	}
	s.setJSON(cctx, userByEmailPrefix+email, u, userTTL)
	return u, nil
}

func (s *Store) GetUserByProviderID(ctx context.Context, provider storage.Provider, providerID string) (storage.User, error) {
	cctx, cancel := withTimeout(ctx)
	defer cancel()
	key := userByProviderPrefix + string(provider) + "/" + providerID
	var u storage.User
	if s.getJSON(cctx, key, &u) {
		return u, nil
	}
	u, err := s.inner.GetUserByProviderID(ctx, provider, providerID)
	if err != nil {
		return storage.User{}, err
	}
	s.setJSON(cctx, key, u, userTTL)
	return u, nil
}

func (s *Store) GetUsersByIDs(ctx context.Context, idList []int64) ([]storage.User, error) {
	// Bulk lookups bypass the cache: they're used by moderator/admin
	// listing paths, not the hot per-request authentication path.
	return s.inner.GetUsersByIDs(ctx, idList)
}

func (s *Store) UpdateUser(ctx context.Context, id int64, updater func(storage.User) (storage.User, error)) (storage.User, error) {
	old, err := s.inner.GetUserByID(ctx, id)
	if err != nil {
		return storage.User{}, err
	}
	updated, err := s.inner.UpdateUser(ctx, id, updater)
	if err != nil {
		return storage.User{}, err
	}
	cctx, cancel := withTimeout(ctx)
	defer cancel()
	// Invalidate both the pre- and post-update key sets: a changed
	// username or unlinked provider must drop its old secondary-index key
	// too, not just populate the new one.
	s.del(cctx, userInvalidationKeys(old)...)
	s.del(cctx, userInvalidationKeys(updated)...)
	return updated, nil
}

// --- Sessions ------------------------------------------------------------

func (s *Store) CreateSession(ctx context.Context, sess storage.Session) (storage.Session, error) {
	created, err := s.inner.CreateSession(ctx, sess)
	if err != nil {
		return storage.Session{}, err
	}
	cctx, cancel := withTimeout(ctx)
	defer cancel()
	s.setJSON(cctx, sessionByTokenPrefix+created.Token, created, entityTTL)
	return created, nil
}

func (s *Store) GetSessionByID(ctx context.Context, id int64) (storage.Session, error) {
	return s.inner.GetSessionByID(ctx, id)
}

func (s *Store) GetSessionByToken(ctx context.Context, token string) (storage.Session, error) {
	cctx, cancel := withTimeout(ctx)
	defer cancel()
	var sess storage.Session
	if s.getJSON(cctx, sessionByTokenPrefix+token, &sess) {
		return sess, nil
	}
	sess, err := s.inner.GetSessionByToken(ctx, token)
	if err != nil {
		return storage.Session{}, err
	}
	s.setJSON(cctx, sessionByTokenPrefix+token, sess, entityTTL)
	return sess, nil
}

func (s *Store) ListSessionsByUser(ctx context.Context, userID int64) ([]storage.Session, error) {
	return s.inner.ListSessionsByUser(ctx, userID)
}

func (s *Store) UpdateSession(ctx context.Context, id int64, updater func(storage.Session) (storage.Session, error)) (storage.Session, error) {
	updated, err := s.inner.UpdateSession(ctx, id, updater)
	if err != nil {
		return storage.Session{}, err
	}
	cctx, cancel := withTimeout(ctx)
	defer cancel()
	s.setJSON(cctx, sessionByTokenPrefix+updated.Token, updated, entityTTL)
	return updated, nil
}

func (s *Store) DeleteSession(ctx context.Context, id int64) error {
	sess, err := s.inner.GetSessionByID(ctx, id)
	if err != nil && err != storage.ErrNotFound {
		return err
	}
	if err := s.inner.DeleteSession(ctx, id); err != nil {
		return err
	}
	if sess.Token != "" {
		cctx, cancel := withTimeout(ctx)
		defer cancel()
		s.del(cctx, sessionByTokenPrefix+sess.Token)
	}
	return nil
}

// --- PATs ------------------------------------------------------------------

func (s *Store) CreatePAT(ctx context.Context, p storage.PAT) (storage.PAT, error) {
	created, err := s.inner.CreatePAT(ctx, p)
	if err != nil {
		return storage.PAT{}, err
	}
	cctx, cancel := withTimeout(ctx)
	defer cancel()
	s.setJSON(cctx, patByTokenPrefix+created.Token, created, entityTTL)
	return created, nil
}

func (s *Store) GetPATByID(ctx context.Context, id int64) (storage.PAT, error) {
	return s.inner.GetPATByID(ctx, id)
}

func (s *Store) GetPATByToken(ctx context.Context, token string) (storage.PAT, error) {
	cctx, cancel := withTimeout(ctx)
	defer cancel()
	var p storage.PAT
	if s.getJSON(cctx, patByTokenPrefix+token, &p) {
		return p, nil
	}
	p, err := s.inner.GetPATByToken(ctx, token)
	if err != nil {
		return storage.PAT{}, err
	}
	s.setJSON(cctx, patByTokenPrefix+token, p, entityTTL)
	return p, nil
}

func (s *Store) ListPATsByUser(ctx context.Context, userID int64) ([]storage.PAT, error) {
	return s.inner.ListPATsByUser(ctx, userID)
}

func (s *Store) UpdatePAT(ctx context.Context, id int64, updater func(storage.PAT) (storage.PAT, error)) (storage.PAT, error) {
	updated, err := s.inner.UpdatePAT(ctx, id, updater)
	if err != nil {
		return storage.PAT{}, err
	}
	cctx, cancel := withTimeout(ctx)
	defer cancel()
	s.setJSON(cctx, patByTokenPrefix+updated.Token, updated, entityTTL)
	return updated, nil
}

func (s *Store) DeletePAT(ctx context.Context, id int64) error {
	p, err := s.inner.GetPATByID(ctx, id)
	if err != nil && err != storage.ErrNotFound {
		return err
	}
	if err := s.inner.DeletePAT(ctx, id); err != nil {
		return err
	}
	if p.Token != "" {
		cctx, cancel := withTimeout(ctx)
		defer cancel()
		s.del(cctx, patByTokenPrefix+p.Token)
	}
	return nil
}

// --- OAuth2 clients ----------------------------------------------------

func (s *Store) CreateOAuthClient(ctx context.Context, c storage.OAuthClient) (storage.OAuthClient, error) {
	return s.inner.CreateOAuthClient(ctx, c)
}

func (s *Store) GetOAuthClientByID(ctx context.Context, id int64) (storage.OAuthClient, error) {
	return s.inner.GetOAuthClientByID(ctx, id)
}

// --- OAuth2 authorizations -----------------------------------------------

func (s *Store) GetOAuthAuthorization(ctx context.Context, clientID, userID int64) (storage.OAuthAuthorization, error) {
	return s.inner.GetOAuthAuthorization(ctx, clientID, userID)
}

func (s *Store) UpsertOAuthAuthorization(ctx context.Context, a storage.OAuthAuthorization) (storage.OAuthAuthorization, error) {
	return s.inner.UpsertOAuthAuthorization(ctx, a)
}

// --- OAuth2 access tokens ----------------------------------------------------

func oauthTokenKey(hash [32]byte) string {
	return fmt.Sprintf("%s%x", oauthTokenPrefix, hash)
}

func (s *Store) CreateOAuthAccessToken(ctx context.Context, t storage.OAuthAccessToken) (storage.OAuthAccessToken, error) {
	created, err := s.inner.CreateOAuthAccessToken(ctx, t)
	if err != nil {
		return storage.OAuthAccessToken{}, err
	}
	cctx, cancel := withTimeout(ctx)
	defer cancel()
	s.setJSON(cctx, oauthTokenKey(created.TokenHash), created, entityTTL)
	return created, nil
}

func (s *Store) GetOAuthAccessTokenByHash(ctx context.Context, hash [32]byte) (storage.OAuthAccessToken, error) {
	cctx, cancel := withTimeout(ctx)
	defer cancel()
	key := oauthTokenKey(hash)
	var t storage.OAuthAccessToken
	if s.getJSON(cctx, key, &t) {
		return t, nil
	}
	t, err := s.inner.GetOAuthAccessTokenByHash(ctx, hash)
	if err != nil {
		return storage.OAuthAccessToken{}, err
	}
	s.setJSON(cctx, key, t, entityTTL)
	return t, nil
}

func (s *Store) UpdateOAuthAccessToken(ctx context.Context, id int64, updater func(storage.OAuthAccessToken) (storage.OAuthAccessToken, error)) (storage.OAuthAccessToken, error) {
	updated, err := s.inner.UpdateOAuthAccessToken(ctx, id, updater)
	if err != nil {
		return storage.OAuthAccessToken{}, err
	}
	cctx, cancel := withTimeout(ctx)
	defer cancel()
	s.setJSON(cctx, oauthTokenKey(updated.TokenHash), updated, entityTTL)
	return updated, nil
}

// --- Backup codes -----------------------------------------------------------

func (s *Store) SetBackupCodes(ctx context.Context, userID int64, codes []string) error {
	return s.inner.SetBackupCodes(ctx, userID, codes)
}

func (s *Store) GetBackupCodes(ctx context.Context, userID int64) ([]storage.BackupCode, error) {
	return s.inner.GetBackupCodes(ctx, userID)
}

func (s *Store) ConsumeBackupCode(ctx context.Context, userID int64, code string) (bool, error) {
	return s.inner.ConsumeBackupCode(ctx, userID, code)
}

var _ storage.Store = (*Store)(nil)
