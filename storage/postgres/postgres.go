// Package postgres implements storage.Store against PostgreSQL using
// database/sql and github.com/lib/pq, following the flavor/executeTx
// conventions of dexidp/dex's storage/sql package.
package postgres

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/modrinth/forgekeep/ids"
	"github.com/modrinth/forgekeep/permission"
	"github.com/modrinth/forgekeep/scope"
	"github.com/modrinth/forgekeep/storage"
)

// Store is a storage.Store backed by a *sql.DB pointed at PostgreSQL.
type Store struct {
	db     *sql.DB
	logger logrus.FieldLogger
}

// Open connects to the given PostgreSQL DSN and returns a ready Store. The
// caller is responsible for running migrations (see migrate.sql in this
// package) before first use.
func Open(dsn string, logger logrus.FieldLogger) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping reports whether the underlying connection pool can still reach
// PostgreSQL, for use as a go-sundheit health check.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// executeTx runs fn inside a serializable transaction, retrying on
// serialization failures, mirroring dex's storage/sql flavorPostgres.executeTx.
func (s *Store) executeTx(ctx context.Context, fn func(*sql.Tx) error) error {
	opts := &sql.TxOptions{Isolation: sql.LevelSerializable}
	for {
		tx, err := s.db.BeginTx(ctx, opts)
		if err != nil {
			return fmt.Errorf("postgres: begin tx: %w", err)
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "serialization_failure" {
				continue
			}
			return err
		}
		if err := tx.Commit(); err != nil {
			if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "serialization_failure" {
				continue
			}
			return fmt.Errorf("postgres: commit: %w", err)
		}
		return nil
	}
}

// jsonEncoder wraps a value for storage in a jsonb column, following dex's
// storage/sql/crud.go encoder() helper.
type jsonEncoder struct{ v interface{} }

func (j jsonEncoder) Value() (driver.Value, error) {
	b, err := json.Marshal(j.v)
	if err != nil {
		return nil, fmt.Errorf("postgres: marshal: %w", err)
	}
	return b, nil
}

type jsonDecoder struct{ v interface{} }

func (j jsonDecoder) Scan(src interface{}) error {
	if src == nil {
		return nil
	}
	var b []byte
	switch t := src.(type) {
	case []byte:
		b = t
	case string:
		b = []byte(t)
	default:
		return fmt.Errorf("postgres: unsupported scan type %T", src)
	}
	return json.Unmarshal(b, j.v)
}

func encode(v interface{}) driver.Valuer { return jsonEncoder{v} }
func decode(v interface{}) sql.Scanner   { return jsonDecoder{v} }

func isUniqueViolation(err error) bool {
	pqErr, ok := err.(*pq.Error)
	return ok && pqErr.Code.Name() == "unique_violation"
}

// --- Users ---------------------------------------------------------------

func (s *Store) CreateUser(ctx context.Context, u storage.User) (storage.User, error) {
	if u.ID == 0 {
		u.ID = ids.New()
	}
	if u.Created.IsZero() {
		u.Created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into users (id, username, email, provider_ids, password_hash, totp_secret,
			email_verified, created, role, badges, minecraft_id, minecraft_username)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		u.ID, u.Username, u.Email, encode(u.ProviderIDs), u.PasswordHash, u.TOTPSecret,
		u.EmailVerified, u.Created, string(u.Role), u.Badges, u.MinecraftID, u.MinecraftUsername)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.User{}, storage.ErrAlreadyExists
		}
		return storage.User{}, fmt.Errorf("postgres: create user: %w", err)
	}
	return u, nil
}

func scanUser(row interface {
	Scan(dest ...interface{}) error
}) (storage.User, error) {
	var u storage.User
	var role string
	u.ProviderIDs = map[storage.Provider]string{}
	err := row.Scan(&u.ID, &u.Username, &u.Email, decode(&u.ProviderIDs), &u.PasswordHash,
		&u.TOTPSecret, &u.EmailVerified, &u.Created, &role, &u.Badges,
		&u.MinecraftID, &u.MinecraftUsername)
	if err == sql.ErrNoRows {
		return storage.User{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.User{}, fmt.Errorf("postgres: scan user: %w", err)
	}
	u.Role = permission.Role(role)
	return u, nil
}

const userColumns = `id, username, email, provider_ids, password_hash, totp_secret, email_verified, created, role, badges, minecraft_id, minecraft_username`

func (s *Store) GetUserByID(ctx context.Context, id int64) (storage.User, error) {
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id)
	return scanUser(row)
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (storage.User, error) {
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where lower(username) = lower($1)`, username)
	return scanUser(row)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (storage.User, error) {
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where lower(email) = lower($1)`, email)
	return scanUser(row)
}

func (s *Store) GetUserByProviderID(ctx context.Context, provider storage.Provider, providerID string) (storage.User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where provider_ids->>$1 = $2`, string(provider), providerID)
	return scanUser(row)
}

func (s *Store) GetUsersByIDs(ctx context.Context, idList []int64) ([]storage.User, error) {
	if len(idList) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `select `+userColumns+` from users where id = any($1)`, pq.Array(idList))
	if err != nil {
		return nil, fmt.Errorf("postgres: get users by ids: %w", err)
	}
	defer rows.Close()
	var out []storage.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// UpdateUser implements the read-modify-write-in-one-transaction contract
// storage.Store requires for any mutation that could clear a user's last
// authentication method.
func (s *Store) UpdateUser(ctx context.Context, id int64, updater func(storage.User) (storage.User, error)) (storage.User, error) {
	var result storage.User
	err := s.executeTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1 for update`, id)
		old, err := scanUser(row)
		if err != nil {
			return err
		}
		updated, err := updater(old)
		if err != nil {
			return err
		}
		if !updated.HasAnyAuthMethod() {
			return storage.ErrWouldOrphanAuth
		}
		_, err = tx.ExecContext(ctx, `
			update users set username=$2, email=$3, provider_ids=$4, password_hash=$5,
				totp_secret=$6, email_verified=$7, role=$8, badges=$9, minecraft_id=$10,
				minecraft_username=$11
			where id=$1`,
			id, updated.Username, updated.Email, encode(updated.ProviderIDs), updated.PasswordHash,
			updated.TOTPSecret, updated.EmailVerified, string(updated.Role), updated.Badges,
			updated.MinecraftID, updated.MinecraftUsername)
		if err != nil {
			return fmt.Errorf("postgres: update user: %w", err)
		}
		result = updated
		return nil
	})
	return result, err
}

// --- Sessions --------------------------------------------------------------

const sessionColumns = `id, user_id, token, created, last_login, expires, refresh_expires, os, platform, city, country, ip, user_agent`

func scanSession(row interface{ Scan(dest ...interface{}) error }) (storage.Session, error) {
	var sess storage.Session
	err := row.Scan(&sess.ID, &sess.UserID, &sess.Token, &sess.Created, &sess.LastLogin,
		&sess.Expires, &sess.RefreshExpires, &sess.OS, &sess.Platform, &sess.City, &sess.Country,
		&sess.IP, &sess.UserAgent)
	if err == sql.ErrNoRows {
		return storage.Session{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Session{}, fmt.Errorf("postgres: scan session: %w", err)
	}
	return sess, nil
}

func (s *Store) CreateSession(ctx context.Context, sess storage.Session) (storage.Session, error) {
	if sess.ID == 0 {
		sess.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into sessions (id, user_id, token, created, last_login, expires, refresh_expires,
			os, platform, city, country, ip, user_agent)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		sess.ID, sess.UserID, sess.Token, sess.Created, sess.LastLogin, sess.Expires,
		sess.RefreshExpires, sess.OS, sess.Platform, sess.City, sess.Country, sess.IP, sess.UserAgent)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.Session{}, storage.ErrAlreadyExists
		}
		return storage.Session{}, fmt.Errorf("postgres: create session: %w", err)
	}
	return sess, nil
}

func (s *Store) GetSessionByID(ctx context.Context, id int64) (storage.Session, error) {
	row := s.db.QueryRowContext(ctx, `select `+sessionColumns+` from sessions where id = $1`, id)
	return scanSession(row)
}

func (s *Store) GetSessionByToken(ctx context.Context, token string) (storage.Session, error) {
	row := s.db.QueryRowContext(ctx, `select `+sessionColumns+` from sessions where token = $1`, token)
	return scanSession(row)
}

func (s *Store) ListSessionsByUser(ctx context.Context, userID int64) ([]storage.Session, error) {
	rows, err := s.db.QueryContext(ctx, `select `+sessionColumns+` from sessions where user_id = $1 and expires > now()`, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list sessions: %w", err)
	}
	defer rows.Close()
	var out []storage.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *Store) UpdateSession(ctx context.Context, id int64, updater func(storage.Session) (storage.Session, error)) (storage.Session, error) {
	var result storage.Session
	err := s.executeTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `select `+sessionColumns+` from sessions where id = $1 for update`, id)
		old, err := scanSession(row)
		if err != nil {
			return err
		}
		updated, err := updater(old)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			update sessions set last_login=$2, expires=$3, refresh_expires=$4, os=$5,
				platform=$6, city=$7, country=$8, ip=$9, user_agent=$10
			where id=$1`,
			id, updated.LastLogin, updated.Expires, updated.RefreshExpires, updated.OS,
			updated.Platform, updated.City, updated.Country, updated.IP, updated.UserAgent)
		if err != nil {
			return fmt.Errorf("postgres: update session: %w", err)
		}
		result = updated
		return nil
	})
	return result, err
}

func (s *Store) DeleteSession(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `delete from sessions where id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete session: %w", err)
	}
	return nil
}

// --- PATs --------------------------------------------------------------

const patColumns = `id, user_id, token, name, scopes, created, expires, last_used`

func scanPAT(row interface{ Scan(dest ...interface{}) error }) (storage.PAT, error) {
	var p storage.PAT
	var scopes uint64
	err := row.Scan(&p.ID, &p.UserID, &p.Token, &p.Name, &scopes, &p.Created, &p.Expires, &p.LastUsed)
	if err == sql.ErrNoRows {
		return storage.PAT{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.PAT{}, fmt.Errorf("postgres: scan pat: %w", err)
	}
	p.Scopes = scope.Scopes(scopes)
	return p, nil
}

func (s *Store) CreatePAT(ctx context.Context, p storage.PAT) (storage.PAT, error) {
	if p.ID == 0 {
		p.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into pats (id, user_id, token, name, scopes, created, expires, last_used)
		values ($1,$2,$3,$4,$5,$6,$7,$8)`,
		p.ID, p.UserID, p.Token, p.Name, uint64(p.Scopes), p.Created, p.Expires, p.LastUsed)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.PAT{}, storage.ErrAlreadyExists
		}
		return storage.PAT{}, fmt.Errorf("postgres: create pat: %w", err)
	}
	return p, nil
}

func (s *Store) GetPATByID(ctx context.Context, id int64) (storage.PAT, error) {
	row := s.db.QueryRowContext(ctx, `select `+patColumns+` from pats where id = $1`, id)
	return scanPAT(row)
}

func (s *Store) GetPATByToken(ctx context.Context, token string) (storage.PAT, error) {
	row := s.db.QueryRowContext(ctx, `select `+patColumns+` from pats where token = $1`, token)
	return scanPAT(row)
}

func (s *Store) ListPATsByUser(ctx context.Context, userID int64) ([]storage.PAT, error) {
	rows, err := s.db.QueryContext(ctx, `select `+patColumns+` from pats where user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pats: %w", err)
	}
	defer rows.Close()
	var out []storage.PAT
	for rows.Next() {
		p, err := scanPAT(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) UpdatePAT(ctx context.Context, id int64, updater func(storage.PAT) (storage.PAT, error)) (storage.PAT, error) {
	var result storage.PAT
	err := s.executeTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `select `+patColumns+` from pats where id = $1 for update`, id)
		old, err := scanPAT(row)
		if err != nil {
			return err
		}
		updated, err := updater(old)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `update pats set name=$2, scopes=$3, expires=$4, last_used=$5 where id=$1`,
			id, updated.Name, uint64(updated.Scopes), updated.Expires, updated.LastUsed)
		if err != nil {
			return fmt.Errorf("postgres: update pat: %w", err)
		}
		result = updated
		return nil
	})
	return result, err
}

func (s *Store) DeletePAT(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `delete from pats where id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete pat: %w", err)
	}
	return nil
}

// --- OAuth2 clients --------------------------------------------------------

func (s *Store) CreateOAuthClient(ctx context.Context, c storage.OAuthClient) (storage.OAuthClient, error) {
	if c.ID == 0 {
		c.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into oauth_clients (id, client_secret_hash, name, icon_url, owner_user_id,
			redirect_uris, max_scopes, created)
		values ($1,$2,$3,$4,$5,$6,$7,$8)`,
		c.ID, c.ClientSecretHash, c.Name, c.IconURL, c.OwnerUserID, pq.Array(c.RedirectURIs),
		uint64(c.MaxScopes), c.Created)
	if err != nil {
		return storage.OAuthClient{}, fmt.Errorf("postgres: create oauth client: %w", err)
	}
	return c, nil
}

func (s *Store) GetOAuthClientByID(ctx context.Context, id int64) (storage.OAuthClient, error) {
	var c storage.OAuthClient
	var maxScopes uint64
	err := s.db.QueryRowContext(ctx, `
		select id, client_secret_hash, name, icon_url, owner_user_id, redirect_uris, max_scopes, created
		from oauth_clients where id = $1`, id).
		Scan(&c.ID, &c.ClientSecretHash, &c.Name, &c.IconURL, &c.OwnerUserID,
			pq.Array(&c.RedirectURIs), &maxScopes, &c.Created)
	if err == sql.ErrNoRows {
		return storage.OAuthClient{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.OAuthClient{}, fmt.Errorf("postgres: get oauth client: %w", err)
	}
	c.MaxScopes = scope.Scopes(maxScopes)
	return c, nil
}

// --- OAuth2 authorizations --------------------------------------------------

func (s *Store) GetOAuthAuthorization(ctx context.Context, clientID, userID int64) (storage.OAuthAuthorization, error) {
	var a storage.OAuthAuthorization
	var scopes uint64
	err := s.db.QueryRowContext(ctx, `
		select id, client_id, user_id, scopes, created from oauth_authorizations
		where client_id = $1 and user_id = $2`, clientID, userID).
		Scan(&a.ID, &a.ClientID, &a.UserID, &scopes, &a.Created)
	if err == sql.ErrNoRows {
		return storage.OAuthAuthorization{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.OAuthAuthorization{}, fmt.Errorf("postgres: get oauth authorization: %w", err)
	}
	a.Scopes = scope.Scopes(scopes)
	return a, nil
}

func (s *Store) UpsertOAuthAuthorization(ctx context.Context, a storage.OAuthAuthorization) (storage.OAuthAuthorization, error) {
	if a.ID == 0 {
		a.ID = ids.New()
	}
	if a.Created.IsZero() {
		a.Created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into oauth_authorizations (id, client_id, user_id, scopes, created)
		values ($1,$2,$3,$4,$5)
		on conflict (client_id, user_id) do update set scopes = excluded.scopes`,
		a.ID, a.ClientID, a.UserID, uint64(a.Scopes), a.Created)
	if err != nil {
		return storage.OAuthAuthorization{}, fmt.Errorf("postgres: upsert oauth authorization: %w", err)
	}
	return a, nil
}

// --- OAuth2 access tokens ----------------------------------------------------

func (s *Store) CreateOAuthAccessToken(ctx context.Context, t storage.OAuthAccessToken) (storage.OAuthAccessToken, error) {
	if t.ID == 0 {
		t.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into oauth_access_tokens (id, token_hash, scopes, user_id, client_id,
			authorization_id, created, expires, last_used)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		t.ID, t.TokenHash[:], uint64(t.Scopes), t.UserID, t.ClientID, t.AuthorizationID,
		t.Created, t.Expires, t.LastUsed)
	if err != nil {
		return storage.OAuthAccessToken{}, fmt.Errorf("postgres: create oauth access token: %w", err)
	}
	return t, nil
}

func scanOAuthAccessToken(row interface{ Scan(dest ...interface{}) error }) (storage.OAuthAccessToken, error) {
	var t storage.OAuthAccessToken
	var hash []byte
	var scopes uint64
	err := row.Scan(&t.ID, &hash, &scopes, &t.UserID, &t.ClientID, &t.AuthorizationID,
		&t.Created, &t.Expires, &t.LastUsed)
	if err == sql.ErrNoRows {
		return storage.OAuthAccessToken{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.OAuthAccessToken{}, fmt.Errorf("postgres: scan oauth access token: %w", err)
	}
	copy(t.TokenHash[:], hash)
	t.Scopes = scope.Scopes(scopes)
	return t, nil
}

const oauthTokenColumns = `id, token_hash, scopes, user_id, client_id, authorization_id, created, expires, last_used`

func (s *Store) GetOAuthAccessTokenByHash(ctx context.Context, hash [32]byte) (storage.OAuthAccessToken, error) {
	row := s.db.QueryRowContext(ctx, `select `+oauthTokenColumns+` from oauth_access_tokens where token_hash = $1`, hash[:])
	return scanOAuthAccessToken(row)
}

func (s *Store) UpdateOAuthAccessToken(ctx context.Context, id int64, updater func(storage.OAuthAccessToken) (storage.OAuthAccessToken, error)) (storage.OAuthAccessToken, error) {
	var result storage.OAuthAccessToken
	err := s.executeTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `select `+oauthTokenColumns+` from oauth_access_tokens where id = $1 for update`, id)
		old, err := scanOAuthAccessToken(row)
		if err != nil {
			return err
		}
		updated, err := updater(old)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `update oauth_access_tokens set last_used=$2 where id=$1`, id, updated.LastUsed)
		if err != nil {
			return fmt.Errorf("postgres: update oauth access token: %w", err)
		}
		result = updated
		return nil
	})
	return result, err
}

// --- Backup codes -----------------------------------------------------------

func (s *Store) SetBackupCodes(ctx context.Context, userID int64, codes []string) error {
	return s.executeTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `delete from backup_codes where user_id = $1`, userID); err != nil {
			return fmt.Errorf("postgres: clear backup codes: %w", err)
		}
		for _, code := range codes {
			if _, err := tx.ExecContext(ctx, `insert into backup_codes (user_id, code) values ($1, $2)`, userID, code); err != nil {
				return fmt.Errorf("postgres: insert backup code: %w", err)
			}
		}
		return nil
	})
}

func (s *Store) GetBackupCodes(ctx context.Context, userID int64) ([]storage.BackupCode, error) {
	rows, err := s.db.QueryContext(ctx, `select user_id, code from backup_codes where user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: get backup codes: %w", err)
	}
	defer rows.Close()
	var out []storage.BackupCode
	for rows.Next() {
		var c storage.BackupCode
		if err := rows.Scan(&c.UserID, &c.Code); err != nil {
			return nil, fmt.Errorf("postgres: scan backup code: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ConsumeBackupCode atomically deletes the code if present, reporting
// whether it was found, so a code can never be used twice.
func (s *Store) ConsumeBackupCode(ctx context.Context, userID int64, code string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `delete from backup_codes where user_id = $1 and code = $2`, userID, code)
	if err != nil {
		return false, fmt.Errorf("postgres: consume backup code: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("postgres: consume backup code rows affected: %w", err)
	}
	return n > 0, nil
}

// HashToken is exported so the credential issuer can compute the same
// SHA-256 digest used to look up an OAuth2 access token.
func HashToken(token string) [32]byte {
	return sha256.Sum256([]byte(token))
}

var _ storage.Store = (*Store)(nil)
