// Package memstore provides an in-memory storage.Store for tests, following
// the style of dexidp/dex's storage/memory package.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/modrinth/forgekeep/ids"
	"github.com/modrinth/forgekeep/storage"
)

// New returns an empty in-memory storage.Store.
func New() storage.Store {
	return &memStore{
		users:         make(map[int64]storage.User),
		sessions:      make(map[int64]storage.Session),
		pats:          make(map[int64]storage.PAT),
		oauthClients:  make(map[int64]storage.OAuthClient),
		oauthAuths:    make(map[string]storage.OAuthAuthorization),
		oauthTokens:   make(map[[32]byte]storage.OAuthAccessToken),
		backupCodes:   make(map[int64]map[string]bool),
	}
}

type memStore struct {
	mu sync.Mutex

	users        map[int64]storage.User
	sessions     map[int64]storage.Session
	pats         map[int64]storage.PAT
	oauthClients map[int64]storage.OAuthClient
	oauthAuths   map[string]storage.OAuthAuthorization // key: clientID/userID
	oauthTokens  map[[32]byte]storage.OAuthAccessToken
	backupCodes  map[int64]map[string]bool
}

func (m *memStore) Close() error { return nil }

func (m *memStore) CreateUser(ctx context.Context, u storage.User) (storage.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == 0 {
		u.ID = ids.New()
	}
	for _, existing := range m.users {
		if existing.Username == u.Username {
			return storage.User{}, storage.ErrAlreadyExists
		}
	}
	if u.Created.IsZero() {
		u.Created = time.Now().UTC()
	}
	m.users[u.ID] = u
	return u, nil
}

func (m *memStore) GetUserByID(ctx context.Context, id int64) (storage.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return storage.User{}, storage.ErrNotFound
	}
	return u, nil
}

func (m *memStore) GetUserByUsername(ctx context.Context, username string) (storage.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			return u, nil
		}
	}
	return storage.User{}, storage.ErrNotFound
}

func (m *memStore) GetUserByEmail(ctx context.Context, email string) (storage.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email != nil && *u.Email == email {
			return u, nil
		}
	}
	return storage.User{}, storage.ErrNotFound
}

func (m *memStore) GetUserByProviderID(ctx context.Context, provider storage.Provider, providerID string) (storage.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ProviderIDs[provider] == providerID {
			return u, nil
		}
	}
	return storage.User{}, storage.ErrNotFound
}

func (m *memStore) GetUsersByIDs(ctx context.Context, idList []int64) ([]storage.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.User
	for _, id := range idList {
		if u, ok := m.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *memStore) UpdateUser(ctx context.Context, id int64, updater func(storage.User) (storage.User, error)) (storage.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.users[id]
	if !ok {
		return storage.User{}, storage.ErrNotFound
	}
	updated, err := updater(old)
	if err != nil {
		return storage.User{}, err
	}
	if !updated.HasAnyAuthMethod() {
		return storage.User{}, storage.ErrWouldOrphanAuth
	}
	m.users[id] = updated
	return updated, nil
}

func (m *memStore) CreateSession(ctx context.Context, s storage.Session) (storage.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == 0 {
		s.ID = ids.New()
	}
	for _, existing := range m.sessions {
		if existing.Token == s.Token {
			return storage.Session{}, storage.ErrAlreadyExists
		}
	}
	m.sessions[s.ID] = s
	return s, nil
}

func (m *memStore) GetSessionByID(ctx context.Context, id int64) (storage.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return storage.Session{}, storage.ErrNotFound
	}
	return s, nil
}

func (m *memStore) GetSessionByToken(ctx context.Context, token string) (storage.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.Token == token {
			return s, nil
		}
	}
	return storage.Session{}, storage.ErrNotFound
}

func (m *memStore) ListSessionsByUser(ctx context.Context, userID int64) ([]storage.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.Session
	for _, s := range m.sessions {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStore) UpdateSession(ctx context.Context, id int64, updater func(storage.Session) (storage.Session, error)) (storage.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.sessions[id]
	if !ok {
		return storage.Session{}, storage.ErrNotFound
	}
	updated, err := updater(old)
	if err != nil {
		return storage.Session{}, err
	}
	m.sessions[id] = updated
	return updated, nil
}

func (m *memStore) DeleteSession(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *memStore) CreatePAT(ctx context.Context, p storage.PAT) (storage.PAT, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == 0 {
		p.ID = ids.New()
	}
	for _, existing := range m.pats {
		if existing.Token == p.Token {
			return storage.PAT{}, storage.ErrAlreadyExists
		}
	}
	m.pats[p.ID] = p
	return p, nil
}

func (m *memStore) GetPATByID(ctx context.Context, id int64) (storage.PAT, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pats[id]
	if !ok {
		return storage.PAT{}, storage.ErrNotFound
	}
	return p, nil
}

func (m *memStore) GetPATByToken(ctx context.Context, token string) (storage.PAT, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.pats {
		if p.Token == token {
			return p, nil
		}
	}
	return storage.PAT{}, storage.ErrNotFound
}

func (m *memStore) ListPATsByUser(ctx context.Context, userID int64) ([]storage.PAT, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.PAT
	for _, p := range m.pats {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStore) UpdatePAT(ctx context.Context, id int64, updater func(storage.PAT) (storage.PAT, error)) (storage.PAT, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.pats[id]
	if !ok {
		return storage.PAT{}, storage.ErrNotFound
	}
	updated, err := updater(old)
	if err != nil {
		return storage.PAT{}, err
	}
	m.pats[id] = updated
	return updated, nil
}

func (m *memStore) DeletePAT(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pats, id)
	return nil
}

func (m *memStore) CreateOAuthClient(ctx context.Context, c storage.OAuthClient) (storage.OAuthClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == 0 {
		c.ID = ids.New()
	}
	m.oauthClients[c.ID] = c
	return c, nil
}

func (m *memStore) GetOAuthClientByID(ctx context.Context, id int64) (storage.OAuthClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.oauthClients[id]
	if !ok {
		return storage.OAuthClient{}, storage.ErrNotFound
	}
	return c, nil
}

func authKey(clientID, userID int64) string {
	return ids.Encode(clientID) + "/" + ids.Encode(userID)
}

func (m *memStore) GetOAuthAuthorization(ctx context.Context, clientID, userID int64) (storage.OAuthAuthorization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.oauthAuths[authKey(clientID, userID)]
	if !ok {
		return storage.OAuthAuthorization{}, storage.ErrNotFound
	}
	return a, nil
}

func (m *memStore) UpsertOAuthAuthorization(ctx context.Context, a storage.OAuthAuthorization) (storage.OAuthAuthorization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == 0 {
		a.ID = ids.New()
	}
	if a.Created.IsZero() {
		a.Created = time.Now().UTC()
	}
	m.oauthAuths[authKey(a.ClientID, a.UserID)] = a
	return a, nil
}

func (m *memStore) CreateOAuthAccessToken(ctx context.Context, t storage.OAuthAccessToken) (storage.OAuthAccessToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == 0 {
		t.ID = ids.New()
	}
	m.oauthTokens[t.TokenHash] = t
	return t, nil
}

func (m *memStore) GetOAuthAccessTokenByHash(ctx context.Context, hash [32]byte) (storage.OAuthAccessToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.oauthTokens[hash]
	if !ok {
		return storage.OAuthAccessToken{}, storage.ErrNotFound
	}
	return t, nil
}

func (m *memStore) UpdateOAuthAccessToken(ctx context.Context, id int64, updater func(storage.OAuthAccessToken) (storage.OAuthAccessToken, error)) (storage.OAuthAccessToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for hash, t := range m.oauthTokens {
		if t.ID == id {
			updated, err := updater(t)
			if err != nil {
				return storage.OAuthAccessToken{}, err
			}
			m.oauthTokens[hash] = updated
			return updated, nil
		}
	}
	return storage.OAuthAccessToken{}, storage.ErrNotFound
}

func (m *memStore) SetBackupCodes(ctx context.Context, userID int64, codes []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := make(map[string]bool, len(codes))
	for _, c := range codes {
		set[c] = true
	}
	m.backupCodes[userID] = set
	return nil
}

func (m *memStore) GetBackupCodes(ctx context.Context, userID int64) ([]storage.BackupCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.BackupCode
	for code := range m.backupCodes[userID] {
		out = append(out, storage.BackupCode{UserID: userID, Code: code})
	}
	return out, nil
}

func (m *memStore) ConsumeBackupCode(ctx context.Context, userID int64, code string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.backupCodes[userID]
	if set == nil || !set[code] {
		return false, nil
	}
	delete(set, code)
	return true, nil
}

var _ storage.Store = (*memStore)(nil)
