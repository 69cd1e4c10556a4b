package credential

import (
	"context"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modrinth/forgekeep/scope"
	"github.com/modrinth/forgekeep/storage"
	"github.com/modrinth/forgekeep/storage/memstore"
)

func userFixture() storage.User {
	return storage.User{Username: "alice", ProviderIDs: map[storage.Provider]string{storage.ProviderGitHub: "1"}}
}

func sessionFixture(userID int64) storage.Session {
	now := time.Now().UTC()
	return storage.Session{
		UserID:         userID,
		Token:          sessionTokenPrefix + "fixture",
		Created:        now,
		LastLogin:      now,
		Expires:        now.Add(SessionLifetime),
		RefreshExpires: now.Add(RefreshLifetime),
	}
}

func totpCodeForTest(secret string) (string, error) {
	return totp.GenerateCode(secret, time.Now())
}

func TestHashAndVerifyPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)
	assert.Contains(t, hash, "$argon2id$")

	ok, err := VerifyPassword("correct horse battery staple", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPassword("wrong password", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyPasswordRejectsMalformedHash(t *testing.T) {
	_, err := VerifyPassword("x", "not-a-phc-string")
	assert.Error(t, err)
}

func TestGenerateAndVerifyTOTP(t *testing.T) {
	key, err := GenerateTOTPSecret("forgekeep", "alice")
	require.NoError(t, err)

	code, err := totpCodeForTest(key.Secret())
	require.NoError(t, err)
	assert.True(t, VerifyTOTP(code, key.Secret()))
	assert.False(t, VerifyTOTP("000000", key.Secret()))
}

func TestGenerateBackupCodesAreUnique(t *testing.T) {
	codes := GenerateBackupCodes()
	assert.Len(t, codes, backupCodeCount)
	seen := map[string]bool{}
	for _, c := range codes {
		assert.False(t, seen[c])
		seen[c] = true
	}
}

func TestIssueAndRefreshSession(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()

	u, err := store.CreateUser(ctx, userFixture())
	require.NoError(t, err)

	sess, err := IssueSession(ctx, store, u.ID, RequestMetadata{IP: "1.2.3.4"})
	require.NoError(t, err)
	assert.True(t, sess.Token[:4] == sessionTokenPrefix)

	refreshed, err := RefreshSession(ctx, store, sess, RequestMetadata{IP: "1.2.3.4"})
	require.NoError(t, err)
	assert.NotEqual(t, sess.Token, refreshed.Token)

	_, err = store.GetSessionByID(ctx, sess.ID)
	assert.Error(t, err)
}

func TestRefreshSessionRejectsExpiredRefreshWindow(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	u, err := store.CreateUser(ctx, userFixture())
	require.NoError(t, err)

	sess, err := store.CreateSession(ctx, sessionFixture(u.ID))
	require.NoError(t, err)
	sess.RefreshExpires = time.Now().Add(-time.Minute)

	_, err = RefreshSession(ctx, store, sess, RequestMetadata{})
	assert.ErrorIs(t, err, ErrRefreshExpired)
}

func TestCreatePATRejectsRestrictedScope(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	u, err := store.CreateUser(ctx, userFixture())
	require.NoError(t, err)

	_, err = CreatePAT(ctx, store, u.ID, "ci token", scope.PatCreate, time.Time{})
	assert.ErrorIs(t, err, ErrRestrictedScope)
}

func TestCreatePATRejectsPastExpiry(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	u, err := store.CreateUser(ctx, userFixture())
	require.NoError(t, err)

	_, err = CreatePAT(ctx, store, u.ID, "ci token", scope.ProjectRead, time.Now().Add(-time.Hour))
	assert.ErrorIs(t, err, ErrPastExpiry)
}

func TestIssueOAuthAccessTokenHashRoundTrips(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	u, err := store.CreateUser(ctx, userFixture())
	require.NoError(t, err)

	row, plaintext, err := IssueOAuthAccessToken(ctx, store, u.ID, 1, 1, scope.ProjectRead, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, HashOAuthToken(plaintext), row.TokenHash)
}
