package flow

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s := New(Config{Addrs: []string{mr.Addr()}})
	return s, mr
}

func TestCreateAndConsumeRoundTrip(t *testing.T) {
	s, mr := newTestStore(t)
	defer mr.Close()

	userID := int64(42)
	created, err := s.Create(context.Background(), Flow{Kind: KindLogin2FA, UserID: &userID})
	require.NoError(t, err)
	assert.Len(t, created.ID, idLength)

	consumed, err := s.Consume(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, userID, *consumed.UserID)

	_, err = s.Get(context.Background(), created.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetDoesNotConsume(t *testing.T) {
	s, mr := newTestStore(t)
	defer mr.Close()

	created, err := s.Create(context.Background(), Flow{Kind: KindInitialize2FA, CandidateSecret: "abc"})
	require.NoError(t, err)

	first, err := s.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "abc", first.CandidateSecret)

	second, err := s.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "abc", second.CandidateSecret)
}

func TestCreateRejectsUnknownKind(t *testing.T) {
	s, mr := newTestStore(t)
	defer mr.Close()

	_, err := s.Create(context.Background(), Flow{Kind: Kind("bogus")})
	assert.Error(t, err)
}

func TestConsumeUnknownIDReturnsNotFound(t *testing.T) {
	s, mr := newTestStore(t)
	defer mr.Close()

	_, err := s.Consume(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, ErrNotFound)
}
