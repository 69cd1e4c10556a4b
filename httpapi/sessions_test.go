package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modrinth/forgekeep/storage"
)

func TestHandleRefreshSessionReturnsUnauthorizedPastRefreshCutoff(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	user, err := s.Store.CreateUser(ctx, storage.User{Username: "alice", Created: time.Now()})
	require.NoError(t, err)
	sess, err := s.Store.CreateSession(ctx, storage.Session{
		UserID:         user.ID,
		Token:          "mra_expiredrefreshwindow",
		Created:        time.Now().Add(-48 * time.Hour),
		Expires:        time.Now().Add(-time.Hour),
		RefreshExpires: time.Now().Add(-time.Minute),
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v3/auth/session/refresh", nil)
	req.Header.Set("Authorization", "Bearer "+sess.Token)
	rec := httptest.NewRecorder()
	s.handleRefreshSession(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "unauthorized")
}
