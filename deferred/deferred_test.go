package deferred

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modrinth/forgekeep/storage"
	"github.com/modrinth/forgekeep/storage/memstore"
)

func TestRecordAndDrainCoalescesToLatest(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	u, err := store.CreateUser(ctx, storage.User{Username: "alice", ProviderIDs: map[storage.Provider]string{storage.ProviderGitHub: "1"}})
	require.NoError(t, err)

	pat, err := store.CreatePAT(ctx, storage.PAT{UserID: u.ID, Token: "mrp_x"})
	require.NoError(t, err)

	q := New(store)
	q.RecordPATUse(pat.ID)
	q.RecordPATUse(pat.ID) // second call must not create a second pending entry

	require.NoError(t, q.Drain(ctx))

	updated, err := store.GetPATByID(ctx, pat.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), updated.LastUsed, 5*time.Second)
}

func TestDrainClearsPendingBatch(t *testing.T) {
	store := memstore.New()
	q := New(store)
	q.RecordSessionUse(1)

	assert.Len(t, q.pending.sessionIDs, 1)
	require.NoError(t, q.Drain(context.Background()))
	assert.Len(t, q.pending.sessionIDs, 0)
}
