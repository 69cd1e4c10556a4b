// Package deferred implements a lossy-bounded, coalescing "last used"
// write queue: a sync.Mutex-protected map of pending writes, drained by a
// background ticker. Grounded on
// dexidp/dex's connector/ssh.rateLimiter/challengeStore cleanup-goroutine
// pattern and storage/sql/gc.go's cancellable background-loop shape.
package deferred

import (
	"context"
	"sync"
	"time"

	"github.com/modrinth/forgekeep/storage"
)

// DrainInterval is how often the queue flushes to storage.
const DrainInterval = 30 * time.Minute

// pending coalesces same-entity writes: only the most recent observation
// survives between drains, a last-writer-wins property by design.
type pending struct {
	patIDs     map[int64]time.Time
	sessionIDs map[int64]time.Time
	oauthIDs   map[int64]time.Time
}

func newPending() pending {
	return pending{
		patIDs:     make(map[int64]time.Time),
		sessionIDs: make(map[int64]time.Time),
		oauthIDs:   make(map[int64]time.Time),
	}
}

// Queue buffers last-used timestamps for PATs, sessions, and OAuth2 access
// tokens, coalescing repeated use of the same credential between drains so
// the hot authentication path never blocks on a write.
type Queue struct {
	mu      sync.Mutex
	pending pending
	store   storage.Store
}

// New returns an empty Queue backed by store.
func New(store storage.Store) *Queue {
	return &Queue{pending: newPending(), store: store}
}

func (q *Queue) RecordPATUse(id int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending.patIDs[id] = time.Now().UTC()
}

func (q *Queue) RecordSessionUse(id int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending.sessionIDs[id] = time.Now().UTC()
}

func (q *Queue) RecordOAuthTokenUse(id int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending.oauthIDs[id] = time.Now().UTC()
}

// take atomically swaps out the pending batch for a fresh one, so writers
// can keep recording while a drain is in flight.
func (q *Queue) take() pending {
	q.mu.Lock()
	defer q.mu.Unlock()
	batch := q.pending
	q.pending = newPending()
	return batch
}

// Drain flushes the current pending batch to storage. Individual write
// failures are swallowed (best-effort bookkeeping, never a request-path
// concern) after being recorded in the returned error, if any.
func (q *Queue) Drain(ctx context.Context) error {
	batch := q.take()

	for id, ts := range batch.patIDs {
		_, _ = q.store.UpdatePAT(ctx, id, func(p storage.PAT) (storage.PAT, error) {
			p.LastUsed = ts
			return p, nil
		})
	}
	for id, ts := range batch.sessionIDs {
		_, _ = q.store.UpdateSession(ctx, id, func(s storage.Session) (storage.Session, error) {
			s.LastLogin = ts
			return s, nil
		})
	}
	for id, ts := range batch.oauthIDs {
		_, _ = q.store.UpdateOAuthAccessToken(ctx, id, func(t storage.OAuthAccessToken) (storage.OAuthAccessToken, error) {
			t.LastUsed = ts
			return t, nil
		})
	}
	return nil
}

// Run drains the queue every DrainInterval until ctx is canceled, in the
// shape of an oklog/run actor: it returns when ctx.Done() fires.
func (q *Queue) Run(ctx context.Context) error {
	ticker := time.NewTicker(DrainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = q.Drain(ctx)
		case <-ctx.Done():
			_ = q.Drain(ctx)
			return ctx.Err()
		}
	}
}
