package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	ctx := context.Background()

	sessionID, err := store.Create(ctx, "u1")
	require.NoError(t, err)

	data, err := store.Lookup(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, "u1", data.UserID)

	require.NoError(t, store.Destroy(ctx, sessionID))
	_, err = store.Lookup(ctx, sessionID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	sessionID, err := store.Create(ctx, "u1")
	require.NoError(t, err)

	now = now.Add(59 * time.Second)
	_, err = store.Lookup(ctx, sessionID)
	require.NoError(t, err)

	now = now.Add(time.Second)
	_, err = store.Lookup(ctx, sessionID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.Create(ctx, "u2")
	require.NoError(t, err)
	assert.Len(t, store.sessions, 1)
}

func TestMemoryStoreConcurrentAccess(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := store.Create(ctx, "u")
			if err != nil {
				t.Error(err)
				return
			}
			if _, err := store.Lookup(ctx, id); err != nil {
				t.Error(err)
			}
			_ = store.Destroy(ctx, id)
		}()
	}
	wg.Wait()
}
