package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/briandenicola/art-voice-agent-accelerator/types"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)

	store, err := NewRedisStore(context.Background(), RedisStoreConfig{
		Addr:       mr.Addr(),
		SessionTTL: time.Minute,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testSnapshot() *Snapshot {
	s := NewState(TransportBrowser, "Concierge")
	s.AppendMessage(types.NewUserMessage("hello"))
	s.SetActiveAgent("Advisor")
	return s.Snapshot()
}

func TestRedisStore_SaveLoadDelete(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()
	snap := testSnapshot()

	require.NoError(t, store.Save(ctx, snap))

	loaded, err := store.Load(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, snap.ActiveAgent, loaded.ActiveAgent)
	assert.Len(t, loaded.History, 1)
	assert.Equal(t, snap.Visited, loaded.Visited)

	require.NoError(t, store.Delete(ctx, snap.ID))
	_, err = store.Load(ctx, snap.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_LoadMissing(t *testing.T) {
	store := newTestRedisStore(t)
	_, err := store.Load(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_Ping(t *testing.T) {
	store := newTestRedisStore(t)
	assert.NoError(t, store.Ping(context.Background()))
}

func TestMemoryStore_SaveLoadDelete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	snap := testSnapshot()

	require.NoError(t, store.Save(ctx, snap))

	loaded, err := store.Load(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, snap.ID, loaded.ID)

	require.NoError(t, store.Delete(ctx, snap.ID))
	_, err = store.Load(ctx, snap.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
