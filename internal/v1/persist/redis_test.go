package persist

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liveroom/liveroom/internal/v1/crdt"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStoreWithClient(client, 0), mr
}

func TestStore_SnapshotRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	root := &crdt.SerializedNode{
		Type: crdt.NodeTypeObject,
		Data: map[string]any{
			"title": "design doc",
			"meta":  map[string]any{"type": "LiveMap", "data": map[string]any{"rev": float64(3)}},
		},
	}
	require.NoError(t, store.SaveSnapshot(ctx, "room-1", root))

	loaded, err := store.LoadSnapshot(ctx, "room-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, crdt.NodeTypeObject, loaded.Type)
	assert.Equal(t, "design doc", loaded.Data["title"])

	// The loaded snapshot rebuilds into a working document.
	doc, err := crdt.FromSnapshot(loaded)
	require.NoError(t, err)
	v, ok := doc.Root().Get("title")
	require.True(t, ok)
	assert.Equal(t, "design doc", v)
}

func TestStore_LoadSnapshot_Missing(t *testing.T) {
	store, _ := newTestStore(t)

	loaded, err := store.LoadSnapshot(context.Background(), "never-saved")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestStore_SaveSnapshot_NilRootNoOp(t *testing.T) {
	store, mr := newTestStore(t)

	require.NoError(t, store.SaveSnapshot(context.Background(), "room-1", nil))
	assert.False(t, mr.Exists("liveroom:room:room-1:storage"))
}

func TestStore_SnapshotKeysAreRoomScoped(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	root := &crdt.SerializedNode{Type: crdt.NodeTypeObject}
	require.NoError(t, store.SaveSnapshot(ctx, "room-a", root))
	require.NoError(t, store.SaveSnapshot(ctx, "room-b", root))

	assert.True(t, mr.Exists("liveroom:room:room-a:storage"))
	assert.True(t, mr.Exists("liveroom:room:room-b:storage"))
}

func TestStore_YjsRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	payload := []byte{0x00, 0x01, 0xFE, 0xFF}
	require.NoError(t, store.SaveYjs(ctx, "room-1", payload))

	loaded, err := store.LoadYjs(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, payload, loaded)
}

func TestStore_LoadYjs_Missing(t *testing.T) {
	store, _ := newTestStore(t)

	loaded, err := store.LoadYjs(context.Background(), "never-saved")
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestStore_SaveYjs_EmptyPayloadNoOp(t *testing.T) {
	store, mr := newTestStore(t)

	require.NoError(t, store.SaveYjs(context.Background(), "room-1", nil))
	assert.False(t, mr.Exists("liveroom:room:room-1:yjs"))
}

func TestStore_TTLApplied(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := NewStoreWithClient(client, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.SaveSnapshot(ctx, "room-1", &crdt.SerializedNode{Type: crdt.NodeTypeObject}))
	assert.Equal(t, time.Hour, mr.TTL("liveroom:room:room-1:storage"))

	// Expired snapshots read back as absent.
	mr.FastForward(2 * time.Hour)
	loaded, err := store.LoadSnapshot(ctx, "room-1")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestStore_BackendDownSurfacesError(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	mr.Close()
	_, err := store.LoadSnapshot(ctx, "room-1")
	assert.Error(t, err)
	assert.Error(t, store.SaveSnapshot(ctx, "room-1", &crdt.SerializedNode{Type: crdt.NodeTypeObject}))
	assert.Error(t, store.Ping(ctx))
}

func TestStore_PingHealthy(t *testing.T) {
	store, _ := newTestStore(t)
	assert.NoError(t, store.Ping(context.Background()))
}

func TestStore_NilReceiverSafe(t *testing.T) {
	var store *Store
	assert.Nil(t, store.Client())
	assert.NoError(t, store.Close())
	assert.NoError(t, store.Ping(context.Background()))
}
