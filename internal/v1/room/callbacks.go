package room

import (
	"context"
	"time"

	"github.com/liveroom/liveroom/internal/v1/crdt"
	"github.com/liveroom/liveroom/internal/v1/logging"
	"github.com/liveroom/liveroom/internal/v1/types"
	"go.uber.org/zap"
)

// Callbacks is the embedder-facing hook surface. Every field is
// optional; absent means no-op. Hooks run with their panics and errors
// swallowed at the boundary so a faulty hook cannot crash the server.
// Only InitialStorage is awaited for its result (the first-arrival
// barrier); all other hooks are fire-and-forget.
type Callbacks struct {
	// OnJoin fires after a connection is registered and its initial
	// snapshots have been queued.
	OnJoin func(ctx context.Context, roomID types.RoomIDType, user types.PresenceUser)

	// OnLeave fires after a connection is removed from its room.
	OnLeave func(ctx context.Context, roomID types.RoomIDType, user types.PresenceUser)

	// OnMessage fires for every frame whose type has no built-in
	// handler, before the frame is relayed to peers.
	OnMessage func(ctx context.Context, roomID types.RoomIDType, userID types.UserIDType, frame map[string]any)

	// OnStorageChange fires with the applied ops after each storage
	// batch (client ops, server mutations, undo/redo).
	OnStorageChange func(ctx context.Context, roomID types.RoomIDType, ops []crdt.Op)

	// InitialStorage provides the document snapshot for a room's first
	// connection. Returning nil (or being absent) makes the server send
	// storage:init{root:null} so the first client may push its own root.
	InitialStorage func(ctx context.Context, roomID types.RoomIDType) (*crdt.SerializedNode, error)

	// InitialYjs provides the opaque Yjs payload sent to new
	// connections as yjs:init.
	InitialYjs func(ctx context.Context, roomID types.RoomIDType) ([]byte, error)

	// OnYjsChange fires with each relayed opaque Yjs update.
	OnYjsChange func(ctx context.Context, roomID types.RoomIDType, update []byte)
}

// Config carries the per-room limits from the server options.
type Config struct {
	// CleanupTimeout is the grace period before an empty room is
	// removed.
	CleanupTimeout time.Duration

	// MaxConnections caps concurrent connections per room; zero means
	// unlimited. Overflow rejects the upgrade with 503.
	MaxConnections int

	// HeartbeatTimeout is the silence window after which the reaper
	// downgrades a connection to offline.
	HeartbeatTimeout time.Duration
}

// DefaultConfig mirrors the documented defaults.
func DefaultConfig() Config {
	return Config{
		CleanupTimeout:   30 * time.Second,
		HeartbeatTimeout: 45 * time.Second,
	}
}

// invokeHook runs fn on its own goroutine with panic recovery. The
// server never observes a hook failure beyond a log line.
func invokeHook(ctx context.Context, name string, fn func()) {
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				logging.Error(ctx, "Panic in callback", zap.String("hook", name), zap.Any("panic", rec))
			}
		}()
		fn()
	}()
}
