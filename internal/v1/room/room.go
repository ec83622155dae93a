// Package room implements the fan-out hub for one collaboration
// session: the connections map, the cached presence broadcast, the CRDT
// storage document, the live-state overlay, and the inbound frame
// dispatch.
//
// Concurrency: a single RWMutex serializes all room state (connections,
// document, live-state, presence cache), per the one-lock-per-room
// rule. User hooks and the storage init barrier run outside the lock so
// a slow hook never blocks the room's other connections.
package room

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/liveroom/liveroom/internal/v1/crdt"
	"github.com/liveroom/liveroom/internal/v1/livestate"
	"github.com/liveroom/liveroom/internal/v1/logging"
	"github.com/liveroom/liveroom/internal/v1/metrics"
	"github.com/liveroom/liveroom/internal/v1/types"
	"go.uber.org/zap"
	"k8s.io/utils/set"
)

// member is one registered connection and its presence user. The user
// struct is owned by the room and only read or written under the room
// lock.
type member struct {
	client        types.ClientInterface
	user          *types.PresenceUser
	lastHeartbeat time.Time
}

// Room owns all state for one collaboration session.
type Room struct {
	ID types.RoomIDType

	mu      sync.RWMutex
	members map[types.ConnectionIDType]*member

	doc      *crdt.Document // nil until the init barrier resolves a root
	state    *livestate.Store
	presence []byte // cached presence broadcast, nil when invalidated

	// Storage init barrier: the first connection runs InitialStorage
	// exactly once; concurrent arrivals block on the same Do call.
	initOnce sync.Once

	// Latest opaque Yjs payload for late joiners. Seeded once from the
	// InitialYjs hook, then replaced by each relayed yjs:update.
	yjs     []byte
	yjsOnce sync.Once

	callbacks Callbacks
	config    Config
	onEmpty   func(types.RoomIDType)
}

// NewRoom creates a room. onEmpty is invoked (outside the lock) when
// the last connection leaves, so the hub can schedule cleanup.
func NewRoom(id types.RoomIDType, cfg Config, callbacks Callbacks, onEmpty func(types.RoomIDType)) *Room {
	return &Room{
		ID:        id,
		members:   make(map[types.ConnectionIDType]*member),
		state:     livestate.NewStore(),
		callbacks: callbacks,
		config:    cfg,
		onEmpty:   onEmpty,
	}
}

// GetID returns the room id.
func (r *Room) GetID() types.RoomIDType { return r.ID }

// ConnectionCount returns the number of registered connections.
func (r *Room) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// IsEmpty reports whether the room has no connections.
func (r *Room) IsEmpty() bool {
	return r.ConnectionCount() == 0
}

// IsFull reports whether another connection would exceed the per-room
// cap.
func (r *Room) IsFull() bool {
	if r.config.MaxConnections <= 0 {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members) >= r.config.MaxConnections
}

// HandleClientConnect registers a new connection and runs the join
// sequence: presence broadcast, storage:init (after the init barrier),
// state:init, yjs:init, then the OnJoin hook.
func (r *Room) HandleClientConnect(client types.ClientInterface, user *types.PresenceUser) {
	ctx := r.logCtx(client.GetID(), user.UserID)

	r.mu.Lock()
	r.members[client.GetID()] = &member{
		client:        client,
		user:          user,
		lastHeartbeat: time.Now(),
	}
	r.presence = nil
	occupancy := len(r.members)
	frame := r.presenceFrameLocked()
	for _, m := range r.members {
		m.client.SendRaw(frame)
	}
	r.mu.Unlock()

	metrics.RoomOccupancy.WithLabelValues(string(r.ID)).Set(float64(occupancy))
	logging.Info(ctx, "Connection joined room", zap.Int("occupancy", occupancy))

	// The init barrier may invoke the InitialStorage hook; it runs in
	// this connection's goroutine with no lock held.
	root := r.awaitStorage(ctx)
	client.SendRaw(mustFrame(storageInitFrame{Type: types.FrameTypeStorageInit, Root: root}))

	r.mu.RLock()
	var stateFrame []byte
	if r.state.Len() > 0 {
		stateFrame = mustFrame(stateInitFrame{Type: types.FrameTypeStateInit, States: r.state.Snapshot()})
	}
	r.mu.RUnlock()
	if stateFrame != nil {
		client.SendRaw(stateFrame)
	}

	r.sendYjsInit(ctx, client)

	if r.callbacks.OnJoin != nil {
		joined := *user
		invokeHook(ctx, "onJoin", func() { r.callbacks.OnJoin(ctx, r.ID, joined) })
	}
}

// HandleClientDisconnect removes a connection, fires OnLeave, and
// broadcasts the shrunken presence. The last leaver triggers the
// onEmpty callback so the hub can schedule delayed cleanup.
func (r *Room) HandleClientDisconnect(client types.ClientInterface) {
	r.mu.Lock()
	m, ok := r.members[client.GetID()]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.members, client.GetID())
	r.presence = nil
	occupancy := len(r.members)
	var frame []byte
	if occupancy > 0 {
		frame = r.presenceFrameLocked()
		for _, peer := range r.members {
			peer.client.SendRaw(frame)
		}
	}
	r.mu.Unlock()

	ctx := r.logCtx(client.GetID(), m.user.UserID)
	metrics.RoomOccupancy.WithLabelValues(string(r.ID)).Set(float64(occupancy))
	logging.Info(ctx, "Connection left room", zap.Int("occupancy", occupancy))

	if r.callbacks.OnLeave != nil {
		left := *m.user
		invokeHook(ctx, "onLeave", func() { r.callbacks.OnLeave(ctx, r.ID, left) })
	}

	if occupancy == 0 && r.onEmpty != nil {
		r.onEmpty(r.ID)
	}
}

// Broadcast sends data to every open connection, skipping the excluded
// ids. Individual send failures are absorbed by the client send path
// and never abort the loop.
func (r *Room) Broadcast(data []byte, exclude set.Set[types.ConnectionIDType]) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	r.broadcastLocked(data, exclude)
}

func (r *Room) broadcastLocked(data []byte, exclude set.Set[types.ConnectionIDType]) {
	for id, m := range r.members {
		if exclude != nil && exclude.Has(id) {
			continue
		}
		m.client.SendRaw(data)
	}
}

// ReapStale downgrades connections that have been silent longer than
// the heartbeat timeout to offline and broadcasts the updated presence.
// The socket stays open; a resumed heartbeat restores the connection.
// Returns the number of connections downgraded.
func (r *Room) ReapStale(now time.Time) int {
	r.mu.Lock()
	reaped := 0
	for _, m := range r.members {
		if m.user.OnlineStatus == types.StatusOffline {
			continue
		}
		if now.Sub(m.lastHeartbeat) > r.config.HeartbeatTimeout {
			m.user.OnlineStatus = types.StatusOffline
			reaped++
		}
	}
	var frame []byte
	if reaped > 0 {
		r.presence = nil
		frame = r.presenceFrameLocked()
		r.broadcastLocked(frame, nil)
	}
	r.mu.Unlock()

	if reaped > 0 {
		metrics.HeartbeatTimeouts.Add(float64(reaped))
		logging.Info(r.logCtx("", ""), "Reaped stale connections", zap.Int("count", reaped))
	}
	return reaped
}

// Shutdown force-disconnects every connection. Used by the hub during
// graceful shutdown.
func (r *Room) Shutdown() {
	r.mu.RLock()
	clients := make([]types.ClientInterface, 0, len(r.members))
	for _, m := range r.members {
		clients = append(clients, m.client)
	}
	r.mu.RUnlock()

	for _, c := range clients {
		c.Disconnect()
	}
}

// presenceFrameLocked returns the cached presence broadcast, rebuilding
// it at most once per invalidation. Caller must hold the write lock:
// the rebuild stores into r.presence. Marshalling costs only after
// membership or field changes.
func (r *Room) presenceFrameLocked() []byte {
	if r.presence != nil {
		return r.presence
	}
	users := make([]types.PresenceUser, 0, len(r.members))
	for _, m := range r.members {
		users = append(users, *m.user)
	}
	// Stable order: join time, then user id, so clients render
	// consistently.
	sort.Slice(users, func(i, j int) bool {
		if users[i].ConnectedAt != users[j].ConnectedAt {
			return users[i].ConnectedAt < users[j].ConnectedAt
		}
		return users[i].UserID < users[j].UserID
	})
	frame, err := json.Marshal(presenceFrame{Type: types.FrameTypePresence, Users: users})
	if err != nil {
		logging.Error(context.Background(), "Failed to marshal presence frame", zap.Error(err))
		return nil
	}
	r.presence = frame
	return frame
}

// logCtx builds a context carrying the room/connection/user fields the
// logging package extracts.
func (r *Room) logCtx(connID types.ConnectionIDType, userID types.UserIDType) context.Context {
	ctx := context.WithValue(context.Background(), logging.RoomIDKey, string(r.ID))
	if connID != "" {
		ctx = context.WithValue(ctx, logging.ConnectionIDKey, string(connID))
	}
	if userID != "" {
		ctx = context.WithValue(ctx, logging.UserIDKey, string(userID))
	}
	return ctx
}

// mustFrame marshals a server-built frame. Server frame types are
// JSON-safe by construction; a failure here is a programmer error and
// surfaces as a dropped frame plus an error log.
func mustFrame(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		logging.Error(context.Background(), "Failed to marshal server frame", zap.Error(err))
		return nil
	}
	return data
}

// --- server-originated frame shapes ---

type presenceFrame struct {
	Type  string               `json:"type"`
	Users []types.PresenceUser `json:"users"`
}

type storageInitFrame struct {
	Type string               `json:"type"`
	Root *crdt.SerializedNode `json:"root"`
}

type storageOpsFrame struct {
	Type  string    `json:"type"`
	Ops   []crdt.Op `json:"ops"`
	Clock uint64    `json:"clock"`
}

type stateInitFrame struct {
	Type   string                          `json:"type"`
	States map[string]types.LiveStateEntry `json:"states"`
}

type stateUpdateFrame struct {
	Type      string           `json:"type"`
	Key       string           `json:"key"`
	Value     any              `json:"value"`
	Timestamp int64            `json:"timestamp"`
	UserID    types.UserIDType `json:"userId"`
}

type cursorFrame struct {
	Type   string           `json:"type"`
	Cursor types.CursorData `json:"cursor"`
}

type yjsFrame struct {
	Type string `json:"type"`
	Data []byte `json:"data"` // base64 on the wire
}
