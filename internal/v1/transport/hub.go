// Package transport owns the HTTP/WebSocket surface: the upgrade
// handshake with its rejection ladder, per-connection read/write pumps,
// the room registry with delayed cleanup, and the process-wide
// heartbeat reaper.
package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/liveroom/liveroom/internal/v1/logging"
	"github.com/liveroom/liveroom/internal/v1/metrics"
	"github.com/liveroom/liveroom/internal/v1/ratelimit"
	"github.com/liveroom/liveroom/internal/v1/room"
	"github.com/liveroom/liveroom/internal/v1/types"
	"go.uber.org/zap"
)

// DefaultHeartbeatCheckInterval is how often the reaper scans rooms for
// silent connections.
const DefaultHeartbeatCheckInterval = 15 * time.Second

// Options configures a Hub.
type Options struct {
	// Auth optionally authenticates upgrade requests. When nil, identity
	// comes from the userId/displayName query parameters.
	Auth types.AuthHandler

	// Callbacks is the embedder hook surface passed to every room.
	Callbacks room.Callbacks

	// RoomConfig carries the per-room limits (cleanup grace, max
	// connections, heartbeat timeout). Zero values take the defaults.
	RoomConfig room.Config

	// AllowedOrigins is the browser origin allow-list for upgrades.
	AllowedOrigins []string

	// RateLimiter optionally guards the upgrade endpoint per IP.
	RateLimiter *ratelimit.RateLimiter

	// HeartbeatCheckInterval overrides the reaper scan period.
	HeartbeatCheckInterval time.Duration
}

// Hub coordinates all rooms: registry, delayed cleanup of empty rooms,
// the heartbeat reaper, and graceful shutdown.
type Hub struct {
	rooms               map[types.RoomIDType]*room.Room
	mu                  sync.Mutex
	pendingRoomCleanups map[types.RoomIDType]*time.Timer

	auth           types.AuthHandler
	callbacks      room.Callbacks
	roomConfig     room.Config
	allowedOrigins []string
	rateLimiter    *ratelimit.RateLimiter

	heartbeatCheck time.Duration
	reaperStop     chan struct{}
	reaperDone     chan struct{}
	reaperOnce     sync.Once
}

// NewHub creates a Hub from options. The heartbeat reaper starts on the
// first connection; call Shutdown to stop it.
func NewHub(opts Options) *Hub {
	cfg := opts.RoomConfig
	defaults := room.DefaultConfig()
	if cfg.CleanupTimeout <= 0 {
		cfg.CleanupTimeout = defaults.CleanupTimeout
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = defaults.HeartbeatTimeout
	}
	check := opts.HeartbeatCheckInterval
	if check <= 0 {
		check = DefaultHeartbeatCheckInterval
	}

	return &Hub{
		rooms:               make(map[types.RoomIDType]*room.Room),
		pendingRoomCleanups: make(map[types.RoomIDType]*time.Timer),
		auth:                opts.Auth,
		callbacks:           opts.Callbacks,
		roomConfig:          cfg,
		allowedOrigins:      opts.AllowedOrigins,
		rateLimiter:         opts.RateLimiter,
		heartbeatCheck:      check,
		reaperStop:          make(chan struct{}),
		reaperDone:          make(chan struct{}),
	}
}

// Register mounts the upgrade routes on router under prefix. The bare
// prefix (no room id) answers 400; everything else unrouted is gin's
// default 404.
func (h *Hub) Register(router *gin.Engine, prefix string) {
	router.GET(prefix+"/:roomId", h.ServeWs)
	router.GET(prefix, func(c *gin.Context) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "room id required"})
	})
	router.GET(prefix+"/", func(c *gin.Context) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "room id required"})
	})
}

// ServeWs runs the upgrade rejection ladder, then hands the socket to
// the per-connection pumps. Ladder order: rate limit, empty room id
// (400), auth (401), room capacity (503), origin, upgrade.
func (h *Hub) ServeWs(c *gin.Context) {
	if h.rateLimiter != nil && !h.rateLimiter.CheckWebSocket(c) {
		return // Response already written by CheckWebSocket
	}

	roomID := types.RoomIDType(c.Param("roomId"))
	if roomID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "room id required"})
		return
	}

	identity, err := h.resolveIdentity(c.Request)
	if err != nil {
		logging.Warn(c.Request.Context(), "Rejecting upgrade: auth failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	// Capacity is checked against the existing room only; the room is
	// not created (and no pending cleanup is disarmed) until the
	// upgrade succeeds, so rejected requests leave the registry alone.
	if existing, ok := h.Room(roomID); ok && existing.IsFull() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "room is full"})
		return
	}

	if err := validateOrigin(c.Request, h.allowedOrigins); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
		return
	}

	conn, err := h.upgradeWebSocket(c)
	if err != nil {
		return
	}

	r := h.getOrCreateRoom(roomID)
	if r.IsFull() {
		// Lost a fill race between the capacity check and the upgrade.
		conn.Close()
		return
	}

	h.HandleConnection(conn, r, identity)
}

// HandleConnection registers an established socket with its room and
// starts the pumps. Split out so tests can inject a fake connection.
func (h *Hub) HandleConnection(conn wsConnection, r *room.Room, identity *types.AuthResult) {
	client := newClient(conn, r, newConnectionID())
	user := newPresenceUser(identity)

	metrics.IncConnection()
	h.startReaper()

	r.HandleClientConnect(client, user)

	go client.writePump()
	go client.readPump()
}

// getOrCreateRoom retrieves the room, cancelling any pending cleanup,
// or creates it.
func (h *Hub) getOrCreateRoom(roomID types.RoomIDType) *room.Room {
	h.mu.Lock()
	defer h.mu.Unlock()

	if r, ok := h.rooms[roomID]; ok {
		if timer, hasPendingCleanup := h.pendingRoomCleanups[roomID]; hasPendingCleanup {
			timer.Stop()
			delete(h.pendingRoomCleanups, roomID)
			logging.Info(context.Background(), "Cancelled pending room cleanup due to reconnection", zap.String("roomId", string(roomID)))
		}
		return r
	}

	logging.Info(context.Background(), "Creating new room", zap.String("roomId", string(roomID)))
	r := room.NewRoom(roomID, h.roomConfig, h.callbacks, h.scheduleCleanup)
	h.rooms[roomID] = r

	metrics.ActiveRooms.Inc()
	return r
}

// scheduleCleanup arms (or re-arms) the delayed removal of an empty
// room. On fire the room is removed only if it is still empty; a
// reconnect inside the grace period cancels the timer via
// getOrCreateRoom.
func (h *Hub) scheduleCleanup(roomID types.RoomIDType) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if existingTimer, exists := h.pendingRoomCleanups[roomID]; exists {
		existingTimer.Stop()
		delete(h.pendingRoomCleanups, roomID)
	}

	timer := time.AfterFunc(h.roomConfig.CleanupTimeout, func() {
		h.mu.Lock()
		defer h.mu.Unlock()

		delete(h.pendingRoomCleanups, roomID)
		if r, ok := h.rooms[roomID]; ok && r.IsEmpty() {
			delete(h.rooms, roomID)
			metrics.ActiveRooms.Dec()
			metrics.RoomOccupancy.DeleteLabelValues(string(roomID))
			logging.Info(context.Background(), "Removed room after grace period", zap.String("roomId", string(roomID)))
		} else if ok {
			logging.Info(context.Background(), "Cancelled room cleanup - room is active", zap.String("roomId", string(roomID)))
		}
	})

	h.pendingRoomCleanups[roomID] = timer
}

// Room returns the live room for id, if present. Used by embedders for
// server-originated storage and live-state writes.
func (h *Hub) Room(roomID types.RoomIDType) (*room.Room, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[roomID]
	return r, ok
}

// RoomCount returns the number of tracked rooms.
func (h *Hub) RoomCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// startReaper launches the heartbeat reaper on first use.
func (h *Hub) startReaper() {
	h.reaperOnce.Do(func() {
		go h.runReaper()
	})
}

func (h *Hub) runReaper() {
	defer close(h.reaperDone)
	ticker := time.NewTicker(h.heartbeatCheck)
	defer ticker.Stop()

	for {
		select {
		case <-h.reaperStop:
			return
		case now := <-ticker.C:
			h.mu.Lock()
			rooms := make([]*room.Room, 0, len(h.rooms))
			for _, r := range h.rooms {
				rooms = append(rooms, r)
			}
			h.mu.Unlock()

			for _, r := range rooms {
				r.ReapStale(now)
			}
		}
	}
}

// Shutdown stops the reaper, cancels pending cleanups, and
// force-disconnects every connection. Bounded by ctx so shutdown cannot
// hang on a stuck socket.
func (h *Hub) Shutdown(ctx context.Context) error {
	logging.Info(ctx, "Shutting down Hub - closing all active rooms")

	close(h.reaperStop)
	h.startReaper() // ensure reaperDone closes even if the reaper never ran

	h.mu.Lock()
	for roomID, timer := range h.pendingRoomCleanups {
		timer.Stop()
		delete(h.pendingRoomCleanups, roomID)
	}
	rooms := make([]*room.Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, r := range rooms {
			r.Shutdown()
		}
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-h.reaperDone:
	case <-ctx.Done():
		return ctx.Err()
	}

	logging.Info(ctx, "All rooms closed", zap.Int("count", len(rooms)))
	return nil
}
