// Package types holds the core domain types shared across the server:
// identifiers, presence and cursor payloads, live-state entries, the
// wire envelope, and the interfaces that decouple the transport layer
// from the room layer.
package types

import (
	"math"
	"net/http"
)

// --- Core Domain Types ---

// ConnectionIDType uniquely identifies a single open transport session.
// Assigned on connect, never reused.
type ConnectionIDType string

// UserIDType is the caller- or auth-supplied identity. A user may hold
// multiple concurrent connections; each is a distinct presence entry.
type UserIDType string

// RoomIDType identifies a single logical document/session, the boundary
// of broadcast.
type RoomIDType string

// DisplayNameType is the human-readable name for a user.
type DisplayNameType string

// OnlineStatus describes a connection's liveness as seen by peers.
type OnlineStatus string

const (
	StatusOnline  OnlineStatus = "online"
	StatusAway    OnlineStatus = "away"
	StatusOffline OnlineStatus = "offline"
)

// --- Presence ---

// PresenceUser is the ephemeral per-connection user state visible to all
// room members. Color is deterministic from the user id.
type PresenceUser struct {
	UserID       UserIDType      `json:"userId"`
	DisplayName  DisplayNameType `json:"displayName"`
	Color        string          `json:"color"`
	ConnectedAt  int64           `json:"connectedAt"`
	OnlineStatus OnlineStatus    `json:"onlineStatus"`
	LastActiveAt int64           `json:"lastActiveAt"`
	IsIdle       bool            `json:"isIdle"`
	Location     string          `json:"location,omitempty"`
	Metadata     map[string]any  `json:"metadata,omitempty"`
}

// --- Cursor ---

// ViewportPos is an optional client viewport origin attached to cursor
// traffic.
type ViewportPos struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// CursorData is enriched cursor traffic. The identity fields are always
// populated by the server from the sender's presence user; clients
// cannot forge them.
type CursorData struct {
	UserID        UserIDType      `json:"userId"`
	DisplayName   DisplayNameType `json:"displayName"`
	Color         string          `json:"color"`
	X             float64         `json:"x"`
	Y             float64         `json:"y"`
	LastUpdate    int64           `json:"lastUpdate"`
	ViewportPos   *ViewportPos    `json:"viewportPos,omitempty"`
	ViewportScale *float64        `json:"viewportScale,omitempty"`
}

// --- Live State ---

// LiveStateEntry is one last-writer-wins value in the per-room live-state
// overlay. Timestamp is wall-clock milliseconds at the writer.
type LiveStateEntry struct {
	Value     any        `json:"value"`
	Timestamp int64      `json:"timestamp"`
	UserID    UserIDType `json:"userId"`
}

// ServerUserID marks live-state writes originated by the server rather
// than a connection.
const ServerUserID UserIDType = "__server__"

// --- Wire Envelope ---

// Frame type discriminators. Every frame is a JSON object with a
// required "type" string; unknown types are relayed to peers.
const (
	FrameTypePresence       = "presence"
	FrameTypeStorageInit    = "storage:init"
	FrameTypeStorageOps     = "storage:ops"
	FrameTypeStateInit      = "state:init"
	FrameTypeStateUpdate    = "state:update"
	FrameTypeCursorUpdate   = "cursor:update"
	FrameTypePresenceUpdate = "presence:update"
	FrameTypeHeartbeat      = "heartbeat"
	FrameTypeYjsInit        = "yjs:init"
	FrameTypeYjsUpdate      = "yjs:update"
)

// Envelope is the minimal decoded form of an inbound frame, used to peek
// at the discriminator before dispatch.
type Envelope struct {
	Type string `json:"type"`
}

// --- Auth ---

// AuthResult is the identity an AuthHandler derives from an upgrade
// request.
type AuthResult struct {
	UserID      UserIDType
	DisplayName DisplayNameType
}

// AuthHandler authenticates a WebSocket upgrade request before the
// protocol handshake. Returning an error rejects the connection with
// 401. When no handler is configured, identity is read from the
// "userId" and "displayName" query parameters (a development
// affordance, not a production auth mode).
type AuthHandler interface {
	Authenticate(r *http.Request) (*AuthResult, error)
}

// AuthHandlerFunc adapts a plain function to AuthHandler.
type AuthHandlerFunc func(r *http.Request) (*AuthResult, error)

func (f AuthHandlerFunc) Authenticate(r *http.Request) (*AuthResult, error) {
	return f(r)
}

// --- Transport/Room Interfaces ---

// ClientInterface is the behavior the room layer needs from a connected
// WebSocket client. Send failures are absorbed by the implementation so
// a slow or dead socket never aborts a broadcast loop.
type ClientInterface interface {
	GetID() ConnectionIDType
	SendRaw(data []byte)
	Disconnect()
}

// Roomer is the behavior the transport layer needs from a room.
type Roomer interface {
	GetID() RoomIDType
	HandleClientConnect(client ClientInterface, user *PresenceUser)
	HandleClientDisconnect(client ClientInterface)
	HandleFrame(client ClientInterface, data []byte)
}

// --- Helpers ---

// IsFiniteNumber reports whether v decoded from JSON is a number that is
// neither NaN nor infinite. Cursor coordinates must satisfy this.
func IsFiniteNumber(v any) (float64, bool) {
	f, ok := v.(float64)
	if !ok {
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
