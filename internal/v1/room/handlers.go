package room

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/liveroom/liveroom/internal/v1/logging"
	"github.com/liveroom/liveroom/internal/v1/metrics"
	"github.com/liveroom/liveroom/internal/v1/types"
	"go.uber.org/zap"
	"k8s.io/utils/set"
)

// HandleFrame is the inbound dispatch for one frame from one
// connection. Malformed JSON and frames without a string "type" are
// silently dropped; unknown types flow to the OnMessage hook and are
// relayed to peers.
func (r *Room) HandleFrame(client types.ClientInterface, data []byte) {
	start := time.Now()

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		metrics.FramesProcessed.WithLabelValues("unparseable", "dropped").Inc()
		return
	}
	frameType, ok := raw["type"].(string)
	if !ok {
		metrics.FramesProcessed.WithLabelValues("untyped", "dropped").Inc()
		return
	}

	r.mu.RLock()
	m := r.members[client.GetID()]
	r.mu.RUnlock()
	if m == nil {
		// Frame raced a disconnect.
		metrics.FramesProcessed.WithLabelValues(frameType, "dropped").Inc()
		return
	}
	ctx := r.logCtx(client.GetID(), m.user.UserID)

	switch frameType {
	case types.FrameTypeHeartbeat:
		r.handleHeartbeat(client)
	case types.FrameTypePresenceUpdate:
		r.handlePresenceUpdate(ctx, client, raw)
	case types.FrameTypeCursorUpdate:
		r.handleCursorUpdate(ctx, client, raw)
	case types.FrameTypeStateUpdate:
		r.handleStateUpdate(ctx, client, raw)
	case types.FrameTypeStorageInit:
		r.handleStorageInit(ctx, raw)
	case types.FrameTypeStorageOps:
		r.handleStorageOps(ctx, raw)
	case types.FrameTypeYjsUpdate:
		r.handleYjsUpdate(ctx, client, raw)
	case types.FrameTypePresence, types.FrameTypeStateInit, types.FrameTypeYjsInit:
		// Server-originated types are never accepted from clients.
		logging.Debug(ctx, "Client sent server-only frame type, dropping", zap.String("frame_type", frameType))
		metrics.FramesProcessed.WithLabelValues(frameType, "dropped").Inc()
		metrics.FrameProcessingDuration.WithLabelValues(frameType).Observe(time.Since(start).Seconds())
		return
	default:
		r.handleCustom(ctx, client, m.user.UserID, data, raw)
	}

	metrics.FramesProcessed.WithLabelValues(frameType, "ok").Inc()
	metrics.FrameProcessingDuration.WithLabelValues(frameType).Observe(time.Since(start).Seconds())
}

// handleHeartbeat refreshes liveness. A connection the reaper already
// downgraded recovers to online, which re-broadcasts presence.
func (r *Room) handleHeartbeat(client types.ClientInterface) {
	r.mu.Lock()
	m, ok := r.members[client.GetID()]
	if !ok {
		r.mu.Unlock()
		return
	}
	m.lastHeartbeat = time.Now()
	recovered := m.user.OnlineStatus == types.StatusOffline
	if recovered {
		m.user.OnlineStatus = types.StatusOnline
		r.presence = nil
		r.broadcastLocked(r.presenceFrameLocked(), nil)
	}
	r.mu.Unlock()
}

// handlePresenceUpdate mutates the sender's presence from the
// allow-listed fields (onlineStatus, isIdle, location, metadata) and
// broadcasts the new roster. Unknown fields are ignored.
func (r *Room) handlePresenceUpdate(ctx context.Context, client types.ClientInterface, raw map[string]any) {
	r.mu.Lock()
	m, ok := r.members[client.GetID()]
	if !ok {
		r.mu.Unlock()
		return
	}
	changed := false
	if v, ok := raw["onlineStatus"].(string); ok {
		switch types.OnlineStatus(v) {
		case types.StatusOnline, types.StatusAway, types.StatusOffline:
			m.user.OnlineStatus = types.OnlineStatus(v)
			changed = true
		}
	}
	if v, ok := raw["isIdle"].(bool); ok {
		m.user.IsIdle = v
		changed = true
	}
	if v, ok := raw["location"].(string); ok {
		m.user.Location = v
		changed = true
	}
	if v, ok := raw["metadata"].(map[string]any); ok {
		m.user.Metadata = v
		changed = true
	}
	if changed {
		m.user.LastActiveAt = time.Now().UnixMilli()
		r.presence = nil
		r.broadcastLocked(r.presenceFrameLocked(), nil)
	}
	r.mu.Unlock()

	if !changed {
		logging.Debug(ctx, "presence:update with no accepted fields")
	}
}

// handleCursorUpdate validates coordinates, overwrites the identity
// fields from the sender's presence user, and relays to everyone except
// the sender.
func (r *Room) handleCursorUpdate(ctx context.Context, client types.ClientInterface, raw map[string]any) {
	x, okX := types.IsFiniteNumber(raw["x"])
	y, okY := types.IsFiniteNumber(raw["y"])
	if !okX || !okY {
		logging.Debug(ctx, "cursor:update with non-finite coordinates, dropping")
		return
	}

	cursor := types.CursorData{X: x, Y: y, LastUpdate: time.Now().UnixMilli()}
	if vp, ok := raw["viewportPos"].(map[string]any); ok {
		vx, okVX := types.IsFiniteNumber(vp["x"])
		vy, okVY := types.IsFiniteNumber(vp["y"])
		if !okVX || !okVY {
			logging.Debug(ctx, "cursor:update with non-finite viewportPos, dropping")
			return
		}
		cursor.ViewportPos = &types.ViewportPos{X: vx, Y: vy}
	}
	if _, present := raw["viewportScale"]; present {
		scale, ok := types.IsFiniteNumber(raw["viewportScale"])
		if !ok {
			logging.Debug(ctx, "cursor:update with non-finite viewportScale, dropping")
			return
		}
		cursor.ViewportScale = &scale
	}

	r.mu.RLock()
	m, ok := r.members[client.GetID()]
	if !ok {
		r.mu.RUnlock()
		return
	}
	cursor.UserID = m.user.UserID
	cursor.DisplayName = m.user.DisplayName
	cursor.Color = m.user.Color
	frame := mustFrame(cursorFrame{Type: types.FrameTypeCursorUpdate, Cursor: cursor})
	r.broadcastLocked(frame, set.New(client.GetID()))
	r.mu.RUnlock()
}

// handleStateUpdate applies a client live-state write with the sender's
// identity overwriting any claimed userId, then broadcasts the accepted
// entry to all connections.
func (r *Room) handleStateUpdate(ctx context.Context, client types.ClientInterface, raw map[string]any) {
	key, ok := raw["key"].(string)
	if !ok || key == "" {
		logging.Debug(ctx, "state:update without key, dropping")
		return
	}
	ts, ok := raw["timestamp"].(float64)
	if !ok {
		logging.Debug(ctx, "state:update without timestamp, dropping")
		return
	}
	merge, _ := raw["merge"].(bool)

	r.mu.Lock()
	m, present := r.members[client.GetID()]
	if !present {
		r.mu.Unlock()
		return
	}
	entry, accepted := r.state.Set(key, raw["value"], int64(ts), m.user.UserID, merge)
	if accepted {
		frame := mustFrame(stateUpdateFrame{
			Type:      types.FrameTypeStateUpdate,
			Key:       key,
			Value:     entry.Value,
			Timestamp: entry.Timestamp,
			UserID:    entry.UserID,
		})
		r.broadcastLocked(frame, nil)
	}
	r.mu.Unlock()
}

// sendYjsInit seeds the room's Yjs payload from the InitialYjs hook
// (first join only) and sends the current payload to the new
// connection. Rooms with no payload send nothing.
func (r *Room) sendYjsInit(ctx context.Context, client types.ClientInterface) {
	r.yjsOnce.Do(func() {
		if r.callbacks.InitialYjs == nil {
			return
		}
		payload, err := r.runInitialYjs(ctx)
		if err != nil {
			logging.Error(ctx, "initialYjs hook failed", zap.Error(err))
			return
		}
		if len(payload) == 0 {
			return
		}
		r.mu.Lock()
		if r.yjs == nil {
			r.yjs = payload
		}
		r.mu.Unlock()
	})

	r.mu.RLock()
	payload := r.yjs
	r.mu.RUnlock()
	if len(payload) == 0 {
		return
	}
	client.SendRaw(mustFrame(yjsFrame{Type: types.FrameTypeYjsInit, Data: payload}))
}

func (r *Room) runInitialYjs(ctx context.Context) (payload []byte, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			logging.Error(ctx, "Panic in callback", zap.String("hook", "initialYjs"), zap.Any("panic", rec))
			payload, err = nil, nil
		}
	}()
	return r.callbacks.InitialYjs(ctx, r.ID)
}

// handleYjsUpdate relays an opaque Yjs payload to everyone except the
// sender, retains it for late joiners, and fires OnYjsChange. The
// payload is base64 text on the wire.
func (r *Room) handleYjsUpdate(ctx context.Context, client types.ClientInterface, raw map[string]any) {
	encoded, ok := raw["data"].(string)
	if !ok || encoded == "" {
		logging.Debug(ctx, "yjs:update without data, dropping")
		return
	}
	payload, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		logging.Debug(ctx, "yjs:update with invalid base64, dropping", zap.Error(err))
		return
	}

	r.mu.Lock()
	r.yjs = payload
	frame := mustFrame(yjsFrame{Type: types.FrameTypeYjsUpdate, Data: payload})
	r.broadcastLocked(frame, set.New(client.GetID()))
	r.mu.Unlock()

	if r.callbacks.OnYjsChange != nil {
		update := payload
		invokeHook(ctx, "onYjsChange", func() { r.callbacks.OnYjsChange(ctx, r.ID, update) })
	}
}

// handleCustom fires OnMessage for an unrecognized frame type and
// relays the original bytes to everyone except the sender.
func (r *Room) handleCustom(ctx context.Context, client types.ClientInterface, userID types.UserIDType, data []byte, raw map[string]any) {
	if r.callbacks.OnMessage != nil {
		invokeHook(ctx, "onMessage", func() { r.callbacks.OnMessage(ctx, r.ID, userID, raw) })
	}
	r.Broadcast(data, set.New(client.GetID()))
}
