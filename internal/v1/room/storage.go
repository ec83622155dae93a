package room

import (
	"context"

	"github.com/liveroom/liveroom/internal/v1/crdt"
	"github.com/liveroom/liveroom/internal/v1/logging"
	"github.com/liveroom/liveroom/internal/v1/metrics"
	"github.com/liveroom/liveroom/internal/v1/types"
	"go.uber.org/zap"
)

// awaitStorage resolves the room's initial document, running the
// InitialStorage hook exactly once. Concurrent first arrivals block on
// the same Do call and all observe the resolved root. Returns the
// serialized root, or nil when the room is (still) uninitialized.
func (r *Room) awaitStorage(ctx context.Context) *crdt.SerializedNode {
	r.initOnce.Do(func() {
		if r.callbacks.InitialStorage == nil {
			return
		}
		root, err := r.runInitialStorage(ctx)
		if err != nil {
			logging.Error(ctx, "initialStorage hook failed", zap.Error(err))
			return
		}
		if root == nil {
			return
		}
		doc, err := crdt.FromSnapshot(root)
		if err != nil {
			logging.Error(ctx, "initialStorage returned invalid snapshot", zap.Error(err))
			return
		}
		r.mu.Lock()
		if r.doc == nil {
			r.doc = doc
		}
		r.mu.Unlock()
	})

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.doc == nil {
		return nil
	}
	return r.doc.Serialize()
}

// runInitialStorage invokes the hook with panic containment; a panicking
// hook yields a nil root, same as an erroring one.
func (r *Room) runInitialStorage(ctx context.Context) (root *crdt.SerializedNode, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			logging.Error(ctx, "Panic in callback", zap.String("hook", "initialStorage"), zap.Any("panic", rec))
			root, err = nil, nil
		}
	}()
	return r.callbacks.InitialStorage(ctx, r.ID)
}

// handleStorageInit processes a client-pushed root. Accepted only while
// the room is still uninitialized; the accepted root is broadcast to
// everyone, sender included, who treats the echo as a no-op re-hydrate.
func (r *Room) handleStorageInit(ctx context.Context, raw map[string]any) {
	rootVal, hasRoot := raw["root"]
	if !hasRoot || rootVal == nil {
		logging.Debug(ctx, "storage:init without root, dropping")
		return
	}
	doc, err := crdt.FromSnapshot(rootVal)
	if err != nil {
		logging.Debug(ctx, "storage:init root rejected", zap.Error(err))
		return
	}

	r.mu.Lock()
	if r.doc != nil {
		r.mu.Unlock()
		logging.Debug(ctx, "storage:init on initialized room, ignoring")
		return
	}
	r.doc = doc
	frame := mustFrame(storageInitFrame{Type: types.FrameTypeStorageInit, Root: doc.Serialize()})
	r.broadcastLocked(frame, nil)
	r.mu.Unlock()

	logging.Info(ctx, "Room storage initialized by client")
}

// handleStorageOps applies a client op batch and echoes the applied
// subset to every connection with the advanced clock. Ops against an
// uninitialized room are dropped.
func (r *Room) handleStorageOps(ctx context.Context, raw map[string]any) {
	rawOps, ok := raw["ops"].([]any)
	if !ok || len(rawOps) == 0 {
		logging.Debug(ctx, "storage:ops without ops array, dropping")
		return
	}
	ops := make([]crdt.Op, 0, len(rawOps))
	for _, rv := range rawOps {
		op, ok := crdt.DecodeOp(rv)
		if !ok {
			continue
		}
		ops = append(ops, op)
	}
	if len(ops) == 0 {
		return
	}

	r.mu.Lock()
	if r.doc == nil {
		r.mu.Unlock()
		logging.Debug(ctx, "storage:ops before init, dropping")
		return
	}
	applied := r.doc.ApplyExternal(ops)
	var frame []byte
	if len(applied) > 0 {
		frame = mustFrame(storageOpsFrame{Type: types.FrameTypeStorageOps, Ops: applied, Clock: r.doc.Clock()})
		r.broadcastLocked(frame, nil)
	}
	r.mu.Unlock()

	for _, op := range applied {
		metrics.StorageOpsApplied.WithLabelValues(string(op.Type)).Inc()
	}
	if len(applied) > 0 && r.callbacks.OnStorageChange != nil {
		changed := applied
		invokeHook(ctx, "onStorageChange", func() { r.callbacks.OnStorageChange(ctx, r.ID, changed) })
	}
}

// MutateStorage runs fn against the live root as a server-originated
// mutation: history capture stays paused, the generated ops are
// broadcast with the new clock, and OnStorageChange fires. Creates an
// empty document when the room is uninitialized.
func (r *Room) MutateStorage(fn func(root *crdt.LiveObject)) []crdt.Op {
	ctx := r.logCtx("", types.ServerUserID)

	r.mu.Lock()
	if r.doc == nil {
		r.doc = crdt.NewDocument()
	}
	ops := r.doc.Mutate(fn)
	var frame []byte
	if len(ops) > 0 {
		frame = mustFrame(storageOpsFrame{Type: types.FrameTypeStorageOps, Ops: ops, Clock: r.doc.Clock()})
		r.broadcastLocked(frame, nil)
	}
	r.mu.Unlock()

	for _, op := range ops {
		metrics.StorageOpsApplied.WithLabelValues(string(op.Type)).Inc()
	}
	if len(ops) > 0 && r.callbacks.OnStorageChange != nil {
		changed := ops
		invokeHook(ctx, "onStorageChange", func() { r.callbacks.OnStorageChange(ctx, r.ID, changed) })
	}
	return ops
}

// StorageSnapshot returns the current serialized document, or nil when
// the room is uninitialized.
func (r *Room) StorageSnapshot() *crdt.SerializedNode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.doc == nil {
		return nil
	}
	return r.doc.Serialize()
}

// SetLiveState performs a server-originated live-state write and
// broadcasts the accepted update with userId "__server__".
func (r *Room) SetLiveState(key string, value any, timestamp int64, merge bool) bool {
	r.mu.Lock()
	entry, accepted := r.state.Set(key, value, timestamp, types.ServerUserID, merge)
	var frame []byte
	if accepted {
		frame = mustFrame(stateUpdateFrame{
			Type:      types.FrameTypeStateUpdate,
			Key:       key,
			Value:     entry.Value,
			Timestamp: entry.Timestamp,
			UserID:    entry.UserID,
		})
		r.broadcastLocked(frame, nil)
	}
	r.mu.Unlock()
	return accepted
}

// LiveState returns a snapshot copy of the room's live-state map.
func (r *Room) LiveState() map[string]types.LiveStateEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.Snapshot()
}
