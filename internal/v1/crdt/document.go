package crdt

import (
	"errors"
	"fmt"
)

// ErrSnapshotRoot is returned when a snapshot's root is not a
// LiveObject.
var ErrSnapshotRoot = errors.New("crdt: snapshot root must be a LiveObject")

// Document owns one room's CRDT tree: the root LiveObject, the Lamport
// clock, op capture, and the history manager. All methods assume the
// caller serializes access (the room layer holds its per-room lock
// around every document call).
type Document struct {
	root    *LiveObject
	clock   Clock
	history *History
	pending []Op
}

// NewDocument returns an empty document with a fresh root and clock.
func NewDocument() *Document {
	d := &Document{history: NewHistory(0)}
	d.root = NewObject()
	attachNode(d.root, d, nil, "")
	return d
}

// FromSnapshot builds a fresh document from a serialized tree. The
// clock starts cleared; convergence state is rebuilt as ops arrive.
func FromSnapshot(v any) (*Document, error) {
	d := NewDocument()
	if err := d.ApplySnapshot(v); err != nil {
		return nil, err
	}
	return d, nil
}

// Root returns the live root object.
func (d *Document) Root() *LiveObject { return d.root }

// Clock returns the current Lamport clock value.
func (d *Document) Clock() uint64 { return d.clock.Current() }

// History returns the undo/redo manager.
func (d *Document) History() *History { return d.history }

// Serialize emits the snapshot of the whole tree.
func (d *Document) Serialize() *SerializedNode {
	return d.root.Serialize()
}

// ApplySnapshot rehydrates the document in place: the root object keeps
// its identity so outstanding references and subscriptions remain
// valid. Used on reconnect. The clock is kept (it only ever grows) and
// history is cleared, since its entries refer to replaced state.
func (d *Document) ApplySnapshot(v any) error {
	sn, ok := coerceSerialized(v)
	if !ok {
		return fmt.Errorf("%w: unrecognized snapshot value", ErrSnapshotRoot)
	}
	if sn.Type != NodeTypeObject {
		return fmt.Errorf("%w: got %s", ErrSnapshotRoot, sn.Type)
	}
	d.history.Clear()
	d.pending = nil
	d.root.fields = make(map[string]*objField)
	for k, fv := range sn.Data {
		d.root.storeField(k, deserializeValue(fv), 0)
	}
	notifyMutation(d.root)
	return nil
}

// Mutate runs fn against the live root with history capture paused and
// returns the ops the mutation generated, ready for broadcast.
// Server-originated mutations use this path so they never populate any
// client-visible undo stack.
func (d *Document) Mutate(fn func(root *LiveObject)) []Op {
	d.history.Pause()
	defer d.history.Resume()
	d.pending = nil
	fn(d.root)
	return d.drainPending()
}

// ApplyExternal applies remote ops in order and returns the subset that
// took effect. Invalid ops, unresolvable paths, and clock-guard losers
// are dropped without error. Each op merges the document clock to
// max(local, op.clock). Remote application never captures history.
func (d *Document) ApplyExternal(ops []Op) []Op {
	var applied []Op
	for _, op := range ops {
		if !op.Valid() {
			continue
		}
		d.clock.Merge(op.Clock)
		if d.applyOne(op) {
			applied = append(applied, op)
		}
	}
	return applied
}

func (d *Document) applyOne(op Op) bool {
	node := d.resolvePath(op.Path)
	if node == nil {
		return false
	}
	switch op.Type {
	case OpSet:
		switch t := node.(type) {
		case *LiveObject:
			return t.applySet(op)
		case *LiveMap:
			return t.applySet(op)
		}
	case OpDelete:
		switch t := node.(type) {
		case *LiveObject:
			return t.applyDelete(op)
		case *LiveMap:
			return t.applyDelete(op)
		}
	case OpListInsert:
		if l, ok := node.(*LiveList); ok {
			return l.applyListInsert(op)
		}
	case OpListDelete:
		if l, ok := node.(*LiveList); ok {
			return l.applyListDelete(op)
		}
	case OpListMove:
		if l, ok := node.(*LiveList); ok {
			return l.applyListMove(op)
		}
	}
	return false
}

// Undo pops the newest history entry, applies its inverse ops as a
// local batch, and routes the freshly captured forward ops to the redo
// stack. The returned ops must be broadcast like any local mutation.
func (d *Document) Undo() ([]Op, bool) {
	entry, ok := d.history.popUndo()
	if !ok {
		return nil, false
	}
	return d.replay(entry, captureToRedo), true
}

// Redo is symmetric to Undo: it replays a redo entry and routes the
// captures back to the undo stack without clearing redo.
func (d *Document) Redo() ([]Op, bool) {
	entry, ok := d.history.popRedo()
	if !ok {
		return nil, false
	}
	return d.replay(entry, captureToUndoKeepRedo), true
}

// CanUndo reports whether an undo entry is available.
func (d *Document) CanUndo() bool { return d.history.CanUndo() }

// CanRedo reports whether a redo entry is available.
func (d *Document) CanRedo() bool { return d.history.CanRedo() }

// StartBatch opens a history batch; see History.StartBatch.
func (d *Document) StartBatch() { d.history.StartBatch() }

// EndBatch closes a history batch; see History.EndBatch.
func (d *Document) EndBatch() { d.history.EndBatch() }

// DrainOps returns and clears the ops generated by direct local
// mutations since the last drain.
func (d *Document) DrainOps() []Op {
	return d.drainPending()
}

// replay applies a history entry's ops in reverse capture order as one
// local batch, with captures routed to target.
func (d *Document) replay(entry HistoryEntry, target captureTarget) []Op {
	d.pending = nil
	d.history.target = target
	d.history.StartBatch()
	for i := len(entry) - 1; i >= 0; i-- {
		d.applyRestore(entry[i])
	}
	d.history.EndBatch()
	d.history.target = captureToUndo
	return d.drainPending()
}

// applyRestore applies one inverse op as a local mutation. Unlike
// remote application it bypasses the clock guard: the target is
// re-written under a fresh clock tick so peers accept the restored
// state.
func (d *Document) applyRestore(op Op) {
	node := d.resolvePath(op.Path)
	if node == nil {
		return
	}
	switch op.Type {
	case OpSet:
		switch t := node.(type) {
		case *LiveObject:
			t.Set(op.Key, deserializeValue(op.Value))
		case *LiveMap:
			t.Set(op.Key, deserializeValue(op.Value))
		}
	case OpDelete:
		switch t := node.(type) {
		case *LiveObject:
			t.Delete(op.Key)
		case *LiveMap:
			t.Delete(op.Key)
		}
	case OpListInsert:
		if l, ok := node.(*LiveList); ok {
			l.restoreInsert(op.ID, op.Position, deserializeValue(op.Value))
		}
	case OpListDelete:
		if l, ok := node.(*LiveList); ok {
			l.restoreDelete(op.ID)
		}
	case OpListMove:
		if l, ok := node.(*LiveList); ok {
			l.restoreMove(op.ID, op.Position)
		}
	}
}

// resolvePath walks the tree from the root by object/map keys and list
// item ids. Returns nil when any segment is missing or not a node.
func (d *Document) resolvePath(path []string) Node {
	var cur Node = d.root
	for _, seg := range path {
		var (
			child Node
			ok    bool
		)
		switch t := cur.(type) {
		case *LiveObject:
			child, ok = t.childNode(seg)
		case *LiveMap:
			child, ok = t.childNode(seg)
		case *LiveList:
			child, ok = t.childNode(seg)
		}
		if !ok {
			return nil
		}
		cur = child
	}
	return cur
}

// Subscribe registers cb on node and returns an unsubscribe function.
// With deep=true the callback also fires for mutations anywhere beneath
// the node; shallow subscribers never fire for purely nested changes.
// Works on detached nodes too.
func Subscribe(n Node, cb SubscribeCallback, deep bool) func() {
	return n.base().subscribe(cb, deep)
}

// captureInverse records an inverse op with the history manager.
func (d *Document) captureInverse(op Op) {
	d.history.capture(op)
}

// emit queues a locally generated op for the next drain.
func (d *Document) emit(op Op) {
	d.pending = append(d.pending, op)
}

func (d *Document) drainPending() []Op {
	ops := d.pending
	d.pending = nil
	return ops
}
