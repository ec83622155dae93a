package crdt

import "sort"

// objField is one field slot of a LiveObject. Deleted fields keep their
// slot with present=false so the last-writer-wins clock guard still has
// a clock to compare against.
type objField struct {
	value   any
	clock   uint64
	present bool
}

// LiveObject is a mapping from string field to {value, clock}. Values
// are primitives or nested CRDT nodes. Field writes resolve by
// most-recent-wins on the clock; ops with clock <= stored clock are
// no-ops.
type LiveObject struct {
	nb     nodeBase
	fields map[string]*objField
}

// NewObject returns a detached, empty LiveObject.
func NewObject() *LiveObject {
	return &LiveObject{fields: make(map[string]*objField)}
}

// NewObjectFrom returns a detached LiveObject seeded with data. Nested
// nodes in data are adopted as children.
func NewObjectFrom(data map[string]any) *LiveObject {
	o := NewObject()
	for k, v := range data {
		o.storeField(k, v, 0)
	}
	return o
}

func (o *LiveObject) base() *nodeBase { return &o.nb }

func (o *LiveObject) Type() NodeType { return NodeTypeObject }

// Path returns the sequence of keys/ids by which the root reaches this
// object.
func (o *LiveObject) Path() []string { return o.nb.path() }

// Get returns the live value for key.
func (o *LiveObject) Get(key string) (any, bool) {
	f, ok := o.fields[key]
	if !ok || !f.present {
		return nil, false
	}
	return f.value, true
}

// Keys returns the live field names in sorted order.
func (o *LiveObject) Keys() []string {
	keys := make([]string, 0, len(o.fields))
	for k, f := range o.fields {
		if f.present {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// ToMap returns a shallow copy of the live fields. Nested nodes are
// returned as-is, not serialized.
func (o *LiveObject) ToMap() map[string]any {
	out := make(map[string]any)
	for k, f := range o.fields {
		if f.present {
			out[k] = f.value
		}
	}
	return out
}

// Set writes key to value as a local mutation: the document clock ticks,
// an inverse op is captured for undo, a set op is emitted, and
// subscribers are notified. On a detached object it is a plain write.
func (o *LiveObject) Set(key string, value any) {
	doc := o.nb.doc
	var clock uint64
	if doc != nil {
		clock = doc.clock.Tick()
		path := o.Path()
		if f, ok := o.fields[key]; ok && f.present {
			doc.captureInverse(Op{Type: OpSet, Path: path, Key: key, Value: cloneValue(serializeValue(f.value)), Clock: f.clock})
		} else {
			doc.captureInverse(Op{Type: OpDelete, Path: path, Key: key})
		}
	}
	o.storeField(key, value, clock)
	if doc != nil {
		doc.emit(Op{Type: OpSet, Path: o.Path(), Key: key, Value: serializeValue(value), Clock: clock})
	}
	notifyMutation(o)
}

// Delete removes key as a local mutation. Deleting an absent field is a
// no-op and emits nothing.
func (o *LiveObject) Delete(key string) {
	f, ok := o.fields[key]
	if !ok || !f.present {
		return
	}
	doc := o.nb.doc
	var clock uint64
	if doc != nil {
		clock = doc.clock.Tick()
		doc.captureInverse(Op{Type: OpSet, Path: o.Path(), Key: key, Value: cloneValue(serializeValue(f.value)), Clock: f.clock})
	}
	f.value = nil
	f.clock = clock
	f.present = false
	if doc != nil {
		doc.emit(Op{Type: OpDelete, Path: o.Path(), Key: key, Clock: clock})
	}
	notifyMutation(o)
}

// applySet applies a remote set op. Returns false when the clock guard
// drops it.
func (o *LiveObject) applySet(op Op) bool {
	if f, ok := o.fields[op.Key]; ok && op.Clock <= f.clock {
		return false
	}
	o.storeField(op.Key, deserializeValue(op.Value), op.Clock)
	notifyMutation(o)
	return true
}

// applyDelete applies a remote delete op under the same clock guard.
func (o *LiveObject) applyDelete(op Op) bool {
	f, ok := o.fields[op.Key]
	if ok && op.Clock <= f.clock {
		return false
	}
	if !ok {
		f = &objField{}
		o.fields[op.Key] = f
	}
	f.value = nil
	f.clock = op.Clock
	f.present = false
	notifyMutation(o)
	return true
}

// storeField writes the slot and adopts node values into the tree.
func (o *LiveObject) storeField(key string, value any, clock uint64) {
	f, ok := o.fields[key]
	if !ok {
		f = &objField{}
		o.fields[key] = f
	}
	f.value = value
	f.clock = clock
	f.present = true
	if child, ok := value.(Node); ok {
		attachNode(child, o.nb.doc, o, key)
	}
}

// Serialize emits the tagged snapshot form of this object. Deleted
// fields are omitted; convergence metadata (clocks, tombstones) is not
// part of a snapshot.
func (o *LiveObject) Serialize() *SerializedNode {
	var data map[string]any
	for k, f := range o.fields {
		if !f.present {
			continue
		}
		if data == nil {
			data = make(map[string]any)
		}
		data[k] = serializeValue(f.value)
	}
	return &SerializedNode{Type: NodeTypeObject, Data: data}
}

// childNode returns the node stored under key, for path resolution.
func (o *LiveObject) childNode(key string) (Node, bool) {
	f, ok := o.fields[key]
	if !ok || !f.present {
		return nil, false
	}
	n, ok := f.value.(Node)
	return n, ok
}
