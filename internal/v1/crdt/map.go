package crdt

import "sort"

// mapEntry is one key slot of a LiveMap. Deleted entries stay in the
// table as tombstones until Compact so concurrent writes still hit the
// clock guard.
type mapEntry struct {
	value   any
	clock   uint64
	deleted bool
}

// LiveMap is a mapping from string key to {value, clock, deleted}. It
// differs from LiveObject in offering size tracking, iteration, and
// explicit tombstone compaction for key churn workloads.
type LiveMap struct {
	nb        nodeBase
	entries   map[string]*mapEntry
	liveCount int
}

// NewMap returns a detached, empty LiveMap.
func NewMap() *LiveMap {
	return &LiveMap{entries: make(map[string]*mapEntry)}
}

// NewMapFrom returns a detached LiveMap seeded with data.
func NewMapFrom(data map[string]any) *LiveMap {
	m := NewMap()
	for k, v := range data {
		m.storeEntry(k, v, 0)
	}
	return m
}

func (m *LiveMap) base() *nodeBase { return &m.nb }

func (m *LiveMap) Type() NodeType { return NodeTypeMap }

// Path returns the sequence of keys/ids by which the root reaches this
// map.
func (m *LiveMap) Path() []string { return m.nb.path() }

// Get returns the live value for key. Tombstoned keys read as absent.
func (m *LiveMap) Get(key string) (any, bool) {
	e, ok := m.entries[key]
	if !ok || e.deleted {
		return nil, false
	}
	return e.value, true
}

// Has reports whether key is live.
func (m *LiveMap) Has(key string) bool {
	e, ok := m.entries[key]
	return ok && !e.deleted
}

// Size returns the number of live entries. Maintained as a counter so
// it does not scan tombstones.
func (m *LiveMap) Size() int { return m.liveCount }

// Keys returns the live keys in sorted order.
func (m *LiveMap) Keys() []string {
	keys := make([]string, 0, m.liveCount)
	for k, e := range m.entries {
		if !e.deleted {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// ForEach visits live entries in sorted key order. Tombstones are
// skipped.
func (m *LiveMap) ForEach(fn func(key string, value any)) {
	for _, k := range m.Keys() {
		if e, ok := m.entries[k]; ok && !e.deleted {
			fn(k, e.value)
		}
	}
}

// Set writes key to value as a local mutation (clock tick, inverse
// capture, op emission, notification).
func (m *LiveMap) Set(key string, value any) {
	doc := m.nb.doc
	var clock uint64
	if doc != nil {
		clock = doc.clock.Tick()
		path := m.Path()
		if e, ok := m.entries[key]; ok && !e.deleted {
			doc.captureInverse(Op{Type: OpSet, Path: path, Key: key, Value: cloneValue(serializeValue(e.value)), Clock: e.clock})
		} else {
			doc.captureInverse(Op{Type: OpDelete, Path: path, Key: key})
		}
	}
	m.storeEntry(key, value, clock)
	if doc != nil {
		doc.emit(Op{Type: OpSet, Path: m.Path(), Key: key, Value: serializeValue(value), Clock: clock})
	}
	notifyMutation(m)
}

// Delete tombstones key as a local mutation. Absent or already-deleted
// keys are a no-op.
func (m *LiveMap) Delete(key string) {
	e, ok := m.entries[key]
	if !ok || e.deleted {
		return
	}
	doc := m.nb.doc
	var clock uint64
	if doc != nil {
		clock = doc.clock.Tick()
		doc.captureInverse(Op{Type: OpSet, Path: m.Path(), Key: key, Value: cloneValue(serializeValue(e.value)), Clock: e.clock})
	}
	e.value = nil
	e.clock = clock
	e.deleted = true
	m.liveCount--
	if doc != nil {
		doc.emit(Op{Type: OpDelete, Path: m.Path(), Key: key, Clock: clock})
	}
	notifyMutation(m)
}

// Compact drops tombstoned entries. After compaction a stale remote
// write to a compacted key will be accepted; callers compact only when
// all replicas are known to have converged.
func (m *LiveMap) Compact() {
	for k, e := range m.entries {
		if e.deleted {
			delete(m.entries, k)
		}
	}
}

// applySet applies a remote set op under the clock guard.
func (m *LiveMap) applySet(op Op) bool {
	if e, ok := m.entries[op.Key]; ok && op.Clock <= e.clock {
		return false
	}
	m.storeEntry(op.Key, deserializeValue(op.Value), op.Clock)
	notifyMutation(m)
	return true
}

// applyDelete applies a remote delete op under the clock guard.
func (m *LiveMap) applyDelete(op Op) bool {
	e, ok := m.entries[op.Key]
	if ok && op.Clock <= e.clock {
		return false
	}
	if !ok {
		e = &mapEntry{deleted: true}
		m.entries[op.Key] = e
	}
	if !e.deleted {
		m.liveCount--
	}
	e.value = nil
	e.clock = op.Clock
	e.deleted = true
	notifyMutation(m)
	return true
}

func (m *LiveMap) storeEntry(key string, value any, clock uint64) {
	e, ok := m.entries[key]
	if !ok {
		e = &mapEntry{deleted: true}
		m.entries[key] = e
	}
	if e.deleted {
		m.liveCount++
	}
	e.value = value
	e.clock = clock
	e.deleted = false
	if child, ok := value.(Node); ok {
		attachNode(child, m.nb.doc, m, key)
	}
}

// Serialize emits the tagged snapshot form. Tombstones are omitted.
func (m *LiveMap) Serialize() *SerializedNode {
	var data map[string]any
	for k, e := range m.entries {
		if e.deleted {
			continue
		}
		if data == nil {
			data = make(map[string]any)
		}
		data[k] = serializeValue(e.value)
	}
	return &SerializedNode{Type: NodeTypeMap, Data: data}
}

func (m *LiveMap) childNode(key string) (Node, bool) {
	e, ok := m.entries[key]
	if !ok || e.deleted {
		return nil, false
	}
	n, ok := e.value.(Node)
	return n, ok
}
