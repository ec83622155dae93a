package crdt

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// listItem is one element of a LiveList. Items are totally ordered by
// (position, id); deleted items are tombstones kept for the clock guard
// on late moves and deletes.
type listItem struct {
	id       string
	position string
	value    any
	clock    uint64
	deleted  bool
}

// LiveList is an ordered sequence whose item positions are fractional
// index strings, so concurrent inserts never renumber peers. Public
// indexes address live items only; tombstones are invisible.
type LiveList struct {
	nb        nodeBase
	items     []*listItem
	index     map[string]*listItem
	liveCount int
}

// NewList returns a detached, empty LiveList.
func NewList() *LiveList {
	return &LiveList{index: make(map[string]*listItem)}
}

// NewListFrom returns a detached LiveList seeded with values in order.
func NewListFrom(values []any) *LiveList {
	l := NewList()
	positions, err := NKeysBetween("", "", len(values))
	if err != nil {
		// Only reachable with negative length; NKeysBetween on open
		// bounds cannot fail otherwise.
		return l
	}
	for i, v := range values {
		l.insertItem(&listItem{id: uuid.NewString(), position: positions[i], value: v})
	}
	return l
}

func (l *LiveList) base() *nodeBase { return &l.nb }

func (l *LiveList) Type() NodeType { return NodeTypeList }

// Path returns the sequence of keys/ids by which the root reaches this
// list.
func (l *LiveList) Path() []string { return l.nb.path() }

// Length returns the number of live items.
func (l *LiveList) Length() int { return l.liveCount }

// Get returns the live item value at index i.
func (l *LiveList) Get(i int) (any, bool) {
	item := l.liveAt(i)
	if item == nil {
		return nil, false
	}
	return item.value, true
}

// ToSlice returns the live values in order.
func (l *LiveList) ToSlice() []any {
	out := make([]any, 0, l.liveCount)
	for _, item := range l.items {
		if !item.deleted {
			out = append(out, item.value)
		}
	}
	return out
}

// Push appends value at the end of the list.
func (l *LiveList) Push(value any) error {
	return l.Insert(l.liveCount, value)
}

// Insert places value at live index i (0 <= i <= Length) as a local
// mutation. The position is generated between the live neighbors.
func (l *LiveList) Insert(i int, value any) error {
	if i < 0 || i > l.liveCount {
		return fmt.Errorf("crdt: list insert index %d out of range [0,%d]", i, l.liveCount)
	}
	left, right := l.neighborPositions(i, nil)
	pos, err := KeyBetween(left, right)
	if err != nil {
		return err
	}
	l.localInsert(uuid.NewString(), pos, value)
	return nil
}

// Delete tombstones the live item at index i as a local mutation.
func (l *LiveList) Delete(i int) error {
	item := l.liveAt(i)
	if item == nil {
		return fmt.Errorf("crdt: list delete index %d out of range [0,%d)", i, l.liveCount)
	}
	l.localDelete(item)
	return nil
}

// Move repositions the live item at index from to live index to, as a
// local mutation. Indexes are interpreted against the pre-move list.
func (l *LiveList) Move(from, to int) error {
	item := l.liveAt(from)
	if item == nil {
		return fmt.Errorf("crdt: list move source %d out of range [0,%d)", from, l.liveCount)
	}
	if to < 0 || to >= l.liveCount {
		return fmt.Errorf("crdt: list move target %d out of range [0,%d)", to, l.liveCount)
	}
	if from == to {
		return nil
	}
	// Neighbors are computed with the moved item excluded; a move past
	// itself targets the gap after the occupant of the target index.
	anchor := to
	if to > from {
		anchor = to + 1
	}
	left, right := l.neighborPositions(anchor, item)
	pos, err := KeyBetween(left, right)
	if err != nil {
		return err
	}
	l.localMove(item, pos)
	return nil
}

// --- local mutations ---

func (l *LiveList) localInsert(id, pos string, value any) {
	doc := l.nb.doc
	var clock uint64
	if doc != nil {
		clock = doc.clock.Tick()
		doc.captureInverse(Op{Type: OpListDelete, Path: l.Path(), ID: id})
	}
	l.insertItem(&listItem{id: id, position: pos, value: value, clock: clock})
	if doc != nil {
		doc.emit(Op{Type: OpListInsert, Path: l.Path(), ID: id, Position: pos, Value: serializeValue(value), Clock: clock})
	}
	notifyMutation(l)
}

func (l *LiveList) localDelete(item *listItem) {
	doc := l.nb.doc
	var clock uint64
	if doc != nil {
		clock = doc.clock.Tick()
		doc.captureInverse(Op{
			Type: OpListInsert, Path: l.Path(), ID: item.id,
			Position: item.position, Value: cloneValue(serializeValue(item.value)), Clock: item.clock,
		})
	}
	item.value = nil
	item.clock = clock
	item.deleted = true
	l.liveCount--
	if doc != nil {
		doc.emit(Op{Type: OpListDelete, Path: l.Path(), ID: item.id, Clock: clock})
	}
	notifyMutation(l)
}

func (l *LiveList) localMove(item *listItem, pos string) {
	doc := l.nb.doc
	var clock uint64
	if doc != nil {
		clock = doc.clock.Tick()
		doc.captureInverse(Op{Type: OpListMove, Path: l.Path(), ID: item.id, Position: item.position, Clock: item.clock})
	}
	l.reposition(item, pos)
	item.clock = clock
	if doc != nil {
		doc.emit(Op{Type: OpListMove, Path: l.Path(), ID: item.id, Position: pos, Clock: clock})
	}
	notifyMutation(l)
}

// --- remote application ---

// applyListInsert applies a remote insert. Inserts are idempotent on
// item id: a second insert for a known id (live or tombstoned) is a
// no-op.
func (l *LiveList) applyListInsert(op Op) bool {
	if _, ok := l.index[op.ID]; ok {
		return false
	}
	l.insertItem(&listItem{id: op.ID, position: op.Position, value: deserializeValue(op.Value), clock: op.Clock})
	notifyMutation(l)
	return true
}

// applyListDelete applies a remote delete under the clock guard.
func (l *LiveList) applyListDelete(op Op) bool {
	item, ok := l.index[op.ID]
	if !ok || op.Clock <= item.clock {
		return false
	}
	if !item.deleted {
		item.deleted = true
		item.value = nil
		l.liveCount--
	}
	item.clock = op.Clock
	notifyMutation(l)
	return true
}

// applyListMove applies a remote move under the clock guard.
func (l *LiveList) applyListMove(op Op) bool {
	item, ok := l.index[op.ID]
	if !ok || op.Clock <= item.clock {
		return false
	}
	l.reposition(item, op.Position)
	item.clock = op.Clock
	notifyMutation(l)
	return true
}

// --- restore hooks used by undo/redo ---

// restoreInsert re-inserts a tombstoned or unknown id at an explicit
// position as a local mutation. Used when undoing a delete.
func (l *LiveList) restoreInsert(id, pos string, value any) {
	if item, ok := l.index[id]; ok {
		if !item.deleted {
			return
		}
		doc := l.nb.doc
		var clock uint64
		if doc != nil {
			clock = doc.clock.Tick()
			doc.captureInverse(Op{Type: OpListDelete, Path: l.Path(), ID: id})
		}
		l.reposition(item, pos)
		item.value = value
		item.clock = clock
		item.deleted = false
		l.liveCount++
		if doc != nil {
			doc.emit(Op{Type: OpListInsert, Path: l.Path(), ID: id, Position: pos, Value: serializeValue(value), Clock: clock})
		}
		notifyMutation(l)
		return
	}
	l.localInsert(id, pos, value)
}

// restoreDelete tombstones an item by id as a local mutation. Used when
// undoing an insert.
func (l *LiveList) restoreDelete(id string) {
	item, ok := l.index[id]
	if !ok || item.deleted {
		return
	}
	l.localDelete(item)
}

// restoreMove repositions an item by id as a local mutation. Used when
// undoing a move.
func (l *LiveList) restoreMove(id, pos string) {
	item, ok := l.index[id]
	if !ok || item.deleted {
		return
	}
	l.localMove(item, pos)
}

// --- internals ---

// liveAt returns the live item at live index i.
func (l *LiveList) liveAt(i int) *listItem {
	if i < 0 || i >= l.liveCount {
		return nil
	}
	n := 0
	for _, item := range l.items {
		if item.deleted {
			continue
		}
		if n == i {
			return item
		}
		n++
	}
	return nil
}

// neighborPositions returns the positions bounding live index i, with
// exclude (possibly nil) treated as absent.
func (l *LiveList) neighborPositions(i int, exclude *listItem) (left, right string) {
	n := 0
	for _, item := range l.items {
		if item.deleted || item == exclude {
			continue
		}
		if n == i {
			right = item.position
			return left, right
		}
		left = item.position
		n++
	}
	return left, ""
}

// insertItem places item at its sorted slot and indexes it.
func (l *LiveList) insertItem(item *listItem) {
	at := sort.Search(len(l.items), func(i int) bool {
		return !itemLess(l.items[i], item)
	})
	l.items = append(l.items, nil)
	copy(l.items[at+1:], l.items[at:])
	l.items[at] = item
	l.index[item.id] = item
	if !item.deleted {
		l.liveCount++
	}
	if child, ok := item.value.(Node); ok {
		attachNode(child, l.nb.doc, l, item.id)
	}
}

// reposition moves item to a new fractional position, restoring sort
// order.
func (l *LiveList) reposition(item *listItem, pos string) {
	for i, cur := range l.items {
		if cur == item {
			l.items = append(l.items[:i], l.items[i+1:]...)
			break
		}
	}
	item.position = pos
	at := sort.Search(len(l.items), func(i int) bool {
		return !itemLess(l.items[i], item)
	})
	l.items = append(l.items, nil)
	copy(l.items[at+1:], l.items[at:])
	l.items[at] = item
}

// itemLess orders items by (position, id); the id tiebreak makes
// concurrent inserts at identical positions deterministic.
func itemLess(a, b *listItem) bool {
	if a.position != b.position {
		return a.position < b.position
	}
	return a.id < b.id
}

// Serialize emits the tagged snapshot form. Tombstones are omitted.
func (l *LiveList) Serialize() *SerializedNode {
	items := make([]SerializedListItem, 0, l.liveCount)
	for _, item := range l.items {
		if item.deleted {
			continue
		}
		items = append(items, SerializedListItem{
			ID:       item.id,
			Position: item.position,
			Value:    serializeValue(item.value),
		})
	}
	return &SerializedNode{Type: NodeTypeList, Items: items}
}

func (l *LiveList) childNode(id string) (Node, bool) {
	item, ok := l.index[id]
	if !ok || item.deleted {
		return nil, false
	}
	n, ok := item.value.(Node)
	return n, ok
}
