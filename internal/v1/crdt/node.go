package crdt

// NodeType tags the three CRDT primitives in serialized form.
type NodeType string

const (
	NodeTypeObject NodeType = "LiveObject"
	NodeTypeMap    NodeType = "LiveMap"
	NodeTypeList   NodeType = "LiveList"
)

// Node is the common surface of LiveObject, LiveMap and LiveList. Nodes
// nest anywhere a value is expected; a node written into an attached
// tree becomes live (its mutations produce ops) and its whole subtree is
// re-parented.
type Node interface {
	Type() NodeType
	Serialize() *SerializedNode
	Path() []string

	// base exposes shared bookkeeping; implementing it here seals the
	// interface to this package's three primitives.
	base() *nodeBase
}

// SubscribeCallback receives the node that was directly mutated.
// Callbacks may mutate the document; the subscriber set is snapshotted
// before iteration so re-entrant changes are safe.
type SubscribeCallback func(mutated Node)

// nodeBase carries the parent back-reference, document attachment, and
// subscriber sets shared by all three primitives.
type nodeBase struct {
	doc       *Document
	parent    Node
	parentKey string // key (object/map) or item id (list) under parent

	nextSubID int
	shallow   map[int]SubscribeCallback
	deep      map[int]SubscribeCallback
}

func (nb *nodeBase) attached() bool {
	return nb.doc != nil
}

// path walks parent references up to the root.
func (nb *nodeBase) path() []string {
	if nb.parent == nil {
		return []string{}
	}
	parentPath := nb.parent.base().path()
	return append(parentPath, nb.parentKey)
}

// subscribe registers cb against this node and returns an unsubscribe
// function. Deep subscribers also fire for mutations anywhere beneath
// the node.
func (nb *nodeBase) subscribe(cb SubscribeCallback, deep bool) func() {
	target := &nb.shallow
	if deep {
		target = &nb.deep
	}
	if *target == nil {
		*target = make(map[int]SubscribeCallback)
	}
	id := nb.nextSubID
	nb.nextSubID++
	(*target)[id] = cb
	return func() {
		delete(*target, id)
	}
}

// notifyMutation fires subscribers for a mutation at node n: first n's
// shallow subscribers, then deep subscribers on n and every ancestor.
// Shallow subscribers on ancestors do not fire for nested changes.
func notifyMutation(n Node) {
	fire(n.base().shallow, n)
	for cur := n; cur != nil; {
		fire(cur.base().deep, n)
		cur = cur.base().parent
	}
}

// fire invokes a snapshot of the subscriber set so callbacks may
// subscribe, unsubscribe, or mutate the document without corrupting the
// iteration.
func fire(subs map[int]SubscribeCallback, mutated Node) {
	if len(subs) == 0 {
		return
	}
	snapshot := make([]SubscribeCallback, 0, len(subs))
	for _, cb := range subs {
		snapshot = append(snapshot, cb)
	}
	for _, cb := range snapshot {
		cb(mutated)
	}
}

// attachNode wires a node (and its entire subtree) into doc under the
// given parent and key. Re-attaching an already-attached node simply
// re-parents it; the node's path is derived from the new position.
func attachNode(n Node, doc *Document, parent Node, key string) {
	nb := n.base()
	nb.doc = doc
	nb.parent = parent
	nb.parentKey = key

	switch v := n.(type) {
	case *LiveObject:
		for fieldKey, f := range v.fields {
			if child, ok := f.value.(Node); ok {
				attachNode(child, doc, v, fieldKey)
			}
		}
	case *LiveMap:
		for entryKey, e := range v.entries {
			if child, ok := e.value.(Node); ok {
				attachNode(child, doc, v, entryKey)
			}
		}
	case *LiveList:
		for _, item := range v.items {
			if child, ok := item.value.(Node); ok {
				attachNode(child, doc, v, item.id)
			}
		}
	}
}

// serializeValue converts a stored value into its wire form: nodes
// become serialized sub-trees, primitives pass through.
func serializeValue(v any) any {
	if n, ok := v.(Node); ok {
		return n.Serialize()
	}
	return v
}

// cloneValue deep-copies a primitive JSON value so history snapshots are
// insulated from later in-place edits of maps and slices. Nodes are not
// cloned; inverse ops carry their serialized form instead.
func cloneValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, e := range tv {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(tv))
		for i, e := range tv {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
