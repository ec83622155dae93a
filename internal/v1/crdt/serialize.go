package crdt

// SerializedNode is the tagged snapshot form of a CRDT node. The same
// shape travels in storage:init frames, in op values carrying CRDT
// sub-trees, and through the persistence hooks. Snapshots carry only
// live data; clocks and tombstones are convergence metadata and are not
// serialized.
type SerializedNode struct {
	Type  NodeType             `json:"type"`
	Data  map[string]any       `json:"data,omitempty"`
	Items []SerializedListItem `json:"items,omitempty"`
}

// SerializedListItem is one live list element in snapshot form.
type SerializedListItem struct {
	ID       string `json:"id"`
	Position string `json:"position"`
	Value    any    `json:"value"`
}

// DeserializeNode rebuilds a detached node tree from a snapshot value.
// It accepts both *SerializedNode (programmatic use) and the
// map[string]any shape produced by decoding snapshot JSON. The second
// return is false when v does not look like a serialized node.
func DeserializeNode(v any) (Node, bool) {
	sn, ok := coerceSerialized(v)
	if !ok {
		return nil, false
	}
	switch sn.Type {
	case NodeTypeObject:
		o := NewObject()
		for k, fv := range sn.Data {
			o.storeField(k, deserializeValue(fv), 0)
		}
		return o, true
	case NodeTypeMap:
		m := NewMap()
		for k, ev := range sn.Data {
			m.storeEntry(k, deserializeValue(ev), 0)
		}
		return m, true
	case NodeTypeList:
		l := NewList()
		for _, item := range sn.Items {
			if item.ID == "" || validateKey(item.Position) != nil {
				continue
			}
			if _, dup := l.index[item.ID]; dup {
				continue
			}
			l.insertItem(&listItem{id: item.ID, position: item.Position, value: deserializeValue(item.Value)})
		}
		return l, true
	default:
		return nil, false
	}
}

// deserializeValue turns a wire value into its stored form: serialized
// sub-trees become detached nodes, everything else passes through.
func deserializeValue(v any) any {
	if n, ok := DeserializeNode(v); ok {
		return n
	}
	return v
}

// coerceSerialized normalizes the two accepted snapshot encodings into
// a SerializedNode.
func coerceSerialized(v any) (*SerializedNode, bool) {
	switch t := v.(type) {
	case *SerializedNode:
		if t == nil {
			return nil, false
		}
		return t, true
	case map[string]any:
		typeStr, ok := t["type"].(string)
		if !ok {
			return nil, false
		}
		nt := NodeType(typeStr)
		if nt != NodeTypeObject && nt != NodeTypeMap && nt != NodeTypeList {
			return nil, false
		}
		sn := &SerializedNode{Type: nt}
		if data, ok := t["data"].(map[string]any); ok {
			sn.Data = data
		}
		if rawItems, ok := t["items"].([]any); ok {
			for _, ri := range rawItems {
				im, ok := ri.(map[string]any)
				if !ok {
					continue
				}
				id, _ := im["id"].(string)
				pos, _ := im["position"].(string)
				sn.Items = append(sn.Items, SerializedListItem{ID: id, Position: pos, Value: im["value"]})
			}
		}
		return sn, true
	default:
		return nil, false
	}
}
