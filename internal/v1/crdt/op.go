package crdt

// OpType discriminates the five storage op kinds on the wire.
type OpType string

const (
	OpSet        OpType = "set"
	OpDelete     OpType = "delete"
	OpListInsert OpType = "listInsert"
	OpListDelete OpType = "listDelete"
	OpListMove   OpType = "listMove"
)

// Op is a single storage operation in wire form. Path addresses the
// target node from the root by object/map keys and list item ids. For
// CRDT-valued assignments Value carries the serialized sub-tree;
// primitives are transported as-is.
type Op struct {
	Type     OpType   `json:"type"`
	Path     []string `json:"path"`
	Key      string   `json:"key,omitempty"`
	ID       string   `json:"id,omitempty"`
	Position string   `json:"position,omitempty"`
	Value    any      `json:"value,omitempty"`
	Clock    uint64   `json:"clock"`
}

// DecodeOp converts one decoded-JSON op value into an Op. Returns
// false for anything that is not an object with the expected field
// types; Valid is not implied and must still be checked by the caller.
func DecodeOp(v any) (Op, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return Op{}, false
	}
	typ, ok := m["type"].(string)
	if !ok {
		return Op{}, false
	}
	op := Op{Type: OpType(typ)}
	if rawPath, ok := m["path"].([]any); ok {
		op.Path = make([]string, 0, len(rawPath))
		for _, seg := range rawPath {
			s, ok := seg.(string)
			if !ok {
				return Op{}, false
			}
			op.Path = append(op.Path, s)
		}
	}
	op.Key, _ = m["key"].(string)
	op.ID, _ = m["id"].(string)
	op.Position, _ = m["position"].(string)
	op.Value = m["value"]
	if c, ok := m["clock"].(float64); ok && c >= 0 {
		op.Clock = uint64(c)
	}
	return op, true
}

// Valid performs the structural checks that gate dispatch: a recognized
// type and the fields that type requires. Path may be empty (the root).
func (op Op) Valid() bool {
	switch op.Type {
	case OpSet:
		return op.Key != ""
	case OpDelete:
		return op.Key != ""
	case OpListInsert:
		return op.ID != "" && op.Position != ""
	case OpListDelete:
		return op.ID != ""
	case OpListMove:
		return op.ID != "" && op.Position != ""
	default:
		return false
	}
}
