// Package livestate implements the per-room last-writer-wins key/value
// overlay: ephemeral shared state that is cheaper than CRDT storage and
// carries no history.
package livestate

import (
	"github.com/liveroom/liveroom/internal/v1/types"
)

// Store holds one room's live-state entries. Access is serialized by
// the owning room's lock, matching the document and presence cache.
type Store struct {
	entries map[string]types.LiveStateEntry
}

// NewStore returns an empty live-state store.
func NewStore() *Store {
	return &Store{entries: make(map[string]types.LiveStateEntry)}
}

// Set applies a write with last-writer-wins semantics. Writes older
// than the stored timestamp are rejected. When merge is set and both
// the stored and incoming values are non-nil JSON objects, the incoming
// fields are shallow-merged onto the stored object before storing.
// Returns the stored entry and whether the write was accepted.
func (s *Store) Set(key string, value any, timestamp int64, userID types.UserIDType, merge bool) (types.LiveStateEntry, bool) {
	prev, exists := s.entries[key]
	if exists && timestamp < prev.Timestamp {
		return prev, false
	}

	if merge {
		prevObj, prevOK := prev.Value.(map[string]any)
		nextObj, nextOK := value.(map[string]any)
		if exists && prevOK && nextOK {
			merged := make(map[string]any, len(prevObj)+len(nextObj))
			for k, v := range prevObj {
				merged[k] = v
			}
			for k, v := range nextObj {
				merged[k] = v
			}
			value = merged
		}
	}

	entry := types.LiveStateEntry{Value: value, Timestamp: timestamp, UserID: userID}
	s.entries[key] = entry
	return entry, true
}

// Get returns the entry for key.
func (s *Store) Get(key string) (types.LiveStateEntry, bool) {
	e, ok := s.entries[key]
	return e, ok
}

// Len returns the number of stored keys.
func (s *Store) Len() int { return len(s.entries) }

// Snapshot returns a copy of the full state map, as sent in state:init.
func (s *Store) Snapshot() map[string]types.LiveStateEntry {
	out := make(map[string]types.LiveStateEntry, len(s.entries))
	for k, e := range s.entries {
		out[k] = e
	}
	return out
}
