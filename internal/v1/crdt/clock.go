// Package crdt implements the storage engine: a nestable tree of three
// CRDT primitives (LiveObject, LiveMap, LiveList) driven by a Lamport
// clock, with op-based synchronization, snapshot serialization, inverse
// ops for undo/redo, and deep subscription notification.
package crdt

// Clock is a scalar Lamport clock. Tick on every local mutation; Merge
// raises the local value past a remote op's clock.
//
// Access is serialized by the owning Document (the room layer holds a
// per-room lock around every document operation), so Clock itself does
// not lock. No two locally generated ops can share a clock value because
// Tick is only called under that serialization.
type Clock struct {
	value uint64
}

// Tick advances the clock for a local event and returns the new value.
func (c *Clock) Tick() uint64 {
	c.value++
	return c.value
}

// Merge raises the clock to the remote value if the remote is ahead.
func (c *Clock) Merge(remote uint64) {
	if remote > c.value {
		c.value = remote
	}
}

// Current returns the clock without advancing it.
func (c *Clock) Current() uint64 {
	return c.value
}

// Reset clears the clock. Used when deserializing a fresh document.
func (c *Clock) Reset() {
	c.value = 0
}
