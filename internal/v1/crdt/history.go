package crdt

// DefaultMaxHistoryEntries bounds the undo stack; oldest entries are
// dropped beyond it.
const DefaultMaxHistoryEntries = 100

// HistoryEntry is one undo/redo unit: the inverse ops captured for a
// single mutation or an explicit batch, in capture order. Undo applies
// them in reverse.
type HistoryEntry []Op

// captureTarget selects which stack a captured inverse lands on.
type captureTarget int

const (
	captureToUndo captureTarget = iota
	captureToRedo
	captureToUndoKeepRedo // redo-in-progress: forward ops return to undo without clearing redo
)

// History tracks inverse-op batches for undo/redo. It is driven by the
// owning Document: every local mutation captures its inverse here unless
// capture is paused (server-originated mutations never populate the
// stacks).
type History struct {
	undoStack []HistoryEntry
	redoStack []HistoryEntry

	maxEntries int
	batchDepth int
	batch      HistoryEntry
	pauseDepth int
	target     captureTarget

	nextSubID int
	onChange  map[int]func()
}

// NewHistory returns a history manager with the given stack bound;
// maxEntries <= 0 selects DefaultMaxHistoryEntries.
func NewHistory(maxEntries int) *History {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxHistoryEntries
	}
	return &History{maxEntries: maxEntries}
}

// CanUndo reports whether an undo entry is available.
func (h *History) CanUndo() bool { return len(h.undoStack) > 0 }

// CanRedo reports whether a redo entry is available.
func (h *History) CanRedo() bool { return len(h.redoStack) > 0 }

// StartBatch opens a batch; captures until EndBatch group into a single
// stack entry. Nested batches flatten into the outermost one.
func (h *History) StartBatch() {
	h.batchDepth++
}

// EndBatch closes the innermost batch. Closing the outermost batch
// pushes the grouped entry.
func (h *History) EndBatch() {
	if h.batchDepth == 0 {
		return
	}
	h.batchDepth--
	if h.batchDepth > 0 {
		return
	}
	if len(h.batch) > 0 {
		h.push(h.batch)
		h.batch = nil
	}
}

// Pause disables capture entirely until Resume. Pause/Resume nest.
func (h *History) Pause() {
	h.pauseDepth++
}

// Resume re-enables capture.
func (h *History) Resume() {
	if h.pauseDepth > 0 {
		h.pauseDepth--
	}
}

// Paused reports whether capture is currently disabled.
func (h *History) Paused() bool { return h.pauseDepth > 0 }

// Subscribe registers fn to run after every undo/redo stack change and
// returns an unsubscribe function.
func (h *History) Subscribe(fn func()) func() {
	if h.onChange == nil {
		h.onChange = make(map[int]func())
	}
	id := h.nextSubID
	h.nextSubID++
	h.onChange[id] = fn
	return func() { delete(h.onChange, id) }
}

// Clear drops both stacks and any open batch.
func (h *History) Clear() {
	changed := len(h.undoStack) > 0 || len(h.redoStack) > 0
	h.undoStack = nil
	h.redoStack = nil
	h.batch = nil
	h.batchDepth = 0
	if changed {
		h.notify()
	}
}

// capture records one inverse op. No-op while paused.
func (h *History) capture(op Op) {
	if h.pauseDepth > 0 {
		return
	}
	if h.batchDepth > 0 {
		h.batch = append(h.batch, op)
		return
	}
	h.push(HistoryEntry{op})
}

// push appends an entry to the stack selected by the capture target.
// A fresh user mutation clears the redo stack; captures generated while
// replaying undo/redo route to the opposite stack instead.
func (h *History) push(entry HistoryEntry) {
	switch h.target {
	case captureToRedo:
		h.redoStack = append(h.redoStack, entry)
	case captureToUndoKeepRedo:
		h.undoStack = h.appendBounded(h.undoStack, entry)
	default:
		h.redoStack = nil
		h.undoStack = h.appendBounded(h.undoStack, entry)
	}
	h.notify()
}

func (h *History) appendBounded(stack []HistoryEntry, entry HistoryEntry) []HistoryEntry {
	stack = append(stack, entry)
	if len(stack) > h.maxEntries {
		stack = stack[len(stack)-h.maxEntries:]
	}
	return stack
}

// popUndo removes and returns the newest undo entry.
func (h *History) popUndo() (HistoryEntry, bool) {
	if len(h.undoStack) == 0 {
		return nil, false
	}
	entry := h.undoStack[len(h.undoStack)-1]
	h.undoStack = h.undoStack[:len(h.undoStack)-1]
	h.notify()
	return entry, true
}

// popRedo removes and returns the newest redo entry.
func (h *History) popRedo() (HistoryEntry, bool) {
	if len(h.redoStack) == 0 {
		return nil, false
	}
	entry := h.redoStack[len(h.redoStack)-1]
	h.redoStack = h.redoStack[:len(h.redoStack)-1]
	h.notify()
	return entry, true
}

func (h *History) notify() {
	if len(h.onChange) == 0 {
		return
	}
	snapshot := make([]func(), 0, len(h.onChange))
	for _, fn := range h.onChange {
		snapshot = append(snapshot, fn)
	}
	for _, fn := range snapshot {
		fn()
	}
}
