package crdt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObject_SetGetDelete(t *testing.T) {
	doc := NewDocument()
	root := doc.Root()

	root.Set("title", "hello")
	v, ok := root.Get("title")
	require.True(t, ok)
	assert.Equal(t, "hello", v)

	root.Set("title", "world")
	v, _ = root.Get("title")
	assert.Equal(t, "world", v)

	root.Delete("title")
	_, ok = root.Get("title")
	assert.False(t, ok)

	// Deleting an absent field emits nothing.
	doc.DrainOps()
	root.Delete("missing")
	assert.Empty(t, doc.DrainOps())
}

func TestObject_KeysAndToMapSkipDeleted(t *testing.T) {
	doc := NewDocument()
	root := doc.Root()

	root.Set("b", 2)
	root.Set("a", 1)
	root.Set("c", 3)
	root.Delete("b")

	assert.Equal(t, []string{"a", "c"}, root.Keys())
	assert.Equal(t, map[string]any{"a": 1, "c": 3}, root.ToMap())
}

func TestObject_LocalMutationEmitsOps(t *testing.T) {
	doc := NewDocument()
	root := doc.Root()

	root.Set("x", 1)
	ops := doc.DrainOps()
	require.Len(t, ops, 1)
	assert.Equal(t, OpSet, ops[0].Type)
	assert.Equal(t, "x", ops[0].Key)
	assert.Equal(t, uint64(1), ops[0].Clock)

	root.Delete("x")
	ops = doc.DrainOps()
	require.Len(t, ops, 1)
	assert.Equal(t, OpDelete, ops[0].Type)
	assert.Equal(t, uint64(2), ops[0].Clock)
}

func TestObject_RemoteClockGuard(t *testing.T) {
	doc := NewDocument()
	root := doc.Root()

	applied := doc.ApplyExternal([]Op{{Type: OpSet, Key: "k", Value: "new", Clock: 5}})
	require.Len(t, applied, 1)

	// Equal clock loses: first writer wins at ties.
	applied = doc.ApplyExternal([]Op{{Type: OpSet, Key: "k", Value: "tie", Clock: 5}})
	assert.Empty(t, applied)

	// Lower clock loses.
	applied = doc.ApplyExternal([]Op{{Type: OpSet, Key: "k", Value: "stale", Clock: 3}})
	assert.Empty(t, applied)

	v, _ := root.Get("k")
	assert.Equal(t, "new", v)

	// Higher clock wins, including delete.
	applied = doc.ApplyExternal([]Op{{Type: OpDelete, Key: "k", Clock: 6}})
	require.Len(t, applied, 1)
	_, ok := root.Get("k")
	assert.False(t, ok)

	// The document clock merged past every accepted op.
	assert.GreaterOrEqual(t, doc.Clock(), uint64(6))
}

func TestObject_DeleteTombstoneStillGuards(t *testing.T) {
	doc := NewDocument()
	root := doc.Root()

	root.Set("k", "v") // clock 1
	root.Delete("k")   // clock 2

	// A remote write that lost the race with the delete must not revive
	// the field.
	applied := doc.ApplyExternal([]Op{{Type: OpSet, Key: "k", Value: "zombie", Clock: 1}})
	assert.Empty(t, applied)
	_, ok := root.Get("k")
	assert.False(t, ok)
}

func TestObject_NestedNodesAttachAndPath(t *testing.T) {
	doc := NewDocument()
	root := doc.Root()

	inner := NewObject()
	root.Set("child", inner)
	assert.Equal(t, []string{"child"}, inner.Path())

	// Mutations on the adopted node flow through the document.
	doc.DrainOps()
	inner.Set("leaf", true)
	ops := doc.DrainOps()
	require.Len(t, ops, 1)
	assert.Equal(t, []string{"child"}, ops[0].Path)
}
