package connection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct{ id string }

func (f *fakeConn) ID() string { return f.id }

func TestRegistryAddLookupRemove(t *testing.T) {
	r := NewRegistry()
	a := &fakeConn{id: "A"}
	r.Add(a)

	require.Equal(t, 1, r.Count())
	assert.Same(t, Conn(a), r.Lookup("A"))

	r.Remove(a)
	assert.Equal(t, 0, r.Count())
	assert.Nil(t, r.Lookup("A"))
}

func TestRegistryReAddIsIdempotentOnSameObject(t *testing.T) {
	r := NewRegistry()
	a := &fakeConn{id: "A"}
	r.Add(a)
	r.Add(a)
	assert.Equal(t, 1, r.Count())
}

func TestRegistryDuplicateIDReplaces(t *testing.T) {
	r := NewRegistry()
	a1 := &fakeConn{id: "A"}
	a2 := &fakeConn{id: "A"}
	r.Add(a1)
	r.Add(a2)

	require.Equal(t, 1, r.Count())
	assert.Same(t, Conn(a2), r.Lookup("A"))
}

func TestRegistryStaleRemoveIsNoop(t *testing.T) {
	r := NewRegistry()
	a1 := &fakeConn{id: "A"}
	a2 := &fakeConn{id: "A"}
	r.Add(a1)
	r.Add(a2) // a2 now owns id "A"

	r.Remove(a1) // stale handle, must not evict a2
	assert.Equal(t, 1, r.Count())
	assert.Same(t, Conn(a2), r.Lookup("A"))
}

func TestRegistrySnapshotIsStable(t *testing.T) {
	r := NewRegistry()
	r.Add(&fakeConn{id: "A"})
	r.Add(&fakeConn{id: "B"})

	snap := r.Snapshot()
	r.Add(&fakeConn{id: "C"})

	assert.Len(t, snap, 2)
	assert.Equal(t, 3, r.Count())
}
