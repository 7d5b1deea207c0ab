package group

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeConn struct{ id string }

func (f *fakeConn) ID() string { return f.id }

func TestRegistryCaseInsensitiveGroupNames(t *testing.T) {
	r := NewRegistry()
	c := &fakeConn{id: "A"}
	r.Add(c, "Chat")

	members := r.Lookup("chat")
	assert.Len(t, members, 1)
	assert.Equal(t, "A", members[0].ID())
}

func TestRegistryAddTwiceIsIndistinguishableFromOnce(t *testing.T) {
	r := NewRegistry()
	c := &fakeConn{id: "A"}
	r.Add(c, "g")
	r.Add(c, "g")

	assert.Len(t, r.Lookup("g"), 1)
}

func TestRegistryRemoveDisconnectedClearsAllGroups(t *testing.T) {
	r := NewRegistry()
	c := &fakeConn{id: "A"}
	r.Add(c, "g1")
	r.Add(c, "g2")

	r.RemoveDisconnected("A")

	assert.Empty(t, r.Lookup("g1"))
	assert.Empty(t, r.Lookup("g2"))
}

func TestRegistryRemoveEmptiesBucket(t *testing.T) {
	r := NewRegistry()
	c := &fakeConn{id: "A"}
	r.Add(c, "g")
	r.Remove("A", "g")

	assert.Empty(t, r.Lookup("g"))
}

func TestBucketSubscribesOnlyOnFirstJoin(t *testing.T) {
	subscribes, unsubscribes := 0, 0
	b := NewBucket(
		func() error { subscribes++; return nil },
		func() { unsubscribes++ },
	)

	a := &fakeConn{id: "A"}
	c := &fakeConn{id: "B"}
	_ = b.Add(a)
	_ = b.Add(c)

	assert.Equal(t, 1, subscribes)
	assert.Equal(t, 0, unsubscribes)

	b.Remove("A")
	assert.Equal(t, 0, unsubscribes)

	b.Remove("B")
	assert.Equal(t, 1, unsubscribes)
	assert.True(t, b.Empty())
}

func TestBucketsGetOrCreateIsIdempotent(t *testing.T) {
	bs := NewBuckets()
	created := 0
	factory := func() *Bucket {
		created++
		return NewBucket(nil, nil)
	}

	b1 := bs.GetOrCreate("G", factory)
	b2 := bs.GetOrCreate("g", factory)

	assert.Same(t, b1, b2)
	assert.Equal(t, 1, created)
}
