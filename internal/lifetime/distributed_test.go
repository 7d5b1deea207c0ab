package lifetime

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adred-codev/hublifetime/internal/bus/memorybus"
)

const testAckTimeout = 50 * time.Millisecond

func newTestDistributed(t *testing.T, broker *memorybus.Broker, serverID string) *Distributed {
	t.Helper()
	adapter := memorybus.NewAdapter(broker)
	d, err := NewDistributed("testhub", serverID, adapter, testAckTimeout, zerolog.Nop(), nil)
	require.NoError(t, err)
	return d
}

// waitFor polls until cond returns true or the deadline passes, for
// assertions on delivery that crosses a goroutine boundary (bus
// handlers run on their own goroutine).
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.True(t, cond(), "condition never became true")
}

func TestDistributedInvokeAllReachesLocalConnections(t *testing.T) {
	broker := memorybus.NewBroker()
	s1 := newTestDistributed(t, broker, "s1")

	a := newFakeConn("A", "")
	require.NoError(t, s1.OnConnected(context.Background(), a))

	require.NoError(t, s1.InvokeAll(context.Background(), "notify", []interface{}{"hi"}))
	waitFor(t, func() bool { return a.writeCount() == 1 })
}

func TestDistributedInvokeAllReachesConnectionsOnOtherServers(t *testing.T) {
	broker := memorybus.NewBroker()
	s1 := newTestDistributed(t, broker, "s1")
	s2 := newTestDistributed(t, broker, "s2")

	a := newFakeConn("A", "")
	b := newFakeConn("B", "")
	require.NoError(t, s1.OnConnected(context.Background(), a))
	require.NoError(t, s2.OnConnected(context.Background(), b))

	require.NoError(t, s1.InvokeAll(context.Background(), "notify", nil))

	waitFor(t, func() bool { return a.writeCount() == 1 })
	waitFor(t, func() bool { return b.writeCount() == 1 })
}

func TestDistributedInvokeAllExceptSkipsExcludedConnectionEverywhere(t *testing.T) {
	broker := memorybus.NewBroker()
	s1 := newTestDistributed(t, broker, "s1")
	s2 := newTestDistributed(t, broker, "s2")

	a := newFakeConn("A", "")
	b := newFakeConn("B", "")
	require.NoError(t, s1.OnConnected(context.Background(), a))
	require.NoError(t, s2.OnConnected(context.Background(), b))

	require.NoError(t, s1.InvokeAllExcept(context.Background(), "notify", nil, []string{"A"}))

	waitFor(t, func() bool { return b.writeCount() == 1 })
	assert.Equal(t, 0, a.writeCount())
}

func TestDistributedInvokeConnectionShortCircuitsWhenLocal(t *testing.T) {
	broker := memorybus.NewBroker()
	s1 := newTestDistributed(t, broker, "s1")

	a := newFakeConn("A", "")
	require.NoError(t, s1.OnConnected(context.Background(), a))

	require.NoError(t, s1.InvokeConnection(context.Background(), "A", "notify", nil))
	assert.Equal(t, 1, a.writeCount())
}

func TestDistributedInvokeConnectionRoutesOverBusWhenRemote(t *testing.T) {
	broker := memorybus.NewBroker()
	s1 := newTestDistributed(t, broker, "s1")
	s2 := newTestDistributed(t, broker, "s2")

	b := newFakeConn("B", "")
	require.NoError(t, s2.OnConnected(context.Background(), b))

	require.NoError(t, s1.InvokeConnection(context.Background(), "B", "notify", nil))
	waitFor(t, func() bool { return b.writeCount() == 1 })
}

func TestDistributedInvokeUserReachesConnectionsAcrossServers(t *testing.T) {
	broker := memorybus.NewBroker()
	s1 := newTestDistributed(t, broker, "s1")
	s2 := newTestDistributed(t, broker, "s2")

	a := newFakeConn("A", "user-1")
	b := newFakeConn("B", "user-1")
	c := newFakeConn("C", "user-2")
	require.NoError(t, s1.OnConnected(context.Background(), a))
	require.NoError(t, s2.OnConnected(context.Background(), b))
	require.NoError(t, s2.OnConnected(context.Background(), c))

	require.NoError(t, s1.InvokeUser(context.Background(), "user-1", "notify", nil))

	waitFor(t, func() bool { return a.writeCount() == 1 })
	waitFor(t, func() bool { return b.writeCount() == 1 })
	assert.Equal(t, 0, c.writeCount())
}

func TestDistributedAddGroupAcrossServersAcksAndRoutesInvocation(t *testing.T) {
	broker := memorybus.NewBroker()
	s1 := newTestDistributed(t, broker, "s1")
	s2 := newTestDistributed(t, broker, "s2")

	b := newFakeConn("B", "")
	require.NoError(t, s2.OnConnected(context.Background(), b))

	// B is hosted on s2; s1 issues the membership change and blocks
	// until s2's ack arrives, which should be well inside the timeout.
	require.NoError(t, s1.AddGroup(context.Background(), "B", "room1"))

	bucket, ok := s2.buckets.Get("room1")
	require.True(t, ok)
	assert.False(t, bucket.Empty())

	require.NoError(t, s1.InvokeGroup(context.Background(), "room1", "notify", nil))
	waitFor(t, func() bool { return b.writeCount() == 1 })
}

func TestDistributedRemoveGroupAcrossServersStopsFurtherDelivery(t *testing.T) {
	broker := memorybus.NewBroker()
	s1 := newTestDistributed(t, broker, "s1")
	s2 := newTestDistributed(t, broker, "s2")

	b := newFakeConn("B", "")
	require.NoError(t, s2.OnConnected(context.Background(), b))
	require.NoError(t, s1.AddGroup(context.Background(), "B", "room1"))
	bucket, ok := s2.buckets.Get("room1")
	require.True(t, ok)
	require.False(t, bucket.Empty())

	require.NoError(t, s1.RemoveGroup(context.Background(), "B", "room1"))
	bucket, ok = s2.buckets.Get("room1")
	require.True(t, ok)
	require.True(t, bucket.Empty())

	require.NoError(t, s1.InvokeGroup(context.Background(), "room1", "notify", nil))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, b.writeCount())
}

// TestDistributedGroupMutationTimesOutSuccessfullyForUnknownConnection
// exercises the deliberate design decision that an ack timeout still
// reports success to the caller: nobody hosts "ghost", so no ack will
// ever arrive, and AddGroup must block for the full ack timeout before
// returning nil rather than surfacing an error or returning early.
func TestDistributedGroupMutationTimesOutSuccessfullyForUnknownConnection(t *testing.T) {
	broker := memorybus.NewBroker()
	s1 := newTestDistributed(t, broker, "s1")
	_ = newTestDistributed(t, broker, "s2")

	start := time.Now()
	err := s1.AddGroup(context.Background(), "ghost", "room1")
	elapsed := time.Since(start)

	assert.NoError(t, err)
	assert.GreaterOrEqual(t, elapsed, testAckTimeout)
}

func TestDistributedOnDisconnectedRemovesFromGroupAndUnsubscribes(t *testing.T) {
	broker := memorybus.NewBroker()
	s1 := newTestDistributed(t, broker, "s1")

	a := newFakeConn("A", "")
	require.NoError(t, s1.OnConnected(context.Background(), a))
	require.NoError(t, s1.AddGroup(context.Background(), "A", "room1"))
	require.NoError(t, s1.OnDisconnected(context.Background(), a))

	require.NoError(t, s1.InvokeGroup(context.Background(), "room1", "notify", nil))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, a.writeCount())

	bucket, ok := s1.buckets.Get("room1")
	if ok {
		assert.True(t, bucket.Empty())
	}
}

func TestDistributedSharedUserTopicSurvivesOneConnectionDisconnecting(t *testing.T) {
	broker := memorybus.NewBroker()
	s1 := newTestDistributed(t, broker, "s1")

	a := newFakeConn("A", "user-1")
	b := newFakeConn("B", "user-1")
	require.NoError(t, s1.OnConnected(context.Background(), a))
	require.NoError(t, s1.OnConnected(context.Background(), b))

	require.NoError(t, s1.OnDisconnected(context.Background(), a))

	require.NoError(t, s1.InvokeUser(context.Background(), "user-1", "notify", nil))
	waitFor(t, func() bool { return b.writeCount() == 1 })
}
