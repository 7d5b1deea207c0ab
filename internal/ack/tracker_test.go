package ack

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerTriggerCompletesWithoutTimeout(t *testing.T) {
	tr := NewTracker(time.Second)
	id := tr.NextCorrelationID()
	f := tr.CreateAck(id)

	go tr.TriggerAck(id)

	timedOut := f.Wait()
	assert.False(t, timedOut)
}

func TestTrackerTimeoutCompletesSuccessfully(t *testing.T) {
	tr := NewTracker(10 * time.Millisecond)
	id := tr.NextCorrelationID()
	f := tr.CreateAck(id)

	timedOut := f.Wait()
	assert.True(t, timedOut)
}

func TestTrackerRepeatedTriggerIsIgnored(t *testing.T) {
	tr := NewTracker(time.Second)
	id := tr.NextCorrelationID()
	f := tr.CreateAck(id)

	tr.TriggerAck(id)
	tr.TriggerAck(id) // must not panic or double-close

	timedOut := f.Wait()
	assert.False(t, timedOut)
}

func TestTrackerLateTriggerAfterTimeoutIsDiscarded(t *testing.T) {
	tr := NewTracker(5 * time.Millisecond)
	id := tr.NextCorrelationID()
	f := tr.CreateAck(id)

	require.True(t, f.Wait()) // times out

	tr.TriggerAck(id) // late ack for a dropped future: no-op, no panic
}

func TestTrackerDisposeCompletesOutstanding(t *testing.T) {
	tr := NewTracker(time.Minute)
	f1 := tr.CreateAck(tr.NextCorrelationID())
	f2 := tr.CreateAck(tr.NextCorrelationID())

	tr.Dispose()

	assert.False(t, f1.Wait())
	assert.False(t, f2.Wait())
}

func TestTrackerCorrelationIDsAreMonotonic(t *testing.T) {
	tr := NewTracker(time.Second)
	a := tr.NextCorrelationID()
	b := tr.NextCorrelationID()
	assert.Less(t, a, b)
}
