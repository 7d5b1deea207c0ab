// Package ack implements the cross-server acknowledgement protocol's
// correlation table: allocate an id, hand the caller an
// awaitable, complete it when a matching ack arrives or time runs out.
package ack

import (
	"sync"
	"sync/atomic"
	"time"
)

// Future is returned by CreateAck. Wait blocks until TriggerAck is
// called for its id or the timeout elapses; both outcomes report success — the caller
// cannot distinguish an unknown connection from a network partition.
type Future struct {
	done    chan struct{}
	once    sync.Once
	timedOut atomic.Bool
}

// Wait blocks until the ack arrives or the timeout passes.
// The returned timedOut reports which one happened, for metrics only — it never
// changes the caller-visible success of the operation.
func (f *Future) Wait() (timedOut bool) {
	<-f.done
	return f.timedOut.Load()
}

func (f *Future) complete(timedOut bool) {
	f.once.Do(func() {
		f.timedOut.Store(timedOut)
		close(f.done)
	})
}

// Tracker allocates process-local monotonic correlation ids and tracks
// the futures registered against them.
type Tracker struct {
	mu      sync.Mutex
	pending map[uint64]*Future
	nextID  uint64
	timeout time.Duration
}

// NewTracker returns a tracker that times out unacked futures after d.
func NewTracker(d time.Duration) *Tracker {
	return &Tracker{
		pending: make(map[uint64]*Future),
		timeout: d,
	}
}

// NextCorrelationID returns a fresh, process-local monotonic id.
func (t *Tracker) NextCorrelationID() uint64 {
	return atomic.AddUint64(&t.nextID, 1)
}

// CreateAck registers a future for id and arms its timeout. Calling
// CreateAck twice for the same id replaces the first registration.
func (t *Tracker) CreateAck(id uint64) *Future {
	f := &Future{done: make(chan struct{})}

	t.mu.Lock()
	t.pending[id] = f
	t.mu.Unlock()

	timer := time.AfterFunc(t.timeout, func() {
		t.mu.Lock()
		if t.pending[id] == f {
			delete(t.pending, id)
		}
		t.mu.Unlock()
		f.complete(true)
	})

	go func() {
		<-f.done
		timer.Stop()
	}()

	return f
}

// TriggerAck completes the future for id, if one is still pending.
// Idempotent: a repeated or late trigger after the future already
// completed (by ack or timeout) is silently ignored.
func (t *Tracker) TriggerAck(id uint64) {
	t.mu.Lock()
	f, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	t.mu.Unlock()

	if ok {
		f.complete(false)
	}
}

// Dispose completes every outstanding future (as a non-timeout
// completion, since the manager is shutting down rather than the peer
// failing to respond) and drops the pending table.
func (t *Tracker) Dispose() {
	t.mu.Lock()
	pending := t.pending
	t.pending = make(map[uint64]*Future)
	t.mu.Unlock()

	for _, f := range pending {
		f.complete(false)
	}
}
