// Package memorybus is an in-process pub/sub broker used as the default
// bus of cmd/hubserver when no NATS URL is configured and by tests that
// simulate a multi-server fleet without a live broker.
//
// Grounded on ws/internal/multi/broadcast.go's BroadcastBus: each
// subscription gets its own buffered channel and a dedicated goroutine
// drains it, so one slow handler cannot stall delivery to others.
package memorybus

import (
	"fmt"
	"sync"

	"github.com/adred-codev/hublifetime/internal/bus"
)

const deliveryBuffer = 256

type subscription struct {
	ch     chan message
	done   chan struct{}
	wg     sync.WaitGroup
}

type message struct {
	topic   string
	payload []byte
}

// Broker is the shared relay multiple Adapters attach to, simulating a
// fleet of servers publishing/subscribing on the same bus.
type Broker struct {
	mu   sync.RWMutex
	subs map[string][]*subscription // topic -> subscriptions
}

// NewBroker returns an empty, ready-to-use broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[string][]*subscription)}
}

// Adapter is a bus.Adapter backed by a shared in-process Broker. Each
// Adapter models one server's view of the bus: its own subscription set,
// independently unsubscribable.
type Adapter struct {
	broker *Broker
	mu     sync.Mutex
	byTopic map[string]*subscription
}

// NewAdapter attaches a new per-server view to broker.
func NewAdapter(broker *Broker) *Adapter {
	return &Adapter{broker: broker, byTopic: make(map[string]*subscription)}
}

var _ bus.Adapter = (*Adapter)(nil)

// Publish fans payload out to every subscription on topic across every
// adapter attached to the shared broker, including this one — matching
// a real broker's behavior of delivering a copy back to the publisher
// if it is also a subscriber.
func (a *Adapter) Publish(topic string, payload []byte) error {
	a.broker.mu.RLock()
	subs := append([]*subscription(nil), a.broker.subs[topic]...)
	a.broker.mu.RUnlock()

	for _, s := range subs {
		select {
		case s.ch <- message{topic: topic, payload: payload}:
		default:
			// Subscriber channel full: broker is best-effort, the
			// manager never retries at this layer.
		}
	}
	return nil
}

// Subscribe registers handler for topic on this adapter.
func (a *Adapter) Subscribe(topic string, handler bus.Handler) error {
	a.mu.Lock()
	if _, exists := a.byTopic[topic]; exists {
		a.mu.Unlock()
		return fmt.Errorf("memorybus: already subscribed to %q", topic)
	}
	s := &subscription{ch: make(chan message, deliveryBuffer), done: make(chan struct{})}
	a.byTopic[topic] = s
	a.mu.Unlock()

	a.broker.mu.Lock()
	a.broker.subs[topic] = append(a.broker.subs[topic], s)
	a.broker.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case m := <-s.ch:
				handler(m.topic, m.payload)
			case <-s.done:
				return
			}
		}
	}()
	return nil
}

// Unsubscribe tears down this adapter's subscription to topic.
func (a *Adapter) Unsubscribe(topic string) error {
	a.mu.Lock()
	s, ok := a.byTopic[topic]
	if ok {
		delete(a.byTopic, topic)
	}
	a.mu.Unlock()
	if !ok {
		return nil
	}
	a.removeFromBroker(topic, s)
	close(s.done)
	s.wg.Wait()
	return nil
}

// UnsubscribeAll tears down every subscription held by this adapter.
func (a *Adapter) UnsubscribeAll() error {
	a.mu.Lock()
	topics := make([]string, 0, len(a.byTopic))
	for t := range a.byTopic {
		topics = append(topics, t)
	}
	a.mu.Unlock()

	for _, t := range topics {
		if err := a.Unsubscribe(t); err != nil {
			return err
		}
	}
	return nil
}

// Close releases all subscriptions held by this adapter.
func (a *Adapter) Close() error {
	return a.UnsubscribeAll()
}

func (a *Adapter) removeFromBroker(topic string, target *subscription) {
	a.broker.mu.Lock()
	defer a.broker.mu.Unlock()
	list := a.broker.subs[topic]
	for i, s := range list {
		if s == target {
			a.broker.subs[topic] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(a.broker.subs[topic]) == 0 {
		delete(a.broker.subs, topic)
	}
}
