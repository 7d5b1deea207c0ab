// Package bus abstracts the pub/sub broker the distributed manager
// fans messages out over. Implementations: natsbus (production,
// backed by NATS) and memorybus (in-process, used by cmd/hubserver when
// no NATS URL is configured and by tests that simulate a multi-server
// fleet without a live broker).
package bus

// Handler is invoked for every message delivered on a subscribed topic.
// It may be called concurrently from arbitrary worker goroutines and
// must not block the adapter's delivery loop for long.
type Handler func(topic string, payload []byte)

// Adapter is the thin pub/sub abstraction the lifetime manager depends
// on. Publish is fire-and-forget beyond the broker's own contract; the
// manager never retries at this layer.
type Adapter interface {
	Publish(topic string, payload []byte) error
	Subscribe(topic string, handler Handler) error
	Unsubscribe(topic string) error
	UnsubscribeAll() error
	Close() error
}
