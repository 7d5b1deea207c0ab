// Package natsbus is the production bus.Adapter, backed by NATS.
//
// Grounded on go-server/pkg/nats/client.go: same connection-handler
// wiring (connect/disconnect/reconnect/error), same subs map guarded by
// a mutex, generalized from Odin-specific subject helpers to the plain
// Publish/Subscribe/Unsubscribe shape bus.Adapter requires.
package natsbus

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/adred-codev/hublifetime/internal/bus"
)

// Config configures the underlying NATS connection.
type Config struct {
	URL             string
	MaxReconnects   int
	ReconnectWait   time.Duration
	ReconnectJitter time.Duration
	MaxPingsOut     int
	PingInterval    time.Duration
}

// DefaultConfig returns sane defaults for a single-process demonstration
// deployment.
func DefaultConfig(url string) Config {
	return Config{
		URL:             url,
		MaxReconnects:   10,
		ReconnectWait:   2 * time.Second,
		ReconnectJitter: 500 * time.Millisecond,
		MaxPingsOut:     3,
		PingInterval:    20 * time.Second,
	}
}

// Adapter is a bus.Adapter backed by a NATS connection.
type Adapter struct {
	conn   *nats.Conn
	logger zerolog.Logger

	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

var _ bus.Adapter = (*Adapter)(nil)

// Connect dials NATS and returns a ready-to-use Adapter.
func Connect(cfg Config, logger zerolog.Logger) (*Adapter, error) {
	a := &Adapter{logger: logger, subs: make(map[string]*nats.Subscription)}

	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(cfg.ReconnectJitter, cfg.ReconnectJitter),
		nats.MaxPingsOutstanding(cfg.MaxPingsOut),
		nats.PingInterval(cfg.PingInterval),
		nats.ConnectHandler(func(c *nats.Conn) {
			a.logger.Info().Str("url", c.ConnectedUrl()).Msg("bus connected")
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			a.logger.Warn().Err(err).Msg("bus disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			a.logger.Info().Str("url", c.ConnectedUrl()).Msg("bus reconnected")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			a.logger.Error().Err(err).Msg("bus error")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("natsbus: connect: %w", err)
	}
	a.conn = conn
	return a, nil
}

// Publish publishes payload to topic. A connection-level failure is
// returned to the caller rather than swallowed; the lifetime manager
// wraps it as lifetime.ErrBusUnavailable.
func (a *Adapter) Publish(topic string, payload []byte) error {
	if err := a.conn.Publish(topic, payload); err != nil {
		return fmt.Errorf("natsbus: publish %q: %w", topic, err)
	}
	return nil
}

// Subscribe registers handler for topic.
func (a *Adapter) Subscribe(topic string, handler bus.Handler) error {
	sub, err := a.conn.Subscribe(topic, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("natsbus: subscribe %q: %w", topic, err)
	}

	a.mu.Lock()
	a.subs[topic] = sub
	a.mu.Unlock()
	a.logger.Debug().Str("topic", topic).Msg("subscribed")
	return nil
}

// Unsubscribe tears down the subscription to topic, if any.
func (a *Adapter) Unsubscribe(topic string) error {
	a.mu.Lock()
	sub, ok := a.subs[topic]
	if ok {
		delete(a.subs, topic)
	}
	a.mu.Unlock()

	if !ok {
		return nil
	}
	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("natsbus: unsubscribe %q: %w", topic, err)
	}
	a.logger.Debug().Str("topic", topic).Msg("unsubscribed")
	return nil
}

// UnsubscribeAll tears down every subscription held by this adapter.
func (a *Adapter) UnsubscribeAll() error {
	a.mu.Lock()
	topics := make([]string, 0, len(a.subs))
	for t := range a.subs {
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

// Close unsubscribes everything and closes the underlying connection.
func (a *Adapter) Close() error {
	if err := a.UnsubscribeAll(); err != nil {
		a.logger.Warn().Err(err).Msg("error during unsubscribe-all on close")
	}
	a.conn.Close()
	return nil
}
