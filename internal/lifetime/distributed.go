package lifetime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/hublifetime/internal/ack"
	"github.com/adred-codev/hublifetime/internal/bus"
	"github.com/adred-codev/hublifetime/internal/connection"
	"github.com/adred-codev/hublifetime/internal/group"
	"github.com/adred-codev/hublifetime/internal/invocation"
	"github.com/adred-codev/hublifetime/internal/metrics"
	"github.com/adred-codev/hublifetime/internal/wire"
)

// feature is the per-connection state the distributed manager keeps on
// top of the plain connection/group registries: which bus topics this
// connection's own subscriptions fund, and which groups it currently
// belongs to (mirrored here so OnDisconnected can unwind group
// membership without a cross-server round trip).
//
// Lock order when both are touched: feature.mu is always acquired
// before any group.Bucket's own lock.
type feature struct {
	mu            sync.Mutex
	subscriptions map[string]struct{} // topics this connection caused us to subscribe to
	groups        map[string]struct{} // normalized group names this connection belongs to
}

func newFeature() *feature {
	return &feature{
		subscriptions: make(map[string]struct{}),
		groups:        make(map[string]struct{}),
	}
}

// userTopics refcounts subscriptions to per-user topics: several local
// connections can share one user id, but the bus Adapter only supports
// one handler per topic, so the real subscribe/unsubscribe only
// happens at the 0<->1 edge of how many local connections want it.
type userTopics struct {
	mu   sync.Mutex
	refs map[string]int
}

func newUserTopics() *userTopics {
	return &userTopics{refs: make(map[string]int)}
}

// acquire returns true the first time topic's refcount goes 0->1: the
// caller should subscribe.
func (u *userTopics) acquire(topic string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.refs[topic]++
	return u.refs[topic] == 1
}

// release returns true when topic's refcount drops to 0: the caller
// should unsubscribe.
func (u *userTopics) release(topic string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	n, ok := u.refs[topic]
	if !ok {
		return false
	}
	n--
	if n <= 0 {
		delete(u.refs, topic)
		return true
	}
	u.refs[topic] = n
	return false
}

// Distributed is the multi-server LifetimeManager variant: local
// delivery is short-circuited where possible, every other fan-out goes
// over the bus, and group membership is mutated through a
// publish/await-ack round trip when the owning connection is not on
// this server.
//
// Grounded on other_examples' MockDistributedRegistry: only write
// directly to connections this instance actually holds; publish for
// the rest and let each server's own subscription fan out locally.
// Topic-indexed delivery is grounded on ws/internal/shared/broadcast.go.
type Distributed struct {
	hubName  string
	serverID string
	topics   topics

	conns   *connection.Registry
	buckets *group.Buckets
	ack     *ack.Tracker
	ids     *invocation.IDSource
	codec   *wire.Codec
	bus     bus.Adapter
	users   *userTopics

	logger zerolog.Logger
	rec    metrics.Recorder

	featMu   sync.Mutex
	features map[string]*feature
}

var _ Manager = (*Distributed)(nil)

// NewDistributed wires a Distributed manager on top of busAdapter and
// subscribes to the topics that exist for the lifetime of the server:
// broadcast, broadcast-except, the control-group inbox, and this
// server's own ack inbox.
func NewDistributed(hubName, serverID string, busAdapter bus.Adapter, ackTimeout time.Duration, logger zerolog.Logger, rec metrics.Recorder) (*Distributed, error) {
	if rec == nil {
		rec = metrics.NoOp{}
	}
	d := &Distributed{
		hubName:  hubName,
		serverID: serverID,
		topics:   newTopics(hubName),
		conns:    connection.NewRegistry(),
		buckets:  group.NewBuckets(),
		ack:      ack.NewTracker(ackTimeout),
		ids:      invocation.NewIDSource(),
		codec:    wire.NewCodec(),
		bus:      busAdapter,
		users:    newUserTopics(),
		logger:   logger,
		rec:      rec,
		features: make(map[string]*feature),
	}

	if err := d.bus.Subscribe(d.topics.broadcast(), d.handleBroadcast); err != nil {
		return nil, fmt.Errorf("lifetime: subscribe broadcast: %w", err)
	}
	if err := d.bus.Subscribe(d.topics.broadcastExcept(), d.handleBroadcastExcept); err != nil {
		return nil, fmt.Errorf("lifetime: subscribe broadcast-except: %w", err)
	}
	if err := d.bus.Subscribe(d.topics.controlGroup(), d.handleControlGroup); err != nil {
		return nil, fmt.Errorf("lifetime: subscribe control-group: %w", err)
	}
	if err := d.bus.Subscribe(d.topics.controlAck(serverID), d.handleAckInbox); err != nil {
		return nil, fmt.Errorf("lifetime: subscribe ack-inbox: %w", err)
	}
	return d, nil
}

func (d *Distributed) getFeature(connID string) *feature {
	d.featMu.Lock()
	defer d.featMu.Unlock()
	return d.features[connID]
}

// OnConnected registers c locally and subscribes to the topics only
// this connection can satisfy: its own connection topic, and (if
// authenticated) its user topic.
func (d *Distributed) OnConnected(_ context.Context, c Connection) error {
	d.conns.Add(connAdapter{c})

	feat := newFeature()
	d.featMu.Lock()
	d.features[c.ID()] = feat
	d.featMu.Unlock()

	connTopic := d.topics.connection(c.ID())
	if err := d.bus.Subscribe(connTopic, d.handleConnection(c.ID())); err != nil {
		d.logger.Warn().Err(err).Str("conn_id", c.ID()).Msg("failed to subscribe connection topic")
	} else {
		feat.subscriptions[connTopic] = struct{}{}
	}

	if userID := c.UserID(); userID != "" {
		userTopic := d.topics.user(userID)
		if d.users.acquire(userTopic) {
			if err := d.bus.Subscribe(userTopic, d.handleUser(userID)); err != nil {
				d.logger.Warn().Err(err).Str("user_id", userID).Msg("failed to subscribe user topic")
				d.users.release(userTopic)
			} else {
				feat.subscriptions[userTopic] = struct{}{}
			}
		} else {
			feat.subscriptions[userTopic] = struct{}{}
		}
	}

	d.rec.ConnectionRegistered()
	d.logger.Debug().Str("conn_id", c.ID()).Msg("connection registered")
	return nil
}

// OnDisconnected tears down c's per-connection subscriptions, drops it
// from every group it belonged to (purely local, no cross-server
// traffic), and deregisters it.
func (d *Distributed) OnDisconnected(_ context.Context, c Connection) error {
	feat := d.getFeature(c.ID())
	if feat != nil {
		feat.mu.Lock()
		groups := make([]string, 0, len(feat.groups))
		for g := range feat.groups {
			groups = append(groups, g)
		}
		feat.mu.Unlock()

		for _, g := range groups {
			d.removeGroupCore(c.ID(), g)
		}

		for topic := range feat.subscriptions {
			if d.topics.connection(c.ID()) == topic {
				if err := d.bus.Unsubscribe(topic); err != nil {
					d.logger.Warn().Err(err).Str("topic", topic).Msg("failed to unsubscribe connection topic")
				}
				continue
			}
			if d.users.release(topic) {
				if err := d.bus.Unsubscribe(topic); err != nil {
					d.logger.Warn().Err(err).Str("topic", topic).Msg("failed to unsubscribe user topic")
				}
			}
		}
	}

	d.featMu.Lock()
	delete(d.features, c.ID())
	d.featMu.Unlock()

	d.conns.Remove(connAdapter{c})
	d.rec.ConnectionUnregistered()
	d.logger.Debug().Str("conn_id", c.ID()).Msg("connection unregistered")
	return nil
}

func (d *Distributed) newMessage(method string, args []interface{}) InvocationMessage {
	return InvocationMessage{
		InvocationID: d.ids.Next(),
		Target:       method,
		Arguments:    args,
		NonBlocking:  true,
	}
}

func (d *Distributed) publishInvocation(kind, topic string, msg InvocationMessage, excludedIDs []string) error {
	env := wire.InvocationEnvelope{
		InvocationID: msg.InvocationID,
		Target:       msg.Target,
		Arguments:    msg.Arguments,
		NonBlocking:  msg.NonBlocking,
		ExcludedIDs:  excludedIDs,
	}
	data, err := d.codec.EncodeInvocation(env)
	if err != nil {
		return fmt.Errorf("lifetime: %w", err)
	}
	if err := d.bus.Publish(topic, data); err != nil {
		d.rec.BusPublishFailed(kind)
		return fmt.Errorf("%w: %s", ErrBusUnavailable, err)
	}
	d.rec.BusPublished(kind)
	return nil
}

// writeLocal delivers msg directly to conns, skipping excluded ids.
// Failures are logged and swallowed per connection.
func (d *Distributed) writeLocal(ctx context.Context, conns []connection.Conn, msg InvocationMessage, excluded map[string]struct{}) int {
	written := 0
	for _, raw := range conns {
		c := raw.(connAdapter).Connection
		if excluded != nil {
			if _, skip := excluded[c.ID()]; skip {
				continue
			}
		}
		if err := c.Write(ctx, msg); err != nil {
			d.logger.Warn().Err(err).Str("conn_id", c.ID()).Str("target", msg.Target).Msg("write failed during fan-out")
			continue
		}
		written++
	}
	return written
}

// InvokeAll always publishes on the broadcast topic; this server's own
// subscription fans the message out to its local connections when it
// arrives back over the bus, so the call site never writes directly.
func (d *Distributed) InvokeAll(_ context.Context, method string, args []interface{}) error {
	msg := d.newMessage(method, args)
	return d.publishInvocation(kindBroadcast, d.topics.broadcast(), msg, nil)
}

// InvokeAllExcept publishes on the broadcast-except topic.
func (d *Distributed) InvokeAllExcept(_ context.Context, method string, args []interface{}, excludedIDs []string) error {
	msg := d.newMessage(method, args)
	return d.publishInvocation(kindBroadcastExcept, d.topics.broadcastExcept(), msg, excludedIDs)
}

// InvokeConnection writes directly if connectionID is hosted on this
// server, otherwise publishes to its connection topic.
func (d *Distributed) InvokeConnection(ctx context.Context, connectionID, method string, args []interface{}) error {
	if connectionID == "" {
		return fmt.Errorf("InvokeConnection: %w", ErrInvalidArgument)
	}
	msg := d.newMessage(method, args)
	if c := d.conns.Lookup(connectionID); c != nil {
		n := d.writeLocal(ctx, []connection.Conn{c}, msg, nil)
		d.rec.InvocationFanned(method, n)
		return nil
	}
	return d.publishInvocation(kindConnection, d.topics.connection(connectionID), msg, nil)
}

// InvokeGroup publishes on groupName's topic.
func (d *Distributed) InvokeGroup(_ context.Context, groupName, method string, args []interface{}) error {
	if groupName == "" {
		return fmt.Errorf("InvokeGroup: %w", ErrInvalidArgument)
	}
	msg := d.newMessage(method, args)
	return d.publishInvocation(kindGroup, d.topics.group(groupName), msg, nil)
}

// InvokeGroupExcept publishes on the same group topic as InvokeGroup,
// carrying the exclusion set; the handler on the other end filters.
func (d *Distributed) InvokeGroupExcept(_ context.Context, groupName, method string, args []interface{}, excludedIDs []string) error {
	if groupName == "" {
		return fmt.Errorf("InvokeGroupExcept: %w", ErrInvalidArgument)
	}
	msg := d.newMessage(method, args)
	return d.publishInvocation(kindGroup, d.topics.group(groupName), msg, excludedIDs)
}

// InvokeUser publishes on userID's topic.
func (d *Distributed) InvokeUser(_ context.Context, userID, method string, args []interface{}) error {
	if userID == "" {
		return fmt.Errorf("InvokeUser: %w", ErrInvalidArgument)
	}
	msg := d.newMessage(method, args)
	return d.publishInvocation(kindUser, d.topics.user(userID), msg, nil)
}

// AddGroup adds connectionID to groupName. If the connection is hosted
// on this server the mutation happens immediately; otherwise a control
// message is published and the call blocks until an ack arrives or its
// timeout elapses, whichever comes first — both outcomes return success.
func (d *Distributed) AddGroup(ctx context.Context, connectionID, groupName string) error {
	if connectionID == "" || groupName == "" {
		return fmt.Errorf("AddGroup: %w", ErrInvalidArgument)
	}
	if c := d.conns.Lookup(connectionID); c != nil {
		return d.addGroupCore(c.(connAdapter).Connection, groupName)
	}
	return d.remoteGroupMutation(ctx, wire.ActionAdd, connectionID, groupName)
}

// RemoveGroup removes connectionID from groupName, with the same
// local/remote split as AddGroup.
func (d *Distributed) RemoveGroup(ctx context.Context, connectionID, groupName string) error {
	if connectionID == "" || groupName == "" {
		return fmt.Errorf("RemoveGroup: %w", ErrInvalidArgument)
	}
	if d.conns.Lookup(connectionID) != nil {
		d.removeGroupCore(connectionID, groupName)
		return nil
	}
	return d.remoteGroupMutation(ctx, wire.ActionRemove, connectionID, groupName)
}

// remoteGroupMutation publishes a control message for a connection not
// hosted on this server and blocks until the owning server's ack
// arrives or the ack timeout elapses. Both outcomes return nil: the
// caller cannot distinguish an unknown connection from a network
// partition, by design.
func (d *Distributed) remoteGroupMutation(_ context.Context, action wire.Action, connectionID, groupName string) error {
	correlationID := d.ack.NextCorrelationID()
	future := d.ack.CreateAck(correlationID)

	env := wire.ControlEnvelope{
		Action:        action,
		CorrelationID: correlationID,
		ConnectionID:  connectionID,
		GroupName:     groupName,
		OriginServer:  d.serverID,
	}
	data, err := d.codec.EncodeControl(env)
	if err != nil {
		return fmt.Errorf("lifetime: %w", err)
	}
	if err := d.bus.Publish(d.topics.controlGroup(), data); err != nil {
		d.rec.BusPublishFailed(kindControlGroup)
		return fmt.Errorf("%w: %s", ErrBusUnavailable, err)
	}
	d.rec.BusPublished(kindControlGroup)

	timedOut := future.Wait()
	d.rec.AckCompleted(timedOut)
	return nil
}

// addGroupCore performs the local group-membership insert. Lock order:
// the feature's group lock is held across the bucket mutation, which
// takes the bucket's own lock internally.
func (d *Distributed) addGroupCore(c Connection, groupName string) error {
	feat := d.getFeature(c.ID())
	if feat == nil {
		return nil // connection disconnected before this reached us
	}
	key := normalizeGroup(groupName)

	feat.mu.Lock()
	defer feat.mu.Unlock()

	if _, already := feat.groups[key]; already {
		return nil
	}

	bucket := d.buckets.GetOrCreate(groupName, func() *group.Bucket {
		return group.NewBucket(
			func() error { return d.bus.Subscribe(d.topics.group(groupName), d.handleGroup(groupName)) },
			func() {
				if err := d.bus.Unsubscribe(d.topics.group(groupName)); err != nil {
					d.logger.Warn().Err(err).Str("group", groupName).Msg("failed to unsubscribe group topic")
				}
			},
		)
	})
	if err := bucket.Add(connAdapter{c}); err != nil {
		return fmt.Errorf("%w: %s", ErrBusUnavailable, err)
	}
	feat.groups[key] = struct{}{}
	return nil
}

// removeGroupCore performs the local group-membership removal.
func (d *Distributed) removeGroupCore(connID, groupName string) {
	bucket, ok := d.buckets.Get(groupName)
	if !ok {
		return
	}
	if feat := d.getFeature(connID); feat != nil {
		feat.mu.Lock()
		delete(feat.groups, normalizeGroup(groupName))
		feat.mu.Unlock()
	}
	bucket.Remove(connID)
}

// --- bus handlers ---

func (d *Distributed) handleBroadcast(_ string, payload []byte) {
	env, err := d.codec.DecodeInvocation(payload)
	if err != nil {
		d.rec.HandlerFailed(kindBroadcast)
		d.logger.Warn().Err(err).Msg("discarding malformed broadcast message")
		return
	}
	msg := d.newMessageFromEnvelope(env)
	n := d.writeLocal(context.Background(), d.conns.Snapshot(), msg, nil)
	d.rec.InvocationFanned(msg.Target, n)
}

func (d *Distributed) handleBroadcastExcept(_ string, payload []byte) {
	env, err := d.codec.DecodeInvocation(payload)
	if err != nil {
		d.rec.HandlerFailed(kindBroadcastExcept)
		d.logger.Warn().Err(err).Msg("discarding malformed broadcast-except message")
		return
	}
	msg := d.newMessageFromEnvelope(env)
	n := d.writeLocal(context.Background(), d.conns.Snapshot(), msg, NewExcludingSet(env.ExcludedIDs))
	d.rec.InvocationFanned(msg.Target, n)
}

func (d *Distributed) handleConnection(connID string) bus.Handler {
	return func(_ string, payload []byte) {
		env, err := d.codec.DecodeInvocation(payload)
		if err != nil {
			d.rec.HandlerFailed(kindConnection)
			d.logger.Warn().Err(err).Msg("discarding malformed connection message")
			return
		}
		c := d.conns.Lookup(connID)
		if c == nil {
			return
		}
		msg := d.newMessageFromEnvelope(env)
		n := d.writeLocal(context.Background(), []connection.Conn{c}, msg, nil)
		d.rec.InvocationFanned(msg.Target, n)
	}
}

func (d *Distributed) handleUser(userID string) bus.Handler {
	return func(_ string, payload []byte) {
		env, err := d.codec.DecodeInvocation(payload)
		if err != nil {
			d.rec.HandlerFailed(kindUser)
			d.logger.Warn().Err(err).Msg("discarding malformed user message")
			return
		}
		var matched []connection.Conn
		for _, raw := range d.conns.Snapshot() {
			if raw.(connAdapter).Connection.UserID() == userID {
				matched = append(matched, raw)
			}
		}
		msg := d.newMessageFromEnvelope(env)
		n := d.writeLocal(context.Background(), matched, msg, nil)
		d.rec.InvocationFanned(msg.Target, n)
	}
}

func (d *Distributed) handleGroup(groupName string) bus.Handler {
	return func(_ string, payload []byte) {
		env, err := d.codec.DecodeInvocation(payload)
		if err != nil {
			d.rec.HandlerFailed(kindGroup)
			d.logger.Warn().Err(err).Msg("discarding malformed group message")
			return
		}
		bucket, ok := d.buckets.Get(groupName)
		if !ok {
			return
		}
		msg := d.newMessageFromEnvelope(env)
		var excluded map[string]struct{}
		if len(env.ExcludedIDs) > 0 {
			excluded = NewExcludingSet(env.ExcludedIDs)
		}
		n := d.writeLocal(context.Background(), toConnSlice(bucket.Snapshot()), msg, excluded)
		d.rec.InvocationFanned(msg.Target, n)
	}
}

// handleControlGroup applies remote group-mutation requests targeting
// a connection this server hosts, then acks the origin server.
func (d *Distributed) handleControlGroup(_ string, payload []byte) {
	env, err := d.codec.DecodeControl(payload)
	if err != nil {
		d.rec.HandlerFailed(kindControlGroup)
		d.logger.Warn().Err(err).Msg("discarding malformed control message")
		return
	}

	c := d.conns.Lookup(env.ConnectionID)
	if c == nil {
		return // this server does not host the target connection
	}

	switch env.Action {
	case wire.ActionAdd:
		if err := d.addGroupCore(c.(connAdapter).Connection, env.GroupName); err != nil {
			d.rec.HandlerFailed(kindControlGroup)
			d.logger.Warn().Err(err).Str("group", env.GroupName).Msg("remote add-group failed")
		}
	case wire.ActionRemove:
		d.removeGroupCore(env.ConnectionID, env.GroupName)
	default:
		return
	}

	d.sendAck(env.OriginServer, env.CorrelationID)
}

func (d *Distributed) sendAck(originServer string, correlationID uint64) {
	ackEnv := wire.ControlEnvelope{
		Action:        wire.ActionAck,
		CorrelationID: correlationID,
		OriginServer:  d.serverID,
	}
	data, err := d.codec.EncodeControl(ackEnv)
	if err != nil {
		d.logger.Warn().Err(err).Msg("failed to encode ack")
		return
	}
	if err := d.bus.Publish(d.topics.controlAck(originServer), data); err != nil {
		d.rec.BusPublishFailed(kindControlAck)
		d.logger.Warn().Err(err).Msg("failed to publish ack")
		return
	}
	d.rec.BusPublished(kindControlAck)
}

func (d *Distributed) handleAckInbox(_ string, payload []byte) {
	env, err := d.codec.DecodeControl(payload)
	if err != nil {
		d.rec.HandlerFailed(kindControlAck)
		d.logger.Warn().Err(err).Msg("discarding malformed ack message")
		return
	}
	if env.Action != wire.ActionAck {
		return
	}
	d.ack.TriggerAck(env.CorrelationID)
}

func (d *Distributed) newMessageFromEnvelope(env wire.InvocationEnvelope) InvocationMessage {
	return InvocationMessage{
		InvocationID: env.InvocationID,
		Target:       env.Target,
		Arguments:    env.Arguments,
		NonBlocking:  env.NonBlocking,
	}
}

func toConnSlice(members []group.Conn) []connection.Conn {
	out := make([]connection.Conn, 0, len(members))
	for _, m := range members {
		out = append(out, m.(connection.Conn))
	}
	return out
}

// Close releases outstanding acks and tears down every bus subscription
// this manager holds.
func (d *Distributed) Close() error {
	d.ack.Dispose()
	return d.bus.Close()
}
