package lifetime

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/adred-codev/hublifetime/internal/connection"
	"github.com/adred-codev/hublifetime/internal/group"
	"github.com/adred-codev/hublifetime/internal/invocation"
	"github.com/adred-codev/hublifetime/internal/metrics"
)

// connAdapter bridges lifetime.Connection into the narrower Conn shapes
// connection.Registry and group.Registry need, without either of those
// packages importing lifetime.
type connAdapter struct{ Connection }

func (c connAdapter) ID() string { return c.Connection.ID() }

// Local is the single-process LifetimeManager variant: each invoke
// walks the connection list once; invokeGroup consults the group
// registry directly; group add/remove is a no-op if the connection is
// not currently registered on this server.
//
// Grounded on pkg/websocket/hub.go's broadcastMessage: iterate the
// client set, write to each without letting one failing write abort
// the others.
type Local struct {
	conns  *connection.Registry
	groups *group.Registry
	ids    *invocation.IDSource
	logger zerolog.Logger
	rec    metrics.Recorder
}

// NewLocal returns a Local manager. rec may be nil, in which case a
// no-op recorder is used.
func NewLocal(logger zerolog.Logger, rec metrics.Recorder) *Local {
	if rec == nil {
		rec = metrics.NoOp{}
	}
	return &Local{
		conns:  connection.NewRegistry(),
		groups: group.NewRegistry(),
		ids:    invocation.NewIDSource(),
		logger: logger,
		rec:    rec,
	}
}

var _ Manager = (*Local)(nil)

// OnConnected registers c.
func (l *Local) OnConnected(_ context.Context, c Connection) error {
	l.conns.Add(connAdapter{c})
	l.rec.ConnectionRegistered()
	l.logger.Debug().Str("conn_id", c.ID()).Msg("connection registered")
	return nil
}

// OnDisconnected deregisters c and drops it from every local group.
func (l *Local) OnDisconnected(_ context.Context, c Connection) error {
	l.conns.Remove(connAdapter{c})
	l.groups.RemoveDisconnected(c.ID())
	l.rec.ConnectionUnregistered()
	l.logger.Debug().Str("conn_id", c.ID()).Msg("connection unregistered")
	return nil
}

func (l *Local) writeAll(ctx context.Context, conns []connection.Conn, msg InvocationMessage, excluded map[string]struct{}) int {
	written := 0
	for _, raw := range conns {
		c := raw.(connAdapter).Connection
		if excluded != nil {
			if _, skip := excluded[c.ID()]; skip {
				continue
			}
		}
		if err := c.Write(ctx, msg); err != nil {
			l.logger.Warn().Err(err).Str("conn_id", c.ID()).Str("target", msg.Target).Msg("write failed during fan-out")
			continue
		}
		written++
	}
	return written
}

func (l *Local) newMessage(method string, args []interface{}) InvocationMessage {
	return InvocationMessage{
		InvocationID: l.ids.Next(),
		Target:       method,
		Arguments:    args,
		NonBlocking:  true,
	}
}

// InvokeAll fans out to every connection on this server.
func (l *Local) InvokeAll(ctx context.Context, method string, args []interface{}) error {
	msg := l.newMessage(method, args)
	n := l.writeAll(ctx, l.conns.Snapshot(), msg, nil)
	l.rec.InvocationFanned(method, n)
	return nil
}

// InvokeAllExcept fans out to every connection except those in excludedIDs.
func (l *Local) InvokeAllExcept(ctx context.Context, method string, args []interface{}, excludedIDs []string) error {
	msg := l.newMessage(method, args)
	n := l.writeAll(ctx, l.conns.Snapshot(), msg, NewExcludingSet(excludedIDs))
	l.rec.InvocationFanned(method, n)
	return nil
}

// InvokeConnection delivers to exactly one connection, if it is
// registered locally. An unknown id is a silent no-op.
func (l *Local) InvokeConnection(ctx context.Context, connectionID, method string, args []interface{}) error {
	if connectionID == "" {
		return fmt.Errorf("InvokeConnection: %w", ErrInvalidArgument)
	}
	c := l.conns.Lookup(connectionID)
	if c == nil {
		return nil
	}
	msg := l.newMessage(method, args)
	n := l.writeAll(ctx, []connection.Conn{c}, msg, nil)
	l.rec.InvocationFanned(method, n)
	return nil
}

// InvokeGroup delivers to every connection currently in groupName.
func (l *Local) InvokeGroup(ctx context.Context, groupName, method string, args []interface{}) error {
	if groupName == "" {
		return fmt.Errorf("InvokeGroup: %w", ErrInvalidArgument)
	}
	members := l.toConnSlice(l.groups.Lookup(groupName))
	msg := l.newMessage(method, args)
	n := l.writeAll(ctx, members, msg, nil)
	l.rec.InvocationFanned(method, n)
	return nil
}

// InvokeGroupExcept delivers to groupName's members except excludedIDs.
func (l *Local) InvokeGroupExcept(ctx context.Context, groupName, method string, args []interface{}, excludedIDs []string) error {
	if groupName == "" {
		return fmt.Errorf("InvokeGroupExcept: %w", ErrInvalidArgument)
	}
	members := l.toConnSlice(l.groups.Lookup(groupName))
	msg := l.newMessage(method, args)
	n := l.writeAll(ctx, members, msg, NewExcludingSet(excludedIDs))
	l.rec.InvocationFanned(method, n)
	return nil
}

// InvokeUser delivers to every locally hosted connection whose user id
// equals userID exactly (ordinal match).
func (l *Local) InvokeUser(ctx context.Context, userID, method string, args []interface{}) error {
	if userID == "" {
		return fmt.Errorf("InvokeUser: %w", ErrInvalidArgument)
	}
	msg := l.newMessage(method, args)
	var matched []connection.Conn
	for _, raw := range l.conns.Snapshot() {
		c := raw.(connAdapter).Connection
		if c.UserID() == userID {
			matched = append(matched, raw)
		}
	}
	n := l.writeAll(ctx, matched, msg, nil)
	l.rec.InvocationFanned(method, n)
	return nil
}

// AddGroup adds connectionID to groupName. A no-op if the connection is
// not registered locally.
func (l *Local) AddGroup(_ context.Context, connectionID, groupName string) error {
	if connectionID == "" || groupName == "" {
		return fmt.Errorf("AddGroup: %w", ErrInvalidArgument)
	}
	c := l.conns.Lookup(connectionID)
	if c == nil {
		return nil
	}
	l.groups.Add(c, groupName)
	return nil
}

// RemoveGroup removes connectionID from groupName. A no-op if the
// connection is not registered locally.
func (l *Local) RemoveGroup(_ context.Context, connectionID, groupName string) error {
	if connectionID == "" || groupName == "" {
		return fmt.Errorf("RemoveGroup: %w", ErrInvalidArgument)
	}
	l.groups.Remove(connectionID, groupName)
	return nil
}

func (l *Local) toConnSlice(members []group.Conn) []connection.Conn {
	out := make([]connection.Conn, 0, len(members))
	for _, m := range members {
		out = append(out, m.(connection.Conn))
	}
	return out
}
