// Package lifetime implements the hub lifetime manager: the component
// that routes invocations from application code to sets of currently
// connected clients, either within a single process or across a fleet
// of cooperating servers sharing a message bus.
package lifetime

import "context"

// Connection is the collaborator interface the transport layer
// implements. The write sink is assumed to serialize concurrent writes
// itself — the manager never holds a lock across a Write call.
type Connection interface {
	ID() string
	UserID() string // empty string means "no authenticated user"
	Write(ctx context.Context, msg InvocationMessage) error
}

// InvocationMessage is a server-initiated call of a named method on a
// client, with positional arguments.
type InvocationMessage struct {
	InvocationID uint64
	Target       string
	Arguments    []interface{}
	NonBlocking  bool
}

// ExcludingInvocationMessage is an InvocationMessage plus the set of
// connection ids to skip. It only ever exists on the wire/at the
// fan-out boundary — by the time a Connection.Write is issued, the
// exclusion has already been applied.
type ExcludingInvocationMessage struct {
	InvocationMessage
	ExcludedIDs map[string]struct{}
}

// Excludes reports whether id is in the exclusion set.
func (m ExcludingInvocationMessage) Excludes(id string) bool {
	_, ok := m.ExcludedIDs[id]
	return ok
}

// NewExcludingSet builds the lookup set backing ExcludingInvocationMessage
// from an ordered id list.
func NewExcludingSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// Manager is the public contract implemented by both the local and the
// distributed variant. All operations return once local delivery and/or
// the broker publish has been issued, not once remote delivery is
// observed.
type Manager interface {
	OnConnected(ctx context.Context, c Connection) error
	OnDisconnected(ctx context.Context, c Connection) error

	InvokeAll(ctx context.Context, method string, args []interface{}) error
	InvokeAllExcept(ctx context.Context, method string, args []interface{}, excludedIDs []string) error
	InvokeConnection(ctx context.Context, connectionID, method string, args []interface{}) error
	InvokeGroup(ctx context.Context, groupName, method string, args []interface{}) error
	InvokeGroupExcept(ctx context.Context, groupName, method string, args []interface{}, excludedIDs []string) error
	InvokeUser(ctx context.Context, userID, method string, args []interface{}) error

	AddGroup(ctx context.Context, connectionID, groupName string) error
	RemoveGroup(ctx context.Context, connectionID, groupName string) error
}
