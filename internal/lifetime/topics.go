package lifetime

import (
	"fmt"
	"strings"
)

// topics builds the bus topic names for one hub. All topics are
// prefixed by the hub's fully-qualified identity.
type topics struct {
	prefix string
}

func newTopics(hubName string) topics {
	return topics{prefix: hubName}
}

// Topic kinds, used only as low-cardinality metrics labels — never as
// the actual topic string (see internal/metrics.Recorder).
const (
	kindBroadcast       = "broadcast"
	kindBroadcastExcept = "broadcast_except"
	kindConnection      = "connection"
	kindGroup           = "group"
	kindUser            = "user"
	kindControlGroup    = "control_group"
	kindControlAck      = "control_ack"
)

func (t topics) broadcast() string       { return t.prefix }
func (t topics) broadcastExcept() string { return t.prefix + ".AllExcept" }
func (t topics) connection(id string) string { return fmt.Sprintf("%s.%s", t.prefix, id) }
func (t topics) group(name string) string    { return fmt.Sprintf("%s.group.%s", t.prefix, normalizeGroup(name)) }
func (t topics) user(id string) string       { return fmt.Sprintf("%s.user.%s", t.prefix, id) }
func (t topics) controlGroup() string        { return t.prefix + ".internal.group" }
func (t topics) controlAck(serverID string) string {
	return fmt.Sprintf("%s.internal.%s", t.prefix, serverID)
}

// normalizeGroup lowercases name so "Chat" and "chat" land on the same
// topic — group names are compared case-insensitively.
func normalizeGroup(name string) string {
	return strings.ToLower(name)
}
