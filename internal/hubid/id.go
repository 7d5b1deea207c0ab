// Package hubid generates the random, per-process stable server identity
// used to address a server's private ack inbox.
package hubid

import uuid "github.com/hashicorp/go-uuid"

// New returns a fresh random identity string for this process.
func New() (string, error) {
	return uuid.GenerateUUID()
}

// MustNew is New but panics on failure, for composition roots that
// cannot meaningfully continue without a server identity.
func MustNew() string {
	id, err := New()
	if err != nil {
		panic("hubid: failed to generate server identity: " + err.Error())
	}
	return id
}
