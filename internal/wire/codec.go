// Package wire encodes and decodes the two inter-server envelope shapes:
// invocation envelopes carrying polymorphic arguments, and control
// envelopes for the group-mutation protocol.
//
// CBOR (github.com/fxamacker/cbor/v2) is used instead of JSON because
// decoding into interface{} already preserves the scalar/array/map shape
// of each argument (ints stay integral, floats stay floats, nested maps
// round-trip) without either side knowing the method's parameter types
// in advance.
package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Action identifies what a ControlMessage asks a receiving server to do.
type Action string

const (
	ActionAdd    Action = "add"
	ActionRemove Action = "remove"
	ActionAck    Action = "ack"
)

// InvocationEnvelope is the wire shape of an InvocationMessage or
// ExcludingInvocationMessage. ExcludedIDs is nil/empty for plain
// invocations.
type InvocationEnvelope struct {
	InvocationID uint64        `cbor:"1,keyasint"`
	Target       string        `cbor:"2,keyasint"`
	Arguments    []interface{} `cbor:"3,keyasint"`
	NonBlocking  bool          `cbor:"4,keyasint"`
	ExcludedIDs  []string      `cbor:"5,keyasint,omitempty"`
}

// ControlEnvelope is the wire shape of a ControlMessage.
type ControlEnvelope struct {
	Action       Action `cbor:"1,keyasint"`
	CorrelationID uint64 `cbor:"2,keyasint"`
	ConnectionID string `cbor:"3,keyasint"`
	GroupName    string `cbor:"4,keyasint"`
	OriginServer string `cbor:"5,keyasint"`
}

// Codec encodes/decodes both envelope shapes. It carries no state and
// is safe for concurrent use.
type Codec struct{}

// NewCodec returns a ready-to-use codec.
func NewCodec() *Codec { return &Codec{} }

// EncodeInvocation serializes an invocation envelope.
func (Codec) EncodeInvocation(env InvocationEnvelope) ([]byte, error) {
	b, err := cbor.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("wire: encode invocation: %w", err)
	}
	return b, nil
}

// DecodeInvocation deserializes an invocation envelope.
func (Codec) DecodeInvocation(data []byte) (InvocationEnvelope, error) {
	var env InvocationEnvelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return InvocationEnvelope{}, fmt.Errorf("wire: decode invocation: %w", err)
	}
	return env, nil
}

// EncodeControl serializes a control envelope.
func (Codec) EncodeControl(env ControlEnvelope) ([]byte, error) {
	b, err := cbor.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("wire: encode control: %w", err)
	}
	return b, nil
}

// DecodeControl deserializes a control envelope.
func (Codec) DecodeControl(data []byte) (ControlEnvelope, error) {
	var env ControlEnvelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return ControlEnvelope{}, fmt.Errorf("wire: decode control: %w", err)
	}
	return env, nil
}
