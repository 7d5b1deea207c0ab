package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecRoundTripsInvocationArguments(t *testing.T) {
	c := NewCodec()
	env := InvocationEnvelope{
		InvocationID: 42,
		Target:       "Echo",
		Arguments:    []interface{}{"hi", int64(7), true, 3.14, []interface{}{"nested"}},
		NonBlocking:  true,
	}

	data, err := c.EncodeInvocation(env)
	require.NoError(t, err)

	got, err := c.DecodeInvocation(data)
	require.NoError(t, err)

	assert.Equal(t, env.InvocationID, got.InvocationID)
	assert.Equal(t, env.Target, got.Target)
	assert.Equal(t, env.NonBlocking, got.NonBlocking)
	require.Len(t, got.Arguments, 5)
	assert.Equal(t, "hi", got.Arguments[0])
	assert.Equal(t, true, got.Arguments[2])
}

func TestCodecRoundTripsExcludedIDs(t *testing.T) {
	c := NewCodec()
	env := InvocationEnvelope{
		Target:      "Ping",
		Arguments:   []interface{}{},
		ExcludedIDs: []string{"B", "C"},
	}

	data, err := c.EncodeInvocation(env)
	require.NoError(t, err)

	got, err := c.DecodeInvocation(data)
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "C"}, got.ExcludedIDs)
}

func TestCodecRoundTripsControlEnvelope(t *testing.T) {
	c := NewCodec()
	env := ControlEnvelope{
		Action:        ActionAdd,
		CorrelationID: 9,
		ConnectionID:  "B",
		GroupName:     "g",
		OriginServer:  "server-1",
	}

	data, err := c.EncodeControl(env)
	require.NoError(t, err)

	got, err := c.DecodeControl(data)
	require.NoError(t, err)
	assert.Equal(t, env, got)
}

func TestCodecRejectsGarbage(t *testing.T) {
	c := NewCodec()
	_, err := c.DecodeInvocation([]byte("not cbor"))
	assert.Error(t, err)
}
