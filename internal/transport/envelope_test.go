package transport

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/hyperdex/internal/topology"
)

func TestEnvelopeEncodeDecodeRoundTrip(t *testing.T) {
	e := Envelope{
		VersionFrom: 3,
		VersionTo:   3,
		From:        topology.Entity{Space: 1, Subspace: 0, PrefixBits: 2, Mask: 0, Number: 0},
		To:          topology.Entity{Space: 1, Subspace: 0, PrefixBits: 2, Mask: 2, Number: 1},
		Type:        MsgChainPut,
		Payload:     []byte("hello"),
	}

	var buf bytes.Buffer
	require.NoError(t, WriteEnvelope(&buf, e))

	got, err := ReadEnvelope(&buf)
	require.NoError(t, err)
	assert.Equal(t, e, got)
}

func TestEnvelopeEmptyPayload(t *testing.T) {
	e := Envelope{Type: MsgReqGet}
	var buf bytes.Buffer
	require.NoError(t, WriteEnvelope(&buf, e))

	got, err := ReadEnvelope(&buf)
	require.NoError(t, err)
	assert.Empty(t, got.Payload)
	assert.Equal(t, MsgReqGet, got.Type)
}

func TestReadEnvelopeRejectsOversizeFrame(t *testing.T) {
	var lenBuf [4]byte
	lenBuf[0] = 0xff // absurdly large length
	lenBuf[1] = 0xff
	lenBuf[2] = 0xff
	lenBuf[3] = 0xff
	_, err := ReadEnvelope(bytes.NewReader(lenBuf[:]))
	assert.ErrorIs(t, err, ErrOversizePayload)
}

func TestReadEnvelopeTruncatedFrame(t *testing.T) {
	e := Envelope{Type: MsgReqGet, Payload: []byte("x")}
	full := e.Encode()
	_, err := ReadEnvelope(bytes.NewReader(full[:len(full)-1]))
	assert.Error(t, err)
}
