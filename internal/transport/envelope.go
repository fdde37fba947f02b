package transport

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/dreamware/hyperdex/internal/topology"
)

// MsgType identifies the payload carried by an Envelope, per spec §6's
// selected message-type list.
type MsgType uint8

const (
	MsgReqGet MsgType = iota + 1
	MsgRespGet
	MsgReqPut
	MsgReqDel
	MsgRespStatus
	MsgReqSearchStart
	MsgReqSearchNext
	MsgReqSearchStop
	MsgRespSearchItem
	MsgChainPut
	MsgChainDel
	MsgChainSubspace
	MsgChainPending
	MsgChainAck
	MsgXferMore
	MsgXferData
	MsgXferDone
)

// lengthPrefixBytes is the 4-byte big-endian length prefix spec §6
// specifies ahead of every framed message.
const lengthPrefixBytes = 4

// headerBytes is the fixed portion of an Envelope after the length
// prefix: u8 msg_type, u16 from_version, u16 to_version, then the two
// fixed-size serialized entities.
const headerBytes = 1 + 2 + 2 + 2*topology.EntitySize

// MaxPayloadBytes bounds an accepted payload so a corrupt or hostile
// length prefix cannot force an unbounded allocation.
const MaxPayloadBytes = 64 << 20

var (
	// ErrOversizePayload is returned by Read when the framed length
	// exceeds MaxPayloadBytes.
	ErrOversizePayload = errors.New("transport: payload exceeds maximum frame size")
)

// Envelope is the logical-transport message shape from spec §4.F: every
// message carries a version range, a source and destination entity, a
// message type, and an opaque payload. There is no at-most-once or
// in-order guarantee across different (From, To) pairs — callers above
// this package must be idempotent under retransmission and reordering.
type Envelope struct {
	VersionFrom uint16
	VersionTo   uint16
	From        topology.Entity
	To          topology.Entity
	Type        MsgType
	Payload     []byte
}

// Encode serializes e into the §6 wire form: a 4-byte big-endian length
// followed by the header and payload.
func (e Envelope) Encode() []byte {
	buf := make([]byte, lengthPrefixBytes+headerBytes+len(e.Payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(headerBytes+len(e.Payload)))

	body := buf[lengthPrefixBytes:]
	body[0] = byte(e.Type)
	binary.BigEndian.PutUint16(body[1:3], e.VersionFrom)
	binary.BigEndian.PutUint16(body[3:5], e.VersionTo)
	from := e.From.Encode()
	copy(body[5:5+topology.EntitySize], from[:])
	to := e.To.Encode()
	copy(body[5+topology.EntitySize:5+2*topology.EntitySize], to[:])
	copy(body[headerBytes:], e.Payload)
	return buf
}

// ReadEnvelope reads exactly one framed message from r.
func ReadEnvelope(r io.Reader) (Envelope, error) {
	var lenBuf [lengthPrefixBytes]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Envelope{}, err
	}
	frameLen := binary.BigEndian.Uint32(lenBuf[:])
	if frameLen > MaxPayloadBytes {
		return Envelope{}, ErrOversizePayload
	}
	if frameLen < headerBytes {
		return Envelope{}, errors.New("transport: frame shorter than header")
	}

	body := make([]byte, frameLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return Envelope{}, err
	}

	msgType := MsgType(body[0])
	versionFrom := binary.BigEndian.Uint16(body[1:3])
	versionTo := binary.BigEndian.Uint16(body[3:5])
	from, err := topology.DecodeEntity(body[5 : 5+topology.EntitySize])
	if err != nil {
		return Envelope{}, errors.Wrap(err, "transport: decode from entity")
	}
	to, err := topology.DecodeEntity(body[5+topology.EntitySize : 5+2*topology.EntitySize])
	if err != nil {
		return Envelope{}, errors.Wrap(err, "transport: decode to entity")
	}
	payload := append([]byte(nil), body[headerBytes:]...)

	return Envelope{
		VersionFrom: versionFrom,
		VersionTo:   versionTo,
		From:        from,
		To:          to,
		Type:        msgType,
		Payload:     payload,
	}, nil
}

// WriteEnvelope writes e to w in its §6 wire form.
func WriteEnvelope(w io.Writer, e Envelope) error {
	_, err := w.Write(e.Encode())
	return err
}
