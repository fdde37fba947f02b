package xfer

import (
	"bytes"
	"encoding/gob"

	"github.com/pkg/errors"
)

// Op distinguishes an XFER_DATA entry's mutation kind, mirroring the
// put/del split every chain message in internal/replication already makes.
type Op uint8

const (
	OpPut Op = iota
	OpDel
)

// moreRequestPayload is XFER_MORE: a bare request to begin (or resume)
// streaming, naming the transfer so a source juggling several concurrent
// transfers can tell them apart.
type moreRequestPayload struct {
	XferID uint64
}

// dataPayload is XFER_DATA(seq, op, version, key, value) from spec §4.H.
type dataPayload struct {
	XferID        uint64
	Seq           uint64
	Op            Op
	Version       uint64
	Key           string
	Value         []byte
	SecondaryHash uint64
}

// donePayload is XFER_DONE: the snapshot is exhausted.
type donePayload struct {
	XferID   uint64
	FinalSeq uint64
}

func encodePayload(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, errors.Wrap(err, "encode xfer payload")
	}
	return buf.Bytes(), nil
}

func decodePayload(raw []byte, v interface{}) error {
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(v); err != nil {
		return errors.Wrap(err, "decode xfer payload")
	}
	return nil
}
