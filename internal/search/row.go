package search

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// ErrMalformedRow is returned by DecodeRow when value does not contain the
// expected number of well-formed attribute elements.
var ErrMalformedRow = errors.New("search: malformed row encoding")

// EncodeRow serializes a space object's secondary attribute values (key
// excluded — it is carried separately by storage.ShardEntry.Key) into the
// single opaque blob internal/region stores per key: each attribute
// length-prefixed by a big-endian uint32, the same framing
// internal/datatype's string element codec uses for collection elements.
func EncodeRow(attrs [][]byte) []byte {
	var out []byte
	var lenBuf [4]byte
	for _, a := range attrs {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(a)))
		out = append(out, lenBuf[:]...)
		out = append(out, a...)
	}
	return out
}

// DecodeRow splits a row blob back into exactly want attribute values.
func DecodeRow(value []byte, want int) ([][]byte, error) {
	out := make([][]byte, 0, want)
	for len(value) > 0 {
		if len(value) < 4 {
			return nil, ErrMalformedRow
		}
		n := binary.BigEndian.Uint32(value)
		value = value[4:]
		if uint64(len(value)) < uint64(n) {
			return nil, ErrMalformedRow
		}
		out = append(out, value[:n])
		value = value[n:]
	}
	if len(out) != want {
		return nil, ErrMalformedRow
	}
	return out, nil
}
