package hyperspace

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

var (
	errUnknownAttrType     = errors.New("hyperspace: unknown attribute type")
	errEmptySchema         = errors.New("hyperspace: schema has no subspaces")
	errAttrIndexOutOfRange = errors.New("hyperspace: attribute index out of range for value vector")
	errShortInt64          = errors.New("hyperspace: int64 value must be 8 bytes")
	errShortFloat64        = errors.New("hyperspace: float64 value must be 8 bytes")
)

// decodeInt64Bytes reads the big-endian int64 wire encoding used by
// datatype.Int64's serialization (see internal/datatype/int64.go).
func decodeInt64Bytes(raw []byte) (int64, error) {
	if len(raw) != 8 {
		return 0, errShortInt64
	}
	return int64(binary.BigEndian.Uint64(raw)), nil
}

// decodeFloat64Bytes reads the big-endian float64 wire encoding used by
// datatype.Float's serialization.
func decodeFloat64Bytes(raw []byte) (float64, error) {
	if len(raw) != 8 {
		return 0, errShortFloat64
	}
	return math.Float64frombits(binary.BigEndian.Uint64(raw)), nil
}
