package datatype

import (
	"encoding/binary"
	"math"
)

// Float is the IEEE-754 double attribute type, serialized as 8 raw
// big-endian bytes (the bit pattern of math.Float64bits, not the
// order-preserving hyperspace encoding — that re-encoding is computed on
// demand by internal/hyperspace.EncodeFloat64 from these same 8 bytes).
type Float struct{}

func (Float) Type() Type { return TypeFloat }

func (Float) Validate(raw []byte) bool {
	return len(raw) == 8
}

func (f Float) Apply(old []byte, muts []Mutation) ([]byte, error) {
	var number float64
	if len(old) > 0 {
		if !f.Validate(old) {
			return nil, ErrMalformed
		}
		number = math.Float64frombits(binary.BigEndian.Uint64(old))
	}

	for _, m := range muts {
		if !f.Validate(m.Arg) {
			return nil, ErrMalformed
		}
		arg := math.Float64frombits(binary.BigEndian.Uint64(m.Arg))

		switch m.Op {
		case OpSet:
			number = arg
		case OpNumAdd:
			number += arg
		case OpNumSub:
			number -= arg
		case OpNumMul:
			number *= arg
		case OpNumDiv:
			if arg == 0 {
				return nil, ErrOverflow
			}
			number /= arg
		default:
			// NUM_MOD/AND/OR/XOR and every non-numeric mutation are
			// undefined for floating point, matching the source's
			// datatype_float which only implements SET and the four
			// arithmetic operators.
			return nil, ErrWrongAction
		}
		if math.IsInf(number, 0) {
			return nil, ErrOverflow
		}
	}

	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, math.Float64bits(number))
	return out, nil
}

func (Float) Compare(a, b []byte) int {
	va := math.Float64frombits(binary.BigEndian.Uint64(a))
	vb := math.Float64frombits(binary.BigEndian.Uint64(b))
	switch {
	case va < vb:
		return -1
	case va > vb:
		return 1
	default:
		return 0
	}
}
