package datatype

import (
	"encoding/binary"
	"math"
)

// Int64 is the signed 64-bit integer attribute type. Values serialize as 8
// raw bytes, big-endian, matching the big-endian convention the rest of this
// module (and internal/hyperspace's decode helpers) standardize on.
type Int64 struct{}

func (Int64) Type() Type { return TypeInt64 }

func (Int64) Validate(raw []byte) bool {
	return len(raw) == 8
}

func (i Int64) Apply(old []byte, muts []Mutation) ([]byte, error) {
	var number int64
	if len(old) > 0 {
		if !i.Validate(old) {
			return nil, ErrMalformed
		}
		number = int64(binary.BigEndian.Uint64(old))
	}

	for _, m := range muts {
		if !i.Validate(m.Arg) {
			return nil, ErrMalformed
		}
		arg := int64(binary.BigEndian.Uint64(m.Arg))

		var err error
		switch m.Op {
		case OpSet:
			number = arg
		case OpNumAdd:
			number, err = safeAdd(number, arg)
		case OpNumSub:
			number, err = safeSub(number, arg)
		case OpNumMul:
			number, err = safeMul(number, arg)
		case OpNumDiv:
			number, err = safeDiv(number, arg)
		case OpNumMod:
			number, err = safeMod(number, arg)
		case OpNumAnd:
			number &= arg
		case OpNumOr:
			number |= arg
		case OpNumXor:
			number ^= arg
		default:
			return nil, ErrWrongAction
		}
		if err != nil {
			return nil, err
		}
	}

	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, uint64(number))
	return out, nil
}

func (Int64) Compare(a, b []byte) int {
	va := int64(binary.BigEndian.Uint64(a))
	vb := int64(binary.BigEndian.Uint64(b))
	switch {
	case va < vb:
		return -1
	case va > vb:
		return 1
	default:
		return 0
	}
}

func safeAdd(a, b int64) (int64, error) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, ErrOverflow
	}
	return sum, nil
}

func safeSub(a, b int64) (int64, error) {
	if b == math.MinInt64 {
		return 0, ErrOverflow
	}
	return safeAdd(a, -b)
}

func safeMul(a, b int64) (int64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	if (a == math.MinInt64 && b == -1) || (b == math.MinInt64 && a == -1) {
		return 0, ErrOverflow
	}
	p := a * b
	if p/b != a {
		return 0, ErrOverflow
	}
	return p, nil
}

func safeDiv(a, b int64) (int64, error) {
	if b == 0 || (a == math.MinInt64 && b == -1) {
		return 0, ErrOverflow
	}
	return a / b, nil
}

func safeMod(a, b int64) (int64, error) {
	if b == 0 || (a == math.MinInt64 && b == -1) {
		return 0, ErrOverflow
	}
	return a % b, nil
}
