package datatype

import "bytes"

// String is the raw byte-string attribute type. Any byte sequence, including
// the empty string, is a valid value.
type String struct{}

func (String) Type() Type { return TypeString }

func (String) Validate(raw []byte) bool { return true }

func (s String) Apply(old []byte, muts []Mutation) ([]byte, error) {
	value := append([]byte(nil), old...)

	for _, m := range muts {
		switch m.Op {
		case OpSet:
			value = append([]byte(nil), m.Arg...)
		case OpStringAppend:
			value = append(value, m.Arg...)
		case OpStringPrepend:
			value = append(append([]byte(nil), m.Arg...), value...)
		default:
			return nil, ErrWrongAction
		}
	}

	return value, nil
}

func (String) Compare(a, b []byte) int {
	return bytes.Compare(a, b)
}
