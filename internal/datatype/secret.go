package datatype

import "bytes"

// SecretString is a string subtype that only ever accepts SET — every other
// mutation fails WRONGACTION regardless of argument type or well-formedness.
//
// Grounded on the source's datatype_macaroon_secret: byte-for-byte identical
// to a plain string (same Validate, same wire form) except check_args
// rejects every funcall but FUNC_SET, which the rewrite generalizes into a
// named type so any "secret" or "token" attribute in a schema gets the same
// restriction without a bespoke type per use case.
type SecretString struct{}

func (SecretString) Type() Type { return TypeSecretString }

func (SecretString) Validate(raw []byte) bool { return true }

func (s SecretString) Apply(old []byte, muts []Mutation) ([]byte, error) {
	value := append([]byte(nil), old...)

	for _, m := range muts {
		if m.Op != OpSet {
			return nil, ErrWrongAction
		}
		value = append([]byte(nil), m.Arg...)
	}

	return value, nil
}

func (SecretString) Compare(a, b []byte) int {
	return bytes.Compare(a, b)
}
