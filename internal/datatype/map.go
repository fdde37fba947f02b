package datatype

import "bytes"

// Map is a sorted-by-key association from string keys to a scalar value
// type, serialized as (key, value) pairs in ascending key order. Keys use
// the string element encoding (length-prefixed); values use whichever
// elemCodec matches the map's value type.
//
// MAP_ADD's argument is itself a one-entry (or multi-entry) map
// serialization to merge in (overwriting existing keys); MAP_REMOVE's
// argument is a bare key to delete.
type Map struct {
	valueType  Type
	valueCodec elemCodec
}

func NewMapStringString() Map {
	return Map{valueType: TypeMapStringString, valueCodec: stringElemCodec{}}
}
func NewMapStringInt64() Map {
	return Map{valueType: TypeMapStringInt64, valueCodec: int64ElemCodec()}
}
func NewMapStringFloat() Map {
	return Map{valueType: TypeMapStringFloat, valueCodec: floatElemCodec()}
}

type mapEntry struct {
	key, value []byte
}

func (m Map) Type() Type { return m.valueType }

func (m Map) splitEntries(buf []byte) ([]mapEntry, bool) {
	keyCodec := stringElemCodec{}
	var out []mapEntry
	for len(buf) > 0 {
		key, rest, ok := keyCodec.step(buf)
		if !ok {
			return nil, false
		}
		value, rest2, ok := m.valueCodec.step(rest)
		if !ok {
			return nil, false
		}
		out = append(out, mapEntry{key: key, value: value})
		buf = rest2
	}
	return out, true
}

func (m Map) isSortedUniqueKeys(entries []mapEntry) bool {
	for i := 1; i < len(entries); i++ {
		if bytes.Compare(entries[i-1].key, entries[i].key) >= 0 {
			return false
		}
	}
	return true
}

func (m Map) Validate(raw []byte) bool {
	entries, ok := m.splitEntries(raw)
	if !ok {
		return false
	}
	return m.isSortedUniqueKeys(entries)
}

func (m Map) Apply(old []byte, muts []Mutation) ([]byte, error) {
	entries, ok := m.splitEntries(old)
	if !ok || !m.isSortedUniqueKeys(entries) {
		return nil, ErrMalformed
	}

	for _, mut := range muts {
		switch mut.Op {
		case OpSet:
			if len(mut.Arg) == 0 {
				entries = nil
				continue
			}
			newEntries, ok := m.splitEntries(mut.Arg)
			if !ok || !m.isSortedUniqueKeys(newEntries) {
				return nil, ErrMalformed
			}
			entries = newEntries
		case OpMapAdd:
			add, ok := m.splitEntries(mut.Arg)
			if !ok {
				return nil, ErrMalformed
			}
			for _, e := range add {
				if !m.valueCodec.validate(e.value) {
					return nil, ErrMalformed
				}
				entries = m.upsert(entries, e)
			}
		case OpMapRemove:
			// The argument is a bare key (string-encoded) to delete.
			key, rest, ok := (stringElemCodec{}).step(mut.Arg)
			if !ok || len(rest) != 0 {
				return nil, ErrMalformed
			}
			entries = m.removeKey(entries, key)
		default:
			return nil, ErrWrongAction
		}
	}

	return m.serialize(entries), nil
}

func (m Map) upsert(entries []mapEntry, e mapEntry) []mapEntry {
	i := 0
	for ; i < len(entries); i++ {
		c := bytes.Compare(entries[i].key, e.key)
		if c == 0 {
			out := append([]mapEntry(nil), entries...)
			out[i] = e
			return out
		}
		if c > 0 {
			break
		}
	}
	out := make([]mapEntry, 0, len(entries)+1)
	out = append(out, entries[:i]...)
	out = append(out, e)
	out = append(out, entries[i:]...)
	return out
}

func (m Map) removeKey(entries []mapEntry, key []byte) []mapEntry {
	out := make([]mapEntry, 0, len(entries))
	for _, e := range entries {
		if !bytes.Equal(e.key, key) {
			out = append(out, e)
		}
	}
	return out
}

func (m Map) serialize(entries []mapEntry) []byte {
	var out []byte
	_, valueIsString := m.valueCodec.(stringElemCodec)
	for _, e := range entries {
		out = appendStringElem(out, e.key)
		if valueIsString {
			out = appendStringElem(out, e.value)
		} else {
			out = append(out, e.value...)
		}
	}
	return out
}

// Compare orders two maps lexicographically by (key, value) pair, in
// ascending key order.
func (m Map) Compare(a, b []byte) int {
	ea, _ := m.splitEntries(a)
	eb, _ := m.splitEntries(b)
	for i := 0; i < len(ea) && i < len(eb); i++ {
		if c := bytes.Compare(ea[i].key, eb[i].key); c != 0 {
			return c
		}
		if c := m.valueCodec.compare(ea[i].value, eb[i].value); c != 0 {
			return c
		}
	}
	switch {
	case len(ea) < len(eb):
		return -1
	case len(ea) > len(eb):
		return 1
	default:
		return 0
	}
}
