package datatype

import "encoding/binary"

// elemCodec steps one element off the front of a wire-encoded collection
// buffer, validates a raw element's bytes, and re-serializes an element for
// writing — the three primitives list.cc's step_TYPE/validate_as_TYPE/
// write_TYPE macros expand to for each scalar type.
type elemCodec interface {
	// step consumes one element from the front of buf, returning the
	// element's raw bytes and the remaining buffer. ok is false if buf does
	// not begin with a well-formed element.
	step(buf []byte) (elem, rest []byte, ok bool)
	validate(elem []byte) bool
	compare(a, b []byte) int
}

// stringElemCodec encodes string elements as a big-endian uint32 length
// prefix followed by that many raw bytes, so zero-length and embedded-NUL
// elements round-trip exactly.
type stringElemCodec struct{}

func (stringElemCodec) step(buf []byte) ([]byte, []byte, bool) {
	if len(buf) < 4 {
		return nil, nil, false
	}
	n := binary.BigEndian.Uint32(buf)
	buf = buf[4:]
	if uint64(len(buf)) < uint64(n) {
		return nil, nil, false
	}
	return buf[:n], buf[n:], true
}

func (stringElemCodec) validate([]byte) bool { return true }

func (stringElemCodec) compare(a, b []byte) int {
	return String{}.Compare(a, b)
}

func appendStringElem(dst, elem []byte) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(elem)))
	dst = append(dst, lenBuf[:]...)
	return append(dst, elem...)
}

// fixed8ElemCodec handles the two fixed-width 8-byte scalar element types,
// int64 and float, whose wire form needs no length prefix.
type fixed8ElemCodec struct {
	cmp func(a, b []byte) int
}

func (fixed8ElemCodec) step(buf []byte) ([]byte, []byte, bool) {
	if len(buf) < 8 {
		return nil, nil, false
	}
	return buf[:8], buf[8:], true
}

func (fixed8ElemCodec) validate(elem []byte) bool { return len(elem) == 8 }

func (c fixed8ElemCodec) compare(a, b []byte) int { return c.cmp(a, b) }

func int64ElemCodec() fixed8ElemCodec  { return fixed8ElemCodec{cmp: Int64{}.Compare} }
func floatElemCodec() fixed8ElemCodec  { return fixed8ElemCodec{cmp: Float{}.Compare} }

// splitElems decodes an entire wire-encoded collection into its elements,
// failing if any trailing bytes do not form a complete element.
func splitElems(codec elemCodec, buf []byte) ([][]byte, bool) {
	var out [][]byte
	for len(buf) > 0 {
		elem, rest, ok := codec.step(buf)
		if !ok {
			return nil, false
		}
		out = append(out, elem)
		buf = rest
	}
	return out, true
}
