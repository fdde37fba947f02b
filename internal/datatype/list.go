package datatype

// List is an ordered sequence of scalar elements, serialized as elements
// back-to-back in list order (front to back). Supports SET (replace the
// whole list, or clear it with an empty SET), LPUSH (prepend), and RPUSH
// (append). Grounded on the source's datatypes/list.cc: apply_list's
// std::list<e::slice> staging buffer becomes a [][]byte built from
// splitElems, mutated, then re-serialized in order.
type List struct {
	elemType Type
	codec    elemCodec
}

func NewListString() List { return List{elemType: TypeListString, codec: stringElemCodec{}} }
func NewListInt64() List  { return List{elemType: TypeListInt64, codec: int64ElemCodec()} }
func NewListFloat() List  { return List{elemType: TypeListFloat, codec: floatElemCodec()} }

func (l List) Type() Type { return l.elemType }

func (l List) Validate(raw []byte) bool {
	_, ok := splitElems(l.codec, raw)
	return ok
}

func (l List) Apply(old []byte, muts []Mutation) ([]byte, error) {
	elems, ok := splitElems(l.codec, old)
	if !ok {
		return nil, ErrMalformed
	}

	for _, m := range muts {
		switch m.Op {
		case OpSet:
			if len(m.Arg) == 0 {
				elems = nil
				continue
			}
			newElems, ok := splitElems(l.codec, m.Arg)
			if !ok {
				return nil, ErrMalformed
			}
			elems = newElems
		case OpListLPush:
			if !l.codec.validate(m.Arg) {
				return nil, ErrMalformed
			}
			elems = append([][]byte{append([]byte(nil), m.Arg...)}, elems...)
		case OpListRPush:
			if !l.codec.validate(m.Arg) {
				return nil, ErrMalformed
			}
			elems = append(elems, append([]byte(nil), m.Arg...))
		default:
			return nil, ErrWrongAction
		}
	}

	return l.serialize(elems), nil
}

func (l List) serialize(elems [][]byte) []byte {
	var out []byte
	if _, isString := l.codec.(stringElemCodec); isString {
		for _, e := range elems {
			out = appendStringElem(out, e)
		}
		return out
	}
	for _, e := range elems {
		out = append(out, e...)
	}
	return out
}

// Compare orders two lists lexicographically by element, matching how the
// sorted collection types (set, map) compare their members.
func (l List) Compare(a, b []byte) int {
	ea, _ := splitElems(l.codec, a)
	eb, _ := splitElems(l.codec, b)
	for i := 0; i < len(ea) && i < len(eb); i++ {
		if c := l.codec.compare(ea[i], eb[i]); c != 0 {
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
