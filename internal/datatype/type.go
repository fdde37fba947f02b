package datatype

// Type identifies an attribute's datatype. Scalars participate in hyperspace
// coordinate hashing (see internal/hyperspace); collections do not.
type Type int

const (
	TypeString Type = iota
	TypeInt64
	TypeFloat
	TypeListString
	TypeListInt64
	TypeListFloat
	TypeSetString
	TypeSetInt64
	TypeSetFloat
	TypeMapStringString
	TypeMapStringInt64
	TypeMapStringFloat
	// TypeSecretString is a string subtype that only ever accepts SET; all
	// other mutations fail WRONGACTION regardless of argument. Grounded on
	// the source's datatype_macaroon_secret, which is byte-for-byte a
	// string except its check_args rejects every funcall but FUNC_SET.
	TypeSecretString
)

func (t Type) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeInt64:
		return "int64"
	case TypeFloat:
		return "float"
	case TypeListString:
		return "list(string)"
	case TypeListInt64:
		return "list(int64)"
	case TypeListFloat:
		return "list(float)"
	case TypeSetString:
		return "set(string)"
	case TypeSetInt64:
		return "set(int64)"
	case TypeSetFloat:
		return "set(float)"
	case TypeMapStringString:
		return "map(string,string)"
	case TypeMapStringInt64:
		return "map(string,int64)"
	case TypeMapStringFloat:
		return "map(string,float)"
	case TypeSecretString:
		return "secret"
	default:
		return "unknown"
	}
}

// Op names a mutation function, the Go equivalent of the source's funcall
// names (FUNC_SET, FUNC_NUM_ADD, ...).
type Op int

const (
	OpSet Op = iota
	OpNumAdd
	OpNumSub
	OpNumMul
	OpNumDiv
	OpNumMod
	OpNumAnd
	OpNumOr
	OpNumXor
	OpStringPrepend
	OpStringAppend
	OpListLPush
	OpListRPush
	OpSetAdd
	OpSetRemove
	OpSetUnion
	OpSetIntersect
	OpMapAdd
	OpMapRemove
)

// Mutation pairs a mutation op with its raw, wire-encoded argument.
type Mutation struct {
	Op  Op
	Arg []byte
}

// Value is the common contract every attribute datatype satisfies.
// Implementations are stateless: they operate on raw wire-encoded byte
// slices, never on a decoded Go value held across calls, so a Value can be
// a package-level singleton reused by every key and region.
type Value interface {
	// Type reports this implementation's Type constant.
	Type() Type

	// Validate reports whether raw is a well-formed serialization of this
	// type. Apply and Coordinate callers must reject malformed values
	// before they ever reach storage.
	Validate(raw []byte) bool

	// Apply atomically applies a list of mutations to old, in order,
	// producing the new serialization. old may be nil, representing an
	// absent/never-set attribute. On any error no partial mutation is
	// visible: Apply either returns the fully-mutated value or an error,
	// never a partially-applied buffer.
	Apply(old []byte, muts []Mutation) ([]byte, error)

	// Compare defines the total order used for list/set element ordering
	// and for range-query comparisons over this type's raw encoding.
	Compare(a, b []byte) int
}
