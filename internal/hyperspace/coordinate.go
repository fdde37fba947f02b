package hyperspace

// AttrType identifies which ordered encoding applies to an attribute value.
// This mirrors datatype.Type but hyperspace must not import datatype (it
// would create an import cycle: datatype's Apply needs no hashing, but
// callers that hash a datatype.Value need to know its AttrType), so the enum
// is duplicated at the boundary. cmd/daemon wires the two together.
type AttrType int

const (
	AttrString AttrType = iota
	AttrInt64
	AttrFloat64
)

// Encode dispatches to the datatype-specific ordered encoding. List/set/map
// attributes are not directly hashed into the hyperspace coordinate in this
// implementation — per spec, only scalar attributes participate in a
// subspace's bitmask; collection attributes may be *key* attributes of a
// space but are excluded from subspace coordinate computation, matching the
// original implementation's restriction to scalar dimensions for hashing.
func Encode(t AttrType, raw []byte) (uint64, error) {
	switch t {
	case AttrString:
		return EncodeString(raw), nil
	case AttrInt64:
		v, err := decodeInt64Bytes(raw)
		if err != nil {
			return 0, err
		}
		return EncodeInt64(v), nil
	case AttrFloat64:
		v, err := decodeFloat64Bytes(raw)
		if err != nil {
			return 0, err
		}
		return EncodeFloat64(v), nil
	default:
		return 0, errUnknownAttrType
	}
}

// Schema is the minimal shape hyperspace needs to compute coordinates: for
// each subspace, which attribute indices and types participate, in
// ascending attribute-index order (the order the spec's bitmask implies).
type Schema struct {
	// Subspaces[0] stands for the key-only subspace; Coordinate hashes
	// values[0] (the key) for it and does not read its AttrIndexes.
	Subspaces []SubspaceDef
}

// SubspaceDef names the attributes (by schema index and type) that
// participate in one subspace's coordinate.
type SubspaceDef struct {
	AttrIndexes []int
	AttrTypes   []AttrType
}

// Coordinate computes a key's primary hash and, for every subspace beyond
// subspace 0, that subspace's secondary hash — the pure function contract
// of spec §4.A: "coordinate(schema, key, value) -> (primary_hash,
// secondary_hash_per_subspace)".
//
// values[0] is the key's own bytes (attribute 0); values[i] for i>0 are the
// secondary attribute values in schema order.
func Coordinate(schema Schema, values [][]byte) (primaryHash uint64, secondaryHashes []uint64, err error) {
	if len(schema.Subspaces) == 0 {
		return 0, nil, errEmptySchema
	}

	primaryHash = EncodeString(values[0])

	secondaryHashes = make([]uint64, len(schema.Subspaces))
	for s, def := range schema.Subspaces {
		if s == 0 {
			// Subspace 0 holds exactly the key dimension; its "secondary"
			// hash is the primary hash by convention so callers can treat
			// every subspace uniformly.
			secondaryHashes[0] = primaryHash
			continue
		}

		perAttr := make([]uint64, len(def.AttrIndexes))
		for i, attrIdx := range def.AttrIndexes {
			if attrIdx >= len(values) {
				return 0, nil, errAttrIndexOutOfRange
			}
			h, encErr := Encode(def.AttrTypes[i], values[attrIdx])
			if encErr != nil {
				return 0, nil, encErr
			}
			perAttr[i] = h
		}
		secondaryHashes[s] = Interleave(perAttr)
	}

	return primaryHash, secondaryHashes, nil
}
