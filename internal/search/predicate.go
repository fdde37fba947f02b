package search

import (
	"github.com/dreamware/hyperdex/internal/datatype"
	"github.com/dreamware/hyperdex/internal/hyperspace"
)

// Term is one conjunct of a predicate, constraining a single secondary
// attribute (by its index into the space's schema, attribute 0 excluded —
// search never constrains the key attribute itself, per spec §4.I's
// restriction to secondary attributes) to either an exact value or a
// [Lo, Hi] range. HasLo/HasHi allow one-sided ranges.
type Term struct {
	AttrIndex int
	Type      datatype.Type

	HasEq bool
	Eq    []byte

	HasLo bool
	Lo    []byte
	HasHi bool
	Hi    []byte
}

func (t Term) matches(value []byte) bool {
	v := datatype.ForType(t.Type)
	if t.HasEq {
		return v.Compare(value, t.Eq) == 0
	}
	if t.HasLo && v.Compare(value, t.Lo) < 0 {
		return false
	}
	if t.HasHi && v.Compare(value, t.Hi) > 0 {
		return false
	}
	return true
}

// Predicate is a conjunction of Terms — spec §4.I's "conjunctive
// predicate".
type Predicate struct {
	Terms []Term
}

// attrSet returns the set of attribute indexes this predicate constrains.
func (p Predicate) attrSet() map[int]struct{} {
	out := make(map[int]struct{}, len(p.Terms))
	for _, t := range p.Terms {
		out[t.AttrIndex] = struct{}{}
	}
	return out
}

func (p Predicate) term(attrIndex int) (Term, bool) {
	for _, t := range p.Terms {
		if t.AttrIndex == attrIndex {
			return t, true
		}
	}
	return Term{}, false
}

// Matches evaluates every term against row, a decoded attribute-value
// vector indexed the same way Term.AttrIndex is (attribute 0 = key,
// excluded from row; row[i] holds the value for schema attribute i+1).
func (p Predicate) Matches(row [][]byte) bool {
	for _, t := range p.Terms {
		idx := t.AttrIndex - 1
		if idx < 0 || idx >= len(row) {
			return false
		}
		if !t.matches(row[idx]) {
			return false
		}
	}
	return true
}

// SelectSubspace picks the subspace def (by index into schema.Subspaces)
// whose attribute set has the largest overlap with pred's constrained
// attributes, breaking ties toward the subspace with fewer attributes (the
// tighter fit — spec §4.I: "best covers"). Subspace 0 (the key-only
// subspace) is only selected when pred constrains no secondary attribute
// at all, since it cannot narrow a search on secondary attributes any
// further than a full scan would.
func SelectSubspace(schema hyperspace.Schema, pred Predicate) int {
	attrs := pred.attrSet()
	if len(attrs) == 0 {
		return 0
	}

	best := -1
	bestOverlap := -1
	bestSize := 0
	for s, def := range schema.Subspaces {
		if s == 0 {
			continue
		}
		overlap := 0
		for _, idx := range def.AttrIndexes {
			if _, ok := attrs[idx]; ok {
				overlap++
			}
		}
		if overlap == 0 {
			continue
		}
		if overlap > bestOverlap || (overlap == bestOverlap && len(def.AttrIndexes) < bestSize) {
			best = s
			bestOverlap = overlap
			bestSize = len(def.AttrIndexes)
		}
	}
	if best < 0 {
		return 0
	}
	return best
}

// fullyCovers reports whether pred has an equality term for every
// attribute def constrains, meaning the predicate pins down a single exact
// point in this subspace's hash space.
func fullyCovers(def hyperspace.SubspaceDef, pred Predicate) ([][]byte, bool) {
	values := make([][]byte, len(def.AttrIndexes))
	for i, idx := range def.AttrIndexes {
		t, ok := pred.term(idx)
		if !ok || !t.HasEq {
			return nil, false
		}
		values[i] = t.Eq
	}
	return values, true
}

// exactSecondaryHash computes the single secondary hash def's attributes
// resolve to when pred fully covers it, for a point lookup via
// topology.Configuration.FindRegion instead of a subspace-wide scan.
func exactSecondaryHash(def hyperspace.SubspaceDef, pred Predicate) (uint64, bool, error) {
	eqValues, ok := fullyCovers(def, pred)
	if !ok {
		return 0, false, nil
	}
	perAttr := make([]uint64, len(def.AttrIndexes))
	for i, t := range def.AttrTypes {
		h, err := hyperspace.Encode(t, eqValues[i])
		if err != nil {
			return 0, false, err
		}
		perAttr[i] = h
	}
	return hyperspace.Interleave(perAttr), true, nil
}
