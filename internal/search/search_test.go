package search

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/hyperdex/internal/datatype"
	"github.com/dreamware/hyperdex/internal/hyperspace"
	"github.com/dreamware/hyperdex/internal/storage"
	"github.com/dreamware/hyperdex/internal/topology"
)

// encodeI64 builds the raw big-endian wire form datatype.Int64 values take,
// mirroring how internal/datatype's own tests construct fixture values.
func encodeI64(v int64) []byte {
	var out [8]byte
	u := uint64(v)
	for i := 7; i >= 0; i-- {
		out[i] = byte(u)
		u >>= 8
	}
	return out[:]
}

func TestDecodeRowRoundTrip(t *testing.T) {
	row := [][]byte{[]byte("a"), []byte(""), []byte("ccc")}
	encoded := EncodeRow(row)
	decoded, err := DecodeRow(encoded, 3)
	require.NoError(t, err)
	assert.Equal(t, row, decoded)
}

func TestDecodeRowRejectsWrongCount(t *testing.T) {
	encoded := EncodeRow([][]byte{[]byte("a")})
	_, err := DecodeRow(encoded, 2)
	assert.ErrorIs(t, err, ErrMalformedRow)
}

func TestPredicateMatchesEqualityAndRange(t *testing.T) {
	pred := Predicate{Terms: []Term{
		{AttrIndex: 1, Type: datatype.TypeString, HasEq: true, Eq: []byte("red")},
		{AttrIndex: 2, Type: datatype.TypeInt64, HasLo: true, Lo: encodeI64(10), HasHi: true, Hi: encodeI64(20)},
	}}

	assert.True(t, pred.Matches([][]byte{[]byte("red"), encodeI64(15)}))
	assert.False(t, pred.Matches([][]byte{[]byte("blue"), encodeI64(15)}))
	assert.False(t, pred.Matches([][]byte{[]byte("red"), encodeI64(25)}))
}

func TestSelectSubspacePrefersTighterFullCoverage(t *testing.T) {
	schema := hyperspace.Schema{Subspaces: []hyperspace.SubspaceDef{
		{AttrIndexes: []int{0}},
		{AttrIndexes: []int{1, 2}},
		{AttrIndexes: []int{1}},
	}}
	pred := Predicate{Terms: []Term{{AttrIndex: 1, HasEq: true, Eq: []byte("x")}}}

	assert.Equal(t, 2, SelectSubspace(schema, pred), "subspace 2 covers attr 1 exactly; subspace 1 would leave attr 2 unconstrained")
}

func TestSelectSubspaceFallsBackToKeyOnlyWhenPredicateHasNoSecondaryAttrs(t *testing.T) {
	schema := hyperspace.Schema{Subspaces: []hyperspace.SubspaceDef{{AttrIndexes: []int{0}}, {AttrIndexes: []int{1}}}}
	assert.Equal(t, 0, SelectSubspace(schema, Predicate{}))
}

// fakeSnapshotter returns a fixed set of shard entries.
type fakeSnapshotter struct{ entries []storage.ShardEntry }

func (f *fakeSnapshotter) Snapshot() []storage.ShardEntry { return f.entries }

// makeEntries builds one 32-bit-bitmap-style region: n keys, each with a
// 32-attribute row of "0"/"1" strings encoding the key's own bit pattern,
// mirroring spec §8 scenario 5.
func makeEntries(n int) []storage.ShardEntry {
	entries := make([]storage.ShardEntry, n)
	for k := 0; k < n; k++ {
		row := make([][]byte, 32)
		for b := 0; b < 32; b++ {
			if k&(1<<uint(b)) != 0 {
				row[b] = []byte("1")
			} else {
				row[b] = []byte("0")
			}
		}
		entries[k] = storage.ShardEntry{
			Key:     []byte(fmt.Sprintf("key-%d", k)),
			Value:   EncodeRow(row),
			Version: 1,
		}
	}
	return entries
}

func TestExecutorFindsExactlyOneMatchAcross32AttributeEquality(t *testing.T) {
	entries := makeEntries(1024)
	target := 777

	terms := make([]Term, 32)
	for b := 0; b < 32; b++ {
		val := "0"
		if target&(1<<uint(b)) != 0 {
			val = "1"
		}
		terms[b] = Term{AttrIndex: b + 1, Type: datatype.TypeString, HasEq: true, Eq: []byte(val)}
	}
	pred := Predicate{Terms: terms}

	exec := NewExecutor(32, nil)
	matches, err := exec.Execute(context.Background(), pred, []MatchedRegion{
		{Entity: topology.Entity{Number: 0}, Store: &fakeSnapshotter{entries: entries}},
	})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, fmt.Sprintf("key-%d", target), matches[0].Key)
}

func TestExecutorFansOutAcrossMultipleRegionsAndSortsByKey(t *testing.T) {
	regionA := []storage.ShardEntry{{Key: []byte("bravo"), Value: EncodeRow([][]byte{[]byte("x")}), Version: 1}}
	regionB := []storage.ShardEntry{{Key: []byte("alpha"), Value: EncodeRow([][]byte{[]byte("x")}), Version: 1}}

	pred := Predicate{Terms: []Term{{AttrIndex: 1, Type: datatype.TypeString, HasEq: true, Eq: []byte("x")}}}
	exec := NewExecutor(1, nil)

	matches, err := exec.Execute(context.Background(), pred, []MatchedRegion{
		{Entity: topology.Entity{Number: 0}, Store: &fakeSnapshotter{entries: regionA}},
		{Entity: topology.Entity{Number: 1}, Store: &fakeSnapshotter{entries: regionB}},
	})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, []string{"alpha", "bravo"}, []string{matches[0].Key, matches[1].Key})
}

func TestExactSecondaryHashRequiresFullEqualityCoverage(t *testing.T) {
	def := hyperspace.SubspaceDef{AttrIndexes: []int{1, 2}, AttrTypes: []hyperspace.AttrType{hyperspace.AttrString, hyperspace.AttrString}}

	partial := Predicate{Terms: []Term{{AttrIndex: 1, HasEq: true, Eq: []byte("x")}}}
	_, ok, err := exactSecondaryHash(def, partial)
	require.NoError(t, err)
	assert.False(t, ok, "a term missing for attr 2 must not produce an exact point")

	full := Predicate{Terms: []Term{
		{AttrIndex: 1, HasEq: true, Eq: []byte("x")},
		{AttrIndex: 2, HasEq: true, Eq: []byte("y")},
	}}
	hashA, ok, err := exactSecondaryHash(def, full)
	require.NoError(t, err)
	require.True(t, ok)

	hashB, ok, err := exactSecondaryHash(def, full)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, hashA, hashB, "the same fully-covering predicate must resolve to the same point deterministically")

	rangeOnly := Predicate{Terms: []Term{
		{AttrIndex: 1, HasLo: true, Lo: []byte("a")},
		{AttrIndex: 2, HasEq: true, Eq: []byte("y")},
	}}
	_, ok, err = exactSecondaryHash(def, rangeOnly)
	require.NoError(t, err)
	assert.False(t, ok, "a range term never pins down an exact point")
}

func TestSessionPaginatesThenExhausts(t *testing.T) {
	s := NewSession([]Match{{Key: "a"}, {Key: "b"}})

	m, seq, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, "a", m.Key)
	assert.Equal(t, uint64(1), seq)

	m, seq, err = s.Next()
	require.NoError(t, err)
	assert.Equal(t, "b", m.Key)
	assert.Equal(t, uint64(2), seq)

	_, _, err = s.Next()
	assert.ErrorIs(t, err, ErrSessionExhausted)
}
