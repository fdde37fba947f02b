package datatype

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeStrings(t *testing.T, raw []byte) []string {
	t.Helper()
	elems, ok := splitElems(stringElemCodec{}, raw)
	require.True(t, ok)
	out := make([]string, len(elems))
	for i, e := range elems {
		out[i] = string(e)
	}
	return out
}

func TestSetAddKeepsSortedUnique(t *testing.T) {
	s := NewSetString()
	out, err := s.Apply(nil, []Mutation{
		{Op: OpSetAdd, Arg: []byte("banana")},
		{Op: OpSetAdd, Arg: []byte("apple")},
		{Op: OpSetAdd, Arg: []byte("banana")}, // duplicate, no-op
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"apple", "banana"}, decodeStrings(t, out))
}

func TestSetRemove(t *testing.T) {
	s := NewSetString()
	seeded, err := s.Apply(nil, []Mutation{
		{Op: OpSetAdd, Arg: []byte("a")},
		{Op: OpSetAdd, Arg: []byte("b")},
	})
	require.NoError(t, err)

	out, err := s.Apply(seeded, []Mutation{{Op: OpSetRemove, Arg: []byte("a")}})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, decodeStrings(t, out))
}

func TestSetUnion(t *testing.T) {
	s := NewSetString()
	a, err := s.Apply(nil, []Mutation{{Op: OpSetAdd, Arg: []byte("a")}, {Op: OpSetAdd, Arg: []byte("c")}})
	require.NoError(t, err)
	b, err := s.Apply(nil, []Mutation{{Op: OpSetAdd, Arg: []byte("b")}, {Op: OpSetAdd, Arg: []byte("c")}})
	require.NoError(t, err)

	out, err := s.Apply(a, []Mutation{{Op: OpSetUnion, Arg: b}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, decodeStrings(t, out))
}

func TestSetIntersect(t *testing.T) {
	s := NewSetString()
	a, err := s.Apply(nil, []Mutation{{Op: OpSetAdd, Arg: []byte("a")}, {Op: OpSetAdd, Arg: []byte("c")}})
	require.NoError(t, err)
	b, err := s.Apply(nil, []Mutation{{Op: OpSetAdd, Arg: []byte("b")}, {Op: OpSetAdd, Arg: []byte("c")}})
	require.NoError(t, err)

	out, err := s.Apply(a, []Mutation{{Op: OpSetIntersect, Arg: b}})
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, decodeStrings(t, out))
}

func TestSetUnionMalformedArgumentRejected(t *testing.T) {
	s := NewSetString()
	// Unsorted argument is not a valid sorted-set serialization.
	badArg := appendStringElem(appendStringElem(nil, []byte("b")), []byte("a"))
	_, err := s.Apply(nil, []Mutation{{Op: OpSetUnion, Arg: badArg}})
	assert.ErrorIs(t, err, ErrMalformed)
}
