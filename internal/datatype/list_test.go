package datatype

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListStringPushOrder(t *testing.T) {
	l := NewListString()
	out, err := l.Apply(nil, []Mutation{
		{Op: OpListRPush, Arg: []byte("b")},
		{Op: OpListLPush, Arg: []byte("a")},
		{Op: OpListRPush, Arg: []byte("c")},
	})
	require.NoError(t, err)

	elems, ok := splitElems(stringElemCodec{}, out)
	require.True(t, ok)
	require.Len(t, elems, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{string(elems[0]), string(elems[1]), string(elems[2])})
}

func TestListStringSetEmptyClears(t *testing.T) {
	l := NewListString()
	seeded, err := l.Apply(nil, []Mutation{{Op: OpListRPush, Arg: []byte("x")}})
	require.NoError(t, err)

	cleared, err := l.Apply(seeded, []Mutation{{Op: OpSet, Arg: nil}})
	require.NoError(t, err)
	assert.Empty(t, cleared)
}

func TestListInt64RoundTrip(t *testing.T) {
	l := NewListInt64()
	out, err := l.Apply(nil, []Mutation{
		{Op: OpListRPush, Arg: i64bytes(1)},
		{Op: OpListRPush, Arg: i64bytes(2)},
	})
	require.NoError(t, err)
	assert.True(t, l.Validate(out))
}

func TestListMalformedArgRejected(t *testing.T) {
	l := NewListInt64()
	_, err := l.Apply(nil, []Mutation{{Op: OpListRPush, Arg: []byte("short")}})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestListWrongAction(t *testing.T) {
	l := NewListString()
	_, err := l.Apply(nil, []Mutation{{Op: OpNumAdd, Arg: i64bytes(1)}})
	assert.ErrorIs(t, err, ErrWrongAction)
}
