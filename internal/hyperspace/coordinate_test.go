package hyperspace

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func int64Bytes(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func TestCoordinateKeyOnlySchema(t *testing.T) {
	schema := Schema{Subspaces: []SubspaceDef{{}}}
	primary, secondary, err := Coordinate(schema, [][]byte{[]byte("mykey")})
	require.NoError(t, err)
	assert.Equal(t, EncodeString([]byte("mykey")), primary)
	require.Len(t, secondary, 1)
	assert.Equal(t, primary, secondary[0])
}

func TestCoordinateMultiSubspace(t *testing.T) {
	schema := Schema{
		Subspaces: []SubspaceDef{
			{}, // subspace 0: key only
			{AttrIndexes: []int{1}, AttrTypes: []AttrType{AttrInt64}},
			{AttrIndexes: []int{1, 2}, AttrTypes: []AttrType{AttrInt64, AttrString}},
		},
	}
	values := [][]byte{
		[]byte("k1"),
		int64Bytes(42),
		[]byte("hello"),
	}
	primary, secondary, err := Coordinate(schema, values)
	require.NoError(t, err)
	require.Len(t, secondary, 3)
	assert.Equal(t, primary, secondary[0])

	wantSub1 := Interleave([]uint64{EncodeInt64(42)})
	assert.Equal(t, wantSub1, secondary[1])

	wantSub2 := Interleave([]uint64{EncodeInt64(42), EncodeString([]byte("hello"))})
	assert.Equal(t, wantSub2, secondary[2])
}

func TestCoordinateEmptySchema(t *testing.T) {
	_, _, err := Coordinate(Schema{}, [][]byte{[]byte("k")})
	assert.ErrorIs(t, err, errEmptySchema)
}

func TestCoordinateAttrIndexOutOfRange(t *testing.T) {
	schema := Schema{
		Subspaces: []SubspaceDef{
			{},
			{AttrIndexes: []int{5}, AttrTypes: []AttrType{AttrInt64}},
		},
	}
	_, _, err := Coordinate(schema, [][]byte{[]byte("k")})
	assert.ErrorIs(t, err, errAttrIndexOutOfRange)
}

func TestCoordinateMalformedInt64(t *testing.T) {
	schema := Schema{
		Subspaces: []SubspaceDef{
			{},
			{AttrIndexes: []int{1}, AttrTypes: []AttrType{AttrInt64}},
		},
	}
	_, _, err := Coordinate(schema, [][]byte{[]byte("k"), []byte("short")})
	assert.ErrorIs(t, err, errShortInt64)
}

func TestEncodeUnknownAttrType(t *testing.T) {
	_, err := Encode(AttrType(99), []byte("x"))
	assert.ErrorIs(t, err, errUnknownAttrType)
}
