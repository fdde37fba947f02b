package datatype

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f64bytes(v float64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, math.Float64bits(v))
	return b
}

func TestFloatApplyArithmetic(t *testing.T) {
	var v Float
	out, err := v.Apply(f64bytes(2.5), []Mutation{
		{Op: OpNumAdd, Arg: f64bytes(0.5)},
		{Op: OpNumMul, Arg: f64bytes(2)},
	})
	require.NoError(t, err)
	got := math.Float64frombits(binary.BigEndian.Uint64(out))
	assert.InDelta(t, 6.0, got, 1e-9)
}

func TestFloatApplyDivByZeroOverflows(t *testing.T) {
	var v Float
	_, err := v.Apply(f64bytes(1), []Mutation{{Op: OpNumDiv, Arg: f64bytes(0)}})
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestFloatApplyWrongAction(t *testing.T) {
	var v Float
	_, err := v.Apply(f64bytes(1), []Mutation{{Op: OpNumMod, Arg: f64bytes(1)}})
	assert.ErrorIs(t, err, ErrWrongAction)
}

func TestFloatCompare(t *testing.T) {
	var v Float
	assert.Equal(t, -1, v.Compare(f64bytes(1), f64bytes(2)))
	assert.Equal(t, 1, v.Compare(f64bytes(2), f64bytes(1)))
}
