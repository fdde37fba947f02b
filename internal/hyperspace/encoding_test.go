package hyperspace

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeInt64Bijection(t *testing.T) {
	cases := []int64{
		math.MinInt64, math.MinInt64 + 1, -1, 0, 1, math.MaxInt64, math.MaxInt64 - 1,
	}
	for _, v := range cases {
		enc := EncodeInt64(v)
		got := DecodeInt64(enc)
		assert.Equal(t, v, got, "round-trip for %d", v)
	}
}

func TestEncodeInt64Monotone(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 2000; i++ {
		a := int64(r.Uint64())
		b := int64(r.Uint64())
		if a == b {
			continue
		}
		ea, eb := EncodeInt64(a), EncodeInt64(b)
		if a < b {
			assert.Less(t, ea, eb, "encode(%d) should be < encode(%d)", a, b)
		} else {
			assert.Greater(t, ea, eb, "encode(%d) should be > encode(%d)", a, b)
		}
	}
}

func TestEncodeFloat64SubrangeOrdering(t *testing.T) {
	values := []float64{
		math.Inf(-1),
		-math.MaxFloat64,
		-1.5,
		-math.SmallestNonzeroFloat64,
		math.Copysign(0, -1), // -0
		0,
		math.SmallestNonzeroFloat64,
		1.5,
		math.MaxFloat64,
		math.Inf(1),
	}
	var encoded []uint64
	for _, v := range values {
		encoded = append(encoded, EncodeFloat64(v))
	}
	for i := 1; i < len(encoded); i++ {
		assert.LessOrEqualf(t, encoded[i-1], encoded[i],
			"encode(%v)=%d should be <= encode(%v)=%d", values[i-1], encoded[i-1], values[i], encoded[i])
	}

	nanEnc := EncodeFloat64(math.NaN())
	assert.Equal(t, uint64(math.MaxUint64), nanEnc, "NaN must sort last")
	assert.Greater(t, nanEnc, encoded[len(encoded)-1], "NaN must sort after +Inf")
}

func TestEncodeFloat64Bijection(t *testing.T) {
	cases := []float64{
		math.Inf(-1), -math.MaxFloat64, -1.5, -math.SmallestNonzeroFloat64,
		0, math.SmallestNonzeroFloat64, 1.5, math.MaxFloat64, math.Inf(1),
	}
	for _, v := range cases {
		enc := EncodeFloat64(v)
		got := DecodeFloat64(enc)
		assert.Equal(t, v, got, "round-trip for %v", v)
	}

	// -0 decodes to +0's bit pattern domain but both must encode adjacently;
	// the decoder is not required to preserve the sign of zero.
	negZero := EncodeFloat64(math.Copysign(0, -1))
	posZero := EncodeFloat64(0)
	assert.LessOrEqual(t, negZero, posZero)
}

func TestEncodeFloat64NaNDoesNotRoundTrip(t *testing.T) {
	enc := EncodeFloat64(math.NaN())
	got := DecodeFloat64(enc)
	assert.True(t, math.IsNaN(got))
}

func TestEncodeStringDeterministicAndDiscriminating(t *testing.T) {
	a := EncodeString([]byte("alice"))
	b := EncodeString([]byte("alice"))
	c := EncodeString([]byte("bob"))
	require.Equal(t, a, b, "hashing must be deterministic")
	assert.NotEqual(t, a, c, "distinct strings should (almost always) hash distinctly")
}

func TestCompare(t *testing.T) {
	assert.Equal(t, -1, Compare(1, 2))
	assert.Equal(t, 1, Compare(2, 1))
	assert.Equal(t, 0, Compare(5, 5))
}
