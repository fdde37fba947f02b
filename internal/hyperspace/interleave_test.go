package hyperspace

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShareBitsSumsToAtMost64(t *testing.T) {
	for k := 1; k <= 10; k++ {
		shares := shareBits(k)
		assert.Len(t, shares, k)
		total := 0
		for _, s := range shares {
			total += s
		}
		assert.LessOrEqual(t, total, 64)
		// shares differ by at most one bit across attributes
		min, max := shares[0], shares[0]
		for _, s := range shares {
			if s < min {
				min = s
			}
			if s > max {
				max = s
			}
		}
		assert.LessOrEqual(t, max-min, 1, "k=%d shares should be within one bit of each other", k)
	}
}

func TestShareBitsEmpty(t *testing.T) {
	assert.Nil(t, shareBits(0))
}

func TestInterleaveTwoAttributesBitOrder(t *testing.T) {
	// With two attributes each taking 32 bits, bit 0 of attr0 lands in output
	// bit 0, bit 0 of attr1 lands in output bit 1, bit 1 of attr0 lands in
	// output bit 2, etc.
	a := uint64(1) // bit 0 set
	b := uint64(0)
	out := Interleave([]uint64{a, b})
	assert.Equal(t, uint64(1), out&1, "attr0 bit0 should occupy output bit 0")
	assert.Equal(t, uint64(0), (out>>1)&1, "attr1 bit0 should occupy output bit 1")

	a = 0
	b = 1
	out = Interleave([]uint64{a, b})
	assert.Equal(t, uint64(0), out&1)
	assert.Equal(t, uint64(1), (out>>1)&1)
}

func TestInterleaveEmpty(t *testing.T) {
	assert.Equal(t, uint64(0), Interleave(nil))
}

func TestInterleaveDeterministic(t *testing.T) {
	hashes := []uint64{0xdeadbeefcafef00d, 0x0123456789abcdef, 0xffffffffffffffff}
	a := Interleave(hashes)
	b := Interleave(hashes)
	assert.Equal(t, a, b)
}
