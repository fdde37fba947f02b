package topology

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fourWayConfig partitions subspace 0 of space "kv" into four regions by
// their top two bits (00, 01, 10, 11), each with a two-host chain, plus a
// single-region subspace 1 for cross-subspace handoff tests.
const fourWayConfig = "host 1 10.0.0.1 2000 1 2001 1\n" +
	"host 2 10.0.0.2 2000 1 2001 1\n" +
	"host 3 10.0.0.3 2000 1 2001 1\n" +
	"space 1 kv key value\n" +
	"subspace kv 0 key\n" +
	"subspace kv 1 value\n" +
	"region kv 0 2 0 1 2\n" +
	"region kv 0 2 1 2 1\n" +
	"region kv 0 2 2 1 3\n" +
	"region kv 0 2 3 3 1\n" +
	"region kv 1 0 0 1 2 3\n" +
	"end\tof\tline\n"

func parseFourWay(t *testing.T) *Configuration {
	t.Helper()
	cfg, err := ParseConfiguration(strings.NewReader(fourWayConfig), 3)
	require.NoError(t, err)
	return cfg
}

func TestFindRegionRoutesByTopBits(t *testing.T) {
	cfg := parseFourWay(t)

	// hash with top two bits "10" (0x8000000000000000) must land in the
	// third region line (prefix 2).
	r, ok := cfg.FindRegion("kv", 0, uint64(0x8000000000000000))
	require.True(t, ok)
	assert.Equal(t, uint64(2), r.Prefix)
	assert.Equal(t, []uint64{1, 3}, r.Hosts)

	// hash with top two bits "00" lands in the first region line.
	r, ok = cfg.FindRegion("kv", 0, uint64(0x1))
	require.True(t, ok)
	assert.Equal(t, uint64(0), r.Prefix)
}

func TestHeadTailNextPrev(t *testing.T) {
	cfg := parseFourWay(t)
	r, ok := cfg.FindRegion("kv", 0, uint64(0x8000000000000000))
	require.True(t, ok)
	e := cfg.entityFor("kv", 0, r, 0)

	head, ok := cfg.Head(e)
	require.True(t, ok)
	assert.Equal(t, uint8(0), head.Number)

	tail, ok := cfg.Tail(e)
	require.True(t, ok)
	assert.Equal(t, uint8(1), tail.Number)

	next, ok := cfg.Next(head)
	require.True(t, ok)
	assert.Equal(t, tail, next)

	_, ok = cfg.Next(tail)
	assert.False(t, ok)

	prev, ok := cfg.Prev(tail)
	require.True(t, ok)
	assert.Equal(t, head, prev)

	_, ok = cfg.Prev(head)
	assert.False(t, ok)
}

func TestHostForResolvesChainPosition(t *testing.T) {
	cfg := parseFourWay(t)
	r, ok := cfg.FindRegion("kv", 0, uint64(0x8000000000000000))
	require.True(t, ok)
	head := cfg.entityFor("kv", 0, r, 0)
	tail := cfg.entityFor("kv", 0, r, 1)

	h, ok := cfg.HostFor(head)
	require.True(t, ok)
	assert.Equal(t, uint64(1), h.ID)

	h, ok = cfg.HostFor(tail)
	require.True(t, ok)
	assert.Equal(t, uint64(3), h.ID)
}

func TestChainNextSubspace(t *testing.T) {
	cfg := parseFourWay(t)
	e, ok := cfg.ChainNextSubspace("kv", 0, 0xabc)
	require.True(t, ok)
	assert.Equal(t, uint16(1), e.Subspace)
	assert.Equal(t, uint8(0), e.Number)
}

func TestCheckInboundVersionAndRouting(t *testing.T) {
	cfg := parseFourWay(t)
	r, ok := cfg.FindRegion("kv", 0, uint64(0x8000000000000000))
	require.True(t, ok)
	head := cfg.entityFor("kv", 0, r, 0)

	assert.True(t, cfg.CheckInbound(3, head, 1))
	assert.False(t, cfg.CheckInbound(99, head, 1), "wrong configuration version must be dropped")
	assert.False(t, cfg.CheckInbound(3, head, 99), "entity not hosted locally must be dropped")
}

func TestTransfersToAndFromWithNoTransfers(t *testing.T) {
	cfg := parseFourWay(t)
	assert.Empty(t, cfg.TransfersTo(1))
	assert.Empty(t, cfg.TransfersFrom(1))
}
