package coordinator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/hyperdex/internal/topology"
)

func TestRegisterAssignsSequentialHostIDs(t *testing.T) {
	reg := NewHostRegistry()
	id1 := reg.Register("10.0.0.1", 2000, 1, 2001, 1, 8080)
	id2 := reg.Register("10.0.0.2", 2000, 1, 2001, 1, 8081)
	assert.Equal(t, uint64(1), id1)
	assert.Equal(t, uint64(2), id2)
}

func TestBuildProducesParseableConfiguration(t *testing.T) {
	reg := NewHostRegistry()
	reg.Register("10.0.0.1", 2000, 1, 2001, 1, 8080)
	reg.Register("10.0.0.2", 2000, 1, 2001, 1, 8081)
	reg.RegisterSpace("kv", []string{"key", "value"}, [][]string{{"value"}})

	text, version := reg.Build()
	require.Equal(t, uint64(1), version)
	require.True(t, strings.HasSuffix(text, "end\tof\tline\n"))

	cfg, err := topology.ParseConfiguration(strings.NewReader(text), version)
	require.NoError(t, err)

	space, ok := cfg.Space("kv")
	require.True(t, ok)
	assert.Equal(t, []string{"key", "value"}, space.Attrs)

	subspaces := cfg.Subspaces("kv")
	require.Len(t, subspaces, 2, "subspace 0 (implicit key) plus the one declared subspace")

	for _, r := range cfg.Regions() {
		assert.Len(t, r.Hosts, 2, "both registered hosts should chain every region")
	}
}

func TestBuildDropsShutdownHostsFromNewRegions(t *testing.T) {
	reg := NewHostRegistry()
	id1 := reg.Register("10.0.0.1", 2000, 1, 2001, 1, 8080)
	reg.Register("10.0.0.2", 2000, 1, 2001, 1, 8081)
	reg.RegisterSpace("kv", []string{"key"}, nil)

	require.True(t, reg.SetState(id1, StateShutdown))

	text, version := reg.Build()
	cfg, err := topology.ParseConfiguration(strings.NewReader(text), version)
	require.NoError(t, err)

	region, ok := cfg.FindRegion("kv", 0, 0)
	require.True(t, ok)
	assert.Len(t, region.Hosts, 1, "the shutdown host must not appear in a freshly built region chain")
	assert.NotContains(t, region.Hosts, id1)
}

func TestBuildVersionIncrementsEachCall(t *testing.T) {
	reg := NewHostRegistry()
	_, v1 := reg.Build()
	_, v2 := reg.Build()
	assert.Equal(t, uint64(1), v1)
	assert.Equal(t, uint64(2), v2)
}

func TestDeregisterRemovesHostFromFutureConfigurations(t *testing.T) {
	reg := NewHostRegistry()
	id1 := reg.Register("10.0.0.1", 2000, 1, 2001, 1, 8080)
	reg.Register("10.0.0.2", 2000, 1, 2001, 1, 8081)
	reg.RegisterSpace("kv", []string{"key"}, nil)

	reg.Deregister(id1)
	text, version := reg.Build()
	cfg, err := topology.ParseConfiguration(strings.NewReader(text), version)
	require.NoError(t, err)

	_, ok := cfg.Host(id1)
	assert.False(t, ok)
}
