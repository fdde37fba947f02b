package topology

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = "host 1 127.0.0.1 2000 1 2001 1\n" +
	"host 2 127.0.0.1 3000 1 3001 1\n" +
	"space 10 kv key value\n" +
	"subspace kv 0 key\n" +
	"subspace kv 1 value\n" +
	"region kv 0 0 0 1 2\n" +
	"region kv 1 0 0 1 2\n" +
	"transfer 99 kv 0 0 0 2\n" +
	"end\tof\tline\n"

func parseSample(t *testing.T) *Configuration {
	t.Helper()
	cfg, err := ParseConfiguration(strings.NewReader(sampleConfig), 7)
	require.NoError(t, err)
	return cfg
}

func TestParseConfigurationBasics(t *testing.T) {
	cfg := parseSample(t)
	assert.Equal(t, uint64(7), cfg.Version)

	h, ok := cfg.Host(1)
	require.True(t, ok)
	assert.Equal(t, "127.0.0.1", h.IP)
	assert.Equal(t, uint16(2000), h.InboundPort)

	s, ok := cfg.Space("kv")
	require.True(t, ok)
	assert.Equal(t, []string{"key", "value"}, s.Attrs)

	assert.Len(t, cfg.Subspaces("kv"), 2)
	assert.Len(t, cfg.Regions(), 2)
	assert.Len(t, cfg.TransfersTo(2), 1)
	assert.Len(t, cfg.TransfersFrom(1), 1)
	assert.Len(t, cfg.TransfersFrom(2), 1)
}

func TestParseConfigurationMissingTrailer(t *testing.T) {
	_, err := ParseConfiguration(strings.NewReader("host 1 127.0.0.1 2000 1 2001 1\n"), 1)
	assert.ErrorIs(t, err, ErrMalformedConfiguration)
}

func TestParseConfigurationUnknownRecord(t *testing.T) {
	_, err := ParseConfiguration(strings.NewReader("bogus 1 2 3\nend\tof\tline\n"), 1)
	assert.ErrorIs(t, err, ErrMalformedConfiguration)
}

func TestParseConfigurationRegionUnknownHost(t *testing.T) {
	bad := "space 10 kv key\nsubspace kv 0 key\nregion kv 0 0 0 99\nend\tof\tline\n"
	_, err := ParseConfiguration(strings.NewReader(bad), 1)
	assert.ErrorIs(t, err, ErrMalformedConfiguration)
}

func TestParseConfigurationWrongArity(t *testing.T) {
	bad := "host 1 127.0.0.1 2000 1\nend\tof\tline\n"
	_, err := ParseConfiguration(strings.NewReader(bad), 1)
	assert.ErrorIs(t, err, ErrMalformedConfiguration)
}
