package replication

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/hyperdex/internal/topology"
	"github.com/dreamware/hyperdex/internal/transport"
)

// singleRegionConfig is a three-replica chain for one region of subspace 0,
// with no later subspaces — enough to exercise the core PUT/DEL chain
// algorithm without cross-subspace handoff.
const singleRegionConfig = "host 1 127.0.0.1 2000 1 2001 1\n" +
	"host 2 127.0.0.1 2000 1 2001 1\n" +
	"host 3 127.0.0.1 2000 1 2001 1\n" +
	"space 1 kv key value\n" +
	"subspace kv 0 key\n" +
	"region kv 0 0 0 1 2 3\n" +
	"end\tof\tline\n"

func parseSingleRegion(t *testing.T) *topology.Configuration {
	t.Helper()
	cfg, err := topology.ParseConfiguration(strings.NewReader(singleRegionConfig), 1)
	require.NoError(t, err)
	return cfg
}

func keyHash(_ string, _ int, _ []byte) (uint64, error) { return 0, nil }

// fakeRegion is an in-memory RegionStore double recording every Put/Delete.
type fakeRegion struct {
	mu      sync.Mutex
	puts    []string
	deletes []string
	values  map[string][]byte
}

func newFakeRegion() *fakeRegion {
	return &fakeRegion{values: make(map[string][]byte)}
}

func (f *fakeRegion) Put(key string, value []byte, primaryHash, secondaryHash, version uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts = append(f.puts, key)
	f.values[key] = value
}

func (f *fakeRegion) Delete(key string, primaryHash, version uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, key)
	delete(f.values, key)
}

// fakeSender records every envelope sent and lets a test dispatch it to
// another keyholder manually, simulating the chain without a real
// transport.
type fakeSender struct {
	mu  sync.Mutex
	out []transport.Envelope
}

func (s *fakeSender) Send(_ context.Context, e transport.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out = append(s.out, e)
	return nil
}

func (s *fakeSender) last() (transport.Envelope, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.out) == 0 {
		return transport.Envelope{}, false
	}
	return s.out[len(s.out)-1], true
}

func entityAt(number int) topology.Entity {
	return topology.Entity{Space: 1, Subspace: 0, PrefixBits: 0, Mask: 0, Number: uint8(number)}
}

func alwaysSuccess(oldValue []byte, hasOld bool) ([]byte, bool, Status, error) {
	return []byte("v1"), true, StatusSuccess, nil
}

func TestClientPutAtHeadSendsChainPut(t *testing.T) {
	cfg := parseSingleRegion(t)
	router := NewChainRouter(func() *topology.Configuration { return cfg }, "kv", 1, keyHash)
	region := newFakeRegion()
	sender := &fakeSender{}

	reg := NewRegistry(region, router, sender, nil)

	var status Status
	err := reg.Do(entityAt(0), "k", 42, func(kh *Keyholder) error {
		var opErr error
		status, opErr = kh.ClientPut(context.Background(), ClientHandle{Nonce: 1}, 1, alwaysSuccess)
		return opErr
	})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, status)

	env, ok := sender.last()
	require.True(t, ok)
	assert.Equal(t, transport.MsgChainPut, env.Type)
	assert.Equal(t, entityAt(1), env.To)
}

func TestClientPutNotHeadFails(t *testing.T) {
	cfg := parseSingleRegion(t)
	router := NewChainRouter(func() *topology.Configuration { return cfg }, "kv", 1, keyHash)
	region := newFakeRegion()
	sender := &fakeSender{}
	reg := NewRegistry(region, router, sender, nil)

	err := reg.Do(entityAt(1), "k", 42, func(kh *Keyholder) error {
		_, opErr := kh.ClientPut(context.Background(), ClientHandle{Nonce: 1}, 1, alwaysSuccess)
		return opErr
	})
	assert.ErrorIs(t, err, ErrNotHead)
}

func TestChainPutAtTailAppliesAndAcksBackward(t *testing.T) {
	cfg := parseSingleRegion(t)
	router := NewChainRouter(func() *topology.Configuration { return cfg }, "kv", 1, keyHash)
	region := newFakeRegion()
	sender := &fakeSender{}
	reg := NewRegistry(region, router, sender, nil)

	err := reg.Do(entityAt(2), "k", 42, func(kh *Keyholder) error {
		return kh.ReceiveChainPut(context.Background(), entityAt(1), 1, true, []byte("v1"), nil)
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"k"}, region.puts)

	env, ok := sender.last()
	require.True(t, ok)
	assert.Equal(t, transport.MsgChainAck, env.Type)
	assert.Equal(t, entityAt(1), env.To)
}

func TestChainPutIdempotentBelowVersionOnDisk(t *testing.T) {
	cfg := parseSingleRegion(t)
	router := NewChainRouter(func() *topology.Configuration { return cfg }, "kv", 1, keyHash)
	region := newFakeRegion()
	sender := &fakeSender{}
	reg := NewRegistry(region, router, sender, nil)

	err := reg.Do(entityAt(2), "k", 42, func(kh *Keyholder) error {
		require.NoError(t, kh.ReceiveChainPut(context.Background(), entityAt(1), 1, true, []byte("v1"), nil))
		return kh.ReceiveChainPut(context.Background(), entityAt(1), 1, true, []byte("v1"), nil)
	})
	require.NoError(t, err)
	assert.Len(t, region.puts, 1, "second delivery of an already-applied version must not re-apply")
}

func TestChainPutGapDefersUntilPredecessorArrives(t *testing.T) {
	cfg := parseSingleRegion(t)
	router := NewChainRouter(func() *topology.Configuration { return cfg }, "kv", 1, keyHash)
	region := newFakeRegion()
	sender := &fakeSender{}
	reg := NewRegistry(region, router, sender, nil)

	err := reg.Do(entityAt(2), "k", 42, func(kh *Keyholder) error {
		require.NoError(t, kh.ReceiveChainPut(context.Background(), entityAt(1), 2, true, []byte("v2"), nil))
		assert.Empty(t, region.puts, "version 2 must not apply before version 1 arrives")
		require.NoError(t, kh.ReceiveChainPut(context.Background(), entityAt(1), 1, true, []byte("v1"), nil))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"k", "k"}, region.puts, "arrival of version 1 should promote the deferred version 2 into pending and apply both")
}

func TestReceiveChainAckAtIntermediateForwardsUpstream(t *testing.T) {
	cfg := parseSingleRegion(t)
	router := NewChainRouter(func() *topology.Configuration { return cfg }, "kv", 1, keyHash)
	region := newFakeRegion()
	sender := &fakeSender{}
	reg := NewRegistry(region, router, sender, nil)

	err := reg.Do(entityAt(1), "k", 42, func(kh *Keyholder) error {
		require.NoError(t, kh.ReceiveChainPut(context.Background(), entityAt(0), 1, true, []byte("v1"), nil))
		_, _, err := kh.ReceiveChainAck(context.Background(), 1)
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"k"}, region.puts)
	env, ok := sender.last()
	require.True(t, ok)
	assert.Equal(t, transport.MsgChainAck, env.Type)
	assert.Equal(t, entityAt(0), env.To)
}

func TestReceiveChainAckAtPointLeaderResolvesClientAndBroadcastsPending(t *testing.T) {
	cfg := parseSingleRegion(t)
	router := NewChainRouter(func() *topology.Configuration { return cfg }, "kv", 1, keyHash)
	region := newFakeRegion()
	sender := &fakeSender{}
	reg := NewRegistry(region, router, sender, nil)

	var handle *ClientHandle
	var status Status
	err := reg.Do(entityAt(0), "k", 42, func(kh *Keyholder) error {
		var opErr error
		status, opErr = kh.ClientPut(context.Background(), ClientHandle{Nonce: 7}, 1, alwaysSuccess)
		require.NoError(t, opErr)

		var err error
		handle, status, err = kh.ReceiveChainAck(context.Background(), 1)
		if err != nil {
			return err
		}
		assert.True(t, kh.isEmpty(), "point leader must retire its own record when it broadcasts CHAIN_PENDING, since CHAIN_PENDING never loops back to the head")
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, handle)
	assert.Equal(t, uint64(7), handle.Nonce)
	assert.Equal(t, StatusSuccess, status)

	env, ok := sender.last()
	require.True(t, ok)
	assert.Equal(t, transport.MsgChainPending, env.Type)
}

func TestReceiveChainPendingRetiresRecord(t *testing.T) {
	cfg := parseSingleRegion(t)
	router := NewChainRouter(func() *topology.Configuration { return cfg }, "kv", 1, keyHash)
	region := newFakeRegion()
	sender := &fakeSender{}
	reg := NewRegistry(region, router, sender, nil)

	err := reg.Do(entityAt(1), "k", 42, func(kh *Keyholder) error {
		require.NoError(t, kh.ReceiveChainPut(context.Background(), entityAt(0), 1, true, []byte("v1"), nil))
		require.NoError(t, kh.ReceiveChainPending(context.Background(), 1))
		assert.True(t, kh.isEmpty(), "retired record should leave the keyholder with no outstanding work")
		return nil
	})
	require.NoError(t, err)
}
