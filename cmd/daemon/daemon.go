// Package main implements the HyperDex daemon: the storage node that hosts
// regions, speaks the chain-replication and transfer wire protocols to its
// peers, and answers client GET/PUT/DEL/SEARCH over HTTP. See
// SPEC_FULL.md for the protocol this binary implements; this file owns the
// daemon's lifecycle — registration, configuration install, and the region
// table a configuration install builds.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cespare/xxhash/v2"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/dreamware/hyperdex/internal/cluster"
	"github.com/dreamware/hyperdex/internal/hyperspace"
	"github.com/dreamware/hyperdex/internal/region"
	"github.com/dreamware/hyperdex/internal/replication"
	"github.com/dreamware/hyperdex/internal/search"
	"github.com/dreamware/hyperdex/internal/topology"
	"github.com/dreamware/hyperdex/internal/transport"
	"github.com/dreamware/hyperdex/internal/xfer"
)

// kvSchema is this reference daemon's one built-in space: a two-attribute
// "kv" space (key, value), with a second subspace partitioning on value so
// PUT/GET exercise cross-subspace chaining and SEARCH has something to
// index. A production daemon would learn its schemas from the coordinator's
// space-definition language; that admin surface is out of scope (spec.md
// §1), so this reference implementation hardcodes the one space it serves.
var kvSchema = hyperspace.Schema{
	Subspaces: []hyperspace.SubspaceDef{
		{AttrIndexes: []int{0}, AttrTypes: []hyperspace.AttrType{hyperspace.AttrString}},
		{AttrIndexes: []int{1}, AttrTypes: []hyperspace.AttrType{hyperspace.AttrString}},
	},
}

const kvSpace = "kv"

// localRegion is one region this daemon currently hosts a replica of: its
// on-disk storage, the replication machinery addressing it, and the entity
// this host answers to within its chain.
type localRegion struct {
	key      topology.Entity // Number always 0; identifies the region, not a replica
	subspace int

	store    *region.Region
	registry *replication.Registry
	self     topology.Entity

	xferSinks   map[uint64]*xfer.Sink
	xferSources map[uint64]*xfer.Source
	mu          sync.Mutex
}

// pendingClient is a client HTTP handler blocked on a chain CHAIN_ACK that
// will eventually resolve its nonce.
type pendingClient struct {
	ch chan replication.Status
}

// Daemon is the runtime state of one HyperDex storage node.
type Daemon struct {
	hostID uint64

	advertiseIP   string
	inboundPort   uint16
	inboundVersion uint16
	httpPort      uint16

	dataDir   string
	coordAddr string

	logger *zap.Logger
	db     *bolt.DB

	cfgMu sync.RWMutex
	cfg   *topology.Configuration

	transport *transport.Transport
	router    *replication.ChainRouter
	searchExec *search.Executor

	regionsMu sync.RWMutex
	regions   map[topology.Entity]*localRegion // keyed by region's head-numbered entity (Number=0)

	nonceSeq     uint64
	pendingMu    sync.Mutex
	pendingAcks  map[uint64]*pendingClient

	// getGroup collapses concurrent GETs for the same key into a single
	// region read, so a hot key under read concurrency costs one store
	// lookup instead of one per request.
	getGroup singleflight.Group

	listener net.Listener
}

// NewDaemon builds an unregistered, unstarted daemon. Call Register, then
// ListenAndServeInbound for the chain port and serve Routes over HTTP, to
// bring it up.
func NewDaemon(dataDir, advertiseIP string, inboundPort, httpPort uint16, coordAddr string, logger *zap.Logger) *Daemon {
	d := &Daemon{
		advertiseIP:    advertiseIP,
		inboundPort:    inboundPort,
		inboundVersion: 1,
		httpPort:       httpPort,
		dataDir:        dataDir,
		coordAddr:      coordAddr,
		logger:         logger,
		regions:        make(map[topology.Entity]*localRegion),
		pendingAcks:    make(map[uint64]*pendingClient),
		searchExec:     search.NewExecutor(1, logger),
	}
	d.transport = transport.New(0, d.configuration, tcpDialer{}, logger)
	d.router = replication.NewChainRouter(d.configuration, kvSpace, len(kvSchema.Subspaces), d.subspaceHasher)
	return d
}

// configuration returns the currently installed configuration, satisfying
// transport.ConfigSource and replication's router callback.
func (d *Daemon) configuration() *topology.Configuration {
	d.cfgMu.RLock()
	defer d.cfgMu.RUnlock()
	return d.cfg
}

// subspaceHasher computes a value's coordinate in one of kvSchema's
// subspaces, the seam replication.ChainRouter needs to stay schema-agnostic.
func (d *Daemon) subspaceHasher(spaceName string, subspaceNum int, value []byte) (uint64, error) {
	_, secondary, err := hyperspace.Coordinate(kvSchema, [][]byte{value, value})
	if err != nil {
		return 0, err
	}
	return secondary[subspaceNum], nil
}

// openCheckpoint opens (creating if absent) this daemon's local bbolt
// database, used only to survive a restart before the coordinator's next
// push arrives — the coordinator remains the source of truth regardless of
// what a checkpoint says (see internal/topology.SaveCheckpoint's doc).
func (d *Daemon) openCheckpoint() error {
	path := fmt.Sprintf("%s/checkpoint.db", d.dataDir)
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return err
	}
	d.db = db
	if cfg, ok, err := topology.LoadCheckpoint(db); err != nil {
		d.logger.Warn("checkpoint load failed, starting without one", zap.Error(err))
	} else if ok {
		d.logger.Info("recovered checkpointed configuration", zap.Uint64("version", cfg.Version))
		d.installConfiguration(cfg)
	}
	return nil
}

// Register registers this daemon with the coordinator, retrying with
// exponential backoff — replacing the fixed 10-attempt loop the daemon's
// predecessor used with the same backoff library the rest of this module
// already depends on — and installs whatever configuration the coordinator
// hands back immediately.
func (d *Daemon) Register(ctx context.Context) error {
	req := cluster.RegisterRequest{Host: cluster.HostInfo{
		IP:              d.advertiseIP,
		InboundPort:     d.inboundPort,
		InboundVersion:  d.inboundVersion,
		OutboundPort:    d.inboundPort,
		OutboundVersion: d.inboundVersion,
		HTTPPort:        d.httpPort,
	}}

	var resp cluster.RegisterResponse
	op := func() error {
		return cluster.PostJSON(ctx, d.coordAddr+"/cluster/register", req, &resp)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxInterval = 5 * time.Second
	policy.MaxElapsedTime = 30 * time.Second

	if err := backoff.Retry(op, backoff.WithContext(policy, ctx)); err != nil {
		return fmt.Errorf("register with coordinator: %w", err)
	}

	d.hostID = resp.Host.ID
	d.transport = transport.New(d.hostID, d.configuration, tcpDialer{}, d.logger)
	d.logger.Info("registered with coordinator", zap.Uint64("host_id", d.hostID), zap.Uint64("config_version", resp.Version))

	cfg, err := topology.ParseConfiguration(strings.NewReader(resp.Configuration), resp.Version)
	if err != nil {
		return fmt.Errorf("parse initial configuration: %w", err)
	}
	d.installConfiguration(cfg)
	return nil
}

// installConfiguration swaps in cfg, under the daemon's pause/unpause
// barrier: in-flight requests finish against the old pointer (cfgMu is a
// plain RWMutex, not a full stop-the-world pause, because every read here
// is a single pointer load, never held across a blocking call), then
// reconciles which regions this host now hosts, then rebinds every live
// keyholder's chain endpoints and persists the new configuration as this
// host's crash-recovery checkpoint.
func (d *Daemon) installConfiguration(cfg *topology.Configuration) {
	d.cfgMu.Lock()
	d.cfg = cfg
	d.cfgMu.Unlock()

	d.reconcileRegions(cfg)

	d.regionsMu.RLock()
	for _, lr := range d.regions {
		lr.registry.Rebind()
	}
	d.regionsMu.RUnlock()

	d.startIncomingTransfers(context.Background(), cfg)

	if d.db != nil {
		if err := topology.SaveCheckpoint(d.db, cfg); err != nil {
			d.logger.Warn("checkpoint save failed", zap.Error(err))
		}
	}
}

// reconcileRegions opens a *region.Region (and its replication.Registry) for
// every region of kvSpace this host now appears in the chain of, and leaves
// already-open regions untouched. It does not close regions this host has
// stopped hosting — an active live transfer may still be draining one, and
// region.Region has no half-open "retiring" state of its own; a production
// daemon would track that explicitly (spec §4.D's RETIRED region state),
// left here as a documented simplification (see DESIGN.md).
func (d *Daemon) reconcileRegions(cfg *topology.Configuration) {
	for _, r := range cfg.Regions() {
		if r.SpaceName != kvSpace {
			continue
		}
		myNumber := -1
		for i, hostID := range r.Hosts {
			if hostID == d.hostID {
				myNumber = i
				break
			}
		}
		if myNumber < 0 {
			continue
		}

		headEntity := cfg.EntityFor(kvSpace, r.SubspaceNum, &r, 0)
		d.regionsMu.RLock()
		_, exists := d.regions[headEntity]
		d.regionsMu.RUnlock()
		if exists {
			continue
		}

		self := cfg.EntityFor(kvSpace, r.SubspaceNum, &r, myNumber)
		dir := fmt.Sprintf("%s/regions/%s-%d-%x", d.dataDir, kvSpace, r.SubspaceNum, r.Prefix)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			d.logger.Error("failed to create region directory", zap.String("dir", dir), zap.Error(err))
			continue
		}
		store, err := region.New(dir, region.Config{}, d.logger)
		if err != nil {
			d.logger.Error("failed to open region storage", zap.String("dir", dir), zap.Error(err))
			continue
		}

		registry := replication.NewRegistry(store, d.router, d.transport, d.logger)
		d.regionsMu.Lock()
		d.regions[headEntity] = &localRegion{
			key:         headEntity,
			subspace:    r.SubspaceNum,
			store:       store,
			registry:    registry,
			self:        self,
			xferSinks:   make(map[uint64]*xfer.Sink),
			xferSources: make(map[uint64]*xfer.Source),
		}
		d.regionsMu.Unlock()
		d.logger.Info("now hosting region", zap.Int("subspace", r.SubspaceNum), zap.Uint8("number", uint8(myNumber)), zap.String("dir", dir))
	}
}

// regionFor finds the locally hosted region of kvSpace's given subspace
// whose prefix slice contains hash, if this host has one.
func (d *Daemon) regionFor(subspaceNum int, hash uint64) (*localRegion, bool) {
	cfg := d.configuration()
	if cfg == nil {
		return nil, false
	}
	r, ok := cfg.FindRegion(kvSpace, subspaceNum, hash)
	if !ok {
		return nil, false
	}
	head := cfg.EntityFor(kvSpace, subspaceNum, r, 0)
	d.regionsMu.RLock()
	defer d.regionsMu.RUnlock()
	lr, ok := d.regions[head]
	return lr, ok
}

// allRegions returns every locally hosted region, for a cluster-local
// search fan-out.
func (d *Daemon) allRegions(subspaceNum int) []*localRegion {
	d.regionsMu.RLock()
	defer d.regionsMu.RUnlock()
	out := make([]*localRegion, 0, len(d.regions))
	for _, lr := range d.regions {
		if lr.subspace == subspaceNum {
			out = append(out, lr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].self.Mask < out[j].self.Mask })
	return out
}

// nextNonce hands out a fresh client-request nonce for ClientHandle.
func (d *Daemon) nextNonce() uint64 {
	return atomic.AddUint64(&d.nonceSeq, 1)
}

// registerPending opens a slot for nonce's eventual CHAIN_ACK resolution.
// Callers must register before invoking ClientPut/ClientDel so a fast
// round trip can never resolve the nonce before anyone is listening.
func (d *Daemon) registerPending(nonce uint64) *pendingClient {
	pc := &pendingClient{ch: make(chan replication.Status, 1)}
	d.pendingMu.Lock()
	d.pendingAcks[nonce] = pc
	d.pendingMu.Unlock()
	return pc
}

// awaitAck blocks on a slot registerPending already opened, until it
// resolves, ctx is canceled, or five seconds pass.
func (d *Daemon) awaitAck(ctx context.Context, nonce uint64, pc *pendingClient) (replication.Status, error) {
	defer func() {
		d.pendingMu.Lock()
		delete(d.pendingAcks, nonce)
		d.pendingMu.Unlock()
	}()

	select {
	case status := <-pc.ch:
		return status, nil
	case <-ctx.Done():
		return replication.StatusServerError, ctx.Err()
	case <-time.After(5 * time.Second):
		return replication.StatusServerError, fmt.Errorf("timed out waiting for chain ack")
	}
}

// resolveAck delivers a CHAIN_ACK resolution to whichever client handler is
// waiting on it, if any is still waiting.
func (d *Daemon) resolveAck(res *replication.AckResolution) {
	if res == nil {
		return
	}
	d.pendingMu.Lock()
	pc, ok := d.pendingAcks[res.Handle.Nonce]
	d.pendingMu.Unlock()
	if !ok {
		return
	}
	select {
	case pc.ch <- res.Status:
	default:
	}
}

// keyHash is this daemon's one hashing convention for the key attribute,
// shared by the client request path, the chain dispatcher, and region
// transfer.
func keyHash(key string) uint64 {
	return xxhash.Sum64([]byte(key))
}

// Close tears down every open region, connection, and the checkpoint
// database.
func (d *Daemon) Close(ctx context.Context) error {
	if d.listener != nil {
		_ = d.listener.Close()
	}
	d.regionsMu.RLock()
	for _, lr := range d.regions {
		_ = lr.store.Close(ctx)
	}
	d.regionsMu.RUnlock()
	_ = d.transport.Close()
	if d.db != nil {
		_ = d.db.Close()
	}
	return nil
}
