package replication

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/dreamware/hyperdex/internal/topology"
	"github.com/dreamware/hyperdex/internal/transport"
)

// pendingState is the per-version state named in spec §4.G: proposed ->
// may_ack -> acked -> retire (retire removes the record from the keyholder
// entirely, so it has no corresponding struct field — reaching it is
// observed as the record disappearing from pending).
type pendingState int

const (
	statusProposed pendingState = iota
	statusMayAck
	statusAcked
)

// ClientHandle identifies the client operation a pending record at the
// point leader must eventually resolve — the nonce plus the entity that
// should receive the client-facing response (the daemon's request-handling
// layer, addressed the same way any other entity is).
type ClientHandle struct {
	Nonce uint64
	From  topology.Entity
}

// PendingRecord is one in-flight version of a key, per spec §3's "Pending
// record" definition.
type PendingRecord struct {
	Version uint64
	HasValue bool
	Value    []byte
	Fresh    bool

	State pendingState

	// Routing endpoints that determine which entity sent, and which
	// receives, this version's chain messages (spec §3).
	Prev    topology.Entity
	HasPrev bool
	ThisOld topology.Entity
	ThisNew topology.Entity
	Next    topology.Entity
	HasNext bool

	// CrossSubspace, when non-nil, is the remaining subspace route this
	// write must still traverse once it retires in the current region
	// (see ChainRouter.BuildRoute); consumed hop by hop as CHAIN_SUBSPACE
	// handoffs complete.
	CrossSubspace []RouteHop

	// Client is set only at the point leader: the handle to resolve once
	// this version's CHAIN_ACK arrives from next.
	Client   ClientHandle
	IsClient bool

	RetransmitCount int
	nextAttempt     time.Time
	backoffState    backoff.BackOff
}

// dueForRetransmit reports whether rec has gone long enough without ACK
// progress to warrant another send, advancing its backoff on each call
// that returns true (spec §4.G: "every K ticks without ACK progress").
func (p *PendingRecord) dueForRetransmit(now time.Time) bool {
	if p.backoffState == nil {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = 200 * time.Millisecond
		eb.MaxInterval = 10 * time.Second
		eb.MaxElapsedTime = 0 // bounded by RetransmitCount, not wall-clock
		p.backoffState = eb
		p.nextAttempt = now
	}
	if now.Before(p.nextAttempt) {
		return false
	}
	p.nextAttempt = now.Add(p.backoffState.NextBackOff())
	return true
}

func (p *PendingRecord) mayAckPermitted(k *Keyholder) bool {
	// "all earlier versions have been acked by this replica or are the
	// point leader's originals" (spec §4.G) — since pending is kept
	// contiguous and version-ordered, this collapses to: every pending
	// record strictly before p is already acked.
	for _, other := range k.pending {
		if other.Version >= p.Version {
			break
		}
		if other.State != statusAcked {
			return false
		}
	}
	return true
}

// Keyholder is the per-(region,key) state machine of spec §4.G: the hard
// part. Exactly one exists per key with outstanding activity, guarded by
// the stripe lock a Registry hands out — Keyholder itself assumes its
// caller already holds that lock for the duration of any method call
// below. It also carries its own mutex, which its exported methods,
// rebindEndpoints, and the Retransmitter's tick take before touching its
// fields.
type Keyholder struct {
	mu sync.Mutex

	self        topology.Entity
	key         string
	primaryHash uint64

	region RegionStore
	router *ChainRouter
	sender Sender
	logger *zap.Logger

	versionOnDisk uint64
	hasOnDisk     bool

	pending  []*PendingRecord
	blocked  []*PendingRecord
	deferred map[uint64]*PendingRecord
}

// RegionStore is the subset of *region.Region a keyholder needs: buffering
// an applied mutation into the region's write-ahead log. Defined as an
// interface here (rather than importing internal/region directly as a
// concrete type) purely for test doubles; the daemon wires a real
// *region.Region in, which satisfies this structurally.
type RegionStore interface {
	Put(key string, value []byte, primaryHash, secondaryHash, version uint64)
	Delete(key string, primaryHash, version uint64)
}

// Sender abstracts *transport.Transport.Send for test doubles.
type Sender interface {
	Send(ctx context.Context, e transport.Envelope) error
}

func newKeyholder(self topology.Entity, key string, primaryHash uint64, region RegionStore, router *ChainRouter, sender Sender, logger *zap.Logger) *Keyholder {
	if logger == nil {
		logger = zap.NewNop()
	}
	kh := &Keyholder{
		self:        self,
		key:         key,
		primaryHash: primaryHash,
		region:      region,
		router:      router,
		sender:      sender,
		logger:      logger,
		deferred:    make(map[uint64]*PendingRecord),
	}
	// Seed the committed version from the region (log first, then shard)
	// so a keyholder created after an earlier one for the same key was
	// evicted still sees that key's last applied version.
	if g, ok := region.(interface {
		Get(key string, primaryHash uint64) ([]byte, uint64, error)
	}); ok {
		if _, version, err := g.Get(key, primaryHash); err == nil {
			kh.versionOnDisk = version
			kh.hasOnDisk = true
		}
	}
	return kh
}

// nextExpectedLocked is the version that would extend pending's
// contiguous run: one past its tail, or one past versionOnDisk if pending
// is currently empty.
func (k *Keyholder) nextExpectedLocked() uint64 {
	if n := len(k.pending); n > 0 {
		return k.pending[n-1].Version + 1
	}
	return k.versionOnDisk + 1
}

// insertPending admits rec into pending if it extends contiguity
// (spec §4.G step 5), draining any now-contiguous deferred records behind
// it, and returns every record newly admitted to pending in version order
// (rec itself first, if admitted) so the caller can forward or apply each
// in turn. A rec that does not extend contiguity is parked in blocked and
// the returned slice is empty.
func (k *Keyholder) insertPending(rec *PendingRecord) []*PendingRecord {
	if rec.Version != k.nextExpectedLocked() {
		k.blocked = append(k.blocked, rec)
		return nil
	}
	k.pending = append(k.pending, rec)
	admitted := []*PendingRecord{rec}
	return append(admitted, k.drainDeferredLocked()...)
}

// drainDeferredLocked admits every deferred record that now forms a
// contiguous extension of pending (spec §4.G "Deferred -> pending
// promotion"), filling in the routing fields a deferred record doesn't
// carry until it is actually admitted (this region's endpoints may have
// changed since the message first arrived out of order).
func (k *Keyholder) drainDeferredLocked() []*PendingRecord {
	var admitted []*PendingRecord
	for {
		expected := k.nextExpectedLocked()
		rec, ok := k.deferred[expected]
		if !ok {
			return admitted
		}
		delete(k.deferred, expected)
		rec.ThisOld = k.self
		rec.ThisNew = k.self
		if next, ok := k.router.Next(k.self); ok {
			rec.Next = next
			rec.HasNext = true
		}
		k.pending = append(k.pending, rec)
		admitted = append(admitted, rec)
	}
}

// promoteBlockedLocked promotes any blocked record whose fresh condition
// now matches, after a retire (spec §4.G "Blocked -> pending promotion"),
// and returns every record newly admitted to pending by doing so.
func (k *Keyholder) promoteBlockedLocked() []*PendingRecord {
	if len(k.blocked) == 0 {
		return nil
	}
	keyAbsent := !k.hasOnDisk
	var admitted []*PendingRecord
	remaining := k.blocked[:0]
	for _, rec := range k.blocked {
		if rec.Fresh == keyAbsent {
			admitted = append(admitted, k.insertPending(rec)...)
		} else {
			remaining = append(remaining, rec)
		}
	}
	k.blocked = remaining
	return admitted
}

// findPending returns the pending record for version v, if any.
func (k *Keyholder) findPending(v uint64) (*PendingRecord, int) {
	for i, rec := range k.pending {
		if rec.Version == v {
			return rec, i
		}
	}
	return nil, -1
}

// retireLocked removes version v's record from pending once it has been
// acked and confirmed cluster-wide (CHAIN_PENDING arrives), then forwards
// or applies any blocked record the retirement newly admits to pending
// (spec §4.G "Blocked -> pending promotion").
func (k *Keyholder) retireLocked(ctx context.Context, v uint64) error {
	rec, idx := k.findPending(v)
	if rec == nil {
		return nil
	}
	k.pending = append(k.pending[:idx], k.pending[idx+1:]...)
	for _, admitted := range k.promoteBlockedLocked() {
		if err := k.processAdmittedLocked(ctx, admitted); err != nil {
			return err
		}
	}
	return nil
}

// isEmpty reports whether the keyholder has no outstanding work and may be
// evicted from a Registry.
func (k *Keyholder) isEmpty() bool {
	return len(k.pending) == 0 && len(k.blocked) == 0 && len(k.deferred) == 0
}

// sortPending keeps pending ordered by version; insertPending's contiguity
// check assumes this invariant so it is only needed defensively after a
// reconfiguration rebind that may have reordered endpoints but never
// versions.
func (k *Keyholder) sortPending() {
	sort.Slice(k.pending, func(i, j int) bool { return k.pending[i].Version < k.pending[j].Version })
}

// rebindEndpoints refreshes every pending record's Prev/Next against the
// router's currently installed configuration, per spec §4.G's
// reconfiguration failure semantics. A record whose Next disappears
// (region lost a replica) is left with HasNext=false, which the next
// retransmit tick treats as "tail, apply and ack" rather than silently
// dropping it.
func (k *Keyholder) rebindEndpoints() {
	k.mu.Lock()
	defer k.mu.Unlock()

	for _, rec := range k.pending {
		if rec.HasPrev {
			if prev, ok := k.router.Prev(k.self); ok {
				rec.Prev = prev
			}
		}
		if next, ok := k.router.Next(k.self); ok {
			rec.Next = next
			rec.HasNext = true
		} else {
			rec.HasNext = false
		}
	}
	k.sortPending()
}
