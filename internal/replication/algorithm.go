package replication

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/dreamware/hyperdex/internal/topology"
	"github.com/dreamware/hyperdex/internal/transport"
)

// ErrNotHead is returned by ClientPut/ClientDel when called against a
// keyholder whose self entity is not the head of subspace 0 for its key —
// only the point leader may originate a client response (spec §3).
var ErrNotHead = errors.New("replication: not the point leader for this key")

// Mutate validates and applies the client's requested change against the
// current committed value, returning the new value (or hasValue=false for
// a delete) or a non-success Status if validation/predicate fails (spec
// §4.G step 3 — CMPFAIL, WRONGARITY, OVERFLOW all surface here, produced by
// internal/datatype's Apply/Validate, not by this package).
type Mutate func(oldValue []byte, hasOld bool) (newValue []byte, hasValue bool, status Status, err error)

// ClientPut executes the point leader's 6-step algorithm (spec §4.G) for a
// client PUT or conditional mutation, run on the point leader (the head of
// subspace 0). numSubspaces is the space's total subspace count; the
// cross-subspace route itself is built from the router's installed
// configuration, not from numSubspaces. mutate performs validation and
// produces the new value.
func (k *Keyholder) ClientPut(ctx context.Context, handle ClientHandle, numSubspaces int, mutate Mutate) (Status, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if !k.router.IsHead(k.self) {
		return StatusServerError, ErrNotHead
	}

	oldValue, oldVersion, hasOld := k.committedLocked()
	newValue, hasValue, status, err := mutate(oldValue, hasOld)
	if err != nil || status != StatusSuccess {
		return status, err
	}

	newVersion := oldVersion + 1

	rec := &PendingRecord{
		Version:  newVersion,
		HasValue: hasValue,
		Value:    newValue,
		Fresh:    !hasOld,
		Client:   handle,
		IsClient: true,
	}
	k.fillEndpointsLocked(rec, numSubspaces, hasOld, oldValue, newValue)
	k.insertPending(rec) // the point leader's own record always extends contiguity

	if !rec.HasNext {
		// No next hop at all (single-replica region, no later subspace):
		// the point leader is also the tail. Apply immediately and resolve.
		k.applyLocked(rec)
		rec.State = statusAcked
		if err := k.retireLocked(ctx, rec.Version); err != nil {
			return StatusServerError, err
		}
		return StatusSuccess, nil
	}

	if err := k.sendNextLocked(ctx, rec); err != nil {
		return StatusServerError, err
	}
	return StatusSuccess, nil
}

// ClientDel executes the point leader's algorithm for a client DEL.
func (k *Keyholder) ClientDel(ctx context.Context, handle ClientHandle) (Status, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if !k.router.IsHead(k.self) {
		return StatusServerError, ErrNotHead
	}

	_, oldVersion, hasOld := k.committedLocked()
	if !hasOld {
		return StatusNotFound, nil
	}

	rec := &PendingRecord{
		Version:  oldVersion + 1,
		HasValue: false,
		Fresh:    false,
		Client:   handle,
		IsClient: true,
	}
	k.fillEndpointsLocked(rec, 1, true, nil, nil)
	k.insertPending(rec)

	if !rec.HasNext {
		k.applyLocked(rec)
		rec.State = statusAcked
		if err := k.retireLocked(ctx, rec.Version); err != nil {
			return StatusServerError, err
		}
		return StatusSuccess, nil
	}

	if err := k.sendNextLocked(ctx, rec); err != nil {
		return StatusServerError, err
	}
	return StatusSuccess, nil
}

// committedLocked reports the last committed state for the key: pending's
// tail if non-empty (the highest version this replica has already
// proposed), else the on-disk version and presence flag. The on-disk
// value itself is not loaded: in that case value is nil.
func (k *Keyholder) committedLocked() (value []byte, version uint64, hasValue bool) {
	if n := len(k.pending); n > 0 {
		last := k.pending[n-1]
		return last.Value, last.Version, last.HasValue
	}
	return nil, k.versionOnDisk, k.hasOnDisk
}

// fillEndpointsLocked computes prev/this_old/this_new/next for a freshly
// constructed record at the point leader (spec §4.G step 4), including the
// cross-subspace route when the region this key's new value lands in for a
// later subspace differs from where the old value lands.
func (k *Keyholder) fillEndpointsLocked(rec *PendingRecord, numSubspaces int, hasOld bool, oldValue, newValue []byte) {
	rec.ThisOld = k.self
	rec.ThisNew = k.self
	if hasOld {
		rec.HasPrev = false // the point leader has no upstream prev by definition
	}

	if next, ok := k.router.Next(k.self); ok {
		rec.Next = next
		rec.HasNext = true
		return
	}

	// Tail of subspace 0: route through later subspaces via the
	// cross-subspace plan the point leader alone can compute (it holds
	// both old_value and new_value).
	route, err := k.router.BuildRoute(0, hasOld, oldValue, newValue)
	if err != nil || len(route) == 0 {
		rec.HasNext = false
		return
	}
	rec.Next = route[0].Entity
	rec.HasNext = true
	rec.CrossSubspace = route[1:]
	if route[0].CrossSubspaceDelete != nil {
		// The first hop itself crosses a subspace boundary; record it so
		// sendNextLocked emits CHAIN_SUBSPACE instead of CHAIN_PUT.
		rec.CrossSubspace = route
	}
}

// applyLocked writes rec's value into the region's mutation log and
// advances versionOnDisk bookkeeping.
func (k *Keyholder) applyLocked(rec *PendingRecord) {
	secondaryHash := k.primaryHash // subspace-0 regions hash only the key; see internal/hyperspace.Coordinate for non-trivial subspaces
	if rec.HasValue {
		k.region.Put(k.key, rec.Value, k.primaryHash, secondaryHash, rec.Version)
		k.hasOnDisk = true
	} else {
		k.region.Delete(k.key, k.primaryHash, rec.Version)
		k.hasOnDisk = false
	}
	k.versionOnDisk = rec.Version
}

// sendNextLocked forwards rec to its next hop as CHAIN_PUT, CHAIN_DEL, or
// (if this hop crosses a subspace boundary) CHAIN_SUBSPACE.
func (k *Keyholder) sendNextLocked(ctx context.Context, rec *PendingRecord) error {
	if !rec.HasNext {
		return nil
	}

	if len(rec.CrossSubspace) > 0 && rec.CrossSubspace[0].Entity == rec.Next {
		payload, err := encodePayload(chainSubspacePayload{
			Version:   rec.Version,
			Key:       k.key,
			Value:     rec.Value,
			OldRegion: k.self,
			NewRegion: rec.Next,
		})
		if err != nil {
			return err
		}
		rec.CrossSubspace = rec.CrossSubspace[1:]

		if del := sourceDeleteHop(rec); del != nil {
			k.fireParallelDelete(ctx, rec, *del)
		}
		return k.sender.Send(ctx, transport.Envelope{From: k.self, To: rec.Next, Type: transport.MsgChainSubspace, Payload: payload})
	}

	if rec.HasValue {
		payload, err := encodePayload(chainPutPayload{Version: rec.Version, Fresh: rec.Fresh, Key: k.key, Value: rec.Value, Route: rec.CrossSubspace})
		if err != nil {
			return err
		}
		return k.sender.Send(ctx, transport.Envelope{From: k.self, To: rec.Next, Type: transport.MsgChainPut, Payload: payload})
	}

	payload, err := encodePayload(chainDelPayload{Version: rec.Version, Key: k.key})
	if err != nil {
		return err
	}
	return k.sender.Send(ctx, transport.Envelope{From: k.self, To: rec.Next, Type: transport.MsgChainDel, Payload: payload})
}

func sourceDeleteHop(rec *PendingRecord) *topology.Entity {
	if len(rec.CrossSubspace) == 0 {
		return nil
	}
	return rec.CrossSubspace[0].CrossSubspaceDelete
}

// fireParallelDelete sends the best-effort CHAIN_DEL into the old region a
// cross-subspace write is leaving. Spec §4.G's note that "the old-region
// tail delays sending ACK upstream until CHAIN_ACK for the cross-subspace
// hop returns" describes a second, independent keyholder's ack-gating on
// the old-region side; that coupling is out of scope for the point
// leader's own pending record (which only tracks its own subspace's
// chain), so this fires the delete without waiting on its result. Ordering
// against later writes to the same key is still preserved because the
// old-region tail applies deletes in version order through its own
// keyholder, exactly like any other chain message (Open Question (a)).
func (k *Keyholder) fireParallelDelete(ctx context.Context, rec *PendingRecord, dest topology.Entity) {
	payload, err := encodePayload(chainDelPayload{Version: rec.Version, Key: k.key})
	if err != nil {
		k.logger.Warn("cross-subspace delete encode failed", zap.Error(err))
		return
	}
	if err := k.sender.Send(ctx, transport.Envelope{From: k.self, To: dest, Type: transport.MsgChainDel, Payload: payload}); err != nil {
		k.logger.Warn("cross-subspace delete send failed", zap.Error(err))
	}
}

// ReceiveChainPut handles CHAIN_PUT at a non-head replica (spec §4.G).
func (k *Keyholder) ReceiveChainPut(ctx context.Context, from topology.Entity, version uint64, fresh bool, value []byte, route []RouteHop) error {
	return k.receiveChain(ctx, from, version, true, fresh, value, route)
}

// ReceiveChainDel handles CHAIN_DEL at a non-head replica.
func (k *Keyholder) ReceiveChainDel(ctx context.Context, from topology.Entity, version uint64) error {
	return k.receiveChain(ctx, from, version, false, false, nil, nil)
}

// ReceiveChainSubspace handles CHAIN_SUBSPACE at a new region's head: it is
// always a fresh insertion in the local chain (spec §4.G).
func (k *Keyholder) ReceiveChainSubspace(ctx context.Context, from topology.Entity, version uint64, value []byte, route []RouteHop) error {
	return k.receiveChain(ctx, from, version, true, true, value, route)
}

func (k *Keyholder) receiveChain(ctx context.Context, from topology.Entity, version uint64, hasValue, fresh bool, value []byte, route []RouteHop) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if version <= k.versionOnDisk {
		return k.sendAckLocked(ctx, from, version)
	}

	if version > k.nextExpectedLocked() {
		k.deferred[version] = &PendingRecord{Version: version, HasValue: hasValue, Value: value, Fresh: fresh, CrossSubspace: route, Prev: from, HasPrev: true}
		return nil
	}

	rec := &PendingRecord{Version: version, HasValue: hasValue, Value: value, Fresh: fresh, CrossSubspace: route, Prev: from, HasPrev: true}
	rec.ThisOld = k.self
	rec.ThisNew = k.self
	if next, ok := k.router.Next(k.self); ok {
		rec.Next = next
		rec.HasNext = true
	}

	admitted := k.insertPending(rec)
	for _, r := range admitted {
		if err := k.processAdmittedLocked(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

// processAdmittedLocked forwards rec to its next hop, or — if it is the
// tail of this region — applies it and ACKs backward immediately (may_ack
// is trivially permitted at the tail, since there is no downstream to wait
// on). Used for every record newly admitted to pending, whether it arrived
// directly, was drained from deferred, or was promoted from blocked.
func (k *Keyholder) processAdmittedLocked(ctx context.Context, rec *PendingRecord) error {
	if rec.HasNext {
		return k.sendNextLocked(ctx, rec)
	}
	k.applyLocked(rec)
	rec.State = statusMayAck
	if !rec.HasPrev {
		return nil
	}
	return k.sendAckLocked(ctx, rec.Prev, rec.Version)
}

func (k *Keyholder) sendAckLocked(ctx context.Context, to topology.Entity, version uint64) error {
	payload, err := encodePayload(chainAckPayload{Version: version, Key: k.key})
	if err != nil {
		return err
	}
	return k.sender.Send(ctx, transport.Envelope{From: k.self, To: to, Type: transport.MsgChainAck, Payload: payload})
}

// ReceiveChainAck handles CHAIN_ACK for version v, arriving from this
// replica's next hop (spec §4.G). The record's IsClient flag distinguishes
// the point leader's extra responsibility (resolve the client, emit
// CHAIN_PENDING) from an ordinary intermediate replica's (ack further
// upstream).
func (k *Keyholder) ReceiveChainAck(ctx context.Context, version uint64) (resolved *ClientHandle, status Status, err error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	rec, _ := k.findPending(version)
	if rec == nil {
		return nil, StatusSuccess, nil
	}
	if !rec.mayAckPermitted(k) {
		// Dropped rather than buffered for later delivery: spec §4.G says
		// to hold the ack pending the condition, but this relies on acks
		// for one chain arriving in version order (a single reused
		// per-destination connection, never fanned across connections)
		// and on a stuck head being re-driven by the sender's
		// retransmission under §4.F/§5 rather than this receiver
		// replaying a buffered ack itself. If that ordering assumption
		// is ever relaxed, this needs to become a real per-version
		// buffer instead.
		return nil, StatusSuccess, nil
	}

	rec.State = statusMayAck
	k.applyLocked(rec)

	if rec.IsClient {
		rec.State = statusAcked
		if err := k.broadcastPendingLocked(ctx, rec.Version); err != nil {
			return nil, StatusServerError, err
		}
		handle := rec.Client
		return &handle, StatusSuccess, nil
	}

	if rec.HasPrev {
		if err := k.sendAckLocked(ctx, rec.Prev, rec.Version); err != nil {
			return nil, StatusServerError, err
		}
	}
	rec.State = statusAcked
	return nil, StatusSuccess, nil
}

// broadcastPendingLocked is the point leader's CHAIN_PENDING emission:
// forwarded to next so every replica down the chain may retire its record
// for this version (spec §4.G). Non-head replicas retire on receipt via
// ReceiveChainPending, which re-forwards it themselves. CHAIN_PENDING
// never loops back to the head, so the leader must retire its own record
// here rather than waiting for a message that will never arrive.
func (k *Keyholder) broadcastPendingLocked(ctx context.Context, version uint64) error {
	next, ok := k.router.Next(k.self)
	if !ok {
		return k.retireLocked(ctx, version)
	}
	payload, err := encodePayload(chainPendingPayload{Version: version, Key: k.key})
	if err != nil {
		return err
	}
	if err := k.sender.Send(ctx, transport.Envelope{From: k.self, To: next, Type: transport.MsgChainPending, Payload: payload}); err != nil {
		return err
	}
	return k.retireLocked(ctx, version)
}

// ReceiveChainPending retires the record for version, if present, and
// re-forwards CHAIN_PENDING to this replica's next hop so the whole chain
// converges.
func (k *Keyholder) ReceiveChainPending(ctx context.Context, version uint64) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.retireLocked(ctx, version); err != nil {
		return err
	}

	next, ok := k.router.Next(k.self)
	if !ok {
		return nil
	}
	payload, err := encodePayload(chainPendingPayload{Version: version, Key: k.key})
	if err != nil {
		return err
	}
	return k.sender.Send(ctx, transport.Envelope{From: k.self, To: next, Type: transport.MsgChainPending, Payload: payload})
}
