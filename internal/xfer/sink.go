package xfer

import (
	"context"
	"sync"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/dreamware/hyperdex/internal/topology"
	"github.com/dreamware/hyperdex/internal/transport"
)

// RegionApplier is the subset of *region.Region a Sink needs to apply
// transferred data, matching internal/replication.RegionStore's seam.
type RegionApplier interface {
	Put(key string, value []byte, primaryHash, secondaryHash, version uint64)
	Delete(key string, primaryHash, version uint64)
}

type triggerKey struct {
	key     string
	version uint64
}

// Sink is the new-replica side of a region transfer (spec §4.H). It
// applies XFER_DATA in sequence order — buffering an out-of-order arrival
// the same way a Keyholder defers an out-of-order chain message — and
// closes Live once XFER_DONE has arrived and every sequence number up to
// it has been applied.
type Sink struct {
	mu sync.Mutex

	self   topology.Entity
	source topology.Entity
	xferID uint64

	region RegionApplier
	sender Sender
	logger *zap.Logger

	expectedSeq uint64
	pending     map[uint64]dataPayload
	triggers    map[triggerKey]struct{}

	doneSeen bool
	finalSeq uint64
	live     bool
	liveCh   chan struct{}
}

// NewSink builds a Sink for one transfer from source into self.
func NewSink(self, source topology.Entity, xferID uint64, region RegionApplier, sender Sender, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{
		self: self, source: source, xferID: xferID,
		region:      region,
		sender:      sender,
		logger:      logger,
		expectedSeq: 1,
		pending:     make(map[uint64]dataPayload),
		triggers:    make(map[triggerKey]struct{}),
		liveCh:      make(chan struct{}),
	}
}

// Begin sends the initial XFER_MORE that starts the transfer (spec §4.H
// step 1).
func (s *Sink) Begin(ctx context.Context) error {
	payload, err := encodePayload(moreRequestPayload{XferID: s.xferID})
	if err != nil {
		return err
	}
	return s.sender.Send(ctx, transport.Envelope{From: s.self, To: s.source, Type: transport.MsgXferMore, Payload: payload})
}

// HandleXferData applies one XFER_DATA entry, or buffers it if it arrives
// ahead of the contiguous sequence, draining anything that becomes
// contiguous as a result.
func (s *Sink) HandleXferData(raw []byte) error {
	var d dataPayload
	if err := decodePayload(raw, &d); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if d.Seq != s.expectedSeq {
		s.pending[d.Seq] = d
		return nil
	}
	s.applyLocked(d)
	s.drainPendingLocked()
	s.maybeGoLiveLocked()
	return nil
}

func (s *Sink) applyLocked(d dataPayload) {
	primaryHash := xxhash.Sum64([]byte(d.Key))
	switch d.Op {
	case OpDel:
		s.region.Delete(d.Key, primaryHash, d.Version)
	default:
		s.region.Put(d.Key, d.Value, primaryHash, d.SecondaryHash, d.Version)
	}
	s.triggers[triggerKey{key: d.Key, version: d.Version}] = struct{}{}
	s.expectedSeq = d.Seq + 1
}

func (s *Sink) drainPendingLocked() {
	for {
		d, ok := s.pending[s.expectedSeq]
		if !ok {
			return
		}
		delete(s.pending, d.Seq)
		s.applyLocked(d)
	}
}

// HandleXferDone records that the source has exhausted its snapshot (spec
// §4.H step 4), going live immediately if every sequence number up to
// FinalSeq has already been applied, or once the trailing gap closes.
func (s *Sink) HandleXferDone(raw []byte) error {
	var d donePayload
	if err := decodePayload(raw, &d); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.doneSeen = true
	s.finalSeq = d.FinalSeq
	s.maybeGoLiveLocked()
	return nil
}

func (s *Sink) maybeGoLiveLocked() {
	if s.live || !s.doneSeen {
		return
	}
	if s.expectedSeq <= s.finalSeq {
		return
	}
	s.live = true
	close(s.liveCh)
}

// Live reports whether the transfer has completed: XFER_DONE has arrived
// and every transferred entry has been applied in order. Once Live, this
// sink's region holds exactly the source's snapshot plus whatever writes
// arrived via the live chain while the transfer was running.
func (s *Sink) Live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

// AwaitLive returns a channel closed the moment the transfer completes,
// for a daemon dispatcher to select on alongside incoming chain messages.
func (s *Sink) AwaitLive() <-chan struct{} {
	return s.liveCh
}

// Triggered reports whether (key, version) was already applied by this
// transfer — the check spec §4.H calls "the triggers set prevents
// double-application". cmd/daemon does not call it.
func (s *Sink) Triggered(key string, version uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.triggers[triggerKey{key: key, version: version}]
	return ok
}
