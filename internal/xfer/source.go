package xfer

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/dreamware/hyperdex/internal/storage"
	"github.com/dreamware/hyperdex/internal/topology"
	"github.com/dreamware/hyperdex/internal/transport"
)

// Snapshotter is the subset of *region.Region a Source needs: one
// consistent view of every live key, per spec §4.D's snapshot-composition
// rule.
type Snapshotter interface {
	Snapshot() []storage.ShardEntry
}

// Sender abstracts *transport.Transport.Send for test doubles, mirroring
// the identical seam in internal/replication.
type Sender interface {
	Send(ctx context.Context, e transport.Envelope) error
}

// Source is the existing-tail side of a region transfer (spec §4.H): it
// takes one snapshot on the first XFER_MORE and streams it to the sink in
// key order, then sends XFER_DONE. A Source is scoped to exactly one
// (region, sink) transfer; the daemon constructs one per transfer it must
// initiate, as `topology.Configuration.TransfersFrom` names.
type Source struct {
	mu sync.Mutex

	self   topology.Entity
	sink   topology.Entity
	xferID uint64

	region Snapshotter
	sender Sender
	logger *zap.Logger

	entries []storage.ShardEntry
	cursor  int
	nextSeq uint64
	started bool
}

// NewSource builds a Source for one transfer, identified by xferID, from
// self (this region replica) to sink (the new replica).
func NewSource(self, sink topology.Entity, xferID uint64, region Snapshotter, sender Sender, logger *zap.Logger) *Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{self: self, sink: sink, xferID: xferID, region: region, sender: sender, logger: logger, nextSeq: 1}
}

// HandleXferMore answers one XFER_MORE from the sink. On the first call it
// snapshots the region and sorts it into key order (spec §4.H step 2); on
// every call it streams the remaining entries as XFER_DATA, finishing with
// XFER_DONE once the snapshot is exhausted. A sink may send XFER_MORE more
// than once (e.g. after a redial); a Source that has already finished
// simply resends XFER_DONE.
func (s *Source) HandleXferMore(ctx context.Context, payload []byte) error {
	var req moreRequestPayload
	if err := decodePayload(payload, &req); err != nil {
		return err
	}
	if req.XferID != s.xferID {
		return errors.Errorf("xfer: source for %d received XFER_MORE for %d", s.xferID, req.XferID)
	}

	s.mu.Lock()
	if !s.started {
		s.entries = s.region.Snapshot()
		sort.Slice(s.entries, func(i, j int) bool {
			return string(s.entries[i].Key) < string(s.entries[j].Key)
		})
		s.started = true
	}
	remaining := s.entries[s.cursor:]
	s.cursor = len(s.entries)
	s.mu.Unlock()

	for _, entry := range remaining {
		if err := s.sendData(ctx, entry); err != nil {
			return err
		}
	}
	return s.sendDone(ctx)
}

func (s *Source) sendData(ctx context.Context, entry storage.ShardEntry) error {
	s.mu.Lock()
	seq := s.nextSeq
	s.nextSeq++
	s.mu.Unlock()

	payload, err := encodePayload(dataPayload{
		XferID:        s.xferID,
		Seq:           seq,
		Op:            OpPut,
		Version:       entry.Version,
		Key:           string(entry.Key),
		Value:         entry.Value,
		SecondaryHash: entry.SecondaryHash,
	})
	if err != nil {
		return err
	}
	return s.sender.Send(ctx, transport.Envelope{From: s.self, To: s.sink, Type: transport.MsgXferData, Payload: payload})
}

func (s *Source) sendDone(ctx context.Context) error {
	s.mu.Lock()
	finalSeq := s.nextSeq - 1
	s.mu.Unlock()

	payload, err := encodePayload(donePayload{XferID: s.xferID, FinalSeq: finalSeq})
	if err != nil {
		return err
	}
	return s.sender.Send(ctx, transport.Envelope{From: s.self, To: s.sink, Type: transport.MsgXferDone, Payload: payload})
}
