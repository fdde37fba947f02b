package replication

import (
	"context"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"

	"github.com/dreamware/hyperdex/internal/topology"
	"github.com/dreamware/hyperdex/internal/transport"
)

// AckResolution is returned by HandleEnvelope when a CHAIN_ACK resolves the
// point leader's outstanding client handle for a version — the signal the
// daemon's request layer is waiting on to answer the client that issued the
// original PUT or DEL.
type AckResolution struct {
	Handle ClientHandle
	Status Status
}

// HandleEnvelope decodes one inbound chain-protocol envelope and applies it
// to the keyholder it addresses, creating the keyholder on first use via
// Registry.Do. self is the entity the caller has already established this
// message resolves to (transport.Transport.Accept's job) — HandleEnvelope
// does not repeat that check. Every message type returns a nil resolution
// except MsgChainAck, which returns one only when the ack just resolved a
// point leader's pending client handle.
func (r *Registry) HandleEnvelope(ctx context.Context, self topology.Entity, e transport.Envelope) (*AckResolution, error) {
	switch e.Type {
	case transport.MsgChainPut:
		var p chainPutPayload
		if err := decodePayload(e.Payload, &p); err != nil {
			return nil, err
		}
		return nil, r.Do(self, p.Key, xxhash.Sum64([]byte(p.Key)), func(kh *Keyholder) error {
			return kh.ReceiveChainPut(ctx, e.From, p.Version, p.Fresh, p.Value, p.Route)
		})

	case transport.MsgChainDel:
		var p chainDelPayload
		if err := decodePayload(e.Payload, &p); err != nil {
			return nil, err
		}
		return nil, r.Do(self, p.Key, xxhash.Sum64([]byte(p.Key)), func(kh *Keyholder) error {
			return kh.ReceiveChainDel(ctx, e.From, p.Version)
		})

	case transport.MsgChainSubspace:
		var p chainSubspacePayload
		if err := decodePayload(e.Payload, &p); err != nil {
			return nil, err
		}
		return nil, r.Do(self, p.Key, xxhash.Sum64([]byte(p.Key)), func(kh *Keyholder) error {
			return kh.ReceiveChainSubspace(ctx, e.From, p.Version, p.Value, nil)
		})

	case transport.MsgChainPending:
		var p chainPendingPayload
		if err := decodePayload(e.Payload, &p); err != nil {
			return nil, err
		}
		return nil, r.Do(self, p.Key, xxhash.Sum64([]byte(p.Key)), func(kh *Keyholder) error {
			return kh.ReceiveChainPending(ctx, p.Version)
		})

	case transport.MsgChainAck:
		var p chainAckPayload
		if err := decodePayload(e.Payload, &p); err != nil {
			return nil, err
		}
		var resolution *AckResolution
		err := r.Do(self, p.Key, xxhash.Sum64([]byte(p.Key)), func(kh *Keyholder) error {
			handle, status, err := kh.ReceiveChainAck(ctx, p.Version)
			if handle != nil {
				resolution = &AckResolution{Handle: *handle, Status: status}
			}
			return err
		})
		return resolution, err

	default:
		return nil, errors.Errorf("replication: HandleEnvelope given unexpected message type %d", e.Type)
	}
}
