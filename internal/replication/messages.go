package replication

import (
	"bytes"
	"encoding/gob"

	"github.com/pkg/errors"

	"github.com/dreamware/hyperdex/internal/topology"
)

// chainPutPayload is CHAIN_PUT(version, fresh, key, value) from spec §6,
// extended with the Route a point leader precomputed for this write (see
// router.go) so every hop downstream of the point leader can forward a
// cross-subspace handoff without recomputing hashes it has no schema access
// to.
type chainPutPayload struct {
	Version uint64
	Fresh   bool
	Key     string
	Value   []byte
	Route   []RouteHop
}

// chainDelPayload is CHAIN_DEL(version, key).
type chainDelPayload struct {
	Version uint64
	Key     string
}

// chainSubspacePayload is CHAIN_SUBSPACE(version, key, value, from_region,
// to_region): the old-region tail's handoff to the new region's head for a
// write that moved the point to a different region of a later subspace.
type chainSubspacePayload struct {
	Version    uint64
	Key        string
	Value      []byte
	OldRegion  topology.Entity
	NewRegion  topology.Entity
}

// chainPendingPayload is CHAIN_PENDING(version, key): the point leader's
// forward signal that a version is durable cluster-wide and every replica
// may retire its pending record for it.
type chainPendingPayload struct {
	Version uint64
	Key     string
}

// chainAckPayload is CHAIN_ACK(version, key), sent backward along the chain.
type chainAckPayload struct {
	Version uint64
	Key     string
}

func encodePayload(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, errors.Wrap(err, "encode chain payload")
	}
	return buf.Bytes(), nil
}

func decodePayload(raw []byte, v interface{}) error {
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(v); err != nil {
		return errors.Wrap(err, "decode chain payload")
	}
	return nil
}
