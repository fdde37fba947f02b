package replication

import (
	"sync"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/dreamware/hyperdex/internal/topology"
)

// stripeCount is the number of stripe locks a Registry partitions its
// keyholders across. Spec §5: "Keyholders: stripe-lock partitioned; bucket
// count large enough that contention is per-key rather than global."
const stripeCount = 256

// stripe guards a disjoint subset of a Registry's keyholders, keyed by the
// hash of (region, key). Every Keyholder method call happens with its
// stripe locked — Keyholder itself trusts this, and additionally takes its
// own mutex in each exported method.
type stripe struct {
	mu         sync.Mutex
	keyholders map[string]*Keyholder
}

// Registry owns every keyholder this daemon hosts for a space, stripe-
// locked per spec §4.G/§5.
type Registry struct {
	region RegionStore
	router *ChainRouter
	sender Sender
	logger *zap.Logger

	stripes [stripeCount]*stripe
}

// NewRegistry builds a Registry whose keyholders route through router and
// send via sender, backed by the given region store.
func NewRegistry(region RegionStore, router *ChainRouter, sender Sender, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := &Registry{region: region, router: router, sender: sender, logger: logger}
	for i := range reg.stripes {
		reg.stripes[i] = &stripe{keyholders: make(map[string]*Keyholder)}
	}
	return reg
}

func stripeIndex(self topology.Entity, key string) int {
	h := xxhash.New()
	raw := self.Encode()
	h.Write(raw[:])
	h.Write([]byte(key))
	return int(h.Sum64() % stripeCount)
}

// Do runs fn against the keyholder for (self, key, primaryHash), creating
// it on first use, while holding that key's stripe lock. fn's error (if
// any) is returned unchanged; a keyholder left with no outstanding work
// after fn returns is evicted from the registry.
func (r *Registry) Do(self topology.Entity, key string, primaryHash uint64, fn func(*Keyholder) error) error {
	s := r.stripes[stripeIndex(self, key)]
	s.mu.Lock()
	defer s.mu.Unlock()

	kh, ok := s.keyholders[key]
	if !ok {
		kh = newKeyholder(self, key, primaryHash, r.region, r.router, r.sender, r.logger)
		s.keyholders[key] = kh
	}

	err := fn(kh)

	if kh.isEmpty() {
		delete(s.keyholders, key)
	}
	return err
}

// Rebind updates every live keyholder's chain endpoints after a
// reconfiguration installs a new topology.Configuration (spec §4.G
// "Failure semantics": "On install of a new configuration: rebind all
// outstanding pending records' endpoints, re-enable sending, and
// retransmit. No record is dropped on reconfiguration."). ChainRouter
// already resolves Next/Prev/IsHead/IsTail against whatever configuration
// its cfg function currently returns, so a swapped configuration is
// reflected automatically the next time those are consulted; Rebind's job
// is narrower: refresh the Prev/Next fields cached on in-flight pending
// records so a subsequent retransmit targets the right entity rather than
// the one that existed when the record was created.
func (r *Registry) Rebind() {
	for _, s := range r.stripes {
		s.mu.Lock()
		for _, kh := range s.keyholders {
			kh.rebindEndpoints()
		}
		s.mu.Unlock()
	}
}
