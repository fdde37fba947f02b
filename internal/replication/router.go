package replication

import (
	"github.com/dreamware/hyperdex/internal/topology"
)

// SubspaceHasher computes the secondary-hash coordinate a value maps to
// within a given space's subspace, using the schema-aware encoding in
// internal/hyperspace and internal/datatype. Replication is deliberately
// kept unaware of attribute schemas and encoding rules — it only needs
// "which region does this value belong to in subspace N", which the
// daemon wiring supplies as this function.
type SubspaceHasher func(spaceName string, subspaceNum int, value []byte) (uint64, error)

// RouteHop is one stage of a write's journey through a space's subspaces:
// the head entity of the region it lands in, and, if non-nil, the head
// entity of the region it is leaving in that same subspace (requiring a
// parallel delete there). Computed once, at the point leader, because
// only the point leader holds both the old and new value (see ChainRouter
// and Keyholder.ClientPut).
type RouteHop struct {
	Entity              topology.Entity
	CrossSubspaceDelete *topology.Entity
}

// ChainRouter answers the placement questions a keyholder needs — Next,
// Prev, IsHead, IsTail — by delegating to the installed topology.Configuration,
// and builds the cross-subspace Route a new write must follow.
type ChainRouter struct {
	cfg         func() *topology.Configuration
	spaceName   string
	hasher      SubspaceHasher
	numSubspace int
}

// NewChainRouter builds a router for one space. numSubspace is the total
// number of subspaces declared for the space (subspace 0 included).
func NewChainRouter(cfg func() *topology.Configuration, spaceName string, numSubspace int, hasher SubspaceHasher) *ChainRouter {
	return &ChainRouter{cfg: cfg, spaceName: spaceName, numSubspace: numSubspace, hasher: hasher}
}

// Next returns the next replica within self's own region chain, or false
// if self is the chain's tail.
func (c *ChainRouter) Next(self topology.Entity) (topology.Entity, bool) {
	cfg := c.cfg()
	if cfg == nil {
		return topology.Entity{}, false
	}
	return cfg.Next(self)
}

// Prev returns the previous replica within self's own region chain.
func (c *ChainRouter) Prev(self topology.Entity) (topology.Entity, bool) {
	cfg := c.cfg()
	if cfg == nil {
		return topology.Entity{}, false
	}
	return cfg.Prev(self)
}

// IsHead reports whether self is the head of its region's chain.
func (c *ChainRouter) IsHead(self topology.Entity) bool {
	cfg := c.cfg()
	if cfg == nil {
		return false
	}
	head, ok := cfg.Head(self)
	return ok && head == self
}

// IsTail reports whether self is the tail of its region's chain.
func (c *ChainRouter) IsTail(self topology.Entity) bool {
	cfg := c.cfg()
	if cfg == nil {
		return false
	}
	tail, ok := cfg.Tail(self)
	return ok && tail == self
}

// BuildRoute computes, for every subspace after subspaceNum, the head
// entity newValue lands in, and — when oldValue mapped to a different
// region of that subspace — the old region's head entity, so its stale
// copy can be deleted in parallel with the new insertion (spec §4.G's
// cross-subspace handoff).
func (c *ChainRouter) BuildRoute(subspaceNum int, hasOld bool, oldValue, newValue []byte) ([]RouteHop, error) {
	cfg := c.cfg()
	if cfg == nil {
		return nil, nil
	}
	route := make([]RouteHop, 0, c.numSubspace-subspaceNum-1)
	for s := subspaceNum + 1; s < c.numSubspace; s++ {
		newHash, err := c.hasher(c.spaceName, s, newValue)
		if err != nil {
			return nil, err
		}
		newRegion, ok := cfg.FindRegion(c.spaceName, s, newHash)
		if !ok {
			continue
		}
		hop := RouteHop{Entity: cfg.EntityFor(c.spaceName, s, newRegion, 0)}

		if hasOld {
			oldHash, err := c.hasher(c.spaceName, s, oldValue)
			if err != nil {
				return nil, err
			}
			oldRegion, ok := cfg.FindRegion(c.spaceName, s, oldHash)
			if ok && !sameRegion(oldRegion, newRegion) {
				oldHead := cfg.EntityFor(c.spaceName, s, oldRegion, 0)
				hop.CrossSubspaceDelete = &oldHead
			}
		}
		route = append(route, hop)
	}
	return route, nil
}

func sameRegion(a, b *topology.Region) bool {
	return a.PrefixBits == b.PrefixBits && a.Prefix == b.Prefix
}
