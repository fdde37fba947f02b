package topology

import (
	"sort"

	"github.com/google/btree"
)

// subspaceKey wraps the (space,subspace) pair that a per-subspace btree is
// partitioned by.
type subspaceKey struct {
	space    uint32
	subspace int
}

// regionItem is the btree element: a region ordered by the start of its
// prefix slice of the 64-bit point space.
type regionItem struct {
	start  uint64
	region *Region
}

func regionItemLess(a, b regionItem) bool {
	return a.start < b.start
}

// Configuration is one installed membership/placement snapshot, parsed
// from the §6 text format by ParseConfiguration. It is immutable once
// built; a new Configuration replaces the old one atomically (see
// SPEC_FULL.md's pause/unpause barrier, implemented by the daemon that
// owns this package, not by Configuration itself).
type Configuration struct {
	Version uint64

	hosts         map[uint64]Host
	spaces        map[string]Space
	spaceIDByName map[string]uint64
	subspaces     map[string][]Subspace
	regions       []Region
	transfers     []Transfer

	// byRegion indexes every (space,subspace) pair's regions in an
	// ordered btree keyed by the start of the region's prefix slice, for
	// O(log n) "which region owns this hash" lookups (§3: regions tile
	// the point space exactly).
	byRegion map[subspaceKey]*btree.BTreeG[regionItem]
}

func newConfiguration(version uint64) *Configuration {
	return &Configuration{
		Version:       version,
		hosts:         make(map[uint64]Host),
		spaces:        make(map[string]Space),
		spaceIDByName: make(map[string]uint64),
		subspaces:     make(map[string][]Subspace),
	}
}

func (c *Configuration) buildIndices() {
	c.byRegion = make(map[subspaceKey]*btree.BTreeG[regionItem])
	for i := range c.regions {
		r := &c.regions[i]
		spaceID := c.spaceIDByName[r.SpaceName]
		key := subspaceKey{space: uint32(spaceID), subspace: r.SubspaceNum}
		bt, ok := c.byRegion[key]
		if !ok {
			bt = btree.NewG(8, regionItemLess)
			c.byRegion[key] = bt
		}
		bt.ReplaceOrInsert(regionItem{start: r.start(), region: r})
	}
}

// Host looks up a host by id.
func (c *Configuration) Host(id uint64) (Host, bool) {
	h, ok := c.hosts[id]
	return h, ok
}

// Space looks up a space by name.
func (c *Configuration) Space(name string) (Space, bool) {
	s, ok := c.spaces[name]
	return s, ok
}

// Subspaces returns every subspace declared for a space, including
// subspace 0.
func (c *Configuration) Subspaces(spaceName string) []Subspace {
	return c.subspaces[spaceName]
}

// FindRegion returns the region of (spaceName, subspaceNum) whose prefix
// slice contains hash h. Regions tile the point space exactly (§3), so
// exactly one region matches in a well-formed configuration.
func (c *Configuration) FindRegion(spaceName string, subspaceNum int, hash uint64) (*Region, bool) {
	spaceID, ok := c.spaceIDByName[spaceName]
	if !ok {
		return nil, false
	}
	bt := c.byRegion[subspaceKey{space: uint32(spaceID), subspace: subspaceNum}]
	if bt == nil {
		return nil, false
	}
	var found *Region
	bt.DescendLessOrEqual(regionItem{start: hash}, func(item regionItem) bool {
		if item.region.contains(hash) {
			found = item.region
		}
		return false // only ever need the first (largest start <= hash)
	})
	if found == nil {
		return nil, false
	}
	return found, true
}

// entityFor builds the Entity that addresses replica number in region r of
// (spaceName, subspaceNum).
func (c *Configuration) entityFor(spaceName string, subspaceNum int, r *Region, number int) Entity {
	return Entity{
		Space:      uint32(c.spaceIDByName[spaceName]),
		Subspace:   uint16(subspaceNum),
		PrefixBits: r.PrefixBits,
		Mask:       r.Prefix,
		Number:     uint8(number),
	}
}

// EntityFor is the exported form of entityFor, for callers outside this
// package (internal/replication's router) that need to address a specific
// replica of a region they already obtained from FindRegion.
func (c *Configuration) EntityFor(spaceName string, subspaceNum int, r *Region, number int) Entity {
	return c.entityFor(spaceName, subspaceNum, r, number)
}

func (c *Configuration) regionForEntity(e Entity) (string, *Region, bool) {
	for i := range c.regions {
		r := &c.regions[i]
		spaceID := c.spaceIDByName[r.SpaceName]
		if uint32(spaceID) == e.Space && uint16(r.SubspaceNum) == e.Subspace &&
			r.PrefixBits == e.PrefixBits && r.Prefix == e.Mask {
			return r.SpaceName, r, true
		}
	}
	return "", nil, false
}

// Head returns the entity addressing the head (replica 0) of the region
// matching e's (space,subspace,prefix).
func (c *Configuration) Head(e Entity) (Entity, bool) {
	_, r, ok := c.regionForEntity(e)
	if !ok || len(r.Hosts) == 0 {
		return Entity{}, false
	}
	head := e
	head.Number = 0
	return head, true
}

// Tail returns the entity addressing the tail (last replica) of the region
// matching e's (space,subspace,prefix).
func (c *Configuration) Tail(e Entity) (Entity, bool) {
	_, r, ok := c.regionForEntity(e)
	if !ok || len(r.Hosts) == 0 {
		return Entity{}, false
	}
	tail := e
	tail.Number = uint8(len(r.Hosts) - 1)
	return tail, true
}

// Next returns the entity one position closer to the tail from e, within
// the same region's chain, and false if e is already the tail.
func (c *Configuration) Next(e Entity) (Entity, bool) {
	_, r, ok := c.regionForEntity(e)
	if !ok {
		return Entity{}, false
	}
	if int(e.Number)+1 >= len(r.Hosts) {
		return Entity{}, false
	}
	next := e
	next.Number++
	return next, true
}

// Prev returns the entity one position closer to the head from e, and
// false if e is already the head.
func (c *Configuration) Prev(e Entity) (Entity, bool) {
	if _, _, ok := c.regionForEntity(e); !ok {
		return Entity{}, false
	}
	if e.Number == 0 {
		return Entity{}, false
	}
	prev := e
	prev.Number--
	return prev, true
}

// HostFor resolves the host currently hosting entity e.
func (c *Configuration) HostFor(e Entity) (Host, bool) {
	_, r, ok := c.regionForEntity(e)
	if !ok || int(e.Number) >= len(r.Hosts) {
		return Host{}, false
	}
	return c.Host(r.Hosts[e.Number])
}

// ChainNextSubspace returns the head entity of the region in subspace
// (e.Subspace + 1) of the same space that a point with the given attribute
// coordinate belongs to, for the cross-subspace handoff a write to a
// non-keyed attribute triggers (spec §4.D, §8 open question (a)). The
// caller supplies the already-computed secondary hash for that subspace
// (see internal/hyperspace.Coordinate); ChainNextSubspace does not
// recompute it, since doing so depends on the space's schema.
func (c *Configuration) ChainNextSubspace(spaceName string, fromSubspace int, nextSubspaceHash uint64) (Entity, bool) {
	nextNum := fromSubspace + 1
	r, ok := c.FindRegion(spaceName, nextNum, nextSubspaceHash)
	if !ok {
		return Entity{}, false
	}
	return c.entityFor(spaceName, nextNum, r, 0), true
}

// TransfersTo returns every pending transfer whose destination host is
// hostID: this host should act as a transfer sink for these regions.
func (c *Configuration) TransfersTo(hostID uint64) []Transfer {
	var out []Transfer
	for _, t := range c.transfers {
		if t.DestHost == hostID {
			out = append(out, t)
		}
	}
	return out
}

// TransfersFrom returns every pending transfer for a region that hostID
// already replicates: this host should act as a transfer source for these
// regions.
func (c *Configuration) TransfersFrom(hostID uint64) []Transfer {
	var out []Transfer
	for _, t := range c.transfers {
		for i := range c.regions {
			r := &c.regions[i]
			if r.SpaceName != t.SpaceName || r.SubspaceNum != t.SubspaceNum ||
				r.PrefixBits != t.PrefixBits || r.Prefix != t.Prefix {
				continue
			}
			for _, h := range r.Hosts {
				if h == hostID {
					out = append(out, t)
				}
			}
		}
	}
	return out
}

// CheckInbound implements the §4.E version-check: a message is accepted
// only if its embedded configuration version matches this installed
// configuration, and its destination entity currently maps to localHost.
// Any other outcome means "drop silently; sender retransmits" (§7).
func (c *Configuration) CheckInbound(msgVersion uint64, to Entity, localHost uint64) bool {
	if msgVersion != c.Version {
		return false
	}
	host, ok := c.HostFor(to)
	if !ok {
		return false
	}
	return host.ID == localHost
}

// Regions returns every region in the configuration, sorted by
// (SpaceName, SubspaceNum, Prefix) for deterministic iteration.
func (c *Configuration) Regions() []Region {
	out := append([]Region(nil), c.regions...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].SpaceName != out[j].SpaceName {
			return out[i].SpaceName < out[j].SpaceName
		}
		if out[i].SubspaceNum != out[j].SubspaceNum {
			return out[i].SubspaceNum < out[j].SubspaceNum
		}
		return out[i].Prefix < out[j].Prefix
	})
	return out
}
