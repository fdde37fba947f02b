// Package coordinator implements the reference coordinator's placement
// and host-membership bookkeeping for HyperDex. See doc.go for the
// package-level architecture.
package coordinator

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
)

// ServerState mirrors the original coordinator's server_state enum
// (coordinator/server_state.h): a host's availability for placement
// decisions, independent of the liveness tracked per-attempt by
// HealthMonitor.
type ServerState string

const (
	StateAvailable ServerState = "available"
	StateShutdown  ServerState = "shutdown"
)

// hostEntry is one registered daemon, as the registry tracks it between
// configuration builds.
type hostEntry struct {
	id                                                          uint64
	ip                                                          string
	inboundPort, inboundVersion, outboundPort, outboundVersion  uint16
	httpPort                                                    uint16 // client API port; not part of spec §6's host line, tracked only so the coordinator can push configuration
	state                                                       ServerState
}

// spaceDef is one admin-supplied space declaration: its full attribute
// list (key first) and the attribute subsets each of its subspaces
// partitions by. Subspace 0 (the key alone) is implicit and not stored
// here.
type spaceDef struct {
	id        uint64
	name      string
	attrs     []string
	subspaces [][]string
}

// HostRegistry is the reference coordinator's authoritative record of
// registered hosts and declared spaces, and the sole producer of spec
// §6 configuration text. It plays the role the teacher's ShardRegistry
// played for shard→node assignment, generalized from a flat shard count
// to HyperDex's (space, subspace, region) placement.
//
// Every registered host currently replicates every region (no partial
// prefix splitting): a reference coordinator's job is correctness of the
// placement contract, not load-aware rebalancing, which spec leaves to
// the external coordinator's own policy (out of scope here — see §9 open
// question (a) in spec.md and DESIGN.md).
type HostRegistry struct {
	mu       sync.RWMutex
	hosts    map[uint64]*hostEntry
	spaces   map[string]*spaceDef
	nextID   uint64
	version  uint64
}

// NewHostRegistry builds an empty registry. version 0 is never installed;
// the first Build call returns version 1.
func NewHostRegistry() *HostRegistry {
	return &HostRegistry{
		hosts:  make(map[uint64]*hostEntry),
		spaces: make(map[string]*spaceDef),
	}
}

// Register admits a new host and returns the ID it was assigned. IDs are
// allocated sequentially starting at 1, matching the `host <hex_id>`
// field the resulting configuration text will carry. httpPort is the
// daemon's client API port — not part of the §6 host line, carried
// side-band so the coordinator's own push loop can reach it.
func (r *HostRegistry) Register(ip string, inboundPort, inboundVersion, outboundPort, outboundVersion, httpPort uint16) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	r.hosts[id] = &hostEntry{
		id:              id,
		ip:              ip,
		inboundPort:     inboundPort,
		inboundVersion:  inboundVersion,
		outboundPort:    outboundPort,
		outboundVersion: outboundVersion,
		httpPort:        httpPort,
		state:           StateAvailable,
	}
	return id
}

// Deregister removes a host from future placement. Existing regions that
// still name it are left untouched until the next Build; a caller is
// expected to Build and broadcast immediately after.
func (r *HostRegistry) Deregister(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.hosts, id)
}

// SetState updates a host's availability for placement decisions. A host
// in StateShutdown is dropped from every region chain on the next Build,
// per the original coordinator's server_state contract (a host in
// SHUTDOWN is never picked as a transfer sink or chain member).
func (r *HostRegistry) SetState(id uint64, state ServerState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.hosts[id]
	if !ok {
		return false
	}
	h.state = state
	return true
}

// HostAddr returns the host's ip and inbound port.
func (r *HostRegistry) HostAddr(id uint64) (string, uint16, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.hosts[id]
	if !ok {
		return "", 0, false
	}
	return h.ip, h.inboundPort, true
}

// HostHTTPAddr returns the host's ip and client API port, for the
// coordinator's configuration-push loop.
func (r *HostRegistry) HostHTTPAddr(id uint64) (string, uint16, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.hosts[id]
	if !ok {
		return "", 0, false
	}
	return h.ip, h.httpPort, true
}

// HostIDs returns every registered host ID, sorted.
func (r *HostRegistry) HostIDs() []uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]uint64, 0, len(r.hosts))
	for id := range r.hosts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// RegisterSpace declares a space and its subspaces (attrs[0] is the
// key). subspaceAttrs lists the attribute subset of each subspace beyond
// subspace 0, which is always the key alone. The admin CLI that would
// normally parse a space-definition file is out of scope (spec.md §1);
// this method is its minimal in-process stand-in.
func (r *HostRegistry) RegisterSpace(name string, attrs []string, subspaceAttrs [][]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := uint64(len(r.spaces) + 1)
	r.spaces[name] = &spaceDef{id: id, name: name, attrs: append([]string(nil), attrs...), subspaces: subspaceAttrs}
}

// Build assembles the current §6 text configuration: every registered
// host, every declared space and its subspaces, and one region per
// subspace (prefix_bits 0, spanning the whole point space) chained
// across every StateAvailable host in ID order. The returned version is
// the bumped, not-yet-acknowledged version this text represents.
func (r *HostRegistry) Build() (string, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.version++

	var buf bytes.Buffer
	hostIDs := make([]uint64, 0, len(r.hosts))
	var availableIDs []uint64
	for id, h := range r.hosts {
		hostIDs = append(hostIDs, id)
		if h.state == StateAvailable {
			availableIDs = append(availableIDs, id)
		}
	}
	sort.Slice(hostIDs, func(i, j int) bool { return hostIDs[i] < hostIDs[j] })
	sort.Slice(availableIDs, func(i, j int) bool { return availableIDs[i] < availableIDs[j] })

	for _, id := range hostIDs {
		h := r.hosts[id]
		fmt.Fprintf(&buf, "host %x %s %d %d %d %d\n",
			h.id, h.ip, h.inboundPort, h.inboundVersion, h.outboundPort, h.outboundVersion)
	}

	spaceNames := make([]string, 0, len(r.spaces))
	for name := range r.spaces {
		spaceNames = append(spaceNames, name)
	}
	sort.Strings(spaceNames)

	for _, name := range spaceNames {
		sp := r.spaces[name]
		fmt.Fprintf(&buf, "space %x %s %s\n", sp.id, sp.name, joinFields(sp.attrs))
		for i, sub := range sp.subspaces {
			num := i + 1
			fmt.Fprintf(&buf, "subspace %s %d %s\n", sp.name, num, joinFields(sub))
		}
		numSubspaces := len(sp.subspaces) + 1
		for num := 0; num < numSubspaces; num++ {
			fmt.Fprintf(&buf, "region %s %d 0 0%s\n", sp.name, num, hostChainFields(availableIDs))
		}
	}

	buf.WriteString("end\tof\tline\n")
	return buf.String(), r.version
}

func joinFields(fields []string) string {
	var buf bytes.Buffer
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(f)
	}
	return buf.String()
}

func hostChainFields(ids []uint64) string {
	var buf bytes.Buffer
	for _, id := range ids {
		fmt.Fprintf(&buf, " %x", id)
	}
	return buf.String()
}
