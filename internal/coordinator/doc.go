// Package coordinator implements the reference external coordinator's
// two jobs: tracking registered hosts and declared spaces (HostRegistry)
// and watching them for failure (HealthMonitor). It produces spec §6's
// text configuration format; it knows nothing about how that text
// reaches a daemon (see internal/cluster) or how a daemon parses and
// installs it (internal/topology).
//
// A production HyperDex deployment treats the coordinator as an
// external, out-of-scope collaborator (spec.md §1); cmd/coordinator is
// this module's own reference implementation of that role, enough to
// drive the daemon binary end to end without a separate system.
//
// Placement is intentionally simple: every space's every subspace gets
// exactly one region, prefix_bits 0, chained across every currently
// available host. There is no prefix splitting, no load-aware
// rebalancing, and no partial chain membership — see DESIGN.md for why
// this scope is sufficient for a reference coordinator and where a
// production one would need to do more.
package coordinator
