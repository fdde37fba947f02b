// Package topology parses the coordinator's text configuration format
// (spec §6) into a Configuration, and answers every placement question the
// rest of the daemon needs: which host replicates which region, where a
// chain's head and tail sit, what the next replica is, and which region in
// the following subspace a cross-subspace write hands off to.
//
// # Configuration lines
//
// A configuration is a sequence of host/space/subspace/region/transfer
// lines terminated by a literal "end\tof\tline" trailer. Any unrecognized
// or malformed line invalidates the whole configuration — ParseConfiguration
// never returns a partially built result.
//
// # Region lookup
//
// Each (space, subspace) pair's regions are tiled across the 64-bit point
// space and indexed in a github.com/google/btree ordered by the start of
// each region's prefix slice, so FindRegion resolves a hash to its owning
// region in O(log n) instead of a linear scan.
//
// # Version discipline
//
// Every inbound chain message carries the configuration version it was
// sent under. CheckInbound drops (returns false for) any message whose
// version does not match the installed Configuration, or whose
// destination entity does not currently resolve to the local host —
// exactly the rule spec §4.E and §7 describe as "not an error."
//
// # Checkpointing
//
// SaveCheckpoint/LoadCheckpoint persist the last-installed Configuration to
// a local bbolt database so a restarted daemon recovers its prior role
// before the coordinator's next push arrives. The coordinator remains the
// only source of truth; a checkpoint is a recovery hint, not a consensus
// participant.
package topology
