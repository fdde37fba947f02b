// Package region builds a region replica from storage.ShardFile partitions,
// per spec §4.D: a small fixed number of shards partitioned by primary-hash
// prefix, fronted by an in-memory mutation log (a map owned by Region, not
// a storage.MemoryStore) that is the authoritative source for any key not
// yet flushed.
//
// # Read path
//
// Get consults the mutation log first; a hit (including a buffered
// tombstone) answers immediately. A miss falls through to the shard that
// owns the key's primary-hash prefix.
//
// # Write path
//
// Put and Delete only ever touch the mutation log — they never block on
// shard I/O. A background flusher drains the log into shards on a timer. A
// shard that reports *FULL during a flush is compacted in place: a fresh
// shard file is built from the old shard's live-entry snapshot, the old
// file is dropped, and the fresh one is renamed into its slot. Writes that
// arrive mid-compaction land in the log as always and are flushed into the
// new shard on the next cycle — compaction never blocks a write.
package region
