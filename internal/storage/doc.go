// Package storage implements ShardFile, a fixed-size mmap'd file holding a
// region shard's hash table, search index, and append-only data segment,
// plus a small in-memory Store (MemoryStore). region.Region does not use
// MemoryStore: its mutation log is a map of its own.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│              region.Region          │
//	└─────────────────────────────────────┘
//	                 │
//	    ┌────────────┼────────────┐
//	    ▼                         ▼
//	┌──────────────┐      ┌──────────────────┐
//	│ mutation log  │      │  ShardFile (mmap) │
//	│ (region map,  │      │  hash | search |  │
//	│  unflushed)   │      │  data segment      │
//	└──────────────┘      └──────────────────┘
//
// Reads consult the mutation log first, then the owning shard. Writes land
// in the log and are drained into shards by a background flusher; a flush
// that finds a shard reporting *FULL triggers that shard's compaction.
//
// # ShardFile layout
//
// A shard file is three append-only regions laid out back to back: a fixed
// hash table (one (shortHash, offset) bucket per slot, linearly probed), a
// fixed search index (one (secondaryHash, offset, invalidator) entry per
// live or superseded write), and a data segment holding the actual
// (key, value, version) records the buckets and search entries point into.
// The file is created zero-filled so that an empty bucket needs no explicit
// initialization; offset 0 in the data segment is reserved so the zero value
// unambiguously means "never written".
//
// # Concurrency
//
// Get is wait-free with respect to other Gets. Put and Del are serialized
// by a single writer lock per shard. The bucket's offset word is the
// publication point: every other field of a record (key, value, version,
// its search-index entry) is written before the offset store, and readers
// only ever load the offset atomically, so a reader that observes a
// non-empty offset always sees a complete record.
//
// # Errors
//
// ErrKeyNotFound is returned by Get/Del for an absent key. ErrDataFull,
// ErrHashFull, and ErrSearchFull are returned by Put when one of the three
// regions has no room left; the caller (region) responds by compacting the
// full shard synchronously inside the flush, rebuilding it in the same slot
// from its live entries, and then retrying the write.
package storage
