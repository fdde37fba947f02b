// Package region implements a region replica: a set of fixed-size shard
// files partitioned by primary-hash prefix, fronted by an in-memory
// mutation log that buffers recent writes ahead of a background flusher.
// See doc.go for the package-level architecture.
package region

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/dreamware/hyperdex/internal/storage"
)

// State mirrors the lifecycle a region replica moves through as it is
// created, serves traffic, and is eventually retired after a live transfer
// completes — the same three-state shape the teacher used for shard
// lifecycle, generalized to region handoff (spec §4.D, §4.H).
type State string

const (
	StateActive    State = "active"
	StateSplitting State = "splitting"
	StateRetired   State = "retired"
)

// logEntry is one buffered mutation awaiting flush into a shard.
type logEntry struct {
	value         []byte
	primaryHash   uint64
	secondaryHash uint64
	version       uint64
	deleted       bool
}

// Region owns a fixed number of storage.ShardFile partitions and an
// in-memory mutation log. Reads consult the log first (the authoritative
// source for any key not yet flushed), then the shard the key's
// primary-hash prefix routes to.
type Region struct {
	mu     sync.RWMutex
	state  State
	shards []*storage.ShardFile
	dir    string

	logMu sync.RWMutex
	log   map[string]logEntry

	flushInterval time.Duration
	flushMax      int
	logger        *zap.Logger

	stop   chan struct{}
	stopWG sync.WaitGroup
}

// Config controls shard sizing and flush cadence; all fields have sane
// defaults applied by New if left zero.
type Config struct {
	NumShards       int
	BucketsPerShard uint32
	SearchSlots     uint32
	DataSegmentSize uint32
	FlushInterval   time.Duration
	FlushMaxEntries int
}

func (c *Config) setDefaults() {
	if c.NumShards <= 0 {
		c.NumShards = 4
	}
	if c.BucketsPerShard == 0 {
		c.BucketsPerShard = 1 << 16
	}
	if c.SearchSlots == 0 {
		c.SearchSlots = 1 << 16
	}
	if c.DataSegmentSize == 0 {
		c.DataSegmentSize = 64 << 20
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 2 * time.Second
	}
	if c.FlushMaxEntries <= 0 {
		c.FlushMaxEntries = 4096
	}
}

// New creates a fresh region under dir, with cfg.NumShards new shard files,
// and starts its background flusher. Callers must call Close to stop the
// flusher and release shard file descriptors.
func New(dir string, cfg Config, logger *zap.Logger) (*Region, error) {
	cfg.setDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	shards := make([]*storage.ShardFile, cfg.NumShards)
	for i := 0; i < cfg.NumShards; i++ {
		path := shardPath(dir, i)
		sf, err := storage.NewShardFile(path, cfg.BucketsPerShard, cfg.SearchSlots, cfg.DataSegmentSize)
		if err != nil {
			for j := 0; j < i; j++ {
				shards[j].Close()
			}
			return nil, err
		}
		shards[i] = sf
	}

	r := &Region{
		state:         StateActive,
		shards:        shards,
		dir:           dir,
		log:           make(map[string]logEntry),
		flushInterval: cfg.FlushInterval,
		flushMax:      cfg.FlushMaxEntries,
		logger:        logger,
		stop:          make(chan struct{}),
	}
	r.stopWG.Add(1)
	go r.flushLoop()
	return r, nil
}

func shardPath(dir string, i int) string {
	return dir + "/shard-" + itoa(i) + ".hdx"
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

// shardFor routes a primary hash to one of the region's fixed shards using
// its highest bits, per spec §4.D: "Routing (primary_hash, secondary_hash)
// -> shard uses the highest prefix bits of the primary hash."
func (r *Region) shardFor(primaryHash uint64) *storage.ShardFile {
	n := uint64(len(r.shards))
	idx := primaryHash >> (64 - bitsFor(n))
	if idx >= n {
		idx = n - 1
	}
	return r.shards[idx]
}

// bitsFor returns how many high bits of a 64-bit hash are needed to index n
// shards (ceil(log2(n)), minimum 1).
func bitsFor(n uint64) uint {
	bits := uint(0)
	for (uint64(1) << bits) < n {
		bits++
	}
	if bits == 0 {
		bits = 1
	}
	return bits
}

// Get returns a key's current value and version, consulting the mutation
// log first and falling back to the owning shard. Returns storage.ErrKeyNotFound
// if the key is absent or has been deleted.
func (r *Region) Get(key string, primaryHash uint64) ([]byte, uint64, error) {
	r.logMu.RLock()
	entry, ok := r.log[key]
	r.logMu.RUnlock()
	if ok {
		if entry.deleted {
			return nil, 0, storage.ErrKeyNotFound
		}
		return entry.value, entry.version, nil
	}

	r.mu.RLock()
	shard := r.shardFor(primaryHash)
	r.mu.RUnlock()
	return shard.Get([]byte(key), primaryHash)
}

// Put buffers a write in the mutation log. It is the caller's (replication
// layer's) responsibility to have already applied the key's mutation chain
// and computed primaryHash, secondaryHash, and the new version.
func (r *Region) Put(key string, value []byte, primaryHash, secondaryHash, version uint64) {
	r.logMu.Lock()
	r.log[key] = logEntry{value: value, primaryHash: primaryHash, secondaryHash: secondaryHash, version: version}
	r.logMu.Unlock()
}

// Delete buffers a tombstone in the mutation log. Get reports a deleted key
// as storage.ErrKeyNotFound, and flushing the tombstone removes the key
// from its shard without keeping its version, so the key's next write
// starts again at version 1.
func (r *Region) Delete(key string, primaryHash, version uint64) {
	r.logMu.Lock()
	r.log[key] = logEntry{primaryHash: primaryHash, version: version, deleted: true}
	r.logMu.Unlock()
}

// State reports the region's current lifecycle state.
func (r *Region) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// SetState transitions the region's lifecycle state (e.g. to StateSplitting
// while a shard compaction is underway, or StateRetired once a live
// transfer's sink has fully caught up).
func (r *Region) SetState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func (r *Region) flushLoop() {
	defer r.stopWG.Done()
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := r.Flush(); err != nil {
				r.logger.Warn("region flush failed", zap.Error(err))
			}
		case <-r.stop:
			return
		}
	}
}

// Flush drains the mutation log into shards, primary-hash-prefix routing
// each buffered key to its shard exactly as Get does. A shard reporting
// storage.ErrDataFull, ErrHashFull, or ErrSearchFull triggers that shard's
// compaction (see compactShard); the flush retries the same key against
// the compacted replacement.
func (r *Region) Flush() error {
	r.logMu.Lock()
	if len(r.log) == 0 {
		r.logMu.Unlock()
		return nil
	}
	drained := r.log
	r.log = make(map[string]logEntry)
	r.logMu.Unlock()

	// Deterministic order keeps flush behavior reproducible in tests; the
	// log itself has no ordering requirement.
	keys := make([]string, 0, len(drained))
	for k := range drained {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		entry := drained[key]
		if err := r.flushOne(key, entry); err != nil {
			return err
		}
	}
	return nil
}

func (r *Region) flushOne(key string, entry logEntry) error {
	primaryHash := entry.primaryHash

	r.mu.RLock()
	shard := r.shardFor(primaryHash)
	shardIdx := r.indexOf(shard)
	r.mu.RUnlock()

	var err error
	if entry.deleted {
		err = shard.Del([]byte(key), primaryHash)
		if err == storage.ErrKeyNotFound {
			return nil
		}
	} else {
		err = shard.Put([]byte(key), primaryHash, entry.value, entry.secondaryHash, entry.version)
	}

	if err == storage.ErrDataFull || err == storage.ErrHashFull || err == storage.ErrSearchFull {
		if compactErr := r.compactShard(shardIdx); compactErr != nil {
			return compactErr
		}
		return r.flushOne(key, entry)
	}
	return err
}

func (r *Region) indexOf(shard *storage.ShardFile) int {
	for i, s := range r.shards {
		if s == shard {
			return i
		}
	}
	return -1
}

// compactShard replaces shard index i with a freshly created shard file
// holding only the live records from the old shard's snapshot, per spec
// §4.D: "Compaction runs while serving; new writes go to a new shard and
// are merged during the compaction." New writes arriving during compaction
// land in the mutation log (they always do) and are flushed into the
// replacement on the next cycle, so no write is ever blocked by compaction.
func (r *Region) compactShard(i int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := r.shards[i].Snapshot()
	return r.rebuildShard(i, snapshot)
}

// rebuildShard creates shard i's replacement file with the same geometry as
// the shard it replaces and repopulates it from a snapshot of live entries.
func (r *Region) rebuildShard(i int, snapshot []storage.ShardEntry) error {
	old := r.shards[i]
	path := shardPath(r.dir, i)
	tmpPath := path + ".compact"

	numBuckets, numSearch, dataSize := old.Geometry()

	fresh, err := storage.NewShardFile(tmpPath, numBuckets, numSearch, dataSize)
	if err != nil {
		return err
	}

	for _, e := range snapshot {
		if err := fresh.Put(e.Key, keyHashOf(e), e.Value, e.SecondaryHash, e.Version); err != nil {
			fresh.Drop()
			return err
		}
	}

	if err := old.Drop(); err != nil {
		fresh.Drop()
		return err
	}
	if err := fresh.Rename(path); err != nil {
		return err
	}

	r.shards[i] = fresh
	return nil
}

// keyHashOf recomputes the primary hash used to route a compacted entry to
// a shard. Region routing always uses the raw key's hash (spec §4.D:
// "Routing (primary_hash, secondary_hash) -> shard uses the highest prefix
// bits of the primary hash"), independent of which subspace the region
// belongs to, so it is recomputed from the key rather than carried in
// ShardEntry (which exists to expose the subspace-specific SecondaryHash
// for search, not for shard routing).
func keyHashOf(e storage.ShardEntry) uint64 {
	return xxhash.Sum64(e.Key)
}

// Snapshot composes every shard's snapshot with the current mutation log,
// giving a consistent (if not linearizable) view of every live key for
// search and live-transfer use, per spec §4.D: "Snapshots compose by
// composing all per-shard snapshots and chaining the log iterator."
func (r *Region) Snapshot() []storage.ShardEntry {
	r.mu.RLock()
	var entries []storage.ShardEntry
	for _, s := range r.shards {
		entries = append(entries, s.Snapshot()...)
	}
	r.mu.RUnlock()

	r.logMu.RLock()
	defer r.logMu.RUnlock()
	// The log is authoritative for any key it holds, so shard entries it
	// has overwritten or deleted are dropped.
	live := entries[:0]
	for _, e := range entries {
		if _, inLog := r.log[string(e.Key)]; !inLog {
			live = append(live, e)
		}
	}
	entries = live
	for key, entry := range r.log {
		if entry.deleted {
			continue
		}
		entries = append(entries, storage.ShardEntry{
			SecondaryHash: entry.secondaryHash,
			Key:           []byte(key),
			Value:         entry.value,
			Version:       entry.version,
		})
	}
	return entries
}

// Close stops the background flusher and closes every shard file.
func (r *Region) Close(ctx context.Context) error {
	close(r.stop)
	done := make(chan struct{})
	go func() {
		r.stopWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for _, s := range r.shards {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
