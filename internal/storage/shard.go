package storage

import (
	"encoding/binary"
	"os"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"
)

// Errors returned by ShardFile.Put/Del when one of the shard's three
// append-only regions (hash table, search index, data segment) has no room
// left, per spec §4.C's *FULL family.
var (
	ErrDataFull   = errors.New("storage: shard data segment is full")
	ErrHashFull   = errors.New("storage: shard hash table is full")
	ErrSearchFull = errors.New("storage: shard search index is full")
)

const (
	shardMagic = "HDXSHRD1"

	headerSize      = 64
	bucketSize      = 12 // 8-byte short hash + 4-byte offset
	searchEntrySize = 16 // 8-byte secondary hash + 4-byte offset + 4-byte invalidator

	// emptyOffset marks a bucket or search slot that has never been
	// written. The backing file is created zero-filled, so this is simply
	// the zero value — no per-bucket initialization is needed.
	emptyOffset = uint32(0)

	// tombstoneOffset marks a bucket whose key has been deleted. Chosen as
	// the spec's UINT32_MAX so it can never collide with a real data
	// offset (offset 0 in the data segment is reserved, see dataTail).
	tombstoneOffset = ^uint32(0)

	headerOffMagic      = 0
	headerOffNumBuckets = 8
	headerOffNumSearch  = 12
	headerOffDataSize   = 16
	headerOffDataTail   = 20
	headerOffSearchTail = 24
)

// ShardFile is a single fixed-size mmap'd file holding a primary hash table,
// a secondary search index, and an append-only data segment, per spec §4.C.
// Multiple goroutines may call Get concurrently; Put and Del are serialized
// by writeMu (the spec's "exactly one writer runs put/del at a time").
//
// The single writer's stores become visible to concurrent readers through
// release/acquire semantics on each bucket's offset word: offset is always
// the last field written (an atomic store), and is the only field any
// reader loads atomically, so a reader that observes a non-empty,
// non-tombstone offset is guaranteed to see a fully-written data record at
// that offset.
type ShardFile struct {
	path string
	file *os.File
	mm   mmap.MMap

	numBuckets     uint32
	numSearchSlots uint32
	dataSize       uint32

	bucketsStart uint32
	searchStart  uint32
	dataStart    uint32

	writeMu sync.Mutex
}

// NewShardFile creates a new zero-filled shard file at path sized to hold
// numBuckets hash-table buckets, numSearchSlots search-index entries, and a
// dataSize-byte data segment, then writes its header once.
func NewShardFile(path string, numBuckets, numSearchSlots, dataSize uint32) (*ShardFile, error) {
	total := int64(headerSize) + int64(numBuckets)*bucketSize + int64(numSearchSlots)*searchEntrySize + int64(dataSize)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "create shard file")
	}
	if err := f.Truncate(total); err != nil {
		f.Close()
		os.Remove(path)
		return nil, errors.Wrap(err, "size shard file")
	}

	mm, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, errors.Wrap(err, "mmap shard file")
	}

	sf := &ShardFile{
		path:           path,
		file:           f,
		mm:             mm,
		numBuckets:     numBuckets,
		numSearchSlots: numSearchSlots,
		dataSize:       dataSize,
		bucketsStart:   headerSize,
		searchStart:    headerSize + numBuckets*bucketSize,
		dataStart:      headerSize + numBuckets*bucketSize + numSearchSlots*searchEntrySize,
	}

	copy(mm[headerOffMagic:], []byte(shardMagic))
	binary.LittleEndian.PutUint32(mm[headerOffNumBuckets:], numBuckets)
	binary.LittleEndian.PutUint32(mm[headerOffNumSearch:], numSearchSlots)
	binary.LittleEndian.PutUint32(mm[headerOffDataSize:], dataSize)
	// Offset 0 in the data segment is reserved so that emptyOffset (0) in a
	// bucket is unambiguous; the first real record starts at offset 1.
	sf.storeDataTail(1)
	sf.storeSearchTail(0)

	return sf, nil
}

// OpenShardFile mmaps an existing shard file and recovers its geometry from
// the header written by NewShardFile.
func OpenShardFile(path string) (*ShardFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "open shard file")
	}

	mm, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "mmap shard file")
	}
	if len(mm) < headerSize || string(mm[headerOffMagic:headerOffMagic+len(shardMagic)]) != shardMagic {
		mm.Unmap()
		f.Close()
		return nil, errors.Errorf("storage: %s is not a valid shard file", path)
	}

	numBuckets := binary.LittleEndian.Uint32(mm[headerOffNumBuckets:])
	numSearch := binary.LittleEndian.Uint32(mm[headerOffNumSearch:])
	dataSize := binary.LittleEndian.Uint32(mm[headerOffDataSize:])

	return &ShardFile{
		path:           path,
		file:           f,
		mm:             mm,
		numBuckets:     numBuckets,
		numSearchSlots: numSearch,
		dataSize:       dataSize,
		bucketsStart:   headerSize,
		searchStart:    headerSize + numBuckets*bucketSize,
		dataStart:      headerSize + numBuckets*bucketSize + numSearch*searchEntrySize,
	}, nil
}

func (s *ShardFile) loadU32(off uint32) uint32 {
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(&s.mm[off])))
}

func (s *ShardFile) storeU32(off, v uint32) {
	atomic.StoreUint32((*uint32)(unsafe.Pointer(&s.mm[off])), v)
}

func (s *ShardFile) storeDataTail(v uint32) { s.storeU32(headerOffDataTail, v) }
func (s *ShardFile) dataTail() uint32       { return s.loadU32(headerOffDataTail) }
func (s *ShardFile) storeSearchTail(v uint32) { s.storeU32(headerOffSearchTail, v) }
func (s *ShardFile) searchTail() uint32       { return s.loadU32(headerOffSearchTail) }

func (s *ShardFile) bucketAt(i uint32) (shortHash uint64, offset uint32) {
	base := s.bucketsStart + i*bucketSize
	shortHash = binary.LittleEndian.Uint64(s.mm[base:])
	offset = s.loadU32(base + 8)
	return
}

func (s *ShardFile) writeBucketHash(i uint32, shortHash uint64) {
	base := s.bucketsStart + i*bucketSize
	binary.LittleEndian.PutUint64(s.mm[base:], shortHash)
}

// publishBucketOffset is the release store: every other field of the
// record (key, value, version, search-index entry) must be written before
// this call.
func (s *ShardFile) publishBucketOffset(i uint32, offset uint32) {
	base := s.bucketsStart + i*bucketSize
	s.storeU32(base+8, offset)
}

func (s *ShardFile) searchEntryAt(i uint32) (secondaryHash uint64, offset, invalidator uint32) {
	base := s.searchStart + i*searchEntrySize
	secondaryHash = binary.LittleEndian.Uint64(s.mm[base:])
	offset = binary.LittleEndian.Uint32(s.mm[base+8:])
	invalidator = s.loadU32(base + 12)
	return
}

func (s *ShardFile) writeSearchEntry(i uint32, secondaryHash uint64, offset uint32) {
	base := s.searchStart + i*searchEntrySize
	binary.LittleEndian.PutUint64(s.mm[base:], secondaryHash)
	binary.LittleEndian.PutUint32(s.mm[base+8:], offset)
	s.storeU32(base+12, 0)
}

func (s *ShardFile) invalidateSearchEntry(i uint32, invalidatorOffset uint32) {
	base := s.searchStart + i*searchEntrySize
	s.storeU32(base+12, invalidatorOffset)
}

// dataRecord is the decoded form of one append-only data-segment record.
type dataRecord struct {
	key     []byte
	value   []byte
	version uint64
}

// readRecord decodes the record at relative data-segment offset off. The
// record format is [u32 keyLen][key][u32 valueLen][value][u64 version].
func (s *ShardFile) readRecord(off uint32) (dataRecord, bool) {
	if off == 0 || off >= s.dataSize {
		return dataRecord{}, false
	}
	p := s.dataStart + off
	if p+4 > uint32(len(s.mm)) {
		return dataRecord{}, false
	}
	keyLen := binary.LittleEndian.Uint32(s.mm[p:])
	p += 4
	if p+keyLen > uint32(len(s.mm)) {
		return dataRecord{}, false
	}
	key := append([]byte(nil), s.mm[p:p+keyLen]...)
	p += keyLen

	if p+4 > uint32(len(s.mm)) {
		return dataRecord{}, false
	}
	valueLen := binary.LittleEndian.Uint32(s.mm[p:])
	p += 4
	if p+valueLen > uint32(len(s.mm)) {
		return dataRecord{}, false
	}
	value := append([]byte(nil), s.mm[p:p+valueLen]...)
	p += valueLen

	if p+8 > uint32(len(s.mm)) {
		return dataRecord{}, false
	}
	version := binary.LittleEndian.Uint64(s.mm[p:])

	return dataRecord{key: key, value: value, version: version}, true
}

// recordSize is the encoded byte length of a record with the given key and
// value sizes, matching readRecord's layout.
func recordSize(keyLen, valueLen int) uint32 {
	return uint32(4 + keyLen + 4 + valueLen + 8)
}

// appendRecord writes a new record at the current data tail and returns its
// relative offset, or ErrDataFull if it would not fit.
func (s *ShardFile) appendRecord(key, value []byte, version uint64) (uint32, error) {
	size := recordSize(len(key), len(value))
	tail := s.dataTail()
	if uint64(tail)+uint64(size) > uint64(s.dataSize) {
		return 0, ErrDataFull
	}

	p := s.dataStart + tail
	binary.LittleEndian.PutUint32(s.mm[p:], uint32(len(key)))
	p += 4
	copy(s.mm[p:], key)
	p += uint32(len(key))
	binary.LittleEndian.PutUint32(s.mm[p:], uint32(len(value)))
	p += 4
	copy(s.mm[p:], value)
	p += uint32(len(value))
	binary.LittleEndian.PutUint64(s.mm[p:], version)

	s.storeDataTail(tail + size)
	return tail, nil
}

// probe walks the hash table from bucket keyHash%numBuckets forward,
// returning the index of the bucket that already holds key (reuse=true), or
// the first empty/tombstone bucket along the probe (reuse=false). found is
// false if the table is entirely full of live, non-matching buckets.
func (s *ShardFile) probe(key []byte, keyHash uint64) (idx uint32, offset uint32, reuse, found bool) {
	n := s.numBuckets
	start := uint32(keyHash % uint64(n))
	firstFree := uint32(0)
	haveFirstFree := false

	for step := uint32(0); step < n; step++ {
		i := (start + step) % n
		shortHash, off := s.bucketAt(i)

		if off == emptyOffset {
			if !haveFirstFree {
				firstFree, haveFirstFree = i, true
			}
			// An empty bucket terminates the probe for "does the key
			// exist" purposes: it was never written, so the key cannot be
			// further along (buckets are never compacted in place).
			return firstFree, 0, false, true
		}
		if off == tombstoneOffset {
			if !haveFirstFree {
				firstFree, haveFirstFree = i, true
			}
			continue
		}
		if shortHash == keyHash {
			rec, ok := s.readRecord(off)
			if ok && string(rec.key) == string(key) {
				return i, off, true, true
			}
		}
	}

	if haveFirstFree {
		return firstFree, 0, false, true
	}
	return 0, 0, false, false
}

// Get probes the hash table for key and returns its current value and
// version, or ErrKeyNotFound if no live record matches.
func (s *ShardFile) Get(key []byte, keyHash uint64) ([]byte, uint64, error) {
	n := s.numBuckets
	start := uint32(keyHash % uint64(n))

	for step := uint32(0); step < n; step++ {
		i := (start + step) % n
		shortHash, off := s.bucketAt(i)

		if off == emptyOffset {
			return nil, 0, ErrKeyNotFound
		}
		if off == tombstoneOffset {
			continue
		}
		if shortHash != keyHash {
			continue
		}
		rec, ok := s.readRecord(off)
		if ok && string(rec.key) == string(key) {
			return rec.value, rec.version, nil
		}
	}
	return nil, 0, ErrKeyNotFound
}

// Put inserts or overwrites key's value, recording secondaryHash in the
// search index so a later snapshot/search can find it by subspace
// coordinate.
func (s *ShardFile) Put(key []byte, keyHash uint64, value []byte, secondaryHash uint64, version uint64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	idx, oldOffset, _, found := s.probe(key, keyHash)
	if !found {
		return ErrHashFull
	}

	searchIdx := s.searchTail()
	if searchIdx >= s.numSearchSlots {
		return ErrSearchFull
	}

	newOffset, err := s.appendRecord(key, value, version)
	if err != nil {
		return err
	}

	s.writeSearchEntry(searchIdx, secondaryHash, newOffset)
	s.storeSearchTail(searchIdx + 1)

	s.writeBucketHash(idx, keyHash)
	s.publishBucketOffset(idx, newOffset)

	if oldOffset != 0 && oldOffset != tombstoneOffset {
		s.invalidateOffset(oldOffset, searchIdx)
	}
	return nil
}

// invalidateOffset scans search-index entries [0, upTo) and writes
// staleOffset into the invalidator field of every entry whose offset equals
// staleOffset and whose invalidator is still 0, per spec §4.C.
// Idempotent: replaying it over an already-invalidated entry is a no-op
// write of the same value.
func (s *ShardFile) invalidateOffset(staleOffset, upTo uint32) {
	for i := uint32(0); i < upTo; i++ {
		_, off, invalidator := s.searchEntryAt(i)
		if off == staleOffset && invalidator == 0 {
			s.invalidateSearchEntry(i, staleOffset)
		}
	}
}

// Del tombstones key's bucket and invalidates its search-index entries.
// Idempotent at the storage layer is not required by spec (ErrKeyNotFound
// is returned for a second delete), matching "del(...) -> SUCCESS | NOTFOUND".
func (s *ShardFile) Del(key []byte, keyHash uint64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	idx, offset, reuse, found := s.probe(key, keyHash)
	if !found || !reuse {
		return ErrKeyNotFound
	}

	upTo := s.searchTail()
	s.invalidateOffset(offset, upTo)
	s.publishBucketOffset(idx, tombstoneOffset)
	return nil
}

// ShardEntry is one live (non-invalidated) record yielded by Snapshot.
type ShardEntry struct {
	SecondaryHash uint64
	Key           []byte
	Value         []byte
	Version       uint64
}

// Snapshot returns every search-index entry whose invalidator was zero at
// the moment of the call. The snapshot is independent of concurrent Puts:
// Puts only strictly advance offsets and append new search entries, so a
// snapshot already in progress can never observe a torn record.
func (s *ShardFile) Snapshot() []ShardEntry {
	upTo := s.searchTail()
	entries := make([]ShardEntry, 0, upTo)
	for i := uint32(0); i < upTo; i++ {
		secondaryHash, off, invalidator := s.searchEntryAt(i)
		if invalidator != 0 {
			continue
		}
		rec, ok := s.readRecord(off)
		if !ok {
			continue
		}
		entries = append(entries, ShardEntry{
			SecondaryHash: secondaryHash,
			Key:           rec.key,
			Value:         rec.value,
			Version:       rec.version,
		})
	}
	return entries
}

// Flush msyncs every mapped segment of the shard file to durable storage.
func (s *ShardFile) Flush() error {
	return s.mm.Flush()
}

// Geometry returns the bucket count, search-slot count, and data-segment
// size this shard was created with, so a caller compacting this shard can
// create its replacement with matching capacity.
func (s *ShardFile) Geometry() (numBuckets, numSearchSlots, dataSize uint32) {
	return s.numBuckets, s.numSearchSlots, s.dataSize
}

// Path returns the shard's backing file path.
func (s *ShardFile) Path() string {
	return s.path
}

// Rename closes this shard's mapping and file handle, moves its backing
// file to newPath, and reopens the mapping there. Used by region
// compaction to swap a ".compact" temp file into its final name after the
// old shard has been dropped.
func (s *ShardFile) Rename(newPath string) error {
	if err := s.mm.Unmap(); err != nil {
		return errors.Wrap(err, "unmap shard file before rename")
	}
	if err := s.file.Close(); err != nil {
		return errors.Wrap(err, "close shard file before rename")
	}
	if err := os.Rename(s.path, newPath); err != nil {
		return errors.Wrap(err, "rename shard file")
	}

	reopened, err := OpenShardFile(newPath)
	if err != nil {
		return errors.Wrap(err, "reopen renamed shard file")
	}
	s.path = reopened.path
	s.file = reopened.file
	s.mm = reopened.mm
	s.numBuckets = reopened.numBuckets
	s.numSearchSlots = reopened.numSearchSlots
	s.dataSize = reopened.dataSize
	s.bucketsStart = reopened.bucketsStart
	s.searchStart = reopened.searchStart
	s.dataStart = reopened.dataStart
	return nil
}

// Drop unmaps and removes the shard's backing file. The ShardFile must not
// be used after Drop returns.
func (s *ShardFile) Drop() error {
	if err := s.mm.Unmap(); err != nil {
		return errors.Wrap(err, "unmap shard file")
	}
	if err := s.file.Close(); err != nil {
		return errors.Wrap(err, "close shard file")
	}
	return os.Remove(s.path)
}

// Close unmaps and closes the shard file without removing it from disk.
func (s *ShardFile) Close() error {
	if err := s.mm.Unmap(); err != nil {
		return errors.Wrap(err, "unmap shard file")
	}
	return s.file.Close()
}
