package search

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/hyperdex/internal/storage"
	"github.com/dreamware/hyperdex/internal/topology"
)

// Match is one search result: the key, its full opaque value blob (as
// stored — callers that need individual attributes decode it with
// DecodeRow), and the version it was last written at.
type Match struct {
	Key     string
	Value   []byte
	Version uint64
}

// RegionSnapshotter is the subset of *region.Region a search scan needs,
// matching internal/xfer.Snapshotter's identical seam.
type RegionSnapshotter interface {
	Snapshot() []storage.ShardEntry
}

// MatchedRegion pairs a region this daemon hosts with the chain entity
// that addresses it, for attributing results and for skipping regions the
// daemon does not locally host (the caller only ever constructs a
// MatchedRegion for one it can actually snapshot).
type MatchedRegion struct {
	Entity topology.Entity
	Store  RegionSnapshotter
}

// Executor runs a predicate against a set of already-resolved, locally
// hosted regions (spec §4.I step 3: "for each matched region, open a
// snapshot; iterate"). Resolving the predicate down to that region set —
// subspace selection, exact-point lookup vs. subspace-wide scan — is left
// to the caller; Executor itself only needs to know how many secondary
// attributes a row decodes into. cmd/daemon's search handler does not
// narrow the set: it passes every local region of its value subspace.
type Executor struct {
	attrCount int
	logger    *zap.Logger
}

// NewExecutor builds an Executor for a space whose schema declares
// attrCount secondary attributes (the key excluded).
func NewExecutor(attrCount int, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{attrCount: attrCount, logger: logger}
}

// Execute scans every region in regions concurrently under an
// errgroup.Group (spec §4.H's transfer fan-out reused for search's own
// per-region fan-out) and returns every entry satisfying pred, sorted by
// key for stable REQ_SEARCH_NEXT pagination.
func (e *Executor) Execute(ctx context.Context, pred Predicate, regions []MatchedRegion) ([]Match, error) {
	g, ctx := errgroup.WithContext(ctx)

	var mu sync.Mutex
	var all []Match

	for _, mr := range regions {
		mr := mr
		g.Go(func() error {
			matches, err := e.scanRegion(mr.Store.Snapshot(), pred)
			if err != nil {
				return err
			}
			mu.Lock()
			all = append(all, matches...)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(all, func(i, j int) bool { return all[i].Key < all[j].Key })
	return all, nil
}

func (e *Executor) scanRegion(entries []storage.ShardEntry, pred Predicate) ([]Match, error) {
	rows := make([][][]byte, len(entries))
	for i, entry := range entries {
		row, err := DecodeRow(entry.Value, e.attrCount)
		if err != nil {
			e.logger.Warn("dropping malformed row from search scan", zap.String("key", string(entry.Key)))
			continue
		}
		rows[i] = row
	}

	idx := buildPostingIndex(rows)
	candidateSet, narrowed := idx.candidates(pred, len(entries))

	var matches []Match
	check := func(i int) {
		row := rows[i]
		if row == nil {
			return
		}
		if !pred.Matches(row) {
			return
		}
		matches = append(matches, Match{
			Key:     string(entries[i].Key),
			Value:   entries[i].Value,
			Version: entries[i].Version,
		})
	}

	if narrowed {
		it := candidateSet.Iterator()
		for it.HasNext() {
			check(int(it.Next()))
		}
	} else {
		for i := range entries {
			check(i)
		}
	}
	return matches, nil
}
